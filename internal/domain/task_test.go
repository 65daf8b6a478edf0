package domain_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ErlanBelekov/schedule-engine/internal/domain"
)

var (
	created = time.Date(2026, time.October, 1, 9, 0, 0, 0, time.UTC)
	later   = created.Add(48 * time.Hour)
)

func newTask(status domain.Status) *domain.ScheduleTask {
	t := domain.NewScheduleTask(domain.NewTaskInput{
		AccountID:      "acct-1",
		Name:           "task",
		TaskType:       "reminder",
		RecurrenceRule: "0 9 * * *",
		Timezone:       "UTC",
		Recurring:      true,
		MaxRetries:     3,
	}, created.Add(24*time.Hour), created)
	t.Scheduling.Status = status
	return t
}

func ptr(t time.Time) *time.Time { return &t }

func failed(msg string, at time.Time) domain.ExecutionRecord {
	return domain.ExecutionRecord{Outcome: domain.OutcomeFailed, StartedAt: at, Error: &msg}
}

func TestTransitions_Rejected(t *testing.T) {
	next := ptr(later)
	tests := []struct {
		name   string
		status domain.Status
		apply  func(*domain.ScheduleTask) error
	}{
		{"disable paused", domain.StatusPaused, func(t *domain.ScheduleTask) error { return t.Disable(later) }},
		{"disable completed", domain.StatusCompleted, func(t *domain.ScheduleTask) error { return t.Disable(later) }},
		{"disable cancelled", domain.StatusCancelled, func(t *domain.ScheduleTask) error { return t.Disable(later) }},
		{"disable failed", domain.StatusFailed, func(t *domain.ScheduleTask) error { return t.Disable(later) }},
		{"enable active", domain.StatusActive, func(t *domain.ScheduleTask) error { return t.Enable(next, later) }},
		{"enable pending", domain.StatusPending, func(t *domain.ScheduleTask) error { return t.Enable(next, later) }},
		{"enable completed", domain.StatusCompleted, func(t *domain.ScheduleTask) error { return t.Enable(next, later) }},
		{"enable cancelled", domain.StatusCancelled, func(t *domain.ScheduleTask) error { return t.Enable(next, later) }},
		{"reschedule completed", domain.StatusCompleted, func(t *domain.ScheduleTask) error {
			return t.Reschedule("0 10 * * *", "UTC", true, next, later)
		}},
		{"reschedule cancelled", domain.StatusCancelled, func(t *domain.ScheduleTask) error {
			return t.Reschedule("0 10 * * *", "UTC", true, next, later)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := newTask(tt.status)
			before := *task

			err := tt.apply(task)
			if !errors.Is(err, domain.ErrInvalidTransition) {
				t.Fatalf("expected ErrInvalidTransition, got %v", err)
			}
			if task.Status() != tt.status {
				t.Fatalf("expected status to stay %s, got %s", tt.status, task.Status())
			}
			if task.Metadata.Version != before.Metadata.Version {
				t.Fatalf("expected version %d unchanged, got %d", before.Metadata.Version, task.Metadata.Version)
			}
			if !task.Lifecycle.UpdatedAt.Equal(before.Lifecycle.UpdatedAt) {
				t.Fatal("expected updatedAt unchanged on a rejected transition")
			}
		})
	}
}

func TestMutations_BumpVersion(t *testing.T) {
	tests := []struct {
		name   string
		status domain.Status
		apply  func(*domain.ScheduleTask)
	}{
		{"record success", domain.StatusActive, func(t *domain.ScheduleTask) {
			t.RecordSuccess(domain.ExecutionRecord{Outcome: domain.OutcomeSuccess, StartedAt: later}, ptr(later.Add(time.Hour)), later)
		}},
		{"record failure", domain.StatusActive, func(t *domain.ScheduleTask) {
			t.RecordFailure(failed("boom", later), later.Add(time.Minute), later)
		}},
		{"record skip", domain.StatusActive, func(t *domain.ScheduleTask) {
			t.RecordSkip(domain.ExecutionRecord{Outcome: domain.OutcomeSkipped, StartedAt: later}, ptr(later.Add(time.Hour)), later)
		}},
		{"disable", domain.StatusActive, func(t *domain.ScheduleTask) { _ = t.Disable(later) }},
		{"enable paused", domain.StatusPaused, func(t *domain.ScheduleTask) { _ = t.Enable(ptr(later), later) }},
		{"enable failed", domain.StatusFailed, func(t *domain.ScheduleTask) { _ = t.Enable(ptr(later), later) }},
		{"cancel", domain.StatusActive, func(t *domain.ScheduleTask) { t.Cancel(later) }},
		{"reschedule", domain.StatusActive, func(t *domain.ScheduleTask) {
			_ = t.Reschedule("0 10 * * *", "UTC", true, ptr(later), later)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := newTask(tt.status)
			v := task.Metadata.Version

			tt.apply(task)

			if task.Metadata.Version != v+1 {
				t.Fatalf("expected version %d, got %d", v+1, task.Metadata.Version)
			}
			if !task.Lifecycle.UpdatedAt.Equal(later) {
				t.Fatalf("expected updatedAt %s, got %s", later, task.Lifecycle.UpdatedAt)
			}
		})
	}
}

func TestCancel_Idempotent(t *testing.T) {
	task := newTask(domain.StatusActive)
	if !task.Cancel(later) {
		t.Fatal("expected first cancel to change the task")
	}
	v := task.Metadata.Version
	if task.Cancel(later.Add(time.Hour)) {
		t.Fatal("expected second cancel to report no change")
	}
	if task.Metadata.Version != v {
		t.Fatalf("expected version %d after repeated cancel, got %d", v, task.Metadata.Version)
	}
	if task.Scheduling.NextExecutionTime != nil || task.Metadata.Enabled {
		t.Fatal("expected a cancelled task to be disabled with no next execution")
	}
}

func TestNextExecution_NeverBeforeCreation(t *testing.T) {
	early := created.Add(-time.Hour)

	tests := []struct {
		name  string
		apply func(*domain.ScheduleTask)
	}{
		{"construct", func(t *domain.ScheduleTask) {
			*t = *domain.NewScheduleTask(domain.NewTaskInput{AccountID: "acct-1", RecurrenceRule: "0 8 * * *"}, early, created)
		}},
		{"success", func(t *domain.ScheduleTask) {
			t.RecordSuccess(domain.ExecutionRecord{Outcome: domain.OutcomeSuccess, StartedAt: later}, ptr(early), later)
		}},
		{"retry", func(t *domain.ScheduleTask) { t.RecordFailure(failed("boom", later), early, later) }},
		{"enable", func(t *domain.ScheduleTask) {
			t.Scheduling.Status = domain.StatusPaused
			_ = t.Enable(ptr(early), later)
		}},
		{"reschedule", func(t *domain.ScheduleTask) { _ = t.Reschedule("0 8 * * *", "UTC", true, ptr(early), later) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := newTask(domain.StatusActive)
			tt.apply(task)

			next := task.Scheduling.NextExecutionTime
			if next == nil {
				t.Fatal("expected a next execution time")
			}
			if !next.Equal(created) {
				t.Fatalf("expected next clamped to createdAt %s, got %s", created, next)
			}
		})
	}
}

func TestRecent_Capped(t *testing.T) {
	task := newTask(domain.StatusActive)
	total := domain.MaxRecentExecutions + 5

	for i := 0; i < total; i++ {
		at := later.Add(time.Duration(i) * time.Minute)
		task.RecordSuccess(domain.ExecutionRecord{
			ID:        fmt.Sprintf("rec-%d", i),
			Outcome:   domain.OutcomeSuccess,
			StartedAt: at,
		}, ptr(at.Add(time.Hour)), at)
	}

	recent := task.Execution.Recent
	if len(recent) != domain.MaxRecentExecutions {
		t.Fatalf("expected %d recent records, got %d", domain.MaxRecentExecutions, len(recent))
	}
	if want := fmt.Sprintf("rec-%d", total-domain.MaxRecentExecutions); recent[0].ID != want {
		t.Fatalf("expected oldest kept record %s, got %s", want, recent[0].ID)
	}
	if want := fmt.Sprintf("rec-%d", total-1); recent[len(recent)-1].ID != want {
		t.Fatalf("expected newest record %s, got %s", want, recent[len(recent)-1].ID)
	}
	if task.Execution.TotalExecutions != total {
		t.Fatalf("expected totals to keep counting past the cap, got %d", task.Execution.TotalExecutions)
	}
}

func TestEnable_FailedResetsRetries(t *testing.T) {
	task := newTask(domain.StatusActive)
	for i := 0; i < task.Execution.MaxRetries; i++ {
		task.RecordFailure(failed("boom", later), later.Add(time.Minute), later)
	}
	if task.Status() != domain.StatusFailed {
		t.Fatalf("expected failed after exhausting retries, got %s", task.Status())
	}
	if task.Scheduling.NextExecutionTime != nil {
		t.Fatal("expected a failed task to have no next execution")
	}

	next := later.Add(time.Hour)
	if err := task.Enable(&next, later); err != nil {
		t.Fatalf("enable failed task: %v", err)
	}
	if task.Status() != domain.StatusActive || !task.Metadata.Enabled {
		t.Fatalf("expected active and enabled, got %s enabled=%v", task.Status(), task.Metadata.Enabled)
	}
	if task.Execution.CurrentRetries != 0 {
		t.Fatalf("expected retries reset, got %d", task.Execution.CurrentRetries)
	}
	if !task.CanExecute(next) {
		t.Fatal("expected the re-armed task to be dispatchable at its next time")
	}
}

func TestEnable_PausedKeepsRetries(t *testing.T) {
	task := newTask(domain.StatusActive)
	task.RecordFailure(failed("boom", later), later.Add(time.Minute), later)
	if err := task.Disable(later); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if err := task.Enable(ptr(later.Add(time.Hour)), later); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if task.Execution.CurrentRetries != 1 {
		t.Fatalf("expected retries kept across pause, got %d", task.Execution.CurrentRetries)
	}
}
