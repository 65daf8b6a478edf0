package domain

import (
	"fmt"
	"slices"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusPaused, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

type Backoff string

const (
	BackoffFixed       Backoff = "fixed"
	BackoffLinear      Backoff = "linear"
	BackoffExponential Backoff = "exponential"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

type AlertMethod string

const (
	AlertInApp AlertMethod = "in_app"
	AlertEmail AlertMethod = "email"
	AlertPush  AlertMethod = "push"
	AlertSMS   AlertMethod = "sms"
)

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	OutcomeTimeout Outcome = "timeout"
	OutcomeSkipped Outcome = "skipped"
)

// MaxRecentExecutions bounds ScheduleTask.Execution.Recent.
const MaxRecentExecutions = 20

type TaskBasic struct {
	Name        string
	Description *string
	TaskType    string
	Payload     map[string]any
	CreatedBy   string
}

// TaskSource links a task back to the producer entity that asked for it.
// Both fields are empty for tasks created directly through the API.
type TaskSource struct {
	Module   string
	EntityID string
}

type TaskScheduling struct {
	ScheduledTime     time.Time
	RecurrenceRule    *string // canonical cron expression
	Timezone          string  // IANA name the rule is evaluated in
	Recurring         bool
	Priority          Priority
	Status            Status
	NextExecutionTime *time.Time
}

type TaskExecution struct {
	ExecutionCount       int
	MaxRetries           int
	CurrentRetries       int
	TimeoutSeconds       *int
	Backoff              Backoff
	TotalExecutions      int
	SuccessfulExecutions int
	LastExecutedAt       *time.Time
	LastError            *string
	Recent               []ExecutionRecord // newest last, at most MaxRecentExecutions
}

type AlertConfig struct {
	Methods       []AlertMethod
	AllowSnooze   bool
	SnoozeOptions []int // minutes
}

type Lifecycle struct {
	CreatedAt time.Time
	UpdatedAt time.Time
}

type TaskMetadata struct {
	Tags    []string
	Enabled bool
	Version int64
}

// ScheduleTask is the dispatchable unit of recurring or one-time work.
// All state changes go through its methods so that the lifecycle rules and
// the version counter stay consistent.
type ScheduleTask struct {
	ID          string
	AccountID   string
	Basic       TaskBasic
	Source      TaskSource
	Scheduling  TaskScheduling
	Execution   TaskExecution
	AlertConfig AlertConfig
	Lifecycle   Lifecycle
	Metadata    TaskMetadata
}

// ExecutionRecord is one dispatch attempt.
type ExecutionRecord struct {
	ID         string
	TaskID     string
	Attempt    int
	Outcome    Outcome
	WorkerID   string
	StartedAt  time.Time
	FinishedAt *time.Time
	DurationMS *int64
	Error      *string
}

func (t *ScheduleTask) Status() Status { return t.Scheduling.Status }

// CanExecute reports whether the dispatcher may run the task at now.
func (t *ScheduleTask) CanExecute(now time.Time) bool {
	if !t.Metadata.Enabled {
		return false
	}
	if t.Scheduling.Status != StatusPending && t.Scheduling.Status != StatusActive {
		return false
	}
	next := t.Scheduling.NextExecutionTime
	return next != nil && !next.After(now)
}

// Terminal reports whether no further transition except a re-enable of a
// failed task is possible.
func (t *ScheduleTask) Terminal() bool {
	return t.Scheduling.Status == StatusCompleted || t.Scheduling.Status == StatusCancelled
}

// SuccessRate is informational only; nothing in the control flow reads it.
func (t *ScheduleTask) SuccessRate() float64 {
	if t.Execution.TotalExecutions == 0 {
		return 0
	}
	return float64(t.Execution.SuccessfulExecutions) / float64(t.Execution.TotalExecutions)
}

// RecordSuccess applies a successful run. next is the following occurrence,
// nil when the task does not recur or its rule is exhausted.
func (t *ScheduleTask) RecordSuccess(rec ExecutionRecord, next *time.Time, now time.Time) {
	status := t.Scheduling.Status
	t.appendRecord(rec)
	t.Execution.TotalExecutions++
	t.Execution.SuccessfulExecutions++
	t.Execution.ExecutionCount++
	t.Execution.CurrentRetries = 0
	t.Execution.LastError = nil

	switch status {
	case StatusPending, StatusActive:
		if next == nil {
			t.Scheduling.Status = StatusCompleted
			t.Scheduling.NextExecutionTime = nil
		} else {
			t.Scheduling.Status = StatusActive
			t.setNext(*next)
		}
	case StatusPaused:
		// Disabled while in flight: keep the counters, leave dispatch stopped.
		if next == nil {
			t.Scheduling.NextExecutionTime = nil
		} else {
			t.setNext(*next)
		}
	}
	t.touch(now)
}

// RecordFailure applies a failed or timed out run and reports whether the
// task is exhausted. retryAt is used only while retries remain.
func (t *ScheduleTask) RecordFailure(rec ExecutionRecord, retryAt time.Time, now time.Time) bool {
	t.appendRecord(rec)
	t.Execution.TotalExecutions++
	t.Execution.CurrentRetries++
	if rec.Error != nil {
		msg := *rec.Error
		t.Execution.LastError = &msg
	}

	exhausted := t.Execution.CurrentRetries >= t.Execution.MaxRetries
	switch t.Scheduling.Status {
	case StatusPending, StatusActive:
		if exhausted {
			t.Scheduling.Status = StatusFailed
			t.Scheduling.NextExecutionTime = nil
		} else {
			t.Scheduling.Status = StatusActive
			t.setNext(retryAt)
		}
	case StatusPaused:
		if !exhausted {
			t.setNext(retryAt)
		}
	}
	t.touch(now)
	return exhausted
}

// RecordSkip records a run that was not attempted and moves the task to next.
func (t *ScheduleTask) RecordSkip(rec ExecutionRecord, next *time.Time, now time.Time) {
	t.appendRecord(rec)
	if t.Scheduling.Status == StatusPending || t.Scheduling.Status == StatusActive {
		if next == nil {
			t.Scheduling.Status = StatusCompleted
			t.Scheduling.NextExecutionTime = nil
		} else {
			t.setNext(*next)
		}
	}
	t.touch(now)
}

// Disable stops future dispatch.
func (t *ScheduleTask) Disable(now time.Time) error {
	switch t.Scheduling.Status {
	case StatusActive, StatusPending:
	default:
		return t.transitionErr(StatusPaused)
	}
	t.Scheduling.Status = StatusPaused
	t.Metadata.Enabled = false
	t.touch(now)
	return nil
}

// Enable resumes a paused task, or re-arms a failed one with a fresh retry
// budget. next is the recomputed next execution time.
func (t *ScheduleTask) Enable(next *time.Time, now time.Time) error {
	switch t.Scheduling.Status {
	case StatusPaused:
	case StatusFailed:
		t.Execution.CurrentRetries = 0
	default:
		return t.transitionErr(StatusActive)
	}
	t.Scheduling.Status = StatusActive
	t.Metadata.Enabled = true
	if next == nil {
		t.Scheduling.NextExecutionTime = nil
	} else {
		t.setNext(*next)
	}
	t.touch(now)
	return nil
}

// Cancel is terminal. Cancelling a cancelled task changes nothing and
// returns false.
func (t *ScheduleTask) Cancel(now time.Time) bool {
	if t.Scheduling.Status == StatusCancelled {
		return false
	}
	t.Scheduling.Status = StatusCancelled
	t.Scheduling.NextExecutionTime = nil
	t.Metadata.Enabled = false
	t.touch(now)
	return true
}

// Reschedule replaces the recurrence of a live task, as requested by its
// producer. A failed task keeps its status until it is explicitly enabled.
func (t *ScheduleTask) Reschedule(rule string, timezone string, recurring bool, next *time.Time, now time.Time) error {
	if t.Terminal() {
		return t.transitionErr(t.Scheduling.Status)
	}
	r := rule
	t.Scheduling.RecurrenceRule = &r
	t.Scheduling.Timezone = timezone
	t.Scheduling.Recurring = recurring
	t.Execution.CurrentRetries = 0
	if next == nil {
		t.Scheduling.NextExecutionTime = nil
	} else {
		t.Scheduling.ScheduledTime = *next
		t.setNext(*next)
	}
	t.touch(now)
	return nil
}

func (t *ScheduleTask) setNext(next time.Time) {
	if next.Before(t.Lifecycle.CreatedAt) {
		next = t.Lifecycle.CreatedAt
	}
	t.Scheduling.NextExecutionTime = &next
}

func (t *ScheduleTask) appendRecord(rec ExecutionRecord) {
	if rec.Outcome != OutcomeSkipped {
		at := rec.StartedAt
		t.Execution.LastExecutedAt = &at
	}
	t.Execution.Recent = append(t.Execution.Recent, rec)
	if n := len(t.Execution.Recent); n > MaxRecentExecutions {
		t.Execution.Recent = slices.Clone(t.Execution.Recent[n-MaxRecentExecutions:])
	}
}

func (t *ScheduleTask) touch(now time.Time) {
	t.Metadata.Version++
	t.Lifecycle.UpdatedAt = now
}

func (t *ScheduleTask) transitionErr(to Status) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Scheduling.Status, to)
}

// NewTaskInput carries everything needed to create a task.
type NewTaskInput struct {
	AccountID      string
	Name           string
	Description    *string
	TaskType       string
	Payload        map[string]any
	CreatedBy      string
	Source         TaskSource
	RecurrenceRule string
	Timezone       string
	Recurring      bool
	Priority       Priority
	MaxRetries     int
	TimeoutSeconds *int
	Backoff        Backoff
	AlertConfig    AlertConfig
	Tags           []string
}

// NewScheduleTask builds a pending task whose first run is at next.
func NewScheduleTask(in NewTaskInput, next time.Time, now time.Time) *ScheduleTask {
	rule := in.RecurrenceRule
	if in.Priority == "" {
		in.Priority = PriorityNormal
	}
	if in.Backoff == "" {
		in.Backoff = BackoffExponential
	}
	if in.Payload == nil {
		in.Payload = map[string]any{}
	}
	t := &ScheduleTask{
		AccountID: in.AccountID,
		Basic: TaskBasic{
			Name:        in.Name,
			Description: in.Description,
			TaskType:    in.TaskType,
			Payload:     in.Payload,
			CreatedBy:   in.CreatedBy,
		},
		Source: in.Source,
		Scheduling: TaskScheduling{
			ScheduledTime:  next,
			RecurrenceRule: &rule,
			Timezone:       in.Timezone,
			Recurring:      in.Recurring,
			Priority:       in.Priority,
			Status:         StatusPending,
		},
		Execution: TaskExecution{
			MaxRetries:     in.MaxRetries,
			TimeoutSeconds: in.TimeoutSeconds,
			Backoff:        in.Backoff,
		},
		AlertConfig: in.AlertConfig,
		Lifecycle:   Lifecycle{CreatedAt: now, UpdatedAt: now},
		Metadata:    TaskMetadata{Tags: in.Tags, Enabled: true, Version: 1},
	}
	t.setNext(next)
	return t
}
