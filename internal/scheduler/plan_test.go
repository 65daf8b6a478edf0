package scheduler

import (
	"errors"
	"testing"
	"time"

	"github.com/ErlanBelekov/schedule-engine/internal/domain"
)

func planTask(rule, tz string, recurring bool, next time.Time) *domain.ScheduleTask {
	return domain.NewScheduleTask(domain.NewTaskInput{
		RecurrenceRule: rule,
		Timezone:       tz,
		Recurring:      recurring,
	}, next, next.Add(-24*time.Hour))
}

func TestFirstExecution(t *testing.T) {
	now := time.Date(2026, time.October, 14, 10, 0, 0, 0, time.UTC)

	got, err := FirstExecution("0 9 * * 1", "UTC", now)
	if err != nil {
		t.Fatalf("first execution: %v", err)
	}
	if want := time.Date(2026, time.October, 19, 9, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}

	past, err := FirstExecution("0 9 1 1 * 2025", "UTC", now)
	if err != nil {
		t.Fatalf("exhausted rule: %v", err)
	}
	if past != nil {
		t.Fatalf("expected nil for a rule in the past, got %s", past)
	}

	if _, err := FirstExecution("not a cron", "UTC", now); !errors.Is(err, domain.ErrInvalidRecurrence) {
		t.Fatalf("expected ErrInvalidRecurrence, got %v", err)
	}
	if _, err := FirstExecution("0 9 * * *", "Mars/Olympus", now); !errors.Is(err, domain.ErrInvalidRecurrence) {
		t.Fatalf("expected ErrInvalidRecurrence for bad timezone, got %v", err)
	}
}

func TestNextExecution_StepsFromCurrentSlot(t *testing.T) {
	slot := time.Date(2026, time.October, 14, 9, 0, 0, 0, time.UTC)
	task := planTask("0 9 * * *", "UTC", true, slot)

	got, err := NextExecution(task, slot.Add(2*time.Second))
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if want := slot.Add(24 * time.Hour); !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestNextExecution_CatchUpKeepsEveryPhase(t *testing.T) {
	slot := time.Date(2026, time.October, 14, 9, 0, 0, 0, time.UTC)
	task := planTask("@every 90m", "UTC", true, slot)

	// Five hours late: 10:30, 12:00 and 13:30 were missed.
	now := slot.Add(5 * time.Hour)
	got, err := NextExecution(task, now)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if want := slot.Add(6 * time.Hour); !got.Equal(want) {
		t.Fatalf("expected phase-aligned %s, got %s", want, got)
	}
}

func TestNextExecution_OneShotAndExhausted(t *testing.T) {
	slot := time.Date(2026, time.November, 3, 14, 30, 0, 0, time.UTC)

	once := planTask("30 14 3 11 * 2026", "UTC", false, slot)
	if got, err := NextExecution(once, slot); err != nil || got != nil {
		t.Fatalf("expected nil for a one-shot, got %v err=%v", got, err)
	}

	pinned := planTask("30 14 * 11 * 2026", "UTC", true, time.Date(2026, time.November, 30, 14, 30, 0, 0, time.UTC))
	got, err := NextExecution(pinned, time.Date(2026, time.November, 30, 14, 30, 1, 0, time.UTC))
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if got != nil {
		t.Fatalf("expected rule exhausted after its last year, got %s", got)
	}
}
