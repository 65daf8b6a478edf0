package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/ErlanBelekov/schedule-engine/internal/cronexpr"
	"github.com/ErlanBelekov/schedule-engine/internal/domain"
)

// maxCatchUp bounds how many missed occurrences NextExecution steps over
// before jumping straight to the first one after now.
const maxCatchUp = 1000

// FirstExecution is the first occurrence of rule strictly after now. It
// returns nil when the rule never fires again (a one-shot in the past).
func FirstExecution(rule, timezone string, now time.Time) (*time.Time, error) {
	sched, loc, err := compile(rule, timezone)
	if err != nil {
		return nil, err
	}
	next, err := sched.Next(loc, now)
	if errors.Is(err, cronexpr.ErrNoNextRun) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &next, nil
}

// NextExecution returns the occurrence that follows the task's current slot
// and lies after now, skipping missed runs. It returns nil when the task
// does not recur or its rule is exhausted.
func NextExecution(t *domain.ScheduleTask, now time.Time) (*time.Time, error) {
	if t.Scheduling.RecurrenceRule == nil || !t.Scheduling.Recurring {
		return nil, nil
	}
	sched, loc, err := compile(*t.Scheduling.RecurrenceRule, t.Scheduling.Timezone)
	if err != nil {
		return nil, err
	}

	after := now
	if prev := t.Scheduling.NextExecutionTime; prev != nil && prev.Before(now) {
		// Start from the slot that just ran so @every keeps its phase.
		after = *prev
	}

	for i := 0; i < maxCatchUp; i++ {
		next, err := sched.Next(loc, after)
		if errors.Is(err, cronexpr.ErrNoNextRun) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if next.After(now) {
			return &next, nil
		}
		after = next
	}
	return FirstExecution(*t.Scheduling.RecurrenceRule, t.Scheduling.Timezone, now)
}

func compile(rule, timezone string) (*cronexpr.Schedule, *time.Location, error) {
	sched, err := cronexpr.Parse(rule)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", domain.ErrInvalidRecurrence, err)
	}
	loc, err := cronexpr.LoadLocation(timezone)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", domain.ErrInvalidRecurrence, err)
	}
	return sched, loc, nil
}
