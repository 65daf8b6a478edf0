package domain

import (
	"fmt"
	"slices"
	"time"
)

// ScheduleEntry is a calendar item owned by an account and subject to
// conflict detection.
type ScheduleEntry struct {
	ID                   string
	AccountID            string
	Title                string
	Description          *string
	StartTime            time.Time
	EndTime              time.Time
	Duration             int // minutes
	Priority             *Priority
	Location             *string
	Attendees            []string
	HasConflict          bool
	ConflictingSchedules []string
	Active               bool
	Version              int64
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// DurationMinutes is the whole number of minutes in [start, end).
func DurationMinutes(start, end time.Time) int {
	return int(end.Sub(start) / time.Minute)
}

// ValidateRange checks end > start and, when duration is non-zero, that it
// matches the range.
func ValidateRange(start, end time.Time, duration int) error {
	if !end.After(start) {
		return ErrInvalidTimeRange
	}
	if duration != 0 && duration != DurationMinutes(start, end) {
		return fmt.Errorf("%w: got %d, range is %d minutes", ErrDurationMismatch, duration, DurationMinutes(start, end))
	}
	return nil
}

// Overlaps is the half-open interval test [a,b) vs [c,d).
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// Reschedule moves the entry to [start, end).
func (e *ScheduleEntry) Reschedule(start, end time.Time, now time.Time) error {
	if err := ValidateRange(start, end, 0); err != nil {
		return err
	}
	e.StartTime = start
	e.EndTime = end
	e.Duration = DurationMinutes(start, end)
	e.touch(now)
	return nil
}

// AdjustDuration keeps the start and recomputes the end.
func (e *ScheduleEntry) AdjustDuration(minutes int, now time.Time) error {
	if minutes < 1 {
		return fmt.Errorf("%w: duration must be at least 1 minute", ErrInvalidTimeRange)
	}
	e.EndTime = e.StartTime.Add(time.Duration(minutes) * time.Minute)
	e.Duration = minutes
	e.touch(now)
	return nil
}

// Deactivate cancels the entry. It returns false when it was already inactive.
func (e *ScheduleEntry) Deactivate(now time.Time) bool {
	if !e.Active {
		return false
	}
	e.Active = false
	e.HasConflict = false
	e.ConflictingSchedules = nil
	e.touch(now)
	return true
}

// MarkConflicts records the ids of the schedules the entry overlaps.
// It does not bump the version on its own; callers pair it with a mutation
// or with creation.
func (e *ScheduleEntry) MarkConflicts(ids []string) {
	e.HasConflict = len(ids) > 0
	if len(ids) == 0 {
		e.ConflictingSchedules = nil
		return
	}
	e.ConflictingSchedules = slices.Clone(ids)
}

func (e *ScheduleEntry) touch(now time.Time) {
	e.Version++
	e.UpdatedAt = now
}
