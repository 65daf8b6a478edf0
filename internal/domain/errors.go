package domain

import (
	"errors"
	"fmt"
)

var (
	ErrTaskNotFound        = errors.New("schedule task not found")
	ErrScheduleNotFound    = errors.New("schedule not found")
	ErrInvalidRecurrence   = errors.New("invalid recurrence")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrConcurrencyConflict = errors.New("version conflict, re-fetch and retry")
	ErrInvalidTimeRange    = errors.New("end time must be after start time")
	ErrDurationMismatch    = errors.New("duration does not match start and end time")
	ErrInvalidStrategy     = errors.New("invalid resolution strategy")
	ErrInvalidEvent        = errors.New("invalid producer event")
	ErrLeaseHeld           = errors.New("task lease is held by another dispatcher")
	ErrInvalidCursor       = errors.New("invalid cursor")
	ErrInvalidStatus       = errors.New("invalid task status")
	ErrDuplicateSource     = errors.New("a live task already exists for this source entity")
)

// ErrorKind lets callers branch on the class of an engine error without
// parsing messages.
type ErrorKind string

const (
	KindUnknown       ErrorKind = "unknown"
	KindTranslation   ErrorKind = "translation"
	KindValidation    ErrorKind = "validation"
	KindNotFound      ErrorKind = "not_found"
	KindTransition    ErrorKind = "invalid_transition"
	KindConcurrency   ErrorKind = "concurrency_conflict"
	KindExecution     ErrorKind = "execution"
	KindLease         ErrorKind = "lease"
	KindConflictsLeft ErrorKind = "conflict_persists"
)

// KindOf classifies err. Wrapped errors are unwrapped.
func KindOf(err error) ErrorKind {
	var execErr *ExecutionError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidRecurrence):
		return KindTranslation
	case errors.Is(err, ErrConcurrencyConflict), errors.Is(err, ErrDuplicateSource):
		return KindConcurrency
	case errors.Is(err, ErrTaskNotFound), errors.Is(err, ErrScheduleNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidTransition):
		return KindTransition
	case errors.Is(err, ErrInvalidTimeRange),
		errors.Is(err, ErrDurationMismatch),
		errors.Is(err, ErrInvalidStrategy),
		errors.Is(err, ErrInvalidEvent),
		errors.Is(err, ErrInvalidCursor),
		errors.Is(err, ErrInvalidStatus):
		return KindValidation
	case errors.Is(err, ErrLeaseHeld):
		return KindLease
	case errors.As(err, &execErr):
		return KindExecution
	}
	return KindUnknown
}

// TranslationError reports a recurrence field outside its allowed range.
// It is not retryable: the producer has to send a corrected spec.
type TranslationError struct {
	Kind   RecurrenceKind
	Field  string
	Value  any
	Reason string
}

func (e *TranslationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("translate %s recurrence: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("translate %s recurrence: %s=%v: %s", e.Kind, e.Field, e.Value, e.Reason)
}

func (e *TranslationError) Is(target error) bool { return target == ErrInvalidRecurrence }

// ExecutionError is a failure inside a task's side effect. The retry policy
// consumes it; it is never surfaced past the dispatcher.
type ExecutionError struct {
	TaskID  string
	Outcome Outcome
	Err     error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("task %s %s: %v", e.TaskID, e.Outcome, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// ConcurrencyConflict is returned when an update carried a stale version.
type ConcurrencyConflict struct {
	Entity          string
	ID              string
	ExpectedVersion int64
}

func (e *ConcurrencyConflict) Error() string {
	return fmt.Sprintf("%s %s: version %d is stale", e.Entity, e.ID, e.ExpectedVersion)
}

func (e *ConcurrencyConflict) Is(target error) bool { return target == ErrConcurrencyConflict }

// ConflictPersistsWarning accompanies a resolution that still overlaps other
// schedules. It is carried in results, not returned as an error.
type ConflictPersistsWarning struct {
	ScheduleID string `json:"schedule_id"`
	Remaining  int    `json:"remaining"`
}

func (w *ConflictPersistsWarning) Error() string {
	return fmt.Sprintf("schedule %s still conflicts with %d schedule(s)", w.ScheduleID, w.Remaining)
}
