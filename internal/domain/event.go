package domain

import (
	"fmt"
	"time"
)

type EventType string

const (
	EventRecurrenceCreated EventType = "recurrence.created"
	EventRecurrenceChanged EventType = "recurrence.changed"
	EventRecurrenceDeleted EventType = "recurrence.deleted"
)

// Producer modules allowed to drive the engine.
const (
	ModuleReminder     = "reminder"
	ModuleTask         = "task"
	ModuleGoal         = "goal"
	ModuleNotification = "notification"
)

func ValidModule(m string) bool {
	switch m {
	case ModuleReminder, ModuleTask, ModuleGoal, ModuleNotification:
		return true
	}
	return false
}

// TaskOptions are optional producer overrides for the task an event creates.
type TaskOptions struct {
	Name           string
	Description    *string
	TaskType       string
	Timezone       string
	Priority       Priority
	MaxRetries     *int
	TimeoutSeconds *int
	Backoff        Backoff
	AlertConfig    AlertConfig
	Tags           []string
}

// RecurrenceEvent is what a producer emits when one of its entities gains,
// changes or loses a recurrence.
type RecurrenceEvent struct {
	Type           EventType
	SourceModule   string
	SourceEntityID string
	AccountID      string
	Spec           RecurrenceSpec // nil for deletions
	Payload        map[string]any
	Options        TaskOptions
}

func (e RecurrenceEvent) Validate() error {
	switch e.Type {
	case EventRecurrenceCreated, EventRecurrenceChanged, EventRecurrenceDeleted:
	default:
		return fmt.Errorf("%w: unknown event type %q", ErrInvalidEvent, e.Type)
	}
	if !ValidModule(e.SourceModule) {
		return fmt.Errorf("%w: unknown source module %q", ErrInvalidEvent, e.SourceModule)
	}
	if e.SourceEntityID == "" || e.AccountID == "" {
		return fmt.Errorf("%w: source_entity_id and account_id are required", ErrInvalidEvent)
	}
	if e.Type != EventRecurrenceDeleted && e.Spec == nil {
		return fmt.Errorf("%w: recurrence_spec is required for %s", ErrInvalidEvent, e.Type)
	}
	return nil
}

// ExecutionResultEvent goes back to the producer after every attempt.
type ExecutionResultEvent struct {
	SourceModule   string
	SourceEntityID string
	TaskID         string
	AccountID      string
	Status         Outcome
	TaskStatus     Status
	Timestamp      time.Time
	Error          *string
}

// TriggerEvent asks a producer to perform its side effect (deliver the
// reminder, surface the goal check-in, ...).
type TriggerEvent struct {
	SourceModule   string
	SourceEntityID string
	TaskID         string
	AccountID      string
	Payload        map[string]any
	Attempt        int
	Timestamp      time.Time
}
