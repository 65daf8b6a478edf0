package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/ErlanBelekov/schedule-engine/internal/domain"
)

// EventMessage is the JSON form of a producer recurrence event, shared by
// the HTTP endpoint and the Redis subscriber.
type EventMessage struct {
	Type           string          `json:"type"`
	SourceModule   string          `json:"source_module"`
	SourceEntityID string          `json:"source_entity_id"`
	AccountID      string          `json:"account_id"`
	RecurrenceSpec json.RawMessage `json:"recurrence_spec,omitempty"`
	Payload        map[string]any  `json:"payload,omitempty"`
	Task           *TaskOptionsMsg `json:"task,omitempty"`
}

type TaskOptionsMsg struct {
	Name           string          `json:"name,omitempty"`
	Description    *string         `json:"description,omitempty"`
	TaskType       string          `json:"task_type,omitempty"`
	Timezone       string          `json:"timezone,omitempty"`
	Priority       string          `json:"priority,omitempty"`
	MaxRetries     *int            `json:"max_retries,omitempty"`
	TimeoutSeconds *int            `json:"timeout_seconds,omitempty"`
	Backoff        string          `json:"backoff,omitempty"`
	AlertConfig    *AlertConfigMsg `json:"alert_config,omitempty"`
	Tags           []string        `json:"tags,omitempty"`
}

type AlertConfigMsg struct {
	Methods       []string `json:"methods"`
	AllowSnooze   bool     `json:"allow_snooze"`
	SnoozeOptions []int    `json:"snooze_options"`
}

// DecodeEvent parses and converts a producer event. The result is not
// validated; HandleRecurrenceEvent does that.
func DecodeEvent(data []byte) (domain.RecurrenceEvent, error) {
	var msg EventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return domain.RecurrenceEvent{}, fmt.Errorf("%w: %v", domain.ErrInvalidEvent, err)
	}
	return msg.ToDomain()
}

func (m EventMessage) ToDomain() (domain.RecurrenceEvent, error) {
	ev := domain.RecurrenceEvent{
		Type:           domain.EventType(m.Type),
		SourceModule:   m.SourceModule,
		SourceEntityID: m.SourceEntityID,
		AccountID:      m.AccountID,
		Payload:        m.Payload,
	}
	if raw := bytes.TrimSpace(m.RecurrenceSpec); len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		spec, err := domain.DecodeRecurrenceSpec(raw)
		if err != nil {
			return domain.RecurrenceEvent{}, err
		}
		ev.Spec = spec
	}
	if t := m.Task; t != nil {
		ev.Options = domain.TaskOptions{
			Name:           t.Name,
			Description:    t.Description,
			TaskType:       t.TaskType,
			Timezone:       t.Timezone,
			Priority:       domain.Priority(t.Priority),
			MaxRetries:     t.MaxRetries,
			TimeoutSeconds: t.TimeoutSeconds,
			Backoff:        domain.Backoff(t.Backoff),
			Tags:           t.Tags,
		}
		if a := t.AlertConfig; a != nil {
			methods := make([]domain.AlertMethod, len(a.Methods))
			for i, method := range a.Methods {
				methods[i] = domain.AlertMethod(method)
			}
			ev.Options.AlertConfig = domain.AlertConfig{Methods: methods, AllowSnooze: a.AllowSnooze, SnoozeOptions: a.SnoozeOptions}
		}
	}
	return ev, nil
}

// TriggerMessage and ResultMessage are what producers receive. Timestamps
// are Unix milliseconds.
type TriggerMessage struct {
	SourceModule   string         `json:"source_module"`
	SourceEntityID string         `json:"source_entity_id"`
	TaskID         string         `json:"task_id"`
	AccountID      string         `json:"account_id"`
	Payload        map[string]any `json:"payload,omitempty"`
	Attempt        int            `json:"attempt"`
	Timestamp      int64          `json:"timestamp"`
}

type ResultMessage struct {
	SourceModule   string  `json:"source_module"`
	SourceEntityID string  `json:"source_entity_id"`
	TaskID         string  `json:"task_id"`
	AccountID      string  `json:"account_id"`
	Status         string  `json:"status"`
	TaskStatus     string  `json:"task_status"`
	Timestamp      int64   `json:"timestamp"`
	Error          *string `json:"error,omitempty"`
}

func NewTriggerMessage(ev domain.TriggerEvent) TriggerMessage {
	return TriggerMessage{
		SourceModule:   ev.SourceModule,
		SourceEntityID: ev.SourceEntityID,
		TaskID:         ev.TaskID,
		AccountID:      ev.AccountID,
		Payload:        ev.Payload,
		Attempt:        ev.Attempt,
		Timestamp:      ev.Timestamp.UnixMilli(),
	}
}

func NewResultMessage(ev domain.ExecutionResultEvent) ResultMessage {
	return ResultMessage{
		SourceModule:   ev.SourceModule,
		SourceEntityID: ev.SourceEntityID,
		TaskID:         ev.TaskID,
		AccountID:      ev.AccountID,
		Status:         string(ev.Status),
		TaskStatus:     string(ev.TaskStatus),
		Timestamp:      ev.Timestamp.UnixMilli(),
		Error:          ev.Error,
	}
}
