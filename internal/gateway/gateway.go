// Package gateway is the boundary between producer modules and the engine.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/schedule-engine/internal/domain"
	"github.com/ErlanBelekov/schedule-engine/internal/metrics"
	"github.com/ErlanBelekov/schedule-engine/internal/recurrence"
	"github.com/ErlanBelekov/schedule-engine/internal/repository"
	"github.com/ErlanBelekov/schedule-engine/internal/scheduler"
)

const (
	defaultMaxRetries = 3
	maxUpdateAttempts = 3
)

// ProducerPort is how producer modules drive the engine.
type ProducerPort interface {
	HandleRecurrenceEvent(ctx context.Context, ev domain.RecurrenceEvent) (*domain.ScheduleTask, error)
}

// Publisher carries engine events back to producers.
type Publisher interface {
	PublishTrigger(ctx context.Context, ev domain.TriggerEvent) error
	PublishResult(ctx context.Context, ev domain.ExecutionResultEvent) error
}

type Gateway struct {
	tasks           repository.TaskRepository
	defaultTimezone string
	logger          *slog.Logger
	now             func() time.Time
}

var _ ProducerPort = (*Gateway)(nil)

func New(tasks repository.TaskRepository, defaultTimezone string, logger *slog.Logger) *Gateway {
	if defaultTimezone == "" {
		defaultTimezone = "UTC"
	}
	return &Gateway{
		tasks:           tasks,
		defaultTimezone: defaultTimezone,
		logger:          logger.With("component", "gateway"),
		now:             time.Now,
	}
}

// HandleRecurrenceEvent creates, reschedules or cancels the task that
// belongs to the event's source entity. Events may be redelivered: a second
// create reschedules the live task and a second delete is a no-op.
func (g *Gateway) HandleRecurrenceEvent(ctx context.Context, ev domain.RecurrenceEvent) (task *domain.ScheduleTask, err error) {
	defer func() {
		result := "ok"
		if err != nil {
			result = string(domain.KindOf(err))
		}
		metrics.ProducerEventsTotal.WithLabelValues(string(ev.Type), result).Inc()
	}()

	if err := ev.Validate(); err != nil {
		return nil, err
	}

	switch ev.Type {
	case domain.EventRecurrenceCreated, domain.EventRecurrenceChanged:
		return g.upsert(ctx, ev)
	default:
		return g.cancel(ctx, ev)
	}
}

type plan struct {
	rule      string
	timezone  string
	recurring bool
	next      time.Time
}

func (g *Gateway) plan(ev domain.RecurrenceEvent, now time.Time) (plan, error) {
	tr, err := recurrence.Translate(ev.Spec)
	if err != nil {
		return plan{}, err
	}
	tz := tr.Timezone
	if tz == "" {
		tz = ev.Options.Timezone
	}
	if tz == "" {
		tz = g.defaultTimezone
	}

	next, err := scheduler.FirstExecution(tr.Cron, tz, now)
	if err != nil {
		return plan{}, err
	}
	if next == nil {
		reason := "rule never fires again"
		if ev.Spec.Kind() == domain.RecurrenceAbsoluteOnce {
			reason = "timestamp is in the past"
		}
		return plan{}, &domain.TranslationError{Kind: ev.Spec.Kind(), Reason: reason}
	}
	return plan{rule: tr.Cron, timezone: tz, recurring: tr.Recurring, next: *next}, nil
}

func (g *Gateway) upsert(ctx context.Context, ev domain.RecurrenceEvent) (*domain.ScheduleTask, error) {
	now := g.now()
	p, err := g.plan(ev, now)
	if err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		existing, err := g.tasks.GetBySource(ctx, ev.AccountID, ev.SourceModule, ev.SourceEntityID)
		if errors.Is(err, domain.ErrTaskNotFound) || (err == nil && existing.Terminal()) {
			task, err := g.create(ctx, ev, p, now)
			if !errors.Is(err, domain.ErrDuplicateSource) || attempt == maxUpdateAttempts {
				return task, err
			}
			// Another event for the same entity created the task first.
			metrics.VersionConflictsTotal.WithLabelValues("task").Inc()
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get task by source: %w", err)
		}

		expected := existing.Metadata.Version
		if err := existing.Reschedule(p.rule, p.timezone, p.recurring, &p.next, now); err != nil {
			return nil, err
		}
		if ev.Payload != nil {
			existing.Basic.Payload = ev.Payload
		}

		err = g.tasks.Update(ctx, existing, expected)
		if err == nil {
			g.logger.Info("task rescheduled",
				"task_id", existing.ID,
				"source_module", ev.SourceModule,
				"source_entity_id", ev.SourceEntityID,
				"rule", p.rule,
				"next_execution_time", p.next,
			)
			return existing, nil
		}
		if !errors.Is(err, domain.ErrConcurrencyConflict) || attempt == maxUpdateAttempts {
			return nil, fmt.Errorf("update task: %w", err)
		}
		metrics.VersionConflictsTotal.WithLabelValues("task").Inc()
	}
}

func (g *Gateway) create(ctx context.Context, ev domain.RecurrenceEvent, p plan, now time.Time) (*domain.ScheduleTask, error) {
	opts := ev.Options
	in := domain.NewTaskInput{
		AccountID:      ev.AccountID,
		Name:           opts.Name,
		Description:    opts.Description,
		TaskType:       opts.TaskType,
		Payload:        ev.Payload,
		CreatedBy:      ev.SourceModule,
		Source:         domain.TaskSource{Module: ev.SourceModule, EntityID: ev.SourceEntityID},
		RecurrenceRule: p.rule,
		Timezone:       p.timezone,
		Recurring:      p.recurring,
		Priority:       opts.Priority,
		MaxRetries:     defaultMaxRetries,
		TimeoutSeconds: opts.TimeoutSeconds,
		Backoff:        opts.Backoff,
		AlertConfig:    opts.AlertConfig,
		Tags:           opts.Tags,
	}
	if in.Name == "" {
		in.Name = fmt.Sprintf("%s %s", ev.SourceModule, ev.SourceEntityID)
	}
	if in.TaskType == "" {
		in.TaskType = ev.SourceModule
	}
	if opts.MaxRetries != nil {
		in.MaxRetries = *opts.MaxRetries
	}

	task, err := g.tasks.Create(ctx, domain.NewScheduleTask(in, p.next, now))
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	g.logger.Info("task created",
		"task_id", task.ID,
		"source_module", ev.SourceModule,
		"source_entity_id", ev.SourceEntityID,
		"rule", p.rule,
		"next_execution_time", p.next,
	)
	return task, nil
}

func (g *Gateway) cancel(ctx context.Context, ev domain.RecurrenceEvent) (*domain.ScheduleTask, error) {
	for attempt := 1; ; attempt++ {
		task, err := g.tasks.GetBySource(ctx, ev.AccountID, ev.SourceModule, ev.SourceEntityID)
		if err != nil {
			return nil, err
		}
		expected := task.Metadata.Version
		if !task.Cancel(g.now()) {
			return task, nil
		}

		err = g.tasks.Update(ctx, task, expected)
		if err == nil {
			g.logger.Info("task cancelled", "task_id", task.ID, "source_module", ev.SourceModule, "source_entity_id", ev.SourceEntityID)
			return task, nil
		}
		if !errors.Is(err, domain.ErrConcurrencyConflict) || attempt == maxUpdateAttempts {
			return nil, fmt.Errorf("update task: %w", err)
		}
		metrics.VersionConflictsTotal.WithLabelValues("task").Inc()
	}
}
