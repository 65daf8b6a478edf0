package gateway

import (
	"context"
	"log/slog"

	"github.com/ErlanBelekov/schedule-engine/internal/domain"
	"github.com/ErlanBelekov/schedule-engine/internal/metrics"
)

// LogPublisher writes outbound events as structured log lines. It is the
// publisher for local runs without Redis.
type LogPublisher struct {
	logger *slog.Logger
}

var _ Publisher = (*LogPublisher)(nil)

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With("component", "log_publisher")}
}

func (p *LogPublisher) PublishTrigger(ctx context.Context, ev domain.TriggerEvent) error {
	p.logger.InfoContext(ctx, "trigger",
		"source_module", ev.SourceModule,
		"source_entity_id", ev.SourceEntityID,
		"task_id", ev.TaskID,
		"attempt", ev.Attempt,
		"timestamp", ev.Timestamp.UnixMilli(),
	)
	metrics.PublishedEventsTotal.WithLabelValues("trigger", "ok").Inc()
	return nil
}

func (p *LogPublisher) PublishResult(ctx context.Context, ev domain.ExecutionResultEvent) error {
	attrs := []any{
		"source_module", ev.SourceModule,
		"source_entity_id", ev.SourceEntityID,
		"task_id", ev.TaskID,
		"status", ev.Status,
		"task_status", ev.TaskStatus,
		"timestamp", ev.Timestamp.UnixMilli(),
	}
	if ev.Error != nil {
		attrs = append(attrs, "error", *ev.Error)
	}
	p.logger.InfoContext(ctx, "execution result", attrs...)
	metrics.PublishedEventsTotal.WithLabelValues("result", "ok").Inc()
	return nil
}
