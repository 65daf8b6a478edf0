package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ErlanBelekov/schedule-engine/internal/domain"
	"github.com/ErlanBelekov/schedule-engine/internal/gateway"
	"github.com/ErlanBelekov/schedule-engine/internal/metrics"
	goredis "github.com/redis/go-redis/v9"
)

// TriggerChannel and ResultChannel name the per-producer channels.
func TriggerChannel(module string) string { return keyPrefix + "trigger:" + module }
func ResultChannel(module string) string  { return keyPrefix + "result:" + module }

// Publisher sends trigger and result events on Redis pub/sub.
type Publisher struct {
	client *goredis.Client
}

var _ gateway.Publisher = (*Publisher)(nil)

func NewPublisher(client *goredis.Client) *Publisher {
	return &Publisher{client: client}
}

func (p *Publisher) PublishTrigger(ctx context.Context, ev domain.TriggerEvent) error {
	return p.publish(ctx, "trigger", TriggerChannel(ev.SourceModule), gateway.NewTriggerMessage(ev))
}

// PublishResult skips tasks that have no producer to report to.
func (p *Publisher) PublishResult(ctx context.Context, ev domain.ExecutionResultEvent) error {
	if ev.SourceModule == "" {
		return nil
	}
	return p.publish(ctx, "result", ResultChannel(ev.SourceModule), gateway.NewResultMessage(ev))
}

func (p *Publisher) publish(ctx context.Context, kind, channel string, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", kind, err)
	}
	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		metrics.PublishedEventsTotal.WithLabelValues(kind, "error").Inc()
		return fmt.Errorf("publish %s: %w", kind, err)
	}
	metrics.PublishedEventsTotal.WithLabelValues(kind, "ok").Inc()
	return nil
}
