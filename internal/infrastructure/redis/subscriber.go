package redis

import (
	"context"
	"log/slog"

	"github.com/ErlanBelekov/schedule-engine/internal/gateway"
	goredis "github.com/redis/go-redis/v9"
)

// RecurrenceChannel carries producer recurrence events.
const RecurrenceChannel = keyPrefix + "recurrence"

// Subscriber feeds producer events from Redis pub/sub into the gateway.
// Pub/sub does not redeliver: an event that fails is logged and dropped.
type Subscriber struct {
	client *goredis.Client
	port   gateway.ProducerPort
	logger *slog.Logger
}

func NewSubscriber(client *goredis.Client, port gateway.ProducerPort, logger *slog.Logger) *Subscriber {
	return &Subscriber{
		client: client,
		port:   port,
		logger: logger.With("component", "subscriber", "channel", RecurrenceChannel),
	}
}

// Run blocks until ctx is done.
func (s *Subscriber) Run(ctx context.Context) error {
	pubsub := s.client.Subscribe(ctx, RecurrenceChannel)
	defer func() { _ = pubsub.Close() }()

	// Wait for the subscription to be confirmed so no event published after
	// Run starts is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	s.logger.Info("subscribed")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("subscriber shut down")
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			s.handle(ctx, msg.Payload)
		}
	}
}

func (s *Subscriber) handle(ctx context.Context, payload string) {
	ev, err := gateway.DecodeEvent([]byte(payload))
	if err != nil {
		s.logger.Warn("dropping undecodable event", "error", err)
		return
	}
	task, err := s.port.HandleRecurrenceEvent(ctx, ev)
	if err != nil {
		s.logger.Error("handle recurrence event",
			"type", ev.Type,
			"source_module", ev.SourceModule,
			"source_entity_id", ev.SourceEntityID,
			"error", err,
		)
		return
	}
	s.logger.Debug("recurrence event applied", "type", ev.Type, "task_id", task.ID)
}
