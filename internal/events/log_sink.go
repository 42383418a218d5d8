package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"
)

// StartLogSink consumes topic and writes every event to the structured log.
// It backs the in-process publisher when no broker is configured. The
// returned channel closes once the subscription ends.
func StartLogSink(ctx context.Context, subscriber message.Subscriber, topic string, logger *slog.Logger) (<-chan struct{}, error) {
	messages, err := subscriber.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range messages {
			var event Event
			if err := json.Unmarshal(msg.Payload, &event); err != nil {
				logger.Warn("Dropping undecodable event", "message_id", msg.UUID, "error", err)
				msg.Ack()
				continue
			}
			logger.Info("Domain event",
				"event_id", event.ID,
				"event_type", event.Type,
				"source", event.Source,
				"topic", topic,
				"data", event.Data)
			msg.Ack()
		}
	}()
	return done, nil
}
