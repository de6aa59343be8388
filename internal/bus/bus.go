// Package bus provides the channel and NATS event buses.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/cogsolver/internal/domain"
)

// New creates an event bus from configuration.
//   - channel: in-process, community tier
//   - nats: shared NATS server, pro tier
func New(cfg domain.EventBusConfig, logger *slog.Logger) (domain.EventBus, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Type {
	case "channel", "":
		return NewChannelBus(cfg.ChannelBufferSize, logger), nil

	case "nats":
		return NewNATSBus(cfg, logger)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// PublishJSON encodes v and publishes it on topic.
func PublishJSON(ctx context.Context, b domain.EventBus, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", topic, err)
	}
	return b.Publish(ctx, topic, payload)
}

// Decode unmarshals a message payload into a T.
func Decode[T any](msg *domain.Message) (T, error) {
	var v T
	if err := json.Unmarshal(msg.Payload, &v); err != nil {
		return v, fmt.Errorf("failed to decode %s payload: %w", msg.Topic, err)
	}
	return v, nil
}

func newMessage(topic string, payload []byte) *domain.Message {
	return &domain.Message{
		ID:        uuid.New().String(),
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}
}
