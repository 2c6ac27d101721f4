package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/amirhossein-jamali/persistence-coordinator/internal/domain/entity"
	"github.com/amirhossein-jamali/persistence-coordinator/internal/domain/port/core"
	"github.com/amirhossein-jamali/persistence-coordinator/internal/domain/port/persistence"
)

// eventEnvelope is the wire shape published to the Redis channel
type eventEnvelope struct {
	EventID    string             `json:"event_id"`
	EventName  string             `json:"event_name"`
	OccurredAt time.Time          `json:"occurred_at"`
	Payload    entity.DomainEvent `json:"payload"`
}

// RedisPublisher delivers harvested domain events over a Redis pub/sub channel
type RedisPublisher struct {
	client  *redis.Client
	channel string
	logger  core.Logger
}

// NewRedisPublisher creates a Redis-backed event publisher
func NewRedisPublisher(client *redis.Client, channel string, logger core.Logger) persistence.EventPublisher {
	return &RedisPublisher{
		client:  client,
		channel: channel,
		logger:  logger,
	}
}

// Publish serializes the event and sends it to the configured channel
func (p *RedisPublisher) Publish(ctx context.Context, event entity.DomainEvent) error {
	envelope := eventEnvelope{
		EventID:    event.EventID().String(),
		EventName:  event.EventName(),
		OccurredAt: event.OccurredAt(),
		Payload:    event,
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to serialize event %s: %w", event.EventName(), err)
	}

	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		p.logger.Error("Failed to publish domain event", map[string]any{
			"event_id":   envelope.EventID,
			"event_name": envelope.EventName,
			"channel":    p.channel,
			"error":      err.Error(),
		})
		return fmt.Errorf("failed to publish event %s: %w", event.EventName(), err)
	}

	p.logger.Debug("Published domain event", map[string]any{
		"event_id":   envelope.EventID,
		"event_name": envelope.EventName,
		"channel":    p.channel,
	})
	return nil
}
