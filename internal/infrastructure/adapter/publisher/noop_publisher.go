package publisher

import (
	"context"

	"github.com/amirhossein-jamali/persistence-coordinator/internal/domain/entity"
	"github.com/amirhossein-jamali/persistence-coordinator/internal/domain/port/persistence"
)

// NoopPublisher discards events. Useful for tests and for deployments that
// persist state without an event bus.
type NoopPublisher struct{}

// NewNoopPublisher creates a publisher that drops every event
func NewNoopPublisher() persistence.EventPublisher {
	return &NoopPublisher{}
}

// Publish does nothing
func (p *NoopPublisher) Publish(_ context.Context, _ entity.DomainEvent) error {
	return nil
}
