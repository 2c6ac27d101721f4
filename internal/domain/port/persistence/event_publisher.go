package persistence

import (
	"context"

	"github.com/amirhossein-jamali/persistence-coordinator/internal/domain/entity"
)

// EventPublisher delivers harvested domain events to the outside world. The
// unit of work only hands its harvest output to this interface; delivery
// semantics belong to the implementation. Callers must harvest and publish
// after a successful commit, otherwise a rollback could orphan published
// events.
type EventPublisher interface {
	// Publish delivers a single domain event
	Publish(ctx context.Context, event entity.DomainEvent) error
}

// PublishAll delivers events in order, stopping at the first failure
func PublishAll(ctx context.Context, publisher EventPublisher, events []entity.DomainEvent) error {
	for _, event := range events {
		if err := publisher.Publish(ctx, event); err != nil {
			return err
		}
	}
	return nil
}
