package entity

import (
	"time"

	"github.com/google/uuid"
)

// DomainEvent is an immutable record of something that happened to an
// aggregate. Events are owned by the aggregate that raised them until they
// are drained; after that the caller is responsible for delivery.
type DomainEvent interface {
	// EventID returns the unique identifier of this event instance
	EventID() uuid.UUID
	// EventName returns the name of the event, e.g. "user.created"
	EventName() string
	// OccurredAt returns when the event was raised
	OccurredAt() time.Time
}

// BaseDomainEvent provides the common part of a domain event. Concrete
// events embed it and add their own payload fields.
type BaseDomainEvent struct {
	ID   uuid.UUID
	Name string
	At   time.Time
}

// NewBaseDomainEvent creates the embeddable part of a domain event
func NewBaseDomainEvent(name string, at time.Time) BaseDomainEvent {
	return BaseDomainEvent{
		ID:   uuid.New(),
		Name: name,
		At:   at,
	}
}

// EventID returns the unique identifier of this event instance
func (e BaseDomainEvent) EventID() uuid.UUID {
	return e.ID
}

// EventName returns the name of the event
func (e BaseDomainEvent) EventName() string {
	return e.Name
}

// OccurredAt returns when the event was raised
func (e BaseDomainEvent) OccurredAt() time.Time {
	return e.At
}
