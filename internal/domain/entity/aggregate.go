package entity

import (
	"time"
)

// AggregateRoot is the capability shared by every entity that participates in
// auditing, optimistic concurrency and domain event emission. The embeddable
// Aggregate base satisfies it; domain entities opt in by embedding Aggregate.
type AggregateRoot interface {
	// AuditCreated stamps the creation audit fields
	AuditCreated(by string, at time.Time)
	// AuditModified stamps the modification audit fields and bumps the version
	AuditModified(by string, at time.Time)
	// MarkDeleted flags the entity as soft-deleted and stamps it as a modification
	MarkDeleted(by string, at time.Time)
	// AggregateVersion returns the current optimistic concurrency version
	AggregateVersion() int64
	// SetAggregateVersion overwrites the version, used when re-baselining
	// against database truth after a concurrency conflict
	SetAggregateVersion(v int64)
	// Raise records a domain event on the aggregate's pending queue
	Raise(event DomainEvent)
	// HasDomainEvents reports whether any events are pending
	HasDomainEvents() bool
	// PullDomainEvents returns the pending events and clears the queue in one
	// step, so an event can never be delivered twice
	PullDomainEvents() []DomainEvent
}

// Aggregate is the embeddable base for auditable, versioned, soft-deletable
// entities. Version increases by exactly 1 on every modifying save and drives
// optimistic concurrency; IsDeleted replaces physical row removal.
type Aggregate struct {
	CreatedAt      time.Time `gorm:"not null"`
	CreatedBy      string    `gorm:"size:255"`
	LastModifiedAt *time.Time
	LastModifiedBy string `gorm:"size:255"`
	Version        int64  `gorm:"not null;default:0"`
	IsDeleted      bool   `gorm:"not null;default:false"`

	events []DomainEvent
}

// AuditCreated stamps the creation audit fields. An empty user id means the
// acting user could not be resolved.
func (a *Aggregate) AuditCreated(by string, at time.Time) {
	a.CreatedBy = by
	a.CreatedAt = at
}

// AuditModified stamps the modification audit fields and bumps the version
func (a *Aggregate) AuditModified(by string, at time.Time) {
	a.LastModifiedBy = by
	t := at
	a.LastModifiedAt = &t
	a.Version++
}

// MarkDeleted flags the entity as soft-deleted. The row is kept; callers see
// a modification, never a physical delete.
func (a *Aggregate) MarkDeleted(by string, at time.Time) {
	a.IsDeleted = true
	a.AuditModified(by, at)
}

// AggregateVersion returns the current optimistic concurrency version
func (a *Aggregate) AggregateVersion() int64 {
	return a.Version
}

// SetAggregateVersion overwrites the version
func (a *Aggregate) SetAggregateVersion(v int64) {
	a.Version = v
}

// Raise records a domain event on the pending queue. Events stay with the
// aggregate until PullDomainEvents drains them.
func (a *Aggregate) Raise(event DomainEvent) {
	a.events = append(a.events, event)
}

// HasDomainEvents reports whether any events are pending
func (a *Aggregate) HasDomainEvents() bool {
	return len(a.events) > 0
}

// PullDomainEvents returns a snapshot of the pending events in insertion
// order and clears the queue. A second call returns nil until new events are
// raised; mutating the returned slice does not affect future drains.
func (a *Aggregate) PullDomainEvents() []DomainEvent {
	if len(a.events) == 0 {
		return nil
	}
	drained := make([]DomainEvent, len(a.events))
	copy(drained, a.events)
	a.events = nil
	return drained
}
