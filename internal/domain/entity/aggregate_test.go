package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregateAuditStamps(t *testing.T) {
	createdAt := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)
	modifiedAt := createdAt.Add(time.Hour)

	t.Run("AuditCreated sets creation fields only", func(t *testing.T) {
		var a Aggregate
		a.AuditCreated("alice", createdAt)

		assert.Equal(t, "alice", a.CreatedBy)
		assert.Equal(t, createdAt, a.CreatedAt)
		assert.Nil(t, a.LastModifiedAt)
		assert.Equal(t, int64(0), a.Version)
	})

	t.Run("AuditModified bumps version by exactly one", func(t *testing.T) {
		var a Aggregate
		a.AuditModified("bob", modifiedAt)
		a.AuditModified("bob", modifiedAt)

		assert.Equal(t, int64(2), a.Version)
		assert.Equal(t, "bob", a.LastModifiedBy)
		require.NotNil(t, a.LastModifiedAt)
		assert.Equal(t, modifiedAt, *a.LastModifiedAt)
	})

	t.Run("MarkDeleted flags without clearing anything", func(t *testing.T) {
		var a Aggregate
		a.AuditCreated("alice", createdAt)
		a.MarkDeleted("carol", modifiedAt)

		assert.True(t, a.IsDeleted)
		assert.Equal(t, "alice", a.CreatedBy)
		assert.Equal(t, "carol", a.LastModifiedBy)
		assert.Equal(t, int64(1), a.Version)
	})
}

func TestAggregateEventQueue(t *testing.T) {
	at := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)

	t.Run("Drain returns events in insertion order and clears", func(t *testing.T) {
		var a Aggregate
		first := NewBaseDomainEvent("thing.created", at)
		second := NewBaseDomainEvent("thing.renamed", at.Add(time.Minute))
		a.Raise(first)
		a.Raise(second)
		require.True(t, a.HasDomainEvents())

		drained := a.PullDomainEvents()

		require.Len(t, drained, 2)
		assert.Equal(t, first.EventID(), drained[0].EventID())
		assert.Equal(t, second.EventID(), drained[1].EventID())
		assert.False(t, a.HasDomainEvents())
		assert.Nil(t, a.PullDomainEvents())
	})

	t.Run("Mutating the drained slice does not affect future drains", func(t *testing.T) {
		var a Aggregate
		a.Raise(NewBaseDomainEvent("thing.created", at))

		drained := a.PullDomainEvents()
		drained[0] = NewBaseDomainEvent("tampered", at)

		a.Raise(NewBaseDomainEvent("thing.updated", at))
		next := a.PullDomainEvents()
		require.Len(t, next, 1)
		assert.Equal(t, "thing.updated", next[0].EventName())
	})

	t.Run("Raising after a drain starts a fresh queue", func(t *testing.T) {
		var a Aggregate
		a.Raise(NewBaseDomainEvent("one", at))
		a.PullDomainEvents()
		a.Raise(NewBaseDomainEvent("two", at))

		drained := a.PullDomainEvents()
		require.Len(t, drained, 1)
		assert.Equal(t, "two", drained[0].EventName())
	})
}

func TestBaseDomainEvent(t *testing.T) {
	at := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)
	e := NewBaseDomainEvent("order.shipped", at)

	assert.NotEqual(t, e.EventID().String(), NewBaseDomainEvent("order.shipped", at).EventID().String())
	assert.Equal(t, "order.shipped", e.EventName())
	assert.Equal(t, at, e.OccurredAt())
}
