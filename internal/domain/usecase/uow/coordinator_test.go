package uow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/amirhossein-jamali/persistence-coordinator/internal/domain/error"
	"github.com/amirhossein-jamali/persistence-coordinator/internal/domain/port/persistence"
)

var testTime = time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)

func TestNewCoordinator(t *testing.T) {
	t.Run("Valid construction", func(t *testing.T) {
		c := newTestCoordinator(&fakeTracker{}, nil, testTime)
		assert.NotNil(t, c)
		assert.False(t, c.InTransaction())
	})

	t.Run("Nil store should panic", func(t *testing.T) {
		assert.Panics(t, func() {
			NewCoordinator(nil, nil, &fixedClock{now: testTime}, testLogger{})
		})
	})

	t.Run("Nil time provider should panic", func(t *testing.T) {
		assert.Panics(t, func() {
			NewCoordinator(&fakeTracker{}, nil, nil, testLogger{})
		})
	})
}

func TestBeginTransaction(t *testing.T) {
	t.Run("Opens transaction at read committed", func(t *testing.T) {
		tracker := &fakeTracker{}
		c := newTestCoordinator(tracker, nil, testTime)

		err := c.BeginTransaction(context.Background())

		require.NoError(t, err)
		assert.True(t, c.InTransaction())
		assert.Equal(t, persistence.ReadCommitted, tracker.lastISO)
	})

	t.Run("Begin while open is a no-op", func(t *testing.T) {
		tracker := &fakeTracker{}
		c := newTestCoordinator(tracker, nil, testTime)

		require.NoError(t, c.BeginTransaction(context.Background()))
		first := tracker.lastTx

		require.NoError(t, c.BeginTransaction(context.Background()))
		assert.Same(t, first, tracker.lastTx)
	})

	t.Run("Begin failure propagates and leaves no transaction", func(t *testing.T) {
		beginErr := errors.New("connection refused")
		tracker := &fakeTracker{beginErr: beginErr}
		c := newTestCoordinator(tracker, nil, testTime)

		err := c.BeginTransaction(context.Background())

		assert.Equal(t, beginErr, err)
		assert.False(t, c.InTransaction())
	})
}

func TestCommitTransaction(t *testing.T) {
	t.Run("Commit with no open transaction is a no-op", func(t *testing.T) {
		c := newTestCoordinator(&fakeTracker{}, nil, testTime)
		assert.NoError(t, c.CommitTransaction(context.Background()))
	})

	t.Run("Successful commit saves then commits and releases once", func(t *testing.T) {
		tracker := &fakeTracker{saveResults: []saveResult{{rows: 1}}}
		c := newTestCoordinator(tracker, nil, testTime)
		require.NoError(t, c.BeginTransaction(context.Background()))
		tx := tracker.lastTx

		err := c.CommitTransaction(context.Background())

		require.NoError(t, err)
		assert.Equal(t, 1, tracker.saveCalls)
		assert.Equal(t, 1, tx.commits)
		assert.Equal(t, 0, tx.rollbacks)
		assert.Equal(t, 1, tx.releases)
		assert.False(t, c.InTransaction())
	})

	t.Run("Failing save rolls back and re-throws the original error", func(t *testing.T) {
		saveErr := errors.New("unique constraint violated")
		tracker := &fakeTracker{saveResults: []saveResult{{err: saveErr}}}
		c := newTestCoordinator(tracker, nil, testTime)
		require.NoError(t, c.BeginTransaction(context.Background()))
		tx := tracker.lastTx

		err := c.CommitTransaction(context.Background())

		assert.Equal(t, saveErr, err)
		assert.Equal(t, 0, tx.commits)
		assert.Equal(t, 1, tx.rollbacks)
		assert.Equal(t, 1, tx.releases)
		assert.False(t, c.InTransaction())
	})

	t.Run("Failing commit rolls back and returns the commit error unchanged", func(t *testing.T) {
		tracker := &fakeTracker{saveResults: []saveResult{{rows: 1}}}
		c := newTestCoordinator(tracker, nil, testTime)
		require.NoError(t, c.BeginTransaction(context.Background()))
		tx := tracker.lastTx
		commitErr := errors.New("commit failed")
		tx.commitErr = commitErr

		err := c.CommitTransaction(context.Background())

		assert.Equal(t, commitErr, err)
		assert.Equal(t, 1, tx.rollbacks)
		assert.Equal(t, 1, tx.releases)
		assert.False(t, c.InTransaction())
	})

	t.Run("Handle is released even when rollback after failure fails too", func(t *testing.T) {
		saveErr := errors.New("save exploded")
		tracker := &fakeTracker{saveResults: []saveResult{{err: saveErr}}}
		c := newTestCoordinator(tracker, nil, testTime)
		require.NoError(t, c.BeginTransaction(context.Background()))
		tx := tracker.lastTx
		tx.rollbackErr = errors.New("rollback also failed")

		err := c.CommitTransaction(context.Background())

		assert.Equal(t, saveErr, err)
		assert.Equal(t, 1, tx.releases)
		assert.False(t, c.InTransaction())
	})
}

func TestRollbackTransaction(t *testing.T) {
	t.Run("Rollback with no open transaction is a no-op", func(t *testing.T) {
		c := newTestCoordinator(&fakeTracker{}, nil, testTime)
		assert.NoError(t, c.RollbackTransaction(context.Background()))
	})

	t.Run("Rollback releases and clears the handle", func(t *testing.T) {
		tracker := &fakeTracker{}
		c := newTestCoordinator(tracker, nil, testTime)
		require.NoError(t, c.BeginTransaction(context.Background()))
		tx := tracker.lastTx

		require.NoError(t, c.RollbackTransaction(context.Background()))

		assert.Equal(t, 1, tx.rollbacks)
		assert.Equal(t, 1, tx.releases)
		assert.False(t, c.InTransaction())
	})

	t.Run("Handle is cleared even when rollback fails", func(t *testing.T) {
		tracker := &fakeTracker{}
		c := newTestCoordinator(tracker, nil, testTime)
		require.NoError(t, c.BeginTransaction(context.Background()))
		tx := tracker.lastTx
		rbErr := errors.New("rollback failed")
		tx.rollbackErr = rbErr

		err := c.RollbackTransaction(context.Background())

		assert.Equal(t, rbErr, err)
		assert.Equal(t, 1, tx.releases)
		assert.False(t, c.InTransaction())
	})
}

func TestSaveChangesConflictResolution(t *testing.T) {
	ctx := context.Background()

	t.Run("Equal values after refresh resolve silently and retry succeeds", func(t *testing.T) {
		o := &order{ID: 7, Name: "first"}
		o.Version = 2
		entry := newOrderEntry(o, persistence.StateModified)

		// the database row already holds exactly what this save will produce
		dbValues := orderValues(o)
		dbValues["Version"] = int64(3)
		dbValues["LastModifiedAt"] = testTime
		dbValues["LastModifiedBy"] = ""

		tracker := &fakeTracker{
			entries: []persistence.TrackedEntry{entry},
			saveResults: []saveResult{
				{err: &persistence.StaleWriteError{Entries: []persistence.TrackedEntry{entry}}},
				{rows: 1},
			},
			dbValues: map[persistence.TrackedEntry]persistence.FieldValues{entry: dbValues},
		}
		c := newTestCoordinator(tracker, nil, testTime)

		rows, err := c.SaveChanges(ctx)

		require.NoError(t, err)
		assert.Equal(t, int64(1), rows)
		assert.Equal(t, 2, tracker.saveCalls)
		// originals were re-baselined to database truth
		assert.True(t, entry.OriginalValues().Equal(dbValues))
	})

	t.Run("Differing values on an aggregate use last-writer-wins", func(t *testing.T) {
		o := &order{ID: 7, Name: "mine"}
		o.Version = 1
		entry := newOrderEntry(o, persistence.StateModified)

		dbValues := persistence.FieldValues{
			"ID":             uint64(7),
			"Name":           "theirs",
			"CreatedAt":      time.Time{},
			"CreatedBy":      "",
			"LastModifiedAt": testTime.Add(-time.Minute),
			"LastModifiedBy": "other-user",
			"Version":        int64(5),
			"IsDeleted":      false,
		}

		tracker := &fakeTracker{
			entries: []persistence.TrackedEntry{entry},
			saveResults: []saveResult{
				{err: &persistence.StaleWriteError{Entries: []persistence.TrackedEntry{entry}}},
				{rows: 1},
			},
			dbValues: map[persistence.TrackedEntry]persistence.FieldValues{entry: dbValues},
		}
		c := newTestCoordinator(tracker, nil, testTime)

		rows, err := c.SaveChanges(ctx)

		require.NoError(t, err)
		assert.Equal(t, int64(1), rows)
		// version recomputed from refreshed database truth
		assert.Equal(t, int64(6), o.Version)
		// proposed values won; the in-memory name survives
		assert.Equal(t, "mine", o.Name)
		assert.True(t, entry.OriginalValues().Equal(dbValues))
	})

	t.Run("Vanished row surfaces a not-found conflict", func(t *testing.T) {
		o := &order{ID: 9, Name: "gone"}
		entry := newOrderEntry(o, persistence.StateModified)

		tracker := &fakeTracker{
			entries: []persistence.TrackedEntry{entry},
			saveResults: []saveResult{
				{err: &persistence.StaleWriteError{Entries: []persistence.TrackedEntry{entry}}},
			},
			dbValues: map[persistence.TrackedEntry]persistence.FieldValues{},
		}
		c := newTestCoordinator(tracker, nil, testTime)

		_, err := c.SaveChanges(ctx)

		require.Error(t, err)
		assert.True(t, errs.IsRowVanished(err))
		// no retry after an unresolved conflict
		assert.Equal(t, 1, tracker.saveCalls)
	})

	t.Run("Differing values on a non-aggregate fail with not-supported", func(t *testing.T) {
		item := &nonAggregate{ID: 3, Note: "mine"}
		entry := &fakeEntry{
			item:     item,
			typeName: "nonAggregate",
			state:    persistence.StateModified,
			current: func() persistence.FieldValues {
				return persistence.FieldValues{"ID": item.ID, "Note": item.Note}
			},
		}

		tracker := &fakeTracker{
			entries: []persistence.TrackedEntry{entry},
			saveResults: []saveResult{
				{err: &persistence.StaleWriteError{Entries: []persistence.TrackedEntry{entry}}},
			},
			dbValues: map[persistence.TrackedEntry]persistence.FieldValues{
				entry: {"ID": uint64(3), "Note": "theirs"},
			},
		}
		c := newTestCoordinator(tracker, nil, testTime)

		_, err := c.SaveChanges(ctx)

		require.Error(t, err)
		assert.True(t, errs.IsNotSupported(err))
		var notSupported *errs.NotSupportedError
		require.ErrorAs(t, err, &notSupported)
		assert.Equal(t, "nonAggregate", notSupported.EntityType)
	})

	t.Run("A second conflict on retry propagates raw", func(t *testing.T) {
		o := &order{ID: 4, Name: "contested"}
		entry := newOrderEntry(o, persistence.StateModified)

		secondConflict := &persistence.StaleWriteError{Entries: []persistence.TrackedEntry{entry}}
		tracker := &fakeTracker{
			entries: []persistence.TrackedEntry{entry},
			saveResults: []saveResult{
				{err: &persistence.StaleWriteError{Entries: []persistence.TrackedEntry{entry}}},
				{err: secondConflict},
			},
			dbValues: map[persistence.TrackedEntry]persistence.FieldValues{
				entry: {
					"ID":             uint64(4),
					"Name":           "other",
					"CreatedAt":      time.Time{},
					"CreatedBy":      "",
					"LastModifiedAt": time.Time{},
					"LastModifiedBy": "",
					"Version":        int64(2),
					"IsDeleted":      false,
				},
			},
		}
		c := newTestCoordinator(tracker, nil, testTime)

		_, err := c.SaveChanges(ctx)

		assert.Equal(t, error(secondConflict), err)
		assert.Equal(t, 2, tracker.saveCalls)
	})

	t.Run("Non-conflict save errors propagate without retry", func(t *testing.T) {
		saveErr := errors.New("disk full")
		tracker := &fakeTracker{saveResults: []saveResult{{err: saveErr}}}
		c := newTestCoordinator(tracker, nil, testTime)

		_, err := c.SaveChanges(ctx)

		assert.Equal(t, saveErr, err)
		assert.Equal(t, 1, tracker.saveCalls)
	})
}

func TestGetDomainEvents(t *testing.T) {
	t.Run("Events drain in per-entity insertion order", func(t *testing.T) {
		first := &order{ID: 1, Name: "a"}
		second := &order{ID: 2, Name: "b"}
		e1 := newTestEvent("order.created", testTime)
		e2 := newTestEvent("order.renamed", testTime.Add(time.Second))
		e3 := newTestEvent("order.created", testTime)
		first.Raise(e1)
		first.Raise(e2)
		second.Raise(e3)

		tracker := &fakeTracker{entries: []persistence.TrackedEntry{
			newOrderEntry(first, persistence.StateModified),
			newOrderEntry(second, persistence.StateAdded),
		}}
		c := newTestCoordinator(tracker, nil, testTime)

		events := c.GetDomainEvents()

		require.Len(t, events, 3)
		assert.Equal(t, e1.EventID(), events[0].EventID())
		assert.Equal(t, e2.EventID(), events[1].EventID())
		assert.Equal(t, e3.EventID(), events[2].EventID())
	})

	t.Run("Second harvest returns nothing", func(t *testing.T) {
		o := &order{ID: 1}
		o.Raise(newTestEvent("order.created", testTime))

		tracker := &fakeTracker{entries: []persistence.TrackedEntry{
			newOrderEntry(o, persistence.StateAdded),
		}}
		c := newTestCoordinator(tracker, nil, testTime)

		require.Len(t, c.GetDomainEvents(), 1)
		assert.Empty(t, c.GetDomainEvents())
	})
}

// End-to-end flow over the fake store: create, begin, modify, commit, harvest
func TestUnitOfWorkFlow(t *testing.T) {
	o := &order{ID: 42, Name: "initial"}
	entry := newOrderEntry(o, persistence.StateModified)
	tracker := &fakeTracker{
		entries:     []persistence.TrackedEntry{entry},
		saveResults: []saveResult{{rows: 1}},
	}
	users := &staticUserProvider{id: "user-13", ok: true}
	c := newTestCoordinator(tracker, users, testTime)
	ctx := context.Background()

	require.NoError(t, c.BeginTransaction(ctx))

	o.Name = "renamed"
	o.Raise(newTestEvent("order.renamed", testTime))

	require.NoError(t, c.CommitTransaction(ctx))

	assert.Equal(t, int64(1), o.Version)
	assert.Equal(t, "user-13", o.LastModifiedBy)
	require.NotNil(t, o.LastModifiedAt)
	assert.Equal(t, testTime, *o.LastModifiedAt)
	assert.False(t, c.InTransaction())

	events := c.GetDomainEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "order.renamed", events[0].EventName())
	assert.Empty(t, c.GetDomainEvents())
}
