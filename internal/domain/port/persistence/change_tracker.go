package persistence

import (
	"context"
	"fmt"
	"reflect"

	"github.com/amirhossein-jamali/persistence-coordinator/internal/domain/entity"
	errs "github.com/amirhossein-jamali/persistence-coordinator/internal/domain/error"
)

// EntryState describes the change-tracking state of one tracked entity
type EntryState int

const (
	// StateUnchanged means the entity matches its last-known persisted values
	StateUnchanged EntryState = iota
	// StateAdded means the entity has no persisted row yet
	StateAdded
	// StateModified means the entity differs from its persisted values
	StateModified
	// StateDeleted means the entity is scheduled for removal
	StateDeleted
)

// String returns a human-readable state name
func (s EntryState) String() string {
	switch s {
	case StateUnchanged:
		return "unchanged"
	case StateAdded:
		return "added"
	case StateModified:
		return "modified"
	case StateDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// IsolationLevel selects the transaction isolation for BeginTx
type IsolationLevel string

const (
	// ReadCommitted is the isolation level the coordinator opens transactions at
	ReadCommitted IsolationLevel = "READ COMMITTED"
	// RepeatableRead isolation level
	RepeatableRead IsolationLevel = "REPEATABLE READ"
	// Serializable isolation level
	Serializable IsolationLevel = "SERIALIZABLE"
)

// FieldValues is a snapshot of an entry's column values keyed by field name
type FieldValues map[string]any

// Equal reports whether both snapshots hold the same keys with equal values
func (v FieldValues) Equal(other FieldValues) bool {
	if len(v) != len(other) {
		return false
	}
	for k, val := range v {
		otherVal, ok := other[k]
		if !ok || !reflect.DeepEqual(val, otherVal) {
			return false
		}
	}
	return true
}

// Clone returns an independent copy of the snapshot
func (v FieldValues) Clone() FieldValues {
	if v == nil {
		return nil
	}
	out := make(FieldValues, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// TrackedEntry is the change-tracking store's view of one entity instance:
// its current in-memory values, the last-known persisted values and a state
// tag. The store owns the entry; the coordinator only reads and mutates state
// and values through it.
type TrackedEntry interface {
	// Entity returns the tracked entity instance
	Entity() any
	// EntityType returns the name of the tracked entity's type
	EntityType() string
	// State returns the current change-tracking state
	State() EntryState
	// SetState rewrites the change-tracking state
	SetState(state EntryState)
	// CurrentValues returns a snapshot of the proposed in-memory values
	CurrentValues() FieldValues
	// OriginalValues returns the last-known persisted values
	OriginalValues() FieldValues
	// SetOriginalValues re-baselines the entry so the next save attempt
	// compares against the given values
	SetOriginalValues(values FieldValues)
}

// AggregateEntry is a tracked entry already narrowed to the aggregate
// capability, so the coordinator never needs runtime type inspection
type AggregateEntry interface {
	TrackedEntry
	// Root returns the aggregate capability of the tracked entity
	Root() entity.AggregateRoot
}

// TxHandle represents one open database transaction. It is owned exclusively
// by the unit of work and must be released exactly once on every terminal path.
type TxHandle interface {
	// Commit commits the transaction
	Commit(ctx context.Context) error
	// Rollback rolls back the transaction
	Rollback(ctx context.Context) error
	// Release frees the handle. Safe to call after Commit or Rollback; must
	// be called exactly once.
	Release()
}

// ChangeTracker is the change-tracking store the unit of work coordinates:
// it tracks loaded entities, diffs them against snapshot state and executes
// SQL on command.
type ChangeTracker interface {
	// Entries enumerates all tracked entries in insertion order
	Entries() []TrackedEntry
	// AggregateEntries enumerates only entries whose entity carries the
	// aggregate capability, in insertion order
	AggregateEntries() []AggregateEntry
	// SaveChanges diffs and writes all pending changes, returning the number
	// of affected rows. A stale-version write is reported as a *StaleWriteError.
	SaveChanges(ctx context.Context) (int64, error)
	// BeginTx opens a transaction at the given isolation level
	BeginTx(ctx context.Context, level IsolationLevel) (TxHandle, error)
	// StoreValues fetches the row's current database-resident values for the
	// given entry. Returns nil values with a nil error when the row no longer
	// exists.
	StoreValues(ctx context.Context, entry TrackedEntry) (FieldValues, error)
}

// StaleWriteError reports the entries whose persisted version no longer
// matches the value they were loaded with
type StaleWriteError struct {
	Entries []TrackedEntry
}

// Error implements the error interface
func (e *StaleWriteError) Error() string {
	return fmt.Sprintf("stale-version write detected on %d entries", len(e.Entries))
}

// Is reports whether the target is ErrConcurrencyConflict
func (e *StaleWriteError) Is(target error) bool {
	return target == errs.ErrConcurrencyConflict
}
