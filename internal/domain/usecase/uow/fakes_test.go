package uow

import (
	"context"
	"time"

	"github.com/amirhossein-jamali/persistence-coordinator/internal/domain/entity"
	coreport "github.com/amirhossein-jamali/persistence-coordinator/internal/domain/port/core"
	"github.com/amirhossein-jamali/persistence-coordinator/internal/domain/port/persistence"
)

// order is a minimal aggregate used across the coordinator tests
type order struct {
	entity.Aggregate
	ID   uint64
	Name string
}

func orderValues(o *order) persistence.FieldValues {
	values := persistence.FieldValues{
		"ID":             o.ID,
		"Name":           o.Name,
		"CreatedAt":      o.CreatedAt,
		"CreatedBy":      o.CreatedBy,
		"LastModifiedBy": o.LastModifiedBy,
		"Version":        o.Version,
		"IsDeleted":      o.IsDeleted,
	}
	if o.LastModifiedAt != nil {
		values["LastModifiedAt"] = *o.LastModifiedAt
	} else {
		values["LastModifiedAt"] = time.Time{}
	}
	return values
}

// nonAggregate is a tracked entity without the aggregate capability
type nonAggregate struct {
	ID   uint64
	Note string
}

// fakeEntry implements persistence.TrackedEntry for plain entities
type fakeEntry struct {
	item     any
	typeName string
	state    persistence.EntryState
	current  func() persistence.FieldValues
	original persistence.FieldValues
}

func (e *fakeEntry) Entity() any                       { return e.item }
func (e *fakeEntry) EntityType() string                { return e.typeName }
func (e *fakeEntry) State() persistence.EntryState     { return e.state }
func (e *fakeEntry) SetState(s persistence.EntryState) { e.state = s }
func (e *fakeEntry) CurrentValues() persistence.FieldValues {
	if e.current != nil {
		return e.current()
	}
	return nil
}
func (e *fakeEntry) OriginalValues() persistence.FieldValues { return e.original }
func (e *fakeEntry) SetOriginalValues(values persistence.FieldValues) {
	e.original = values
}

// fakeAggregateEntry narrows a fakeEntry to the aggregate capability
type fakeAggregateEntry struct {
	fakeEntry
	root entity.AggregateRoot
}

func (e *fakeAggregateEntry) Root() entity.AggregateRoot { return e.root }

func newOrderEntry(o *order, state persistence.EntryState) *fakeAggregateEntry {
	return &fakeAggregateEntry{
		fakeEntry: fakeEntry{
			item:     o,
			typeName: "order",
			state:    state,
			current:  func() persistence.FieldValues { return orderValues(o) },
			original: orderValues(o),
		},
		root: o,
	}
}

// saveResult scripts one SaveChanges response of the fake tracker
type saveResult struct {
	rows int64
	err  error
}

// fakeTracker implements persistence.ChangeTracker in memory
type fakeTracker struct {
	entries []persistence.TrackedEntry

	saveResults []saveResult
	saveCalls   int

	beginErr error
	lastTx   *fakeTx
	lastISO  persistence.IsolationLevel

	// dbValues scripts StoreValues per entry; a missing key means the row vanished
	dbValues       map[persistence.TrackedEntry]persistence.FieldValues
	storeValuesErr error
}

func (f *fakeTracker) Entries() []persistence.TrackedEntry { return f.entries }

func (f *fakeTracker) AggregateEntries() []persistence.AggregateEntry {
	var out []persistence.AggregateEntry
	for _, e := range f.entries {
		if agg, ok := e.(persistence.AggregateEntry); ok {
			out = append(out, agg)
		}
	}
	return out
}

func (f *fakeTracker) SaveChanges(ctx context.Context) (int64, error) {
	idx := f.saveCalls
	f.saveCalls++
	if idx < len(f.saveResults) {
		return f.saveResults[idx].rows, f.saveResults[idx].err
	}
	return 0, nil
}

func (f *fakeTracker) BeginTx(ctx context.Context, level persistence.IsolationLevel) (persistence.TxHandle, error) {
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	f.lastISO = level
	f.lastTx = &fakeTx{}
	return f.lastTx, nil
}

func (f *fakeTracker) StoreValues(ctx context.Context, entry persistence.TrackedEntry) (persistence.FieldValues, error) {
	if f.storeValuesErr != nil {
		return nil, f.storeValuesErr
	}
	values, ok := f.dbValues[entry]
	if !ok {
		return nil, nil
	}
	return values, nil
}

// fakeTx records the terminal calls made on a transaction handle
type fakeTx struct {
	commits   int
	rollbacks int
	releases  int

	commitErr   error
	rollbackErr error
}

func (t *fakeTx) Commit(ctx context.Context) error {
	t.commits++
	return t.commitErr
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	t.rollbacks++
	return t.rollbackErr
}

func (t *fakeTx) Release() { t.releases++ }

// fixedClock is a TimeProvider pinned to one instant
type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time { return c.now }

func (c *fixedClock) Since(t time.Time) coreport.Duration {
	return coreport.Duration(c.now.Sub(t))
}

func (c *fixedClock) WithTimeout(ctx context.Context, timeout coreport.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, timeout.Std())
}

// staticUserProvider resolves a constant user id
type staticUserProvider struct {
	id string
	ok bool
}

func (p *staticUserProvider) CurrentUserID(ctx context.Context) (string, bool) {
	return p.id, p.ok
}

// testLogger discards everything
type testLogger struct{}

func (testLogger) SetLevel(level coreport.LogLevel)          {}
func (testLogger) Debug(message string, fields map[string]any) {}
func (testLogger) Info(message string, fields map[string]any)  {}
func (testLogger) Warn(message string, fields map[string]any)  {}
func (testLogger) Error(message string, fields map[string]any) {}
func (testLogger) Flush() error                                { return nil }

func newTestEvent(name string, at time.Time) entity.BaseDomainEvent {
	return entity.NewBaseDomainEvent(name, at)
}

func newTestCoordinator(tracker *fakeTracker, users coreport.CurrentUserProvider, now time.Time) *Coordinator {
	return NewCoordinator(tracker, users, &fixedClock{now: now}, testLogger{})
}
