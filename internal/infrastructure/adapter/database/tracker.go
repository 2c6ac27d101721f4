package database

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/amirhossein-jamali/persistence-coordinator/internal/domain/entity"
	errs "github.com/amirhossein-jamali/persistence-coordinator/internal/domain/error"
	coreport "github.com/amirhossein-jamali/persistence-coordinator/internal/domain/port/core"
	"github.com/amirhossein-jamali/persistence-coordinator/internal/domain/port/persistence"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// naming converts Go field names to database column names the same way GORM does
var naming = schema.NamingStrategy{}

// Tracker is a GORM-backed change-tracking store. It keeps an identity map of
// tracked entities with their last-known persisted values, diffs them on
// demand and issues the corresponding SQL, guarding aggregate updates with an
// optimistic version check.
//
// A Tracker is scoped to one unit of work and is not safe for concurrent use.
type Tracker struct {
	db     *gorm.DB
	logger coreport.Logger

	entries []persistence.TrackedEntry

	// tx is the open transaction; writes go through it while it lives
	tx *gorm.DB
}

// NewTracker creates a change tracker over the given GORM connection
func NewTracker(db *gorm.DB, logger coreport.Logger) *Tracker {
	return &Tracker{
		db:     db,
		logger: logger,
	}
}

// Find loads the first row matching conds into dest and tracks it as
// unchanged. dest must be a pointer to a struct.
func (t *Tracker) Find(ctx context.Context, dest any, conds ...any) error {
	if err := t.writer().WithContext(ctx).First(dest, conds...).Error; err != nil {
		return err
	}
	t.track(dest, persistence.StateUnchanged)
	return nil
}

// Add tracks a new entity whose row does not exist yet
func (t *Tracker) Add(item any) {
	t.track(item, persistence.StateAdded)
}

// Attach tracks an entity loaded outside the tracker as unchanged
func (t *Tracker) Attach(item any) {
	t.track(item, persistence.StateUnchanged)
}

// Remove schedules the tracked entity for deletion. The unit of work rewrites
// aggregate deletions into soft deletes before the SQL is issued.
func (t *Tracker) Remove(item any) {
	for _, e := range t.entries {
		if e.Entity() == item {
			e.SetState(persistence.StateDeleted)
			return
		}
	}
	t.track(item, persistence.StateDeleted)
}

func (t *Tracker) track(item any, state persistence.EntryState) persistence.TrackedEntry {
	for _, e := range t.entries {
		if e.Entity() == item {
			return e
		}
	}

	base := &trackedEntry{
		item:  item,
		state: state,
	}
	if state != persistence.StateAdded {
		base.original = snapshotValues(item)
	}

	var tracked persistence.TrackedEntry = base
	if root, ok := item.(entity.AggregateRoot); ok {
		tracked = &aggregateEntry{trackedEntry: base, root: root}
	}
	t.entries = append(t.entries, tracked)
	return tracked
}

// Entries enumerates all tracked entries in insertion order, detecting
// value changes on unchanged entries first
func (t *Tracker) Entries() []persistence.TrackedEntry {
	t.detectChanges()
	out := make([]persistence.TrackedEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// AggregateEntries enumerates only entries carrying the aggregate capability
func (t *Tracker) AggregateEntries() []persistence.AggregateEntry {
	t.detectChanges()
	var out []persistence.AggregateEntry
	for _, e := range t.entries {
		if agg, ok := e.(persistence.AggregateEntry); ok {
			out = append(out, agg)
		}
	}
	return out
}

// detectChanges flips unchanged entries whose in-memory values drifted from
// their snapshot to the modified state
func (t *Tracker) detectChanges() {
	for _, e := range t.entries {
		if e.State() != persistence.StateUnchanged {
			continue
		}
		if !e.CurrentValues().Equal(e.OriginalValues()) {
			e.SetState(persistence.StateModified)
		}
	}
}

// SaveChanges writes all pending changes and returns the number of affected
// rows. Stale-version aggregate updates are collected and reported together
// as a *persistence.StaleWriteError; the tracked state of conflicting entries
// is left untouched so a retry can pick them up again.
func (t *Tracker) SaveChanges(ctx context.Context) (int64, error) {
	t.detectChanges()
	db := t.writer().WithContext(ctx)

	var rows int64
	var conflicts []persistence.TrackedEntry
	var survivors []persistence.TrackedEntry

	for _, e := range t.entries {
		switch e.State() {
		case persistence.StateAdded:
			res := db.Create(e.Entity())
			if res.Error != nil {
				return 0, mapDatabaseError(res.Error)
			}
			rows += res.RowsAffected
			e.SetState(persistence.StateUnchanged)
			e.SetOriginalValues(e.CurrentValues())
			survivors = append(survivors, e)

		case persistence.StateModified:
			affected, err := t.update(db, e)
			if err != nil {
				return 0, err
			}
			if affected == 0 {
				conflicts = append(conflicts, e)
				survivors = append(survivors, e)
				continue
			}
			rows += affected
			e.SetState(persistence.StateUnchanged)
			e.SetOriginalValues(e.CurrentValues())
			survivors = append(survivors, e)

		case persistence.StateDeleted:
			res := db.Delete(e.Entity())
			if res.Error != nil {
				return 0, mapDatabaseError(res.Error)
			}
			rows += res.RowsAffected
			// deleted rows leave the identity map

		default:
			survivors = append(survivors, e)
		}
	}
	t.entries = survivors

	if len(conflicts) > 0 {
		t.logger.Warn("Stale-version write detected", map[string]any{
			"conflicts": len(conflicts),
		})
		return 0, &persistence.StaleWriteError{Entries: conflicts}
	}
	return rows, nil
}

// update issues the UPDATE for one modified entry. Aggregate updates carry a
// version guard; zero affected rows means the persisted version moved.
func (t *Tracker) update(db *gorm.DB, e persistence.TrackedEntry) (int64, error) {
	updates := columnValues(e.CurrentValues())

	if _, ok := e.(persistence.AggregateEntry); ok {
		baseVersion, ok := e.OriginalValues()["Version"]
		if !ok {
			return 0, fmt.Errorf("%w: aggregate entry %s has no baseline version", errs.ErrInternalServer, e.EntityType())
		}
		res := db.Model(e.Entity()).Where("version = ?", baseVersion).Updates(updates)
		if res.Error != nil {
			return 0, mapDatabaseError(res.Error)
		}
		return res.RowsAffected, nil
	}

	res := db.Model(e.Entity()).Updates(updates)
	if res.Error != nil {
		return 0, mapDatabaseError(res.Error)
	}
	return res.RowsAffected, nil
}

// BeginTx opens a transaction at the given isolation level and returns its handle
func (t *Tracker) BeginTx(ctx context.Context, level persistence.IsolationLevel) (persistence.TxHandle, error) {
	tx := t.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("%w: failed to begin transaction: %s", errs.ErrDatabaseConnection, tx.Error.Error())
	}

	// sqlite only knows its default isolation; setting a level there is a
	// syntax error rather than a downgrade
	if level != "" && t.db.Dialector.Name() == "postgres" {
		if err := tx.Exec("SET TRANSACTION ISOLATION LEVEL " + string(level)).Error; err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("failed to set isolation level: %w", err)
		}
	}

	t.tx = tx
	return newTxHandle(tx, t.logger, func() { t.tx = nil }), nil
}

// StoreValues fetches the row's current database-resident values for the
// given entry. Returns nil values when the row no longer exists.
func (t *Tracker) StoreValues(ctx context.Context, e persistence.TrackedEntry) (persistence.FieldValues, error) {
	itemType := reflect.TypeOf(e.Entity())
	if itemType.Kind() == reflect.Ptr {
		itemType = itemType.Elem()
	}
	dest := reflect.New(itemType).Interface()

	id, ok := e.CurrentValues()["ID"]
	if !ok {
		return nil, fmt.Errorf("%w: entry %s has no primary key value", errs.ErrInternalServer, e.EntityType())
	}

	err := t.writer().WithContext(ctx).Session(&gorm.Session{NewDB: true}).First(dest, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, mapDatabaseError(err)
	}
	return snapshotValues(dest), nil
}

// writer returns the open transaction when one exists, the base connection otherwise
func (t *Tracker) writer() *gorm.DB {
	if t.tx != nil {
		return t.tx
	}
	return t.db
}

// trackedEntry is the store's view of one entity instance
type trackedEntry struct {
	item     any
	state    persistence.EntryState
	original persistence.FieldValues
}

func (e *trackedEntry) Entity() any { return e.item }

func (e *trackedEntry) EntityType() string {
	t := reflect.TypeOf(e.item)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

func (e *trackedEntry) State() persistence.EntryState { return e.state }

func (e *trackedEntry) SetState(state persistence.EntryState) { e.state = state }

func (e *trackedEntry) CurrentValues() persistence.FieldValues {
	return snapshotValues(e.item)
}

func (e *trackedEntry) OriginalValues() persistence.FieldValues { return e.original }

func (e *trackedEntry) SetOriginalValues(values persistence.FieldValues) {
	e.original = values
}

// aggregateEntry narrows a tracked entry to the aggregate capability
type aggregateEntry struct {
	*trackedEntry
	root entity.AggregateRoot
}

func (e *aggregateEntry) Root() entity.AggregateRoot { return e.root }

// snapshotValues captures the exported fields of a struct, flattening
// embedded structs such as the aggregate base, keyed by field name
func snapshotValues(item any) persistence.FieldValues {
	values := persistence.FieldValues{}
	collectValues(reflect.ValueOf(item), values)
	return values
}

func collectValues(v reflect.Value, out persistence.FieldValues) {
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return
	}

	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.PkgPath != "" {
			continue // unexported
		}
		if field.Tag.Get("gorm") == "-" {
			continue
		}
		if field.Anonymous {
			collectValues(v.Field(i), out)
			continue
		}
		out[field.Name] = v.Field(i).Interface()
	}
}

// columnValues maps a field-name snapshot to column-name update values,
// leaving the primary key out
func columnValues(values persistence.FieldValues) map[string]any {
	updates := make(map[string]any, len(values))
	for field, value := range values {
		if field == "ID" {
			continue
		}
		updates[naming.ColumnName("", field)] = value
	}
	return updates
}
