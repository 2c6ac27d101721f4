package uow

import (
	"context"
	"errors"

	"github.com/amirhossein-jamali/persistence-coordinator/internal/domain/entity"
	coreport "github.com/amirhossein-jamali/persistence-coordinator/internal/domain/port/core"
	"github.com/amirhossein-jamali/persistence-coordinator/internal/domain/port/persistence"
)

// Coordinator is the unit-of-work persistence coordinator. It owns at most
// one open transaction over the change-tracking store, stamps audit and
// version metadata before every save, reconciles stale-version writes and
// harvests domain events after a successful commit.
//
// A Coordinator is scoped to one logical unit of work and is not safe for
// concurrent use.
type Coordinator struct {
	store        persistence.ChangeTracker
	users        coreport.CurrentUserProvider
	timeProvider coreport.TimeProvider
	logger       coreport.Logger

	// tx is the single open transaction handle; nil when no transaction is active
	tx persistence.TxHandle
}

// NewCoordinator creates a unit-of-work coordinator over the given store.
// users may be nil; audit fields are then stamped with an absent user id.
func NewCoordinator(
	store persistence.ChangeTracker,
	users coreport.CurrentUserProvider,
	timeProvider coreport.TimeProvider,
	logger coreport.Logger,
) *Coordinator {
	if store == nil {
		panic("change tracker cannot be nil")
	}
	if timeProvider == nil {
		panic("time provider cannot be nil")
	}
	return &Coordinator{
		store:        store,
		users:        users,
		timeProvider: timeProvider,
		logger:       logger,
	}
}

// InTransaction reports whether a transaction is currently open
func (c *Coordinator) InTransaction() bool {
	return c.tx != nil
}

// BeginTransaction opens a new transaction at read-committed isolation.
// Calling it while a transaction is already open is a no-op.
func (c *Coordinator) BeginTransaction(ctx context.Context) error {
	if c.tx != nil {
		c.logger.Debug("Transaction already open, begin is a no-op", nil)
		return nil
	}

	tx, err := c.store.BeginTx(ctx, persistence.ReadCommitted)
	if err != nil {
		c.logger.Error("Failed to begin transaction", map[string]any{
			"error": err.Error(),
		})
		return err
	}

	c.logger.Debug("Transaction opened", map[string]any{
		"isolation": string(persistence.ReadCommitted),
	})
	c.tx = tx
	return nil
}

// SaveChanges stamps audit metadata on every tracked aggregate, then delegates
// to the store's persistence routine. When the store reports a stale-version
// write the conflict is reconciled and the save retried exactly once; a second
// conflict propagates unchanged.
func (c *Coordinator) SaveChanges(ctx context.Context) (int64, error) {
	userID := c.resolveUser(ctx)
	now := c.timeProvider.Now()

	c.stampAuditFields(userID, now)

	rows, err := c.store.SaveChanges(ctx)
	if err == nil {
		return rows, nil
	}

	var stale *persistence.StaleWriteError
	if !errors.As(err, &stale) {
		return 0, err
	}

	c.logger.Warn("Stale-version write detected, reconciling", map[string]any{
		"entries": len(stale.Entries),
	})

	if resolveErr := c.resolveConflicts(ctx, stale.Entries); resolveErr != nil {
		return 0, resolveErr
	}

	// single retry against re-baselined originals; no bounded retry loop
	return c.store.SaveChanges(ctx)
}

// CommitTransaction runs the full save pipeline and commits the open
// transaction. On any failure rollback is attempted and the original error is
// returned unchanged. The handle is released on every path; calling commit
// with no open transaction is a safe no-op.
func (c *Coordinator) CommitTransaction(ctx context.Context) error {
	if c.tx == nil {
		c.logger.Debug("Commit requested with no open transaction", nil)
		return nil
	}

	tx := c.tx
	defer func() {
		tx.Release()
		c.tx = nil
	}()

	if _, err := c.SaveChanges(ctx); err != nil {
		c.logger.Error("Save failed, rolling back transaction", map[string]any{
			"error": err.Error(),
		})
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			c.logger.Error("Rollback after failed save also failed", map[string]any{
				"error": rbErr.Error(),
			})
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		c.logger.Error("Commit failed, rolling back transaction", map[string]any{
			"error": err.Error(),
		})
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			c.logger.Error("Rollback after failed commit also failed", map[string]any{
				"error": rbErr.Error(),
			})
		}
		return err
	}

	c.logger.Debug("Transaction committed", nil)
	return nil
}

// RollbackTransaction rolls back the open transaction if one exists. The
// handle is released even if rollback itself fails; calling rollback with no
// open transaction is a safe no-op.
func (c *Coordinator) RollbackTransaction(ctx context.Context) error {
	if c.tx == nil {
		c.logger.Debug("Rollback requested with no open transaction", nil)
		return nil
	}

	tx := c.tx
	defer func() {
		tx.Release()
		c.tx = nil
	}()

	if err := tx.Rollback(ctx); err != nil {
		c.logger.Error("Failed to rollback transaction", map[string]any{
			"error": err.Error(),
		})
		return err
	}

	c.logger.Debug("Transaction rolled back", nil)
	return nil
}

// GetDomainEvents drains the pending events of every tracked aggregate,
// preserving per-entity insertion order; cross-entity ordering follows the
// store's enumeration order. The returned slice is a snapshot and a second
// call returns nothing until new events are raised. Callers must harvest
// after a successful commit, otherwise events of a rolled-back transaction
// could leak out.
func (c *Coordinator) GetDomainEvents() []entity.DomainEvent {
	var events []entity.DomainEvent
	for _, entry := range c.store.AggregateEntries() {
		root := entry.Root()
		if !root.HasDomainEvents() {
			continue
		}
		events = append(events, root.PullDomainEvents()...)
	}

	if len(events) > 0 {
		c.logger.Debug("Harvested domain events", map[string]any{
			"count": len(events),
		})
	}
	return events
}

// resolveUser returns the acting user id, or the empty string when no
// provider is wired or the provider cannot resolve one
func (c *Coordinator) resolveUser(ctx context.Context) string {
	if c.users == nil {
		return ""
	}
	userID, ok := c.users.CurrentUserID(ctx)
	if !ok {
		return ""
	}
	return userID
}
