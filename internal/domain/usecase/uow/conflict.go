package uow

import (
	"context"

	errs "github.com/amirhossein-jamali/persistence-coordinator/internal/domain/error"
	"github.com/amirhossein-jamali/persistence-coordinator/internal/domain/port/persistence"
)

// versionField is the field name of the optimistic concurrency version in an
// entry's value snapshots
const versionField = "Version"

// resolveConflicts reconciles each stale-version entry so a single retry can
// succeed against current database truth.
//
// Merge policy for aggregates whose proposed values genuinely differ from the
// database row: last-writer-wins. The entry is re-baselined to the database
// values and the proposed values are retried as-is, with the aggregate
// version recomputed from the refreshed database version.
func (c *Coordinator) resolveConflicts(ctx context.Context, entries []persistence.TrackedEntry) error {
	for _, entry := range entries {
		dbValues, err := c.store.StoreValues(ctx, entry)
		if err != nil {
			return err
		}
		if dbValues == nil {
			// the row was deleted concurrently; re-resolving against a
			// vanished row is not attempted here
			c.logger.Warn("Conflicting row no longer exists", map[string]any{
				"entity_type": entry.EntityType(),
			})
			return errs.NewRowVanishedError(entry.EntityType())
		}

		proposed := entry.CurrentValues()
		entry.SetOriginalValues(dbValues.Clone())

		if proposed.Equal(dbValues) {
			// the stale read was environmental; nothing to merge
			c.logger.Debug("Proposed values match database values, no real conflict", map[string]any{
				"entity_type": entry.EntityType(),
			})
			continue
		}

		aggregate, ok := entry.(persistence.AggregateEntry)
		if !ok {
			// only aggregates are expected to ever hit a concurrency conflict
			return errs.NewNotSupportedError(entry.EntityType())
		}

		if dbVersion, ok := dbValues[versionField].(int64); ok {
			aggregate.Root().SetAggregateVersion(dbVersion + 1)
		}
		c.logger.Info("Resolved concurrency conflict with last-writer-wins", map[string]any{
			"entity_type": entry.EntityType(),
		})
	}
	return nil
}
