package uow

import (
	"time"

	"github.com/amirhossein-jamali/persistence-coordinator/internal/domain/port/persistence"
)

// stampAuditFields runs once per save attempt, before delegating to the
// store's persistence routine. Entities without the aggregate capability are
// never enumerated here and stay untouched.
func (c *Coordinator) stampAuditFields(userID string, now time.Time) {
	for _, entry := range c.store.AggregateEntries() {
		root := entry.Root()

		switch entry.State() {
		case persistence.StateAdded:
			root.AuditCreated(userID, now)

		case persistence.StateModified:
			root.AuditModified(userID, now)

		case persistence.StateDeleted:
			// soft-delete policy: rewrite the physical delete into an update
			// that flags the row instead of removing it
			entry.SetState(persistence.StateModified)
			root.MarkDeleted(userID, now)
		}
	}
}
