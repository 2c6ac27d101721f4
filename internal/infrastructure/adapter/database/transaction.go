package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	coreport "github.com/amirhossein-jamali/persistence-coordinator/internal/domain/port/core"
	"github.com/amirhossein-jamali/persistence-coordinator/internal/domain/port/persistence"
	"gorm.io/gorm"
)

// txHandle wraps one open GORM transaction. It is owned by the unit of work
// and released exactly once on every terminal path.
type txHandle struct {
	tx        *gorm.DB
	logger    coreport.Logger
	onRelease func()
}

func newTxHandle(tx *gorm.DB, logger coreport.Logger, onRelease func()) persistence.TxHandle {
	return &txHandle{
		tx:        tx,
		logger:    logger,
		onRelease: onRelease,
	}
}

// Commit commits the transaction
func (h *txHandle) Commit(ctx context.Context) error {
	h.logger.Debug("Committing database transaction", nil)
	if err := h.tx.WithContext(ctx).Commit().Error; err != nil {
		h.logger.Error("Failed to commit transaction", map[string]any{
			"error": err.Error(),
		})
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Rollback rolls back the transaction. Rolling back a transaction that was
// already finished is reported as success, matching the guaranteed-cleanup
// discipline of the unit of work.
func (h *txHandle) Rollback(ctx context.Context) error {
	h.logger.Debug("Rolling back database transaction", nil)

	err := h.tx.WithContext(ctx).Rollback().Error
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrTxDone) ||
		strings.Contains(err.Error(), "already been committed or rolled back") {
		h.logger.Warn("Transaction was already finished", map[string]any{
			"error": err.Error(),
		})
		return nil
	}

	h.logger.Error("Failed to rollback transaction", map[string]any{
		"error": err.Error(),
	})
	return fmt.Errorf("failed to rollback transaction: %w", err)
}

// Release frees the handle. Safe against repeated calls; only the first one
// detaches the transaction from its tracker.
func (h *txHandle) Release() {
	if h.onRelease != nil {
		h.onRelease()
		h.onRelease = nil
	}
}
