package database

import (
	"fmt"
	"strings"

	errs "github.com/amirhossein-jamali/persistence-coordinator/internal/domain/error"
)

// mapDatabaseError classifies infrastructure failures under the domain error
// taxonomy. Conflict detection does not go through here; stale-version writes
// are recognized by their affected-row count, not by driver errors.
func mapDatabaseError(err error) error {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no connection") ||
		strings.Contains(msg, "connection reset"):
		return fmt.Errorf("%w: %s", errs.ErrDatabaseConnection, err.Error())

	case strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "deadline exceeded"):
		return fmt.Errorf("%w: operation timed out: %s", errs.ErrDatabaseConnection, err.Error())

	default:
		return err
	}
}
