package error

import (
	"errors"
	"fmt"
)

// Error codes for standardized classification of persistence failures
const (
	// 4xxx - Conflicts surfaced to the caller
	CodeConcurrencyConflict = 4090
	CodeRowVanished         = 4091
	CodeNotSupported        = 4220

	// 5xxx - Infrastructure errors
	CodeDatabaseConnection = 5030
	CodeInternalServer     = 5000
)

// Base error types
var (
	// ErrConcurrencyConflict is returned when a save hits a stale-version row:
	// the persisted version no longer matches the value the entry was loaded with
	ErrConcurrencyConflict = errors.New("optimistic concurrency conflict")

	// ErrNotSupported is returned when a non-aggregate entity hits a real
	// (value-differing) concurrency conflict; only aggregates are reconciled
	ErrNotSupported = errors.New("concurrency conflict resolution not supported for entity")

	// ErrRowVanished is returned when the conflicting row no longer exists in
	// storage, so there is nothing to re-baseline against
	ErrRowVanished = errors.New("conflicting row no longer exists")

	// ErrNoTransaction is returned when an operation requires an open
	// transaction and none is active
	ErrNoTransaction = errors.New("no open transaction")

	// ErrDatabaseConnection is returned when there's a problem talking to the database
	ErrDatabaseConnection = errors.New("database connection error")

	// ErrInternalServer is returned for unexpected failures
	ErrInternalServer = errors.New("internal error")
)

// ErrorCode returns standardized error codes for known errors
func ErrorCode(err error) int {
	switch {
	case errors.Is(err, ErrRowVanished):
		return CodeRowVanished
	case errors.Is(err, ErrConcurrencyConflict):
		return CodeConcurrencyConflict
	case errors.Is(err, ErrNotSupported):
		return CodeNotSupported
	case errors.Is(err, ErrDatabaseConnection):
		return CodeDatabaseConnection
	default:
		return CodeInternalServer
	}
}

// ConcurrencyError carries the details of a stale-version write detected
// during a save attempt
type ConcurrencyError struct {
	EntityType string
	Version    int64
}

// Error implements the error interface
func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("concurrency conflict on %s at version %d", e.EntityType, e.Version)
}

// Is reports whether the target is ErrConcurrencyConflict
func (e *ConcurrencyError) Is(target error) bool {
	return target == ErrConcurrencyConflict
}

// LogFields returns a map of fields for structured logging
func (e *ConcurrencyError) LogFields() map[string]any {
	return map[string]any{
		"error_type":  "concurrency_conflict",
		"entity_type": e.EntityType,
		"version":     e.Version,
		"error_code":  CodeConcurrencyConflict,
	}
}

// NewConcurrencyError creates a concurrency conflict error for one entity
func NewConcurrencyError(entityType string, version int64) error {
	return &ConcurrencyError{EntityType: entityType, Version: version}
}

// NotSupportedError names the entity type that hit an unresolvable conflict
type NotSupportedError struct {
	EntityType string
}

// Error implements the error interface
func (e *NotSupportedError) Error() string {
	return fmt.Sprintf("concurrency conflict on %s cannot be resolved: entity is not an aggregate", e.EntityType)
}

// Is reports whether the target is ErrNotSupported
func (e *NotSupportedError) Is(target error) bool {
	return target == ErrNotSupported
}

// LogFields returns a map of fields for structured logging
func (e *NotSupportedError) LogFields() map[string]any {
	return map[string]any{
		"error_type":  "not_supported",
		"entity_type": e.EntityType,
		"error_code":  CodeNotSupported,
	}
}

// NewNotSupportedError creates a not-supported error naming the entity type
func NewNotSupportedError(entityType string) error {
	return &NotSupportedError{EntityType: entityType}
}

// RowVanishedError is raised when the row behind a conflicting entry was
// deleted concurrently
type RowVanishedError struct {
	EntityType string
}

// Error implements the error interface
func (e *RowVanishedError) Error() string {
	return fmt.Sprintf("row for %s was deleted concurrently", e.EntityType)
}

// Is reports whether the target is ErrRowVanished
func (e *RowVanishedError) Is(target error) bool {
	return target == ErrRowVanished
}

// LogFields returns a map of fields for structured logging
func (e *RowVanishedError) LogFields() map[string]any {
	return map[string]any{
		"error_type":  "row_vanished",
		"entity_type": e.EntityType,
		"error_code":  CodeRowVanished,
	}
}

// NewRowVanishedError creates a row-vanished error naming the entity type
func NewRowVanishedError(entityType string) error {
	return &RowVanishedError{EntityType: entityType}
}

// IsConcurrencyConflict checks if the error is a stale-version conflict
func IsConcurrencyConflict(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// IsNotSupported checks if the error is an unresolvable-conflict error
func IsNotSupported(err error) bool {
	return errors.Is(err, ErrNotSupported)
}

// IsRowVanished checks if the error reports a concurrently deleted row
func IsRowVanished(err error) bool {
	return errors.Is(err, ErrRowVanished)
}
