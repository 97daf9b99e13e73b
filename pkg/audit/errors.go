package audit

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when an event or sidecar does not exist.
var ErrNotFound = errors.New("audit: not found")

// ImmutabilityViolation reports an attempted mutation of an append-only
// entity or a one-way sidecar field. It carries enough context for the audit
// log: what was touched, how, and by whom. These are always fatal for the
// offending operation and must never be swallowed.
type ImmutabilityViolation struct {
	Entity    string // "event", "event_metadata", "evidence"
	EntityID  string
	Operation string // "update", "delete", "mark_processed", "link_violation"
	Field     string // offending field, when known
	Actor     string // who attempted it, when known
}

// Error implements the error interface.
func (e *ImmutabilityViolation) Error() string {
	msg := fmt.Sprintf("immutability violation [entity=%s, id=%s, operation=%s]",
		e.Entity, e.EntityID, e.Operation)
	if e.Field != "" {
		msg += fmt.Sprintf(" field=%s", e.Field)
	}
	if e.Actor != "" {
		msg += fmt.Sprintf(" actor=%s", e.Actor)
	}
	return msg
}

// StorageError wraps a backend failure with the operation that hit it.
type StorageError struct {
	Operation string
	Cause     error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("audit storage error [operation=%s]: %v", e.Operation, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *StorageError) Unwrap() error {
	return e.Cause
}

// NewStorageError creates a new StorageError.
func NewStorageError(operation string, cause error) *StorageError {
	return &StorageError{Operation: operation, Cause: cause}
}
