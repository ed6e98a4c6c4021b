// Package domain holds the quote model, the merge engine and the error kinds
// every adapter maps onto its own surface (HTTP status, CLI exit, log level).
package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every typed error below unwraps to exactly one of them.
var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrValidation = errors.New("validation failed")

	// ErrUnavailable covers every failed remote fetch or submit.
	ErrUnavailable = errors.New("unavailable")

	// ErrPersistence indicates the durable store could not complete a save or load.
	ErrPersistence = errors.New("persistence failed")

	// ErrMalformedImport indicates an import payload was rejected in full.
	ErrMalformedImport = errors.New("malformed import")
)

// NotFoundError reports a missing quote or empty storage slot.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return e.Entity + " not found"
	}

	return fmt.Sprintf("%s with id %q not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NewNotFoundError reports that entity id does not exist. id may be empty.
func NewNotFoundError(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// ConflictError reports a write that collides with existing state.
// Existing, when set, is the text already held under the same identity.
type ConflictError struct {
	Entity   string
	Reason   string
	Existing string
}

func (e *ConflictError) Error() string {
	msg := e.Entity + " conflict: " + e.Reason
	if e.Existing != "" {
		msg += " (" + e.Existing + ")"
	}

	return msg
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// NewConflictError reports a conflict on entity.
func NewConflictError(entity, reason string) error {
	return &ConflictError{Entity: entity, Reason: reason}
}

// NewDuplicateError reports that entity already exists as existing.
func NewDuplicateError(entity, existing string) error {
	return &ConflictError{Entity: entity, Reason: "already exists", Existing: existing}
}

// ValidationError reports input that breaks a quote invariant. Field is
// empty when the whole input is at fault.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}

	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError reports invalid input.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// UnavailableError reports that a remote dependency could not serve a call.
type UnavailableError struct {
	Service string
	Reason  string
}

func (e *UnavailableError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("service %q unavailable", e.Service)
	}

	return fmt.Sprintf("service %q unavailable: %s", e.Service, e.Reason)
}

func (e *UnavailableError) Unwrap() error { return ErrUnavailable }

// NewUnavailableError reports that service failed for reason.
func NewUnavailableError(service, reason string) error {
	return &UnavailableError{Service: service, Reason: reason}
}

// PersistenceError wraps a failed load or save of a storage slot.
type PersistenceError struct {
	Slot string
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *PersistenceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %q: %v", e.Op, e.Slot, e.Err)
	}

	return fmt.Sprintf("%s %q failed", e.Op, e.Slot)
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *PersistenceError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrPersistence}
	}

	return []error{ErrPersistence, e.Err}
}

// NewPersistenceError creates a persistence error for the given slot and operation.
func NewPersistenceError(slot, op string, err error) error {
	return &PersistenceError{Slot: slot, Op: op, Err: err}
}

// MalformedImportError describes why an import payload was rejected.
// Index is the offending element, or -1 when the payload as a whole is invalid.
type MalformedImportError struct {
	Index  int
	Reason string
}

func (e *MalformedImportError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("malformed import: record %d: %s", e.Index, e.Reason)
	}

	return "malformed import: " + e.Reason
}

func (e *MalformedImportError) Unwrap() error { return ErrMalformedImport }

// NewMalformedImportError creates a malformed import error.
func NewMalformedImportError(index int, reason string) error {
	return &MalformedImportError{Index: index, Reason: reason}
}

// IsNotFound reports whether err is, or wraps, ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConflict reports whether err is, or wraps, ErrConflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsValidation reports whether err is, or wraps, ErrValidation.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsUnavailable reports whether err is, or wraps, ErrUnavailable.
func IsUnavailable(err error) bool { return errors.Is(err, ErrUnavailable) }

// IsPersistence reports whether err is, or wraps, ErrPersistence.
func IsPersistence(err error) bool { return errors.Is(err, ErrPersistence) }

// IsMalformedImport reports whether err is, or wraps, ErrMalformedImport.
func IsMalformedImport(err error) bool { return errors.Is(err, ErrMalformedImport) }
