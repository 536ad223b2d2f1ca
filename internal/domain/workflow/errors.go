package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned when a trigger has no transition from the current stage
	ErrInvalidTransition = errors.New("invalid stage transition")

	// ErrGuardFailed is returned when every guarded transition rejected the caller
	ErrGuardFailed = errors.New("guard condition failed")

	// ErrValidation matches any ValidationError
	ErrValidation = errors.New("validation failed")

	// ErrStageMismatch matches any StageMismatchError
	ErrStageMismatch = errors.New("stage mismatch")

	// ErrNotFound matches any NotFoundError
	ErrNotFound = errors.New("not found")
)

// ValidationError reports malformed input
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError is a shorthand for &ValidationError{...}
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// StageMismatchError is returned when the acting role does not gate the
// document's current stage, or the stage does not accept the trigger.
type StageMismatchError struct {
	DocumentID string
	Stage      Stage
	Role       Role
	Trigger    Trigger
	Err        error
}

func (e *StageMismatchError) Error() string {
	return fmt.Sprintf("document %s at stage %s cannot %s as %q", e.DocumentID, e.Stage, e.Trigger, e.Role)
}

func (e *StageMismatchError) Is(target error) bool {
	return target == ErrStageMismatch
}

func (e *StageMismatchError) Unwrap() error {
	return e.Err
}

// NotFoundError is returned when a document id does not exist
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	kind := e.Kind
	if kind == "" {
		kind = "document"
	}
	return fmt.Sprintf("%s %s not found", kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}
