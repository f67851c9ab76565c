/*
errors.go - Error types for the counting engine

PURPOSE:
  All error types in one place. The taxonomy is small on purpose: the only
  input error the core raises while counting is ErrInvalidQuantity. The
  rest guard batch lifecycle transitions and batch creation.

NON-ERRORS:
  - systemQuantity == 0: variancePercent is 0
  - completing with pending items: returns a CompletionWarning
  - no pending items left: PickNextItem returns ok=false
*/
package counting

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidQuantity is returned when a counted quantity is negative or
	// not a number. Nothing is mutated.
	ErrInvalidQuantity = errors.New("invalid quantity")

	// ErrInvalidCondition is returned for an unknown item condition.
	ErrInvalidCondition = errors.New("invalid item condition")

	// ErrInvalidTransition is returned when a batch action is not allowed
	// from the batch's current status.
	ErrInvalidTransition = errors.New("invalid batch status transition")

	// ErrBatchClosed is returned for any mutation of a completed or cancelled batch.
	ErrBatchClosed = errors.New("batch is closed")

	// ErrReasonRequired is returned when cancelling without a reason.
	ErrReasonRequired = errors.New("reason is required")

	// ErrItemOutOfRange is returned for an item index outside the batch.
	ErrItemOutOfRange = errors.New("item index out of range")

	// ErrBatchNotFound is returned by stores when a batch doesn't exist.
	ErrBatchNotFound = errors.New("batch not found")

	// ErrDuplicateEntry is returned when a count entry idempotency key already exists.
	ErrDuplicateEntry = errors.New("duplicate count entry")

	// ErrNoItemsSelected is returned when a batch would be created empty.
	ErrNoItemsSelected = errors.New("no items selected")

	// ErrIncompleteBatch is returned when required batch fields are missing.
	ErrIncompleteBatch = errors.New("incomplete batch definition")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// QuantityError carries the rejected input.
type QuantityError struct {
	Input  string
	Reason string
}

func (e *QuantityError) Error() string {
	return fmt.Sprintf("invalid quantity %q: %s", e.Input, e.Reason)
}

func (e *QuantityError) Unwrap() error { return ErrInvalidQuantity }

// TransitionError describes a rejected lifecycle action.
type TransitionError struct {
	From   BatchStatus
	Action string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s a batch that is %s", e.Action, e.From)
}

func (e *TransitionError) Unwrap() error {
	if e.From.IsTerminal() {
		return ErrBatchClosed
	}
	return ErrInvalidTransition
}

// FieldError names the batch field that failed validation.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *FieldError) Unwrap() error { return ErrIncompleteBatch }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrInvalidCondition) ||
		errors.Is(err, ErrReasonRequired) ||
		errors.Is(err, ErrItemOutOfRange) ||
		errors.Is(err, ErrNoItemsSelected) ||
		errors.Is(err, ErrIncompleteBatch)
}

// IsConflict returns true if the error is a lifecycle conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrBatchClosed) ||
		errors.Is(err, ErrDuplicateEntry)
}
