/*
errors.go - Error types for the policy evaluator

PURPOSE:
  Evaluation never returns errors. These are produced by validation (before
  a policy is saved) and by policy stores.
*/
package abac

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidCondition is returned when a condition's path is unknown,
	// its operator is not allowed for the attribute, or its value is empty
	// or of the wrong type.
	ErrInvalidCondition = errors.New("invalid condition")

	// ErrInvalidPolicy is returned for policy-level problems (missing name,
	// unknown effect, bad window, unknown logical operator).
	ErrInvalidPolicy = errors.New("invalid policy")

	// ErrRuleTooDeep is returned when a rule nests beyond the configured depth.
	ErrRuleTooDeep = errors.New("rule nesting too deep")

	// ErrPolicyNotFound is returned by stores when a policy doesn't exist.
	ErrPolicyNotFound = errors.New("policy not found")

	// ErrUnknownAttribute is returned when registering or looking up an
	// attribute definition that isn't usable.
	ErrUnknownAttribute = errors.New("unknown attribute")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ConditionError describes why one condition failed validation.
type ConditionError struct {
	Path     string
	Operator Operator
	Reason   string
}

func (e *ConditionError) Error() string {
	return fmt.Sprintf("condition %s %s: %s", e.Path, e.Operator, e.Reason)
}

func (e *ConditionError) Unwrap() error { return ErrInvalidCondition }

// PolicyError collects every problem found in one policy.
type PolicyError struct {
	PolicyID string
	Problems []error
}

func (e *PolicyError) Error() string {
	msgs := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		msgs[i] = p.Error()
	}
	return fmt.Sprintf("policy %q: %s", e.PolicyID, strings.Join(msgs, "; "))
}

func (e *PolicyError) Unwrap() []error { return e.Problems }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to an invalid policy definition.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidCondition) ||
		errors.Is(err, ErrInvalidPolicy) ||
		errors.Is(err, ErrRuleTooDeep) ||
		errors.Is(err, ErrUnknownAttribute)
}

// IsNotFound returns true if the error indicates a missing policy.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPolicyNotFound)
}
