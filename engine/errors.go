/*
errors.go - Centralized error types for the split engine

PURPOSE:
  All error types in one place. Local validation errors are collected into a
  ValidationErrors list so a caller can show every problem at once; the only
  non-local error is ExecutionFailed, surfaced from the DistributionExecutor.

ERROR CATEGORIES:
  1. Shape errors - a single allocation row is malformed
  2. Aggregate errors - the allocation set violates a cross-row invariant
  3. Split errors - the split header (name, description, base) is invalid
  4. Execution errors - the executor rejected or failed the distribution
  5. Lifecycle errors - a draft was driven through an illegal transition

USAGE:
  valid, err := engine.ValidateSplit(split, rows)
  if errors.Is(err, engine.ErrDuplicateTarget) {
      ...
  }
  var verrs engine.ValidationErrors
  if errors.As(err, &verrs) {
      for _, fe := range verrs.ForRow(2) { ... }
  }

SEE ALSO:
  - validate.go: Produces ValidationErrors
  - distribute.go: Produces ExecutionError
*/
package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// Allocation shape
	ErrShapeMismatch     = errors.New("allocation value does not match allocation type")
	ErrInvalidTarget     = errors.New("invalid allocation target")
	ErrInvalidPercentage = errors.New("invalid percentage")
	ErrInvalidAmount     = errors.New("invalid amount")

	// Allocation set
	ErrDuplicateTarget       = errors.New("target allocated more than once")
	ErrOrphanAllocation      = errors.New("allocation does not belong to split")
	ErrPercentageOverflow    = errors.New("total percentage exceeds 100")
	ErrAllocationExceedsBase = errors.New("total allocations exceed base amount")
	ErrEmptyAllocationSet    = errors.New("split has no allocations")

	// Split header
	ErrOutOfRange         = errors.New("value out of range")
	ErrInvalidName        = errors.New("invalid split name")
	ErrInvalidDescription = errors.New("invalid split description")

	// Execution
	ErrExecutionFailed = errors.New("distribution execution failed")
	ErrSplitNotFound   = errors.New("split not found")
	ErrTargetNotFound  = errors.New("target not found")
	ErrSplitInactive   = errors.New("split is not active")

	// Lifecycle
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrLastRow           = errors.New("a split needs at least one allocation row")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// SplitRow is the Row value of a FieldError that concerns the split as a
// whole rather than a particular allocation row.
const SplitRow = -1

// FieldError is one validation failure, attributable to a field of the split
// or to a field of one allocation row.
type FieldError struct {
	Code    error  // one of the sentinel errors above
	Row     int    // allocation row index, or SplitRow
	Field   string // e.g. "base_amount", "allocations", "percentage"
	Message string // human readable, safe to show to the user
}

func (e *FieldError) Error() string {
	if e.Row == SplitRow {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("allocations[%d].%s: %s", e.Row, e.Field, e.Message)
}

func (e *FieldError) Unwrap() error { return e.Code }

// ValidationErrors is the full list of violations found in one validation
// pass. It is never returned empty.
type ValidationErrors []*FieldError

func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, e := range v {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// Unwrap exposes every FieldError to errors.Is and errors.As.
func (v ValidationErrors) Unwrap() []error {
	errs := make([]error, len(v))
	for i, e := range v {
		errs[i] = e
	}
	return errs
}

// ForRow returns the errors attributed to allocation row i.
func (v ValidationErrors) ForRow(i int) []*FieldError {
	var out []*FieldError
	for _, e := range v {
		if e.Row == i {
			out = append(out, e)
		}
	}
	return out
}

// Codes lists the distinct sentinel codes in order of first appearance.
func (v ValidationErrors) Codes() []error {
	var out []error
	seen := make(map[error]bool)
	for _, e := range v {
		if !seen[e.Code] {
			seen[e.Code] = true
			out = append(out, e.Code)
		}
	}
	return out
}

// RangeError reports a value outside its allowed bounds.
type RangeError struct {
	Value decimal.Decimal
	Min   decimal.Decimal
	Max   decimal.Decimal
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s is outside [%s, %s]", e.Value.StringFixed(2), e.Min.StringFixed(2), e.Max.StringFixed(2))
}

func (e *RangeError) Unwrap() error { return ErrOutOfRange }

// ExecutionError wraps a failure reported by the DistributionExecutor.
type ExecutionError struct {
	SplitID SplitID
	Err     error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("distribute split %s: %v", e.SplitID, e.Err)
}

// Unwrap lets callers match both ErrExecutionFailed and the executor's cause.
func (e *ExecutionError) Unwrap() []error {
	return []error{ErrExecutionFailed, e.Err}
}

// TransitionError reports an illegal state machine move.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsValidationError returns true if err came from local validation and can be
// fixed by editing the split.
func IsValidationError(err error) bool {
	var v ValidationErrors
	var fe *FieldError
	return errors.As(err, &v) || errors.As(err, &fe)
}

// IsRetryable returns true if the error might succeed on retry without edits.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrExecutionFailed) &&
		!errors.Is(err, ErrSplitNotFound) &&
		!errors.Is(err, ErrTargetNotFound) &&
		!errors.Is(err, ErrSplitInactive) &&
		!IsValidationError(err)
}

// IsNotFound returns true if the error indicates a missing split or target.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSplitNotFound) || errors.Is(err, ErrTargetNotFound)
}
