/*
errors.go - Error types for the budget engine

PURPOSE:
  All error types in one place. Callers match with errors.Is / errors.As.

ERROR CATEGORIES:
  1. Input errors - Rejected before any storage access (refresh day, owner, date)
  2. Per-owner errors - Collected into Result.Failures, never abort the call
  3. Benign conflicts - Absorbed by create-if-absent, never surfaced
  4. Warnings - Reported in Result.Warnings, processing continues

SEE ALSO:
  - instantiator.go: Decides which errors are fatal and which are collected
  - api/handlers.go: Maps errors to HTTP status codes
*/
package budget

import (
	"context"
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidRefreshDay is returned for a refresh day outside {1,5,10,15,20,25}.
	ErrInvalidRefreshDay = errors.New("invalid refresh day")

	// ErrInvalidOwner is returned for a zero-value owner or one missing its ref.
	ErrInvalidOwner = errors.New("invalid owner")

	// ErrInvalidDate is returned for an unparseable date or cycle label.
	ErrInvalidDate = errors.New("invalid date")

	// ErrInvalidAccountBook is returned for an empty account book id.
	ErrInvalidAccountBook = errors.New("invalid account book")

	// ErrOwnerNotFound is returned when the directory lists an owner the
	// budget store cannot resolve.
	ErrOwnerNotFound = errors.New("owner not found")

	// ErrAggregationFailure is returned when the spend query fails.
	// Transient: the cycle is retried on the next invocation.
	ErrAggregationFailure = errors.New("spend aggregation failed")

	// ErrDuplicateBudget is returned by stores when a budget for the same
	// chain and cycle start already exists. Treated as a no-op.
	ErrDuplicateBudget = errors.New("duplicate budget for cycle")

	// ErrDuplicateHistory is returned by stores when the closing of a cycle
	// was already recorded. Treated as success.
	ErrDuplicateHistory = errors.New("duplicate history entry")

	// ErrPeriodGapTooLarge marks a backfill that hit the cycle cap. Warning only.
	ErrPeriodGapTooLarge = errors.New("period gap too large")

	// ErrNoActiveBudget is returned when no budget covers the requested date.
	ErrNoActiveBudget = errors.New("no active budget")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidRefreshDayError carries the rejected value.
type InvalidRefreshDayError struct {
	Day int
}

func (e *InvalidRefreshDayError) Error() string {
	return fmt.Sprintf("invalid refresh day %d: must be one of 1, 5, 10, 15, 20, 25", e.Day)
}

func (e *InvalidRefreshDayError) Unwrap() error {
	return ErrInvalidRefreshDay
}

// AggregationError wraps a failed spend query.
type AggregationError struct {
	Query SpendQuery
	Err   error
}

func (e *AggregationError) Error() string {
	return fmt.Sprintf("sum spend for %s in %s: %v", e.Query.Owner, e.Query.Cycle, e.Err)
}

func (e *AggregationError) Unwrap() []error {
	return []error{ErrAggregationFailure, e.Err}
}

// Failure reasons reported per owner.
const (
	ReasonOwnerNotFound      = "OWNER_NOT_FOUND"
	ReasonAggregationFailure = "AGGREGATION_FAILURE"
	ReasonStorageFailure     = "STORAGE_FAILURE"
	ReasonCanceled           = "CANCELED"
)

// OwnerFailure is one owner that could not be brought up to date.
type OwnerFailure struct {
	Owner    Owner
	OwnerRef string
	Reason   string
	Err      error
}

func newOwnerFailure(owner Owner, err error) OwnerFailure {
	return OwnerFailure{
		Owner:    owner,
		OwnerRef: owner.Ref(),
		Reason:   failureReason(err),
		Err:      err,
	}
}

func (e *OwnerFailure) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Owner, e.Reason, e.Err)
}

func (e *OwnerFailure) Unwrap() error {
	return e.Err
}

func failureReason(err error) string {
	switch {
	case isContextError(err):
		return ReasonCanceled
	case errors.Is(err, ErrOwnerNotFound), errors.Is(err, ErrInvalidOwner):
		return ReasonOwnerNotFound
	case errors.Is(err, ErrAggregationFailure):
		return ReasonAggregationFailure
	default:
		return ReasonStorageFailure
	}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry. A canceled
// or timed-out call is not, even when it was cut short inside aggregation.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrAggregationFailure) && !isContextError(err)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidRefreshDay) ||
		errors.Is(err, ErrInvalidOwner) ||
		errors.Is(err, ErrInvalidDate) ||
		errors.Is(err, ErrInvalidAccountBook)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOwnerNotFound) ||
		errors.Is(err, ErrNoActiveBudget)
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
