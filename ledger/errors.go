/*
errors.go - Centralized error types for the grant ledger

PURPOSE:
  All ledger error types in one place. Sentinels are matched with
  errors.Is(); structured errors carry context and Unwrap() to their
  sentinel.

ERROR CATEGORIES:
  1. Balance errors - allocation shortfalls
  2. State errors   - terminal-state and concurrency guards
  3. Lookup errors  - missing employees, requests, lots

PROPAGATION POLICY:
  Any error inside the approval transaction rolls the whole transaction
  back; partial consumption rows or partially-decremented balances are
  never observable. Schedule-version resolution failures live in the
  schedule package (schedule.ErrNotFound) and are fatal for materialized
  lots, not client errors.
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInsufficientBalance is returned when requested days exceed the
	// allocatable balance. Recoverable; no mutation occurs.
	ErrInsufficientBalance = errors.New("insufficient leave balance")

	// ErrAlreadyProcessed is returned when approving or rejecting a
	// request that is no longer PENDING. Idempotency guard.
	ErrAlreadyProcessed = errors.New("request already processed")

	// ErrConcurrentModification is returned when an optimistic lot update
	// detects a conflicting write.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrEmployeeNotFound is returned for unknown employee ids.
	ErrEmployeeNotFound = errors.New("employee not found")

	// ErrRequestNotFound is returned for unknown request ids.
	ErrRequestNotFound = errors.New("request not found")

	// ErrLotNotFound is returned for unknown grant-lot ids.
	ErrLotNotFound = errors.New("grant lot not found")

	// ErrInvalidPeriod is returned when a period is malformed (end before start).
	ErrInvalidPeriod = errors.New("invalid period: end before start")

	// ErrInvalidUnit is returned for units other than DAY and HOUR, or for
	// HOUR requests with a non-positive hours-per-day.
	ErrInvalidUnit = errors.New("invalid request unit")

	// ErrDuplicateLot is returned when inserting a lot for an
	// (employee, grant date) pair that already has one.
	ErrDuplicateLot = errors.New("grant lot already exists for this grant date")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError details an allocation shortfall.
type InsufficientBalanceError struct {
	EmployeeID EmployeeID
	Available  decimal.Decimal
	Requested  decimal.Decimal
	Shortfall  decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s: available %s, requested %s, shortfall %s",
		e.EmployeeID, e.Available, e.Requested, e.Shortfall)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// AlreadyProcessedError details a terminal-state violation.
type AlreadyProcessedError struct {
	RequestID RequestID
	Status    RequestStatus
}

func (e *AlreadyProcessedError) Error() string {
	return fmt.Sprintf("request %s already processed: status is %s", e.RequestID, e.Status)
}

func (e *AlreadyProcessedError) Unwrap() error { return ErrAlreadyProcessed }

// InvalidPatternError details a malformed employment pattern tag.
type InvalidPatternError struct {
	Pattern Pattern
}

func (e *InvalidPatternError) Error() string {
	return fmt.Sprintf("invalid employment pattern %q: want A or B-n (n in 1..6)", e.Pattern)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input
// or a recoverable business-rule violation.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrAlreadyProcessed) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrInvalidUnit)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEmployeeNotFound) ||
		errors.Is(err, ErrRequestNotFound) ||
		errors.Is(err, ErrLotNotFound)
}

// IsRetryable returns true if the operation might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}
