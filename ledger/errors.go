/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Service packages wrap these errors with additional context.

ERROR CATEGORIES:
  1. Not-found errors - Missing reference data
  2. Validation errors - Malformed or out-of-range input
  3. Invariant errors - Writes that would corrupt the ledger
  4. State errors - Workflow transitions not allowed from current status
  5. Conflict errors - Concurrent-write contention, retryable

USAGE:
  if errors.Is(err, ledger.ErrInvalidOperation) {
      // reject with the figure carried by the structured error
  }

SEE ALSO:
  - aggregate.go: Derivation these invariants protect
  - payments/admission.go: Main producer of these errors
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
	// ErrStudentNotFound is returned when a referenced student doesn't exist.
	ErrStudentNotFound = errors.New("student not found")

	// ErrInstallmentNotFound is returned when a referenced installment doesn't exist.
	ErrInstallmentNotFound = errors.New("installment not found")

	// ErrRequestNotFound is returned when an outgoing payment request doesn't exist.
	ErrRequestNotFound = errors.New("outgoing payment request not found")

	// ErrDepositNotFound is returned when an insurance deposit doesn't exist.
	ErrDepositNotFound = errors.New("insurance deposit not found")

	// ErrValidation is returned for malformed or out-of-range input.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidOperation is returned when a write would violate a ledger
	// invariant: over-payment, negative net-paid, insufficient balance.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrInvalidState is returned when a workflow transition is not allowed
	// from the current status.
	ErrInvalidState = errors.New("invalid state for transition")

	// ErrConflict is returned when concurrent writers contend for the same
	// pair and retries are exhausted. Retryable by the caller.
	ErrConflict = errors.New("concurrent modification detected")

	// ErrUnauthorized is returned when the actor lacks the permission an
	// operation requires.
	ErrUnauthorized = errors.New("actor not authorized")

	// ErrDuplicateIdempotencyKey is returned when an event with the same
	// idempotency key already exists. Expected behavior for client retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrDepositActive is returned when opening a second ACTIVE insurance
	// deposit for a student that already holds one.
	ErrDepositActive = errors.New("student already has an active insurance deposit")
)

// =============================================================================
// STRUCTURED ERRORS - Carry the figures the caller needs to correct input
// =============================================================================

// ExcessPaymentError reports a RECEIVE that would overshoot the remaining due
// for a pair. RemainingDue is the exact amount still payable.
type ExcessPaymentError struct {
	StudentID     StudentID
	InstallmentID InstallmentID
	RemainingDue  decimal.Decimal
	Attempted     decimal.Decimal
}

func (e *ExcessPaymentError) Error() string {
	return fmt.Sprintf("payment exceeds remaining due: remaining %s, attempted %s",
		e.RemainingDue.StringFixed(MoneyPlaces), e.Attempted.StringFixed(MoneyPlaces))
}

func (e *ExcessPaymentError) Unwrap() error { return ErrInvalidOperation }

// ExcessReturnError reports a RETURN that would drive net paid negative.
type ExcessReturnError struct {
	StudentID     StudentID
	InstallmentID InstallmentID
	NetPaid       decimal.Decimal
	Attempted     decimal.Decimal
}

func (e *ExcessReturnError) Error() string {
	return fmt.Sprintf("return exceeds amount paid: net paid %s, attempted %s",
		e.NetPaid.StringFixed(MoneyPlaces), e.Attempted.StringFixed(MoneyPlaces))
}

func (e *ExcessReturnError) Unwrap() error { return ErrInvalidOperation }

// InsufficientBalanceError reports an outgoing request exceeding the
// available cash balance.
type InsufficientBalanceError struct {
	Available decimal.Decimal
	Requested decimal.Decimal
	Shortfall decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: available %s, requested %s, shortfall %s",
		e.Available.StringFixed(MoneyPlaces), e.Requested.StringFixed(MoneyPlaces),
		e.Shortfall.StringFixed(MoneyPlaces))
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInvalidOperation }

// InvalidStateError reports a workflow transition attempted from a
// non-transitionable status.
type InvalidStateError struct {
	Entity     string // "outgoing request", "insurance deposit"
	ID         string
	Current    string
	Transition string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s %s %s: status is %s, expected pending/active",
		e.Transition, e.Entity, e.ID, e.Current)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// ValidationError reports a specific malformed field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidOperation) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrDuplicateIdempotencyKey) ||
		errors.Is(err, ErrDepositActive)
}

// IsNotFound returns true if the error indicates missing reference data.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrStudentNotFound) ||
		errors.Is(err, ErrInstallmentNotFound) ||
		errors.Is(err, ErrRequestNotFound) ||
		errors.Is(err, ErrDepositNotFound)
}
