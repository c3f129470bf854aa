/*
store.go - Persistence interfaces for payment events

PURPOSE:
  Defines the interface between the admission controller and the database.
  The store is append-mostly: events are written once and never updated or
  deleted; corrections are offsetting RETURN/DISCOUNT events.

APPEND-ONLY CONTRACT:
  - Append(): the only write operation
  - NO Update() or Delete() methods exist

IDEMPOTENCY:
  An event may carry a client-supplied idempotency key. If the key already
  exists, Append fails with ErrDuplicateIdempotencyKey. This prevents
  duplicate charges from network retries or double-clicks.

TRANSACTIONS:
  TxPaymentStore wraps the critical section of payment admission: the
  re-read of pair history and the event write must happen inside one
  storage transaction so concurrent writers on the same pair cannot both
  pass the remaining-due check. Implementations serialize writers
  (BEGIN IMMEDIATE / row lock), not application mutexes alone, since
  multiple process instances may run concurrently.

IMPLEMENTATIONS:
  - store/sqlite: durable, WAL mode
  - ledger/store: in-memory, for tests and demos

SEE ALSO:
  - payments/admission.go: The one writer
  - treasury/balance.go: Read-side consumer of Totals
*/
package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PAYMENT STORE - Append-mostly event persistence
// =============================================================================

// PaymentTotals are ledger-wide sums by kind, used by the cash balance
// calculation.
type PaymentTotals struct {
	Received   decimal.Decimal
	Returned   decimal.Decimal
	Discounted decimal.Decimal
}

// PaymentStore persists payment events.
// IMPORTANT: Append-only. No Update, No Delete. Ever.
type PaymentStore interface {
	// Append persists an event. Fails with ErrDuplicateIdempotencyKey if the
	// event carries a key that already exists.
	Append(ctx context.Context, ev PaymentEvent) error

	// LoadPair returns all events for one (student, installment) pair,
	// ordered by PaidAt.
	LoadPair(ctx context.Context, studentID StudentID, installmentID InstallmentID) ([]PaymentEvent, error)

	// LoadByStudent returns all events for a student across installments.
	LoadByStudent(ctx context.Context, studentID StudentID) ([]PaymentEvent, error)

	// Totals returns ledger-wide sums by kind.
	Totals(ctx context.Context) (PaymentTotals, error)

	// Exists checks whether an idempotency key was already used.
	Exists(ctx context.Context, idempotencyKey string) (bool, error)
}

// TxPaymentStore extends PaymentStore with a serializing transaction. If fn
// returns an error the transaction rolls back with no partial writes.
type TxPaymentStore interface {
	PaymentStore

	WithTx(ctx context.Context, fn func(PaymentStore) error) error
}
