/*
Package ledger provides the core payment ledger engine.

PURPOSE:
  This package contains the domain types and pure algorithms for tracking
  student installment payments: the immutable payment event, the enumerated
  payment kinds, and the aggregation that folds event history into
  paid/owed state.

KEY CONCEPTS IN THIS FILE (types.go):
  - PaymentEvent: An immutable record of one financial action
  - PaymentKind: RECEIVE (cash in), RETURN (cash back), DISCOUNT (waived)
  - PaymentStatus: Derived paid state for a (student, installment) pair
  - Student/Installment IDs: Type-safe identifiers

DESIGN PRINCIPLES:
  1. Immutability: Events are never modified; corrections are offsetting
     RETURN/DISCOUNT events
  2. Precision: Uses decimal.Decimal to avoid floating-point errors in money
  3. Derivability: Status is always recomputable from the event history;
     the stored snapshot is a read optimization, never the source of truth

USAGE:
  ev := ledger.PaymentEvent{
      StudentID:     "std-123",
      InstallmentID: "inst-2024-1",
      Kind:          ledger.KindReceive,
      Amount:        decimal.NewFromInt(60000),
      Method:        ledger.MethodCash,
  }

SEE ALSO:
  - aggregate.go: Folding events into pair/student aggregates
  - store.go: Persistence interfaces
  - catalog.go: Student and installment reference data
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type StudentID string
type InstallmentID string
type EventID string

// =============================================================================
// MONEY HELPERS
// =============================================================================

// MoneyPlaces is the scale every stored monetary amount is rounded to.
const MoneyPlaces = 2

// RoundMoney normalizes an amount to the stored scale (half-up).
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

func MustParseMoney(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// =============================================================================
// PAYMENT KIND - What a payment event does to the ledger
// =============================================================================

type PaymentKind string

const (
	KindReceive  PaymentKind = "receive"  // Cash collected against an installment
	KindReturn   PaymentKind = "return"   // Cash handed back (reduces net paid)
	KindDiscount PaymentKind = "discount" // Obligation waived (not cash)
)

func (k PaymentKind) Valid() bool {
	switch k {
	case KindReceive, KindReturn, KindDiscount:
		return true
	}
	return false
}

// =============================================================================
// PAYMENT METHOD - Informational only, never affects behavior
// =============================================================================

type PaymentMethod string

const (
	MethodCash    PaymentMethod = "cash"
	MethodFIB     PaymentMethod = "fib"
	MethodFastPay PaymentMethod = "fastpay"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCash, MethodFIB, MethodFastPay:
		return true
	}
	return false
}

// =============================================================================
// PAYMENT STATUS - Derived paid state for a pair
// =============================================================================

type PaymentStatus string

const (
	StatusNotPaid       PaymentStatus = "not_paid"
	StatusPartiallyPaid PaymentStatus = "partially_paid"
	StatusPaid          PaymentStatus = "paid"
)

// =============================================================================
// PAYMENT EVENT - Immutable record of one financial action
// =============================================================================

// PaymentEvent is the central ledger entity. Created once by the admission
// controller; never updated or deleted. For KindDiscount, Amount holds the
// computed discount amount (possibly derived from DiscountPercent), not cash.
type PaymentEvent struct {
	ID            EventID
	StudentID     StudentID
	InstallmentID InstallmentID
	Kind          PaymentKind
	Amount        decimal.Decimal
	Method        PaymentMethod

	// Discount-only fields.
	DiscountPercent *decimal.Decimal // percentage basis, if one was supplied
	ReceiptURL      string           // evidentiary attachment, required for discounts

	// Status of the pair immediately after this event committed. A snapshot
	// for quick reads; must always equal the value derived from history.
	Status PaymentStatus

	// PaidAt is the ordering key for "most recent payment", independent of
	// write order.
	PaidAt time.Time

	// IdempotencyKey deduplicates client retries when supplied. Optional.
	IdempotencyKey string

	Note      string
	CreatedBy string
	CreatedAt time.Time
}
