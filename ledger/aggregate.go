/*
aggregate.go - Folding payment events into paid/owed state

PURPOSE:
  Computes the authoritative paid/owed state for a (student, installment)
  pair, and the roll-up across all of a student's installments. This is the
  single place status is derived; every stored status snapshot must agree
  with what these functions return over the same history.

KEY INSIGHT:
  Totals are pure sums, so aggregation is order-independent: replaying the
  same events in any order yields the same Paid/Returned/Discount figures.
  The only time-sensitive output is LastPaidAt, which uses the maximum
  stored PaidAt, never insertion order (clocks are not assumed monotonic).

STATUS DERIVATION (authoritative):
  NOT_PAID        net-paid == 0 and discount == 0
  PAID            remaining == 0
  PARTIALLY_PAID  otherwise

  where net-paid = paid - returned
        remaining = max(0, obligation - net-paid - discount)

  The NOT_PAID check comes first so a zero-amount installment with no
  events reads NOT_PAID rather than PAID.

SEE ALSO:
  - types.go: PaymentEvent and PaymentStatus
  - payments/admission.go: Re-derives these aggregates before every write
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PAIR AGGREGATE - Derived state for one (student, installment) pair
// =============================================================================

// PairAggregate is the replayable state of one pair. Everything here is
// derived; nothing is stored.
type PairAggregate struct {
	StudentID     StudentID
	InstallmentID InstallmentID

	// Obligation is the installment amount the pair is settled against.
	Obligation decimal.Decimal

	Paid     decimal.Decimal // sum of RECEIVE amounts
	Returned decimal.Decimal // sum of RETURN amounts
	Discount decimal.Decimal // sum of DISCOUNT amounts

	NetPaid   decimal.Decimal // Paid - Returned
	Remaining decimal.Decimal // max(0, Obligation - NetPaid - Discount)

	Status     PaymentStatus
	LastPaidAt time.Time // zero if no events contributed
}

// AggregatePair folds events into the derived state for one pair. Events for
// other pairs are skipped, so callers may pass a wider history.
func AggregatePair(studentID StudentID, installmentID InstallmentID, obligation decimal.Decimal, events []PaymentEvent) PairAggregate {
	agg := PairAggregate{
		StudentID:     studentID,
		InstallmentID: installmentID,
		Obligation:    obligation,
		Paid:          decimal.Zero,
		Returned:      decimal.Zero,
		Discount:      decimal.Zero,
	}

	for _, ev := range events {
		if ev.StudentID != studentID || ev.InstallmentID != installmentID {
			continue
		}
		switch ev.Kind {
		case KindReceive:
			agg.Paid = agg.Paid.Add(ev.Amount)
		case KindReturn:
			agg.Returned = agg.Returned.Add(ev.Amount)
		case KindDiscount:
			agg.Discount = agg.Discount.Add(ev.Amount)
		}
		if ev.PaidAt.After(agg.LastPaidAt) {
			agg.LastPaidAt = ev.PaidAt
		}
	}

	agg.NetPaid = agg.Paid.Sub(agg.Returned)
	agg.Remaining = remainingDue(obligation, agg.NetPaid, agg.Discount)
	agg.Status = DeriveStatus(agg.NetPaid, agg.Discount, agg.Remaining)
	return agg
}

// DeriveStatus is the authoritative status formula. Stored snapshots must
// never diverge from it.
func DeriveStatus(netPaid, discount, remaining decimal.Decimal) PaymentStatus {
	if netPaid.IsZero() && discount.IsZero() {
		return StatusNotPaid
	}
	if remaining.IsZero() {
		return StatusPaid
	}
	return StatusPartiallyPaid
}

// remainingDue clamps at zero; a negative remainder is never reported, it is
// rejected at admission time instead.
func remainingDue(obligation, netPaid, discount decimal.Decimal) decimal.Decimal {
	r := obligation.Sub(netPaid).Sub(discount)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

// =============================================================================
// STUDENT AGGREGATE - Roll-up across all installments
// =============================================================================

// StudentAggregate sums pair aggregates across a student's installments,
// keeping the per-installment breakdown for the summary view.
type StudentAggregate struct {
	StudentID StudentID

	TotalObligation decimal.Decimal
	TotalPaid       decimal.Decimal
	TotalReturned   decimal.Decimal
	TotalDiscount   decimal.Decimal
	TotalNetPaid    decimal.Decimal
	TotalRemaining  decimal.Decimal

	LastPaidAt time.Time

	Pairs []PairAggregate
}

// AggregateStudent folds a student's full event history against the
// installments of their cohort. Installment order is preserved in Pairs.
func AggregateStudent(studentID StudentID, installments []Installment, events []PaymentEvent) StudentAggregate {
	agg := StudentAggregate{
		StudentID:       studentID,
		TotalObligation: decimal.Zero,
		TotalPaid:       decimal.Zero,
		TotalReturned:   decimal.Zero,
		TotalDiscount:   decimal.Zero,
		TotalNetPaid:    decimal.Zero,
		TotalRemaining:  decimal.Zero,
	}

	for _, inst := range installments {
		pair := AggregatePair(studentID, inst.ID, inst.Amount, events)
		agg.TotalObligation = agg.TotalObligation.Add(pair.Obligation)
		agg.TotalPaid = agg.TotalPaid.Add(pair.Paid)
		agg.TotalReturned = agg.TotalReturned.Add(pair.Returned)
		agg.TotalDiscount = agg.TotalDiscount.Add(pair.Discount)
		agg.TotalNetPaid = agg.TotalNetPaid.Add(pair.NetPaid)
		agg.TotalRemaining = agg.TotalRemaining.Add(pair.Remaining)
		if pair.LastPaidAt.After(agg.LastPaidAt) {
			agg.LastPaidAt = pair.LastPaidAt
		}
		agg.Pairs = append(agg.Pairs, pair)
	}

	return agg
}
