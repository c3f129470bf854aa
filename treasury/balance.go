/*
Package treasury manages the institution's cash position: the available
balance derived from all payment, insurance and expense flows, the outgoing
payment request workflow gated by that balance, and the records feeding it.

PURPOSE OF THIS FILE (balance.go):
  Computes available balance on demand from full history. Intentionally a
  recompute, not a maintained counter: correctness-by-construction over
  recompute cost. If history outgrows this, the strategy is an incremental
  materialized counter updated transactionally beside each write plus a
  reconciliation sweep, not a change to this formula.

FORMULA:
  available = received            (RECEIVE payments)
            + insuranceHeld       (deposit amountPaid, any status)
            - returned            (RETURN payments)
            - discounted          (DISCOUNT amounts)
            - approvedOutgoing    (APPROVED requests' amountToHandOver)
            - expenses            (all expense amounts)
            - insuranceRefunded   (amountReturned where status=RETURNED)

RACE NOTE:
  When the balance gates a new outgoing request, the read happens inside
  the same store transaction that inserts the PENDING row. Two concurrent
  requests therefore cannot both pass the check against a stale figure.

SEE ALSO:
  - outgoing.go: The gated workflow
  - store/sqlite/sqlite.go: BalanceInputs within one read transaction
*/
package treasury

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// BALANCE INPUTS - One consistent read of every flow
// =============================================================================

// BalanceInputs are the sums the balance formula folds. Implementations must
// produce all fields from a single consistent snapshot.
type BalanceInputs struct {
	Received          decimal.Decimal
	Returned          decimal.Decimal
	Discounted        decimal.Decimal
	InsuranceHeld     decimal.Decimal
	InsuranceRefunded decimal.Decimal
	ApprovedOutgoing  decimal.Decimal
	Expenses          decimal.Decimal
}

// Available applies the balance formula.
func (b BalanceInputs) Available() decimal.Decimal {
	return b.Received.
		Add(b.InsuranceHeld).
		Sub(b.Returned).
		Sub(b.Discounted).
		Sub(b.ApprovedOutgoing).
		Sub(b.Expenses).
		Sub(b.InsuranceRefunded)
}

// =============================================================================
// BALANCE CALCULATOR
// =============================================================================

// BalanceCalculator derives available balance from a treasury store.
type BalanceCalculator struct {
	Store Store
}

// Available recomputes the balance from full history at call time. The
// inputs are returned alongside the figure for reporting.
func (c *BalanceCalculator) Available(ctx context.Context) (decimal.Decimal, BalanceInputs, error) {
	inputs, err := c.Store.BalanceInputs(ctx)
	if err != nil {
		return decimal.Zero, BalanceInputs{}, err
	}
	return inputs.Available(), inputs, nil
}
