/*
expense.go - Operational expense records

Expenses reduce the available balance. They are simple records: no workflow,
no mutation after creation.
*/
package treasury

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/HogrHonar/dormitory-ledger/authz"
	"github.com/HogrHonar/dormitory-ledger/ledger"
)

type ExpenseID string

type Expense struct {
	ID       ExpenseID
	Amount   decimal.Decimal
	Category string
	Note     string
	SpentAt  time.Time

	CreatedBy string
	CreatedAt time.Time
}

// Expenses records and lists operational spending.
type Expenses struct {
	Store TxStore
}

// Record persists a new expense.
func (s *Expenses) Record(ctx context.Context, actor authz.Actor, amount decimal.Decimal, category, note string, spentAt time.Time) (*Expense, error) {
	if err := authz.Require(actor, authz.PermExpensesCreate); err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, &ledger.ValidationError{Field: "amount", Message: "must be positive"}
	}
	if spentAt.IsZero() {
		spentAt = time.Now().UTC()
	}

	exp := &Expense{
		ID:        ExpenseID(uuid.NewString()),
		Amount:    ledger.RoundMoney(amount),
		Category:  category,
		Note:      note,
		SpentAt:   spentAt,
		CreatedBy: actor.ID,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.Store.SaveExpense(ctx, *exp); err != nil {
		return nil, err
	}
	return exp, nil
}

// List returns all expenses, newest first.
func (s *Expenses) List(ctx context.Context) ([]Expense, error) {
	return s.Store.ListExpenses(ctx)
}
