/*
store.go - Persistence interfaces for treasury state

PURPOSE:
  Outgoing requests, insurance deposits and expenses are mutable status
  records (unlike payment events) but follow the same store discipline:
  interfaces here, SQLite and in-memory implementations elsewhere.

TRANSACTIONS:
  WithTx wraps multi-step treasury operations - the balance-gated creation
  of an outgoing request, the status-checked approve/reject transitions,
  and the single-ACTIVE check when opening a deposit. If fn returns an
  error the transaction rolls back with no partial writes.

SEE ALSO:
  - outgoing.go, insurance.go, expense.go: The services using these
  - store/sqlite/sqlite.go: Durable implementation
*/
package treasury

import (
	"context"

	"github.com/HogrHonar/dormitory-ledger/ledger"
)

// Store persists treasury records and serves the balance inputs.
// Get methods return (nil, nil) when the row is absent.
type Store interface {
	// BalanceInputs reads every balance flow from one consistent snapshot.
	BalanceInputs(ctx context.Context) (BalanceInputs, error)

	SaveRequest(ctx context.Context, r OutgoingRequest) error
	GetRequest(ctx context.Context, id RequestID) (*OutgoingRequest, error)
	ListRequests(ctx context.Context, status RequestStatus) ([]OutgoingRequest, error)
	DeleteRequest(ctx context.Context, id RequestID) error

	SaveDeposit(ctx context.Context, d InsuranceDeposit) error
	GetDeposit(ctx context.Context, id DepositID) (*InsuranceDeposit, error)
	ActiveDeposit(ctx context.Context, studentID ledger.StudentID) (*InsuranceDeposit, error)
	ListDeposits(ctx context.Context, studentID ledger.StudentID) ([]InsuranceDeposit, error)

	SaveExpense(ctx context.Context, e Expense) error
	ListExpenses(ctx context.Context) ([]Expense, error)
}

// TxStore extends Store with a serializing transaction.
type TxStore interface {
	Store

	WithTx(ctx context.Context, fn func(Store) error) error
}
