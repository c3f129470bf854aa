/*
catalog.go - Student and installment reference data

PURPOSE:
  Reference entities the ledger aggregates against. Students belong to an
  entrance-year cohort; installments define the obligation amount per
  (cohort, ordinal). Both are read-mostly: the engine never mutates them
  inside a payment transaction.

NOTE ON MUTATION:
  Installments are not hard-locked once payments exist against them. Editing
  an installment amount under live payments shifts every derived Remaining;
  operationally this is treated as reference-data maintenance, not a ledger
  operation.

SEE ALSO:
  - aggregate.go: Consumes Installment.Amount as the pair obligation
  - store/sqlite/sqlite.go: Durable catalog implementation
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STUDENT - Identity plus cohort membership
// =============================================================================

type Student struct {
	ID           StudentID
	Name         string
	Department   string
	Room         string // optional; empty when unassigned
	EntranceYear int
	Email        string // notification address; optional
	Active       bool
	CreatedAt    time.Time
}

// =============================================================================
// INSTALLMENT - One scheduled obligation for a cohort
// =============================================================================

type Installment struct {
	ID           InstallmentID
	EntranceYear int
	Ordinal      int
	Title        string
	Amount       decimal.Decimal // fixed obligation, non-negative
	StartDate    time.Time
	EndDate      time.Time
	CreatedAt    time.Time
}

// =============================================================================
// CATALOG STORE - Read-mostly reference data access
// =============================================================================

// CatalogStore persists students and installments. Save acts as upsert;
// Get returns (nil, nil) when the row is absent, mirroring sql.ErrNoRows
// handling at the store layer.
type CatalogStore interface {
	SaveStudent(ctx context.Context, s Student) error
	GetStudent(ctx context.Context, id StudentID) (*Student, error)
	ListStudents(ctx context.Context) ([]Student, error)

	SaveInstallment(ctx context.Context, inst Installment) error
	GetInstallment(ctx context.Context, id InstallmentID) (*Installment, error)
	ListInstallmentsByCohort(ctx context.Context, entranceYear int) ([]Installment, error)
}
