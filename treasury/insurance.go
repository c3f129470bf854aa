/*
insurance.go - Refundable insurance deposits

PURPOSE:
  Each student may hold at most one ACTIVE insurance deposit at a time. The
  deposit feeds the cash balance while held; on closure it either refunds
  (RETURNED, partial or full) or forfeits (FORFEITED, zero refund). Only
  refunds of RETURNED deposits leave the balance.

LIFECYCLE:
  ACTIVE --return(amount)--> RETURNED   (terminal, amountReturned <= amountPaid)
  ACTIVE --forfeit--------> FORFEITED   (terminal, amountReturned = 0)

  Transitions on a non-ACTIVE deposit fail with InvalidStateError. The
  single-ACTIVE invariant is checked in the opening transaction and backed
  by a partial unique index in the SQLite store.

SEE ALSO:
  - balance.go: How deposits enter the balance formula
  - store/sqlite/sqlite.go: idx_deposits_single_active
*/
package treasury

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/HogrHonar/dormitory-ledger/authz"
	"github.com/HogrHonar/dormitory-ledger/ledger"
)

// =============================================================================
// INSURANCE DEPOSIT
// =============================================================================

type DepositID string

type DepositStatus string

const (
	DepositActive    DepositStatus = "active"
	DepositReturned  DepositStatus = "returned"
	DepositForfeited DepositStatus = "forfeited"
)

type InsuranceDeposit struct {
	ID        DepositID
	StudentID ledger.StudentID

	AmountPaid     decimal.Decimal
	AmountReturned decimal.Decimal // zero unless status is RETURNED

	Status DepositStatus

	OpenedAt time.Time
	ClosedAt *time.Time
	ClosedBy string
}

// =============================================================================
// INSURANCE SERVICE
// =============================================================================

// Insurance manages deposit lifecycle.
type Insurance struct {
	Store   TxStore
	Catalog ledger.CatalogStore
	Audit   ledger.AuditSink
}

// Open creates an ACTIVE deposit for a student. Fails with ErrDepositActive
// if one is already held.
func (s *Insurance) Open(ctx context.Context, actor authz.Actor, studentID ledger.StudentID, amount decimal.Decimal) (*InsuranceDeposit, error) {
	if err := authz.Require(actor, authz.PermInsuranceManage); err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, &ledger.ValidationError{Field: "amountPaid", Message: "must be positive"}
	}
	if s.Catalog != nil {
		student, err := s.Catalog.GetStudent(ctx, studentID)
		if err != nil {
			return nil, err
		}
		if student == nil {
			return nil, ledger.ErrStudentNotFound
		}
	}

	dep := &InsuranceDeposit{
		ID:             DepositID(uuid.NewString()),
		StudentID:      studentID,
		AmountPaid:     ledger.RoundMoney(amount),
		AmountReturned: decimal.Zero,
		Status:         DepositActive,
		OpenedAt:       time.Now().UTC(),
	}

	err := s.Store.WithTx(ctx, func(tx Store) error {
		active, err := tx.ActiveDeposit(ctx, studentID)
		if err != nil {
			return err
		}
		if active != nil {
			return fmt.Errorf("deposit %s: %w", active.ID, ledger.ErrDepositActive)
		}
		return tx.SaveDeposit(ctx, *dep)
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, "insurance_deposit_opened", dep, actor.ID,
		fmt.Sprintf("deposit %s held for student %s", dep.AmountPaid.StringFixed(ledger.MoneyPlaces), studentID))
	return dep, nil
}

// Return closes an ACTIVE deposit with a refund. The refund may be partial;
// it may not exceed the amount held.
func (s *Insurance) Return(ctx context.Context, actor authz.Actor, id DepositID, amountReturned decimal.Decimal) (*InsuranceDeposit, error) {
	if amountReturned.IsNegative() {
		return nil, &ledger.ValidationError{Field: "amountReturned", Message: "must not be negative"}
	}
	return s.close(ctx, actor, id, DepositReturned, ledger.RoundMoney(amountReturned))
}

// Forfeit closes an ACTIVE deposit with no refund.
func (s *Insurance) Forfeit(ctx context.Context, actor authz.Actor, id DepositID) (*InsuranceDeposit, error) {
	return s.close(ctx, actor, id, DepositForfeited, decimal.Zero)
}

func (s *Insurance) close(ctx context.Context, actor authz.Actor, id DepositID, to DepositStatus, refund decimal.Decimal) (*InsuranceDeposit, error) {
	if err := authz.Require(actor, authz.PermInsuranceManage); err != nil {
		return nil, err
	}

	var closed *InsuranceDeposit
	err := s.Store.WithTx(ctx, func(tx Store) error {
		dep, err := tx.GetDeposit(ctx, id)
		if err != nil {
			return err
		}
		if dep == nil {
			return ledger.ErrDepositNotFound
		}
		if dep.Status != DepositActive {
			return &ledger.InvalidStateError{
				Entity:     "insurance deposit",
				ID:         string(id),
				Current:    string(dep.Status),
				Transition: string(to),
			}
		}
		if refund.GreaterThan(dep.AmountPaid) {
			return fmt.Errorf("refund %s exceeds deposit %s: %w",
				refund.StringFixed(ledger.MoneyPlaces),
				dep.AmountPaid.StringFixed(ledger.MoneyPlaces),
				ledger.ErrInvalidOperation)
		}

		now := time.Now().UTC()
		dep.Status = to
		dep.AmountReturned = refund
		dep.ClosedAt = &now
		dep.ClosedBy = actor.ID
		closed = dep
		return tx.SaveDeposit(ctx, *dep)
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, "insurance_deposit_"+string(to), closed, actor.ID,
		fmt.Sprintf("refunded %s", refund.StringFixed(ledger.MoneyPlaces)))
	return closed, nil
}

// Get returns a deposit by id.
func (s *Insurance) Get(ctx context.Context, id DepositID) (*InsuranceDeposit, error) {
	dep, err := s.Store.GetDeposit(ctx, id)
	if err != nil {
		return nil, err
	}
	if dep == nil {
		return nil, ledger.ErrDepositNotFound
	}
	return dep, nil
}

// ListByStudent returns a student's deposits, newest first.
func (s *Insurance) ListByStudent(ctx context.Context, studentID ledger.StudentID) ([]InsuranceDeposit, error) {
	return s.Store.ListDeposits(ctx, studentID)
}

func (s *Insurance) audit(ctx context.Context, action string, dep *InsuranceDeposit, actorID, desc string) {
	if s.Audit == nil {
		return
	}
	rec := ledger.AuditRecord{
		Action:      action,
		EntityType:  "insurance_deposit",
		EntityID:    string(dep.ID),
		ActorID:     actorID,
		Severity:    ledger.AuditInfo,
		Description: desc,
	}
	go func() {
		if err := s.Audit.Record(context.WithoutCancel(ctx), rec); err != nil {
			logSinkFailure("audit", err)
		}
	}()
}

// logSinkFailure logs a fire-and-forget side effect that failed. The main
// operation has already committed; nothing propagates.
func logSinkFailure(sink string, err error) {
	log.Printf("[Treasury] %s sink failed: %v", sink, err)
}
