/*
outgoing.go - Outgoing payment request workflow

PURPOSE:
  Handles hand-over-to-admin cash requests: a small state machine gated by
  the available cash balance.

STATE MACHINE:
  PENDING --approve--> APPROVED   (terminal)
  PENDING --reject---> REJECTED   (terminal, records a note)
  PENDING --delete--->            (removed)

  Any transition attempted on a non-PENDING request fails with an
  InvalidStateError. Approval and rejection require a distinct permission
  from creation and record actor identity and timestamp.

BALANCE GATE:
  Creation validates amountToHandOver <= availableBalance() inside the same
  store transaction that inserts the PENDING row, and snapshots
  totalCollected at that moment for audit. Without the shared transaction,
  two concurrent requests could both pass the check against a stale balance.

SEE ALSO:
  - balance.go: The gating figure
  - store.go: WithTx contract
*/
package treasury

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/HogrHonar/dormitory-ledger/authz"
	"github.com/HogrHonar/dormitory-ledger/ledger"
)

// =============================================================================
// OUTGOING REQUEST
// =============================================================================

type RequestID string

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

// OutgoingRequest is a hand-over-to-admin cash request. Once non-PENDING it
// is immutable except for the terminal fields set at transition time.
type OutgoingRequest struct {
	ID RequestID

	// TotalCollected is the available balance snapshot at submission time.
	TotalCollected   decimal.Decimal
	AmountToHandOver decimal.Decimal
	RemainingFloat   decimal.Decimal // TotalCollected - AmountToHandOver

	Status RequestStatus

	// Optional reporting period covered by the hand-over.
	PeriodStart *time.Time
	PeriodEnd   *time.Time

	RejectionNote string

	CreatedBy string
	CreatedAt time.Time

	// Set on approve/reject.
	DecidedBy string
	DecidedAt *time.Time
}

// =============================================================================
// WORKFLOW SERVICE
// =============================================================================

// Workflow orchestrates the outgoing request lifecycle.
type Workflow struct {
	Store TxStore
	Audit ledger.AuditSink
}

// CreateRequestInput carries the submission parameters.
type CreateRequestInput struct {
	AmountToHandOver decimal.Decimal
	PeriodStart      *time.Time
	PeriodEnd        *time.Time
}

// CreateRequest submits a new PENDING request after re-validating the
// balance inside the same transaction that persists it.
func (w *Workflow) CreateRequest(ctx context.Context, actor authz.Actor, in CreateRequestInput) (*OutgoingRequest, error) {
	if err := authz.Require(actor, authz.PermOutgoingCreate); err != nil {
		return nil, err
	}
	if !in.AmountToHandOver.IsPositive() {
		return nil, &ledger.ValidationError{Field: "amountToHandOver", Message: "must be positive"}
	}
	if in.PeriodStart != nil && in.PeriodEnd != nil && in.PeriodEnd.Before(*in.PeriodStart) {
		return nil, &ledger.ValidationError{Field: "period", Message: "end before start"}
	}

	amount := ledger.RoundMoney(in.AmountToHandOver)
	now := time.Now().UTC()

	req := &OutgoingRequest{
		ID:               RequestID(uuid.NewString()),
		AmountToHandOver: amount,
		Status:           RequestPending,
		PeriodStart:      in.PeriodStart,
		PeriodEnd:        in.PeriodEnd,
		CreatedBy:        actor.ID,
		CreatedAt:        now,
	}

	err := w.Store.WithTx(ctx, func(tx Store) error {
		inputs, err := tx.BalanceInputs(ctx)
		if err != nil {
			return fmt.Errorf("failed to read balance: %w", err)
		}
		available := inputs.Available()
		if amount.GreaterThan(available) {
			return &ledger.InsufficientBalanceError{
				Available: available,
				Requested: amount,
				Shortfall: amount.Sub(available),
			}
		}
		req.TotalCollected = available
		req.RemainingFloat = available.Sub(amount)
		return tx.SaveRequest(ctx, *req)
	})
	if err != nil {
		return nil, err
	}

	w.audit(ctx, "outgoing_request_created", req, actor.ID, ledger.AuditInfo,
		fmt.Sprintf("requested %s of %s collected", amount.StringFixed(ledger.MoneyPlaces),
			req.TotalCollected.StringFixed(ledger.MoneyPlaces)))
	return req, nil
}

// Approve transitions a PENDING request to APPROVED.
func (w *Workflow) Approve(ctx context.Context, actor authz.Actor, id RequestID) (*OutgoingRequest, error) {
	return w.decide(ctx, actor, id, RequestApproved, "")
}

// Reject transitions a PENDING request to REJECTED with a note.
func (w *Workflow) Reject(ctx context.Context, actor authz.Actor, id RequestID, note string) (*OutgoingRequest, error) {
	return w.decide(ctx, actor, id, RequestRejected, note)
}

func (w *Workflow) decide(ctx context.Context, actor authz.Actor, id RequestID, to RequestStatus, note string) (*OutgoingRequest, error) {
	if err := authz.Require(actor, authz.PermOutgoingApprove); err != nil {
		return nil, err
	}

	var decided *OutgoingRequest
	err := w.Store.WithTx(ctx, func(tx Store) error {
		req, err := tx.GetRequest(ctx, id)
		if err != nil {
			return err
		}
		if req == nil {
			return ledger.ErrRequestNotFound
		}
		if req.Status != RequestPending {
			return &ledger.InvalidStateError{
				Entity:     "outgoing request",
				ID:         string(id),
				Current:    string(req.Status),
				Transition: string(to),
			}
		}

		now := time.Now().UTC()
		req.Status = to
		req.DecidedBy = actor.ID
		req.DecidedAt = &now
		if to == RequestRejected {
			req.RejectionNote = note
		}
		decided = req
		return tx.SaveRequest(ctx, *req)
	})
	if err != nil {
		return nil, err
	}

	w.audit(ctx, "outgoing_request_"+string(to), decided, actor.ID, ledger.AuditInfo, note)
	return decided, nil
}

// Delete removes a PENDING request. Non-PENDING requests are part of the
// financial record and cannot be deleted.
func (w *Workflow) Delete(ctx context.Context, actor authz.Actor, id RequestID) error {
	if err := authz.Require(actor, authz.PermOutgoingDelete); err != nil {
		return err
	}

	err := w.Store.WithTx(ctx, func(tx Store) error {
		req, err := tx.GetRequest(ctx, id)
		if err != nil {
			return err
		}
		if req == nil {
			return ledger.ErrRequestNotFound
		}
		if req.Status != RequestPending {
			return &ledger.InvalidStateError{
				Entity:     "outgoing request",
				ID:         string(id),
				Current:    string(req.Status),
				Transition: "delete",
			}
		}
		return tx.DeleteRequest(ctx, id)
	})
	if err != nil {
		return err
	}

	w.audit(ctx, "outgoing_request_deleted", &OutgoingRequest{ID: id}, actor.ID, ledger.AuditWarning, "")
	return nil
}

// Get returns a request by id.
func (w *Workflow) Get(ctx context.Context, id RequestID) (*OutgoingRequest, error) {
	req, err := w.Store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, ledger.ErrRequestNotFound
	}
	return req, nil
}

// List returns requests, optionally filtered by status (empty = all).
func (w *Workflow) List(ctx context.Context, status RequestStatus) ([]OutgoingRequest, error) {
	return w.Store.ListRequests(ctx, status)
}

func (w *Workflow) audit(ctx context.Context, action string, req *OutgoingRequest, actorID string, sev ledger.AuditSeverity, desc string) {
	if w.Audit == nil {
		return
	}
	rec := ledger.AuditRecord{
		Action:      action,
		EntityType:  "outgoing_request",
		EntityID:    string(req.ID),
		ActorID:     actorID,
		Severity:    sev,
		Description: desc,
	}
	go func() {
		if err := w.Audit.Record(context.WithoutCancel(ctx), rec); err != nil {
			logSinkFailure("audit", err)
		}
	}()
}
