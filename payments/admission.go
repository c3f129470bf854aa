/*
Package payments implements payment admission: the one code path that writes
payment events.

PURPOSE:
  Validates a payment intent and commits it atomically against concurrent
  writers on the same (student, installment) pair. Every write re-derives
  the pair aggregate from the authoritative event history inside the
  transaction - never from a cached status field - so the ledger invariants
  hold no matter how requests interleave.

ADMISSION ALGORITHM (inside one store transaction):
  1. Re-read the pair's event history and aggregate it
  2. effectiveDelta: +amount RECEIVE, -amount RETURN, 0 DISCOUNT
  3. newNetPaid = netPaid + delta; reject if negative
  4. newDiscount = discount + computedDiscountAmount; reject if negative
  5. netDue = max(0, obligation - newDiscount); reject if newNetPaid > netDue,
     carrying the exact remaining-due figure for user feedback
  6. Derive the status snapshot from the POST-write totals
  7. Append the event with that snapshot

CONCURRENCY:
  The store serializes writers (BEGIN IMMEDIATE / single-writer lock).
  Transient contention surfaces as ErrConflict; admission retries a bounded
  number of times with backoff before giving up.

SIDE EFFECTS:
  After commit: audit record and best-effort confirmation notification,
  both fire-and-forget. Their failure never rolls back the payment.

SEE ALSO:
  - ledger/aggregate.go: The derivation this controller re-runs
  - ledger/store.go: TxPaymentStore contract
*/
package payments

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
// ADMISSION CONTROLLER
// =============================================================================

const (
	defaultMaxAttempts  = 3
	defaultRetryBackoff = 25 * time.Millisecond
)

// AdmissionController validates and commits payment events.
type AdmissionController struct {
	Payments ledger.TxPaymentStore
	Catalog  ledger.CatalogStore
	Audit    ledger.AuditSink
	Notify   ledger.NotificationSink

	// MaxAttempts bounds retries on transient store conflicts. Zero means
	// the default.
	MaxAttempts int

	// RetryBackoff is the initial backoff between attempts; it doubles each
	// retry. Zero means the default.
	RetryBackoff time.Duration
}

// SubmitPaymentInput carries one payment intent. For KindDiscount either
// DiscountPercent or Amount must be supplied; Amount is ignored when a
// percent is given.
type SubmitPaymentInput struct {
	StudentID     ledger.StudentID
	InstallmentID ledger.InstallmentID
	Kind          ledger.PaymentKind

	Amount          decimal.Decimal
	DiscountPercent *decimal.Decimal

	Method     ledger.PaymentMethod
	ReceiptURL string

	// PaidAt defaults to now. It is the ordering key for "most recent
	// payment", kept separate from write time.
	PaidAt time.Time

	// IdempotencyKey deduplicates client retries when supplied.
	IdempotencyKey string

	Note string
}

// SubmitPayment validates the intent, commits the event atomically, and
// triggers the post-commit side effects.
func (c *AdmissionController) SubmitPayment(ctx context.Context, actor authz.Actor, in SubmitPaymentInput) (*ledger.PaymentEvent, error) {
	if err := authz.Require(actor, authz.PermPaymentsCreate); err != nil {
		return nil, err
	}
	if !in.Kind.Valid() {
		return nil, &ledger.ValidationError{Field: "kind", Message: "must be receive, return or discount"}
	}
	if !in.Method.Valid() {
		return nil, &ledger.ValidationError{Field: "method", Message: "must be cash, fib or fastpay"}
	}

	student, err := c.Catalog.GetStudent(ctx, in.StudentID)
	if err != nil {
		return nil, err
	}
	if student == nil {
		return nil, fmt.Errorf("student %s: %w", in.StudentID, ledger.ErrStudentNotFound)
	}
	installment, err := c.Catalog.GetInstallment(ctx, in.InstallmentID)
	if err != nil {
		return nil, err
	}
	if installment == nil {
		return nil, fmt.Errorf("installment %s: %w", in.InstallmentID, ledger.ErrInstallmentNotFound)
	}

	amount, err := c.resolveAmount(in, installment)
	if err != nil {
		return nil, err
	}

	paidAt := in.PaidAt
	if paidAt.IsZero() {
		paidAt = time.Now().UTC()
	}

	ev := ledger.PaymentEvent{
		ID:              ledger.EventID(uuid.NewString()),
		StudentID:       in.StudentID,
		InstallmentID:   in.InstallmentID,
		Kind:            in.Kind,
		Amount:          amount,
		Method:          in.Method,
		DiscountPercent: in.DiscountPercent,
		ReceiptURL:      in.ReceiptURL,
		PaidAt:          paidAt,
		IdempotencyKey:  in.IdempotencyKey,
		Note:            in.Note,
		CreatedBy:       actor.ID,
		CreatedAt:       time.Now().UTC(),
	}

	if err := c.commitWithRetry(ctx, &ev, installment.Amount); err != nil {
		return nil, err
	}

	c.afterCommit(ctx, ev, student)
	return &ev, nil
}

// resolveAmount validates kind-specific rules and returns the amount the
// event stores: the raw amount for RECEIVE/RETURN, the computed discount
// amount for DISCOUNT.
func (c *AdmissionController) resolveAmount(in SubmitPaymentInput, installment *ledger.Installment) (decimal.Decimal, error) {
	switch in.Kind {
	case ledger.KindReceive, ledger.KindReturn:
		if !in.Amount.IsPositive() {
			return decimal.Zero, &ledger.ValidationError{Field: "amount", Message: "must be positive"}
		}
		return ledger.RoundMoney(in.Amount), nil

	case ledger.KindDiscount:
		if in.ReceiptURL == "" {
			return decimal.Zero, &ledger.ValidationError{Field: "receiptUrl", Message: "required for discounts"}
		}
		if in.DiscountPercent != nil {
			pct := *in.DiscountPercent
			if !pct.IsPositive() || pct.GreaterThan(decimal.NewFromInt(100)) {
				return decimal.Zero, &ledger.ValidationError{Field: "discountPercent", Message: "must be in (0, 100]"}
			}
			return ledger.RoundMoney(installment.Amount.Mul(pct).Div(decimal.NewFromInt(100))), nil
		}
		if in.Amount.IsNegative() {
			return decimal.Zero, &ledger.ValidationError{Field: "amount", Message: "discount amount must not be negative"}
		}
		return ledger.RoundMoney(in.Amount), nil
	}
	return decimal.Zero, &ledger.ValidationError{Field: "kind", Message: "unknown payment kind"}
}

// commitWithRetry runs the admission transaction, retrying bounded times on
// transient store conflicts. Invariant violations are final on first sight.
func (c *AdmissionController) commitWithRetry(ctx context.Context, ev *ledger.PaymentEvent, obligation decimal.Decimal) error {
	attempts := c.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	backoff := c.RetryBackoff
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}

	var err error
	for i := 0; i < attempts; i++ {
		err = c.commit(ctx, ev, obligation)
		if err == nil || !ledger.IsRetryable(err) {
			return err
		}
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// commit is the atomic critical section: re-read, validate, append.
func (c *AdmissionController) commit(ctx context.Context, ev *ledger.PaymentEvent, obligation decimal.Decimal) error {
	return c.Payments.WithTx(ctx, func(tx ledger.PaymentStore) error {
		history, err := tx.LoadPair(ctx, ev.StudentID, ev.InstallmentID)
		if err != nil {
			return fmt.Errorf("failed to load pair history: %w", err)
		}
		agg := ledger.AggregatePair(ev.StudentID, ev.InstallmentID, obligation, history)

		var delta decimal.Decimal
		switch ev.Kind {
		case ledger.KindReceive:
			delta = ev.Amount
		case ledger.KindReturn:
			delta = ev.Amount.Neg()
		case ledger.KindDiscount:
			delta = decimal.Zero
		}

		newNetPaid := agg.NetPaid.Add(delta)
		if newNetPaid.IsNegative() {
			return &ledger.ExcessReturnError{
				StudentID:     ev.StudentID,
				InstallmentID: ev.InstallmentID,
				NetPaid:       agg.NetPaid,
				Attempted:     ev.Amount,
			}
		}

		newDiscount := agg.Discount
		if ev.Kind == ledger.KindDiscount {
			newDiscount = newDiscount.Add(ev.Amount)
		}
		if newDiscount.IsNegative() {
			// Unreachable given input validation; kept as an invariant check.
			return &ledger.ValidationError{Field: "discount", Message: "total discount would be negative"}
		}

		netDue := obligation.Sub(newDiscount)
		if netDue.IsNegative() {
			netDue = decimal.Zero
		}
		if newNetPaid.GreaterThan(netDue) {
			remaining := netDue.Sub(agg.NetPaid)
			if remaining.IsNegative() {
				remaining = decimal.Zero
			}
			return &ledger.ExcessPaymentError{
				StudentID:     ev.StudentID,
				InstallmentID: ev.InstallmentID,
				RemainingDue:  remaining,
				Attempted:     ev.Amount,
			}
		}

		remainingAfter := netDue.Sub(newNetPaid)
		if remainingAfter.IsNegative() {
			remainingAfter = decimal.Zero
		}
		ev.Status = ledger.DeriveStatus(newNetPaid, newDiscount, remainingAfter)

		return tx.Append(ctx, *ev)
	})
}

// afterCommit fires the audit record and the confirmation notification.
// Both are best-effort: failures are logged and swallowed.
func (c *AdmissionController) afterCommit(ctx context.Context, ev ledger.PaymentEvent, student *ledger.Student) {
	detached := context.WithoutCancel(ctx)

	if c.Audit != nil {
		rec := ledger.AuditRecord{
			Action:     "payment_" + string(ev.Kind),
			EntityType: "payment_event",
			EntityID:   string(ev.ID),
			ActorID:    ev.CreatedBy,
			NewValues: map[string]any{
				"student_id":     string(ev.StudentID),
				"installment_id": string(ev.InstallmentID),
				"amount":         ev.Amount.StringFixed(ledger.MoneyPlaces),
				"status":         string(ev.Status),
			},
			Severity:    ledger.AuditInfo,
			Description: fmt.Sprintf("%s %s on installment %s", ev.Kind, ev.Amount.StringFixed(ledger.MoneyPlaces), ev.InstallmentID),
		}
		go func() {
			if err := c.Audit.Record(detached, rec); err != nil {
				log.Printf("[Admission] audit sink failed: %v", err)
			}
		}()
	}

	if c.Notify != nil {
		n := ledger.Notification{
			Recipient: student.Email,
			Template:  "payment_confirmation",
			Data: map[string]string{
				"student":     student.Name,
				"kind":        string(ev.Kind),
				"amount":      ev.Amount.StringFixed(ledger.MoneyPlaces),
				"installment": string(ev.InstallmentID),
			},
		}
		go func() {
			if err := c.Notify.Notify(detached, n); err != nil {
				log.Printf("[Admission] notification sink failed: %v", err)
			}
		}()
	}
}

// =============================================================================
// READ SIDE - Aggregates served to the UI
// =============================================================================

// PairAggregate re-derives the current state of one pair.
func (c *AdmissionController) PairAggregate(ctx context.Context, studentID ledger.StudentID, installmentID ledger.InstallmentID) (*ledger.PairAggregate, error) {
	installment, err := c.Catalog.GetInstallment(ctx, installmentID)
	if err != nil {
		return nil, err
	}
	if installment == nil {
		return nil, fmt.Errorf("installment %s: %w", installmentID, ledger.ErrInstallmentNotFound)
	}
	events, err := c.Payments.LoadPair(ctx, studentID, installmentID)
	if err != nil {
		return nil, err
	}
	agg := ledger.AggregatePair(studentID, installmentID, installment.Amount, events)
	return &agg, nil
}

// StudentAggregate re-derives the roll-up across the student's cohort
// installments.
func (c *AdmissionController) StudentAggregate(ctx context.Context, studentID ledger.StudentID) (*ledger.StudentAggregate, error) {
	student, err := c.Catalog.GetStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if student == nil {
		return nil, fmt.Errorf("student %s: %w", studentID, ledger.ErrStudentNotFound)
	}
	installments, err := c.Catalog.ListInstallmentsByCohort(ctx, student.EntranceYear)
	if err != nil {
		return nil, err
	}
	events, err := c.Payments.LoadByStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	agg := ledger.AggregateStudent(studentID, installments, events)
	return &agg, nil
}
