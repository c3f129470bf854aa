package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HogrHonar/dormitory-ledger/authz"
	"github.com/HogrHonar/dormitory-ledger/ledger"
	"github.com/HogrHonar/dormitory-ledger/ledger/store"
	"github.com/HogrHonar/dormitory-ledger/payments"
	"github.com/HogrHonar/dormitory-ledger/treasury"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var accountant = authz.Actor{
	ID:          "acct-1",
	Permissions: authz.AllPermissions(),
}

func money(s string) decimal.Decimal {
	return ledger.MustParseMoney(s)
}

func event(id, key, amount string) ledger.PaymentEvent {
	return ledger.PaymentEvent{
		ID:             ledger.EventID(id),
		StudentID:      "st-1",
		InstallmentID:  "q1",
		Kind:           ledger.KindReceive,
		Amount:         money(amount),
		Method:         ledger.MethodCash,
		Status:         ledger.StatusPartiallyPaid,
		PaidAt:         time.Now().UTC(),
		IdempotencyKey: key,
	}
}

// =============================================================================
// TRANSACTION SEMANTICS
// =============================================================================

func TestMemory_WithTx_DiscardsStagedWritesOnError(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	boom := errors.New("boom")
	err := m.WithTx(ctx, func(tx ledger.PaymentStore) error {
		require.NoError(t, tx.Append(ctx, event("e1", "", "1000.00")))
		return boom
	})
	require.ErrorIs(t, err, boom)

	events, err := m.LoadPair(ctx, "st-1", "q1")
	require.NoError(t, err)
	assert.Empty(t, events, "failed transaction must leave no trace")
}

func TestMemory_WithTx_CommitsOnSuccess(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	err := m.WithTx(ctx, func(tx ledger.PaymentStore) error {
		return tx.Append(ctx, event("e1", "", "1000.00"))
	})
	require.NoError(t, err)

	events, err := m.LoadPair(ctx, "st-1", "q1")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestMemory_IdempotencyKey_AcrossAndWithinTx(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, m.Append(ctx, event("e1", "key-1", "1000.00")))

	// Committed key seen inside a transaction.
	err := m.WithTx(ctx, func(tx ledger.PaymentStore) error {
		return tx.Append(ctx, event("e2", "key-1", "1000.00"))
	})
	assert.ErrorIs(t, err, ledger.ErrDuplicateIdempotencyKey)

	// Staged key seen by a later staged write.
	err = m.WithTx(ctx, func(tx ledger.PaymentStore) error {
		if err := tx.Append(ctx, event("e3", "key-2", "1000.00")); err != nil {
			return err
		}
		return tx.Append(ctx, event("e4", "key-2", "1000.00"))
	})
	assert.ErrorIs(t, err, ledger.ErrDuplicateIdempotencyKey)
}

func TestMemoryTreasury_WithTx_DiscardsStagedWritesOnError(t *testing.T) {
	m := store.NewMemory()
	ts := m.Treasury()
	ctx := context.Background()

	boom := errors.New("boom")
	err := ts.WithTx(ctx, func(tx treasury.Store) error {
		require.NoError(t, tx.SaveRequest(ctx, treasury.OutgoingRequest{
			ID: "req-1", AmountToHandOver: money("1000.00"),
			TotalCollected: money("1000.00"), RemainingFloat: decimal.Zero,
			Status: treasury.RequestPending, CreatedAt: time.Now().UTC(),
		}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := ts.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

// =============================================================================
// FULL FLOWS ON THE MEMORY STORE
// =============================================================================

func TestMemory_SupportsPaymentAdmission(t *testing.T) {
	// The memory store must uphold the same invariants as SQLite so tests
	// built on it stay honest.
	m := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, m.SaveStudent(ctx, ledger.Student{
		ID: "st-1", Name: "Aram Salim", EntranceYear: 2025, Active: true,
	}))
	require.NoError(t, m.SaveInstallment(ctx, ledger.Installment{
		ID: "q1", EntranceYear: 2025, Ordinal: 1, Amount: money("250000.00"),
	}))

	c := &payments.AdmissionController{Payments: m, Catalog: m}

	ev, err := c.SubmitPayment(ctx, accountant, payments.SubmitPaymentInput{
		StudentID: "st-1", InstallmentID: "q1", Kind: ledger.KindReceive,
		Amount: money("250000.00"), Method: ledger.MethodCash,
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPaid, ev.Status)

	_, err = c.SubmitPayment(ctx, accountant, payments.SubmitPaymentInput{
		StudentID: "st-1", InstallmentID: "q1", Kind: ledger.KindReceive,
		Amount: money("1.00"), Method: ledger.MethodCash,
	})
	var excess *ledger.ExcessPaymentError
	assert.ErrorAs(t, err, &excess)
}

func TestMemory_SupportsOutgoingWorkflow(t *testing.T) {
	m := store.NewMemory()
	ts := m.Treasury()
	ctx := context.Background()

	require.NoError(t, m.Append(ctx, event("funding", "", "500000.00")))

	wf := &treasury.Workflow{Store: ts}
	req, err := wf.CreateRequest(ctx, accountant, treasury.CreateRequestInput{
		AmountToHandOver: money("300000.00"),
	})
	require.NoError(t, err)

	_, err = wf.Approve(ctx, accountant, req.ID)
	require.NoError(t, err)

	calc := &treasury.BalanceCalculator{Store: ts}
	available, _, err := calc.Available(ctx)
	require.NoError(t, err)
	assert.True(t, available.Equal(money("200000.00")))
}
