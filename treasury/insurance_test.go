package treasury_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HogrHonar/dormitory-ledger/authz"
	"github.com/HogrHonar/dormitory-ledger/ledger"
	"github.com/HogrHonar/dormitory-ledger/treasury"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestInsurance(t *testing.T) *treasury.Insurance {
	store, ts := newTestStore(t)
	require.NoError(t, store.SaveStudent(context.Background(), ledger.Student{
		ID: "st-1", Name: "Aram Salim", EntranceYear: 2025, Active: true,
	}))
	return &treasury.Insurance{Store: ts, Catalog: store}
}

// =============================================================================
// DEPOSIT LIFECYCLE TESTS
// =============================================================================

func TestInsurance_Open(t *testing.T) {
	ins := newTestInsurance(t)

	dep, err := ins.Open(context.Background(), treasurer, "st-1", money("200000.00"))

	require.NoError(t, err)
	assert.Equal(t, treasury.DepositActive, dep.Status)
	assert.True(t, dep.AmountPaid.Equal(money("200000.00")))
	assert.True(t, dep.AmountReturned.IsZero())
}

func TestInsurance_Open_SecondActive_Rejected(t *testing.T) {
	// GIVEN: A student with an ACTIVE deposit
	// WHEN: Opening another
	// THEN: Rejected; at most one active deposit per student

	ins := newTestInsurance(t)
	ctx := context.Background()

	_, err := ins.Open(ctx, treasurer, "st-1", money("200000.00"))
	require.NoError(t, err)

	_, err = ins.Open(ctx, treasurer, "st-1", money("200000.00"))
	assert.ErrorIs(t, err, ledger.ErrDepositActive)
}

func TestInsurance_Open_UnknownStudent_Rejected(t *testing.T) {
	ins := newTestInsurance(t)

	_, err := ins.Open(context.Background(), treasurer, "st-missing", money("200000.00"))
	assert.ErrorIs(t, err, ledger.ErrStudentNotFound)
}

func TestInsurance_Open_NonPositiveAmount_Rejected(t *testing.T) {
	ins := newTestInsurance(t)

	_, err := ins.Open(context.Background(), treasurer, "st-1", money("0"))
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestInsurance_Return_ClosesAndRefunds(t *testing.T) {
	ins := newTestInsurance(t)
	ctx := context.Background()

	dep, err := ins.Open(ctx, treasurer, "st-1", money("200000.00"))
	require.NoError(t, err)

	// Partial refund: the rest covers damages.
	closed, err := ins.Return(ctx, treasurer, dep.ID, money("150000.00"))

	require.NoError(t, err)
	assert.Equal(t, treasury.DepositReturned, closed.Status)
	assert.True(t, closed.AmountReturned.Equal(money("150000.00")))
	assert.Equal(t, "treasurer-1", closed.ClosedBy)
	require.NotNil(t, closed.ClosedAt)
}

func TestInsurance_Return_MoreThanHeld_Rejected(t *testing.T) {
	ins := newTestInsurance(t)
	ctx := context.Background()

	dep, err := ins.Open(ctx, treasurer, "st-1", money("200000.00"))
	require.NoError(t, err)

	_, err = ins.Return(ctx, treasurer, dep.ID, money("250000.00"))
	assert.ErrorIs(t, err, ledger.ErrInvalidOperation)
}

func TestInsurance_Forfeit_NoRefund(t *testing.T) {
	ins := newTestInsurance(t)
	ctx := context.Background()

	dep, err := ins.Open(ctx, treasurer, "st-1", money("200000.00"))
	require.NoError(t, err)

	closed, err := ins.Forfeit(ctx, treasurer, dep.ID)

	require.NoError(t, err)
	assert.Equal(t, treasury.DepositForfeited, closed.Status)
	assert.True(t, closed.AmountReturned.IsZero())
}

func TestInsurance_ClosedDeposit_CannotCloseAgain(t *testing.T) {
	ins := newTestInsurance(t)
	ctx := context.Background()

	dep, err := ins.Open(ctx, treasurer, "st-1", money("200000.00"))
	require.NoError(t, err)
	_, err = ins.Return(ctx, treasurer, dep.ID, money("200000.00"))
	require.NoError(t, err)

	_, err = ins.Return(ctx, treasurer, dep.ID, money("200000.00"))
	assert.ErrorIs(t, err, ledger.ErrInvalidState)

	_, err = ins.Forfeit(ctx, treasurer, dep.ID)
	assert.ErrorIs(t, err, ledger.ErrInvalidState)
}

func TestInsurance_ReopenAfterClose_Allowed(t *testing.T) {
	// A returning student gets a fresh deposit after the old one closed.
	ins := newTestInsurance(t)
	ctx := context.Background()

	dep, err := ins.Open(ctx, treasurer, "st-1", money("200000.00"))
	require.NoError(t, err)
	_, err = ins.Return(ctx, treasurer, dep.ID, money("200000.00"))
	require.NoError(t, err)

	_, err = ins.Open(ctx, treasurer, "st-1", money("250000.00"))
	require.NoError(t, err)

	deposits, err := ins.ListByStudent(ctx, "st-1")
	require.NoError(t, err)
	assert.Len(t, deposits, 2)
}

func TestInsurance_WithoutPermission_Denied(t *testing.T) {
	ins := newTestInsurance(t)

	viewer := authz.Actor{ID: "viewer-1"}
	_, err := ins.Open(context.Background(), viewer, "st-1", money("200000.00"))
	assert.ErrorIs(t, err, ledger.ErrUnauthorized)
}

func TestInsurance_Get_Unknown_NotFound(t *testing.T) {
	ins := newTestInsurance(t)

	_, err := ins.Get(context.Background(), "dep-missing")
	assert.ErrorIs(t, err, ledger.ErrDepositNotFound)
}

// =============================================================================
// EXPENSE TESTS
// =============================================================================

func TestExpenses_RecordAndList(t *testing.T) {
	_, ts := newTestStore(t)
	exp := &treasury.Expenses{Store: ts}
	ctx := context.Background()

	e, err := exp.Record(ctx, treasurer, money("75000.00"), "maintenance", "boiler repair", time.Time{})
	require.NoError(t, err)
	assert.False(t, e.SpentAt.IsZero(), "spent_at defaults to now")

	list, err := exp.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Amount.Equal(money("75000.00")))
	assert.Equal(t, "maintenance", list[0].Category)
}

func TestExpenses_Record_NonPositive_Rejected(t *testing.T) {
	_, ts := newTestStore(t)
	exp := &treasury.Expenses{Store: ts}

	_, err := exp.Record(context.Background(), treasurer, money("0"), "", "", time.Time{})
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestExpenses_Record_WithoutPermission_Denied(t *testing.T) {
	_, ts := newTestStore(t)
	exp := &treasury.Expenses{Store: ts}

	_, err := exp.Record(context.Background(), authz.Actor{ID: "viewer"}, money("1000.00"), "", "", time.Time{})
	assert.ErrorIs(t, err, ledger.ErrUnauthorized)
}
