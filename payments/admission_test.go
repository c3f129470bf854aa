package payments_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HogrHonar/dormitory-ledger/authz"
	"github.com/HogrHonar/dormitory-ledger/ledger"
	"github.com/HogrHonar/dormitory-ledger/payments"
	"github.com/HogrHonar/dormitory-ledger/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var accountant = authz.Actor{
	ID:          "acct-1",
	Permissions: authz.NewSet(authz.PermPaymentsCreate),
}

func money(s string) decimal.Decimal {
	return ledger.MustParseMoney(s)
}

// newTestController seeds one student and one 250,000 installment.
func newTestController(t *testing.T) (*payments.AdmissionController, *sqlite.Store) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	require.NoError(t, store.SaveStudent(ctx, ledger.Student{
		ID: "st-1", Name: "Aram Salim", EntranceYear: 2025, Active: true,
	}))
	require.NoError(t, store.SaveInstallment(ctx, ledger.Installment{
		ID: "q1", EntranceYear: 2025, Ordinal: 1, Title: "First installment",
		Amount: money("250000.00"),
	}))

	return &payments.AdmissionController{Payments: store, Catalog: store}, store
}

func receive(amount string) payments.SubmitPaymentInput {
	return payments.SubmitPaymentInput{
		StudentID:     "st-1",
		InstallmentID: "q1",
		Kind:          ledger.KindReceive,
		Amount:        money(amount),
		Method:        ledger.MethodCash,
	}
}

// =============================================================================
// ADMISSION TESTS
// =============================================================================

func TestSubmitPayment_FullPayment_Paid(t *testing.T) {
	c, _ := newTestController(t)
	ctx := context.Background()

	ev, err := c.SubmitPayment(ctx, accountant, receive("250000.00"))
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPaid, ev.Status)

	agg, err := c.PairAggregate(ctx, "st-1", "q1")
	require.NoError(t, err)
	assert.True(t, agg.Remaining.IsZero())
	assert.Equal(t, ledger.StatusPaid, agg.Status)
}

func TestSubmitPayment_PartialThenRest(t *testing.T) {
	c, _ := newTestController(t)
	ctx := context.Background()

	ev, err := c.SubmitPayment(ctx, accountant, receive("100000.00"))
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPartiallyPaid, ev.Status)

	ev, err = c.SubmitPayment(ctx, accountant, receive("150000.00"))
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPaid, ev.Status)
}

func TestSubmitPayment_Overpayment_Rejected(t *testing.T) {
	// GIVEN: An installment already fully paid
	// WHEN: Submitting one more dinar
	// THEN: Rejected with remaining due of zero, and the ledger is unchanged

	c, _ := newTestController(t)
	ctx := context.Background()

	_, err := c.SubmitPayment(ctx, accountant, receive("250000.00"))
	require.NoError(t, err)

	_, err = c.SubmitPayment(ctx, accountant, receive("1.00"))
	var excess *ledger.ExcessPaymentError
	require.ErrorAs(t, err, &excess)
	assert.True(t, excess.RemainingDue.IsZero())

	agg, err := c.PairAggregate(ctx, "st-1", "q1")
	require.NoError(t, err)
	assert.True(t, agg.NetPaid.Equal(money("250000.00")), "rejected event must not land")
}

func TestSubmitPayment_Overpayment_ReportsRemainingBeforeAttempt(t *testing.T) {
	// The error carries how much was actually still owed, so the operator
	// can resubmit the right amount.
	c, _ := newTestController(t)
	ctx := context.Background()

	_, err := c.SubmitPayment(ctx, accountant, receive("200000.00"))
	require.NoError(t, err)

	_, err = c.SubmitPayment(ctx, accountant, receive("100000.00"))
	var excess *ledger.ExcessPaymentError
	require.ErrorAs(t, err, &excess)
	assert.True(t, excess.RemainingDue.Equal(money("50000.00")))
	assert.True(t, excess.Attempted.Equal(money("100000.00")))
}

func TestSubmitPayment_ReturnExceedingNetPaid_Rejected(t *testing.T) {
	// GIVEN: 100,000 paid so far
	// WHEN: Returning 150,000
	// THEN: Rejected, net paid can never go negative

	c, _ := newTestController(t)
	ctx := context.Background()

	_, err := c.SubmitPayment(ctx, accountant, receive("100000.00"))
	require.NoError(t, err)

	in := receive("150000.00")
	in.Kind = ledger.KindReturn
	_, err = c.SubmitPayment(ctx, accountant, in)

	var excess *ledger.ExcessReturnError
	require.ErrorAs(t, err, &excess)
	assert.True(t, excess.NetPaid.Equal(money("100000.00")))
}

func TestSubmitPayment_ReturnReopensInstallment(t *testing.T) {
	c, _ := newTestController(t)
	ctx := context.Background()

	_, err := c.SubmitPayment(ctx, accountant, receive("250000.00"))
	require.NoError(t, err)

	in := receive("50000.00")
	in.Kind = ledger.KindReturn
	ev, err := c.SubmitPayment(ctx, accountant, in)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPartiallyPaid, ev.Status)
}

// =============================================================================
// DISCOUNT TESTS
// =============================================================================

func TestSubmitPayment_PercentDiscount_ComputesAmount(t *testing.T) {
	// GIVEN: A 50% discount on a 250,000 installment
	// THEN: The stored event amount is 125,000 and the rest settles in cash

	c, _ := newTestController(t)
	ctx := context.Background()

	pct := decimal.NewFromInt(50)
	ev, err := c.SubmitPayment(ctx, accountant, payments.SubmitPaymentInput{
		StudentID:       "st-1",
		InstallmentID:   "q1",
		Kind:            ledger.KindDiscount,
		DiscountPercent: &pct,
		Method:          ledger.MethodCash,
		ReceiptURL:      "https://receipts.example/waiver-1.pdf",
	})
	require.NoError(t, err)
	assert.True(t, ev.Amount.Equal(money("125000.00")))
	assert.Equal(t, ledger.StatusPartiallyPaid, ev.Status)

	ev, err = c.SubmitPayment(ctx, accountant, receive("125000.00"))
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPaid, ev.Status)
}

func TestSubmitPayment_PercentDiscount_RoundsHalfUp(t *testing.T) {
	c, _ := newTestController(t)
	ctx := context.Background()

	pct := decimal.NewFromFloat(33.333)
	ev, err := c.SubmitPayment(ctx, accountant, payments.SubmitPaymentInput{
		StudentID:       "st-1",
		InstallmentID:   "q1",
		Kind:            ledger.KindDiscount,
		DiscountPercent: &pct,
		Method:          ledger.MethodCash,
		ReceiptURL:      "https://receipts.example/waiver-2.pdf",
	})
	require.NoError(t, err)
	// 250,000 * 33.333% = 83,332.50
	assert.True(t, ev.Amount.Equal(money("83332.50")))
}

func TestSubmitPayment_DiscountWithoutReceipt_Rejected(t *testing.T) {
	c, _ := newTestController(t)

	pct := decimal.NewFromInt(10)
	_, err := c.SubmitPayment(context.Background(), accountant, payments.SubmitPaymentInput{
		StudentID:       "st-1",
		InstallmentID:   "q1",
		Kind:            ledger.KindDiscount,
		DiscountPercent: &pct,
		Method:          ledger.MethodCash,
	})
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestSubmitPayment_DiscountPercentOutOfRange_Rejected(t *testing.T) {
	c, _ := newTestController(t)

	for _, raw := range []string{"0", "-5", "101"} {
		pct := money(raw)
		_, err := c.SubmitPayment(context.Background(), accountant, payments.SubmitPaymentInput{
			StudentID:       "st-1",
			InstallmentID:   "q1",
			Kind:            ledger.KindDiscount,
			DiscountPercent: &pct,
			Method:          ledger.MethodCash,
			ReceiptURL:      "https://receipts.example/waiver-3.pdf",
		})
		assert.ErrorIs(t, err, ledger.ErrValidation, "percent %s should be rejected", raw)
	}
}

func TestSubmitPayment_StatusEquivalence_CashAndDiscountPaths(t *testing.T) {
	// GIVEN: Two students settling the same installment, one in cash only,
	//        one half-waived half-cash
	// THEN: Both pairs read PAID with zero remaining

	c, store := newTestController(t)
	ctx := context.Background()
	require.NoError(t, store.SaveStudent(ctx, ledger.Student{
		ID: "st-2", Name: "Dilan Omar", EntranceYear: 2025, Active: true,
	}))

	_, err := c.SubmitPayment(ctx, accountant, receive("250000.00"))
	require.NoError(t, err)

	pct := decimal.NewFromInt(50)
	_, err = c.SubmitPayment(ctx, accountant, payments.SubmitPaymentInput{
		StudentID: "st-2", InstallmentID: "q1", Kind: ledger.KindDiscount,
		DiscountPercent: &pct, Method: ledger.MethodCash,
		ReceiptURL: "https://receipts.example/waiver-4.pdf",
	})
	require.NoError(t, err)
	_, err = c.SubmitPayment(ctx, accountant, payments.SubmitPaymentInput{
		StudentID: "st-2", InstallmentID: "q1", Kind: ledger.KindReceive,
		Amount: money("125000.00"), Method: ledger.MethodFIB,
	})
	require.NoError(t, err)

	for _, sid := range []ledger.StudentID{"st-1", "st-2"} {
		agg, err := c.PairAggregate(ctx, sid, "q1")
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusPaid, agg.Status, "student %s", sid)
		assert.True(t, agg.Remaining.IsZero(), "student %s", sid)
	}
}

// =============================================================================
// VALIDATION AND LOOKUP TESTS
// =============================================================================

func TestSubmitPayment_InvalidInput_Rejected(t *testing.T) {
	c, _ := newTestController(t)
	ctx := context.Background()

	in := receive("100000.00")
	in.Kind = "bribe"
	_, err := c.SubmitPayment(ctx, accountant, in)
	assert.ErrorIs(t, err, ledger.ErrValidation)

	in = receive("100000.00")
	in.Method = "barter"
	_, err = c.SubmitPayment(ctx, accountant, in)
	assert.ErrorIs(t, err, ledger.ErrValidation)

	in = receive("0")
	_, err = c.SubmitPayment(ctx, accountant, in)
	assert.ErrorIs(t, err, ledger.ErrValidation)

	in = receive("-500.00")
	_, err = c.SubmitPayment(ctx, accountant, in)
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestSubmitPayment_UnknownStudentOrInstallment(t *testing.T) {
	c, _ := newTestController(t)
	ctx := context.Background()

	in := receive("100000.00")
	in.StudentID = "st-missing"
	_, err := c.SubmitPayment(ctx, accountant, in)
	assert.ErrorIs(t, err, ledger.ErrStudentNotFound)

	in = receive("100000.00")
	in.InstallmentID = "q-missing"
	_, err = c.SubmitPayment(ctx, accountant, in)
	assert.ErrorIs(t, err, ledger.ErrInstallmentNotFound)
}

func TestSubmitPayment_WithoutPermission_Denied(t *testing.T) {
	c, _ := newTestController(t)

	viewer := authz.Actor{ID: "viewer-1"}
	_, err := c.SubmitPayment(context.Background(), viewer, receive("100000.00"))
	assert.ErrorIs(t, err, ledger.ErrUnauthorized)
}

func TestSubmitPayment_DuplicateIdempotencyKey_Rejected(t *testing.T) {
	c, _ := newTestController(t)
	ctx := context.Background()

	in := receive("100000.00")
	in.IdempotencyKey = "retry-abc"
	_, err := c.SubmitPayment(ctx, accountant, in)
	require.NoError(t, err)

	_, err = c.SubmitPayment(ctx, accountant, in)
	assert.ErrorIs(t, err, ledger.ErrDuplicateIdempotencyKey)

	agg, err := c.PairAggregate(ctx, "st-1", "q1")
	require.NoError(t, err)
	assert.True(t, agg.NetPaid.Equal(money("100000.00")), "retry must not double-count")
}

// =============================================================================
// CONCURRENCY TESTS
// =============================================================================

func TestSubmitPayment_ConcurrentFullPayments_ExactlyOneLands(t *testing.T) {
	// GIVEN: Five concurrent attempts to fully pay the same installment
	// THEN: Exactly one lands; the rest fail as overpayments

	c, _ := newTestController(t)
	ctx := context.Background()

	const writers = 5
	errs := make([]error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.SubmitPayment(ctx, accountant, receive("250000.00"))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		var excess *ledger.ExcessPaymentError
		assert.True(t, errors.As(err, &excess), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, succeeded)

	agg, err := c.PairAggregate(ctx, "st-1", "q1")
	require.NoError(t, err)
	assert.True(t, agg.NetPaid.Equal(money("250000.00")))
	assert.Equal(t, ledger.StatusPaid, agg.Status)
}

// =============================================================================
// STUDENT SUMMARY TESTS
// =============================================================================

func TestStudentAggregate_CoversCohortInstallments(t *testing.T) {
	c, store := newTestController(t)
	ctx := context.Background()
	require.NoError(t, store.SaveInstallment(ctx, ledger.Installment{
		ID: "q2", EntranceYear: 2025, Ordinal: 2, Title: "Second installment",
		Amount: money("250000.00"),
	}))

	_, err := c.SubmitPayment(ctx, accountant, receive("250000.00"))
	require.NoError(t, err)

	agg, err := c.StudentAggregate(ctx, "st-1")
	require.NoError(t, err)
	require.Len(t, agg.Pairs, 2)
	assert.True(t, agg.TotalObligation.Equal(money("500000.00")))
	assert.True(t, agg.TotalRemaining.Equal(money("250000.00")))
	assert.Equal(t, ledger.StatusPaid, agg.Pairs[0].Status)
	assert.Equal(t, ledger.StatusNotPaid, agg.Pairs[1].Status)
}
