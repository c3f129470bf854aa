package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HogrHonar/dormitory-ledger/api"
	"github.com/HogrHonar/dormitory-ledger/payments"
	"github.com/HogrHonar/dormitory-ledger/store/sqlite"
	"github.com/HogrHonar/dormitory-ledger/treasury"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestServer(t *testing.T) http.Handler {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ts := store.Treasury()
	handler := &api.Handler{
		Payments:  &payments.AdmissionController{Payments: store, Catalog: store},
		Outgoing:  &treasury.Workflow{Store: ts},
		Insurance: &treasury.Insurance{Store: ts, Catalog: store},
		Expenses:  &treasury.Expenses{Store: ts},
		Balance:   &treasury.BalanceCalculator{Store: ts},
		Catalog:   store,
		Events:    store,
	}
	return api.NewRouter(handler)
}

// do sends a JSON request with the given role headers and decodes the
// response body into out (if non-nil).
func do(t *testing.T, h http.Handler, method, path, role string, body, out any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set("X-Actor-ID", "user-"+role)
		req.Header.Set("X-Actor-Role", role)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if out != nil {
		require.NoError(t, json.NewDecoder(rec.Body).Decode(out),
			"body: %s", rec.Body.String())
	}
	return rec
}

// eqMoney compares two decimal strings by value, ignoring trailing zeros.
func eqMoney(t *testing.T, want, got string) {
	t.Helper()
	w, err := decimal.NewFromString(want)
	require.NoError(t, err)
	g, err := decimal.NewFromString(got)
	require.NoError(t, err, "got %q", got)
	assert.True(t, w.Equal(g), "want %s, got %s", want, got)
}

func seedCatalog(t *testing.T, h http.Handler) {
	t.Helper()
	rec := do(t, h, "POST", "/api/students", "admin", api.CreateStudentRequest{
		ID: "st-1", Name: "Aram Salim", EntranceYear: 2025,
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, h, "POST", "/api/installments", "admin", api.CreateInstallmentRequest{
		ID: "q1", EntranceYear: 2025, Ordinal: 1, Title: "First installment",
		Amount: "250000.00",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

// =============================================================================
// AUTHORIZATION TESTS
// =============================================================================

func TestAPI_MutationsRequireRole(t *testing.T) {
	h := newTestServer(t)

	rec := do(t, h, "POST", "/api/students", "", api.CreateStudentRequest{
		ID: "st-1", Name: "Aram Salim", EntranceYear: 2025,
	}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, h, "POST", "/api/payments", "", api.SubmitPaymentRequest{
		StudentID: "st-1", InstallmentID: "q1", Kind: "receive",
		Method: "cash", Amount: "1000.00",
	}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAPI_AccountantCannotApproveOutgoing(t *testing.T) {
	h := newTestServer(t)
	seedCatalog(t, h)

	rec := do(t, h, "POST", "/api/payments", "accountant", api.SubmitPaymentRequest{
		StudentID: "st-1", InstallmentID: "q1", Kind: "receive",
		Method: "cash", Amount: "250000.00",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created api.OutgoingRequestDTO
	rec = do(t, h, "POST", "/api/outgoing", "accountant", api.CreateOutgoingRequest{
		AmountToHandOver: "100000.00",
	}, &created)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, h, "POST", "/api/outgoing/"+created.ID+"/approve", "accountant", nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, h, "POST", "/api/outgoing/"+created.ID+"/approve", "supervisor", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

// =============================================================================
// PAYMENT ENDPOINT TESTS
// =============================================================================

func TestAPI_SubmitPayment_FullFlow(t *testing.T) {
	h := newTestServer(t)
	seedCatalog(t, h)

	var ev api.PaymentEventDTO
	rec := do(t, h, "POST", "/api/payments", "accountant", api.SubmitPaymentRequest{
		StudentID: "st-1", InstallmentID: "q1", Kind: "receive",
		Method: "fib", Amount: "250000.00",
	}, &ev)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "paid", ev.Status)
	assert.Equal(t, "user-accountant", ev.CreatedBy)

	var pair api.PairAggregateDTO
	rec = do(t, h, "GET", "/api/students/st-1/installments/q1", "", nil, &pair)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "paid", pair.Status)
	eqMoney(t, "0", pair.Remaining)
}

func TestAPI_SubmitPayment_Overpayment_409WithRemainingDue(t *testing.T) {
	h := newTestServer(t)
	seedCatalog(t, h)

	rec := do(t, h, "POST", "/api/payments", "accountant", api.SubmitPaymentRequest{
		StudentID: "st-1", InstallmentID: "q1", Kind: "receive",
		Method: "cash", Amount: "200000.00",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var errResp api.ErrorResponse
	rec = do(t, h, "POST", "/api/payments", "accountant", api.SubmitPaymentRequest{
		StudentID: "st-1", InstallmentID: "q1", Kind: "receive",
		Method: "cash", Amount: "100000.00",
	}, &errResp)
	assert.Equal(t, http.StatusConflict, rec.Code)
	eqMoney(t, "50000", errResp.RemainingDue)
}

func TestAPI_SubmitPayment_UnknownStudent_404(t *testing.T) {
	h := newTestServer(t)
	seedCatalog(t, h)

	rec := do(t, h, "POST", "/api/payments", "accountant", api.SubmitPaymentRequest{
		StudentID: "st-missing", InstallmentID: "q1", Kind: "receive",
		Method: "cash", Amount: "1000.00",
	}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_SubmitPayment_BadAmount_400(t *testing.T) {
	h := newTestServer(t)
	seedCatalog(t, h)

	rec := do(t, h, "POST", "/api/payments", "accountant", api.SubmitPaymentRequest{
		StudentID: "st-1", InstallmentID: "q1", Kind: "receive",
		Method: "cash", Amount: "not-a-number",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// BALANCE AND SUMMARY ENDPOINT TESTS
// =============================================================================

func TestAPI_BalanceReflectsFlows(t *testing.T) {
	h := newTestServer(t)
	seedCatalog(t, h)

	rec := do(t, h, "POST", "/api/payments", "accountant", api.SubmitPaymentRequest{
		StudentID: "st-1", InstallmentID: "q1", Kind: "receive",
		Method: "cash", Amount: "250000.00",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, h, "POST", "/api/expenses", "accountant", api.RecordExpenseRequest{
		Amount: "50000.00", Category: "maintenance",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var balance api.BalanceDTO
	rec = do(t, h, "GET", "/api/balance", "", nil, &balance)
	require.Equal(t, http.StatusOK, rec.Code)
	eqMoney(t, "200000", balance.Available)
	eqMoney(t, "250000", balance.Received)
	eqMoney(t, "50000", balance.Expenses)
}

func TestAPI_StudentSummary(t *testing.T) {
	h := newTestServer(t)
	seedCatalog(t, h)

	rec := do(t, h, "POST", "/api/payments", "accountant", api.SubmitPaymentRequest{
		StudentID: "st-1", InstallmentID: "q1", Kind: "receive",
		Method: "cash", Amount: "100000.00",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var summary api.StudentSummaryDTO
	rec = do(t, h, "GET", "/api/students/st-1/summary", "", nil, &summary)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, summary.Installments, 1)
	assert.Equal(t, "partially_paid", summary.Installments[0].Status)
	eqMoney(t, "150000", summary.TotalRemaining)
}

// =============================================================================
// WORKFLOW ENDPOINT TESTS
// =============================================================================

func TestAPI_OutgoingLifecycle(t *testing.T) {
	h := newTestServer(t)
	seedCatalog(t, h)

	rec := do(t, h, "POST", "/api/payments", "accountant", api.SubmitPaymentRequest{
		StudentID: "st-1", InstallmentID: "q1", Kind: "receive",
		Method: "cash", Amount: "250000.00",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	// Over the balance: rejected.
	rec = do(t, h, "POST", "/api/outgoing", "accountant", api.CreateOutgoingRequest{
		AmountToHandOver: "300000.00",
	}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	var created api.OutgoingRequestDTO
	rec = do(t, h, "POST", "/api/outgoing", "accountant", api.CreateOutgoingRequest{
		AmountToHandOver: "200000.00",
	}, &created)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "pending", created.Status)

	var approved api.OutgoingRequestDTO
	rec = do(t, h, "POST", "/api/outgoing/"+created.ID+"/approve", "supervisor", nil, &approved)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "approved", approved.Status)

	// Decisions are final.
	rec = do(t, h, "POST", "/api/outgoing/"+created.ID+"/reject", "supervisor",
		api.RejectOutgoingRequest{Note: "too late"}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, "DELETE", "/api/outgoing/"+created.ID, "supervisor", nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAPI_InsuranceLifecycle(t *testing.T) {
	h := newTestServer(t)
	seedCatalog(t, h)

	var dep api.DepositDTO
	rec := do(t, h, "POST", "/api/insurance", "accountant", api.OpenDepositRequest{
		StudentID: "st-1", Amount: "200000.00",
	}, &dep)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "active", dep.Status)

	// Second active deposit for the same student.
	rec = do(t, h, "POST", "/api/insurance", "accountant", api.OpenDepositRequest{
		StudentID: "st-1", Amount: "200000.00",
	}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	var closed api.DepositDTO
	rec = do(t, h, "POST", "/api/insurance/"+dep.ID+"/return", "accountant",
		api.ReturnDepositRequest{Amount: "150000.00"}, &closed)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "returned", closed.Status)
	eqMoney(t, "150000", closed.AmountReturned)

	var history []api.DepositDTO
	rec = do(t, h, "GET", "/api/students/st-1/insurance", "", nil, &history)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, history, 1)
}

// =============================================================================
// SEED ENDPOINT TESTS
// =============================================================================

func TestAPI_SeedDemoData(t *testing.T) {
	h := newTestServer(t)

	rec := do(t, h, "POST", "/api/admin/seed", "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var students []api.StudentDTO
	rec = do(t, h, "GET", "/api/students", "", nil, &students)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, students, 3)

	var summary api.StudentSummaryDTO
	rec = do(t, h, "GET", "/api/students/st-1002/summary", "", nil, &summary)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, summary.Installments)
	assert.Equal(t, "partially_paid", summary.Installments[0].Status)
}
