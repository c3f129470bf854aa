/*
handlers.go - HTTP API handlers for the dormitory payment ledger

PURPOSE:
  Exposes the payment ledger and treasury engine via REST API. Handles
  HTTP request/response, JSON serialization, and delegates to domain
  logic.

ENDPOINTS:
  Students:
    GET    /api/students                 List students
    POST   /api/students                 Create/update student
    GET    /api/students/{id}            Get student
    GET    /api/students/{id}/summary    Derived position across installments
    GET    /api/students/{id}/payments   Raw event history
    GET    /api/students/{id}/installments/{installmentID}  Pair aggregate
    GET    /api/students/{id}/insurance  Deposit history

  Installments:
    GET    /api/installments?entrance_year=YYYY
    POST   /api/installments

  Payments:
    POST   /api/payments                 Record receive/return/discount

  Treasury:
    GET    /api/balance                  Cash position with flows
    GET    /api/outgoing?status=...      List hand-over requests
    POST   /api/outgoing                 Open request
    GET    /api/outgoing/{id}
    POST   /api/outgoing/{id}/approve
    POST   /api/outgoing/{id}/reject
    DELETE /api/outgoing/{id}
    POST   /api/insurance                Open deposit
    GET    /api/insurance/{id}
    POST   /api/insurance/{id}/return
    POST   /api/insurance/{id}/forfeit
    GET    /api/expenses
    POST   /api/expenses

REQUEST FLOW:
  1. Parse HTTP request
  2. Resolve acting user from headers
  3. Call domain logic (admission controller, workflow, calculator)
  4. Serialize response
  5. Map domain errors to HTTP status

ERROR HANDLING:
  Domain errors map to JSON with an HTTP status:
  - 400: Validation errors, invalid input
  - 403: Missing permission
  - 404: Student/installment/request/deposit not found
  - 409: Overpayment, over-return, insufficient balance, state
         transitions, duplicate idempotency key, lock conflict
  - 500: Internal errors

AUTH NOTE:
  Actors are resolved from X-Actor-ID and X-Actor-Role headers set by
  the gateway in front of this service. The service itself does not
  verify identity, only permissions.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/HogrHonar/dormitory-ledger/authz"
	"github.com/HogrHonar/dormitory-ledger/ledger"
	"github.com/HogrHonar/dormitory-ledger/payments"
	"github.com/HogrHonar/dormitory-ledger/treasury"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Payments  *payments.AdmissionController
	Outgoing  *treasury.Workflow
	Insurance *treasury.Insurance
	Expenses  *treasury.Expenses
	Balance   *treasury.BalanceCalculator
	Catalog   ledger.CatalogStore
	Events    ledger.PaymentStore
}

// roleSets maps the gateway role header to capability sets. An unknown
// role gets no permissions, so every mutation is denied with 403.
var roleSets = map[string]authz.Set{
	"admin": authz.AllPermissions(),
	"accountant": authz.NewSet(
		authz.PermPaymentsCreate,
		authz.PermOutgoingCreate,
		authz.PermInsuranceManage,
		authz.PermExpensesCreate,
	),
	"supervisor": authz.NewSet(
		authz.PermOutgoingApprove,
		authz.PermOutgoingDelete,
		authz.PermCatalogManage,
	),
}

// actorFrom resolves the acting user from gateway headers.
func actorFrom(r *http.Request) authz.Actor {
	return authz.Actor{
		ID:          r.Header.Get("X-Actor-ID"),
		Permissions: roleSets[r.Header.Get("X-Actor-Role")],
	}
}

// =============================================================================
// STUDENT HANDLERS
// =============================================================================

// ListStudents returns all students.
func (h *Handler) ListStudents(w http.ResponseWriter, r *http.Request) {
	students, err := h.Catalog.ListStudents(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list students", err)
		return
	}

	dtos := make([]StudentDTO, len(students))
	for i, s := range students {
		dtos[i] = studentDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetStudent returns a single student.
func (h *Handler) GetStudent(w http.ResponseWriter, r *http.Request) {
	id := ledger.StudentID(chi.URLParam(r, "id"))

	s, err := h.Catalog.GetStudent(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get student", err)
		return
	}
	if s == nil {
		writeError(w, http.StatusNotFound, "Student not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, studentDTO(*s))
}

// CreateStudent creates or updates a student.
func (h *Handler) CreateStudent(w http.ResponseWriter, r *http.Request) {
	if err := authz.Require(actorFrom(r), authz.PermCatalogManage); err != nil {
		writeDomainError(w, err)
		return
	}

	var req CreateStudentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.Name == "" || req.EntranceYear == 0 {
		writeError(w, http.StatusBadRequest, "id, name and entrance_year are required", nil)
		return
	}

	s := ledger.Student{
		ID:           ledger.StudentID(req.ID),
		Name:         req.Name,
		Department:   req.Department,
		Room:         req.Room,
		EntranceYear: req.EntranceYear,
		Email:        req.Email,
		Active:       true,
	}
	if err := h.Catalog.SaveStudent(r.Context(), s); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save student", err)
		return
	}
	writeJSON(w, http.StatusCreated, studentDTO(s))
}

// GetStudentSummary returns the derived position across the student's
// cohort installments.
func (h *Handler) GetStudentSummary(w http.ResponseWriter, r *http.Request) {
	id := ledger.StudentID(chi.URLParam(r, "id"))

	agg, err := h.Payments.StudentAggregate(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dto := StudentSummaryDTO{
		StudentID:       string(agg.StudentID),
		TotalObligation: agg.TotalObligation.String(),
		TotalPaid:       agg.TotalPaid.String(),
		TotalReturned:   agg.TotalReturned.String(),
		TotalDiscount:   agg.TotalDiscount.String(),
		TotalNetPaid:    agg.TotalNetPaid.String(),
		TotalRemaining:  agg.TotalRemaining.String(),
		Installments:    make([]PairAggregateDTO, len(agg.Pairs)),
	}
	if !agg.LastPaidAt.IsZero() {
		dto.LastPaidAt = agg.LastPaidAt.Format(time.RFC3339)
	}
	for i, p := range agg.Pairs {
		dto.Installments[i] = pairDTO(p)
	}
	writeJSON(w, http.StatusOK, dto)
}

// GetStudentPayments returns the raw event history for a student.
func (h *Handler) GetStudentPayments(w http.ResponseWriter, r *http.Request) {
	id := ledger.StudentID(chi.URLParam(r, "id"))

	events, err := h.Events.LoadByStudent(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load payments", err)
		return
	}

	dtos := make([]PaymentEventDTO, len(events))
	for i, ev := range events {
		dtos[i] = eventDTO(ev)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetPairAggregate returns the derived state of one (student, installment)
// pair.
func (h *Handler) GetPairAggregate(w http.ResponseWriter, r *http.Request) {
	studentID := ledger.StudentID(chi.URLParam(r, "id"))
	installmentID := ledger.InstallmentID(chi.URLParam(r, "installmentID"))

	agg, err := h.Payments.PairAggregate(r.Context(), studentID, installmentID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pairDTO(*agg))
}

// =============================================================================
// INSTALLMENT HANDLERS
// =============================================================================

// ListInstallments returns a cohort's installments.
func (h *Handler) ListInstallments(w http.ResponseWriter, r *http.Request) {
	yearStr := r.URL.Query().Get("entrance_year")
	year, err := strconv.Atoi(yearStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "entrance_year query parameter is required", err)
		return
	}

	installments, err := h.Catalog.ListInstallmentsByCohort(r.Context(), year)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list installments", err)
		return
	}

	dtos := make([]InstallmentDTO, len(installments))
	for i, inst := range installments {
		dtos[i] = installmentDTO(inst)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateInstallment creates or updates an installment.
func (h *Handler) CreateInstallment(w http.ResponseWriter, r *http.Request) {
	if err := authz.Require(actorFrom(r), authz.PermCatalogManage); err != nil {
		writeDomainError(w, err)
		return
	}

	var req CreateInstallmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || amount.IsNegative() {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	inst := ledger.Installment{
		ID:           ledger.InstallmentID(req.ID),
		EntranceYear: req.EntranceYear,
		Ordinal:      req.Ordinal,
		Title:        req.Title,
		Amount:       ledger.RoundMoney(amount),
	}
	if req.StartDate != "" {
		t, err := time.Parse("2006-01-02", req.StartDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid start_date format (use YYYY-MM-DD)", err)
			return
		}
		inst.StartDate = t
	}
	if req.EndDate != "" {
		t, err := time.Parse("2006-01-02", req.EndDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid end_date format (use YYYY-MM-DD)", err)
			return
		}
		inst.EndDate = t
	}

	if err := h.Catalog.SaveInstallment(r.Context(), inst); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save installment", err)
		return
	}
	writeJSON(w, http.StatusCreated, installmentDTO(inst))
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// SubmitPayment records a receive, return or discount event.
func (h *Handler) SubmitPayment(w http.ResponseWriter, r *http.Request) {
	var req SubmitPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	in := payments.SubmitPaymentInput{
		StudentID:      ledger.StudentID(req.StudentID),
		InstallmentID:  ledger.InstallmentID(req.InstallmentID),
		Kind:           ledger.PaymentKind(req.Kind),
		Method:         ledger.PaymentMethod(req.Method),
		ReceiptURL:     req.ReceiptURL,
		IdempotencyKey: req.IdempotencyKey,
		Note:           req.Note,
	}

	if req.Amount != "" {
		amount, err := decimal.NewFromString(req.Amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid amount", err)
			return
		}
		in.Amount = amount
	}
	if req.DiscountPercent != "" {
		pct, err := decimal.NewFromString(req.DiscountPercent)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid discount_percent", err)
			return
		}
		in.DiscountPercent = &pct
	}
	if req.PaidAt != "" {
		t, err := time.Parse(time.RFC3339, req.PaidAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid paid_at format (use RFC 3339)", err)
			return
		}
		in.PaidAt = t
	}

	ev, err := h.Payments.SubmitPayment(r.Context(), actorFrom(r), in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, eventDTO(*ev))
}

// =============================================================================
// TREASURY HANDLERS
// =============================================================================

// GetBalance returns the cash position with its component flows.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	available, inputs, err := h.Balance.Available(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute balance", err)
		return
	}

	writeJSON(w, http.StatusOK, BalanceDTO{
		Available:         available.String(),
		Received:          inputs.Received.String(),
		Returned:          inputs.Returned.String(),
		Discounted:        inputs.Discounted.String(),
		InsuranceHeld:     inputs.InsuranceHeld.String(),
		InsuranceRefunded: inputs.InsuranceRefunded.String(),
		ApprovedOutgoing:  inputs.ApprovedOutgoing.String(),
		Expenses:          inputs.Expenses.String(),
	})
}

// ListOutgoing returns hand-over requests, optionally filtered by status.
func (h *Handler) ListOutgoing(w http.ResponseWriter, r *http.Request) {
	status := treasury.RequestStatus(r.URL.Query().Get("status"))

	requests, err := h.Outgoing.List(r.Context(), status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list requests", err)
		return
	}

	dtos := make([]OutgoingRequestDTO, len(requests))
	for i, req := range requests {
		dtos[i] = outgoingDTO(req)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateOutgoing opens a new hand-over request.
func (h *Handler) CreateOutgoing(w http.ResponseWriter, r *http.Request) {
	var req CreateOutgoingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := decimal.NewFromString(req.AmountToHandOver)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount_to_hand_over", err)
		return
	}

	in := treasury.CreateRequestInput{AmountToHandOver: amount}
	if req.PeriodStart != "" {
		t, err := time.Parse("2006-01-02", req.PeriodStart)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid period_start format (use YYYY-MM-DD)", err)
			return
		}
		in.PeriodStart = &t
	}
	if req.PeriodEnd != "" {
		t, err := time.Parse("2006-01-02", req.PeriodEnd)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid period_end format (use YYYY-MM-DD)", err)
			return
		}
		in.PeriodEnd = &t
	}

	created, err := h.Outgoing.CreateRequest(r.Context(), actorFrom(r), in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, outgoingDTO(*created))
}

// GetOutgoing returns one hand-over request.
func (h *Handler) GetOutgoing(w http.ResponseWriter, r *http.Request) {
	id := treasury.RequestID(chi.URLParam(r, "id"))

	req, err := h.Outgoing.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outgoingDTO(*req))
}

// ApproveOutgoing finalizes a pending request as APPROVED.
func (h *Handler) ApproveOutgoing(w http.ResponseWriter, r *http.Request) {
	id := treasury.RequestID(chi.URLParam(r, "id"))

	req, err := h.Outgoing.Approve(r.Context(), actorFrom(r), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outgoingDTO(*req))
}

// RejectOutgoing finalizes a pending request as REJECTED.
func (h *Handler) RejectOutgoing(w http.ResponseWriter, r *http.Request) {
	id := treasury.RequestID(chi.URLParam(r, "id"))

	var body RejectOutgoingRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&body) // note is optional
	}

	req, err := h.Outgoing.Reject(r.Context(), actorFrom(r), id, body.Note)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outgoingDTO(*req))
}

// DeleteOutgoing removes a pending request.
func (h *Handler) DeleteOutgoing(w http.ResponseWriter, r *http.Request) {
	id := treasury.RequestID(chi.URLParam(r, "id"))

	if err := h.Outgoing.Delete(r.Context(), actorFrom(r), id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

// =============================================================================
// INSURANCE HANDLERS
// =============================================================================

// OpenDeposit opens an insurance deposit for a student.
func (h *Handler) OpenDeposit(w http.ResponseWriter, r *http.Request) {
	var req OpenDepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	dep, err := h.Insurance.Open(r.Context(), actorFrom(r), ledger.StudentID(req.StudentID), amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, depositDTO(*dep))
}

// GetDeposit returns one deposit.
func (h *Handler) GetDeposit(w http.ResponseWriter, r *http.Request) {
	id := treasury.DepositID(chi.URLParam(r, "id"))

	dep, err := h.Insurance.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, depositDTO(*dep))
}

// ListStudentDeposits returns a student's deposit history.
func (h *Handler) ListStudentDeposits(w http.ResponseWriter, r *http.Request) {
	id := ledger.StudentID(chi.URLParam(r, "id"))

	deposits, err := h.Insurance.ListByStudent(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list deposits", err)
		return
	}

	dtos := make([]DepositDTO, len(deposits))
	for i, d := range deposits {
		dtos[i] = depositDTO(d)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ReturnDeposit closes a deposit and refunds the given amount.
func (h *Handler) ReturnDeposit(w http.ResponseWriter, r *http.Request) {
	id := treasury.DepositID(chi.URLParam(r, "id"))

	var req ReturnDepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	dep, err := h.Insurance.Return(r.Context(), actorFrom(r), id, amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, depositDTO(*dep))
}

// ForfeitDeposit closes a deposit with no refund.
func (h *Handler) ForfeitDeposit(w http.ResponseWriter, r *http.Request) {
	id := treasury.DepositID(chi.URLParam(r, "id"))

	dep, err := h.Insurance.Forfeit(r.Context(), actorFrom(r), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, depositDTO(*dep))
}

// =============================================================================
// EXPENSE HANDLERS
// =============================================================================

// ListExpenses returns all recorded expenses.
func (h *Handler) ListExpenses(w http.ResponseWriter, r *http.Request) {
	expenses, err := h.Expenses.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list expenses", err)
		return
	}

	dtos := make([]ExpenseDTO, len(expenses))
	for i, e := range expenses {
		dtos[i] = expenseDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RecordExpense records operational spending.
func (h *Handler) RecordExpense(w http.ResponseWriter, r *http.Request) {
	var req RecordExpenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	var spentAt time.Time
	if req.SpentAt != "" {
		spentAt, err = time.Parse("2006-01-02", req.SpentAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid spent_at format (use YYYY-MM-DD)", err)
			return
		}
	}

	e, err := h.Expenses.Record(r.Context(), actorFrom(r), amount, req.Category, req.Note, spentAt)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, expenseDTO(*e))
}

// =============================================================================
// DTO MAPPING
// =============================================================================

func studentDTO(s ledger.Student) StudentDTO {
	dto := StudentDTO{
		ID:           string(s.ID),
		Name:         s.Name,
		Department:   s.Department,
		Room:         s.Room,
		EntranceYear: s.EntranceYear,
		Email:        s.Email,
		Active:       s.Active,
	}
	if !s.CreatedAt.IsZero() {
		dto.CreatedAt = s.CreatedAt.Format(time.RFC3339)
	}
	return dto
}

func installmentDTO(inst ledger.Installment) InstallmentDTO {
	dto := InstallmentDTO{
		ID:           string(inst.ID),
		EntranceYear: inst.EntranceYear,
		Ordinal:      inst.Ordinal,
		Title:        inst.Title,
		Amount:       inst.Amount.String(),
	}
	if !inst.StartDate.IsZero() {
		dto.StartDate = inst.StartDate.Format("2006-01-02")
	}
	if !inst.EndDate.IsZero() {
		dto.EndDate = inst.EndDate.Format("2006-01-02")
	}
	if !inst.CreatedAt.IsZero() {
		dto.CreatedAt = inst.CreatedAt.Format(time.RFC3339)
	}
	return dto
}

func eventDTO(ev ledger.PaymentEvent) PaymentEventDTO {
	dto := PaymentEventDTO{
		ID:            string(ev.ID),
		StudentID:     string(ev.StudentID),
		InstallmentID: string(ev.InstallmentID),
		Kind:          string(ev.Kind),
		Amount:        ev.Amount.String(),
		Method:        string(ev.Method),
		ReceiptURL:    ev.ReceiptURL,
		Status:        string(ev.Status),
		PaidAt:        ev.PaidAt.Format(time.RFC3339),
		Note:          ev.Note,
		CreatedBy:     ev.CreatedBy,
		CreatedAt:     ev.CreatedAt.Format(time.RFC3339),
	}
	if ev.DiscountPercent != nil {
		dto.DiscountPercent = ev.DiscountPercent.String()
	}
	return dto
}

func pairDTO(p ledger.PairAggregate) PairAggregateDTO {
	dto := PairAggregateDTO{
		StudentID:     string(p.StudentID),
		InstallmentID: string(p.InstallmentID),
		Obligation:    p.Obligation.String(),
		Paid:          p.Paid.String(),
		Returned:      p.Returned.String(),
		Discount:      p.Discount.String(),
		NetPaid:       p.NetPaid.String(),
		Remaining:     p.Remaining.String(),
		Status:        string(p.Status),
	}
	if !p.LastPaidAt.IsZero() {
		dto.LastPaidAt = p.LastPaidAt.Format(time.RFC3339)
	}
	return dto
}

func outgoingDTO(r treasury.OutgoingRequest) OutgoingRequestDTO {
	dto := OutgoingRequestDTO{
		ID:               string(r.ID),
		TotalCollected:   r.TotalCollected.String(),
		AmountToHandOver: r.AmountToHandOver.String(),
		RemainingFloat:   r.RemainingFloat.String(),
		Status:           string(r.Status),
		RejectionNote:    r.RejectionNote,
		CreatedBy:        r.CreatedBy,
		CreatedAt:        r.CreatedAt.Format(time.RFC3339),
		DecidedBy:        r.DecidedBy,
	}
	if r.PeriodStart != nil {
		dto.PeriodStart = r.PeriodStart.Format("2006-01-02")
	}
	if r.PeriodEnd != nil {
		dto.PeriodEnd = r.PeriodEnd.Format("2006-01-02")
	}
	if r.DecidedAt != nil {
		dto.DecidedAt = r.DecidedAt.Format(time.RFC3339)
	}
	return dto
}

func depositDTO(d treasury.InsuranceDeposit) DepositDTO {
	dto := DepositDTO{
		ID:             string(d.ID),
		StudentID:      string(d.StudentID),
		AmountPaid:     d.AmountPaid.String(),
		AmountReturned: d.AmountReturned.String(),
		Status:         string(d.Status),
		OpenedAt:       d.OpenedAt.Format(time.RFC3339),
		ClosedBy:       d.ClosedBy,
	}
	if d.ClosedAt != nil {
		dto.ClosedAt = d.ClosedAt.Format(time.RFC3339)
	}
	return dto
}

func expenseDTO(e treasury.Expense) ExpenseDTO {
	return ExpenseDTO{
		ID:        string(e.ID),
		Amount:    e.Amount.String(),
		Category:  e.Category,
		Note:      e.Note,
		SpentAt:   e.SpentAt.Format(time.RFC3339),
		CreatedBy: e.CreatedBy,
		CreatedAt: e.CreatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

// writeDomainError maps domain errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	var excess *ledger.ExcessPaymentError
	if errors.As(err, &excess) {
		resp := ErrorResponse{
			Error:        "Payment exceeds remaining due",
			Details:      excess.Error(),
			RemainingDue: excess.RemainingDue.String(),
		}
		writeJSON(w, http.StatusConflict, resp)
		return
	}

	switch {
	case errors.Is(err, ledger.ErrValidation):
		writeError(w, http.StatusBadRequest, "Validation failed", err)
	case errors.Is(err, ledger.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "Permission denied", err)
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, ledger.ErrInvalidOperation),
		errors.Is(err, ledger.ErrInvalidState),
		errors.Is(err, ledger.ErrConflict),
		errors.Is(err, ledger.ErrDuplicateIdempotencyKey),
		errors.Is(err, ledger.ErrDepositActive):
		writeError(w, http.StatusConflict, "Operation rejected", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
