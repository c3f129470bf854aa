/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Amounts cross the wire as decimal strings ("1000000.00"), never JSON
  numbers. Clients that need arithmetic must parse them exactly.

VALIDATION:
  Validation is done in handlers and domain logic, not in DTOs. DTOs are
  pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - server.go: Route wiring
*/
package api

// =============================================================================
// ERROR RESPONSE
// =============================================================================

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`

	// RemainingDue is set on overpayment rejections so the client can
	// show the operator how much is actually still owed.
	RemainingDue string `json:"remaining_due,omitempty"`
}

// =============================================================================
// STUDENTS
// =============================================================================

// StudentDTO represents a student in API responses.
type StudentDTO struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Department   string `json:"department,omitempty"`
	Room         string `json:"room,omitempty"`
	EntranceYear int    `json:"entrance_year"`
	Email        string `json:"email,omitempty"`
	Active       bool   `json:"active"`
	CreatedAt    string `json:"created_at,omitempty"`
}

// CreateStudentRequest is the request to create or update a student.
type CreateStudentRequest struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Department   string `json:"department"`
	Room         string `json:"room"`
	EntranceYear int    `json:"entrance_year"`
	Email        string `json:"email"`
}

// =============================================================================
// INSTALLMENTS
// =============================================================================

// InstallmentDTO represents an installment in API responses.
type InstallmentDTO struct {
	ID           string `json:"id"`
	EntranceYear int    `json:"entrance_year"`
	Ordinal      int    `json:"ordinal"`
	Title        string `json:"title"`
	Amount       string `json:"amount"`
	StartDate    string `json:"start_date,omitempty"`
	EndDate      string `json:"end_date,omitempty"`
	CreatedAt    string `json:"created_at,omitempty"`
}

// CreateInstallmentRequest is the request to create or update an installment.
type CreateInstallmentRequest struct {
	ID           string `json:"id"`
	EntranceYear int    `json:"entrance_year"`
	Ordinal      int    `json:"ordinal"`
	Title        string `json:"title"`
	Amount       string `json:"amount"`
	StartDate    string `json:"start_date,omitempty"`
	EndDate      string `json:"end_date,omitempty"`
}

// =============================================================================
// PAYMENTS
// =============================================================================

// SubmitPaymentRequest is the request to record a payment event.
type SubmitPaymentRequest struct {
	StudentID     string `json:"student_id"`
	InstallmentID string `json:"installment_id"`
	Kind          string `json:"kind"`
	Method        string `json:"method"`

	// Amount is required for receive and return, and for direct-amount
	// discounts. For percent discounts leave it empty and set
	// discount_percent instead.
	Amount          string `json:"amount,omitempty"`
	DiscountPercent string `json:"discount_percent,omitempty"`

	ReceiptURL     string `json:"receipt_url,omitempty"`
	PaidAt         string `json:"paid_at,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	Note           string `json:"note,omitempty"`
}

// PaymentEventDTO represents a ledger event in API responses.
type PaymentEventDTO struct {
	ID              string `json:"id"`
	StudentID       string `json:"student_id"`
	InstallmentID   string `json:"installment_id"`
	Kind            string `json:"kind"`
	Amount          string `json:"amount"`
	Method          string `json:"method"`
	DiscountPercent string `json:"discount_percent,omitempty"`
	ReceiptURL      string `json:"receipt_url,omitempty"`
	Status          string `json:"status"`
	PaidAt          string `json:"paid_at"`
	Note            string `json:"note,omitempty"`
	CreatedBy       string `json:"created_by,omitempty"`
	CreatedAt       string `json:"created_at"`
}

// PairAggregateDTO is the derived state of one (student, installment) pair.
type PairAggregateDTO struct {
	StudentID     string `json:"student_id"`
	InstallmentID string `json:"installment_id"`
	Obligation    string `json:"obligation"`
	Paid          string `json:"paid"`
	Returned      string `json:"returned"`
	Discount      string `json:"discount"`
	NetPaid       string `json:"net_paid"`
	Remaining     string `json:"remaining"`
	Status        string `json:"status"`
	LastPaidAt    string `json:"last_paid_at,omitempty"`
}

// StudentSummaryDTO is a student's derived position across all
// installments of their cohort.
type StudentSummaryDTO struct {
	StudentID       string             `json:"student_id"`
	TotalObligation string             `json:"total_obligation"`
	TotalPaid       string             `json:"total_paid"`
	TotalReturned   string             `json:"total_returned"`
	TotalDiscount   string             `json:"total_discount"`
	TotalNetPaid    string             `json:"total_net_paid"`
	TotalRemaining  string             `json:"total_remaining"`
	LastPaidAt      string             `json:"last_paid_at,omitempty"`
	Installments    []PairAggregateDTO `json:"installments"`
}

// =============================================================================
// BALANCE
// =============================================================================

// BalanceDTO is the cash position with its component flows.
type BalanceDTO struct {
	Available         string `json:"available"`
	Received          string `json:"received"`
	Returned          string `json:"returned"`
	Discounted        string `json:"discounted"`
	InsuranceHeld     string `json:"insurance_held"`
	InsuranceRefunded string `json:"insurance_refunded"`
	ApprovedOutgoing  string `json:"approved_outgoing"`
	Expenses          string `json:"expenses"`
}

// =============================================================================
// OUTGOING REQUESTS
// =============================================================================

// CreateOutgoingRequest is the request to open a hand-over request.
type CreateOutgoingRequest struct {
	AmountToHandOver string `json:"amount_to_hand_over"`
	PeriodStart      string `json:"period_start,omitempty"`
	PeriodEnd        string `json:"period_end,omitempty"`
}

// RejectOutgoingRequest carries the optional rejection note.
type RejectOutgoingRequest struct {
	Note string `json:"note,omitempty"`
}

// OutgoingRequestDTO represents a hand-over request in API responses.
type OutgoingRequestDTO struct {
	ID               string `json:"id"`
	TotalCollected   string `json:"total_collected"`
	AmountToHandOver string `json:"amount_to_hand_over"`
	RemainingFloat   string `json:"remaining_float"`
	Status           string `json:"status"`
	PeriodStart      string `json:"period_start,omitempty"`
	PeriodEnd        string `json:"period_end,omitempty"`
	RejectionNote    string `json:"rejection_note,omitempty"`
	CreatedBy        string `json:"created_by,omitempty"`
	CreatedAt        string `json:"created_at"`
	DecidedBy        string `json:"decided_by,omitempty"`
	DecidedAt        string `json:"decided_at,omitempty"`
}

// =============================================================================
// INSURANCE DEPOSITS
// =============================================================================

// OpenDepositRequest is the request to open an insurance deposit.
type OpenDepositRequest struct {
	StudentID string `json:"student_id"`
	Amount    string `json:"amount"`
}

// ReturnDepositRequest carries the refund amount when closing a deposit.
type ReturnDepositRequest struct {
	Amount string `json:"amount"`
}

// DepositDTO represents an insurance deposit in API responses.
type DepositDTO struct {
	ID             string `json:"id"`
	StudentID      string `json:"student_id"`
	AmountPaid     string `json:"amount_paid"`
	AmountReturned string `json:"amount_returned"`
	Status         string `json:"status"`
	OpenedAt       string `json:"opened_at"`
	ClosedAt       string `json:"closed_at,omitempty"`
	ClosedBy       string `json:"closed_by,omitempty"`
}

// =============================================================================
// EXPENSES
// =============================================================================

// RecordExpenseRequest is the request to record operational spending.
type RecordExpenseRequest struct {
	Amount   string `json:"amount"`
	Category string `json:"category,omitempty"`
	Note     string `json:"note,omitempty"`
	SpentAt  string `json:"spent_at,omitempty"`
}

// ExpenseDTO represents an expense in API responses.
type ExpenseDTO struct {
	ID        string `json:"id"`
	Amount    string `json:"amount"`
	Category  string `json:"category,omitempty"`
	Note      string `json:"note,omitempty"`
	SpentAt   string `json:"spent_at"`
	CreatedBy string `json:"created_by,omitempty"`
	CreatedAt string `json:"created_at"`
}
