/*
seed.go - Demo data loader for testing and demonstrations

PURPOSE:

	Populates the database with a realistic dormitory cohort for demos
	and manual testing: an installment schedule, a few students, and a
	mix of payment events showing every status.

WHAT IT CREATES:
 1. Four installments for the 2025 cohort, 250,000.00 IQD each
 2. Three students with different payment positions:
    - fully paid (two installments settled)
    - partially paid (one partial payment)
    - discounted (half the first installment waived)
 3. An active insurance deposit for the first student

USAGE VIA API:

	POST /api/admin/seed

NOTE:

	Seeding appends to the ledger; it does not reset existing data.
	Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler dependencies
  - server.go: Route wiring
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/HogrHonar/dormitory-ledger/authz"
	"github.com/HogrHonar/dormitory-ledger/ledger"
	"github.com/HogrHonar/dormitory-ledger/payments"
)

// LoadDemoData seeds the store with a demonstration cohort.
func (h *Handler) LoadDemoData(w http.ResponseWriter, r *http.Request) {
	if err := h.seedDemo(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to seed demo data", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"seeded": true})
}

func (h *Handler) seedDemo(ctx context.Context) error {
	seeder := authz.Actor{ID: "seed", Permissions: authz.AllPermissions()}
	amount := ledger.MustParseMoney("250000.00")

	for i := 1; i <= 4; i++ {
		inst := ledger.Installment{
			ID:           ledger.InstallmentID(fmt.Sprintf("2025-q%d", i)),
			EntranceYear: 2025,
			Ordinal:      i,
			Title:        fmt.Sprintf("2025 installment %d", i),
			Amount:       amount,
		}
		if err := h.Catalog.SaveInstallment(ctx, inst); err != nil {
			return err
		}
	}

	students := []ledger.Student{
		{ID: "st-1001", Name: "Aram Salim", Department: "Engineering", Room: "A-12", EntranceYear: 2025, Active: true},
		{ID: "st-1002", Name: "Dilan Omar", Department: "Medicine", Room: "B-03", EntranceYear: 2025, Active: true},
		{ID: "st-1003", Name: "Hana Rashid", Department: "Law", Room: "A-07", EntranceYear: 2025, Active: true},
	}
	for _, s := range students {
		if err := h.Catalog.SaveStudent(ctx, s); err != nil {
			return err
		}
	}

	submit := func(in payments.SubmitPaymentInput) error {
		_, err := h.Payments.SubmitPayment(ctx, seeder, in)
		return err
	}

	// st-1001: two installments fully settled.
	for _, iid := range []ledger.InstallmentID{"2025-q1", "2025-q2"} {
		if err := submit(payments.SubmitPaymentInput{
			StudentID:     "st-1001",
			InstallmentID: iid,
			Kind:          ledger.KindReceive,
			Amount:        amount,
			Method:        ledger.MethodCash,
		}); err != nil {
			return err
		}
	}

	// st-1002: one partial payment.
	if err := submit(payments.SubmitPaymentInput{
		StudentID:     "st-1002",
		InstallmentID: "2025-q1",
		Kind:          ledger.KindReceive,
		Amount:        ledger.MustParseMoney("100000.00"),
		Method:        ledger.MethodFIB,
	}); err != nil {
		return err
	}

	// st-1003: half the first installment waived.
	pct := decimal.NewFromInt(50)
	if err := submit(payments.SubmitPaymentInput{
		StudentID:       "st-1003",
		InstallmentID:   "2025-q1",
		Kind:            ledger.KindDiscount,
		DiscountPercent: &pct,
		Method:          ledger.MethodCash,
		ReceiptURL:      "https://receipts.example/approvals/st-1003-q1.pdf",
	}); err != nil {
		return err
	}

	if h.Insurance != nil {
		_, err := h.Insurance.Open(ctx, seeder, "st-1001", ledger.MustParseMoney("200000.00"))
		if err != nil && !errors.Is(err, ledger.ErrDepositActive) {
			return err
		}
	}

	return nil
}
