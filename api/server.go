/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the admin frontend

ROUTE GROUPS:
  /api/students/*      Student catalog and derived balances
  /api/installments/*  Cohort obligation schedule
  /api/payments        Payment event admission
  /api/balance         Cash position
  /api/outgoing/*      Hand-over request workflow
  /api/insurance/*     Insurance deposits
  /api/expenses        Operational spending

SECURITY NOTE:
  Identity comes from gateway headers (see handlers.go); there is no
  session handling here. Deploy behind an authenticating proxy.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Actor-ID", "X-Actor-Role"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Student routes
		r.Route("/students", func(r chi.Router) {
			r.Get("/", h.ListStudents)
			r.Post("/", h.CreateStudent)
			r.Get("/{id}", h.GetStudent)
			r.Get("/{id}/summary", h.GetStudentSummary)
			r.Get("/{id}/payments", h.GetStudentPayments)
			r.Get("/{id}/installments/{installmentID}", h.GetPairAggregate)
			r.Get("/{id}/insurance", h.ListStudentDeposits)
		})

		// Installment routes
		r.Route("/installments", func(r chi.Router) {
			r.Get("/", h.ListInstallments)
			r.Post("/", h.CreateInstallment)
		})

		// Payment admission
		r.Post("/payments", h.SubmitPayment)

		// Treasury routes
		r.Get("/balance", h.GetBalance)
		r.Route("/outgoing", func(r chi.Router) {
			r.Get("/", h.ListOutgoing)
			r.Post("/", h.CreateOutgoing)
			r.Get("/{id}", h.GetOutgoing)
			r.Post("/{id}/approve", h.ApproveOutgoing)
			r.Post("/{id}/reject", h.RejectOutgoing)
			r.Delete("/{id}", h.DeleteOutgoing)
		})

		// Insurance routes
		r.Route("/insurance", func(r chi.Router) {
			r.Post("/", h.OpenDeposit)
			r.Get("/{id}", h.GetDeposit)
			r.Post("/{id}/return", h.ReturnDeposit)
			r.Post("/{id}/forfeit", h.ForfeitDeposit)
		})

		// Expense routes
		r.Route("/expenses", func(r chi.Router) {
			r.Get("/", h.ListExpenses)
			r.Post("/", h.RecordExpense)
		})

		// Demo data (development only)
		r.Post("/admin/seed", h.LoadDemoData)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>Dormitory Payment Ledger</title></head>
<body style="font-family: system-ui; max-width: 800px; margin: 50px auto; padding: 20px;">
<h1>Dormitory Payment Ledger API</h1>
<h2>API Endpoints</h2>
<ul>
<li><a href="/api/students">/api/students</a> - List students</li>
<li><a href="/api/balance">/api/balance</a> - Cash position</li>
<li><a href="/api/outgoing">/api/outgoing</a> - Hand-over requests</li>
<li><a href="/api/expenses">/api/expenses</a> - Expenses</li>
</ul>
</body>
</html>`))
	})

	return r
}
