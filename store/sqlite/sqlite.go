/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements ledger.TxPaymentStore, ledger.CatalogStore and treasury.TxStore
  using SQLite. In production the same patterns apply to PostgreSQL - only
  minor SQL dialect differences.

APPEND-ONLY ENFORCEMENT:
  The payments table has no UPDATE or DELETE path. Corrections are made by
  offsetting RETURN/DISCOUNT events only.

KEY TABLES:
  payments:           Immutable payment event ledger
  students:           Student reference rows
  installments:       Obligation amounts per (cohort, ordinal)
  outgoing_requests:  Hand-over workflow rows (status-mutable)
  insurance_deposits: Refundable deposits (status-mutable)
  expenses:           Operational spending

INDEXES:
  - idx_payments_pair: pair history reads (the admission hot path)
  - idx_payments_idempotency: partial unique, client retry dedup
  - idx_deposits_single_active: partial unique, enforces at most one
    ACTIVE insurance deposit per student at the schema level

CONCURRENCY:
  Connections open with _txlock=immediate so every transaction takes the
  write lock up front: two concurrent admission transactions on the same
  pair serialize at BEGIN, which is what makes read-validate-append safe.
  A sync.Mutex additionally serializes writers in-process. Lock contention
  surfaces as ledger.ErrConflict, which callers may retry.

WAL MODE:
  SQLite is opened with WAL for better concurrency: readers don't block,
  single writer at a time, better crash recovery.

MONEY:
  All amounts are stored as exact decimal strings, never floats.

USAGE:
  store, err := sqlite.New("./data/dormitory.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - ledger/store.go: The contracts this implements
  - ledger/store/memory.go: In-memory counterpart for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/HogrHonar/dormitory-ledger/ledger"
	"github.com/HogrHonar/dormitory-ledger/treasury"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a SQLite store at the given path. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection keeps transactions serialized even when
	// database/sql would otherwise hand out a pool.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Payments (append-only event ledger)
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL,
		installment_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		amount TEXT NOT NULL,
		method TEXT NOT NULL,
		discount_percent TEXT,
		receipt_url TEXT,
		status TEXT NOT NULL,
		paid_at TEXT NOT NULL,
		idempotency_key TEXT,
		note TEXT,
		created_by TEXT,
		created_at TEXT NOT NULL
	);

	-- Pair history reads (the admission hot path)
	CREATE INDEX IF NOT EXISTS idx_payments_pair
		ON payments(student_id, installment_id, paid_at);
	CREATE INDEX IF NOT EXISTS idx_payments_student
		ON payments(student_id);
	CREATE INDEX IF NOT EXISTS idx_payments_kind
		ON payments(kind);

	-- Client retry dedup
	CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_idempotency
		ON payments(idempotency_key) WHERE idempotency_key IS NOT NULL;

	-- Students
	CREATE TABLE IF NOT EXISTS students (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		department TEXT,
		room TEXT,
		entrance_year INTEGER NOT NULL,
		email TEXT,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_students_cohort
		ON students(entrance_year);

	-- Installments (reference data per cohort)
	CREATE TABLE IF NOT EXISTS installments (
		id TEXT PRIMARY KEY,
		entrance_year INTEGER NOT NULL,
		ordinal INTEGER NOT NULL,
		title TEXT NOT NULL,
		amount TEXT NOT NULL,
		start_date TEXT,
		end_date TEXT,
		created_at TEXT NOT NULL,
		UNIQUE(entrance_year, ordinal)
	);

	-- Outgoing payment requests (workflow rows)
	CREATE TABLE IF NOT EXISTS outgoing_requests (
		id TEXT PRIMARY KEY,
		total_collected TEXT NOT NULL,
		amount_to_hand_over TEXT NOT NULL,
		remaining_float TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		period_start TEXT,
		period_end TEXT,
		rejection_note TEXT,
		created_by TEXT,
		created_at TEXT NOT NULL,
		decided_by TEXT,
		decided_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_outgoing_status
		ON outgoing_requests(status);

	-- Insurance deposits
	CREATE TABLE IF NOT EXISTS insurance_deposits (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL,
		amount_paid TEXT NOT NULL,
		amount_returned TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL DEFAULT 'active',
		opened_at TEXT NOT NULL,
		closed_at TEXT,
		closed_by TEXT
	);

	-- CRITICAL: at most one ACTIVE deposit per student
	CREATE UNIQUE INDEX IF NOT EXISTS idx_deposits_single_active
		ON insurance_deposits(student_id) WHERE status = 'active';
	CREATE INDEX IF NOT EXISTS idx_deposits_student
		ON insurance_deposits(student_id);

	-- Expenses
	CREATE TABLE IF NOT EXISTS expenses (
		id TEXT PRIMARY KEY,
		amount TEXT NOT NULL,
		category TEXT,
		note TEXT,
		spent_at TEXT NOT NULL,
		created_by TEXT,
		created_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// PAYMENT STORE (ledger.TxPaymentStore)
// =============================================================================

// Append adds a payment event to the ledger.
func (s *Store) Append(ctx context.Context, ev ledger.PaymentEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return appendEvent(ctx, s.db, ev)
}

func appendEvent(ctx context.Context, q queryer, ev ledger.PaymentEvent) error {
	query := `
		INSERT INTO payments
		(id, student_id, installment_id, kind, amount, method, discount_percent,
		 receipt_url, status, paid_at, idempotency_key, note, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var pct sql.NullString
	if ev.DiscountPercent != nil {
		pct = sql.NullString{String: ev.DiscountPercent.String(), Valid: true}
	}

	createdAt := ev.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := q.ExecContext(ctx, query,
		ev.ID,
		ev.StudentID,
		ev.InstallmentID,
		ev.Kind,
		ev.Amount.String(),
		ev.Method,
		pct,
		nullString(ev.ReceiptURL),
		ev.Status,
		ev.PaidAt.UTC().Format(time.RFC3339Nano),
		nullString(ev.IdempotencyKey),
		nullString(ev.Note),
		nullString(ev.CreatedBy),
		createdAt.Format(time.RFC3339Nano),
	)

	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateIdempotencyKey
		}
		return mapBusy(fmt.Errorf("failed to append payment: %w", err))
	}
	return nil
}

// LoadPair returns all events for one (student, installment) pair.
func (s *Store) LoadPair(ctx context.Context, studentID ledger.StudentID, installmentID ledger.InstallmentID) ([]ledger.PaymentEvent, error) {
	return loadPair(ctx, s.db, studentID, installmentID)
}

func loadPair(ctx context.Context, q queryer, studentID ledger.StudentID, installmentID ledger.InstallmentID) ([]ledger.PaymentEvent, error) {
	query := selectPayments + `
		WHERE student_id = ? AND installment_id = ?
		ORDER BY paid_at ASC, created_at ASC
	`
	return queryEvents(ctx, q, query, studentID, installmentID)
}

// LoadByStudent returns all events for a student across installments.
func (s *Store) LoadByStudent(ctx context.Context, studentID ledger.StudentID) ([]ledger.PaymentEvent, error) {
	return loadByStudent(ctx, s.db, studentID)
}

func loadByStudent(ctx context.Context, q queryer, studentID ledger.StudentID) ([]ledger.PaymentEvent, error) {
	query := selectPayments + `
		WHERE student_id = ?
		ORDER BY paid_at ASC, created_at ASC
	`
	return queryEvents(ctx, q, query, studentID)
}

// Totals returns ledger-wide sums by kind.
func (s *Store) Totals(ctx context.Context) (ledger.PaymentTotals, error) {
	return paymentTotals(ctx, s.db)
}

func paymentTotals(ctx context.Context, q queryer) (ledger.PaymentTotals, error) {
	// Sums are computed in Go over exact decimal strings; SQLite's SUM would
	// coerce to float.
	rows, err := q.QueryContext(ctx, "SELECT kind, amount FROM payments")
	if err != nil {
		return ledger.PaymentTotals{}, mapBusy(err)
	}
	defer rows.Close()

	t := ledger.PaymentTotals{
		Received:   decimal.Zero,
		Returned:   decimal.Zero,
		Discounted: decimal.Zero,
	}
	for rows.Next() {
		var kind, amount string
		if err := rows.Scan(&kind, &amount); err != nil {
			return t, err
		}
		d := ledger.MustParseMoney(amount)
		switch ledger.PaymentKind(kind) {
		case ledger.KindReceive:
			t.Received = t.Received.Add(d)
		case ledger.KindReturn:
			t.Returned = t.Returned.Add(d)
		case ledger.KindDiscount:
			t.Discounted = t.Discounted.Add(d)
		}
	}
	return t, rows.Err()
}

// Exists checks whether an idempotency key was already used.
func (s *Store) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM payments WHERE idempotency_key = ?",
		idempotencyKey,
	).Scan(&count)
	return count > 0, err
}

// WithTx executes fn inside one immediate transaction. The in-transaction
// store reads through the transaction, so the re-read in payment admission
// and the event write cannot interleave with another writer.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.PaymentStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapBusy(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer sqlTx.Rollback()

	if err := fn(&paymentTx{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return mapBusy(err)
	}
	return nil
}

// paymentTx is the in-transaction payment store view.
type paymentTx struct {
	tx *sql.Tx
}

func (t *paymentTx) Append(ctx context.Context, ev ledger.PaymentEvent) error {
	return appendEvent(ctx, t.tx, ev)
}

func (t *paymentTx) LoadPair(ctx context.Context, studentID ledger.StudentID, installmentID ledger.InstallmentID) ([]ledger.PaymentEvent, error) {
	return loadPair(ctx, t.tx, studentID, installmentID)
}

func (t *paymentTx) LoadByStudent(ctx context.Context, studentID ledger.StudentID) ([]ledger.PaymentEvent, error) {
	return loadByStudent(ctx, t.tx, studentID)
}

func (t *paymentTx) Totals(ctx context.Context) (ledger.PaymentTotals, error) {
	return paymentTotals(ctx, t.tx)
}

func (t *paymentTx) Exists(ctx context.Context, key string) (bool, error) {
	var count int
	err := t.tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM payments WHERE idempotency_key = ?", key,
	).Scan(&count)
	return count > 0, err
}

const selectPayments = `
	SELECT id, student_id, installment_id, kind, amount, method, discount_percent,
	       receipt_url, status, paid_at, idempotency_key, note, created_by, created_at
	FROM payments
`

func queryEvents(ctx context.Context, q queryer, query string, args ...any) ([]ledger.PaymentEvent, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapBusy(fmt.Errorf("failed to query payments: %w", err))
	}
	defer rows.Close()

	var events []ledger.PaymentEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func scanEvent(rows *sql.Rows) (ledger.PaymentEvent, error) {
	var (
		ev             ledger.PaymentEvent
		amount         string
		pct            sql.NullString
		receiptURL     sql.NullString
		paidAt         string
		idempotencyKey sql.NullString
		note           sql.NullString
		createdBy      sql.NullString
		createdAt      string
	)

	err := rows.Scan(
		&ev.ID, &ev.StudentID, &ev.InstallmentID, &ev.Kind, &amount, &ev.Method,
		&pct, &receiptURL, &ev.Status, &paidAt, &idempotencyKey, &note, &createdBy, &createdAt,
	)
	if err != nil {
		return ev, fmt.Errorf("failed to scan payment: %w", err)
	}

	ev.Amount = ledger.MustParseMoney(amount)
	if pct.Valid {
		d := ledger.MustParseMoney(pct.String)
		ev.DiscountPercent = &d
	}
	ev.ReceiptURL = receiptURL.String
	ev.PaidAt, _ = time.Parse(time.RFC3339Nano, paidAt)
	ev.IdempotencyKey = idempotencyKey.String
	ev.Note = note.String
	ev.CreatedBy = createdBy.String
	ev.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return ev, nil
}

// =============================================================================
// CATALOG STORE (ledger.CatalogStore)
// =============================================================================

// SaveStudent upserts a student row.
func (s *Store) SaveStudent(ctx context.Context, st ledger.Student) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO students (id, name, department, room, entrance_year, email, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			department = excluded.department,
			room = excluded.room,
			entrance_year = excluded.entrance_year,
			email = excluded.email,
			active = excluded.active
	`

	createdAt := st.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, query,
		st.ID, st.Name, st.Department, st.Room, st.EntranceYear, st.Email, st.Active,
		createdAt.Format(time.RFC3339Nano),
	)
	return mapBusy(err)
}

// GetStudent returns a student, or (nil, nil) if absent.
func (s *Store) GetStudent(ctx context.Context, id ledger.StudentID) (*ledger.Student, error) {
	var (
		st        ledger.Student
		createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, department, room, entrance_year, email, active, created_at FROM students WHERE id = ?",
		id,
	).Scan(&st.ID, &st.Name, &st.Department, &st.Room, &st.EntranceYear, &st.Email, &st.Active, &createdAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	st.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &st, nil
}

// ListStudents returns all students ordered by name.
func (s *Store) ListStudents(ctx context.Context) ([]ledger.Student, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, department, room, entrance_year, email, active, created_at FROM students ORDER BY name",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var students []ledger.Student
	for rows.Next() {
		var (
			st        ledger.Student
			createdAt string
		)
		if err := rows.Scan(&st.ID, &st.Name, &st.Department, &st.Room, &st.EntranceYear, &st.Email, &st.Active, &createdAt); err != nil {
			return nil, err
		}
		st.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		students = append(students, st)
	}
	return students, rows.Err()
}

// SaveInstallment upserts an installment row.
func (s *Store) SaveInstallment(ctx context.Context, inst ledger.Installment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO installments (id, entrance_year, ordinal, title, amount, start_date, end_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			entrance_year = excluded.entrance_year,
			ordinal = excluded.ordinal,
			title = excluded.title,
			amount = excluded.amount,
			start_date = excluded.start_date,
			end_date = excluded.end_date
	`

	createdAt := inst.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, query,
		inst.ID, inst.EntranceYear, inst.Ordinal, inst.Title, inst.Amount.String(),
		timeOrNull(inst.StartDate), timeOrNull(inst.EndDate),
		createdAt.Format(time.RFC3339Nano),
	)
	return mapBusy(err)
}

// GetInstallment returns an installment, or (nil, nil) if absent.
func (s *Store) GetInstallment(ctx context.Context, id ledger.InstallmentID) (*ledger.Installment, error) {
	rows, err := s.db.QueryContext(ctx,
		selectInstallments+" WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	inst, err := scanInstallment(rows)
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

// ListInstallmentsByCohort returns a cohort's installments by ordinal.
func (s *Store) ListInstallmentsByCohort(ctx context.Context, entranceYear int) ([]ledger.Installment, error) {
	rows, err := s.db.QueryContext(ctx,
		selectInstallments+" WHERE entrance_year = ? ORDER BY ordinal", entranceYear)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var installments []ledger.Installment
	for rows.Next() {
		inst, err := scanInstallment(rows)
		if err != nil {
			return nil, err
		}
		installments = append(installments, inst)
	}
	return installments, rows.Err()
}

const selectInstallments = `
	SELECT id, entrance_year, ordinal, title, amount, start_date, end_date, created_at
	FROM installments
`

func scanInstallment(rows *sql.Rows) (ledger.Installment, error) {
	var (
		inst      ledger.Installment
		amount    string
		start     sql.NullString
		end       sql.NullString
		createdAt string
	)
	err := rows.Scan(&inst.ID, &inst.EntranceYear, &inst.Ordinal, &inst.Title, &amount, &start, &end, &createdAt)
	if err != nil {
		return inst, fmt.Errorf("failed to scan installment: %w", err)
	}
	inst.Amount = ledger.MustParseMoney(amount)
	inst.StartDate = parseNullTime(start)
	inst.EndDate = parseNullTime(end)
	inst.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return inst, nil
}

// =============================================================================
// TREASURY STORE (treasury.TxStore, via facet)
// =============================================================================

// Treasury returns the treasury view over the same database.
func (s *Store) Treasury() treasury.TxStore {
	return &treasuryStore{s: s, q: s.db}
}

type treasuryStore struct {
	s *Store
	q queryer
}

// WithTx executes fn inside one immediate transaction over the same
// database, so the balance read and the row write share a snapshot.
func (t *treasuryStore) WithTx(ctx context.Context, fn func(treasury.Store) error) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	sqlTx, err := t.s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapBusy(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer sqlTx.Rollback()

	if err := fn(&treasuryStore{s: t.s, q: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return mapBusy(err)
	}
	return nil
}

// BalanceInputs reads every balance flow from one consistent snapshot.
func (t *treasuryStore) BalanceInputs(ctx context.Context) (treasury.BalanceInputs, error) {
	totals, err := paymentTotals(ctx, t.q)
	if err != nil {
		return treasury.BalanceInputs{}, err
	}

	in := treasury.BalanceInputs{
		Received:          totals.Received,
		Returned:          totals.Returned,
		Discounted:        totals.Discounted,
		InsuranceHeld:     decimal.Zero,
		InsuranceRefunded: decimal.Zero,
		ApprovedOutgoing:  decimal.Zero,
		Expenses:          decimal.Zero,
	}

	if err := t.sumDeposits(ctx, &in); err != nil {
		return in, err
	}
	if err := t.sumApprovedOutgoing(ctx, &in); err != nil {
		return in, err
	}
	if err := t.sumExpenses(ctx, &in); err != nil {
		return in, err
	}
	return in, nil
}

func (t *treasuryStore) sumDeposits(ctx context.Context, in *treasury.BalanceInputs) error {
	rows, err := t.q.QueryContext(ctx, "SELECT amount_paid, amount_returned, status FROM insurance_deposits")
	if err != nil {
		return mapBusy(err)
	}
	defer rows.Close()

	for rows.Next() {
		var paid, returned, status string
		if err := rows.Scan(&paid, &returned, &status); err != nil {
			return err
		}
		in.InsuranceHeld = in.InsuranceHeld.Add(ledger.MustParseMoney(paid))
		if treasury.DepositStatus(status) == treasury.DepositReturned {
			in.InsuranceRefunded = in.InsuranceRefunded.Add(ledger.MustParseMoney(returned))
		}
	}
	return rows.Err()
}

func (t *treasuryStore) sumApprovedOutgoing(ctx context.Context, in *treasury.BalanceInputs) error {
	rows, err := t.q.QueryContext(ctx,
		"SELECT amount_to_hand_over FROM outgoing_requests WHERE status = ?", treasury.RequestApproved)
	if err != nil {
		return mapBusy(err)
	}
	defer rows.Close()

	for rows.Next() {
		var amount string
		if err := rows.Scan(&amount); err != nil {
			return err
		}
		in.ApprovedOutgoing = in.ApprovedOutgoing.Add(ledger.MustParseMoney(amount))
	}
	return rows.Err()
}

func (t *treasuryStore) sumExpenses(ctx context.Context, in *treasury.BalanceInputs) error {
	rows, err := t.q.QueryContext(ctx, "SELECT amount FROM expenses")
	if err != nil {
		return mapBusy(err)
	}
	defer rows.Close()

	for rows.Next() {
		var amount string
		if err := rows.Scan(&amount); err != nil {
			return err
		}
		in.Expenses = in.Expenses.Add(ledger.MustParseMoney(amount))
	}
	return rows.Err()
}

// SaveRequest upserts an outgoing request row.
func (t *treasuryStore) SaveRequest(ctx context.Context, r treasury.OutgoingRequest) error {
	query := `
		INSERT INTO outgoing_requests
		(id, total_collected, amount_to_hand_over, remaining_float, status,
		 period_start, period_end, rejection_note, created_by, created_at, decided_by, decided_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			rejection_note = excluded.rejection_note,
			decided_by = excluded.decided_by,
			decided_at = excluded.decided_at
	`
	_, err := t.q.ExecContext(ctx, query,
		r.ID,
		r.TotalCollected.String(),
		r.AmountToHandOver.String(),
		r.RemainingFloat.String(),
		r.Status,
		ptrTimeOrNull(r.PeriodStart),
		ptrTimeOrNull(r.PeriodEnd),
		nullString(r.RejectionNote),
		nullString(r.CreatedBy),
		r.CreatedAt.Format(time.RFC3339Nano),
		nullString(r.DecidedBy),
		ptrTimeOrNull(r.DecidedAt),
	)
	return mapBusy(err)
}

// GetRequest returns a request, or (nil, nil) if absent.
func (t *treasuryStore) GetRequest(ctx context.Context, id treasury.RequestID) (*treasury.OutgoingRequest, error) {
	rows, err := t.q.QueryContext(ctx, selectRequests+" WHERE id = ?", id)
	if err != nil {
		return nil, mapBusy(err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	r, err := scanRequest(rows)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRequests returns requests newest first, optionally filtered by status.
func (t *treasuryStore) ListRequests(ctx context.Context, status treasury.RequestStatus) ([]treasury.OutgoingRequest, error) {
	query := selectRequests
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC"

	rows, err := t.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapBusy(err)
	}
	defer rows.Close()

	var requests []treasury.OutgoingRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

// DeleteRequest removes a request row. The workflow only calls this for
// PENDING requests.
func (t *treasuryStore) DeleteRequest(ctx context.Context, id treasury.RequestID) error {
	_, err := t.q.ExecContext(ctx, "DELETE FROM outgoing_requests WHERE id = ?", id)
	return mapBusy(err)
}

const selectRequests = `
	SELECT id, total_collected, amount_to_hand_over, remaining_float, status,
	       period_start, period_end, rejection_note, created_by, created_at, decided_by, decided_at
	FROM outgoing_requests
`

func scanRequest(rows *sql.Rows) (treasury.OutgoingRequest, error) {
	var (
		r                        treasury.OutgoingRequest
		total, amount, remaining string
		periodStart, periodEnd   sql.NullString
		note, createdBy          sql.NullString
		createdAt                string
		decidedBy, decidedAt     sql.NullString
	)
	err := rows.Scan(&r.ID, &total, &amount, &remaining, &r.Status,
		&periodStart, &periodEnd, &note, &createdBy, &createdAt, &decidedBy, &decidedAt)
	if err != nil {
		return r, fmt.Errorf("failed to scan outgoing request: %w", err)
	}
	r.TotalCollected = ledger.MustParseMoney(total)
	r.AmountToHandOver = ledger.MustParseMoney(amount)
	r.RemainingFloat = ledger.MustParseMoney(remaining)
	r.PeriodStart = parseNullTimePtr(periodStart)
	r.PeriodEnd = parseNullTimePtr(periodEnd)
	r.RejectionNote = note.String
	r.CreatedBy = createdBy.String
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	r.DecidedBy = decidedBy.String
	r.DecidedAt = parseNullTimePtr(decidedAt)
	return r, nil
}

// SaveDeposit upserts an insurance deposit row.
func (t *treasuryStore) SaveDeposit(ctx context.Context, d treasury.InsuranceDeposit) error {
	query := `
		INSERT INTO insurance_deposits
		(id, student_id, amount_paid, amount_returned, status, opened_at, closed_at, closed_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			amount_returned = excluded.amount_returned,
			status = excluded.status,
			closed_at = excluded.closed_at,
			closed_by = excluded.closed_by
	`
	_, err := t.q.ExecContext(ctx, query,
		d.ID, d.StudentID,
		d.AmountPaid.String(), d.AmountReturned.String(),
		d.Status,
		d.OpenedAt.Format(time.RFC3339Nano),
		ptrTimeOrNull(d.ClosedAt),
		nullString(d.ClosedBy),
	)
	if err != nil && isUniqueConstraintError(err) {
		// idx_deposits_single_active fired: a second ACTIVE deposit.
		return ledger.ErrDepositActive
	}
	return mapBusy(err)
}

// GetDeposit returns a deposit, or (nil, nil) if absent.
func (t *treasuryStore) GetDeposit(ctx context.Context, id treasury.DepositID) (*treasury.InsuranceDeposit, error) {
	rows, err := t.q.QueryContext(ctx, selectDeposits+" WHERE id = ?", id)
	if err != nil {
		return nil, mapBusy(err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	d, err := scanDeposit(rows)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ActiveDeposit returns the student's ACTIVE deposit, or (nil, nil).
func (t *treasuryStore) ActiveDeposit(ctx context.Context, studentID ledger.StudentID) (*treasury.InsuranceDeposit, error) {
	rows, err := t.q.QueryContext(ctx,
		selectDeposits+" WHERE student_id = ? AND status = ?", studentID, treasury.DepositActive)
	if err != nil {
		return nil, mapBusy(err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	d, err := scanDeposit(rows)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ListDeposits returns a student's deposits newest first.
func (t *treasuryStore) ListDeposits(ctx context.Context, studentID ledger.StudentID) ([]treasury.InsuranceDeposit, error) {
	rows, err := t.q.QueryContext(ctx,
		selectDeposits+" WHERE student_id = ? ORDER BY opened_at DESC", studentID)
	if err != nil {
		return nil, mapBusy(err)
	}
	defer rows.Close()

	var deposits []treasury.InsuranceDeposit
	for rows.Next() {
		d, err := scanDeposit(rows)
		if err != nil {
			return nil, err
		}
		deposits = append(deposits, d)
	}
	return deposits, rows.Err()
}

const selectDeposits = `
	SELECT id, student_id, amount_paid, amount_returned, status, opened_at, closed_at, closed_by
	FROM insurance_deposits
`

func scanDeposit(rows *sql.Rows) (treasury.InsuranceDeposit, error) {
	var (
		d                  treasury.InsuranceDeposit
		paid, returned     string
		openedAt           string
		closedAt, closedBy sql.NullString
	)
	err := rows.Scan(&d.ID, &d.StudentID, &paid, &returned, &d.Status, &openedAt, &closedAt, &closedBy)
	if err != nil {
		return d, fmt.Errorf("failed to scan deposit: %w", err)
	}
	d.AmountPaid = ledger.MustParseMoney(paid)
	d.AmountReturned = ledger.MustParseMoney(returned)
	d.OpenedAt, _ = time.Parse(time.RFC3339Nano, openedAt)
	d.ClosedAt = parseNullTimePtr(closedAt)
	d.ClosedBy = closedBy.String
	return d, nil
}

// SaveExpense inserts an expense row.
func (t *treasuryStore) SaveExpense(ctx context.Context, e treasury.Expense) error {
	query := `
		INSERT INTO expenses (id, amount, category, note, spent_at, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := t.q.ExecContext(ctx, query,
		e.ID, e.Amount.String(),
		nullString(e.Category), nullString(e.Note),
		e.SpentAt.Format(time.RFC3339Nano),
		nullString(e.CreatedBy),
		e.CreatedAt.Format(time.RFC3339Nano),
	)
	return mapBusy(err)
}

// ListExpenses returns all expenses newest first.
func (t *treasuryStore) ListExpenses(ctx context.Context) ([]treasury.Expense, error) {
	rows, err := t.q.QueryContext(ctx,
		"SELECT id, amount, category, note, spent_at, created_by, created_at FROM expenses ORDER BY created_at DESC")
	if err != nil {
		return nil, mapBusy(err)
	}
	defer rows.Close()

	var expenses []treasury.Expense
	for rows.Next() {
		var (
			e                  treasury.Expense
			amount             string
			category, note     sql.NullString
			spentAt, createdAt string
			createdBy          sql.NullString
		)
		if err := rows.Scan(&e.ID, &amount, &category, &note, &spentAt, &createdBy, &createdAt); err != nil {
			return nil, err
		}
		e.Amount = ledger.MustParseMoney(amount)
		e.Category = category.String
		e.Note = note.String
		e.SpentAt, _ = time.Parse(time.RFC3339Nano, spentAt)
		e.CreatedBy = createdBy.String
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		expenses = append(expenses, e)
	}
	return expenses, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func timeOrNull(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func ptrTimeOrNull(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func parseNullTime(s sql.NullString) time.Time {
	if !s.Valid {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s.String)
	return t
}

func parseNullTimePtr(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, _ := time.Parse(time.RFC3339Nano, s.String)
	return &t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// mapBusy converts lock contention into the retryable conflict error.
func mapBusy(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked") {
		return fmt.Errorf("%w: %v", ledger.ErrConflict, err)
	}
	return err
}
