// Package store provides an in-memory implementation of the engine's store
// interfaces, for tests and demos. Transactions hold the single mutex for
// their whole critical section, which makes writers trivially serialized -
// the same guarantee the SQLite store gets from BEGIN IMMEDIATE.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/HogrHonar/dormitory-ledger/ledger"
	"github.com/HogrHonar/dormitory-ledger/treasury"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	mu sync.Mutex

	events      []ledger.PaymentEvent
	idempotency map[string]bool

	students     map[ledger.StudentID]ledger.Student
	installments map[ledger.InstallmentID]ledger.Installment

	requests map[treasury.RequestID]treasury.OutgoingRequest
	deposits map[treasury.DepositID]treasury.InsuranceDeposit
	expenses []treasury.Expense
}

func NewMemory() *Memory {
	return &Memory{
		idempotency:  make(map[string]bool),
		students:     make(map[ledger.StudentID]ledger.Student),
		installments: make(map[ledger.InstallmentID]ledger.Installment),
		requests:     make(map[treasury.RequestID]treasury.OutgoingRequest),
		deposits:     make(map[treasury.DepositID]treasury.InsuranceDeposit),
	}
}

// =============================================================================
// PAYMENT STORE (ledger.TxPaymentStore)
// =============================================================================

func (m *Memory) Append(_ context.Context, ev ledger.PaymentEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(ev)
}

func (m *Memory) appendLocked(ev ledger.PaymentEvent) error {
	if ev.IdempotencyKey != "" && m.idempotency[ev.IdempotencyKey] {
		return ledger.ErrDuplicateIdempotencyKey
	}
	if ev.IdempotencyKey != "" {
		m.idempotency[ev.IdempotencyKey] = true
	}
	m.events = append(m.events, ev)
	return nil
}

func (m *Memory) LoadPair(_ context.Context, studentID ledger.StudentID, installmentID ledger.InstallmentID) ([]ledger.PaymentEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadPairLocked(studentID, installmentID), nil
}

func (m *Memory) loadPairLocked(studentID ledger.StudentID, installmentID ledger.InstallmentID) []ledger.PaymentEvent {
	var out []ledger.PaymentEvent
	for _, ev := range m.events {
		if ev.StudentID == studentID && ev.InstallmentID == installmentID {
			out = append(out, ev)
		}
	}
	sortEvents(out)
	return out
}

func (m *Memory) LoadByStudent(_ context.Context, studentID ledger.StudentID) ([]ledger.PaymentEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []ledger.PaymentEvent
	for _, ev := range m.events {
		if ev.StudentID == studentID {
			out = append(out, ev)
		}
	}
	sortEvents(out)
	return out, nil
}

func (m *Memory) Totals(_ context.Context) (ledger.PaymentTotals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalsLocked(), nil
}

func (m *Memory) totalsLocked() ledger.PaymentTotals {
	t := ledger.PaymentTotals{
		Received:   decimal.Zero,
		Returned:   decimal.Zero,
		Discounted: decimal.Zero,
	}
	for _, ev := range m.events {
		switch ev.Kind {
		case ledger.KindReceive:
			t.Received = t.Received.Add(ev.Amount)
		case ledger.KindReturn:
			t.Returned = t.Returned.Add(ev.Amount)
		case ledger.KindDiscount:
			t.Discounted = t.Discounted.Add(ev.Amount)
		}
	}
	return t
}

func (m *Memory) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.idempotency[idempotencyKey], nil
}

// WithTx serializes the critical section under the store mutex. Writes are
// staged and applied only if fn succeeds.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.PaymentStore) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &paymentTx{m: m}
	if err := fn(tx); err != nil {
		return err
	}
	for _, ev := range tx.staged {
		if err := m.appendLocked(ev); err != nil {
			return err
		}
	}
	return nil
}

// paymentTx is the in-transaction view. The parent mutex is held for its
// whole lifetime; reads see committed state, writes are staged.
type paymentTx struct {
	m      *Memory
	staged []ledger.PaymentEvent
}

func (tx *paymentTx) Append(_ context.Context, ev ledger.PaymentEvent) error {
	if ev.IdempotencyKey != "" && tx.m.idempotency[ev.IdempotencyKey] {
		return ledger.ErrDuplicateIdempotencyKey
	}
	for _, s := range tx.staged {
		if ev.IdempotencyKey != "" && s.IdempotencyKey == ev.IdempotencyKey {
			return ledger.ErrDuplicateIdempotencyKey
		}
	}
	tx.staged = append(tx.staged, ev)
	return nil
}

func (tx *paymentTx) LoadPair(_ context.Context, studentID ledger.StudentID, installmentID ledger.InstallmentID) ([]ledger.PaymentEvent, error) {
	return tx.m.loadPairLocked(studentID, installmentID), nil
}

func (tx *paymentTx) LoadByStudent(ctx context.Context, studentID ledger.StudentID) ([]ledger.PaymentEvent, error) {
	var out []ledger.PaymentEvent
	for _, ev := range tx.m.events {
		if ev.StudentID == studentID {
			out = append(out, ev)
		}
	}
	sortEvents(out)
	return out, nil
}

func (tx *paymentTx) Totals(_ context.Context) (ledger.PaymentTotals, error) {
	return tx.m.totalsLocked(), nil
}

func (tx *paymentTx) Exists(_ context.Context, key string) (bool, error) {
	return tx.m.idempotency[key], nil
}

func sortEvents(evs []ledger.PaymentEvent) {
	sort.SliceStable(evs, func(i, j int) bool {
		if evs[i].PaidAt.Equal(evs[j].PaidAt) {
			return evs[i].CreatedAt.Before(evs[j].CreatedAt)
		}
		return evs[i].PaidAt.Before(evs[j].PaidAt)
	})
}

// =============================================================================
// CATALOG STORE (ledger.CatalogStore)
// =============================================================================

func (m *Memory) SaveStudent(_ context.Context, s ledger.Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.students[s.ID] = s
	return nil
}

func (m *Memory) GetStudent(_ context.Context, id ledger.StudentID) (*ledger.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.students[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *Memory) ListStudents(_ context.Context) ([]ledger.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ledger.Student, 0, len(m.students))
	for _, s := range m.students {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) SaveInstallment(_ context.Context, inst ledger.Installment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.installments[inst.ID] = inst
	return nil
}

func (m *Memory) GetInstallment(_ context.Context, id ledger.InstallmentID) (*ledger.Installment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.installments[id]
	if !ok {
		return nil, nil
	}
	return &inst, nil
}

func (m *Memory) ListInstallmentsByCohort(_ context.Context, entranceYear int) ([]ledger.Installment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []ledger.Installment
	for _, inst := range m.installments {
		if inst.EntranceYear == entranceYear {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out, nil
}

// =============================================================================
// TREASURY STORE (treasury.TxStore, via facet)
// =============================================================================

// Treasury returns the treasury view over the same store.
func (m *Memory) Treasury() treasury.TxStore {
	return &memTreasury{m: m}
}

type memTreasury struct {
	m *Memory
}

func (t *memTreasury) BalanceInputs(_ context.Context) (treasury.BalanceInputs, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	return t.m.balanceInputsLocked(), nil
}

func (m *Memory) balanceInputsLocked() treasury.BalanceInputs {
	totals := m.totalsLocked()
	in := treasury.BalanceInputs{
		Received:          totals.Received,
		Returned:          totals.Returned,
		Discounted:        totals.Discounted,
		InsuranceHeld:     decimal.Zero,
		InsuranceRefunded: decimal.Zero,
		ApprovedOutgoing:  decimal.Zero,
		Expenses:          decimal.Zero,
	}
	for _, d := range m.deposits {
		in.InsuranceHeld = in.InsuranceHeld.Add(d.AmountPaid)
		if d.Status == treasury.DepositReturned {
			in.InsuranceRefunded = in.InsuranceRefunded.Add(d.AmountReturned)
		}
	}
	for _, r := range m.requests {
		if r.Status == treasury.RequestApproved {
			in.ApprovedOutgoing = in.ApprovedOutgoing.Add(r.AmountToHandOver)
		}
	}
	for _, e := range m.expenses {
		in.Expenses = in.Expenses.Add(e.Amount)
	}
	return in
}

func (t *memTreasury) SaveRequest(_ context.Context, r treasury.OutgoingRequest) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	t.m.requests[r.ID] = r
	return nil
}

func (t *memTreasury) GetRequest(_ context.Context, id treasury.RequestID) (*treasury.OutgoingRequest, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	r, ok := t.m.requests[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (t *memTreasury) ListRequests(_ context.Context, status treasury.RequestStatus) ([]treasury.OutgoingRequest, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()

	var out []treasury.OutgoingRequest
	for _, r := range t.m.requests {
		if status == "" || r.Status == status {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (t *memTreasury) DeleteRequest(_ context.Context, id treasury.RequestID) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	delete(t.m.requests, id)
	return nil
}

func (t *memTreasury) SaveDeposit(_ context.Context, d treasury.InsuranceDeposit) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	t.m.deposits[d.ID] = d
	return nil
}

func (t *memTreasury) GetDeposit(_ context.Context, id treasury.DepositID) (*treasury.InsuranceDeposit, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	d, ok := t.m.deposits[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (t *memTreasury) ActiveDeposit(_ context.Context, studentID ledger.StudentID) (*treasury.InsuranceDeposit, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	return t.m.activeDepositLocked(studentID), nil
}

func (m *Memory) activeDepositLocked(studentID ledger.StudentID) *treasury.InsuranceDeposit {
	for _, d := range m.deposits {
		if d.StudentID == studentID && d.Status == treasury.DepositActive {
			dep := d
			return &dep
		}
	}
	return nil
}

func (t *memTreasury) ListDeposits(_ context.Context, studentID ledger.StudentID) ([]treasury.InsuranceDeposit, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()

	var out []treasury.InsuranceDeposit
	for _, d := range t.m.deposits {
		if d.StudentID == studentID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.After(out[j].OpenedAt) })
	return out, nil
}

func (t *memTreasury) SaveExpense(_ context.Context, e treasury.Expense) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	t.m.expenses = append(t.m.expenses, e)
	return nil
}

func (t *memTreasury) ListExpenses(_ context.Context) ([]treasury.Expense, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()

	out := make([]treasury.Expense, len(t.m.expenses))
	copy(out, t.m.expenses)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// WithTx serializes the treasury critical section under the store mutex.
// Writes are staged and applied only if fn succeeds.
func (t *memTreasury) WithTx(ctx context.Context, fn func(treasury.Store) error) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()

	tx := &treasuryTx{m: t.m}
	if err := fn(tx); err != nil {
		return err
	}
	tx.apply()
	return nil
}

// treasuryTx stages treasury writes while the parent mutex is held.
type treasuryTx struct {
	m *Memory

	savedRequests   []treasury.OutgoingRequest
	deletedRequests []treasury.RequestID
	savedDeposits   []treasury.InsuranceDeposit
	savedExpenses   []treasury.Expense
}

func (tx *treasuryTx) apply() {
	for _, r := range tx.savedRequests {
		tx.m.requests[r.ID] = r
	}
	for _, id := range tx.deletedRequests {
		delete(tx.m.requests, id)
	}
	for _, d := range tx.savedDeposits {
		tx.m.deposits[d.ID] = d
	}
	tx.m.expenses = append(tx.m.expenses, tx.savedExpenses...)
}

func (tx *treasuryTx) BalanceInputs(_ context.Context) (treasury.BalanceInputs, error) {
	return tx.m.balanceInputsLocked(), nil
}

func (tx *treasuryTx) SaveRequest(_ context.Context, r treasury.OutgoingRequest) error {
	tx.savedRequests = append(tx.savedRequests, r)
	return nil
}

func (tx *treasuryTx) GetRequest(_ context.Context, id treasury.RequestID) (*treasury.OutgoingRequest, error) {
	r, ok := tx.m.requests[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (tx *treasuryTx) ListRequests(_ context.Context, status treasury.RequestStatus) ([]treasury.OutgoingRequest, error) {
	var out []treasury.OutgoingRequest
	for _, r := range tx.m.requests {
		if status == "" || r.Status == status {
			out = append(out, r)
		}
	}
	return out, nil
}

func (tx *treasuryTx) DeleteRequest(_ context.Context, id treasury.RequestID) error {
	tx.deletedRequests = append(tx.deletedRequests, id)
	return nil
}

func (tx *treasuryTx) SaveDeposit(_ context.Context, d treasury.InsuranceDeposit) error {
	tx.savedDeposits = append(tx.savedDeposits, d)
	return nil
}

func (tx *treasuryTx) GetDeposit(_ context.Context, id treasury.DepositID) (*treasury.InsuranceDeposit, error) {
	d, ok := tx.m.deposits[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (tx *treasuryTx) ActiveDeposit(_ context.Context, studentID ledger.StudentID) (*treasury.InsuranceDeposit, error) {
	return tx.m.activeDepositLocked(studentID), nil
}

func (tx *treasuryTx) ListDeposits(_ context.Context, studentID ledger.StudentID) ([]treasury.InsuranceDeposit, error) {
	var out []treasury.InsuranceDeposit
	for _, d := range tx.m.deposits {
		if d.StudentID == studentID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (tx *treasuryTx) SaveExpense(_ context.Context, e treasury.Expense) error {
	tx.savedExpenses = append(tx.savedExpenses, e)
	return nil
}

func (tx *treasuryTx) ListExpenses(_ context.Context) ([]treasury.Expense, error) {
	out := make([]treasury.Expense, len(tx.m.expenses))
	copy(out, tx.m.expenses)
	return out, nil
}
