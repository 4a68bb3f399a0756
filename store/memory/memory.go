/*
Package memory provides an in-memory implementation of the storage
interfaces, for tests and dev mode.

It enforces the same invariants as the SQLite store — ascending ledger
order, (debt, calculation date) uniqueness, per-debt serialization — and
WithDebtTx snapshots the debt's state so a failing transaction body
rolls every debt-scoped write back, matching real transaction semantics
closely enough for the engine's tests.
*/
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vela/credit-engine/credit"
	"github.com/vela/credit-engine/sales"
)

// Store implements credit.TxStore and sales.Store in memory.
type Store struct {
	mu sync.RWMutex

	nextSaleID    int64
	nextDebtID    int64
	nextPaymentID int64
	nextEntryID   int64

	nextCustomerID int64
	customers      map[int64]*sales.Customer

	sales        map[int64]*sales.Sale
	items        map[int64][]sales.SaleItem
	salePayments map[int64][]credit.Payment

	debts          map[int64]*credit.Debt
	debtBySale     map[int64]int64
	debtPayments   map[int64][]credit.Payment
	fixedEntries   map[int64][]credit.MarkupEntry
	percentEntries map[int64][]credit.MarkupEntry
	graceChanges   map[int64][]credit.GraceChange

	lockMu    sync.Mutex
	debtLocks map[int64]*sync.Mutex
}

func New() *Store {
	return &Store{
		customers:      make(map[int64]*sales.Customer),
		sales:          make(map[int64]*sales.Sale),
		items:          make(map[int64][]sales.SaleItem),
		salePayments:   make(map[int64][]credit.Payment),
		debts:          make(map[int64]*credit.Debt),
		debtBySale:     make(map[int64]int64),
		debtPayments:   make(map[int64][]credit.Payment),
		fixedEntries:   make(map[int64][]credit.MarkupEntry),
		percentEntries: make(map[int64][]credit.MarkupEntry),
		graceChanges:   make(map[int64][]credit.GraceChange),
		debtLocks:      make(map[int64]*sync.Mutex),
	}
}

func (m *Store) entriesFor(typ credit.MarkupType) map[int64][]credit.MarkupEntry {
	if typ == credit.MarkupPercent {
		return m.percentEntries
	}
	return m.fixedEntries
}

// =============================================================================
// DEBT STORE
// =============================================================================

func (m *Store) GetDebt(_ context.Context, debtID int64) (*credit.Debt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.debts[debtID]
	if !ok {
		return nil, credit.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *Store) ListDebts(_ context.Context, status credit.DebtStatus, limit int) ([]credit.Debt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []credit.Debt
	for _, d := range m.debts {
		if d.Status == status {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Store) ListEligible(_ context.Context, asOf time.Time) ([]credit.Debt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	today := credit.Day(asOf)
	oneMonthAgo := credit.AddMonthsClamped(today, -1)

	var out []credit.Debt
	for _, d := range m.debts {
		if d.Status != credit.StatusActive || !d.HasMarkup() {
			continue
		}
		if !credit.Day(d.GraceEndDate).Before(today) {
			continue
		}
		if !d.CurrentAmount.GreaterThan(credit.Epsilon) {
			continue
		}
		if d.LastMarkupDate != nil && !credit.Day(*d.LastMarkupDate).Before(oneMonthAgo) {
			continue
		}
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Store) UpdateDebtBalance(_ context.Context, debtID int64, newAmount decimal.Decimal, status credit.DebtStatus, lastMarkup *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.debts[debtID]
	if !ok {
		return credit.ErrNotFound
	}
	d.CurrentAmount = newAmount
	d.Status = status
	d.LastMarkupDate = lastMarkup
	return nil
}

func (m *Store) UpdateGracePeriod(_ context.Context, debtID int64, months int, graceEnd time.Time, change credit.GraceChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.debts[debtID]
	if !ok {
		return credit.ErrNotFound
	}
	d.GracePeriodMonths = months
	d.GraceEndDate = graceEnd
	m.graceChanges[debtID] = append(m.graceChanges[debtID], change)
	return nil
}

func (m *Store) ListGraceChanges(_ context.Context, debtID int64) ([]credit.GraceChange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]credit.GraceChange(nil), m.graceChanges[debtID]...), nil
}

func (m *Store) DebtStats(_ context.Context) (credit.Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := credit.Stats{
		TotalActiveDebt: decimal.Zero,
		TotalOriginal:   decimal.Zero,
		TotalRecovered:  decimal.Zero,
	}
	for _, d := range m.debts {
		stats.TotalCount++
		stats.TotalOriginal = stats.TotalOriginal.Add(d.OriginalAmount)
		switch d.Status {
		case credit.StatusActive:
			stats.ActiveCount++
			stats.TotalActiveDebt = stats.TotalActiveDebt.Add(d.CurrentAmount)
		case credit.StatusPaid:
			stats.PaidCount++
			stats.TotalRecovered = stats.TotalRecovered.Add(d.OriginalAmount)
		}
	}
	return stats, nil
}

// =============================================================================
// LEDGER STORE
// =============================================================================

func (m *Store) ListDebtPayments(_ context.Context, debtID int64) ([]credit.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]credit.Payment(nil), m.debtPayments[debtID]...)
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Store) ListMarkupEntries(_ context.Context, debtID int64, typ credit.MarkupType) ([]credit.MarkupEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]credit.MarkupEntry(nil), m.entriesFor(typ)[debtID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].CalculationDate.Before(out[j].CalculationDate) })
	return out, nil
}

func (m *Store) HasMarkupEntryOn(_ context.Context, debtID int64, typ credit.MarkupType, date time.Time) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.entriesFor(typ)[debtID] {
		if credit.SameDay(e.CalculationDate, date) {
			return true, nil
		}
	}
	return false, nil
}

func (m *Store) InsertMarkupEntry(_ context.Context, typ credit.MarkupType, entry *credit.MarkupEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	table := m.entriesFor(typ)
	for _, e := range table[entry.DebtID] {
		if credit.SameDay(e.CalculationDate, entry.CalculationDate) {
			return &credit.DuplicateEntryError{DebtID: entry.DebtID, Date: credit.Day(entry.CalculationDate)}
		}
	}
	m.nextEntryID++
	entry.ID = m.nextEntryID
	table[entry.DebtID] = append(table[entry.DebtID], *entry)
	return nil
}

func (m *Store) DeleteMarkupEntriesAfter(_ context.Context, debtID int64, typ credit.MarkupType, after time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	table := m.entriesFor(typ)
	kept := table[debtID][:0]
	deleted := 0
	for _, e := range table[debtID] {
		if credit.Day(e.CalculationDate).After(credit.Day(after)) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	table[debtID] = kept
	return deleted, nil
}

// =============================================================================
// PER-DEBT TRANSACTIONS
// =============================================================================

func (m *Store) lockFor(debtID int64) *sync.Mutex {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	l, ok := m.debtLocks[debtID]
	if !ok {
		l = &sync.Mutex{}
		m.debtLocks[debtID] = l
	}
	return l
}

// debtSnapshot captures everything an accrual or cleanup run may write.
type debtSnapshot struct {
	debt         *credit.Debt
	fixed        []credit.MarkupEntry
	percent      []credit.MarkupEntry
	payments     []credit.Payment
	graceChanges []credit.GraceChange
}

func (m *Store) snapshot(debtID int64) debtSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := debtSnapshot{
		fixed:        append([]credit.MarkupEntry(nil), m.fixedEntries[debtID]...),
		percent:      append([]credit.MarkupEntry(nil), m.percentEntries[debtID]...),
		payments:     append([]credit.Payment(nil), m.debtPayments[debtID]...),
		graceChanges: append([]credit.GraceChange(nil), m.graceChanges[debtID]...),
	}
	if d, ok := m.debts[debtID]; ok {
		cp := *d
		snap.debt = &cp
	}
	return snap
}

func (m *Store) restore(debtID int64, snap debtSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fixedEntries[debtID] = snap.fixed
	m.percentEntries[debtID] = snap.percent
	m.debtPayments[debtID] = snap.payments
	m.graceChanges[debtID] = snap.graceChanges
	if snap.debt != nil {
		cp := *snap.debt
		m.debts[debtID] = &cp
	}
}

// WithDebtTx serializes runs for one debt and rolls debt-scoped state
// back when fn fails.
func (m *Store) WithDebtTx(_ context.Context, debtID int64, fn func(credit.Store) error) error {
	l := m.lockFor(debtID)
	l.Lock()
	defer l.Unlock()

	snap := m.snapshot(debtID)
	if err := fn(m); err != nil {
		m.restore(debtID, snap)
		return err
	}
	return nil
}

// =============================================================================
// SALES STORE
// =============================================================================

func (m *Store) GetSale(_ context.Context, saleID int64) (*sales.Sale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sales[saleID]
	if !ok {
		return nil, credit.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *Store) ListSalePayments(_ context.Context, saleID int64) ([]credit.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]credit.Payment(nil), m.salePayments[saleID]...)
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Store) CreateSale(_ context.Context, sale *sales.Sale, items []sales.SaleItem, initial *credit.Payment, debt *credit.Debt) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextSaleID++
	sale.ID = m.nextSaleID
	cp := *sale
	m.sales[sale.ID] = &cp

	for i := range items {
		items[i].SaleID = sale.ID
	}
	m.items[sale.ID] = append([]sales.SaleItem(nil), items...)

	if initial != nil {
		m.nextPaymentID++
		initial.ID = m.nextPaymentID
		initial.SaleID = sale.ID
		m.salePayments[sale.ID] = append(m.salePayments[sale.ID], *initial)
	}

	if debt != nil {
		m.nextDebtID++
		debt.ID = m.nextDebtID
		debt.SaleID = sale.ID
		dcp := *debt
		m.debts[debt.ID] = &dcp
		m.debtBySale[sale.ID] = debt.ID
	}
	return sale.ID, nil
}

func (m *Store) RecordPayment(_ context.Context, saleID int64, amount decimal.Decimal, method string, date time.Time) (*sales.PaymentResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sales[saleID]
	if !ok {
		return nil, credit.ErrNotFound
	}

	s.PaidAmount = s.PaidAmount.Add(amount)
	if s.PaidAmount.GreaterThanOrEqual(s.TotalAmount) {
		s.Status = sales.StatusPaid
	} else {
		s.Status = sales.StatusPartial
	}

	m.nextPaymentID++
	payment := credit.Payment{
		ID:     m.nextPaymentID,
		SaleID: saleID,
		Amount: amount,
		Date:   credit.Day(date),
		Method: method,
	}
	m.salePayments[saleID] = append(m.salePayments[saleID], payment)

	result := &sales.PaymentResult{
		PaymentID:     payment.ID,
		SaleStatus:    s.Status,
		AppliedToDebt: decimal.Zero,
	}

	debtID, ok := m.debtBySale[saleID]
	if !ok {
		return result, nil
	}
	d := m.debts[debtID]
	if d.Status != credit.StatusActive {
		return result, nil
	}

	applied := amount
	if applied.GreaterThan(d.CurrentAmount) {
		applied = d.CurrentAmount
	}
	m.debtPayments[debtID] = append(m.debtPayments[debtID], credit.Payment{
		ID:     payment.ID,
		SaleID: saleID,
		Amount: applied,
		Date:   payment.Date,
		Method: method,
	})

	d.CurrentAmount = d.CurrentAmount.Sub(applied)
	settledNow := d.CurrentAmount.LessThanOrEqual(credit.Epsilon)
	if settledNow {
		d.CurrentAmount = decimal.Zero
		d.Status = credit.StatusPaid
	}

	result.DebtID = &debtID
	result.AppliedToDebt = applied
	result.DebtSettled = settledNow
	return result, nil
}

// =============================================================================
// CUSTOMER STORE
// =============================================================================

func (m *Store) SaveCustomer(_ context.Context, c *sales.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextCustomerID++
	c.ID = m.nextCustomerID
	cp := *c
	m.customers[c.ID] = &cp
	return nil
}

func (m *Store) GetCustomer(_ context.Context, id int64) (*sales.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.customers[id]
	if !ok {
		return nil, credit.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *Store) ListCustomers(_ context.Context) ([]sales.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []sales.Customer
	for _, c := range m.customers {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// =============================================================================
// SEEDING HELPERS (tests and dev mode)
// =============================================================================

// PutDebt inserts a debt directly, bypassing the sales flow.
func (m *Store) PutDebt(d *credit.Debt) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextDebtID++
	d.ID = m.nextDebtID
	if d.SaleID != 0 {
		m.debtBySale[d.SaleID] = d.ID
	}
	cp := *d
	m.debts[d.ID] = &cp
	return d.ID
}

// AddDebtPayment records a payment directly against a debt: it joins the
// payment timeline and reduces the balance (clamped at zero), flipping
// the debt to paid when settled.
func (m *Store) AddDebtPayment(debtID int64, amount decimal.Decimal, date time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.debts[debtID]
	if !ok {
		return credit.ErrNotFound
	}
	m.nextPaymentID++
	m.debtPayments[debtID] = append(m.debtPayments[debtID], credit.Payment{
		ID:     m.nextPaymentID,
		SaleID: d.SaleID,
		Amount: amount,
		Date:   credit.Day(date),
		Method: "cash",
	})
	d.CurrentAmount = d.CurrentAmount.Sub(amount)
	if d.CurrentAmount.LessThanOrEqual(credit.Epsilon) {
		d.CurrentAmount = decimal.Zero
		d.Status = credit.StatusPaid
	}
	return nil
}
