/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements credit.TxStore and sales.Store over a single SQLite file.
  In production the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

KEY TABLES:
  customers:                 Customer records
  sales, sale_items:         Sales and their line items
  payments:                  Money received against sales
  debts:                     Balances carried on credit, with markup terms
  debt_payments:             The portion of each payment applied to a debt
  debt_fixed_markup_logs:    Accrual ledger for fixed markup
  debt_percent_markup_logs:  Accrual ledger for percent markup
  grace_period_changes:      Audit trail for grace-period edits

DAY UNIQUENESS:
  Each markup table carries a unique index on (debt_id, DATE(calculation_date)).
  The engine checks before inserting; the index is the backstop that makes
  double-posting impossible even across racing processes.

CONCURRENCY:
  WithDebtTx pairs a per-debt mutex with a database transaction: runs for
  one debt are serialized, runs across debts proceed in parallel. SQLite
  is opened in WAL mode so readers never block on the writer.

MONEY:
  decimal amounts are stored as TEXT and parsed back; REAL would reintroduce
  the float drift the decimal type exists to prevent.

SEE ALSO:
  - credit/store.go: Interface definitions
  - store/memory: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/vela/credit-engine/credit"
	"github.com/vela/credit-engine/sales"
)

// Store implements credit.TxStore and sales.Store using SQLite.
type Store struct {
	db *sql.DB

	lockMu    sync.Mutex
	debtLocks map[int64]*sync.Mutex
}

// New opens (or creates) the database at dbPath and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single writer avoids SQLITE_BUSY under concurrent sweeps.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, debtLocks: make(map[int64]*sync.Mutex)}
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

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS customers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		phone TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sales (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		customer_id INTEGER NOT NULL,
		seller_id INTEGER NOT NULL DEFAULT 0,
		total_amount TEXT NOT NULL,
		paid_amount TEXT NOT NULL,
		status TEXT NOT NULL,
		sale_date TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sales_customer ON sales(customer_id);

	CREATE TABLE IF NOT EXISTS sale_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sale_id INTEGER NOT NULL REFERENCES sales(id),
		product_id INTEGER NOT NULL,
		quantity INTEGER NOT NULL,
		unit_price TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sale_items_sale ON sale_items(sale_id);

	CREATE TABLE IF NOT EXISTS payments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sale_id INTEGER NOT NULL REFERENCES sales(id),
		amount TEXT NOT NULL,
		method TEXT NOT NULL DEFAULT 'cash',
		payment_date TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_sale ON payments(sale_id);

	CREATE TABLE IF NOT EXISTS debts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sale_id INTEGER NOT NULL REFERENCES sales(id),
		customer_id INTEGER NOT NULL,
		original_amount TEXT NOT NULL,
		current_amount TEXT NOT NULL,
		markup_type TEXT NOT NULL DEFAULT '',
		markup_value TEXT NOT NULL DEFAULT '0',
		grace_period_months INTEGER NOT NULL DEFAULT 0,
		sale_date TEXT NOT NULL,
		grace_end_date TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		last_markup_date TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_debts_sale ON debts(sale_id);
	CREATE INDEX IF NOT EXISTS idx_debts_customer ON debts(customer_id);

	-- Composite index for the eligibility sweep (hot path)
	CREATE INDEX IF NOT EXISTS idx_debts_sweep
		ON debts(status, grace_end_date, last_markup_date);

	-- The applied portion of each payment, joined to its debt
	CREATE TABLE IF NOT EXISTS debt_payments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		debt_id INTEGER NOT NULL REFERENCES debts(id),
		payment_id INTEGER NOT NULL REFERENCES payments(id),
		amount TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_debt_payments_debt ON debt_payments(debt_id);

	CREATE TABLE IF NOT EXISTS debt_fixed_markup_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		debt_id INTEGER NOT NULL REFERENCES debts(id),
		calculation_date TEXT NOT NULL,
		remaining_debt TEXT NOT NULL,
		markup_value TEXT NOT NULL,
		total_after_markup TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS debt_percent_markup_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		debt_id INTEGER NOT NULL REFERENCES debts(id),
		calculation_date TEXT NOT NULL,
		remaining_debt TEXT NOT NULL,
		markup_value TEXT NOT NULL,
		total_after_markup TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- CRITICAL: at most one accrual per debt per calendar day.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_fixed_markup_unique_day
		ON debt_fixed_markup_logs(debt_id, DATE(calculation_date));
	CREATE UNIQUE INDEX IF NOT EXISTS idx_percent_markup_unique_day
		ON debt_percent_markup_logs(debt_id, DATE(calculation_date));

	CREATE INDEX IF NOT EXISTS idx_fixed_markup_debt_date
		ON debt_fixed_markup_logs(debt_id, calculation_date);
	CREATE INDEX IF NOT EXISTS idx_percent_markup_debt_date
		ON debt_percent_markup_logs(debt_id, calculation_date);

	CREATE TABLE IF NOT EXISTS grace_period_changes (
		id TEXT PRIMARY KEY,
		debt_id INTEGER NOT NULL REFERENCES debts(id),
		previous_months INTEGER NOT NULL,
		new_months INTEGER NOT NULL,
		changed_by TEXT NOT NULL,
		changed_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_grace_changes_debt
		ON grace_period_changes(debt_id, changed_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx, so every query below
// works at top level and inside WithDebtTx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements credit.Store over a dbtx.
type queries struct {
	db dbtx
}

func markupTable(typ credit.MarkupType) string {
	if typ == credit.MarkupPercent {
		return "debt_percent_markup_logs"
	}
	return "debt_fixed_markup_logs"
}

// =============================================================================
// DEBT STORE
// =============================================================================

const debtColumns = `id, sale_id, customer_id, original_amount, current_amount,
	markup_type, markup_value, grace_period_months, sale_date, grace_end_date,
	status, last_markup_date, created_at`

func (q queries) GetDebt(ctx context.Context, debtID int64) (*credit.Debt, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+debtColumns+` FROM debts WHERE id = ?`, debtID)
	d, err := scanDebt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credit.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (q queries) ListDebts(ctx context.Context, status credit.DebtStatus, limit int) ([]credit.Debt, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+debtColumns+` FROM debts WHERE status = ? ORDER BY id DESC LIMIT ?`,
		string(status), limit)
	if err != nil {
		return nil, err
	}
	return collectDebts(rows)
}

func (q queries) ListEligible(ctx context.Context, asOf time.Time) ([]credit.Debt, error) {
	today := credit.Day(asOf)
	oneMonthAgo := credit.AddMonthsClamped(today, -1)

	rows, err := q.db.QueryContext(ctx, `
		SELECT `+debtColumns+`
		FROM debts
		WHERE status = 'active'
		  AND markup_type IN ('fixed', 'percent')
		  AND CAST(markup_value AS REAL) > 0
		  AND DATE(grace_end_date) < DATE(?)
		  AND CAST(current_amount AS REAL) > 0.01
		  AND (last_markup_date IS NULL OR DATE(last_markup_date) < DATE(?))
		ORDER BY id ASC`,
		fmtTime(today), fmtTime(oneMonthAgo))
	if err != nil {
		return nil, err
	}
	return collectDebts(rows)
}

func (q queries) UpdateDebtBalance(ctx context.Context, debtID int64, newAmount decimal.Decimal, status credit.DebtStatus, lastMarkup *time.Time) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE debts SET current_amount = ?, status = ?, last_markup_date = ? WHERE id = ?`,
		newAmount.String(), string(status), fmtTimePtr(lastMarkup), debtID)
	if err != nil {
		return fmt.Errorf("failed to update debt %d: %w", debtID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return credit.ErrNotFound
	}
	return nil
}

func (q queries) UpdateGracePeriod(ctx context.Context, debtID int64, months int, graceEnd time.Time, change credit.GraceChange) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE debts SET grace_period_months = ?, grace_end_date = ? WHERE id = ?`,
		months, fmtTime(graceEnd), debtID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return credit.ErrNotFound
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO grace_period_changes (id, debt_id, previous_months, new_months, changed_by, changed_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		change.ID, change.DebtID, change.PreviousMonths, change.NewMonths,
		change.ChangedBy, fmtTime(change.ChangedAt))
	return err
}

func (q queries) ListGraceChanges(ctx context.Context, debtID int64) ([]credit.GraceChange, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, debt_id, previous_months, new_months, changed_by, changed_at
		FROM grace_period_changes WHERE debt_id = ? ORDER BY changed_at ASC`, debtID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var changes []credit.GraceChange
	for rows.Next() {
		var c credit.GraceChange
		var changedAt string
		if err := rows.Scan(&c.ID, &c.DebtID, &c.PreviousMonths, &c.NewMonths, &c.ChangedBy, &changedAt); err != nil {
			return nil, err
		}
		c.ChangedAt = parseTime(changedAt)
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

func (q queries) DebtStats(ctx context.Context) (credit.Stats, error) {
	stats := credit.Stats{
		TotalActiveDebt: decimal.Zero,
		TotalOriginal:   decimal.Zero,
		TotalRecovered:  decimal.Zero,
	}

	// Amounts are TEXT; sum in Go to keep decimal precision.
	rows, err := q.db.QueryContext(ctx,
		`SELECT original_amount, current_amount, status FROM debts`)
	if err != nil {
		return stats, err
	}
	defer rows.Close()

	for rows.Next() {
		var original, current, status string
		if err := rows.Scan(&original, &current, &status); err != nil {
			return stats, err
		}
		stats.TotalCount++
		stats.TotalOriginal = stats.TotalOriginal.Add(mustDec(original))
		switch credit.DebtStatus(status) {
		case credit.StatusActive:
			stats.ActiveCount++
			stats.TotalActiveDebt = stats.TotalActiveDebt.Add(mustDec(current))
		case credit.StatusPaid:
			stats.PaidCount++
			stats.TotalRecovered = stats.TotalRecovered.Add(mustDec(original))
		}
	}
	return stats, rows.Err()
}

// =============================================================================
// LEDGER STORE
// =============================================================================

func (q queries) ListDebtPayments(ctx context.Context, debtID int64) ([]credit.Payment, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT p.id, p.sale_id, dp.amount, p.payment_date, p.method
		FROM debt_payments dp
		JOIN payments p ON p.id = dp.payment_id
		WHERE dp.debt_id = ?
		ORDER BY p.payment_date ASC, p.id ASC`, debtID)
	if err != nil {
		return nil, err
	}
	return collectPayments(rows)
}

func (q queries) ListMarkupEntries(ctx context.Context, debtID int64, typ credit.MarkupType) ([]credit.MarkupEntry, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, debt_id, calculation_date, remaining_debt, markup_value, total_after_markup, created_at
		FROM `+markupTable(typ)+`
		WHERE debt_id = ?
		ORDER BY calculation_date ASC, id ASC`, debtID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []credit.MarkupEntry
	for rows.Next() {
		var e credit.MarkupEntry
		var calcDate, remaining, value, total, createdAt string
		if err := rows.Scan(&e.ID, &e.DebtID, &calcDate, &remaining, &value, &total, &createdAt); err != nil {
			return nil, err
		}
		e.CalculationDate = parseTime(calcDate)
		e.RemainingDebt = mustDec(remaining)
		e.MarkupValue = mustDec(value)
		e.TotalAfterMarkup = mustDec(total)
		e.CreatedAt = parseTime(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (q queries) HasMarkupEntryOn(ctx context.Context, debtID int64, typ credit.MarkupType, date time.Time) (bool, error) {
	var count int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM `+markupTable(typ)+` WHERE debt_id = ? AND DATE(calculation_date) = DATE(?)`,
		debtID, fmtTime(date)).Scan(&count)
	return count > 0, err
}

func (q queries) InsertMarkupEntry(ctx context.Context, typ credit.MarkupType, entry *credit.MarkupEntry) error {
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO `+markupTable(typ)+`
		(debt_id, calculation_date, remaining_debt, markup_value, total_after_markup, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.DebtID, fmtTime(entry.CalculationDate),
		entry.RemainingDebt.String(), entry.MarkupValue.String(),
		entry.TotalAfterMarkup.String(), fmtTime(createdAt))
	if err != nil {
		if isUniqueConstraint(err) {
			return &credit.DuplicateEntryError{DebtID: entry.DebtID, Date: credit.Day(entry.CalculationDate)}
		}
		return fmt.Errorf("failed to insert markup entry: %w", err)
	}
	entry.ID, _ = res.LastInsertId()
	entry.CreatedAt = createdAt
	return nil
}

func (q queries) DeleteMarkupEntriesAfter(ctx context.Context, debtID int64, typ credit.MarkupType, after time.Time) (int, error) {
	res, err := q.db.ExecContext(ctx,
		`DELETE FROM `+markupTable(typ)+` WHERE debt_id = ? AND DATE(calculation_date) > DATE(?)`,
		debtID, fmtTime(after))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// =============================================================================
// PER-DEBT TRANSACTIONS
// =============================================================================

// Top-level Store methods delegate to the same query set, unscoped.
func (s *Store) q() queries { return queries{db: s.db} }

func (s *Store) GetDebt(ctx context.Context, debtID int64) (*credit.Debt, error) {
	return s.q().GetDebt(ctx, debtID)
}
func (s *Store) ListDebts(ctx context.Context, status credit.DebtStatus, limit int) ([]credit.Debt, error) {
	return s.q().ListDebts(ctx, status, limit)
}
func (s *Store) ListEligible(ctx context.Context, asOf time.Time) ([]credit.Debt, error) {
	return s.q().ListEligible(ctx, asOf)
}
func (s *Store) UpdateDebtBalance(ctx context.Context, debtID int64, newAmount decimal.Decimal, status credit.DebtStatus, lastMarkup *time.Time) error {
	return s.q().UpdateDebtBalance(ctx, debtID, newAmount, status, lastMarkup)
}
func (s *Store) UpdateGracePeriod(ctx context.Context, debtID int64, months int, graceEnd time.Time, change credit.GraceChange) error {
	return s.q().UpdateGracePeriod(ctx, debtID, months, graceEnd, change)
}
func (s *Store) ListGraceChanges(ctx context.Context, debtID int64) ([]credit.GraceChange, error) {
	return s.q().ListGraceChanges(ctx, debtID)
}
func (s *Store) DebtStats(ctx context.Context) (credit.Stats, error) {
	return s.q().DebtStats(ctx)
}
func (s *Store) ListDebtPayments(ctx context.Context, debtID int64) ([]credit.Payment, error) {
	return s.q().ListDebtPayments(ctx, debtID)
}
func (s *Store) ListMarkupEntries(ctx context.Context, debtID int64, typ credit.MarkupType) ([]credit.MarkupEntry, error) {
	return s.q().ListMarkupEntries(ctx, debtID, typ)
}
func (s *Store) HasMarkupEntryOn(ctx context.Context, debtID int64, typ credit.MarkupType, date time.Time) (bool, error) {
	return s.q().HasMarkupEntryOn(ctx, debtID, typ, date)
}
func (s *Store) InsertMarkupEntry(ctx context.Context, typ credit.MarkupType, entry *credit.MarkupEntry) error {
	return s.q().InsertMarkupEntry(ctx, typ, entry)
}
func (s *Store) DeleteMarkupEntriesAfter(ctx context.Context, debtID int64, typ credit.MarkupType, after time.Time) (int, error) {
	return s.q().DeleteMarkupEntriesAfter(ctx, debtID, typ, after)
}

func (s *Store) lockFor(debtID int64) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	l, ok := s.debtLocks[debtID]
	if !ok {
		l = &sync.Mutex{}
		s.debtLocks[debtID] = l
	}
	return l
}

// WithDebtTx serializes runs for one debt and executes fn inside a
// database transaction. An error from fn rolls everything back.
func (s *Store) WithDebtTx(ctx context.Context, debtID int64, fn func(credit.Store) error) error {
	l := s.lockFor(debtID)
	l.Lock()
	defer l.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(queries{db: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// =============================================================================
// SALES STORE
// =============================================================================

func (s *Store) GetSale(ctx context.Context, saleID int64) (*sales.Sale, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, customer_id, seller_id, total_amount, paid_amount, status, sale_date, created_at
		FROM sales WHERE id = ?`, saleID)

	var sale sales.Sale
	var total, paid, status, saleDate, createdAt string
	err := row.Scan(&sale.ID, &sale.CustomerID, &sale.SellerID, &total, &paid, &status, &saleDate, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credit.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sale.TotalAmount = mustDec(total)
	sale.PaidAmount = mustDec(paid)
	sale.Status = sales.SaleStatus(status)
	sale.SaleDate = parseTime(saleDate)
	sale.CreatedAt = parseTime(createdAt)
	return &sale, nil
}

func (s *Store) ListSalePayments(ctx context.Context, saleID int64) ([]credit.Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sale_id, amount, payment_date, method
		FROM payments WHERE sale_id = ?
		ORDER BY payment_date ASC, id ASC`, saleID)
	if err != nil {
		return nil, err
	}
	return collectPayments(rows)
}

// CreateSale atomically inserts the sale, its items, the optional initial
// payment, and the optional debt record.
func (s *Store) CreateSale(ctx context.Context, sale *sales.Sale, items []sales.SaleItem, initial *credit.Payment, debt *credit.Debt) (int64, error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	res, err := sqlTx.ExecContext(ctx, `
		INSERT INTO sales (customer_id, seller_id, total_amount, paid_amount, status, sale_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sale.CustomerID, sale.SellerID,
		sale.TotalAmount.String(), sale.PaidAmount.String(),
		string(sale.Status), fmtTime(sale.SaleDate), fmtTime(sale.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("failed to insert sale: %w", err)
	}
	sale.ID, _ = res.LastInsertId()

	for i := range items {
		items[i].SaleID = sale.ID
		res, err := sqlTx.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, product_id, quantity, unit_price)
			VALUES (?, ?, ?, ?)`,
			sale.ID, items[i].ProductID, items[i].Quantity, items[i].UnitPrice.String())
		if err != nil {
			return 0, fmt.Errorf("failed to insert sale item: %w", err)
		}
		items[i].ID, _ = res.LastInsertId()
	}

	if initial != nil {
		initial.SaleID = sale.ID
		res, err := sqlTx.ExecContext(ctx, `
			INSERT INTO payments (sale_id, amount, method, payment_date, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			sale.ID, initial.Amount.String(), initial.Method,
			fmtTime(initial.Date), fmtTime(time.Now().UTC()))
		if err != nil {
			return 0, fmt.Errorf("failed to insert initial payment: %w", err)
		}
		initial.ID, _ = res.LastInsertId()
	}

	if debt != nil {
		debt.SaleID = sale.ID
		res, err := sqlTx.ExecContext(ctx, `
			INSERT INTO debts (sale_id, customer_id, original_amount, current_amount,
				markup_type, markup_value, grace_period_months, sale_date, grace_end_date,
				status, last_markup_date, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sale.ID, debt.CustomerID,
			debt.OriginalAmount.String(), debt.CurrentAmount.String(),
			string(debt.MarkupType), debt.MarkupValue.String(),
			debt.GracePeriodMonths, fmtTime(debt.SaleDate), fmtTime(debt.GraceEndDate),
			string(debt.Status), fmtTimePtr(debt.LastMarkupDate), fmtTime(debt.CreatedAt))
		if err != nil {
			return 0, fmt.Errorf("failed to insert debt: %w", err)
		}
		debt.ID, _ = res.LastInsertId()
	}

	if err := sqlTx.Commit(); err != nil {
		return 0, err
	}
	return sale.ID, nil
}

// RecordPayment atomically inserts a payment, updates the sale, and
// applies the payment to the sale's active debt.
func (s *Store) RecordPayment(ctx context.Context, saleID int64, amount decimal.Decimal, method string, date time.Time) (*sales.PaymentResult, error) {
	// Find the debt first so its lock is held for the whole write,
	// ordering this payment against any concurrent accrual run.
	var debtID int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM debts WHERE sale_id = ?`, saleID).Scan(&debtID)
	hasDebt := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if hasDebt {
		l := s.lockFor(debtID)
		l.Lock()
		defer l.Unlock()
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	sale, err := scanSaleTx(ctx, sqlTx, saleID)
	if err != nil {
		return nil, err
	}

	sale.PaidAmount = sale.PaidAmount.Add(amount)
	status := sales.StatusPartial
	if sale.PaidAmount.GreaterThanOrEqual(sale.TotalAmount) {
		status = sales.StatusPaid
	}
	if _, err := sqlTx.ExecContext(ctx,
		`UPDATE sales SET paid_amount = ?, status = ? WHERE id = ?`,
		sale.PaidAmount.String(), string(status), saleID); err != nil {
		return nil, err
	}

	res, err := sqlTx.ExecContext(ctx, `
		INSERT INTO payments (sale_id, amount, method, payment_date, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		saleID, amount.String(), method, fmtTime(credit.Day(date)), fmtTime(time.Now().UTC()))
	if err != nil {
		return nil, fmt.Errorf("failed to insert payment: %w", err)
	}
	paymentID, _ := res.LastInsertId()

	result := &sales.PaymentResult{
		PaymentID:     paymentID,
		SaleStatus:    status,
		AppliedToDebt: decimal.Zero,
	}

	if !hasDebt {
		if err := sqlTx.Commit(); err != nil {
			return nil, err
		}
		return result, nil
	}

	debt, err := queries{db: sqlTx}.GetDebt(ctx, debtID)
	if err != nil {
		return nil, err
	}
	if debt.Status != credit.StatusActive {
		if err := sqlTx.Commit(); err != nil {
			return nil, err
		}
		return result, nil
	}

	applied := amount
	if applied.GreaterThan(debt.CurrentAmount) {
		applied = debt.CurrentAmount
	}
	if _, err := sqlTx.ExecContext(ctx,
		`INSERT INTO debt_payments (debt_id, payment_id, amount) VALUES (?, ?, ?)`,
		debtID, paymentID, applied.String()); err != nil {
		return nil, err
	}

	newAmount := debt.CurrentAmount.Sub(applied)
	debtStatus := credit.StatusActive
	settledNow := newAmount.LessThanOrEqual(credit.Epsilon)
	if settledNow {
		newAmount = decimal.Zero
		debtStatus = credit.StatusPaid
	}
	if err := (queries{db: sqlTx}).UpdateDebtBalance(ctx, debtID, newAmount, debtStatus, debt.LastMarkupDate); err != nil {
		return nil, err
	}

	if err := sqlTx.Commit(); err != nil {
		return nil, err
	}

	result.DebtID = &debtID
	result.AppliedToDebt = applied
	result.DebtSettled = settledNow
	return result, nil
}

// =============================================================================
// CUSTOMER STORE
// =============================================================================

func (s *Store) SaveCustomer(ctx context.Context, c *sales.Customer) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO customers (name, phone, created_at) VALUES (?, ?, ?)`,
		c.Name, c.Phone, fmtTime(c.CreatedAt))
	if err != nil {
		return err
	}
	c.ID, _ = res.LastInsertId()
	return nil
}

func (s *Store) GetCustomer(ctx context.Context, id int64) (*sales.Customer, error) {
	var c sales.Customer
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, phone, created_at FROM customers WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.Phone, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credit.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.CreatedAt = parseTime(createdAt)
	return &c, nil
}

func (s *Store) ListCustomers(ctx context.Context) ([]sales.Customer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, phone, created_at FROM customers ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var customers []sales.Customer
	for rows.Next() {
		var c sales.Customer
		var createdAt string
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &createdAt); err != nil {
			return nil, err
		}
		c.CreatedAt = parseTime(createdAt)
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

// =============================================================================
// SCANNING HELPERS
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDebt(row rowScanner) (*credit.Debt, error) {
	var d credit.Debt
	var original, current, markupType, markupValue, saleDate, graceEnd, status, createdAt string
	var lastMarkup sql.NullString

	err := row.Scan(&d.ID, &d.SaleID, &d.CustomerID, &original, &current,
		&markupType, &markupValue, &d.GracePeriodMonths, &saleDate, &graceEnd,
		&status, &lastMarkup, &createdAt)
	if err != nil {
		return nil, err
	}

	d.OriginalAmount = mustDec(original)
	d.CurrentAmount = mustDec(current)
	d.MarkupType = credit.MarkupType(markupType)
	d.MarkupValue = mustDec(markupValue)
	d.SaleDate = parseTime(saleDate)
	d.GraceEndDate = parseTime(graceEnd)
	d.Status = credit.DebtStatus(status)
	d.CreatedAt = parseTime(createdAt)
	if lastMarkup.Valid {
		t := parseTime(lastMarkup.String)
		d.LastMarkupDate = &t
	}
	return &d, nil
}

func collectDebts(rows *sql.Rows) ([]credit.Debt, error) {
	defer rows.Close()
	var debts []credit.Debt
	for rows.Next() {
		d, err := scanDebt(rows)
		if err != nil {
			return nil, err
		}
		debts = append(debts, *d)
	}
	return debts, rows.Err()
}

func collectPayments(rows *sql.Rows) ([]credit.Payment, error) {
	defer rows.Close()
	var payments []credit.Payment
	for rows.Next() {
		var p credit.Payment
		var amount, date string
		if err := rows.Scan(&p.ID, &p.SaleID, &amount, &date, &p.Method); err != nil {
			return nil, err
		}
		p.Amount = mustDec(amount)
		p.Date = parseTime(date)
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func scanSaleTx(ctx context.Context, tx *sql.Tx, saleID int64) (*sales.Sale, error) {
	var sale sales.Sale
	var total, paid, status, saleDate, createdAt string
	err := tx.QueryRowContext(ctx, `
		SELECT id, customer_id, seller_id, total_amount, paid_amount, status, sale_date, created_at
		FROM sales WHERE id = ?`, saleID).
		Scan(&sale.ID, &sale.CustomerID, &sale.SellerID, &total, &paid, &status, &saleDate, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credit.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sale.TotalAmount = mustDec(total)
	sale.PaidAmount = mustDec(paid)
	sale.Status = sales.SaleStatus(status)
	sale.SaleDate = parseTime(saleDate)
	sale.CreatedAt = parseTime(createdAt)
	return &sale, nil
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func mustDec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isUniqueConstraint(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
