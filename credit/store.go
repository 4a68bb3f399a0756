/*
store.go - Persistence interfaces for debts and the markup ledger

PURPOSE:
  Defines the boundary between the engine and the database. Conversions
  from storage rows to the typed records in types.go happen behind these
  interfaces only; the engine never sees raw rows.

TRANSACTION CONTRACT:
  All mutating operations of one accrual run for one debt happen inside a
  single WithDebtTx call: the checkpoint walk may insert several ledger
  rows and update one debt row, and a crash mid-walk must never leave
  CurrentAmount inconsistent with the ledger. WithDebtTx also serializes
  concurrent runs for the SAME debt; runs across different debts proceed
  in parallel.

MARKUP TABLES:
  Fixed and percent markups live in two structurally analogous tables, so
  ledger operations take the debt's MarkupType to select the table.

IMPLEMENTATIONS:
  - store/sqlite: production store (SQLite, WAL, unique day index)
  - store/memory: in-memory store for tests and dev mode

SEE ALSO:
  - accrual.go, reconcile.go: the only writers of the markup ledger
*/
package credit

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// DEBT STORE
// =============================================================================

// DebtStore reads and mutates debt records.
type DebtStore interface {
	// GetDebt returns a debt by id, or ErrNotFound.
	GetDebt(ctx context.Context, debtID int64) (*Debt, error)

	// ListDebts returns debts with the given status, newest first.
	ListDebts(ctx context.Context, status DebtStatus, limit int) ([]Debt, error)

	// ListEligible selects the batch-sweep candidates: active debts whose
	// grace period has ended before asOf, whose balance is positive, and
	// whose last markup ran more than one month ago (or never).
	ListEligible(ctx context.Context, asOf time.Time) ([]Debt, error)

	// UpdateDebtBalance persists a new running balance, status, and last
	// markup date in one statement.
	UpdateDebtBalance(ctx context.Context, debtID int64, newAmount decimal.Decimal, status DebtStatus, lastMarkup *time.Time) error

	// UpdateGracePeriod applies a grace-period change: new month count, a
	// grace end recomputed from the original sale date, and the audit
	// record preserving the prior value.
	UpdateGracePeriod(ctx context.Context, debtID int64, months int, graceEnd time.Time, change GraceChange) error

	// ListGraceChanges returns the audit trail for a debt, oldest first.
	ListGraceChanges(ctx context.Context, debtID int64) ([]GraceChange, error)

	// DebtStats returns the aggregate summary across all debts.
	DebtStats(ctx context.Context) (Stats, error)
}

// =============================================================================
// LEDGER STORE
// =============================================================================

// LedgerStore reads payments and reads/writes markup entries.
type LedgerStore interface {
	// ListDebtPayments returns the payments applied to a debt, ascending
	// by payment date. Payments are owned by the sales flow; the engine
	// only reads them.
	ListDebtPayments(ctx context.Context, debtID int64) ([]Payment, error)

	// ListMarkupEntries returns a debt's markup ledger, ascending by
	// calculation date.
	ListMarkupEntries(ctx context.Context, debtID int64, typ MarkupType) ([]MarkupEntry, error)

	// HasMarkupEntryOn checks for an entry at day granularity. This is the
	// idempotence check for catch-up walks.
	HasMarkupEntryOn(ctx context.Context, debtID int64, typ MarkupType, date time.Time) (bool, error)

	// InsertMarkupEntry appends one accrual event. Returns a
	// DuplicateEntryError if the day-uniqueness constraint is violated
	// (defense in depth behind HasMarkupEntryOn).
	InsertMarkupEntry(ctx context.Context, typ MarkupType, entry *MarkupEntry) error

	// DeleteMarkupEntriesAfter removes entries dated strictly after the
	// given day and returns how many were deleted. Only the Reconciler
	// calls this.
	DeleteMarkupEntriesAfter(ctx context.Context, debtID int64, typ MarkupType, after time.Time) (int, error)
}

// =============================================================================
// COMBINED / TRANSACTIONAL STORE
// =============================================================================

// Store is everything the engine needs from persistence.
type Store interface {
	DebtStore
	LedgerStore
}

// TxStore wraps Store with per-debt transactions.
type TxStore interface {
	Store

	// WithDebtTx runs fn inside one transaction holding the per-debt lock:
	// concurrent accrual or cleanup runs for the same debt are serialized,
	// and if fn returns an error every write is rolled back.
	WithDebtTx(ctx context.Context, debtID int64, fn func(Store) error) error
}
