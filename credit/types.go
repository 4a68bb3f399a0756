/*
Package credit provides the debt accrual and reconciliation engine.

PURPOSE:
  This package contains the domain types and algorithms for debts carried
  on store credit: monthly markup (interest) accrual after a grace period,
  payoff detection from the payment timeline, and retroactive cleanup of
  markup entries posted after a debt was already settled.

KEY CONCEPTS IN THIS FILE (types.go):
  - Debt: A sale balance carried on credit, with markup terms
  - MarkupEntry: An immutable accrual event in the markup ledger
  - Payment: Money received against a sale, applied to its debt
  - GraceChange: Audit record of a grace-period edit

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal for all currency math
  2. Immutability: Markup entries are never edited; the Reconciler may
     delete them, and only for the zero-balance reason
  3. Explicit results: "nothing to do" is a nil result, never an error

SEE ALSO:
  - calendar.go: Checkpoint date arithmetic
  - accrual.go: The checkpoint-walk engine
  - reconcile.go: Payoff detection and cleanup
  - display.go: Read-only balance estimate for screens
*/
package credit

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY
// =============================================================================

// Epsilon is the tolerance for comparing currency amounts against zero.
// Accumulated rounding at two decimal places stays well inside it.
var Epsilon = decimal.NewFromFloat(0.01)

var hundred = decimal.NewFromInt(100)

// Money builds a two-decimal currency amount from a float. Test helper
// friendly; ledger math itself never round-trips through float64.
func Money(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(2)
}

// settled reports whether a balance has effectively reached zero.
func settled(amount decimal.Decimal) bool {
	return amount.LessThanOrEqual(Epsilon)
}

// =============================================================================
// DEBT - A sale balance carried on credit
// =============================================================================

type MarkupType string

const (
	// MarkupNone means the debt accrues nothing.
	MarkupNone MarkupType = ""
	// MarkupFixed adds a fixed currency amount per month.
	MarkupFixed MarkupType = "fixed"
	// MarkupPercent adds a percentage of the running balance per month.
	MarkupPercent MarkupType = "percent"
)

type DebtStatus string

const (
	StatusActive DebtStatus = "active"
	StatusPaid   DebtStatus = "paid"
)

// Debt tracks the unpaid balance of a sale.
//
// INVARIANT: CurrentAmount == OriginalAmount + Σ markup entries − Σ payments
// applied to this debt, clamped at zero from below.
type Debt struct {
	ID         int64
	SaleID     int64
	CustomerID int64

	// OriginalAmount is the balance at creation. Immutable.
	OriginalAmount decimal.Decimal
	// CurrentAmount is the running balance. Never negative.
	CurrentAmount decimal.Decimal

	MarkupType MarkupType
	// MarkupValue is currency per month for fixed, percent per month for percent.
	MarkupValue decimal.Decimal

	GracePeriodMonths int
	SaleDate          time.Time
	// GraceEndDate is always derived from SaleDate + GracePeriodMonths,
	// including after a retroactive grace-period change.
	GraceEndDate time.Time

	Status DebtStatus

	// LastMarkupDate is the last checkpoint at which accrual ran.
	// Nil until the first accrual.
	LastMarkupDate *time.Time

	CreatedAt time.Time
}

// HasMarkup reports whether this debt accrues markup at all.
func (d *Debt) HasMarkup() bool {
	return (d.MarkupType == MarkupFixed || d.MarkupType == MarkupPercent) &&
		d.MarkupValue.IsPositive()
}

// InGrace reports whether now is still inside the grace period.
func (d *Debt) InGrace(now time.Time) bool {
	return Day(now).Before(Day(d.GraceEndDate))
}

// Settled reports whether the balance has reached zero (within Epsilon).
func (d *Debt) Settled() bool {
	return settled(d.CurrentAmount)
}

// =============================================================================
// MARKUP LEDGER ENTRY - One accrual event, immutable once written
// =============================================================================

// MarkupEntry records a single accrual at a calendar checkpoint.
//
// CalculationDate is the checkpoint the accrual represents, NOT the day it
// was computed: a catch-up run in April may write entries dated February
// and March.
//
// INVARIANT: at most one entry per (DebtID, CalculationDate) at day
// granularity.
type MarkupEntry struct {
	ID     int64
	DebtID int64

	CalculationDate time.Time

	// RemainingDebt is the balance immediately before this accrual.
	RemainingDebt decimal.Decimal
	// MarkupValue is the amount added. For percent debts it is
	// RemainingDebt × rate / 100.
	MarkupValue decimal.Decimal
	// TotalAfterMarkup = RemainingDebt + MarkupValue.
	TotalAfterMarkup decimal.Decimal

	CreatedAt time.Time
}

// =============================================================================
// PAYMENT - Money received against a sale
// =============================================================================

// Payment is created by the sales flow and consumed read-only here.
// Date is user-supplied and may be retroactive, which is exactly why the
// Reconciler exists.
type Payment struct {
	ID     int64
	SaleID int64
	Amount decimal.Decimal
	Date   time.Time
	Method string
}

// =============================================================================
// GRACE PERIOD CHANGE - Audit trail for retroactive term edits
// =============================================================================

// GraceChange preserves the prior grace period when debt terms are edited.
// The new grace end is always recomputed from the original sale date.
type GraceChange struct {
	ID             string
	DebtID         int64
	PreviousMonths int
	NewMonths      int
	ChangedBy      string
	ChangedAt      time.Time
}

// =============================================================================
// RESULTS
// =============================================================================

// AccrualResult describes one accrual run that did work. Callers receive
// nil instead when the debt was in grace, settled, or already up to date.
type AccrualResult struct {
	DebtID         int64
	PreviousAmount decimal.Decimal
	MarkupAdded    decimal.Decimal
	NewAmount      decimal.Decimal
	// Checkpoints is the number of calendar checkpoints examined.
	Checkpoints int
	// Entries are the newly inserted markup entries, ascending by date.
	Entries []MarkupEntry
	// Reconciled counts entries the in-run cleanup removed, if any.
	Reconciled int
}

// CleanupResult describes one reconciliation pass over a debt's ledger.
type CleanupResult struct {
	DebtID int64
	// Deleted is the number of markup entries removed. Zero on a repeat
	// run: cleanup is idempotent.
	Deleted int
	// AmountRemoved is the total markup value of the deleted entries.
	AmountRemoved decimal.Decimal
	// PayoffDate is the date the running balance first reached zero.
	PayoffDate time.Time
	NewAmount  decimal.Decimal
}

// Stats is the aggregate debt summary used by dashboards.
type Stats struct {
	TotalCount      int
	ActiveCount     int
	PaidCount       int
	TotalActiveDebt decimal.Decimal
	TotalOriginal   decimal.Decimal
	TotalRecovered  decimal.Decimal
}
