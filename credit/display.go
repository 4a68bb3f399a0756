/*
display.go - Read-only "balance as of now" estimate

PURPOSE:
  Screens and exports want a current figure without waiting for (or
  triggering) an accrual run. Estimate projects markup owed since the
  grace period ended on top of the persisted balance. It is a pure
  function: calling it never writes anything, so views may call it once
  per render without drift.

APPROXIMATION — DELIBERATE:
  Months overdue here is floor(elapsed / 30.44 days), NOT the engine's
  exact calendar-month stepping. The two can disagree by a day around
  month boundaries; the engine's persisted value is always authoritative.
  The approximation exists only so display never needs the ledger.
*/
package credit

import (
	"time"

	"github.com/shopspring/decimal"
)

// avgMonth is the mean Gregorian month length used by the display estimate.
const avgMonth = time.Duration(30.44 * 24 * float64(time.Hour))

// Estimate is the display projection of a debt's balance.
type Estimate struct {
	// BaseAmount is the persisted CurrentAmount.
	BaseAmount decimal.Decimal
	// MonthsOverdue is the approximate whole months since grace end.
	MonthsOverdue int
	// MarkupAmount is the estimated markup owed but not yet posted.
	MarkupAmount decimal.Decimal
	// TotalWithMarkup = BaseAmount + MarkupAmount.
	TotalWithMarkup decimal.Decimal
}

// EstimateBalance projects a debt's balance as of now. Pure; the debt
// value is read, never the store.
func EstimateBalance(d Debt, now time.Time) Estimate {
	est := Estimate{
		BaseAmount:      d.CurrentAmount,
		MarkupAmount:    decimal.Zero,
		TotalWithMarkup: d.CurrentAmount,
	}

	if !d.HasMarkup() || d.Settled() || now.Before(d.GraceEndDate) {
		return est
	}

	months := int(now.Sub(d.GraceEndDate) / avgMonth)
	if months <= 0 {
		return est
	}
	est.MonthsOverdue = months

	n := decimal.NewFromInt(int64(months))
	if d.MarkupType == MarkupFixed {
		est.MarkupAmount = d.MarkupValue.Mul(n)
	} else {
		est.MarkupAmount = d.CurrentAmount.Mul(d.MarkupValue).Mul(n).Div(hundred).Round(2)
	}
	est.TotalWithMarkup = d.CurrentAmount.Add(est.MarkupAmount)
	return est
}
