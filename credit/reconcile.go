/*
reconcile.go - Payoff detection and markup cleanup

PURPOSE:
  Payment dates are user-supplied and editable after the fact, so the
  markup ledger cannot be assumed monotonic: a payment entered today but
  dated last month can retroactively settle a debt that has since accrued
  markup. The Reconciler derives when the balance actually reached zero
  and removes every markup entry dated after that point.

THE INVARIANT THIS PROTECTS:
  No markup entry's calculation date may be later than the date the debt's
  balance first reached zero.

PAYOFF DERIVATION:
  Replay the merged payment + markup timeline ascending by date, starting
  from the original amount. Payments decrease the balance; markups
  increase it — unless the balance was already zero when the markup would
  apply, in which case that markup is invalid (posted after settlement).
  The payoff date is the payment that first brings the balance to zero.

  Payments sort before markups on the same day: money received that day
  counts before any accrual dated that day.

IDEMPOTENCE:
  A second cleanup run finds nothing to delete. Failures are safe to
  retry; stale entries are caught on the next pass.

SEE ALSO:
  - accrual.go: invokes the cleanup inside the same accrual transaction
*/
package credit

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// PAYOFF WALK
// =============================================================================

type ledgerEvent struct {
	date    time.Time
	amount  decimal.Decimal
	payment bool
	entryID int64
}

// payoffOutcome is the result of replaying a debt's merged timeline.
type payoffOutcome struct {
	// paidOff is true once the running balance reached zero.
	paidOff bool
	// payoffDate is the date of the payment that settled the debt.
	payoffDate time.Time
	// invalidEntries are markup entries that would have applied after the
	// balance was already zero.
	invalidEntries []int64
}

// replayTimeline walks payments and markup entries merged by date.
func replayTimeline(original decimal.Decimal, payments []Payment, entries []MarkupEntry) payoffOutcome {
	events := make([]ledgerEvent, 0, len(payments)+len(entries))
	for _, p := range payments {
		events = append(events, ledgerEvent{date: Day(p.Date), amount: p.Amount, payment: true})
	}
	for _, e := range entries {
		events = append(events, ledgerEvent{date: Day(e.CalculationDate), amount: e.MarkupValue, entryID: e.ID})
	}
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].date.Equal(events[j].date) {
			return events[i].date.Before(events[j].date)
		}
		return events[i].payment && !events[j].payment
	})

	var out payoffOutcome
	running := original
	for _, ev := range events {
		if ev.payment {
			running = running.Sub(ev.amount)
			if !out.paidOff && settled(running) {
				out.paidOff = true
				out.payoffDate = ev.date
			}
			continue
		}
		if out.paidOff || settled(running) {
			// Markup posted after the debt was effectively settled.
			out.invalidEntries = append(out.invalidEntries, ev.entryID)
			continue
		}
		running = running.Add(ev.amount)
	}
	return out
}

// =============================================================================
// RECONCILER
// =============================================================================

// Reconciler removes markup entries that postdate a debt's payoff and
// recomputes the resulting balance. It is the ONLY component that deletes
// ledger rows.
type Reconciler struct {
	store TxStore
	clock Clock
	log   *zap.SugaredLogger
}

func NewReconciler(store TxStore, clock Clock, log *zap.SugaredLogger) *Reconciler {
	if clock == nil {
		clock = SystemClock{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Reconciler{store: store, clock: clock, log: log}
}

// PayoffDate derives when the debt's balance first reached zero, or nil
// if it has not. Read-only.
func (r *Reconciler) PayoffDate(ctx context.Context, debtID int64) (*time.Time, error) {
	debt, err := r.store.GetDebt(ctx, debtID)
	if err != nil {
		return nil, err
	}
	payments, err := r.store.ListDebtPayments(ctx, debtID)
	if err != nil {
		return nil, err
	}
	entries, err := r.store.ListMarkupEntries(ctx, debtID, debt.MarkupType)
	if err != nil {
		return nil, err
	}
	outcome := replayTimeline(debt.OriginalAmount, payments, entries)
	if !outcome.paidOff {
		return nil, nil
	}
	d := outcome.payoffDate
	return &d, nil
}

// Cleanup removes every markup entry dated strictly after the debt's
// payoff date and recomputes the balance. Safe to run repeatedly; a
// debt that never paid off is a no-op.
func (r *Reconciler) Cleanup(ctx context.Context, debtID int64) (*CleanupResult, error) {
	var result *CleanupResult
	err := r.store.WithDebtTx(ctx, debtID, func(s Store) error {
		debt, err := s.GetDebt(ctx, debtID)
		if err != nil {
			return err
		}
		if !debt.HasMarkup() {
			return nil
		}
		res, err := cleanupWithin(ctx, s, debt)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result != nil && result.Deleted > 0 {
		r.log.Infow("reconciled markup ledger",
			"debt_id", result.DebtID,
			"deleted", result.Deleted,
			"amount_removed", result.AmountRemoved.StringFixed(2),
			"payoff_date", result.PayoffDate.Format("2006-01-02"))
	}
	return result, nil
}

// cleanupWithin performs the cleanup using an already-open transaction.
// Shared by Cleanup and by the accrual engine, which runs it inside the
// same transaction as the checkpoint walk that triggered it.
func cleanupWithin(ctx context.Context, s Store, debt *Debt) (*CleanupResult, error) {
	payments, err := s.ListDebtPayments(ctx, debt.ID)
	if err != nil {
		return nil, err
	}
	entries, err := s.ListMarkupEntries(ctx, debt.ID, debt.MarkupType)
	if err != nil {
		return nil, err
	}

	var payoff time.Time
	if debt.Status == StatusPaid && len(payments) > 0 {
		// Persisted status is trusted: approximate with the last payment
		// date instead of re-deriving.
		payoff = Day(payments[len(payments)-1].Date)
	} else {
		outcome := replayTimeline(debt.OriginalAmount, payments, entries)
		if !outcome.paidOff {
			return nil, nil
		}
		payoff = outcome.payoffDate
	}

	removed := decimal.Zero
	for _, e := range entries {
		if Day(e.CalculationDate).After(payoff) {
			removed = removed.Add(e.MarkupValue)
		}
	}

	deleted, err := s.DeleteMarkupEntriesAfter(ctx, debt.ID, debt.MarkupType, payoff)
	if err != nil {
		return nil, fmt.Errorf("delete markup entries after %s: %w", payoff.Format("2006-01-02"), err)
	}

	newAmount := debt.CurrentAmount
	status := debt.Status
	if deleted > 0 {
		newAmount = debt.CurrentAmount.Sub(removed)
		if newAmount.IsNegative() {
			newAmount = decimal.Zero
		}
		if settled(newAmount) {
			newAmount = decimal.Zero
			status = StatusPaid
		}
		if err := s.UpdateDebtBalance(ctx, debt.ID, newAmount, status, debt.LastMarkupDate); err != nil {
			return nil, err
		}
	}

	return &CleanupResult{
		DebtID:        debt.ID,
		Deleted:       deleted,
		AmountRemoved: removed,
		PayoffDate:    payoff,
		NewAmount:     newAmount,
	}, nil
}
