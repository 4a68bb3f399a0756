/*
accrual.go - The checkpoint-walk accrual engine

PURPOSE:
  Brings one debt's markup ledger up to date, in monthly increments,
  idempotently. Invoked by the scheduled sweep (all eligible debts) or on
  demand ("apply markup now" for one debt).

STATES (evaluated fresh on every run):
  NoMarkup:  no markup configured          → nil result
  InGrace:   now before grace end          → nil result
  Exhausted: balance already zero          → nil result; a still-active
             status is flipped to paid here
  Accruing:  walk the checkpoints

THE WALK:
  Checkpoints run from the day after grace end, one month apart, up to
  and including the boundary — "now", or the payoff date when the payment
  history shows the debt settled earlier. The running balance starts at
  CurrentAmount minus the markup already recorded, so replaying recorded
  checkpoints reconstructs the same estimate and a second run with no new
  payments inserts nothing.

NUMERIC SEMANTICS:
  Percent markup is simple interest on the running balance at each
  checkpoint — computed on the balance left after prior checkpoints and
  payments, never re-derived from the original amount. All values round
  to two decimal places; zero comparisons use Epsilon.

SEE ALSO:
  - calendar.go: Checkpoints — the only date-stepping rule
  - reconcile.go: in-run cleanup when a payoff date is known
*/
package credit

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// ENGINE
// =============================================================================

// Engine computes and posts markup accruals. Dependencies are explicit:
// no ambient store, no ambient clock.
type Engine struct {
	store TxStore
	clock Clock
	log   *zap.SugaredLogger

	// Workers bounds batch-sweep concurrency across debts. Runs for the
	// same debt are always serialized by the store's per-debt lock.
	Workers int
}

func NewEngine(store TxStore, clock Clock, log *zap.SugaredLogger) *Engine {
	if clock == nil {
		clock = SystemClock{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Engine{store: store, clock: clock, log: log, Workers: 4}
}

// =============================================================================
// SINGLE-DEBT RUN
// =============================================================================

// Apply brings one debt's ledger up to date as of now.
//
// A nil result with a nil error means no action was necessary: the debt
// has no markup terms, is still in its grace period, is already settled,
// or its ledger is already current. Callers render that as information,
// not as an error.
func (e *Engine) Apply(ctx context.Context, debtID int64) (*AccrualResult, error) {
	var result *AccrualResult
	err := e.store.WithDebtTx(ctx, debtID, func(s Store) error {
		res, err := e.applyWithin(ctx, s, debtID)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Engine) applyWithin(ctx context.Context, s Store, debtID int64) (*AccrualResult, error) {
	debt, err := s.GetDebt(ctx, debtID)
	if err != nil {
		return nil, err
	}

	now := Day(e.clock.Now())

	// NoMarkup and InGrace are routine no-ops.
	if !debt.HasMarkup() || debt.InGrace(now) {
		return nil, nil
	}

	// Exhausted: nothing accrues on a zero balance. An active status on a
	// settled debt is an anomaly this run repairs.
	if debt.Settled() {
		if debt.Status == StatusActive {
			if err := s.UpdateDebtBalance(ctx, debtID, decimal.Zero, StatusPaid, debt.LastMarkupDate); err != nil {
				return nil, err
			}
			e.log.Infow("settled debt marked paid", "debt_id", debtID)
			// A settled-but-active debt may also carry markup posted after
			// its payoff; repair that here too.
			fresh, err := s.GetDebt(ctx, debt.ID)
			if err != nil {
				return nil, err
			}
			if _, err := cleanupWithin(ctx, s, fresh); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}
	if debt.Status == StatusPaid {
		return nil, nil
	}

	payments, err := s.ListDebtPayments(ctx, debt.ID)
	if err != nil {
		return nil, err
	}
	recorded, err := s.ListMarkupEntries(ctx, debt.ID, debt.MarkupType)
	if err != nil {
		return nil, err
	}

	// The boundary is "now", unless the payment history already shows the
	// debt paid off earlier.
	boundary := now
	outcome := replayTimeline(debt.OriginalAmount, payments, recorded)
	if outcome.paidOff && outcome.payoffDate.Before(now) {
		boundary = outcome.payoffDate
	}

	recordedByDay := make(map[time.Time]MarkupEntry, len(recorded))
	recordedTotal := decimal.Zero
	for _, entry := range recorded {
		recordedByDay[Day(entry.CalculationDate)] = entry
		recordedTotal = recordedTotal.Add(entry.MarkupValue)
	}

	// Balance estimate before the first checkpoint: the persisted balance
	// with recorded markup backed out. Replaying recorded checkpoints adds
	// it back in order, keeping later percent calculations consistent.
	running := debt.CurrentAmount.Sub(recordedTotal)
	if running.IsNegative() {
		// Currency drift should stay inside Epsilon; clamp and continue.
		e.log.Warnw("running balance clamped to zero",
			"debt_id", debt.ID, "computed", running.StringFixed(2))
		running = decimal.Zero
	}

	checkpoints := Checkpoints(debt.GraceEndDate, boundary)

	var (
		added   = decimal.Zero
		entries []MarkupEntry
	)
	for _, cp := range checkpoints {
		exists, err := s.HasMarkupEntryOn(ctx, debt.ID, debt.MarkupType, cp)
		if err != nil {
			return nil, err
		}
		if exists {
			// Idempotent skip: advance the estimate by the recorded value
			// so subsequent checkpoints compute on the right balance.
			if prior, ok := recordedByDay[cp]; ok {
				running = running.Add(prior.MarkupValue)
			}
			continue
		}

		markup := debt.MarkupValue
		if debt.MarkupType == MarkupPercent {
			markup = running.Mul(debt.MarkupValue).Div(hundred).Round(2)
		}
		after := running.Add(markup)

		entry := MarkupEntry{
			DebtID:           debt.ID,
			CalculationDate:  cp,
			RemainingDebt:    running,
			MarkupValue:      markup,
			TotalAfterMarkup: after,
			CreatedAt:        e.clock.Now(),
		}
		if err := s.InsertMarkupEntry(ctx, debt.MarkupType, &entry); err != nil {
			// A DuplicateEntryError here means the existence check was
			// bypassed; abort the whole run so nothing partial commits.
			return nil, err
		}

		entries = append(entries, entry)
		added = added.Add(markup)
		running = after
	}

	newAmount := debt.CurrentAmount
	if len(entries) > 0 {
		newAmount = debt.CurrentAmount.Add(added)
		if err := s.UpdateDebtBalance(ctx, debt.ID, newAmount, debt.Status, &now); err != nil {
			return nil, err
		}
	}

	// Strip entries the late-arriving payment timeline invalidated, inside
	// this same transaction.
	reconciled := 0
	if outcome.paidOff {
		fresh, err := s.GetDebt(ctx, debt.ID)
		if err != nil {
			return nil, err
		}
		cleanup, err := cleanupWithin(ctx, s, fresh)
		if err != nil {
			return nil, err
		}
		if cleanup != nil {
			reconciled = cleanup.Deleted
			newAmount = cleanup.NewAmount
		}
	}

	if len(entries) == 0 && reconciled == 0 {
		// Ledger already current.
		return nil, nil
	}

	return &AccrualResult{
		DebtID:         debt.ID,
		PreviousAmount: debt.CurrentAmount,
		MarkupAdded:    added,
		NewAmount:      newAmount,
		Checkpoints:    len(checkpoints),
		Entries:        entries,
		Reconciled:     reconciled,
	}, nil
}

// =============================================================================
// BATCH SWEEP
// =============================================================================

// ProcessEligible runs Apply for every sweep-eligible debt, up to Workers
// debts concurrently. Per-debt failures are logged and do not abort the
// sweep; the returned results cover only debts where work happened.
func (e *Engine) ProcessEligible(ctx context.Context) ([]AccrualResult, error) {
	now := e.clock.Now()
	debts, err := e.store.ListEligible(ctx, now)
	if err != nil {
		return nil, err
	}
	if len(debts) == 0 {
		return nil, nil
	}

	workers := e.Workers
	if workers < 1 {
		workers = 1
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results []AccrualResult
		sem     = make(chan struct{}, workers)
	)

	for _, d := range debts {
		d := d
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			res, err := e.Apply(ctx, d.ID)
			if err != nil {
				e.log.Errorw("accrual failed", "debt_id", d.ID, "error", err)
				return
			}
			if res == nil {
				return
			}
			mu.Lock()
			results = append(results, res.clone())
			mu.Unlock()
			e.log.Infow("markup applied",
				"debt_id", res.DebtID,
				"previous", res.PreviousAmount.StringFixed(2),
				"added", res.MarkupAdded.StringFixed(2),
				"new", res.NewAmount.StringFixed(2),
				"entries", len(res.Entries))
		}()
	}
	wg.Wait()

	return results, nil
}

func (r *AccrualResult) clone() AccrualResult {
	out := *r
	out.Entries = append([]MarkupEntry(nil), r.Entries...)
	return out
}
