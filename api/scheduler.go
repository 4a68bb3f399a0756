/*
scheduler.go - Background accrual sweep

PURPOSE:
  Periodically runs the batch accrual sweep so markup is posted without
  anyone opening the app. The walk is idempotent, so overlapping or
  too-frequent runs cost queries, never double markup.

DESIGN:
  - One background goroutine on a ticker
  - Runs once immediately on start, then on every tick
  - Stop() waits for an in-flight sweep to finish

USAGE:
  sweeper := NewSweeper(engine, interval, log)
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - handlers.go: TriggerSweep endpoint (manual sweep)
  - credit/accrual.go: Engine.ProcessEligible
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vela/credit-engine/credit"
)

// Sweeper runs the accrual sweep on a fixed interval.
type Sweeper struct {
	Engine   *credit.Engine
	Interval time.Duration

	log    *zap.SugaredLogger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewSweeper creates a sweeper; it does not start until Start is called.
func NewSweeper(engine *credit.Engine, interval time.Duration, log *zap.SugaredLogger) *Sweeper {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Sweeper{
		Engine:   engine,
		Interval: interval,
		log:      log,
		stop:     make(chan struct{}),
	}
}

// Start begins the background sweep loop.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ticker = time.NewTicker(s.Interval)
	s.wg.Add(1)
	go s.run()

	s.log.Infow("sweeper started", "interval", s.Interval)
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.log.Infow("sweeper stopped")
	}
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	// First sweep right away: a daemon restarted after downtime should
	// catch up without waiting a full interval.
	s.sweep()

	for {
		select {
		case <-s.ticker.C:
			s.sweep()
		case <-s.stop:
			return
		}
	}
}

func (s *Sweeper) sweep() {
	results, err := RunSweep(context.Background(), s.Engine)
	if err != nil {
		s.log.Errorw("sweep failed", "error", err)
		return
	}
	if len(results) > 0 {
		s.log.Infow("sweep completed", "debts_processed", len(results))
	}
}

// RunSweep executes one batch sweep with metrics recorded. Shared by the
// background loop, the manual trigger endpoint, and the one-shot CLI.
func RunSweep(ctx context.Context, engine *credit.Engine) ([]credit.AccrualResult, error) {
	sweepRuns.Inc()
	start := time.Now()
	defer func() { sweepDuration.Observe(time.Since(start).Seconds()) }()

	results, err := engine.ProcessEligible(ctx)
	if err != nil {
		debtFailures.Inc()
		return nil, err
	}

	for i := range results {
		debtsProcessed.Inc()
		markupEntriesPosted.Add(float64(len(results[i].Entries)))
		if results[i].Reconciled > 0 {
			markupEntriesReconciled.Add(float64(results[i].Reconciled))
		}
	}
	return results, nil
}
