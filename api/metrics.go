/*
metrics.go - Prometheus instrumentation for the accrual engine

PURPOSE:
  Counters and histograms exposed at /metrics. The sweep runs unattended;
  these are how an operator notices it stalling or failing per-debt.
*/
package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sweepRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "credit_sweep_runs_total",
		Help: "Number of batch accrual sweeps started.",
	})

	sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "credit_sweep_duration_seconds",
		Help:    "Wall time of one batch accrual sweep.",
		Buckets: prometheus.DefBuckets,
	})

	debtsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "credit_debts_processed_total",
		Help: "Debts on which an accrual run posted at least one entry.",
	})

	debtFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "credit_debt_failures_total",
		Help: "Per-debt accrual runs that returned an error.",
	})

	markupEntriesPosted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "credit_markup_entries_posted_total",
		Help: "Markup ledger entries written by accrual runs.",
	})

	markupEntriesReconciled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "credit_markup_entries_reconciled_total",
		Help: "Markup ledger entries deleted by reconciliation.",
	})
)
