/*
creditd - the credit engine daemon

COMMANDS:
  serve     Run the HTTP API with the background accrual sweeper
  sweep     Run one batch accrual sweep and exit
  cleanup   Reconcile every debt's markup ledger and exit

The one-shot commands exist for cron-style deployments where a resident
daemon is unwanted; they share the exact same engine code paths.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vela/credit-engine/api"
	"github.com/vela/credit-engine/config"
	"github.com/vela/credit-engine/credit"
	"github.com/vela/credit-engine/sales"
	"github.com/vela/credit-engine/store/sqlite"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "creditd",
		Short:         "Debt accrual and reconciliation engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to TOML config file")

	root.AddCommand(serveCmd(), sweepCmd(), cleanupCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// app bundles everything the commands need.
type app struct {
	cfg    config.Config
	log    *zap.SugaredLogger
	store  *sqlite.Store
	engine *credit.Engine
	recon  *credit.Reconciler
	sales  *sales.Service
}

func buildApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	log := logger.Sugar()

	store, err := sqlite.New(cfg.DB.Path)
	if err != nil {
		return nil, err
	}

	clock := credit.SystemClock{}
	engine := credit.NewEngine(store, clock, log)
	engine.Workers = cfg.Sweep.Workers
	recon := credit.NewReconciler(store, clock, log)

	return &app{
		cfg:    cfg,
		log:    log,
		store:  store,
		engine: engine,
		recon:  recon,
		sales:  sales.NewService(store, recon, clock, log),
	}, nil
}

func (a *app) close() {
	a.store.Close()
	a.log.Sync()
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		zcfg.Level = level
	}
	return zcfg.Build()
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with the background accrual sweeper",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.close()

			handler := api.NewHandler(a.store, a.engine, a.recon, a.sales, credit.SystemClock{}, a.log)
			server := &http.Server{
				Addr:    a.cfg.Server.Addr,
				Handler: api.NewRouter(handler),
			}

			var sweeper *api.Sweeper
			if a.cfg.Sweep.Enabled {
				sweeper = api.NewSweeper(a.engine, a.cfg.SweepInterval(), a.log)
				sweeper.Start()
				defer sweeper.Stop()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				a.log.Infow("listening", "addr", a.cfg.Server.Addr)
				errCh <- server.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
			case <-ctx.Done():
				a.log.Infow("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one batch accrual sweep and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.close()

			results, err := api.RunSweep(cmd.Context(), a.engine)
			if err != nil {
				return err
			}
			for _, res := range results {
				fmt.Printf("debt %d: +%s (%d entries) -> %s\n",
					res.DebtID, res.MarkupAdded.StringFixed(2), len(res.Entries), res.NewAmount.StringFixed(2))
			}
			fmt.Printf("processed %d debts\n", len(results))
			return nil
		},
	}
}

func cleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Reconcile every debt's markup ledger and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			cleaned := 0
			for _, status := range []credit.DebtStatus{credit.StatusActive, credit.StatusPaid} {
				debts, err := a.store.ListDebts(ctx, status, 0)
				if err != nil {
					return err
				}
				for _, d := range debts {
					if !d.HasMarkup() {
						continue
					}
					res, err := a.recon.Cleanup(ctx, d.ID)
					if err != nil {
						a.log.Errorw("cleanup failed", "debt_id", d.ID, "error", err)
						continue
					}
					if res != nil && res.Deleted > 0 {
						cleaned++
						fmt.Printf("debt %d: removed %d entries (%s), balance %s\n",
							d.ID, res.Deleted, res.AmountRemoved.StringFixed(2), res.NewAmount.StringFixed(2))
					}
				}
			}
			fmt.Printf("reconciled %d debts\n", cleaned)
			return nil
		},
	}
}
