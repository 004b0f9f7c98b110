package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kgninja/resonance/internal/api"
	"github.com/kgninja/resonance/internal/schedule"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Harvest on a schedule and serve the status API",
	RunE: func(cmd *cobra.Command, args []string) error {
		noSchedule, _ := cmd.Flags().GetBool("no-schedule")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		ledger := openLedger(cfg)
		if ledger != nil {
			defer ledger.Close()
		}

		deps := api.Deps{
			StatePath:  cfg.StatePath(),
			MemoryPath: cfg.MemoryPath(),
			Logger:     slog.Default(),
		}
		if ledger != nil {
			deps.Ledger = ledger
		}

		var worker *schedule.Worker
		if !noSchedule {
			orch, err := newOrchestrator(cfg, ledger, false)
			if err != nil {
				return err
			}
			worker = schedule.NewWorker(orch, cfg.Schedule.Interval).WithLogger(slog.Default())
			deps.Scheduler = worker
		}

		addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
		srv := &http.Server{
			Addr:              addr,
			Handler:           api.NewHandler(deps),
			ReadHeaderTimeout: 10 * time.Second,
			BaseContext: func(_ net.Listener) context.Context {
				return ctx
			},
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			slog.Info("status API listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		})
		if worker != nil {
			g.Go(func() error {
				slog.Info("harvest scheduler started", "interval", worker.Interval())
				worker.Run(gctx)
				return nil
			})
		}
		g.Go(func() error {
			<-gctx.Done()
			slog.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().Bool("no-schedule", false, "serve the API without harvesting")
}
