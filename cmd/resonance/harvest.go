package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kgninja/resonance/internal/config"
	"github.com/kgninja/resonance/internal/harvest"
)

// Exit codes of the harvest command.
const (
	exitNoSource   = 2
	exitNotDurable = 3
)

var harvestCmd = &cobra.Command{
	Use:   "harvest",
	Short: "Run one harvest",
	Long: `Run one harvest: fetch posts, extract new keywords, update the harvest
state and the concept memory.

Exit status is 0 on success (including runs with no new keywords), 2 when no
source could be reached and no cached posts exist, 3 when the run completed
but a document could not be written, and 1 on any other error.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		refresh, _ := cmd.Flags().GetBool("refresh")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		rep, err := runHarvest(ctx, cfg, refresh)
		if rep.RunID != "" {
			fmt.Fprint(os.Stdout, rep.Summary())
		}
		return harvestResult(rep, err)
	},
}

func init() {
	harvestCmd.Flags().Bool("refresh", false, "ignore a fresh cache and query the sources")
}

func runHarvest(ctx context.Context, cfg config.Config, refresh bool) (harvest.Report, error) {
	ledger := openLedger(cfg)
	if ledger != nil {
		defer ledger.Close()
	}
	orch, err := newOrchestrator(cfg, ledger, refresh)
	if err != nil {
		return harvest.Report{}, err
	}
	return orch.Run(ctx)
}

// harvestResult maps a run to the command's error, carrying the exit code.
func harvestResult(rep harvest.Report, err error) error {
	switch {
	case errors.Is(err, harvest.ErrNoSource):
		return &exitError{code: exitNoSource, err: err}
	case err != nil:
		return err
	case rep.PersistErr != nil:
		return &exitError{code: exitNotDurable, err: fmt.Errorf("harvest not durably saved: %w", rep.PersistErr)}
	}
	if rep.Outcome == harvest.OutcomeDegraded {
		printWarning("Harvest completed in degraded mode")
	} else {
		printSuccess("Harvest completed")
	}
	return nil
}
