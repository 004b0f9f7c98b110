package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kgninja/resonance/internal/api"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the harvest state and concept memory over MCP (stdio)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		deps := api.Deps{
			StatePath:  cfg.StatePath(),
			MemoryPath: cfg.MemoryPath(),
			Logger:     slog.Default(),
		}
		if ledger := openLedger(cfg); ledger != nil {
			defer ledger.Close()
			deps.Ledger = ledger
		}

		stdio := server.NewStdioServer(api.NewMCPServer(deps, version))
		slog.Info("MCP server started (stdio transport)")
		if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}
