package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/kgninja/resonance/internal/config"
	"github.com/kgninja/resonance/internal/fetcher"
	"github.com/kgninja/resonance/internal/harvest"
	"github.com/kgninja/resonance/internal/memory"
	"github.com/kgninja/resonance/internal/source"
	"github.com/kgninja/resonance/internal/storage"
)

// loadConfig loads the configuration and installs the default logger.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	setupLogging(cfg)
	return cfg, nil
}

func setupLogging(cfg config.Config) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// openLedger opens the run ledger. A ledger that cannot be opened is
// reported and skipped; harvesting does not depend on it.
func openLedger(cfg config.Config) *storage.Store {
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		slog.Warn("run ledger unavailable", "data_dir", cfg.Storage.DataDir, "error", err)
		return nil
	}
	return store
}

func memoryConfig(cfg config.Config) memory.Config {
	return memory.Config{
		Path:   cfg.MemoryPath(),
		Policy: cfg.Policy(),
		Entity: cfg.Entity(),
		Logger: slog.Default(),
	}
}

// newOrchestrator wires the adapters, the fetcher and the stores described
// by cfg. ledger may be nil.
func newOrchestrator(cfg config.Config, ledger *storage.Store, refresh bool) (*harvest.Orchestrator, error) {
	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	adapters, err := source.FromSpecs(cfg.Source.Endpoints, source.Options{
		Account:      cfg.Source.Account,
		SearchAPIKey: cfg.Source.SearchAPIKey,
		HTTP:         source.HTTPConfig{Timeout: cfg.Harvest.Timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("configuring sources: %w", err)
	}

	// Zero in the config means "none"; the fetcher reads zero as "default".
	maxRetries, delay := cfg.Harvest.MaxRetries, cfg.Harvest.AdapterDelay
	if maxRetries == 0 {
		maxRetries = -1
	}
	if delay == 0 {
		delay = -1
	}
	f := fetcher.New(adapters, fetcher.Config{
		CachePath:    cfg.CachePath(),
		TTL:          cfg.Harvest.CacheTTL,
		MaxRetries:   maxRetries,
		BackoffBase:  cfg.Harvest.BackoffBase,
		AdapterDelay: delay,
		MaxAge:       cfg.Harvest.Lookback,
		Logger:       slog.Default(),
	})

	hc := harvest.Config{
		StatePath:       cfg.StatePath(),
		Memory:          memoryConfig(cfg),
		ErrorLog:        harvest.ErrorLog{Path: cfg.ErrorLogPath()},
		Exclude:         cfg.Vocabulary.Exclude,
		Priority:        cfg.Vocabulary.Priority,
		HistoryLimit:    cfg.Harvest.HistoryLimit,
		Refresh:         refresh,
		LedgerRetention: cfg.Ledger.Retention,
		Logger:          slog.Default(),
	}
	// A nil *storage.Store must not become a non-nil interface.
	if ledger != nil {
		hc.Ledger = ledger
	}
	return harvest.New(f, hc), nil
}
