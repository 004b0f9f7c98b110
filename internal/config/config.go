package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"time"

	"github.com/joho/godotenv"

	"github.com/kgninja/resonance/internal/extract"
	"github.com/kgninja/resonance/internal/memory"
)

type Config struct {
	Harvest    HarvestConfig
	Source     SourceConfig
	Vocabulary VocabularyConfig
	Memory     MemoryConfig
	Storage    StorageConfig
	Ledger     LedgerConfig
	Server     ServerConfig
	Schedule   ScheduleConfig
	Log        LogConfig
}

type HarvestConfig struct {
	CacheTTL     time.Duration
	MaxRetries   int
	BackoffBase  time.Duration
	AdapterDelay time.Duration
	Lookback     time.Duration
	HistoryLimit int
	Timeout      time.Duration
}

type SourceConfig struct {
	Account string
	// Endpoints are tried in order. See source.ParseEndpoint for the syntax.
	Endpoints    []string
	SearchAPIKey string
}

type VocabularyConfig struct {
	Exclude  []string
	Priority []string
}

type MemoryConfig struct {
	EntityID     string
	EntityType   string
	EntityOrigin string

	ExistingWeight  float64
	NewWeight       float64
	ConceptCap      float64
	MemoryBase      float64
	PerInteraction  float64
	MemoryCap       float64
	MaxInteractions int
}

type StorageConfig struct {
	DataDir      string
	StateFile    string
	MemoryFile   string
	CacheFile    string
	ErrorLogFile string
}

type LedgerConfig struct {
	Retention time.Duration
}

type ServerConfig struct {
	Port int
}

type ScheduleConfig struct {
	Interval time.Duration
}

type LogConfig struct {
	Level string
}

// DefaultEndpoints are public feed mirrors of the account timeline.
var DefaultEndpoints = []string{
	"rss:https://nitter.net/{account}/rss",
	"rss:https://nitter.poast.org/{account}/rss",
	"rss:https://nitter.privacydev.net/{account}/rss",
	"rss:https://nitter.unixfox.eu/{account}/rss",
	"rss:https://nitter.1d4.us/{account}/rss",
}

func defaults() Config {
	policy := memory.DefaultPolicy()
	return Config{
		Harvest: HarvestConfig{
			CacheTTL:     7 * 24 * time.Hour,
			MaxRetries:   3,
			BackoffBase:  2 * time.Second,
			AdapterDelay: 2 * time.Second,
			Lookback:     7 * 24 * time.Hour,
			HistoryLimit: 30,
			Timeout:      10 * time.Second,
		},
		Source: SourceConfig{
			Account:   "FuwaCocoOwnerKG",
			Endpoints: slices.Clone(DefaultEndpoints),
		},
		Vocabulary: VocabularyConfig{
			Exclude:  slices.Clone(extract.DefaultExclude),
			Priority: slices.Clone(extract.DefaultPriority),
		},
		Memory: MemoryConfig{
			EntityID:        memory.DefaultEntity.ID,
			EntityType:      memory.DefaultEntity.Type,
			EntityOrigin:    memory.DefaultEntity.Origin,
			ExistingWeight:  policy.ExistingWeight,
			NewWeight:       policy.NewWeight,
			ConceptCap:      policy.ConceptCap,
			MemoryBase:      policy.MemoryBase,
			PerInteraction:  policy.PerInteraction,
			MemoryCap:       policy.MemoryCap,
			MaxInteractions: policy.MaxInteractions,
		},
		Storage: StorageConfig{
			DataDir:      defaultDataDir(),
			StateFile:    "x_harvested_keywords.json",
			MemoryFile:   "aieo_memory.json",
			CacheFile:    "x_posts_cache.json",
			ErrorLogFile: "x_harvest_errors.log",
		},
		Ledger: LedgerConfig{
			Retention: 90 * 24 * time.Hour,
		},
		Server: ServerConfig{
			Port: 4100,
		},
		Schedule: ScheduleConfig{
			Interval: 6 * time.Hour,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, a .env file in
// the working directory, and environment variables.
//
// On macOS the backend is UserDefaults (domain: com.kgninja.resonance).
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/resonance/config.json.
//
// Environment variables (RESONANCE_*) override backend values on all
// platforms. Variables already set in the environment win over .env.
// Secrets are read from the environment only.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), ".env")
}

func loadWith(b ConfigBackend, envFile string) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}
	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var errs []error
	if len(c.Source.Endpoints) == 0 {
		errs = append(errs, errors.New("source.endpoints: at least one endpoint is required"))
	}
	if c.Storage.DataDir == "" {
		errs = append(errs, errors.New("storage.data_dir: must not be empty"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port: %d out of range", c.Server.Port))
	}
	for key, v := range map[string]float64{
		"memory.existing_weight": c.Memory.ExistingWeight,
		"memory.new_weight":      c.Memory.NewWeight,
		"memory.concept_cap":     c.Memory.ConceptCap,
		"memory.base":            c.Memory.MemoryBase,
		"memory.per_interaction": c.Memory.PerInteraction,
		"memory.cap":             c.Memory.MemoryCap,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s: %v not in [0, 1]", key, v))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// StatePath is the harvest state document.
func (c Config) StatePath() string { return c.dataFile(c.Storage.StateFile) }

// MemoryPath is the concept memory document.
func (c Config) MemoryPath() string { return c.dataFile(c.Storage.MemoryFile) }

// CachePath is the cached batch of the last successful fetch.
func (c Config) CachePath() string { return c.dataFile(c.Storage.CacheFile) }

// ErrorLogPath is the append-only harvest error log.
func (c Config) ErrorLogPath() string { return c.dataFile(c.Storage.ErrorLogFile) }

func (c Config) dataFile(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.Storage.DataDir, name)
}

// Policy returns the memory confidence model.
func (c Config) Policy() memory.Policy {
	return memory.Policy{
		ExistingWeight:  c.Memory.ExistingWeight,
		NewWeight:       c.Memory.NewWeight,
		ConceptCap:      c.Memory.ConceptCap,
		MemoryBase:      c.Memory.MemoryBase,
		PerInteraction:  c.Memory.PerInteraction,
		MemoryCap:       c.Memory.MemoryCap,
		MaxInteractions: c.Memory.MaxInteractions,
	}
}

// Entity is the descriptor written into a new memory document.
func (c Config) Entity() memory.Entity {
	return memory.Entity{
		ID:     c.Memory.EntityID,
		Type:   c.Memory.EntityType,
		Origin: c.Memory.EntityOrigin,
	}
}
