package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
	kDuration
	kList
)

func (t keyType) String() string {
	switch t {
	case kInt:
		return "integer"
	case kFloat:
		return "float"
	case kDuration:
		return "duration"
	case kList:
		return "list"
	default:
		return "string"
	}
}

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "harvest.cache_ttl", typ: kDuration, env: "RESONANCE_HARVEST_CACHE_TTL",
		apply:   func(cfg *Config, v any) { cfg.Harvest.CacheTTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Harvest.CacheTTL },
	},
	{
		key: "harvest.max_retries", typ: kInt, env: "RESONANCE_HARVEST_MAX_RETRIES",
		apply:   func(cfg *Config, v any) { cfg.Harvest.MaxRetries = v.(int) },
		extract: func(cfg Config) any { return cfg.Harvest.MaxRetries },
	},
	{
		key: "harvest.backoff_base", typ: kDuration, env: "RESONANCE_HARVEST_BACKOFF_BASE",
		apply:   func(cfg *Config, v any) { cfg.Harvest.BackoffBase = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Harvest.BackoffBase },
	},
	{
		key: "harvest.adapter_delay", typ: kDuration, env: "RESONANCE_HARVEST_ADAPTER_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Harvest.AdapterDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Harvest.AdapterDelay },
	},
	{
		key: "harvest.lookback", typ: kDuration, env: "RESONANCE_HARVEST_LOOKBACK",
		apply:   func(cfg *Config, v any) { cfg.Harvest.Lookback = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Harvest.Lookback },
	},
	{
		key: "harvest.history_limit", typ: kInt, env: "RESONANCE_HARVEST_HISTORY_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Harvest.HistoryLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Harvest.HistoryLimit },
	},
	{
		key: "harvest.timeout", typ: kDuration, env: "RESONANCE_HARVEST_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Harvest.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Harvest.Timeout },
	},
	{
		key: "source.account", typ: kString, env: "RESONANCE_SOURCE_ACCOUNT",
		apply:   func(cfg *Config, v any) { cfg.Source.Account = v.(string) },
		extract: func(cfg Config) any { return cfg.Source.Account },
	},
	{
		key: "source.endpoints", typ: kList, env: "RESONANCE_SOURCE_ENDPOINTS",
		apply:   func(cfg *Config, v any) { cfg.Source.Endpoints = v.([]string) },
		extract: func(cfg Config) any { return cfg.Source.Endpoints },
	},
	{
		key: "source.search_api_key", typ: kString, env: "RESONANCE_SEARCH_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Source.SearchAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Source.SearchAPIKey },
	},
	{
		key: "vocabulary.exclude", typ: kList, env: "RESONANCE_VOCABULARY_EXCLUDE",
		apply:   func(cfg *Config, v any) { cfg.Vocabulary.Exclude = v.([]string) },
		extract: func(cfg Config) any { return cfg.Vocabulary.Exclude },
	},
	{
		key: "vocabulary.priority", typ: kList, env: "RESONANCE_VOCABULARY_PRIORITY",
		apply:   func(cfg *Config, v any) { cfg.Vocabulary.Priority = v.([]string) },
		extract: func(cfg Config) any { return cfg.Vocabulary.Priority },
	},
	{
		key: "memory.entity_id", typ: kString, env: "RESONANCE_MEMORY_ENTITY_ID",
		apply:   func(cfg *Config, v any) { cfg.Memory.EntityID = v.(string) },
		extract: func(cfg Config) any { return cfg.Memory.EntityID },
	},
	{
		key: "memory.entity_type", typ: kString, env: "RESONANCE_MEMORY_ENTITY_TYPE",
		apply:   func(cfg *Config, v any) { cfg.Memory.EntityType = v.(string) },
		extract: func(cfg Config) any { return cfg.Memory.EntityType },
	},
	{
		key: "memory.entity_origin", typ: kString, env: "RESONANCE_MEMORY_ENTITY_ORIGIN",
		apply:   func(cfg *Config, v any) { cfg.Memory.EntityOrigin = v.(string) },
		extract: func(cfg Config) any { return cfg.Memory.EntityOrigin },
	},
	{
		key: "memory.existing_weight", typ: kFloat, env: "RESONANCE_MEMORY_EXISTING_WEIGHT",
		apply:   func(cfg *Config, v any) { cfg.Memory.ExistingWeight = v.(float64) },
		extract: func(cfg Config) any { return cfg.Memory.ExistingWeight },
	},
	{
		key: "memory.new_weight", typ: kFloat, env: "RESONANCE_MEMORY_NEW_WEIGHT",
		apply:   func(cfg *Config, v any) { cfg.Memory.NewWeight = v.(float64) },
		extract: func(cfg Config) any { return cfg.Memory.NewWeight },
	},
	{
		key: "memory.concept_cap", typ: kFloat, env: "RESONANCE_MEMORY_CONCEPT_CAP",
		apply:   func(cfg *Config, v any) { cfg.Memory.ConceptCap = v.(float64) },
		extract: func(cfg Config) any { return cfg.Memory.ConceptCap },
	},
	{
		key: "memory.base", typ: kFloat, env: "RESONANCE_MEMORY_BASE",
		apply:   func(cfg *Config, v any) { cfg.Memory.MemoryBase = v.(float64) },
		extract: func(cfg Config) any { return cfg.Memory.MemoryBase },
	},
	{
		key: "memory.per_interaction", typ: kFloat, env: "RESONANCE_MEMORY_PER_INTERACTION",
		apply:   func(cfg *Config, v any) { cfg.Memory.PerInteraction = v.(float64) },
		extract: func(cfg Config) any { return cfg.Memory.PerInteraction },
	},
	{
		key: "memory.cap", typ: kFloat, env: "RESONANCE_MEMORY_CAP",
		apply:   func(cfg *Config, v any) { cfg.Memory.MemoryCap = v.(float64) },
		extract: func(cfg Config) any { return cfg.Memory.MemoryCap },
	},
	{
		key: "memory.max_interactions", typ: kInt, env: "RESONANCE_MEMORY_MAX_INTERACTIONS",
		apply:   func(cfg *Config, v any) { cfg.Memory.MaxInteractions = v.(int) },
		extract: func(cfg Config) any { return cfg.Memory.MaxInteractions },
	},
	{
		key: "storage.data_dir", typ: kString, env: "RESONANCE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.state_file", typ: kString, env: "RESONANCE_STORAGE_STATE_FILE",
		apply:   func(cfg *Config, v any) { cfg.Storage.StateFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.StateFile },
	},
	{
		key: "storage.memory_file", typ: kString, env: "RESONANCE_STORAGE_MEMORY_FILE",
		apply:   func(cfg *Config, v any) { cfg.Storage.MemoryFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.MemoryFile },
	},
	{
		key: "storage.cache_file", typ: kString, env: "RESONANCE_STORAGE_CACHE_FILE",
		apply:   func(cfg *Config, v any) { cfg.Storage.CacheFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.CacheFile },
	},
	{
		key: "storage.error_log_file", typ: kString, env: "RESONANCE_STORAGE_ERROR_LOG_FILE",
		apply:   func(cfg *Config, v any) { cfg.Storage.ErrorLogFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.ErrorLogFile },
	},
	{
		key: "ledger.retention", typ: kDuration, env: "RESONANCE_LEDGER_RETENTION",
		apply:   func(cfg *Config, v any) { cfg.Ledger.Retention = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Ledger.Retention },
	},
	{
		key: "server.port", typ: kInt, env: "RESONANCE_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "schedule.interval", typ: kDuration, env: "RESONANCE_SCHEDULE_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Schedule.Interval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Schedule.Interval },
	},
	{
		key: "log.level", typ: kString, env: "RESONANCE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// parseValue converts raw text to the Go type of typ. Lists are comma
// separated; blank elements are dropped.
func parseValue(typ keyType, raw string) (any, error) {
	switch typ {
	case kInt:
		return strconv.Atoi(strings.TrimSpace(raw))
	case kFloat:
		return strconv.ParseFloat(strings.TrimSpace(raw), 64)
	case kDuration:
		return time.ParseDuration(strings.TrimSpace(raw))
	case kList:
		var out []string
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out, nil
	default:
		return raw, nil
	}
}

func formatValue(v any) string {
	switch val := v.(type) {
	case []string:
		return strings.Join(val, ",")
	default:
		return fmt.Sprintf("%v", v)
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (raw == "" && s.typ != kString) {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from config key %s=%q: %v. Using default value.\n", s.typ, s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from env var %s=%q: %v. Using default value.\n", s.typ, s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
