// Package fetcher produces the freshest obtainable batch of raw items from a
// prioritized list of redundant, unreliable sources.
//
// Order of preference: a cache younger than the TTL (no network at all), then
// live adapters tried strictly in priority order, then the last cache however
// old it is. Only when all three are unavailable does Fetch fail.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kgninja/resonance/internal/jsonfile"
	"github.com/kgninja/resonance/internal/source"
)

// ErrAllSourcesExhausted is the hard failure: no adapter produced items and
// no cache exists to fall back on.
var ErrAllSourcesExhausted = errors.New("all sources exhausted and no cache available")

// ExhaustedError carries the attempts made before giving up.
type ExhaustedError struct {
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%v (%d attempts)", ErrAllSourcesExhausted, len(e.Attempts))
}

func (e *ExhaustedError) Unwrap() error { return ErrAllSourcesExhausted }

// Origin says where a Result's batch came from.
type Origin int

const (
	OriginLive       Origin = iota + 1 // fetched from an adapter during this call
	OriginCache                        // cache within TTL, no network call made
	OriginStaleCache                   // expired cache, every adapter failed
)

func (o Origin) String() string {
	switch o {
	case OriginLive:
		return "live"
	case OriginCache:
		return "cache"
	case OriginStaleCache:
		return "stale_cache"
	default:
		return "none"
	}
}

// Attempt outcomes.
const (
	OutcomeOK          = "ok"
	OutcomeEmpty       = "empty"
	OutcomeRateLimited = "rate_limited"
	OutcomeUnreachable = "unreachable"
)

// Attempt records one adapter invocation.
type Attempt struct {
	Adapter  string
	Number   int // 1-based attempt number against this adapter
	Outcome  string
	Items    int
	Err      string
	Duration time.Duration
	At       time.Time
}

// Result is the outcome of Fetch.
type Result struct {
	Batch    CachedBatch
	Origin   Origin
	Attempts []Attempt
	// CacheErr is set when a live batch was returned but could not be
	// written to the cache.
	CacheErr error
}

// Degraded reports whether the batch is stale data served because every
// live source failed.
func (r Result) Degraded() bool { return r.Origin == OriginStaleCache }

// Clock abstracts time for testability. Sleep blocks the caller.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time        { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// Config configures a Fetcher.
type Config struct {
	CachePath    string
	TTL          time.Duration // Cache freshness window. Default: 7 days.
	MaxRetries   int           // Retries of a rate-limited adapter. Default: 3; negative disables.
	BackoffBase  time.Duration // First backoff, doubled per retry. Default: 2s.
	AdapterDelay time.Duration // Pause before moving to the next adapter. Default: 2s; negative disables.
	MaxAge       time.Duration // Lookback passed to adapters. Default: 7 days.
	Clock        Clock
	Logger       *slog.Logger
}

func (c *Config) defaults() {
	if c.TTL <= 0 {
		c.TTL = 7 * 24 * time.Hour
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	} else if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 2 * time.Second
	}
	if c.AdapterDelay == 0 {
		c.AdapterDelay = 2 * time.Second
	} else if c.AdapterDelay < 0 {
		c.AdapterDelay = 0
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 7 * 24 * time.Hour
	}
	if c.Clock == nil {
		c.Clock = realClock{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Fetcher iterates redundant adapters with retry, backoff and cache fallback.
type Fetcher struct {
	adapters []source.Adapter
	cfg      Config
	clock    Clock
	logger   *slog.Logger
}

// New creates a Fetcher. adapters are tried in the given order on every call.
func New(adapters []source.Adapter, cfg Config) *Fetcher {
	cfg.defaults()
	return &Fetcher{
		adapters: adapters,
		cfg:      cfg,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
	}
}

// TTL returns the effective cache freshness window.
func (f *Fetcher) TTL() time.Duration { return f.cfg.TTL }

// Fetch returns the freshest batch available. A cache within TTL is returned
// without touching the network.
func (f *Fetcher) Fetch(ctx context.Context) (Result, error) {
	return f.fetch(ctx, false)
}

// Refresh is Fetch without the fresh-cache shortcut: adapters are always
// tried first. The cache is still the fallback when they all fail.
func (f *Fetcher) Refresh(ctx context.Context) (Result, error) {
	return f.fetch(ctx, true)
}

func (f *Fetcher) fetch(ctx context.Context, skipFresh bool) (Result, error) {
	cached, haveCache := f.LoadCache()

	if haveCache && !skipFresh {
		if age := cached.Age(f.clock.Now()); age <= f.cfg.TTL {
			f.logger.Info("using fresh fetch cache", "items", len(cached.Items), "age", age.Round(time.Second))
			return Result{Batch: cached, Origin: OriginCache}, nil
		}
		f.logger.Info("fetch cache expired", "ttl", f.cfg.TTL)
	}

	var attempts []Attempt
	for i, a := range f.adapters {
		if i > 0 && f.cfg.AdapterDelay > 0 {
			f.clock.Sleep(f.cfg.AdapterDelay)
		}
		if ctx.Err() != nil {
			break
		}

		f.logger.Info("fetching from source", "adapter", a.ID(), "position", i+1, "of", len(f.adapters))
		items := f.tryAdapter(ctx, a, &attempts)
		if len(items) == 0 {
			continue
		}

		fetchedAt := f.clock.Now()
		if haveCache && cached.FetchedAt.After(fetchedAt) {
			fetchedAt = cached.FetchedAt.Time
		}
		batch := CachedBatch{FetchedAt: jsonfile.At(fetchedAt), Items: items}
		res := Result{Batch: batch, Origin: OriginLive, Attempts: attempts}
		if err := f.saveCache(batch); err != nil {
			f.logger.Error("live batch not cached", "error", err)
			res.CacheErr = err
		}
		return res, nil
	}

	if haveCache {
		f.logger.Warn("degraded mode: all sources failed, using expired cache",
			"items", len(cached.Items),
			"age", cached.Age(f.clock.Now()).Round(time.Second),
			"attempts", len(attempts))
		return Result{Batch: cached, Origin: OriginStaleCache, Attempts: attempts}, nil
	}

	return Result{Attempts: attempts}, &ExhaustedError{Attempts: attempts}
}

// tryAdapter runs one adapter, retrying only on rate limiting. It returns the
// items of the first successful attempt, or nil.
func (f *Fetcher) tryAdapter(ctx context.Context, a source.Adapter, attempts *[]Attempt) []source.RawItem {
	for attempt := 0; attempt <= f.cfg.MaxRetries; attempt++ {
		start := f.clock.Now()
		items, err := a.Fetch(ctx, f.cfg.MaxAge)
		rec := Attempt{
			Adapter:  a.ID(),
			Number:   attempt + 1,
			Items:    len(items),
			Duration: f.clock.Now().Sub(start),
			At:       start,
		}

		switch {
		case err == nil && len(items) > 0:
			rec.Outcome = OutcomeOK
			*attempts = append(*attempts, rec)
			f.logger.Info("source returned items", "adapter", a.ID(), "items", len(items))
			return items
		case err == nil:
			rec.Outcome = OutcomeEmpty
			*attempts = append(*attempts, rec)
			f.logger.Info("source returned no items", "adapter", a.ID())
			return nil
		case source.IsRateLimited(err):
			rec.Outcome = OutcomeRateLimited
			rec.Err = err.Error()
			*attempts = append(*attempts, rec)
			if attempt >= f.cfg.MaxRetries || ctx.Err() != nil {
				f.logger.Warn("source still rate limited, giving up", "adapter", a.ID(), "attempts", attempt+1)
				return nil
			}
			wait := f.cfg.BackoffBase * (1 << uint(attempt))
			f.logger.Warn("source rate limited, backing off",
				"adapter", a.ID(),
				"attempt", attempt+1,
				"max_retries", f.cfg.MaxRetries,
				"backoff_ms", wait.Milliseconds())
			f.clock.Sleep(wait)
		default:
			rec.Outcome = OutcomeUnreachable
			rec.Err = err.Error()
			*attempts = append(*attempts, rec)
			f.logger.Warn("source unreachable", "adapter", a.ID(), "error", err)
			return nil
		}
	}
	return nil
}
