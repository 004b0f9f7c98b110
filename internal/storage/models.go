package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Run is one harvest run.
type Run struct {
	ID             string
	StartedAt      time.Time
	FinishedAt     time.Time
	Outcome        string // "ok", "degraded", "failed"
	Origin         string // "live", "cache", "stale_cache" or "" when nothing was fetched
	PostsProcessed int
	NewKeywords    int
	Error          string
}

// FetchAttempt is one adapter invocation made during a run.
type FetchAttempt struct {
	ID          string
	RunID       string
	Adapter     string
	Attempt     int
	Outcome     string // "ok", "empty", "rate_limited", "unreachable"
	Items       int
	Error       string
	Duration    time.Duration
	AttemptedAt time.Time
}

// AdapterStat aggregates the attempts recorded for one adapter.
type AdapterStat struct {
	Adapter     string
	Attempts    int
	Successes   int
	Empty       int
	RateLimited int
	Unreachable int
	LastSuccess time.Time // zero if the adapter never succeeded
}
