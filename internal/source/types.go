// Package source performs single fetch attempts against upstream endpoints.
//
// An Adapter never retries: one call to Fetch is exactly one network attempt,
// and its outcome is classified so the caller can decide whether to back off,
// move on, or accept an empty result.
package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kgninja/resonance/internal/jsonfile"
)

// RawItem is one post or search hit as returned by an upstream endpoint.
// JSON field names match the on-disk cache format.
type RawItem struct {
	Title       string        `json:"title"`
	Body        string        `json:"content"`
	PublishedAt jsonfile.Time `json:"date"`
	SourceID    string        `json:"source_instance"`
	OriginURL   string        `json:"link"`
}

// Adapter fetches items from one named upstream endpoint.
type Adapter interface {
	// ID identifies the endpoint in logs, the ledger and RawItem.SourceID.
	ID() string
	// Fetch performs one attempt. Items older than maxAge are dropped when the
	// upstream reports publication dates; maxAge <= 0 keeps everything.
	// A reachable endpoint with nothing to return yields an empty slice and a
	// nil error.
	Fetch(ctx context.Context, maxAge time.Duration) ([]RawItem, error)
}

// Kind classifies a failed fetch attempt.
type Kind int

const (
	// Unreachable covers transport failures, unexpected statuses and bodies
	// that cannot be parsed.
	Unreachable Kind = iota + 1
	// RateLimited means the upstream explicitly asked us to slow down.
	RateLimited
)

func (k Kind) String() string {
	switch k {
	case Unreachable:
		return "unreachable"
	case RateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

// FetchError is returned by Adapter.Fetch on failure.
type FetchError struct {
	Kind     Kind
	SourceID string
	Status   int // HTTP status, 0 for transport errors
	Err      error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("source %s: %s (http %d): %v", e.SourceID, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("source %s: %s: %v", e.SourceID, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// KindOf returns the classification of err. Errors that are not a
// *FetchError count as Unreachable.
func KindOf(err error) Kind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unreachable
}

// IsRateLimited reports whether err is a rate-limit signal.
func IsRateLimited(err error) bool { return err != nil && KindOf(err) == RateLimited }

// IsUnreachable reports whether err is a transport-level failure.
func IsUnreachable(err error) bool { return err != nil && KindOf(err) == Unreachable }
