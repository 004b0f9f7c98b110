package harvest

import (
	"fmt"
	"strings"
	"time"

	"github.com/kgninja/resonance/internal/fetcher"
)

// Outcome of a run as recorded in the ledger.
type Outcome string

const (
	OutcomeOK       Outcome = "ok"
	OutcomeDegraded Outcome = "degraded" // served from an expired cache
	OutcomeFailed   Outcome = "failed"   // no source and no cache
)

// Report describes one run.
type Report struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Outcome    Outcome
	Origin     fetcher.Origin

	PostsProcessed int
	RawTokens      int
	Filtered       int
	NewKeywords    []string

	TotalKeywords int
	TotalHashtags int
	TotalPosts    int
	HarvestCount  int
	LastHarvest   time.Time

	MemoryMerged     bool
	MemorySkipReason string

	// FetchErr is the hard fetch failure, if any.
	FetchErr error
	// PersistErr is set when the run completed but a document could not be
	// written.
	PersistErr error
}

func (r *Report) fillTotals(s State) {
	r.TotalKeywords = distinctCount(s.Keywords)
	r.TotalHashtags = distinctCount(s.Hashtags)
	r.TotalPosts = s.TotalPostsProcessed
	r.HarvestCount = len(s.History)
	r.LastHarvest = s.LastHarvest.Time
}

// newKeywordsShown caps the keywords listed in Summary.
const newKeywordsShown = 15

// Summary renders the report for people. It is not meant to be parsed.
func (r Report) Summary() string {
	var b strings.Builder
	if r.Outcome == OutcomeFailed {
		b.WriteString("Could not reach any source and no cached posts exist. Nothing was changed.\n")
		if r.FetchErr != nil {
			fmt.Fprintf(&b, "  Reason: %v\n", r.FetchErr)
		}
		b.WriteString("  The next scheduled run will try again.\n")
		return b.String()
	}

	switch {
	case r.Outcome == OutcomeDegraded:
		b.WriteString("All sources failed; harvested from an expired cache (degraded mode).\n")
	case r.Origin == fetcher.OriginCache:
		b.WriteString("Harvested from the fetch cache (still fresh, no network used).\n")
	default:
		b.WriteString("Harvested live posts.\n")
	}

	if len(r.NewKeywords) == 0 {
		b.WriteString("No new signal found.\n")
	} else {
		fmt.Fprintf(&b, "Added %d new keywords:\n", len(r.NewKeywords))
		shown := r.NewKeywords
		if len(shown) > newKeywordsShown {
			shown = shown[:newKeywordsShown]
		}
		for _, kw := range shown {
			fmt.Fprintf(&b, "  - %s\n", kw)
		}
		if rest := len(r.NewKeywords) - len(shown); rest > 0 {
			fmt.Fprintf(&b, "  ... and %d more\n", rest)
		}
	}

	last := "Never"
	if !r.LastHarvest.IsZero() {
		last = r.LastHarvest.Format("2006-01-02 15:04:05")
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "  Posts this run:        %4d\n", r.PostsProcessed)
	fmt.Fprintf(&b, "  Relevant keywords:     %4d (of %d candidates)\n", r.Filtered, r.RawTokens)
	fmt.Fprintf(&b, "  Total unique keywords: %4d\n", r.TotalKeywords)
	fmt.Fprintf(&b, "  Total hashtags:        %4d\n", r.TotalHashtags)
	fmt.Fprintf(&b, "  Total posts analyzed:  %4d\n", r.TotalPosts)
	fmt.Fprintf(&b, "  Harvest count:         %4d\n", r.HarvestCount)
	fmt.Fprintf(&b, "  Last harvest:          %s\n", last)
	if !r.MemoryMerged && r.MemorySkipReason != "" {
		fmt.Fprintf(&b, "  Memory not updated:    %s\n", r.MemorySkipReason)
	}
	if r.PersistErr != nil {
		fmt.Fprintf(&b, "\nWARNING: results were not durably saved: %v\n", r.PersistErr)
	}
	return b.String()
}
