package api

import (
	"github.com/kgninja/resonance/internal/harvest"
	"github.com/kgninja/resonance/internal/storage"
)

type runView struct {
	ID             string `json:"id"`
	StartedAt      string `json:"started_at"`
	FinishedAt     string `json:"finished_at"`
	Outcome        string `json:"outcome"`
	Origin         string `json:"origin,omitempty"`
	PostsProcessed int    `json:"posts_processed"`
	NewKeywords    int    `json:"new_keywords"`
	Error          string `json:"error,omitempty"`
}

func newRunView(r storage.Run) runView {
	return runView{
		ID:             r.ID,
		StartedAt:      formatOptional(r.StartedAt),
		FinishedAt:     formatOptional(r.FinishedAt),
		Outcome:        r.Outcome,
		Origin:         r.Origin,
		PostsProcessed: r.PostsProcessed,
		NewKeywords:    r.NewKeywords,
		Error:          r.Error,
	}
}

type attemptView struct {
	Adapter     string `json:"adapter"`
	Attempt     int    `json:"attempt"`
	Outcome     string `json:"outcome"`
	Items       int    `json:"items"`
	Error       string `json:"error,omitempty"`
	DurationMS  int64  `json:"duration_ms"`
	AttemptedAt string `json:"attempted_at"`
}

func newAttemptView(a storage.FetchAttempt) attemptView {
	return attemptView{
		Adapter:     a.Adapter,
		Attempt:     a.Attempt,
		Outcome:     a.Outcome,
		Items:       a.Items,
		Error:       a.Error,
		DurationMS:  a.Duration.Milliseconds(),
		AttemptedAt: formatOptional(a.AttemptedAt),
	}
}

type adapterView struct {
	Adapter     string `json:"adapter"`
	Attempts    int    `json:"attempts"`
	Successes   int    `json:"successes"`
	Empty       int    `json:"empty"`
	RateLimited int    `json:"rate_limited"`
	Unreachable int    `json:"unreachable"`
	LastSuccess string `json:"last_success,omitempty"`
}

func newAdapterView(s storage.AdapterStat) adapterView {
	return adapterView{
		Adapter:     s.Adapter,
		Attempts:    s.Attempts,
		Successes:   s.Successes,
		Empty:       s.Empty,
		RateLimited: s.RateLimited,
		Unreachable: s.Unreachable,
		LastSuccess: formatOptional(s.LastSuccess),
	}
}

type reportView struct {
	RunID          string   `json:"run_id"`
	StartedAt      string   `json:"started_at"`
	Outcome        string   `json:"outcome"`
	Origin         string   `json:"origin,omitempty"`
	PostsProcessed int      `json:"posts_processed"`
	NewKeywords    []string `json:"new_keywords"`
	MemoryMerged   bool     `json:"memory_merged"`
	Error          string   `json:"error,omitempty"`
}

func newReportView(r harvest.Report) reportView {
	v := reportView{
		RunID:          r.RunID,
		StartedAt:      formatOptional(r.StartedAt),
		Outcome:        string(r.Outcome),
		PostsProcessed: r.PostsProcessed,
		NewKeywords:    r.NewKeywords,
		MemoryMerged:   r.MemoryMerged,
	}
	if v.NewKeywords == nil {
		v.NewKeywords = []string{}
	}
	if r.Origin != 0 {
		v.Origin = r.Origin.String()
	}
	switch {
	case r.FetchErr != nil:
		v.Error = r.FetchErr.Error()
	case r.PersistErr != nil:
		v.Error = r.PersistErr.Error()
	}
	return v
}
