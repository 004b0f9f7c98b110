// Package harvest runs one end-to-end harvest: fetch, extract, filter, merge
// into the harvest state and the concept memory, persist, summarise.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kgninja/resonance/internal/extract"
	"github.com/kgninja/resonance/internal/fetcher"
	"github.com/kgninja/resonance/internal/jsonfile"
	"github.com/kgninja/resonance/internal/memory"
	"github.com/kgninja/resonance/internal/storage"
)

// ErrNoSource means the run could not reach any source and had no cache to
// fall back on. Nothing was written.
var ErrNoSource = errors.New("could not reach any source")

// Keyword evolution concept.
const (
	EvolutionConceptID = "kg_x_keyword_evolution"
	EvolutionCategory  = "dynamic_vocabulary"
	DefaultSourceLabel = "X (Twitter) timeline via RSS"

	conceptKeywords = 50
	conceptHashtags = 20
)

// Fetcher produces the batch to harvest. Implemented by *fetcher.Fetcher.
type Fetcher interface {
	Fetch(ctx context.Context) (fetcher.Result, error)
	Refresh(ctx context.Context) (fetcher.Result, error)
}

// Ledger records runs and their fetch attempts. Implemented by *storage.Store.
type Ledger interface {
	SaveRun(ctx context.Context, r storage.Run) (string, error)
	SaveAttempts(ctx context.Context, runID string, attempts []storage.FetchAttempt) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Config configures an Orchestrator.
type Config struct {
	StatePath string
	// Memory locates the concept memory. An empty Memory.Path disables the
	// merge step.
	Memory       memory.Config
	ErrorLog     ErrorLog
	Exclude      []string // Default: extract.DefaultExclude.
	Priority     []string // Default: extract.DefaultPriority.
	HistoryLimit int      // Default: MaxHistory.
	SourceLabel  string   // Default: DefaultSourceLabel.
	// Refresh skips the fresh-cache shortcut of the fetcher.
	Refresh bool
	Ledger  Ledger // Optional.
	// LedgerRetention prunes ledger runs older than this after each run.
	// Zero keeps everything.
	LedgerRetention time.Duration
	Clock   Clock
	Logger  *slog.Logger
}

func (c *Config) defaults() {
	if c.Exclude == nil {
		c.Exclude = extract.DefaultExclude
	}
	if c.Priority == nil {
		c.Priority = extract.DefaultPriority
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = MaxHistory
	}
	if c.SourceLabel == "" {
		c.SourceLabel = DefaultSourceLabel
	}
	if c.Clock == nil {
		c.Clock = realClock{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Orchestrator ties the fetcher, extractor and stores into one run.
// Only one run may be in progress at a time.
type Orchestrator struct {
	fetcher  Fetcher
	cfg      Config
	exclude  extract.Vocabulary
	priority extract.Vocabulary
	logger   *slog.Logger
}

// New creates an Orchestrator.
func New(f Fetcher, cfg Config) *Orchestrator {
	cfg.defaults()
	return &Orchestrator{
		fetcher:  f,
		cfg:      cfg,
		exclude:  extract.NewVocabulary(cfg.Exclude...),
		priority: extract.NewVocabulary(cfg.Priority...),
		logger:   cfg.Logger,
	}
}

// Run performs one harvest. The returned error is ErrNoSource (wrapped) on a
// hard fetch failure, or a load error that prevented the merge.
// Persistence failures do not abort the run; they are reported in
// Report.PersistErr.
func (o *Orchestrator) Run(ctx context.Context) (Report, error) {
	now := o.cfg.Clock.Now()
	rep := Report{RunID: uuid.NewString(), StartedAt: now}

	var (
		res fetcher.Result
		err error
	)
	if o.cfg.Refresh {
		res, err = o.fetcher.Refresh(ctx)
	} else {
		res, err = o.fetcher.Fetch(ctx)
	}
	if err != nil {
		rep.Outcome = OutcomeFailed
		rep.FetchErr = err
		rep.FinishedAt = o.cfg.Clock.Now()
		o.cfg.ErrorLog.Append(rep.FinishedAt, fmt.Sprintf("Harvest failed: %v", err))
		o.logger.Error("harvest failed", "run_id", rep.RunID, "error", err)
		o.record(ctx, &rep, res.Attempts)
		return rep, fmt.Errorf("%w: %w", ErrNoSource, err)
	}

	// Documents are loaded only once there is something to merge, so a hard
	// failure leaves them untouched on disk.
	state, err := o.loadState()
	if err != nil {
		return rep, err
	}
	mem := o.loadMemory(&rep)

	rep.Origin = res.Origin
	rep.Outcome = OutcomeOK
	if res.Degraded() {
		rep.Outcome = OutcomeDegraded
		o.cfg.ErrorLog.Append(o.cfg.Clock.Now(), fmt.Sprintf("All sources failed, using expired cache from %s", res.Batch.FetchedAt.Format(time.RFC3339)))
	}
	if res.CacheErr != nil {
		o.cfg.ErrorLog.Append(o.cfg.Clock.Now(), fmt.Sprintf("Failed to save cache: %v", res.CacheErr))
	}

	items := res.Batch.Items
	tokens := extract.Extract(items)
	filtered := extract.Filter(tokens, state.Vocabulary(), o.exclude, o.priority)
	rep.PostsProcessed = len(items)
	rep.RawTokens = len(tokens)
	rep.Filtered = len(filtered)
	o.logger.Info("extracted keywords", "posts", len(items), "tokens", len(tokens), "relevant", len(filtered))

	now = o.cfg.Clock.Now()
	rep.NewKeywords = state.AddKeywords(filtered)
	state.AddHashtags(hashtagsIn(filtered))
	state.LastHarvest = jsonfile.At(now)
	state.TotalPostsProcessed += len(items)
	state.AppendRecord(Record{
		Timestamp:        jsonfile.At(now),
		PostsProcessed:   len(items),
		NewKeywordsCount: len(rep.NewKeywords),
		NewKeywords:      rep.NewKeywords,
	}, o.cfg.HistoryLimit)

	if mem != nil {
		if err := o.mergeConcept(mem, &state); err != nil {
			o.logger.Warn("keyword concept not merged", "error", err)
			mem = nil
		} else {
			rep.MemoryMerged = true
		}
	}

	var persistErrs []error
	if err := SaveState(o.cfg.StatePath, state); err != nil {
		persistErrs = append(persistErrs, err)
	}
	if mem != nil {
		if err := mem.Save(); err != nil {
			persistErrs = append(persistErrs, err)
		}
	}
	if len(persistErrs) > 0 {
		rep.PersistErr = errors.Join(persistErrs...)
		o.cfg.ErrorLog.Append(o.cfg.Clock.Now(), fmt.Sprintf("Failed to persist harvest: %v", rep.PersistErr))
		o.logger.Error("harvest not durably saved", "run_id", rep.RunID, "error", rep.PersistErr)
	}

	rep.fillTotals(state)
	rep.FinishedAt = o.cfg.Clock.Now()
	o.record(ctx, &rep, res.Attempts)
	o.logger.Info("harvest complete",
		"run_id", rep.RunID,
		"origin", rep.Origin,
		"posts", rep.PostsProcessed,
		"new_keywords", len(rep.NewKeywords))
	return rep, nil
}

func (o *Orchestrator) loadState() (State, error) {
	state, err := ReadState(o.cfg.StatePath)
	if err == nil {
		return state, nil
	}
	if !jsonfile.IsMalformed(err) {
		return State{}, fmt.Errorf("loading harvest state: %w", err)
	}
	now := o.cfg.Clock.Now()
	o.cfg.ErrorLog.Append(now, fmt.Sprintf("Failed to load harvested keywords: %v", err))
	o.logger.Warn("harvest state malformed, starting fresh", "path", o.cfg.StatePath, "error", err)
	if dst, qerr := jsonfile.Quarantine(o.cfg.StatePath, now); qerr == nil {
		o.logger.Warn("quarantined harvest state", "moved_to", dst)
	}
	return State{}, nil
}

// loadMemory returns nil when the merge step has to be skipped.
func (o *Orchestrator) loadMemory(rep *Report) *memory.Store {
	mc := o.cfg.Memory
	if mc.Path == "" {
		rep.MemorySkipReason = "memory disabled"
		return nil
	}
	if mc.Clock == nil {
		mc.Clock = o.cfg.Clock
	}
	if mc.Logger == nil {
		mc.Logger = o.logger
	}
	mem, err := memory.Load(mc)
	switch {
	case err != nil:
		rep.MemorySkipReason = err.Error()
		o.cfg.ErrorLog.Append(o.cfg.Clock.Now(), fmt.Sprintf("Failed to load memory: %v", err))
		o.logger.Warn("skipping memory merge", "error", err)
		return nil
	case mem.IsNew():
		rep.MemorySkipReason = "memory document not found"
		o.logger.Warn("memory document not found, skipping memory merge", "path", mc.Path)
		return nil
	case mem.Recovered():
		o.cfg.ErrorLog.Append(o.cfg.Clock.Now(), "Memory document was malformed and has been reinitialised")
	}
	return mem
}

func (o *Orchestrator) mergeConcept(mem *memory.Store, state *State) error {
	n := len(state.History)
	confidence := min(0.95, 0.7+float64(n)*0.01)
	return mem.UpsertConcept(EvolutionConceptID, EvolutionCategory, map[string]any{
		"harvested_keywords":    lastDistinct(state.Keywords, conceptKeywords),
		"total_unique_keywords": distinctCount(state.Keywords),
		"recent_hashtags":       lastDistinct(state.Hashtags, conceptHashtags),
		"last_harvest":          state.LastHarvest.Format(time.RFC3339),
		"total_posts_analyzed":  state.TotalPostsProcessed,
		"harvest_count":         n,
		"source":                o.cfg.SourceLabel,
	}, confidence)
}

// record writes the run to the ledger. Ledger failures are logged only.
func (o *Orchestrator) record(ctx context.Context, rep *Report, attempts []fetcher.Attempt) {
	if o.cfg.Ledger == nil {
		return
	}
	run := storage.Run{
		ID:             rep.RunID,
		StartedAt:      rep.StartedAt,
		FinishedAt:     rep.FinishedAt,
		Outcome:        string(rep.Outcome),
		PostsProcessed: rep.PostsProcessed,
		NewKeywords:    len(rep.NewKeywords),
	}
	if rep.Origin != 0 {
		run.Origin = rep.Origin.String()
	}
	if rep.FetchErr != nil {
		run.Error = rep.FetchErr.Error()
	} else if rep.PersistErr != nil {
		run.Error = rep.PersistErr.Error()
	}
	if _, err := o.cfg.Ledger.SaveRun(ctx, run); err != nil {
		o.logger.Warn("run not recorded in ledger", "run_id", rep.RunID, "error", err)
		return
	}

	rows := make([]storage.FetchAttempt, len(attempts))
	for i, a := range attempts {
		rows[i] = storage.FetchAttempt{
			Adapter:     a.Adapter,
			Attempt:     a.Number,
			Outcome:     a.Outcome,
			Items:       a.Items,
			Error:       a.Err,
			Duration:    a.Duration,
			AttemptedAt: a.At,
		}
	}
	if err := o.cfg.Ledger.SaveAttempts(ctx, rep.RunID, rows); err != nil {
		o.logger.Warn("fetch attempts not recorded in ledger", "run_id", rep.RunID, "error", err)
	}

	if p, ok := o.cfg.Ledger.(pruner); ok && o.cfg.LedgerRetention > 0 {
		n, err := p.PruneRuns(ctx, rep.StartedAt.Add(-o.cfg.LedgerRetention))
		if err != nil {
			o.logger.Warn("ledger not pruned", "error", err)
		} else if n > 0 {
			o.logger.Debug("pruned ledger", "runs", n)
		}
	}
}

type pruner interface {
	PruneRuns(ctx context.Context, cutoff time.Time) (int64, error)
}

func hashtagsIn(words []string) []string {
	var tags []string
	for _, w := range words {
		if len(w) > 1 && w[0] == '#' {
			tags = append(tags, w)
		}
	}
	return tags
}
