// Package schedule runs the harvest periodically.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kgninja/resonance/internal/harvest"
)

// DefaultInterval is used when NewWorker is given a non-positive interval.
const DefaultInterval = 6 * time.Hour

// Runner performs one harvest. Implemented by *harvest.Orchestrator.
type Runner interface {
	Run(ctx context.Context) (harvest.Report, error)
}

// Worker runs a Runner immediately and then every interval.
type Worker struct {
	runner   Runner
	interval time.Duration
	logger   *slog.Logger
	after    func(time.Duration) <-chan time.Time

	mu   sync.Mutex
	last *harvest.Report
	runs int
}

// NewWorker creates a Worker. If interval is <= 0, it defaults to
// DefaultInterval.
func NewWorker(runner Runner, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Worker{
		runner:   runner,
		interval: interval,
		logger:   slog.Default(),
		after:    time.After,
	}
}

// WithLogger sets the logger and returns w.
func (w *Worker) WithLogger(l *slog.Logger) *Worker {
	w.logger = l
	return w
}

// Interval returns the pause between runs.
func (w *Worker) Interval() time.Duration { return w.interval }

// Run harvests until ctx is cancelled. A failing run never stops the loop.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := w.RunOnce(ctx); err != nil {
			w.logger.Error("scheduled harvest failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-w.after(w.interval):
		}
	}
}

// RunOnce performs a single harvest and records its report. A panic inside
// the runner is recovered and returned as an error.
func (w *Worker) RunOnce(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("harvest panicked: %v", r)
		}
	}()

	rep, err := w.runner.Run(ctx)

	w.mu.Lock()
	w.runs++
	if rep.RunID != "" {
		w.last = &rep
	}
	w.mu.Unlock()

	switch {
	case errors.Is(err, harvest.ErrNoSource):
		w.logger.Warn("no source reachable, will retry next interval", "next_in", w.interval)
		return nil
	case err != nil:
		return err
	case rep.PersistErr != nil:
		return fmt.Errorf("harvest %s not durably saved: %w", rep.RunID, rep.PersistErr)
	}
	w.logger.Info("scheduled harvest done",
		"run_id", rep.RunID,
		"outcome", rep.Outcome,
		"new_keywords", len(rep.NewKeywords),
		"next_in", w.interval)
	return nil
}

// Last returns the report of the most recent run and how many runs were
// attempted. ok is false before the first run produced a report.
func (w *Worker) Last() (rep harvest.Report, runs int, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.last == nil {
		return harvest.Report{}, w.runs, false
	}
	return *w.last, w.runs, true
}
