// Package api exposes the harvest state, the concept memory and the run
// ledger read-only, over HTTP and over MCP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kgninja/resonance/internal/harvest"
	"github.com/kgninja/resonance/internal/jsonfile"
	"github.com/kgninja/resonance/internal/memory"
	"github.com/kgninja/resonance/internal/storage"
)

// RunLedger is the read side of the run ledger. Implemented by *storage.Store.
type RunLedger interface {
	RecentRuns(ctx context.Context, limit int) ([]storage.Run, error)
	AttemptsForRun(ctx context.Context, runID string) ([]storage.FetchAttempt, error)
	AdapterStats(ctx context.Context) ([]storage.AdapterStat, error)
}

// LastRun reports the scheduler's most recent run. Implemented by
// *schedule.Worker.
type LastRun interface {
	Last() (harvest.Report, int, bool)
}

// Deps holds what the handlers read. Documents are re-read from disk on
// every request so the API always reflects the latest run.
type Deps struct {
	StatePath  string
	MemoryPath string
	Ledger     RunLedger // optional
	Scheduler  LastRun   // optional
	Logger     *slog.Logger
}

// NewHandler returns the status API router.
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth(deps))
	r.Get("/state", handleState(deps))
	r.Route("/memory", func(r chi.Router) {
		r.Get("/", handleMemory(deps))
		r.Get("/concepts/{id}", handleConcept(deps))
		r.Get("/context", handleMemoryText(deps, memory.Document.PromptContext, "text/plain; charset=utf-8"))
		r.Get("/summary", handleMemoryText(deps, memory.Document.SummaryMarkdown, "text/markdown; charset=utf-8"))
	})
	r.Get("/runs", handleRuns(deps))
	r.Get("/runs/{id}/attempts", handleAttempts(deps))
	r.Get("/adapters", handleAdapters(deps))
	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{"status": "ok"}
		if deps.Scheduler != nil {
			if rep, runs, ok := deps.Scheduler.Last(); ok {
				v := newReportView(rep)
				resp["last_run"] = v
			} else {
				resp["scheduled_runs"] = runs
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleState(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := harvest.ReadState(deps.StatePath)
		if err != nil {
			documentError(w, deps.Logger, "harvest state", err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func handleMemory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := memory.Read(deps.MemoryPath)
		if err != nil {
			documentError(w, deps.Logger, "memory", err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	}
}

func handleConcept(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		doc, err := memory.Read(deps.MemoryPath)
		if err != nil {
			documentError(w, deps.Logger, "memory", err)
			return
		}
		c, ok := doc.Concept(id)
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "concept %q not found", id)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

func handleMemoryText(deps Deps, render func(memory.Document) string, contentType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := memory.Read(deps.MemoryPath)
		if err != nil {
			documentError(w, deps.Logger, "memory", err)
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.Write([]byte(render(doc)))
	}
}

func handleRuns(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Ledger == nil {
			httpError(w, http.StatusServiceUnavailable, "unavailable", "run ledger not configured")
			return
		}
		limit := parseIntParam(r, "limit", 20, 100)
		runs, err := deps.Ledger.RecentRuns(r.Context(), limit)
		if err != nil {
			deps.Logger.Error("listing runs", "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list runs: %v", err)
			return
		}
		views := make([]runView, len(runs))
		for i, run := range runs {
			views[i] = newRunView(run)
		}
		writeJSON(w, http.StatusOK, views)
	}
}

func handleAttempts(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Ledger == nil {
			httpError(w, http.StatusServiceUnavailable, "unavailable", "run ledger not configured")
			return
		}
		id := chi.URLParam(r, "id")
		attempts, err := deps.Ledger.AttemptsForRun(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "run %q not found", id)
			return
		}
		if err != nil {
			deps.Logger.Error("listing attempts", "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list attempts: %v", err)
			return
		}
		views := make([]attemptView, len(attempts))
		for i, a := range attempts {
			views[i] = newAttemptView(a)
		}
		writeJSON(w, http.StatusOK, views)
	}
}

func handleAdapters(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Ledger == nil {
			httpError(w, http.StatusServiceUnavailable, "unavailable", "run ledger not configured")
			return
		}
		stats, err := deps.Ledger.AdapterStats(r.Context())
		if err != nil {
			deps.Logger.Error("aggregating attempts", "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "failed to aggregate attempts: %v", err)
			return
		}
		views := make([]adapterView, len(stats))
		for i, s := range stats {
			views[i] = newAdapterView(s)
		}
		writeJSON(w, http.StatusOK, views)
	}
}

// documentError maps document load failures to HTTP errors.
func documentError(w http.ResponseWriter, logger *slog.Logger, what string, err error) {
	logger.Warn("document unavailable", "document", what, "error", err)
	switch {
	case jsonfile.IsMalformed(err):
		httpError(w, http.StatusConflict, "malformed_document", "%s document is malformed: %v", what, err)
	case errors.Is(err, memory.ErrUnsupportedVersion):
		httpError(w, http.StatusConflict, "unsupported_version", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "failed to read %s: %v", what, err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func formatOptional(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
