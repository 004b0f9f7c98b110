package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kgninja/resonance/internal/fetcher"
	"github.com/kgninja/resonance/internal/harvest"
	"github.com/kgninja/resonance/internal/jsonfile"
	"github.com/kgninja/resonance/internal/memory"
	"github.com/kgninja/resonance/internal/storage"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

var epoch = time.Date(2025, 10, 15, 12, 0, 0, 0, time.UTC)

type fixture struct {
	deps   Deps
	ledger *storage.Store
}

// newFixture writes a state document, a memory document with one concept
// and a ledger with two runs.
func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	statePath := filepath.Join(dir, "state.json")
	memPath := filepath.Join(dir, "memory.json")

	st := harvest.State{
		Keywords:            []string{"Kaggle", "#aieo"},
		Hashtags:            []string{"aieo"},
		LastHarvest:         jsonfile.At(epoch),
		TotalPostsProcessed: 12,
		History: []harvest.Record{{
			Timestamp:        jsonfile.At(epoch),
			PostsProcessed:   12,
			NewKeywordsCount: 2,
			NewKeywords:      []string{"Kaggle", "#aieo"},
		}},
	}
	if err := harvest.SaveState(statePath, st); err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	ms, err := memory.Load(memory.Config{Path: memPath, Policy: memory.DefaultPolicy(), Clock: fixedClock{epoch}})
	if err != nil {
		t.Fatalf("memory.Load: %v", err)
	}
	if err := ms.UpsertConcept("kg_x_keyword_evolution", "dynamic_vocabulary", map[string]any{"harvest_count": 1}, 0.7); err != nil {
		t.Fatal(err)
	}
	if err := ms.Save(); err != nil {
		t.Fatalf("memory Save: %v", err)
	}

	ledger, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { ledger.Close() })

	ctx := context.Background()
	for i, outcome := range []string{"ok", "failed"} {
		at := epoch.Add(time.Duration(i) * time.Hour)
		id := []string{"run-1", "run-2"}[i]
		if _, err := ledger.SaveRun(ctx, storage.Run{ID: id, StartedAt: at, FinishedAt: at, Outcome: outcome}); err != nil {
			t.Fatal(err)
		}
	}
	err = ledger.SaveAttempts(ctx, "run-1", []storage.FetchAttempt{
		{Adapter: "https://nitter.example/kgninja/rss", Attempt: 1, Outcome: "ok", Items: 12, Duration: 150 * time.Millisecond, AttemptedAt: epoch},
	})
	if err != nil {
		t.Fatal(err)
	}

	return fixture{
		deps:   Deps{StatePath: statePath, MemoryPath: memPath, Ledger: ledger},
		ledger: ledger,
	}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) (string, string) {
	t.Helper()
	var body struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	return body.Error.Type, body.Error.Message
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	w := get(t, NewHandler(f.deps), "/health")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]any
	json.NewDecoder(w.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("status field = %v", body["status"])
	}
}

type stubScheduler struct {
	rep harvest.Report
	ok  bool
}

func (s stubScheduler) Last() (harvest.Report, int, bool) {
	if !s.ok {
		return harvest.Report{}, 0, false
	}
	return s.rep, 1, true
}

func TestHealth_IncludesLastScheduledRun(t *testing.T) {
	f := newFixture(t)
	f.deps.Scheduler = stubScheduler{ok: true, rep: harvest.Report{
		RunID:          "run-9",
		StartedAt:      epoch,
		Outcome:        harvest.OutcomeDegraded,
		Origin:         fetcher.OriginStaleCache,
		PostsProcessed: 4,
	}}
	w := get(t, NewHandler(f.deps), "/health")

	var body struct {
		Status  string     `json:"status"`
		LastRun reportView `json:"last_run"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.LastRun.RunID != "run-9" || body.LastRun.Outcome != "degraded" {
		t.Errorf("last_run = %+v", body.LastRun)
	}
	if body.LastRun.Origin != fetcher.OriginStaleCache.String() {
		t.Errorf("origin = %q", body.LastRun.Origin)
	}
	if body.LastRun.NewKeywords == nil {
		t.Error("new_keywords should encode as an empty list")
	}
}

func TestState(t *testing.T) {
	f := newFixture(t)
	w := get(t, NewHandler(f.deps), "/state")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	var st harvest.State
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.TotalPostsProcessed != 12 || len(st.Keywords) != 2 {
		t.Errorf("state = %+v", st)
	}
}

func TestState_Malformed(t *testing.T) {
	f := newFixture(t)
	os.WriteFile(f.deps.StatePath, []byte("{not json"), 0o644)

	w := get(t, NewHandler(f.deps), "/state")
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
	if typ, _ := decodeError(t, w); typ != "malformed_document" {
		t.Errorf("error type = %q", typ)
	}

	// Reading must not quarantine or rewrite the file.
	data, _ := os.ReadFile(f.deps.StatePath)
	if string(data) != "{not json" {
		t.Errorf("state file changed: %q", data)
	}
}

func TestMemory(t *testing.T) {
	f := newFixture(t)
	w := get(t, NewHandler(f.deps), "/memory/")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	var doc memory.Document
	if err := json.NewDecoder(w.Body).Decode(&doc); err != nil {
		t.Fatal(err)
	}
	if len(doc.Concepts) != 1 || doc.Concepts[0].ID != "kg_x_keyword_evolution" {
		t.Errorf("concepts = %+v", doc.Concepts)
	}
}

func TestMemory_UnsupportedVersion(t *testing.T) {
	f := newFixture(t)
	os.WriteFile(f.deps.MemoryPath, []byte(`{"version":"2.0"}`), 0o644)

	w := get(t, NewHandler(f.deps), "/memory/")
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
	if typ, _ := decodeError(t, w); typ != "unsupported_version" {
		t.Errorf("error type = %q", typ)
	}
}

func TestConcept(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.deps)

	w := get(t, h, "/memory/concepts/kg_x_keyword_evolution")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var c memory.Concept
	json.NewDecoder(w.Body).Decode(&c)
	if c.Category != "dynamic_vocabulary" || c.Confidence != 0.7 {
		t.Errorf("concept = %+v", c)
	}

	w = get(t, h, "/memory/concepts/nope")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if typ, msg := decodeError(t, w); typ != "not_found" || !strings.Contains(msg, "nope") {
		t.Errorf("error = %q %q", typ, msg)
	}
}

func TestMemoryRenderings(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.deps)

	tests := []struct {
		path        string
		contentType string
		heading     string
	}{
		{"/memory/context", "text/plain", "# AIEO Memory Context"},
		{"/memory/summary", "text/markdown", "# AIEO Memory State"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := get(t, h, tt.path)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d", w.Code)
			}
			if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, tt.contentType) {
				t.Errorf("Content-Type = %q", ct)
			}
			body, _ := io.ReadAll(w.Body)
			if !strings.HasPrefix(string(body), tt.heading) {
				t.Errorf("body starts %q", string(body)[:min(40, len(body))])
			}
		})
	}
}

func TestRuns(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.deps)

	w := get(t, h, "/runs")
	var runs []runView
	if err := json.NewDecoder(w.Body).Decode(&runs); err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].ID != "run-2" {
		t.Fatalf("runs = %+v", runs)
	}

	w = get(t, h, "/runs?limit=1")
	runs = nil
	json.NewDecoder(w.Body).Decode(&runs)
	if len(runs) != 1 {
		t.Errorf("limit=1 returned %d runs", len(runs))
	}
}

func TestAttempts(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.deps)

	w := get(t, h, "/runs/run-1/attempts")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var attempts []attemptView
	json.NewDecoder(w.Body).Decode(&attempts)
	if len(attempts) != 1 || attempts[0].Items != 12 || attempts[0].DurationMS != 150 {
		t.Errorf("attempts = %+v", attempts)
	}

	w = get(t, h, "/runs/missing/attempts")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestAdapters(t *testing.T) {
	f := newFixture(t)
	w := get(t, NewHandler(f.deps), "/adapters")
	var stats []adapterView
	json.NewDecoder(w.Body).Decode(&stats)
	if len(stats) != 1 || stats[0].Successes != 1 || stats[0].LastSuccess == "" {
		t.Errorf("stats = %+v", stats)
	}
}

func TestLedgerRoutesWithoutLedger(t *testing.T) {
	f := newFixture(t)
	f.deps.Ledger = nil
	h := NewHandler(f.deps)
	for _, path := range []string{"/runs", "/runs/x/attempts", "/adapters"} {
		if w := get(t, h, path); w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: status = %d, want 503", path, w.Code)
		}
	}
}

func TestParseIntParam(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", 20},
		{"limit=5", 5},
		{"limit=0", 20},
		{"limit=-3", 20},
		{"limit=abc", 20},
		{"limit=500", 100},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/runs?"+tt.query, nil)
		if got := parseIntParam(r, "limit", 20, 100); got != tt.want {
			t.Errorf("parseIntParam(%q) = %d, want %d", tt.query, got, tt.want)
		}
	}
}
