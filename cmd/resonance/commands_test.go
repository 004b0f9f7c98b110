package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/kgninja/resonance/internal/config"
	"github.com/kgninja/resonance/internal/harvest"
	"github.com/kgninja/resonance/internal/memory"
	"github.com/kgninja/resonance/internal/storage"
)

const timelineRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>timeline</title>
  <item>
    <title>Shipping #AIEO Beacon with Kaggle data</title>
    <link>https://feeds.example/kgninja/status/1</link>
    <description>Resonance keeps growing #AIEO</description>
  </item>
</channel>
</rss>`

// testConfig returns a config rooted in a temp dir with the given endpoints
// and no pauses between adapters.
func testConfig(t *testing.T, endpoints ...string) config.Config {
	t.Helper()
	p := memory.DefaultPolicy()
	return config.Config{
		Harvest: config.HarvestConfig{
			CacheTTL:     time.Hour,
			MaxRetries:   1,
			BackoffBase:  time.Millisecond,
			Lookback:     7 * 24 * time.Hour,
			HistoryLimit: 30,
			Timeout:      2 * time.Second,
		},
		Source: config.SourceConfig{Account: "kgninja", Endpoints: endpoints},
		Memory: config.MemoryConfig{
			EntityID:        "KGNINJA",
			EntityType:      "individual_creator",
			EntityOrigin:    "Kyoto, Japan",
			ExistingWeight:  p.ExistingWeight,
			NewWeight:       p.NewWeight,
			ConceptCap:      p.ConceptCap,
			MemoryBase:      p.MemoryBase,
			PerInteraction:  p.PerInteraction,
			MemoryCap:       p.MemoryCap,
			MaxInteractions: p.MaxInteractions,
		},
		Storage: config.StorageConfig{
			DataDir:      t.TempDir(),
			StateFile:    "state.json",
			MemoryFile:   "memory.json",
			CacheFile:    "cache.json",
			ErrorLogFile: "errors.log",
		},
		Server: config.ServerConfig{Port: 4100},
	}
}

func TestRunHarvest_LiveFeed(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if r.URL.Path != "/kgninja/rss" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(timelineRSS))
	}))
	defer srv.Close()

	cfg := testConfig(t, "rss:"+srv.URL+"/{account}/rss")

	// The harvest merges into an existing memory only.
	store, err := openMemory(cfg)
	if err != nil {
		t.Fatal(err)
	}
	store.RecordInteraction("manual_note", "setup", "")
	if err := store.Save(); err != nil {
		t.Fatal(err)
	}

	rep, err := runHarvest(context.Background(), cfg, false)
	if err != nil {
		t.Fatalf("runHarvest: %v", err)
	}
	if code := exitCode(harvestResult(rep, err)); code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	if !rep.MemoryMerged {
		t.Errorf("memory not merged: %s", rep.MemorySkipReason)
	}
	if hits != 1 {
		t.Errorf("feed requested %d times, want 1", hits)
	}

	st, err := harvest.ReadState(cfg.StatePath())
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"#AIEO", "Kaggle", "Resonance"} {
		if !slices.Contains(st.Keywords, want) {
			t.Errorf("state keywords %v missing %q", st.Keywords, want)
		}
	}

	doc, err := memory.Read(cfg.MemoryPath())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := doc.Concept(harvest.EvolutionConceptID); !ok {
		t.Error("keyword evolution concept not written")
	}

	ledger, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		t.Fatal(err)
	}
	defer ledger.Close()
	runs, err := ledger.RecentRuns(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].Outcome != "ok" {
		t.Errorf("ledger runs = %+v", runs)
	}

	// A second run inside the cache TTL does not touch the network.
	if _, err := runHarvest(context.Background(), cfg, false); err != nil {
		t.Fatal(err)
	}
	if hits != 1 {
		t.Errorf("feed requested %d times after cached run, want 1", hits)
	}
}

func TestRunHarvest_NoSourceNoCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	srv.Close() // nothing listens any more

	cfg := testConfig(t, "rss:"+srv.URL+"/rss")
	rep, err := runHarvest(context.Background(), cfg, false)
	if !errors.Is(err, harvest.ErrNoSource) {
		t.Fatalf("err = %v, want ErrNoSource", err)
	}
	if code := exitCode(harvestResult(rep, err)); code != exitNoSource {
		t.Errorf("exit code = %d, want %d", code, exitNoSource)
	}
	if _, statErr := os.Stat(cfg.StatePath()); !errors.Is(statErr, os.ErrNotExist) {
		t.Errorf("state file written on hard failure: %v", statErr)
	}
	data, err := os.ReadFile(cfg.ErrorLogPath())
	if err != nil {
		t.Fatalf("error log not written: %v", err)
	}
	if !strings.Contains(string(data), "Harvest failed") {
		t.Errorf("error log = %q", data)
	}
}

func TestRunHarvest_BadEndpoint(t *testing.T) {
	cfg := testConfig(t, "ftp://example.com/feed")
	_, err := runHarvest(context.Background(), cfg, false)
	if err == nil {
		t.Fatal("expected configuration error")
	}
	if code := exitCode(harvestResult(harvest.Report{}, err)); code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
}

func TestHarvestResultExitCodes(t *testing.T) {
	tests := []struct {
		name string
		rep  harvest.Report
		err  error
		want int
	}{
		{"success", harvest.Report{RunID: "r", Outcome: harvest.OutcomeOK}, nil, 0},
		{"degraded", harvest.Report{RunID: "r", Outcome: harvest.OutcomeDegraded}, nil, 0},
		{"no source", harvest.Report{RunID: "r", Outcome: harvest.OutcomeFailed}, fmt.Errorf("%w: exhausted", harvest.ErrNoSource), exitNoSource},
		{"not durable", harvest.Report{RunID: "r", PersistErr: errors.New("disk full")}, nil, exitNotDurable},
		{"other", harvest.Report{}, errors.New("state unreadable"), 1},
	}
	old, oldOut := noColor, statusOut
	defer func() { noColor, statusOut = old, oldOut }()
	noColor = true

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			statusOut = &out
			if got := exitCode(harvestResult(tt.rep, tt.err)); got != tt.want {
				t.Errorf("exit code = %d, want %d", got, tt.want)
			}
			if tt.rep.Outcome == harvest.OutcomeDegraded && !strings.Contains(out.String(), "degraded") {
				t.Errorf("degraded run not flagged: %q", out.String())
			}
		})
	}
}

func TestWriteRuns(t *testing.T) {
	var buf bytes.Buffer
	writeRuns(&buf, []storage.Run{
		{ID: "run-1", StartedAt: time.Now(), Outcome: "failed"},
		{ID: "run-2", StartedAt: time.Now(), Outcome: "ok", Origin: "live", PostsProcessed: 3, NewKeywords: 2},
	})
	out := buf.String()
	if !strings.HasPrefix(out, "STARTED") {
		t.Errorf("missing header:\n%s", out)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines:\n%s", len(lines), out)
	}
	if !strings.Contains(lines[1], " - ") {
		t.Errorf("missing origin should print as '-': %q", lines[1])
	}
}

func TestWriteAttempts_Empty(t *testing.T) {
	var buf bytes.Buffer
	writeAttempts(&buf, nil)
	if !strings.Contains(buf.String(), "fresh cache") {
		t.Errorf("got %q", buf.String())
	}
}

func TestAPIClient_Health(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	c := &apiClient{baseURL: srv.URL, httpClient: srv.Client()}

	resp, err := c.get(context.Background(), "/health")
	if err != nil {
		t.Fatal(err)
	}
	var body map[string]string
	if err := decodeJSON(resp, &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q", body["status"])
	}

	resp, err = c.get(context.Background(), "/nope")
	if err != nil {
		t.Fatal(err)
	}
	if err := decodeJSON(resp, &body); err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("decodeJSON error = %v, want 404", err)
	}
}

func TestOpenMemory_CreatesDataDir(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.DataDir = filepath.Join(cfg.Storage.DataDir, "nested", "dir")
	store, err := openMemory(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.RecordPulse(250, []string{"KGNINJA"}); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(); err != nil {
		t.Fatal(err)
	}
	doc, err := memory.Read(cfg.MemoryPath())
	if err != nil {
		t.Fatal(err)
	}
	c, ok := doc.Concept(memory.PresenceConceptID)
	if !ok || c.Attributes["growth_stage"] != memory.GrowthStage(250) {
		t.Errorf("presence concept = %+v", c)
	}
}

func TestColorize(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	if result := colorize(colorRed, "hello"); result != "hello" {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}

	noColor = false
	if result := colorize(colorRed, "hello"); !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}
