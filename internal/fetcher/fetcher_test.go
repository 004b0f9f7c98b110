package fetcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kgninja/resonance/internal/jsonfile"
	"github.com/kgninja/resonance/internal/source"
)

// --- fakes ---

type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(d time.Duration) {
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
}

type response struct {
	items []source.RawItem
	err   error
}

// scriptedAdapter replays responses in order; the last one repeats.
type scriptedAdapter struct {
	id        string
	responses []response
	calls     int
}

func (a *scriptedAdapter) ID() string { return a.id }

func (a *scriptedAdapter) Fetch(_ context.Context, _ time.Duration) ([]source.RawItem, error) {
	i := a.calls
	if i >= len(a.responses) {
		i = len(a.responses) - 1
	}
	a.calls++
	r := a.responses[i]
	return r.items, r.err
}

func unreachable(id string) response {
	return response{err: &source.FetchError{Kind: source.Unreachable, SourceID: id, Err: errors.New("connection refused")}}
}

func rateLimited(id string) response {
	return response{err: &source.FetchError{Kind: source.RateLimited, SourceID: id, Status: 429, Err: errors.New("Too Many Requests")}}
}

func ok(titles ...string) response {
	items := make([]source.RawItem, len(titles))
	for i, t := range titles {
		items[i] = source.RawItem{Title: t, Body: t, SourceID: "test"}
	}
	return response{items: items}
}

var epoch = time.Date(2025, 10, 15, 12, 0, 0, 0, time.UTC)

func newTestFetcher(t *testing.T, clock *fakeClock, adapters ...source.Adapter) (*Fetcher, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.json")
	f := New(adapters, Config{
		CachePath:    path,
		TTL:          7 * 24 * time.Hour,
		BackoffBase:  time.Second,
		AdapterDelay: 2 * time.Second,
		Clock:        clock,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return f, path
}

func writeCache(t *testing.T, path string, fetchedAt time.Time, titles ...string) {
	t.Helper()
	items := make([]source.RawItem, len(titles))
	for i, title := range titles {
		items[i] = source.RawItem{Title: title}
	}
	if err := jsonfile.Write(path, CachedBatch{FetchedAt: jsonfile.At(fetchedAt), Items: items}); err != nil {
		t.Fatal(err)
	}
}

// --- tests ---

func TestFetch_FreshCacheSkipsNetwork(t *testing.T) {
	clock := &fakeClock{now: epoch}
	a := &scriptedAdapter{id: "a", responses: []response{ok("live")}}
	f, path := newTestFetcher(t, clock, a)
	writeCache(t, path, epoch.Add(-3*24*time.Hour), "cached")

	res, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if res.Origin != OriginCache {
		t.Errorf("Origin = %v, want cache", res.Origin)
	}
	if a.calls != 0 {
		t.Errorf("adapter called %d times, want 0", a.calls)
	}
	if len(res.Batch.Items) != 1 || res.Batch.Items[0].Title != "cached" {
		t.Errorf("unexpected batch %+v", res.Batch)
	}
}

func TestFetch_CacheExactlyAtTTLIsFresh(t *testing.T) {
	clock := &fakeClock{now: epoch}
	a := &scriptedAdapter{id: "a", responses: []response{ok("live")}}
	f, path := newTestFetcher(t, clock, a)
	writeCache(t, path, epoch.Add(-7*24*time.Hour), "cached")

	res, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if res.Origin != OriginCache || a.calls != 0 {
		t.Errorf("Origin = %v, calls = %d; want cache without network", res.Origin, a.calls)
	}
}

func TestFetch_FallsThroughUnreachableAdapter(t *testing.T) {
	clock := &fakeClock{now: epoch}
	a := &scriptedAdapter{id: "a", responses: []response{unreachable("a")}}
	b := &scriptedAdapter{id: "b", responses: []response{ok("one", "two")}}
	c := &scriptedAdapter{id: "c", responses: []response{ok("never")}}
	f, path := newTestFetcher(t, clock, a, b, c)

	res, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if res.Origin != OriginLive {
		t.Errorf("Origin = %v, want live", res.Origin)
	}
	if a.calls != 1 {
		t.Errorf("unreachable adapter called %d times, want exactly 1", a.calls)
	}
	if c.calls != 0 {
		t.Errorf("adapter after success called %d times", c.calls)
	}
	if len(clock.sleeps) != 1 || clock.sleeps[0] != 2*time.Second {
		t.Errorf("sleeps = %v, want one inter-adapter delay", clock.sleeps)
	}
	if len(res.Attempts) != 2 || res.Attempts[0].Outcome != OutcomeUnreachable || res.Attempts[1].Outcome != OutcomeOK {
		t.Errorf("attempts = %+v", res.Attempts)
	}

	var saved CachedBatch
	if _, err := jsonfile.Read(path, &saved); err != nil {
		t.Fatalf("reading cache: %v", err)
	}
	if len(saved.Items) != 2 || !saved.FetchedAt.Equal(res.Batch.FetchedAt.Time) {
		t.Errorf("cache not overwritten with live batch: %+v", saved)
	}
}

func TestFetch_RateLimitBacksOffOnSameAdapter(t *testing.T) {
	clock := &fakeClock{now: epoch}
	a := &scriptedAdapter{id: "a", responses: []response{rateLimited("a"), rateLimited("a"), ok("finally")}}
	b := &scriptedAdapter{id: "b", responses: []response{ok("other")}}
	f, _ := newTestFetcher(t, clock, a, b)

	res, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if a.calls != 3 || b.calls != 0 {
		t.Errorf("calls a=%d b=%d, want 3 and 0", a.calls, b.calls)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(clock.sleeps) != len(want) {
		t.Fatalf("sleeps = %v, want %v", clock.sleeps, want)
	}
	for i := range want {
		if clock.sleeps[i] != want[i] {
			t.Errorf("sleep[%d] = %v, want %v", i, clock.sleeps[i], want[i])
		}
	}
	if res.Batch.Items[0].Title != "finally" {
		t.Errorf("unexpected batch %+v", res.Batch)
	}
	if res.Attempts[2].Number != 3 {
		t.Errorf("third attempt Number = %d", res.Attempts[2].Number)
	}
}

func TestFetch_RateLimitRetriesCappedThenNextAdapter(t *testing.T) {
	clock := &fakeClock{now: epoch}
	a := &scriptedAdapter{id: "a", responses: []response{rateLimited("a")}}
	b := &scriptedAdapter{id: "b", responses: []response{ok("b-item")}}
	f, _ := newTestFetcher(t, clock, a, b)

	res, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if a.calls != 4 {
		t.Errorf("rate-limited adapter called %d times, want 1 + 3 retries", a.calls)
	}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 2 * time.Second}
	if len(clock.sleeps) != len(want) {
		t.Fatalf("sleeps = %v, want %v", clock.sleeps, want)
	}
	for i := range want {
		if clock.sleeps[i] != want[i] {
			t.Errorf("sleep[%d] = %v, want %v", i, clock.sleeps[i], want[i])
		}
	}
	if res.Batch.Items[0].Title != "b-item" {
		t.Errorf("unexpected batch %+v", res.Batch)
	}
}

func TestFetch_EmptyAdapterMovesOn(t *testing.T) {
	clock := &fakeClock{now: epoch}
	a := &scriptedAdapter{id: "a", responses: []response{{items: []source.RawItem{}}}}
	b := &scriptedAdapter{id: "b", responses: []response{ok("x")}}
	f, _ := newTestFetcher(t, clock, a, b)

	res, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if a.calls != 1 || res.Attempts[0].Outcome != OutcomeEmpty {
		t.Errorf("calls=%d attempts=%+v", a.calls, res.Attempts)
	}
}

func TestFetch_StaleCacheFallback(t *testing.T) {
	clock := &fakeClock{now: epoch}
	a := &scriptedAdapter{id: "a", responses: []response{unreachable("a")}}
	b := &scriptedAdapter{id: "b", responses: []response{unreachable("b")}}
	f, path := newTestFetcher(t, clock, a, b)
	staleAt := epoch.Add(-10 * 24 * time.Hour)
	writeCache(t, path, staleAt, "old-1", "old-2")

	res, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("expected degraded result, got error %v", err)
	}
	if !res.Degraded() || res.Origin != OriginStaleCache {
		t.Errorf("Origin = %v, want stale cache", res.Origin)
	}
	if len(res.Batch.Items) != 2 {
		t.Errorf("got %d items, want 2", len(res.Batch.Items))
	}
	if !res.Batch.FetchedAt.Equal(staleAt) {
		t.Errorf("FetchedAt = %v, want original %v", res.Batch.FetchedAt, staleAt)
	}

	var onDisk CachedBatch
	jsonfile.Read(path, &onDisk)
	if !onDisk.FetchedAt.Equal(staleAt) {
		t.Error("stale fallback must not rewrite the cache")
	}
}

func TestFetch_NoCacheNoSourcesIsHardFailure(t *testing.T) {
	clock := &fakeClock{now: epoch}
	a := &scriptedAdapter{id: "a", responses: []response{unreachable("a")}}
	b := &scriptedAdapter{id: "b", responses: []response{{items: nil}}}
	f, _ := newTestFetcher(t, clock, a, b)

	res, err := f.Fetch(context.Background())
	if !errors.Is(err, ErrAllSourcesExhausted) {
		t.Fatalf("err = %v, want ErrAllSourcesExhausted", err)
	}
	var ee *ExhaustedError
	if !errors.As(err, &ee) || len(ee.Attempts) != 2 {
		t.Errorf("expected ExhaustedError with 2 attempts, got %v", err)
	}
	if len(res.Batch.Items) != 0 {
		t.Errorf("expected empty batch, got %d items", len(res.Batch.Items))
	}
}

func TestFetch_NoAdapters(t *testing.T) {
	clock := &fakeClock{now: epoch}
	f, _ := newTestFetcher(t, clock)

	if _, err := f.Fetch(context.Background()); !errors.Is(err, ErrAllSourcesExhausted) {
		t.Fatalf("err = %v, want ErrAllSourcesExhausted", err)
	}
}

func TestFetch_MalformedCacheQuarantined(t *testing.T) {
	clock := &fakeClock{now: epoch}
	a := &scriptedAdapter{id: "a", responses: []response{unreachable("a")}}
	f, path := newTestFetcher(t, clock, a)
	if err := os.WriteFile(path, []byte(`{"timestamp": "2025-`), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := f.Fetch(context.Background())
	if !errors.Is(err, ErrAllSourcesExhausted) {
		t.Fatalf("err = %v, want hard failure (malformed cache is no cache)", err)
	}
	matches, _ := filepath.Glob(path + ".corrupt-*")
	if len(matches) != 1 {
		t.Errorf("expected quarantined cache file, found %v", matches)
	}
}

func TestFetch_NaiveTimestampCacheIsUsable(t *testing.T) {
	clock := &fakeClock{now: epoch}
	a := &scriptedAdapter{id: "a", responses: []response{unreachable("a")}}
	f, path := newTestFetcher(t, clock, a)
	body := `{
  "timestamp": "2025-10-01T09:00:00.123456",
  "posts": [
    {"title": "Hackathon recap", "content": "Kyoto", "date": "2025-10-01T08:59:58.000001",
     "source_instance": "https://nitter.net", "link": "https://nitter.net/x/status/1"}
  ]
}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	batch, ok := f.LoadCache()
	if !ok || len(batch.Items) != 1 {
		t.Fatalf("LoadCache = %+v, %v", batch, ok)
	}
	want := time.Date(2025, 10, 1, 9, 0, 0, 123456000, time.Local)
	if !batch.FetchedAt.Equal(want) {
		t.Errorf("FetchedAt = %v, want %v", batch.FetchedAt, want)
	}
	if batch.Items[0].PublishedAt.IsZero() || batch.Items[0].Title != "Hackathon recap" {
		t.Errorf("item = %+v", batch.Items[0])
	}

	res, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("expected stale fallback, got %v", err)
	}
	if res.Origin != OriginStaleCache || len(res.Batch.Items) != 1 {
		t.Errorf("result = %+v", res)
	}
	if m, _ := filepath.Glob(path + ".corrupt-*"); len(m) != 0 {
		t.Errorf("cache quarantined: %v", m)
	}
}

func TestRefresh_FetchedAtNeverGoesBackwards(t *testing.T) {
	clock := &fakeClock{now: epoch}
	a := &scriptedAdapter{id: "a", responses: []response{ok("new")}}
	f, path := newTestFetcher(t, clock, a)
	future := epoch.Add(time.Hour)
	writeCache(t, path, future, "from-the-future")

	res, err := f.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if res.Origin != OriginLive {
		t.Fatalf("Origin = %v, want live", res.Origin)
	}
	if res.Batch.FetchedAt.Before(future) {
		t.Errorf("FetchedAt = %v went backwards from %v", res.Batch.FetchedAt, future)
	}
}

func TestFetch_CacheWriteFailureStillReturnsLiveBatch(t *testing.T) {
	clock := &fakeClock{now: epoch}
	a := &scriptedAdapter{id: "a", responses: []response{ok("live")}}
	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	f := New([]source.Adapter{a}, Config{
		CachePath: filepath.Join(blocker, "cache.json"),
		Clock:     clock,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	res, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if res.CacheErr == nil {
		t.Error("expected CacheErr to report the failed write")
	}
	if len(res.Batch.Items) != 1 {
		t.Errorf("live batch lost: %+v", res.Batch)
	}
}
