package gstrate

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

type stubSource struct {
	mu      sync.Mutex
	entries map[string]Entry
	err     error
	delay   time.Duration
	fetches atomic.Int64
}

func (s *stubSource) Fetch(ctx context.Context, code string) (Entry, error) {
	s.fetches.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return Entry{}, ctx.Err()
		}
	}
	if s.err != nil {
		return Entry{}, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[code]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return entry, nil
}

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		CachePath:    filepath.Join(t.TempDir(), "hsn_gst_map.json"),
		FetchTimeout: 2 * time.Second,
		PersistCache: false,
	}
}

func TestResolveLocalCacheHit(t *testing.T) {
	table := map[string]Entry{"94035000": {Rate: decimal.NewFromInt(18)}}
	r := NewResolver(testConfig(t), table, &stubSource{}, nil)

	res := r.Resolve(context.Background(), "94035000")
	if res.Source != SourceLocalCache {
		t.Fatalf("source = %s, want %s", res.Source, SourceLocalCache)
	}
	if !res.Rate.Equal(decimal.NewFromInt(18)) {
		t.Errorf("rate = %s, want 18", res.Rate)
	}
}

func TestResolveRemoteMissThenCached(t *testing.T) {
	src := &stubSource{entries: map[string]Entry{
		"73239920": {Rate: decimal.NewFromInt(12), Description: "Household articles"},
	}}
	r := NewResolver(testConfig(t), nil, src, nil)

	res := r.Resolve(context.Background(), "73239920")
	if res.Source != SourceRemote {
		t.Fatalf("source = %s, want %s", res.Source, SourceRemote)
	}

	// Second resolve must come from the cache without another fetch.
	res = r.Resolve(context.Background(), "73239920")
	if res.Source != SourceLocalCache {
		t.Fatalf("source = %s, want %s", res.Source, SourceLocalCache)
	}
	if got := src.fetches.Load(); got != 1 {
		t.Errorf("fetches = %d, want 1", got)
	}
}

func TestResolveUnknownOnRemoteFailure(t *testing.T) {
	src := &stubSource{err: errors.New("timeout")}
	r := NewResolver(testConfig(t), nil, src, nil)

	res := r.Resolve(context.Background(), "99999999")
	if res.Source != SourceUnknown {
		t.Fatalf("source = %s, want %s", res.Source, SourceUnknown)
	}
	if res.Known() {
		t.Error("Known() = true for unknown resolution")
	}
	if r.CacheSize() != 0 {
		t.Errorf("failed fetch must not write the cache, size = %d", r.CacheSize())
	}
}

func TestResolveNotFoundIsUnknown(t *testing.T) {
	src := &stubSource{entries: map[string]Entry{}}
	r := NewResolver(testConfig(t), nil, src, nil)

	res := r.Resolve(context.Background(), "00000000")
	if res.Source != SourceUnknown {
		t.Fatalf("source = %s, want %s", res.Source, SourceUnknown)
	}
}

func TestResolveCoalescesConcurrentFetches(t *testing.T) {
	src := &stubSource{
		entries: map[string]Entry{"94016100": {Rate: decimal.NewFromInt(18)}},
		delay:   50 * time.Millisecond,
	}
	r := NewResolver(testConfig(t), nil, src, nil)

	const callers = 16
	var wg sync.WaitGroup
	results := make([]Resolution, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.Resolve(context.Background(), "94016100")
		}(i)
	}
	wg.Wait()

	if got := src.fetches.Load(); got != 1 {
		t.Fatalf("fetches = %d, want exactly 1 for coalesced callers", got)
	}
	for i, res := range results {
		if res.Source != SourceRemote {
			t.Errorf("caller %d: source = %s, want %s", i, res.Source, SourceRemote)
		}
		if !res.Rate.Equal(decimal.NewFromInt(18)) {
			t.Errorf("caller %d: rate = %s, want 18", i, res.Rate)
		}
	}
}

func TestResolveCancelledCallerDoesNotCorruptCache(t *testing.T) {
	src := &stubSource{
		entries: map[string]Entry{"85044030": {Rate: decimal.NewFromInt(28)}},
		delay:   30 * time.Millisecond,
	}
	r := NewResolver(testConfig(t), nil, src, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := r.Resolve(ctx, "85044030")
	if res.Source != SourceUnknown {
		t.Fatalf("cancelled caller: source = %s, want %s", res.Source, SourceUnknown)
	}

	// The shared fetch keeps running; the entry lands whole or not at all.
	time.Sleep(100 * time.Millisecond)
	res = r.Resolve(context.Background(), "85044030")
	if !res.Known() {
		t.Fatal("entry missing after background fetch completed")
	}
	if !res.Rate.Equal(decimal.NewFromInt(28)) {
		t.Errorf("rate = %s, want 28", res.Rate)
	}
}

func TestLoadTableMergesFallback(t *testing.T) {
	table, err := LoadTable(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("LoadTable() error = %v", err)
	}
	entry, ok := table["94035000"]
	if !ok {
		t.Fatal("fallback entry 94035000 missing")
	}
	if !entry.Rate.Equal(decimal.NewFromInt(18)) {
		t.Errorf("fallback rate = %s, want 18", entry.Rate)
	}
}

func TestSaveAndReloadTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache", "hsn_gst_map.json")
	in := map[string]Entry{"48202000": {Rate: decimal.NewFromInt(12), Description: "Exercise books"}}
	if err := SaveTable(path, in); err != nil {
		t.Fatalf("SaveTable() error = %v", err)
	}
	out, err := LoadTable(path)
	if err != nil {
		t.Fatalf("LoadTable() error = %v", err)
	}
	entry, ok := out["48202000"]
	if !ok {
		t.Fatal("saved entry missing after reload")
	}
	if !entry.Rate.Equal(decimal.NewFromInt(12)) {
		t.Errorf("rate = %s, want 12", entry.Rate)
	}
}
