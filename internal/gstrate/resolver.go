package gstrate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Resolver maps HSN/SAC codes to GST rates: local cache first, remote
// source on miss. Fetches for the same code are coalesced so at most
// one remote call per code is in flight; lookups for other codes never
// block on it.
type Resolver struct {
	cfg    Config
	remote RemoteSource
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]Entry

	group singleflight.Group
}

// NewResolver builds a resolver over a pre-loaded table. remote may be
// nil, in which case cache misses resolve to SourceUnknown.
func NewResolver(cfg Config, table map[string]Entry, remote RemoteSource, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if table == nil {
		table = map[string]Entry{}
	}
	return &Resolver{
		cfg:    cfg,
		remote: remote,
		logger: logger,
		cache:  table,
	}
}

// Resolve returns the applicable GST rate for a product code. It never
// returns an error: an unresolvable code yields Source == SourceUnknown
// and the caller turns that into a reconciliation finding.
func (r *Resolver) Resolve(ctx context.Context, code string) Resolution {
	now := time.Now().UTC()
	if code == "" {
		return Resolution{Code: code, Source: SourceUnknown, ResolvedAt: now}
	}

	r.mu.RLock()
	entry, ok := r.cache[code]
	r.mu.RUnlock()
	if ok {
		return Resolution{
			Code:        code,
			Rate:        entry.Rate,
			Description: entry.Description,
			Source:      SourceLocalCache,
			ResolvedAt:  now,
		}
	}

	if r.remote == nil {
		return Resolution{Code: code, Source: SourceUnknown, ResolvedAt: now}
	}

	// DoChan rather than Do: a caller whose context is cancelled stops
	// waiting, while the shared fetch keeps running on its own timeout
	// and either completes the cache write or leaves no entry at all.
	ch := r.group.DoChan(code, func() (any, error) {
		return r.fetchAndStore(code)
	})
	select {
	case <-ctx.Done():
		return Resolution{Code: code, Source: SourceUnknown, ResolvedAt: now}
	case res := <-ch:
		if res.Err != nil {
			r.logger.Warn("rate fetch failed", "code", code, "error", res.Err)
			return Resolution{Code: code, Source: SourceUnknown, ResolvedAt: now}
		}
		fetched := res.Val.(Entry)
		return Resolution{
			Code:        code,
			Rate:        fetched.Rate,
			Description: fetched.Description,
			Source:      SourceRemote,
			ResolvedAt:  now,
		}
	}
}

func (r *Resolver) fetchAndStore(code string) (Entry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.FetchTimeout)
	defer cancel()

	entry, err := r.remote.Fetch(ctx, code)
	if err != nil {
		return Entry{}, err
	}

	r.mu.Lock()
	r.cache[code] = entry
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	if r.cfg.PersistCache {
		if err := SaveTable(r.cfg.CachePath, snapshot); err != nil {
			r.logger.Warn("rate cache persist failed", "path", r.cfg.CachePath, "error", err)
		}
	}
	return entry, nil
}

func (r *Resolver) snapshotLocked() map[string]Entry {
	out := make(map[string]Entry, len(r.cache))
	for code, e := range r.cache {
		out[code] = e
	}
	return out
}

// CacheSize reports the number of cached codes.
func (r *Resolver) CacheSize() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}
