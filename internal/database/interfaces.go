package database

import (
	"context"

	"github.com/Teqed/FediFetcher-sub000/internal/fediverse"
)

// StatusCache is the URI cache surface the import pipeline depends on.
// Backed by PostgreSQL when configured, by process memory otherwise.
type StatusCache interface {
	// CacheStatus upserts a status keyed by its uri. An original row is
	// never downgraded by a non-original observation, and engagement
	// counters only ever grow.
	CacheStatus(ctx context.Context, status *fediverse.Status) error
	// GetFromCache returns the cached status for a url, or nil when the
	// url was never cached.
	GetFromCache(ctx context.Context, url string) (*fediverse.Status, error)
	// GetDictFromCache bulk-resolves urls; misses are absent from the
	// returned map.
	GetDictFromCache(ctx context.Context, urls []string) (map[string]*fediverse.Status, error)
}

// StatsSink buffers engagement counter updates for local statuses and
// flushes them in one transaction. Flushing is best-effort enrichment;
// implementations log failures instead of propagating them.
type StatsSink interface {
	// Queue records an update when at least one counter is positive.
	Queue(localID string, reblogs, favourites int)
	// Commit applies queued updates in queue order and clears the
	// buffer. Duplicate ids are applied in order, so the last write
	// wins.
	Commit(ctx context.Context) error
	// Pending returns the number of queued updates.
	Pending() int
}

var (
	_ StatusCache = (*StatusRepository)(nil)
	_ StatusCache = (*MemoryCache)(nil)
	_ StatsSink   = (*StatusStatsWriter)(nil)
	_ StatsSink   = NoopStatsWriter{}
)
