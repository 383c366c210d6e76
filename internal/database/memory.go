package database

import (
	"context"
	"errors"
	"sync"

	"github.com/Teqed/FediFetcher-sub000/internal/fediverse"
)

// MemoryCache keeps the URI cache in process memory for runs without a
// configured database. It applies the same merge policy as the
// PostgreSQL repository so the import pipeline behaves identically,
// minus persistence across runs.
type MemoryCache struct {
	mu    sync.Mutex
	byURI map[string]*fediverse.Status
	byURL map[string]string
}

// NewMemoryCache creates an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		byURI: make(map[string]*fediverse.Status),
		byURL: make(map[string]string),
	}
}

// CacheStatus merges one observation into the cache.
func (m *MemoryCache) CacheStatus(_ context.Context, status *fediverse.Status) error {
	if status == nil || status.URI == "" {
		return errors.New("status has no uri")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	incoming := *status
	if existing, ok := m.byURI[status.URI]; ok {
		if existing.IsOriginal() && !incoming.IsOriginal() {
			return nil
		}
		incoming.RepliesCount = max(incoming.RepliesCount, existing.RepliesCount)
		incoming.ReblogsCount = max(incoming.ReblogsCount, existing.ReblogsCount)
		incoming.FavouritesCount = max(incoming.FavouritesCount, existing.FavouritesCount)
		if incoming.ID == "" {
			incoming.ID = existing.ID
		}
	}

	m.byURI[status.URI] = &incoming
	if url := incoming.EffectiveURL(); url != "" {
		m.byURL[url] = status.URI
	}
	return nil
}

// GetFromCache looks a status up by url. A miss returns (nil, nil).
func (m *MemoryCache) GetFromCache(_ context.Context, url string) (*fediverse.Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	uri, ok := m.byURL[url]
	if !ok {
		return nil, nil
	}
	cached := *m.byURI[uri]
	return &cached, nil
}

// GetDictFromCache bulk-resolves urls; misses are absent from the map.
func (m *MemoryCache) GetDictFromCache(_ context.Context, urls []string) (map[string]*fediverse.Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make(map[string]*fediverse.Status, len(urls))
	for _, url := range urls {
		if uri, ok := m.byURL[url]; ok {
			cached := *m.byURI[uri]
			result[url] = &cached
		}
	}
	return result, nil
}

// Size returns the number of cached statuses.
func (m *MemoryCache) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byURI)
}
