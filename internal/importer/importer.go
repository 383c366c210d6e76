// Package importer resolves remote post URLs on the home server so the
// posts become locally addressable, records them in the URI cache, and
// queues engagement counters for status_stats.
package importer

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Teqed/FediFetcher-sub000/internal/database"
	"github.com/Teqed/FediFetcher-sub000/internal/fediverse"
	"github.com/Teqed/FediFetcher-sub000/internal/logger"
)

// importConcurrency matches the home client's bulk gate, so the
// errgroup never queues more work than the client will run.
const importConcurrency = 10

// Result counts the outcomes of one import batch.
type Result struct {
	Added  int
	Seen   int
	Failed int
}

// Merge adds other's counters to r.
func (r *Result) Merge(other Result) {
	r.Added += other.Added
	r.Seen += other.Seen
	r.Failed += other.Failed
}

// Importer drives the fan-out import of URL batches. A URL is handled
// at most once per run: a failed import is not retried and a completed
// one is reported as already seen.
type Importer struct {
	home  *fediverse.Instance
	cache database.StatusCache
	stats database.StatsSink
	log   logger.Interface

	mu   sync.Mutex
	done map[string]struct{}
}

// New creates an importer writing through cache and stats.
func New(home *fediverse.Instance, cache database.StatusCache, stats database.StatsSink, log logger.Interface) *Importer {
	return &Importer{
		home:  home,
		cache: cache,
		stats: stats,
		log:   log.WithComponent("importer"),
		done:  make(map[string]struct{}),
	}
}

// AddContextURLs imports every URL not yet known, ten at a time.
// Individual failures are logged and counted, never fatal to the batch.
func (im *Importer) AddContextURLs(ctx context.Context, urls []string) Result {
	return im.importURLs(ctx, urls, nil)
}

// ImportStatuses records origin observations of the given statuses and
// imports their URLs. Engagement counters reported by the origin carry
// over to the local ids.
func (im *Importer) ImportStatuses(ctx context.Context, statuses []fediverse.Status) Result {
	origin := make(map[string]*fediverse.Status, len(statuses))
	urls := make([]string, 0, len(statuses))
	for i := range statuses {
		status := &statuses[i]
		url := status.EffectiveURL()
		if url == "" {
			continue
		}
		if _, dup := origin[url]; dup {
			continue
		}
		origin[url] = status
		urls = append(urls, url)
	}
	return im.importURLs(ctx, urls, origin)
}

// Commit flushes queued engagement counters.
func (im *Importer) Commit(ctx context.Context) error {
	return im.stats.Commit(ctx)
}

func (im *Importer) importURLs(ctx context.Context, urls []string, origin map[string]*fediverse.Status) Result {
	pending := im.claim(urls)
	if len(pending) == 0 {
		return Result{Seen: len(urls)}
	}
	var result Result
	result.Seen = len(urls) - len(pending)

	cached, err := im.cache.GetDictFromCache(ctx, pending)
	if err != nil {
		im.log.Error("Failed to bulk-check the URI cache", "error", err)
		cached = nil
	}

	// Origin observations are recorded only after the bulk check, so a
	// status seen for the first time is not mistaken for one imported
	// earlier.
	for _, url := range pending {
		if from, ok := origin[url]; ok {
			if err := im.cache.CacheStatus(ctx, from); err != nil {
				im.log.Error("Failed to cache origin status", "url", url, "error", err)
			}
		}
	}

	var (
		mu      sync.Mutex
		toFetch []string
	)
	for _, url := range pending {
		if prior, ok := cached[url]; ok {
			result.Seen++
			reblogs, favourites := prior.ReblogsCount, prior.FavouritesCount
			if from, ok := origin[url]; ok {
				reblogs = max(reblogs, from.ReblogsCount)
				favourites = max(favourites, from.FavouritesCount)
			}
			im.stats.Queue(prior.ID, reblogs, favourites)
			continue
		}
		toFetch = append(toFetch, url)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(importConcurrency)
	for _, url := range toFetch {
		url := url
		g.Go(func() error {
			status, err := im.home.Get(gctx, url)
			if err != nil {
				im.log.Debug("Failed to import post", "url", url, "error", err)
				mu.Lock()
				result.Failed++
				mu.Unlock()
				return nil
			}

			if err := im.cache.CacheStatus(gctx, status); err != nil {
				im.log.Error("Failed to cache imported post", "url", url, "error", err)
			}
			reblogs, favourites := status.ReblogsCount, status.FavouritesCount
			if from, ok := origin[url]; ok {
				reblogs = max(reblogs, from.ReblogsCount)
				favourites = max(favourites, from.FavouritesCount)
			}
			im.stats.Queue(status.ID, reblogs, favourites)

			mu.Lock()
			result.Added++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	im.log.Info("Imported batch",
		"added", result.Added,
		"seen", result.Seen,
		"failed", result.Failed,
	)
	return result
}

// claim marks urls as handled and returns the ones seen for the first
// time this run.
func (im *Importer) claim(urls []string) []string {
	im.mu.Lock()
	defer im.mu.Unlock()

	var pending []string
	for _, url := range urls {
		if url == "" {
			continue
		}
		if _, ok := im.done[url]; ok {
			continue
		}
		im.done[url] = struct{}{}
		pending = append(pending, url)
	}
	return pending
}
