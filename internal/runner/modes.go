package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/Teqed/FediFetcher-sub000/internal/collect"
	"github.com/Teqed/FediFetcher-sub000/internal/config"
	"github.com/Teqed/FediFetcher-sub000/internal/database"
	"github.com/Teqed/FediFetcher-sub000/internal/fediverse"
	"github.com/Teqed/FediFetcher-sub000/internal/importer"
	"github.com/Teqed/FediFetcher-sub000/internal/logger"
	"github.com/Teqed/FediFetcher-sub000/internal/ordered"
	"github.com/Teqed/FediFetcher-sub000/internal/statestore"
	"github.com/Teqed/FediFetcher-sub000/internal/urlparse"
	"github.com/Teqed/FediFetcher-sub000/internal/walker"
)

// backfillLookback bounds how far back a never-checked account's posts
// are fetched. Accounts seen before resume from their recorded check
// time instead.
const backfillLookback = 24 * time.Hour

// run carries the state shared by the modes of a single run.
type run struct {
	cfg      *config.Config
	log      logger.Interface
	manager  InstanceManager
	parser   *urlparse.Parser
	cache    database.StatusCache
	store    *statestore.Store
	home     *fediverse.Instance
	walker   *walker.Walker
	importer *importer.Importer
	summary  *Summary
	started  time.Time
}

// execute runs every enabled mode in sequence: active-user replies
// first, then the sub-modes of each access token, then the external
// trending feeds.
func (r *run) execute(ctx context.Context) {
	r.mode(ctx, "active_user_replies", r.cfg.ReplyInterval > 0, r.activeUserReplies)
	for idx, token := range r.cfg.AccessToken {
		r.tokenModes(ctx, idx, token)
	}
	r.mode(ctx, "trending", r.cfg.MaxTrendingPosts > 0 && len(r.cfg.ExternalFeeds) > 0, r.trending)
}

// mode runs one mode under a recover boundary. A panic or error is
// logged and recorded in the summary; sibling modes still run.
func (r *run) mode(ctx context.Context, name string, enabled bool, fn func(ctx context.Context) (importer.Result, error)) {
	if !enabled {
		return
	}
	log := r.log.With("mode", name)
	log.Debug("Mode started")
	start := time.Now()

	var res importer.Result
	var err error
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("mode panicked: %v", rec)
			}
		}()
		res, err = fn(ctx)
	}()

	duration := time.Since(start)
	if err != nil {
		log.WithDuration(duration).Error("Mode failed", "error", err)
	} else {
		log.WithDuration(duration).Info("Mode finished",
			"added", res.Added,
			"seen", res.Seen,
			"failed", res.Failed,
		)
	}
	r.summary.record(name, duration, res, err)
}

// tokenModes runs the sub-modes scoped to one access token.
func (r *run) tokenModes(ctx context.Context, idx int, token string) {
	home := r.manager.HomeWithToken(r.cfg.Server, token)
	collector := r.collector(home)

	// Several sub-modes need the token's own account; fetch it once.
	var me *fediverse.Account
	userID := func(ctx context.Context) (string, error) {
		if me != nil {
			return me.ID, nil
		}
		account, err := home.VerifyCredentials(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to verify token %d credentials: %w", idx+1, err)
		}
		me = account
		return me.ID, nil
	}

	var timeline []fediverse.Status
	r.mode(ctx, "home_timeline", r.cfg.HomeTimelineLength > 0, func(ctx context.Context) (importer.Result, error) {
		statuses, err := collector.HomeTimeline(ctx, r.cfg.HomeTimelineLength)
		if err != nil {
			return importer.Result{}, err
		}
		timeline = statuses
		return r.walkAndImport(ctx, statuses), nil
	})

	r.mode(ctx, "mentioned_users", r.cfg.BackfillMentionedUsers > 0 && len(timeline) > 0, func(ctx context.Context) (importer.Result, error) {
		users := collector.MentionedUsers(timeline, r.store.RecentlyChecked, r.started)
		return r.backfill(ctx, collector, users, r.store.RecentlyChecked), nil
	})

	r.mode(ctx, "own_replies", r.cfg.ReplyInterval > 0, func(ctx context.Context) (importer.Result, error) {
		id, err := userID(ctx)
		if err != nil {
			return importer.Result{}, err
		}
		window := time.Duration(r.cfg.ReplyInterval) * time.Hour
		seeds, err := collector.OwnReplies(ctx, id, window)
		if err != nil {
			return importer.Result{}, err
		}
		return r.walkAndImport(ctx, seeds), nil
	})

	r.mode(ctx, "new_followings", r.cfg.MaxFollowings > 0, func(ctx context.Context) (importer.Result, error) {
		id, err := userID(ctx)
		if err != nil {
			return importer.Result{}, err
		}
		accounts, err := collector.NewFollowings(ctx, id, r.cfg.MaxFollowings, r.store.KnownFollowings)
		if err != nil {
			return importer.Result{}, err
		}
		return r.backfill(ctx, collector, accounts, r.store.KnownFollowings), nil
	})

	r.mode(ctx, "new_followers", r.cfg.MaxFollowers > 0, func(ctx context.Context) (importer.Result, error) {
		id, err := userID(ctx)
		if err != nil {
			return importer.Result{}, err
		}
		accounts, err := collector.NewFollowers(ctx, id, r.cfg.MaxFollowers, r.store.KnownFollowings)
		if err != nil {
			return importer.Result{}, err
		}
		return r.backfill(ctx, collector, accounts, r.store.KnownFollowings), nil
	})

	r.mode(ctx, "follow_requests", r.cfg.MaxFollowRequests > 0, func(ctx context.Context) (importer.Result, error) {
		accounts, err := collector.FollowRequests(ctx, r.cfg.MaxFollowRequests, r.store.KnownFollowings)
		if err != nil {
			return importer.Result{}, err
		}
		return r.backfill(ctx, collector, accounts, r.store.KnownFollowings), nil
	})

	r.mode(ctx, "notification_users", r.cfg.FromNotifications > 0, func(ctx context.Context) (importer.Result, error) {
		since := r.started.Add(-time.Duration(r.cfg.FromNotifications) * time.Hour)
		users, err := collector.NotificationUsers(ctx, since, r.store.RecentlyChecked)
		if err != nil {
			return importer.Result{}, err
		}
		return r.backfill(ctx, collector, users, r.store.RecentlyChecked), nil
	})

	r.mode(ctx, "bookmarks", r.cfg.MaxBookmarks > 0, func(ctx context.Context) (importer.Result, error) {
		seeds, err := collector.Bookmarks(ctx, r.cfg.MaxBookmarks)
		if err != nil {
			return importer.Result{}, err
		}
		return r.walkAndImport(ctx, seeds), nil
	})

	r.mode(ctx, "favourites", r.cfg.MaxFavourites > 0, func(ctx context.Context) (importer.Result, error) {
		seeds, err := collector.Favourites(ctx, r.cfg.MaxFavourites)
		if err != nil {
			return importer.Result{}, err
		}
		return r.walkAndImport(ctx, seeds), nil
	})
}

func (r *run) activeUserReplies(ctx context.Context) (importer.Result, error) {
	window := time.Duration(r.cfg.ReplyInterval) * time.Hour
	seeds, err := r.collector(r.home).ActiveUserReplies(ctx, window)
	if err != nil {
		return importer.Result{}, err
	}
	return r.walkAndImport(ctx, seeds), nil
}

func (r *run) trending(ctx context.Context) (importer.Result, error) {
	seeds, err := r.collector(r.home).Trending(ctx, r.cfg.ExternalFeeds, r.cfg.MaxTrendingPosts)
	if err != nil {
		return importer.Result{}, err
	}
	result := r.importer.ImportStatuses(ctx, seeds)
	if r.cfg.BackfillWithContext > 0 && len(seeds) > 0 {
		result.Merge(r.walkAndImport(ctx, seeds))
	}
	return result, nil
}

// backfill imports the recent posts of each account and records its
// handle in seen so later runs skip it. An account that cannot be
// resolved is still recorded; retrying it every run would hammer its
// origin for nothing.
func (r *run) backfill(ctx context.Context, collector *collect.Collector, accounts []fediverse.Account, seen *ordered.Set) importer.Result {
	var total importer.Result
	for _, account := range accounts {
		handle := account.Handle(r.home.Domain())
		if handle == "" {
			continue
		}
		since := r.started.Add(-backfillLookback)
		if ts, ok := seen.Timestamp(handle); ok {
			since = ts
		}

		posts, err := collector.UserPosts(ctx, account, since)
		if err != nil {
			r.log.Debug("Skipping account backfill", "account", handle, "error", err)
			seen.Add(handle)
			continue
		}
		total.Merge(r.importer.ImportStatuses(ctx, posts))
		if r.cfg.BackfillWithContext > 0 && len(posts) > 0 {
			total.Merge(r.walkAndImport(ctx, posts))
		}
		seen.Add(handle)
	}
	return total
}

// walkAndImport expands seeds into their thread URLs and imports them.
func (r *run) walkAndImport(ctx context.Context, seeds []fediverse.Status) importer.Result {
	urls := r.walker.KnownContextURLs(ctx, seeds)
	return r.importer.AddContextURLs(ctx, urls)
}

func (r *run) collector(home *fediverse.Instance) *collect.Collector {
	return collect.New(home, r.manager, r.parser, r.cache, r.log)
}
