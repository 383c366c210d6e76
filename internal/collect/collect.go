// Package collect gathers seed statuses and accounts for a run: the
// local activity worth expanding (replies, timeline, saved posts) and
// the remote accounts worth backfilling.
package collect

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Teqed/FediFetcher-sub000/internal/database"
	"github.com/Teqed/FediFetcher-sub000/internal/fediverse"
	"github.com/Teqed/FediFetcher-sub000/internal/logger"
	"github.com/Teqed/FediFetcher-sub000/internal/ordered"
	"github.com/Teqed/FediFetcher-sub000/internal/urlparse"
)

const (
	// adminAccountsFetchCap bounds the admin account enumeration.
	adminAccountsFetchCap = 200
	// notificationsFetchCap is a safety bound; the since filter is the
	// real cutoff.
	notificationsFetchCap = 400

	// mentionedUsersCap limits users collected from older statuses.
	mentionedUsersCap = 10
	// mentionedUsersRecentCap applies to statuses from the last hour.
	mentionedUsersRecentCap = 30
	// mentionedUsersWindow separates recent statuses from older ones.
	mentionedUsersWindow = time.Hour
)

// InstanceSource hands out a memoized Instance per origin server.
type InstanceSource interface {
	Instance(ctx context.Context, server string) *fediverse.Instance
}

// Collector produces the seeds each mode feeds into the walk/import
// pipeline.
type Collector struct {
	home    *fediverse.Instance
	sources InstanceSource
	parser  *urlparse.Parser
	cache   database.StatusCache
	log     logger.Interface
}

// New creates a collector bound to the home server.
func New(home *fediverse.Instance, sources InstanceSource, parser *urlparse.Parser, cache database.StatusCache, log logger.Interface) *Collector {
	return &Collector{
		home:    home,
		sources: sources,
		parser:  parser,
		cache:   cache,
		log:     log.WithComponent("collect"),
	}
}

// ActiveUserReplies returns reply posts written within the window by
// local accounts that were active in it. Requires an admin-scoped token.
func (c *Collector) ActiveUserReplies(ctx context.Context, window time.Duration) ([]fediverse.Status, error) {
	admins, err := c.home.GetActiveAdminAccounts(ctx, adminAccountsFetchCap)
	if err != nil {
		return nil, fmt.Errorf("failed to list admin accounts: %w", err)
	}

	cutoff := time.Now().Add(-window)
	var seeds []fediverse.Status
	for _, admin := range admins {
		if admin.Account == nil || !admin.Account.LastActiveAfter(cutoff) {
			continue
		}
		statuses, err := c.home.GetUserStatuses(ctx, admin.ID, cutoff)
		if err != nil {
			c.log.Debug("Failed to fetch user statuses",
				"user", admin.Username,
				"error", err,
			)
			continue
		}
		for _, status := range statuses {
			if status.IsReply() && status.CreatedAt.After(cutoff) {
				seeds = append(seeds, status)
			}
		}
	}
	c.log.Info("Collected active-user replies", "replies", len(seeds))
	return seeds, nil
}

// OwnReplies returns the token user's reply posts within the window.
func (c *Collector) OwnReplies(ctx context.Context, userID string, window time.Duration) ([]fediverse.Status, error) {
	cutoff := time.Now().Add(-window)
	statuses, err := c.home.GetUserStatuses(ctx, userID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch own statuses: %w", err)
	}
	var seeds []fediverse.Status
	for _, status := range statuses {
		if status.IsReply() {
			seeds = append(seeds, status)
		}
	}
	return seeds, nil
}

// HomeTimeline returns the newest statuses from the token's home
// timeline.
func (c *Collector) HomeTimeline(ctx context.Context, limit int) ([]fediverse.Status, error) {
	if limit <= 0 {
		return nil, nil
	}
	return c.home.GetHomeTimeline(ctx, limit)
}

// MentionedUsers extracts the accounts involved in timeline statuses:
// each author, the boosted author, and every mention. Once 10 users are
// collected, only statuses from the last hour may contribute, up to 30.
// Accounts already in known are not counted.
func (c *Collector) MentionedUsers(statuses []fediverse.Status, known *ordered.Set, now time.Time) []fediverse.Account {
	cutoff := now.Add(-mentionedUsersWindow)
	seen := make(map[string]struct{})
	var users []fediverse.Account

	for idx := range statuses {
		status := &statuses[idx]
		if len(users) >= mentionedUsersCap &&
			!(status.CreatedAt.After(cutoff) && len(users) < mentionedUsersRecentCap) {
			continue
		}

		var candidates []fediverse.Account
		if status.Account != nil {
			candidates = append(candidates, *status.Account)
		}
		if status.Reblog != nil && status.Reblog.Account != nil {
			candidates = append(candidates, *status.Reblog.Account)
		}
		for _, mention := range status.Mentions {
			candidates = append(candidates, fediverse.Account{
				ID:       mention.ID,
				Username: mention.Username,
				Acct:     mention.Acct,
				URL:      mention.URL,
			})
		}

		for _, candidate := range candidates {
			handle := candidate.Handle(c.home.Domain())
			if handle == "" {
				continue
			}
			if _, dup := seen[handle]; dup {
				continue
			}
			if known != nil && known.Contains(handle) {
				continue
			}
			seen[handle] = struct{}{}
			users = append(users, candidate)
		}
	}
	return users
}

// NewFollowings returns accounts userID follows that have not been
// backfilled yet.
func (c *Collector) NewFollowings(ctx context.Context, userID string, limit int, known *ordered.Set) ([]fediverse.Account, error) {
	accounts, err := c.home.GetFollowing(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch followings: %w", err)
	}
	return c.filterKnown(accounts, known), nil
}

// NewFollowers returns accounts following userID that have not been
// backfilled yet.
func (c *Collector) NewFollowers(ctx context.Context, userID string, limit int, known *ordered.Set) ([]fediverse.Account, error) {
	accounts, err := c.home.GetFollowers(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch followers: %w", err)
	}
	return c.filterKnown(accounts, known), nil
}

// FollowRequests returns accounts with pending follow requests that
// have not been backfilled yet.
func (c *Collector) FollowRequests(ctx context.Context, limit int, known *ordered.Set) ([]fediverse.Account, error) {
	accounts, err := c.home.GetFollowRequests(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch follow requests: %w", err)
	}
	return c.filterKnown(accounts, known), nil
}

// NotificationUsers returns the distinct actors of notifications newer
// than since, skipping accounts already in known.
func (c *Collector) NotificationUsers(ctx context.Context, since time.Time, known *ordered.Set) ([]fediverse.Account, error) {
	notifications, err := c.home.GetNotifications(ctx, since, notificationsFetchCap)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch notifications: %w", err)
	}

	seen := make(map[string]struct{})
	var users []fediverse.Account
	for _, notification := range notifications {
		if notification.Account == nil {
			continue
		}
		handle := notification.Account.Handle(c.home.Domain())
		if handle == "" {
			continue
		}
		if _, dup := seen[handle]; dup {
			continue
		}
		if known != nil && known.Contains(handle) {
			continue
		}
		seen[handle] = struct{}{}
		users = append(users, *notification.Account)
	}
	return users, nil
}

// Bookmarks returns the newest bookmarked statuses.
func (c *Collector) Bookmarks(ctx context.Context, limit int) ([]fediverse.Status, error) {
	if limit <= 0 {
		return nil, nil
	}
	return c.home.GetBookmarks(ctx, limit)
}

// Favourites returns the newest favourited statuses.
func (c *Collector) Favourites(ctx context.Context, limit int) ([]fediverse.Status, error) {
	if limit <= 0 {
		return nil, nil
	}
	return c.home.GetFavourites(ctx, limit)
}

// Trending fans out across the configured feed servers and merges their
// trending posts by url. A post trending on several feeds gets its
// reblog and favourite counts summed and keeps the highest reply count.
// Only posts with more replies than the cached copy survive, since the
// rest carry no new thread activity.
func (c *Collector) Trending(ctx context.Context, servers []string, limit int) ([]fediverse.Status, error) {
	if limit <= 0 || len(servers) == 0 {
		return nil, nil
	}

	perServer := make([][]fediverse.Status, len(servers))
	var wg sync.WaitGroup
	for idx, server := range servers {
		idx, server := idx, server
		wg.Add(1)
		go func() {
			defer wg.Done()
			instance := c.sources.Instance(ctx, server)
			statuses, err := instance.GetTrendingStatuses(ctx, limit)
			if err != nil {
				c.log.Warn("Skipping trending feed",
					"server", server,
					"error", err,
				)
				return
			}
			perServer[idx] = statuses
		}()
	}
	wg.Wait()

	merged := make(map[string]*fediverse.Status)
	var order []string
	for _, statuses := range perServer {
		for i := range statuses {
			status := statuses[i]
			if status.URL == "" {
				continue
			}
			existing, ok := merged[status.URL]
			if !ok {
				merged[status.URL] = &status
				order = append(order, status.URL)
				continue
			}
			existing.ReblogsCount += status.ReblogsCount
			existing.FavouritesCount += status.FavouritesCount
			if status.RepliesCount > existing.RepliesCount {
				existing.RepliesCount = status.RepliesCount
			}
		}
	}

	cached, err := c.cache.GetDictFromCache(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("failed to check trending cache: %w", err)
	}
	var fresh []fediverse.Status
	for _, url := range order {
		status := merged[url]
		if prior, ok := cached[url]; ok && status.RepliesCount <= prior.RepliesCount {
			continue
		}
		fresh = append(fresh, *status)
	}

	c.log.Info("Collected trending posts",
		"feeds", len(servers),
		"distinct", len(order),
		"fresh", len(fresh),
	)
	return fresh, nil
}

// UserPosts backfills one account: it resolves the account on its own
// server and returns posts newer than since that are neither pinned nor
// already cached.
func (c *Collector) UserPosts(ctx context.Context, account fediverse.Account, since time.Time) ([]fediverse.Status, error) {
	parsed, ok := c.parser.ParseUser(account.URL)
	if !ok {
		return nil, fmt.Errorf("unrecognized profile URL %q", account.URL)
	}

	instance := c.sources.Instance(ctx, parsed.Server)
	userID, err := instance.GetUserID(ctx, parsed.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s on %s: %w", parsed.Username, parsed.Server, err)
	}
	statuses, err := instance.GetUserStatuses(ctx, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch posts of %s: %w", account.Acct, err)
	}

	urls := make([]string, 0, len(statuses))
	for i := range statuses {
		if url := statuses[i].EffectiveURL(); url != "" {
			urls = append(urls, url)
		}
	}
	cached, err := c.cache.GetDictFromCache(ctx, urls)
	if err != nil {
		return nil, fmt.Errorf("failed to check post cache: %w", err)
	}

	var fresh []fediverse.Status
	for i := range statuses {
		status := statuses[i]
		if status.Pinned {
			continue
		}
		url := status.EffectiveURL()
		if url == "" {
			continue
		}
		if _, ok := cached[url]; ok {
			continue
		}
		fresh = append(fresh, status)
	}
	return fresh, nil
}

func (c *Collector) filterKnown(accounts []fediverse.Account, known *ordered.Set) []fediverse.Account {
	if known == nil {
		return accounts
	}
	var fresh []fediverse.Account
	for _, account := range accounts {
		handle := account.Handle(c.home.Domain())
		if handle == "" || known.Contains(handle) {
			continue
		}
		fresh = append(fresh, account)
	}
	return fresh
}
