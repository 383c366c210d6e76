// Package fediverse talks to Fediverse servers through a uniform
// capability set. Each Instance normalizes a domain, detects the
// software via NodeInfo, and delegates to a matching backend adapter;
// the Manager memoizes one Instance per domain for the run.
package fediverse

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Teqed/FediFetcher-sub000/internal/logger"
	"github.com/Teqed/FediFetcher-sub000/internal/peers"
)

const (
	// bulkResolveLimit bounds concurrent URL resolution in GetIDs,
	// matching the per-origin bulk gate.
	bulkResolveLimit = 10
	// userStatusesCap keeps a single user's backfill bounded.
	userStatusesCap = 100
)

// Instance is the capability facade for one server. Cross-software
// capabilities (status by id, thread context, search-based import) work
// on every backend; the rest return ErrUnsupported where the software
// does not provide them.
type Instance struct {
	domain   string
	software Software
	client   *peers.Client
	backend  backend
	log      logger.Interface
}

// NewInstance builds an instance for a server whose software is already
// known. Unknown software gets the Mastodon-compatible backend limited
// to cross-software capabilities.
func NewInstance(domain string, software Software, client *peers.Client, log logger.Interface) *Instance {
	var b backend
	switch software {
	case SoftwareMastodon, SoftwarePleroma, SoftwarePixelfed:
		b = newMastodonBackend(client, false)
	case SoftwareFirefish:
		b = newFirefishBackend(domain, client)
	case SoftwareLemmy:
		b = newLemmyBackend(client)
	default:
		b = newMastodonBackend(client, true)
	}
	return &Instance{
		domain:   domain,
		software: software,
		client:   client,
		backend:  b,
		log:      log,
	}
}

// NewHomeInstance builds the instance for the local server. The tool
// augments a Mastodon-compatible server, so the full Mastodon surface
// is assumed regardless of what NodeInfo would report.
func NewHomeInstance(domain string, client *peers.Client, log logger.Interface) *Instance {
	return &Instance{
		domain:   domain,
		software: SoftwareMastodon,
		client:   client,
		backend:  newMastodonBackend(client, false),
		log:      log,
	}
}

// Domain returns the normalized hostname.
func (i *Instance) Domain() string {
	return i.domain
}

// Client exposes the underlying HTTP client, for redirect probes.
func (i *Instance) Client() *peers.Client {
	return i.client
}

// Software returns the detected server software.
func (i *Instance) Software() Software {
	return i.software
}

// Get imports or resolves a remote post URL on this server.
func (i *Instance) Get(ctx context.Context, postURL string) (*Status, error) {
	return i.backend.resolve(ctx, postURL)
}

// GetID resolves a remote post URL to this server's id for it.
func (i *Instance) GetID(ctx context.Context, postURL string) (string, error) {
	status, err := i.backend.resolve(ctx, postURL)
	if err != nil {
		return "", err
	}
	return status.ID, nil
}

// GetIDs resolves many URLs concurrently, ten at a time. URLs that fail
// to resolve are logged and left out of the result.
func (i *Instance) GetIDs(ctx context.Context, urls []string) (map[string]string, error) {
	ids := make(map[string]string, len(urls))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bulkResolveLimit)
	for _, postURL := range urls {
		postURL := postURL
		g.Go(func() error {
			status, err := i.backend.resolve(gctx, postURL)
			if err != nil {
				i.log.Debug("Failed to resolve post",
					"server", i.domain,
					"url", postURL,
					"error", err,
				)
				return nil
			}
			mu.Lock()
			ids[postURL] = status.ID
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	return ids, err
}

// GetContext returns the deduplicated URLs of a post's thread, sorted
// by origin host so requests group by peer.
func (i *Instance) GetContext(ctx context.Context, id, statusURL string) ([]string, error) {
	urls, err := i.backend.contextURLs(ctx, id, statusURL)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(urls))
	deduped := urls[:0]
	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		deduped = append(deduped, u)
	}
	sort.Slice(deduped, func(a, b int) bool {
		ha, hb := hostOf(deduped[a]), hostOf(deduped[b])
		if ha != hb {
			return ha < hb
		}
		return deduped[a] < deduped[b]
	})
	return deduped, nil
}

// GetStatus fetches a post by this server's id for it.
func (i *Instance) GetStatus(ctx context.Context, id string) (*Status, error) {
	return i.backend.status(ctx, id)
}

// GetUserStatuses lists a user's posts newer than since, newest first.
func (i *Instance) GetUserStatuses(ctx context.Context, userID string, since time.Time) ([]Status, error) {
	return i.backend.userStatuses(ctx, userID, since, userStatusesCap)
}

// LookupAccount resolves a username on this server.
func (i *Instance) LookupAccount(ctx context.Context, acct string) (*Account, error) {
	return i.backend.lookupAccount(ctx, acct)
}

// GetUserID resolves a username to this server's account id.
func (i *Instance) GetUserID(ctx context.Context, username string) (string, error) {
	account, err := i.backend.lookupAccount(ctx, username)
	if err != nil {
		return "", err
	}
	return account.ID, nil
}

// GetTrendingStatuses lists trending posts, paginating until limit.
func (i *Instance) GetTrendingStatuses(ctx context.Context, limit int) ([]Status, error) {
	if limit <= 0 {
		return nil, nil
	}
	return i.backend.trending(ctx, limit)
}

// GetHomeTimeline returns the newest statuses on the home timeline.
func (i *Instance) GetHomeTimeline(ctx context.Context, limit int) ([]Status, error) {
	m, err := i.mastodon("home timeline")
	if err != nil {
		return nil, err
	}
	return m.homeTimeline(ctx, limit)
}

// GetNotifications returns notifications newer than since.
func (i *Instance) GetNotifications(ctx context.Context, since time.Time, limit int) ([]Notification, error) {
	m, err := i.mastodon("notifications")
	if err != nil {
		return nil, err
	}
	return m.notifications(ctx, since, limit)
}

// GetBookmarks returns the newest bookmarked statuses.
func (i *Instance) GetBookmarks(ctx context.Context, limit int) ([]Status, error) {
	m, err := i.mastodon("bookmarks")
	if err != nil {
		return nil, err
	}
	return m.bookmarks(ctx, limit)
}

// GetFavourites returns the newest favourited statuses.
func (i *Instance) GetFavourites(ctx context.Context, limit int) ([]Status, error) {
	m, err := i.mastodon("favourites")
	if err != nil {
		return nil, err
	}
	return m.favourites(ctx, limit)
}

// GetFollowRequests returns pending follow requests.
func (i *Instance) GetFollowRequests(ctx context.Context, limit int) ([]Account, error) {
	m, err := i.mastodon("follow requests")
	if err != nil {
		return nil, err
	}
	return m.followRequests(ctx, limit)
}

// GetFollowers returns accounts following userID.
func (i *Instance) GetFollowers(ctx context.Context, userID string, limit int) ([]Account, error) {
	m, err := i.mastodon("followers")
	if err != nil {
		return nil, err
	}
	return m.followers(ctx, userID, limit)
}

// GetFollowing returns accounts userID follows.
func (i *Instance) GetFollowing(ctx context.Context, userID string, limit int) ([]Account, error) {
	m, err := i.mastodon("following")
	if err != nil {
		return nil, err
	}
	return m.following(ctx, userID, limit)
}

// VerifyCredentials returns the account behind the client's token.
func (i *Instance) VerifyCredentials(ctx context.Context) (*Account, error) {
	m, err := i.mastodon("verify credentials")
	if err != nil {
		return nil, err
	}
	return m.verifyCredentials(ctx)
}

// GetActiveAdminAccounts lists active local accounts through the admin
// API; the token must carry admin read scope.
func (i *Instance) GetActiveAdminAccounts(ctx context.Context, limit int) ([]AdminAccount, error) {
	m, err := i.mastodon("admin accounts")
	if err != nil {
		return nil, err
	}
	return m.adminAccounts(ctx, limit)
}

func (i *Instance) mastodon(capability string) (*mastodonBackend, error) {
	m, ok := i.backend.(*mastodonBackend)
	if !ok || m.limited {
		return nil, fmt.Errorf("%s on %s (%s): %w", capability, i.domain, i.software, ErrUnsupported)
	}
	return m, nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}
