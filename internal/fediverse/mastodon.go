package fediverse

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/Teqed/FediFetcher-sub000/internal/peers"
)

// pageSize is the chunk size requested per page; Mastodon caps most
// list endpoints at 40.
const pageSize = 40

// mastodonBackend speaks the Mastodon client API. Pleroma and Pixelfed
// route through it unchanged. A limited backend serves software that
// only reliably supports the cross-software endpoints (status by id,
// thread context, search-based import).
type mastodonBackend struct {
	c       *peers.Client
	bulk    *peers.Client
	limited bool
}

func newMastodonBackend(c *peers.Client, limited bool) *mastodonBackend {
	return &mastodonBackend{c: c, bulk: c.Bulk(), limited: limited}
}

func (b *mastodonBackend) resolve(ctx context.Context, postURL string) (*Status, error) {
	query := url.Values{
		"q":       {postURL},
		"resolve": {"true"},
		"limit":   {"1"},
	}
	var result SearchResult
	if _, err := b.bulk.Get(ctx, "/api/v2/search", query, &result); err != nil {
		return nil, err
	}
	if len(result.Statuses) == 0 {
		return nil, fmt.Errorf("search for %s: %w", postURL, ErrNoResult)
	}
	return &result.Statuses[0], nil
}

func (b *mastodonBackend) status(ctx context.Context, id string) (*Status, error) {
	var status Status
	if _, err := b.c.Get(ctx, "/api/v1/statuses/"+url.PathEscape(id), nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (b *mastodonBackend) contextURLs(ctx context.Context, id, _ string) ([]string, error) {
	var thread Context
	if _, err := b.c.Get(ctx, "/api/v1/statuses/"+url.PathEscape(id)+"/context", nil, &thread); err != nil {
		return nil, err
	}
	return thread.URLs(), nil
}

func (b *mastodonBackend) userStatuses(ctx context.Context, userID string, since time.Time, limit int) ([]Status, error) {
	if b.limited {
		return nil, fmt.Errorf("user statuses on %s: %w", b.c.Server(), ErrUnsupported)
	}
	path := "/api/v1/accounts/" + url.PathEscape(userID) + "/statuses"
	query := url.Values{"limit": {strconv.Itoa(pageSize)}}
	return collectSince(ctx, b.c, path, query, limit, since, func(s Status) time.Time {
		return s.CreatedAt
	})
}

func (b *mastodonBackend) lookupAccount(ctx context.Context, acct string) (*Account, error) {
	if b.limited {
		return nil, fmt.Errorf("account lookup on %s: %w", b.c.Server(), ErrUnsupported)
	}
	var account Account
	if _, err := b.c.Get(ctx, "/api/v1/accounts/lookup", url.Values{"acct": {acct}}, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// trending pages through /api/v1/trends/statuses by offset; the
// endpoint does not emit Link headers. Instances with trends disabled
// 404 there, so the local public timeline stands in.
func (b *mastodonBackend) trending(ctx context.Context, limit int) ([]Status, error) {
	if b.limited {
		return nil, fmt.Errorf("trending statuses on %s: %w", b.c.Server(), ErrUnsupported)
	}
	statuses := make([]Status, 0, limit)
	for len(statuses) < limit {
		query := url.Values{
			"limit":  {strconv.Itoa(min(pageSize, limit-len(statuses)))},
			"offset": {strconv.Itoa(len(statuses))},
		}
		var chunk []Status
		if _, err := b.c.Get(ctx, "/api/v1/trends/statuses", query, &chunk); err != nil {
			if len(statuses) == 0 && errors.Is(err, peers.ErrNotFound) {
				return b.publicTimeline(ctx, limit)
			}
			return statuses, err
		}
		if len(chunk) == 0 {
			break
		}
		statuses = append(statuses, chunk...)
	}
	if len(statuses) > limit {
		statuses = statuses[:limit]
	}
	return statuses, nil
}

// publicTimeline returns the peer's own recent posts. local=true keeps
// the feed to statuses the peer originated.
func (b *mastodonBackend) publicTimeline(ctx context.Context, limit int) ([]Status, error) {
	query := url.Values{
		"limit": {strconv.Itoa(pageSize)},
		"local": {"true"},
	}
	return peers.Paginate[Status](ctx, b.c, "/api/v1/timelines/public", query, limit)
}

func (b *mastodonBackend) homeTimeline(ctx context.Context, limit int) ([]Status, error) {
	query := url.Values{"limit": {strconv.Itoa(pageSize)}}
	return peers.Paginate[Status](ctx, b.c, "/api/v1/timelines/home", query, limit)
}

func (b *mastodonBackend) notifications(ctx context.Context, since time.Time, limit int) ([]Notification, error) {
	query := url.Values{"limit": {strconv.Itoa(pageSize)}}
	return collectSince(ctx, b.c, "/api/v1/notifications", query, limit, since, func(n Notification) time.Time {
		return n.CreatedAt
	})
}

func (b *mastodonBackend) bookmarks(ctx context.Context, limit int) ([]Status, error) {
	query := url.Values{"limit": {strconv.Itoa(pageSize)}}
	return peers.Paginate[Status](ctx, b.c, "/api/v1/bookmarks", query, limit)
}

func (b *mastodonBackend) favourites(ctx context.Context, limit int) ([]Status, error) {
	query := url.Values{"limit": {strconv.Itoa(pageSize)}}
	return peers.Paginate[Status](ctx, b.c, "/api/v1/favourites", query, limit)
}

func (b *mastodonBackend) followRequests(ctx context.Context, limit int) ([]Account, error) {
	query := url.Values{"limit": {strconv.Itoa(pageSize)}}
	return peers.Paginate[Account](ctx, b.c, "/api/v1/follow_requests", query, limit)
}

func (b *mastodonBackend) followers(ctx context.Context, userID string, limit int) ([]Account, error) {
	path := "/api/v1/accounts/" + url.PathEscape(userID) + "/followers"
	query := url.Values{"limit": {strconv.Itoa(pageSize)}}
	return peers.Paginate[Account](ctx, b.c, path, query, limit)
}

func (b *mastodonBackend) following(ctx context.Context, userID string, limit int) ([]Account, error) {
	path := "/api/v1/accounts/" + url.PathEscape(userID) + "/following"
	query := url.Values{"limit": {strconv.Itoa(pageSize)}}
	return peers.Paginate[Account](ctx, b.c, path, query, limit)
}

func (b *mastodonBackend) verifyCredentials(ctx context.Context) (*Account, error) {
	var account Account
	if _, err := b.c.Get(ctx, "/api/v1/accounts/verify_credentials", nil, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

func (b *mastodonBackend) adminAccounts(ctx context.Context, limit int) ([]AdminAccount, error) {
	query := url.Values{
		"origin": {"local"},
		"status": {"active"},
		"limit":  {strconv.Itoa(pageSize)},
	}
	return peers.Paginate[AdminAccount](ctx, b.c, "/api/v2/admin/accounts", query, limit)
}

// collectSince pages through a reverse-chronological endpoint and stops
// at the first item older than since, at limit items, or when the
// server stops paginating.
func collectSince[T any](ctx context.Context, c *peers.Client, path string, query url.Values, limit int, since time.Time, createdAt func(T) time.Time) ([]T, error) {
	if limit <= 0 {
		return nil, nil
	}
	items := make([]T, 0, limit)
	var chunk []T
	page, err := c.Get(ctx, path, query, &chunk)
	for {
		if err != nil {
			return items, err
		}
		for _, item := range chunk {
			if createdAt(item).Before(since) {
				return items, nil
			}
			items = append(items, item)
			if len(items) >= limit {
				return items, nil
			}
		}
		if page.Next == "" || len(chunk) == 0 {
			return items, nil
		}
		chunk = nil
		page, err = c.GetAbs(ctx, page.Next, &chunk)
	}
}
