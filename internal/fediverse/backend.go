package fediverse

import (
	"context"
	"time"
)

// backend is the software-specific slice of the capability set. The
// Instance facade owns normalization, sorting, and fan-out; backends
// only speak their server's dialect.
type backend interface {
	// resolve imports or looks up a remote post URL on this server.
	resolve(ctx context.Context, postURL string) (*Status, error)
	// status fetches a post by the server's own id for it.
	status(ctx context.Context, id string) (*Status, error)
	// contextURLs returns the URLs of a post's thread. statusURL is the
	// URL the id was parsed from; Lemmy needs it to tell posts from
	// comments.
	contextURLs(ctx context.Context, id, statusURL string) ([]string, error)
	// userStatuses lists a user's posts newer than since, newest first.
	userStatuses(ctx context.Context, userID string, since time.Time, limit int) ([]Status, error)
	// lookupAccount resolves a username on this server.
	lookupAccount(ctx context.Context, acct string) (*Account, error)
	// trending lists the server's trending posts.
	trending(ctx context.Context, limit int) ([]Status, error)
}
