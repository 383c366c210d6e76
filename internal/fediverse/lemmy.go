package fediverse

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Teqed/FediFetcher-sub000/internal/peers"
)

// lemmyBackend speaks the Lemmy v3 API. Posts and comments are separate
// id spaces; the URL a post id was parsed from decides which one to hit.
type lemmyBackend struct {
	c *peers.Client
}

func newLemmyBackend(c *peers.Client) *lemmyBackend {
	return &lemmyBackend{c: c}
}

// lemmyTime handles Lemmy's timestamp format, which omits the timezone
// suffix in older versions.
type lemmyTime struct {
	time.Time
}

var lemmyTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

func (t *lemmyTime) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		return nil
	}
	for _, layout := range lemmyTimeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("unrecognized lemmy timestamp %q", s)
}

type lemmyPost struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Body      string    `json:"body"`
	ApID      string    `json:"ap_id"`
	Published lemmyTime `json:"published"`
}

type lemmyComment struct {
	ID        int64     `json:"id"`
	Content   string    `json:"content"`
	ApID      string    `json:"ap_id"`
	PostID    int64     `json:"post_id"`
	Published lemmyTime `json:"published"`
}

type lemmyCounts struct {
	Comments   int `json:"comments"`
	Upvotes    int `json:"upvotes"`
	ChildCount int `json:"child_count"`
}

type lemmyPostView struct {
	Post   lemmyPost   `json:"post"`
	Counts lemmyCounts `json:"counts"`
}

type lemmyCommentView struct {
	Comment lemmyComment `json:"comment"`
	Counts  lemmyCounts  `json:"counts"`
}

type lemmyPerson struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	ActorID string `json:"actor_id"`
}

func (b *lemmyBackend) resolve(ctx context.Context, postURL string) (*Status, error) {
	return nil, fmt.Errorf("url resolution on %s: %w", b.c.Server(), ErrUnsupported)
}

func (b *lemmyBackend) status(ctx context.Context, id string) (*Status, error) {
	var response struct {
		PostView lemmyPostView `json:"post_view"`
	}
	if _, err := b.c.Get(ctx, "/api/v3/post", url.Values{"id": {id}}, &response); err != nil {
		return nil, err
	}
	return b.postToStatus(response.PostView), nil
}

// contextURLs returns the whole discussion around a post or comment:
// the post itself plus every comment's ap_id. A comment id is first
// resolved to its post.
func (b *lemmyBackend) contextURLs(ctx context.Context, id, statusURL string) ([]string, error) {
	postID := id
	urls := make([]string, 0, 64)

	if strings.Contains(statusURL, "/comment/") {
		var response struct {
			CommentView lemmyCommentView `json:"comment_view"`
		}
		if _, err := b.c.Get(ctx, "/api/v3/comment", url.Values{"id": {id}}, &response); err != nil {
			return nil, err
		}
		postID = strconv.FormatInt(response.CommentView.Comment.PostID, 10)

		var postResponse struct {
			PostView lemmyPostView `json:"post_view"`
		}
		if _, err := b.c.Get(ctx, "/api/v3/post", url.Values{"id": {postID}}, &postResponse); err == nil {
			if apID := postResponse.PostView.Post.ApID; apID != "" {
				urls = append(urls, apID)
			}
		}
	}

	query := url.Values{
		"post_id":   {postID},
		"max_depth": {"8"},
		"sort":      {"New"},
		"limit":     {"50"},
	}
	var comments struct {
		Comments []lemmyCommentView `json:"comments"`
	}
	if _, err := b.c.Get(ctx, "/api/v3/comment/list", query, &comments); err != nil {
		return urls, err
	}
	for _, view := range comments.Comments {
		if view.Comment.ApID != "" {
			urls = append(urls, view.Comment.ApID)
		}
	}
	return urls, nil
}

func (b *lemmyBackend) userStatuses(ctx context.Context, userID string, since time.Time, limit int) ([]Status, error) {
	query := url.Values{
		"person_id": {userID},
		"sort":      {"New"},
		"limit":     {strconv.Itoa(min(50, limit))},
	}
	var response struct {
		Posts    []lemmyPostView    `json:"posts"`
		Comments []lemmyCommentView `json:"comments"`
	}
	if _, err := b.c.Get(ctx, "/api/v3/user", query, &response); err != nil {
		return nil, err
	}

	statuses := make([]Status, 0, len(response.Posts)+len(response.Comments))
	for _, view := range response.Posts {
		if view.Post.Published.Before(since) {
			continue
		}
		statuses = append(statuses, *b.postToStatus(view))
	}
	for _, view := range response.Comments {
		if view.Comment.Published.Before(since) {
			continue
		}
		statuses = append(statuses, *b.commentToStatus(view))
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].CreatedAt.After(statuses[j].CreatedAt)
	})
	if len(statuses) > limit {
		statuses = statuses[:limit]
	}
	return statuses, nil
}

func (b *lemmyBackend) lookupAccount(ctx context.Context, acct string) (*Account, error) {
	query := url.Values{
		"username": {acct},
		"limit":    {"1"},
	}
	var response struct {
		PersonView struct {
			Person lemmyPerson `json:"person"`
		} `json:"person_view"`
	}
	if _, err := b.c.Get(ctx, "/api/v3/user", query, &response); err != nil {
		return nil, err
	}
	person := response.PersonView.Person
	if person.ID == 0 {
		return nil, fmt.Errorf("lookup %s on %s: %w", acct, b.c.Server(), ErrNoResult)
	}
	return &Account{
		ID:       strconv.FormatInt(person.ID, 10),
		Username: person.Name,
		Acct:     person.Name,
		URL:      person.ActorID,
	}, nil
}

// trending pages /api/v3/post/list by page number; Lemmy caps pages at
// 50 entries.
func (b *lemmyBackend) trending(ctx context.Context, limit int) ([]Status, error) {
	statuses := make([]Status, 0, limit)
	for page := 1; len(statuses) < limit; page++ {
		query := url.Values{
			"type_": {"All"},
			"sort":  {"Active"},
			"limit": {strconv.Itoa(min(50, limit-len(statuses)))},
			"page":  {strconv.Itoa(page)},
		}
		var response struct {
			Posts []lemmyPostView `json:"posts"`
		}
		if _, err := b.c.Get(ctx, "/api/v3/post/list", query, &response); err != nil {
			return statuses, err
		}
		if len(response.Posts) == 0 {
			break
		}
		for _, view := range response.Posts {
			statuses = append(statuses, *b.postToStatus(view))
		}
	}
	if len(statuses) > limit {
		statuses = statuses[:limit]
	}
	return statuses, nil
}

func (b *lemmyBackend) postToStatus(view lemmyPostView) *Status {
	content := view.Post.Body
	if content == "" {
		content = view.Post.Name
	}
	return &Status{
		ID:              strconv.FormatInt(view.Post.ID, 10),
		URI:             view.Post.ApID,
		URL:             view.Post.ApID,
		CreatedAt:       view.Post.Published.Time,
		Content:         content,
		RepliesCount:    view.Counts.Comments,
		FavouritesCount: view.Counts.Upvotes,
	}
}

func (b *lemmyBackend) commentToStatus(view lemmyCommentView) *Status {
	return &Status{
		ID:              strconv.FormatInt(view.Comment.ID, 10),
		URI:             view.Comment.ApID,
		URL:             view.Comment.ApID,
		CreatedAt:       view.Comment.Published.Time,
		Content:         view.Comment.Content,
		InReplyToID:     strconv.FormatInt(view.Comment.PostID, 10),
		RepliesCount:    view.Counts.ChildCount,
		FavouritesCount: view.Counts.Upvotes,
	}
}
