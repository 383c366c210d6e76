package fediverse_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Teqed/FediFetcher-sub000/internal/fediverse"
	"github.com/Teqed/FediFetcher-sub000/internal/logger"
)

func newLemmyInstance(ts *httptest.Server) *fediverse.Instance {
	return fediverse.NewInstance("lemmy.example", fediverse.SoftwareLemmy, testClient(ts), logger.NewNoOp())
}

func TestLemmy_ContextOfPost(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/comment/list", r.URL.Path)
		require.Equal(t, "117", r.URL.Query().Get("post_id"))
		require.Equal(t, "8", r.URL.Query().Get("max_depth"))
		fmt.Fprint(w, `{"comments":[
			{"comment":{"id":1,"ap_id":"https://lemmy.example/comment/1","post_id":117,"published":"2025-08-20T10:00:00.123456"}},
			{"comment":{"id":2,"ap_id":"https://other.example/comment/9","post_id":117,"published":"2025-08-20T11:00:00.123456"}}
		]}`)
	}))
	defer ts.Close()

	instance := newLemmyInstance(ts)

	urls, err := instance.GetContext(context.Background(), "117", "https://lemmy.example/post/117")
	require.NoError(t, err)
	require.Equal(t, []string{
		"https://lemmy.example/comment/1",
		"https://other.example/comment/9",
	}, urls)
}

func TestLemmy_ContextOfCommentResolvesPostFirst(t *testing.T) {
	t.Parallel()

	var paths []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		switch r.URL.Path {
		case "/api/v3/comment":
			require.Equal(t, "55", r.URL.Query().Get("id"))
			fmt.Fprint(w, `{"comment_view":{"comment":{"id":55,"ap_id":"https://lemmy.example/comment/55","post_id":117}}}`)
		case "/api/v3/post":
			require.Equal(t, "117", r.URL.Query().Get("id"))
			fmt.Fprint(w, `{"post_view":{"post":{"id":117,"ap_id":"https://lemmy.example/post/117"},"counts":{"comments":2}}}`)
		case "/api/v3/comment/list":
			require.Equal(t, "117", r.URL.Query().Get("post_id"))
			fmt.Fprint(w, `{"comments":[{"comment":{"id":55,"ap_id":"https://lemmy.example/comment/55","post_id":117}}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	instance := newLemmyInstance(ts)

	urls, err := instance.GetContext(context.Background(), "55", "https://lemmy.example/comment/55")
	require.NoError(t, err)
	require.Equal(t, []string{
		"https://lemmy.example/comment/55",
		"https://lemmy.example/post/117",
	}, urls, "post and comments sorted within the host")
	require.Equal(t, []string{"/api/v3/comment", "/api/v3/post", "/api/v3/comment/list"}, paths)
}

func TestLemmy_StatusMapsPostView(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/post", r.URL.Path)
		fmt.Fprint(w, `{"post_view":{
			"post":{"id":117,"name":"title","body":"post body","ap_id":"https://lemmy.example/post/117","published":"2025-08-20T10:00:00.123456"},
			"counts":{"comments":4,"upvotes":12}
		}}`)
	}))
	defer ts.Close()

	instance := newLemmyInstance(ts)

	status, err := instance.GetStatus(context.Background(), "117")
	require.NoError(t, err)
	require.Equal(t, "117", status.ID)
	require.Equal(t, "https://lemmy.example/post/117", status.URL)
	require.Equal(t, "post body", status.Content)
	require.Equal(t, 4, status.RepliesCount)
	require.Equal(t, 12, status.FavouritesCount)
	require.Equal(t, 2025, status.CreatedAt.Year(), "timezone-less timestamps parse")
	require.True(t, status.IsOriginal())
}

func TestLemmy_UserStatusesMergePostsAndComments(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	recent := now.Add(-1 * time.Hour).Format("2006-01-02T15:04:05.000000")
	old := now.Add(-100 * time.Hour).Format("2006-01-02T15:04:05.000000")

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/user", r.URL.Path)
		require.Equal(t, "77", r.URL.Query().Get("person_id"))
		fmt.Fprintf(w, `{
			"posts":[
				{"post":{"id":1,"name":"new post","ap_id":"https://lemmy.example/post/1","published":%q},"counts":{"comments":1,"upvotes":2}},
				{"post":{"id":2,"name":"old post","ap_id":"https://lemmy.example/post/2","published":%q},"counts":{}}
			],
			"comments":[
				{"comment":{"id":3,"content":"new comment","ap_id":"https://lemmy.example/comment/3","post_id":1,"published":%q},"counts":{"upvotes":1}}
			]
		}`, recent, old, recent)
	}))
	defer ts.Close()

	instance := newLemmyInstance(ts)

	statuses, err := instance.GetUserStatuses(context.Background(), "77", now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, statuses, 2, "entries older than since are dropped")
	for _, status := range statuses {
		require.True(t, status.CreatedAt.After(now.Add(-24*time.Hour)))
	}
}

func TestLemmy_LookupAccount(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/user", r.URL.Path)
		require.Equal(t, "rust_fan", r.URL.Query().Get("username"))
		fmt.Fprint(w, `{"person_view":{"person":{"id":301,"name":"rust_fan","actor_id":"https://lemmy.example/u/rust_fan"}}}`)
	}))
	defer ts.Close()

	instance := newLemmyInstance(ts)

	account, err := instance.LookupAccount(context.Background(), "rust_fan")
	require.NoError(t, err)
	require.Equal(t, "301", account.ID)
	require.Equal(t, "https://lemmy.example/u/rust_fan", account.URL)
}

func TestLemmy_TrendingPaginatesByPage(t *testing.T) {
	t.Parallel()

	var pages []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/post/list", r.URL.Path)
		require.Equal(t, "Active", r.URL.Query().Get("sort"))
		page := r.URL.Query().Get("page")
		pages = append(pages, page)
		if page == "1" {
			fmt.Fprint(w, `{"posts":[
				{"post":{"id":1,"ap_id":"https://lemmy.example/post/1"},"counts":{"comments":9,"upvotes":100}},
				{"post":{"id":2,"ap_id":"https://lemmy.example/post/2"},"counts":{"comments":3,"upvotes":50}}
			]}`)
			return
		}
		fmt.Fprint(w, `{"posts":[]}`)
	}))
	defer ts.Close()

	instance := newLemmyInstance(ts)

	statuses, err := instance.GetTrendingStatuses(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	require.Equal(t, []string{"1", "2"}, pages)
	require.Equal(t, 9, statuses[0].RepliesCount)
}

func TestLemmy_ResolveUnsupported(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request to %s", r.URL.Path)
	}))
	defer ts.Close()

	instance := newLemmyInstance(ts)

	_, err := instance.Get(context.Background(), "https://lemmy.example/post/117")
	require.ErrorIs(t, err, fediverse.ErrUnsupported)
}
