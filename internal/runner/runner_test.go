package runner_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Teqed/FediFetcher-sub000/internal/config"
	"github.com/Teqed/FediFetcher-sub000/internal/database"
	"github.com/Teqed/FediFetcher-sub000/internal/fediverse"
	"github.com/Teqed/FediFetcher-sub000/internal/lockfile"
	"github.com/Teqed/FediFetcher-sub000/internal/logger"
	"github.com/Teqed/FediFetcher-sub000/internal/peers"
	"github.com/Teqed/FediFetcher-sub000/internal/runner"
	"github.com/Teqed/FediFetcher-sub000/internal/statestore"
	"github.com/Teqed/FediFetcher-sub000/internal/urlparse"
)

// fakePool routes every server name to one test server.
type fakePool struct {
	ts *httptest.Server
}

func (p *fakePool) Get(server string) *peers.Client {
	return peers.NewClient(p.ts.URL, peers.Options{HTTPClient: p.ts.Client()})
}

func (p *fakePool) GetWithToken(server, token string) *peers.Client {
	return peers.NewClient(p.ts.URL, peers.Options{HTTPClient: p.ts.Client(), Token: token})
}

type statsUpdate struct {
	id                  string
	reblogs, favourites int
}

type statsRecorder struct {
	mu      sync.Mutex
	updates []statsUpdate
	commits int
}

func (s *statsRecorder) Queue(id string, reblogs, favourites int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, statsUpdate{id: id, reblogs: reblogs, favourites: favourites})
}

func (s *statsRecorder) Commit(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits++
	return nil
}

func (s *statsRecorder) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.updates)
}

// hookRecorder captures webhook pings in call order.
type hookRecorder struct {
	ts *httptest.Server

	mu    sync.Mutex
	paths []string
	rids  []string
}

func newHookRecorder(t *testing.T) *hookRecorder {
	t.Helper()
	h := &hookRecorder{}
	h.ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.paths = append(h.paths, r.URL.Path)
		h.rids = append(h.rids, r.URL.Query().Get("rid"))
	}))
	t.Cleanup(h.ts.Close)
	return h
}

func (h *hookRecorder) calls() ([]string, []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.paths...), append([]string(nil), h.rids...)
}

// searchHandler answers federated search lookups from a url→local-id
// table.
func searchHandler(ids map[string]string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		id, ok := ids[q]
		if !ok {
			fmt.Fprint(w, `{"statuses":[]}`)
			return
		}
		fmt.Fprintf(w, `{"statuses":[{"id":%q,"uri":%q,"url":%q,"reblogs_count":2}]}`, id, q, q)
	}
}

func testConfig(t *testing.T, hooks *hookRecorder) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		Server:                "home.example",
		AccessToken:           []string{"admin-token"},
		RememberUsersForHours: 168,
		HTTPTimeout:           5,
		LockHours:             24,
		StateDir:              dir,
		LockFile:              filepath.Join(dir, "lock.lock"),
	}
	if hooks != nil {
		cfg.OnStart = hooks.ts.URL + "/start"
		cfg.OnDone = hooks.ts.URL + "/done"
		cfg.OnFail = hooks.ts.URL + "/fail"
	}
	return cfg
}

func newRunner(t *testing.T, cfg *config.Config, ts *httptest.Server, stats *statsRecorder) *runner.Runner {
	t.Helper()
	manager := fediverse.NewManager(&fakePool{ts: ts}, logger.NewNoOp())
	return runner.New(cfg, logger.NewNoOp(), manager, urlparse.New(), database.NewMemoryCache(), stats)
}

func TestRun_TimelineContextEndToEnd(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/timelines/home", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{
			"id": "10",
			"uri": "https://origin.example/users/bob/statuses/111",
			"url": "https://origin.example/@bob/111",
			"created_at": "2025-08-01T12:00:00Z",
			"account": {"id": "2", "acct": "bob@origin.example", "url": "https://origin.example/@bob"}
		}]`)
	})
	mux.HandleFunc("/nodeinfo/2.0", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"software":{"name":"mastodon","version":"4.2.0"}}`)
	})
	mux.HandleFunc("/api/v1/statuses/111/context", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ancestors":[],"descendants":[{"id":"222","url":"https://origin.example/@carol/222"}]}`)
	})
	mux.HandleFunc("/api/v2/search", searchHandler(map[string]string{
		"https://origin.example/@carol/222": "local-222",
	}))
	ts := httptest.NewServer(mux)
	defer ts.Close()

	hooks := newHookRecorder(t)
	cfg := testConfig(t, hooks)
	cfg.HomeTimelineLength = 10

	stats := &statsRecorder{}
	summary, err := newRunner(t, cfg, ts, stats).Run(context.Background())
	require.NoError(t, err)

	require.NotEmpty(t, summary.RunID)
	require.Equal(t, "home.example", summary.Server)
	require.Equal(t, 1, summary.Added)
	require.Empty(t, summary.Error)
	require.Len(t, summary.Modes, 1)
	require.Equal(t, "home_timeline", summary.Modes[0].Name)
	require.Equal(t, 1, summary.Modes[0].Added)

	// The imported copy's engagement counters were queued and committed.
	require.Equal(t, []statsUpdate{{id: "local-222", reblogs: 2}}, stats.updates)
	require.Equal(t, 1, stats.commits)

	// Lifecycle hooks carry the run id.
	paths, rids := hooks.calls()
	require.Equal(t, []string{"/start", "/done"}, paths)
	require.Equal(t, []string{summary.RunID, summary.RunID}, rids)

	// State files were written and the lock was released.
	for _, name := range []string{
		statestore.FileKnownFollowings,
		statestore.FileRecentlyChecked,
		statestore.FileReplies,
	} {
		_, statErr := os.Stat(filepath.Join(cfg.StateDir, name))
		require.NoError(t, statErr, name)
	}
	_, lockErr := os.Stat(cfg.LockFile)
	require.True(t, os.IsNotExist(lockErr), "lock must be released")
}

func TestRun_LockHeldAborts(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no API traffic expected while locked, got %s", r.URL.Path)
	}))
	defer ts.Close()

	hooks := newHookRecorder(t)
	cfg := testConfig(t, hooks)
	cfg.HomeTimelineLength = 10

	stamp := time.Now().UTC().Format(time.RFC3339) + "\n"
	require.NoError(t, os.WriteFile(cfg.LockFile, []byte(stamp), 0o644))

	summary, err := newRunner(t, cfg, ts, &statsRecorder{}).Run(context.Background())
	require.ErrorIs(t, err, lockfile.ErrHeld)
	require.NotEmpty(t, summary.Error)
	require.Empty(t, summary.Modes)

	paths, rids := hooks.calls()
	require.Equal(t, []string{"/fail"}, paths)
	require.Equal(t, []string{summary.RunID}, rids)

	// The foreign lock is left alone.
	data, readErr := os.ReadFile(cfg.LockFile)
	require.NoError(t, readErr)
	require.Equal(t, stamp, string(data))
}

func TestRun_ModeFailureDoesNotAbortRun(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/admin/accounts", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"This action is not allowed"}`, http.StatusForbidden)
	})
	mux.HandleFunc("/api/v1/accounts/verify_credentials", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"me1","acct":"self","url":"https://home.example/@self"}`)
	})
	mux.HandleFunc("/api/v1/accounts/me1/statuses", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	})
	mux.HandleFunc("/api/v1/bookmarks", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	hooks := newHookRecorder(t)
	cfg := testConfig(t, hooks)
	cfg.ReplyInterval = 1
	cfg.MaxBookmarks = 5

	summary, err := newRunner(t, cfg, ts, &statsRecorder{}).Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, summary.Error)

	require.Len(t, summary.Modes, 3)
	require.Equal(t, "active_user_replies", summary.Modes[0].Name)
	require.NotEmpty(t, summary.Modes[0].Error)
	require.Equal(t, "own_replies", summary.Modes[1].Name)
	require.Empty(t, summary.Modes[1].Error)
	require.Equal(t, "bookmarks", summary.Modes[2].Name)
	require.Empty(t, summary.Modes[2].Error)

	paths, _ := hooks.calls()
	require.Equal(t, []string{"/start", "/done"}, paths)
}

func TestRun_BackfillRecordsCheckedUsers(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC().Format(time.RFC3339)
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/notifications", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `[{
			"id": "n1",
			"type": "mention",
			"created_at": %q,
			"account": {"id": "9", "acct": "dave@origin.example", "url": "https://origin.example/@dave"}
		}]`, now)
	})
	mux.HandleFunc("/nodeinfo/2.0", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"software":{"name":"mastodon","version":"4.2.0"}}`)
	})
	mux.HandleFunc("/api/v1/accounts/lookup", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "dave", r.URL.Query().Get("acct"))
		fmt.Fprint(w, `{"id":"9","acct":"dave","url":"https://origin.example/@dave"}`)
	})
	mux.HandleFunc("/api/v1/accounts/9/statuses", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `[{
			"id": "901",
			"uri": "https://origin.example/users/dave/statuses/901",
			"url": "https://origin.example/@dave/901",
			"created_at": %q
		}]`, now)
	})
	mux.HandleFunc("/api/v2/search", searchHandler(map[string]string{
		"https://origin.example/@dave/901": "local-901",
	}))
	ts := httptest.NewServer(mux)
	defer ts.Close()

	cfg := testConfig(t, nil)
	cfg.FromNotifications = 24

	summary, err := newRunner(t, cfg, ts, &statsRecorder{}).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Added)
	require.Len(t, summary.Modes, 1)
	require.Equal(t, "notification_users", summary.Modes[0].Name)

	// The backfilled account is remembered across runs.
	store := statestore.New(cfg.StateDir, logger.NewNoOp())
	require.NoError(t, store.Load(cfg.RememberUsersHorizon()))
	require.True(t, store.RecentlyChecked.Contains("dave@origin.example"))
}

func TestRun_SecondRunSkipsCheckedUsers(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC().Format(time.RFC3339)
	var lookups atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/notifications", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `[{
			"id": "n1",
			"type": "follow",
			"created_at": %q,
			"account": {"id": "9", "acct": "dave@origin.example", "url": "https://origin.example/@dave"}
		}]`, now)
	})
	mux.HandleFunc("/nodeinfo/2.0", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"software":{"name":"mastodon","version":"4.2.0"}}`)
	})
	mux.HandleFunc("/api/v1/accounts/lookup", func(w http.ResponseWriter, r *http.Request) {
		lookups.Add(1)
		fmt.Fprint(w, `{"id":"9","acct":"dave","url":"https://origin.example/@dave"}`)
	})
	mux.HandleFunc("/api/v1/accounts/9/statuses", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	cfg := testConfig(t, nil)
	cfg.FromNotifications = 24

	r := newRunner(t, cfg, ts, &statsRecorder{})
	_, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(1), lookups.Load())

	// The state file remembers dave; the second run must not look the
	// account up again.
	_, err = r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(1), lookups.Load())
}
