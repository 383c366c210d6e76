package statestore_test

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Teqed/FediFetcher-sub000/internal/logger"
	"github.com/Teqed/FediFetcher-sub000/internal/statestore"
)

func TestStore_LoadMissingFilesYieldsEmptyState(t *testing.T) {
	t.Parallel()

	s := statestore.New(filepath.Join(t.TempDir(), "does-not-exist"), logger.NewNoOp())
	require.NoError(t, s.Load(168*time.Hour))

	require.Equal(t, 0, s.KnownFollowings.Len())
	require.Equal(t, 0, s.RecentlyChecked.Len())
	require.Equal(t, 0, s.Replies.Len())
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := statestore.New(dir, logger.NewNoOp())

	s.KnownFollowings.Add("alice@peer.example")
	s.KnownFollowings.Add("bob@other.example")
	s.RecentlyChecked.AddAt("carol@peer.example", time.Now().UTC().Add(-time.Hour))
	s.Replies.SetResolved(
		"https://home.example/@alice/1",
		"https://peer.example/@bob/9",
		"peer.example",
		"9",
	)
	s.Replies.SetUnresolved("https://home.example/@alice/2")

	require.NoError(t, s.Save())

	reloaded := statestore.New(dir, logger.NewNoOp())
	require.NoError(t, reloaded.Load(168*time.Hour))

	require.Equal(t, []string{"alice@peer.example", "bob@other.example"}, reloaded.KnownFollowings.Items())
	require.True(t, reloaded.RecentlyChecked.Contains("carol@peer.example"))

	res, ok := reloaded.Replies.Get("https://home.example/@alice/1")
	require.True(t, ok)
	require.NotNil(t, res)
	require.Equal(t, "https://peer.example/@bob/9", res.Redirect)
	require.Equal(t, "peer.example", res.Server)
	require.Equal(t, "9", res.ID)

	res, ok = reloaded.Replies.Get("https://home.example/@alice/2")
	require.True(t, ok, "unresolved entries survive the round trip")
	require.Nil(t, res)
}

func TestStore_LoadExpiresOldUsers(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := statestore.New(dir, logger.NewNoOp())
	s.RecentlyChecked.AddAt("stale@peer.example", time.Now().UTC().Add(-200*time.Hour))
	s.RecentlyChecked.AddAt("fresh@peer.example", time.Now().UTC().Add(-time.Hour))
	require.NoError(t, s.Save())

	reloaded := statestore.New(dir, logger.NewNoOp())
	require.NoError(t, reloaded.Load(168*time.Hour))

	require.False(t, reloaded.RecentlyChecked.Contains("stale@peer.example"))
	require.True(t, reloaded.RecentlyChecked.Contains("fresh@peer.example"))
}

func TestStore_SaveTruncatesToMostRecent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := statestore.New(dir, logger.NewNoOp())
	total := statestore.MaxEntries + 25
	for i := 0; i < total; i++ {
		s.KnownFollowings.Add(fmt.Sprintf("user-%06d@peer.example", i))
	}
	require.NoError(t, s.Save())

	reloaded := statestore.New(dir, logger.NewNoOp())
	require.NoError(t, reloaded.Load(0))

	require.Equal(t, statestore.MaxEntries, reloaded.KnownFollowings.Len())
	require.False(t, reloaded.KnownFollowings.Contains("user-000024@peer.example"))
	require.True(t, reloaded.KnownFollowings.Contains("user-000025@peer.example"))
	require.True(t, reloaded.KnownFollowings.Contains(fmt.Sprintf("user-%06d@peer.example", total-1)))
}

func TestStore_KnownFollowingsFileIsLineDelimited(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := statestore.New(dir, logger.NewNoOp())
	s.KnownFollowings.Add("a@x.example")
	s.KnownFollowings.Add("b@y.example")
	require.NoError(t, s.Save())

	data, err := os.ReadFile(filepath.Join(dir, statestore.FileKnownFollowings))
	require.NoError(t, err)
	require.Equal(t, "a@x.example\nb@y.example\n", string(data))
}

func TestStore_SaveLeavesNoTempFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := statestore.New(dir, logger.NewNoOp())
	s.KnownFollowings.Add("a@x.example")
	require.NoError(t, s.Save())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		require.False(t, strings.Contains(e.Name(), ".tmp-"), "temp file left behind: %s", e.Name())
	}
}

func TestReplyMap_PreservesDocumentOrder(t *testing.T) {
	t.Parallel()

	raw := `{"https://h.example/@a/3":null,"https://h.example/@a/1":"https://p.example/@b/9,p.example,9","https://h.example/@a/2":null}`

	var m statestore.ReplyMap
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	require.Equal(t, []string{
		"https://h.example/@a/3",
		"https://h.example/@a/1",
		"https://h.example/@a/2",
	}, m.Keys())
}

func TestReplyMap_RedirectWithCommasSurvives(t *testing.T) {
	t.Parallel()

	m := statestore.NewReplyMap()
	m.SetResolved("https://h.example/@a/1", "https://p.example/@b/9?x=1,2", "p.example", "9")

	data, err := json.Marshal(m)
	require.NoError(t, err)

	var decoded statestore.ReplyMap
	require.NoError(t, json.Unmarshal(data, &decoded))

	res, ok := decoded.Get("https://h.example/@a/1")
	require.True(t, ok)
	require.NotNil(t, res)
	require.Equal(t, "https://p.example/@b/9?x=1,2", res.Redirect)
	require.Equal(t, "p.example", res.Server)
	require.Equal(t, "9", res.ID)
}
