package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Teqed/FediFetcher-sub000/internal/fediverse"
)

func originalStatus(counts ...int) *fediverse.Status {
	status := &fediverse.Status{
		ID:      "113625",
		URI:     "https://peer.example/users/amy/statuses/113625",
		URL:     "https://peer.example/@amy/113625",
		Content: "<p>from origin</p>",
	}
	if len(counts) == 3 {
		status.RepliesCount = counts[0]
		status.ReblogsCount = counts[1]
		status.FavouritesCount = counts[2]
	}
	return status
}

func importedStatus(counts ...int) *fediverse.Status {
	status := originalStatus(counts...)
	status.ID = "42"
	status.Content = "<p>as imported</p>"
	return status
}

func TestMemoryCache_CountersNeverDecrease(t *testing.T) {
	cache := NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, cache.CacheStatus(ctx, originalStatus(5, 2, 9)))
	require.NoError(t, cache.CacheStatus(ctx, originalStatus(3, 4, 1)))

	got, err := cache.GetFromCache(ctx, "https://peer.example/@amy/113625")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, 5, got.RepliesCount)
	require.Equal(t, 4, got.ReblogsCount)
	require.Equal(t, 9, got.FavouritesCount)

	require.NoError(t, cache.CacheStatus(ctx, originalStatus(10, 10, 10)))
	got, err = cache.GetFromCache(ctx, "https://peer.example/@amy/113625")
	require.NoError(t, err)
	require.Equal(t, 10, got.RepliesCount)
	require.Equal(t, 10, got.ReblogsCount)
	require.Equal(t, 10, got.FavouritesCount)
}

func TestMemoryCache_OriginalIsNeverDowngraded(t *testing.T) {
	cache := NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, cache.CacheStatus(ctx, originalStatus(5, 0, 0)))
	require.NoError(t, cache.CacheStatus(ctx, importedStatus(9, 0, 0)))

	got, err := cache.GetFromCache(ctx, "https://peer.example/@amy/113625")
	require.NoError(t, err)
	require.True(t, got.IsOriginal())
	require.Equal(t, "<p>from origin</p>", got.Content)
	require.Equal(t, 5, got.RepliesCount)
}

func TestMemoryCache_OriginalUpgradesImportedRow(t *testing.T) {
	cache := NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, cache.CacheStatus(ctx, importedStatus(2, 0, 0)))
	require.NoError(t, cache.CacheStatus(ctx, originalStatus(7, 1, 3)))

	got, err := cache.GetFromCache(ctx, "https://peer.example/@amy/113625")
	require.NoError(t, err)
	require.True(t, got.IsOriginal())
	require.Equal(t, "113625", got.ID)
	require.Equal(t, 7, got.RepliesCount)
}

func TestMemoryCache_GetDictFromCache(t *testing.T) {
	cache := NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, cache.CacheStatus(ctx, originalStatus(1, 1, 1)))

	dict, err := cache.GetDictFromCache(ctx, []string{
		"https://peer.example/@amy/113625",
		"https://peer.example/@bob/7",
	})
	require.NoError(t, err)
	require.Len(t, dict, 1)
	require.Contains(t, dict, "https://peer.example/@amy/113625")
	require.Equal(t, 1, cache.Size())
}

func TestMemoryCache_MissReturnsNil(t *testing.T) {
	cache := NewMemoryCache()

	got, err := cache.GetFromCache(context.Background(), "https://peer.example/@nobody/0")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestMemoryCache_KeepsKnownIDWhenRefreshHasNone(t *testing.T) {
	cache := NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, cache.CacheStatus(ctx, importedStatus(1, 0, 0)))

	refresh := importedStatus(4, 0, 0)
	refresh.ID = ""
	require.NoError(t, cache.CacheStatus(ctx, refresh))

	got, err := cache.GetFromCache(ctx, "https://peer.example/@amy/113625")
	require.NoError(t, err)
	require.Equal(t, "42", got.ID)
	require.Equal(t, 4, got.RepliesCount)
}
