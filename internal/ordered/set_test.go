package ordered_test

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Teqed/FediFetcher-sub000/internal/ordered"
)

func TestSet_InsertionOrder(t *testing.T) {
	t.Parallel()

	s := ordered.NewSet()
	s.Add("a@x.example")
	s.Add("b@y.example")
	s.Add("c@z.example")

	require.Equal(t, 3, s.Len())
	require.Equal(t, []string{"a@x.example", "b@y.example", "c@z.example"}, s.Items())
	require.True(t, s.Contains("b@y.example"))
	require.False(t, s.Contains("d@w.example"))
}

func TestSet_ReAddRefreshes(t *testing.T) {
	t.Parallel()

	s := ordered.NewSet()
	old := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	s.AddAt("a", old)
	s.AddAt("b", old.Add(time.Hour))

	fresh := old.Add(48 * time.Hour)
	s.AddAt("a", fresh)

	require.Equal(t, []string{"b", "a"}, s.Items(), "re-added entry moves to the end")
	ts, ok := s.Timestamp("a")
	require.True(t, ok)
	require.True(t, ts.Equal(fresh))
}

func TestSet_Remove(t *testing.T) {
	t.Parallel()

	s := ordered.NewSet()
	s.Add("a")
	s.Add("b")

	require.True(t, s.Remove("a"))
	require.False(t, s.Remove("a"))
	require.Equal(t, []string{"b"}, s.Items())
}

func TestSet_TrimOldestKeepsMostRecent(t *testing.T) {
	t.Parallel()

	s := ordered.NewSet()
	for i := 0; i < 100; i++ {
		s.Add(fmt.Sprintf("entry-%03d", i))
	}

	dropped := s.TrimOldest(10)
	require.Equal(t, 90, dropped)
	require.Equal(t, 10, s.Len())

	items := s.Items()
	require.Equal(t, "entry-090", items[0])
	require.Equal(t, "entry-099", items[9])
	require.False(t, s.Contains("entry-089"))
}

func TestSet_TrimOldestNoOpUnderLimit(t *testing.T) {
	t.Parallel()

	s := ordered.NewSet()
	s.Add("a")
	require.Equal(t, 0, s.TrimOldest(50))
	require.Equal(t, 1, s.Len())
}

func TestSet_ExpireOlderThan(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	s := ordered.NewSet()
	s.AddAt("stale", now.Add(-200*time.Hour))
	s.AddAt("fresh", now.Add(-time.Hour))

	dropped := s.ExpireOlderThan(now.Add(-168 * time.Hour))
	require.Equal(t, 1, dropped)
	require.Equal(t, []string{"fresh"}, s.Items())
}

func TestSet_JSONRoundTrip(t *testing.T) {
	t.Parallel()

	s := ordered.NewSet()
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s.AddAt("first@x.example", base)
	s.AddAt("second@y.example", base.Add(time.Minute))
	s.AddAt("third@z.example", base.Add(2*time.Minute))

	data, err := json.Marshal(s)
	require.NoError(t, err)

	var decoded ordered.Set
	require.NoError(t, json.Unmarshal(data, &decoded))

	require.Equal(t, s.Items(), decoded.Items())
	for _, k := range s.Items() {
		want, _ := s.Timestamp(k)
		got, ok := decoded.Timestamp(k)
		require.True(t, ok)
		require.True(t, want.Equal(got))
	}
}

func TestSet_MarshalPreservesInsertionOrder(t *testing.T) {
	t.Parallel()

	s := ordered.NewSet()
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s.AddAt("zz", base)
	s.AddAt("aa", base.Add(time.Second))

	data, err := json.Marshal(s)
	require.NoError(t, err)
	require.JSONEq(t, `{"zz":"2024-06-01T12:00:00Z","aa":"2024-06-01T12:00:01Z"}`, string(data))

	// zz was inserted first and must serialize first.
	require.Less(t, indexOf(t, string(data), "zz"), indexOf(t, string(data), "aa"))
}

func indexOf(t *testing.T, s, sub string) int {
	t.Helper()
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	t.Fatalf("%q not found in %q", sub, s)
	return -1
}
