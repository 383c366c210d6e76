package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Teqed/FediFetcher-sub000/internal/logger"
)

func TestPing_AppendsRunID(t *testing.T) {
	t.Parallel()

	var got *http.Request
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
	}))
	defer ts.Close()

	n := New("run-123", logger.NewNoOp())
	n.Ping(context.Background(), ts.URL+"/hooks/start?source=fedifetch")

	require.NotNil(t, got)
	require.Equal(t, "/hooks/start", got.URL.Path)
	require.Equal(t, "run-123", got.URL.Query().Get("rid"))
	require.Equal(t, "fedifetch", got.URL.Query().Get("source"))
}

func TestPing_EmptyURLIsNoOp(t *testing.T) {
	t.Parallel()

	n := New("run-123", logger.NewNoOp())
	n.Ping(context.Background(), "")
}

func TestPing_UnreachableTargetDoesNotPanic(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	ts.Close()

	n := New("run-123", logger.NewNoOp())
	n.Ping(context.Background(), ts.URL)
}
