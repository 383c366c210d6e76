package peers

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Teqed/FediFetcher-sub000/internal/logger"
)

// Pool hands out one Client per (server, token) pair, created lazily and
// kept for the whole run. All clients share one keep-alive transport.
type Pool struct {
	mu      sync.Mutex
	clients map[string]*Client
	http    *http.Client
	opts    PoolOptions
}

// PoolOptions configures every client the pool creates.
type PoolOptions struct {
	// Timeout is the per-request timeout.
	Timeout time.Duration
	// UserAgent overrides DefaultUserAgent when set.
	UserAgent string
	// Tokens maps server hostname to a bearer token used by default.
	Tokens map[string]string
	// Sleep overrides the rate-limit sleeper, for tests.
	Sleep SleepFunc
	// Logger receives per-request and backoff logging.
	Logger logger.Interface
}

// NewPool creates an empty pool.
func NewPool(opts PoolOptions) *Pool {
	if opts.Logger == nil {
		opts.Logger = logger.NewNoOp()
	}
	return &Pool{
		clients: make(map[string]*Client),
		http:    newHTTPClient(),
		opts:    opts,
	}
}

// Get returns the client for server using the pool's token table.
func (p *Pool) Get(server string) *Client {
	key := normalizeHost(server)
	return p.GetWithToken(key, p.opts.Tokens[key])
}

// GetWithToken returns the client for server bound to an explicit token.
// Clients are memoized per (server, token).
func (p *Pool) GetWithToken(server, token string) *Client {
	host := normalizeHost(server)
	key := host + "\x00" + token

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[key]; ok {
		return c
	}
	c := NewClient(host, Options{
		Token:      token,
		Timeout:    p.opts.Timeout,
		UserAgent:  p.opts.UserAgent,
		HTTPClient: p.http,
		Sleep:      p.opts.Sleep,
		Logger:     p.opts.Logger,
	})
	p.clients[key] = c
	return c
}

// Size returns the number of clients created so far.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}

func normalizeHost(server string) string {
	s := strings.TrimSpace(server)
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimSuffix(s, "/")
	return strings.ToLower(s)
}
