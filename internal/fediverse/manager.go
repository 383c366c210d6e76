package fediverse

import (
	"context"
	"strings"
	"sync"

	"github.com/Teqed/FediFetcher-sub000/internal/logger"
	"github.com/Teqed/FediFetcher-sub000/internal/peers"
)

// ClientPool hands out per-server HTTP clients. *peers.Pool satisfies
// it.
type ClientPool interface {
	Get(server string) *peers.Client
	GetWithToken(server, token string) *peers.Client
}

// Manager memoizes one Instance per domain for the life of a run.
// Tokens for peer servers come from the pool's token table; the home
// server's token is injected explicitly.
type Manager struct {
	mu        sync.Mutex
	pool      ClientPool
	log       logger.Interface
	instances map[string]*Instance
}

func NewManager(pool ClientPool, log logger.Interface) *Manager {
	return &Manager{
		pool:      pool,
		log:       log,
		instances: make(map[string]*Instance),
	}
}

// Home builds and memoizes the local server's instance with its bearer
// token. No probe: the home server must speak the Mastodon client API
// for federated search and timelines to work at all.
func (m *Manager) Home(server, token string) *Instance {
	host := normalizeDomain(server)

	m.mu.Lock()
	defer m.mu.Unlock()
	if inst, ok := m.instances[host]; ok {
		return inst
	}
	inst := NewHomeInstance(host, m.pool.GetWithToken(host, token), m.log)
	m.instances[host] = inst
	return inst
}

// HomeWithToken builds a home instance bound to a specific bearer
// token, bypassing the domain memo. Runs configured with several access
// tokens get one instance per token; the pool already memoizes the
// underlying client per host and token, so these are cheap.
func (m *Manager) HomeWithToken(server, token string) *Instance {
	host := normalizeDomain(server)
	return NewHomeInstance(host, m.pool.GetWithToken(host, token), m.log)
}

// Instance returns the memoized instance for a peer server, probing its
// software on first use. A failed probe degrades to the limited
// Mastodon-compatible backend rather than failing the caller.
func (m *Manager) Instance(ctx context.Context, server string) *Instance {
	host := normalizeDomain(server)

	m.mu.Lock()
	if inst, ok := m.instances[host]; ok {
		m.mu.Unlock()
		return inst
	}
	m.mu.Unlock()

	client := m.pool.Get(host)
	software, name, err := DetectSoftware(ctx, client, m.pool, m.log)
	if err != nil {
		m.log.Debug("Software probe failed, assuming Mastodon-compatible",
			"server", host,
			"error", err,
		)
	} else {
		m.log.Debug("Detected server software",
			"server", host,
			"software", software.String(),
			"reported", name,
		)
	}
	inst := NewInstance(host, software, client, m.log)

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.instances[host]; ok {
		return existing
	}
	m.instances[host] = inst
	return inst
}

// Size returns the number of distinct servers contacted so far.
func (m *Manager) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.instances)
}

func normalizeDomain(server string) string {
	s := strings.TrimSpace(server)
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	if slash := strings.IndexByte(s, '/'); slash >= 0 {
		s = s[:slash]
	}
	return strings.ToLower(s)
}
