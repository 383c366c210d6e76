// Package walker expands seed statuses into the remote URLs of their
// threads by asking each status's origin server for ancestors and
// descendants.
package walker

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/Teqed/FediFetcher-sub000/internal/fediverse"
	"github.com/Teqed/FediFetcher-sub000/internal/logger"
	"github.com/Teqed/FediFetcher-sub000/internal/statestore"
	"github.com/Teqed/FediFetcher-sub000/internal/urlparse"
)

// InstanceSource hands out a memoized Instance per origin server.
type InstanceSource interface {
	Instance(ctx context.Context, server string) *fediverse.Instance
}

// Walker turns seed statuses into the remote URLs of their threads.
// Origins are contacted in parallel; each origin's own client gate
// keeps the per-peer request rate down.
type Walker struct {
	home    *fediverse.Instance
	sources InstanceSource
	parser  *urlparse.Parser
	replies *statestore.ReplyMap
	log     logger.Interface
}

// New creates a walker. The reply map records redirect probes so a
// derived URL is resolved at most once across runs.
func New(home *fediverse.Instance, sources InstanceSource, parser *urlparse.Parser, replies *statestore.ReplyMap, log logger.Interface) *Walker {
	return &Walker{
		home:    home,
		sources: sources,
		parser:  parser,
		replies: replies,
		log:     log.WithComponent("walker"),
	}
}

type contextRef struct {
	id  string
	url string
}

// KnownContextURLs walks the threads of all parseable seeds and returns
// the deduplicated union of URLs found in them. URLs hosted on the home
// server are dropped, since those posts are already present. A failure
// on one origin never aborts the others.
func (w *Walker) KnownContextURLs(ctx context.Context, seeds []fediverse.Status) []string {
	byServer := make(map[string][]contextRef)
	var servers []string

	for idx := range seeds {
		seed := &seeds[idx]
		seedURL := seed.EffectiveURL()
		if seedURL == "" {
			resolved, ok := w.ReplyOrigin(ctx, seed)
			if !ok {
				continue
			}
			seedURL = resolved
		}

		parsed, ok := w.parser.Parse(seedURL)
		if !ok {
			w.log.Debug("Skipping unparseable post URL", "url", seedURL)
			continue
		}
		if _, known := byServer[parsed.Server]; !known {
			servers = append(servers, parsed.Server)
		}
		byServer[parsed.Server] = append(byServer[parsed.Server], contextRef{id: parsed.ID, url: seedURL})
	}

	collected := make(map[string][]string, len(servers))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, server := range servers {
		server := server
		refs := byServer[server]
		wg.Add(1)
		go func() {
			defer wg.Done()
			instance := w.sources.Instance(ctx, server)
			var urls []string
			for _, ref := range refs {
				contextURLs, err := instance.GetContext(ctx, ref.id, ref.url)
				if err != nil {
					w.log.Debug("Failed to fetch context",
						"server", server,
						"id", ref.id,
						"error", err,
					)
					continue
				}
				urls = append(urls, contextURLs...)
			}
			mu.Lock()
			collected[server] = urls
			mu.Unlock()
		}()
	}
	wg.Wait()

	homeHost := strings.ToLower(w.home.Domain())
	seen := make(map[string]struct{})
	var union []string
	for _, server := range servers {
		for _, contextURL := range collected[server] {
			if strings.EqualFold(hostOf(contextURL), homeHost) {
				continue
			}
			if _, dup := seen[contextURL]; dup {
				continue
			}
			seen[contextURL] = struct{}{}
			union = append(union, contextURL)
		}
	}

	w.log.Info("Collected context URLs",
		"seeds", len(seeds),
		"origins", len(servers),
		"urls", len(union),
	)
	return union
}

// ReplyOrigin derives the origin URL of the post a seed replies to. The
// home server redirects /@acct/<parent id> to the canonical URL, which
// a HEAD probe captures without a body. Both outcomes are recorded in
// the reply map, so no URL is probed twice.
func (w *Walker) ReplyOrigin(ctx context.Context, seed *fediverse.Status) (string, bool) {
	if seed.InReplyToID == "" {
		return "", false
	}
	acct := replyMentionAcct(seed)
	if acct == "" {
		return "", false
	}

	derived := w.home.Client().URL(fmt.Sprintf("/@%s/%s", acct, seed.InReplyToID))
	if res, known := w.replies.Get(derived); known {
		if res == nil {
			return "", false
		}
		return res.Redirect, true
	}

	location, err := w.home.Client().Head(ctx, derived)
	if err != nil {
		w.log.Debug("Redirect probe failed", "url", derived, "error", err)
		w.replies.SetUnresolved(derived)
		return "", false
	}
	target := location
	if target == "" {
		// No redirect means the parent is a local post; the derived
		// URL is already canonical.
		target = derived
	}

	parsed, ok := w.parser.Parse(target)
	if !ok {
		w.log.Debug("Redirect target is not a post URL", "url", target)
		w.replies.SetUnresolved(derived)
		return "", false
	}
	w.replies.SetResolved(derived, target, parsed.Server, parsed.ID)
	return target, true
}

func replyMentionAcct(seed *fediverse.Status) string {
	for _, mention := range seed.Mentions {
		if mention.ID == seed.InReplyToAcctID {
			return mention.Acct
		}
	}
	return ""
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}
