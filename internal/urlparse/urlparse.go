// Package urlparse classifies Fediverse URLs into (backend, server, id)
// tuples. Backend detection uses ordered pattern alternatives where the
// first match wins; Pixelfed's catch-all user pattern is tried last.
package urlparse

import (
	"regexp"
	"strings"
	"sync"
)

// Kind identifies the server software family a URL shape belongs to.
type Kind int

const (
	// KindUnknown marks URLs that matched no known pattern.
	KindUnknown Kind = iota
	// KindMastodon covers Mastodon and API-compatible forks.
	KindMastodon
	// KindPleroma covers Pleroma and Akkoma.
	KindPleroma
	// KindFirefish covers Firefish, Calckey, and other Misskey forks.
	KindFirefish
	// KindPixelfed covers Pixelfed.
	KindPixelfed
	// KindLemmy covers Lemmy.
	KindLemmy
)

var kindNames = map[Kind]string{
	KindUnknown:  "unknown",
	KindMastodon: "mastodon",
	KindPleroma:  "pleroma",
	KindFirefish: "firefish",
	KindPixelfed: "pixelfed",
	KindLemmy:    "lemmy",
}

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Result is a parsed post URL.
type Result struct {
	Kind   Kind
	Server string
	ID     string
}

// UserResult is a parsed profile URL.
type UserResult struct {
	Kind     Kind
	Server   string
	Username string
}

type pattern struct {
	kind Kind
	re   *regexp.Regexp
}

// Post URL shapes, most specific first.
var postPatterns = []pattern{
	{KindMastodon, regexp.MustCompile(`^https://([^/]+)/@[^/]+/([^/]+)/?$`)},
	{KindMastodon, regexp.MustCompile(`^https://([^/]+)/users/[^/]+/statuses/([^/]+)/?$`)},
	{KindFirefish, regexp.MustCompile(`^https://([^/]+)/notes/([^/]+)/?$`)},
	{KindPixelfed, regexp.MustCompile(`^https://([^/]+)/p/[^/]+/([^/]+)/?$`)},
	{KindPleroma, regexp.MustCompile(`^https://([^/]+)/objects/([^/]+)/?$`)},
	{KindLemmy, regexp.MustCompile(`^https://([^/]+)/(?:comment|post)/([^/]+)/?$`)},
}

// Profile URL shapes. The Pixelfed single-segment pattern matches almost
// anything, so it must stay last.
var userPatterns = []pattern{
	{KindMastodon, regexp.MustCompile(`^https://([^/]+)/@([^/]+)/?$`)},
	{KindPleroma, regexp.MustCompile(`^https://([^/]+)/users/([^/]+)/?$`)},
	{KindLemmy, regexp.MustCompile(`^https://([^/]+)/(?:u|c)/([^/]+)/?$`)},
	{KindPixelfed, regexp.MustCompile(`^https://([^/]+)/([^/@][^/]*)/?$`)},
}

// Parser memoizes parse results per raw URL, negative results included.
// Safe for concurrent use.
type Parser struct {
	mu     sync.Mutex
	posts  map[string]*Result
	users  map[string]*UserResult
	hits   int
	misses int
}

// New creates an empty Parser.
func New() *Parser {
	return &Parser{
		posts: make(map[string]*Result),
		users: make(map[string]*UserResult),
	}
}

// Parse classifies a post URL. The second return value is false when the
// URL matches no known post shape.
func (p *Parser) Parse(rawURL string) (Result, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cached, ok := p.posts[rawURL]; ok {
		p.hits++
		if cached == nil {
			return Result{}, false
		}
		return *cached, true
	}
	p.misses++

	res := matchPost(rawURL)
	p.posts[rawURL] = res
	if res == nil {
		return Result{}, false
	}
	return *res, true
}

// ParseUser classifies a profile URL. The second return value is false
// when the URL matches no known profile shape.
func (p *Parser) ParseUser(rawURL string) (UserResult, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cached, ok := p.users[rawURL]; ok {
		p.hits++
		if cached == nil {
			return UserResult{}, false
		}
		return *cached, true
	}
	p.misses++

	res := matchUser(rawURL)
	p.users[rawURL] = res
	if res == nil {
		return UserResult{}, false
	}
	return *res, true
}

// Stats returns cache hit and miss counts.
func (p *Parser) Stats() (hits, misses int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hits, p.misses
}

func matchPost(rawURL string) *Result {
	u := canonical(rawURL)
	for _, pat := range postPatterns {
		if m := pat.re.FindStringSubmatch(u); m != nil {
			return &Result{
				Kind:   pat.kind,
				Server: strings.ToLower(m[1]),
				ID:     m[2],
			}
		}
	}
	return nil
}

func matchUser(rawURL string) *UserResult {
	u := canonical(rawURL)
	for _, pat := range userPatterns {
		if m := pat.re.FindStringSubmatch(u); m != nil {
			return &UserResult{
				Kind:     pat.kind,
				Server:   strings.ToLower(m[1]),
				Username: m[2],
			}
		}
	}
	return nil
}

// canonical strips query and fragment parts before matching.
func canonical(rawURL string) string {
	u := rawURL
	if idx := strings.IndexByte(u, '?'); idx >= 0 {
		u = u[:idx]
	}
	if idx := strings.IndexByte(u, '#'); idx >= 0 {
		u = u[:idx]
	}
	return u
}
