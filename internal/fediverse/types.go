package fediverse

import (
	"strings"
	"time"
)

// Software identifies the Fediverse implementation a peer server runs,
// as reported by NodeInfo. Pleroma and Pixelfed speak the Mastodon
// client API; they stay distinct here because URL shapes and NodeInfo
// reporting differ.
type Software int

const (
	SoftwareUnknown Software = iota
	SoftwareMastodon
	SoftwarePleroma
	SoftwareFirefish
	SoftwarePixelfed
	SoftwareLemmy
)

var softwareNames = map[Software]string{
	SoftwareUnknown:  "unknown",
	SoftwareMastodon: "mastodon",
	SoftwarePleroma:  "pleroma",
	SoftwareFirefish: "firefish",
	SoftwarePixelfed: "pixelfed",
	SoftwareLemmy:    "lemmy",
}

func (s Software) String() string {
	if name, ok := softwareNames[s]; ok {
		return name
	}
	return "unknown"
}

// Status is a federated post as the Mastodon client API shapes it.
// Adapters for other software map their native records onto it.
type Status struct {
	ID              string     `json:"id"`
	URI             string     `json:"uri"`
	URL             string     `json:"url"`
	CreatedAt       time.Time  `json:"created_at"`
	EditedAt        *time.Time `json:"edited_at,omitempty"`
	Content         string     `json:"content"`
	SpoilerText     string     `json:"spoiler_text"`
	Language        string     `json:"language"`
	Visibility      string     `json:"visibility,omitempty"`
	InReplyToID     string     `json:"in_reply_to_id"`
	InReplyToAcctID string     `json:"in_reply_to_account_id"`
	RepliesCount    int        `json:"replies_count"`
	ReblogsCount    int        `json:"reblogs_count"`
	FavouritesCount int        `json:"favourites_count"`
	Pinned          bool       `json:"pinned,omitempty"`
	Reblog          *Status    `json:"reblog"`
	Account         *Account   `json:"account"`
	Mentions        []Mention  `json:"mentions"`
	Poll            *Poll      `json:"poll"`
}

// EffectiveURL is the URL worth walking: the reblogged post's URL when
// the status is a boost, the status's own URL otherwise.
func (s *Status) EffectiveURL() string {
	if s.Reblog != nil && s.Reblog.URL != "" {
		return s.Reblog.URL
	}
	return s.URL
}

// IsReply reports whether the status answers another post.
func (s *Status) IsReply() bool {
	return s.InReplyToID != ""
}

// IsOriginal reports whether this record came from the post's origin
// server: the last path segment of the URL equals the reported id.
func (s *Status) IsOriginal() bool {
	if s.URL == "" || s.ID == "" {
		return false
	}
	trimmed := strings.TrimSuffix(s.URL, "/")
	slash := strings.LastIndexByte(trimmed, '/')
	if slash < 0 {
		return false
	}
	return trimmed[slash+1:] == s.ID
}

// Account is a Fediverse account as seen through the Mastodon API.
type Account struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	Acct         string `json:"acct"`
	URL          string `json:"url"`
	DisplayName  string `json:"display_name"`
	Bot          bool   `json:"bot"`
	LastStatusAt string `json:"last_status_at"`
}

// Handle returns the fully qualified user@domain handle. Local accounts
// report a bare username in acct; the server's own domain completes it.
func (a *Account) Handle(localDomain string) string {
	if a.Acct == "" {
		return ""
	}
	if strings.ContainsRune(a.Acct, '@') {
		return a.Acct
	}
	return a.Acct + "@" + localDomain
}

// LastActiveAfter reports whether the account posted on or after t.
// last_status_at has day granularity, so the comparison is by date.
func (a *Account) LastActiveAfter(t time.Time) bool {
	if a.LastStatusAt == "" {
		return false
	}
	day, err := time.Parse("2006-01-02", a.LastStatusAt)
	if err != nil {
		return false
	}
	cutoff := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return !day.Before(cutoff)
}

// Mention is an account referenced inside a status.
type Mention struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Acct     string `json:"acct"`
	URL      string `json:"url"`
}

// Poll carries the id of a poll attached to a status.
type Poll struct {
	ID string `json:"id"`
}

// Notification is a Mastodon notification; Status is set for mentions
// and interactions with a post.
type Notification struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
	Account   *Account  `json:"account"`
	Status    *Status   `json:"status"`
}

// AdminAccount is a row from the admin accounts API.
type AdminAccount struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Domain    string    `json:"domain"`
	CreatedAt time.Time `json:"created_at"`
	Account   *Account  `json:"account"`
}

// Context is a thread as the Mastodon API returns it.
type Context struct {
	Ancestors   []Status `json:"ancestors"`
	Descendants []Status `json:"descendants"`
}

// URLs flattens the thread into post URLs, ancestors first.
func (c *Context) URLs() []string {
	urls := make([]string, 0, len(c.Ancestors)+len(c.Descendants))
	for _, status := range c.Ancestors {
		if status.URL != "" {
			urls = append(urls, status.URL)
		}
	}
	for _, status := range c.Descendants {
		if status.URL != "" {
			urls = append(urls, status.URL)
		}
	}
	return urls
}

// SearchResult is the shape of /api/v2/search responses.
type SearchResult struct {
	Accounts []Account `json:"accounts"`
	Statuses []Status  `json:"statuses"`
}
