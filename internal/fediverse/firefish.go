package fediverse

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/Teqed/FediFetcher-sub000/internal/peers"
)

// firefishBackend speaks the Misskey-derived API of Firefish, Calckey
// and friends. Thread context rides the Mastodon-compatible endpoint
// those servers also expose. Some deployments reject unauthenticated
// /api/ap/show calls; the first rejection marks the peer broken for the
// rest of the run.
type firefishBackend struct {
	domain   string
	c        *peers.Client
	bulk     *peers.Client
	apBroken atomic.Bool
}

func newFirefishBackend(domain string, c *peers.Client) *firefishBackend {
	return &firefishBackend{domain: domain, c: c, bulk: c.Bulk()}
}

type firefishNote struct {
	ID           string         `json:"id"`
	URI          string         `json:"uri"`
	URL          string         `json:"url"`
	CreatedAt    time.Time      `json:"createdAt"`
	Text         string         `json:"text"`
	CW           string         `json:"cw"`
	ReplyID      string         `json:"replyId"`
	RenoteID     string         `json:"renoteId"`
	RepliesCount int            `json:"repliesCount"`
	RenoteCount  int            `json:"renoteCount"`
	Reactions    map[string]int `json:"reactions"`
}

type apShowResponse struct {
	Type   string         `json:"type"`
	Object map[string]any `json:"object"`
}

func (b *firefishBackend) resolve(ctx context.Context, postURL string) (*Status, error) {
	if b.apBroken.Load() {
		return nil, fmt.Errorf("ap/show rejected earlier on %s: %w", b.c.Server(), ErrUnsupported)
	}

	var shown apShowResponse
	err := b.bulk.Post(ctx, "/api/ap/show", map[string]string{"uri": postURL}, &shown)
	if err != nil {
		if errors.Is(err, peers.ErrUnauthorized) || errors.Is(err, peers.ErrForbidden) {
			b.apBroken.Store(true)
		}
		return nil, err
	}
	if shown.Type == "Note" && shown.Object != nil {
		note, err := decodeFirefishNote(shown.Object)
		if err != nil {
			return nil, err
		}
		return b.noteToStatus(note), nil
	}

	// ap/show only resolves objects the server already knows; ap/get
	// fetches the raw ActivityPub document.
	var raw map[string]any
	if err := b.bulk.Post(ctx, "/api/ap/get", map[string]string{"uri": postURL}, &raw); err != nil {
		return nil, err
	}
	status := apObjectToStatus(raw)
	if status == nil {
		return nil, fmt.Errorf("resolve %s: %w", postURL, ErrNoResult)
	}
	return status, nil
}

func (b *firefishBackend) status(ctx context.Context, id string) (*Status, error) {
	var note firefishNote
	if err := b.c.Post(ctx, "/api/notes/show", map[string]string{"noteId": id}, &note); err != nil {
		return nil, err
	}
	return b.noteToStatus(&note), nil
}

func (b *firefishBackend) contextURLs(ctx context.Context, id, _ string) ([]string, error) {
	var thread Context
	if _, err := b.c.Get(ctx, "/api/v1/statuses/"+url.PathEscape(id)+"/context", nil, &thread); err != nil {
		return nil, err
	}
	return thread.URLs(), nil
}

func (b *firefishBackend) userStatuses(ctx context.Context, _ string, _ time.Time, _ int) ([]Status, error) {
	return nil, fmt.Errorf("user statuses on %s: %w", b.c.Server(), ErrUnsupported)
}

func (b *firefishBackend) lookupAccount(ctx context.Context, _ string) (*Account, error) {
	return nil, fmt.Errorf("account lookup on %s: %w", b.c.Server(), ErrUnsupported)
}

func (b *firefishBackend) trending(ctx context.Context, _ int) ([]Status, error) {
	return nil, fmt.Errorf("trending statuses on %s: %w", b.c.Server(), ErrUnsupported)
}

func (b *firefishBackend) noteToStatus(note *firefishNote) *Status {
	noteURL := note.URL
	if noteURL == "" {
		noteURL = note.URI
	}
	if noteURL == "" && note.ID != "" {
		noteURL = "https://" + b.domain + "/notes/" + note.ID
	}
	uri := note.URI
	if uri == "" {
		uri = noteURL
	}
	favourites := 0
	for _, count := range note.Reactions {
		favourites += count
	}
	return &Status{
		ID:              note.ID,
		URI:             uri,
		URL:             noteURL,
		CreatedAt:       note.CreatedAt,
		Content:         note.Text,
		SpoilerText:     note.CW,
		InReplyToID:     note.ReplyID,
		RepliesCount:    note.RepliesCount,
		ReblogsCount:    note.RenoteCount,
		FavouritesCount: favourites,
	}
}

// decodeFirefishNote maps a dynamically shaped note document onto the
// typed struct. ap/show wraps notes in a generic object envelope, so
// the JSON layer cannot decode them directly.
func decodeFirefishNote(doc map[string]any) (*firefishNote, error) {
	var note firefishNote
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.StringToTimeHookFunc(time.RFC3339),
		Result:     &note,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create note decoder: %w", err)
	}
	if err := decoder.Decode(doc); err != nil {
		return nil, fmt.Errorf("failed to decode note: %w", err)
	}
	return &note, nil
}

// apObjectToStatus maps a raw ActivityPub Note onto a Status. Only the
// fields the pipeline needs are carried over.
func apObjectToStatus(doc map[string]any) *Status {
	id, _ := doc["id"].(string)
	if id == "" {
		return nil
	}
	status := &Status{
		ID:  lastPathSegment(id),
		URI: id,
		URL: id,
	}
	if u := apStringField(doc, "url"); u != "" {
		status.URL = u
	}
	if published, ok := doc["published"].(string); ok {
		if ts, err := time.Parse(time.RFC3339, published); err == nil {
			status.CreatedAt = ts
		}
	}
	if content, ok := doc["content"].(string); ok {
		status.Content = content
	}
	if summary, ok := doc["summary"].(string); ok {
		status.SpoilerText = summary
	}
	if replyTo := apStringField(doc, "inReplyTo"); replyTo != "" {
		status.InReplyToID = lastPathSegment(replyTo)
	}
	return status
}

// apStringField reads an AP field that may be a plain string or a Link
// object with an href.
func apStringField(doc map[string]any, key string) string {
	switch v := doc[key].(type) {
	case string:
		return v
	case map[string]any:
		if href, ok := v["href"].(string); ok {
			return href
		}
	}
	return ""
}

func lastPathSegment(rawURL string) string {
	trimmed := strings.TrimSuffix(rawURL, "/")
	if slash := strings.LastIndexByte(trimmed, '/'); slash >= 0 {
		return trimmed[slash+1:]
	}
	return trimmed
}
