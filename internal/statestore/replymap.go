package statestore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Resolution is the derived origin of a replied-to post.
type Resolution struct {
	Redirect string
	Server   string
	ID       string
}

// ReplyMap records, per locally-visible reply URL, the resolved origin of
// the replied-to post. An entry may be present but unresolved (JSON null);
// either way the URL is never re-resolved. Keys keep insertion order so
// truncation drops the oldest mappings. Not safe for concurrent use.
type ReplyMap struct {
	keys    []string
	entries map[string]*Resolution
}

// NewReplyMap creates an empty ReplyMap.
func NewReplyMap() *ReplyMap {
	return &ReplyMap{entries: make(map[string]*Resolution)}
}

// Has reports whether url has been recorded, resolved or not.
func (m *ReplyMap) Has(url string) bool {
	_, ok := m.entries[url]
	return ok
}

// Get returns the resolution for url. A (nil, true) result means the URL
// was recorded as unresolved.
func (m *ReplyMap) Get(url string) (*Resolution, bool) {
	res, ok := m.entries[url]
	return res, ok
}

// SetResolved records a successful origin resolution for url.
func (m *ReplyMap) SetResolved(url, redirect, server, id string) {
	m.set(url, &Resolution{Redirect: redirect, Server: server, ID: id})
}

// SetUnresolved records that url could not be resolved.
func (m *ReplyMap) SetUnresolved(url string) {
	m.set(url, nil)
}

func (m *ReplyMap) set(url string, res *Resolution) {
	if _, ok := m.entries[url]; ok {
		for i, k := range m.keys {
			if k == url {
				m.keys = append(m.keys[:i], m.keys[i+1:]...)
				break
			}
		}
	}
	m.keys = append(m.keys, url)
	m.entries[url] = res
}

// Len returns the number of recorded URLs.
func (m *ReplyMap) Len() int {
	return len(m.keys)
}

// Keys returns the recorded URLs in insertion order.
func (m *ReplyMap) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// TrimOldest drops entries from the front until at most max remain,
// returning the number of dropped entries.
func (m *ReplyMap) TrimOldest(max int) int {
	if max < 0 || len(m.keys) <= max {
		return 0
	}
	drop := len(m.keys) - max
	for _, k := range m.keys[:drop] {
		delete(m.entries, k)
	}
	m.keys = append([]string(nil), m.keys[drop:]...)
	return drop
}

// MarshalJSON writes the map as {url: "redirect,server,id" | null} with
// keys in insertion order.
func (m *ReplyMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyJSON, err := json.Marshal(k)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal key %q: %w", k, err)
		}
		buf.Write(keyJSON)
		buf.WriteByte(':')
		res := m.entries[k]
		if res == nil {
			buf.WriteString("null")
			continue
		}
		valJSON, err := json.Marshal(joinResolution(res))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal value for %q: %w", k, err)
		}
		buf.Write(valJSON)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads {url: "redirect,server,id" | null}, preserving the
// document key order via token streaming.
func (m *ReplyMap) UnmarshalJSON(data []byte) error {
	m.keys = nil
	m.entries = make(map[string]*Resolution)

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("failed to read reply map: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("reply map: expected JSON object, got %v", tok)
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("failed to read reply map key: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("reply map: non-string key %v", keyTok)
		}

		var val *string
		if err := dec.Decode(&val); err != nil {
			return fmt.Errorf("failed to read reply map value for %q: %w", key, err)
		}
		if val == nil {
			m.set(key, nil)
			continue
		}
		m.set(key, splitResolution(*val))
	}
	return nil
}

func joinResolution(res *Resolution) string {
	return res.Redirect + "," + res.Server + "," + res.ID
}

// splitResolution parses "redirect,server,id". The redirect URL may itself
// contain commas, so the split anchors on the last two separators.
// Malformed values degrade to unresolved.
func splitResolution(s string) *Resolution {
	last := strings.LastIndexByte(s, ',')
	if last < 0 {
		return nil
	}
	secondLast := strings.LastIndexByte(s[:last], ',')
	if secondLast < 0 {
		return nil
	}
	return &Resolution{
		Redirect: s[:secondLast],
		Server:   s[secondLast+1 : last],
		ID:       s[last+1:],
	}
}
