// Package ordered provides an insertion-ordered string set where every
// entry carries a timestamp. It backs the on-disk seen-state collections.
package ordered

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Set is an insertion-ordered string set with per-entry timestamps.
// Re-adding an existing key refreshes its timestamp and moves it to the
// end, so trimming always keeps the most recently touched entries.
// Not safe for concurrent use.
type Set struct {
	keys  []string
	times map[string]time.Time
}

// NewSet creates an empty Set.
func NewSet() *Set {
	return &Set{times: make(map[string]time.Time)}
}

// Add inserts key with the current time, refreshing it if already present.
func (s *Set) Add(key string) {
	s.AddAt(key, time.Now().UTC())
}

// AddAt inserts key with an explicit timestamp, refreshing it if already
// present.
func (s *Set) AddAt(key string, t time.Time) {
	if _, ok := s.times[key]; ok {
		s.removeKey(key)
	}
	s.keys = append(s.keys, key)
	s.times[key] = t
}

// Contains reports whether key is in the set.
func (s *Set) Contains(key string) bool {
	_, ok := s.times[key]
	return ok
}

// Remove deletes key, reporting whether it was present.
func (s *Set) Remove(key string) bool {
	if _, ok := s.times[key]; !ok {
		return false
	}
	s.removeKey(key)
	delete(s.times, key)
	return true
}

func (s *Set) removeKey(key string) {
	for i, k := range s.keys {
		if k == key {
			s.keys = append(s.keys[:i], s.keys[i+1:]...)
			return
		}
	}
}

// Len returns the number of entries.
func (s *Set) Len() int {
	return len(s.keys)
}

// Items returns the keys in insertion order.
func (s *Set) Items() []string {
	out := make([]string, len(s.keys))
	copy(out, s.keys)
	return out
}

// Timestamp returns the timestamp recorded for key.
func (s *Set) Timestamp(key string) (time.Time, bool) {
	t, ok := s.times[key]
	return t, ok
}

// TrimOldest drops entries from the front until at most max remain.
// It returns the number of dropped entries.
func (s *Set) TrimOldest(max int) int {
	if max < 0 || len(s.keys) <= max {
		return 0
	}
	drop := len(s.keys) - max
	for _, k := range s.keys[:drop] {
		delete(s.times, k)
	}
	s.keys = append([]string(nil), s.keys[drop:]...)
	return drop
}

// ExpireOlderThan drops entries whose timestamp is before cutoff,
// returning the number of dropped entries.
func (s *Set) ExpireOlderThan(cutoff time.Time) int {
	kept := s.keys[:0]
	dropped := 0
	for _, k := range s.keys {
		if s.times[k].Before(cutoff) {
			delete(s.times, k)
			dropped++
			continue
		}
		kept = append(kept, k)
	}
	s.keys = kept
	return dropped
}

// MarshalJSON writes the set as a JSON object of key → RFC 3339 timestamp,
// keys in insertion order.
func (s *Set) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range s.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyJSON, err := json.Marshal(k)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal key %q: %w", k, err)
		}
		buf.Write(keyJSON)
		buf.WriteByte(':')
		tsJSON, err := json.Marshal(s.times[k].Format(time.RFC3339))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal timestamp for %q: %w", k, err)
		}
		buf.Write(tsJSON)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object of key → RFC 3339 timestamp. Insertion
// order is re-established by sorting on (timestamp, key) since JSON objects
// carry no order.
func (s *Set) UnmarshalJSON(data []byte) error {
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to unmarshal set: %w", err)
	}

	type entry struct {
		key string
		ts  time.Time
	}
	entries := make([]entry, 0, len(raw))
	for k, v := range raw {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return fmt.Errorf("failed to parse timestamp for %q: %w", k, err)
		}
		entries = append(entries, entry{key: k, ts: ts})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ts.Equal(entries[j].ts) {
			return entries[i].key < entries[j].key
		}
		return entries[i].ts.Before(entries[j].ts)
	})

	s.keys = make([]string, 0, len(entries))
	s.times = make(map[string]time.Time, len(entries))
	for _, e := range entries {
		s.keys = append(s.keys, e.key)
		s.times[e.key] = e.ts
	}
	return nil
}
