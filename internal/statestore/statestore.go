// Package statestore persists the seen-state between runs: known
// followings, recently checked users, and reply-origin mappings. Files
// live in a single state directory and are written atomically.
package statestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Teqed/FediFetcher-sub000/internal/logger"
	"github.com/Teqed/FediFetcher-sub000/internal/ordered"
)

// MaxEntries is the per-collection cap applied before every save; the
// most recently added entries survive.
const MaxEntries = 50000

// State file names inside the state directory.
const (
	FileKnownFollowings = "known_followings"
	FileRecentlyChecked = "recently_checked_users"
	FileReplies         = "replied_toot_server_ids"
)

// Store owns the on-disk seen-state. Modes run sequentially, so access is
// not synchronized.
type Store struct {
	dir string
	log logger.Interface

	// KnownFollowings holds user@domain handles already backfilled.
	KnownFollowings *ordered.Set
	// RecentlyChecked holds user@domain handles with their last check time.
	RecentlyChecked *ordered.Set
	// Replies maps reply URLs to their resolved origin.
	Replies *ReplyMap
}

// New creates a Store bound to dir. Call Load before use.
func New(dir string, log logger.Interface) *Store {
	return &Store{
		dir:             dir,
		log:             log,
		KnownFollowings: ordered.NewSet(),
		RecentlyChecked: ordered.NewSet(),
		Replies:         NewReplyMap(),
	}
}

// Dir returns the state directory.
func (s *Store) Dir() string {
	return s.dir
}

// Load reads all state files. Missing files yield empty collections.
// RecentlyChecked entries older than horizon are dropped.
func (s *Store) Load(horizon time.Duration) error {
	if err := s.loadKnownFollowings(); err != nil {
		return err
	}
	if err := s.loadJSON(FileRecentlyChecked, s.RecentlyChecked); err != nil {
		return err
	}
	if err := s.loadJSON(FileReplies, s.Replies); err != nil {
		return err
	}

	if horizon > 0 {
		cutoff := time.Now().UTC().Add(-horizon)
		if dropped := s.RecentlyChecked.ExpireOlderThan(cutoff); dropped > 0 {
			s.log.Debug("Expired recently-checked users",
				"dropped", dropped,
				"horizon", horizon,
			)
		}
	}
	return nil
}

func (s *Store) loadKnownFollowings() error {
	data, err := os.ReadFile(filepath.Join(s.dir, FileKnownFollowings))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", FileKnownFollowings, err)
	}
	now := time.Now().UTC()
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		s.KnownFollowings.AddAt(line, now)
	}
	return nil
}

func (s *Store) loadJSON(name string, target json.Unmarshaler) error {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	if err := target.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return nil
}

// Save truncates every collection to its most recent MaxEntries entries
// and writes all files atomically (temp file + rename).
func (s *Store) Save() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}

	s.KnownFollowings.TrimOldest(MaxEntries)
	s.RecentlyChecked.TrimOldest(MaxEntries)
	s.Replies.TrimOldest(MaxEntries)

	var lines strings.Builder
	for _, handle := range s.KnownFollowings.Items() {
		lines.WriteString(handle)
		lines.WriteByte('\n')
	}
	if err := s.writeAtomic(FileKnownFollowings, []byte(lines.String())); err != nil {
		return err
	}

	checked, err := json.Marshal(s.RecentlyChecked)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", FileRecentlyChecked, err)
	}
	if err := s.writeAtomic(FileRecentlyChecked, checked); err != nil {
		return err
	}

	replies, err := json.Marshal(s.Replies)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", FileReplies, err)
	}
	return s.writeAtomic(FileReplies, replies)
}

// writeAtomic writes data to a temp file in the state directory and
// renames it over the target, so readers never observe a partial file.
func (s *Store) writeAtomic(name string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", name, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", name, err)
	}
	return nil
}
