// Package lockfile serializes runs through a timestamp file. A crashed
// run leaves its lock behind, so locks older than the configured TTL
// are broken rather than honored.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Teqed/FediFetcher-sub000/internal/logger"
)

// ErrHeld is returned when another run holds a lock younger than the TTL.
var ErrHeld = errors.New("run lock is held")

// Lock is an acquired run lock.
type Lock struct {
	path string
	log  logger.Interface
}

// Acquire takes the run lock at path. An existing lock younger than ttl
// fails with ErrHeld; a stale or unreadable lock is broken with a
// warning. The lock file holds the start time in RFC3339.
func Acquire(path string, ttl time.Duration, log logger.Interface) (*Lock, error) {
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		content := strings.TrimSpace(string(data))
		started, parseErr := time.Parse(time.RFC3339, content)
		if parseErr == nil && time.Since(started) < ttl {
			return nil, fmt.Errorf("%w since %s", ErrHeld, started.Format(time.RFC3339))
		}
		if parseErr != nil {
			log.Warn("Breaking unreadable run lock", "path", path, "content", content)
		} else {
			log.Warn("Breaking stale run lock", "path", path, "started", started, "ttl", ttl)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("failed to read lock file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	stamp := time.Now().UTC().Format(time.RFC3339) + "\n"
	if err := os.WriteFile(path, []byte(stamp), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write lock file: %w", err)
	}
	return &Lock{path: path, log: log}, nil
}

// Release removes the lock file. A lock that already vanished is not an
// error.
func (l *Lock) Release() {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		l.log.Warn("Failed to remove lock file", "path", l.path, "error", err)
	}
}
