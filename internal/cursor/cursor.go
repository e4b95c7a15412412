// Package cursor persists per-account sync cursors as plain files.
package cursor

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/open-wecom/kfsync/internal/platform/logutil"
)

// Store keeps one cursor file per account under a directory. Writes are
// atomic (temp file + fsync + rename). A missing or unreadable file means
// the account has no cursor and starts cold; load never fails hard.
type Store struct {
	dir    string
	logger *slog.Logger
	mu     sync.Mutex
}

// NewStore creates the store, creating dir if needed.
func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create cursor directory %s: %w", dir, err)
	}
	return &Store{dir: dir, logger: logutil.NoopIfNil(logger)}, nil
}

// Load returns the persisted cursor for accountID, or "" when none exists.
// Read errors are logged and treated as absent so a corrupt file degrades to
// a cold start instead of wedging the account.
func (s *Store) Load(accountID string) string {
	path := s.path(accountID)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("cursor file unreadable, treating as cold start",
				"account", accountID, "path", path, "error", err)
		}
		return ""
	}
	return strings.TrimSpace(string(data))
}

// Save atomically persists the cursor for accountID.
func (s *Store) Save(accountID, cursor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(accountID)
	tmpPath := path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create temp cursor file: %w", err)
	}

	if _, err := f.Write([]byte(cursor)); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write cursor file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync cursor file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close cursor file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename cursor file: %w", err)
	}
	return nil
}

// Delete removes the cursor file for accountID. Missing files are not an error.
func (s *Store) Delete(accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(accountID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove cursor file: %w", err)
	}
	return nil
}

func (s *Store) path(accountID string) string {
	return filepath.Join(s.dir, sanitize(accountID)+".cursor")
}

// sanitize maps an account id onto a safe file name component. Anything
// outside [A-Za-z0-9_-] becomes '_' so ids can never escape the directory.
func sanitize(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
