// Package file persists the credential snapshot as a JSON document on disk.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/sumi-social/sumid/core"
)

// CacheStore implements core.CacheStore over a single JSON file. A missing
// or unreadable file loads as empty; the daemon then behaves as if no
// account had ever been linked.
type CacheStore struct {
	path   string
	logger core.Logger
}

func NewCacheStore(path string, logger core.Logger) (*CacheStore, error) {
	if path == "" {
		return nil, fmt.Errorf("file: cache path is required")
	}
	return &CacheStore{path: path, logger: glog.Ensure(logger)}, nil
}

func (s *CacheStore) Load(_ context.Context) (core.CacheSnapshot, bool, error) {
	if s == nil {
		return core.CacheSnapshot{}, false, fmt.Errorf("file: cache store is nil")
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return core.CacheSnapshot{}, false, nil
		}
		s.logger.Error("cache file unreadable, starting empty", "path", s.path, "error", err)
		return core.CacheSnapshot{}, false, nil
	}
	var snapshot core.CacheSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		s.logger.Error("cache file corrupt, starting empty", "path", s.path, "error", err)
		return core.CacheSnapshot{}, false, nil
	}
	if snapshot.Accounts == nil {
		snapshot.Accounts = map[string]core.CachedAccount{}
	}
	return snapshot, true, nil
}

// Save writes the snapshot atomically: a temp file in the target directory,
// then a rename. The file carries owner-only permissions, it holds tokens.
func (s *CacheStore) Save(_ context.Context, snapshot core.CacheSnapshot) error {
	if s == nil {
		return fmt.Errorf("file: cache store is nil")
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("file: create cache directory: %w", err)
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("file: encode cache: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".cache-*")
	if err != nil {
		return fmt.Errorf("file: create temp cache: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("file: write cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("file: close cache: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("file: chmod cache: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("file: replace cache: %w", err)
	}
	return nil
}
