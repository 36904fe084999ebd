package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultMaxAge is how long a disk entry stays valid when the config does
// not say otherwise.
const DefaultMaxAge = 30 * 24 * time.Hour

// DiskStore keeps one <key>.json file per entry under a single directory.
// Every lookup re-reads from disk; there is no in-memory layer, so entries
// survive restarts and racing writers at worst cost a redundant upstream call.
type DiskStore struct {
	dir    string
	maxAge time.Duration
}

// NewDiskStore creates the cache directory if needed.
func NewDiskStore(dir string, maxAge time.Duration) (*DiskStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("cache: directory is required")
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: creating directory: %w", err)
	}
	return &DiskStore{dir: dir, maxAge: maxAge}, nil
}

func (s *DiskStore) entryPath(key string) string {
	return filepath.Join(s.dir, key+".json")
}

// Get reads the entry file for key. Absent, expired and unparseable entries
// are all misses; only the miss reason differs.
func (s *DiskStore) Get(_ context.Context, key string) (Result, error) {
	raw, err := os.ReadFile(s.entryPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return miss(MissNotFound), nil
		}
		return miss(MissError), fmt.Errorf("cache: read entry: %w", err)
	}

	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return miss(MissCorrupt), fmt.Errorf("cache: decode entry: %w", err)
	}

	if time.Since(e.Timestamp) > s.maxAge {
		return miss(MissExpired), nil
	}

	return hit(&e), nil
}

// Set writes the entry atomically: the payload is marshaled up front and the
// file lands via temp-file + rename, so a concurrent reader sees either the
// old entry or the complete new one, never a torn file. Same key overwrites.
func (s *DiskStore) Set(_ context.Context, key string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("cache: marshal payload: %w", err)
	}

	e := Entry{
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	raw, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("cache: marshal entry: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("cache: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("cache: write entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("cache: close entry: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("cache: chmod entry: %w", err)
	}
	if err := os.Rename(tmpName, s.entryPath(key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("cache: rename entry: %w", err)
	}
	return nil
}

// Sweep removes entry files whose modification time exceeds the max age and
// reports how many were deleted. Age is judged on mtime, not the stored
// timestamp, so a sweep never has to parse entries.
func (s *DiskStore) Sweep(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("cache: read directory: %w", err)
	}

	removed := 0
	now := time.Now()
	for _, de := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if de.IsDir() || filepath.Ext(de.Name()) != ".json" {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) <= s.maxAge {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, de.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

// Stats describes the on-disk state of the cache.
type Stats struct {
	Dir        string `json:"dir"`
	Entries    int    `json:"entries"`
	TotalBytes int64  `json:"total_bytes"`
	Expired    int    `json:"expired"`
}

// GetStats walks the cache directory and counts entries, bytes and how many
// entries a sweep would remove.
func (s *DiskStore) GetStats() (Stats, error) {
	stats := Stats{Dir: s.dir}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return stats, nil
		}
		return stats, fmt.Errorf("cache: read directory: %w", err)
	}

	now := time.Now()
	for _, de := range entries {
		if de.IsDir() || filepath.Ext(de.Name()) != ".json" {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		stats.Entries++
		stats.TotalBytes += info.Size()
		if now.Sub(info.ModTime()) > s.maxAge {
			stats.Expired++
		}
	}
	return stats, nil
}

// Dir returns the cache directory path.
func (s *DiskStore) Dir() string {
	return s.dir
}
