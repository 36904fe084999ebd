// Package assets manages the directory of generated images and uploaded
// reference photos. Cache payloads reference these files by bare filename;
// the cache layer asks this store whether a referenced file still exists.
package assets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type Store struct {
	dir string
}

// New creates the asset directory if needed.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("assets: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("assets: creating directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Save writes an asset file. Filenames are flattened to their base name so
// callers cannot write outside the asset directory.
func (s *Store) Save(filename string, data []byte) error {
	name := filepath.Base(filename)
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o644); err != nil {
		return fmt.Errorf("assets: write %s: %w", name, err)
	}
	return nil
}

// Exists reports whether the named asset is present.
func (s *Store) Exists(filename string) bool {
	info, err := os.Stat(filepath.Join(s.dir, filepath.Base(filename)))
	return err == nil && !info.IsDir()
}

// Read returns the asset's bytes.
func (s *Store) Read(filename string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, filepath.Base(filename)))
	if err != nil {
		return nil, fmt.Errorf("assets: read %s: %w", filename, err)
	}
	return data, nil
}

// Path returns the absolute path of an asset.
func (s *Store) Path(filename string) string {
	return filepath.Join(s.dir, filepath.Base(filename))
}

// Dir returns the asset directory.
func (s *Store) Dir() string {
	return s.dir
}

// SanitizeFilename reduces an uploaded filename to a safe form: base name
// only, spaces collapsed to underscores, anything outside [A-Za-z0-9._-]
// dropped.
func SanitizeFilename(name string) string {
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, " ", "_")

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		out = "upload"
	}
	return out
}
