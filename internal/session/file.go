package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileStore persists all sessions in a single JSON file keyed by session
// ID, loaded once at startup and rewritten on every mutation. A corrupt or
// missing file starts the store empty rather than failing.
type FileStore struct {
	mu       sync.Mutex
	path     string
	sessions map[string]*Session
}

func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("session: file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("session: creating data directory: %w", err)
	}

	s := &FileStore{
		path:     path,
		sessions: make(map[string]*Session),
	}

	raw, err := os.ReadFile(path)
	if err == nil {
		// Tolerate a corrupt file: start empty, the next Put rewrites it.
		_ = json.Unmarshal(raw, &s.sessions)
		if s.sessions == nil {
			s.sessions = make(map[string]*Session)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("session: reading %s: %w", path, err)
	}

	return s, nil
}

func (f *FileStore) Get(id string) (*Session, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, false
	}
	cp := *s
	return &cp, true
}

func (f *FileStore) Put(s *Session) error {
	cp := *s
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[s.ID] = &cp
	return f.persistLocked()
}

func (f *FileStore) Delete(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, id)
	return f.persistLocked()
}

func (f *FileStore) All() []*Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Session, 0, len(f.sessions))
	for _, s := range f.sessions {
		cp := *s
		out = append(out, &cp)
	}
	return out
}

func (f *FileStore) Cleanup(maxAge time.Duration) int {
	now := time.Now()
	removed := 0

	f.mu.Lock()
	defer f.mu.Unlock()
	for id, s := range f.sessions {
		if now.Sub(s.CreatedAt) > maxAge {
			delete(f.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		_ = f.persistLocked()
	}

	return removed
}

// persistLocked writes the session map atomically. Callers hold f.mu.
func (f *FileStore) persistLocked() error {
	raw, err := json.MarshalIndent(f.sessions, "", "  ")
	if err != nil {
		return fmt.Errorf("session: marshal sessions: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("session: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("session: write sessions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("session: close sessions: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("session: rename sessions: %w", err)
	}
	return nil
}
