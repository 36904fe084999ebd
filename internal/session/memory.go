package session

import (
	"sync"
	"time"
)

// MemoryStore keeps sessions in a map. Nothing survives a restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

func (m *MemoryStore) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	cp := *s
	return &cp, true
}

func (m *MemoryStore) Put(s *Session) error {
	cp := *s
	m.mu.Lock()
	m.sessions[s.ID] = &cp
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(id string) error {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) All() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		cp := *s
		out = append(out, &cp)
	}
	return out
}

func (m *MemoryStore) Cleanup(maxAge time.Duration) int {
	now := time.Now()
	removed := 0

	m.mu.Lock()
	for id, s := range m.sessions {
		if now.Sub(s.CreatedAt) > maxAge {
			delete(m.sessions, id)
			removed++
		}
	}
	m.mu.Unlock()

	return removed
}
