package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MemoryStore keeps entries in a map. Meant for dev and tests; entries do
// not survive a restart.
type MemoryStore struct {
	mu          sync.RWMutex
	items       map[string]Entry
	maxAge      time.Duration
	stopCleanup chan struct{}
	cleanupOnce sync.Once
}

// NewMemoryStore creates an in-memory store with a background cleanup
// routine. If maxAge <= 0 the default max age is used.
func NewMemoryStore(maxAge time.Duration) *MemoryStore {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}

	s := &MemoryStore{
		items:       make(map[string]Entry),
		maxAge:      maxAge,
		stopCleanup: make(chan struct{}),
	}

	go s.cleanupExpired()

	return s
}

func (s *MemoryStore) Get(_ context.Context, key string) (Result, error) {
	s.mu.RLock()
	e, ok := s.items[key]
	s.mu.RUnlock()

	if !ok {
		return miss(MissNotFound), nil
	}
	if time.Since(e.Timestamp) > s.maxAge {
		s.mu.Lock()
		if cur, exists := s.items[key]; exists && time.Since(cur.Timestamp) > s.maxAge {
			delete(s.items, key)
		}
		s.mu.Unlock()
		return miss(MissExpired), nil
	}

	return hit(&e), nil
}

func (s *MemoryStore) Set(_ context.Context, key string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("cache: marshal payload: %w", err)
	}

	s.mu.Lock()
	s.items[key] = Entry{
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	s.mu.Unlock()

	return nil
}

// Sweep removes expired entries and returns the number removed.
func (s *MemoryStore) Sweep(_ context.Context) (int, error) {
	now := time.Now()
	removed := 0

	s.mu.Lock()
	for k, e := range s.items {
		if now.Sub(e.Timestamp) > s.maxAge {
			delete(s.items, k)
			removed++
		}
	}
	s.mu.Unlock()

	return removed, nil
}

// cleanupExpired runs periodically to remove expired entries.
func (s *MemoryStore) cleanupExpired() {
	interval := s.maxAge
	if interval > time.Hour {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = s.Sweep(context.Background())
		case <-s.stopCleanup:
			return
		}
	}
}

// Close stops the cleanup goroutine. Call this on shutdown or in tests.
func (s *MemoryStore) Close() error {
	s.cleanupOnce.Do(func() {
		close(s.stopCleanup)
	})
	return nil
}

// Len returns the number of items currently in the store.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Clear removes all items. Useful for tests or manual resets.
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	s.items = make(map[string]Entry)
	s.mu.Unlock()
}
