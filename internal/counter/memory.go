package counter

import (
	"context"
	"sync"
	"time"
)

const sweepInterval = 5 * time.Minute

type memoryEntry struct {
	count     int64
	expiresAt time.Time
}

// MemoryStore is a process-local Store. It only sees traffic handled by this
// instance, so limits enforced through it are per-instance, not fleet-wide.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry

	stopOnce sync.Once
	stop     chan struct{}

	now func() time.Time // test hook
}

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]*memoryEntry),
		stop:    make(chan struct{}),
		now:     time.Now,
	}
	go s.sweep()
	return s
}

func (s *MemoryStore) Increment(_ context.Context, key string, window time.Duration) (int64, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || now.After(e.expiresAt) {
		s.entries[key] = &memoryEntry{count: 1, expiresAt: now.Add(window)}
		return 1, nil
	}

	e.count++
	return e.count, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (int64, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return 0, nil
	}
	if now.After(e.expiresAt) {
		delete(s.entries, key)
		return 0, nil
	}
	return e.count, nil
}

func (s *MemoryStore) Reset(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		delete(s.entries, k)
	}
	return nil
}

func (s *MemoryStore) ResetIn(_ context.Context, key string) (time.Duration, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || now.After(e.expiresAt) {
		return 0, nil
	}
	return e.expiresAt.Sub(now), nil
}

// Close stops the background sweep. Safe to call more than once.
func (s *MemoryStore) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// sweep evicts expired entries periodically so keys that are incremented once
// and never read again do not accumulate.
func (s *MemoryStore) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := s.now()
			s.mu.Lock()
			for k, e := range s.entries {
				if now.After(e.expiresAt) {
					delete(s.entries, k)
				}
			}
			s.mu.Unlock()
		case <-s.stop:
			return
		}
	}
}
