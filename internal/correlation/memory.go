package correlation

import (
	"context"
	"sync"
	"time"

	"conversions/models"
)

type memoryEntry struct {
	rec       models.CorrelationRecord
	expiresAt time.Time
}

// MemoryStore keeps records in process memory. Records vanish on restart, so
// it is meant for local runs and tests only.
type MemoryStore struct {
	mu   sync.RWMutex
	m    map[string]memoryEntry
	ttl  time.Duration
	nowF func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		m:    make(map[string]memoryEntry),
		ttl:  ttl,
		nowF: time.Now,
	}
}

func (s *MemoryStore) Put(ctx context.Context, key string, rec models.CorrelationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = memoryEntry{rec: rec, expiresAt: s.nowF().Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (models.CorrelationRecord, error) {
	s.mu.RLock()
	e, ok := s.m[key]
	s.mu.RUnlock()
	if !ok {
		return models.CorrelationRecord{}, ErrNotFound
	}
	if !e.expiresAt.After(s.nowF()) {
		s.mu.Lock()
		delete(s.m, key)
		s.mu.Unlock()
		return models.CorrelationRecord{}, ErrNotFound
	}
	return e.rec, nil
}
