package store

import (
	"context"
	"sync"

	"github.com/dunamismax/artify/internal/domain"
)

// MemoryUsageStore keeps the most recent usage rows in a bounded ring.
type MemoryUsageStore struct {
	mu    sync.RWMutex
	limit int
	logs  []domain.UsageLog
}

func NewMemoryUsageStore(limit int) *MemoryUsageStore {
	if limit <= 0 {
		limit = 1000
	}
	return &MemoryUsageStore{limit: limit}
}

func (s *MemoryUsageStore) CreateUsageLog(_ context.Context, usage domain.UsageLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.logs) == s.limit {
		copy(s.logs, s.logs[1:])
		s.logs = s.logs[:len(s.logs)-1]
	}
	s.logs = append(s.logs, usage)
	return nil
}

// List returns the stored rows, oldest first.
func (s *MemoryUsageStore) List() []domain.UsageLog {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.UsageLog, len(s.logs))
	copy(out, s.logs)
	return out
}
