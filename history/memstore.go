package history

import (
	"context"
	"sort"
	"sync"

	"github.com/petal-labs/vigil/core"
)

// MemStore is a thread-safe in-memory history store.
type MemStore struct {
	mu      sync.RWMutex
	results map[string][]core.CheckResult // providerID -> results, oldest first
	total   int
}

// NewMemStore creates a new in-memory history store.
func NewMemStore() *MemStore {
	return &MemStore{
		results: make(map[string][]core.CheckResult),
	}
}

func (s *MemStore) Append(_ context.Context, results []core.CheckResult) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range results {
		s.results[r.Provider] = append(s.results[r.Provider], r)
		s.total++
	}
	return Snapshot{Providers: len(s.results), Records: s.total}, nil
}

func (s *MemStore) List(_ context.Context, providerID string, limit int) ([]core.CheckResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.results[providerID]
	out := make([]core.CheckResult, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		out = append(out, stored[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemStore) Latest(_ context.Context) ([]core.CheckResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]core.CheckResult, 0, len(s.results))
	for _, stored := range s.results {
		if len(stored) > 0 {
			out = append(out, stored[len(stored)-1])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}

func (s *MemStore) Providers(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.results))
	for id := range s.results {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Compile-time interface check.
var _ Store = (*MemStore)(nil)
