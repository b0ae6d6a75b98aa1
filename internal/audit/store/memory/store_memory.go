package memory

import (
	"context"
	"maps"
	"sync"

	"veritas/internal/audit"
)

// InMemoryStore keeps the chain in a slice. The mutex serializes appends so the
// head read and the insert happen as one step.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries []*audit.Entry
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(_ context.Context, build func(previousHash string) (*audit.Entry, error)) (*audit.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := ""
	if n := len(s.entries); n > 0 {
		prev = s.entries[n-1].Hash
	}
	entry, err := build(prev)
	if err != nil {
		return nil, err
	}
	entry.Seq = int64(len(s.entries) + 1)
	s.entries = append(s.entries, clone(entry))
	return entry, nil
}

func (s *InMemoryStore) ListAll(_ context.Context) ([]*audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*audit.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, clone(e))
	}
	return out, nil
}

func (s *InMemoryStore) List(_ context.Context, filter audit.Filter) ([]*audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*audit.Entry{}
	for _, e := range s.entries {
		if filter.EntityType != "" && e.EntityType != filter.EntityType {
			continue
		}
		if filter.EntityID != "" && e.EntityID != filter.EntityID {
			continue
		}
		out = append(out, clone(e))
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func clone(e *audit.Entry) *audit.Entry {
	cp := *e
	cp.Metadata = maps.Clone(e.Metadata)
	return &cp
}
