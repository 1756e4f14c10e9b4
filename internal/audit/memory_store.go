package audit

import (
	"context"
	"sort"
	"sync"

	"github.com/crimecast/crimecast/internal/pagination"
)

// MemoryStore is an in-memory implementation of Store for testing
type MemoryStore struct {
	mu      sync.RWMutex
	entries []*Entry
	nextID  int64
}

// NewMemoryStore creates a new in-memory audit store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Compile-time interface check
var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Append(ctx context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	cp := *e
	cp.ID = m.nextID
	if e.AccountID != nil {
		id := *e.AccountID
		cp.AccountID = &id
	}
	e.ID = cp.ID
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *MemoryStore) List(ctx context.Context, limit int) ([]*Entry, error) {
	return m.list(nil, limit), nil
}

func (m *MemoryStore) ListBefore(ctx context.Context, before pagination.Cursor, limit int) ([]*Entry, error) {
	return m.list(&before, limit), nil
}

func (m *MemoryStore) list(before *pagination.Cursor, limit int) []*Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Entry, 0, len(m.entries))
	for _, e := range m.entries {
		if !before.Older(e.Timestamp, e.ID) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
