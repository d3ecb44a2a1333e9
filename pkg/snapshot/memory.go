package snapshot

import (
	"context"
	"slices"
	"sync"
)

// MemoryStore keeps snapshots in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]*Snapshot
	order  []*Snapshot // insertion order
	closed bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]*Snapshot)}
}

// Save stores a copy of s.
func (m *MemoryStore) Save(ctx context.Context, s *Snapshot) error {
	if err := ctx.Err(); err != nil {
		return NewStorageError("memory", "save", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return NewStorageError("memory", "save", ErrClosed)
	}
	if _, ok := m.byID[s.ID]; ok {
		return NewStorageError("memory", "save", ErrDuplicateSnapshot)
	}

	c := s.clone()
	m.byID[c.ID] = c
	m.order = append(m.order, c)
	return nil
}

// Get returns a copy of the snapshot with id.
func (m *MemoryStore) Get(_ context.Context, id string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, NewStorageError("memory", "get", ErrClosed)
	}
	s, ok := m.byID[id]
	if !ok {
		return nil, &SnapshotNotFoundError{ID: id}
	}
	return s.clone(), nil
}

// List returns copies of every snapshot, newest first. Snapshots with equal
// timestamps are returned latest saved first.
func (m *MemoryStore) List(_ context.Context) ([]*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, NewStorageError("memory", "list", ErrClosed)
	}

	out := make([]*Snapshot, len(m.order))
	for i, s := range m.order {
		out[len(m.order)-1-i] = s.clone()
	}
	slices.SortStableFunc(out, func(a, b *Snapshot) int {
		return b.Timestamp.Compare(a.Timestamp)
	})
	return out, nil
}

// Close marks the store closed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
