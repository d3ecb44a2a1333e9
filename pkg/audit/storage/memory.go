package storage

import (
	"context"
	"slices"
	"sync"

	"mercator-hq/keyweave/pkg/audit"
)

// MemoryStorage keeps audit records in process memory. Records live for the
// lifetime of the process.
type MemoryStorage struct {
	records []*audit.Record
	nextID  int64
	closed  bool
	mu      sync.RWMutex
}

// NewMemoryStorage creates a new in-memory storage backend.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{nextID: 1}
}

// Append assigns ids and stores copies of records.
func (s *MemoryStorage) Append(ctx context.Context, records []*audit.Record) error {
	if err := ctx.Err(); err != nil {
		return audit.NewStorageError("memory", "append", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return audit.NewStorageError("memory", "append", audit.ErrClosed)
	}

	for _, r := range records {
		r.ID = s.nextID
		s.nextID++
		s.records = append(s.records, r.Clone())
	}
	return nil
}

// Query retrieves matching records, newest first.
func (s *MemoryStorage) Query(ctx context.Context, query *audit.Query) ([]*audit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, audit.NewStorageError("memory", "query", audit.ErrClosed)
	}

	results := []*audit.Record{}
	for _, r := range s.records {
		if query.Matches(r) {
			results = append(results, r)
		}
	}

	slices.SortFunc(results, newestFirst)

	start := 0
	if query != nil {
		start = query.Offset
	}
	if start >= len(results) {
		return []*audit.Record{}, nil
	}
	end := len(results)
	if query != nil && query.Limit > 0 && start+query.Limit < end {
		end = start + query.Limit
	}

	page := make([]*audit.Record, 0, end-start)
	for _, r := range results[start:end] {
		page = append(page, r.Clone())
	}
	return page, nil
}

// Count returns the number of matching records.
func (s *MemoryStorage) Count(ctx context.Context, query *audit.Query) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, audit.NewStorageError("memory", "count", audit.ErrClosed)
	}

	var count int64
	for _, r := range s.records {
		if query.Matches(r) {
			count++
		}
	}
	return count, nil
}

// Close marks the storage closed. Records are retained for inspection.
func (s *MemoryStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Size returns the number of records in storage.
func (s *MemoryStorage) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func newestFirst(a, b *audit.Record) int {
	if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
		return c
	}
	switch {
	case a.ID > b.ID:
		return -1
	case a.ID < b.ID:
		return 1
	}
	return 0
}
