package syncstate

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// MemoryStore keeps sync state in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[string]SyncState
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]SyncState)}
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, date string) (SyncState, bool, error) {
	if err := ctx.Err(); err != nil {
		return SyncState{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[date]
	return row, ok, nil
}

// Upsert implements Store.
func (s *MemoryStore) Upsert(ctx context.Context, state SyncState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if state.Date == "" {
		return errors.New("sync state date is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[state.Date] = state
	return nil
}

// Update implements Store.
func (s *MemoryStore) Update(ctx context.Context, date string, fn func(SyncState, bool) SyncState) (SyncState, error) {
	if err := ctx.Err(); err != nil {
		return SyncState{}, err
	}
	if date == "" {
		return SyncState{}, errors.New("sync state date is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, found := s.rows[date]
	if !found {
		current = SyncState{Date: date}
	}
	next := fn(current, found)
	next.Date = date
	s.rows[date] = next
	return next, nil
}

// ClearAll implements Store.
func (s *MemoryStore) ClearAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = make(map[string]SyncState)
	return nil
}

// List implements Store. Rows are ordered by date.
func (s *MemoryStore) List(ctx context.Context) ([]SyncState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := make([]SyncState, 0, len(s.rows))
	for _, row := range s.rows {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].Date < rows[j].Date
	})
	return rows, nil
}
