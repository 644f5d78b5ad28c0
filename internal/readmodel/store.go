package readmodel

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Store holds one snapshot collection. The sync component is the only
// writer; everything else reads.
type Store[T Snapshot] interface {
	List(ctx context.Context) ([]T, error)
	Get(ctx context.Context, id uuid.UUID) (T, error)
	Upsert(ctx context.Context, item T) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// MemoryStore is an in-memory snapshot store.
type MemoryStore[T Snapshot] struct {
	mu    sync.RWMutex
	items map[uuid.UUID]T
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore[T Snapshot]() *MemoryStore[T] {
	return &MemoryStore[T]{items: make(map[uuid.UUID]T)}
}

// List returns all stored snapshots.
func (s *MemoryStore[T]) List(ctx context.Context) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]T, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, item)
	}
	return out, nil
}

// Get returns the snapshot for the id, or ErrNotFound.
func (s *MemoryStore[T]) Get(ctx context.Context, id uuid.UUID) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return zero, ErrNotFound
	}
	return item, nil
}

// Upsert inserts or replaces the snapshot.
func (s *MemoryStore[T]) Upsert(ctx context.Context, item T) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.SnapshotID()] = item
	return nil
}

// Delete removes the snapshot if present.
func (s *MemoryStore[T]) Delete(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
	return nil
}
