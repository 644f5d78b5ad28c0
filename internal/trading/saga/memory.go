package saga

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradepost/internal/outbox"
)

// MemoryStore keeps sagas and outbox entries in memory with concurrency
// safety, optionally writing every change to a WAL so a restart can
// recover. It backs single-node runs and tests; shared deployments use the
// Postgres store.
type MemoryStore struct {
	mu      sync.RWMutex
	sagas   map[uuid.UUID]PurchaseSaga
	entries []outbox.Entry
	nextID  int64
	wal     WAL
}

type walRecord struct {
	Type  string        `json:"type"`
	Saga  *PurchaseSaga `json:"saga,omitempty"`
	Entry *outbox.Entry `json:"entry,omitempty"`
	Sent  []int64       `json:"sent,omitempty"`
}

// NewMemoryStore constructs a MemoryStore. A nil WAL disables persistence.
func NewMemoryStore(wal WAL) *MemoryStore {
	return &MemoryStore{
		sagas:  make(map[uuid.UUID]PurchaseSaga),
		nextID: 1,
		wal:    wal,
	}
}

// NewMemoryStoreWithRecovery constructs a MemoryStore and replays the WAL
// file into memory before reusing it for new writes.
func NewMemoryStoreWithRecovery(path string) (*MemoryStore, error) {
	s := &MemoryStore{
		sagas:  make(map[uuid.UUID]PurchaseSaga),
		nextID: 1,
	}
	if err := s.loadFromFile(path); err != nil {
		return nil, err
	}
	wal, err := NewFileWAL(path)
	if err != nil {
		return nil, err
	}
	s.wal = wal
	return s, nil
}

// Load returns the saga for the correlation id.
func (s *MemoryStore) Load(ctx context.Context, correlationID uuid.UUID) (PurchaseSaga, error) {
	if err := ctx.Err(); err != nil {
		return PurchaseSaga{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	instance, ok := s.sagas[correlationID]
	if !ok {
		return PurchaseSaga{}, ErrNotFound
	}
	return instance, nil
}

// Save writes the saga and its outbox entries under one lock.
func (s *MemoryStore) Save(ctx context.Context, instance PurchaseSaga, expectedVersion int64, entries []outbox.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.sagas[instance.CorrelationID]
	if expectedVersion == 0 {
		if exists {
			return ErrVersionConflict
		}
	} else if !exists || current.Version != expectedVersion {
		return ErrVersionConflict
	}

	instance.Version = expectedVersion + 1
	s.sagas[instance.CorrelationID] = instance
	if err := s.appendWAL(walRecord{Type: "saga", Saga: &instance}); err != nil {
		return err
	}

	for i := range entries {
		entry := entries[i]
		entry.ID = s.nextID
		s.nextID++
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = time.Now().UTC()
		}
		s.entries = append(s.entries, entry)
		if err := s.appendWAL(walRecord{Type: "outbox", Entry: &entry}); err != nil {
			return err
		}
	}
	return nil
}

// ListUnsent returns up to limit unsent outbox entries in ID order.
func (s *MemoryStore) ListUnsent(ctx context.Context, limit int) ([]outbox.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []outbox.Entry
	for _, entry := range s.entries {
		if entry.SentAt != nil {
			continue
		}
		out = append(out, entry)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// MarkSent stamps the given entries as dispatched.
func (s *MemoryStore) MarkSent(ctx context.Context, ids []int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	lookup := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		lookup[id] = struct{}{}
	}
	for i := range s.entries {
		if _, ok := lookup[s.entries[i].ID]; ok && s.entries[i].SentAt == nil {
			sent := now
			s.entries[i].SentAt = &sent
		}
	}
	return s.appendWAL(walRecord{Type: "sent", Sent: ids})
}

func (s *MemoryStore) appendWAL(rec walRecord) error {
	if s.wal == nil {
		return nil
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.wal.Write(data)
}

func (s *MemoryStore) loadFromFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec walRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			// Skip a torn tail write; everything before it is intact.
			continue
		}
		switch rec.Type {
		case "saga":
			if rec.Saga != nil {
				s.sagas[rec.Saga.CorrelationID] = *rec.Saga
			}
		case "outbox":
			if rec.Entry != nil {
				s.entries = append(s.entries, *rec.Entry)
				if rec.Entry.ID >= s.nextID {
					s.nextID = rec.Entry.ID + 1
				}
			}
		case "sent":
			now := time.Now().UTC()
			lookup := make(map[int64]struct{}, len(rec.Sent))
			for _, id := range rec.Sent {
				lookup[id] = struct{}{}
			}
			for i := range s.entries {
				if _, ok := lookup[s.entries[i].ID]; ok && s.entries[i].SentAt == nil {
					sent := now
					s.entries[i].SentAt = &sent
				}
			}
		}
	}
	return scanner.Err()
}
