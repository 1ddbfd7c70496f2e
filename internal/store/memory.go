package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps records in a map. Used by tests and the single-node dev
// loop.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func (s *MemoryStore) Create(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *rec
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now().UTC()
	}
	clone.UpdatedAt = clone.CreatedAt
	s.records[rec.CorrelationID] = &clone
	return nil
}

func (s *MemoryStore) UpdateByID(_ context.Context, correlationID string, update Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[correlationID]
	if !ok {
		// The aggregator may finalize requests dispatched before this
		// process started; upsert rather than fail.
		rec = &Record{
			CorrelationID: correlationID,
			CreatedAt:     time.Now().UTC(),
		}
		s.records[correlationID] = rec
	}
	update.applyTo(rec)
	return nil
}

func (s *MemoryStore) GetByID(_ context.Context, correlationID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[correlationID]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *rec
	return &clone, nil
}

func (s *MemoryStore) GetAllByOwnerKey(_ context.Context, ownerKey string) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Record
	for _, rec := range s.records {
		if rec.OwnerKey == ownerKey {
			clone := *rec
			out = append(out, &clone)
		}
	}
	return out, nil
}
