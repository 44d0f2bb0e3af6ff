// Package memory is a mutex-guarded transient store for single-process
// deployments and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"once/internal/store"
)

// Store keeps sealed records in a map.
type Store struct {
	mu      sync.Mutex
	records map[string]*store.SealedRecord
	tickets map[string]time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		records: make(map[string]*store.SealedRecord),
		tickets: make(map[string]time.Time),
	}
}

func (s *Store) Put(_ context.Context, record *store.SealedRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[record.StorageKey]; ok && !existing.Expired(record.CreatedAt) {
		return store.ErrDuplicateKey
	}
	cp := *record
	s.records[record.StorageKey] = &cp
	return nil
}

func (s *Store) Take(_ context.Context, storageKey, clientID string, now time.Time) (*store.SealedRecord, error) {
	s.mu.Lock()
	record, ok := s.records[storageKey]
	if ok {
		delete(s.records, storageKey)
	}
	s.mu.Unlock()

	if !ok {
		return nil, store.ErrCodeNotFound
	}
	return store.Resolve(record, clientID, now)
}

func (s *Store) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for key, record := range s.records {
		if record.Expired(now) {
			delete(s.records, key)
			deleted++
		}
	}
	for id, expiresAt := range s.tickets {
		if !now.Before(expiresAt) {
			delete(s.tickets, id)
		}
	}
	return deleted, nil
}

func (s *Store) ConsumeTicket(_ context.Context, id string, expiresAt, now time.Time) error {
	if err := store.ValidateTicket(id, expiresAt, now); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if until, ok := s.tickets[id]; ok && now.Before(until) {
		return store.ErrTicketConsumed
	}
	s.tickets[id] = expiresAt
	return nil
}

// Len reports the number of records held, expired or not.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

var _ store.Store = (*Store)(nil)
