// Package memory provides an in-memory document store, primarily for tests
// and local development. Safe for concurrent use.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/RolldeoDev/rolldeo-go/internal/storage"
)

// Store is an in-memory implementation of storage.DocumentStore.
type Store struct {
	mu   sync.RWMutex
	docs map[string]storage.Record
}

var _ storage.DocumentStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{docs: make(map[string]storage.Record)}
}

func (s *Store) Put(_ context.Context, rec storage.Record) (storage.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := s.docs[rec.ID]; ok {
		rec.CreatedAt = existing.CreatedAt
	} else {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	rec.Raw = append([]byte(nil), rec.Raw...)
	s.docs[rec.ID] = rec
	return rec, nil
}

func (s *Store) Get(_ context.Context, id string) (storage.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.docs[id]
	if !ok {
		return storage.Record{}, storage.ErrNotFound
	}
	rec.Raw = append([]byte(nil), rec.Raw...)
	return rec, nil
}

func (s *Store) List(_ context.Context) ([]storage.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]storage.Record, 0, len(s.docs))
	for _, rec := range s.docs {
		rec.Raw = append([]byte(nil), rec.Raw...)
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.docs, id)
	return nil
}

func (s *Store) Close() error { return nil }
