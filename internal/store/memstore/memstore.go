// Package memstore keeps snapshots, the session ledger and the event log in
// process memory. Nothing survives a restart.
package memstore

import (
	"context"
	"sync"

	"github.com/Harshitk-cp/integrity/internal/domain"
	"github.com/google/uuid"
)

type Store struct {
	mu        sync.RWMutex
	snapshot  *domain.SnapshotRecords
	processed map[uuid.UUID]domain.Outcome
	events    map[uuid.UUID][]domain.InhibitionEvent
}

func New() *Store {
	return &Store{
		processed: make(map[uuid.UUID]domain.Outcome),
		events:    make(map[uuid.UUID][]domain.InhibitionEvent),
	}
}

func (s *Store) SaveSnapshot(ctx context.Context, rec *domain.SnapshotRecords) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	cp.Nodes = append([]domain.Node(nil), rec.Nodes...)
	cp.Edges = append([]domain.Edge(nil), rec.Edges...)
	s.snapshot = &cp
	return nil
}

func (s *Store) LoadLatestSnapshot(ctx context.Context) (*domain.SnapshotRecords, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snapshot == nil {
		return nil, domain.ErrNotFound
	}
	cp := *s.snapshot
	return &cp, nil
}

func (s *Store) IsProcessed(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.processed[sessionID]
	return ok, nil
}

func (s *Store) MarkProcessed(ctx context.Context, sessionID uuid.UUID, outcome domain.Outcome) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.processed[sessionID]; ok {
		return false, nil
	}
	s.processed[sessionID] = outcome
	return true, nil
}

func (s *Store) Release(ctx context.Context, sessionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.processed, sessionID)
	return nil
}

func (s *Store) Append(ctx context.Context, events []domain.InhibitionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range events {
		s.events[ev.SessionID] = append(s.events[ev.SessionID], ev)
	}
	return nil
}

func (s *Store) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]domain.InhibitionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.InhibitionEvent(nil), s.events[sessionID]...), nil
}
