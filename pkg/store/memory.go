package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps records for the lifetime of the process.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	logs    map[string][]LogEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
		logs:    make(map[string][]LogEntry),
		now:     time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, researchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[researchID]; ok {
		return ErrExists
	}
	now := s.now()
	s.records[researchID] = &Record{
		ResearchID: researchID,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return nil
}

func (s *MemoryStore) update(researchID string, fn func(r *Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[researchID]
	if !ok {
		return ErrNotFound
	}
	fn(r)
	r.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) Start(_ context.Context, researchID string) error {
	return s.update(researchID, func(r *Record) { r.Status = StatusRunning })
}

func (s *MemoryStore) Complete(_ context.Context, researchID string, bundle Bundle) error {
	return s.update(researchID, func(r *Record) {
		r.Status = StatusCompleted
		r.Bundle = &bundle
		r.Error = ""
	})
}

func (s *MemoryStore) Fail(_ context.Context, researchID string, reason string) error {
	return s.update(researchID, func(r *Record) {
		r.Status = StatusFailed
		r.Error = reason
	})
}

func (s *MemoryStore) Get(_ context.Context, researchID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[researchID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) AppendLog(_ context.Context, researchID string, entry LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[researchID]; !ok {
		return ErrNotFound
	}
	entry.ID = len(s.logs[researchID]) + 1
	s.logs[researchID] = append(s.logs[researchID], entry)
	return nil
}

func (s *MemoryStore) Logs(_ context.Context, researchID string) ([]LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]LogEntry(nil), s.logs[researchID]...), nil
}
