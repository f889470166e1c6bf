package memory

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/mention-scanner/internal/steps"
)

type stepKey struct {
	runID string
	name  string
}

// StepStore is an in-memory append-only step log.
type StepStore struct {
	mu      sync.RWMutex
	records map[stepKey]steps.Record
}

// NewStepStore constructs an empty StepStore.
func NewStepStore() *StepStore {
	return &StepStore{records: make(map[stepKey]steps.Record)}
}

// Load returns the record for (runID, name).
func (s *StepStore) Load(_ context.Context, runID, name string) (steps.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[stepKey{runID: runID, name: name}]
	return rec, ok, nil
}

// Save appends rec unless (RunID, Name) is already recorded.
func (s *StepStore) Save(_ context.Context, rec steps.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := stepKey{runID: rec.RunID, name: rec.Name}
	if _, exists := s.records[key]; exists {
		return nil
	}
	rec.Output = append([]byte(nil), rec.Output...)
	s.records[key] = rec
	return nil
}

// Purge drops records completed before the cutoff.
func (s *StepStore) Purge(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for key, rec := range s.records {
		if rec.CompletedAt.Before(before) {
			delete(s.records, key)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored records.
func (s *StepStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
