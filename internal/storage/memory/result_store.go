package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/mention-scanner/internal/monitor"
)

// ResultStore is an in-memory results.Repository that enforces source-URL uniqueness.
type ResultStore struct {
	mu     sync.RWMutex
	rows   []monitor.Result
	byURL  map[string]int
	usage  map[string]int
	checks int
	writes int
}

// NewResultStore constructs an empty ResultStore.
func NewResultStore() *ResultStore {
	return &ResultStore{
		byURL: make(map[string]int),
		usage: make(map[string]int),
	}
}

// ExistingSourceURLs returns the subset of urls already stored.
func (s *ResultStore) ExistingSourceURLs(_ context.Context, urls []string) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks++
	out := make(map[string]struct{})
	for _, u := range urls {
		if _, ok := s.byURL[u]; ok {
			out[u] = struct{}{}
		}
	}
	return out, nil
}

// InsertResults appends rows, dropping any whose source URL is already stored.
func (s *ResultStore) InsertResults(_ context.Context, rows []monitor.Result) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		if _, ok := s.byURL[row.SourceURL]; ok {
			continue
		}
		s.byURL[row.SourceURL] = len(s.rows)
		s.rows = append(s.rows, row)
		ids = append(ids, row.ID)
	}
	return ids, nil
}

// IncrementUsage adds n to the user's usage counter.
func (s *ResultStore) IncrementUsage(_ context.Context, userID string, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage[userID] += n
	return nil
}

// Results returns a copy of every stored row in insertion order.
func (s *ResultStore) Results() []monitor.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]monitor.Result, len(s.rows))
	copy(out, s.rows)
	return out
}

// Usage returns the usage counter of a user.
func (s *ResultStore) Usage(userID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usage[userID]
}

// Calls reports how many existence checks and batch inserts were issued.
func (s *ResultStore) Calls() (checks, writes int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checks, s.writes
}
