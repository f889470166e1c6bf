// Package results persists fetched items with batched deduplication on source URL.
package results

import (
	"context"
	"fmt"
	"strings"

	"github.com/JakeFAU/mention-scanner/internal/monitor"
)

// Repository is the persistence port used by InsertNew and SaveNew.
type Repository interface {
	// ExistingSourceURLs returns the subset of urls that already have a Result row.
	ExistingSourceURLs(ctx context.Context, urls []string) (map[string]struct{}, error)
	// InsertResults writes rows and returns the IDs actually inserted. Rows
	// rejected by the source-URL uniqueness constraint are silently dropped.
	// On error it still returns the IDs of rows already committed.
	InsertResults(ctx context.Context, rows []monitor.Result) ([]string, error)
	// IncrementUsage adds n to the user's usage counter.
	IncrementUsage(ctx context.Context, userID string, n int) error
}

// Saved reports what InsertNew or SaveNew persisted.
type Saved struct {
	Count int      `json:"count"`
	IDs   []string `json:"ids"`
}

// Store wires a Repository with ID and time sources.
type Store struct {
	repo  Repository
	ids   monitor.IDGenerator
	clock monitor.Clock
}

// NewStore constructs a Store.
func NewStore(repo Repository, ids monitor.IDGenerator, clock monitor.Clock) *Store {
	return &Store{repo: repo, ids: ids, clock: clock}
}

// SaveNew is InsertNew followed by RecordUsage for the rows it inserted.
// Callers that checkpoint each write separately should call the two directly.
func SaveNew[T any](
	ctx context.Context,
	s *Store,
	items []T,
	monitorID string,
	userID string,
	sourceURL func(T) string,
	toResult func(T) monitor.Result,
) (Saved, error) {
	saved, err := InsertNew(ctx, s, items, monitorID, userID, sourceURL, toResult)
	if err != nil {
		return Saved{}, err
	}
	if err := s.RecordUsage(ctx, userID, saved.Count); err != nil {
		return Saved{}, err
	}
	return saved, nil
}

// InsertNew persists the items whose source URL is not yet stored. Items
// with a blank URL are ignored; duplicate URLs within items keep the first
// occurrence. It does not touch the usage counter.
//
// The existence check and the insert are not atomic across concurrent runs.
// The storage-level uniqueness constraint drops the loser of that race.
func InsertNew[T any](
	ctx context.Context,
	s *Store,
	items []T,
	monitorID string,
	userID string,
	sourceURL func(T) string,
	toResult func(T) monitor.Result,
) (Saved, error) {
	if len(items) == 0 {
		return Saved{}, nil
	}

	seen := make(map[string]struct{}, len(items))
	urls := make([]string, 0, len(items))
	candidates := make([]T, 0, len(items))
	for _, item := range items {
		u := strings.TrimSpace(sourceURL(item))
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
		candidates = append(candidates, item)
	}
	if len(urls) == 0 {
		return Saved{}, nil
	}

	existing, err := s.repo.ExistingSourceURLs(ctx, urls)
	if err != nil {
		return Saved{}, fmt.Errorf("check existing results: %w", err)
	}

	now := s.clock.Now()
	rows := make([]monitor.Result, 0, len(candidates))
	for i, item := range candidates {
		if _, found := existing[urls[i]]; found {
			continue
		}
		row := toResult(item)
		if row.ID == "" {
			id, err := s.ids.NewID()
			if err != nil {
				return Saved{}, fmt.Errorf("generate result id: %w", err)
			}
			row.ID = id
		}
		row.MonitorID = monitorID
		row.UserID = userID
		row.SourceURL = urls[i]
		if row.CreatedAt.IsZero() {
			row.CreatedAt = now
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return Saved{}, nil
	}

	inserted, err := s.repo.InsertResults(ctx, rows)
	if err != nil && len(inserted) == 0 {
		return Saved{}, fmt.Errorf("insert results: %w", err)
	}
	// Committed rows are reported so they are still announced. The rows that
	// failed are not stored and stay new for the next scan.
	if len(inserted) == 0 {
		return Saved{}, nil
	}
	return Saved{Count: len(inserted), IDs: inserted}, nil
}

// RecordUsage adds n to the user's usage counter. n <= 0 is a no-op.
func (s *Store) RecordUsage(ctx context.Context, userID string, n int) error {
	if n <= 0 {
		return nil
	}
	if err := s.repo.IncrementUsage(ctx, userID, n); err != nil {
		return fmt.Errorf("increment usage: %w", err)
	}
	return nil
}

// ItemURL extracts the dedup key of an Item.
func ItemURL(item monitor.Item) string {
	return item.SourceURL
}

// ItemMapper maps an Item to a Result row for source.
func ItemMapper(source monitor.Source) func(monitor.Item) monitor.Result {
	return func(item monitor.Item) monitor.Result {
		return monitor.Result{
			Source:   source,
			Title:    item.Title,
			Body:     item.Body,
			Author:   item.Author,
			PostedAt: item.PostedAt,
			Metadata: item.Metadata,
		}
	}
}
