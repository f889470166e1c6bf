package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/mention-scanner/internal/steps"
)

// StepStore implements steps.Store and steps.Purger on the scan_steps table.
type StepStore struct {
	db DB
}

// NewStepStore constructs a StepStore.
func NewStepStore(db DB) (*StepStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &StepStore{db: db}, nil
}

// Load returns the checkpoint for (runID, name).
func (s *StepStore) Load(ctx context.Context, runID, name string) (steps.Record, bool, error) {
	rec := steps.Record{RunID: runID, Name: name}
	var output []byte
	err := s.db.QueryRow(ctx, `
		SELECT output, completed_at FROM scan_steps
		WHERE run_id = $1 AND step_name = $2;`, runID, name).Scan(&output, &rec.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return steps.Record{}, false, nil
		}
		return steps.Record{}, false, fmt.Errorf("load step %s/%s: %w", runID, name, err)
	}
	rec.Output = output
	return rec, true, nil
}

// Save appends a checkpoint. An existing (run_id, step_name) row wins.
func (s *StepStore) Save(ctx context.Context, rec steps.Record) error {
	var output []byte
	if len(rec.Output) > 0 {
		output = rec.Output
	}
	if _, err := s.db.Exec(ctx, `
		INSERT INTO scan_steps (run_id, step_name, output, completed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (run_id, step_name) DO NOTHING;`,
		rec.RunID, rec.Name, output, rec.CompletedAt); err != nil {
		return fmt.Errorf("save step %s/%s: %w", rec.RunID, rec.Name, err)
	}
	return nil
}

// Purge deletes checkpoints completed before the cutoff.
func (s *StepStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM scan_steps WHERE completed_at < $1;`, before)
	if err != nil {
		return 0, fmt.Errorf("purge steps: %w", err)
	}
	return tag.RowsAffected(), nil
}
