package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/mention-scanner/internal/store"
)

const runColumns = `id, kind, source, started_at, finished_at, status, new_items, error_message`

// RunStore implements store.RunRepository on the scan_runs table.
type RunStore struct {
	db DB
}

// NewRunStore constructs a RunStore.
func NewRunStore(db DB) (*RunStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RunStore{db: db}, nil
}

// UpsertRunStart inserts the run or flips a retried run back to running.
func (s *RunStore) UpsertRunStart(
	ctx context.Context,
	id string,
	kind store.RunKind,
	source string,
	startedAt time.Time,
) error {
	query := `
		INSERT INTO scan_runs (id, kind, source, started_at, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status, finished_at = NULL, error_message = NULL
		WHERE scan_runs.status <> EXCLUDED.status;
	`
	if _, err := s.db.Exec(ctx, query, id, kind, source, startedAt, store.RunRunning); err != nil {
		return fmt.Errorf("upsert run start: %w", err)
	}
	return nil
}

// CompleteRun marks a run finished.
func (s *RunStore) CompleteRun(
	ctx context.Context,
	id string,
	finishedAt time.Time,
	status store.RunStatus,
	newItems int64,
	errMsg *string,
) error {
	query := `
		UPDATE scan_runs
		SET finished_at = $1, status = $2, new_items = $3, error_message = $4
		WHERE id = $5;
	`
	tag, err := s.db.Exec(ctx, query, finishedAt, status, newItems, errMsg, id)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetRun retrieves a single run by its ID.
func (s *RunStore) GetRun(ctx context.Context, id string) (store.Run, error) {
	row := s.db.QueryRow(ctx, `SELECT `+runColumns+` FROM scan_runs WHERE id = $1;`, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves runs newest first, with optional status filtering.
func (s *RunStore) ListRuns(ctx context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	query := `
		SELECT ` + runColumns + `
		FROM scan_runs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.db.Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []store.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

func scanRun(row scanner) (store.Run, error) {
	var run store.Run
	err := row.Scan(
		&run.ID,
		&run.Kind,
		&run.Source,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Status,
		&run.NewItems,
		&run.ErrorMessage,
	)
	return run, err
}
