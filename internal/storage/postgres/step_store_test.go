package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/mention-scanner/internal/steps"
)

func newStepStore(t *testing.T) (*StepStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	s, err := NewStepStore(mock)
	require.NoError(t, err)
	return s, mock
}

func TestStepStoreLoad(t *testing.T) {
	t.Parallel()

	s, mock := newStepStore(t)
	at := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery("FROM scan_steps").
		WithArgs("run-1", "fetch:reddit:m1").
		WillReturnRows(mock.NewRows([]string{"output", "completed_at"}).AddRow([]byte(`["a"]`), at))
	mock.ExpectQuery("FROM scan_steps").
		WithArgs("run-1", "persist:reddit:m1").
		WillReturnRows(mock.NewRows([]string{"output", "completed_at"}))

	rec, ok, err := s.Load(context.Background(), "run-1", "fetch:reddit:m1")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `["a"]`, string(rec.Output))
	require.Equal(t, at, rec.CompletedAt)

	_, ok, err = s.Load(context.Background(), "run-1", "persist:reddit:m1")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStepStoreSaveKeepsFirstRecord(t *testing.T) {
	t.Parallel()

	s, mock := newStepStore(t)
	at := time.Unix(1700000000, 0).UTC()
	mock.ExpectExec("ON CONFLICT \\(run_id, step_name\\) DO NOTHING").
		WithArgs("run-1", "$started", []byte(`"2023-11-14T22:13:20Z"`), at).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	err := s.Save(context.Background(), steps.Record{
		RunID:       "run-1",
		Name:        "$started",
		Output:      json.RawMessage(`"2023-11-14T22:13:20Z"`),
		CompletedAt: at,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStepStorePurge(t *testing.T) {
	t.Parallel()

	s, mock := newStepStore(t)
	cutoff := time.Unix(1700000000, 0).UTC()
	mock.ExpectExec("DELETE FROM scan_steps").
		WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("DELETE", 42))

	n, err := s.Purge(context.Background(), cutoff)
	require.NoError(t, err)
	require.EqualValues(t, 42, n)
	require.NoError(t, mock.ExpectationsWereMet())
}
