package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/mention-scanner/internal/store"
)

var runCols = []string{"id", "kind", "source", "started_at", "finished_at", "status", "new_items", "error_message"}

func newRunStore(t *testing.T) (*RunStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	s, err := NewRunStore(mock)
	require.NoError(t, err)
	return s, mock
}

func TestUpsertRunStart(t *testing.T) {
	t.Parallel()

	s, mock := newRunStore(t)
	at := time.Unix(1700000000, 0).UTC()
	mock.ExpectExec("INSERT INTO scan_runs").
		WithArgs("scheduled:reddit:1", store.KindScheduled, "reddit", at, store.RunRunning).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.UpsertRunStart(context.Background(), "scheduled:reddit:1", store.KindScheduled, "reddit", at)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteRunMissing(t *testing.T) {
	t.Parallel()

	s, mock := newRunStore(t)
	at := time.Unix(1700000000, 0).UTC()
	mock.ExpectExec("UPDATE scan_runs").
		WithArgs(at, store.RunSuccess, int64(5), (*string)(nil), "nope").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.CompleteRun(context.Background(), "nope", at, store.RunSuccess, 5, nil)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRun(t *testing.T) {
	t.Parallel()

	s, mock := newRunStore(t)
	started := time.Unix(1700000000, 0).UTC()
	finished := started.Add(time.Minute)
	mock.ExpectQuery("FROM scan_runs WHERE id").
		WithArgs("run-1").
		WillReturnRows(mock.NewRows(runCols).
			AddRow("run-1", store.KindOnDemand, "", started, &finished, store.RunSuccess, int64(7), (*string)(nil)))

	run, err := s.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, store.KindOnDemand, run.Kind)
	require.Equal(t, store.RunSuccess, run.Status)
	require.EqualValues(t, 7, run.NewItems)
	require.Equal(t, finished, *run.FinishedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRunNotFound(t *testing.T) {
	t.Parallel()

	s, mock := newRunStore(t)
	mock.ExpectQuery("FROM scan_runs WHERE id").
		WithArgs("missing").
		WillReturnRows(mock.NewRows(runCols))

	_, err := s.GetRun(context.Background(), "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListRunsFiltersByStatus(t *testing.T) {
	t.Parallel()

	s, mock := newRunStore(t)
	started := time.Unix(1700000000, 0).UTC()
	status := store.RunError
	msg := "load monitors: db down"
	mock.ExpectQuery("ORDER BY started_at DESC").
		WithArgs(&status, 10, 0).
		WillReturnRows(mock.NewRows(runCols).
			AddRow("run-2", store.KindScheduled, "g2", started, (*time.Time)(nil), store.RunError, int64(0), &msg))

	runs, err := s.ListRuns(context.Background(), &status, 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, msg, *runs[0].ErrorMessage)
	require.Nil(t, runs[0].FinishedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}
