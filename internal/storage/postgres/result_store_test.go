package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/mention-scanner/internal/monitor"
)

func newResultStore(t *testing.T) (*ResultStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	s, err := NewResultStore(mock)
	require.NoError(t, err)
	return s, mock
}

func sampleResult(id, url string, at time.Time) monitor.Result {
	return monitor.Result{
		ID:        id,
		MonitorID: "m1",
		UserID:    "u1",
		Source:    monitor.SourceReddit,
		SourceURL: url,
		Title:     "title " + id,
		CreatedAt: at,
	}
}

func TestExistingSourceURLs(t *testing.T) {
	t.Parallel()

	s, mock := newResultStore(t)
	urls := []string{"https://a", "https://b"}
	mock.ExpectQuery("SELECT source_url FROM results").
		WithArgs(urls).
		WillReturnRows(mock.NewRows([]string{"source_url"}).AddRow("https://b"))

	got, err := s.ExistingSourceURLs(context.Background(), urls)
	require.NoError(t, err)
	require.Equal(t, map[string]struct{}{"https://b": {}}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertResultsReturnsInsertedIDs(t *testing.T) {
	t.Parallel()

	s, mock := newResultStore(t)
	at := time.Unix(1700000000, 0).UTC()
	rows := []monitor.Result{sampleResult("r1", "https://a", at), sampleResult("r2", "https://b", at)}

	args := make([]any, 0, 2*resultColumnCount)
	for range rows {
		for i := 0; i < resultColumnCount; i++ {
			args = append(args, pgxmock.AnyArg())
		}
	}
	mock.ExpectQuery("ON CONFLICT \\(source_url\\) DO NOTHING").
		WithArgs(args...).
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow("r1"))

	ids, err := s.InsertResults(context.Background(), rows)
	require.NoError(t, err)
	require.Equal(t, []string{"r1"}, ids, "the conflicting row is dropped")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertResultsFallsBackOnUniqueViolation(t *testing.T) {
	t.Parallel()

	s, mock := newResultStore(t)
	at := time.Unix(1700000000, 0).UTC()
	rows := []monitor.Result{sampleResult("r1", "https://a", at), sampleResult("r2", "https://b", at)}
	conflict := &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"}

	mock.ExpectQuery("INSERT INTO results").WillReturnError(conflict)
	mock.ExpectQuery("INSERT INTO results").WillReturnError(conflict)
	mock.ExpectQuery("INSERT INTO results").
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow("r2"))

	ids, err := s.InsertResults(context.Background(), rows)
	require.NoError(t, err)
	require.Equal(t, []string{"r2"}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertResultsPropagatesOtherErrors(t *testing.T) {
	t.Parallel()

	s, mock := newResultStore(t)
	mock.ExpectQuery("INSERT INTO results").WillReturnError(errors.New("connection reset"))

	_, err := s.InsertResults(context.Background(), []monitor.Result{sampleResult("r1", "https://a", time.Now())})
	require.ErrorContains(t, err, "connection reset")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementUsage(t *testing.T) {
	t.Parallel()

	s, mock := newResultStore(t)
	mock.ExpectExec("UPDATE users SET usage").
		WithArgs("u1", 3).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.IncrementUsage(context.Background(), "u1", 3))
	require.NoError(t, s.IncrementUsage(context.Background(), "u1", 0))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPlaceholders(t *testing.T) {
	t.Parallel()

	require.Equal(t, "($1,$2,$3)", placeholders(0, 3))
	require.Equal(t, "($4,$5,$6)", placeholders(3, 3))
}

func anyArgs(rows int) []any {
	args := make([]any, 0, rows*resultColumnCount)
	for i := 0; i < rows*resultColumnCount; i++ {
		args = append(args, pgxmock.AnyArg())
	}
	return args
}

func TestInsertResultsSplitsLargeBatches(t *testing.T) {
	t.Parallel()

	s, mock := newResultStore(t)
	s.chunkRows = 2
	at := time.Unix(1700000000, 0).UTC()
	rows := []monitor.Result{
		sampleResult("r1", "https://a", at),
		sampleResult("r2", "https://b", at),
		sampleResult("r3", "https://c", at),
	}

	mock.ExpectQuery("INSERT INTO results").
		WithArgs(anyArgs(2)...).
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow("r1").AddRow("r2"))
	mock.ExpectQuery("INSERT INTO results").
		WithArgs(anyArgs(1)...).
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow("r3"))

	ids, err := s.InsertResults(context.Background(), rows)
	require.NoError(t, err)
	require.Equal(t, []string{"r1", "r2", "r3"}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertResultsReturnsCommittedChunksOnError(t *testing.T) {
	t.Parallel()

	s, mock := newResultStore(t)
	s.chunkRows = 1
	at := time.Unix(1700000000, 0).UTC()
	rows := []monitor.Result{sampleResult("r1", "https://a", at), sampleResult("r2", "https://b", at)}

	mock.ExpectQuery("INSERT INTO results").
		WithArgs(anyArgs(1)...).
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow("r1"))
	mock.ExpectQuery("INSERT INTO results").WillReturnError(errors.New("connection reset"))

	ids, err := s.InsertResults(context.Background(), rows)
	require.ErrorContains(t, err, "connection reset")
	require.Equal(t, []string{"r1"}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewResultStoreChunkStaysUnderParameterLimit(t *testing.T) {
	t.Parallel()

	s, _ := newResultStore(t)
	require.LessOrEqual(t, s.chunkRows*resultColumnCount, 65535)
}
