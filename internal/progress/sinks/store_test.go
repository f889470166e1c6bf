package sinks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/mention-scanner/internal/progress"
	"github.com/JakeFAU/mention-scanner/internal/storage/memory"
	"github.com/JakeFAU/mention-scanner/internal/store"
)

// TestStoreSinkPersistsRuns ensures run start and completion reach the repository.
func TestStoreSinkPersistsRuns(t *testing.T) {
	t.Parallel()

	repo := memory.NewRunStore()
	sink := NewStoreSink(repo, nil)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	batch := []progress.Event{
		{RunID: "scheduled:g2:1", Kind: progress.KindScheduled, Source: "g2", Stage: progress.StageRunStart, TS: now},
		{RunID: "scheduled:g2:1", Stage: progress.StageMonitorDone, MonitorID: "m1", NewItems: 3, TS: now},
		{RunID: "scheduled:g2:1", Stage: progress.StageRunDone, NewItems: 3, TS: now.Add(time.Minute)},
		{RunID: "on-demand:m1:q", Kind: progress.KindOnDemand, Stage: progress.StageRunStart, TS: now},
		{RunID: "on-demand:m1:q", Stage: progress.StageRunError, Note: "boom", TS: now.Add(time.Second)},
		{RunID: "missing", Stage: progress.StageRunDone, TS: now},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	run, err := repo.GetRun(context.Background(), "scheduled:g2:1")
	require.NoError(t, err)
	require.Equal(t, store.RunSuccess, run.Status)
	require.Equal(t, store.KindScheduled, run.Kind)
	require.Equal(t, "g2", run.Source)
	require.Equal(t, int64(3), run.NewItems)

	failed, err := repo.GetRun(context.Background(), "on-demand:m1:q")
	require.NoError(t, err)
	require.Equal(t, store.RunError, failed.Status)
	require.NotNil(t, failed.ErrorMessage)
	require.Equal(t, "boom", *failed.ErrorMessage)
}

type failingRunRepo struct {
	store.RunRepository
}

func (failingRunRepo) UpsertRunStart(context.Context, string, store.RunKind, string, time.Time) error {
	return errors.New("db down")
}

// TestStoreSinkHandlesErrors surfaces repository failures back to the caller.
func TestStoreSinkHandlesErrors(t *testing.T) {
	t.Parallel()

	sink := NewStoreSink(failingRunRepo{}, nil)
	err := sink.Consume(context.Background(), []progress.Event{
		{RunID: "r", Stage: progress.StageRunStart, TS: time.Now()},
	})
	require.ErrorContains(t, err, "db down")
}
