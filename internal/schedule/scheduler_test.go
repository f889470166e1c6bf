package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/mention-scanner/internal/monitor"
	"github.com/JakeFAU/mention-scanner/internal/scan"
	storageMemory "github.com/JakeFAU/mention-scanner/internal/storage/memory"
	"github.com/JakeFAU/mention-scanner/internal/steps"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func TestValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, Validate("*/5 * * * *"))
	require.NoError(t, Validate("@hourly"))
	require.Error(t, Validate("* * *"))
	require.Error(t, Validate("*/5 * * * * *"))
}

func TestRegisterRejectsDuplicatesAndBadSpecs(t *testing.T) {
	t.Parallel()

	s := New(nil, zap.NewNop())
	noop := func(context.Context, time.Time) {}
	require.NoError(t, s.Register("reaper", "*/5 * * * *", noop))
	require.Error(t, s.Register("reaper", "*/5 * * * *", noop))
	require.Error(t, s.Register("bad", "not a spec", noop))

	entries := s.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, "reaper", entries[0].Name)
	require.Equal(t, "*/5 * * * *", entries[0].Spec)
}

func TestSchedulerFiresWithBaseContext(t *testing.T) {
	t.Parallel()

	firedAt := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	s := New(fixedClock{now: firedAt}, nil)

	type keyType struct{}
	got := make(chan time.Time, 4)
	require.NoError(t, s.Register("tick", "@every 1s", func(ctx context.Context, at time.Time) {
		if ctx.Value(keyType{}) == "base" {
			got <- at
		}
	}))

	ctx := context.WithValue(context.Background(), keyType{}, "base")
	s.Start(ctx)
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Stop(stopCtx)
	})

	select {
	case at := <-got:
		require.Equal(t, firedAt, at)
	case <-time.After(3 * time.Second):
		t.Fatal("job did not fire")
	}
}

type fakeScanner struct {
	source monitor.Source
	runID  string
	err    error
}

func (f *fakeScanner) RunScheduled(_ context.Context, source monitor.Source, runID string) (scan.Summary, error) {
	f.source, f.runID = source, runID
	return scan.Summary{RunID: runID}, f.err
}

func TestScanJobDerivesRunID(t *testing.T) {
	t.Parallel()

	fs := &fakeScanner{}
	job := ScanJob(fs, monitor.SourceReddit, nil)
	job(context.Background(), time.Date(2026, 3, 2, 12, 0, 42, 0, time.UTC))

	require.Equal(t, monitor.SourceReddit, fs.source)
	require.Equal(t, "scheduled:reddit:1772452800", fs.runID)

	fs.err = errors.New("db down")
	job(context.Background(), time.Date(2026, 3, 2, 12, 1, 0, 0, time.UTC))
	require.Equal(t, "scheduled:reddit:1772452860", fs.runID)
}

type fakeSweeper struct{ runIDs []string }

func (f *fakeSweeper) Sweep(_ context.Context, runID string) ([]string, error) {
	f.runIDs = append(f.runIDs, runID)
	return nil, nil
}

func TestReaperJob(t *testing.T) {
	t.Parallel()

	fs := &fakeSweeper{}
	ReaperJob(fs, nil)(context.Background(), time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC))
	require.Equal(t, []string{steps.RunID("reaper", "cron", time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC))}, fs.runIDs)
}

func TestPurgeJobDropsOldRecords(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := storageMemory.NewStepStore()
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(ctx, steps.Record{RunID: "old", Name: "fetch", CompletedAt: now.Add(-8 * 24 * time.Hour)}))
	require.NoError(t, store.Save(ctx, steps.Record{RunID: "new", Name: "fetch", CompletedAt: now.Add(-time.Hour)}))

	PurgeJob(store, 7*24*time.Hour, zap.NewNop())(ctx, now)
	require.Equal(t, 1, store.Len())
}
