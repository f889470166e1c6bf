package steps

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDoReplaysCompletedStepsOnRerun(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	exec := newTestExecutor(store, clock, Config{StepAttempts: 1, RunAttempts: 1})

	var fetchCalls, persistCalls int
	body := func(failPersist bool) func(ctx context.Context, run *Run) error {
		return func(ctx context.Context, run *Run) error {
			items, err := Do(ctx, run, "fetch", func(context.Context) ([]string, error) {
				fetchCalls++
				return []string{"a", "b"}, nil
			})
			if err != nil {
				return err
			}
			_, err = Do(ctx, run, "persist", func(context.Context) (int, error) {
				persistCalls++
				if failPersist {
					return 0, Permanent(errors.New("db down"))
				}
				return len(items), nil
			})
			return err
		}
	}

	err := exec.Execute(context.Background(), "run-1", body(true))
	require.Error(t, err)
	require.Equal(t, 1, fetchCalls)
	require.Equal(t, 1, persistCalls)

	err = exec.Execute(context.Background(), "run-1", body(false))
	require.NoError(t, err)
	require.Equal(t, 1, fetchCalls, "checkpointed fetch must not re-execute")
	require.Equal(t, 2, persistCalls)

	err = exec.Execute(context.Background(), "run-1", body(false))
	require.NoError(t, err)
	require.Equal(t, 1, fetchCalls)
	require.Equal(t, 2, persistCalls)
}

func TestDoReturnsMemoizedOutput(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	exec := newTestExecutor(store, clock, Config{StepAttempts: 1, RunAttempts: 1})

	type out struct {
		Count int      `json:"count"`
		IDs   []string `json:"ids"`
	}
	var got []out
	for i := 0; i < 2; i++ {
		n := i
		require.NoError(t, exec.Execute(context.Background(), "run-memo", func(ctx context.Context, run *Run) error {
			v, err := Do(ctx, run, "save", func(context.Context) (out, error) {
				return out{Count: 2 + n, IDs: []string{"x", "y"}}, nil
			})
			got = append(got, v)
			return err
		}))
	}
	require.Equal(t, got[0], got[1])
	require.Equal(t, 2, got[1].Count)
}

func TestDoRetriesFailedStepUpToBound(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	exec := newTestExecutor(store, clock, Config{StepAttempts: 3, RunAttempts: 1, BackoffInitial: time.Second})

	calls := 0
	err := exec.Execute(context.Background(), "run-retry", func(ctx context.Context, run *Run) error {
		_, err := Do(ctx, run, "flaky", func(context.Context) (int, error) {
			calls++
			if calls < 3 {
				return 0, errors.New("timeout")
			}
			return 42, nil
		})
		return err
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)

	calls = 0
	err = exec.Execute(context.Background(), "run-exhaust", func(ctx context.Context, run *Run) error {
		_, err := Do(ctx, run, "broken", func(context.Context) (int, error) {
			calls++
			return 0, errors.New("boom")
		})
		return err
	})
	require.Error(t, err)
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	require.Equal(t, "broken", stepErr.Step)
	require.Equal(t, 3, stepErr.Attempts)
	require.Equal(t, 3, calls)
	_, saved, _ := store.Load(context.Background(), "run-exhaust", "broken")
	require.False(t, saved, "failed steps are never checkpointed")
}

func TestDoPermanentErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	exec := newTestExecutor(newFakeStore(), &fakeClock{now: time.Unix(0, 0)}, Config{StepAttempts: 5, RunAttempts: 5})
	calls := 0
	err := exec.Execute(context.Background(), "run-perm", func(ctx context.Context, run *Run) error {
		_, err := Do(ctx, run, "step", func(context.Context) (int, error) {
			calls++
			return 0, Permanent(errors.New("bad input"))
		})
		return err
	})
	require.Error(t, err)
	require.True(t, IsPermanent(err))
	require.Equal(t, 1, calls)
}

func TestExecuteRetriesRunBody(t *testing.T) {
	t.Parallel()

	exec := newTestExecutor(newFakeStore(), &fakeClock{now: time.Unix(0, 0)}, Config{StepAttempts: 1, RunAttempts: 3})
	loads := 0
	bodies := 0
	err := exec.Execute(context.Background(), "run-body", func(ctx context.Context, run *Run) error {
		bodies++
		_, err := Do(ctx, run, "load", func(context.Context) (int, error) {
			loads++
			if loads == 1 {
				return 0, errors.New("database unreachable")
			}
			return 7, nil
		})
		return err
	})
	require.NoError(t, err)
	require.Equal(t, 2, bodies)
	require.Equal(t, 2, loads)
}

func TestSleepResumesRemainderAfterRestart(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	sleeper := &recordingSleeper{}
	exec := New(store, clock, Config{StepAttempts: 1, RunAttempts: 1}, zap.NewNop(), WithSleep(sleeper.Sleep))

	body := func(ctx context.Context, run *Run) error {
		return run.Sleep(ctx, "stagger:m1", 150*time.Second)
	}
	require.NoError(t, exec.Execute(context.Background(), "run-sleep", body))
	require.Equal(t, []time.Duration{150 * time.Second}, sleeper.Durations())

	clock.Advance(100 * time.Second)
	require.NoError(t, exec.Execute(context.Background(), "run-sleep", body))
	require.Equal(t, []time.Duration{150 * time.Second, 50 * time.Second}, sleeper.Durations())

	clock.Advance(time.Minute)
	require.NoError(t, exec.Execute(context.Background(), "run-sleep", body))
	require.Len(t, sleeper.Durations(), 2, "no wait once the wake-up instant has passed")
}

func TestSleepUntilWaitsForAbsoluteInstant(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	start := time.Unix(1700000000, 0).UTC()
	clock := &fakeClock{now: start}
	sleeper := &recordingSleeper{}
	exec := New(store, clock, Config{StepAttempts: 1, RunAttempts: 1}, zap.NewNop(), WithSleep(sleeper.Sleep))

	earlierWork := 40 * time.Second
	body := func(ctx context.Context, run *Run) error {
		clock.Advance(earlierWork)
		earlierWork = 0
		return run.SleepUntil(ctx, "stagger:m2", run.StartedAt().Add(150*time.Second))
	}
	require.NoError(t, exec.Execute(context.Background(), "run-until", body))
	require.Equal(t, []time.Duration{110 * time.Second}, sleeper.Durations(), "time already spent counts toward the wait")

	clock.Advance(200 * time.Second)
	require.NoError(t, exec.Execute(context.Background(), "run-until", body))
	require.Len(t, sleeper.Durations(), 1)
}

func TestSleepUntilPastInstantIsNoop(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	sleeper := &recordingSleeper{}
	exec := New(store, clock, Config{}, nil, WithSleep(sleeper.Sleep))
	require.NoError(t, exec.Execute(context.Background(), "run-past", func(ctx context.Context, run *Run) error {
		return run.SleepUntil(ctx, "stagger:late", clock.Now().Add(-time.Second))
	}))
	require.Empty(t, sleeper.Durations())
	_, ok, _ := store.Load(context.Background(), "run-past", "stagger:late")
	require.False(t, ok)
}

func TestSleepZeroDurationIsNoop(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	sleeper := &recordingSleeper{}
	exec := New(store, &fakeClock{now: time.Unix(0, 0)}, Config{}, nil, WithSleep(sleeper.Sleep))
	require.NoError(t, exec.Execute(context.Background(), "run-zero", func(ctx context.Context, run *Run) error {
		return run.Sleep(ctx, "stagger:first", 0)
	}))
	require.Empty(t, sleeper.Durations())
	_, ok, _ := store.Load(context.Background(), "run-zero", "stagger:first")
	require.False(t, ok)
}

func TestExecuteDeadlineSurvivesRestart(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	exec := newTestExecutor(store, clock, Config{StepAttempts: 1, RunAttempts: 1, RunTimeout: 10 * time.Minute})

	var deadline time.Time
	require.NoError(t, exec.Execute(context.Background(), "run-deadline", func(_ context.Context, run *Run) error {
		deadline = run.Deadline()
		return nil
	}))
	require.Equal(t, clock.Now().Add(10*time.Minute), deadline)

	clock.Advance(11 * time.Minute)
	called := false
	err := exec.Execute(context.Background(), "run-deadline", func(context.Context, *Run) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, ErrRunDeadline)
	require.False(t, called)
}

func TestExecuteRequiresRunID(t *testing.T) {
	t.Parallel()

	exec := newTestExecutor(newFakeStore(), &fakeClock{now: time.Unix(0, 0)}, Config{})
	require.Error(t, exec.Execute(context.Background(), "", func(context.Context, *Run) error { return nil }))
}

func TestRetryPolicyBackoffBounded(t *testing.T) {
	t.Parallel()

	p := retryPolicy{baseDelay: time.Second, maxDelay: 4 * time.Second}
	for attempt := 1; attempt <= 6; attempt++ {
		d := p.Backoff(attempt)
		require.GreaterOrEqual(t, d, time.Duration(0))
		require.LessOrEqual(t, d, 4*time.Second)
	}
	require.Zero(t, retryPolicy{}.Backoff(3))
}

func newTestExecutor(store Store, clock *fakeClock, cfg Config) *Executor {
	return New(store, clock, cfg, zap.NewNop(), WithSleep(func(context.Context, time.Duration) error { return nil }))
}

type fakeStore struct {
	mu      sync.Mutex
	records map[string]Record
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]Record)}
}

func (s *fakeStore) Load(_ context.Context, runID, name string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[runID+"/"+name]
	return rec, ok, nil
}

func (s *fakeStore) Save(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := rec.RunID + "/" + rec.Name
	if _, ok := s.records[key]; !ok {
		s.records[key] = rec
	}
	return nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingSleeper struct {
	mu        sync.Mutex
	durations []time.Duration
}

func (s *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.durations = append(s.durations, d)
	return nil
}

func (s *recordingSleeper) Durations() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.durations...)
}

func TestRunIDTruncatesToMinute(t *testing.T) {
	t.Parallel()

	a := time.Date(2025, 5, 1, 10, 15, 2, 0, time.UTC)
	b := time.Date(2025, 5, 1, 10, 15, 59, 0, time.UTC)
	require.Equal(t, RunID("scheduled", "reddit", a), RunID("scheduled", "reddit", b))
	require.Equal(t, "scheduled:reddit:1746094500", RunID("scheduled", "reddit", a))
	require.NotEqual(t, RunID("scheduled", "reddit", a), RunID("scheduled", "reddit", a.Add(time.Minute)))
}
