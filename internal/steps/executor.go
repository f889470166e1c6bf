package steps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/mention-scanner/internal/monitor"
)

// ErrRunDeadline signals that a run exceeded its wall-clock finish deadline.
var ErrRunDeadline = errors.New("run deadline exceeded")

const startedStep = "$started"

// Record is one checkpointed step output.
type Record struct {
	RunID       string          `json:"run_id"`
	Name        string          `json:"name"`
	Output      json.RawMessage `json:"output"`
	CompletedAt time.Time       `json:"completed_at"`
}

// Store is the append-only step log.
type Store interface {
	// Load returns the record for (runID, name) and whether it exists.
	Load(ctx context.Context, runID, name string) (Record, bool, error)
	// Save appends a record. Saving an existing (runID, name) keeps the first record.
	Save(ctx context.Context, rec Record) error
}

// Purger drops step records completed before a cutoff.
type Purger interface {
	Purge(ctx context.Context, before time.Time) (int64, error)
}

// Config bounds retries and run duration.
type Config struct {
	// StepAttempts is the number of times a failing step body is tried.
	StepAttempts int
	// RunAttempts is the number of times a failing run body is re-executed.
	RunAttempts int
	// BackoffInitial and BackoffMax shape the exponential backoff between attempts.
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	// RunTimeout is the hard wall-clock budget measured from the run's first start.
	RunTimeout time.Duration
}

// DefaultConfig returns conservative retry settings.
func DefaultConfig() Config {
	return Config{
		StepAttempts:   3,
		RunAttempts:    3,
		BackoffInitial: 500 * time.Millisecond,
		BackoffMax:     10 * time.Second,
		RunTimeout:     30 * time.Minute,
	}
}

// SleepFunc blocks for d or until ctx ends.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Option customizes an Executor.
type Option func(*Executor)

// WithSleep replaces the function used for suspensions and backoff waits.
func WithSleep(fn SleepFunc) Option {
	return func(e *Executor) {
		if fn != nil {
			e.sleep = fn
		}
	}
}

// Executor runs bodies as durable, checkpointed runs.
type Executor struct {
	store  Store
	clock  monitor.Clock
	cfg    Config
	retry  retryPolicy
	sleep  SleepFunc
	logger *zap.Logger
}

// New constructs an Executor.
func New(store Store, clock monitor.Clock, cfg Config, logger *zap.Logger, opts ...Option) *Executor {
	if cfg.StepAttempts <= 0 {
		cfg.StepAttempts = 1
	}
	if cfg.RunAttempts <= 0 {
		cfg.RunAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Executor{
		store:  store,
		clock:  clock,
		cfg:    cfg,
		retry:  retryPolicy{baseDelay: cfg.BackoffInitial, maxDelay: cfg.BackoffMax},
		sleep:  sleepContext,
		logger: logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run is one logical execution. It is passed to the body given to Execute.
type Run struct {
	id       string
	exec     *Executor
	started  time.Time
	deadline time.Time
	logger   *zap.Logger
}

// ID returns the run identifier.
func (r *Run) ID() string { return r.id }

// StartedAt returns the memoized start of the run's first execution.
func (r *Run) StartedAt() time.Time { return r.started }

// Deadline returns the hard finish deadline, or the zero time when unbounded.
func (r *Run) Deadline() time.Time { return r.deadline }

// Execute runs fn as the run identified by runID. Steps completed by an
// earlier execution of the same runID are replayed from the log. When fn
// fails with a retryable error it is re-executed up to Config.RunAttempts.
func (e *Executor) Execute(ctx context.Context, runID string, fn func(ctx context.Context, run *Run) error) error {
	if runID == "" {
		return errors.New("run id is required")
	}
	run := &Run{id: runID, exec: e, logger: e.logger.With(zap.String("run_id", runID))}
	started, err := Do(ctx, run, startedStep, func(context.Context) (time.Time, error) {
		return e.clock.Now(), nil
	})
	if err != nil {
		return fmt.Errorf("record run start: %w", err)
	}
	run.started = started

	runCtx := ctx
	cancel := func() {}
	if e.cfg.RunTimeout > 0 {
		run.deadline = started.Add(e.cfg.RunTimeout)
		remaining := run.deadline.Sub(e.clock.Now())
		if remaining <= 0 {
			return fmt.Errorf("run %s: %w", runID, ErrRunDeadline)
		}
		runCtx, cancel = context.WithTimeout(ctx, remaining)
	}
	defer cancel()

	var lastErr error
	for attempt := 1; attempt <= e.cfg.RunAttempts; attempt++ {
		lastErr = fn(runCtx, run)
		if lastErr == nil {
			return nil
		}
		if attempt == e.cfg.RunAttempts || !retryable(runCtx, lastErr) {
			break
		}
		wait := e.retry.Backoff(attempt)
		run.logger.Warn("run attempt failed; retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(lastErr),
		)
		if err := e.sleep(runCtx, wait); err != nil {
			break
		}
	}
	if ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("run %s: %w: %w", runID, ErrRunDeadline, lastErr)
	}
	return fmt.Errorf("run %s: %w", runID, lastErr)
}

// Do executes fn as the named step of run, or returns the memoized output when
// the step already completed. Outputs must round-trip through encoding/json.
func Do[T any](ctx context.Context, run *Run, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	e := run.exec
	rec, ok, err := e.store.Load(ctx, run.id, name)
	if err != nil {
		return zero, fmt.Errorf("load step %s: %w", name, err)
	}
	if ok {
		var out T
		if len(rec.Output) > 0 {
			if err := json.Unmarshal(rec.Output, &out); err != nil {
				return zero, fmt.Errorf("decode step %s: %w", name, err)
			}
		}
		run.logger.Debug("step replayed", zap.String("step", name))
		return out, nil
	}

	var out T
	attempt := 1
	for ; ; attempt++ {
		out, err = fn(ctx)
		if err == nil {
			break
		}
		if attempt >= e.cfg.StepAttempts || !retryable(ctx, err) {
			return zero, &StepError{Step: name, Attempts: attempt, Err: err}
		}
		wait := e.retry.Backoff(attempt)
		run.logger.Debug("step attempt failed; retrying",
			zap.String("step", name),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		if sleepErr := e.sleep(ctx, wait); sleepErr != nil {
			return zero, &StepError{Step: name, Attempts: attempt, Err: err}
		}
	}

	payload, err := json.Marshal(out)
	if err != nil {
		return zero, fmt.Errorf("encode step %s: %w", name, err)
	}
	if err := e.store.Save(ctx, Record{
		RunID:       run.id,
		Name:        name,
		Output:      payload,
		CompletedAt: e.clock.Now(),
	}); err != nil {
		return zero, fmt.Errorf("checkpoint step %s: %w", name, err)
	}
	return out, nil
}

// Sleep suspends the run until d after the first time this named suspension
// was reached. A restarted run resumes with the remaining time only.
func (r *Run) Sleep(ctx context.Context, name string, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	return r.suspend(ctx, name, func() time.Time { return r.exec.clock.Now().Add(d) })
}

// SleepUntil suspends the run until the absolute instant at. The instant is
// memoized under name, so a restarted run waits for the same instant and a
// past instant returns immediately.
func (r *Run) SleepUntil(ctx context.Context, name string, at time.Time) error {
	if at.IsZero() || !at.After(r.exec.clock.Now()) {
		return nil
	}
	return r.suspend(ctx, name, func() time.Time { return at })
}

func (r *Run) suspend(ctx context.Context, name string, wakeAt func() time.Time) error {
	wake, err := Do(ctx, r, name, func(context.Context) (time.Time, error) {
		return wakeAt(), nil
	})
	if err != nil {
		return err
	}
	remaining := wake.Sub(r.exec.clock.Now())
	if remaining <= 0 {
		return nil
	}
	if err := r.exec.sleep(ctx, remaining); err != nil {
		return fmt.Errorf("suspend %s: %w", name, err)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("sleep interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
