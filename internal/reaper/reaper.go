// Package reaper clears isScanning flags left behind by crashed on-demand scans.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/mention-scanner/internal/monitor"
	"github.com/JakeFAU/mention-scanner/internal/progress"
	"github.com/JakeFAU/mention-scanner/internal/steps"
)

// DefaultStaleAfter is how long a monitor may sit in isScanning before it is reclaimed.
const DefaultStaleAfter = 10 * time.Minute

// Reaper sweeps stuck scans.
type Reaper struct {
	monitors   monitor.MonitorStore
	exec       *steps.Executor
	clock      monitor.Clock
	progress   progress.Emitter
	staleAfter time.Duration
	logger     *zap.Logger
}

// Option customizes a Reaper.
type Option func(*Reaper)

// WithStaleAfter overrides DefaultStaleAfter.
func WithStaleAfter(d time.Duration) Option {
	return func(r *Reaper) {
		if d > 0 {
			r.staleAfter = d
		}
	}
}

// WithProgress attaches a progress emitter.
func WithProgress(e progress.Emitter) Option {
	return func(r *Reaper) {
		if e != nil {
			r.progress = e
		}
	}
}

// New constructs a Reaper.
func New(monitors monitor.MonitorStore, exec *steps.Executor, clock monitor.Clock, logger *zap.Logger, opts ...Option) (*Reaper, error) {
	if monitors == nil || exec == nil || clock == nil {
		return nil, errors.New("reaper: monitor store, executor and clock are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Reaper{
		monitors:   monitors,
		exec:       exec,
		clock:      clock,
		progress:   progress.NopEmitter{},
		staleAfter: DefaultStaleAfter,
		logger:     logger.Named("reaper"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Sweep clears every monitor stuck in isScanning longer than the stale
// threshold and returns the reclaimed monitor IDs.
func (r *Reaper) Sweep(ctx context.Context, runID string) ([]string, error) {
	started := r.clock.Now()
	r.progress.Emit(progress.Event{RunID: runID, Kind: progress.KindReaper, TS: started, Stage: progress.StageRunStart})

	var cleared []string
	err := r.exec.Execute(ctx, runID, func(ctx context.Context, run *steps.Run) error {
		ids, err := steps.Do(ctx, run, "clear-stuck", func(ctx context.Context) ([]string, error) {
			now := r.clock.Now()
			stuck, err := r.monitors.ClearStuckScans(ctx, now.Add(-r.staleAfter), now)
			if err != nil {
				return nil, err
			}
			out := make([]string, 0, len(stuck))
			for _, m := range stuck {
				out = append(out, m.ID)
			}
			return out, nil
		})
		if err != nil {
			return fmt.Errorf("clear stuck scans: %w", err)
		}
		cleared = ids
		return nil
	})

	finished := r.clock.Now()
	if err != nil {
		r.progress.Emit(progress.Event{
			RunID: runID, Kind: progress.KindReaper, TS: finished, Stage: progress.StageRunError, Note: err.Error(),
		})
		r.logger.Error("stuck scan sweep failed", zap.String("run_id", runID), zap.Error(err))
		return nil, err
	}
	for _, id := range cleared {
		r.logger.Warn("cleared stuck scan", zap.String("run_id", runID), zap.String("monitor_id", id))
		r.progress.Emit(progress.Event{
			RunID: runID, Kind: progress.KindReaper, TS: finished, Stage: progress.StageScanReaped, MonitorID: id,
		})
	}
	r.progress.Emit(progress.Event{
		RunID: runID, Kind: progress.KindReaper, TS: finished, Stage: progress.StageRunDone,
		NewItems: int64(len(cleared)), Dur: max(finished.Sub(started), 0),
	})
	return cleared, nil
}
