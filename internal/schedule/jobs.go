package schedule

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/mention-scanner/internal/metrics"
	"github.com/JakeFAU/mention-scanner/internal/monitor"
	"github.com/JakeFAU/mention-scanner/internal/scan"
	"github.com/JakeFAU/mention-scanner/internal/steps"
)

// SourceScanner runs one scheduled pass over a source.
type SourceScanner interface {
	RunScheduled(ctx context.Context, source monitor.Source, runID string) (scan.Summary, error)
}

// Sweeper clears stuck scans.
type Sweeper interface {
	Sweep(ctx context.Context, runID string) ([]string, error)
}

// ScanJob returns a job that scans source under a run id derived from the firing minute.
func ScanJob(scanner SourceScanner, source monitor.Source, logger *zap.Logger) Job {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, firedAt time.Time) {
		runID := steps.RunID("scheduled", string(source), firedAt)
		summary, err := scanner.RunScheduled(ctx, source, runID)
		if err != nil {
			logger.Error("scheduled scan failed",
				zap.String("run_id", runID),
				zap.String("source", string(source)),
				zap.Error(err),
			)
			return
		}
		logger.Info("scheduled scan finished",
			zap.String("run_id", runID),
			zap.String("source", string(source)),
			zap.Int("monitors", len(summary.Monitors)),
			zap.Int("new", summary.TotalNew),
		)
	}
}

// ReaperJob returns a job that sweeps stuck scans.
func ReaperJob(r Sweeper, logger *zap.Logger) Job {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, firedAt time.Time) {
		runID := steps.RunID("reaper", "cron", firedAt)
		if _, err := r.Sweep(ctx, runID); err != nil {
			logger.Error("reaper sweep failed", zap.String("run_id", runID), zap.Error(err))
		}
	}
}

// PurgeJob returns a job that drops step records older than retention.
func PurgeJob(purger steps.Purger, retention time.Duration, logger *zap.Logger) Job {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, firedAt time.Time) {
		n, err := purger.Purge(ctx, firedAt.Add(-retention))
		if err != nil {
			logger.Error("step purge failed", zap.Error(err))
			return
		}
		metrics.AddStepsPurged(n)
		if n > 0 {
			logger.Info("purged step records", zap.Int64("count", n))
		}
	}
}
