// Package worker executes on-demand scan requests pulled from the trigger queue.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/mention-scanner/internal/metrics"
	"github.com/JakeFAU/mention-scanner/internal/monitor"
	"github.com/JakeFAU/mention-scanner/internal/scan"
)

// Request outcomes recorded by the on-demand metrics.
const (
	OutcomeCompleted  = "completed"
	OutcomeInProgress = "in_progress"
	OutcomeNotFound   = "not_found"
	OutcomeFailed     = "failed"
)

// Scanner runs a single on-demand scan.
type Scanner interface {
	RunOnDemand(ctx context.Context, req monitor.ScanRequest, runID string) (scan.Summary, error)
}

// Config controls Worker behavior.
type Config struct {
	// ScanTimeout bounds one request. Zero leaves it to the executor's run timeout.
	ScanTimeout time.Duration
}

// Worker consumes scan requests and runs them one at a time.
type Worker struct {
	queue   monitor.TriggerQueue
	scanner Scanner
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Worker.
func New(queue monitor.TriggerQueue, scanner Scanner, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:   queue,
		scanner: scanner,
		cfg:     cfg,
		logger:  logger.Named("worker"),
	}
}

// Run blocks, consuming requests until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		req, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued scan request",
			zap.String("request_id", req.ID),
			zap.String("monitor_id", req.MonitorID),
		)
		w.Handle(ctx, req)
	}
}

// Handle runs one request and returns the recorded outcome.
func (w *Worker) Handle(ctx context.Context, req monitor.ScanRequest) string {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	if w.scanner == nil {
		w.logger.Error("no scanner configured", zap.String("request_id", req.ID))
		metrics.ObserveOnDemandRequest(OutcomeFailed)
		return OutcomeFailed
	}

	runCtx := ctx
	if w.cfg.ScanTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, w.cfg.ScanTimeout)
		defer cancel()
	}

	runID := scan.OnDemandRunID(req)
	logger := w.logger.With(
		zap.String("request_id", req.ID),
		zap.String("monitor_id", req.MonitorID),
		zap.String("run_id", runID),
	)
	summary, err := w.scanner.RunOnDemand(runCtx, req, runID)
	outcome := classify(err)
	metrics.ObserveOnDemandRequest(outcome)

	switch outcome {
	case OutcomeCompleted:
		logger.Info("on-demand scan completed",
			zap.Int("sources", len(summary.Monitors)),
			zap.Int("new_results", summary.TotalNew),
			zap.Duration("wait", summary.StartedAt.Sub(req.RequestedAt)),
		)
	case OutcomeInProgress:
		logger.Info("on-demand scan dropped; monitor already scanning")
	case OutcomeNotFound:
		logger.Warn("on-demand scan for unknown monitor")
	default:
		logger.Error("on-demand scan failed", zap.Error(err))
	}
	return outcome
}

func classify(err error) string {
	switch {
	case err == nil:
		return OutcomeCompleted
	case errors.Is(err, scan.ErrScanInProgress):
		return OutcomeInProgress
	case errors.Is(err, monitor.ErrNotFound):
		return OutcomeNotFound
	default:
		return OutcomeFailed
	}
}
