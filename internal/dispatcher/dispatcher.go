// Package dispatcher owns the on-demand worker pool and is the enqueue side of
// the trigger queue used by the HTTP API.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/mention-scanner/internal/metrics"
	"github.com/JakeFAU/mention-scanner/internal/monitor"
	"github.com/JakeFAU/mention-scanner/internal/worker"
)

// OutcomeRejected counts requests the queue refused.
const OutcomeRejected = "rejected"

// Dispatcher runs a fixed pool of workers over a shared trigger queue.
type Dispatcher struct {
	queue   monitor.TriggerQueue
	workers []*worker.Worker
	logger  *zap.Logger
}

// New creates a Dispatcher. A nil logger is replaced by a no-op logger.
func New(queue monitor.TriggerQueue, workers []*worker.Worker, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:   queue,
		workers: workers,
		logger:  logger.Named("dispatcher"),
	}
}

// Run starts every worker and returns once ctx is done and all in-flight scans
// have returned.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(len(d.workers))
	for _, w := range d.workers {
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}
	d.logger.Info("on-demand workers started", zap.Int("workers", len(d.workers)))
	<-ctx.Done()
	wg.Wait()
	d.logger.Info("on-demand workers stopped")
}

// Enqueue hands req to the queue. The caller's ctx bounds how long a full queue
// may block.
func (d *Dispatcher) Enqueue(ctx context.Context, req monitor.ScanRequest) error {
	if err := d.queue.Enqueue(ctx, req); err != nil {
		metrics.ObserveOnDemandRequest(OutcomeRejected)
		d.logger.Warn("scan request rejected",
			zap.String("request_id", req.ID),
			zap.String("monitor_id", req.MonitorID),
			zap.Error(err),
		)
		return fmt.Errorf("enqueue scan request %s: %w", req.ID, err)
	}
	return nil
}
