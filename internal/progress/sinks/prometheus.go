package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/mention-scanner/internal/progress"
)

// PrometheusSink exports scan progress metrics via Prometheus. It owns all
// collectors for runs started/completed/running and per-source monitor counters.
type PrometheusSink struct {
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runRuntime    *prometheus.HistogramVec

	monitorOutcomes *prometheus.CounterVec
	monitorSkips    *prometheus.CounterVec
	itemsFetched    *prometheus.CounterVec
	resultsSaved    *prometheus.CounterVec
	scanDuration    *prometheus.HistogramVec
	scansReaped     prometheus.Counter

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_runs_started_total",
			Help: "Total scan runs started partitioned by kind.",
		}, []string{"kind"}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_runs_completed_total",
			Help: "Total scan runs completed partitioned by kind and result.",
		}, []string{"kind", "result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scanner_runs_running",
			Help: "Current number of running scan runs.",
		}),
		runRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scanner_run_runtime_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800},
		}, []string{"kind", "result"}),
		monitorOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_monitor_scans_total",
			Help: "Per-monitor scan outcomes partitioned by source and outcome.",
		}, []string{"source", "outcome"}),
		monitorSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_monitor_skips_total",
			Help: "Skipped monitors partitioned by source and reason.",
		}, []string{"source", "reason"}),
		itemsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_items_fetched_total",
			Help: "Items returned by source collaborators.",
		}, []string{"source"}),
		resultsSaved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_results_saved_total",
			Help: "New results persisted.",
		}, []string{"source"}),
		scanDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scanner_monitor_scan_duration_seconds",
			Help:    "Fetch, persist and dispatch time per monitor.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"source"}),
		scansReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanner_scans_reaped_total",
			Help: "Monitors whose stuck scanning flag was cleared.",
		}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runRuntime,
		s.monitorOutcomes,
		s.monitorSkips,
		s.itemsFetched,
		s.resultsSaved,
		s.scanDuration,
		s.scansReaped,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart, progress.StageRunDone, progress.StageRunError:
		s.handleRunEvent(evt)
	case progress.StageMonitorDone, progress.StageMonitorSkipped, progress.StageMonitorError:
		s.handleMonitorEvent(evt)
	case progress.StageScanReaped:
		s.scansReaped.Inc()
	}
}

func (s *PrometheusSink) handleRunEvent(evt progress.Event) {
	kind := label(string(evt.Kind))
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.WithLabelValues(kind).Inc()
		if s.tracker.start(evt.RunID) {
			s.runsRunning.Inc()
		}
		return
	case progress.StageRunDone:
		s.runsCompleted.WithLabelValues(kind, "success").Inc()
		s.observeRuntime(evt, kind, "success")
	case progress.StageRunError:
		s.runsCompleted.WithLabelValues(kind, "error").Inc()
		s.observeRuntime(evt, kind, "error")
	}
	if s.tracker.complete(evt.RunID) {
		s.runsRunning.Dec()
	}
}

func (s *PrometheusSink) observeRuntime(evt progress.Event, kind, result string) {
	if evt.Dur > 0 {
		s.runRuntime.WithLabelValues(kind, result).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) handleMonitorEvent(evt progress.Event) {
	source := label(evt.Source)
	switch evt.Stage {
	case progress.StageMonitorDone:
		s.monitorOutcomes.WithLabelValues(source, "done").Inc()
		if evt.Fetched > 0 {
			s.itemsFetched.WithLabelValues(source).Add(float64(evt.Fetched))
		}
		if evt.NewItems > 0 {
			s.resultsSaved.WithLabelValues(source).Add(float64(evt.NewItems))
		}
		if evt.Dur > 0 {
			s.scanDuration.WithLabelValues(source).Observe(evt.Dur.Seconds())
		}
	case progress.StageMonitorSkipped:
		s.monitorOutcomes.WithLabelValues(source, "skipped").Inc()
		s.monitorSkips.WithLabelValues(source, evt.Reason).Inc()
	case progress.StageMonitorError:
		s.monitorOutcomes.WithLabelValues(source, "error").Inc()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

func label(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

type runTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[string]struct{})}
}

func (t *runTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
