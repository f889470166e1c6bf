// Package scan runs the per-source scheduled scans and on-demand single-monitor
// scans as durable, checkpointed runs.
package scan

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/mention-scanner/internal/access"
	"github.com/JakeFAU/mention-scanner/internal/analysis"
	"github.com/JakeFAU/mention-scanner/internal/metrics"
	"github.com/JakeFAU/mention-scanner/internal/monitor"
	"github.com/JakeFAU/mention-scanner/internal/progress"
	"github.com/JakeFAU/mention-scanner/internal/results"
	"github.com/JakeFAU/mention-scanner/internal/stagger"
	"github.com/JakeFAU/mention-scanner/internal/steps"
)

var (
	// ErrScanInProgress signals that an on-demand scan found the monitor already scanning.
	ErrScanInProgress = errors.New("scan already in progress")
	// ErrUnknownSource signals that no fetch collaborator is registered for a source.
	ErrUnknownSource = errors.New("unknown source")
)

const endScanTimeout = 10 * time.Second

var tracer = otel.Tracer("github.com/JakeFAU/mention-scanner/internal/scan")

// Registry resolves the fetch collaborator for a source.
type Registry interface {
	Fetcher(source monitor.Source) (monitor.Fetcher, bool)
}

// Announcer fans new result IDs out to the analysis consumer.
type Announcer interface {
	Dispatch(ctx context.Context, ids []string, monitorID, userID string, source monitor.Source) (analysis.Fanout, error)
}

// Deps wires a Dispatcher. Archive, Jitter, Progress and Logger are optional.
type Deps struct {
	Monitors      monitor.MonitorStore
	Results       *results.Store
	Analysis      Announcer
	Executor      *steps.Executor
	Sources       Registry
	Policy        *access.Policy
	Windows       stagger.Windows
	Jitter        *stagger.Jitterer
	Clock         monitor.Clock
	Progress      progress.Emitter
	Archive       monitor.BlobStore
	ArchivePrefix string
	Logger        *zap.Logger
}

// Dispatcher runs scans.
type Dispatcher struct {
	monitors      monitor.MonitorStore
	results       *results.Store
	analysis      Announcer
	exec          *steps.Executor
	sources       Registry
	policy        *access.Policy
	windows       stagger.Windows
	jitter        *stagger.Jitterer
	clock         monitor.Clock
	progress      progress.Emitter
	archive       monitor.BlobStore
	archivePrefix string
	logger        *zap.Logger
}

// New validates deps and constructs a Dispatcher.
func New(deps Deps) (*Dispatcher, error) {
	switch {
	case deps.Monitors == nil:
		return nil, errors.New("scan: monitor store is required")
	case deps.Results == nil:
		return nil, errors.New("scan: result store is required")
	case deps.Analysis == nil:
		return nil, errors.New("scan: analysis dispatcher is required")
	case deps.Executor == nil:
		return nil, errors.New("scan: step executor is required")
	case deps.Sources == nil:
		return nil, errors.New("scan: source registry is required")
	case deps.Policy == nil:
		return nil, errors.New("scan: access policy is required")
	case deps.Clock == nil:
		return nil, errors.New("scan: clock is required")
	}
	if deps.Jitter == nil {
		deps.Jitter = stagger.NewJitterer(0, nil)
	}
	if deps.Progress == nil {
		deps.Progress = progress.NopEmitter{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Windows.Default <= 0 {
		deps.Windows = stagger.DefaultWindows()
	}
	return &Dispatcher{
		monitors:      deps.Monitors,
		results:       deps.Results,
		analysis:      deps.Analysis,
		exec:          deps.Executor,
		sources:       deps.Sources,
		policy:        deps.Policy,
		windows:       deps.Windows,
		jitter:        deps.Jitter,
		clock:         deps.Clock,
		progress:      deps.Progress,
		archive:       deps.Archive,
		archivePrefix: strings.Trim(deps.ArchivePrefix, "/"),
		logger:        deps.Logger.Named("scan"),
	}, nil
}

// OnDemandRunID builds the run identifier of an on-demand request.
func OnDemandRunID(req monitor.ScanRequest) string {
	return fmt.Sprintf("on-demand:%s:%s", req.MonitorID, req.ID)
}

// RunScheduled scans every active monitor enabled for source, in load order.
// Monitor and tier loads are fatal and retried by the executor. Per-monitor
// fetch or persist failures are logged and the loop continues.
func (d *Dispatcher) RunScheduled(ctx context.Context, source monitor.Source, runID string) (Summary, error) {
	fetcher, ok := d.sources.Fetcher(source)
	if !ok {
		return Summary{}, fmt.Errorf("%w: %s", ErrUnknownSource, source)
	}
	ctx, span := tracer.Start(ctx, "scan.scheduled", trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.String("source", string(source)),
	))
	defer span.End()

	logger := d.logger.With(zap.String("run_id", runID), zap.String("source", string(source)))
	started := d.clock.Now()
	d.progress.Emit(progress.Event{
		RunID:  runID,
		Kind:   progress.KindScheduled,
		TS:     started,
		Stage:  progress.StageRunStart,
		Source: string(source),
	})

	summary := Summary{RunID: runID, Kind: string(progress.KindScheduled), Source: source, StartedAt: started}
	err := d.exec.Execute(ctx, runID, func(ctx context.Context, run *steps.Run) error {
		summary = Summary{RunID: runID, Kind: string(progress.KindScheduled), Source: source, StartedAt: run.StartedAt()}

		monitors, err := steps.Do(ctx, run, "load-monitors", func(ctx context.Context) ([]monitor.Monitor, error) {
			return d.monitors.ListActiveForSource(ctx, source)
		})
		if err != nil {
			return fmt.Errorf("load monitors: %w", err)
		}
		tiers, err := steps.Do(ctx, run, "load-tiers", func(ctx context.Context) (map[string]monitor.Tier, error) {
			return d.monitors.TiersForUsers(ctx, distinctUsers(monitors))
		})
		if err != nil {
			return fmt.Errorf("load tiers: %w", err)
		}
		logger.Info("scan run loaded monitors", zap.Int("monitors", len(monitors)), zap.Int("users", len(tiers)))

		window := d.windows.For(source)
		total := len(monitors)
		for i, m := range monitors {
			if err := ctx.Err(); err != nil {
				return err
			}
			if total > stagger.MinBatch {
				// Offsets are measured from the run start so position i begins
				// at its slot in the window however long earlier monitors took.
				offset := d.jitter.Apply(stagger.Delay(i, total, window))
				metrics.ObserveStaggerDelay(string(source), offset)
				if err := run.SleepUntil(ctx, "stagger:"+m.ID, run.StartedAt().Add(offset)); err != nil {
					return err
				}
			}
			if decision := d.policy.ShouldSkip(m, tiers, source, d.clock.Now()); decision.Skip {
				summary.add(d.skipped(runID, m, source, decision.Reason))
				continue
			}
			outcome := d.scanMonitor(ctx, run, m, source, fetcher)
			summary.add(outcome)
			if outcome.Error != "" {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
		}
		return nil
	})
	return d.finish(ctx, span, logger, progress.KindScheduled, source, summary, started, err)
}

// RunOnDemand scans one monitor for every enabled source its owner's tier
// allows. Interval and active-window checks do not apply to explicit user
// action. IsScanning is held for the duration and cleared on every exit path.
func (d *Dispatcher) RunOnDemand(ctx context.Context, req monitor.ScanRequest, runID string) (Summary, error) {
	m, err := d.monitors.GetMonitor(ctx, req.MonitorID)
	if err != nil {
		return Summary{}, fmt.Errorf("load monitor %s: %w", req.MonitorID, err)
	}
	if m.UserID != req.UserID {
		return Summary{}, fmt.Errorf("load monitor %s: %w", req.MonitorID, monitor.ErrNotFound)
	}
	began, err := d.monitors.BeginScan(ctx, m.ID, d.clock.Now())
	if err != nil {
		return Summary{}, fmt.Errorf("begin scan %s: %w", m.ID, err)
	}
	if !began {
		return Summary{}, ErrScanInProgress
	}
	defer d.endScan(ctx, m.ID)

	ctx, span := tracer.Start(ctx, "scan.on_demand", trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.String("monitor_id", m.ID),
	))
	defer span.End()

	logger := d.logger.With(zap.String("run_id", runID), zap.String("monitor_id", m.ID))
	started := d.clock.Now()
	d.progress.Emit(progress.Event{
		RunID:     runID,
		Kind:      progress.KindOnDemand,
		TS:        started,
		Stage:     progress.StageRunStart,
		MonitorID: m.ID,
	})

	summary := Summary{RunID: runID, Kind: string(progress.KindOnDemand), StartedAt: started}
	err = d.exec.Execute(ctx, runID, func(ctx context.Context, run *steps.Run) error {
		summary = Summary{RunID: runID, Kind: string(progress.KindOnDemand), StartedAt: run.StartedAt()}

		tiers, err := steps.Do(ctx, run, "load-tiers", func(ctx context.Context) (map[string]monitor.Tier, error) {
			return d.monitors.TiersForUsers(ctx, []string{m.UserID})
		})
		if err != nil {
			return fmt.Errorf("load tiers: %w", err)
		}
		tier := tiers[m.UserID]
		for _, source := range m.Sources {
			if err := ctx.Err(); err != nil {
				return err
			}
			fetcher, ok := d.sources.Fetcher(source)
			if !ok {
				logger.Warn("no fetcher registered for source", zap.String("source", string(source)))
				summary.add(MonitorOutcome{MonitorID: m.ID, Source: source, Error: ErrUnknownSource.Error()})
				continue
			}
			if !d.policy.IsAllowed(tier, source) {
				summary.add(d.skipped(runID, m, source, access.ReasonTierDenied))
				continue
			}
			summary.add(d.scanMonitor(ctx, run, m, source, fetcher))
		}
		return nil
	})
	return d.finish(ctx, span, logger, progress.KindOnDemand, "", summary, started, err)
}

// scanMonitor is the per-monitor body: fetch, persist, usage, dispatch, stats. Each
// stage is a checkpointed step keyed by source and monitor.
func (d *Dispatcher) scanMonitor(
	ctx context.Context,
	run *steps.Run,
	m monitor.Monitor,
	source monitor.Source,
	fetcher monitor.Fetcher,
) MonitorOutcome {
	begin := d.clock.Now()
	key := string(source) + ":" + m.ID
	outcome := MonitorOutcome{MonitorID: m.ID, Source: source}
	logger := d.logger.With(
		zap.String("run_id", run.ID()),
		zap.String("monitor_id", m.ID),
		zap.String("source", string(source)),
	)

	items, err := steps.Do(ctx, run, "fetch:"+key, func(ctx context.Context) ([]monitor.Item, error) {
		return fetcher.Fetch(ctx, monitor.FetchRequest{Monitor: m, Source: source, Config: m.Config[source]})
	})
	if err != nil {
		logger.Warn("fetch failed; continuing with next monitor", zap.Error(err))
		return d.failed(run.ID(), outcome, err)
	}
	outcome.Fetched = len(items)

	saved, err := steps.Do(ctx, run, "persist:"+key, func(ctx context.Context) (results.Saved, error) {
		return results.InsertNew(ctx, d.results, items, m.ID, m.UserID, results.ItemURL, results.ItemMapper(source))
	})
	if err != nil {
		logger.Warn("persist failed; continuing with next monitor", zap.Error(err))
		return d.failed(run.ID(), outcome, err)
	}
	outcome.NewCount = saved.Count

	// The inserted IDs are checkpointed above, so a usage failure retries only
	// the increment and never loses the rows to the dedup check.
	_, err = steps.Do(ctx, run, "usage:"+key, func(ctx context.Context) (int, error) {
		return saved.Count, d.results.RecordUsage(ctx, m.UserID, saved.Count)
	})
	if err != nil {
		logger.Error("record usage failed", zap.Int("new_results", saved.Count), zap.Error(err))
	}

	fan, err := steps.Do(ctx, run, "dispatch:"+key, func(ctx context.Context) (analysis.Fanout, error) {
		return d.analysis.Dispatch(ctx, saved.IDs, m.ID, m.UserID, source)
	})
	if err != nil {
		logger.Error("analysis dispatch failed", zap.Int("new_results", saved.Count), zap.Error(err))
	} else {
		outcome.Fanout = fan.Mode
		metrics.AddAnnouncements(string(fan.Mode), fan.Announcements)
	}

	_, err = steps.Do(ctx, run, "stats:"+key, func(ctx context.Context) (time.Time, error) {
		at := d.clock.Now()
		return at, d.monitors.UpdateScanStats(ctx, m.ID, saved.Count, at)
	})
	if err != nil {
		logger.Error("update monitor stats failed", zap.Error(err))
	}

	logger.Debug("monitor scanned", zap.Int("fetched", len(items)), zap.Int("new_results", saved.Count))
	d.progress.Emit(progress.Event{
		RunID:     run.ID(),
		TS:        d.clock.Now(),
		Stage:     progress.StageMonitorDone,
		Source:    string(source),
		MonitorID: m.ID,
		Fetched:   int64(len(items)),
		NewItems:  int64(saved.Count),
		Dur:       nonNegative(d.clock.Now().Sub(begin)),
	})
	return outcome
}

func (d *Dispatcher) skipped(runID string, m monitor.Monitor, source monitor.Source, reason access.SkipReason) MonitorOutcome {
	d.progress.Emit(progress.Event{
		RunID:     runID,
		TS:        d.clock.Now(),
		Stage:     progress.StageMonitorSkipped,
		Source:    string(source),
		MonitorID: m.ID,
		Reason:    string(reason),
	})
	return MonitorOutcome{MonitorID: m.ID, Source: source, Skipped: true, SkipReason: reason}
}

func (d *Dispatcher) failed(runID string, outcome MonitorOutcome, err error) MonitorOutcome {
	outcome.Error = err.Error()
	outcome.NewCount = 0
	d.progress.Emit(progress.Event{
		RunID:     runID,
		TS:        d.clock.Now(),
		Stage:     progress.StageMonitorError,
		Source:    string(outcome.Source),
		MonitorID: outcome.MonitorID,
		Note:      outcome.Error,
	})
	return outcome
}

func (d *Dispatcher) finish(
	ctx context.Context,
	span trace.Span,
	logger *zap.Logger,
	kind progress.Kind,
	source monitor.Source,
	summary Summary,
	started time.Time,
	runErr error,
) (Summary, error) {
	finished := d.clock.Now()
	summary.FinishedAt = finished
	evt := progress.Event{
		RunID:    summary.RunID,
		Kind:     kind,
		TS:       finished,
		Source:   string(source),
		NewItems: int64(summary.TotalNew),
		Dur:      nonNegative(finished.Sub(started)),
	}
	span.SetAttributes(attribute.Int("new_results", summary.TotalNew))
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		evt.Stage = progress.StageRunError
		evt.Note = runErr.Error()
		d.progress.Emit(evt)
		logger.Error("scan run failed", zap.Error(runErr))
		return summary, runErr
	}
	evt.Stage = progress.StageRunDone
	d.progress.Emit(evt)
	logger.Info("scan run finished",
		zap.Int("monitors", len(summary.Monitors)),
		zap.Int("skipped", summary.Skipped()),
		zap.Int("failed", summary.Failed()),
		zap.Int("new_results", summary.TotalNew),
	)
	d.archiveSummary(ctx, logger, summary)
	return summary, nil
}

func (d *Dispatcher) archiveSummary(ctx context.Context, logger *zap.Logger, summary Summary) {
	if d.archive == nil {
		return
	}
	data, err := json.Marshal(summary)
	if err != nil {
		logger.Warn("encode run summary failed", zap.Error(err))
		return
	}
	uri, err := d.archive.PutObject(ctx, ArchivePath(d.archivePrefix, summary), "application/json", bytes.NewReader(data))
	if err != nil {
		logger.Warn("archive run summary failed", zap.Error(err))
		return
	}
	logger.Debug("run summary archived", zap.String("uri", uri))
}

// ArchivePath returns the object path of a run summary: prefix/YYYY/MM/DD/<run>.json.
func ArchivePath(prefix string, summary Summary) string {
	name := strings.NewReplacer(":", "_", "/", "_").Replace(summary.RunID) + ".json"
	day := summary.StartedAt.UTC().Format("2006/01/02")
	if prefix == "" {
		return path.Join(day, name)
	}
	return path.Join(prefix, day, name)
}

func (d *Dispatcher) endScan(ctx context.Context, monitorID string) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), endScanTimeout)
	defer cancel()
	if err := d.monitors.EndScan(cleanupCtx, monitorID, d.clock.Now()); err != nil {
		d.logger.Error("clear scanning flag failed; the reaper will reclaim it",
			zap.String("monitor_id", monitorID),
			zap.Error(err),
		)
	}
}

func distinctUsers(monitors []monitor.Monitor) []string {
	seen := make(map[string]struct{}, len(monitors))
	out := make([]string, 0, len(monitors))
	for _, m := range monitors {
		if _, ok := seen[m.UserID]; ok {
			continue
		}
		seen[m.UserID] = struct{}{}
		out = append(out, m.UserID)
	}
	return out
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
