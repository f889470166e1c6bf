package server

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/JakeFAU/mention-scanner/internal/access"
	"github.com/JakeFAU/mention-scanner/internal/analysis"
	"github.com/JakeFAU/mention-scanner/internal/api"
	"github.com/JakeFAU/mention-scanner/internal/clock/system"
	"github.com/JakeFAU/mention-scanner/internal/config"
	"github.com/JakeFAU/mention-scanner/internal/dispatcher"
	"github.com/JakeFAU/mention-scanner/internal/id/uuid"
	"github.com/JakeFAU/mention-scanner/internal/logging"
	"github.com/JakeFAU/mention-scanner/internal/metrics"
	"github.com/JakeFAU/mention-scanner/internal/monitor"
	"github.com/JakeFAU/mention-scanner/internal/progress"
	progresssinks "github.com/JakeFAU/mention-scanner/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/mention-scanner/internal/publisher/memory"
	natspublisher "github.com/JakeFAU/mention-scanner/internal/publisher/nats"
	gcppublisher "github.com/JakeFAU/mention-scanner/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/mention-scanner/internal/queue/memory"
	pubsubqueue "github.com/JakeFAU/mention-scanner/internal/queue/pubsub"
	"github.com/JakeFAU/mention-scanner/internal/reaper"
	"github.com/JakeFAU/mention-scanner/internal/results"
	"github.com/JakeFAU/mention-scanner/internal/scan"
	"github.com/JakeFAU/mention-scanner/internal/schedule"
	"github.com/JakeFAU/mention-scanner/internal/sources"
	"github.com/JakeFAU/mention-scanner/internal/stagger"
	"github.com/JakeFAU/mention-scanner/internal/steps"
	gcsstorage "github.com/JakeFAU/mention-scanner/internal/storage/gcs"
	localstorage "github.com/JakeFAU/mention-scanner/internal/storage/local"
	memoryStorage "github.com/JakeFAU/mention-scanner/internal/storage/memory"
	pgstore "github.com/JakeFAU/mention-scanner/internal/storage/postgres"
	"github.com/JakeFAU/mention-scanner/internal/store"
	"github.com/JakeFAU/mention-scanner/internal/telemetry"
	"github.com/JakeFAU/mention-scanner/internal/worker"
)

const serviceName = "mention-scanner"

// Version is stamped at build time.
var Version = "dev"

type stepLog interface {
	steps.Store
	steps.Purger
}

type stores struct {
	monitors monitor.MonitorStore
	results  results.Repository
	steps    stepLog
	runs     store.RunRepository
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	app := &App{cfg: cfg}
	for _, opt := range opts {
		opt(app)
	}
	if app.logger == nil {
		logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
		app.logger = logger
	}
	app.logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("publisher", cfg.Publisher.Backend),
		zap.String("archive", cfg.Archive.Backend),
		zap.Bool("postgres", cfg.DB.DSN != ""),
	)

	if cfg.Telemetry.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
			ServiceName: serviceName,
			Version:     Version,
			SampleRatio: cfg.Telemetry.SampleRatio,
		})
		if err != nil {
			return nil, fmt.Errorf("tracer init failed: %w", err)
		}
		app.tracerShutdown = tp.Shutdown
	}
	metrics.Init()

	clock := system.New()
	ids := uuid.New()

	st, err := setupDatabase(ctx, app)
	if err != nil {
		return nil, err
	}
	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}
	archive, err := setupArchive(ctx, app)
	if err != nil {
		return nil, err
	}
	emitter, err := setupProgress(ctx, app, st.runs)
	if err != nil {
		return nil, err
	}
	registry, err := setupSources(app, clock)
	if err != nil {
		return nil, err
	}

	exec := steps.New(st.steps, clock, cfg.ExecutorConfig(), app.logger.Named("steps"))
	app.scanner, err = scan.New(scan.Deps{
		Monitors:      st.monitors,
		Results:       results.NewStore(st.results, ids, clock),
		Analysis:      analysis.NewDispatcher(publisher, cfg.AnalysisDispatch(), app.logger),
		Executor:      exec,
		Sources:       registry,
		Policy:        access.New(cfg.TierTable()),
		Windows:       cfg.StaggerWindows(),
		Jitter:        stagger.NewJitterer(cfg.Scan.JitterPercent, nil),
		Clock:         clock,
		Progress:      emitter,
		Archive:       archive,
		ArchivePrefix: cfg.Archive.Prefix,
		Logger:        app.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("scan dispatcher init failed: %w", err)
	}

	app.reaper, err = reaper.New(st.monitors, exec, clock, app.logger,
		reaper.WithStaleAfter(cfg.Reaper.StaleAfter),
		reaper.WithProgress(emitter),
	)
	if err != nil {
		return nil, fmt.Errorf("reaper init failed: %w", err)
	}

	if err := setupWorkers(ctx, app, clock); err != nil {
		return nil, err
	}
	if err := setupSchedule(app, registry, st.steps, clock); err != nil {
		return nil, err
	}

	var ready func(context.Context) error
	if app.pool != nil {
		ready = app.pool.Ping
	}
	app.apiServer = api.NewServer(api.Deps{
		Triggers: app.dispatch,
		Runs:     st.runs,
		Reaper:   app.reaper,
		IDs:      ids,
		Clock:    clock,
		Ready:    ready,
		Logger:   app.logger,
	}, cfg.Auth)

	return app, nil
}

func setupDatabase(ctx context.Context, app *App) (stores, error) {
	cfg := app.cfg.DB
	if cfg.DSN == "" {
		app.logger.Warn("no database DSN configured, using in-memory stores")
		return stores{
			monitors: memoryStorage.NewMonitorStore(),
			results:  memoryStorage.NewResultStore(),
			steps:    memoryStorage.NewStepStore(),
			runs:     memoryStorage.NewRunStore(),
		}, nil
	}
	pool, err := pgstore.NewPool(ctx, pgstore.Config{
		DSN:             cfg.DSN,
		MaxConns:        cfg.MaxConns,
		MinConns:        cfg.MinConns,
		MaxConnLifetime: cfg.MaxConnLifetime,
	})
	if err != nil {
		return stores{}, fmt.Errorf("postgres init failed: %w", err)
	}
	app.pool = pool
	if cfg.EnsureSchema {
		if err := pgstore.EnsureSchema(ctx, pool); err != nil {
			return stores{}, fmt.Errorf("ensure schema failed: %w", err)
		}
	}
	monitors, err := pgstore.NewMonitorStore(pool)
	if err != nil {
		return stores{}, err
	}
	resultStore, err := pgstore.NewResultStore(pool)
	if err != nil {
		return stores{}, err
	}
	stepStore, err := pgstore.NewStepStore(pool)
	if err != nil {
		return stores{}, err
	}
	runStore, err := pgstore.NewRunStore(pool)
	if err != nil {
		return stores{}, err
	}
	app.logger.Info("postgres stores initialized")
	return stores{monitors: monitors, results: resultStore, steps: stepStore, runs: runStore}, nil
}

func setupPublisher(ctx context.Context, app *App) (monitor.Publisher, error) {
	switch app.cfg.Publisher.Backend {
	case "pubsub":
		client, err := pubsubClient(ctx, app)
		if err != nil {
			return nil, err
		}
		app.pubsubPublisher = gcppublisher.New(client)
		app.logger.Info("Pub/Sub publisher initialized", zap.String("project", app.cfg.PubSub.ProjectID))
		return app.pubsubPublisher, nil
	case "nats":
		pub, err := natspublisher.Connect(ctx, natspublisher.Config{
			URL:    app.cfg.NATS.URL,
			Stream: app.cfg.NATS.Stream,
			Prefix: app.cfg.NATS.Prefix,
			MaxAge: app.cfg.NATS.MaxAge,
		})
		if err != nil {
			return nil, fmt.Errorf("nats publisher init failed: %w", err)
		}
		app.natsPublisher = pub
		app.logger.Info("NATS publisher initialized", zap.String("url", app.cfg.NATS.URL))
		return pub, nil
	default:
		app.logger.Warn("using in-memory publisher; announcements stay in process")
		return memorypublisher.New(), nil
	}
}

func pubsubClient(ctx context.Context, app *App) (*pubsub.Client, error) {
	if app.pubsubClient != nil {
		return app.pubsubClient, nil
	}
	client, err := pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubClient = client
	return client, nil
}

func setupArchive(ctx context.Context, app *App) (monitor.BlobStore, error) {
	cfg := app.cfg.Archive
	switch cfg.Backend {
	case "gcs":
		blobs, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: cfg.Bucket, CacheControl: cfg.CacheControl})
		if err != nil {
			return nil, fmt.Errorf("gcs archive init failed: %w", err)
		}
		app.archive = blobs
		app.logger.Info("archiving run summaries to GCS", zap.String("bucket", cfg.Bucket))
		return blobs, nil
	case "local":
		blobs, err := localstorage.New(localstorage.Config{BaseDir: cfg.Dir})
		if err != nil {
			return nil, fmt.Errorf("local archive init failed: %w", err)
		}
		app.logger.Info("archiving run summaries locally", zap.String("dir", cfg.Dir))
		return blobs, nil
	default:
		app.logger.Info("run summary archive disabled")
		return nil, nil
	}
}

func setupProgress(ctx context.Context, app *App, runs store.RunRepository) (progress.Emitter, error) {
	promSink, err := progresssinks.NewPrometheusSink(app.registerer)
	if err != nil {
		return nil, fmt.Errorf("progress metrics init failed: %w", err)
	}
	sinkList := []progress.Sink{
		progresssinks.NewStoreSink(runs, app.logger.Named("progress_store")),
		progresssinks.NewLogSink(app.logger.Named("progress_log")),
		promSink,
	}
	app.progressHub = progress.NewHub(progress.Config{
		BaseContext: ctx,
		Logger:      app.logger.Named("progress_hub"),
	}, sinkList...)
	app.logger.Info("progress hub initialized", zap.Int("sinks", len(sinkList)))
	return app.progressHub, nil
}

func setupWorkers(ctx context.Context, app *App, clock monitor.Clock) error {
	cfg := app.cfg.OnDemand
	app.queue = queueMemory.NewQueue(cfg.QueueDepth)
	workers := make([]*worker.Worker, 0, cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		workers = append(workers, worker.New(
			app.queue,
			app.scanner,
			worker.Config{ScanTimeout: cfg.Timeout},
			app.logger.With(zap.Int("worker_index", i)),
		))
	}
	app.dispatch = dispatcher.New(app.queue, workers, app.logger)

	if sub := app.cfg.PubSub.TriggerSubscription; sub != "" {
		client, err := pubsubClient(ctx, app)
		if err != nil {
			return err
		}
		app.consumer = pubsubqueue.NewConsumer(client.Subscription(sub), app.queue, clock, app.logger)
	}
	app.logger.Info("on-demand workers initialized",
		zap.Int("workers", cfg.Workers),
		zap.Int("queue_depth", cfg.QueueDepth),
		zap.Duration("scan_timeout", cfg.Timeout),
	)
	return nil
}

func setupSchedule(app *App, registry *sources.Registry, purger steps.Purger, clock monitor.Clock) error {
	app.scheduler = schedule.New(clock, app.logger)
	for source, spec := range app.cfg.ScheduledSources() {
		if _, ok := registry.Fetcher(source); !ok {
			app.logger.Warn("schedule ignored for unconfigured source", zap.String("source", string(source)))
			continue
		}
		job := schedule.ScanJob(app.scanner, source, app.logger.Named("scheduled"))
		if err := app.scheduler.Register("scan:"+string(source), spec, job); err != nil {
			return err
		}
	}
	if err := app.scheduler.Register("reaper", app.cfg.Reaper.Schedule, schedule.ReaperJob(app.reaper, app.logger)); err != nil {
		return err
	}
	if app.cfg.Steps.Retention > 0 && app.cfg.Steps.PurgeSchedule != "" {
		job := schedule.PurgeJob(purger, app.cfg.Steps.Retention, app.logger)
		if err := app.scheduler.Register("purge-steps", app.cfg.Steps.PurgeSchedule, job); err != nil {
			return err
		}
	}
	return nil
}
