// Package server builds the scanner's dependency graph and runs its
// long-lived loops: HTTP API, cron scheduler, on-demand workers and the
// optional Pub/Sub trigger consumer.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/mention-scanner/internal/api"
	"github.com/JakeFAU/mention-scanner/internal/config"
	"github.com/JakeFAU/mention-scanner/internal/dispatcher"
	"github.com/JakeFAU/mention-scanner/internal/progress"
	natspublisher "github.com/JakeFAU/mention-scanner/internal/publisher/nats"
	gcppublisher "github.com/JakeFAU/mention-scanner/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/mention-scanner/internal/queue/memory"
	pubsubqueue "github.com/JakeFAU/mention-scanner/internal/queue/pubsub"
	"github.com/JakeFAU/mention-scanner/internal/reaper"
	"github.com/JakeFAU/mention-scanner/internal/scan"
	"github.com/JakeFAU/mention-scanner/internal/schedule"
	gcsstorage "github.com/JakeFAU/mention-scanner/internal/storage/gcs"
)

// App contains the application's dependencies.
type App struct {
	cfg        *config.Config
	logger     *zap.Logger
	registerer prometheus.Registerer

	apiServer   *api.Server
	scanner     *scan.Dispatcher
	reaper      *reaper.Reaper
	scheduler   *schedule.Scheduler
	dispatch    *dispatcher.Dispatcher
	consumer    *pubsubqueue.Consumer
	progressHub *progress.Hub
	queue       *queueMemory.Queue

	pool            *pgxpool.Pool
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	natsPublisher   *natspublisher.Publisher
	archive         *gcsstorage.BlobStore
	tracerShutdown  func(context.Context) error
}

// Option customizes Build.
type Option func(*App)

// WithLogger replaces the configured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(a *App) { a.logger = logger }
}

// WithRegisterer sets the registry for the progress collectors.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(a *App) { a.registerer = reg }
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Scanner exposes the scan dispatcher.
func (a *App) Scanner() *scan.Dispatcher {
	return a.scanner
}

// Run starts the application and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var loops sync.WaitGroup
	loops.Add(1)
	go func() {
		defer loops.Done()
		a.logger.Info("on-demand dispatcher started")
		a.dispatch.Run(ctx)
	}()

	if a.consumer != nil {
		loops.Add(1)
		go func() {
			defer loops.Done()
			a.logger.Info("scan request consumer started", zap.String("subscription", a.cfg.PubSub.TriggerSubscription))
			if err := a.consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("scan request consumer stopped", zap.Error(err))
			}
		}()
	}

	a.scheduler.Start(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if err := a.scheduler.Stop(shutdownCtx); err != nil {
		a.logger.Warn("scheduler stop timed out", zap.Error(err))
	}
	loops.Wait()

	return a.Close(shutdownCtx)
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	if a.queue != nil {
		a.queue.Close()
	}
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.natsPublisher != nil {
		if err := a.natsPublisher.Close(); err != nil {
			a.logger.Warn("nats close failed", zap.Error(err))
		}
	}
	if a.archive != nil {
		if err := a.archive.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	_ = a.logger.Sync()
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
}
