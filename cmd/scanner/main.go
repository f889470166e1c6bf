// Package main runs the mention scanner service.
//
// Architecture overview:
//   - Scheduled scans: a cron scheduler fires one durable run per source. Each run loads active monitors,
//     staggers them across the source's window, applies tier/interval/active-window gates and, per monitor,
//     fetches, deduplicates, persists and announces new results. Every step is checkpointed so a retried run
//     replays completed work instead of repeating it.
//   - On-demand scans: POST /v1/monitors/{id}/scan (or a Pub/Sub trigger subscription) queues a request that
//     a worker pool executes across all of the monitor's sources, guarded by the monitor's scanning flag.
//   - Reaper: a periodic sweep clears scanning flags left behind by crashed runs.
//   - Persistence: Postgres via pgx when db.dsn is set, otherwise in-memory stores. Run summaries can be
//     archived to GCS or a local directory. Announcements go to Pub/Sub, NATS JetStream or memory.
//   - Observability: zap logs, Prometheus metrics at /metrics, run history at /v1/runs, optional tracing.
//
// Quick checklist:
//   - Configure env vars with the SCANNER_ prefix, e.g. SCANNER_DB_DSN, SCANNER_PUBLISHER_BACKEND,
//     SCANNER_SOURCES_REDDIT_CLIENT_ID, SCANNER_AUTH_API_KEY.
//   - Run locally: go run ./cmd/scanner -config config.yaml (or rely solely on env overrides).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/JakeFAU/mention-scanner/internal/config"
	"github.com/JakeFAU/mention-scanner/internal/server"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	app, err := server.Build(ctx, &cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build failed: %v\n", err)
		os.Exit(1)
	}
	if err := app.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "run failed: %v\n", err)
		os.Exit(1)
	}
}
