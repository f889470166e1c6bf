package monitor

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound signals that the requested monitor does not exist.
var ErrNotFound = errors.New("monitor not found")

// MonitorStore persists monitor scan state.
type MonitorStore interface {
	// ListActiveForSource returns active monitors that enable source, in stable load order.
	ListActiveForSource(ctx context.Context, source Source) ([]Monitor, error)
	// TiersForUsers resolves the subscription tier of every listed user in one query.
	TiersForUsers(ctx context.Context, userIDs []string) (map[string]Tier, error)
	// GetMonitor loads a monitor or returns ErrNotFound.
	GetMonitor(ctx context.Context, id string) (Monitor, error)
	// BeginScan sets isScanning when it is not already set and reports whether it did.
	BeginScan(ctx context.Context, id string, at time.Time) (bool, error)
	// EndScan clears isScanning.
	EndScan(ctx context.Context, id string, at time.Time) error
	// UpdateScanStats records lastCheckedAt, newMatchCount and updatedAt.
	UpdateScanStats(ctx context.Context, id string, newMatches int, at time.Time) error
	// ClearStuckScans clears isScanning on monitors last updated before staleBefore.
	ClearStuckScans(ctx context.Context, staleBefore, now time.Time) ([]Monitor, error)
}

// FetchRequest carries what a source collaborator needs for one monitor.
type FetchRequest struct {
	Monitor Monitor
	Source  Source
	Config  SourceConfig
}

// Fetcher is a source-specific fetch/match collaborator.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) ([]Item, error)
}

// Publisher pushes announcements to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore writes artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// TriggerQueue carries on-demand scan requests.
type TriggerQueue interface {
	Enqueue(ctx context.Context, req ScanRequest) error
	Dequeue(ctx context.Context) (ScanRequest, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces unique identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
