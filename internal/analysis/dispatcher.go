// Package analysis announces newly stored results to the downstream analysis
// consumer, choosing between per-result and batched announcements.
package analysis

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/mention-scanner/internal/monitor"
)

// Default topic names and batch threshold.
const (
	DefaultBatchThreshold = 50
	DefaultOneTopic       = "analyze-one"
	DefaultBatchTopic     = "analyze-batch"
)

// Mode names the announcement shape chosen for a dispatch.
type Mode string

// Dispatch modes.
const (
	ModeNone  Mode = "none"
	ModeOne   Mode = "one"
	ModeBatch Mode = "batch"
)

// AnalyzeOne asks the consumer to analyze a single result.
type AnalyzeOne struct {
	ResultID string `json:"resultId"`
	UserID   string `json:"userId"`
}

// AnalyzeBatch asks the consumer to analyze many results of one monitor at once.
type AnalyzeBatch struct {
	MonitorID  string         `json:"monitorId"`
	UserID     string         `json:"userId"`
	Source     monitor.Source `json:"source"`
	ResultIDs  []string       `json:"resultIds"`
	TotalCount int            `json:"totalCount"`
}

// Config controls the fan-out threshold and topics.
type Config struct {
	// BatchThreshold is the count above which a single batch announcement is used.
	BatchThreshold int
	OneTopic       string
	BatchTopic     string
}

// DefaultConfig returns the standard threshold and topic names.
func DefaultConfig() Config {
	return Config{
		BatchThreshold: DefaultBatchThreshold,
		OneTopic:       DefaultOneTopic,
		BatchTopic:     DefaultBatchTopic,
	}
}

// Fanout reports what a dispatch published.
type Fanout struct {
	Mode          Mode `json:"mode"`
	Announcements int  `json:"announcements"`
}

// Dispatcher publishes analysis announcements.
type Dispatcher struct {
	publisher monitor.Publisher
	cfg       Config
	logger    *zap.Logger
}

// NewDispatcher constructs a Dispatcher. Zero config fields take their defaults.
func NewDispatcher(publisher monitor.Publisher, cfg Config, logger *zap.Logger) *Dispatcher {
	def := DefaultConfig()
	if cfg.BatchThreshold <= 0 {
		cfg.BatchThreshold = def.BatchThreshold
	}
	if cfg.OneTopic == "" {
		cfg.OneTopic = def.OneTopic
	}
	if cfg.BatchTopic == "" {
		cfg.BatchTopic = def.BatchTopic
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{publisher: publisher, cfg: cfg, logger: logger.Named("analysis")}
}

// Dispatch announces resultIDs. More than BatchThreshold ids produce one batch
// announcement; otherwise one announcement per id is published.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	resultIDs []string,
	monitorID string,
	userID string,
	source monitor.Source,
) (Fanout, error) {
	if len(resultIDs) == 0 {
		return Fanout{Mode: ModeNone}, nil
	}

	if len(resultIDs) > d.cfg.BatchThreshold {
		msg := AnalyzeBatch{
			MonitorID:  monitorID,
			UserID:     userID,
			Source:     source,
			ResultIDs:  append([]string(nil), resultIDs...),
			TotalCount: len(resultIDs),
		}
		if _, err := d.publisher.Publish(ctx, d.cfg.BatchTopic, msg); err != nil {
			return Fanout{Mode: ModeBatch}, fmt.Errorf("publish batch announcement: %w", err)
		}
		d.logger.Debug("batch announcement published",
			zap.String("monitor_id", monitorID),
			zap.Int("results", len(resultIDs)),
		)
		return Fanout{Mode: ModeBatch, Announcements: 1}, nil
	}

	published := 0
	for _, id := range resultIDs {
		if _, err := d.publisher.Publish(ctx, d.cfg.OneTopic, AnalyzeOne{ResultID: id, UserID: userID}); err != nil {
			return Fanout{Mode: ModeOne, Announcements: published}, fmt.Errorf("publish announcement %s: %w", id, err)
		}
		published++
	}
	return Fanout{Mode: ModeOne, Announcements: published}, nil
}
