package scan

import (
	"time"

	"github.com/JakeFAU/mention-scanner/internal/access"
	"github.com/JakeFAU/mention-scanner/internal/analysis"
	"github.com/JakeFAU/mention-scanner/internal/monitor"
)

// MonitorOutcome is the per-monitor breakdown of a run.
type MonitorOutcome struct {
	MonitorID  string            `json:"monitorId"`
	Source     monitor.Source    `json:"source"`
	Fetched    int               `json:"fetched"`
	NewCount   int               `json:"newCount"`
	Fanout     analysis.Mode     `json:"fanout,omitempty"`
	Skipped    bool              `json:"skipped,omitempty"`
	SkipReason access.SkipReason `json:"skipReason,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// Summary reports what one run did.
type Summary struct {
	RunID      string           `json:"runId"`
	Kind       string           `json:"kind"`
	Source     monitor.Source   `json:"source,omitempty"`
	StartedAt  time.Time        `json:"startedAt"`
	FinishedAt time.Time        `json:"finishedAt"`
	TotalNew   int              `json:"totalNew"`
	Monitors   []MonitorOutcome `json:"monitors"`
}

func (s *Summary) add(o MonitorOutcome) {
	s.TotalNew += o.NewCount
	s.Monitors = append(s.Monitors, o)
}

// Skipped counts monitors skipped by the access policy.
func (s Summary) Skipped() int {
	n := 0
	for _, o := range s.Monitors {
		if o.Skipped {
			n++
		}
	}
	return n
}

// Failed counts monitors whose fetch or persist failed.
func (s Summary) Failed() int {
	n := 0
	for _, o := range s.Monitors {
		if o.Error != "" {
			n++
		}
	}
	return n
}
