// Package progress defines the event structures emitted by scan runs.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart       Stage = "RUN_START"
	StageRunDone        Stage = "RUN_DONE"
	StageRunError       Stage = "RUN_ERROR"
	StageMonitorDone    Stage = "MONITOR_DONE"
	StageMonitorSkipped Stage = "MONITOR_SKIPPED"
	StageMonitorError   Stage = "MONITOR_ERROR"
	StageScanReaped     Stage = "SCAN_REAPED"
)

// Kind mirrors store.RunKind without importing the store package.
type Kind string

// Run kinds carried by events.
const (
	KindScheduled Kind = "scheduled"
	KindOnDemand  Kind = "on_demand"
	KindReaper    Kind = "reaper"
)

// Event captures a single milestone of a scan run.
type Event struct {
	// RunID is the durable run identifier.
	RunID string
	// Kind records what triggered the run.
	Kind Kind
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage
	// Source scopes the event to a content source when known.
	Source string
	// MonitorID is set on monitor and reaper events.
	MonitorID string
	// Fetched counts items returned by the source collaborator.
	Fetched int64
	// NewItems counts results inserted.
	NewItems int64
	// Reason carries the skip reason for MONITOR_SKIPPED.
	Reason string
	// Dur captures latency for monitor scans and run completions.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StageMonitorDone, StageMonitorError, StageScanReaped:
		if e.MonitorID == "" {
			return fmt.Errorf("%s requires monitor id", e.Stage)
		}
	case StageMonitorSkipped:
		if e.MonitorID == "" {
			return errors.New("monitor skipped requires monitor id")
		}
		if e.Reason == "" {
			return errors.New("monitor skipped requires reason")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.Fetched < 0 || e.NewItems < 0 {
		return errors.New("counters must be >= 0")
	}
	return nil
}

// Terminal reports whether the stage ends a run.
func (s Stage) Terminal() bool {
	return s == StageRunDone || s == StageRunError
}
