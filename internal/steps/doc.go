// Package steps implements durable, checkpointed runs.
//
// A run is identified by a caller-chosen run ID and is composed of named
// steps. Before a step body executes, the step log is consulted under
// (runID, stepName); when a record exists its memoized output is returned and
// the body is not executed. After a body succeeds its output is written to the
// log immediately. Re-executing a run with the same ID therefore replays
// completed steps and only executes steps that failed or never started.
//
// Suspension points (Run.Sleep) memoize their wake-up instant, so a restarted
// run waits only for the remainder instead of re-delaying from zero. The run
// deadline is derived from the memoized start time and survives restarts too.
package steps
