// Package progress provides the event primitives, non-blocking hub, and emitter
// interfaces that scan runs use to report what they did. It batches events on a
// background goroutine and fans them out to pluggable sinks such as Prometheus
// metrics, run history storage, or structured logs.
package progress
