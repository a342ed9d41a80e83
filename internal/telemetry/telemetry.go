// Package telemetry defines a small, optional metrics recorder for the
// queue engine. Spec.md §1 marks metrics-client wiring an out-of-scope
// external collaborator, so this stays a thin interface with a no-op
// default rather than a built-out observability subsystem; callers that
// want real metrics construct an *OTelRecorder (see otel.go) and pass it
// to queue.New instead.
package telemetry

import "time"

// Recorder observes queue-engine operations. All methods must be safe
// for concurrent use.
type Recorder interface {
	// RecordPush observes a push/push-batch of n messages into
	// app/queue, taking d to complete, with ok indicating success.
	RecordPush(app, queueName string, n int, d time.Duration, ok bool)
	// RecordGet observes a get-messages call returning n records.
	RecordGet(app, queueName string, n int, d time.Duration, ok bool)
	// RecordDelete observes a delete of n message ids.
	RecordDelete(app, queueName string, n int, d time.Duration, ok bool)
}

// Noop is a Recorder that discards every observation. It is the default
// used when no telemetry backend is configured.
type Noop struct{}

func (Noop) RecordPush(string, string, int, time.Duration, bool)   {}
func (Noop) RecordGet(string, string, int, time.Duration, bool)    {}
func (Noop) RecordDelete(string, string, int, time.Duration, bool) {}

var _ Recorder = Noop{}
