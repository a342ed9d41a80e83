package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelRecorder records push/get/delete counts and latencies through the
// OpenTelemetry metrics API. Construct its Meter from whatever
// MeterProvider the process wires up (stdout exporter for local
// development, OTLP for production); Queuey itself never depends on a
// specific exporter.
type OTelRecorder struct {
	pushCount   metric.Int64Counter
	pushLatency metric.Float64Histogram
	getCount    metric.Int64Counter
	getLatency  metric.Float64Histogram
	delCount    metric.Int64Counter
	delLatency  metric.Float64Histogram
}

// NewOTelRecorder builds a Recorder backed by meter.
func NewOTelRecorder(meter metric.Meter) (*OTelRecorder, error) {
	pushCount, err := meter.Int64Counter("queuey.messages.pushed",
		metric.WithDescription("Number of messages pushed"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	pushLatency, err := meter.Float64Histogram("queuey.push.duration",
		metric.WithDescription("Push call duration in seconds"), metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	getCount, err := meter.Int64Counter("queuey.messages.retrieved",
		metric.WithDescription("Number of messages retrieved"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	getLatency, err := meter.Float64Histogram("queuey.get.duration",
		metric.WithDescription("Get call duration in seconds"), metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	delCount, err := meter.Int64Counter("queuey.messages.deleted",
		metric.WithDescription("Number of messages deleted"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	delLatency, err := meter.Float64Histogram("queuey.delete.duration",
		metric.WithDescription("Delete call duration in seconds"), metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	return &OTelRecorder{
		pushCount:   pushCount,
		pushLatency: pushLatency,
		getCount:    getCount,
		getLatency:  getLatency,
		delCount:    delCount,
		delLatency:  delLatency,
	}, nil
}

func resultAttr(ok bool) attribute.KeyValue {
	if ok {
		return attribute.String("result", "ok")
	}
	return attribute.String("result", "error")
}

func (r *OTelRecorder) RecordPush(app, queueName string, n int, d time.Duration, ok bool) {
	attrs := metric.WithAttributes(
		attribute.String("application", app),
		attribute.String("queue", queueName),
		resultAttr(ok),
	)
	ctx := context.Background()
	r.pushCount.Add(ctx, int64(n), attrs)
	r.pushLatency.Record(ctx, d.Seconds(), attrs)
}

func (r *OTelRecorder) RecordGet(app, queueName string, n int, d time.Duration, ok bool) {
	attrs := metric.WithAttributes(
		attribute.String("application", app),
		attribute.String("queue", queueName),
		resultAttr(ok),
	)
	ctx := context.Background()
	r.getCount.Add(ctx, int64(n), attrs)
	r.getLatency.Record(ctx, d.Seconds(), attrs)
}

func (r *OTelRecorder) RecordDelete(app, queueName string, n int, d time.Duration, ok bool) {
	attrs := metric.WithAttributes(
		attribute.String("application", app),
		attribute.String("queue", queueName),
		resultAttr(ok),
	)
	ctx := context.Background()
	r.delCount.Add(ctx, int64(n), attrs)
	r.delLatency.Record(ctx, d.Seconds(), attrs)
}

var _ Recorder = (*OTelRecorder)(nil)
