package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricOpsTotal       = "vmtrack.ops.total"
	metricOpDuration     = "vmtrack.op.duration.seconds"
	metricErrorsTotal    = "vmtrack.errors.total"
	metricInflightOps    = "vmtrack.inflight.ops"
	metricReservedBytes  = "vmtrack.reserved.bytes"
	metricCommittedBytes = "vmtrack.committed.bytes"
	metricBreakpoints    = "vmtrack.breakpoints"

	attrOp     = "op"
	attrStatus = "status"

	statusError = "error"
)

// durationBucketBoundaries cover microsecond-scale tracker mutations up to
// multi-second trace replays.
var durationBucketBoundaries = []float64{
	0.000001, 0.00001, 0.0001, 0.001, 0.01, 0.1, 0.5, 1, 5, 30, 120,
}

// TrackerMetrics holds the OTel instruments for tracker operation metrics.
type TrackerMetrics struct {
	opsTotal    metric.Int64Counter
	opDuration  metric.Float64Histogram
	errorsTotal metric.Int64Counter
	inflightOps metric.Int64UpDownCounter
}

// NewTrackerMetrics creates tracker operation instruments from the given meter.
func NewTrackerMetrics(mt metric.Meter) (*TrackerMetrics, error) {
	b := newMetricBuilder(mt)

	tm := &TrackerMetrics{
		opsTotal:    b.counter(metricOpsTotal, "Total number of tracker operations", "{operation}"),
		opDuration:  b.histogram(metricOpDuration, "Operation duration in seconds", "s", durationBucketBoundaries...),
		errorsTotal: b.counter(metricErrorsTotal, "Total number of failed operations", "{error}"),
		inflightOps: b.upDownCounter(metricInflightOps, "Number of in-flight operations", "{operation}"),
	}

	if b.err != nil {
		return nil, b.err
	}

	return tm, nil
}

// RecordOp records a completed operation with its name, status, and duration.
// Safe to call on a nil receiver (no-op).
func (tm *TrackerMetrics) RecordOp(ctx context.Context, op, status string, duration time.Duration) {
	if tm == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String(attrOp, op),
		attribute.String(attrStatus, status),
	)

	tm.opsTotal.Add(ctx, 1, attrs)
	tm.opDuration.Record(ctx, duration.Seconds(), attrs)

	if status == statusError {
		tm.errorsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String(attrOp, op),
		))
	}
}

// TrackInflight increments the in-flight gauge and returns a function to decrement it.
// Safe to call on a nil receiver (the returned function is a no-op).
func (tm *TrackerMetrics) TrackInflight(ctx context.Context, op string) func() {
	if tm == nil {
		return func() {}
	}

	attrs := metric.WithAttributes(attribute.String(attrOp, op))
	tm.inflightOps.Add(ctx, 1, attrs)

	return func() {
		tm.inflightOps.Add(ctx, -1, attrs)
	}
}

// UsageSource supplies the current tracker totals for the usage gauges. It
// runs on every metrics collection cycle and must be cheap.
type UsageSource func() (reservedBytes, committedBytes, breakpoints int64)

// UsageMetrics exposes the tracked address space as observable gauges.
type UsageMetrics struct {
	reserved    metric.Int64ObservableGauge
	committed   metric.Int64ObservableGauge
	breakpoints metric.Int64ObservableGauge
}

// NewUsageMetrics creates usage gauges fed from source on each collection cycle.
func NewUsageMetrics(mt metric.Meter, source UsageSource) (*UsageMetrics, error) {
	b := newMetricBuilder(mt)

	um := &UsageMetrics{
		reserved:    b.gauge(metricReservedBytes, "Reserved address space currently tracked", "By"),
		committed:   b.gauge(metricCommittedBytes, "Committed memory currently tracked", "By"),
		breakpoints: b.gauge(metricBreakpoints, "Breakpoints in the address-space timeline", "{breakpoint}"),
	}

	if b.err != nil {
		return nil, b.err
	}

	_, err := mt.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		reserved, committed, breakpoints := source()
		obs.ObserveInt64(um.reserved, reserved)
		obs.ObserveInt64(um.committed, committed)
		obs.ObserveInt64(um.breakpoints, breakpoints)

		return nil
	}, um.reserved, um.committed, um.breakpoints)
	if err != nil {
		return nil, fmt.Errorf("register usage callback: %w", err)
	}

	return um, nil
}
