package observability_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/Sumatoshi-tech/vmtrack/pkg/observability"
)

func setupTestMeter(t *testing.T) (*observability.TrackerMetrics, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := mp.Meter("test")

	tm, err := observability.NewTrackerMetrics(meter)
	require.NoError(t, err)

	return tm, reader
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()

	var rm metricdata.ResourceMetrics

	err := reader.Collect(context.Background(), &rm)
	require.NoError(t, err)

	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for idx := range rm.ScopeMetrics {
		for midx := range rm.ScopeMetrics[idx].Metrics {
			if rm.ScopeMetrics[idx].Metrics[midx].Name == name {
				return &rm.ScopeMetrics[idx].Metrics[midx]
			}
		}
	}

	return nil
}

func TestTrackerMetrics_RecordOp(t *testing.T) {
	t.Parallel()
	tm, reader := setupTestMeter(t)
	ctx := context.Background()

	tm.RecordOp(ctx, "replay", "ok", time.Millisecond*100)

	rm := collectMetrics(t, reader)

	opsTotal := findMetric(rm, "vmtrack.ops.total")
	require.NotNil(t, opsTotal, "vmtrack.ops.total metric not found")

	opDuration := findMetric(rm, "vmtrack.op.duration.seconds")
	require.NotNil(t, opDuration, "vmtrack.op.duration.seconds metric not found")
}

func TestTrackerMetrics_RecordOpError(t *testing.T) {
	t.Parallel()
	tm, reader := setupTestMeter(t)
	ctx := context.Background()

	tm.RecordOp(ctx, "diff", "error", time.Second)

	rm := collectMetrics(t, reader)

	errTotal := findMetric(rm, "vmtrack.errors.total")
	require.NotNil(t, errTotal, "vmtrack.errors.total metric not found")
}

func TestTrackerMetrics_TrackInflight(t *testing.T) {
	t.Parallel()
	tm, reader := setupTestMeter(t)
	ctx := context.Background()

	done := tm.TrackInflight(ctx, "replay")

	rm := collectMetrics(t, reader)

	inflight := findMetric(rm, "vmtrack.inflight.ops")
	require.NotNil(t, inflight, "vmtrack.inflight.ops metric not found")

	done()

	rm = collectMetrics(t, reader)
	inflight = findMetric(rm, "vmtrack.inflight.ops")
	require.NotNil(t, inflight)
}

func TestTrackerMetrics_NilReceiver(t *testing.T) {
	t.Parallel()

	var tm *observability.TrackerMetrics

	// Both must be safe without instruments.
	tm.RecordOp(context.Background(), "noop", "ok", time.Millisecond)
	tm.TrackInflight(context.Background(), "noop")()
}

func TestUsageMetrics_ObservesSource(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := mp.Meter("test")

	_, err := observability.NewUsageMetrics(meter, func() (int64, int64, int64) {
		return 4096, 1024, 7
	})
	require.NoError(t, err)

	rm := collectMetrics(t, reader)

	for name, want := range map[string]int64{
		"vmtrack.reserved.bytes":  4096,
		"vmtrack.committed.bytes": 1024,
		"vmtrack.breakpoints":     7,
	} {
		found := findMetric(rm, name)
		require.NotNil(t, found, "%s metric not found", name)

		gauge, ok := found.Data.(metricdata.Gauge[int64])
		require.True(t, ok, "%s is not an int64 gauge", name)
		require.Len(t, gauge.DataPoints, 1)
		assert.Equal(t, want, gauge.DataPoints[0].Value)
	}
}

func TestNewTrackerMetrics_WithNoopMeter(t *testing.T) {
	t.Parallel()

	cfg := observability.DefaultConfig()

	providers, err := observability.Init(cfg)
	require.NoError(t, err)

	t.Cleanup(func() { require.NoError(t, providers.Shutdown(context.Background())) })

	tm, err := observability.NewTrackerMetrics(providers.Meter)
	require.NoError(t, err)
	assert.NotNil(t, tm)

	// Should not panic on recording.
	tm.RecordOp(context.Background(), "test", "ok", time.Millisecond)
}
