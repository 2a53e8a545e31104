package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/vmtrack/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "vmtrack.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.True(t, cfg.Tracker.Detailed)
	assert.Equal(t, "256MiB", cfg.Trace.MaxSize)
	assert.Equal(t, 1, cfg.Trace.SampleEvery)
	assert.Equal(t, "baselines", cfg.Baseline.Directory)
	assert.Equal(t, config.BaselineFormatBinary, cfg.Baseline.Format)
	assert.Empty(t, cfg.Telemetry.OTLPEndpoint)
	assert.Empty(t, cfg.Telemetry.Listen)
}

func TestLoadFromFile(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
logging:
  level: debug
  format: json
tracker:
  detailed: false
trace:
  max_size: 1GiB
  sample_every: 64
baseline:
  directory: /var/lib/vmtrack
  format: json
telemetry:
  otlp_endpoint: localhost:4317
  sample_ratio: 0.25
  listen: "127.0.0.1:9090"
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.False(t, cfg.Tracker.Detailed)
	assert.Equal(t, "1GiB", cfg.Trace.MaxSize)
	assert.Equal(t, 64, cfg.Trace.SampleEvery)
	assert.Equal(t, "/var/lib/vmtrack", cfg.Baseline.Directory)
	assert.Equal(t, config.BaselineFormatJSON, cfg.Baseline.Format)
	assert.Equal(t, "localhost:4317", cfg.Telemetry.OTLPEndpoint)
	assert.InDelta(t, 0.25, cfg.Telemetry.SampleRatio, 0)
	assert.Equal(t, "127.0.0.1:9090", cfg.Telemetry.Listen)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestEnvOverridesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("VMTRACK_LOGGING_LEVEL", "warn")
	t.Setenv("VMTRACK_BASELINE_FORMAT", "json")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, config.BaselineFormatJSON, cfg.Baseline.Format)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{"bad_level", "logging:\n  level: loud\n", config.ErrInvalidLogLevel},
		{"bad_format", "logging:\n  format: xml\n", config.ErrInvalidLogFormat},
		{"bad_baseline_format", "baseline:\n  format: csv\n", config.ErrInvalidBaselineFormat},
		{"bad_max_size", "trace:\n  max_size: lots\n", config.ErrInvalidTraceMaxSize},
		{"zero_sample_every", "trace:\n  sample_every: 0\n", config.ErrInvalidSampleEvery},
		{"ratio_above_one", "telemetry:\n  sample_ratio: 1.5\n", config.ErrInvalidSampleRatio},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := config.Load(writeConfig(t, tt.content))
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()

	for name, want := range map[string]string{
		"debug": "DEBUG", "info": "INFO", "warn": "WARN", "warning": "WARN", "ERROR": "ERROR",
	} {
		level, err := config.LoggingConfig{Level: name}.SlogLevel()
		require.NoError(t, err)
		assert.Equal(t, want, level.String())
	}

	_, err := config.LoggingConfig{Level: "silent"}.SlogLevel()
	require.ErrorIs(t, err, config.ErrInvalidLogLevel)
}

func TestMaxSizeBytes(t *testing.T) {
	t.Parallel()

	size, err := config.TraceConfig{MaxSize: "256MiB"}.MaxSizeBytes()
	require.NoError(t, err)
	assert.Equal(t, uint64(256<<20), size)

	size, err = config.TraceConfig{MaxSize: "1GB"}.MaxSizeBytes()
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000_000), size)

	_, err = config.TraceConfig{MaxSize: "plenty"}.MaxSizeBytes()
	require.ErrorIs(t, err, config.ErrInvalidTraceMaxSize)
}
