// Package config provides configuration loading and validation for the
// vmtrack CLI and servers.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"
)

// Sentinel validation errors.
var (
	ErrInvalidLogLevel       = errors.New("invalid log level")
	ErrInvalidLogFormat      = errors.New("invalid log format")
	ErrInvalidBaselineFormat = errors.New("invalid baseline format")
	ErrInvalidTraceMaxSize   = errors.New("invalid trace max size")
	ErrInvalidSampleEvery    = errors.New("plot sample interval must be positive")
	ErrInvalidSampleRatio    = errors.New("trace sample ratio must be between 0 and 1")
)

// Baseline file formats.
const (
	BaselineFormatJSON   = "json"
	BaselineFormatBinary = "binary"
)

// Default configuration values.
const (
	defaultLogLevel       = "info"
	defaultLogFormat      = "text"
	defaultTraceMaxSize   = "256MiB"
	defaultSampleEvery    = 1
	defaultBaselineDir    = "baselines"
	defaultBaselineFormat = BaselineFormatBinary
)

// Config holds all configuration for vmtrack.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Tracker   TrackerConfig   `mapstructure:"tracker"`
	Trace     TraceConfig     `mapstructure:"trace"`
	Baseline  BaselineConfig  `mapstructure:"baseline"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// LoggingConfig holds logging-specific configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TrackerConfig holds tracker engine configuration.
type TrackerConfig struct {
	// Detailed records full call stacks per region instead of summary-only
	// accounting.
	Detailed bool `mapstructure:"detailed"`
}

// TraceConfig holds trace file handling configuration.
type TraceConfig struct {
	// MaxSize caps the decompressed size of a loaded trace file
	// ("256MiB", "1GB").
	MaxSize string `mapstructure:"max_size"`

	// SampleEvery is the plot sampling interval in events.
	SampleEvery int `mapstructure:"sample_every"`
}

// BaselineConfig holds baseline storage configuration.
type BaselineConfig struct {
	Directory string `mapstructure:"directory"`
	Format    string `mapstructure:"format"`
}

// TelemetryConfig holds OTLP export and diagnostics configuration.
type TelemetryConfig struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	OTLPHeaders  string  `mapstructure:"otlp_headers"`
	OTLPInsecure bool    `mapstructure:"otlp_insecure"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
	Environment  string  `mapstructure:"environment"`

	// Listen is the diagnostics HTTP address (/healthz, /readyz, /metrics).
	// Empty disables the server.
	Listen string `mapstructure:"listen"`
}

// Load loads configuration from file and environment variables. An empty
// configPath searches the standard locations; a missing file is not an error.
func Load(configPath string) (*Config, error) {
	viperCfg := viper.New()

	setDefaults(viperCfg)

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName("vmtrack")
		viperCfg.SetConfigType("yaml")
		viperCfg.AddConfigPath(".")
		viperCfg.AddConfigPath("./config")
		viperCfg.AddConfigPath("/etc/vmtrack")
	}

	viperCfg.SetEnvPrefix("VMTRACK")
	viperCfg.AutomaticEnv()
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFoundErr) {
			return nil, fmt.Errorf("failed to read config file: %w", readErr)
		}
	}

	var config Config

	unmarshalErr := viperCfg.Unmarshal(&config)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", unmarshalErr)
	}

	validateErr := validateConfig(&config)
	if validateErr != nil {
		return nil, fmt.Errorf("invalid configuration: %w", validateErr)
	}

	return &config, nil
}

// setDefaults sets default configuration values.
func setDefaults(viperCfg *viper.Viper) {
	// Logging defaults.
	viperCfg.SetDefault("logging.level", defaultLogLevel)
	viperCfg.SetDefault("logging.format", defaultLogFormat)

	// Tracker defaults.
	viperCfg.SetDefault("tracker.detailed", true)

	// Trace defaults.
	viperCfg.SetDefault("trace.max_size", defaultTraceMaxSize)
	viperCfg.SetDefault("trace.sample_every", defaultSampleEvery)

	// Baseline defaults.
	viperCfg.SetDefault("baseline.directory", defaultBaselineDir)
	viperCfg.SetDefault("baseline.format", defaultBaselineFormat)

	// Telemetry defaults.
	viperCfg.SetDefault("telemetry.otlp_endpoint", "")
	viperCfg.SetDefault("telemetry.sample_ratio", 0.0)
	viperCfg.SetDefault("telemetry.listen", "")
}

// validateConfig validates the configuration.
func validateConfig(config *Config) error {
	if _, err := config.Logging.SlogLevel(); err != nil {
		return err
	}

	if config.Logging.Format != "text" && config.Logging.Format != "json" {
		return fmt.Errorf("%w: %q", ErrInvalidLogFormat, config.Logging.Format)
	}

	if _, err := config.Trace.MaxSizeBytes(); err != nil {
		return err
	}

	if config.Trace.SampleEvery <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidSampleEvery, config.Trace.SampleEvery)
	}

	if config.Baseline.Format != BaselineFormatJSON && config.Baseline.Format != BaselineFormatBinary {
		return fmt.Errorf("%w: %q", ErrInvalidBaselineFormat, config.Baseline.Format)
	}

	if config.Telemetry.SampleRatio < 0 || config.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("%w: %g", ErrInvalidSampleRatio, config.Telemetry.SampleRatio)
	}

	return nil
}

// SlogLevel maps the configured level name to a slog level.
func (lc LoggingConfig) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(lc.Level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("%w: %q", ErrInvalidLogLevel, lc.Level)
	}
}

// MaxSizeBytes parses the configured trace size cap ("256MiB", "1GB").
func (tc TraceConfig) MaxSizeBytes() (uint64, error) {
	size, err := humanize.ParseBytes(tc.MaxSize)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %w", ErrInvalidTraceMaxSize, tc.MaxSize, err)
	}

	return size, nil
}
