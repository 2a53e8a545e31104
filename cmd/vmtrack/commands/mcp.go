package commands

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/vmtrack/pkg/mcp"
	"github.com/Sumatoshi-tech/vmtrack/pkg/observability"
	"github.com/Sumatoshi-tech/vmtrack/pkg/version"
)

// NewMCPCommand creates the MCP server command.
func NewMCPCommand() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start MCP server for AI agent integration",
		Long: `Start a Model Context Protocol (MCP) server on stdio transport.

The MCP server exposes vmtrack capabilities as tools that AI agents can
discover and invoke:
  - vmtrack_replay: Replay a trace document and return per-tag usage
  - vmtrack_find_region: Attribute an address to its reserved region
  - vmtrack_diff: Compare two saved baselines`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cobraCmd *cobra.Command, _ []string) error {
			providers, err := initMCPObservability(cobraCmd, debug)
			if err != nil {
				return err
			}

			defer func() {
				shutdownErr := providers.Shutdown(context.Background())
				if shutdownErr != nil {
					providers.Logger.Warn("observability shutdown failed", "error", shutdownErr)
				}
			}()

			metrics, metricsErr := observability.NewTrackerMetrics(providers.Meter)
			if metricsErr != nil {
				return metricsErr
			}

			deps := mcp.ServerDeps{Logger: providers.Logger, Metrics: metrics, Tracer: providers.Tracer}

			srv := mcp.NewServer(deps)

			return srv.Run(cobraCmd.Context())
		},
	}

	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging to stderr")

	return cmd
}

// initMCPObservability layers the telemetry settings: defaults, then the
// config file, then the standard OTEL_ environment variables.
func initMCPObservability(cmd *cobra.Command, debug bool) (observability.Providers, error) {
	fileCfg, err := loadConfig(cmd)
	if err != nil {
		return observability.Providers{}, err
	}

	cfg := observability.DefaultConfig()
	cfg.ServiceVersion = version.Version
	cfg.Mode = observability.ModeMCP
	cfg.LogJSON = true

	cfg.OTLPEndpoint = fileCfg.Telemetry.OTLPEndpoint
	cfg.OTLPHeaders = observability.ParseOTLPHeaders(fileCfg.Telemetry.OTLPHeaders)
	cfg.OTLPInsecure = fileCfg.Telemetry.OTLPInsecure
	cfg.SampleRatio = fileCfg.Telemetry.SampleRatio
	cfg.Environment = fileCfg.Telemetry.Environment

	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		cfg.OTLPEndpoint = endpoint
	}

	if headers := os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"); headers != "" {
		cfg.OTLPHeaders = observability.ParseOTLPHeaders(headers)
	}

	if os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true" {
		cfg.OTLPInsecure = true
	}

	if debug {
		cfg.LogLevel = slog.LevelDebug
		cfg.DebugTrace = true
	}

	return observability.Init(cfg)
}
