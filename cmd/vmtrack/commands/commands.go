// Package commands implements CLI command handlers for vmtrack.
package commands

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/vmtrack/internal/config"
	"github.com/Sumatoshi-tech/vmtrack/pkg/baseline"
	"github.com/Sumatoshi-tech/vmtrack/pkg/report"
)

// Output format names accepted by --format flags.
const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

// ErrUnsupportedFormat indicates a --format value outside table, json, yaml.
var ErrUnsupportedFormat = errors.New("unsupported format (expected table, json or yaml)")

// loadConfig resolves the --config persistent flag and loads configuration.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		path = ""
	}

	return config.Load(path)
}

// setupLogger builds the command logger from configuration, honoring the
// persistent --verbose and --quiet flags.
func setupLogger(cmd *cobra.Command, cfg *config.Config) (*slog.Logger, error) {
	level, err := cfg.Logging.SlogLevel()
	if err != nil {
		return nil, err
	}

	if isVerbose(cmd) {
		level = slog.LevelDebug
	}

	if isQuiet(cmd) {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(cmd.ErrOrStderr(), opts)
	} else {
		handler = slog.NewTextHandler(cmd.ErrOrStderr(), opts)
	}

	return slog.New(handler), nil
}

func isQuiet(cmd *cobra.Command) bool {
	quiet, err := cmd.Flags().GetBool("quiet")
	if err != nil {
		return false
	}

	return quiet
}

func isVerbose(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		return false
	}

	return verbose
}

func progressf(quiet bool, writer io.Writer, format string, args ...any) {
	if quiet {
		return
	}

	_, _ = fmt.Fprintf(writer, "progress: "+format+"\n", args...)
}

// configCodec maps the configured baseline format to its codec.
func configCodec(cfg *config.Config) baseline.Codec {
	if cfg.Baseline.Format == config.BaselineFormatJSON {
		return baseline.JSONCodec{Indent: true}
	}

	return baseline.BinaryCodec{}
}

// renderSummary writes a summary report in the selected output format.
func renderSummary(rep *report.SummaryReport, format string, writer io.Writer) error {
	switch format {
	case formatTable:
		report.RenderTable(writer, rep)

		return nil
	case formatJSON:
		return rep.ToJSON(writer)
	case formatYAML:
		return rep.ToYAML(writer)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}
