package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/vmtrack/pkg/report"
	"github.com/Sumatoshi-tech/vmtrack/pkg/tracelog"
	"github.com/Sumatoshi-tech/vmtrack/pkg/vmtracker"
)

// PlotCommand holds the flags for the plot command.
type PlotCommand struct {
	output string
	sample int
	title  string
}

// NewPlotCommand creates the plot command.
func NewPlotCommand() *cobra.Command {
	pc := &PlotCommand{}

	cmd := &cobra.Command{
		Use:   "plot <trace>",
		Short: "Replay a trace and chart committed bytes over time",
		Long: `Replay a trace document and render per-tag committed bytes over time as a
self-contained HTML chart. The x axis is the event sequence number, the
stacked areas are committed bytes per tag and the dashed line is total
reserved bytes.

Examples:
  vmtrack plot app.json.lz4 -o usage.html
  vmtrack plot app.json --sample 100 -o usage.html`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return pc.run(cmd, args[0])
		},
	}

	cmd.Flags().StringVarP(&pc.output, "output", "o", "usage.html", "Output HTML file")
	cmd.Flags().IntVar(&pc.sample, "sample", 0, "Sample the timeline every N events (overrides config)")
	cmd.Flags().StringVar(&pc.title, "title", "", "Chart title (default: the trace session name)")

	return cmd
}

func (pc *PlotCommand) run(cmd *cobra.Command, tracePath string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := setupLogger(cmd, cfg)
	if err != nil {
		return err
	}

	maxBytes, err := cfg.Trace.MaxSizeBytes()
	if err != nil {
		return err
	}

	trace, err := tracelog.ReadCapped(tracePath, maxBytes)
	if err != nil {
		return err
	}

	sampleEvery := cfg.Trace.SampleEvery
	if pc.sample > 0 {
		sampleEvery = pc.sample
	}

	collector := report.NewCollector(sampleEvery)
	tracker := vmtracker.New(false, logger)

	quiet := isQuiet(cmd)

	stats, err := tracelog.Replay(cmd.Context(), tracker, trace, tracelog.Hooks{AfterEvent: collector.AfterEvent})
	if err != nil {
		return err
	}

	title := pc.title
	if title == "" {
		title = trace.Session
	}

	if title == "" {
		title = filepath.Base(tracePath)
	}

	out, err := os.Create(pc.output)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}

	renderErr := report.RenderPlot(out, collector.Timeline(title))

	closeErr := out.Close()

	if renderErr != nil {
		return renderErr
	}

	if closeErr != nil {
		return fmt.Errorf("close output file: %w", closeErr)
	}

	progressf(quiet, cmd.ErrOrStderr(), "plotted %d events to %s", stats.Events, pc.output)

	return nil
}
