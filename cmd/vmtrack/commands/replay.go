package commands

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/vmtrack/internal/config"
	iobs "github.com/Sumatoshi-tech/vmtrack/internal/observability"
	"github.com/Sumatoshi-tech/vmtrack/pkg/baseline"
	"github.com/Sumatoshi-tech/vmtrack/pkg/observability"
	"github.com/Sumatoshi-tech/vmtrack/pkg/report"
	"github.com/Sumatoshi-tech/vmtrack/pkg/tracelog"
	"github.com/Sumatoshi-tech/vmtrack/pkg/vmtracker"
)

// ReplayCommand holds flag state for the replay command.
type ReplayCommand struct {
	format      string
	baselineOut string
	detail      bool
	listen      string
	detailed    bool
}

// NewReplayCommand creates the replay command.
func NewReplayCommand() *cobra.Command {
	rc := &ReplayCommand{}

	cmd := &cobra.Command{
		Use:   "replay <trace>",
		Short: "Replay a trace document and report per-tag memory usage",
		Long: `Replay a trace document into a fresh tracker and report reserved,
committed and peak committed bytes per memory tag.

Examples:
  vmtrack replay app.json.lz4
  vmtrack replay app.json --format json
  vmtrack replay app.json --baseline release-1.2 --detail
  vmtrack replay app.json --listen 127.0.0.1:9184`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rc.run(cmd, args[0])
		},
	}

	cmd.Flags().StringVar(&rc.format, "format", formatTable, "Output format: table, json, yaml")
	cmd.Flags().StringVar(&rc.baselineOut, "baseline", "",
		"Save a baseline after replay (a bare name goes to the configured baseline directory)")
	cmd.Flags().BoolVar(&rc.detail, "detail", false, "Dump reserved regions and committed runs after the summary")
	cmd.Flags().StringVar(&rc.listen, "listen", "", "Serve /healthz, /readyz and /metrics on this address during replay")
	cmd.Flags().BoolVar(&rc.detailed, "detailed", false, "Retain full call stacks per region (overrides config)")

	return cmd
}

func (rc *ReplayCommand) run(cmd *cobra.Command, tracePath string) error {
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

	quiet := isQuiet(cmd)
	progressWriter := cmd.ErrOrStderr()

	progressf(quiet, progressWriter, "replay started trace=%s", tracePath)

	trace, err := tracelog.ReadCapped(tracePath, maxBytes)
	if err != nil {
		return err
	}

	detailed := cfg.Tracker.Detailed
	if cmd.Flags().Changed("detailed") {
		detailed = rc.detailed
	}

	tracker := vmtracker.New(detailed, logger)

	metrics, closeDiag, err := rc.startDiagnostics(cfg.Telemetry.Listen, tracker, quiet, progressWriter)
	if err != nil {
		return err
	}
	defer closeDiag()

	startedAt := time.Now()

	stats, replayErr := tracelog.Replay(cmd.Context(), tracker, trace, tracelog.Hooks{})

	status := "ok"
	if replayErr != nil {
		status = "error"
	}

	metrics.RecordOp(cmd.Context(), "replay", status, time.Since(startedAt))

	if replayErr != nil {
		return replayErr
	}

	progressf(quiet, progressWriter, "replayed %d events in %s", stats.Events, time.Since(startedAt).Round(time.Millisecond))

	rep := report.FromSnapshot(trace.Session, tracker.SummarySnapshot()).WithReplay(stats)

	err = renderSummary(rep, rc.format, cmd.OutOrStdout())
	if err != nil {
		return err
	}

	if rc.detail {
		dumpRegions(cmd.OutOrStdout(), tracker)
	}

	if rc.baselineOut != "" {
		savedPath, saveErr := rc.saveBaseline(cfg, tracker, trace.Session)
		if saveErr != nil {
			return saveErr
		}

		progressf(quiet, progressWriter, "baseline saved to %s", savedPath)
	}

	return nil
}

// startDiagnostics brings up the scrape endpoint when an address is set by
// flag or configuration. The returned metrics recorder is nil-safe and the
// close function is always callable.
func (rc *ReplayCommand) startDiagnostics(
	cfgListen string,
	tracker *vmtracker.Tracker,
	quiet bool,
	progressWriter io.Writer,
) (*observability.TrackerMetrics, func(), error) {
	addr := rc.listen
	if addr == "" {
		addr = cfgListen
	}

	if addr == "" {
		return nil, func() {}, nil
	}

	diag, err := iobs.NewDiagnosticsServer(addr)
	if err != nil {
		return nil, func() {}, err
	}

	closeDiag := func() { _ = diag.Close() }

	_, err = observability.NewUsageMetrics(diag.Meter(), func() (int64, int64, int64) {
		snap := tracker.SummarySnapshot()

		return snap.TotalReserved(), snap.TotalCommitted(), int64(tracker.BreakpointCount())
	})
	if err != nil {
		closeDiag()

		return nil, func() {}, err
	}

	metrics, err := observability.NewTrackerMetrics(diag.Meter())
	if err != nil {
		closeDiag()

		return nil, func() {}, err
	}

	progressf(quiet, progressWriter, "diagnostics listening on %s", diag.Addr())

	return metrics, closeDiag, nil
}

func (rc *ReplayCommand) saveBaseline(
	cfg *config.Config,
	tracker *vmtracker.Tracker,
	session string,
) (string, error) {
	base := baseline.Capture(tracker, session)

	if filepath.Ext(rc.baselineOut) != "" {
		err := baseline.WriteFile(rc.baselineOut, baseline.CodecForPath(rc.baselineOut), base)
		if err != nil {
			return "", err
		}

		return rc.baselineOut, nil
	}

	return baseline.Save(cfg.Baseline.Directory, rc.baselineOut, configCodec(cfg), base)
}

// dumpRegions writes every reserved region with its committed runs, stacks
// indented beneath when retained.
func dumpRegions(writer io.Writer, tracker *vmtracker.Tracker) {
	snapshots := tracker.CaptureRegions()

	fmt.Fprintf(writer, "\nreserved regions: %d\n", len(snapshots))

	for _, snap := range snapshots {
		rgn := snap.Region
		fmt.Fprintf(writer, "[0x%x - 0x%x] %s %s\n", rgn.Base, rgn.End(), humanize.IBytes(rgn.Size), rgn.Tag)

		for _, frame := range rgn.Stack.Frames() {
			fmt.Fprintf(writer, "\tfrom %s\n", frame)
		}

		for _, run := range snap.Committed {
			fmt.Fprintf(writer, "\tcommitted [0x%x - 0x%x] %s\n", run.Base, run.End(), humanize.IBytes(run.Size))
		}
	}
}
