package commands

import (
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/vmtrack/pkg/baseline"
	"github.com/Sumatoshi-tech/vmtrack/pkg/report"
)

// NewReportCommand creates the report command.
func NewReportCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "report <baseline>",
		Short: "Render a saved baseline",
		Long: `Render the per-tag totals of a saved baseline file.

The codec is picked from the file extension: .vmb is the columnar binary
format, anything else is JSON.

Examples:
  vmtrack report baselines/release-1.2.vmb
  vmtrack report old.json --format yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd, args[0], format)
		},
	}

	cmd.Flags().StringVar(&format, "format", formatTable, "Output format: table, json, yaml")

	return cmd
}

func runReport(cmd *cobra.Command, path, format string) error {
	base, err := baseline.ReadFile(path, baseline.CodecForPath(path))
	if err != nil {
		return err
	}

	return renderSummary(report.FromBaseline(base), format, cmd.OutOrStdout())
}
