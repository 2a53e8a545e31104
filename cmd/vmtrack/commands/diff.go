package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Sumatoshi-tech/vmtrack/pkg/baseline"
	"github.com/Sumatoshi-tech/vmtrack/pkg/report"
)

// diffArgCount is the number of arguments expected by the diff command.
const diffArgCount = 2

// DiffCommand compares two saved baselines.
type DiffCommand struct {
	format  string
	detail  bool
	colorOn bool
	noColor bool
}

// NewDiffCommand creates the diff command.
func NewDiffCommand() *cobra.Command {
	dc := &DiffCommand{}

	cmd := &cobra.Command{
		Use:   "diff <old> <new>",
		Short: "Compare two baselines and report per-tag movement",
		Long: `Compare two baseline files and report per-tag reserved and committed
movement, new minus old. Codecs are picked from the file extensions, so a
JSON baseline can be compared against a binary one.

Examples:
  vmtrack diff release-1.1.vmb release-1.2.vmb
  vmtrack diff old.json new.json --format json
  vmtrack diff old.json new.json --detail     # per-region diff below the summary`,
		Args: cobra.ExactArgs(diffArgCount),
		RunE: func(cmd *cobra.Command, args []string) error {
			return dc.run(cmd, args[0], args[1])
		},
	}

	cmd.Flags().StringVar(&dc.format, "format", formatTable, "Output format: table, json, yaml")
	cmd.Flags().BoolVar(&dc.detail, "detail", false, "Show a per-region diff below the summary (table format only)")
	cmd.Flags().BoolVar(&dc.colorOn, "color", false, "force colored output")
	cmd.Flags().BoolVar(&dc.noColor, "no-color", false, "disable colored output")

	return cmd
}

func (dc *DiffCommand) run(cmd *cobra.Command, oldPath, newPath string) error {
	if dc.noColor {
		color.NoColor = true //nolint:reassign // intentional override of library global
	} else if dc.colorOn {
		color.NoColor = false //nolint:reassign // intentional override of library global
	}

	oldBase, err := baseline.ReadFile(oldPath, baseline.CodecForPath(oldPath))
	if err != nil {
		return fmt.Errorf("read old baseline: %w", err)
	}

	newBase, err := baseline.ReadFile(newPath, baseline.CodecForPath(newPath))
	if err != nil {
		return fmt.Errorf("read new baseline: %w", err)
	}

	diff := baseline.Compare(oldBase, newBase)
	out := cmd.OutOrStdout()

	if err := dc.render(out, diff); err != nil {
		return err
	}

	if dc.detail && dc.format == formatTable {
		renderRegionDiff(out, oldBase, newBase)
	}

	return nil
}

func (dc *DiffCommand) render(out io.Writer, diff baseline.Diff) error {
	switch dc.format {
	case formatTable:
		report.RenderDiffTable(out, diff)

		return nil
	case formatJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")

		if err := enc.Encode(diff); err != nil {
			return fmt.Errorf("encode diff: %w", err)
		}

		return nil
	case formatYAML:
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)

		if err := enc.Encode(diff); err != nil {
			return fmt.Errorf("encode diff: %w", err)
		}

		if err := enc.Close(); err != nil {
			return fmt.Errorf("finish diff: %w", err)
		}

		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, dc.format)
	}
}

// renderRegionDiff prints a line diff between the two region lists. Each
// region renders as one line, so an insert or delete is a whole region
// appearing or vanishing and a changed region shows as a delete plus an
// insert at the same base.
func renderRegionDiff(out io.Writer, oldBase, newBase *baseline.Baseline) {
	dmp := diffmatchpatch.New()
	src, dst, lines := dmp.DiffLinesToRunes(regionText(oldBase), regionText(newBase))
	diffs := dmp.DiffMainRunes(src, dst, false)
	diffs = dmp.DiffCleanupMerge(diffs)

	fmt.Fprintf(out, "\nregions (- old, + new):\n")

	for _, edit := range diffs {
		for _, idx := range edit.Text {
			line := strings.TrimSuffix(lines[idx], "\n")

			switch edit.Type {
			case diffmatchpatch.DiffEqual:
				fmt.Fprintf(out, "  %s\n", line)
			case diffmatchpatch.DiffDelete:
				color.New(color.FgRed).Fprintf(out, "- %s\n", line)
			case diffmatchpatch.DiffInsert:
				color.New(color.FgGreen).Fprintf(out, "+ %s\n", line)
			}
		}
	}
}

func regionText(base *baseline.Baseline) string {
	var buf strings.Builder

	for _, rgn := range base.Regions {
		var committed uint64
		for _, run := range rgn.Committed {
			committed += run.Size
		}

		fmt.Fprintf(&buf, "[0x%x - 0x%x] %s reserved=%d committed=%d", rgn.Base, rgn.End(), rgn.Tag, rgn.Size, committed)

		if len(rgn.Stack) > 0 {
			fmt.Fprintf(&buf, " via %s", rgn.Stack[0])
		}

		buf.WriteByte('\n')
	}

	return buf.String()
}
