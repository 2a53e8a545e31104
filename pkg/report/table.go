package report

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/Sumatoshi-tech/vmtrack/pkg/baseline"
)

// RenderTable writes the report as a terminal table with humanized sizes and
// a totals footer.
func RenderTable(w io.Writer, rep *SummaryReport) {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.SeparateRows = false

	if rep.Session != "" {
		tbl.SetTitle("session %s", rep.Session)
	}

	tbl.AppendHeader(table.Row{"Tag", "Reserved", "Committed", "Peak Committed"})

	for _, row := range rep.Tags {
		tbl.AppendRow(table.Row{
			row.Tag,
			byteSize(row.Reserved),
			byteSize(row.Committed),
			byteSize(row.PeakCommitted),
		})
	}

	tbl.AppendFooter(table.Row{
		"Total",
		byteSize(rep.TotalReserved),
		byteSize(rep.TotalCommitted),
		"",
	})

	tbl.Render()
}

// RenderDiffTable writes the movement between two baselines as a terminal
// table. Increases render red, decreases green, so regressions stand out.
func RenderDiffTable(w io.Writer, diff baseline.Diff) {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.SeparateRows = false

	if diff.OldSession != "" || diff.NewSession != "" {
		tbl.SetTitle("%s -> %s", diff.OldSession, diff.NewSession)
	}

	tbl.AppendHeader(table.Row{"Tag", "Reserved", "Committed", "Peak Committed"})

	for _, row := range diff.NonZero() {
		tbl.AppendRow(table.Row{
			row.Tag.String(),
			signedByteSize(row.Reserved),
			signedByteSize(row.Committed),
			signedByteSize(row.PeakCommitted),
		})
	}

	tbl.AppendFooter(table.Row{
		"Regions",
		fmt.Sprintf("+%d", diff.RegionsAdded),
		fmt.Sprintf("-%d", diff.RegionsRemoved),
		"",
	})

	tbl.Render()
}

func byteSize(v int64) string {
	if v < 0 {
		return "-" + humanize.IBytes(uint64(-v))
	}

	return humanize.IBytes(uint64(v))
}

func signedByteSize(v int64) string {
	switch {
	case v > 0:
		return color.New(color.FgRed).Sprintf("+%s", humanize.IBytes(uint64(v)))
	case v < 0:
		return color.New(color.FgGreen).Sprintf("-%s", humanize.IBytes(uint64(-v)))
	default:
		return humanize.IBytes(0)
	}
}
