package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/Sumatoshi-tech/vmtrack/pkg/memtag"
	"github.com/Sumatoshi-tech/vmtrack/pkg/tracelog"
	"github.com/Sumatoshi-tech/vmtrack/pkg/vmatree"
)

// TagSeries is one tag's sampled committed bytes across a replay.
type TagSeries struct {
	Tag    string
	Values []int64
}

// Timeline is the sampled result of one replay, ready for plotting. Labels,
// Reserved and every Committed series share one length.
type Timeline struct {
	Title     string
	Labels    []string
	Committed []TagSeries
	Reserved  []int64
}

// Collector accumulates per-tag usage during a replay and samples it every
// sampleEvery events. Feed its AfterEvent to tracelog.Hooks.
type Collector struct {
	sampleEvery int
	count       int
	sampled     int
	lastSeq     uint64
	running     [memtag.Count]vmatree.TagDelta
	labels      []string
	committed   [memtag.Count][]int64
	reserved    []int64
}

// NewCollector returns a collector sampling every sampleEvery events.
// Values below one sample every event.
func NewCollector(sampleEvery int) *Collector {
	if sampleEvery < 1 {
		sampleEvery = 1
	}

	return &Collector{sampleEvery: sampleEvery}
}

// AfterEvent folds one replayed event into the running totals.
func (c *Collector) AfterEvent(event tracelog.Event, delta vmatree.SummaryDelta) {
	delta.ForEach(func(tag memtag.Tag, d vmatree.TagDelta) {
		c.running[tag].Reserved += d.Reserved
		c.running[tag].Committed += d.Committed
	})

	c.count++
	c.lastSeq = event.Seq

	if c.count%c.sampleEvery == 0 {
		c.sample()
	}
}

func (c *Collector) sample() {
	c.labels = append(c.labels, strconv.FormatUint(c.lastSeq, 10))

	var reserved int64

	for tag := range memtag.Count {
		c.committed[tag] = append(c.committed[tag], c.running[tag].Committed)
		reserved += c.running[tag].Reserved
	}

	c.reserved = append(c.reserved, reserved)
	c.sampled = c.count
}

// Timeline returns the sampled series, flushing any events recorded since
// the last sample. Tags that never carried committed bytes are dropped.
func (c *Collector) Timeline(title string) Timeline {
	if c.count > c.sampled {
		c.sample()
	}

	tl := Timeline{Title: title, Labels: c.labels, Reserved: c.reserved}

	for _, tag := range memtag.All() {
		values := c.committed[tag]
		if !anyNonZero(values) {
			continue
		}

		tl.Committed = append(tl.Committed, TagSeries{Tag: tag.String(), Values: values})
	}

	return tl
}

func anyNonZero(values []int64) bool {
	for _, v := range values {
		if v != 0 {
			return true
		}
	}

	return false
}

// RenderPlot writes the timeline as a self-contained HTML page with a
// stacked committed-bytes area per tag and a dashed total-reserved line.
func RenderPlot(w io.Writer, tl Timeline) error {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: tl.Title,
			Width:     "1200px",
			Height:    "600px",
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    tl.Title,
			Subtitle: "committed bytes by tag, stacked",
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithDataZoomOpts(
			opts.DataZoom{Type: "slider", Start: 0, End: 100},
			opts.DataZoom{Type: "inside"},
		),
		charts.WithXAxisOpts(opts.XAxis{Name: "event"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "bytes"}),
	)

	line.SetXAxis(tl.Labels)

	for _, series := range tl.Committed {
		line.AddSeries(series.Tag, lineData(series.Values),
			charts.WithLineChartOpts(opts.LineChart{Stack: "committed"}),
			charts.WithAreaStyleOpts(opts.AreaStyle{Opacity: opts.Float(0.4)}),
		)
	}

	line.AddSeries("reserved (total)", lineData(tl.Reserved),
		charts.WithLineStyleOpts(opts.LineStyle{Type: "dashed", Width: 2}),
	)

	if err := line.Render(w); err != nil {
		return fmt.Errorf("report: render plot: %w", err)
	}

	return nil
}

func lineData(values []int64) []opts.LineData {
	data := make([]opts.LineData, len(values))
	for i, v := range values {
		data[i] = opts.LineData{Value: v}
	}

	return data
}
