// Package report renders tracker summaries, baseline diffs and replay
// timelines as JSON, YAML, terminal tables and interactive charts.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Sumatoshi-tech/vmtrack/pkg/baseline"
	"github.com/Sumatoshi-tech/vmtrack/pkg/tracelog"
	"github.com/Sumatoshi-tech/vmtrack/pkg/vmtracker"
)

// TagRow is one tag's accounting in rendered form.
type TagRow struct {
	Tag           string `json:"tag" yaml:"tag"`
	Reserved      int64  `json:"reserved" yaml:"reserved"`
	Committed     int64  `json:"committed" yaml:"committed"`
	PeakCommitted int64  `json:"peak_committed" yaml:"peak_committed"`
}

// ReplaySummary condenses one replay run for display.
type ReplaySummary struct {
	Events int            `json:"events" yaml:"events"`
	ByOp   map[string]int `json:"by_op" yaml:"by_op"`
}

// SummaryReport is a renderable view of one tracker summary. Tags carry only
// the categories with usage, in enumeration order.
type SummaryReport struct {
	Session        string         `json:"session,omitempty" yaml:"session,omitempty"`
	TakenAt        time.Time      `json:"taken_at" yaml:"taken_at"`
	Tags           []TagRow       `json:"tags" yaml:"tags"`
	TotalReserved  int64          `json:"total_reserved" yaml:"total_reserved"`
	TotalCommitted int64          `json:"total_committed" yaml:"total_committed"`
	Replay         *ReplaySummary `json:"replay,omitempty" yaml:"replay,omitempty"`
}

// FromSnapshot builds a report from a live summary snapshot.
func FromSnapshot(session string, snap vmtracker.SummarySnapshot) *SummaryReport {
	rep := &SummaryReport{Session: session, TakenAt: snap.TakenAt, Tags: []TagRow{}}

	for _, usage := range snap.NonZero() {
		rep.Tags = append(rep.Tags, TagRow{
			Tag:           usage.Tag.String(),
			Reserved:      usage.Reserved,
			Committed:     usage.Committed,
			PeakCommitted: usage.PeakCommitted,
		})
		rep.TotalReserved += usage.Reserved
		rep.TotalCommitted += usage.Committed
	}

	return rep
}

// FromBaseline builds a report from a saved baseline.
func FromBaseline(base *baseline.Baseline) *SummaryReport {
	rep := &SummaryReport{Session: base.Session, TakenAt: base.TakenAt, Tags: []TagRow{}}

	for _, usage := range base.Totals {
		if usage.Reserved == 0 && usage.Committed == 0 && usage.PeakCommitted == 0 {
			continue
		}

		rep.Tags = append(rep.Tags, TagRow{
			Tag:           usage.Tag.String(),
			Reserved:      usage.Reserved,
			Committed:     usage.Committed,
			PeakCommitted: usage.PeakCommitted,
		})
		rep.TotalReserved += usage.Reserved
		rep.TotalCommitted += usage.Committed
	}

	return rep
}

// WithReplay attaches replay statistics to the report.
func (r *SummaryReport) WithReplay(stats tracelog.ReplayStats) *SummaryReport {
	byOp := make(map[string]int, len(stats.ByOp))
	for op, count := range stats.ByOp {
		byOp[string(op)] = count
	}

	r.Replay = &ReplaySummary{Events: stats.Events, ByOp: byOp}

	return r
}

// ToJSON writes the report as indented JSON.
func (r *SummaryReport) ToJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("report: encode json: %w", err)
	}

	return nil
}

// ToYAML writes the report as YAML.
func (r *SummaryReport) ToYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)

	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("report: encode yaml: %w", err)
	}

	if err := enc.Close(); err != nil {
		return fmt.Errorf("report: finish yaml: %w", err)
	}

	return nil
}
