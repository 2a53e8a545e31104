// Package baseline captures point-in-time snapshots of a tracker's address
// space and compares them. Baselines serialize through pluggable codecs: a
// readable JSON form and a columnar binary form for large region sets.
package baseline

import (
	"time"

	"github.com/Sumatoshi-tech/vmtrack/pkg/memtag"
	"github.com/Sumatoshi-tech/vmtrack/pkg/vmtracker"
)

// Version is the baseline document version this package writes and accepts.
const Version = 1

// Run is one committed run inside a reserved region.
type Run struct {
	Base  uint64   `json:"base"`
	Size  uint64   `json:"size"`
	Stack []string `json:"stack,omitempty"`
}

// Region is one reserved region with its committed runs, base ascending.
type Region struct {
	Base      uint64     `json:"base"`
	Size      uint64     `json:"size"`
	Tag       memtag.Tag `json:"tag"`
	Stack     []string   `json:"stack,omitempty"`
	Committed []Run      `json:"committed,omitempty"`
}

// End returns the first address past the region.
func (r Region) End() uint64 {
	return r.Base + r.Size
}

// Baseline is a point-in-time snapshot of a tracker.
type Baseline struct {
	Version int                  `json:"version"`
	Session string               `json:"session,omitempty"`
	TakenAt time.Time            `json:"taken_at"`
	Totals  []vmtracker.TagUsage `json:"totals"`
	Regions []Region             `json:"regions"`
}

// Capture snapshots tracker into a baseline. Totals and regions are read
// back to back, each internally consistent; quiesce the tracker if the two
// views must agree exactly.
func Capture(tracker *vmtracker.Tracker, session string) *Baseline {
	snapshot := tracker.SummarySnapshot()
	captured := tracker.CaptureRegions()

	regions := make([]Region, 0, len(captured))

	for _, snap := range captured {
		rgn := Region{
			Base:  snap.Region.Base,
			Size:  snap.Region.Size,
			Tag:   snap.Region.Tag,
			Stack: snap.Region.Stack.Frames(),
		}

		for _, run := range snap.Committed {
			rgn.Committed = append(rgn.Committed, Run{
				Base:  run.Base,
				Size:  run.Size,
				Stack: run.Stack.Frames(),
			})
		}

		regions = append(regions, rgn)
	}

	return &Baseline{
		Version: Version,
		Session: session,
		TakenAt: snapshot.TakenAt,
		Totals:  snapshot.Tags,
		Regions: regions,
	}
}

// TagDiff is one tag's movement between two baselines, new minus old.
type TagDiff struct {
	Tag           memtag.Tag `json:"tag" yaml:"tag"`
	Reserved      int64      `json:"reserved" yaml:"reserved"`
	Committed     int64      `json:"committed" yaml:"committed"`
	PeakCommitted int64      `json:"peak_committed" yaml:"peak_committed"`
}

// IsZero reports whether the row carries no movement.
func (d TagDiff) IsZero() bool {
	return d.Reserved == 0 && d.Committed == 0 && d.PeakCommitted == 0
}

// Diff is the movement between two baselines.
type Diff struct {
	OldSession string    `json:"old_session,omitempty" yaml:"old_session,omitempty"`
	NewSession string    `json:"new_session,omitempty" yaml:"new_session,omitempty"`
	OldTakenAt time.Time `json:"old_taken_at" yaml:"old_taken_at"`
	NewTakenAt time.Time `json:"new_taken_at" yaml:"new_taken_at"`
	// Tags holds one row per defined tag, in enumeration order.
	Tags           []TagDiff `json:"tags" yaml:"tags"`
	RegionsAdded   int       `json:"regions_added" yaml:"regions_added"`
	RegionsRemoved int       `json:"regions_removed" yaml:"regions_removed"`
}

// Empty reports whether the two baselines agree on totals and region bases.
func (d Diff) Empty() bool {
	if d.RegionsAdded != 0 || d.RegionsRemoved != 0 {
		return false
	}

	for _, row := range d.Tags {
		if !row.IsZero() {
			return false
		}
	}

	return true
}

// NonZero returns the tag rows that carry movement, preserving order.
func (d Diff) NonZero() []TagDiff {
	rows := make([]TagDiff, 0, len(d.Tags))

	for _, row := range d.Tags {
		if !row.IsZero() {
			rows = append(rows, row)
		}
	}

	return rows
}

// Compare diffs two baselines, new minus old. Regions are matched by base
// address.
func Compare(oldBase, newBase *Baseline) Diff {
	diff := Diff{
		OldSession: oldBase.Session,
		NewSession: newBase.Session,
		OldTakenAt: oldBase.TakenAt,
		NewTakenAt: newBase.TakenAt,
		Tags:       make([]TagDiff, 0, memtag.Count),
	}

	oldTags := usageByTag(oldBase.Totals)
	newTags := usageByTag(newBase.Totals)

	for _, tag := range memtag.All() {
		oldUsage := oldTags[tag]
		newUsage := newTags[tag]

		diff.Tags = append(diff.Tags, TagDiff{
			Tag:           tag,
			Reserved:      newUsage.Reserved - oldUsage.Reserved,
			Committed:     newUsage.Committed - oldUsage.Committed,
			PeakCommitted: newUsage.PeakCommitted - oldUsage.PeakCommitted,
		})
	}

	oldBases := make(map[uint64]struct{}, len(oldBase.Regions))
	for _, rgn := range oldBase.Regions {
		oldBases[rgn.Base] = struct{}{}
	}

	newBases := make(map[uint64]struct{}, len(newBase.Regions))
	for _, rgn := range newBase.Regions {
		newBases[rgn.Base] = struct{}{}

		if _, ok := oldBases[rgn.Base]; !ok {
			diff.RegionsAdded++
		}
	}

	for base := range oldBases {
		if _, ok := newBases[base]; !ok {
			diff.RegionsRemoved++
		}
	}

	return diff
}

func usageByTag(totals []vmtracker.TagUsage) map[memtag.Tag]vmtracker.TagUsage {
	byTag := make(map[memtag.Tag]vmtracker.TagUsage, len(totals))
	for _, usage := range totals {
		byTag[usage.Tag] = usage
	}

	return byTag
}
