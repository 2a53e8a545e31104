package vmatree

import (
	"github.com/Sumatoshi-tech/vmtrack/pkg/memtag"
)

// TagDelta is the signed change in reserved and committed bytes for one
// memory tag.
type TagDelta struct {
	Reserved  int64
	Committed int64
}

// SummaryDelta is the per-tag accounting change produced by a mutation.
// The zero value means "nothing changed".
type SummaryDelta struct {
	tags [memtag.Count]TagDelta
}

// Tag returns the delta recorded for tag.
func (d *SummaryDelta) Tag(tag memtag.Tag) TagDelta {
	return d.tags[tag]
}

// Merge adds other into d.
func (d *SummaryDelta) Merge(other *SummaryDelta) {
	for idx := range d.tags {
		d.tags[idx].Reserved += other.tags[idx].Reserved
		d.tags[idx].Committed += other.tags[idx].Committed
	}
}

// IsZero reports whether every tag's delta is zero.
func (d *SummaryDelta) IsZero() bool {
	return d.tags == [memtag.Count]TagDelta{}
}

// ForEach visits every non-zero tag delta in tag enumeration order.
func (d *SummaryDelta) ForEach(fn func(tag memtag.Tag, delta TagDelta)) {
	for idx := range d.tags {
		if d.tags[idx] != (TagDelta{}) {
			fn(memtag.Tag(idx), d.tags[idx]) //nolint:gosec // idx < memtag.Count fits uint8
		}
	}
}

// account books bytes under tag following the kind convention: Reserved
// moves reserved bytes, Committed moves both reserved and committed bytes,
// Released moves nothing. Negative bytes retract.
func (d *SummaryDelta) account(kind Kind, tag memtag.Tag, bytes int64) {
	switch {
	case kind.IsCommitted():
		d.tags[tag].Reserved += bytes
		d.tags[tag].Committed += bytes
	case kind.IsReserved():
		d.tags[tag].Reserved += bytes
	}
}
