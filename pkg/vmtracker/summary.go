package vmtracker

import (
	"sync/atomic"
	"time"

	"github.com/Sumatoshi-tech/vmtrack/pkg/memtag"
)

// VirtualMemory holds one tag's running byte counters. Counters are atomic
// so summary readers never take the tracker lock.
type VirtualMemory struct {
	reserved      atomic.Int64
	committed     atomic.Int64
	peakCommitted atomic.Int64
}

// Reserved returns the tracked reserved bytes.
func (vm *VirtualMemory) Reserved() int64 {
	return vm.reserved.Load()
}

// Committed returns the tracked committed bytes.
func (vm *VirtualMemory) Committed() int64 {
	return vm.committed.Load()
}

// PeakCommitted returns the committed high-water mark.
func (vm *VirtualMemory) PeakCommitted() int64 {
	return vm.peakCommitted.Load()
}

func (vm *VirtualMemory) reserve(delta int64) {
	vm.reserved.Add(delta)
}

func (vm *VirtualMemory) commit(delta int64) {
	committed := vm.committed.Add(delta)

	if delta > 0 {
		vm.updatePeak(committed)
	}
}

// updatePeak raises the high-water mark to size unless a concurrent update
// already moved it past.
func (vm *VirtualMemory) updatePeak(size int64) {
	for {
		peak := vm.peakCommitted.Load()
		if peak >= size {
			return
		}

		if vm.peakCommitted.CompareAndSwap(peak, size) {
			return
		}
	}
}

// Summary is the per-tag accounting of one tracking session.
type Summary struct {
	byTag [memtag.Count]VirtualMemory
}

// ByTag returns the counters of one tag.
func (s *Summary) ByTag(tag memtag.Tag) *VirtualMemory {
	return &s.byTag[tag]
}

// Snapshot copies the current totals into a plain value, in tag
// enumeration order.
func (s *Summary) Snapshot() SummarySnapshot {
	snapshot := SummarySnapshot{
		TakenAt: time.Now().UTC(),
		Tags:    make([]TagUsage, 0, memtag.Count),
	}

	for _, tag := range memtag.All() {
		vm := s.ByTag(tag)
		snapshot.Tags = append(snapshot.Tags, TagUsage{
			Tag:           tag,
			Reserved:      vm.Reserved(),
			Committed:     vm.Committed(),
			PeakCommitted: vm.PeakCommitted(),
		})
	}

	return snapshot
}

// TagUsage is one tag's accounting at a point in time.
type TagUsage struct {
	Tag           memtag.Tag `json:"tag"            yaml:"tag"`
	Reserved      int64      `json:"reserved"       yaml:"reserved"`
	Committed     int64      `json:"committed"      yaml:"committed"`
	PeakCommitted int64      `json:"peak_committed" yaml:"peak_committed"`
}

// SummarySnapshot is a copy of the running totals, safe to use without the
// tracker lock.
type SummarySnapshot struct {
	TakenAt time.Time  `json:"taken_at" yaml:"taken_at"`
	Tags    []TagUsage `json:"tags"     yaml:"tags"`
}

// ByTag returns the captured usage of one tag.
func (s SummarySnapshot) ByTag(tag memtag.Tag) TagUsage {
	for _, usage := range s.Tags {
		if usage.Tag == tag {
			return usage
		}
	}

	return TagUsage{Tag: tag}
}

// TotalReserved sums reserved bytes across tags.
func (s SummarySnapshot) TotalReserved() int64 {
	var total int64
	for _, usage := range s.Tags {
		total += usage.Reserved
	}

	return total
}

// TotalCommitted sums committed bytes across tags.
func (s SummarySnapshot) TotalCommitted() int64 {
	var total int64
	for _, usage := range s.Tags {
		total += usage.Committed
	}

	return total
}

// NonZero returns the tags with any recorded usage, preserving order.
func (s SummarySnapshot) NonZero() []TagUsage {
	used := []TagUsage{}

	for _, usage := range s.Tags {
		if usage.Reserved != 0 || usage.Committed != 0 || usage.PeakCommitted != 0 {
			used = append(used, usage)
		}
	}

	return used
}
