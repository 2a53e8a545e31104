// Package vmtracker is the tracking session facade: it owns the lock that
// serializes every engine operation, the region tree, and the running
// per-tag summary that mutations update incrementally.
package vmtracker

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/Sumatoshi-tech/vmtrack/pkg/callstack"
	"github.com/Sumatoshi-tech/vmtrack/pkg/memtag"
	"github.com/Sumatoshi-tech/vmtrack/pkg/regions"
	"github.com/Sumatoshi-tech/vmtrack/pkg/vmatree"
)

// Tracker serializes access to one region tree and keeps its summary
// current. All methods are safe for concurrent use; summary reads do not
// block mutations.
type Tracker struct {
	mu       sync.Mutex
	tree     *regions.Tree
	summary  Summary
	logger   *slog.Logger
	detailed bool
}

// New creates an empty tracking session. detailed selects whether call
// stacks are retained. A nil logger means slog.Default().
func New(detailed bool, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}

	return &Tracker{
		tree:     regions.New(detailed),
		logger:   logger,
		detailed: detailed,
	}
}

// Detailed reports whether the session retains call stacks.
func (t *Tracker) Detailed() bool {
	return t.detailed
}

// AddReservedRegion records a reservation of [base, base+size) under tag,
// attributed to stack.
func (t *Tracker) AddReservedRegion(base, size uint64, stack callstack.Stack, tag memtag.Tag) vmatree.SummaryDelta {
	t.mu.Lock()
	defer t.mu.Unlock()

	delta := t.tree.ReserveMapping(base, size, t.tree.MakeRegionData(stack, tag))
	t.applySummaryDelta(delta)

	return delta
}

// AddCommittedRegion records a commit of [addr, addr+size) inside an
// existing reservation, attributed to stack. Panics without an enclosing
// reservation.
func (t *Tracker) AddCommittedRegion(addr, size uint64, stack callstack.Stack) vmatree.SummaryDelta {
	t.mu.Lock()
	defer t.mu.Unlock()

	delta := t.tree.CommitRegion(addr, size, stack)
	t.applySummaryDelta(delta)

	return delta
}

// RemoveUncommittedRegion retracts the committed bytes of [addr, addr+size)
// back to reserved. Panics without an enclosing reservation.
func (t *Tracker) RemoveUncommittedRegion(addr, size uint64) vmatree.SummaryDelta {
	t.mu.Lock()
	defer t.mu.Unlock()

	delta := t.tree.UncommitRegion(addr, size)
	t.applySummaryDelta(delta)

	return delta
}

// RemoveReleasedRegion records that [addr, addr+size) was returned to the
// operating system.
func (t *Tracker) RemoveReleasedRegion(addr, size uint64) vmatree.SummaryDelta {
	t.mu.Lock()
	defer t.mu.Unlock()

	delta := t.tree.ReleaseMapping(addr, size)
	t.applySummaryDelta(delta)

	return delta
}

// SetReservedRegionTag moves the reserved and committed ranges inside
// [addr, addr+size) to tag, preserving kinds and stacks.
func (t *Tracker) SetReservedRegionTag(addr, size uint64, tag memtag.Tag) vmatree.SummaryDelta {
	t.mu.Lock()
	defer t.mu.Unlock()

	delta := t.tree.SetTag(addr, size, tag)
	t.applySummaryDelta(delta)

	return delta
}

// SplitReservedRegion re-registers [addr, addr+split) under tag and
// [addr+split, addr+size) under splitTag, both with empty stacks. split
// must lie strictly inside the region. Both repaints happen under one lock
// acquisition.
func (t *Tracker) SplitReservedRegion(addr, size, split uint64, tag, splitTag memtag.Tag) {
	t.mu.Lock()
	defer t.mu.Unlock()

	first := t.tree.ReserveMapping(addr, split, t.tree.MakeRegionData(callstack.EmptyStack(), tag))
	t.applySummaryDelta(first)

	second := t.tree.ReserveMapping(addr+split, size-split, t.tree.MakeRegionData(callstack.EmptyStack(), splitTag))
	t.applySummaryDelta(second)
}

// WalkReservedRegions visits every reserved region in address order under
// the lock. The callback must not call back into the tracker.
func (t *Tracker) WalkReservedRegions(fn func(regions.ReservedRegion) bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.tree.VisitReservedRegions(fn)
}

// VisitCommittedRegions visits the committed runs of rgn in address order
// under the lock. The callback must not call back into the tracker.
func (t *Tracker) VisitCommittedRegions(rgn regions.ReservedRegion, fn func(regions.CommittedRegion) bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.tree.VisitCommittedRegions(rgn, fn)
}

// RegionSnapshot pairs a reserved region with its committed runs.
type RegionSnapshot struct {
	Region    regions.ReservedRegion
	Committed []regions.CommittedRegion
}

// CaptureRegions returns every reserved region with its committed runs,
// collected under one lock acquisition so the view is consistent.
func (t *Tracker) CaptureRegions() []RegionSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	captured := []RegionSnapshot{}

	t.tree.VisitReservedRegions(func(rgn regions.ReservedRegion) bool {
		captured = append(captured, RegionSnapshot{Region: rgn})

		return true
	})

	for i := range captured {
		t.tree.VisitCommittedRegions(captured[i].Region, func(run regions.CommittedRegion) bool {
			captured[i].Committed = append(captured[i].Committed, run)

			return true
		})
	}

	return captured
}

// FindReservedRegion returns the reserved region containing addr, or the
// invalid zero value.
func (t *Tracker) FindReservedRegion(addr uint64) regions.ReservedRegion {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.tree.FindReservedRegion(addr)
}

// PrintContainingRegion writes the "what contains this pointer" diagnostic
// for p, with the reserving stack in detailed mode. It reports whether a
// region contains p.
func (t *Tracker) PrintContainingRegion(p uint64, w io.Writer) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	rgn := t.tree.FindReservedRegion(p)
	t.logger.Debug("containing region", "addr", p, "base", rgn.Base, "size", rgn.Size)

	if !rgn.Contains(p) {
		return false
	}

	fmt.Fprintf(w, "0x%x in mmap'd memory region [0x%x - 0x%x], tag %s\n", p, rgn.Base, rgn.End(), rgn.Tag)

	if t.detailed && !rgn.Stack.IsEmpty() {
		for _, frame := range rgn.Stack.Frames() {
			fmt.Fprintf(w, "\t%s\n", frame)
		}
	}

	return true
}

// BreakpointCount returns the number of timeline breakpoints.
func (t *Tracker) BreakpointCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.tree.Count()
}

// DumpBreakpoints writes the raw breakpoint timeline in address order.
func (t *Tracker) DumpBreakpoints(w io.Writer) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.tree.PrintOn(w)
}

// Summary returns the live per-tag counters. Reads are atomic and do not
// take the tracker lock.
func (t *Tracker) Summary() *Summary {
	return &t.summary
}

// SummarySnapshot copies the current totals.
func (t *Tracker) SummarySnapshot() SummarySnapshot {
	return t.summary.Snapshot()
}

// applySummaryDelta folds one mutation's delta into the running summary.
// Deltas that would drive a tag's counters negative, or commit more than is
// reserved, indicate an accounting mismatch: they are logged at debug level
// and skipped rather than applied. Callers hold the lock.
func (t *Tracker) applySummaryDelta(delta vmatree.SummaryDelta) {
	delta.ForEach(func(tag memtag.Tag, d vmatree.TagDelta) {
		vm := t.summary.ByTag(tag)

		reserved := vm.Reserved()
		committed := vm.Committed()

		mismatch := func(at string) {
			t.logger.Debug("summary mismatch",
				"at", at,
				"tag", tag,
				"diff_reserved", d.Reserved,
				"diff_committed", d.Committed,
				"reserved", reserved,
				"committed", committed)
		}

		// Guards hold the per-tag invariant 0 <= committed <= reserved
		// against the state the whole delta would leave behind.
		if d.Reserved != 0 {
			if reserved+d.Reserved >= 0 {
				vm.reserve(d.Reserved)
				reserved += d.Reserved
			} else {
				mismatch("release")
			}
		}

		if d.Committed != 0 {
			switch {
			case committed+d.Committed >= 0 && committed+d.Committed <= reserved:
				vm.commit(d.Committed)
			case d.Committed > 0:
				mismatch("commit")
			default:
				mismatch("uncommit")
			}
		}
	})
}
