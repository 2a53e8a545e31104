// Package regions reconstructs reserved and committed memory regions from
// the breakpoint timeline. Regions are transient values rebuilt on every
// query and never cached across mutations: the timeline is the single
// source of truth, and the folds here materialize maximal runs of
// breakpoints sharing attribution.
package regions

import (
	"io"

	"github.com/Sumatoshi-tech/vmtrack/pkg/callstack"
	"github.com/Sumatoshi-tech/vmtrack/pkg/memtag"
	"github.com/Sumatoshi-tech/vmtrack/pkg/vmatree"
)

// ReservedRegion is a maximal contiguous reserved range together with its
// attribution. The zero value is the invalid sentinel returned by failed
// lookups.
type ReservedRegion struct {
	Base  uint64
	Size  uint64
	Tag   memtag.Tag
	Stack callstack.Stack
}

// End returns the first address past the region.
func (r ReservedRegion) End() uint64 {
	return r.Base + r.Size
}

// IsValid reports whether the region describes an actual reservation.
func (r ReservedRegion) IsValid() bool {
	return r.Size != 0
}

// Contains reports whether addr falls inside [Base, End).
func (r ReservedRegion) Contains(addr uint64) bool {
	return addr >= r.Base && addr < r.End()
}

// CommittedRegion is a maximal contiguous committed run inside one
// reservation.
type CommittedRegion struct {
	Base  uint64
	Size  uint64
	Stack callstack.Stack
}

// End returns the first address past the run.
func (r CommittedRegion) End() uint64 {
	return r.Base + r.Size
}

// IsValid reports whether the run describes actual committed bytes.
func (r CommittedRegion) IsValid() bool {
	return r.Size != 0
}

// Tree couples the breakpoint timeline with the call-stack store resolving
// its attribution indices. Timeline mutations remain available through the
// embedded tree. Like the timeline itself it performs no locking.
type Tree struct {
	*vmatree.Tree

	storage *callstack.Storage
}

// New returns an empty tree. detailed selects whether call stacks are
// retained or collapsed to the invalid index (summary mode).
func New(detailed bool) *Tree {
	return &Tree{
		Tree:    vmatree.New(),
		storage: callstack.NewStorage(detailed),
	}
}

// MakeRegionData interns stack and pairs it with tag for use as breakpoint
// attribution.
func (t *Tree) MakeRegionData(stack callstack.Stack, tag memtag.Tag) vmatree.RegionData {
	return vmatree.RegionData{Stack: t.storage.Push(stack), Tag: tag}
}

// StackFor resolves an attribution index, returning the empty stack for the
// invalid sentinel.
func (t *Tree) StackFor(idx callstack.Index) callstack.Stack {
	return t.storage.Get(idx)
}

// VisitReservedRegions folds the timeline into maximal reserved regions in
// address order. A region closes when a released range begins or the tag
// changes; commit state switches inside a reservation do not split it. Runs
// that fold to zero size are dropped without invoking the callback. The
// callback returns false to stop. Callbacks must not mutate the tree.
func (t *Tree) VisitReservedRegions(fn func(ReservedRegion) bool) {
	var (
		beginAddr  uint64
		beginState vmatree.State
		prevAddr   uint64
		prevValid  bool
		rgnSize    uint64
	)

	t.ForEach(func(addr uint64, pair vmatree.StatePair) bool {
		if prevValid {
			rgnSize += addr - prevAddr
		} else {
			beginAddr, beginState = addr, pair.Out
			rgnSize = 0
		}

		prevAddr, prevValid = addr, true

		releasedBegin := pair.Out.Kind().IsReleased()
		if !releasedBegin && beginState.Tag() == pair.Out.Tag() {
			return true
		}

		if rgnSize == 0 {
			prevValid = false

			return true
		}

		region := ReservedRegion{
			Base:  beginAddr,
			Size:  rgnSize,
			Tag:   beginState.Tag(),
			Stack: t.storage.Get(beginState.Stack()),
		}
		if !fn(region) {
			return false
		}

		rgnSize = 0

		if releasedBegin {
			prevValid = false
		} else {
			beginAddr, beginState = addr, pair.Out
		}

		return true
	})
}

// VisitCommittedRegions folds the breakpoints inside rgn into maximal
// committed runs in address order. Each run is attributed to the commit
// stack of the state the run ends in. The callback returns false to stop.
// Callbacks must not mutate the tree.
func (t *Tree) VisitCommittedRegions(rgn ReservedRegion, fn func(CommittedRegion) bool) {
	var (
		base      uint64
		commSize  uint64
		prevAddr  uint64
		prevPair  vmatree.StatePair
		prevValid bool
		stopped   bool
	)

	t.ForEachInRange(rgn.Base, rgn.End(), func(addr uint64, pair vmatree.StatePair) bool {
		if prevValid && prevPair.Out.Kind().IsCommitted() {
			if commSize == 0 {
				base = prevAddr
			}

			commSize += addr - prevAddr

			if !pair.Out.Kind().IsCommitted() {
				run := CommittedRegion{Base: base, Size: commSize, Stack: t.storage.Get(pair.In.Stack())}
				commSize = 0

				if !fn(run) {
					stopped = true

					return false
				}
			}
		}

		prevAddr, prevPair, prevValid = addr, pair, true

		return true
	})

	if stopped || !prevValid || !prevPair.Out.Kind().IsCommitted() {
		return
	}

	// A run still open when the walk ends closes exactly at the reservation
	// boundary, and the closing breakpoint there sits outside the half-open
	// walk. Its in-state equals the last visited out-state.
	if commSize == 0 {
		base = prevAddr
	}

	commSize += rgn.End() - prevAddr

	fn(CommittedRegion{Base: base, Size: commSize, Stack: t.storage.Get(prevPair.Out.Stack())})
}

// FindReservedRegion returns the reserved region containing addr, or the
// invalid zero value when no reservation covers it. Lookup is a linear
// enumeration with early termination on the first hit.
func (t *Tree) FindReservedRegion(addr uint64) ReservedRegion {
	var found ReservedRegion

	t.VisitReservedRegions(func(rgn ReservedRegion) bool {
		if rgn.Contains(addr) {
			found = rgn

			return false
		}

		return true
	})

	return found
}

// CommitRegion repaints [addr, addr+size) committed, inheriting the tag of
// the enclosing reservation. Committing outside any reservation is a caller
// bug and panics.
func (t *Tree) CommitRegion(addr, size uint64, stack callstack.Stack) vmatree.SummaryDelta {
	rgn := t.FindReservedRegion(addr)
	if !rgn.IsValid() {
		panic("regions: commit without an enclosing reservation")
	}

	return t.CommitMapping(addr, size, t.MakeRegionData(stack, rgn.Tag))
}

// UncommitRegion repaints [addr, addr+size) back to reserved, keeping the
// enclosing reservation's tag and dropping the commit attribution.
// Uncommitting outside any reservation is a caller bug and panics.
func (t *Tree) UncommitRegion(addr, size uint64) vmatree.SummaryDelta {
	rgn := t.FindReservedRegion(addr)
	if !rgn.IsValid() {
		panic("regions: uncommit without an enclosing reservation")
	}

	return t.ReserveMapping(addr, size, t.MakeRegionData(callstack.EmptyStack(), rgn.Tag))
}

// PrintOn writes the breakpoint dump in address order.
func (t *Tree) PrintOn(w io.Writer) {
	t.DumpOn(w)
}
