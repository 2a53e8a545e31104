// Package vmatree models an address-space timeline as a sparse set of
// state-transition breakpoints kept in an ordered map. A breakpoint at
// address p says: bytes left of p are in state In, bytes right of p are in
// state Out. Every mutation repaints one interval, splices the affected
// breakpoints, and returns the per-tag accounting change it caused.
package vmatree

import (
	"fmt"
	"io"

	"github.com/Sumatoshi-tech/vmtrack/pkg/callstack"
	"github.com/Sumatoshi-tech/vmtrack/pkg/memtag"
	"github.com/Sumatoshi-tech/vmtrack/pkg/safeconv"
	"github.com/Sumatoshi-tech/vmtrack/pkg/treap"
)

// Tree is the timeline. It performs no locking: a single writer owns it.
type Tree struct {
	tree *treap.Map[StatePair]
}

// New creates an empty timeline: the whole address space released.
func New() *Tree {
	return &Tree{tree: treap.NewMap(treap.NewAllocator[StatePair]())}
}

// Count returns the number of breakpoints.
func (t *Tree) Count() int {
	return t.tree.Len()
}

// ReserveMapping repaints [from, from+size) as Reserved with data.
func (t *Tree) ReserveMapping(from, size uint64, data RegionData) SummaryDelta {
	return t.RegisterMapping(from, from+size, Reserved, data)
}

// CommitMapping repaints [from, from+size) as Committed with data.
func (t *Tree) CommitMapping(from, size uint64, data RegionData) SummaryDelta {
	return t.RegisterMapping(from, from+size, Committed, data)
}

// ReleaseMapping repaints [from, from+size) as Released.
func (t *Tree) ReleaseMapping(from, size uint64) SummaryDelta {
	return t.RegisterMapping(from, from+size, Released, EmptyRegionData())
}

type addressState struct {
	addr uint64
	pair StatePair
}

// RegisterMapping repaints [from, to) with the given kind and attribution,
// regardless of what the interval held before. It restores the merge
// invariant around both ends and returns the accounting delta: bytes the
// overwritten states lose, bytes the new state gains.
//
// REQUIRES: from < to. Empty and inverted intervals (including from+size
// overflow in the wrappers) panic.
//
//nolint:gocognit,cyclop,funlen // interval splicing plus its accounting is one indivisible algorithm.
func (t *Tree) RegisterMapping(from, to uint64, kind Kind, data RegionData) SummaryDelta {
	if from >= to {
		panic("vmatree: mapping range must not be empty or inverted")
	}

	newState := NewState(kind, data.Tag, data.Stack)

	// The two boundary changes the repaint wants to install. Their far
	// sides start pessimistic (Released) and are refined from the
	// breakpoints the interval actually touches.
	changeA := StatePair{In: ReleasedState(), Out: newState}
	changeB := StatePair{In: newState, Out: ReleasedState()}

	var (
		leqState StatePair
		leqFound bool
	)

	// Handle the left boundary from the breakpoint at or preceding it.
	if leq := t.tree.ClosestLE(from); leq.Valid() {
		leqAddr := leq.Key()
		leqState = *leq.Value()
		leqFound = true

		// Unless a breakpoint inside (from, to] says otherwise, the bytes
		// right of to keep the state that preceded from.
		changeB.Out = leqState.Out

		if leqAddr == from {
			changeA.In = leqState.In
			if changeA.isNoop() {
				t.tree.Remove(leqAddr)
			} else {
				*leq.Value() = changeA
			}
		} else {
			changeA.In = leqState.Out
			if !changeA.isNoop() {
				t.tree.Upsert(from, changeA)
			}
		}
	} else if !changeA.isNoop() {
		t.tree.Upsert(from, changeA)
	}

	// Collect the breakpoints strictly inside the interval. All of them
	// are overwritten by the repaint; each refines the right boundary's
	// outgoing state. Deletion happens after the walk: visitors must not
	// mutate the map.
	var doomed []addressState

	t.tree.VisitRangeInOrder(from+1, to, func(addr uint64, pair *StatePair) bool {
		changeB.Out = pair.Out
		doomed = append(doomed, addressState{addr: addr, pair: *pair})

		return true
	})

	// The right boundary: repurpose an existing breakpoint at to, or
	// insert one, or elide it entirely when it marks no transition.
	bNeedsInsert := true

	if bValue, found := t.tree.Find(to); found {
		changeB.Out = bValue.Out
		bNeedsInsert = false

		if changeB.isNoop() {
			doomed = append(doomed, addressState{addr: to, pair: *bValue})
		} else {
			*bValue = changeB
		}
	}

	if bNeedsInsert && !changeB.isNoop() {
		t.tree.Upsert(to, changeB)
	}

	// Accounting. With no interior breakpoints the interval was one
	// uniform span owned by the state preceding from; retract it wholesale.
	var delta SummaryDelta

	if len(doomed) == 0 && leqFound {
		span := safeconv.MustUint64ToInt64(to - from)
		delta.account(leqState.Out.Kind(), leqState.Out.Tag(), -span)
	}

	// Otherwise each doomed breakpoint closes a span owned by its
	// in-state; the last one may leave a tail reaching to.
	prev := addressState{addr: from, pair: changeA}

	for _, dead := range doomed {
		t.tree.Remove(dead.addr)

		span := safeconv.MustUint64ToInt64(dead.addr - prev.addr)
		delta.account(dead.pair.In.Kind(), dead.pair.In.Tag(), -span)

		prev = dead
	}

	if prev.addr != from && !prev.pair.Out.Kind().IsReleased() {
		span := safeconv.MustUint64ToInt64(to - prev.addr)
		delta.account(prev.pair.Out.Kind(), prev.pair.Out.Tag(), -span)
	}

	// Finally the repainted interval itself.
	delta.account(kind, data.Tag, safeconv.MustUint64ToInt64(to-from))

	return delta
}

// SetTag re-tags every reserved or committed run inside
// [start, start+size), preserving each run's kind and call stack. Runs are
// collected first and re-registered after: visitors must not mutate.
func (t *Tree) SetTag(start, size uint64, tag memtag.Tag) SummaryDelta {
	end := start + size
	if size == 0 || end < start {
		panic("vmatree: tag range must not be empty or overflow the address space")
	}

	type taggedRun struct {
		from  uint64
		to    uint64
		kind  Kind
		stack callstack.Index
	}

	runs := []taggedRun{}

	appendRun := func(runStart, runEnd uint64, state State) {
		if state.Kind().IsReleased() {
			return
		}

		from := max(runStart, start)
		to := min(runEnd, end)

		if from >= to {
			return
		}

		runs = append(runs, taggedRun{from: from, to: to, kind: state.Kind(), stack: state.Stack()})
	}

	// The state covering start comes from the breakpoint at or before it.
	cursor := start
	cursorState := ReleasedState()

	if leq := t.tree.ClosestLE(start); leq.Valid() {
		cursorState = leq.Value().Out
	}

	t.tree.VisitRangeInOrder(start+1, end, func(addr uint64, pair *StatePair) bool {
		appendRun(cursor, addr, cursorState)
		cursor = addr
		cursorState = pair.Out

		return true
	})

	appendRun(cursor, end, cursorState)

	var delta SummaryDelta

	for _, run := range runs {
		part := t.RegisterMapping(run.from, run.to, run.kind, RegionData{Stack: run.stack, Tag: tag})
		delta.Merge(&part)
	}

	return delta
}

// ForEach visits every breakpoint in address order. The callback returns
// false to stop. Callbacks must not mutate the tree.
func (t *Tree) ForEach(fn func(addr uint64, pair StatePair) bool) {
	t.tree.VisitInOrder(func(addr uint64, pair *StatePair) bool {
		return fn(addr, *pair)
	})
}

// ForEachInRange visits breakpoints with addresses in [lo, hi) in address
// order. The callback returns false to stop. Callbacks must not mutate the
// tree.
func (t *Tree) ForEachInRange(lo, hi uint64, fn func(addr uint64, pair StatePair) bool) {
	t.tree.VisitRangeInOrder(lo, hi, func(addr uint64, pair *StatePair) bool {
		return fn(addr, *pair)
	})
}

// At returns the breakpoint stored exactly at addr.
func (t *Tree) At(addr uint64) (StatePair, bool) {
	pair, found := t.tree.Find(addr)
	if !found {
		return StatePair{}, false
	}

	return *pair, true
}

// Floor returns the breakpoint at or nearest below addr.
func (t *Tree) Floor(addr uint64) (uint64, StatePair, bool) {
	leq := t.tree.ClosestLE(addr)
	if !leq.Valid() {
		return 0, StatePair{}, false
	}

	return leq.Key(), *leq.Value(), true
}

// DumpOn prints every breakpoint in address order, one per line.
func (t *Tree) DumpOn(w io.Writer) {
	t.tree.VisitInOrder(func(addr uint64, pair *StatePair) bool {
		fmt.Fprintf(w, "pos: 0x%x %s, %s <|> %s, %s\n",
			addr,
			pair.In.Kind().ShortName(), pair.In.Tag(),
			pair.Out.Kind().ShortName(), pair.Out.Tag())

		return true
	})
}

// Validate checks the timeline invariants on top of the map's own: every
// breakpoint continues its left neighbor's out-state, marks a real
// transition, and the timeline ends released. Panics on violation. Test
// support.
func (t *Tree) Validate() {
	t.tree.Validate()

	prevOut := ReleasedState()

	t.tree.VisitInOrder(func(_ uint64, pair *StatePair) bool {
		if pair.In != prevOut {
			panic("vmatree: breakpoint does not continue its left neighbor")
		}

		if pair.isNoop() {
			panic("vmatree: redundant breakpoint violates the merge invariant")
		}

		prevOut = pair.Out

		return true
	})

	if prevOut != ReleasedState() {
		panic("vmatree: timeline must end released")
	}
}
