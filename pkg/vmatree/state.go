package vmatree

import (
	"fmt"

	"github.com/Sumatoshi-tech/vmtrack/pkg/callstack"
	"github.com/Sumatoshi-tech/vmtrack/pkg/memtag"
)

// Kind is the tracked condition of a byte range. The bit encoding makes
// "committed implies reserved" a bit test: bit 0 is the reserved bit,
// bit 1 the committed bit.
type Kind uint8

// The three range conditions.
const (
	Released  Kind = 0b00
	Reserved  Kind = 0b01
	Committed Kind = 0b11
)

// IsReserved reports whether the kind carries the reserved bit, true for
// both Reserved and Committed.
func (k Kind) IsReserved() bool {
	return k&Reserved != 0
}

// IsCommitted reports whether the kind is Committed.
func (k Kind) IsCommitted() bool {
	return k&Committed == Committed
}

// IsReleased reports whether the kind is Released.
func (k Kind) IsReleased() bool {
	return k == Released
}

// String returns the lowercase kind name.
func (k Kind) String() string {
	switch k {
	case Released:
		return "released"
	case Reserved:
		return "reserved"
	case Committed:
		return "committed"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ShortName is the two-letter form used by breakpoint dumps.
func (k Kind) ShortName() string {
	switch k {
	case Released:
		return "Rl"
	case Reserved:
		return "Rv"
	case Committed:
		return "Cm"
	default:
		return "??"
	}
}

// RegionData is the attribution a mutation paints with: the interned call
// stack plus the memory tag.
type RegionData struct {
	Stack callstack.Index
	Tag   memtag.Tag
}

// EmptyRegionData is the attribution of untracked mutations.
func EmptyRegionData() RegionData {
	return RegionData{Stack: callstack.InvalidIndex, Tag: memtag.TagNone}
}

// State is one side of a breakpoint: the kind of the adjacent byte range
// plus its attribution. Released states are canonical (TagNone, invalid
// stack), so struct equality is state equality.
type State struct {
	kind  Kind
	tag   memtag.Tag
	stack callstack.Index
}

// NewState builds a state, canonicalizing Released.
func NewState(kind Kind, tag memtag.Tag, stack callstack.Index) State {
	if kind.IsReleased() {
		return ReleasedState()
	}

	return State{kind: kind, tag: tag, stack: stack}
}

// ReleasedState returns the canonical released state.
func ReleasedState() State {
	return State{kind: Released, tag: memtag.TagNone, stack: callstack.InvalidIndex}
}

// Kind returns the range condition.
func (s State) Kind() Kind {
	return s.kind
}

// Tag returns the memory category.
func (s State) Tag() memtag.Tag {
	return s.tag
}

// Stack returns the interned call-stack index.
func (s State) Stack() callstack.Index {
	return s.stack
}

// StatePair is a breakpoint's value: the state immediately left of the
// breakpoint address (In) and immediately right of it (Out).
type StatePair struct {
	In  State
	Out State
}

// isNoop reports whether the breakpoint marks no transition and can be
// elided.
func (p StatePair) isNoop() bool {
	return p.In == p.Out
}
