// Package callstack provides immutable call stacks and a compact interning
// store used to attribute tracked memory ranges to their allocation sites.
package callstack

import (
	"hash/fnv"
	"slices"
	"strings"
)

// Index is a compact handle into a [Storage]. Indices are assigned
// sequentially from zero; InvalidIndex marks "no stack recorded".
type Index int32

// InvalidIndex is the sentinel for ranges tracked without attribution.
const InvalidIndex Index = -1

// IsInvalid reports whether idx is the no-stack sentinel.
func IsInvalid(idx Index) bool {
	return idx == InvalidIndex
}

// Stack is an immutable sequence of call frames, innermost first. The zero
// value is the empty stack.
type Stack struct {
	frames []string
}

// NewStack builds a stack from frames, innermost first. The input slice is
// copied.
func NewStack(frames ...string) Stack {
	if len(frames) == 0 {
		return Stack{}
	}

	return Stack{frames: slices.Clone(frames)}
}

// EmptyStack returns the stack with no frames.
func EmptyStack() Stack {
	return Stack{}
}

// IsEmpty reports whether the stack has no frames.
func (s Stack) IsEmpty() bool {
	return len(s.frames) == 0
}

// Depth returns the number of frames.
func (s Stack) Depth() int {
	return len(s.frames)
}

// Frames returns a copy of the frames, innermost first.
func (s Stack) Frames() []string {
	return slices.Clone(s.frames)
}

// Equal reports frame-wise equality.
func (s Stack) Equal(other Stack) bool {
	return slices.Equal(s.frames, other.frames)
}

// Hash returns a 64-bit FNV-1a digest of the frames. Equal stacks hash
// equal; the interning store buckets by this value.
func (s Stack) Hash() uint64 {
	digest := fnv.New64a()

	for _, frame := range s.frames {
		_, _ = digest.Write([]byte(frame))
		_, _ = digest.Write(frameSeparator)
	}

	return digest.Sum64()
}

// String renders the frames innermost first, separated by " <- ".
func (s Stack) String() string {
	return strings.Join(s.frames, " <- ")
}

var frameSeparator = []byte{0}
