package treap

import (
	"math"

	"github.com/Sumatoshi-tech/vmtrack/pkg/safeconv"
)

// limitNode caps the arena: index [math.MaxUint32] is never handed out.
const limitNode = math.MaxUint32

type node[V any] struct {
	key      uint64
	priority uint64
	left     uint32
	right    uint32
	value    V
}

// Allocator is the arena for treap nodes. Nodes are addressed by uint32
// indices into one storage slice; freed indices are recycled through the
// gaps set. Index 0 is reserved as the nil sentinel.
type Allocator[V any] struct {
	storage []node[V]
	gaps    map[uint32]bool
}

// NewAllocator creates an empty arena.
func NewAllocator[V any]() *Allocator[V] {
	return &Allocator[V]{
		storage: []node[V]{},
		gaps:    map[uint32]bool{},
	}
}

// Size returns the currently allocated size.
func (allocator *Allocator[V]) Size() int {
	return len(allocator.storage)
}

// Used returns the number of nodes contained in the allocator.
func (allocator *Allocator[V]) Used() int {
	return len(allocator.storage) - len(allocator.gaps)
}

func (allocator *Allocator[V]) malloc() uint32 {
	if len(allocator.gaps) > 0 {
		var key uint32

		for key = range allocator.gaps {
			break
		}

		delete(allocator.gaps, key)

		return key
	}

	nodeLen := len(allocator.storage)
	if nodeLen == 0 {
		// Zero is reserved.
		allocator.storage = append(allocator.storage, node[V]{})
		nodeLen = 1
	}

	if nodeLen == limitNode {
		panic("the size of my treap allocator has reached the maximum value for uint32, sorry")
	}

	allocator.storage = append(allocator.storage, node[V]{})

	return safeconv.MustIntToUint32(nodeLen)
}

func (allocator *Allocator[V]) free(nodeIdx uint32) {
	if nodeIdx == 0 {
		panic("node #0 is special and cannot be deallocated")
	}

	_, exists := allocator.gaps[nodeIdx]
	doAssert(!exists)

	allocator.storage[nodeIdx] = node[V]{}
	allocator.gaps[nodeIdx] = true
}

func doAssert(condition bool) {
	if !condition {
		panic("treap internal assertion failed")
	}
}
