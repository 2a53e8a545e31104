// Package treap implements an arena-backed ordered map keyed by uint64.
// Balance comes from the treap discipline: search-tree order on keys, heap
// order on randomized priorities, with split and merge as the only
// structural primitives.
package treap

// Priorities come from a fixed-seed linear congruential sequence (Knuth's
// MMIX parameters) so tree shapes are reproducible run to run.
const (
	prngSeed       = 0x9E3779B97F4A7C15
	prngMultiplier = 6364136223846793005
	prngIncrement  = 1442695040888963407
)

// walkStackSeed is the initial capacity of the explicit traversal stack.
const walkStackSeed = 32

// Map is an ordered map keyed by uint64, balanced as a randomized treap.
//
// A Map performs no locking: the owner serializes access. Mutations
// invalidate value pointers and handles returned earlier.
type Map[V any] struct {
	allocator *Allocator[V]
	root      uint32
	count     int32
	prngState uint64
}

// NewMap creates an empty map backed by allocator.
func NewMap[V any](allocator *Allocator[V]) *Map[V] {
	return &Map[V]{allocator: allocator, root: 0, count: 0, prngState: prngSeed}
}

// Allocator returns the bound nodes allocator.
func (tree *Map[V]) Allocator() *Allocator[V] {
	return tree.allocator
}

func (tree *Map[V]) storage() []node[V] {
	return tree.allocator.storage
}

// Len returns the number of entries.
func (tree *Map[V]) Len() int {
	return int(tree.count)
}

func (tree *Map[V]) nextPriority() uint64 {
	tree.prngState = tree.prngState*prngMultiplier + prngIncrement

	return tree.prngState
}

// Find returns a pointer to the value stored under key. The pointer stays
// valid until the next mutation.
func (tree *Map[V]) Find(key uint64) (*V, bool) {
	idx := findExact(tree.storage(), tree.root, key)
	if idx == 0 {
		return nil, false
	}

	return &tree.allocator.storage[idx].value, true
}

// Upsert inserts value under key, overwriting any existing entry.
func (tree *Map[V]) Upsert(key uint64, value V) {
	if idx := findExact(tree.storage(), tree.root, key); idx != 0 {
		tree.allocator.storage[idx].value = value

		return
	}

	nodeIdx := tree.allocator.malloc()

	storage := tree.storage()
	storage[nodeIdx].key = key
	storage[nodeIdx].value = value
	storage[nodeIdx].priority = tree.nextPriority()

	left, right := split(storage, tree.root, key, splitLess)
	tree.root = merge(storage, merge(storage, left, nodeIdx), right)
	tree.count++
}

// Remove deletes the entry under key, reporting whether it existed.
func (tree *Map[V]) Remove(key uint64) bool {
	storage := tree.storage()

	left, rest := split(storage, tree.root, key, splitLess)
	target, right := split(storage, rest, key, splitLessOrEqual)

	if target == 0 {
		tree.root = merge(storage, left, right)

		return false
	}

	// The two splits isolate exactly the key's node.
	doAssert(storage[target].key == key)
	doAssert(storage[target].left == 0 && storage[target].right == 0)

	tree.allocator.free(target)
	tree.root = merge(storage, left, right)
	tree.count--

	return true
}

// ClosestLE returns a handle to the entry with the largest key <= key, or
// an invalid handle if every key is greater.
func (tree *Map[V]) ClosestLE(key uint64) Node[V] {
	storage := tree.storage()

	var best uint32

	idx := tree.root
	for idx != 0 {
		switch {
		case storage[idx].key == key:
			return Node[V]{tree: tree, idx: idx}
		case storage[idx].key < key:
			best = idx
			idx = storage[idx].right
		default:
			idx = storage[idx].left
		}
	}

	return Node[V]{tree: tree, idx: best}
}

// ClosestGT returns a handle to the entry with the smallest key > key, or
// an invalid handle if every key is less or equal.
func (tree *Map[V]) ClosestGT(key uint64) Node[V] {
	storage := tree.storage()

	var best uint32

	idx := tree.root
	for idx != 0 {
		if storage[idx].key > key {
			best = idx
			idx = storage[idx].left
		} else {
			idx = storage[idx].right
		}
	}

	return Node[V]{tree: tree, idx: best}
}

// Leftmost returns a handle to the smallest key, invalid when empty.
func (tree *Map[V]) Leftmost() Node[V] {
	storage := tree.storage()

	idx := tree.root
	for idx != 0 && storage[idx].left != 0 {
		idx = storage[idx].left
	}

	return Node[V]{tree: tree, idx: idx}
}

// Rightmost returns a handle to the largest key, invalid when empty.
func (tree *Map[V]) Rightmost() Node[V] {
	storage := tree.storage()

	idx := tree.root
	for idx != 0 && storage[idx].right != 0 {
		idx = storage[idx].right
	}

	return Node[V]{tree: tree, idx: idx}
}

// VisitInOrder walks every entry in ascending key order. The callback
// returns false to stop early. Callbacks must not mutate the map.
func (tree *Map[V]) VisitInOrder(visit func(key uint64, value *V) bool) {
	storage := tree.storage()
	stack := make([]uint32, 0, walkStackSeed)

	idx := tree.root
	for idx != 0 || len(stack) > 0 {
		for idx != 0 {
			stack = append(stack, idx)
			idx = storage[idx].left
		}

		idx = stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if !visit(storage[idx].key, &storage[idx].value) {
			return
		}

		idx = storage[idx].right
	}
}

// VisitRangeInOrder walks entries with keys in [lo, hi) in ascending key
// order. The callback returns false to stop early. Callbacks must not
// mutate the map.
func (tree *Map[V]) VisitRangeInOrder(lo, hi uint64, visit func(key uint64, value *V) bool) {
	if lo >= hi {
		return
	}

	storage := tree.storage()
	stack := make([]uint32, 0, walkStackSeed)

	idx := tree.root
	for idx != 0 || len(stack) > 0 {
		// Subtrees entirely below lo are skipped on the way down.
		for idx != 0 {
			if storage[idx].key >= lo {
				stack = append(stack, idx)
				idx = storage[idx].left
			} else {
				idx = storage[idx].right
			}
		}

		if len(stack) == 0 {
			return
		}

		idx = stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if storage[idx].key >= hi {
			return
		}

		if !visit(storage[idx].key, &storage[idx].value) {
			return
		}

		idx = storage[idx].right
	}
}

// Clear removes every entry, returning the nodes to the allocator.
func (tree *Map[V]) Clear() {
	if tree.root == 0 {
		return
	}

	storage := tree.storage()
	pending := make([]uint32, 0, tree.count)
	pending = append(pending, tree.root)

	for len(pending) > 0 {
		idx := pending[len(pending)-1]
		pending = pending[:len(pending)-1]

		if storage[idx].left != 0 {
			pending = append(pending, storage[idx].left)
		}

		if storage[idx].right != 0 {
			pending = append(pending, storage[idx].right)
		}

		tree.allocator.free(idx)
	}

	tree.root = 0
	tree.count = 0
}

// Validate checks the search order of keys and the heap order of
// priorities, panicking on any violation. Test support.
func (tree *Map[V]) Validate() {
	storage := tree.storage()

	visited := int32(0)
	lastKey := uint64(0)
	seen := false

	var walk func(idx uint32)

	walk = func(idx uint32) {
		if idx == 0 {
			return
		}

		if left := storage[idx].left; left != 0 {
			doAssert(storage[left].priority <= storage[idx].priority)
		}

		if right := storage[idx].right; right != 0 {
			doAssert(storage[right].priority <= storage[idx].priority)
		}

		walk(storage[idx].left)

		doAssert(!seen || lastKey < storage[idx].key)
		lastKey = storage[idx].key
		seen = true
		visited++

		walk(storage[idx].right)
	}

	walk(tree.root)
	doAssert(visited == tree.count)
}

// Node is a handle to a map entry. The zero value and lookup misses are
// invalid: test Valid before use. Handles are invalidated by mutations.
type Node[V any] struct {
	tree *Map[V]
	idx  uint32
}

// Valid reports whether the handle points at an entry.
func (n Node[V]) Valid() bool {
	return n.idx != 0
}

// Key returns the entry's key.
//
// REQUIRES: n.Valid().
func (n Node[V]) Key() uint64 {
	doAssert(n.Valid())

	return n.tree.storage()[n.idx].key
}

// Value returns a pointer to the entry's value, valid until the next
// mutation.
//
// REQUIRES: n.Valid().
func (n Node[V]) Value() *V {
	doAssert(n.Valid())

	return &n.tree.allocator.storage[n.idx].value
}

type splitMode int

const (
	splitLess splitMode = iota
	splitLessOrEqual
)

func findExact[V any](storage []node[V], root uint32, key uint64) uint32 {
	idx := root
	for idx != 0 {
		switch {
		case key == storage[idx].key:
			return idx
		case key < storage[idx].key:
			idx = storage[idx].left
		default:
			idx = storage[idx].right
		}
	}

	return 0
}

// split partitions the subtree at idx into (left, right) where left holds
// the keys < pivot (splitLess) or <= pivot (splitLessOrEqual).
func split[V any](storage []node[V], idx uint32, pivot uint64, mode splitMode) (uint32, uint32) {
	if idx == 0 {
		return 0, 0
	}

	goesLeft := storage[idx].key < pivot || (mode == splitLessOrEqual && storage[idx].key == pivot)
	if goesLeft {
		childLeft, childRight := split(storage, storage[idx].right, pivot, mode)
		storage[idx].right = childLeft

		return idx, childRight
	}

	childLeft, childRight := split(storage, storage[idx].left, pivot, mode)
	storage[idx].left = childRight

	return childLeft, idx
}

// merge joins two subtrees where every key in left precedes every key in
// right, preserving the priority heap.
func merge[V any](storage []node[V], left, right uint32) uint32 {
	if left == 0 {
		return right
	}

	if right == 0 {
		return left
	}

	if storage[left].priority >= storage[right].priority {
		storage[left].right = merge(storage, storage[left].right, right)

		return left
	}

	storage[right].left = merge(storage, left, storage[right].left)

	return right
}
