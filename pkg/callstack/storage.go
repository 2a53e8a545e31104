package callstack

// Storage interns stacks and hands out stable indices so tree nodes carry a
// 4-byte handle instead of the frames themselves. Indices are assigned
// sequentially (0, 1, 2, ...). Storage does no locking: the tracking session
// that owns it serializes all access.
type Storage struct {
	detailed bool
	buckets  map[uint64][]Index
	revs     []Stack
}

// NewStorage creates an empty store. When detailed is false the store runs
// in summary mode: Push records nothing and always returns InvalidIndex.
func NewStorage(detailed bool) *Storage {
	return &Storage{
		detailed: detailed,
		buckets:  make(map[uint64][]Index),
		revs:     nil,
	}
}

// Detailed reports whether the store records stacks.
func (s *Storage) Detailed() bool {
	return s.detailed
}

// Push interns stack and returns its index, reusing the index of an equal
// stack seen before. In summary mode it returns InvalidIndex.
func (s *Storage) Push(stack Stack) Index {
	if !s.detailed {
		return InvalidIndex
	}

	digest := stack.Hash()
	for _, idx := range s.buckets[digest] {
		if s.revs[idx].Equal(stack) {
			return idx
		}
	}

	idx := Index(len(s.revs)) //nolint:gosec // interned stacks stay far below int32 range
	s.revs = append(s.revs, stack)
	s.buckets[digest] = append(s.buckets[digest], idx)

	return idx
}

// Get resolves an index. The invalid sentinel resolves to the empty stack;
// any other out-of-range index panics.
func (s *Storage) Get(idx Index) Stack {
	if IsInvalid(idx) {
		return EmptyStack()
	}

	if idx < 0 || int(idx) >= len(s.revs) {
		panic("callstack: index out of range")
	}

	return s.revs[idx]
}

// Len returns the number of distinct stacks interned so far.
func (s *Storage) Len() int {
	return len(s.revs)
}
