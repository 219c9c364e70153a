package commitment

// Hashed is implemented by *Incomplete and *Commitment.
type Hashed interface {
	Hash() Hash
}

// Set is a collection of commitments keyed by hash. Adding a commitment
// whose hash is already present is a no-op. Iteration follows first insertion.
//
// Each entry also remembers its origin: the ordinal of the Add call that
// created it. When a set is built with one Add per transaction, the origin is
// the transaction's position, which keeps positional data (start indices)
// aligned even after duplicates collapse.
type Set[T Hashed] struct {
	index   map[Hash]int
	items   []T
	origins []int
	adds    int
}

// NewSet returns an empty set.
func NewSet[T Hashed]() *Set[T] {
	return &Set[T]{index: make(map[Hash]int)}
}

// Add inserts c and reports whether it was new.
func (s *Set[T]) Add(c T) bool {
	origin := s.adds
	s.adds++
	h := c.Hash()
	if _, ok := s.index[h]; ok {
		return false
	}
	s.index[h] = len(s.items)
	s.items = append(s.items, c)
	s.origins = append(s.origins, origin)
	return true
}

func (s *Set[T]) Len() int {
	if s == nil {
		return 0
	}
	return len(s.items)
}

func (s *Set[T]) Contains(h Hash) bool {
	if s == nil {
		return false
	}
	_, ok := s.index[h]
	return ok
}

// Get looks up an entry by hash.
func (s *Set[T]) Get(h Hash) (T, bool) {
	var zero T
	if s == nil {
		return zero, false
	}
	i, ok := s.index[h]
	if !ok {
		return zero, false
	}
	return s.items[i], true
}

// Items returns the entries in enumeration order.
func (s *Set[T]) Items() []T {
	if s == nil {
		return nil
	}
	out := make([]T, len(s.items))
	copy(out, s.items)
	return out
}

// Origin returns the ordinal of the Add call that created the i-th entry.
func (s *Set[T]) Origin(i int) int {
	return s.origins[i]
}

// Hashes returns the entry hashes in enumeration order.
func (s *Set[T]) Hashes() []Hash {
	if s == nil {
		return nil
	}
	out := make([]Hash, len(s.items))
	for i, c := range s.items {
		out[i] = c.Hash()
	}
	return out
}
