package compact

import "sort"

// uintSet is a small ordered set of uint64 page numbers. The deferred
// free sets stay tiny between saves, so a sorted slice beats a tree.
type uintSet struct {
	v []uint64
}

// search returns the insertion index for x.
func (s *uintSet) search(x uint64) int {
	return sort.Search(len(s.v), func(i int) bool { return s.v[i] >= x })
}

// insert adds x, reporting whether it was absent.
func (s *uintSet) insert(x uint64) bool {
	i := s.search(x)
	if i < len(s.v) && s.v[i] == x {
		return false
	}
	s.v = append(s.v, 0)
	copy(s.v[i+1:], s.v[i:])
	s.v[i] = x
	return true
}

// remove deletes x, reporting whether it was present.
func (s *uintSet) remove(x uint64) bool {
	i := s.search(x)
	if i == len(s.v) || s.v[i] != x {
		return false
	}
	s.v = append(s.v[:i], s.v[i+1:]...)
	return true
}

// popMin removes and returns the smallest element.
func (s *uintSet) popMin() (uint64, bool) {
	if len(s.v) == 0 {
		return 0, false
	}
	x := s.v[0]
	s.v = s.v[1:]
	return x, true
}

// len returns the element count.
func (s *uintSet) len() int {
	return len(s.v)
}

// clear empties the set.
func (s *uintSet) clear() {
	s.v = s.v[:0]
}
