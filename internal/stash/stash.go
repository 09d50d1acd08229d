// Package stash provides a multi-version in-memory cache of logical
// pages, layered over the compact file.
//
// The stash gives snapshot isolation to concurrent readers against a
// single writer. Every write is stamped with a logical time; a reader
// captures the time at which it starts and observes exactly the writes
// committed before it. Pre-images displaced by the writer are kept in a
// per-page history and trimmed once they are older than every live
// reader.
//
// Cached page bytes are charged against a memory budget. A min-heap keyed
// by last-use stamps identifies the least-recently-used page; when the
// budget is exceeded the stash drops current page data (never history,
// which only the trim path releases) until it fits.
package stash

import (
	"sort"
	"sync"

	"github.com/oakdb/oakdb/internal/logging"
)

// Data is the contents of a logical page. Buffers handed out by the
// stash are shared between transactions and must not be mutated; a
// writer building a new page prepares a fresh buffer and swaps it in.
type Data = []byte

const noHeapPos = -1

// pageInfo is the cached information about one logical page.
// All fields are guarded by the owning stash's mutex.
type pageInfo struct {
	lpn uint64

	// current holds the live page data, nil when not cached.
	current Data
	// loaded distinguishes "not cached" from "cached empty page".
	loaded bool

	// history maps write time to the pre-image displaced at that time,
	// in ascending time order.
	history []histEntry

	// usage is the stash use clock's value at the page's last touch.
	usage uint64
	// heapPos is the page's index in the eviction heap, noHeapPos when absent.
	heapPos int
}

type histEntry struct {
	time uint64
	data Data
}

// atOrAfter returns the pre-image for the earliest write at or after t,
// if any.
func (p *pageInfo) atOrAfter(t uint64) (Data, bool) {
	i := sort.Search(len(p.history), func(i int) bool { return p.history[i].time >= t })
	if i == len(p.history) {
		return nil, false
	}
	return p.history[i].data, true
}

// trimBelow drops history entries older than time to.
func (p *pageInfo) trimBelow(to uint64) {
	i := 0
	for i < len(p.history) && p.history[i].time < to {
		i++
	}
	if i > 0 {
		p.history = append(p.history[:0], p.history[i:]...)
	}
}

// heap keeps track of the cached page with the oldest use stamp.
type heap struct {
	v []*pageInfo
}

// used stamps p with the current use clock and restores the heap
// invariant, inserting p if it is not yet on the heap. The stamp only
// ever increases, so a page already on the heap can only move down.
func (h *heap) used(p *pageInfo, clock uint64) {
	p.usage = clock
	if p.heapPos == noHeapPos {
		pos := len(h.v)
		h.v = append(h.v, p)
		h.moveUp(pos, p.usage)
	} else {
		h.moveDown(p.heapPos, p.usage)
	}
}

// pop removes the root (smallest usage), clears its cached data, and
// returns the number of bytes released.
func (h *heap) pop() int {
	p := h.v[0]
	freed := len(p.current)
	p.current = nil
	p.loaded = false
	p.heapPos = noHeapPos

	last := h.v[len(h.v)-1]
	h.v = h.v[:len(h.v)-1]
	if len(h.v) > 0 {
		h.v[0] = last
		h.moveDown(0, last.usage)
	}
	return freed
}

// moveUp is called when the page at pos may be too low in the heap.
func (h *heap) moveUp(pos int, usage uint64) {
	for pos > 0 {
		parent := (pos - 1) / 2
		if h.v[parent].usage <= usage {
			break
		}
		h.v[parent].heapPos = pos
		h.v[parent], h.v[pos] = h.v[pos], h.v[parent]
		pos = parent
	}
	h.v[pos].heapPos = pos
}

// moveDown is called when the page at pos may be too high in the heap.
func (h *heap) moveDown(pos int, usage uint64) {
	n := len(h.v)
	for {
		child := pos*2 + 1
		if child >= n {
			break
		}
		least := h.v[child].usage
		if child+1 < n && h.v[child+1].usage < least {
			child++
			least = h.v[child].usage
		}
		if usage <= least {
			break
		}
		h.v[child].heapPos = pos
		h.v[child], h.v[pos] = h.v[pos], h.v[child]
		pos = child
	}
	h.v[pos].heapPos = pos
}

// Stats are the stash observability counters.
type Stats struct {
	// Reads is the total number of page gets served.
	Reads uint64
	// Misses is the number of gets that had to touch the compact file.
	Misses uint64
	// Cached is the number of pages currently on the eviction heap.
	Cached int
	// Total is the byte size of all cached current page data.
	Total int
}

// stash is the central store of cached page versions.
// All fields are guarded by Shared.mu.
type stash struct {
	log logging.Logger

	// time is the logical write counter; it advances at each end of write.
	time uint64
	// pages maps logical page number to cached info.
	pages map[uint64]*pageInfo
	// readers counts live readers per start time.
	readers map[uint64]int
	// updates records which pages were modified at each write time.
	updates map[uint64]map[uint64]struct{}

	// clock stamps page touches; it orders pages for eviction.
	clock uint64

	// total is the byte size of all current page data; memLimit is the
	// budget trimCache shrinks it to.
	total    int
	memLimit int

	heap heap

	reads  uint64
	misses uint64
}

func newStash(memLimit int, log logging.Logger) *stash {
	return &stash{
		log:      log,
		pages:    make(map[uint64]*pageInfo),
		readers:  make(map[uint64]int),
		updates:  make(map[uint64]map[uint64]struct{}),
		memLimit: memLimit,
	}
}

// info returns the pageInfo for lpn, creating it on first touch, and
// marks the page used.
func (s *stash) info(lpn uint64) *pageInfo {
	p, ok := s.pages[lpn]
	if !ok {
		p = &pageInfo{lpn: lpn, heapPos: noHeapPos}
		s.pages[lpn] = p
	}
	s.clock++
	s.heap.used(p, s.clock)
	return p
}

// set records data as the value of lpn at the current write time. old is
// the pre-image (which set preserves in history if a snapshot reader
// might still need it).
func (s *stash) set(lpn uint64, old, data Data) {
	p := s.info(lpn)
	u, ok := s.updates[s.time]
	if !ok {
		u = make(map[uint64]struct{})
		s.updates[s.time] = u
	}
	if _, seen := u[lpn]; !seen {
		u[lpn] = struct{}{}
		// Kept even when no reader is registered yet: a reader may still
		// open at the current time before this write completes, and must
		// see the pre-image. endWrite trims unobservable entries.
		p.history = append(p.history, histEntry{time: s.time, data: old})
	}
	s.total += len(data) - len(p.current)
	p.current = data
	p.loaded = true
	s.trimCache()
}

// beginRead registers a reader starting at the current time.
func (s *stash) beginRead() uint64 {
	t := s.time
	s.readers[t]++
	return t
}

// endRead unregisters a reader; history the reader pinned may be trimmed.
func (s *stash) endRead(t uint64) {
	s.readers[t]--
	if s.readers[t] == 0 {
		delete(s.readers, t)
		s.trim()
	}
}

// endWrite completes a write: time advances and history entries no
// reader can observe are trimmed. It returns the number of pages the
// completed write updated.
func (s *stash) endWrite() int {
	updated := len(s.updates[s.time])
	s.time++
	s.trim()
	return updated
}

// trim drops history entries older than the oldest live reader (with no
// readers, older than the current time). An entry whose time lies between
// two live readers' start times is kept until the older reader ends, even
// when neither reader can observe it.
func (s *stash) trim() {
	// rt is the start time of the oldest remaining reader.
	rt := s.time
	for t := range s.readers {
		if t < rt {
			rt = t
		}
	}
	for {
		wt, lpns, ok := s.oldestUpdate()
		if !ok || wt >= rt {
			break
		}
		for lpn := range lpns {
			s.pages[lpn].trimBelow(rt)
		}
		delete(s.updates, wt)
		s.log.Debugf(logging.NSStash+"trimmed history for write time %d (%d pages)", wt, len(lpns))
	}
}

func (s *stash) oldestUpdate() (uint64, map[uint64]struct{}, bool) {
	var (
		minT  uint64
		lpns  map[uint64]struct{}
		found bool
	)
	for t, u := range s.updates {
		if !found || t < minT {
			minT, lpns, found = t, u, true
		}
	}
	return minT, lpns, found
}

// trimCache evicts least-recently-used current page data until the
// budget is met.
func (s *stash) trimCache() {
	evicted := 0
	for len(s.heap.v) > 0 && s.total > s.memLimit {
		s.total -= s.heap.pop()
		evicted++
	}
	if evicted > 0 {
		s.log.Debugf(logging.NSStash+"evicted %d pages, cached %d bytes of limit %d", evicted, s.total, s.memLimit)
	}
}

// Shared owns the compact file and the stash, and hands out
// per-transaction Access handles.
//
// Lock order is Access -> stash -> compact file -> storage; no path takes
// these in reverse.
type Shared struct {
	mu sync.Mutex
	st *stash

	fmu  sync.Mutex
	file fileOps

	spSize  int
	epSize  int
	pageMax int
}

// fileOps is the slice of the compact file the stash drives. It exists
// so stash tests can interpose a counting or failing file.
type fileOps interface {
	GetPage(lpn uint64) ([]byte, error)
	SetPage(lpn uint64, data []byte) error
	AllocPage() (uint64, error)
	FreePage(lpn uint64)
	Save() error
	Rollback() error
	IsNew() bool
}

// Stats returns a snapshot of the stash counters.
func (s *Shared) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Reads:  s.st.reads,
		Misses: s.st.misses,
		Cached: len(s.st.heap.v),
		Total:  s.st.total,
	}
}

// SetCacheLimit adjusts the memory budget and shrinks to fit.
func (s *Shared) SetCacheLimit(limit int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.memLimit = limit
	s.st.trimCache()
}
