package sortedfile

import (
	"fmt"

	"github.com/oakdb/oakdb/internal/encoding"
)

const (
	// nodeOverhead is the per-node cost: 2-bit balance and two 11-bit
	// child ids packed into 3 bytes.
	nodeOverhead = 3

	// maxNodeID is the largest node id an 11-bit child field can hold.
	maxNodeID = 2047

	// Balance codes stored in the 2-bit field.
	balEven  = 0
	balLeft  = 1
	balRight = 2

	// Header layout. Interior pages append the 8-byte leftmost child.
	//   [0]    level (0 = leaf)
	//   [1:3]  live record count
	//   [3:5]  root node id
	//   [5:7]  free list head node id
	//   [7:9]  allocated node slots
	//   [9:17] leftmost child page number (interior only)
	leafHeaderSize     = 9
	interiorHeaderSize = 17
)

// Page is one node of the page tree: up to 2047 fixed-size records laid
// out as a balanced binary tree inside a single logical page.
//
// The byte buffer is the serialised form; header fields are mirrored in
// struct fields while loaded and written back before the page is saved.
type Page struct {
	lpn   uint64
	level int // 0 = leaf

	nodeSize int // record bytes per node (leaf: record size, interior: key size + 8)
	keySize  int
	maxNodes int

	data []byte

	count     int // live records
	root      int // root node id
	free      int // free list head node id
	freeCount int
	alloc     int // node slots in use, including freed ones

	firstPage uint64 // interior: child for keys before the first routing entry

	dirty bool
}

// newPage constructs an empty page at the given tree level.
func newPage(lpn uint64, level, recSize, keySize, pageMax int) *Page {
	p := &Page{
		lpn:     lpn,
		level:   level,
		keySize: keySize,
	}
	p.setGeometry(recSize, pageMax)
	p.data = make([]byte, p.headerSize(), p.headerSize()+64*(nodeOverhead+p.nodeSize))
	return p
}

// loadPage parses a serialised page. Empty data is a fresh leaf.
// The buffer is copied: stash buffers are shared and must stay immutable.
func loadPage(lpn uint64, data []byte, recSize, keySize, pageMax int) (*Page, error) {
	if len(data) == 0 {
		return newPage(lpn, 0, recSize, keySize, pageMax), nil
	}
	p := &Page{
		lpn:     lpn,
		level:   int(data[0]),
		keySize: keySize,
	}
	p.setGeometry(recSize, pageMax)
	hdr := p.headerSize()
	if len(data) < hdr {
		return nil, fmt.Errorf("sortedfile: page %d truncated header (%d bytes)", lpn, len(data))
	}
	p.data = make([]byte, len(data), max(len(data), hdr+64*(nodeOverhead+p.nodeSize)))
	copy(p.data, data)
	p.count = int(encoding.Fixed16(p.data[1:]))
	p.root = int(encoding.Fixed16(p.data[3:]))
	p.free = int(encoding.Fixed16(p.data[5:]))
	p.alloc = int(encoding.Fixed16(p.data[7:]))
	if p.level > 0 {
		p.firstPage = encoding.Fixed64(p.data[9:])
	}
	if p.alloc > p.maxNodes || p.root > p.alloc || len(p.data) < hdr+p.alloc*(nodeOverhead+p.nodeSize) {
		return nil, fmt.Errorf("sortedfile: page %d inconsistent header (alloc=%d root=%d len=%d)", lpn, p.alloc, p.root, len(p.data))
	}
	for id := p.free; id != 0; {
		p.freeCount++
		id, _ = p.children(id)
	}
	return p, nil
}

func (p *Page) setGeometry(recSize, pageMax int) {
	if p.level == 0 {
		p.nodeSize = recSize
	} else {
		p.nodeSize = p.keySize + 8
	}
	p.maxNodes = (pageMax - interiorHeaderSize) / (nodeOverhead + p.nodeSize)
	if p.maxNodes > maxNodeID {
		p.maxNodes = maxNodeID
	}
	if p.maxNodes < 2 {
		panic(fmt.Sprintf("sortedfile: record size %d too large for page maximum %d", p.nodeSize, pageMax))
	}
}

func (p *Page) headerSize() int {
	if p.level == 0 {
		return leafHeaderSize
	}
	return interiorHeaderSize
}

// serialized returns the page image with the header fields written back.
func (p *Page) serialized() []byte {
	p.data[0] = byte(p.level)
	encoding.PutFixed16(p.data[1:], uint16(p.count))
	encoding.PutFixed16(p.data[3:], uint16(p.root))
	encoding.PutFixed16(p.data[5:], uint16(p.free))
	encoding.PutFixed16(p.data[7:], uint16(p.alloc))
	if p.level > 0 {
		encoding.PutFixed64(p.data[9:], p.firstPage)
	}
	return p.data[:p.headerSize()+p.alloc*(nodeOverhead+p.nodeSize)]
}

// Lpn returns the logical page number.
func (p *Page) Lpn() uint64 { return p.lpn }

// Count returns the number of live records on the page.
func (p *Page) Count() int { return p.count }

// Data exposes the page buffer. A writer may update non-key record bytes
// in place through it, followed by MarkDirty.
func (p *Page) Data() []byte { return p.data }

// MarkDirty notes that the page buffer was modified in place.
func (p *Page) MarkDirty() { p.dirty = true }

// full reports whether the page cannot take one more record.
func (p *Page) full() bool {
	return p.free == 0 && p.alloc >= p.maxNodes
}

func (p *Page) nodeOff(id int) int {
	return p.headerSize() + (id-1)*(nodeOverhead+p.nodeSize)
}

// recOff returns the offset of node id's record bytes within the buffer.
func (p *Page) recOff(id int) int {
	return p.nodeOff(id) + nodeOverhead
}

// rec returns node id's record bytes.
func (p *Page) rec(id int) []byte {
	off := p.recOff(id)
	return p.data[off : off+p.nodeSize]
}

// head decodes node id's packed overhead bytes.
func (p *Page) head(id int) (left, right, bal int) {
	off := p.nodeOff(id)
	v := uint32(p.data[off]) | uint32(p.data[off+1])<<8 | uint32(p.data[off+2])<<16
	return int(v & maxNodeID), int(v >> 11 & maxNodeID), int(v >> 22)
}

func (p *Page) setHead(id, left, right, bal int) {
	off := p.nodeOff(id)
	v := uint32(left) | uint32(right)<<11 | uint32(bal)<<22
	p.data[off] = byte(v)
	p.data[off+1] = byte(v >> 8)
	p.data[off+2] = byte(v >> 16)
}

func (p *Page) children(id int) (left, right int) {
	l, r, _ := p.head(id)
	return l, r
}

func (p *Page) setLeft(id, left int) {
	_, r, b := p.head(id)
	p.setHead(id, left, r, b)
}

func (p *Page) setRight(id, right int) {
	l, _, b := p.head(id)
	p.setHead(id, l, right, b)
}

func (p *Page) setBal(id, bal int) {
	l, r, _ := p.head(id)
	p.setHead(id, l, r, bal)
}

func (p *Page) bal(id int) int {
	_, _, b := p.head(id)
	return b
}

// childOf returns the child page number of an interior routing record.
func (p *Page) childOf(id int) uint64 {
	return encoding.Fixed64(p.rec(id)[p.keySize:])
}

// allocNode takes a node slot from the free list, or extends the node
// array. REQUIRES: !p.full().
func (p *Page) allocNode() int {
	if p.free != 0 {
		id := p.free
		p.free, _ = p.children(id)
		p.freeCount--
		return id
	}
	p.alloc++
	need := p.headerSize() + p.alloc*(nodeOverhead+p.nodeSize)
	for len(p.data) < need {
		p.data = append(p.data, 0)
	}
	return p.alloc
}

// freeNode links a node slot onto the free list.
func (p *Page) freeNode(id int) {
	p.setHead(id, p.free, 0, balEven)
	p.free = id
	p.freeCount++
}

// insert adds r to the page tree, or overwrites the record in place when
// an equal record exists. REQUIRES: !p.full() unless overwriting.
func (p *Page) insert(r Storable) {
	p.root, _ = p.insertInto(p.root, r)
	p.dirty = true
}

func (p *Page) insertInto(x int, r Storable) (int, bool) {
	if x == 0 {
		n := p.allocNode()
		p.setHead(n, 0, 0, balEven)
		r.Save(p.rec(n))
		p.count++
		return n, true
	}
	c := r.Compare(p.rec(x))
	switch {
	case c == 0:
		r.Save(p.rec(x))
		return x, false
	case c < 0:
		nl, grew := p.insertInto(p.leftOf(x), r)
		p.setLeft(x, nl)
		if !grew {
			return x, false
		}
		return p.growLeft(x)
	default:
		nr, grew := p.insertInto(p.rightOf(x), r)
		p.setRight(x, nr)
		if !grew {
			return x, false
		}
		return p.growRight(x)
	}
}

func (p *Page) leftOf(id int) int {
	l, _ := p.children(id)
	return l
}

func (p *Page) rightOf(id int) int {
	_, r := p.children(id)
	return r
}

// growLeft rebalances x after its left subtree gained height.
func (p *Page) growLeft(x int) (int, bool) {
	switch p.bal(x) {
	case balRight:
		p.setBal(x, balEven)
		return x, false
	case balEven:
		p.setBal(x, balLeft)
		return x, true
	}
	// Left-left or left-right: rotate.
	l := p.leftOf(x)
	if p.bal(l) == balLeft {
		p.setLeft(x, p.rightOf(l))
		p.setRight(l, x)
		p.setBal(x, balEven)
		p.setBal(l, balEven)
		return l, false
	}
	lr := p.rightOf(l)
	p.setRight(l, p.leftOf(lr))
	p.setLeft(x, p.rightOf(lr))
	p.setLeft(lr, l)
	p.setRight(lr, x)
	switch p.bal(lr) {
	case balLeft:
		p.setBal(l, balEven)
		p.setBal(x, balRight)
	case balRight:
		p.setBal(l, balLeft)
		p.setBal(x, balEven)
	default:
		p.setBal(l, balEven)
		p.setBal(x, balEven)
	}
	p.setBal(lr, balEven)
	return lr, false
}

// growRight rebalances x after its right subtree gained height.
func (p *Page) growRight(x int) (int, bool) {
	switch p.bal(x) {
	case balLeft:
		p.setBal(x, balEven)
		return x, false
	case balEven:
		p.setBal(x, balRight)
		return x, true
	}
	r := p.rightOf(x)
	if p.bal(r) == balRight {
		p.setRight(x, p.leftOf(r))
		p.setLeft(r, x)
		p.setBal(x, balEven)
		p.setBal(r, balEven)
		return r, false
	}
	rl := p.leftOf(r)
	p.setLeft(r, p.rightOf(rl))
	p.setRight(x, p.leftOf(rl))
	p.setRight(rl, r)
	p.setLeft(rl, x)
	switch p.bal(rl) {
	case balRight:
		p.setBal(r, balEven)
		p.setBal(x, balLeft)
	case balLeft:
		p.setBal(r, balRight)
		p.setBal(x, balEven)
	default:
		p.setBal(r, balEven)
		p.setBal(x, balEven)
	}
	p.setBal(rl, balEven)
	return rl, false
}

// remove deletes the record equal to r, reporting whether one was found.
func (p *Page) remove(r Record) bool {
	var removed bool
	p.root, removed, _ = p.removeFrom(p.root, r)
	if removed {
		p.dirty = true
	}
	return removed
}

func (p *Page) removeFrom(x int, r Record) (int, bool, bool) {
	if x == 0 {
		return 0, false, false
	}
	c := r.Compare(p.rec(x))
	switch {
	case c < 0:
		nl, removed, sh := p.removeFrom(p.leftOf(x), r)
		p.setLeft(x, nl)
		if !sh {
			return x, removed, false
		}
		nx, sh2 := p.shrinkLeft(x)
		return nx, removed, sh2
	case c > 0:
		nr, removed, sh := p.removeFrom(p.rightOf(x), r)
		p.setRight(x, nr)
		if !sh {
			return x, removed, false
		}
		nx, sh2 := p.shrinkRight(x)
		return nx, removed, sh2
	}
	// Found. A node with fewer than two children unlinks directly.
	l, rt := p.children(x)
	if l == 0 || rt == 0 {
		child := l
		if child == 0 {
			child = rt
		}
		p.freeNode(x)
		p.count--
		return child, true, true
	}
	// Two children: move the in-order successor's record here, then
	// unlink the successor from the right subtree.
	minID := rt
	for p.leftOf(minID) != 0 {
		minID = p.leftOf(minID)
	}
	copy(p.rec(x), p.rec(minID))
	nr, sh := p.removeMin(rt)
	p.setRight(x, nr)
	if !sh {
		return x, true, false
	}
	nx, sh2 := p.shrinkRight(x)
	return nx, true, sh2
}

func (p *Page) removeMin(x int) (int, bool) {
	if p.leftOf(x) == 0 {
		r := p.rightOf(x)
		p.freeNode(x)
		p.count--
		return r, true
	}
	nl, sh := p.removeMin(p.leftOf(x))
	p.setLeft(x, nl)
	if !sh {
		return x, false
	}
	return p.shrinkLeft(x)
}

// shrinkLeft rebalances x after its left subtree lost height. The second
// result reports whether the subtree rooted at x shrank.
func (p *Page) shrinkLeft(x int) (int, bool) {
	switch p.bal(x) {
	case balLeft:
		p.setBal(x, balEven)
		return x, true
	case balEven:
		p.setBal(x, balRight)
		return x, false
	}
	r := p.rightOf(x)
	switch p.bal(r) {
	case balEven:
		p.setRight(x, p.leftOf(r))
		p.setLeft(r, x)
		p.setBal(x, balRight)
		p.setBal(r, balLeft)
		return r, false
	case balRight:
		p.setRight(x, p.leftOf(r))
		p.setLeft(r, x)
		p.setBal(x, balEven)
		p.setBal(r, balEven)
		return r, true
	}
	rl := p.leftOf(r)
	p.setLeft(r, p.rightOf(rl))
	p.setRight(x, p.leftOf(rl))
	p.setRight(rl, r)
	p.setLeft(rl, x)
	switch p.bal(rl) {
	case balRight:
		p.setBal(x, balLeft)
		p.setBal(r, balEven)
	case balLeft:
		p.setBal(x, balEven)
		p.setBal(r, balRight)
	default:
		p.setBal(x, balEven)
		p.setBal(r, balEven)
	}
	p.setBal(rl, balEven)
	return rl, true
}

// shrinkRight rebalances x after its right subtree lost height.
func (p *Page) shrinkRight(x int) (int, bool) {
	switch p.bal(x) {
	case balRight:
		p.setBal(x, balEven)
		return x, true
	case balEven:
		p.setBal(x, balLeft)
		return x, false
	}
	l := p.leftOf(x)
	switch p.bal(l) {
	case balEven:
		p.setLeft(x, p.rightOf(l))
		p.setRight(l, x)
		p.setBal(x, balLeft)
		p.setBal(l, balRight)
		return l, false
	case balLeft:
		p.setLeft(x, p.rightOf(l))
		p.setRight(l, x)
		p.setBal(x, balEven)
		p.setBal(l, balEven)
		return l, true
	}
	lr := p.rightOf(l)
	p.setRight(l, p.leftOf(lr))
	p.setLeft(x, p.rightOf(lr))
	p.setLeft(lr, l)
	p.setRight(lr, x)
	switch p.bal(lr) {
	case balLeft:
		p.setBal(x, balRight)
		p.setBal(l, balEven)
	case balRight:
		p.setBal(x, balEven)
		p.setBal(l, balLeft)
	default:
		p.setBal(x, balEven)
		p.setBal(l, balEven)
	}
	p.setBal(lr, balEven)
	return lr, true
}

// find returns the node id of the record equal to r, or 0.
func (p *Page) find(r Record) int {
	x := p.root
	for x != 0 {
		c := r.Compare(p.rec(x))
		if c == 0 {
			return x
		}
		if c < 0 {
			x = p.leftOf(x)
		} else {
			x = p.rightOf(x)
		}
	}
	return 0
}

// findChild returns the child page that may hold r: the child of the
// greatest routing entry at or before r, or the leftmost child.
// REQUIRES: p.level > 0.
func (p *Page) findChild(r Record) uint64 {
	child, _ := p.findChildNode(r)
	return child
}

// findChildNode is findChild plus the node id of the routing entry the
// descent chose (0 when it chose the leftmost child).
func (p *Page) findChildNode(r Record) (uint64, int) {
	x, best := p.root, 0
	for x != 0 {
		if r.Compare(p.rec(x)) < 0 {
			x = p.leftOf(x)
		} else {
			best = x
			x = p.rightOf(x)
		}
	}
	if best == 0 {
		return p.firstPage, 0
	}
	return p.childOf(best), best
}

// maxNode returns the node id of the greatest record, or 0 when empty.
func (p *Page) maxNode() int {
	x := p.root
	for x != 0 && p.rightOf(x) != 0 {
		x = p.rightOf(x)
	}
	return x
}

// inorderFrom returns the node ids of records at or after r, in
// ascending order. A nil r returns all records.
func (p *Page) inorderFrom(r Record) []int {
	out := make([]int, 0, p.count)
	stack := make([]int, 0, 32)
	pushLeft := func(x int) {
		for x != 0 {
			if r != nil && r.Compare(p.rec(x)) > 0 {
				// r sorts after this node: skip it and its left subtree.
				x = p.rightOf(x)
				continue
			}
			stack = append(stack, x)
			x = p.leftOf(x)
		}
	}
	pushLeft(p.root)
	for len(stack) > 0 {
		x := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, x)
		pushLeft(p.rightOf(x))
	}
	return out
}

// records returns copies of the record bytes for the given node ids.
func (p *Page) records(ids []int) [][]byte {
	recs := make([][]byte, len(ids))
	for i, id := range ids {
		rec := make([]byte, p.nodeSize)
		copy(rec, p.rec(id))
		recs[i] = rec
	}
	return recs
}

// build resets the page and lays recs (sorted) out as a perfectly
// balanced tree with a tight node array.
func (p *Page) build(recs [][]byte) {
	if len(recs) > p.maxNodes {
		panic(fmt.Sprintf("sortedfile: building %d records into a page of %d nodes", len(recs), p.maxNodes))
	}
	p.root, p.free, p.alloc, p.count, p.freeCount = 0, 0, 0, 0, 0
	p.data = p.data[:p.headerSize()]
	var bld func(lo, hi int) (int, int)
	bld = func(lo, hi int) (int, int) {
		if lo > hi {
			return 0, 0
		}
		mid := (lo + hi) / 2
		left, lh := bld(lo, mid-1)
		right, rh := bld(mid+1, hi)
		id := p.allocNode()
		copy(p.rec(id), recs[mid])
		bal := balEven
		if lh > rh {
			bal = balLeft
		} else if rh > lh {
			bal = balRight
		}
		p.setHead(id, left, right, bal)
		return id, max(lh, rh) + 1
	}
	p.root, _ = bld(0, len(recs)-1)
	p.count = len(recs)
	p.dirty = true
}
