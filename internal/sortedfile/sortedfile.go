package sortedfile

import (
	"fmt"
	"sort"

	"github.com/oakdb/oakdb/internal/encoding"
	"github.com/oakdb/oakdb/internal/stash"
)

// File is sorted storage of fixed-size records, arranged as a tree of
// logical pages rooted at a fixed page number.
//
// Pages are cached per File and written back on Save; Rollback discards
// the cache. A File belongs to one Access (one transaction) and is not
// safe for concurrent use.
type File struct {
	recSize int
	keySize int
	rootLpn uint64

	pages map[uint64]*Page
}

// New creates a sorted file handle. recSize is the record size, keySize
// the leading bytes that form the ordering key, rootLpn the fixed root
// page.
func New(recSize, keySize int, rootLpn uint64) *File {
	if keySize > recSize || keySize == 0 {
		panic(fmt.Sprintf("sortedfile: key size %d out of range for record size %d", keySize, recSize))
	}
	return &File{
		recSize: recSize,
		keySize: keySize,
		rootLpn: rootLpn,
	}
}

// RecordSize returns the fixed record size.
func (sf *File) RecordSize() int { return sf.recSize }

// load returns the cached Page for lpn, reading it through a on a miss.
func (sf *File) load(a *stash.Access, lpn uint64) (*Page, error) {
	if sf.pages == nil {
		sf.pages = make(map[uint64]*Page)
	}
	if p, ok := sf.pages[lpn]; ok {
		return p, nil
	}
	data, err := a.GetPage(lpn)
	if err != nil {
		return nil, err
	}
	p, err := loadPage(lpn, data, sf.recSize, sf.keySize, a.PageSizeMax())
	if err != nil {
		return nil, err
	}
	sf.pages[lpn] = p
	return p, nil
}

// Insert adds r to the file, or overwrites the stored record equal to r.
func (sf *File) Insert(a *stash.Access, r Storable) error {
	root, err := sf.load(a, sf.rootLpn)
	if err != nil {
		return err
	}
	if root.full() {
		if err := sf.growRoot(a, root); err != nil {
			return err
		}
		root = sf.pages[sf.rootLpn]
	}
	return sf.insertAt(a, root, r)
}

// insertAt descends from p to the leaf where r belongs, splitting any
// full child before stepping into it so the divider insertion above
// always has room.
func (sf *File) insertAt(a *stash.Access, p *Page, r Storable) error {
	for p.level > 0 {
		childLpn := p.findChild(r)
		child, err := sf.load(a, childLpn)
		if err != nil {
			return err
		}
		if child.full() {
			div, err := sf.split(a, child, r)
			if err != nil {
				return err
			}
			p.insert(div)
			// The divider may route r into the new right page.
			childLpn = p.findChild(r)
			child, err = sf.load(a, childLpn)
			if err != nil {
				return err
			}
		}
		p = child
	}
	p.insert(r)
	return nil
}

// routing is the divider record a split pushes into the parent page:
// key bytes followed by the right page number.
type routing struct {
	key     Storable
	keySize int
	child   uint64
}

func (r *routing) Compare(data []byte) int { return r.key.Compare(data) }

func (r *routing) Save(data []byte) {
	r.key.Save(data[:r.keySize])
	encoding.PutFixed64(data[r.keySize:], r.child)
}

func (r *routing) Key(data []byte) (Record, error) { return r.key.(Storable).Key(data) }

// split divides full page p in two: the upper half of its records moves
// to a freshly allocated right page, and the divider comes back for
// insertion into the parent. proto supplies key semantics: the divider
// key is re-materialised with proto.Key so it owns its resources
// independently of the leaf record it was copied from.
func (sf *File) split(a *stash.Access, p *Page, proto Storable) (*routing, error) {
	ids := p.inorderFrom(nil)
	recs := p.records(ids)
	h := len(recs) / 2

	lpn, err := a.AllocPage()
	if err != nil {
		return nil, err
	}
	right := newPage(lpn, p.level, sf.recSize, sf.keySize, a.PageSizeMax())

	var divBytes []byte
	if p.level > 0 {
		// The middle routing entry is consumed: its child becomes the
		// right page's leftmost child and its key moves to the parent.
		mid := recs[h]
		right.firstPage = encoding.Fixed64(mid[p.keySize:])
		right.build(recs[h+1:])
		divBytes = mid
	} else {
		right.build(recs[h:])
		divBytes = recs[h]
	}
	p.build(recs[:h])

	keyRec, err := proto.Key(divBytes)
	if err != nil {
		return nil, err
	}
	key, ok := keyRec.(Storable)
	if !ok {
		panic("sortedfile: Key must return a Storable for records that are inserted")
	}
	if p.level > 0 {
		// The consumed routing entry's key was replaced by the fresh one.
		if kd, hasKD := proto.(KeyDropper); hasKD {
			kd.DropKey(divBytes)
		}
	}
	if sf.pages == nil {
		sf.pages = make(map[uint64]*Page)
	}
	sf.pages[lpn] = right
	return &routing{key: key, keySize: sf.keySize, child: lpn}, nil
}

// growRoot adds a level: the root page's entire contents move to a fresh
// child page, and the root is reborn as an interior page above it. The
// root page number never changes.
func (sf *File) growRoot(a *stash.Access, root *Page) error {
	lpn, err := a.AllocPage()
	if err != nil {
		return err
	}
	moved := *root
	moved.lpn = lpn
	moved.dirty = true
	sf.pages[lpn] = &moved

	grown := newPage(sf.rootLpn, root.level+1, sf.recSize, sf.keySize, a.PageSizeMax())
	grown.firstPage = lpn
	grown.dirty = true
	sf.pages[sf.rootLpn] = grown
	return nil
}

// Get returns the page and record offset of the stored record equal to
// r, or ok false.
func (sf *File) Get(a *stash.Access, r Record) (*Page, int, bool, error) {
	lpn := sf.rootLpn
	for {
		p, err := sf.load(a, lpn)
		if err != nil {
			return nil, 0, false, err
		}
		if p.level == 0 {
			id := p.find(r)
			if id == 0 {
				return nil, 0, false, nil
			}
			return p, p.recOff(id), true, nil
		}
		lpn = p.findChild(r)
	}
}

// Last returns the page and record offset of the greatest stored
// record, or ok false when the file is empty. Pages are never merged, so
// a leaf can be empty; children are searched from the rightmost leftward.
func (sf *File) Last(a *stash.Access) (*Page, int, bool, error) {
	pending := []uint64{sf.rootLpn}
	for len(pending) > 0 {
		lpn := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		p, err := sf.load(a, lpn)
		if err != nil {
			return nil, 0, false, err
		}
		if p.level > 0 {
			pending = append(pending, p.firstPage)
			for _, id := range p.inorderFrom(nil) {
				pending = append(pending, p.childOf(id))
			}
			continue
		}
		id := p.maxNode()
		if id == 0 {
			continue
		}
		return p, p.recOff(id), true, nil
	}
	return nil, 0, false, nil
}

// Remove deletes the stored record equal to r, reporting whether one
// existed.
func (sf *File) Remove(a *stash.Access, r Record) (bool, error) {
	lpn := sf.rootLpn
	for {
		p, err := sf.load(a, lpn)
		if err != nil {
			return false, err
		}
		if p.level == 0 {
			return p.remove(r), nil
		}
		lpn = p.findChild(r)
	}
}

// Save writes all dirty pages through the access. Underfull dirty pages
// are re-emitted tightly first when the slack would drop an extension
// page.
func (sf *File) Save(a *stash.Access) error {
	lpns := make([]uint64, 0, len(sf.pages))
	for lpn, p := range sf.pages {
		if p.dirty {
			lpns = append(lpns, lpn)
		}
	}
	sort.Slice(lpns, func(i, j int) bool { return lpns[i] < lpns[j] })
	for _, lpn := range lpns {
		p := sf.pages[lpn]
		if p.freeCount > 0 {
			size := len(p.serialized())
			slack := p.freeCount * (nodeOverhead + p.nodeSize)
			if a.Worthwhile(size, slack) {
				p.build(p.records(p.inorderFrom(nil)))
			}
		}
		img := p.serialized()
		out := make([]byte, len(img))
		copy(out, img)
		if err := a.SetPage(lpn, out); err != nil {
			return err
		}
		p.dirty = false
	}
	return nil
}

// Rollback discards all cached pages, clean and dirty; the next access
// reloads from the store.
func (sf *File) Rollback() {
	sf.pages = nil
}

// Free releases every page of the file. proto supplies KeyDropper
// semantics for releasing resources owned by stored keys; pass a plain
// Record when keys own nothing.
func (sf *File) Free(a *stash.Access, proto Record) error {
	return sf.freeFrom(a, sf.rootLpn, proto)
}

func (sf *File) freeFrom(a *stash.Access, lpn uint64, proto Record) error {
	p, err := sf.load(a, lpn)
	if err != nil {
		return err
	}
	kd, hasKD := proto.(KeyDropper)
	if p.level > 0 {
		if err := sf.freeFrom(a, p.firstPage, proto); err != nil {
			return err
		}
		for _, id := range p.inorderFrom(nil) {
			if err := sf.freeFrom(a, p.childOf(id), proto); err != nil {
				return err
			}
			if hasKD {
				kd.DropKey(p.rec(id)[:p.keySize])
			}
		}
	} else if hasKD {
		for _, id := range p.inorderFrom(nil) {
			kd.DropKey(p.rec(id))
		}
	}
	delete(sf.pages, lpn)
	return a.FreePage(lpn)
}
