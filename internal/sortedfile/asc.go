package sortedfile

import "github.com/oakdb/oakdb/internal/stash"

// Asc iterates the file's records in ascending key order, starting at
// the first record at or after the start key.
//
// The iterator keeps an explicit stack of (page, pending node ids)
// frames and re-fetches pages through the access, so pages reference
// each other only by page number. It is invalidated by any write to the
// file.
type Asc struct {
	sf    *File
	a     *stash.Access
	stack []ascFrame
	err   error
}

type ascFrame struct {
	page *Page
	// ids are the node ids still to visit: records for a leaf frame,
	// routing entries (children still to descend into) for an interior
	// frame.
	ids []int
	// head is the interior page's leftmost child, visited before ids.
	head    uint64
	hasHead bool
}

// Asc returns an iterator positioned at the first record whose key is at
// or after start. Zero{} starts at the beginning.
func (sf *File) Asc(a *stash.Access, start Record) *Asc {
	asc := &Asc{sf: sf, a: a}
	lpn := sf.rootLpn
	for {
		p, err := sf.load(a, lpn)
		if err != nil {
			asc.err = err
			return asc
		}
		if p.level == 0 {
			asc.stack = append(asc.stack, ascFrame{page: p, ids: p.inorderFrom(start)})
			return asc
		}
		child, bestID := p.findChildNode(start)
		rest := p.inorderFrom(start)
		if len(rest) > 0 && rest[0] == bestID {
			// The boundary routing entry compares equal to start; we are
			// about to descend into its child directly.
			rest = rest[1:]
		}
		asc.stack = append(asc.stack, ascFrame{page: p, ids: rest})
		lpn = child
	}
}

// Next advances to the next record, returning its page and the offset of
// its bytes within the page buffer. ok is false when iteration ends or
// fails; check Err afterwards.
func (asc *Asc) Next() (p *Page, off int, ok bool) {
	if asc.err != nil {
		return nil, 0, false
	}
	for len(asc.stack) > 0 {
		f := &asc.stack[len(asc.stack)-1]
		if f.hasHead {
			f.hasHead = false
			if !asc.descend(f.head) {
				return nil, 0, false
			}
			continue
		}
		if len(f.ids) == 0 {
			asc.stack = asc.stack[:len(asc.stack)-1]
			continue
		}
		id := f.ids[0]
		f.ids = f.ids[1:]
		if f.page.level > 0 {
			if !asc.descend(f.page.childOf(id)) {
				return nil, 0, false
			}
			continue
		}
		return f.page, f.page.recOff(id), true
	}
	return nil, 0, false
}

// Err returns the first error iteration hit, if any.
func (asc *Asc) Err() error {
	return asc.err
}

func (asc *Asc) descend(lpn uint64) bool {
	p, err := asc.sf.load(asc.a, lpn)
	if err != nil {
		asc.err = err
		return false
	}
	asc.stack = append(asc.stack, ascFrame{
		page:    p,
		ids:     p.inorderFrom(nil),
		head:    p.firstPage,
		hasHead: p.level > 0,
	})
	return true
}
