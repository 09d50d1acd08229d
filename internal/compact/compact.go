// Package compact stores logical pages of variable size in smaller
// regions of a byte-addressable backing store.
//
// Each logical page has a fixed-size "starter" slot. A logical page that
// does not fit in its starter slot has one or more "extension" pages.
// Each extension page starts with its owning logical page number, so
// extension pages can be relocated as required.
//
// A new extension page is allocated from the end of the store. When an
// extension page is freed, the last extension page in the store is
// relocated to fill the hole. If the starter array needs to grow, the
// first extension page after the reserved region is relocated to the end.
//
// Store layout: file header | starter slots | extension pages.
//
// Layout of a starter slot: 2-byte logical page size | array of 8-byte
// extension page numbers | inline data | unused tail.
//
// For a free logical page, the link to the next free page is stored
// directly after the (zero) size field.
//
// Layout of an extension page: 8-byte logical page number | data.
//
// All integers are little-endian. Logical frees and the resulting hole
// compaction are deferred: they take effect at Save, so Rollback can
// discard them without touching page data.
package compact

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/oakdb/oakdb/internal/encoding"
	"github.com/oakdb/oakdb/internal/logging"
	"github.com/oakdb/oakdb/storage"
)

const (
	// HeaderSize is the size of the file header:
	// epResvd u64 | lpAlloc u64 | lpFirst u64 | spSize u16 | epSize u16.
	HeaderSize = 28

	// DefaultStarterSize is the default starter slot size.
	// It admits up to 16 extension page numbers: (16+1)*8.
	DefaultStarterSize = 136

	// DefaultExtensionSize is the default extension page size.
	DefaultExtensionSize = 1024

	// initialReserved is the number of extension-page-sized units
	// reserved for the header and starter slots in a fresh store.
	initialReserved = 12

	// NullPage marks the end of the free logical page list.
	NullPage = math.MaxUint64
)

// ErrCorrupt reports an invariant violation detected while reading the
// store: a size field out of range, a back-pointer mismatch, or an
// extension list that does not contain a page it must. There is no
// in-place repair; the operation stops.
var ErrCorrupt = errors.New("compact: corrupt file")

// File maps logical page numbers onto starter slots and extension pages
// of a backing store.
//
// File is not safe for concurrent use; the page cache above serialises
// access to it.
type File struct {
	stg storage.Storage
	log logging.Logger

	spSize int // starter slot size
	epSize int // extension page size

	epResvd uint64 // extension pages reserved for header + starter slots
	epCount uint64 // extension pages allocated (store size / epSize)
	epFree  uintSet

	lpAlloc      uint64 // next never-used logical page number
	lpFirst      uint64 // head of the persistent free list, NullPage = empty
	lpAllocDirty bool   // lpAlloc/lpFirst differ from the stored header
	lpFree       uintSet

	// lpAllocSaved/lpFirstSaved mirror the allocation state as of the
	// last save, so Rollback can restore it without a header read.
	lpAllocSaved uint64
	lpFirstSaved uint64

	isNew    bool
	hdrDirty bool // geometry header fields not yet written

	// Scratch buffers sized to this file's geometry, recycled across
	// calls: one pool of starter-slot buffers, one of extension-page
	// buffers.
	spBuf bufPool
	epBuf bufPool
}

// bufPool recycles fixed-size scratch buffers.
type bufPool struct {
	pool sync.Pool
}

func (b *bufPool) init(size int) {
	b.pool.New = func() any { return make([]byte, size) }
}

func (b *bufPool) get() []byte {
	return b.pool.Get().([]byte)
}

// getZeroed returns a buffer with every byte zero.
func (b *bufPool) getZeroed() []byte {
	buf := b.get()
	clear(buf)
	return buf
}

func (b *bufPool) put(buf []byte) {
	b.pool.Put(buf)
}

// Open constructs a File over stg. For a fresh store the supplied starter
// and extension sizes take effect, reaching the header at the first save;
// an existing store uses the sizes read back from its header. Zero sizes
// select the defaults.
func Open(stg storage.Storage, spSize, epSize int, log logging.Logger) (*File, error) {
	if spSize == 0 {
		spSize = DefaultStarterSize
	}
	if epSize == 0 {
		epSize = DefaultExtensionSize
	}
	if spSize < 26 || spSize > epSize || epSize > math.MaxUint16 {
		panic(fmt.Sprintf("compact: invalid geometry sp=%d ep=%d", spSize, epSize))
	}
	fsize, err := stg.Size()
	if err != nil {
		return nil, err
	}
	f := &File{
		stg:     stg,
		log:     logging.OrDefault(log),
		spSize:  spSize,
		epSize:  epSize,
		epResvd: initialReserved,
		lpFirst: NullPage,
		isNew:   fsize == 0,
	}
	if f.isNew {
		// Nothing touches the store until the first save; an abandoned
		// fresh store stays empty and reads as new on the next open.
		f.hdrDirty = true
		f.lpAllocDirty = true
	} else {
		var h [HeaderSize]byte
		if err := f.stg.Read(0, h[:]); err != nil {
			return nil, err
		}
		f.epResvd = encoding.Fixed64(h[0:])
		f.lpAlloc = encoding.Fixed64(h[8:])
		f.lpFirst = encoding.Fixed64(h[16:])
		f.spSize = int(encoding.Fixed16(h[24:]))
		f.epSize = int(encoding.Fixed16(h[26:]))
		if f.spSize < 26 || f.epSize < f.spSize || f.epResvd == 0 {
			return nil, fmt.Errorf("%w: bad header sp=%d ep=%d resvd=%d", ErrCorrupt, f.spSize, f.epSize, f.epResvd)
		}
	}
	f.spBuf.init(f.spSize)
	f.epBuf.init(f.epSize)
	f.epCount = (fsize + uint64(f.epSize) - 1) / uint64(f.epSize)
	if f.epCount < f.epResvd {
		f.epCount = f.epResvd
	}
	f.lpAllocSaved = f.lpAlloc
	f.lpFirstSaved = f.lpFirst
	return f, nil
}

// IsNew reports whether the backing store was empty at Open and has not
// been saved since.
func (f *File) IsNew() bool {
	return f.isNew
}

// StarterSize returns the starter slot size.
func (f *File) StarterSize() int {
	return f.spSize
}

// ExtensionSize returns the extension page size.
func (f *File) ExtensionSize() int {
	return f.epSize
}

// PageMax returns the largest logical page the geometry can hold.
func (f *File) PageMax() int {
	return PageMax(f.spSize, f.epSize)
}

// StarterSlots returns the number of starter slots the reserved region
// currently covers; logical page numbers at or beyond it have never been
// written.
func (f *File) StarterSlots() uint64 {
	return (f.epResvd*uint64(f.epSize) - HeaderSize) / uint64(f.spSize)
}

// AllocPage allocates a logical page number. Pages are numbered 0,1,2...
// A page freed since the last save is reused first, then the persistent
// free list, then a never-used number.
func (f *File) AllocPage() (uint64, error) {
	if p, ok := f.lpFree.popMin(); ok {
		return p, nil
	}
	f.lpAllocDirty = true
	if f.lpFirst != NullPage {
		p := f.lpFirst
		next, err := f.readU64(HeaderSize + p*uint64(f.spSize) + 2)
		if err != nil {
			return 0, err
		}
		f.lpFirst = next
		return p, nil
	}
	p := f.lpAlloc
	f.lpAlloc++
	return p, nil
}

// FreePage marks a logical page number free. The free takes effect at
// Save; until then the number may be reallocated, and SetPage on it
// un-frees it.
func (f *File) FreePage(lpn uint64) {
	f.lpFree.insert(lpn)
}

// SetPage writes data as the contents of logical page lpn, allocating or
// releasing extension pages as the size requires.
func (f *File) SetPage(lpn uint64, data []byte) error {
	size := len(data)
	if size > f.PageMax() {
		panic(fmt.Sprintf("compact: page %d bytes exceeds maximum %d", size, f.PageMax()))
	}
	f.lpFree.remove(lpn)
	if err := f.extendStarterRegion(lpn); err != nil {
		return err
	}
	ext := f.ext(size)

	off := HeaderSize + uint64(f.spSize)*lpn
	starter := f.spBuf.get()
	defer f.spBuf.put(starter)
	if err := f.stg.Read(off, starter); err != nil {
		return err
	}
	oldSize := int(encoding.Fixed16(starter))
	oldExt := f.ext(oldSize)
	encoding.PutFixed16(starter, uint16(size))

	if ext != oldExt {
		// Release surplus pages into the deferred free set.
		for oldExt > ext {
			oldExt--
			f.epFree.insert(encoding.Fixed64(starter[2+oldExt*8:]))
		}
		// Allocate the shortfall.
		for oldExt < ext {
			np := f.epAlloc()
			encoding.PutFixed64(starter[2+oldExt*8:], np)
			oldExt++
		}
	}

	// Write the starter slot: size, extension list, leading data bytes.
	hdr := 2 + ext*8
	done := min(f.spSize-hdr, size)
	copy(starter[hdr:hdr+done], data[:done])
	if err := f.stg.Write(off, starter[:hdr+done]); err != nil {
		return err
	}

	// Write the extension pages.
	for i := 0; i < ext; i++ {
		amount := min(size-done, f.epSize-8)
		page := encoding.Fixed64(starter[2+i*8:])
		woff := page * uint64(f.epSize)
		if err := f.writeU64(woff, lpn); err != nil {
			return err
		}
		if err := f.stg.Write(woff+8, data[done:done+amount]); err != nil {
			return err
		}
		done += amount
	}
	if done != size {
		panic("compact: extension arithmetic out of step")
	}
	return nil
}

// PageSize returns the current size in bytes of logical page lpn.
func (f *File) PageSize(lpn uint64) (int, error) {
	if !f.lpValid(lpn) {
		return 0, nil
	}
	var b [2]byte
	if err := f.stg.Read(HeaderSize+uint64(f.spSize)*lpn, b[:]); err != nil {
		return 0, err
	}
	return int(encoding.Fixed16(b[:])), nil
}

// GetPage reads the contents of logical page lpn. A page that was never
// written (or lies beyond the starter region) reads as empty.
func (f *File) GetPage(lpn uint64) ([]byte, error) {
	if !f.lpValid(lpn) {
		return nil, nil
	}
	off := HeaderSize + uint64(f.spSize)*lpn
	starter := f.spBuf.get()
	defer f.spBuf.put(starter)
	if err := f.stg.Read(off, starter); err != nil {
		return nil, err
	}
	size := int(encoding.Fixed16(starter))
	if size > f.PageMax() {
		return nil, fmt.Errorf("%w: page %d size field %d exceeds maximum %d", ErrCorrupt, lpn, size, f.PageMax())
	}
	ext := f.ext(size)
	data := make([]byte, size)

	hdr := 2 + ext*8
	done := min(size, f.spSize-hdr)
	copy(data[:done], starter[hdr:hdr+done])

	for i := 0; i < ext; i++ {
		amount := min(size-done, f.epSize-8)
		page := encoding.Fixed64(starter[2+i*8:])
		roff := page * uint64(f.epSize)
		back, err := f.readU64(roff)
		if err != nil {
			return nil, err
		}
		if back != lpn {
			return nil, fmt.Errorf("%w: extension page %d back-pointer %d, want %d", ErrCorrupt, page, back, lpn)
		}
		if err := f.stg.Read(roff+8, data[done:done+amount]); err != nil {
			return nil, err
		}
		done += amount
	}
	return data, nil
}

// Rollback resets logical page allocation to the last save. Deferred
// frees are discarded. Page data is not rewound: callers defer their page
// writes until they decide to save.
func (f *File) Rollback() error {
	f.lpFree.clear()
	if f.lpAllocDirty {
		f.lpAllocDirty = false
		f.lpAlloc = f.lpAllocSaved
		f.lpFirst = f.lpFirstSaved
	}
	return nil
}

// Save applies the deferred free sets, compacts extension holes, writes
// the header if dirty, and commits the backing store.
func (f *File) Save() error {
	// Apply deferred logical frees: zero the page (releasing its
	// extensions) and chain it onto the persistent free list.
	pend := f.lpFree
	f.lpFree = uintSet{}
	for _, p := range pend.v {
		if err := f.SetPage(p, nil); err != nil {
			return err
		}
		if err := f.writeU64(HeaderSize+p*uint64(f.spSize)+2, f.lpFirst); err != nil {
			return err
		}
		f.lpFirst = p
		f.lpAllocDirty = true
	}

	// Relocate pages from the store tail into any free extension holes.
	for f.epFree.len() > 0 {
		f.epCount--
		from := f.epCount
		if !f.epFree.remove(from) {
			to := f.epAlloc()
			if err := f.relocate(from, to); err != nil {
				return err
			}
		}
	}

	if f.hdrDirty {
		f.hdrDirty = false
		if err := f.writeU64(0, f.epResvd); err != nil {
			return err
		}
		var h [4]byte
		encoding.PutFixed16(h[0:], uint16(f.spSize))
		encoding.PutFixed16(h[2:], uint16(f.epSize))
		if err := f.stg.Write(24, h[:]); err != nil {
			return err
		}
		f.lpAllocDirty = true
	}
	if f.lpAllocDirty {
		f.lpAllocDirty = false
		var h [16]byte
		encoding.PutFixed64(h[0:], f.lpAlloc)
		encoding.PutFixed64(h[8:], f.lpFirst)
		if err := f.stg.Write(8, h[:]); err != nil {
			return err
		}
	}
	f.lpAllocSaved = f.lpAlloc
	f.lpFirstSaved = f.lpFirst
	if err := f.stg.Commit(f.epCount * uint64(f.epSize)); err != nil {
		return err
	}
	f.isNew = false
	return nil
}

// readU64 reads a little-endian u64 from the backing store.
func (f *File) readU64(off uint64) (uint64, error) {
	var b [8]byte
	if err := f.stg.Read(off, b[:]); err != nil {
		return 0, err
	}
	return encoding.Fixed64(b[:]), nil
}

// writeU64 writes a little-endian u64 to the backing store.
func (f *File) writeU64(off uint64, x uint64) error {
	var b [8]byte
	encoding.PutFixed64(b[:], x)
	return f.stg.Write(off, b[:])
}

// relocate moves extension page from to to, rewriting the owning
// starter slot's matching list entry.
func (f *File) relocate(from, to uint64) error {
	if from == to {
		return nil
	}
	buf := f.epBuf.get()
	defer f.epBuf.put(buf)
	if err := f.stg.Read(from*uint64(f.epSize), buf); err != nil {
		return err
	}
	if err := f.stg.Write(to*uint64(f.epSize), buf); err != nil {
		return err
	}
	lpn := encoding.Fixed64(buf)

	// Rewrite the matching entry in the owner's extension list.
	off := HeaderSize + lpn*uint64(f.spSize)
	var sz [2]byte
	if err := f.stg.Read(off, sz[:]); err != nil {
		return err
	}
	ext := f.ext(int(encoding.Fixed16(sz[:])))
	off += 2
	for ; ext > 0; ext-- {
		x, err := f.readU64(off)
		if err != nil {
			return err
		}
		if x == from {
			return f.writeU64(off, to)
		}
		off += 8
	}
	return fmt.Errorf("%w: page %d extension list does not reference page %d", ErrCorrupt, lpn, from)
}

// epClear zeroes extension page epn.
func (f *File) epClear(epn uint64) error {
	buf := f.epBuf.getZeroed()
	defer f.epBuf.put(buf)
	return f.stg.Write(epn*uint64(f.epSize), buf)
}

// lpValid reports whether lpn's starter slot lies inside the reserved
// region.
func (f *File) lpValid(lpn uint64) bool {
	return HeaderSize+(lpn+1)*uint64(f.spSize) <= f.epResvd*uint64(f.epSize)
}

// extendStarterRegion grows the reserved region until lpn's starter slot
// fits, relocating the displaced extension pages to the store tail.
func (f *File) extendStarterRegion(lpn uint64) error {
	grown := false
	for !f.lpValid(lpn) {
		if f.epFree.remove(f.epResvd) {
			// The displaced slot is a deferred-free hole; the starter
			// region simply swallows it.
		} else {
			if err := f.relocate(f.epResvd, f.epCount); err != nil {
				return err
			}
			f.epCount++
		}
		if err := f.epClear(f.epResvd); err != nil {
			return err
		}
		f.epResvd++
		grown = true
	}
	if grown {
		f.log.Debugf(logging.NSCompact+"starter region grown to %d extension pages", f.epResvd)
		return f.writeU64(0, f.epResvd)
	}
	return nil
}

// epAlloc allocates an extension page, reusing a deferred-free hole when
// one exists.
func (f *File) epAlloc() uint64 {
	if p, ok := f.epFree.popMin(); ok {
		return p
	}
	p := f.epCount
	f.epCount++
	return p
}

// ext returns the number of extension pages a page of size bytes needs
// with this file's geometry.
func (f *File) ext(size int) int {
	return ExtPages(f.spSize, f.epSize, size)
}

// ExtPages returns the number of extension pages needed to store a
// logical page of size bytes with the given geometry. The starter slot
// holds 2 size bytes, 8 bytes of list entry per extension page, and the
// leading data; each extension page holds its 8-byte back-pointer and
// up to epSize-8 data bytes. Because every extension page also takes an
// 8-byte list entry out of the starter slot, each one adds epSize-16
// bytes of capacity.
func ExtPages(spSize, epSize, size int) int {
	n := 0
	if size > spSize-2 {
		n = ((size - (spSize - 2)) + (epSize - 16 - 1)) / (epSize - 16)
	}
	if 2+16*n+size > spSize+n*epSize {
		panic("compact: extension page arithmetic overflow")
	}
	return n
}

// Worthwhile reports whether shrinking a page of size bytes by saving
// bytes would reduce its extension page count. The record tree uses this
// to decide whether re-serialising a page tightly is worth the work.
func Worthwhile(spSize, epSize, size, saving int) bool {
	return ExtPages(spSize, epSize, size-saving) < ExtPages(spSize, epSize, size)
}

// PageMax returns the largest logical page the geometry can hold: the
// starter slot remainder plus a full extension list of data.
func PageMax(spSize, epSize int) int {
	epMax := (spSize - 2) / 8
	return (spSize - 2) + epMax*(epSize-16)
}
