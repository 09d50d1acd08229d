package stash

import (
	"fmt"

	"github.com/oakdb/oakdb/internal/compact"
	"github.com/oakdb/oakdb/internal/logging"
	"github.com/oakdb/oakdb/storage"
)

// SaveOp selects what Access.Save does with the pending transaction.
type SaveOp int

const (
	// Save commits the pending page writes and deferred frees.
	Save SaveOp = iota
	// Rollback discards pending logical page allocations. It must be
	// called before any page data has been written for the transaction;
	// callers defer their page writes until they decide to save.
	Rollback
)

// Options configure a Shared paged store.
type Options struct {
	// StarterSize and ExtensionSize set the compact file geometry for a
	// fresh store; zero selects the defaults. An existing store uses the
	// geometry recorded in its header.
	StarterSize   int
	ExtensionSize int

	// CacheLimit is the stash memory budget in bytes.
	// Zero selects DefaultCacheLimit.
	CacheLimit int

	// Logger receives stash and compact file diagnostics.
	Logger logging.Logger
}

// DefaultCacheLimit is the stash budget when none is configured.
const DefaultCacheLimit = 32 << 20

// NewShared opens the compact file over stg and builds the shared stash
// above it.
func NewShared(stg storage.Storage, opts Options) (*Shared, error) {
	log := logging.OrDefault(opts.Logger)
	file, err := compact.Open(stg, opts.StarterSize, opts.ExtensionSize, log)
	if err != nil {
		return nil, err
	}
	limit := opts.CacheLimit
	if limit == 0 {
		limit = DefaultCacheLimit
	}
	sp, ep := file.StarterSize(), file.ExtensionSize()
	return &Shared{
		st:      newStash(limit, log),
		file:    file,
		spSize:  sp,
		epSize:  ep,
		pageMax: compact.PageMax(sp, ep),
	}, nil
}

// PageSizeMax returns the largest logical page the store can hold.
func (s *Shared) PageSizeMax() int {
	return s.pageMax
}

// Access is a per-transaction view onto the shared paged data: either a
// snapshot reader pinned to the time it was opened, or the writer, which
// sees its own uncommitted page writes immediately.
//
// An Access is not safe for concurrent use. There must be at most one
// live writer; readers may run concurrently with it and each other.
type Access struct {
	spd    *Shared
	writer bool
	time   uint64
	closed bool
}

// OpenRead returns a read-only snapshot view of the store.
// Close releases the snapshot so its history can be reclaimed.
func (s *Shared) OpenRead() *Access {
	s.mu.Lock()
	t := s.st.beginRead()
	s.mu.Unlock()
	return &Access{spd: s, time: t}
}

// OpenWrite returns the writer view of the store.
func (s *Shared) OpenWrite() *Access {
	return &Access{spd: s, writer: true}
}

// Close releases the access. For a reader this ends its snapshot;
// a writer is expected to have called Save (with Save or Rollback) first.
func (a *Access) Close() {
	if a.closed {
		return
	}
	a.closed = true
	if !a.writer {
		a.spd.mu.Lock()
		a.spd.st.endRead(a.time)
		a.spd.mu.Unlock()
	}
}

// Writer reports whether this access is the writer.
func (a *Access) Writer() bool {
	return a.writer
}

// GetPage returns the data of the specified logical page as seen by this
// access. The returned buffer is shared and must not be modified.
func (a *Access) GetPage(lpn uint64) (Data, error) {
	a.spd.mu.Lock()
	defer a.spd.mu.Unlock()
	return a.getData(lpn)
}

// getData serves a page from history, cache, or the compact file.
// Shared.mu must be held.
func (a *Access) getData(lpn uint64) (Data, error) {
	st := a.spd.st
	st.reads++
	p := st.info(lpn)

	if !a.writer {
		if data, ok := p.atOrAfter(a.time); ok {
			return data, nil
		}
	}
	if p.loaded {
		return p.current, nil
	}

	// Fault the page in from the compact file.
	st.misses++
	a.spd.fmu.Lock()
	data, err := a.spd.file.GetPage(lpn)
	a.spd.fmu.Unlock()
	if err != nil {
		return nil, err
	}
	p.current = data
	p.loaded = true
	st.total += len(data)
	st.trimCache()
	return data, nil
}

// SetPage makes data the contents of the page. Writer only. The data
// buffer is taken over by the stash and must not be modified afterwards.
// Setting empty data is how a freed page is represented.
func (a *Access) SetPage(lpn uint64, data Data) error {
	a.mustWrite("SetPage")
	if len(data) > a.spd.pageMax {
		panic(fmt.Sprintf("stash: page %d bytes exceeds maximum %d", len(data), a.spd.pageMax))
	}

	// Record the update in the stash first, preserving the pre-image for
	// snapshot readers. The file lock is taken before the stash lock is
	// released: a reader must not fault the page in from the file until
	// the write-through below has landed.
	a.spd.mu.Lock()
	old, err := a.getData(lpn)
	if err != nil {
		a.spd.mu.Unlock()
		return err
	}
	a.spd.st.set(lpn, old, data)
	a.spd.fmu.Lock()
	a.spd.mu.Unlock()

	// Write through to the compact file, so the data survives eviction
	// for accesses at later times.
	err = a.spd.file.SetPage(lpn, data)
	a.spd.fmu.Unlock()
	return err
}

// AllocPage allocates a logical page number. Writer only.
func (a *Access) AllocPage() (uint64, error) {
	a.mustWrite("AllocPage")
	a.spd.fmu.Lock()
	defer a.spd.fmu.Unlock()
	return a.spd.file.AllocPage()
}

// FreePage releases a logical page. Writer only.
func (a *Access) FreePage(lpn uint64) error {
	a.mustWrite("FreePage")
	a.spd.mu.Lock()
	old, err := a.getData(lpn)
	if err != nil {
		a.spd.mu.Unlock()
		return err
	}
	a.spd.st.set(lpn, old, nil)
	a.spd.fmu.Lock()
	a.spd.mu.Unlock()

	a.spd.file.FreePage(lpn)
	a.spd.fmu.Unlock()
	return nil
}

// IsNew reports whether the underlying store was created by this open
// (and so needs initialising). A reader always reports false.
func (a *Access) IsNew() bool {
	a.spd.fmu.Lock()
	defer a.spd.fmu.Unlock()
	return a.writer && a.spd.file.IsNew()
}

// Worthwhile reports whether rewriting a page of size bytes to save
// saving bytes would reduce its extension page count.
func (a *Access) Worthwhile(size, saving int) bool {
	return compact.Worthwhile(a.spd.spSize, a.spd.epSize, size, saving)
}

// PageSizeMax returns the largest logical page the store can hold.
func (a *Access) PageSizeMax() int {
	return a.spd.pageMax
}

// Save commits pending changes to the underlying file, or rolls back
// pending logical page allocations. Writer only. For Save it returns the
// number of pages the completed write updated.
func (a *Access) Save(op SaveOp) (int, error) {
	a.mustWrite("Save")
	switch op {
	case Save:
		a.spd.fmu.Lock()
		err := a.spd.file.Save()
		a.spd.fmu.Unlock()
		if err != nil {
			return 0, err
		}
		a.spd.mu.Lock()
		n := a.spd.st.endWrite()
		a.spd.mu.Unlock()
		return n, nil
	case Rollback:
		// Rollback happens before any page updates; only logical page
		// allocations need to be undone.
		a.spd.fmu.Lock()
		defer a.spd.fmu.Unlock()
		return 0, a.spd.file.Rollback()
	default:
		panic(fmt.Sprintf("stash: unknown save op %d", op))
	}
}

func (a *Access) mustWrite(op string) {
	if !a.writer {
		panic("stash: " + op + " requires the writer access")
	}
}
