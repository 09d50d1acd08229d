package oakdb

import (
	"github.com/oakdb/oakdb/internal/bytestore"
	"github.com/oakdb/oakdb/internal/logging"
	"github.com/oakdb/oakdb/internal/stash"
	"github.com/oakdb/oakdb/storage"
)

// byteStoreRoot is the logical page of the byte store's record tree.
// It is the first page allocated in a fresh store.
const byteStoreRoot = 0

// Store is the shared, concurrency-safe state of one database: the
// compact file and the multi-version page cache above it. Transactions
// are opened from it as Database handles.
type Store struct {
	spd  *stash.Shared
	opts Options
	log  logging.Logger
}

// Open builds a Store over a backing storage. For a fresh storage the
// first logical page is reserved for the byte store.
func Open(stg storage.Storage, opts *Options) (*Store, error) {
	o := Options{}
	if opts != nil {
		o = *opts
	}
	if err := o.validate(); err != nil {
		return nil, err
	}
	log := logging.OrDefault(o.Logger)
	spd, err := stash.NewShared(stg, stash.Options{
		StarterSize:   o.StarterSize,
		ExtensionSize: o.ExtensionSize,
		CacheLimit:    o.CacheLimit,
		Logger:        log,
	})
	if err != nil {
		return nil, err
	}
	s := &Store{spd: spd, opts: o, log: log}
	log.Infof(logging.NSDB+"store open, page size max %d", spd.PageSizeMax())
	return s, nil
}

// Stats returns the page cache counters.
func (s *Store) Stats() CacheStats {
	return s.spd.Stats()
}

// SetCacheLimit adjusts the page cache budget and shrinks to fit.
func (s *Store) SetCacheLimit(limit int) {
	s.spd.SetCacheLimit(limit)
}

// PageSizeMax returns the largest logical page the store can hold.
func (s *Store) PageSizeMax() int {
	return s.spd.PageSizeMax()
}

// CacheStats is an alias for the page cache counters.
type CacheStats = stash.Stats

// Database is a per-transaction handle: the writer, or a snapshot
// reader. It carries the byte store bridge and the table registry.
//
// A Database is not safe for concurrent use; open one per goroutine.
// There must be at most one live writer per Store.
type Database struct {
	store  *Store
	apd    *stash.Access
	bs     *bytestore.Store
	log    logging.Logger
	tables map[string]*Table
	closed bool
}

// NewWriter opens the writer transaction handle. On a fresh store it
// reserves the byte store's root page.
func (s *Store) NewWriter() (*Database, error) {
	db := s.newDatabase(s.spd.OpenWrite())
	if db.apd.IsNew() {
		lpn, err := db.apd.AllocPage()
		if err != nil {
			db.Close()
			return nil, err
		}
		if lpn != byteStoreRoot {
			panic("oakdb: first allocation of a fresh store is not the byte store root")
		}
	}
	if err := db.bs.Init(db.apd); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// NewReader opens a read-only snapshot handle. It observes exactly the
// writes saved before it was opened, until closed.
func (s *Store) NewReader() (*Database, error) {
	db := s.newDatabase(s.spd.OpenRead())
	if err := db.bs.Init(db.apd); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (s *Store) newDatabase(apd *stash.Access) *Database {
	return &Database{
		store:  s,
		apd:    apd,
		bs:     bytestore.New(byteStoreRoot, s.opts.Compression),
		log:    s.log,
		tables: make(map[string]*Table),
	}
}

// Writer reports whether this handle is the writer.
func (db *Database) Writer() bool {
	return db.apd.Writer()
}

// IsNew reports whether the store was created by this open and so needs
// its tables set up.
func (db *Database) IsNew() bool {
	return db.apd.IsNew()
}

// Table returns a registered table by name.
func (db *Database) Table(name string) (*Table, bool) {
	t, ok := db.tables[name]
	return t, ok
}

// Encode interns a variable-length value, returning its code.
// Values short enough to live inline report InlineCode.
func (db *Database) Encode(v Value) (uint64, error) {
	if v.Kind != KindBytes || len(v.Bytes) <= inlineMax {
		return bytestore.InlineCode, nil
	}
	return db.bs.Encode(db.apd, v.Bytes[prefixLen:])
}

// Decode fetches interned content by code.
func (db *Database) Decode(code uint64) ([]byte, error) {
	return db.bs.Decode(db.apd, code)
}

// DelCode releases interned content.
func (db *Database) DelCode(code uint64) error {
	return db.bs.DelCode(db.apd, code)
}

// InlineCode is the code meaning "no interned content".
const InlineCode = bytestore.InlineCode

// Access exposes the raw page-level view for collaborators that manage
// their own page structures.
func (db *Database) Access() *stash.Access {
	return db.apd
}

// Save commits the transaction: dirty byte store and table pages are
// written through the cache, then the compact file applies its deferred
// work and commits the backing storage. Writer only.
func (db *Database) Save() error {
	if err := db.bs.Save(db.apd); err != nil {
		return err
	}
	for _, t := range db.tables {
		if err := t.Save(); err != nil {
			return err
		}
	}
	updated, err := db.apd.Save(stash.Save)
	if err != nil {
		return err
	}
	db.log.Debugf(logging.NSDB+"saved, %d pages updated", updated)
	return nil
}

// Rollback abandons the transaction: cached table and byte store pages
// are discarded along with any pending page allocations. Writer only.
func (db *Database) Rollback() error {
	db.bs.Rollback()
	for _, t := range db.tables {
		t.rollback()
	}
	_, err := db.apd.Save(stash.Rollback)
	return err
}

// Close releases the handle. A reader's snapshot is released so the
// cache can trim its history; a writer is expected to have called Save
// or Rollback.
func (db *Database) Close() {
	if db.closed {
		return
	}
	db.closed = true
	db.apd.Close()
}
