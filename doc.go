/*
Package oakdb provides an embedded relational storage core: row and
index storage over a multi-version page cache and a compacting paged
file.

The layering, bottom up:

  - storage.Storage: a byte-addressable backing store (file, memory, or
    the atomic journalled wrapper).
  - The compact file maps fixed-numbered logical pages of variable size
    onto starter slots and uniform extension blocks, relocating and
    compacting as pages grow, shrink and free.
  - The stash caches page versions in memory, giving snapshot isolation
    to concurrent readers against the single writer, under a memory
    budget enforced by usage-based eviction.
  - Sorted files store fixed-size records in balanced binary trees
    inside pages, with ordered iteration and page splits.
  - The byte store interns long values into fragment chains named by
    64-bit codes; tables and secondary indexes encode rows and select
    access plans from equality constraints.

# Usage

Open a Store over a backing storage, then open transaction handles from
it:

	stg, err := storage.OpenAtomicFile("app.oakdb")
	...
	store, err := oakdb.Open(stg, nil)
	...
	db, err := store.NewWriter()
	...
	db.Save()

# Concurrency

A Store is safe for concurrent use. Each Database handle belongs to one
goroutine: open the single writer and any number of snapshot readers.
Readers observe exactly the state of the last Save before they were
opened.
*/
package oakdb
