package oakdb

// sorted.go re-exports the record-tree layer for collaborators that
// store their own record structures on raw pages, the way the byte
// store and the table layer do internally.

import (
	"github.com/oakdb/oakdb/internal/sortedfile"
	"github.com/oakdb/oakdb/internal/stash"
)

// Access is the per-transaction page-level view: reads and writes of
// whole logical pages with snapshot semantics. Obtain one from
// Database.Access.
type Access = stash.Access

// SortedFile is sorted storage of fixed-size records across logical
// pages.
type SortedFile = sortedfile.File

// Record supplies ordering for sorted file lookups and scans.
type Record = sortedfile.Record

// Storable is a Record that can be inserted into a sorted file.
type Storable = sortedfile.Storable

// KeyDropper is implemented by records whose keys own interned content.
type KeyDropper = sortedfile.KeyDropper

// SortedPage is one page of a sorted file.
type SortedPage = sortedfile.Page

// SortedAsc iterates a sorted file in ascending key order.
type SortedAsc = sortedfile.Asc

// ZeroRecord sorts before every record; scanning from it visits a whole
// sorted file.
type ZeroRecord = sortedfile.Zero

// NewSortedFile creates a sorted file handle over the record tree rooted
// at rootLpn.
func NewSortedFile(recSize, keySize int, rootLpn uint64) *SortedFile {
	return sortedfile.New(recSize, keySize, rootLpn)
}
