// Package sortedfile stores fixed-size records in sorted order across a
// tree of logical pages.
//
// Within each page the records form a balanced binary tree: every node
// carries 3 bytes of overhead packing a 2-bit balance factor and two
// 11-bit child node ids. Node id 0 is null, so a page holds at most 2047
// nodes. Pages reference child pages by logical page number, never by
// pointer; leaf pages hold the records, interior pages hold routing
// entries of key bytes followed by an 8-byte child page number.
//
// Record ordering is supplied by the caller, record bytes are opaque to
// this package apart from the leading key bytes an interior page copies
// when a split pushes a divider upward.
package sortedfile

// Record supplies the ordering for a lookup or scan.
//
// Compare returns a negative value when the record sorts before the
// stored bytes, zero when equal, positive when after. Compare must
// examine only the leading key bytes of data: on interior pages the
// stored bytes are just the key followed by a child page number.
type Record interface {
	Compare(data []byte) int
}

// Storable is a record that can be inserted: it can serialise itself and
// can materialise the key of stored record bytes (needed when a page
// split pushes a divider key into a parent page).
type Storable interface {
	Record

	// Save writes the record into data, which has the file's record size.
	Save(data []byte)

	// Key returns a Record comparing as the key of the stored bytes
	// data. The result must itself be a Storable whose Save writes
	// exactly the file's key size, and must own any external resources
	// its key refers to independently of the stored record. Key may
	// need to read those resources, so it can fail.
	Key(data []byte) (Record, error)
}

// KeyDropper is implemented by records whose keys own external resources
// (interned byte codes). Free calls DropKey for every record it
// releases: with full record bytes on leaf pages, and with just the key
// bytes for interior routing entries.
type KeyDropper interface {
	DropKey(data []byte)
}

// Zero is a Record that sorts before everything; scanning from it visits
// the whole file.
type Zero struct{}

// Compare always reports before.
func (Zero) Compare([]byte) int { return -1 }
