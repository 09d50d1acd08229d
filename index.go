package oakdb

import (
	"github.com/oakdb/oakdb/internal/bytestore"
	"github.com/oakdb/oakdb/internal/encoding"
	"github.com/oakdb/oakdb/internal/sortedfile"
)

// index is one secondary index of a table: a sorted file of records laid
// out as the owning row Id followed by the projected key columns. The
// ordering is (key columns, Id), so equal keys are tie-broken by row.
type index struct {
	file *sortedfile.File
	cols []int
}

// valueLoadError carries an error out of a Compare, which has no error
// return; table operations recover it at their boundary.
type valueLoadError struct {
	err error
}

// catchLoad converts a valueLoadError panic back into an error return.
// Deferred at every table operation that runs comparisons.
func catchLoad(err *error) {
	if r := recover(); r != nil {
		if le, ok := r.(*valueLoadError); ok {
			if *err == nil {
				*err = le.err
			}
			return
		}
		panic(r)
	}
}

// loadKeyValue reads one key column of a stored index record, panicking
// with valueLoadError when interned content cannot be fetched.
func loadKeyValue(db *Database, typ ColumnType, data []byte) Value {
	v, _, err := loadValue(db, typ, data)
	if err != nil {
		panic(&valueLoadError{err: err})
	}
	return v
}

// indexRow is a stored index entry under construction or comparison.
type indexRow struct {
	db    *Database
	info  *ColInfo
	cols  []int
	keys  []Value
	codes []uint64
	rowid int64
}

// newIndexRow projects a row onto the index's key columns, sharing the
// row's codes (the row and its index entries are inserted and removed
// together).
func newIndexRow(t *Table, cols []int, r *Row) *indexRow {
	ir := &indexRow{db: t.db, info: t.Info, cols: cols, rowid: r.ID}
	for _, c := range cols {
		ir.keys = append(ir.keys, r.Values[c])
		ir.codes = append(ir.codes, r.codes[c])
	}
	return ir
}

func (ir *indexRow) Compare(data []byte) int {
	off := 8
	for i, c := range ir.cols {
		typ := ir.info.Types[c]
		v := loadKeyValue(ir.db, typ, data[off:off+typ.Size()])
		if cmp := ir.keys[i].Compare(v); cmp != 0 {
			return cmp
		}
		off += typ.Size()
	}
	rowid := int64(encoding.Fixed64(data))
	switch {
	case ir.rowid < rowid:
		return -1
	case ir.rowid > rowid:
		return 1
	}
	return 0
}

func (ir *indexRow) Save(data []byte) {
	encoding.PutFixed64(data, uint64(ir.rowid))
	off := 8
	for i, c := range ir.cols {
		typ := ir.info.Types[c]
		saveValue(typ, ir.keys[i], data[off:off+typ.Size()], ir.codes[i])
		off += typ.Size()
	}
}

// Key rebuilds an index entry from stored bytes with freshly interned
// codes: the copy pushed into a parent page must own its content
// independently, since the leaf entry's codes die with its row.
func (ir *indexRow) Key(data []byte) (sortedfile.Record, error) {
	out := &indexRow{
		db:    ir.db,
		info:  ir.info,
		cols:  ir.cols,
		rowid: int64(encoding.Fixed64(data)),
	}
	off := 8
	for _, c := range ir.cols {
		typ := ir.info.Types[c]
		v, _, err := loadValue(ir.db, typ, data[off:off+typ.Size()])
		if err != nil {
			return nil, err
		}
		code, err := encodeValue(ir.db, typ, v)
		if err != nil {
			return nil, err
		}
		out.keys = append(out.keys, v)
		out.codes = append(out.codes, code)
		off += typ.Size()
	}
	return out, nil
}

// DropKey releases the interned content owned by stored index bytes.
func (ir *indexRow) DropKey(data []byte) {
	off := 8
	for _, c := range ir.cols {
		typ := ir.info.Types[c]
		if typ == TypeString || typ == TypeBinary {
			if data[off] == longMarker {
				code := encoding.Fixed64(data[off+1+prefixLen:])
				if code != bytestore.InlineCode {
					if err := ir.db.bs.DelCode(ir.db.apd, code); err != nil {
						ir.db.log.Errorf("[db] dropping index code %d: %v", code, err)
					}
				}
			}
		}
		off += typ.Size()
	}
}

// indexKey is a search key over the leading columns of an index. def is
// returned when every supplied key column matches: 0 finds any equal
// entry, -1 positions before the first equal entry (for range scans).
type indexKey struct {
	db   *Database
	info *ColInfo
	cols []int
	key  []Value
	def  int
}

func (ik *indexKey) Compare(data []byte) int {
	off := 8
	for i, v := range ik.key {
		typ := ik.info.Types[ik.cols[i]]
		stored := loadKeyValue(ik.db, typ, data[off:off+typ.Size()])
		if cmp := v.Compare(stored); cmp != 0 {
			return cmp
		}
		off += typ.Size()
	}
	return ik.def
}

// prefixMatches reports whether the stored index bytes carry exactly
// this key in their leading columns.
func (ik *indexKey) prefixMatches(data []byte) bool {
	off := 8
	for i, v := range ik.key {
		typ := ik.info.Types[ik.cols[i]]
		stored := loadKeyValue(ik.db, typ, data[off:off+typ.Size()])
		if v.Compare(stored) != 0 {
			return false
		}
		off += typ.Size()
	}
	return true
}
