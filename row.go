package oakdb

import (
	"github.com/oakdb/oakdb/internal/bytestore"
	"github.com/oakdb/oakdb/internal/encoding"
	"github.com/oakdb/oakdb/internal/sortedfile"
)

// Row is one logical table row: the 64-bit Id, the ordered column
// values, and the byte store codes of any interned values.
type Row struct {
	// ID is the row's primary key.
	ID int64
	// Values holds one value per column.
	Values []Value

	// Info is the owning table's schema.
	Info *ColInfo

	db    *Database
	codes []uint64
}

// NewRow constructs a row for the table with default values.
func (t *Table) NewRow() *Row {
	r := &Row{Info: t.Info, db: t.db}
	for _, typ := range t.Info.Types {
		r.Values = append(r.Values, defaultValue(typ))
	}
	return r
}

// encode interns the row's variable-length values, computing a code per
// column.
func (r *Row) encode() error {
	r.codes = r.codes[:0]
	for i, typ := range r.Info.Types {
		code, err := encodeValue(r.db, typ, r.Values[i])
		if err != nil {
			return err
		}
		r.codes = append(r.codes, code)
	}
	return nil
}

// delcodes releases the row's interned values.
func (r *Row) delcodes() error {
	for _, code := range r.codes {
		if code != bytestore.InlineCode {
			if err := r.db.bs.DelCode(r.db.apd, code); err != nil {
				return err
			}
		}
	}
	return nil
}

// Load fills the row from stored record bytes.
func (r *Row) Load(data []byte) error {
	r.ID = int64(encoding.Fixed64(data))
	r.Values = r.Values[:0]
	r.codes = r.codes[:0]
	off := 8
	for _, typ := range r.Info.Types {
		v, code, err := loadValue(r.db, typ, data[off:off+typ.Size()])
		if err != nil {
			return err
		}
		r.Values = append(r.Values, v)
		r.codes = append(r.codes, code)
		off += typ.Size()
	}
	return nil
}

// Compare orders the row against stored record bytes by Id.
func (r *Row) Compare(data []byte) int {
	id := int64(encoding.Fixed64(data))
	switch {
	case r.ID < id:
		return -1
	case r.ID > id:
		return 1
	}
	return 0
}

// Save writes the row into record bytes. encode must have run first.
func (r *Row) Save(data []byte) {
	encoding.PutFixed64(data, uint64(r.ID))
	off := 8
	for i, typ := range r.Info.Types {
		saveValue(typ, r.Values[i], data[off:off+typ.Size()], r.codes[i])
		off += typ.Size()
	}
}

// Key returns the Id key of stored record bytes.
func (r *Row) Key(data []byte) (sortedfile.Record, error) {
	return idRec{id: int64(encoding.Fixed64(data))}, nil
}

// DropKey releases interned values owned by stored record bytes. On an
// interior routing entry only the Id is present and nothing is owned.
func (r *Row) DropKey(data []byte) {
	if len(data) < r.Info.Total {
		return
	}
	off := 8
	for _, typ := range r.Info.Types {
		if typ == TypeString || typ == TypeBinary {
			if data[off] == longMarker {
				code := encoding.Fixed64(data[off+1+prefixLen:])
				if err := r.db.bs.DelCode(r.db.apd, code); err != nil {
					r.db.log.Errorf("[db] dropping code %d: %v", code, err)
				}
			}
		}
		off += typ.Size()
	}
}

// idRec is the bare Id key of a base table record.
type idRec struct {
	id int64
}

func (r idRec) Compare(data []byte) int {
	id := int64(encoding.Fixed64(data))
	switch {
	case r.id < id:
		return -1
	case r.id > id:
		return 1
	}
	return 0
}

func (r idRec) Save(data []byte) {
	encoding.PutFixed64(data, uint64(r.id))
}

func (r idRec) Key(data []byte) (sortedfile.Record, error) {
	return idRec{id: int64(encoding.Fixed64(data))}, nil
}
