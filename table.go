package oakdb

import (
	"fmt"

	"github.com/oakdb/oakdb/internal/encoding"
	"github.com/oakdb/oakdb/internal/sortedfile"
)

// Table is a base table: a sorted file of row records keyed by Id, plus
// any number of secondary indexes kept in step with it.
type Table struct {
	// ID is the table's catalog id.
	ID int64
	// Info is the table schema.
	Info *ColInfo

	db   *Database
	file *sortedfile.File

	ixlist []index

	idGen      int64
	idGenDirty bool
}

// NewTable registers a table with the database. rootLpn is the page
// number of the table's record tree and idGen the persisted state of the
// row id allocator; both come from the host's catalog.
func (db *Database) NewTable(id int64, rootLpn uint64, idGen int64, info *ColInfo) *Table {
	t := &Table{
		ID:    id,
		Info:  info,
		db:    db,
		file:  sortedfile.New(info.Total, 8, rootLpn),
		idGen: idGen,
	}
	db.tables[info.Name] = t
	return t
}

// AddIndex attaches a secondary index rooted at rootLpn over the given
// column ordinals. Index records hold the projected key columns plus the
// owning row Id.
func (t *Table) AddIndex(rootLpn uint64, cols []int) {
	for _, c := range cols {
		if c < 0 || c >= len(t.Info.Types) {
			panic(fmt.Sprintf("oakdb: index column %d out of range for table %q", c, t.Info.Name))
		}
	}
	size := t.Info.indexKeySize(cols) + 8
	t.ixlist = append(t.ixlist, index{
		file: sortedfile.New(size, size, rootLpn),
		cols: cols,
	})
}

// AllocID allocates the next row id.
func (t *Table) AllocID() int64 {
	id := t.idGen
	t.idGen++
	t.idGenDirty = true
	return id
}

// IDAllocated bumps the id allocator past an externally supplied id.
func (t *Table) IDAllocated(id int64) {
	if id >= t.idGen {
		t.idGen = id + 1
		t.idGenDirty = true
	}
}

// IDGen returns the id allocator state and whether it changed since it
// was last persisted; the host stores it in its catalog before saving.
func (t *Table) IDGen() (int64, bool) {
	return t.idGen, t.idGenDirty
}

// IDGenSaved marks the allocator state as persisted by the host.
func (t *Table) IDGenSaved() {
	t.idGenDirty = false
}

// Insert adds the row to the table and every index. The row's
// variable-length values are interned as a side effect.
func (t *Table) Insert(r *Row) (err error) {
	defer catchLoad(&err)
	if err := r.encode(); err != nil {
		return err
	}
	if err := t.file.Insert(t.db.apd, r); err != nil {
		return err
	}
	for i := range t.ixlist {
		ix := &t.ixlist[i]
		if err := ix.file.Insert(t.db.apd, newIndexRow(t, ix.cols, r)); err != nil {
			return err
		}
	}
	return nil
}

// Remove deletes the loaded row from the table and every index, and
// releases its interned values.
func (t *Table) Remove(r *Row) (err error) {
	defer catchLoad(&err)
	if _, err := t.file.Remove(t.db.apd, r); err != nil {
		return err
	}
	for i := range t.ixlist {
		ix := &t.ixlist[i]
		if _, err := ix.file.Remove(t.db.apd, newIndexRow(t, ix.cols, r)); err != nil {
			return err
		}
	}
	return r.delcodes()
}

// IDGet loads the row with the given id.
func (t *Table) IDGet(id int64) (row *Row, ok bool, err error) {
	defer catchLoad(&err)
	p, off, ok, err := t.file.Get(t.db.apd, idRec{id: id})
	if err != nil || !ok {
		return nil, false, err
	}
	row = t.NewRow()
	if err := row.Load(p.Data()[off : off+t.Info.Total]); err != nil {
		return nil, false, err
	}
	return row, true, nil
}

// IxGet loads a row whose leading index columns equal key, through the
// given index.
func (t *Table) IxGet(key []Value, ix int) (row *Row, ok bool, err error) {
	defer catchLoad(&err)
	idx := &t.ixlist[ix]
	if len(key) > len(idx.cols) {
		panic(fmt.Sprintf("oakdb: %d key values for a %d column index", len(key), len(idx.cols)))
	}
	ik := &indexKey{db: t.db, info: t.Info, cols: idx.cols, key: key}
	p, off, ok, err := idx.file.Get(t.db.apd, ik)
	if err != nil || !ok {
		return nil, false, err
	}
	id := int64(encoding.Fixed64(p.Data()[off:]))
	return t.IDGet(id)
}

// Scan returns all rows in Id order.
func (t *Table) Scan() *Rows {
	return &Rows{
		t:   t,
		asc: t.file.Asc(t.db.apd, sortedfile.Zero{}),
	}
}

// ScanKey returns the rows whose leading index column equals key.
func (t *Table) ScanKey(key Value, ix int) *Rows {
	return t.ScanKeys([]Value{key}, ix)
}

// ScanKeys returns the rows whose leading index columns equal keys,
// through the given index.
func (t *Table) ScanKeys(keys []Value, ix int) (rs *Rows) {
	idx := &t.ixlist[ix]
	ik := &indexKey{db: t.db, info: t.Info, cols: idx.cols, key: keys, def: -1}
	rs = &Rows{t: t, match: ik}
	// Positioning the iterator already runs key comparisons.
	defer catchLoad(&rs.err)
	rs.asc = idx.file.Asc(t.db.apd, ik)
	return rs
}

// Save writes the table's and its indexes' dirty pages through the
// access.
func (t *Table) Save() error {
	if err := t.file.Save(t.db.apd); err != nil {
		return err
	}
	for i := range t.ixlist {
		if err := t.ixlist[i].file.Save(t.db.apd); err != nil {
			return err
		}
	}
	return nil
}

// rollback discards cached pages of the table and its indexes.
func (t *Table) rollback() {
	t.file.Rollback()
	for i := range t.ixlist {
		t.ixlist[i].file.Rollback()
	}
}

// FreePages releases all storage owned by the table and its indexes,
// including interned values. The table is unusable afterwards.
func (t *Table) FreePages() (err error) {
	defer catchLoad(&err)
	if err := t.file.Free(t.db.apd, t.NewRow()); err != nil {
		return err
	}
	for i := range t.ixlist {
		ix := &t.ixlist[i]
		proto := &indexRow{db: t.db, info: t.Info, cols: ix.cols}
		if err := ix.file.Free(t.db.apd, proto); err != nil {
			return err
		}
	}
	delete(t.db.tables, t.Info.Name)
	return nil
}

// Rows iterates rows produced by a scan. For index scans each index
// entry is checked against the key prefix and the base row fetched by
// Id; iteration stops at the first entry past the prefix.
type Rows struct {
	t     *Table
	asc   *sortedfile.Asc
	match *indexKey
	pre   *Row // single pre-fetched row (PlanIDGet)
	err   error
}

// Next returns the next row, or ok false at the end of the scan.
func (rs *Rows) Next() (row *Row, ok bool) {
	if rs.pre != nil {
		row, rs.pre = rs.pre, nil
		return row, true
	}
	defer func() {
		if r := recover(); r != nil {
			if le, isLoad := r.(*valueLoadError); isLoad {
				rs.err = le.err
				row, ok = nil, false
				return
			}
			panic(r)
		}
	}()
	if rs.err != nil || rs.asc == nil {
		return nil, false
	}
	p, off, ok := rs.asc.Next()
	if !ok {
		rs.err = rs.asc.Err()
		return nil, false
	}
	if rs.match == nil {
		row := rs.t.NewRow()
		if err := row.Load(p.Data()[off : off+rs.t.Info.Total]); err != nil {
			rs.err = err
			return nil, false
		}
		return row, true
	}
	data := p.Data()[off:]
	if !rs.match.prefixMatches(data) {
		return nil, false
	}
	id := int64(encoding.Fixed64(data))
	row, found, err := rs.t.IDGet(id)
	if err != nil {
		rs.err = err
		return nil, false
	}
	if !found {
		rs.err = fmt.Errorf("%w: index entry for missing row %d in table %q", ErrCorrupt, id, rs.t.Info.Name)
		return nil, false
	}
	return row, true
}

// Err returns the first error the scan hit, if any.
func (rs *Rows) Err() error {
	return rs.err
}
