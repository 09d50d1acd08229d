package oakdb

import "fmt"

// ColInfo is the schema of one table: column names, types, and the
// precomputed byte offset of each column inside the row record.
type ColInfo struct {
	// Name is the table name.
	Name string

	// Columns holds the column names in declaration order.
	Columns []string
	// Types holds the matching column types.
	Types []ColumnType
	// Off holds the byte offset of each column within the row record.
	Off []int
	// Total is the full row record size, including the leading 8-byte Id.
	Total int

	colmap map[string]int
}

// NewColInfo builds the schema for a table. Columns are supplied in
// declaration order, one Col (name and type) each.
func NewColInfo(name string, cols []Col) *ColInfo {
	ci := &ColInfo{
		Name:   name,
		Total:  8, // row id
		colmap: make(map[string]int),
	}
	for _, c := range cols {
		if ci.add(c.Name, c.Type) {
			panic(fmt.Sprintf("oakdb: duplicate column %q in table %q", c.Name, name))
		}
	}
	return ci
}

// Col is a column declaration for NewColInfo.
type Col struct {
	Name string
	Type ColumnType
}

// add appends a column; the result is true when the name already exists.
func (ci *ColInfo) add(name string, typ ColumnType) bool {
	if _, ok := ci.colmap[name]; ok {
		return true
	}
	cn := len(ci.Types)
	ci.Types = append(ci.Types, typ)
	ci.Off = append(ci.Off, ci.Total)
	ci.Total += typ.Size()
	ci.Columns = append(ci.Columns, name)
	ci.colmap[name] = cn
	return false
}

// ColumnNumber returns the ordinal of the named column. The Id column
// is not an ordinary column and reports ok false.
func (ci *ColInfo) ColumnNumber(name string) (int, bool) {
	n, ok := ci.colmap[name]
	return n, ok
}

// indexKeySize is the total byte size of the named index columns.
func (ci *ColInfo) indexKeySize(cols []int) int {
	total := 0
	for _, c := range cols {
		total += ci.Types[c].Size()
	}
	return total
}
