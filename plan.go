package oakdb

// PlanKind discriminates the access plans index selection can produce.
type PlanKind int

const (
	// PlanScan visits every row in Id order.
	PlanScan PlanKind = iota
	// PlanIDGet fetches one row by Id.
	PlanIDGet
	// PlanIxGet scans one index from a composite key.
	PlanIxGet
)

// String returns the plan kind name.
func (k PlanKind) String() string {
	switch k {
	case PlanScan:
		return "Scan"
	case PlanIDGet:
		return "IdGet"
	case PlanIxGet:
		return "IxGet"
	default:
		return "Unknown"
	}
}

// Plan is the selected access path for a set of equality constraints.
// It is a tagged value: Index and Key are meaningful for PlanIxGet, ID
// for PlanIDGet.
type Plan struct {
	Kind  PlanKind
	Index int
	Key   []Value
	ID    int64
}

// Plan selects an access path from equality constraints. known maps
// column ordinals to the constant each is equal to; idEq, when non-nil,
// is a constant the Id is equal to.
//
// The index whose leading columns are covered longest by known wins and
// contributes a composite key of the covered constants. With no covered
// index, an Id constraint gives a point plan, and otherwise the table
// must be scanned.
func (t *Table) Plan(known map[int]Value, idEq *int64) Plan {
	bestMatch, bestIndex := 0, 0
	for i := range t.ixlist {
		if m := covered(t.ixlist[i].cols, known); m > bestMatch {
			bestMatch, bestIndex = m, i
		}
	}
	if bestMatch > 0 {
		cols := t.ixlist[bestIndex].cols
		key := make([]Value, bestMatch)
		for i := 0; i < bestMatch; i++ {
			key[i] = known[cols[i]]
		}
		return Plan{Kind: PlanIxGet, Index: bestIndex, Key: key}
	}
	if idEq != nil {
		return Plan{Kind: PlanIDGet, ID: *idEq}
	}
	return Plan{Kind: PlanScan}
}

// Query plans from the constraints and runs the result.
func (t *Table) Query(known map[int]Value, idEq *int64) *Rows {
	return t.Run(t.Plan(known, idEq))
}

// Run executes a plan produced by Plan.
func (t *Table) Run(p Plan) *Rows {
	switch p.Kind {
	case PlanIxGet:
		return t.ScanKeys(p.Key, p.Index)
	case PlanIDGet:
		row, ok, err := t.IDGet(p.ID)
		rs := &Rows{t: t, err: err}
		if ok && err == nil {
			rs.pre = row
		}
		return rs
	default:
		return t.Scan()
	}
}

// covered counts how many leading index columns are constrained.
func covered(cols []int, known map[int]Value) int {
	n := 0
	for _, c := range cols {
		if _, ok := known[c]; !ok {
			break
		}
		n++
	}
	return n
}
