package oakdb

import (
	"bytes"
	"strings"
	"testing"

	"github.com/oakdb/oakdb/storage"
)

// testSchema is a four-column table (A,B,C,D); the tests index it as
// I0=(A) and I1=(A,B,C) to exercise prefix-covered plan selection.
func testSchema() *ColInfo {
	return NewColInfo("t", []Col{
		{Name: "A", Type: TypeBigInt},
		{Name: "B", Type: TypeBigInt},
		{Name: "C", Type: TypeBigInt},
		{Name: "D", Type: TypeBigInt},
	})
}

func openTestDB(t *testing.T) (*Store, *Database, *Table) {
	t.Helper()
	store, err := Open(storage.NewMem(), &Options{Logger: DiscardLogs})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	db, err := store.NewWriter()
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	roots := make([]uint64, 3)
	for i := range roots {
		if roots[i], err = db.Access().AllocPage(); err != nil {
			t.Fatalf("AllocPage: %v", err)
		}
	}
	tbl := db.NewTable(1, roots[0], 1, testSchema())
	tbl.AddIndex(roots[1], []int{0})       // I0 = (A)
	tbl.AddIndex(roots[2], []int{0, 1, 2}) // I1 = (A,B,C)
	return store, db, tbl
}

func insertABCD(t *testing.T, tbl *Table, a, b, c, d int64) int64 {
	t.Helper()
	r := tbl.NewRow()
	r.ID = tbl.AllocID()
	r.Values[0] = IntVal(a)
	r.Values[1] = IntVal(b)
	r.Values[2] = IntVal(c)
	r.Values[3] = IntVal(d)
	if err := tbl.Insert(r); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	return r.ID
}

func TestPlanSelection(t *testing.T) {
	_, _, tbl := openTestDB(t)

	// A=1 AND C=3 AND B=2 covers all of I1; the key is built in index
	// column order.
	p := tbl.Plan(map[int]Value{0: IntVal(1), 2: IntVal(3), 1: IntVal(2)}, nil)
	if p.Kind != PlanIxGet || p.Index != 1 {
		t.Fatalf("plan = %s index %d, want IxGet on I1", p.Kind, p.Index)
	}
	want := []int64{1, 2, 3}
	for i, v := range p.Key {
		if v.Int != want[i] {
			t.Errorf("key[%d] = %d, want %d", i, v.Int, want[i])
		}
	}

	// A=1 AND D=4: only I0's prefix is covered.
	p = tbl.Plan(map[int]Value{0: IntVal(1), 3: IntVal(4)}, nil)
	if p.Kind != PlanIxGet || p.Index != 0 || len(p.Key) != 1 {
		t.Errorf("plan = %s index %d keylen %d, want IxGet on I0 with 1 key", p.Kind, p.Index, len(p.Key))
	}

	// Id=7 with no covered index.
	id := int64(7)
	p = tbl.Plan(nil, &id)
	if p.Kind != PlanIDGet || p.ID != 7 {
		t.Errorf("plan = %s id %d, want IdGet 7", p.Kind, p.ID)
	}

	// D=5 alone covers nothing.
	p = tbl.Plan(map[int]Value{3: IntVal(5)}, nil)
	if p.Kind != PlanScan {
		t.Errorf("plan = %s, want Scan", p.Kind)
	}
}

func TestScanKeysPrefix(t *testing.T) {
	_, _, tbl := openTestDB(t)

	// Rows with varying (A,B) so the (A,B) prefix [1,2] matches some.
	type abcd struct{ a, b, c, d int64 }
	rows := []abcd{
		{1, 2, 3, 10},
		{1, 2, 4, 11},
		{1, 3, 3, 12},
		{2, 2, 3, 13},
		{1, 2, 5, 14},
		{0, 2, 3, 15},
	}
	for _, r := range rows {
		insertABCD(t, tbl, r.a, r.b, r.c, r.d)
	}

	got := map[int64]bool{}
	rs := tbl.ScanKeys([]Value{IntVal(1), IntVal(2)}, 1)
	for {
		row, ok := rs.Next()
		if !ok {
			break
		}
		if row.Values[0].Int != 1 || row.Values[1].Int != 2 {
			t.Errorf("scan returned row (A=%d,B=%d) outside prefix", row.Values[0].Int, row.Values[1].Int)
		}
		got[row.Values[3].Int] = true
	}
	if err := rs.Err(); err != nil {
		t.Fatalf("ScanKeys: %v", err)
	}
	for _, want := range []int64{10, 11, 14} {
		if !got[want] {
			t.Errorf("prefix scan missed row D=%d", want)
		}
	}
	if len(got) != 3 {
		t.Errorf("prefix scan returned %d rows, want 3", len(got))
	}
}

func TestIxGetAndIDGet(t *testing.T) {
	_, _, tbl := openTestDB(t)
	id := insertABCD(t, tbl, 5, 6, 7, 8)

	row, ok, err := tbl.IxGet([]Value{IntVal(5), IntVal(6), IntVal(7)}, 1)
	if err != nil {
		t.Fatalf("IxGet: %v", err)
	}
	if !ok {
		t.Fatal("IxGet missed an existing row")
	}
	if row.ID != id || row.Values[3].Int != 8 {
		t.Errorf("IxGet row id=%d D=%d, want id=%d D=8", row.ID, row.Values[3].Int, id)
	}

	row, ok, err = tbl.IDGet(id)
	if err != nil || !ok {
		t.Fatalf("IDGet: ok=%v err=%v", ok, err)
	}
	if row.Values[0].Int != 5 {
		t.Errorf("IDGet A = %d, want 5", row.Values[0].Int)
	}

	_, ok, err = tbl.IDGet(id + 100)
	if err != nil {
		t.Fatalf("IDGet: %v", err)
	}
	if ok {
		t.Error("IDGet found a row that does not exist")
	}
}

func TestRemoveMaintainsIndexes(t *testing.T) {
	_, _, tbl := openTestDB(t)
	keep := insertABCD(t, tbl, 1, 1, 1, 1)
	gone := insertABCD(t, tbl, 2, 2, 2, 2)

	row, ok, err := tbl.IDGet(gone)
	if err != nil || !ok {
		t.Fatalf("IDGet: ok=%v err=%v", ok, err)
	}
	if err := tbl.Remove(row); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if _, ok, _ := tbl.IDGet(gone); ok {
		t.Error("removed row still reachable by id")
	}
	if _, ok, _ := tbl.IxGet([]Value{IntVal(2)}, 0); ok {
		t.Error("removed row still reachable through the index")
	}
	if _, ok, _ := tbl.IDGet(keep); !ok {
		t.Error("surviving row lost")
	}
}

func TestStringInterning(t *testing.T) {
	_, db, _ := openTestDB(t)

	info := NewColInfo("docs", []Col{
		{Name: "Title", Type: TypeString},
		{Name: "Body", Type: TypeString},
	})
	root, err := db.Access().AllocPage()
	if err != nil {
		t.Fatalf("AllocPage: %v", err)
	}
	docs := db.NewTable(2, root, 1, info)

	short := "tiny"
	long := strings.Repeat("a long body that cannot live inline ", 40)

	r := docs.NewRow()
	r.ID = docs.AllocID()
	r.Values[0] = StrVal(short)
	r.Values[1] = StrVal(long)
	if err := docs.Insert(r); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	row, ok, err := docs.IDGet(r.ID)
	if err != nil || !ok {
		t.Fatalf("IDGet: ok=%v err=%v", ok, err)
	}
	if row.Values[0].Str() != short {
		t.Errorf("short string = %q, want %q", row.Values[0].Str(), short)
	}
	if row.Values[1].Str() != long {
		t.Errorf("long string round trip failed (%d bytes back)", len(row.Values[1].Bytes))
	}

	// Removing the row releases the interned body; decoding its code
	// afterwards must fail.
	code := row.codes[1]
	if code == InlineCode {
		t.Fatal("long value was stored inline")
	}
	if err := docs.Remove(row); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := db.Decode(code); err == nil {
		t.Error("interned content survived row removal")
	}
}

func TestStringIndexLookup(t *testing.T) {
	_, db, _ := openTestDB(t)
	info := NewColInfo("users", []Col{
		{Name: "Name", Type: TypeString},
		{Name: "Age", Type: TypeBigInt},
	})
	r1, _ := db.Access().AllocPage()
	r2, _ := db.Access().AllocPage()
	users := db.NewTable(3, r1, 1, info)
	users.AddIndex(r2, []int{0})

	names := []string{
		"bob",
		"alice",
		strings.Repeat("a very long name needing the byte store ", 5) + "x",
		strings.Repeat("a very long name needing the byte store ", 5) + "y",
	}
	for i, n := range names {
		r := users.NewRow()
		r.ID = users.AllocID()
		r.Values[0] = StrVal(n)
		r.Values[1] = IntVal(int64(20 + i))
		if err := users.Insert(r); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	for i, n := range names {
		row, ok, err := users.IxGet([]Value{StrVal(n)}, 0)
		if err != nil {
			t.Fatalf("IxGet(%q): %v", n, err)
		}
		if !ok {
			t.Fatalf("IxGet(%q) not found", n)
		}
		if row.Values[1].Int != int64(20+i) {
			t.Errorf("IxGet(%q) age = %d, want %d", n, row.Values[1].Int, 20+i)
		}
	}
}

func TestIDAllocated(t *testing.T) {
	_, _, tbl := openTestDB(t)
	if id := tbl.AllocID(); id != 1 {
		t.Fatalf("first AllocID = %d, want 1", id)
	}
	tbl.IDAllocated(10)
	if id := tbl.AllocID(); id != 11 {
		t.Errorf("AllocID after IDAllocated(10) = %d, want 11", id)
	}
	tbl.IDAllocated(5)
	if id := tbl.AllocID(); id != 12 {
		t.Errorf("AllocID = %d after a lower IDAllocated, want 12", id)
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	stg := storage.NewMem()
	store, err := Open(stg, &Options{Logger: DiscardLogs})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	db, err := store.NewWriter()
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	var roots [2]uint64
	for i := range roots {
		roots[i], _ = db.Access().AllocPage()
	}
	info := NewColInfo("kv", []Col{
		{Name: "K", Type: TypeBigInt},
		{Name: "V", Type: TypeString},
	})
	kv := db.NewTable(1, roots[0], 1, info)
	kv.AddIndex(roots[1], []int{0})

	long := strings.Repeat("persisted ", 50)
	for i := int64(0); i < 100; i++ {
		r := kv.NewRow()
		r.ID = kv.AllocID()
		r.Values[0] = IntVal(i)
		r.Values[1] = StrVal(long)
		if err := kv.Insert(r); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	if err := db.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	db.Close()

	// A second Store over the same bytes sees everything.
	store2, err := Open(stg, &Options{Logger: DiscardLogs})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	db2, err := store2.NewWriter()
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if db2.IsNew() {
		t.Fatal("IsNew = true after reopen")
	}
	kv2 := db2.NewTable(1, roots[0], 101, info)
	kv2.AddIndex(roots[1], []int{0})

	row, ok, err := kv2.IxGet([]Value{IntVal(42)}, 0)
	if err != nil || !ok {
		t.Fatalf("IxGet after reopen: ok=%v err=%v", ok, err)
	}
	if row.Values[1].Str() != long {
		t.Error("interned value corrupted across reopen")
	}

	n := 0
	rs := kv2.Scan()
	for {
		if _, ok := rs.Next(); !ok {
			break
		}
		n++
	}
	if err := rs.Err(); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if n != 100 {
		t.Errorf("scanned %d rows after reopen, want 100", n)
	}
}

func TestSnapshotReadersSeeSavedState(t *testing.T) {
	store, db, tbl := openTestDB(t)
	insertABCD(t, tbl, 1, 0, 0, 0)
	if err := db.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reader, err := store.NewReader()
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer reader.Close()
	rtbl := reader.NewTable(1, 1, 2, testSchema())
	rtbl.AddIndex(2, []int{0})
	rtbl.AddIndex(3, []int{0, 1, 2})

	// Writer adds another row and saves; the reader's view is pinned.
	insertABCD(t, tbl, 2, 0, 0, 0)
	if err := db.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	n := 0
	rs := rtbl.Scan()
	for {
		if _, ok := rs.Next(); !ok {
			break
		}
		n++
	}
	if err := rs.Err(); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if n != 1 {
		t.Errorf("snapshot reader scanned %d rows, want 1", n)
	}
}

func TestRollbackDiscardsInserts(t *testing.T) {
	_, db, tbl := openTestDB(t)
	insertABCD(t, tbl, 1, 1, 1, 1)
	if err := db.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	insertABCD(t, tbl, 2, 2, 2, 2)
	if err := db.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	n := 0
	rs := tbl.Scan()
	for {
		if _, ok := rs.Next(); !ok {
			break
		}
		n++
	}
	if err := rs.Err(); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if n != 1 {
		t.Errorf("scanned %d rows after rollback, want 1", n)
	}
}

func TestValueSlotRoundTrip(t *testing.T) {
	_, db, _ := openTestDB(t)
	info := NewColInfo("mix", []Col{
		{Name: "T", Type: TypeTinyInt},
		{Name: "S", Type: TypeSmallInt},
		{Name: "I", Type: TypeInt},
		{Name: "B", Type: TypeBigInt},
		{Name: "F", Type: TypeFloat},
		{Name: "L", Type: TypeBool},
		{Name: "Bin", Type: TypeBinary},
	})
	root, _ := db.Access().AllocPage()
	mix := db.NewTable(4, root, 1, info)

	r := mix.NewRow()
	r.ID = mix.AllocID()
	r.Values[0] = IntVal(-5)
	r.Values[1] = IntVal(-30000)
	r.Values[2] = IntVal(-2000000000)
	r.Values[3] = IntVal(-9e18)
	r.Values[4] = FloatVal(3.25)
	r.Values[5] = BoolVal(true)
	r.Values[6] = BytesVal([]byte{0x00, 0x01, 0xfe})
	if err := mix.Insert(r); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, ok, err := mix.IDGet(r.ID)
	if err != nil || !ok {
		t.Fatalf("IDGet: ok=%v err=%v", ok, err)
	}
	for i, want := range r.Values {
		if got.Values[i].Compare(want) != 0 {
			t.Errorf("column %d = %+v, want %+v", i, got.Values[i], want)
		}
	}
	if !bytes.Equal(got.Values[6].Bytes, r.Values[6].Bytes) {
		t.Error("binary column corrupted")
	}
}
