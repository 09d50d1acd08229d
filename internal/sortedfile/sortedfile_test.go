package sortedfile

import (
	"math/rand"
	"testing"

	"github.com/oakdb/oakdb/internal/encoding"
	"github.com/oakdb/oakdb/internal/logging"
	"github.com/oakdb/oakdb/internal/stash"
	"github.com/oakdb/oakdb/storage"
)

// rec is a 16-byte test record: an 8-byte key and an 8-byte payload.
type rec struct {
	k, v uint64
}

func (r rec) Compare(data []byte) int {
	d := encoding.Fixed64(data)
	switch {
	case r.k < d:
		return -1
	case r.k > d:
		return 1
	}
	return 0
}

func (r rec) Save(data []byte) {
	encoding.PutFixed64(data, r.k)
	encoding.PutFixed64(data[8:], r.v)
}

func (r rec) Key(data []byte) (Record, error) {
	return key{k: encoding.Fixed64(data)}, nil
}

// key is the 8-byte key of a rec.
type key struct {
	k uint64
}

func (r key) Compare(data []byte) int {
	return rec{k: r.k}.Compare(data)
}

func (r key) Save(data []byte) {
	encoding.PutFixed64(data, r.k)
}

func (r key) Key(data []byte) (Record, error) {
	return key{k: encoding.Fixed64(data)}, nil
}

func newFile(t *testing.T) (*File, *stash.Access) {
	t.Helper()
	spd, err := stash.NewShared(storage.NewMem(), stash.Options{Logger: logging.Discard})
	if err != nil {
		t.Fatalf("NewShared: %v", err)
	}
	w := spd.OpenWrite()
	root, err := w.AllocPage()
	if err != nil {
		t.Fatalf("AllocPage: %v", err)
	}
	return New(16, 8, root), w
}

// collect drains an iterator into key order.
func collect(t *testing.T, asc *Asc) []uint64 {
	t.Helper()
	var keys []uint64
	for {
		p, off, ok := asc.Next()
		if !ok {
			break
		}
		keys = append(keys, encoding.Fixed64(p.Data()[off:]))
	}
	if err := asc.Err(); err != nil {
		t.Fatalf("Asc: %v", err)
	}
	return keys
}

func TestInsertAndIterate(t *testing.T) {
	sf, w := newFile(t)

	const n = 500
	perm := rand.New(rand.NewSource(1)).Perm(n)
	for _, i := range perm {
		if err := sf.Insert(w, rec{k: uint64(i), v: uint64(i) * 3}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	keys := collect(t, sf.Asc(w, Zero{}))
	if len(keys) != n {
		t.Fatalf("iterated %d records, want %d", len(keys), n)
	}
	for i, k := range keys {
		if k != uint64(i) {
			t.Fatalf("keys[%d] = %d, want %d", i, k, i)
		}
	}
}

func TestGet(t *testing.T) {
	sf, w := newFile(t)
	for i := uint64(0); i < 100; i += 2 {
		if err := sf.Insert(w, rec{k: i, v: i + 1}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	p, off, ok, err := sf.Get(w, key{k: 42})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("Get(42) not found")
	}
	if v := encoding.Fixed64(p.Data()[off+8:]); v != 43 {
		t.Errorf("payload = %d, want 43", v)
	}

	_, _, ok, err = sf.Get(w, key{k: 43})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("Get(43) found a record that was never inserted")
	}
}

func TestUpsertOverwrites(t *testing.T) {
	sf, w := newFile(t)
	if err := sf.Insert(w, rec{k: 7, v: 1}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := sf.Insert(w, rec{k: 7, v: 2}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	keys := collect(t, sf.Asc(w, Zero{}))
	if len(keys) != 1 {
		t.Fatalf("record count = %d after upsert, want 1", len(keys))
	}
	p, off, ok, err := sf.Get(w, key{k: 7})
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if v := encoding.Fixed64(p.Data()[off+8:]); v != 2 {
		t.Errorf("payload = %d after upsert, want 2", v)
	}
}

func TestRemove(t *testing.T) {
	sf, w := newFile(t)
	for i := uint64(0); i < 200; i++ {
		if err := sf.Insert(w, rec{k: i, v: i}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	for i := uint64(0); i < 200; i += 2 {
		removed, err := sf.Remove(w, key{k: i})
		if err != nil {
			t.Fatalf("Remove: %v", err)
		}
		if !removed {
			t.Fatalf("Remove(%d) found nothing", i)
		}
	}
	removed, err := sf.Remove(w, key{k: 0})
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if removed {
		t.Error("Remove removed an already-removed record")
	}

	keys := collect(t, sf.Asc(w, Zero{}))
	if len(keys) != 100 {
		t.Fatalf("%d records left, want 100", len(keys))
	}
	for i, k := range keys {
		if k != uint64(2*i+1) {
			t.Fatalf("keys[%d] = %d, want %d", i, k, 2*i+1)
		}
	}
}

func TestAscFromKey(t *testing.T) {
	sf, w := newFile(t)
	for i := uint64(0); i < 300; i += 3 {
		if err := sf.Insert(w, rec{k: i, v: i}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	// Start between records: the first yielded key is the next multiple
	// of 3 at or after 100.
	keys := collect(t, sf.Asc(w, key{k: 100}))
	if len(keys) == 0 || keys[0] != 102 {
		t.Fatalf("first key = %v, want 102", keys)
	}
	// Start exactly on a record.
	keys = collect(t, sf.Asc(w, key{k: 99}))
	if len(keys) == 0 || keys[0] != 99 {
		t.Fatalf("first key = %v, want 99", keys)
	}
	if len(keys) != 67 {
		t.Errorf("yielded %d records from 99, want 67", len(keys))
	}
}

func TestSplitsAcrossPages(t *testing.T) {
	sf, w := newFile(t)

	// Enough records to force leaf splits and at least one root growth.
	const n = 5000
	perm := rand.New(rand.NewSource(7)).Perm(n)
	for _, i := range perm {
		if err := sf.Insert(w, rec{k: uint64(i), v: uint64(i)}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	if len(sf.pages) < 2 {
		t.Fatalf("only %d pages after %d inserts, expected splits", len(sf.pages), n)
	}
	root := sf.pages[sf.rootLpn]
	if root.level == 0 {
		t.Error("root is still a leaf after 5000 inserts")
	}

	keys := collect(t, sf.Asc(w, Zero{}))
	if len(keys) != n {
		t.Fatalf("iterated %d records, want %d", len(keys), n)
	}
	for i, k := range keys {
		if k != uint64(i) {
			t.Fatalf("keys[%d] = %d, want %d", i, k, i)
		}
	}

	// Point lookups still work through the interior levels.
	for _, probe := range []uint64{0, 1, 2499, 4998, 4999} {
		_, _, ok, err := sf.Get(w, key{k: probe})
		if err != nil {
			t.Fatalf("Get(%d): %v", probe, err)
		}
		if !ok {
			t.Errorf("Get(%d) not found after splits", probe)
		}
	}
}

func TestSaveAndReload(t *testing.T) {
	spd, err := stash.NewShared(storage.NewMem(), stash.Options{Logger: logging.Discard})
	if err != nil {
		t.Fatalf("NewShared: %v", err)
	}
	w := spd.OpenWrite()
	root, _ := w.AllocPage()

	sf := New(16, 8, root)
	const n = 3000
	for i := 0; i < n; i++ {
		if err := sf.Insert(w, rec{k: uint64(i), v: uint64(i)}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	if err := sf.Save(w); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := w.Save(stash.Save); err != nil {
		t.Fatalf("stash Save: %v", err)
	}

	// A fresh handle over the same pages sees everything.
	sf2 := New(16, 8, root)
	keys := collect(t, sf2.Asc(w, Zero{}))
	if len(keys) != n {
		t.Fatalf("reloaded %d records, want %d", len(keys), n)
	}
}

func TestRollbackDiscardsCache(t *testing.T) {
	sf, w := newFile(t)
	if err := sf.Insert(w, rec{k: 1, v: 1}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := sf.Save(w); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := w.Save(stash.Save); err != nil {
		t.Fatalf("stash Save: %v", err)
	}

	// An unsaved insert disappears on rollback.
	if err := sf.Insert(w, rec{k: 2, v: 2}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	sf.Rollback()
	if _, err := w.Save(stash.Rollback); err != nil {
		t.Fatalf("stash Rollback: %v", err)
	}

	keys := collect(t, sf.Asc(w, Zero{}))
	if len(keys) != 1 || keys[0] != 1 {
		t.Fatalf("keys after rollback = %v, want [1]", keys)
	}
}

// dropRec counts DropKey calls, standing in for records whose keys own
// interned content.
type dropRec struct {
	rec
	drops *int
}

func (d dropRec) DropKey([]byte) { *d.drops++ }

func TestFreeReleasesPages(t *testing.T) {
	sf, w := newFile(t)
	const n = 50
	for i := uint64(0); i < n; i++ {
		if err := sf.Insert(w, rec{k: i, v: i}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	if err := sf.Save(w); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := w.Save(stash.Save); err != nil {
		t.Fatalf("stash Save: %v", err)
	}

	drops := 0
	if err := sf.Free(w, dropRec{drops: &drops}); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if drops != n {
		t.Errorf("DropKey called %d times, want %d", drops, n)
	}
	if _, err := w.Save(stash.Save); err != nil {
		t.Fatalf("stash Save: %v", err)
	}

	// The root page is free again: the next allocation reuses it.
	lpn, err := w.AllocPage()
	if err != nil {
		t.Fatalf("AllocPage: %v", err)
	}
	if lpn != sf.rootLpn {
		t.Errorf("AllocPage after Free = %d, want the freed root %d", lpn, sf.rootLpn)
	}
}

func TestSaveRewritesSlackPages(t *testing.T) {
	spd, err := stash.NewShared(storage.NewMem(), stash.Options{Logger: logging.Discard})
	if err != nil {
		t.Fatalf("NewShared: %v", err)
	}
	w := spd.OpenWrite()
	root, _ := w.AllocPage()

	sf := New(16, 8, root)
	for i := uint64(0); i < 800; i++ {
		if err := sf.Insert(w, rec{k: i, v: i}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	for i := uint64(0); i < 700; i++ {
		if _, err := sf.Remove(w, key{k: i}); err != nil {
			t.Fatalf("Remove: %v", err)
		}
	}
	if err := sf.Save(w); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := w.Save(stash.Save); err != nil {
		t.Fatalf("stash Save: %v", err)
	}

	// The slack crossed the extension-page threshold, so the page was
	// re-emitted tightly.
	data, err := w.GetPage(root)
	if err != nil {
		t.Fatalf("GetPage: %v", err)
	}
	tight := leafHeaderSize + 100*(nodeOverhead+16)
	if len(data) != tight {
		t.Errorf("stored page is %d bytes, want tight form %d", len(data), tight)
	}

	// The surviving records still read in order through a fresh handle.
	sf2 := New(16, 8, root)
	keys := collect(t, sf2.Asc(w, Zero{}))
	if len(keys) != 100 {
		t.Fatalf("%d records after rewrite, want 100", len(keys))
	}
	for i, k := range keys {
		if k != uint64(700+i) {
			t.Fatalf("keys[%d] = %d, want %d", i, k, 700+i)
		}
	}
}

func TestDeleteThenReinsert(t *testing.T) {
	sf, w := newFile(t)
	const n = 1000
	for i := uint64(0); i < n; i++ {
		if err := sf.Insert(w, rec{k: i, v: i}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	for i := uint64(0); i < n; i++ {
		if _, err := sf.Remove(w, key{k: i}); err != nil {
			t.Fatalf("Remove: %v", err)
		}
	}
	if keys := collect(t, sf.Asc(w, Zero{})); len(keys) != 0 {
		t.Fatalf("%d records after removing all, want 0", len(keys))
	}
	for i := uint64(0); i < n; i += 10 {
		if err := sf.Insert(w, rec{k: i, v: i}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	keys := collect(t, sf.Asc(w, Zero{}))
	if len(keys) != n/10 {
		t.Fatalf("%d records after reinsert, want %d", len(keys), n/10)
	}
}
