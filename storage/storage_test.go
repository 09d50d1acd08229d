package storage

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestFileStorageReadWrite(t *testing.T) {
	name := filepath.Join(t.TempDir(), "data")
	s, err := OpenFile(name)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer s.Close()

	if err := s.Write(100, []byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got := make([]byte, 5)
	if err := s.Read(100, got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, []byte("hello")) {
		t.Errorf("Read = %q, want hello", got)
	}

	// Reads past the end come back zeroed.
	tail := make([]byte, 10)
	tail[5] = 0xaa
	if err := s.Read(102, tail); err != nil {
		t.Fatalf("Read past end: %v", err)
	}
	if !bytes.Equal(tail, []byte{'l', 'l', 'o', 0, 0, 0, 0, 0, 0, 0}) {
		t.Errorf("Read past end = %v", tail)
	}

	if err := s.Commit(50); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	size, err := s.Size()
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 50 {
		t.Errorf("Size after Commit(50) = %d", size)
	}
}

func TestMemStorage(t *testing.T) {
	s := NewMem()
	if err := s.Write(10, []byte("abc")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got := make([]byte, 6)
	if err := s.Read(9, got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, []byte{0, 'a', 'b', 'c', 0, 0}) {
		t.Errorf("Read = %v", got)
	}
	if err := s.Commit(11); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	size, _ := s.Size()
	if size != 11 {
		t.Errorf("Size = %d, want 11", size)
	}
}

func TestAtomicCommitVisibleAfterReopen(t *testing.T) {
	base, journal := NewMem(), NewMem()
	a, err := NewAtomic(base, journal)
	if err != nil {
		t.Fatalf("NewAtomic: %v", err)
	}
	if err := a.Write(0, []byte("committed")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := a.Commit(9); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	a2, err := NewAtomic(base, journal)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got := make([]byte, 9)
	if err := a2.Read(0, got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "committed" {
		t.Errorf("Read = %q", got)
	}
}

func TestAtomicUncommittedWritesInvisible(t *testing.T) {
	base, journal := NewMem(), NewMem()
	a, err := NewAtomic(base, journal)
	if err != nil {
		t.Fatalf("NewAtomic: %v", err)
	}
	if err := a.Write(0, []byte("staged")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// The staged write is visible through the atomic view...
	got := make([]byte, 6)
	if err := a.Read(0, got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "staged" {
		t.Errorf("overlay Read = %q", got)
	}

	// ...but never reached the base store.
	size, _ := base.Size()
	if size != 0 {
		t.Errorf("base size = %d before commit, want 0", size)
	}
}

func TestAtomicJournalReplay(t *testing.T) {
	// Simulate a crash after the journal was written but before it was
	// applied: build the journal by hand through one atomic store, then
	// feed it to a fresh one over an empty base.
	base, journal := NewMem(), NewMem()
	a, err := NewAtomic(base, journal)
	if err != nil {
		t.Fatalf("NewAtomic: %v", err)
	}
	if err := a.Write(4, []byte("replayed")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := a.writeJournal(12); err != nil {
		t.Fatalf("writeJournal: %v", err)
	}

	// Recovery applies the journal to the base.
	if _, err := NewAtomic(base, journal); err != nil {
		t.Fatalf("recover: %v", err)
	}
	got := make([]byte, 8)
	if err := base.Read(4, got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "replayed" {
		t.Errorf("base after replay = %q", got)
	}
	jsize, _ := journal.Size()
	if jsize != 0 {
		t.Errorf("journal size after recovery = %d, want 0", jsize)
	}
}

func TestAtomicTornJournalDiscarded(t *testing.T) {
	base, journal := NewMem(), NewMem()
	a, err := NewAtomic(base, journal)
	if err != nil {
		t.Fatalf("NewAtomic: %v", err)
	}
	if err := a.Write(0, []byte("torn")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := a.writeJournal(4); err != nil {
		t.Fatalf("writeJournal: %v", err)
	}

	// Chop the journal short of its marker: the write must not reach
	// the base on recovery.
	jsize, _ := journal.Size()
	if err := journal.Commit(jsize - 5); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if _, err := NewAtomic(base, journal); err != nil {
		t.Fatalf("recover: %v", err)
	}
	size, _ := base.Size()
	if size != 0 {
		t.Errorf("base size = %d after torn journal, want 0", size)
	}
}

func TestAtomicOverlappingWrites(t *testing.T) {
	base, journal := NewMem(), NewMem()
	a, err := NewAtomic(base, journal)
	if err != nil {
		t.Fatalf("NewAtomic: %v", err)
	}
	if err := a.Write(0, []byte("aaaaaaaaaa")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := a.Write(3, []byte("bbb")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := a.Write(8, []byte("cccc")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	want := []byte("aaabbbaacccc")
	got := make([]byte, len(want))
	if err := a.Read(0, got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("overlay = %q, want %q", got, want)
	}

	if err := a.Commit(uint64(len(want))); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := base.Read(0, got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("base = %q, want %q", got, want)
	}
}
