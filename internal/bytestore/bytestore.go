// Package bytestore interns variable-length byte values into fixed-size
// fragment records.
//
// A value is optionally compressed, then split into fragments stored in
// a dedicated sorted file keyed by (code, fragment sequence). The 64-bit
// code names the whole chain and is what the owning row stores. Values
// are interned per insert: equal content stored twice occupies two
// chains, so releasing a code can delete its fragments outright without
// reference counting.
package bytestore

import (
	"fmt"
	"math"

	"github.com/oakdb/oakdb/internal/compression"
	"github.com/oakdb/oakdb/internal/encoding"
	"github.com/oakdb/oakdb/internal/sortedfile"
	"github.com/oakdb/oakdb/internal/stash"
)

const (
	// FragSize is the payload capacity of one fragment record.
	FragSize = 122

	// recSize is the fragment record layout:
	// code u64 | seq u64 | used u16 | payload.
	recSize = 8 + 8 + 2 + FragSize

	// keySize covers code and seq.
	keySize = 16

	// InlineCode is the code value meaning "no interned content":
	// the owning row holds the whole value inline.
	InlineCode = math.MaxUint64
)

// Store interns byte values in a sorted file rooted at a fixed page.
type Store struct {
	file    *sortedfile.File
	codec   compression.Type
	idAlloc uint64
}

// New creates a byte store over the sorted file rooted at rootLpn.
// codec compresses values before fragmenting; compression.None stores
// them raw.
func New(rootLpn uint64, codec compression.Type) *Store {
	return &Store{
		file:  sortedfile.New(recSize, keySize, rootLpn),
		codec: codec,
	}
}

// Init recovers the code allocator from the store: one past the highest
// code in use.
func (s *Store) Init(a *stash.Access) error {
	p, off, ok, err := s.file.Last(a)
	if err != nil {
		return err
	}
	if ok {
		s.idAlloc = encoding.Fixed64(p.Data()[off:]) + 1
	}
	return nil
}

// Encode interns value and returns its code.
func (s *Store) Encode(a *stash.Access, value []byte) (uint64, error) {
	framed, err := compression.Frame(s.codec, value)
	if err != nil {
		return 0, err
	}
	code := s.idAlloc
	s.idAlloc++
	for seq := uint64(0); len(framed) > 0; seq++ {
		n := min(len(framed), FragSize)
		f := frag{code: code, seq: seq, data: framed[:n]}
		if err := s.file.Insert(a, f); err != nil {
			return 0, err
		}
		framed = framed[n:]
	}
	return code, nil
}

// Decode returns the value interned under code.
func (s *Store) Decode(a *stash.Access, code uint64) ([]byte, error) {
	var framed []byte
	asc := s.file.Asc(a, fragKey{code: code, seq: 0})
	seq := uint64(0)
	for {
		p, off, ok := asc.Next()
		if !ok {
			break
		}
		data := p.Data()[off:]
		if encoding.Fixed64(data) != code {
			break
		}
		if got := encoding.Fixed64(data[8:]); got != seq {
			return nil, fmt.Errorf("bytestore: code %d fragment %d missing (found %d)", code, seq, got)
		}
		used := int(encoding.Fixed16(data[16:]))
		if used > FragSize {
			return nil, fmt.Errorf("bytestore: code %d fragment %d claims %d bytes", code, seq, used)
		}
		framed = append(framed, data[18:18+used]...)
		seq++
	}
	if err := asc.Err(); err != nil {
		return nil, err
	}
	if seq == 0 {
		return nil, fmt.Errorf("bytestore: unknown code %d", code)
	}
	return compression.Unframe(framed)
}

// DelCode removes the fragments interned under code.
func (s *Store) DelCode(a *stash.Access, code uint64) error {
	for seq := uint64(0); ; seq++ {
		removed, err := s.file.Remove(a, fragKey{code: code, seq: seq})
		if err != nil {
			return err
		}
		if !removed {
			return nil
		}
	}
}

// Save writes the store's dirty pages through the access.
func (s *Store) Save(a *stash.Access) error {
	return s.file.Save(a)
}

// Rollback discards the store's cached pages.
func (s *Store) Rollback() {
	s.file.Rollback()
}

// frag is one stored fragment of a chain.
type frag struct {
	code uint64
	seq  uint64
	data []byte
}

func (f frag) Compare(data []byte) int {
	return compareKey(f.code, f.seq, data)
}

func (f frag) Save(data []byte) {
	encoding.PutFixed64(data, f.code)
	encoding.PutFixed64(data[8:], f.seq)
	encoding.PutFixed16(data[16:], uint16(len(f.data)))
	copy(data[18:], f.data)
}

func (f frag) Key(data []byte) (sortedfile.Record, error) {
	return fragKey{code: encoding.Fixed64(data), seq: encoding.Fixed64(data[8:])}, nil
}

// fragKey is the (code, seq) key of a fragment.
type fragKey struct {
	code uint64
	seq  uint64
}

func (k fragKey) Compare(data []byte) int {
	return compareKey(k.code, k.seq, data)
}

func (k fragKey) Save(data []byte) {
	encoding.PutFixed64(data, k.code)
	encoding.PutFixed64(data[8:], k.seq)
}

func (k fragKey) Key(data []byte) (sortedfile.Record, error) {
	return fragKey{code: encoding.Fixed64(data), seq: encoding.Fixed64(data[8:])}, nil
}

func compareKey(code, seq uint64, data []byte) int {
	d := encoding.Fixed64(data)
	switch {
	case code < d:
		return -1
	case code > d:
		return 1
	}
	d = encoding.Fixed64(data[8:])
	switch {
	case seq < d:
		return -1
	case seq > d:
		return 1
	}
	return 0
}
