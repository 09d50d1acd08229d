package oakdb

import (
	"bytes"
	"fmt"
	"math"

	"github.com/oakdb/oakdb/internal/bytestore"
	"github.com/oakdb/oakdb/internal/encoding"
)

// ColumnType is the storage type of a table column.
type ColumnType int

const (
	// TypeTinyInt is a 1-byte signed integer.
	TypeTinyInt ColumnType = iota
	// TypeSmallInt is a 2-byte signed integer.
	TypeSmallInt
	// TypeInt is a 4-byte signed integer.
	TypeInt
	// TypeBigInt is an 8-byte signed integer.
	TypeBigInt
	// TypeFloat is a 64-bit float.
	TypeFloat
	// TypeBool is a 1-byte boolean.
	TypeBool
	// TypeString is a string; the 16-byte slot holds it inline when 15
	// bytes or shorter, otherwise a 7-byte prefix plus a byte store code.
	TypeString
	// TypeBinary is a byte string, stored like TypeString.
	TypeBinary
)

// Size returns the number of bytes the type occupies in a row record.
func (t ColumnType) Size() int {
	switch t {
	case TypeTinyInt, TypeBool:
		return 1
	case TypeSmallInt:
		return 2
	case TypeInt:
		return 4
	case TypeBigInt, TypeFloat:
		return 8
	case TypeString, TypeBinary:
		return varSlotSize
	default:
		panic(fmt.Sprintf("oakdb: unknown column type %d", t))
	}
}

// String returns the type name.
func (t ColumnType) String() string {
	switch t {
	case TypeTinyInt:
		return "tinyint"
	case TypeSmallInt:
		return "smallint"
	case TypeInt:
		return "int"
	case TypeBigInt:
		return "bigint"
	case TypeFloat:
		return "float"
	case TypeBool:
		return "bool"
	case TypeString:
		return "string"
	case TypeBinary:
		return "binary"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

const (
	// varSlotSize is the row slot size of string and binary columns:
	// a length byte plus 15 inline bytes, or for longer values the
	// length marker, a 7-byte prefix, and an 8-byte code.
	varSlotSize = 16

	// inlineMax is the longest value stored wholly inline.
	inlineMax = 15

	// longMarker in the length byte means the value continues in the
	// byte store.
	longMarker = 0xff

	// prefixLen is the number of leading value bytes kept inline for a
	// long value; the code names the remainder.
	prefixLen = 7
)

// ValueKind discriminates the Value variants.
type ValueKind int

const (
	// KindNone is the zero Value.
	KindNone ValueKind = iota
	// KindInt holds a signed integer.
	KindInt
	// KindFloat holds a 64-bit float.
	KindFloat
	// KindBool holds a boolean.
	KindBool
	// KindBytes holds a string or byte string.
	KindBytes
)

// Value is one column value: a small tagged union rather than an
// interface, so rows of values stay flat.
type Value struct {
	Kind  ValueKind
	Int   int64
	Float float64
	Bool  bool
	Bytes []byte
}

// IntVal returns an integer Value.
func IntVal(i int64) Value { return Value{Kind: KindInt, Int: i} }

// FloatVal returns a float Value.
func FloatVal(f float64) Value { return Value{Kind: KindFloat, Float: f} }

// BoolVal returns a boolean Value.
func BoolVal(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// StrVal returns a string Value.
func StrVal(s string) Value { return Value{Kind: KindBytes, Bytes: []byte(s)} }

// BytesVal returns a byte string Value.
func BytesVal(b []byte) Value { return Value{Kind: KindBytes, Bytes: b} }

// Str returns the value's bytes as a string.
func (v Value) Str() string { return string(v.Bytes) }

// Compare orders two values of the same kind.
func (v Value) Compare(o Value) int {
	if v.Kind != o.Kind {
		panic(fmt.Sprintf("oakdb: comparing %d value with %d value", v.Kind, o.Kind))
	}
	switch v.Kind {
	case KindInt:
		switch {
		case v.Int < o.Int:
			return -1
		case v.Int > o.Int:
			return 1
		}
		return 0
	case KindFloat:
		switch {
		case v.Float < o.Float:
			return -1
		case v.Float > o.Float:
			return 1
		}
		return 0
	case KindBool:
		switch {
		case !v.Bool && o.Bool:
			return -1
		case v.Bool && !o.Bool:
			return 1
		}
		return 0
	case KindBytes:
		return bytes.Compare(v.Bytes, o.Bytes)
	default:
		return 0
	}
}

// defaultValue returns the zero value for a column type.
func defaultValue(t ColumnType) Value {
	switch t {
	case TypeFloat:
		return FloatVal(0)
	case TypeBool:
		return BoolVal(false)
	case TypeString, TypeBinary:
		return BytesVal(nil)
	default:
		return IntVal(0)
	}
}

// encodeValue computes the byte store code for a value, or InlineCode
// when the value fits its slot.
func encodeValue(db *Database, t ColumnType, v Value) (uint64, error) {
	if t != TypeString && t != TypeBinary {
		return bytestore.InlineCode, nil
	}
	if len(v.Bytes) <= inlineMax {
		return bytestore.InlineCode, nil
	}
	return db.bs.Encode(db.apd, v.Bytes[prefixLen:])
}

// saveValue writes a value into its row slot.
func saveValue(t ColumnType, v Value, data []byte, code uint64) {
	switch t {
	case TypeTinyInt, TypeSmallInt, TypeInt, TypeBigInt:
		encoding.PutUint(data, uint64(v.Int), t.Size())
	case TypeFloat:
		encoding.PutFixed64(data, math.Float64bits(v.Float))
	case TypeBool:
		if v.Bool {
			data[0] = 1
		} else {
			data[0] = 0
		}
	case TypeString, TypeBinary:
		if len(v.Bytes) <= inlineMax {
			data[0] = byte(len(v.Bytes))
			copy(data[1:varSlotSize], v.Bytes)
		} else {
			data[0] = longMarker
			copy(data[1:1+prefixLen], v.Bytes[:prefixLen])
			encoding.PutFixed64(data[1+prefixLen:], code)
		}
	}
}

// loadValue reads a value from its row slot, fetching interned content
// through the byte store when the slot holds a code.
func loadValue(db *Database, t ColumnType, data []byte) (Value, uint64, error) {
	switch t {
	case TypeTinyInt, TypeSmallInt, TypeInt, TypeBigInt:
		return IntVal(signExtend(encoding.Uint(data, t.Size()), t.Size())), bytestore.InlineCode, nil
	case TypeFloat:
		return FloatVal(math.Float64frombits(encoding.Fixed64(data))), bytestore.InlineCode, nil
	case TypeBool:
		return BoolVal(data[0] != 0), bytestore.InlineCode, nil
	case TypeString, TypeBinary:
		n := int(data[0])
		if n != longMarker {
			if n > inlineMax {
				return Value{}, 0, fmt.Errorf("%w: inline length %d", ErrCorrupt, n)
			}
			b := make([]byte, n)
			copy(b, data[1:1+n])
			return BytesVal(b), bytestore.InlineCode, nil
		}
		code := encoding.Fixed64(data[1+prefixLen:])
		rest, err := db.bs.Decode(db.apd, code)
		if err != nil {
			return Value{}, 0, err
		}
		b := make([]byte, 0, prefixLen+len(rest))
		b = append(b, data[1:1+prefixLen]...)
		b = append(b, rest...)
		return BytesVal(b), code, nil
	default:
		panic(fmt.Sprintf("oakdb: unknown column type %d", t))
	}
}

// signExtend interprets the low size bytes of u as a signed integer.
func signExtend(u uint64, size int) int64 {
	shift := uint(64 - 8*size)
	return int64(u<<shift) >> shift
}
