// Package encoding provides the binary encoding primitives shared by the
// storage core. All multi-byte integers in the file format are
// little-endian. Variable-length integers use 7-bit encoding with MSB
// continuation.
package encoding

import (
	"encoding/binary"
	"errors"
)

// MaxVarint32Length is the maximum number of bytes a varint32 can occupy.
const MaxVarint32Length = 5

var (
	// ErrVarintOverflow is returned when a varint exceeds the maximum value.
	ErrVarintOverflow = errors.New("encoding: varint overflow")

	// ErrVarintTermination is returned when a varint doesn't terminate properly.
	ErrVarintTermination = errors.New("encoding: varint not terminated")
)

// PutFixed16 encodes a uint16 into a 2-byte little-endian buffer.
// REQUIRES: dst has at least 2 bytes.
func PutFixed16(dst []byte, value uint16) {
	binary.LittleEndian.PutUint16(dst, value)
}

// Fixed16 decodes a uint16 from a 2-byte little-endian buffer.
// REQUIRES: src has at least 2 bytes.
func Fixed16(src []byte) uint16 {
	return binary.LittleEndian.Uint16(src)
}

// PutFixed32 encodes a uint32 into a 4-byte little-endian buffer.
// REQUIRES: dst has at least 4 bytes.
func PutFixed32(dst []byte, value uint32) {
	binary.LittleEndian.PutUint32(dst, value)
}

// Fixed32 decodes a uint32 from a 4-byte little-endian buffer.
// REQUIRES: src has at least 4 bytes.
func Fixed32(src []byte) uint32 {
	return binary.LittleEndian.Uint32(src)
}

// PutFixed64 encodes a uint64 into an 8-byte little-endian buffer.
// REQUIRES: dst has at least 8 bytes.
func PutFixed64(dst []byte, value uint64) {
	binary.LittleEndian.PutUint64(dst, value)
}

// Fixed64 decodes a uint64 from an 8-byte little-endian buffer.
// REQUIRES: src has at least 8 bytes.
func Fixed64(src []byte) uint64 {
	return binary.LittleEndian.Uint64(src)
}

// AppendFixed32 appends a little-endian uint32 to dst and returns the extended slice.
func AppendFixed32(dst []byte, value uint32) []byte {
	return binary.LittleEndian.AppendUint32(dst, value)
}

// AppendFixed64 appends a little-endian uint64 to dst and returns the extended slice.
func AppendFixed64(dst []byte, value uint64) []byte {
	return binary.LittleEndian.AppendUint64(dst, value)
}

// PutUint packs the low size bytes of value into dst, little-endian.
// Slot widths in row records range from 1 to 8 bytes, so this is the
// general form of the fixed-width writers above.
// REQUIRES: dst has at least size bytes; 1 <= size <= 8.
func PutUint(dst []byte, value uint64, size int) {
	for i := 0; i < size; i++ {
		dst[i] = byte(value)
		value >>= 8
	}
}

// Uint unpacks size little-endian bytes of src into a uint64.
// REQUIRES: src has at least size bytes; 1 <= size <= 8.
func Uint(src []byte, size int) uint64 {
	var value uint64
	for i := size - 1; i >= 0; i-- {
		value = value<<8 | uint64(src[i])
	}
	return value
}

// AppendVarint32 appends a uint32 as a varint to dst and returns the extended slice.
func AppendVarint32(dst []byte, value uint32) []byte {
	const b = 128
	for value >= b {
		dst = append(dst, byte(value&(b-1))|b)
		value >>= 7
	}
	return append(dst, byte(value))
}

// Varint32 decodes a varint32 from src.
// Returns the decoded value and the number of bytes consumed.
func Varint32(src []byte) (value uint32, bytesRead int, err error) {
	for shift := uint(0); shift < 35; shift += 7 {
		if bytesRead >= len(src) {
			return 0, 0, ErrVarintTermination
		}
		b := src[bytesRead]
		bytesRead++
		if b < 128 {
			return value | uint32(b)<<shift, bytesRead, nil
		}
		value |= uint32(b&0x7f) << shift
	}
	return 0, 0, ErrVarintOverflow
}
