// Package compression provides the codecs used for interned values.
//
// A value stored through the byte store may be compressed before it is
// split into fragments. The compressed form is self-describing: a 1-byte
// codec tag, the varint-encoded raw length, then the codec output. The
// tag and length survive fragmentation because they travel inside the
// fragment chain like any other payload bytes.
package compression

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/oakdb/oakdb/internal/encoding"
)

// Type represents a compression codec.
type Type uint8

const (
	// None stores values uncompressed.
	None Type = 0x0

	// Snappy uses Google Snappy compression.
	Snappy Type = 0x1

	// Zlib uses zlib compression.
	Zlib Type = 0x2

	// LZ4 uses LZ4 raw block compression.
	LZ4 Type = 0x3

	// Zstd uses Zstandard compression.
	Zstd Type = 0x4
)

// String returns the human-readable name of the compression type.
func (t Type) String() string {
	switch t {
	case None:
		return "None"
	case Snappy:
		return "Snappy"
	case Zlib:
		return "Zlib"
	case LZ4:
		return "LZ4"
	case Zstd:
		return "Zstd"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(t))
	}
}

// IsSupported returns true if the compression type is supported.
func (t Type) IsSupported() bool {
	switch t {
	case None, Snappy, Zlib, LZ4, Zstd:
		return true
	default:
		return false
	}
}

// Frame compresses data with codec t and prepends the codec tag and raw
// length. When t is None, or the codec output would not be smaller than
// the input, the value is framed uncompressed so Unframe stays uniform.
func Frame(t Type, data []byte) ([]byte, error) {
	if t != None {
		compressed, err := compress(t, data)
		if err != nil {
			return nil, err
		}
		if compressed != nil && len(compressed) < len(data) {
			out := make([]byte, 0, 1+encoding.MaxVarint32Length+len(compressed))
			out = append(out, byte(t))
			out = encoding.AppendVarint32(out, uint32(len(data)))
			return append(out, compressed...), nil
		}
	}
	out := make([]byte, 0, 1+encoding.MaxVarint32Length+len(data))
	out = append(out, byte(None))
	out = encoding.AppendVarint32(out, uint32(len(data)))
	return append(out, data...), nil
}

// Unframe reverses Frame, returning the raw value bytes.
func Unframe(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("compression: empty frame")
	}
	t := Type(data[0])
	rawLen, n, err := encoding.Varint32(data[1:])
	if err != nil {
		return nil, fmt.Errorf("compression: frame length: %w", err)
	}
	payload := data[1+n:]
	out, err := decompress(t, payload, int(rawLen))
	if err != nil {
		return nil, err
	}
	if len(out) != int(rawLen) {
		return nil, fmt.Errorf("compression: frame declared %d raw bytes, got %d", rawLen, len(out))
	}
	return out, nil
}

// compress compresses data using the specified codec.
// A nil result (LZ4 only) means the data was incompressible.
func compress(t Type, data []byte) ([]byte, error) {
	switch t {
	case Snappy:
		return snappy.Encode(nil, data), nil

	case Zlib:
		var buf bytes.Buffer
		w := zlib.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("zlib write: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("zlib close: %w", err)
		}
		return buf.Bytes(), nil

	case LZ4:
		return compressLZ4(data)

	case Zstd:
		encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("zstd encoder: %w", err)
		}
		return encoder.EncodeAll(data, nil), nil

	default:
		return nil, fmt.Errorf("compression: unsupported type: %s", t)
	}
}

// compressLZ4 compresses data using the LZ4 raw block format (no frame
// header); the raw length carried by Frame supplies the size the block
// decoder needs.
func compressLZ4(data []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	var ht [1 << 16]int
	n, err := lz4.CompressBlock(data, dst, ht[:])
	if err != nil {
		return nil, fmt.Errorf("lz4 compress block: %w", err)
	}
	if n == 0 {
		// Incompressible input.
		return nil, nil
	}
	return dst[:n], nil
}

// decompress decompresses payload, which has rawSize uncompressed bytes.
func decompress(t Type, payload []byte, rawSize int) ([]byte, error) {
	switch t {
	case None:
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil

	case Snappy:
		return snappy.Decode(nil, payload)

	case Zlib:
		r, err := zlib.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("zlib decompress: %w", err)
		}
		defer func() { _ = r.Close() }()
		return io.ReadAll(r)

	case LZ4:
		dst := make([]byte, rawSize)
		n, err := lz4.UncompressBlock(payload, dst)
		if err != nil {
			return nil, fmt.Errorf("lz4 uncompress block: %w", err)
		}
		return dst[:n], nil

	case Zstd:
		decoder, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decoder: %w", err)
		}
		defer decoder.Close()
		return decoder.DecodeAll(payload, nil)

	default:
		return nil, fmt.Errorf("compression: unsupported type: %s", t)
	}
}
