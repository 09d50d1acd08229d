// Package checksum provides the checksum used to protect journal records
// in the atomic storage layer.
//
// XXH3 is a non-cryptographic 64-bit hash with good distribution and
// throughput; a mismatch on read indicates a torn or corrupted record.
package checksum

import "github.com/zeebo/xxh3"

// Size is the number of bytes an encoded checksum occupies.
const Size = 8

// Sum returns the 64-bit XXH3 hash of data.
func Sum(data []byte) uint64 {
	return xxh3.Hash(data)
}

// Verify reports whether sum matches the hash of data.
func Verify(data []byte, sum uint64) bool {
	return xxh3.Hash(data) == sum
}
