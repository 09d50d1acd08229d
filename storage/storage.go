// Package storage provides the byte-addressable backing store beneath the
// compact file.
//
// This allows the storage core to:
//   - Use a plain OS file in production
//   - Use a memory store for testing
//   - Use a journalled store when commits must be atomic
//
// Concurrency: the layers above guarantee at most one writer at a time.
// Reads may run concurrently with writes only on non-overlapping ranges,
// which the compact file guarantees because readers only touch pages the
// writer is not currently modifying.
package storage

// Storage is a byte-addressable backing store.
type Storage interface {
	// Size returns the current store size in bytes.
	Size() (uint64, error)

	// Read fills p with bytes starting at off. Ranges beyond the current
	// size read as zero bytes; this is relied upon for starter slots of
	// pages that have never been written.
	Read(off uint64, p []byte) error

	// Write stores p at off, extending the store as needed.
	Write(off uint64, p []byte) error

	// Commit makes all preceding writes durable and truncates the store
	// to size bytes.
	Commit(size uint64) error

	// Close releases resources. The store must not be used afterwards.
	Close() error
}
