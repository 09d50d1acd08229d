package oakdb

import (
	"github.com/oakdb/oakdb/internal/compact"
)

// ErrCorrupt reports an invariant violation detected while reading
// stored data: a size field out of range, a back-pointer mismatch, an
// index entry whose row is gone. Corruption is fatal to the operation
// that hit it; there is no in-place repair. Use errors.Is to detect it
// regardless of which layer noticed.
var ErrCorrupt = compact.ErrCorrupt
