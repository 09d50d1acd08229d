package oakdb

// options.go implements database configuration options.

import (
	"fmt"

	"github.com/oakdb/oakdb/internal/compression"
	"github.com/oakdb/oakdb/internal/logging"
	"github.com/oakdb/oakdb/internal/stash"
)

// Logger is an alias for the logging.Logger interface.
// This allows users to pass their own logger implementation.
type Logger = logging.Logger

// NewLogger constructs the default stderr logger at the given level.
var NewLogger = logging.NewDefaultLogger

// DiscardLogs is a logger that drops everything.
var DiscardLogs = logging.Discard

// Log levels.
const (
	LevelError = logging.LevelError
	LevelWarn  = logging.LevelWarn
	LevelInfo  = logging.LevelInfo
	LevelDebug = logging.LevelDebug
)

// CompressionType is an alias for the byte store compression codec.
type CompressionType = compression.Type

// Compression type constants.
const (
	CompressionNone   = compression.None
	CompressionSnappy = compression.Snappy
	CompressionZlib   = compression.Zlib
	CompressionLZ4    = compression.LZ4
	CompressionZstd   = compression.Zstd
)

// Options configure a Store.
type Options struct {
	// CacheLimit is the page cache memory budget in bytes.
	// Zero selects the default (32 MiB).
	CacheLimit int

	// StarterSize and ExtensionSize set the compact file geometry for a
	// fresh store; zero selects the defaults (136 and 1024). An existing
	// store uses the geometry in its header.
	StarterSize   int
	ExtensionSize int

	// Compression is the codec applied to interned values before they
	// are fragmented. Existing values are self-describing, so the codec
	// can change between opens. Default none.
	Compression CompressionType

	// Logger receives store diagnostics. Default: stderr at WARN.
	Logger Logger
}

// DefaultCacheLimit is the page cache budget when none is configured.
const DefaultCacheLimit = stash.DefaultCacheLimit

func (o *Options) validate() error {
	if o.CacheLimit < 0 {
		return fmt.Errorf("oakdb: negative cache limit %d", o.CacheLimit)
	}
	if !o.Compression.IsSupported() {
		return fmt.Errorf("oakdb: unsupported compression type %s", o.Compression)
	}
	if (o.StarterSize == 0) != (o.ExtensionSize == 0) {
		return fmt.Errorf("oakdb: starter and extension sizes must be set together")
	}
	if o.StarterSize != 0 && (o.StarterSize < 26 || o.StarterSize > o.ExtensionSize) {
		return fmt.Errorf("oakdb: invalid geometry starter=%d extension=%d", o.StarterSize, o.ExtensionSize)
	}
	return nil
}
