package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// FileStorage is a Storage backed by a single OS file.
//
// Writes are not durable until Commit. A torn write inside the file can
// leave a mix of old and new bytes; callers needing atomic commits should
// wrap the file in an AtomicStorage.
type FileStorage struct {
	f *os.File
}

// OpenFile opens (creating if absent) a file-backed store.
func OpenFile(name string) (*FileStorage, error) {
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", name, err)
	}
	return &FileStorage{f: f}, nil
}

// Size returns the current file size.
func (s *FileStorage) Size() (uint64, error) {
	info, err := s.f.Stat()
	if err != nil {
		return 0, err
	}
	return uint64(info.Size()), nil
}

// Read fills p from off, zero-filling any range beyond the file end.
func (s *FileStorage) Read(off uint64, p []byte) error {
	n, err := s.f.ReadAt(p, int64(off))
	if err != nil {
		if errors.Is(err, io.EOF) {
			clear(p[n:])
			return nil
		}
		return err
	}
	return nil
}

// Write stores p at off, extending the file as needed.
func (s *FileStorage) Write(off uint64, p []byte) error {
	_, err := s.f.WriteAt(p, int64(off))
	return err
}

// Commit flushes the file and truncates it to size bytes.
func (s *FileStorage) Commit(size uint64) error {
	if err := s.f.Truncate(int64(size)); err != nil {
		return err
	}
	return s.f.Sync()
}

// Close closes the underlying file.
func (s *FileStorage) Close() error {
	return s.f.Close()
}
