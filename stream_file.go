package replog

import (
	"fmt"

	"github.com/andreyvit/replog/mmap"
)

// FileStream is a Stream backed by a memory-mapped file, for changesets that
// should survive the process without an extra copy. Growth doubles the file;
// failing to grow it is reported as an error, not a panic.
type FileStream struct {
	region *mmap.Region
	limit  int
}

var _ Stream = (*FileStream)(nil)

// OpenFileStream maps path with room for initialSize bytes. A zero limit
// means the file can grow up to mmap.MaxSize.
func OpenFileStream(path string, initialSize, limit int) (*FileStream, error) {
	if initialSize <= 0 {
		initialSize = 4096
	}
	region, err := mmap.Open(path, initialSize, mmap.Writable|mmap.SequentialAccess)
	if err != nil {
		return nil, err
	}
	return &FileStream{region: region, limit: limit}, nil
}

func (s *FileStream) Data() []byte {
	return s.region.Bytes()
}

func (s *FileStream) Reserve(used, extra int) ([]byte, error) {
	need := used + extra
	if need <= s.region.Size() {
		return s.region.Bytes(), nil
	}
	if s.limit > 0 && need > s.limit {
		return nil, fmt.Errorf("%w: %d bytes needed, limit is %d", ErrStreamLimit, need, s.limit)
	}
	size := max(need, 2*s.region.Size())
	if s.limit > 0 {
		size = min(size, s.limit)
	}
	if err := s.region.Grow(size); err != nil {
		return nil, fmt.Errorf("growing changeset file: %w", err)
	}
	return s.region.Bytes(), nil
}

// Sync flushes the mapped file to disk.
func (s *FileStream) Sync() error {
	return s.region.Sync()
}

// Close unmaps the file and truncates it to the first used bytes.
func (s *FileStream) Close(used int) error {
	return s.region.Close(used)
}
