package replog

import "fmt"

// Stream is the backing storage of a changeset. The encoder is the only
// writer; it writes into the region returned by Data or Reserve and never
// beyond its length.
type Stream interface {
	// Data returns the current region. Its length is the writable capacity.
	Data() []byte

	// Reserve makes room for extra bytes after the first used bytes of the
	// region, preserving them, and returns the (possibly moved) region.
	// An error means the storage cannot grow; the changeset is lost.
	Reserve(used, extra int) ([]byte, error)
}

// MemStream is a growable in-memory Stream. A zero Limit means unlimited.
type MemStream struct {
	Limit int
	buf   []byte
}

var _ Stream = (*MemStream)(nil)

func NewMemStream(initialCap, limit int) *MemStream {
	if limit > 0 && initialCap > limit {
		initialCap = limit
	}
	return &MemStream{
		Limit: limit,
		buf:   make([]byte, 0, initialCap),
	}
}

func (s *MemStream) Data() []byte {
	return s.region()
}

func (s *MemStream) region() []byte {
	if s.Limit > 0 && cap(s.buf) > s.Limit {
		return s.buf[:s.Limit]
	}
	return s.buf[:cap(s.buf)]
}

func (s *MemStream) Reserve(used, extra int) ([]byte, error) {
	need := used + extra
	if s.Limit > 0 && need > s.Limit {
		return nil, fmt.Errorf("%w: %d bytes needed, limit is %d", ErrStreamLimit, need, s.Limit)
	}
	if need > cap(s.buf) {
		s.buf = ensureCapacity(s.buf[:used], need)
	}
	return s.region(), nil
}

// FixedStream writes into caller-provided memory and never grows. Writing
// more than fits is a fatal overflow.
type FixedStream struct {
	buf []byte
}

var _ Stream = (*FixedStream)(nil)

func NewFixedStream(buf []byte) *FixedStream {
	return &FixedStream{buf: buf[:cap(buf)]}
}

func (s *FixedStream) Data() []byte {
	return s.buf
}

func (s *FixedStream) Reserve(used, extra int) ([]byte, error) {
	return s.buf, nil
}
