package replog

import (
	"errors"
	"fmt"
)

// ErrStreamLimit is returned when a changeset stream cannot grow any further.
// The transaction that hit it cannot be committed.
var ErrStreamLimit = errors.New("changeset stream limit reached")

// ErrStreamLost is returned when a stream failed to grow and dropped bytes
// of the changeset being built. The transaction can only be aborted.
var ErrStreamLost = errors.New("changeset stream lost written data")

// DataError describes malformed changeset bytes.
type DataError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func dataErrf(data []byte, off int, err error, format string, args ...any) error {
	return &DataError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	if n <= prefixLen+suffixLen {
		if e.Err != nil {
			return fmt.Sprintf("%s at offset %d: %v: (%d) %x", e.Msg, e.Off, e.Err, n, e.Data)
		} else {
			return fmt.Sprintf("%s at offset %d: (%d) %x", e.Msg, e.Off, n, e.Data)
		}
	} else {
		p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
		if e.Err != nil {
			return fmt.Sprintf("%s at offset %d: %v: (%d) %x...%x", e.Msg, e.Off, e.Err, n, p, s)
		} else {
			return fmt.Sprintf("%s at offset %d: (%d) %x...%x", e.Msg, e.Off, n, p, s)
		}
	}
}

// ContractError is the panic value for calls that violate the calling
// conventions of this package, e.g. selecting a collection whose owner
// isn't selected. These indicate a bug in the caller.
type ContractError struct {
	Msg string
}

func contractErrf(format string, args ...any) error {
	return &ContractError{fmt.Sprintf(format, args...)}
}

func (e *ContractError) Error() string {
	return "replog: contract violation: " + e.Msg
}

// OverflowError is the panic value for a write past the end of the bound
// changeset region. A truncated changeset can't be decoded, so this is never
// returned as a regular error.
type OverflowError struct {
	Off      int
	Size     int
	Capacity int
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("replog: changeset overflow: writing %d bytes at offset %d exceeds capacity %d", e.Size, e.Off, e.Capacity)
}
