// Package history keeps committed changesets, keyed by the version each
// commit produced. Journal appends them to segment files and serves
// out-of-process readers; Bolt keeps them in a bbolt database next to the
// data.
package history

import (
	"bytes"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/andreyvit/replog"
)

// ErrOutOfSequence means a transaction was started from a version other
// than the latest one recorded.
var ErrOutOfSequence = fmt.Errorf("history: version out of sequence")

// Entry is one recorded changeset.
type Entry struct {
	Version   replog.Version `msgpack:"v"`
	Prev      replog.Version `msgpack:"p"`
	Time      time.Time      `msgpack:"t"`
	Changeset []byte         `msgpack:"c"`
}

// Store is a History that can be read back.
type Store interface {
	replog.History

	// LatestVersion is the version of the last recorded changeset, or zero.
	LatestVersion() replog.Version

	// Entries calls fn for every entry with a version of at least from, in
	// version order.
	Entries(from replog.Version, fn func(e Entry) error) error

	Close() error
}

var (
	_ Store = (*Journal)(nil)
	_ Store = (*Bolt)(nil)
)

func appendEntry(buf []byte, e *Entry) []byte {
	bb := bytes.NewBuffer(buf)
	enc := msgpack.GetEncoder()
	enc.Reset(bb)
	err := enc.Encode(e)
	msgpack.PutEncoder(enc)
	if err != nil {
		panic(fmt.Errorf("failed to encode history entry: %w", err))
	}
	return bb.Bytes()
}

func decodeEntry(data []byte) (Entry, error) {
	var e Entry
	var r bytes.Reader
	r.Reset(data)
	dec := msgpack.GetDecoder()
	dec.Reset(&r)
	err := dec.Decode(&e)
	msgpack.PutDecoder(dec)
	if err != nil {
		return e, fmt.Errorf("history: failed to decode entry: %w", err)
	}
	return e, nil
}

// nextVersion validates orig against the latest recorded version and mints
// the new one.
func nextVersion(latest, orig replog.Version) (replog.Version, error) {
	if orig != latest {
		return 0, fmt.Errorf("%w: latest is %d, transaction started from %d", ErrOutOfSequence, latest, orig)
	}
	return replog.NextVersion(orig), nil
}

func newEntry(data []byte, orig, v replog.Version, now time.Time) Entry {
	return Entry{
		Version:   v,
		Prev:      orig,
		Time:      now.UTC(),
		Changeset: data,
	}
}
