package history

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/andreyvit/replog"
)

var (
	changesetsBucket = []byte("changesets")
	metaBucket       = []byte("meta")
	identKey         = []byte("ident")
)

type BoltOptions struct {
	Now       func() time.Time
	IsTesting bool
}

// Bolt records changesets in a bbolt database, keyed by big-endian version.
// The database also carries a random identity, so that replicas can tell
// histories apart.
type Bolt struct {
	bdb    *bbolt.DB
	now    func() time.Time
	ident  uuid.UUID
	latest replog.Version
}

func OpenBolt(path string, opt BoltOptions) (*Bolt, error) {
	if opt.Now == nil {
		opt.Now = time.Now
	}
	bopt := &bbolt.Options{}
	*bopt = *bbolt.DefaultOptions
	bopt.Timeout = 10 * time.Second
	if opt.IsTesting {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
	} else {
		bopt.FreelistType = bbolt.FreelistMapType
	}

	bdb, err := bbolt.Open(path, 0666, bopt)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}

	h := &Bolt{bdb: bdb, now: opt.Now}
	err = bdb.Update(func(btx *bbolt.Tx) error {
		meta, err := btx.CreateBucketIfNotExists(metaBucket)
		if err != nil {
			return err
		}
		if raw := meta.Get(identKey); raw != nil {
			h.ident, err = uuid.FromBytes(raw)
			if err != nil {
				return fmt.Errorf("invalid identity: %w", err)
			}
		} else {
			h.ident = uuid.New()
			err = meta.Put(identKey, h.ident[:])
			if err != nil {
				return err
			}
		}

		b, err := btx.CreateBucketIfNotExists(changesetsBucket)
		if err != nil {
			return err
		}
		if k, _ := b.Cursor().Last(); k != nil {
			h.latest = decodeVersionKey(k)
		}
		return nil
	})
	if err != nil {
		bdb.Close()
		return nil, fmt.Errorf("history: %w", err)
	}
	return h, nil
}

// Ident returns the identity of this history.
func (h *Bolt) Ident() uuid.UUID {
	return h.ident
}

func (h *Bolt) Type() replog.HistoryType {
	return replog.HistoryInProcess
}

func (h *Bolt) LatestVersion() replog.Version {
	return h.latest
}

func (h *Bolt) PrepareChangeset(data []byte, orig replog.Version) (replog.Version, error) {
	v, err := nextVersion(h.latest, orig)
	if err != nil {
		return 0, err
	}
	e := newEntry(data, orig, v, h.now())
	err = h.bdb.Update(func(btx *bbolt.Tx) error {
		return btx.Bucket(changesetsBucket).Put(versionKey(v), appendEntry(nil, &e))
	})
	if err != nil {
		return 0, fmt.Errorf("history: %w", err)
	}
	h.latest = v
	return v, nil
}

func (h *Bolt) Entries(from replog.Version, fn func(e Entry) error) error {
	return h.bdb.View(func(btx *bbolt.Tx) error {
		c := btx.Bucket(changesetsBucket).Cursor()
		for k, v := c.Seek(versionKey(from)); k != nil; k, v = c.Next() {
			e, err := decodeEntry(v)
			if err != nil {
				return fmt.Errorf("version %d: %w", decodeVersionKey(k), err)
			}
			err = fn(e)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Stats describes the storage used by the changesets bucket. A small bucket
// is stored inline in its parent and has no allocation of its own.
type Stats struct {
	Changesets int
	DataSize   int
	DataAlloc  int
}

func (h *Bolt) Stats() Stats {
	var result Stats
	_ = h.bdb.View(func(btx *bbolt.Tx) error {
		bs := btx.Bucket(changesetsBucket).Stats()
		result = Stats{
			Changesets: bs.KeyN,
			DataSize:   bs.LeafInuse + bs.InlineBucketInuse,
			DataAlloc:  bs.BranchAlloc + bs.LeafAlloc,
		}
		return nil
	})
	return result
}

// Trim deletes entries older than version keep.
func (h *Bolt) Trim(keep replog.Version) (int, error) {
	var n int
	err := h.bdb.Update(func(btx *bbolt.Tx) error {
		c := btx.Bucket(changesetsBucket).Cursor()
		for k, _ := c.First(); k != nil && decodeVersionKey(k) < keep; k, _ = c.First() {
			if err := c.Delete(); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}

func (h *Bolt) Close() error {
	return h.bdb.Close()
}

func versionKey(v replog.Version) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(v))
}

func decodeVersionKey(k []byte) replog.Version {
	return replog.Version(binary.BigEndian.Uint64(k))
}
