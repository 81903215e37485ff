package history

import (
	"os"
	"sync"
	"time"

	"github.com/andreyvit/replog"
	"github.com/andreyvit/replog/journal"
)

// Journal records changesets in a journal directory. Each changeset is one
// journal commit, so a crash never leaves a partial changeset behind.
type Journal struct {
	j   *journal.Journal
	now func() time.Time

	mu     sync.Mutex
	latest replog.Version
}

// OpenJournal opens dir for appending, creating it if needed, and finds the
// latest recorded version.
func OpenJournal(dir string, o journal.Options) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.FileName == "" {
		o.FileName = "changes-*.wal"
	}
	h := &Journal{
		j:   journal.New(dir, o),
		now: o.Now,
	}
	err := h.j.StartWriting()
	if err != nil {
		return nil, err
	}
	err = h.Entries(0, func(e Entry) error {
		h.latest = e.Version
		return nil
	})
	if err != nil {
		h.j.FinishWriting()
		return nil, err
	}
	return h, nil
}

// ReadJournal calls fn for every changeset recorded in dir, without opening
// it for writing.
func ReadJournal(dir string, o journal.Options, fn func(e Entry) error) error {
	if o.FileName == "" {
		o.FileName = "changes-*.wal"
	}
	return replayEntries(journal.New(dir, o), 0, fn)
}

func (h *Journal) Type() replog.HistoryType {
	return replog.HistoryOutOfProcess
}

func (h *Journal) LatestVersion() replog.Version {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latest
}

func (h *Journal) PrepareChangeset(data []byte, orig replog.Version) (replog.Version, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	v, err := nextVersion(h.latest, orig)
	if err != nil {
		return 0, err
	}
	e := newEntry(data, orig, v, h.now())
	err = h.j.WriteRecord(uint32(e.Time.Unix()), appendEntry(nil, &e))
	if err != nil {
		return 0, err
	}
	err = h.j.Commit()
	if err != nil {
		return 0, err
	}
	h.latest = v
	return v, nil
}

func (h *Journal) Entries(from replog.Version, fn func(e Entry) error) error {
	return replayEntries(h.j, from, fn)
}

func (h *Journal) Close() error {
	return h.j.FinishWriting()
}

func replayEntries(j *journal.Journal, from replog.Version, fn func(e Entry) error) error {
	return j.Replay(func(rec journal.Record) error {
		e, err := decodeEntry(rec.Data)
		if err != nil {
			return err
		}
		if e.Version < from {
			return nil
		}
		return fn(e)
	})
}
