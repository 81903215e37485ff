package journaltest

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/andreyvit/replog/journal"
)

var Start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// TestJournal is a journal in a temporary directory with a fake clock.
type TestJournal struct {
	*journal.Journal

	T   testing.TB
	Dir string

	opt journal.Options
	now time.Time
}

func Writable(t testing.TB, o journal.Options) *TestJournal {
	j := &TestJournal{
		T:   t,
		Dir: t.TempDir(),

		now: Start,
	}
	o.FileName = "j*.wal"
	o.Now = func() time.Time { return j.now }
	o.Logger = slog.New(slog.NewTextHandler(&logWriter{t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
	o.Verbose = true
	j.opt = o

	j.Journal = journal.New(j.Dir, o)
	require.NoError(t, j.StartWriting())
	t.Cleanup(func() {
		err := j.FinishWriting()
		if err != nil {
			t.Error(err)
		}
	})
	return j
}

// Reopen simulates a restart: the current journal is closed and a new one
// is opened for writing on the same directory.
func (j *TestJournal) Reopen() {
	j.T.Helper()
	if err := j.FinishWriting(); err != nil {
		j.T.Fatalf("FinishWriting: %v", err)
	}
	j.Journal = journal.New(j.Dir, j.opt)
	if err := j.StartWriting(); err != nil {
		j.T.Fatalf("StartWriting: %v", err)
	}
}

// Records returns the data of all committed records.
func (j *TestJournal) Records() []string {
	j.T.Helper()
	var result []string
	err := j.Replay(func(rec journal.Record) error {
		result = append(result, string(rec.Data))
		return nil
	})
	if err != nil {
		j.T.Fatalf("Replay: %v", err)
	}
	return result
}

// Eq checks the contents of a segment file against a byte spec (see Expand).
func (j *TestJournal) Eq(fileName string, spec ...string) {
	j.T.Helper()
	BytesEq(j.T, j.Data(fileName), Expand(spec...))
}

// Put overwrites a segment file with the bytes of a spec.
func (j *TestJournal) Put(fileName string, spec ...string) {
	j.T.Helper()
	require.NoError(j.T, os.WriteFile(filepath.Join(j.Dir, fileName), Expand(spec...), 0o644))
}

// Data returns the contents of a file, or nil if it does not exist.
func (j *TestJournal) Data(fileName string) []byte {
	j.T.Helper()
	b, err := os.ReadFile(filepath.Join(j.Dir, fileName))
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(j.T, err)
	return b
}

func (j *TestJournal) Now() time.Time {
	return j.now
}

func (j *TestJournal) Advance(d time.Duration) {
	j.now = j.now.Add(d)
}

// FileNames lists the directory in sorted order.
func (j *TestJournal) FileNames() []string {
	j.T.Helper()
	ents, err := os.ReadDir(j.Dir)
	require.NoError(j.T, err)
	var names []string
	for _, ent := range ents {
		names = append(names, ent.Name())
	}
	return names
}

type logWriter struct{ t testing.TB }

func (w *logWriter) Write(buf []byte) (int, error) {
	w.t.Log(strings.TrimSuffix(string(buf), "\n"))
	return len(buf), nil
}

// Expand builds bytes from whitespace-separated elements:
//
//	ab_cd      hex bytes; _ separates bytes, a lone digit is one byte
//	#300       uvarint of a decimal number
//	'text      literal text
//	x/comment  everything after / is ignored
//	x*3        x repeated three times
//	x..y       x, zero padding to 4 bytes, then y
//	x...y      same, padding to 8 bytes
func Expand(specs ...string) []byte {
	var b []byte
	for _, spec := range specs {
		for _, elem := range strings.Fields(spec) {
			b = appendElement(b, elem)
		}
	}
	return b
}

func appendElement(b []byte, elem string) []byte {
	body, _, _ := strings.Cut(elem, "/")
	if body == "" {
		return b
	}
	body, repStr, hasRep := strings.Cut(body, "*")
	rep := 1
	if hasRep {
		var err error
		rep, err = strconv.Atoi(repStr)
		if err != nil {
			panic(fmt.Sprintf("invalid repeat count in %q", elem))
		}
	}

	padTo := 8
	left, right, ok := strings.Cut(body, "...")
	if !ok {
		padTo = 4
		left, right, ok = strings.Cut(body, "..")
	}
	if !ok {
		padTo = 0
	}
	lb, rb := decodeAtom(left, elem), decodeAtom(right, elem)
	for range rep {
		b = append(b, lb...)
		for n := len(lb) + len(rb); n < padTo; n++ {
			b = append(b, 0)
		}
		b = append(b, rb...)
	}
	return b
}

func decodeAtom(s, elem string) []byte {
	if dec, ok := strings.CutPrefix(s, "#"); ok {
		v, err := strconv.ParseUint(dec, 10, 64)
		if err != nil {
			panic(fmt.Sprintf("invalid number in %q", elem))
		}
		return binary.AppendUvarint(nil, v)
	}
	if text, ok := strings.CutPrefix(s, "'"); ok {
		return []byte(text)
	}
	var result []byte
	for _, group := range strings.Split(s, "_") {
		odd := len(group) % 2
		b, err := hex.DecodeString(group[:len(group)-odd])
		if err != nil {
			panic(fmt.Sprintf("%v in %q", err, elem))
		}
		result = append(result, b...)
		if odd == 1 {
			v, err := strconv.ParseUint(group[len(group)-1:], 16, 8)
			if err != nil {
				panic(fmt.Sprintf("%v in %q", err, elem))
			}
			result = append(result, byte(v))
		}
	}
	return result
}

// BytesEq compares byte slices, reporting a hex dump of both on mismatch.
func BytesEq(t testing.TB, actual, expected []byte) bool {
	t.Helper()
	if bytes.Equal(actual, expected) {
		return true
	}
	off := min(len(actual), len(expected))
	for i := range off {
		if actual[i] != expected[i] {
			off = i
			break
		}
	}
	t.Errorf("** got:\n%swanted:\n%sfirst difference at 0x%x", hex.Dump(actual), hex.Dump(expected), off)
	return false
}
