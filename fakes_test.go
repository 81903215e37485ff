package replog_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/andreyvit/replog"
)

type fakeTable struct {
	key      replog.TableKey
	name     string
	embedded bool
	pkCol    replog.ColKey
	hasPK    bool
	pks      map[replog.ObjKey]replog.Mixed
	owners   map[replog.ObjKey]replog.FullPath
}

func newFakeTable(key replog.TableKey, class string) *fakeTable {
	return &fakeTable{
		key:    key,
		name:   replog.TableNameFromClassName(class),
		pks:    make(map[replog.ObjKey]replog.Mixed),
		owners: make(map[replog.ObjKey]replog.FullPath),
	}
}

func (t *fakeTable) Key() replog.TableKey { return t.key }
func (t *fakeTable) Name() string         { return t.name }
func (t *fakeTable) ClassName() string    { return replog.ClassNameFromTableName(t.name) }
func (t *fakeTable) IsEmbedded() bool     { return t.embedded }

func (t *fakeTable) ColumnName(col replog.ColKey) string {
	return fmt.Sprintf("c%d", col.Index)
}

func (t *fakeTable) PrimaryKeyColumn() (replog.ColKey, bool)   { return t.pkCol, t.hasPK }
func (t *fakeTable) PrimaryKey(key replog.ObjKey) replog.Mixed { return t.pks[key] }

func (t *fakeTable) FullPath(key replog.ObjKey) (replog.FullPath, error) {
	if fp, ok := t.owners[key]; ok {
		return fp, nil
	}
	return replog.FullPath{TopTable: t.key, TopObj: key}, nil
}

// droppingStream loses its buffer when asked to grow.
type droppingStream struct{ buf []byte }

func (s *droppingStream) Data() []byte { return s.buf }

func (s *droppingStream) Reserve(used, extra int) ([]byte, error) {
	s.buf = nil
	return nil, errors.New("remap failed")
}

type fakeGroup map[replog.TableKey]*fakeTable

func (g fakeGroup) Table(key replog.TableKey) replog.Table {
	if t := g[key]; t != nil {
		return t
	}
	return nil
}

// fakeColl is a collection whose first hidden stored entries are skipped by
// TranslateIndex.
type fakeColl struct {
	table  *fakeTable
	col    replog.ColKey
	owner  replog.ObjKey
	path   replog.Path
	size   int
	hidden int
}

func newFakeColl(t *fakeTable, col replog.ColKey, owner replog.ObjKey) *fakeColl {
	return &fakeColl{table: t, col: col, owner: owner, path: replog.Path{replog.ColumnElem(col)}}
}

func (c *fakeColl) Table() replog.Table        { return c.table }
func (c *fakeColl) ColKey() replog.ColKey      { return c.col }
func (c *fakeColl) OwnerKey() replog.ObjKey    { return c.owner }
func (c *fakeColl) Size() int                  { return c.size }
func (c *fakeColl) StablePath() replog.Path    { return c.path }
func (c *fakeColl) ShortPath() replog.Path     { return c.path[len(c.path)-1:] }
func (c *fakeColl) TranslateIndex(ndx int) int { return ndx + c.hidden }

// countingLogger records how often it was asked to log.
type countingLogger struct {
	enabled bool
	calls   int
}

func (l *countingLogger) Enabled(ctx context.Context, level slog.Level) bool {
	return l.enabled
}

func (l *countingLogger) LogAttrs(ctx context.Context, level slog.Level, msg string, attrs ...slog.Attr) {
	l.calls++
}
