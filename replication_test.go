package replog_test

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andreyvit/replog"
)

var (
	colName  = replog.ColKey{Index: 0, Type: replog.TypeString}
	colAge   = replog.ColKey{Index: 1, Type: replog.TypeInt, Nullable: true}
	colTags  = replog.ColKey{Index: 2, Type: replog.TypeString, Kind: replog.CollectionList}
	colLinks = replog.ColKey{Index: 3, Type: replog.TypeLink, Kind: replog.CollectionList}
	colSet   = replog.ColKey{Index: 4, Type: replog.TypeInt, Kind: replog.CollectionSet}
	colDict  = replog.ColKey{Index: 5, Type: replog.TypeMixed, Kind: replog.CollectionDictionary}
)

type fixture struct {
	people, dogs *fakeTable
	group        fakeGroup
	repl         *replog.Replication
}

func setup(t testing.TB, o replog.Options) *fixture {
	f := &fixture{
		people: newFakeTable(0, "Person"),
		dogs:   newFakeTable(1, "Dog"),
	}
	f.group = fakeGroup{0: f.people, 1: f.dogs}
	f.repl = replog.New(o)
	f.repl.InitiateTransact(f.group, 0, false)
	return f
}

func (f *fixture) instrs(t testing.TB) []string {
	t.Helper()
	parsed, err := replog.ParseChangeset(f.written(t))
	require.NoError(t, err)
	result := make([]string, len(parsed))
	for i, in := range parsed {
		result[i] = in.String()
	}
	return result
}

// written peeks at the changeset without committing.
func (f *fixture) written(t testing.TB) []byte {
	t.Helper()
	v, err := f.repl.PrepareCommit(0)
	require.NoError(t, err)
	require.Equal(t, replog.Version(1), v)
	return bytes.Clone(f.repl.Changeset())
}

func ensure(err error) {
	if err != nil {
		panic(err)
	}
}

func TestReplication_selectsTableOnce(t *testing.T) {
	f := setup(t, replog.Options{})
	ensure(f.repl.CreateObject(f.people, replog.GlobalKey{Lo: 1}))
	ensure(f.repl.CreateObject(f.people, replog.GlobalKey{Lo: 2}))
	ensure(f.repl.Set(f.people, colName, 1, replog.StringValue("a"), replog.InstrModifyObject))
	ensure(f.repl.Set(f.people, colName, 2, replog.StringValue("b"), replog.InstrModifyObject))
	ensure(f.repl.CreateObject(f.dogs, replog.GlobalKey{Hi: 1, Lo: 2}))
	ensure(f.repl.RemoveObject(f.people, 1))

	assert.Equal(t, []string{
		"select-table table=0",
		"create-object obj=1",
		"create-object obj=2",
		"modify-object col=col#0:string obj=1",
		"modify-object col=col#0:string obj=2",
		"select-table table=1",
		"create-object obj=4294967298",
		"select-table table=0",
		"remove-object obj=1",
	}, f.instrs(t))
}

func TestReplication_selectionRules(t *testing.T) {
	f := setup(t, replog.Options{})
	sel := func() replog.SelectionState { return f.repl.Selection().State() }
	tags := newFakeColl(f.people, colTags, 7)

	ensure(f.repl.ListInsert(tags, 0, replog.StringValue("x"), 0))
	assert.Equal(t, "table=0 obj=7 coll=[col#2:string:list]", sel().String())

	// same object, no collection change
	ensure(f.repl.Set(f.people, colName, 7, replog.StringValue("a"), replog.InstrModifyObject))
	_, hasColl := f.repl.Selection().Collection()
	assert.True(t, hasColl)

	// another object drops the collection
	ensure(f.repl.Set(f.people, colName, 8, replog.StringValue("b"), replog.InstrModifyObject))
	assert.Equal(t, "table=0 obj=8", sel().String())

	// another table drops the object
	ensure(f.repl.CreateObject(f.dogs, replog.GlobalKey{Lo: 0}))
	assert.Equal(t, "table=1", sel().String())

	// removing the selected object drops it
	ensure(f.repl.ListInsert(tags, 0, replog.StringValue("y"), 1))
	ensure(f.repl.RemoveObject(f.people, 7))
	assert.Equal(t, "table=0", sel().String())

	// removing an unrelated object keeps the selection
	ensure(f.repl.ListInsert(tags, 0, replog.StringValue("z"), 0))
	ensure(f.repl.RemoveObject(f.people, 9))
	assert.Equal(t, "table=0 obj=7 coll=[col#2:string:list]", sel().String())

	// erasing an unrelated column keeps the collection
	ensure(f.repl.EraseColumn(f.people, colAge))
	assert.Equal(t, "table=0 obj=7 coll=[col#2:string:list]", sel().String())

	// erasing the collection's column drops it
	ensure(f.repl.EraseColumn(f.people, colTags))
	assert.Equal(t, "table=0 obj=7", sel().String())

	// schema changes reset everything
	ensure(f.repl.AddClass(2, "class_Cat", replog.TableTypeTopLevel))
	assert.True(t, f.repl.Selection().IsEmpty())

	parsed, err := replog.ParseChangeset(f.written(t))
	require.NoError(t, err)
	trace, err := replog.SelectionTrace(parsed)
	require.NoError(t, err)
	last := trace[len(trace)-1]
	assert.False(t, last.Table.IsValid())
	assert.False(t, last.HasColl)
}

func TestReplication_selectionTraceMatchesEncoder(t *testing.T) {
	f := setup(t, replog.Options{})
	tags := newFakeColl(f.people, colTags, 1)
	links := newFakeColl(f.people, colLinks, 1)
	var states []replog.SelectionState
	step := func(err error) {
		ensure(err)
		states = append(states, f.repl.Selection().State())
	}

	step(f.repl.AddClass(0, "class_Person", replog.TableTypeTopLevel))
	step(f.repl.InsertColumn(f.people, colName, "name", nil))
	step(f.repl.CreateObject(f.people, replog.GlobalKey{Lo: 1}))
	step(f.repl.ListInsert(tags, 0, replog.StringValue("a"), 0))
	step(f.repl.LinkListNullify(links, 0))
	step(f.repl.Set(f.people, colName, 2, replog.StringValue("b"), replog.InstrModifyObject))
	step(f.repl.EraseColumn(f.people, colName))
	step(f.repl.RemoveObject(f.people, 2))
	step(f.repl.EraseClass(1, "class_Dog"))

	parsed, err := replog.ParseChangeset(f.written(t))
	require.NoError(t, err)
	trace, err := replog.SelectionTrace(parsed)
	require.NoError(t, err)

	// Every mutation ends with its own instruction, so the decoder state
	// after the last instruction of each step must match the encoder.
	var j int
	for i, in := range parsed {
		switch in.Op {
		case replog.InstrSelectTable, replog.InstrSelectCollection:
			continue
		}
		require.Less(t, j, len(states))
		assert.True(t, trace[i].Equal(states[j]), "step %d (%v): decoder %v, encoder %v", j, in, trace[i], states[j])
		j++
	}
	assert.Equal(t, len(states), j)
}

func TestReplication_setDefaultIsNoop(t *testing.T) {
	f := setup(t, replog.Options{})
	ensure(f.repl.CreateObject(f.people, replog.GlobalKey{Lo: 5}))
	before, size := f.repl.Selection().State(), f.repl.Size()

	ensure(f.repl.Set(f.people, colName, 5, replog.StringValue(""), replog.InstrSetDefault))
	ensure(f.repl.Set(f.dogs, colAge, 9, replog.NullValue(), replog.InstrSetDefault))

	assert.Equal(t, size, f.repl.Size())
	assert.True(t, before.Equal(f.repl.Selection().State()))
	assert.Equal(t, []string{"select-table table=0", "create-object obj=5"}, f.instrs(t))
}

func TestReplication_listIndexTranslation(t *testing.T) {
	f := setup(t, replog.Options{})
	links := newFakeColl(f.people, colLinks, 1)
	links.size, links.hidden = 2, 3

	ensure(f.repl.ListInsert(links, 0, replog.LinkValue(1, 0), 2))
	ensure(f.repl.ListSet(links, 1, replog.LinkValue(1, 1)))
	ensure(f.repl.ListErase(links, 0))
	ensure(f.repl.LinkListNullify(links, 1))
	ensure(f.repl.ListClear(links))

	assert.Equal(t, []string{
		"select-table table=0",
		"select-collection col=col#3:link:list obj=1 path=[col#3:link:list]",
		"collection-insert index=3",
		"collection-set index=4",
		"collection-erase index=3",
		"collection-erase index=1",
		"collection-clear size=2",
	}, f.instrs(t))
}

func TestReplication_setsAndDictionaries(t *testing.T) {
	f := setup(t, replog.Options{})
	set := newFakeColl(f.people, colSet, 1)
	set.hidden = 10
	dict := newFakeColl(f.people, colDict, 1)
	dict.size = 4

	ensure(f.repl.SetInsert(set, 0, replog.IntValue(1)))
	ensure(f.repl.SetErase(set, 2, replog.IntValue(3)))
	ensure(f.repl.SetClear(set))
	ensure(f.repl.DictionaryInsert(dict, 1, replog.StringValue("k"), replog.BoolValue(true)))
	ensure(f.repl.DictionarySet(dict, 1, replog.StringValue("k"), replog.NullValue()))
	ensure(f.repl.DictionaryErase(dict, 3, replog.StringValue("z")))
	ensure(f.repl.DictionaryClear(dict))

	assert.Equal(t, []string{
		"select-table table=0",
		"select-collection col=col#4:int:set obj=1 path=[col#4:int:set]",
		"collection-insert index=0",
		"collection-erase index=2",
		"collection-clear size=0",
		"select-collection col=col#5:mixed:dictionary obj=1 path=[col#5:mixed:dictionary]",
		"collection-insert index=1",
		"collection-set index=1",
		"collection-erase index=3",
		"collection-clear size=4",
	}, f.instrs(t))
}

func TestReplication_nestedCollectionPath(t *testing.T) {
	f := setup(t, replog.Options{})
	inner := newFakeColl(f.people, colTags, 1)
	inner.path = replog.Path{replog.ColumnElem(colDict), replog.KeyElem("x"), replog.IndexElem(2), replog.ColumnElem(colTags)}
	ensure(f.repl.ListInsert(inner, 0, replog.StringValue("a"), 0))

	other := newFakeColl(f.people, colTags, 1)
	other.path = replog.Path{replog.ColumnElem(colDict), replog.KeyElem("y"), replog.IndexElem(2), replog.ColumnElem(colTags)}
	ensure(f.repl.ListInsert(other, 0, replog.StringValue("b"), 0))
	ensure(f.repl.ListInsert(other, 0, replog.StringValue("c"), 1))

	assert.Equal(t, []string{
		"select-table table=0",
		`select-collection col=col#2:string:list obj=1 path=[col#5:mixed:dictionary]["x"][2][col#2:string:list]`,
		"collection-insert index=0",
		`select-collection col=col#2:string:list obj=1 path=[col#5:mixed:dictionary]["y"][2][col#2:string:list]`,
		"collection-insert index=0",
		"collection-insert index=0",
	}, f.instrs(t))
}

func TestReplication_failedMutationLeavesNoTrace(t *testing.T) {
	f := setup(t, replog.Options{Stream: replog.NewMemStream(4, 6)})
	ensure(f.repl.CreateObject(f.people, replog.GlobalKey{Lo: 1}))
	require.Equal(t, 4, f.repl.Size())

	err := f.repl.Set(f.people, colName, 1, replog.StringValue("x"), replog.InstrModifyObject)
	assert.ErrorIs(t, err, replog.ErrStreamLimit)
	assert.Equal(t, 4, f.repl.Size())
	assert.True(t, f.repl.Selection().IsEmpty())

	// The next mutation reselects its table.
	err = f.repl.RemoveObject(f.people, 1)
	assert.ErrorIs(t, err, replog.ErrStreamLimit)
	assert.Equal(t, 4, f.repl.Size())
	assert.Equal(t, []string{"select-table table=0", "create-object obj=1"}, f.instrs(t))
}

func TestReplication_lostStreamCannotCommit(t *testing.T) {
	f := setup(t, replog.Options{Stream: &droppingStream{buf: make([]byte, 4)}})
	ensure(f.repl.CreateObject(f.people, replog.GlobalKey{Lo: 1}))

	err := f.repl.RemoveObject(f.people, 1)
	require.Error(t, err)
	assert.NotErrorIs(t, err, replog.ErrStreamLost)
	assert.True(t, f.repl.Selection().IsEmpty())

	err = f.repl.CreateObject(f.people, replog.GlobalKey{Lo: 2})
	assert.ErrorIs(t, err, replog.ErrStreamLost)

	_, err = f.repl.PrepareCommit(0)
	assert.ErrorIs(t, err, replog.ErrStreamLost)
	f.repl.AbortTransact()
}

func TestReplication_fileStream(t *testing.T) {
	fs, err := replog.OpenFileStream(t.TempDir()+"/changeset", 8, 64)
	require.NoError(t, err)
	f := setup(t, replog.Options{Stream: fs})

	var n int
	for {
		err = f.repl.CreateObject(f.people, replog.GlobalKey{Lo: uint64(n)})
		if err != nil {
			break
		}
		n++
	}
	assert.ErrorIs(t, err, replog.ErrStreamLimit)
	assert.Equal(t, 31, n)
	assert.Equal(t, 64, f.repl.Size())
	assert.Equal(t, 64, len(fs.Data()))

	data := f.written(t)
	require.NoError(t, fs.Sync())
	require.NoError(t, fs.Close(len(data)))
	parsed, err := replog.ParseChangeset(data)
	require.NoError(t, err)
	assert.Len(t, parsed, 32)
}

func TestReplication_contractViolations(t *testing.T) {
	contract := func(t *testing.T, f func()) {
		t.Helper()
		defer func() {
			t.Helper()
			r := recover()
			var ce *replog.ContractError
			if err, ok := r.(error); !ok || !errors.As(err, &ce) {
				t.Fatalf("panic = %v, wanted *ContractError", r)
			}
		}()
		f()
	}

	t.Run("no transaction", func(t *testing.T) {
		r := replog.New(replog.Options{})
		contract(t, func() { _ = r.CreateObject(newFakeTable(0, "A"), replog.GlobalKey{}) })
		contract(t, func() { _, _ = r.PrepareCommit(0) })
		contract(t, func() { _ = r.Changeset() })
	})
	t.Run("embedded class with primary key", func(t *testing.T) {
		f := setup(t, replog.Options{})
		contract(t, func() {
			_ = f.repl.AddClassWithPrimaryKey(0, "class_A", replog.TypeInt, "_id", false, replog.TableTypeEmbedded)
		})
	})
	t.Run("list insert past the end", func(t *testing.T) {
		f := setup(t, replog.Options{})
		contract(t, func() { _ = f.repl.ListInsert(newFakeColl(f.people, colTags, 1), 3, replog.IntValue(0), 2) })
	})
	t.Run("wrong collection kind", func(t *testing.T) {
		f := setup(t, replog.Options{})
		contract(t, func() { _ = f.repl.SetInsert(newFakeColl(f.people, colTags, 1), 0, replog.IntValue(0)) })
		contract(t, func() { _ = f.repl.ListClear(newFakeColl(f.people, colDict, 1)) })
	})
	t.Run("nullify in a non-link list", func(t *testing.T) {
		f := setup(t, replog.Options{})
		contract(t, func() { _ = f.repl.LinkListNullify(newFakeColl(f.people, colTags, 1), 0) })
	})
	t.Run("invalid set variant", func(t *testing.T) {
		f := setup(t, replog.Options{})
		contract(t, func() { _ = f.repl.Set(f.people, colName, 1, replog.NullValue(), replog.InstrCreateObject) })
	})
	t.Run("global key without local representation", func(t *testing.T) {
		f := setup(t, replog.Options{})
		contract(t, func() { _ = f.repl.CreateObject(f.people, replog.GlobalKey{Hi: 1 << 31}) })
	})
}

type fixedHistory struct {
	v   replog.Version
	err error
	got [][]byte
}

func (h *fixedHistory) Type() replog.HistoryType { return replog.HistoryInProcess }

func (h *fixedHistory) PrepareChangeset(data []byte, orig replog.Version) (replog.Version, error) {
	h.got = append(h.got, bytes.Clone(data))
	return h.v, h.err
}

func TestReplication_versions(t *testing.T) {
	t.Run("no history", func(t *testing.T) {
		r := replog.New(replog.Options{})
		assert.Equal(t, replog.HistoryNone, r.HistoryType())
		for orig := range replog.Version(3) {
			r.InitiateTransact(fakeGroup{}, orig, false)
			v, err := r.PrepareCommit(orig)
			require.NoError(t, err)
			assert.Equal(t, orig+1, v)
			assert.Empty(t, r.Changeset())
			r.FinalizeCommit()
		}
	})
	t.Run("history receives the changeset", func(t *testing.T) {
		h := &fixedHistory{v: 10}
		f := setup(t, replog.Options{History: h})
		assert.Equal(t, replog.HistoryInProcess, f.repl.HistoryType())
		ensure(f.repl.CreateObject(f.people, replog.GlobalKey{Lo: 1}))
		v, err := f.repl.PrepareCommit(4)
		require.NoError(t, err)
		assert.Equal(t, replog.Version(10), v)
		assert.Equal(t, [][]byte{{0x01, 0x00, 0x06, 0x02}}, h.got)
	})
	t.Run("non-increasing version is rejected", func(t *testing.T) {
		f := setup(t, replog.Options{History: &fixedHistory{v: 4}})
		_, err := f.repl.PrepareCommit(4)
		assert.ErrorContains(t, err, "does not follow 4")
	})
	t.Run("history error", func(t *testing.T) {
		boom := fmt.Errorf("boom")
		f := setup(t, replog.Options{History: &fixedHistory{err: boom}})
		_, err := f.repl.PrepareCommit(0)
		assert.ErrorIs(t, err, boom)
	})
	t.Run("abort discards", func(t *testing.T) {
		f := setup(t, replog.Options{})
		ensure(f.repl.CreateObject(f.people, replog.GlobalKey{Lo: 1}))
		f.repl.AbortTransact()
		assert.True(t, f.repl.Selection().IsEmpty())

		f.repl.InitiateTransact(f.group, 0, false)
		assert.Zero(t, f.repl.Size())
	})
	assert.Equal(t, replog.Version(8), replog.NextVersion(7))
}

func TestHistoryTypeName(t *testing.T) {
	assert.Equal(t, "None", replog.HistoryTypeName(replog.HistoryNone))
	assert.Equal(t, "Local out-of-process", replog.HistoryOutOfProcess.String())
	assert.Equal(t, "Local in-process", replog.HistoryInProcess.String())
	assert.Equal(t, "SyncClient", replog.HistorySyncClient.String())
	assert.Equal(t, "SyncServer", replog.HistorySyncServer.String())
	assert.Equal(t, "Unknown", replog.HistoryType(42).String())
}

func TestReplication_applyMatchesDirectCalls(t *testing.T) {
	direct, applied := setup(t, replog.Options{}), setup(t, replog.Options{})
	tags := func(f *fixture) *fakeColl { return newFakeColl(f.people, colTags, 1) }
	links := func(f *fixture) *fakeColl { return newFakeColl(f.people, colLinks, 1) }
	set := func(f *fixture) *fakeColl { return newFakeColl(f.people, colSet, 1) }
	dict := func(f *fixture) *fakeColl { return newFakeColl(f.people, colDict, 1) }

	ensure(direct.repl.AddClass(0, "class_Person", replog.TableTypeTopLevel))
	ensure(direct.repl.AddClassWithPrimaryKey(1, "class_Dog", replog.TypeString, "_id", false, replog.TableTypeTopLevel))
	ensure(direct.repl.InsertColumn(direct.people, colLinks, "dogs", direct.dogs))
	ensure(direct.repl.CreateObject(direct.people, replog.GlobalKey{Lo: 1}))
	ensure(direct.repl.CreateObjectWithPrimaryKey(direct.dogs, 5, replog.StringValue("rex")))
	ensure(direct.repl.Set(direct.people, colName, 1, replog.StringValue("a"), replog.InstrModifyObject))
	ensure(direct.repl.ListInsert(tags(direct), 0, replog.StringValue("x"), 0))
	ensure(direct.repl.ListSet(tags(direct), 0, replog.StringValue("y")))
	ensure(direct.repl.ListErase(tags(direct), 0))
	ensure(direct.repl.ListClear(tags(direct)))
	ensure(direct.repl.LinkListNullify(links(direct), 2))
	ensure(direct.repl.SetInsert(set(direct), 0, replog.IntValue(1)))
	ensure(direct.repl.SetErase(set(direct), 0, replog.IntValue(1)))
	ensure(direct.repl.SetClear(set(direct)))
	ensure(direct.repl.DictionaryInsert(dict(direct), 0, replog.StringValue("k"), replog.IntValue(1)))
	ensure(direct.repl.DictionarySet(dict(direct), 0, replog.StringValue("k"), replog.IntValue(2)))
	ensure(direct.repl.DictionaryErase(dict(direct), 0, replog.StringValue("k")))
	ensure(direct.repl.DictionaryClear(dict(direct)))
	ensure(direct.repl.RemoveObject(direct.dogs, 5))
	ensure(direct.repl.EraseColumn(direct.people, colLinks))
	ensure(direct.repl.EraseClass(1, "class_Dog"))

	a := applied
	for _, m := range []replog.Mutation{
		replog.AddClassOp{Table: 0, Name: "class_Person"},
		replog.AddClassWithPrimaryKeyOp{Table: 1, Name: "class_Dog", PKType: replog.TypeString, PKName: "_id"},
		replog.InsertColumnOp{Table: a.people, Col: colLinks, Name: "dogs", Target: a.dogs},
		replog.CreateObjectOp{Table: a.people, ID: replog.GlobalKey{Lo: 1}},
		replog.CreateObjectWithPrimaryKeyOp{Table: a.dogs, Key: 5, PK: replog.StringValue("rex")},
		replog.SetOp{Table: a.people, Col: colName, Key: 1, Value: replog.StringValue("a"), Variant: replog.InstrModifyObject},
		replog.SetOp{Table: a.people, Col: colName, Key: 2, Value: replog.StringValue(""), Variant: replog.InstrSetDefault},
		replog.CollectionInsertOp{Collection: tags(a), Index: 0, Value: replog.StringValue("x")},
		replog.CollectionSetOp{Collection: tags(a), Index: 0, Value: replog.StringValue("y")},
		replog.CollectionEraseOp{Collection: tags(a), Index: 0},
		replog.CollectionClearOp{Collection: tags(a)},
		replog.LinkListNullifyOp{Collection: links(a), Index: 2},
		replog.CollectionInsertOp{Collection: set(a), Index: 0, Value: replog.IntValue(1)},
		replog.CollectionEraseOp{Collection: set(a), Index: 0, Value: replog.IntValue(1)},
		replog.CollectionClearOp{Collection: set(a)},
		replog.CollectionInsertOp{Collection: dict(a), Index: 0, Key: replog.StringValue("k"), Value: replog.IntValue(1)},
		replog.CollectionSetOp{Collection: dict(a), Index: 0, Key: replog.StringValue("k"), Value: replog.IntValue(2)},
		replog.CollectionEraseOp{Collection: dict(a), Index: 0, Key: replog.StringValue("k")},
		replog.CollectionClearOp{Collection: dict(a)},
		replog.RemoveObjectOp{Table: a.dogs, Key: 5},
		replog.EraseColumnOp{Table: a.people, Col: colLinks},
		replog.EraseClassOp{Table: 1, Name: "class_Dog"},
	} {
		require.NoError(t, a.repl.Apply(m), m.Kind())
	}

	assert.Equal(t, direct.written(t), applied.written(t))
}

func TestReplication_applyRejectsSetOnSet(t *testing.T) {
	f := setup(t, replog.Options{})
	defer func() {
		r := recover()
		var ce *replog.ContractError
		if err, ok := r.(error); !ok || !errors.As(err, &ce) {
			t.Fatalf("panic = %v, wanted *ContractError", r)
		}
	}()
	_ = f.repl.Apply(replog.CollectionSetOp{Collection: newFakeColl(f.people, colSet, 1)})
}

func TestReplication_logging(t *testing.T) {
	t.Run("disabled logger is never called", func(t *testing.T) {
		l := &countingLogger{}
		f := setup(t, replog.Options{Logger: l})
		ensure(f.repl.AddClass(0, "class_Person", replog.TableTypeTopLevel))
		ensure(f.repl.CreateObject(f.people, replog.GlobalKey{Lo: 1}))
		ensure(f.repl.Set(f.people, colName, 1, replog.StringValue("a"), replog.InstrModifyObject))
		assert.Zero(t, l.calls)
	})

	t.Run("events", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{
			Level: replog.LevelTrace,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.TimeKey || a.Key == slog.LevelKey {
					return slog.Attr{}
				}
				return a
			},
		}))
		f := setup(t, replog.Options{Logger: logger})
		f.dogs.hasPK, f.dogs.pkCol = true, replog.ColKey{Type: replog.TypeString}
		f.dogs.pks[5] = replog.StringValue("rex")
		addr := newFakeTable(2, "Address")
		addr.embedded = true
		addr.owners[3] = replog.FullPath{TopTable: 1, TopObj: 5, PathFromTop: replog.Path{replog.ColumnElem(colLinks), replog.IndexElem(0)}}
		f.group[2] = addr

		ensure(f.repl.AddClass(2, "class_Address", replog.TableTypeEmbedded))
		ensure(f.repl.CreateObjectWithPrimaryKey(f.dogs, 5, replog.StringValue("rex")))
		ensure(f.repl.Set(f.dogs, colAge, 5, replog.IntValue(3), replog.InstrModifyObject))
		ensure(f.repl.Set(addr, colName, 3, replog.StringValue("Oslo"), replog.InstrModifyObject))
		ensure(f.repl.ListInsert(newFakeColl(f.people, colTags, 1), 0, replog.StringValue("x"), 0))
		ensure(f.repl.RemoveObject(addr, 3))

		assert.Equal(t, `msg="initiate transact" version=0 history_updated=false
msg="add class" class=Address table_type=embedded
msg="create object" class=Dog pk="\"rex\""
msg="mutating object" class=Dog pk="\"rex\""
msg=set prop=c1 value=3 default=false
msg="mutating object" class=Address top_class=Dog top_pk="\"rex\"" path="[\"c3\"][0]"
msg=set prop=c0 value="\"Oslo\"" default=false
msg="mutating object" class=Person obj=1
msg=insert path="[\"c2\"]" pos=0 value="\"x\""
msg="remove embedded object" class=Address
`, buf.String())
	})
}
