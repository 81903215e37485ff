package replog

import (
	"context"
	"log/slog"
)

type txState int

const (
	stateUninitialized txState = iota
	stateActive
	stateFinalized
)

func (v txState) String() string {
	switch v {
	case stateUninitialized:
		return "uninitialized"
	case stateActive:
		return "active"
	case stateFinalized:
		return "finalized"
	default:
		return "invalid"
	}
}

type Options struct {
	Context context.Context

	// Logger receives mutation events. Nil disables them.
	Logger Logger

	// History receives committed changesets. Nil means no history: versions
	// are simply incremented.
	History History

	// Stream backs the changeset. Defaults to an unlimited MemStream.
	Stream Stream
}

// Replication turns mutation notifications from a storage engine into a
// changeset. One Replication serves one write transaction at a time and
// must not be called concurrently.
//
// Lifecycle: InitiateTransact binds the changeset stream, mutation methods
// append instructions, PrepareCommit hands the changeset to the History and
// returns the new version, FinalizeCommit (or AbortTransact) releases it.
type Replication struct {
	ctx     context.Context
	logger  Logger
	history History
	stream  Stream

	group     Group
	enc       Encoder
	sel       Selection
	state     txState
	changeset []byte
}

func New(o Options) *Replication {
	if o.Context == nil {
		o.Context = context.Background()
	}
	if o.History == nil {
		o.History = noHistory{}
	}
	if o.Stream == nil {
		o.Stream = NewMemStream(1024, 0)
	}
	return &Replication{
		ctx:     o.Context,
		logger:  o.Logger,
		history: o.History,
		stream:  o.Stream,
		sel:     makeSelection(),
	}
}

func (r *Replication) HistoryType() HistoryType {
	return r.history.Type()
}

// Selection returns a snapshot of the current selection.
func (r *Replication) Selection() Selection {
	return r.sel
}

// UnselectAll forgets the selection, so that the next mutation selects its
// table again. The engine calls it at the start of every write transaction;
// class additions and removals call it implicitly.
func (r *Replication) UnselectAll() {
	r.sel.Clear()
}

// InitiateTransact binds the changeset stream and resets the write position.
// It does not touch the selection.
func (r *Replication) InitiateTransact(g Group, current Version, historyUpdated bool) {
	r.group = g
	r.changeset = nil
	r.enc.Bind(r.stream)
	r.state = stateActive
	if r.wouldLog(LevelTrace) {
		r.log(LevelTrace, "initiate transact", slog.Uint64("version", uint64(current)), slog.Bool("history_updated", historyUpdated))
	}
}

// Size returns the number of changeset bytes written in this transaction.
func (r *Replication) Size() int {
	return r.enc.Pos()
}

// PrepareCommit finalizes the changeset and returns the version of the new
// transaction, which is always greater than orig. On error, the transaction
// must be abandoned.
func (r *Replication) PrepareCommit(orig Version) (Version, error) {
	r.expectState(stateActive, "prepare commit")
	if err := r.enc.Err(); err != nil {
		return 0, err
	}
	data := r.enc.Written()
	v, err := r.history.PrepareChangeset(data, orig)
	if err != nil {
		return 0, err
	}
	if err := checkNewVersion(orig, v); err != nil {
		return 0, err
	}
	r.changeset = data
	r.state = stateFinalized
	return v, nil
}

// Changeset returns the changeset finalized by PrepareCommit. It aliases the
// stream and is valid until FinalizeCommit, AbortTransact or the next
// InitiateTransact.
func (r *Replication) Changeset() []byte {
	r.expectState(stateFinalized, "read changeset")
	return r.changeset
}

// FinalizeCommit completes the hand-off of the changeset.
func (r *Replication) FinalizeCommit() {
	r.expectState(stateFinalized, "finalize commit")
	r.release()
}

// AbortTransact discards the changeset. Nothing is encoded for a rollback.
func (r *Replication) AbortTransact() {
	r.release()
	r.sel.Clear()
}

func (r *Replication) release() {
	r.changeset = nil
	r.group = nil
	r.enc.Unbind()
	r.state = stateUninitialized
}

func (r *Replication) expectState(state txState, action string) {
	if r.state != state {
		panic(contractErrf("cannot %s: transaction is %v, wanted %v", action, r.state, state))
	}
}

// begin and end bracket every mutation. If anything fails in between, the
// partially written instructions are discarded and the selection is cleared,
// so a mutation is either fully encoded or not at all.
func (r *Replication) begin() int {
	r.expectState(stateActive, "record mutation")
	return r.enc.Pos()
}

func (r *Replication) end(start int, err error) error {
	if err != nil {
		r.enc.Rewind(start)
		r.sel.Clear()
	}
	return err
}

func (r *Replication) AddClass(tk TableKey, name string, typ TableType) error {
	if r.wouldLog(slog.LevelDebug) {
		if typ == TableTypeEmbedded {
			r.log(slog.LevelDebug, "add class", slog.String("class", ClassNameFromTableName(name)), slog.String("table_type", typ.String()))
		} else {
			r.log(slog.LevelDebug, "add class", slog.String("class", ClassNameFromTableName(name)))
		}
	}
	start := r.begin()
	r.sel.Clear()
	return r.end(start, r.enc.InsertGroupLevelTable(tk))
}

func (r *Replication) AddClassWithPrimaryKey(tk TableKey, name string, pkType DataType, pkName string, nullable bool, typ TableType) error {
	if r.wouldLog(slog.LevelDebug) {
		r.log(slog.LevelDebug, "add class", slog.String("class", ClassNameFromTableName(name)), slog.String("table_type", typ.String()), slog.String("pk_prop", pkName), slog.String("pk_type", pkType.String()), slog.Bool("pk_nullable", nullable))
	}
	if typ == TableTypeEmbedded {
		panic(contractErrf("embedded class %q cannot have a primary key", name))
	}
	start := r.begin()
	r.sel.Clear()
	return r.end(start, r.enc.InsertGroupLevelTable(tk))
}

func (r *Replication) EraseClass(tk TableKey, name string) error {
	if r.wouldLog(slog.LevelDebug) {
		r.log(slog.LevelDebug, "remove class", slog.String("class", ClassNameFromTableName(name)))
	}
	start := r.begin()
	r.sel.Clear()
	return r.end(start, r.enc.EraseClass(tk))
}

// InsertColumn records a new property. target is the link target table for
// link properties and nil otherwise.
func (r *Replication) InsertColumn(t Table, col ColKey, name string, target Table) error {
	if r.wouldLog(slog.LevelDebug) {
		attrs := []slog.Attr{classAttr(t), slog.String("prop", name)}
		if col.IsCollection() {
			attrs = append(attrs, collectionKindAttr(col))
		}
		if target != nil {
			attrs = append(attrs, slog.String("target", target.ClassName()))
		} else {
			attrs = append(attrs, slog.String("type", col.Type.String()))
		}
		r.log(slog.LevelDebug, "add property", attrs...)
	}
	start := r.begin()
	err := r.selectTable(t)
	if err == nil {
		err = r.enc.InsertColumn(col)
	}
	return r.end(start, err)
}

func (r *Replication) EraseColumn(t Table, col ColKey) error {
	if r.wouldLog(slog.LevelDebug) {
		r.log(slog.LevelDebug, "remove property", classAttr(t), slog.String("prop", t.ColumnName(col)))
	}
	start := r.begin()
	err := r.selectTable(t)
	if err == nil {
		err = r.enc.EraseColumn(col)
	}
	if err == nil {
		r.sel.columnErased(t.Key(), col)
	}
	return r.end(start, err)
}

func (r *Replication) CreateObject(t Table, gk GlobalKey) error {
	if r.wouldLog(slog.LevelDebug) {
		r.log(slog.LevelDebug, "create object", classAttr(t))
	}
	start := r.begin()
	err := r.selectTable(t)
	if err == nil {
		err = r.enc.CreateObject(gk.LocalKey())
	}
	return r.end(start, err)
}

// CreateObjectWithPrimaryKey records an object creation. The primary key
// value is only used for diagnostics; decoders identify the object by key.
func (r *Replication) CreateObjectWithPrimaryKey(t Table, key ObjKey, pk Mixed) error {
	if r.wouldLog(slog.LevelDebug) {
		r.log(slog.LevelDebug, "create object", classAttr(t), slog.Any("pk", pk))
	}
	start := r.begin()
	err := r.selectTable(t)
	if err == nil {
		err = r.enc.CreateObject(key)
	}
	return r.end(start, err)
}

func (r *Replication) RemoveObject(t Table, key ObjKey) error {
	if r.wouldLog(slog.LevelDebug) {
		if t.IsEmbedded() {
			r.log(slog.LevelDebug, "remove embedded object", classAttr(t))
		} else if _, ok := t.PrimaryKeyColumn(); ok {
			r.log(slog.LevelDebug, "remove object", classAttr(t), slog.Any("pk", t.PrimaryKey(key)))
		} else {
			r.log(slog.LevelDebug, "remove object", classAttr(t))
		}
	}
	start := r.begin()
	err := r.selectTable(t)
	if err == nil {
		err = r.enc.RemoveObject(key)
	}
	if err == nil {
		r.sel.objectRemoved(t.Key(), key)
	}
	return r.end(start, err)
}

// Set records a property write. variant is InstrModifyObject for explicit
// writes and InstrSetDefault for defaults applied during object creation;
// the latter leave no trace in the changeset or the selection.
func (r *Replication) Set(t Table, col ColKey, key ObjKey, value Mixed, variant Instruction) error {
	var err error
	switch variant {
	case InstrModifyObject:
		start := r.begin()
		err = r.selectTable(t)
		if err == nil {
			r.selectObject(key)
			err = r.enc.ModifyObject(col, key)
		}
		err = r.end(start, err)
	case InstrSetDefault:
		r.expectState(stateActive, "record mutation")
	default:
		panic(contractErrf("invalid set variant %v", variant))
	}
	if err == nil && r.wouldLog(LevelTrace) {
		r.log(LevelTrace, "set", slog.String("prop", t.ColumnName(col)), slog.Any("value", value), slog.Bool("default", variant == InstrSetDefault))
	}
	return err
}

func (r *Replication) ListInsert(c Collection, ndx int, value Mixed, priorSize int) error {
	expectKind(c, CollectionList)
	if ndx > priorSize {
		panic(contractErrf("list insert at %d past the end of %d elements", ndx, priorSize))
	}
	err := r.collectionOp(c, r.enc.CollectionInsert, c.TranslateIndex(ndx))
	if err == nil && r.wouldLog(LevelTrace) {
		r.log(LevelTrace, "insert", slog.String("path", describePath(c.Table(), c.ShortPath())), slog.Int("pos", ndx), slog.Any("value", value))
	}
	return err
}

func (r *Replication) ListSet(c Collection, ndx int, value Mixed) error {
	expectKind(c, CollectionList)
	err := r.collectionOp(c, r.enc.CollectionSet, c.TranslateIndex(ndx))
	if err == nil && r.wouldLog(LevelTrace) {
		r.log(LevelTrace, "set", slog.String("path", describePath(c.Table(), c.ShortPath())), slog.Int("pos", ndx), slog.Any("value", value))
	}
	return err
}

func (r *Replication) ListErase(c Collection, ndx int) error {
	expectKind(c, CollectionList)
	return r.collectionOp(c, r.enc.CollectionErase, c.TranslateIndex(ndx))
}

func (r *Replication) ListClear(c Collection) error {
	expectKind(c, CollectionList)
	return r.collectionOp(c, r.enc.CollectionClear, c.Size())
}

// LinkListNullify records that a link in a list now points to a removed
// object. linkNdx is a physical index, so it isn't translated.
func (r *Replication) LinkListNullify(c Collection, linkNdx int) error {
	expectKind(c, CollectionList)
	if c.ColKey().Type != TypeLink {
		panic(contractErrf("nullifying a link in %v, which is not a link list", c.ColKey()))
	}
	return r.collectionOp(c, r.enc.CollectionErase, linkNdx)
}

func (r *Replication) SetInsert(c Collection, ndx int, value Mixed) error {
	expectKind(c, CollectionSet)
	err := r.collectionOp(c, r.enc.CollectionInsert, ndx)
	if err == nil && r.wouldLog(LevelTrace) {
		r.log(LevelTrace, "insert", slog.String("path", describePath(c.Table(), c.ShortPath())), slog.Int("pos", ndx), slog.Any("value", value))
	}
	return err
}

func (r *Replication) SetErase(c Collection, ndx int, value Mixed) error {
	expectKind(c, CollectionSet)
	return r.collectionOp(c, r.enc.CollectionErase, ndx)
}

func (r *Replication) SetClear(c Collection) error {
	expectKind(c, CollectionSet)
	return r.collectionOp(c, r.enc.CollectionClear, c.Size())
}

func (r *Replication) DictionaryInsert(c Collection, ndx int, key, value Mixed) error {
	expectKind(c, CollectionDictionary)
	err := r.collectionOp(c, r.enc.CollectionInsert, ndx)
	if err == nil && r.wouldLog(LevelTrace) {
		r.log(LevelTrace, "insert", slog.String("path", describePath(c.Table(), c.ShortPath())), slog.Any("key", key), slog.Any("value", value))
	}
	return err
}

func (r *Replication) DictionarySet(c Collection, ndx int, key, value Mixed) error {
	expectKind(c, CollectionDictionary)
	err := r.collectionOp(c, r.enc.CollectionSet, ndx)
	if err == nil && r.wouldLog(LevelTrace) {
		r.log(LevelTrace, "set", slog.String("path", describePath(c.Table(), c.ShortPath())), slog.Any("key", key), slog.Any("value", value))
	}
	return err
}

func (r *Replication) DictionaryErase(c Collection, ndx int, key Mixed) error {
	expectKind(c, CollectionDictionary)
	return r.collectionOp(c, r.enc.CollectionErase, ndx)
}

func (r *Replication) DictionaryClear(c Collection) error {
	expectKind(c, CollectionDictionary)
	return r.collectionOp(c, r.enc.CollectionClear, c.Size())
}

func (r *Replication) collectionOp(c Collection, write func(int) error, arg int) error {
	start := r.begin()
	err := r.selectCollection(c)
	if err == nil {
		err = write(arg)
	}
	return r.end(start, err)
}

func (r *Replication) selectTable(t Table) error {
	tk := t.Key()
	if r.sel.tableSelected(tk) {
		return nil
	}
	err := r.enc.SelectTable(tk)
	if err != nil {
		return err
	}
	r.sel.selectTable(t)
	return nil
}

// selectObject has no wire representation: instructions that address an
// object carry its key. It exists to invalidate the selected collection and
// to describe the object being mutated.
func (r *Replication) selectObject(key ObjKey) {
	if !r.sel.selectObject(key) {
		return
	}
	if r.wouldLog(slog.LevelDebug) {
		r.logMutatingObject(r.sel.table, key)
	}
}

func (r *Replication) selectCollection(c Collection) error {
	id := collectionID(c)
	if r.sel.collectionSelected(id) {
		return nil
	}
	err := r.selectTable(c.Table())
	if err != nil {
		return err
	}
	r.selectObject(id.Obj)
	err = r.enc.SelectCollection(c.ColKey(), id.Obj, id.Path)
	if err != nil {
		return err
	}
	r.sel.selectCollection(id)
	return nil
}

func (r *Replication) logMutatingObject(t Table, key ObjKey) {
	if _, ok := t.PrimaryKeyColumn(); ok {
		r.log(slog.LevelDebug, "mutating object", classAttr(t), slog.Any("pk", t.PrimaryKey(key)))
		return
	}
	fp, err := t.FullPath(key)
	if err != nil || len(fp.PathFromTop) == 0 || r.group == nil {
		r.log(slog.LevelDebug, "mutating object", classAttr(t), slog.Int64("obj", int64(key)))
		return
	}
	top := r.group.Table(fp.TopTable)
	if top == nil {
		r.log(slog.LevelDebug, "mutating object", classAttr(t), slog.Int64("obj", int64(key)))
		return
	}
	owner := slog.Int64("top_obj", int64(fp.TopObj))
	if _, ok := top.PrimaryKeyColumn(); ok {
		owner = slog.Any("top_pk", top.PrimaryKey(fp.TopObj))
	}
	r.log(slog.LevelDebug, "mutating object", classAttr(t), slog.String("top_class", top.ClassName()), owner, slog.String("path", describePath(top, fp.PathFromTop)))
}

func expectKind(c Collection, kind CollectionKind) {
	if col := c.ColKey(); col.Kind != kind {
		panic(contractErrf("%v operation on %v", kind, col))
	}
}
