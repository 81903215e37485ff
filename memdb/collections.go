package memdb

import (
	"fmt"
	"slices"

	"github.com/andreyvit/replog"
)

type listEntry struct {
	value  replog.Mixed
	hidden bool
}

type listData struct {
	entries []listEntry
}

func (l *listData) clone() *listData {
	return &listData{entries: slices.Clone(l.entries)}
}

func (l *listData) size() int {
	if l == nil {
		return 0
	}
	var n int
	for _, e := range l.entries {
		if !e.hidden {
			n++
		}
	}
	return n
}

// physical maps a visible index to a stored one. The size of the list maps
// to the end of the stored entries.
func (l *listData) physical(ndx int) int {
	if l == nil {
		return ndx
	}
	for i, e := range l.entries {
		if e.hidden {
			continue
		}
		if ndx == 0 {
			return i
		}
		ndx--
	}
	return len(l.entries) + ndx
}

func (l *listData) indexOf(v replog.Mixed) int {
	if l == nil {
		return -1
	}
	var ndx int
	for _, e := range l.entries {
		if e.hidden {
			continue
		}
		if e.value.Equal(v) {
			return ndx
		}
		ndx++
	}
	return -1
}

func (l *listData) visible() []replog.Mixed {
	if l == nil {
		return nil
	}
	var result []replog.Mixed
	for _, e := range l.entries {
		if !e.hidden {
			result = append(result, e.value)
		}
	}
	return result
}

type dictData struct {
	keys   []string
	values []replog.Mixed
}

func (d *dictData) clone() *dictData {
	return &dictData{keys: slices.Clone(d.keys), values: slices.Clone(d.values)}
}

type collection struct {
	tx  *Tx
	obj *Obj
	col replog.ColKey
}

func (c collection) Table() replog.Table     { return c.obj.table }
func (c collection) ColKey() replog.ColKey   { return c.col }
func (c collection) OwnerKey() replog.ObjKey { return c.obj.key }
func (c collection) StablePath() replog.Path { return replog.Path{replog.ColumnElem(c.col)} }
func (c collection) ShortPath() replog.Path  { return c.StablePath() }
func (c collection) column() *Column         { return c.obj.table.column(c.col) }
func (c collection) target() *Table          { return c.obj.table.targetOf(c.column()) }

func (c collection) ownsObjects() bool {
	t := c.target()
	return t != nil && t.IsEmbedded()
}

func (tx *Tx) collection(o *Obj, col replog.ColKey, kind replog.CollectionKind) (collection, error) {
	c, err := tx.liveColumn(o, col)
	if err != nil {
		return collection{}, err
	}
	if c.Key.Kind != kind {
		return collection{}, fmt.Errorf("%w: %s is not a %v", ErrInvalidOperation, c.Name, kind)
	}
	return collection{tx: tx, obj: o, col: col}, nil
}

// List is a list property of one object, bound to a write transaction.
type List struct {
	collection
}

var _ replog.Collection = (*List)(nil)

func (tx *Tx) List(o *Obj, col replog.ColKey) (*List, error) {
	c, err := tx.collection(o, col, replog.CollectionList)
	if err != nil {
		return nil, err
	}
	return &List{c}, nil
}

func (l *List) data() *listData {
	d := l.obj.lists[l.col.Index]
	if d == nil {
		d = &listData{}
		l.obj.lists[l.col.Index] = d
	}
	return d
}

func (l *List) Size() int {
	return l.obj.lists[l.col.Index].size()
}

func (l *List) TranslateIndex(ndx int) int {
	return l.obj.lists[l.col.Index].physical(ndx)
}

func (l *List) Get(ndx int) replog.Mixed {
	return l.obj.lists[l.col.Index].entries[l.TranslateIndex(ndx)].value
}

func (l *List) Values() []replog.Mixed {
	return l.obj.ListValues(l.col)
}

func (l *List) checkIndex(ndx, limit int) error {
	if err := l.tx.check(); err != nil {
		return err
	}
	if ndx < 0 || ndx > limit {
		return fmt.Errorf("%w: index %d out of range [0, %d]", ErrInvalidOperation, ndx, limit)
	}
	return nil
}

func (l *List) checkElement(v replog.Mixed) error {
	if l.ownsObjects() {
		return fmt.Errorf("%w: embedded objects are created through their owner", ErrInvalidOperation)
	}
	return l.tx.checkValue(l.column(), v)
}

func (l *List) Insert(ndx int, v replog.Mixed) error {
	if err := l.checkIndex(ndx, l.Size()); err != nil {
		return err
	}
	if err := l.checkElement(v); err != nil {
		return err
	}
	return l.insert(ndx, v)
}

func (l *List) Add(v replog.Mixed) error {
	return l.Insert(l.Size(), v)
}

func (l *List) insert(ndx int, v replog.Mixed) error {
	phys := l.TranslateIndex(ndx)
	err := l.tx.record(l.tx.repl.ListInsert(l, ndx, v, l.Size()))
	if err != nil {
		return err
	}
	d := l.data()
	d.entries = slices.Insert(d.entries, phys, listEntry{value: v})
	return nil
}

// InsertEmbedded creates an embedded object and inserts it at ndx.
func (l *List) InsertEmbedded(ndx int) (*Obj, error) {
	if err := l.checkIndex(ndx, l.Size()); err != nil {
		return nil, err
	}
	if !l.ownsObjects() {
		return nil, fmt.Errorf("%w: %s is not an embedded object list", ErrInvalidOperation, l.column().Name)
	}
	child, err := l.tx.createEmbedded(l.obj, l.column(), l.target())
	if err != nil {
		return nil, err
	}
	return child, l.insert(ndx, child.Link())
}

func (l *List) Set(ndx int, v replog.Mixed) error {
	if err := l.checkIndex(ndx, l.Size()-1); err != nil {
		return err
	}
	if err := l.checkElement(v); err != nil {
		return err
	}
	phys := l.TranslateIndex(ndx)
	err := l.tx.record(l.tx.repl.ListSet(l, ndx, v))
	if err != nil {
		return err
	}
	l.data().entries[phys].value = v
	return nil
}

// Erase removes the element at ndx. Erasing an embedded object removes it.
func (l *List) Erase(ndx int) error {
	if err := l.checkIndex(ndx, l.Size()-1); err != nil {
		return err
	}
	phys := l.TranslateIndex(ndx)
	err := l.tx.record(l.tx.repl.ListErase(l, ndx))
	if err != nil {
		return err
	}
	d := l.data()
	old := d.entries[phys].value
	d.entries = slices.Delete(d.entries, phys, phys+1)
	return l.dropOwned(old)
}

func (l *List) Clear() error {
	if err := l.tx.check(); err != nil {
		return err
	}
	err := l.tx.record(l.tx.repl.ListClear(l))
	if err != nil {
		return err
	}
	old := l.Values()
	delete(l.obj.lists, l.col.Index)
	for _, v := range old {
		if err := l.dropOwned(v); err != nil {
			return err
		}
	}
	return nil
}

func (l *List) dropOwned(v replog.Mixed) error {
	if !l.ownsObjects() || !v.Is(replog.TypeLink) {
		return nil
	}
	_, key := v.AsLink()
	if child := l.target().Object(key); child != nil {
		return l.tx.removeObject(child, false)
	}
	return nil
}

// ValueSet is a set property of one object, kept in sorted order.
type ValueSet struct {
	collection
}

var _ replog.Collection = (*ValueSet)(nil)

func (tx *Tx) ValueSet(o *Obj, col replog.ColKey) (*ValueSet, error) {
	c, err := tx.collection(o, col, replog.CollectionSet)
	if err != nil {
		return nil, err
	}
	return &ValueSet{c}, nil
}

func (s *ValueSet) Size() int                  { return len(s.obj.sets[s.col.Index]) }
func (s *ValueSet) TranslateIndex(ndx int) int { return ndx }
func (s *ValueSet) Values() []replog.Mixed     { return s.obj.SetValues(s.col) }

func (s *ValueSet) find(v replog.Mixed) (int, bool) {
	return slices.BinarySearchFunc(s.obj.sets[s.col.Index], v, replog.Mixed.Compare)
}

func (s *ValueSet) Contains(v replog.Mixed) bool {
	_, found := s.find(v)
	return found
}

// Insert adds v unless already present, and reports whether it was added.
func (s *ValueSet) Insert(v replog.Mixed) (bool, error) {
	if err := s.tx.check(); err != nil {
		return false, err
	}
	if err := s.tx.checkValue(s.column(), v); err != nil {
		return false, err
	}
	ndx, found := s.find(v)
	if found {
		return false, nil
	}
	err := s.tx.record(s.tx.repl.SetInsert(s, ndx, v))
	if err != nil {
		return false, err
	}
	s.obj.sets[s.col.Index] = slices.Insert(s.obj.sets[s.col.Index], ndx, v)
	return true, nil
}

// Erase removes v if present, and reports whether it was removed.
func (s *ValueSet) Erase(v replog.Mixed) (bool, error) {
	if err := s.tx.check(); err != nil {
		return false, err
	}
	ndx, found := s.find(v)
	if !found {
		return false, nil
	}
	err := s.tx.record(s.tx.repl.SetErase(s, ndx, v))
	if err != nil {
		return false, err
	}
	s.obj.sets[s.col.Index] = slices.Delete(s.obj.sets[s.col.Index], ndx, ndx+1)
	return true, nil
}

func (s *ValueSet) Clear() error {
	if err := s.tx.check(); err != nil {
		return err
	}
	err := s.tx.record(s.tx.repl.SetClear(s))
	if err != nil {
		return err
	}
	delete(s.obj.sets, s.col.Index)
	return nil
}

// Dictionary is a string-keyed dictionary property of one object. Entries
// are indexed in key order.
type Dictionary struct {
	collection
}

var _ replog.Collection = (*Dictionary)(nil)

func (tx *Tx) Dictionary(o *Obj, col replog.ColKey) (*Dictionary, error) {
	c, err := tx.collection(o, col, replog.CollectionDictionary)
	if err != nil {
		return nil, err
	}
	return &Dictionary{c}, nil
}

func (d *Dictionary) data() *dictData {
	dd := d.obj.dicts[d.col.Index]
	if dd == nil {
		dd = &dictData{}
		d.obj.dicts[d.col.Index] = dd
	}
	return dd
}

func (d *Dictionary) Size() int {
	if dd := d.obj.dicts[d.col.Index]; dd != nil {
		return len(dd.keys)
	}
	return 0
}

func (d *Dictionary) TranslateIndex(ndx int) int { return ndx }

func (d *Dictionary) find(key string) (int, bool) {
	if dd := d.obj.dicts[d.col.Index]; dd != nil {
		return slices.BinarySearch(dd.keys, key)
	}
	return 0, false
}

func (d *Dictionary) Get(key string) (replog.Mixed, bool) {
	ndx, found := d.find(key)
	if !found {
		return replog.NullValue(), false
	}
	return d.obj.dicts[d.col.Index].values[ndx], true
}

// Insert adds or replaces the value for key.
func (d *Dictionary) Insert(key string, v replog.Mixed) error {
	if err := d.tx.check(); err != nil {
		return err
	}
	if err := d.tx.checkValue(d.column(), v); err != nil {
		return err
	}
	ndx, found := d.find(key)
	if found {
		err := d.tx.record(d.tx.repl.DictionarySet(d, ndx, replog.StringValue(key), v))
		if err != nil {
			return err
		}
		d.data().values[ndx] = v
		return nil
	}
	err := d.tx.record(d.tx.repl.DictionaryInsert(d, ndx, replog.StringValue(key), v))
	if err != nil {
		return err
	}
	dd := d.data()
	dd.keys = slices.Insert(dd.keys, ndx, key)
	dd.values = slices.Insert(dd.values, ndx, v)
	return nil
}

// Erase removes key if present, and reports whether it was removed.
func (d *Dictionary) Erase(key string) (bool, error) {
	if err := d.tx.check(); err != nil {
		return false, err
	}
	ndx, found := d.find(key)
	if !found {
		return false, nil
	}
	err := d.tx.record(d.tx.repl.DictionaryErase(d, ndx, replog.StringValue(key)))
	if err != nil {
		return false, err
	}
	dd := d.data()
	dd.keys = slices.Delete(dd.keys, ndx, ndx+1)
	dd.values = slices.Delete(dd.values, ndx, ndx+1)
	return true, nil
}

func (d *Dictionary) Clear() error {
	if err := d.tx.check(); err != nil {
		return err
	}
	err := d.tx.record(d.tx.repl.DictionaryClear(d))
	if err != nil {
		return err
	}
	delete(d.obj.dicts, d.col.Index)
	return nil
}
