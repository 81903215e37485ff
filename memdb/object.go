package memdb

import (
	"encoding/binary"
	"fmt"
	"maps"
	"math"
	"slices"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/andreyvit/replog"
)

type parentRef struct {
	table replog.TableKey
	obj   replog.ObjKey
	col   replog.ColKey
	valid bool
}

// Obj is one object. Unset properties read as their type's default.
type Obj struct {
	table  *Table
	key    replog.ObjKey
	pk     replog.Mixed
	values map[uint32]replog.Mixed
	lists  map[uint32]*listData
	sets   map[uint32][]replog.Mixed
	dicts  map[uint32]*dictData
	parent parentRef
}

func (t *Table) newObj(key replog.ObjKey) *Obj {
	o := &Obj{
		table:  t,
		key:    key,
		values: make(map[uint32]replog.Mixed),
		lists:  make(map[uint32]*listData),
		sets:   make(map[uint32][]replog.Mixed),
		dicts:  make(map[uint32]*dictData),
	}
	t.objects[key] = o
	return o
}

func (o *Obj) clone(t *Table) *Obj {
	c := *o
	c.table = t
	c.values = maps.Clone(o.values)
	c.lists = make(map[uint32]*listData, len(o.lists))
	for k, l := range o.lists {
		c.lists[k] = l.clone()
	}
	c.sets = make(map[uint32][]replog.Mixed, len(o.sets))
	for k, s := range o.sets {
		c.sets[k] = slices.Clone(s)
	}
	c.dicts = make(map[uint32]*dictData, len(o.dicts))
	for k, d := range o.dicts {
		c.dicts[k] = d.clone()
	}
	return &c
}

func (o *Obj) Key() replog.ObjKey       { return o.key }
func (o *Obj) Table() *Table            { return o.table }
func (o *Obj) PrimaryKey() replog.Mixed { return o.pk }
func (o *Obj) Link() replog.Mixed       { return replog.LinkValue(o.table.key, o.key) }
func (o *Obj) isLive(db *DB) bool       { return db.table(o.table.key) == o.table && o.table.objects[o.key] == o }
func (o *Obj) String() string           { return fmt.Sprintf("%s[%d]", o.table.ClassName(), int64(o.key)) }

func (o *Obj) Get(col replog.ColKey) replog.Mixed {
	if v, ok := o.values[col.Index]; ok {
		return v
	}
	return defaultValue(col)
}

// Parent returns the owner of an embedded object.
func (o *Obj) Parent() *Obj {
	if !o.parent.valid {
		return nil
	}
	if t := o.table.db.table(o.parent.table); t != nil {
		return t.Object(o.parent.obj)
	}
	return nil
}

func (o *Obj) ListValues(col replog.ColKey) []replog.Mixed {
	return o.lists[col.Index].visible()
}

func (o *Obj) SetValues(col replog.ColKey) []replog.Mixed {
	return slices.Clone(o.sets[col.Index])
}

func (o *Obj) DictionaryEntries(col replog.ColKey) ([]string, []replog.Mixed) {
	d := o.dicts[col.Index]
	if d == nil {
		return nil, nil
	}
	return slices.Clone(d.keys), slices.Clone(d.values)
}

// children returns the embedded objects owned through column c.
func (o *Obj) children(c *Column) []*Obj {
	target := o.table.targetOf(c)
	if target == nil || !target.IsEmbedded() {
		return nil
	}
	var links []replog.Mixed
	switch c.Key.Kind {
	case replog.CollectionNone:
		links = []replog.Mixed{o.Get(c.Key)}
	case replog.CollectionList:
		links = o.lists[c.Key.Index].visible()
	}
	var result []*Obj
	for _, v := range links {
		if v.Is(replog.TypeLink) {
			_, key := v.AsLink()
			if child := target.objects[key]; child != nil {
				result = append(result, child)
			}
		}
	}
	return result
}

func (o *Obj) dropColumn(col replog.ColKey) {
	delete(o.values, col.Index)
	delete(o.lists, col.Index)
	delete(o.sets, col.Index)
	delete(o.dicts, col.Index)
}

func defaultValue(col replog.ColKey) replog.Mixed {
	if col.Nullable {
		return replog.NullValue()
	}
	switch col.Type {
	case replog.TypeInt:
		return replog.IntValue(0)
	case replog.TypeBool:
		return replog.BoolValue(false)
	case replog.TypeString:
		return replog.StringValue("")
	case replog.TypeBinary:
		return replog.BinaryValue(nil)
	case replog.TypeTimestamp:
		return replog.TimestampValue(time.Unix(0, 0).UTC())
	case replog.TypeFloat:
		return replog.FloatValue(0)
	case replog.TypeDouble:
		return replog.DoubleValue(0)
	case replog.TypeUUID:
		return replog.UUIDValue(uuid.Nil)
	default:
		return replog.NullValue()
	}
}

func primaryKeyBytes(pk replog.Mixed) []byte {
	if pk.IsNull() {
		return []byte{0xff}
	}
	b := []byte{byte(pk.Type())}
	switch pk.Type() {
	case replog.TypeInt:
		return binary.BigEndian.AppendUint64(b, uint64(pk.AsInt()))
	case replog.TypeString:
		return append(b, pk.AsString()...)
	case replog.TypeUUID:
		u := pk.AsUUID()
		return append(b, u[:]...)
	default:
		panic(fmt.Errorf("unsupported primary key %v", pk))
	}
}

// keyForPrimaryKey derives the object key from the primary key, so that
// replicas creating the same object agree on its key. Small non-negative
// integers map to themselves; everything else is hashed, probing forward on
// collision.
func (t *Table) keyForPrimaryKey(pk replog.Mixed) replog.ObjKey {
	var gk replog.GlobalKey
	if pk.Is(replog.TypeInt) && pk.AsInt() >= 0 && pk.AsInt() <= math.MaxUint32 {
		gk.Lo = uint64(pk.AsInt())
	} else {
		h := xxhash.Sum64(primaryKeyBytes(pk))
		gk.Hi = (h >> 32) & 0x3fffffff
		gk.Lo = h & math.MaxUint32
	}
	for {
		key := gk.LocalKey()
		if _, taken := t.objects[key]; !taken {
			return key
		}
		gk.Lo = (gk.Lo + 1) & math.MaxUint32
	}
}

func (tx *Tx) liveColumn(o *Obj, col replog.ColKey) (*Column, error) {
	if !o.isLive(tx.db) {
		return nil, fmt.Errorf("%w: %v has been removed", ErrNotFound, o)
	}
	c := o.table.column(col)
	if c == nil {
		return nil, fmt.Errorf("%w: %v in %s", ErrNotFound, col, o.table.ClassName())
	}
	return c, nil
}

func (tx *Tx) checkValue(c *Column, v replog.Mixed) error {
	if v.IsNull() {
		if c.Key.Nullable || c.Key.Type == replog.TypeMixed {
			return nil
		}
		return fmt.Errorf("%w: null for non-nullable %s", ErrTypeMismatch, c.Name)
	}
	if c.Key.Type == replog.TypeMixed {
		if v.Is(replog.TypeLink) {
			return fmt.Errorf("%w: links cannot be stored in mixed %s", ErrTypeMismatch, c.Name)
		}
		return nil
	}
	if v.Type() != c.Key.Type {
		return fmt.Errorf("%w: %v for %v %s", ErrTypeMismatch, v.Type(), c.Key.Type, c.Name)
	}
	if c.IsLink() {
		tk, key := v.AsLink()
		if tk != c.Target {
			return fmt.Errorf("%w: link to %v for %s", ErrTypeMismatch, tk, c.Name)
		}
		target := tx.db.table(tk)
		if target == nil || target.objects[key] == nil {
			return fmt.Errorf("%w: link target %v", ErrNotFound, v)
		}
		if target.IsEmbedded() {
			return fmt.Errorf("%w: embedded objects are created through their owner", ErrInvalidOperation)
		}
	}
	return nil
}

// CreateObject creates an object in a class without a primary key. Its key
// is derived from a per-table sequence.
func (tx *Tx) CreateObject(t *Table) (*Obj, error) {
	if err := tx.check(); err != nil {
		return nil, err
	}
	if t.hasPK {
		return nil, fmt.Errorf("%w: %s requires a primary key", ErrInvalidOperation, t.ClassName())
	}
	if t.IsEmbedded() {
		return nil, fmt.Errorf("%w: embedded objects are created through their owner", ErrInvalidOperation)
	}
	return tx.createObject(t)
}

func (tx *Tx) createObject(t *Table) (*Obj, error) {
	gk := replog.GlobalKey{Lo: t.nextSeq}
	err := tx.record(tx.repl.CreateObject(t, gk))
	if err != nil {
		return nil, err
	}
	t.nextSeq++
	o := t.newObj(gk.LocalKey())
	return o, tx.applyDefaults(o)
}

func (tx *Tx) CreateObjectWithPrimaryKey(t *Table, pk replog.Mixed) (*Obj, error) {
	if err := tx.check(); err != nil {
		return nil, err
	}
	if !t.hasPK {
		return nil, fmt.Errorf("%w: %s has no primary key", ErrInvalidOperation, t.ClassName())
	}
	if err := tx.checkValue(t.column(t.pkCol), pk); err != nil {
		return nil, err
	}
	if t.ObjectWithPrimaryKey(pk) != nil {
		return nil, fmt.Errorf("%w: %s %v", ErrDuplicatePrimaryKey, t.ClassName(), pk)
	}
	key := t.keyForPrimaryKey(pk)
	err := tx.record(tx.repl.CreateObjectWithPrimaryKey(t, key, pk))
	if err != nil {
		return nil, err
	}
	o := t.newObj(key)
	o.pk = pk
	o.values[t.pkCol.Index] = pk
	t.byPK[string(primaryKeyBytes(pk))] = key
	return o, tx.applyDefaults(o)
}

// applyDefaults reports the initial values of a new object. They are not
// part of the changeset.
func (tx *Tx) applyDefaults(o *Obj) error {
	for _, c := range o.table.Columns() {
		if c.Key.IsCollection() || (o.table.hasPK && c.Key == o.table.pkCol) {
			continue
		}
		err := tx.repl.Set(o.table, c.Key, o.key, defaultValue(c.Key), replog.InstrSetDefault)
		if err != nil {
			return tx.record(err)
		}
	}
	return nil
}

// Set writes a non-collection property. Setting an embedded link to null
// removes the embedded object.
func (tx *Tx) Set(o *Obj, col replog.ColKey, v replog.Mixed) error {
	if err := tx.check(); err != nil {
		return err
	}
	c, err := tx.liveColumn(o, col)
	if err != nil {
		return err
	}
	if c.Key.IsCollection() {
		return fmt.Errorf("%w: %s is a %v", ErrInvalidOperation, c.Name, c.Key.Kind)
	}
	if o.table.hasPK && col == o.table.pkCol {
		return fmt.Errorf("%w: primary keys cannot be changed", ErrInvalidOperation)
	}
	if target := o.table.targetOf(c); target != nil && target.IsEmbedded() {
		if !v.IsNull() {
			return fmt.Errorf("%w: embedded objects are created through their owner", ErrInvalidOperation)
		}
		for _, child := range o.children(c) {
			if err := tx.removeObject(child, false); err != nil {
				return err
			}
		}
		return nil
	}
	if err := tx.checkValue(c, v); err != nil {
		return err
	}
	err = tx.record(tx.repl.Set(o.table, col, o.key, v, replog.InstrModifyObject))
	if err != nil {
		return err
	}
	o.values[col.Index] = v
	return nil
}

// CreateEmbedded creates a new embedded object owned through a single link
// column, replacing the previous one.
func (tx *Tx) CreateEmbedded(owner *Obj, col replog.ColKey) (*Obj, error) {
	if err := tx.check(); err != nil {
		return nil, err
	}
	c, err := tx.liveColumn(owner, col)
	if err != nil {
		return nil, err
	}
	target := owner.table.targetOf(c)
	if target == nil || !target.IsEmbedded() || c.Key.IsCollection() {
		return nil, fmt.Errorf("%w: %s is not an embedded object property", ErrInvalidOperation, c.Name)
	}
	for _, old := range owner.children(c) {
		if err := tx.removeObject(old, false); err != nil {
			return nil, err
		}
	}
	child, err := tx.createEmbedded(owner, c, target)
	if err != nil {
		return nil, err
	}
	err = tx.record(tx.repl.Set(owner.table, col, owner.key, child.Link(), replog.InstrModifyObject))
	if err != nil {
		return nil, err
	}
	owner.values[col.Index] = child.Link()
	return child, nil
}

func (tx *Tx) createEmbedded(owner *Obj, c *Column, target *Table) (*Obj, error) {
	child, err := tx.createObject(target)
	if child != nil {
		child.parent = parentRef{table: owner.table.key, obj: owner.key, col: c.Key, valid: true}
	}
	return child, err
}

// RemoveObject removes an object together with the embedded objects it
// owns. Links to it are cleared, and link list entries are removed.
func (tx *Tx) RemoveObject(o *Obj) error {
	if err := tx.check(); err != nil {
		return err
	}
	if !o.isLive(tx.db) {
		return fmt.Errorf("%w: %v has been removed", ErrNotFound, o)
	}
	if o.table.IsEmbedded() {
		return fmt.Errorf("%w: embedded objects are removed through their owner", ErrInvalidOperation)
	}
	return tx.removeObject(o, false)
}

// InvalidateObject removes an object but keeps link list entries pointing
// to it as hidden tombstones. Hidden entries don't count towards list
// indices, but still occupy a position in the stored list.
func (tx *Tx) InvalidateObject(o *Obj) error {
	if err := tx.check(); err != nil {
		return err
	}
	if !o.isLive(tx.db) {
		return fmt.Errorf("%w: %v has been removed", ErrNotFound, o)
	}
	if o.table.IsEmbedded() {
		return fmt.Errorf("%w: embedded objects cannot be invalidated", ErrInvalidOperation)
	}
	return tx.removeObject(o, true)
}

func (tx *Tx) removeObject(o *Obj, invalidate bool) error {
	t := o.table
	err := tx.record(tx.repl.RemoveObject(t, o.key))
	if err != nil {
		return err
	}
	delete(t.objects, o.key)
	if t.hasPK {
		delete(t.byPK, string(primaryKeyBytes(o.pk)))
	}
	for _, c := range t.Columns() {
		for _, child := range o.children(c) {
			if err := tx.removeObject(child, false); err != nil {
				return err
			}
		}
	}
	return tx.unlink(o, invalidate)
}

// unlink clears all links to a removed object.
func (tx *Tx) unlink(target *Obj, invalidate bool) error {
	link := target.Link()
	for _, t := range tx.db.Tables() {
		for _, c := range t.Columns() {
			if !c.IsLink() || c.Target != target.table.key {
				continue
			}
			for _, o := range t.Objects() {
				if err := tx.unlinkFrom(o, c, link, invalidate); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (tx *Tx) unlinkFrom(o *Obj, c *Column, link replog.Mixed, invalidate bool) error {
	coll := collection{tx: tx, obj: o, col: c.Key}
	switch c.Key.Kind {
	case replog.CollectionNone:
		if !o.Get(c.Key).Equal(link) {
			return nil
		}
		err := tx.record(tx.repl.Set(o.table, c.Key, o.key, replog.NullValue(), replog.InstrModifyObject))
		if err != nil {
			return err
		}
		o.values[c.Key.Index] = replog.NullValue()

	case replog.CollectionList:
		l := o.lists[c.Key.Index]
		if l == nil {
			return nil
		}
		for i := len(l.entries) - 1; i >= 0; i-- {
			if l.entries[i].hidden || !l.entries[i].value.Equal(link) {
				continue
			}
			if invalidate {
				l.entries[i].hidden = true
				continue
			}
			err := tx.record(tx.repl.LinkListNullify(&List{coll}, i))
			if err != nil {
				return err
			}
			l.entries = slices.Delete(l.entries, i, i+1)
		}

	case replog.CollectionSet:
		s := &ValueSet{coll}
		if ndx, found := s.find(link); found {
			err := tx.record(tx.repl.SetErase(s, ndx, link))
			if err != nil {
				return err
			}
			o.sets[c.Key.Index] = slices.Delete(o.sets[c.Key.Index], ndx, ndx+1)
		}

	case replog.CollectionDictionary:
		d := o.dicts[c.Key.Index]
		if d == nil {
			return nil
		}
		for i, v := range d.values {
			if !v.Equal(link) {
				continue
			}
			err := tx.record(tx.repl.DictionarySet(&Dictionary{coll}, i, replog.StringValue(d.keys[i]), replog.NullValue()))
			if err != nil {
				return err
			}
			d.values[i] = replog.NullValue()
		}
	}
	return nil
}
