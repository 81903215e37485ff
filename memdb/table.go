package memdb

import (
	"fmt"
	"maps"
	"slices"

	"github.com/andreyvit/replog"
)

// Column describes one property of a table.
type Column struct {
	Key    replog.ColKey
	Name   string
	Target replog.TableKey // link columns only
}

func (c *Column) IsLink() bool {
	return c.Key.Type == replog.TypeLink
}

type Table struct {
	db      *DB
	key     replog.TableKey
	name    string
	typ     replog.TableType
	pkCol   replog.ColKey
	hasPK   bool
	columns []*Column
	objects map[replog.ObjKey]*Obj
	byPK    map[string]replog.ObjKey
	nextSeq uint64
}

var _ replog.Table = (*Table)(nil)

func newTable(db *DB, key replog.TableKey, class string, typ replog.TableType) *Table {
	return &Table{
		db:      db,
		key:     key,
		name:    replog.TableNameFromClassName(class),
		typ:     typ,
		objects: make(map[replog.ObjKey]*Obj),
		byPK:    make(map[string]replog.ObjKey),
	}
}

func (t *Table) clone() *Table {
	c := *t
	c.columns = slices.Clone(t.columns)
	c.byPK = maps.Clone(t.byPK)
	c.objects = make(map[replog.ObjKey]*Obj, len(t.objects))
	for k, o := range t.objects {
		c.objects[k] = o.clone(&c)
	}
	return &c
}

func (t *Table) Key() replog.TableKey { return t.key }
func (t *Table) Name() string         { return t.name }
func (t *Table) ClassName() string    { return replog.ClassNameFromTableName(t.name) }
func (t *Table) Type() replog.TableType { return t.typ }
func (t *Table) IsEmbedded() bool       { return t.typ == replog.TableTypeEmbedded }

func (t *Table) ColumnName(col replog.ColKey) string {
	if c := t.column(col); c != nil {
		return c.Name
	}
	return col.String()
}

func (t *Table) PrimaryKeyColumn() (replog.ColKey, bool) {
	return t.pkCol, t.hasPK
}

func (t *Table) PrimaryKey(key replog.ObjKey) replog.Mixed {
	if o := t.objects[key]; o != nil {
		return o.pk
	}
	return replog.NullValue()
}

// FullPath walks up the owners of an embedded object.
func (t *Table) FullPath(key replog.ObjKey) (replog.FullPath, error) {
	o := t.objects[key]
	if o == nil {
		return replog.FullPath{}, fmt.Errorf("%w: object %d in %s", ErrNotFound, int64(key), t.ClassName())
	}
	var path replog.Path
	for o.parent.valid {
		var owner *Obj
		if ot := t.db.table(o.parent.table); ot != nil {
			owner = ot.Object(o.parent.obj)
		}
		if owner == nil {
			return replog.FullPath{}, fmt.Errorf("%w: owner of object %d in %s", ErrNotFound, int64(o.key), o.table.ClassName())
		}
		step := replog.Path{replog.ColumnElem(o.parent.col)}
		if o.parent.col.IsList() {
			ndx := owner.lists[o.parent.col.Index].indexOf(replog.LinkValue(o.table.key, o.key))
			if ndx < 0 {
				return replog.FullPath{}, fmt.Errorf("%w: object %d in its owner list", ErrNotFound, int64(o.key))
			}
			step = append(step, replog.IndexElem(ndx))
		}
		path = append(step, path...)
		o = owner
	}
	return replog.FullPath{
		TopTable:    o.table.key,
		TopObj:      o.key,
		PathFromTop: path,
	}, nil
}

// Columns returns the live columns in creation order.
func (t *Table) Columns() []*Column {
	var result []*Column
	for _, c := range t.columns {
		if c != nil {
			result = append(result, c)
		}
	}
	return result
}

func (t *Table) ColumnNamed(name string) *Column {
	for _, c := range t.columns {
		if c != nil && c.Name == name {
			return c
		}
	}
	return nil
}

func (t *Table) column(col replog.ColKey) *Column {
	if uint64(col.Index) < uint64(len(t.columns)) {
		if c := t.columns[col.Index]; c != nil && c.Key == col {
			return c
		}
	}
	return nil
}

func (t *Table) Len() int {
	return len(t.objects)
}

func (t *Table) Object(key replog.ObjKey) *Obj {
	return t.objects[key]
}

// ObjectWithPrimaryKey finds an object by primary key value.
func (t *Table) ObjectWithPrimaryKey(pk replog.Mixed) *Obj {
	if key, ok := t.byPK[string(primaryKeyBytes(pk))]; ok {
		return t.objects[key]
	}
	return nil
}

// Objects returns all objects ordered by key.
func (t *Table) Objects() []*Obj {
	keys := slices.Sorted(maps.Keys(t.objects))
	result := make([]*Obj, len(keys))
	for i, k := range keys {
		result[i] = t.objects[k]
	}
	return result
}

func (t *Table) targetOf(c *Column) *Table {
	if !c.IsLink() {
		return nil
	}
	return t.db.table(c.Target)
}

func (tx *Tx) AddTable(class string, typ replog.TableType) (*Table, error) {
	if err := tx.check(); err != nil {
		return nil, err
	}
	if tx.db.TableNamed(class) != nil {
		return nil, fmt.Errorf("%w: class %s", ErrDuplicateName, class)
	}
	t := newTable(tx.db, replog.TableKey(len(tx.db.tables)), class, typ)
	err := tx.record(tx.repl.AddClass(t.key, t.name, typ))
	if err != nil {
		return nil, err
	}
	tx.db.tables = append(tx.db.tables, t)
	return t, nil
}

// AddTableWithPrimaryKey adds a top-level class whose objects are identified
// by a primary key. The primary key column is recorded like any other
// column, right after the class itself.
func (tx *Tx) AddTableWithPrimaryKey(class string, pkType replog.DataType, pkName string, nullable bool) (*Table, error) {
	if err := tx.check(); err != nil {
		return nil, err
	}
	switch pkType {
	case replog.TypeInt, replog.TypeString, replog.TypeUUID:
		break
	default:
		return nil, fmt.Errorf("%w: %v primary key", ErrInvalidSchema, pkType)
	}
	if tx.db.TableNamed(class) != nil {
		return nil, fmt.Errorf("%w: class %s", ErrDuplicateName, class)
	}
	t := newTable(tx.db, replog.TableKey(len(tx.db.tables)), class, replog.TableTypeTopLevel)
	err := tx.record(tx.repl.AddClassWithPrimaryKey(t.key, t.name, pkType, pkName, nullable, t.typ))
	if err != nil {
		return nil, err
	}
	tx.db.tables = append(tx.db.tables, t)

	col := replog.ColKey{Index: 0, Type: pkType, Nullable: nullable}
	err = tx.record(tx.repl.InsertColumn(t, col, pkName, nil))
	if err != nil {
		return nil, err
	}
	t.columns = append(t.columns, &Column{Key: col, Name: pkName})
	t.pkCol, t.hasPK = col, true
	return t, nil
}

// RemoveTable removes a class with all its objects. Classes that are still
// the target of a link column cannot be removed.
func (tx *Tx) RemoveTable(t *Table) error {
	if err := tx.check(); err != nil {
		return err
	}
	for _, other := range tx.db.Tables() {
		if other == t {
			continue
		}
		for _, c := range other.Columns() {
			if c.IsLink() && c.Target == t.key {
				return fmt.Errorf("%w: %s is linked from %s.%s", ErrInvalidSchema, t.ClassName(), other.ClassName(), c.Name)
			}
		}
	}
	err := tx.record(tx.repl.EraseClass(t.key, t.name))
	if err != nil {
		return err
	}
	tx.db.tables[t.key] = nil
	return nil
}

// AddColumn adds a non-link property.
func (tx *Tx) AddColumn(t *Table, name string, typ replog.DataType, kind replog.CollectionKind, nullable bool) (replog.ColKey, error) {
	if typ == replog.TypeLink {
		return replog.ColKey{}, fmt.Errorf("%w: use AddLinkColumn for links", ErrInvalidSchema)
	}
	if !typ.IsValid() {
		return replog.ColKey{}, fmt.Errorf("%w: invalid type %v", ErrInvalidSchema, typ)
	}
	return tx.addColumn(t, &Column{
		Key:    replog.ColKey{Type: typ, Kind: kind, Nullable: nullable},
		Name:   name,
		Target: replog.NoTableKey,
	}, nil)
}

// AddLinkColumn adds a link property. Links to embedded classes can only be
// single links or lists, and own the objects they point to.
func (tx *Tx) AddLinkColumn(t *Table, name string, target *Table, kind replog.CollectionKind) (replog.ColKey, error) {
	if target.IsEmbedded() && kind != replog.CollectionNone && kind != replog.CollectionList {
		return replog.ColKey{}, fmt.Errorf("%w: %v of embedded %s", ErrInvalidSchema, kind, target.ClassName())
	}
	return tx.addColumn(t, &Column{
		Key:    replog.ColKey{Type: replog.TypeLink, Kind: kind, Nullable: kind == replog.CollectionNone},
		Name:   name,
		Target: target.key,
	}, target)
}

func (tx *Tx) addColumn(t *Table, c *Column, target *Table) (replog.ColKey, error) {
	if err := tx.check(); err != nil {
		return replog.ColKey{}, err
	}
	if t.ColumnNamed(c.Name) != nil {
		return replog.ColKey{}, fmt.Errorf("%w: property %s.%s", ErrDuplicateName, t.ClassName(), c.Name)
	}
	c.Key.Index = uint32(len(t.columns))
	err := tx.record(tx.repl.InsertColumn(t, c.Key, c.Name, target))
	if err != nil {
		return replog.ColKey{}, err
	}
	t.columns = append(t.columns, c)
	return c.Key, nil
}

// RemoveColumn removes a property and its values. Objects owned through an
// embedded link column are removed first.
func (tx *Tx) RemoveColumn(t *Table, col replog.ColKey) error {
	if err := tx.check(); err != nil {
		return err
	}
	c := t.column(col)
	if c == nil {
		return fmt.Errorf("%w: %v in %s", ErrNotFound, col, t.ClassName())
	}
	if t.hasPK && col == t.pkCol {
		return fmt.Errorf("%w: cannot remove the primary key of %s", ErrInvalidSchema, t.ClassName())
	}
	if target := t.targetOf(c); target != nil && target.IsEmbedded() {
		for _, o := range t.Objects() {
			for _, child := range o.children(c) {
				if err := tx.removeObject(child, false); err != nil {
					return err
				}
			}
		}
	}
	err := tx.record(tx.repl.EraseColumn(t, col))
	if err != nil {
		return err
	}
	t.columns[col.Index] = nil
	for _, o := range t.objects {
		o.dropColumn(col)
	}
	return nil
}
