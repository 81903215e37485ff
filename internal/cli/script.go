package cli

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/andreyvit/replog"
	"github.com/andreyvit/replog/memdb"
)

// Script is a schema plus a sequence of write transactions. The schema is
// committed as the first transaction.
type Script struct {
	Classes      []ClassDef    `yaml:"classes"`
	Transactions []Transaction `yaml:"transactions"`
}

type ClassDef struct {
	Name       string        `yaml:"name"`
	Embedded   bool          `yaml:"embedded,omitempty"`
	PrimaryKey *PropertyDef  `yaml:"primary_key,omitempty"`
	Properties []PropertyDef `yaml:"properties"`
}

// PropertyDef describes a column. Link properties name their target class
// in Link instead of Type.
type PropertyDef struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type,omitempty"`
	Link       string `yaml:"link,omitempty"`
	Collection string `yaml:"collection,omitempty"`
	Nullable   bool   `yaml:"nullable,omitempty"`
}

// Transaction is a list of steps committed together. Abort rolls the
// transaction back after running the steps.
type Transaction struct {
	Name  string `yaml:"name,omitempty"`
	Abort bool   `yaml:"abort,omitempty"`
	Steps []Step `yaml:"steps"`
}

// Step is one operation. Objects are referred to by the aliases given to
// them with As.
type Step struct {
	Op     string         `yaml:"op"`
	Class  string         `yaml:"class,omitempty"`
	Object string         `yaml:"object,omitempty"`
	As     string         `yaml:"as,omitempty"`
	PK     any            `yaml:"pk,omitempty"`
	Prop   string         `yaml:"prop,omitempty"`
	Index  *int           `yaml:"index,omitempty"`
	Key    string         `yaml:"key,omitempty"`
	Value  any            `yaml:"value,omitempty"`
	Values map[string]any `yaml:"values,omitempty"`
}

// LoadScript reads a script, rejecting unknown fields.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	return ParseScript(data)
}

func ParseScript(data []byte) (*Script, error) {
	var script Script
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&script); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if len(script.Classes) == 0 && len(script.Transactions) == 0 {
		return nil, fmt.Errorf("script is empty")
	}
	for i, tx := range script.Transactions {
		if len(tx.Steps) == 0 {
			return nil, fmt.Errorf("transaction %d has no steps", i+1)
		}
	}
	return &script, nil
}

// CommitFunc receives the outcome of every script transaction. c is zero for
// aborted transactions.
type CommitFunc func(name string, c memdb.Commit, aborted bool) error

type objRef struct {
	class string
	key   replog.ObjKey
}

type runner struct {
	db      *memdb.DB
	tx      *memdb.Tx
	aliases map[string]objRef
}

// Run executes the script against db.
func (s *Script) Run(db *memdb.DB, fn CommitFunc) error {
	r := &runner{db: db, aliases: make(map[string]objRef)}
	if len(s.Classes) > 0 {
		c, err := db.Write(func(tx *memdb.Tx) error {
			r.tx = tx
			return r.defineClasses(s.Classes)
		})
		if err != nil {
			return fmt.Errorf("schema: %w", err)
		}
		if err := fn("schema", c, false); err != nil {
			return err
		}
	}
	for i, t := range s.Transactions {
		name := t.Name
		if name == "" {
			name = fmt.Sprintf("transaction %d", i+1)
		}
		c, aborted, err := r.runTransaction(t)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if err := fn(name, c, aborted); err != nil {
			return err
		}
	}
	return nil
}

func (r *runner) runTransaction(t Transaction) (memdb.Commit, bool, error) {
	tx, err := r.db.BeginWrite()
	if err != nil {
		return memdb.Commit{}, false, err
	}
	defer tx.Rollback()
	r.tx = tx
	for i, step := range t.Steps {
		if err := r.step(step); err != nil {
			return memdb.Commit{}, false, fmt.Errorf("step %d (%s): %w", i+1, step.Op, err)
		}
	}
	if t.Abort {
		tx.Rollback()
		return memdb.Commit{}, true, nil
	}
	c, err := tx.Commit()
	return c, false, err
}

func (r *runner) defineClasses(classes []ClassDef) error {
	for _, def := range classes {
		var err error
		switch {
		case def.PrimaryKey != nil:
			if def.Embedded {
				return fmt.Errorf("class %s: embedded classes cannot have a primary key", def.Name)
			}
			var typ replog.DataType
			typ, err = replog.ParseDataType(def.PrimaryKey.Type)
			if err == nil {
				_, err = r.tx.AddTableWithPrimaryKey(def.Name, typ, def.PrimaryKey.Name, def.PrimaryKey.Nullable)
			}
		case def.Embedded:
			_, err = r.tx.AddTable(def.Name, replog.TableTypeEmbedded)
		default:
			_, err = r.tx.AddTable(def.Name, replog.TableTypeTopLevel)
		}
		if err != nil {
			return fmt.Errorf("class %s: %w", def.Name, err)
		}
	}
	for _, def := range classes {
		for _, p := range def.Properties {
			if err := r.addProperty(r.db.TableNamed(def.Name), p); err != nil {
				return fmt.Errorf("property %s.%s: %w", def.Name, p.Name, err)
			}
		}
	}
	return nil
}

func (r *runner) addProperty(t *memdb.Table, p PropertyDef) error {
	kind, err := replog.ParseCollectionKind(p.Collection)
	if err != nil {
		return err
	}
	if p.Link != "" {
		target := r.db.TableNamed(p.Link)
		if target == nil {
			return fmt.Errorf("unknown class %s", p.Link)
		}
		_, err = r.tx.AddLinkColumn(t, p.Name, target, kind)
		return err
	}
	typ, err := replog.ParseDataType(p.Type)
	if err != nil {
		return err
	}
	_, err = r.tx.AddColumn(t, p.Name, typ, kind, p.Nullable)
	return err
}

func (r *runner) table(class string) (*memdb.Table, error) {
	t := r.db.TableNamed(class)
	if t == nil {
		return nil, fmt.Errorf("unknown class %s", class)
	}
	return t, nil
}

func (r *runner) object(alias string) (*memdb.Obj, error) {
	ref, ok := r.aliases[alias]
	if !ok {
		return nil, fmt.Errorf("unknown object %q", alias)
	}
	t, err := r.table(ref.class)
	if err != nil {
		return nil, err
	}
	o := t.Object(ref.key)
	if o == nil {
		return nil, fmt.Errorf("object %q no longer exists", alias)
	}
	return o, nil
}

func (r *runner) remember(alias string, o *memdb.Obj) {
	if alias != "" {
		r.aliases[alias] = objRef{class: o.Table().ClassName(), key: o.Key()}
	}
}

func (r *runner) column(o *memdb.Obj, prop string) (*memdb.Column, error) {
	c := o.Table().ColumnNamed(prop)
	if c == nil {
		return nil, fmt.Errorf("unknown property %s.%s", o.Table().ClassName(), prop)
	}
	return c, nil
}

func (r *runner) step(s Step) error {
	switch s.Op {
	case "create":
		t, err := r.table(s.Class)
		if err != nil {
			return err
		}
		var o *memdb.Obj
		if pkCol, ok := t.PrimaryKeyColumn(); ok {
			var pk replog.Mixed
			pk, err = r.value(pkCol, replog.NoTableKey, s.PK)
			if err != nil {
				return err
			}
			o, err = r.tx.CreateObjectWithPrimaryKey(t, pk)
		} else {
			o, err = r.tx.CreateObject(t)
		}
		if err != nil {
			return err
		}
		r.remember(s.As, o)
		return r.setValues(o, s.Values)

	case "set":
		o, err := r.object(s.Object)
		if err != nil {
			return err
		}
		return r.setValues(o, s.Values)

	case "remove", "invalidate":
		o, err := r.object(s.Object)
		if err != nil {
			return err
		}
		if s.Op == "invalidate" {
			return r.tx.InvalidateObject(o)
		}
		return r.tx.RemoveObject(o)

	case "embed":
		o, c, err := r.prop(s)
		if err != nil {
			return err
		}
		var child *memdb.Obj
		if c.Key.IsList() {
			l, err := r.tx.List(o, c.Key)
			if err != nil {
				return err
			}
			child, err = l.InsertEmbedded(r.index(s, l.Size()))
			if err != nil {
				return err
			}
		} else {
			child, err = r.tx.CreateEmbedded(o, c.Key)
			if err != nil {
				return err
			}
		}
		r.remember(s.As, child)
		return r.setValues(child, s.Values)

	case "insert", "list_set", "erase":
		o, c, err := r.prop(s)
		if err != nil {
			return err
		}
		l, err := r.tx.List(o, c.Key)
		if err != nil {
			return err
		}
		if s.Op == "erase" {
			return l.Erase(r.index(s, l.Size()-1))
		}
		v, err := r.value(c.Key, c.Target, s.Value)
		if err != nil {
			return err
		}
		if s.Op == "list_set" {
			return l.Set(r.index(s, l.Size()-1), v)
		}
		return l.Insert(r.index(s, l.Size()), v)

	case "set_add", "set_remove":
		o, c, err := r.prop(s)
		if err != nil {
			return err
		}
		set, err := r.tx.ValueSet(o, c.Key)
		if err != nil {
			return err
		}
		v, err := r.value(c.Key, c.Target, s.Value)
		if err != nil {
			return err
		}
		if s.Op == "set_add" {
			_, err = set.Insert(v)
		} else {
			_, err = set.Erase(v)
		}
		return err

	case "dict_put", "dict_remove":
		o, c, err := r.prop(s)
		if err != nil {
			return err
		}
		d, err := r.tx.Dictionary(o, c.Key)
		if err != nil {
			return err
		}
		if s.Op == "dict_remove" {
			_, err = d.Erase(s.Key)
			return err
		}
		v, err := r.value(c.Key, c.Target, s.Value)
		if err != nil {
			return err
		}
		return d.Insert(s.Key, v)

	case "clear":
		o, c, err := r.prop(s)
		if err != nil {
			return err
		}
		switch c.Key.Kind {
		case replog.CollectionList:
			l, err := r.tx.List(o, c.Key)
			if err != nil {
				return err
			}
			return l.Clear()
		case replog.CollectionSet:
			set, err := r.tx.ValueSet(o, c.Key)
			if err != nil {
				return err
			}
			return set.Clear()
		case replog.CollectionDictionary:
			d, err := r.tx.Dictionary(o, c.Key)
			if err != nil {
				return err
			}
			return d.Clear()
		default:
			return fmt.Errorf("%s is not a collection", s.Prop)
		}

	case "remove_class":
		t, err := r.table(s.Class)
		if err != nil {
			return err
		}
		return r.tx.RemoveTable(t)

	case "remove_property":
		t, err := r.table(s.Class)
		if err != nil {
			return err
		}
		c := t.ColumnNamed(s.Prop)
		if c == nil {
			return fmt.Errorf("unknown property %s.%s", s.Class, s.Prop)
		}
		return r.tx.RemoveColumn(t, c.Key)

	default:
		return fmt.Errorf("unknown op %q", s.Op)
	}
}

func (r *runner) prop(s Step) (*memdb.Obj, *memdb.Column, error) {
	o, err := r.object(s.Object)
	if err != nil {
		return nil, nil, err
	}
	c, err := r.column(o, s.Prop)
	if err != nil {
		return nil, nil, err
	}
	return o, c, nil
}

// index defaults to def, which is the end of the list for inserts and the
// last element otherwise.
func (r *runner) index(s Step, def int) int {
	if s.Index != nil {
		return *s.Index
	}
	return def
}

func (r *runner) setValues(o *memdb.Obj, values map[string]any) error {
	for name := range values {
		if o.Table().ColumnNamed(name) == nil {
			return fmt.Errorf("unknown property %s.%s", o.Table().ClassName(), name)
		}
	}
	// in column order, so that the changeset is deterministic
	for _, c := range o.Table().Columns() {
		raw, ok := values[c.Name]
		if !ok {
			continue
		}
		v, err := r.value(c.Key, c.Target, raw)
		if err != nil {
			return fmt.Errorf("%s: %w", c.Name, err)
		}
		if err := r.tx.Set(o, c.Key, v); err != nil {
			return fmt.Errorf("%s: %w", c.Name, err)
		}
	}
	return nil
}

// value converts a YAML scalar to a value of the column's type. Links are
// given as object aliases.
func (r *runner) value(col replog.ColKey, target replog.TableKey, raw any) (replog.Mixed, error) {
	if raw == nil {
		return replog.NullValue(), nil
	}
	typ := col.Type
	if typ == replog.TypeMixed {
		return mixedValue(raw)
	}
	switch typ {
	case replog.TypeInt:
		if n, ok := raw.(int); ok {
			return replog.IntValue(int64(n)), nil
		}
	case replog.TypeBool:
		if b, ok := raw.(bool); ok {
			return replog.BoolValue(b), nil
		}
	case replog.TypeString:
		if s, ok := raw.(string); ok {
			return replog.StringValue(s), nil
		}
	case replog.TypeBinary:
		if s, ok := raw.(string); ok {
			return replog.BinaryValue([]byte(s)), nil
		}
	case replog.TypeTimestamp:
		switch v := raw.(type) {
		case time.Time:
			return replog.TimestampValue(v), nil
		case string:
			t, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return replog.Mixed{}, err
			}
			return replog.TimestampValue(t), nil
		}
	case replog.TypeFloat, replog.TypeDouble:
		var f float64
		switch v := raw.(type) {
		case float64:
			f = v
		case int:
			f = float64(v)
		default:
			return replog.Mixed{}, fmt.Errorf("expected %v, got %T", typ, raw)
		}
		if typ == replog.TypeFloat {
			return replog.FloatValue(float32(f)), nil
		}
		return replog.DoubleValue(f), nil
	case replog.TypeUUID:
		if s, ok := raw.(string); ok {
			u, err := uuid.Parse(s)
			if err != nil {
				return replog.Mixed{}, err
			}
			return replog.UUIDValue(u), nil
		}
	case replog.TypeLink:
		if alias, ok := raw.(string); ok {
			o, err := r.object(alias)
			if err != nil {
				return replog.Mixed{}, err
			}
			if o.Table().Key() != target {
				return replog.Mixed{}, fmt.Errorf("%q is a %s", alias, o.Table().ClassName())
			}
			return o.Link(), nil
		}
	}
	return replog.Mixed{}, fmt.Errorf("expected %v, got %T", typ, raw)
}

func mixedValue(raw any) (replog.Mixed, error) {
	switch v := raw.(type) {
	case int:
		return replog.IntValue(int64(v)), nil
	case bool:
		return replog.BoolValue(v), nil
	case string:
		return replog.StringValue(v), nil
	case float64:
		return replog.DoubleValue(v), nil
	case time.Time:
		return replog.TimestampValue(v), nil
	default:
		return replog.Mixed{}, fmt.Errorf("unsupported mixed value %T", raw)
	}
}
