package replog

import "fmt"

// Mutation is a mutation notification as a value. The set of implementations
// is closed; Apply dispatches them to the corresponding Replication methods.
type Mutation interface {
	Kind() string
	mutation()
}

type (
	AddClassOp struct {
		Table TableKey
		Name  string
		Type  TableType
	}

	AddClassWithPrimaryKeyOp struct {
		Table      TableKey
		Name       string
		PKType     DataType
		PKName     string
		PKNullable bool
		Type       TableType
	}

	EraseClassOp struct {
		Table TableKey
		Name  string
	}

	InsertColumnOp struct {
		Table  Table
		Col    ColKey
		Name   string
		Target Table
	}

	EraseColumnOp struct {
		Table Table
		Col   ColKey
	}

	CreateObjectOp struct {
		Table Table
		ID    GlobalKey
	}

	CreateObjectWithPrimaryKeyOp struct {
		Table Table
		Key   ObjKey
		PK    Mixed
	}

	RemoveObjectOp struct {
		Table Table
		Key   ObjKey
	}

	SetOp struct {
		Table   Table
		Col     ColKey
		Key     ObjKey
		Value   Mixed
		Variant Instruction
	}

	CollectionInsertOp struct {
		Collection Collection
		Index      int
		Key        Mixed // dictionaries only
		Value      Mixed
		PriorSize  int // lists only
	}

	CollectionSetOp struct {
		Collection Collection
		Index      int
		Key        Mixed // dictionaries only
		Value      Mixed
	}

	CollectionEraseOp struct {
		Collection Collection
		Index      int
		Key        Mixed // dictionaries only
		Value      Mixed // sets only
	}

	CollectionClearOp struct {
		Collection Collection
	}

	LinkListNullifyOp struct {
		Collection Collection
		Index      int
	}
)

func (AddClassOp) mutation()                   {}
func (AddClassWithPrimaryKeyOp) mutation()     {}
func (EraseClassOp) mutation()                 {}
func (InsertColumnOp) mutation()               {}
func (EraseColumnOp) mutation()                {}
func (CreateObjectOp) mutation()               {}
func (CreateObjectWithPrimaryKeyOp) mutation() {}
func (RemoveObjectOp) mutation()               {}
func (SetOp) mutation()                        {}
func (CollectionInsertOp) mutation()           {}
func (CollectionSetOp) mutation()              {}
func (CollectionEraseOp) mutation()            {}
func (CollectionClearOp) mutation()            {}
func (LinkListNullifyOp) mutation()            {}

func (AddClassOp) Kind() string                   { return "add class" }
func (AddClassWithPrimaryKeyOp) Kind() string     { return "add class with primary key" }
func (EraseClassOp) Kind() string                 { return "erase class" }
func (InsertColumnOp) Kind() string               { return "insert column" }
func (EraseColumnOp) Kind() string                { return "erase column" }
func (CreateObjectOp) Kind() string               { return "create object" }
func (CreateObjectWithPrimaryKeyOp) Kind() string { return "create object with primary key" }
func (RemoveObjectOp) Kind() string               { return "remove object" }
func (SetOp) Kind() string                        { return "set" }
func (CollectionInsertOp) Kind() string           { return "collection insert" }
func (CollectionSetOp) Kind() string              { return "collection set" }
func (CollectionEraseOp) Kind() string            { return "collection erase" }
func (CollectionClearOp) Kind() string            { return "collection clear" }
func (LinkListNullifyOp) Kind() string            { return "link list nullify" }

// Apply records a mutation.
func (r *Replication) Apply(m Mutation) error {
	switch m := m.(type) {
	case AddClassOp:
		return r.AddClass(m.Table, m.Name, m.Type)
	case AddClassWithPrimaryKeyOp:
		return r.AddClassWithPrimaryKey(m.Table, m.Name, m.PKType, m.PKName, m.PKNullable, m.Type)
	case EraseClassOp:
		return r.EraseClass(m.Table, m.Name)
	case InsertColumnOp:
		return r.InsertColumn(m.Table, m.Col, m.Name, m.Target)
	case EraseColumnOp:
		return r.EraseColumn(m.Table, m.Col)
	case CreateObjectOp:
		return r.CreateObject(m.Table, m.ID)
	case CreateObjectWithPrimaryKeyOp:
		return r.CreateObjectWithPrimaryKey(m.Table, m.Key, m.PK)
	case RemoveObjectOp:
		return r.RemoveObject(m.Table, m.Key)
	case SetOp:
		return r.Set(m.Table, m.Col, m.Key, m.Value, m.Variant)
	case CollectionInsertOp:
		switch m.Collection.ColKey().Kind {
		case CollectionList:
			return r.ListInsert(m.Collection, m.Index, m.Value, m.PriorSize)
		case CollectionSet:
			return r.SetInsert(m.Collection, m.Index, m.Value)
		case CollectionDictionary:
			return r.DictionaryInsert(m.Collection, m.Index, m.Key, m.Value)
		}
	case CollectionSetOp:
		switch m.Collection.ColKey().Kind {
		case CollectionList:
			return r.ListSet(m.Collection, m.Index, m.Value)
		case CollectionDictionary:
			return r.DictionarySet(m.Collection, m.Index, m.Key, m.Value)
		}
	case CollectionEraseOp:
		switch m.Collection.ColKey().Kind {
		case CollectionList:
			return r.ListErase(m.Collection, m.Index)
		case CollectionSet:
			return r.SetErase(m.Collection, m.Index, m.Value)
		case CollectionDictionary:
			return r.DictionaryErase(m.Collection, m.Index, m.Key)
		}
	case CollectionClearOp:
		switch m.Collection.ColKey().Kind {
		case CollectionList:
			return r.ListClear(m.Collection)
		case CollectionSet:
			return r.SetClear(m.Collection)
		case CollectionDictionary:
			return r.DictionaryClear(m.Collection)
		}
	case LinkListNullifyOp:
		return r.LinkListNullify(m.Collection, m.Index)
	default:
		panic(fmt.Errorf("unhandled mutation %T", m))
	}
	panic(contractErrf("%s on %v", m.Kind(), mutationCollection(m).ColKey()))
}

func mutationCollection(m Mutation) Collection {
	switch m := m.(type) {
	case CollectionInsertOp:
		return m.Collection
	case CollectionSetOp:
		return m.Collection
	case CollectionEraseOp:
		return m.Collection
	case CollectionClearOp:
		return m.Collection
	case LinkListNullifyOp:
		return m.Collection
	default:
		return nil
	}
}
