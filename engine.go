package replog

// Group is the storage engine's schema: the set of tables of one database.
type Group interface {
	// Table returns the table with the given key, or nil.
	Table(key TableKey) Table
}

// Table is the storage engine's view of one class, as needed to encode and
// describe mutations.
type Table interface {
	Key() TableKey
	Name() string
	ClassName() string
	ColumnName(col ColKey) string
	IsEmbedded() bool

	// PrimaryKeyColumn returns the primary key column, if the class has one.
	PrimaryKeyColumn() (ColKey, bool)

	// PrimaryKey returns the primary key value of the given object.
	PrimaryKey(key ObjKey) Mixed

	// FullPath locates an object relative to its top-level ancestor. For
	// top-level objects PathFromTop is empty.
	FullPath(key ObjKey) (FullPath, error)
}

// Collection is a list, set or dictionary property of one object.
type Collection interface {
	Table() Table
	ColKey() ColKey
	OwnerKey() ObjKey
	Size() int

	// StablePath is the path from the owner object to the collection.
	StablePath() Path

	// ShortPath is like StablePath but only includes the last level.
	ShortPath() Path

	// TranslateIndex maps a logical index to a physical one, accounting for
	// hidden entries.
	TranslateIndex(ndx int) int
}

func collectionID(c Collection) CollectionID {
	return CollectionID{
		Table: c.Table().Key(),
		Obj:   c.OwnerKey(),
		Path:  c.StablePath(),
	}
}
