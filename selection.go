package replog

// Selection is the encoder's view of what a decoder has currently selected.
// It forms a chain: a collection is only selected under its owner object, and
// the object only under its table.
type Selection struct {
	table    Table
	tableKey TableKey
	obj      ObjKey
	coll     CollectionID
	hasColl  bool
}

func makeSelection() Selection {
	return Selection{tableKey: NoTableKey, obj: NoObjKey}
}

// Table returns the selected table key.
func (s Selection) Table() (TableKey, bool) {
	return s.tableKey, s.tableKey.IsValid()
}

// Object returns the selected object key.
func (s Selection) Object() (ObjKey, bool) {
	return s.obj, s.obj.IsValid()
}

// Collection returns the selected collection.
func (s Selection) Collection() (CollectionID, bool) {
	return s.coll, s.hasColl
}

func (s Selection) IsEmpty() bool {
	return !s.tableKey.IsValid() && !s.obj.IsValid() && !s.hasColl
}

func (s *Selection) Clear() {
	*s = makeSelection()
}

func (s *Selection) tableSelected(tk TableKey) bool {
	return s.tableKey.IsValid() && s.tableKey == tk
}

func (s *Selection) selectTable(t Table) {
	*s = Selection{
		table:    t,
		tableKey: t.Key(),
		obj:      NoObjKey,
	}
}

// selectObject returns true if the selected object changed.
func (s *Selection) selectObject(key ObjKey) bool {
	if !s.tableKey.IsValid() {
		panic(contractErrf("selecting %v before any table is selected", key))
	}
	if !key.IsValid() {
		panic(contractErrf("selecting an invalid object key in %v", s.tableKey))
	}
	if key == s.obj {
		return false
	}
	s.obj = key
	s.coll, s.hasColl = CollectionID{}, false
	return true
}

func (s *Selection) collectionSelected(id CollectionID) bool {
	return s.hasColl && s.coll.Equal(id)
}

func (s *Selection) selectCollection(id CollectionID) {
	if !s.tableSelected(id.Table) {
		panic(contractErrf("selecting collection %v while %v is selected", id, s.tableKey))
	}
	if s.obj != id.Obj {
		panic(contractErrf("selecting collection %v while %v is selected", id, s.obj))
	}
	s.coll = CollectionID{Table: id.Table, Obj: id.Obj, Path: id.Path.Clone()}
	s.hasColl = true
}

// objectRemoved drops the object (and its collection) if key is selected in tk.
func (s *Selection) objectRemoved(tk TableKey, key ObjKey) {
	if s.tableSelected(tk) && s.obj == key {
		s.obj = NoObjKey
		s.coll, s.hasColl = CollectionID{}, false
	}
}

// columnErased drops the selected collection if it lives in the erased column.
func (s *Selection) columnErased(tk TableKey, col ColKey) {
	if s.hasColl && s.coll.Table == tk && len(s.coll.Path) > 0 {
		if el := s.coll.Path[0]; el.kind == PathColumn && el.col.Index == col.Index {
			s.coll, s.hasColl = CollectionID{}, false
		}
	}
}
