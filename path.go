package replog

import (
	"fmt"
	"strconv"
	"strings"
)

type PathElementKind uint8

const (
	PathColumn PathElementKind = iota + 1
	PathIndex
	PathKey
)

// PathElement is one step from an object towards a nested value: a column,
// a collection index or a dictionary key.
type PathElement struct {
	kind  PathElementKind
	col   ColKey
	index int
	key   string
}

func ColumnElem(col ColKey) PathElement {
	return PathElement{kind: PathColumn, col: col}
}

func IndexElem(ndx int) PathElement {
	if ndx < 0 {
		panic(contractErrf("negative path index %d", ndx))
	}
	return PathElement{kind: PathIndex, index: ndx}
}

func KeyElem(key string) PathElement {
	return PathElement{kind: PathKey, key: key}
}

func (el PathElement) Kind() PathElementKind { return el.kind }

func (el PathElement) ColKey() ColKey {
	if el.kind != PathColumn {
		panic(contractErrf("path element %v is not a column", el))
	}
	return el.col
}

func (el PathElement) Index() int {
	if el.kind != PathIndex {
		panic(contractErrf("path element %v is not an index", el))
	}
	return el.index
}

func (el PathElement) Key() string {
	if el.kind != PathKey {
		panic(contractErrf("path element %v is not a key", el))
	}
	return el.key
}

func (el PathElement) String() string {
	switch el.kind {
	case PathColumn:
		return "[" + el.col.String() + "]"
	case PathIndex:
		return "[" + strconv.Itoa(el.index) + "]"
	case PathKey:
		return "[" + strconv.Quote(el.key) + "]"
	default:
		return "[?]"
	}
}

type Path []PathElement

func (p Path) Equal(another Path) bool {
	if len(p) != len(another) {
		return false
	}
	for i, el := range p {
		if el != another[i] {
			return false
		}
	}
	return true
}

func (p Path) Clone() Path {
	if p == nil {
		return nil
	}
	return append(Path(nil), p...)
}

func (p Path) String() string {
	var buf strings.Builder
	for _, el := range p {
		buf.WriteString(el.String())
	}
	return buf.String()
}

// CollectionID identifies a collection by owner table, owner object and path
// from the object to the collection.
type CollectionID struct {
	Table TableKey
	Obj   ObjKey
	Path  Path
}

func (id CollectionID) Equal(another CollectionID) bool {
	return id.Table == another.Table && id.Obj == another.Obj && id.Path.Equal(another.Path)
}

func (id CollectionID) String() string {
	return fmt.Sprintf("%d/%d%s", uint32(id.Table), int64(id.Obj), id.Path.String())
}

// FullPath locates an embedded object relative to its top-level ancestor.
type FullPath struct {
	TopTable    TableKey
	TopObj      ObjKey
	PathFromTop Path
}
