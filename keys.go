package replog

import (
	"fmt"
	"math"
	"strings"
)

type (
	// TableKey identifies a class within a schema generation.
	TableKey uint32

	// ObjKey identifies an object within its table.
	ObjKey int64

	// Version is a transaction version number.
	Version uint64

	DataType uint8

	CollectionKind uint8

	TableType uint8
)

const (
	NoTableKey TableKey = math.MaxUint32
	NoObjKey   ObjKey   = -1
)

func (tk TableKey) IsValid() bool {
	return tk != NoTableKey
}

func (tk TableKey) String() string {
	if tk == NoTableKey {
		return "TableKey(none)"
	}
	return fmt.Sprintf("TableKey(%d)", uint32(tk))
}

func (key ObjKey) IsValid() bool {
	return key != NoObjKey
}

func (key ObjKey) String() string {
	if key == NoObjKey {
		return "ObjKey(none)"
	}
	return fmt.Sprintf("ObjKey(%d)", int64(key))
}

const (
	TypeInt DataType = iota
	TypeBool
	TypeString
	TypeBinary
	TypeMixed
	TypeTimestamp
	TypeFloat
	TypeDouble
	TypeLink
	TypeUUID
	typeCount
)

var dataTypeNames = [typeCount]string{
	TypeInt:       "int",
	TypeBool:      "bool",
	TypeString:    "string",
	TypeBinary:    "binary",
	TypeMixed:     "mixed",
	TypeTimestamp: "timestamp",
	TypeFloat:     "float",
	TypeDouble:    "double",
	TypeLink:      "link",
	TypeUUID:      "uuid",
}

func (v DataType) IsValid() bool {
	return v < typeCount
}

func (v DataType) String() string {
	if v < typeCount {
		return dataTypeNames[v]
	}
	return fmt.Sprintf("invalid data type %d", int(v))
}

// ParseDataType is the inverse of DataType.String.
func ParseDataType(s string) (DataType, error) {
	for i, name := range dataTypeNames {
		if strings.EqualFold(name, s) {
			return DataType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown data type %q", s)
}

const (
	CollectionNone CollectionKind = iota
	CollectionList
	CollectionSet
	CollectionDictionary
)

func (v CollectionKind) String() string {
	switch v {
	case CollectionNone:
		return "none"
	case CollectionList:
		return "list"
	case CollectionSet:
		return "set"
	case CollectionDictionary:
		return "dictionary"
	default:
		return fmt.Sprintf("invalid collection kind %d", int(v))
	}
}

func ParseCollectionKind(s string) (CollectionKind, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return CollectionNone, nil
	case "list":
		return CollectionList, nil
	case "set":
		return CollectionSet, nil
	case "dictionary", "dict":
		return CollectionDictionary, nil
	default:
		return 0, fmt.Errorf("unknown collection kind %q", s)
	}
}

const (
	TableTypeTopLevel TableType = iota
	TableTypeEmbedded
	TableTypeTopLevelAsymmetric
)

func (v TableType) String() string {
	switch v {
	case TableTypeTopLevel:
		return "top-level"
	case TableTypeEmbedded:
		return "embedded"
	case TableTypeTopLevelAsymmetric:
		return "asymmetric"
	default:
		return fmt.Sprintf("invalid table type %d", int(v))
	}
}

// ColKey identifies a column within a table. Collection-valued columns carry
// their kind explicitly.
type ColKey struct {
	Index    uint32
	Type     DataType
	Kind     CollectionKind
	Nullable bool
}

func (col ColKey) IsCollection() bool { return col.Kind != CollectionNone }
func (col ColKey) IsList() bool       { return col.Kind == CollectionList }
func (col ColKey) IsSet() bool        { return col.Kind == CollectionSet }
func (col ColKey) IsDictionary() bool { return col.Kind == CollectionDictionary }

func (col ColKey) String() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "col#%d:%s", col.Index, col.Type)
	if col.Kind != CollectionNone {
		buf.WriteByte(':')
		buf.WriteString(col.Kind.String())
	}
	if col.Nullable {
		buf.WriteByte('?')
	}
	return buf.String()
}

// GlobalKey is a replica-independent object identifier used for objects that
// have no primary key.
type GlobalKey struct {
	Hi uint64
	Lo uint64
}

const maxGlobalKeyHi = 0x3fffffff

// LocalKey derives the local object key. Only a single shard is supported,
// so the derivation is Hi<<32 | Lo and both halves must fit.
func (gk GlobalKey) LocalKey() ObjKey {
	if gk.Hi > maxGlobalKeyHi || gk.Lo > math.MaxUint32 {
		panic(contractErrf("global key %v has no local representation", gk))
	}
	return ObjKey(gk.Hi<<32 | gk.Lo)
}

func (gk GlobalKey) String() string {
	return fmt.Sprintf("{%04x-%04x}", gk.Hi, gk.Lo)
}

const classTablePrefix = "class_"

// ClassNameFromTableName strips the table name prefix used for classes.
func ClassNameFromTableName(name string) string {
	return strings.TrimPrefix(name, classTablePrefix)
}

// TableNameFromClassName is the inverse of ClassNameFromTableName.
func TableNameFromClassName(name string) string {
	return classTablePrefix + name
}
