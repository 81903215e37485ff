package replog

import (
	"bytes"
	"cmp"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Mixed holds any value a property can store. The zero Mixed is null.
type Mixed struct {
	typ   DataType
	valid bool
	i     int64
	f     float64
	s     string
	b     []byte
	t     time.Time
	u     uuid.UUID
	table TableKey
}

func NullValue() Mixed { return Mixed{} }

func IntValue(v int64) Mixed { return Mixed{typ: TypeInt, valid: true, i: v} }

func BoolValue(v bool) Mixed {
	m := Mixed{typ: TypeBool, valid: true}
	if v {
		m.i = 1
	}
	return m
}

func FloatValue(v float32) Mixed {
	return Mixed{typ: TypeFloat, valid: true, f: float64(v)}
}

func DoubleValue(v float64) Mixed { return Mixed{typ: TypeDouble, valid: true, f: v} }

func StringValue(v string) Mixed { return Mixed{typ: TypeString, valid: true, s: v} }

func BinaryValue(v []byte) Mixed {
	return Mixed{typ: TypeBinary, valid: true, b: bytes.Clone(v)}
}

func TimestampValue(v time.Time) Mixed { return Mixed{typ: TypeTimestamp, valid: true, t: v} }

func UUIDValue(v uuid.UUID) Mixed { return Mixed{typ: TypeUUID, valid: true, u: v} }

// LinkValue references an object; table may be NoTableKey when the target
// table is implied by the column.
func LinkValue(table TableKey, key ObjKey) Mixed {
	return Mixed{typ: TypeLink, valid: true, table: table, i: int64(key)}
}

func (m Mixed) IsNull() bool { return !m.valid }

// Type returns the type of a non-null value.
func (m Mixed) Type() DataType {
	if !m.valid {
		panic(contractErrf("null Mixed has no type"))
	}
	return m.typ
}

func (m Mixed) Is(typ DataType) bool {
	return m.valid && m.typ == typ
}

func (m Mixed) AsInt() int64 {
	m.expect(TypeInt)
	return m.i
}

func (m Mixed) AsBool() bool {
	m.expect(TypeBool)
	return m.i != 0
}

func (m Mixed) AsFloat() float32 {
	m.expect(TypeFloat)
	return float32(m.f)
}

func (m Mixed) AsDouble() float64 {
	m.expect(TypeDouble)
	return m.f
}

func (m Mixed) AsString() string {
	m.expect(TypeString)
	return m.s
}

func (m Mixed) AsBinary() []byte {
	m.expect(TypeBinary)
	return m.b
}

func (m Mixed) AsTimestamp() time.Time {
	m.expect(TypeTimestamp)
	return m.t
}

func (m Mixed) AsUUID() uuid.UUID {
	m.expect(TypeUUID)
	return m.u
}

func (m Mixed) AsLink() (TableKey, ObjKey) {
	m.expect(TypeLink)
	return m.table, ObjKey(m.i)
}

func (m Mixed) expect(typ DataType) {
	if !m.valid || m.typ != typ {
		panic(contractErrf("Mixed %v is not %v", m, typ))
	}
}

func (m Mixed) Equal(another Mixed) bool {
	if m.valid != another.valid {
		return false
	}
	if !m.valid {
		return true
	}
	if m.typ != another.typ {
		return false
	}
	switch m.typ {
	case TypeInt, TypeBool:
		return m.i == another.i
	case TypeFloat, TypeDouble:
		return m.f == another.f || (math.IsNaN(m.f) && math.IsNaN(another.f))
	case TypeString:
		return m.s == another.s
	case TypeBinary:
		return bytes.Equal(m.b, another.b)
	case TypeTimestamp:
		return m.t.Equal(another.t)
	case TypeUUID:
		return m.u == another.u
	case TypeLink:
		return m.table == another.table && m.i == another.i
	default:
		return false
	}
}

// Compare orders values of the same type; values of different types are
// ordered by type, and null sorts first.
func (m Mixed) Compare(another Mixed) int {
	if !m.valid || !another.valid {
		return cmpBool(m.valid, another.valid)
	}
	if m.typ != another.typ {
		return cmp.Compare(m.typ, another.typ)
	}
	switch m.typ {
	case TypeInt, TypeBool:
		return cmp.Compare(m.i, another.i)
	case TypeFloat, TypeDouble:
		return cmp.Compare(m.f, another.f)
	case TypeString:
		return cmp.Compare(m.s, another.s)
	case TypeBinary:
		return bytes.Compare(m.b, another.b)
	case TypeTimestamp:
		return m.t.Compare(another.t)
	case TypeUUID:
		return bytes.Compare(m.u[:], another.u[:])
	case TypeLink:
		if c := cmp.Compare(m.table, another.table); c != 0 {
			return c
		}
		return cmp.Compare(m.i, another.i)
	default:
		return 0
	}
}

func (m Mixed) String() string {
	if !m.valid {
		return "null"
	}
	switch m.typ {
	case TypeInt:
		return strconv.FormatInt(m.i, 10)
	case TypeBool:
		return strconv.FormatBool(m.i != 0)
	case TypeFloat:
		return strconv.FormatFloat(m.f, 'g', -1, 32)
	case TypeDouble:
		return strconv.FormatFloat(m.f, 'g', -1, 64)
	case TypeString:
		return strconv.Quote(m.s)
	case TypeBinary:
		return "0x" + hex.EncodeToString(m.b)
	case TypeTimestamp:
		return m.t.UTC().Format(time.RFC3339Nano)
	case TypeUUID:
		return "uuid(" + m.u.String() + ")"
	case TypeLink:
		if m.table.IsValid() {
			return fmt.Sprintf("link(%d:%d)", uint32(m.table), m.i)
		}
		return fmt.Sprintf("link(%d)", m.i)
	default:
		return fmt.Sprintf("<%v>", m.typ)
	}
}

func (m Mixed) LogValue() slog.Value {
	if !m.valid {
		return slog.StringValue("null")
	}
	switch m.typ {
	case TypeInt:
		return slog.Int64Value(m.i)
	case TypeBool:
		return slog.BoolValue(m.i != 0)
	case TypeFloat, TypeDouble:
		return slog.Float64Value(m.f)
	case TypeTimestamp:
		return slog.TimeValue(m.t)
	default:
		return slog.StringValue(m.String())
	}
}

func cmpBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	default:
		return 1
	}
}
