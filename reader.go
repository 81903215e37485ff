package replog

import (
	"fmt"
	"strings"
)

// Instr is one decoded changeset instruction. Only the fields relevant to Op
// are set.
type Instr struct {
	Op    Instruction
	Off   int
	Table TableKey
	Col   ColKey
	Obj   ObjKey
	Path  Path
	Index int
}

func (in Instr) String() string {
	switch in.Op {
	case InstrSelectTable, InstrInsertGroupLevelTable, InstrEraseClass:
		return fmt.Sprintf("%v table=%d", in.Op, uint32(in.Table))
	case InstrInsertColumn, InstrEraseColumn:
		return fmt.Sprintf("%v col=%v", in.Op, in.Col)
	case InstrCreateObject, InstrRemoveObject:
		return fmt.Sprintf("%v obj=%d", in.Op, int64(in.Obj))
	case InstrModifyObject:
		return fmt.Sprintf("%v col=%v obj=%d", in.Op, in.Col, int64(in.Obj))
	case InstrSelectCollection:
		return fmt.Sprintf("%v col=%v obj=%d path=%v", in.Op, in.Col, int64(in.Obj), in.Path)
	case InstrCollectionInsert, InstrCollectionSet, InstrCollectionErase:
		return fmt.Sprintf("%v index=%d", in.Op, in.Index)
	case InstrCollectionClear:
		return fmt.Sprintf("%v size=%d", in.Op, in.Index)
	default:
		return in.Op.String()
	}
}

// ParseChangeset decodes a changeset into instructions. It is a debugging
// aid and checks only the framing, not the meaning, of the instructions.
func ParseChangeset(data []byte) ([]Instr, error) {
	var result []Instr
	d := makeByteDecoder(data)
	for !d.Done() {
		in, err := decodeInstr(&d)
		if err != nil {
			return result, err
		}
		result = append(result, in)
	}
	return result, nil
}

// DumpChangeset renders a changeset one instruction per line.
func DumpChangeset(data []byte) (string, error) {
	instrs, err := ParseChangeset(data)
	var buf strings.Builder
	for _, in := range instrs {
		fmt.Fprintf(&buf, "%04x  %v\n", in.Off, in)
	}
	return buf.String(), err
}

func decodeInstr(d *byteDecoder) (Instr, error) {
	in := Instr{Off: d.Off(), Table: NoTableKey, Obj: NoObjKey}
	tag, err := d.Byte()
	if err != nil {
		return in, err
	}
	in.Op = Instruction(tag)
	switch in.Op {
	case InstrSelectTable, InstrInsertGroupLevelTable, InstrEraseClass:
		v, err := d.Uvarint32()
		if err != nil {
			return in, err
		}
		in.Table = TableKey(v)
	case InstrInsertColumn, InstrEraseColumn:
		in.Col, err = decodeColKey(d)
	case InstrCreateObject, InstrRemoveObject:
		in.Obj, err = decodeObjKey(d)
	case InstrModifyObject:
		in.Col, err = decodeColKey(d)
		if err == nil {
			in.Obj, err = decodeObjKey(d)
		}
	case InstrSelectCollection:
		in.Col, err = decodeColKey(d)
		if err == nil {
			in.Obj, err = decodeObjKey(d)
		}
		if err == nil {
			in.Path, err = decodePath(d)
		}
	case InstrCollectionInsert, InstrCollectionSet, InstrCollectionErase, InstrCollectionClear:
		in.Index, err = d.Uvarinti()
	default:
		return in, dataErrf(d.Orig, in.Off, nil, "invalid instruction tag 0x%02x", tag)
	}
	return in, err
}

func decodeObjKey(d *byteDecoder) (ObjKey, error) {
	v, err := d.Varint()
	return ObjKey(v), err
}

func decodeColKey(d *byteDecoder) (ColKey, error) {
	off := d.Off()
	index, err := d.Uvarint32()
	if err != nil {
		return ColKey{}, err
	}
	raw, err := d.Raw(3)
	if err != nil {
		return ColKey{}, err
	}
	col := ColKey{
		Index:    index,
		Type:     DataType(raw[0]),
		Kind:     CollectionKind(raw[1]),
		Nullable: raw[2] != 0,
	}
	if !col.Type.IsValid() || col.Kind > CollectionDictionary || raw[2] > 1 {
		return col, dataErrf(d.Orig, off, nil, "invalid column key")
	}
	return col, nil
}

func decodePath(d *byteDecoder) (Path, error) {
	n, err := d.Uvarinti()
	if err != nil {
		return nil, err
	}
	if n > len(d.Buf) {
		return nil, dataErrf(d.Orig, d.Off(), nil, "path of %d elements does not fit", n)
	}
	path := make(Path, 0, n)
	for range n {
		off := d.Off()
		kind, err := d.Byte()
		if err != nil {
			return nil, err
		}
		switch PathElementKind(kind) {
		case PathColumn:
			col, err := decodeColKey(d)
			if err != nil {
				return nil, err
			}
			path = append(path, ColumnElem(col))
		case PathIndex:
			ndx, err := d.Uvarinti()
			if err != nil {
				return nil, err
			}
			path = append(path, IndexElem(ndx))
		case PathKey:
			key, err := d.VarBytes()
			if err != nil {
				return nil, err
			}
			path = append(path, KeyElem(string(key)))
		default:
			return nil, dataErrf(d.Orig, off, nil, "invalid path element kind %d", kind)
		}
	}
	return path, nil
}

// SelectionState is a snapshot of a selection. Compare states with Equal.
type SelectionState struct {
	Table      TableKey
	Obj        ObjKey
	Collection CollectionID
	HasColl    bool
}

func (s Selection) State() SelectionState {
	return SelectionState{
		Table:      s.tableKey,
		Obj:        s.obj,
		Collection: s.coll,
		HasColl:    s.hasColl,
	}
}

func (s SelectionState) Equal(another SelectionState) bool {
	if s.Table != another.Table || s.Obj != another.Obj || s.HasColl != another.HasColl {
		return false
	}
	return !s.HasColl || s.Collection.Equal(another.Collection)
}

func (s SelectionState) String() string {
	var buf strings.Builder
	if s.Table.IsValid() {
		fmt.Fprintf(&buf, "table=%d", uint32(s.Table))
	} else {
		buf.WriteString("table=none")
	}
	if s.Obj.IsValid() {
		fmt.Fprintf(&buf, " obj=%d", int64(s.Obj))
	}
	if s.HasColl {
		fmt.Fprintf(&buf, " coll=%v", s.Collection.Path)
	}
	return buf.String()
}

// SelectionTrace replays the selection rules over decoded instructions,
// starting from an empty selection, and returns the state after each one.
// Collection instructions without a selected collection are reported as
// errors.
func SelectionTrace(instrs []Instr) ([]SelectionState, error) {
	result := make([]SelectionState, 0, len(instrs))
	sel := makeSelection()
	for _, in := range instrs {
		switch in.Op {
		case InstrSelectTable:
			sel = Selection{tableKey: in.Table, obj: NoObjKey}
		case InstrInsertGroupLevelTable, InstrEraseClass:
			sel.Clear()
		case InstrInsertColumn, InstrCreateObject:
			if !sel.tableKey.IsValid() {
				return result, fmt.Errorf("%v at 0x%x without a selected table", in.Op, in.Off)
			}
		case InstrEraseColumn:
			if !sel.tableKey.IsValid() {
				return result, fmt.Errorf("%v at 0x%x without a selected table", in.Op, in.Off)
			}
			sel.columnErased(sel.tableKey, in.Col)
		case InstrRemoveObject:
			if !sel.tableKey.IsValid() {
				return result, fmt.Errorf("%v at 0x%x without a selected table", in.Op, in.Off)
			}
			sel.objectRemoved(sel.tableKey, in.Obj)
		case InstrModifyObject:
			if !sel.tableKey.IsValid() || !in.Obj.IsValid() {
				return result, fmt.Errorf("%v at 0x%x without a selected table or valid object", in.Op, in.Off)
			}
			sel.selectObject(in.Obj)
		case InstrSelectCollection:
			if !sel.tableKey.IsValid() || !in.Obj.IsValid() {
				return result, fmt.Errorf("%v at 0x%x without a selected table or valid object", in.Op, in.Off)
			}
			sel.selectObject(in.Obj)
			sel.selectCollection(CollectionID{Table: sel.tableKey, Obj: in.Obj, Path: in.Path})
		case InstrCollectionInsert, InstrCollectionSet, InstrCollectionErase, InstrCollectionClear:
			if !sel.hasColl {
				return result, fmt.Errorf("%v at 0x%x without a selected collection", in.Op, in.Off)
			}
		default:
			return result, fmt.Errorf("unexpected %v at 0x%x", in.Op, in.Off)
		}
		result = append(result, sel.State())
	}
	return result, nil
}
