package replog

import "fmt"

// Encoder writes instructions into a Stream.
//
// Instruction format: tag:byte args*, where each argument is self-delimiting:
//
//   - table = uvarint
//   - obj = varint (zig-zag)
//   - col = index:uvarint type:byte kind:byte nullable:byte
//   - path = count:uvarint (kind:byte (col | index:uvarint | key:varbytes))*
//   - index, size = uvarint
//
// An instruction is assembled in a scratch buffer and copied into the stream
// in one step, so a failed reservation leaves no partial instruction behind.
type Encoder struct {
	stream  Stream
	region  []byte
	off     int
	scratch []byte
	lost    error
}

// Bind points the encoder at the start of the stream's region.
func (e *Encoder) Bind(s Stream) {
	e.stream = s
	e.region = s.Data()
	e.off = 0
	e.lost = nil
}

// Unbind drops the stream reference; the encoder can't write until the next
// Bind.
func (e *Encoder) Unbind() {
	e.stream = nil
	e.region = nil
	e.off = 0
	e.lost = nil
}

func (e *Encoder) IsBound() bool {
	return e.stream != nil
}

// Pos is the number of bytes written since Bind.
func (e *Encoder) Pos() int {
	return e.off
}

// Err reports whether the stream lost bytes already written, which happens
// when a failed reservation leaves a smaller region behind. Nothing more can
// be written until the next Bind.
func (e *Encoder) Err() error {
	return e.lost
}

// Written returns the bytes written since Bind. The slice aliases the stream.
// It is nil once Err is set.
func (e *Encoder) Written() []byte {
	if e.lost != nil {
		return nil
	}
	return e.region[:e.off]
}

// Rewind discards everything written after off.
func (e *Encoder) Rewind(off int) {
	if off < 0 || off > e.off {
		panic(contractErrf("cannot rewind to %d, written %d", off, e.off))
	}
	e.off = off
}

func (e *Encoder) SelectTable(tk TableKey) error {
	e.begin(InstrSelectTable)
	e.scratch = appendUvarint(e.scratch, uint64(tk))
	return e.flush()
}

func (e *Encoder) InsertGroupLevelTable(tk TableKey) error {
	e.begin(InstrInsertGroupLevelTable)
	e.scratch = appendUvarint(e.scratch, uint64(tk))
	return e.flush()
}

func (e *Encoder) EraseClass(tk TableKey) error {
	e.begin(InstrEraseClass)
	e.scratch = appendUvarint(e.scratch, uint64(tk))
	return e.flush()
}

func (e *Encoder) InsertColumn(col ColKey) error {
	e.begin(InstrInsertColumn)
	e.scratch = appendColKey(e.scratch, col)
	return e.flush()
}

func (e *Encoder) EraseColumn(col ColKey) error {
	e.begin(InstrEraseColumn)
	e.scratch = appendColKey(e.scratch, col)
	return e.flush()
}

func (e *Encoder) CreateObject(key ObjKey) error {
	e.begin(InstrCreateObject)
	e.scratch = appendVarint(e.scratch, int64(key))
	return e.flush()
}

func (e *Encoder) RemoveObject(key ObjKey) error {
	e.begin(InstrRemoveObject)
	e.scratch = appendVarint(e.scratch, int64(key))
	return e.flush()
}

func (e *Encoder) ModifyObject(col ColKey, key ObjKey) error {
	e.begin(InstrModifyObject)
	e.scratch = appendColKey(e.scratch, col)
	e.scratch = appendVarint(e.scratch, int64(key))
	return e.flush()
}

func (e *Encoder) SelectCollection(col ColKey, key ObjKey, path Path) error {
	e.begin(InstrSelectCollection)
	e.scratch = appendColKey(e.scratch, col)
	e.scratch = appendVarint(e.scratch, int64(key))
	e.scratch = appendPath(e.scratch, path)
	return e.flush()
}

func (e *Encoder) CollectionInsert(ndx int) error {
	return e.collectionOp(InstrCollectionInsert, ndx)
}

func (e *Encoder) CollectionSet(ndx int) error {
	return e.collectionOp(InstrCollectionSet, ndx)
}

func (e *Encoder) CollectionErase(ndx int) error {
	return e.collectionOp(InstrCollectionErase, ndx)
}

func (e *Encoder) CollectionClear(priorSize int) error {
	return e.collectionOp(InstrCollectionClear, priorSize)
}

func (e *Encoder) collectionOp(instr Instruction, v int) error {
	if v < 0 {
		panic(contractErrf("%v: negative argument %d", instr, v))
	}
	e.begin(instr)
	e.scratch = appendUvarint(e.scratch, uint64(v))
	return e.flush()
}

func (e *Encoder) begin(instr Instruction) {
	if e.stream == nil {
		panic(contractErrf("%v: encoder is not bound to a changeset stream", instr))
	}
	e.scratch = append(e.scratch[:0], byte(instr))
}

func (e *Encoder) flush() error {
	if e.lost != nil {
		return e.lost
	}
	n := len(e.scratch)
	if e.off+n > len(e.region) {
		region, err := e.stream.Reserve(e.off, n)
		if err != nil {
			// the old region may be gone after a failed remap
			e.region = e.stream.Data()
			if e.off > len(e.region) {
				e.lost = fmt.Errorf("%w: %d bytes written, %d left", ErrStreamLost, e.off, len(e.region))
			}
			return err
		}
		e.region = region
		if e.off+n > len(e.region) {
			panic(&OverflowError{Off: e.off, Size: n, Capacity: len(e.region)})
		}
	}
	e.off += copy(e.region[e.off:], e.scratch)
	return nil
}

func appendColKey(buf []byte, col ColKey) []byte {
	buf = appendUvarint(buf, uint64(col.Index))
	var nullable byte
	if col.Nullable {
		nullable = 1
	}
	return append(buf, byte(col.Type), byte(col.Kind), nullable)
}

func appendPath(buf []byte, path Path) []byte {
	buf = appendUvarint(buf, uint64(len(path)))
	for _, el := range path {
		buf = append(buf, byte(el.kind))
		switch el.kind {
		case PathColumn:
			buf = appendColKey(buf, el.col)
		case PathIndex:
			buf = appendUvarint(buf, uint64(el.index))
		case PathKey:
			buf = appendVarbytes(buf, []byte(el.key))
		default:
			panic(contractErrf("invalid path element kind %d", el.kind))
		}
	}
	return buf
}
