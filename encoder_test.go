package replog

import (
	"encoding/hex"
	"errors"
	"strings"
	"testing"
)

func expectPanic[E error](t testing.TB, f func()) E {
	t.Helper()
	var result E
	func() {
		defer func() {
			r := recover()
			if r == nil {
				t.Fatalf("expected a panic")
			}
			err, ok := r.(error)
			if !ok || !errors.As(err, &result) {
				t.Fatalf("panic value = %T %v, wanted %T", r, r, result)
			}
		}()
		f()
	}()
	return result
}

func TestEncoder_Instructions(t *testing.T) {
	nullableString := ColKey{Index: 1, Type: TypeString, Nullable: true}
	intList := ColKey{Index: 2, Type: TypeInt, Kind: CollectionList}

	tests := []struct {
		name string
		f    func(e *Encoder) error
		hex  string
	}{
		{"select-table", func(e *Encoder) error { return e.SelectTable(3) }, "0103"},
		{"insert-group-level-table", func(e *Encoder) error { return e.InsertGroupLevelTable(0) }, "0200"},
		{"erase-class", func(e *Encoder) error { return e.EraseClass(7) }, "0307"},
		{"insert-column", func(e *Encoder) error { return e.InsertColumn(nullableString) }, "0401020001"},
		{"erase-column", func(e *Encoder) error { return e.EraseColumn(nullableString) }, "0501020001"},
		{"create-object negative", func(e *Encoder) error { return e.CreateObject(-2) }, "0603"},
		{"remove-object", func(e *Encoder) error { return e.RemoveObject(300) }, "07d804"},
		{"modify-object", func(e *Encoder) error { return e.ModifyObject(ColKey{Type: TypeInt}, 42) }, "080000000054"},
		{"select-collection", func(e *Encoder) error {
			return e.SelectCollection(intList, 5, Path{ColumnElem(intList), IndexElem(3), KeyElem("k")})
		}, "0a020001000a03" + "0102000100" + "0203" + "03016b"},
		{"collection-insert", func(e *Encoder) error { return e.CollectionInsert(0) }, "0b00"},
		{"collection-set", func(e *Encoder) error { return e.CollectionSet(1) }, "0c01"},
		{"collection-erase", func(e *Encoder) error { return e.CollectionErase(2) }, "0d02"},
		{"collection-clear", func(e *Encoder) error { return e.CollectionClear(128) }, "0e8001"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var e Encoder
			e.Bind(NewMemStream(0, 0))
			if err := tt.f(&e); err != nil {
				t.Fatalf("err = %v", err)
			}
			if a := hex.EncodeToString(e.Written()); a != tt.hex {
				t.Fatalf("** got %s, wanted %s", a, tt.hex)
			}
			instrs, err := ParseChangeset(e.Written())
			if err != nil || len(instrs) != 1 || !strings.HasPrefix(tt.name, instrs[0].Op.String()) {
				t.Fatalf("ParseChangeset = %v, %v", instrs, err)
			}
		})
	}
}

func TestEncoder_Rewind(t *testing.T) {
	var e Encoder
	e.Bind(NewMemStream(4, 0))
	_ = e.SelectTable(1)
	pos := e.Pos()
	_ = e.CreateObject(1)
	_ = e.CreateObject(2)
	e.Rewind(pos)
	_ = e.CreateObject(3)
	if a, w := hex.EncodeToString(e.Written()), "01010606"; a != w {
		t.Fatalf("** got %s, wanted %s", a, w)
	}
	expectPanic[*ContractError](t, func() { e.Rewind(100) })
}

func TestEncoder_Unbound(t *testing.T) {
	var e Encoder
	expectPanic[*ContractError](t, func() { _ = e.SelectTable(0) })

	e.Bind(NewMemStream(0, 0))
	e.Unbind()
	if e.IsBound() {
		t.Fatalf("IsBound = true after Unbind")
	}
	expectPanic[*ContractError](t, func() { _ = e.CreateObject(0) })
}

func TestEncoder_FixedStreamOverflow(t *testing.T) {
	var e Encoder
	e.Bind(NewFixedStream(make([]byte, 3)))
	if err := e.SelectTable(1); err != nil {
		t.Fatal(err)
	}
	oe := expectPanic[*OverflowError](t, func() { _ = e.CreateObject(1) })
	if oe.Off != 2 || oe.Size != 2 || oe.Capacity != 3 {
		t.Fatalf("OverflowError = %+v", *oe)
	}
	if e.Pos() != 2 {
		t.Fatalf("Pos = %d, wanted 2", e.Pos())
	}
}

func TestEncoder_StreamLimit(t *testing.T) {
	var e Encoder
	e.Bind(NewMemStream(2, 5))
	if err := e.SelectTable(1); err != nil {
		t.Fatal(err)
	}
	if err := e.CreateObject(1); err != nil {
		t.Fatal(err)
	}
	err := e.ModifyObject(ColKey{}, 1)
	if !errors.Is(err, ErrStreamLimit) {
		t.Fatalf("err = %v, wanted ErrStreamLimit", err)
	}
	if a, w := hex.EncodeToString(e.Written()), "01010602"; a != w {
		t.Fatalf("** got %s, wanted %s", a, w)
	}
}

// droppingStream loses its buffer when asked to grow, like a file whose
// remap failed.
type droppingStream struct{ buf []byte }

func (s *droppingStream) Data() []byte { return s.buf }

func (s *droppingStream) Reserve(used, extra int) ([]byte, error) {
	s.buf = nil
	return nil, errors.New("remap failed")
}

func TestEncoder_StreamLostOnFailedGrow(t *testing.T) {
	var e Encoder
	e.Bind(&droppingStream{buf: make([]byte, 3)})
	if err := e.SelectTable(1); err != nil {
		t.Fatal(err)
	}
	err := e.SelectTable(2)
	if err == nil || errors.Is(err, ErrStreamLost) {
		t.Fatalf("err = %v, wanted the stream's own error", err)
	}
	if !errors.Is(e.Err(), ErrStreamLost) {
		t.Fatalf("Err() = %v, wanted ErrStreamLost", e.Err())
	}
	if err := e.CreateObject(1); !errors.Is(err, ErrStreamLost) {
		t.Fatalf("err = %v, wanted ErrStreamLost", err)
	}
	if w := e.Written(); w != nil {
		t.Fatalf("Written() = %x, wanted nil", w)
	}

	e.Bind(NewMemStream(4, 0))
	if e.Err() != nil {
		t.Fatalf("Err() = %v after Bind", e.Err())
	}
	if err := e.SelectTable(1); err != nil {
		t.Fatal(err)
	}
}

func TestParseChangeset_Errors(t *testing.T) {
	tests := []struct {
		name string
		hex  string
	}{
		{"unknown tag", "ff"},
		{"set-default is never written", "09"},
		{"truncated column key", "040102"},
		{"invalid type", "0401200000"},
		{"invalid nullability", "0401020002"},
		{"bad path element", "0a0000000000010900"},
		{"truncated index", "0b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, _ := hex.DecodeString(tt.hex)
			_, err := ParseChangeset(data)
			var de *DataError
			if !errors.As(err, &de) {
				t.Fatalf("err = %v, wanted *DataError", err)
			}
		})
	}
}
