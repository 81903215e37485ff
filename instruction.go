package replog

import "fmt"

// Instruction is the tag of one changeset instruction. The set is closed;
// every switch over it should be exhaustive.
type Instruction uint8

const (
	InstrSelectTable Instruction = iota + 1
	InstrInsertGroupLevelTable
	InstrEraseClass
	InstrInsertColumn
	InstrEraseColumn
	InstrCreateObject
	InstrRemoveObject
	InstrModifyObject

	// InstrSetDefault marks a write that applies a column default during
	// object creation. It is never written to a changeset.
	InstrSetDefault

	InstrSelectCollection
	InstrCollectionInsert
	InstrCollectionSet
	InstrCollectionErase
	InstrCollectionClear

	instrEnd
)

var instructionNames = [instrEnd]string{
	InstrSelectTable:           "select-table",
	InstrInsertGroupLevelTable: "insert-group-level-table",
	InstrEraseClass:            "erase-class",
	InstrInsertColumn:          "insert-column",
	InstrEraseColumn:           "erase-column",
	InstrCreateObject:          "create-object",
	InstrRemoveObject:          "remove-object",
	InstrModifyObject:          "modify-object",
	InstrSetDefault:            "set-default",
	InstrSelectCollection:      "select-collection",
	InstrCollectionInsert:      "collection-insert",
	InstrCollectionSet:         "collection-set",
	InstrCollectionErase:       "collection-erase",
	InstrCollectionClear:       "collection-clear",
}

func (v Instruction) IsValid() bool {
	return v > 0 && v < instrEnd
}

// IsWritten reports whether the instruction can appear in a changeset.
func (v Instruction) IsWritten() bool {
	return v.IsValid() && v != InstrSetDefault
}

func (v Instruction) String() string {
	if v.IsValid() {
		return instructionNames[v]
	}
	return fmt.Sprintf("invalid instruction %d", int(v))
}
