package classfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

// ExceptionHandlerEntry is one row of a method's exception table. The
// protected range is [StartPC, EndPC). CatchTypeIndex is 0 for a handler
// that catches everything.
type ExceptionHandlerEntry struct {
	StartPC        uint16
	EndPC          uint16
	HandlerPC      uint16
	CatchTypeIndex uint16
}

// Covers reports whether bci lies in the protected range.
func (e ExceptionHandlerEntry) Covers(bci int) bool {
	return bci >= int(e.StartPC) && bci < int(e.EndPC)
}

func (e ExceptionHandlerEntry) String() string {
	return fmt.Sprintf("[%d, %d) -> %d catch #%d", e.StartPC, e.EndPC, e.HandlerPC, e.CatchTypeIndex)
}

// LineNumberEntry maps the instruction at StartPC and following to a
// source line.
type LineNumberEntry struct {
	StartPC    uint16
	LineNumber uint16
}

// LineNumberTable is sorted by StartPC.
type LineNumberTable []LineNumberEntry

// LineAt returns the source line of bci, or -1 if unknown.
func (t LineNumberTable) LineAt(bci int) int {
	i := sort.Search(len(t), func(i int) bool { return int(t[i].StartPC) > bci })
	if i == 0 {
		return -1
	}
	return int(t[i-1].LineNumber)
}

// LocalVariableEntry describes a named local variable live in
// [StartPC, StartPC+Length). SignatureIndex is the generic signature from a
// LocalVariableTypeTable entry, or 0.
type LocalVariableEntry struct {
	StartPC         uint16
	Length          uint16
	NameIndex       uint16
	DescriptorIndex uint16
	SignatureIndex  uint16
	Slot            uint16
}

// LocalVariableTable lists local variable entries in class-file order.
type LocalVariableTable []LocalVariableEntry

// At returns the entry for slot live at bci.
func (t LocalVariableTable) At(slot, bci int) (LocalVariableEntry, bool) {
	for _, e := range t {
		if int(e.Slot) == slot && bci >= int(e.StartPC) && bci < int(e.StartPC)+int(e.Length) {
			return e, true
		}
	}
	return LocalVariableEntry{}, false
}

// MergeTypes copies generic signatures from LocalVariableTypeTable entries
// onto the matching entries of t. Type entries are matched by start, length,
// slot and name. In a type entry DescriptorIndex holds the signature index.
func (t LocalVariableTable) MergeTypes(types LocalVariableTable) error {
	for _, ty := range types {
		matched := false
		for i := range t {
			e := &t[i]
			if e.StartPC == ty.StartPC && e.Length == ty.Length && e.Slot == ty.Slot && e.NameIndex == ty.NameIndex {
				e.SignatureIndex = ty.DescriptorIndex
				matched = true
				break
			}
		}
		if !matched {
			return fmt.Errorf("classfile: LocalVariableTypeTable entry for slot %d at %d has no LocalVariableTable entry", ty.Slot, ty.StartPC)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Blob encoding of the side tables
// ---------------------------------------------------------------------------
//
// Each table is a u2 entry count followed by fixed-width u2 rows:
//   exception table:  start, end, handler, catch type
//   line numbers:     start, line
//   local variables:  start, length, name, descriptor, signature, slot

var errShortTable = errors.New("classfile: table extends past end of encoded data")

func appendU2(b []byte, vs ...uint16) []byte {
	for _, v := range vs {
		b = binary.BigEndian.AppendUint16(b, v)
	}
	return b
}

func checkCount(n int) {
	if n > 0xFFFF {
		panic(&InternalError{Op: "encode", Err: fmt.Errorf("table has %d entries, more than a u2 count allows", n)})
	}
}

func encodeExceptionTable(b []byte, t []ExceptionHandlerEntry) []byte {
	checkCount(len(t))
	b = appendU2(b, uint16(len(t)))
	for _, e := range t {
		b = appendU2(b, e.StartPC, e.EndPC, e.HandlerPC, e.CatchTypeIndex)
	}
	return b
}

func encodeLineNumbers(b []byte, t LineNumberTable) []byte {
	checkCount(len(t))
	b = appendU2(b, uint16(len(t)))
	for _, e := range t {
		b = appendU2(b, e.StartPC, e.LineNumber)
	}
	return b
}

func encodeLocalVariables(b []byte, t LocalVariableTable) []byte {
	checkCount(len(t))
	b = appendU2(b, uint16(len(t)))
	for _, e := range t {
		b = appendU2(b, e.StartPC, e.Length, e.NameIndex, e.DescriptorIndex, e.SignatureIndex, e.Slot)
	}
	return b
}

// rows reads the u2 count at data[off:] and returns the row words.
func rows(data []byte, off, width int) ([]uint16, error) {
	if off < 0 || off+2 > len(data) {
		return nil, errShortTable
	}
	n := int(binary.BigEndian.Uint16(data[off:]))
	end := off + 2 + n*width*2
	if end > len(data) {
		return nil, errShortTable
	}
	words := make([]uint16, n*width)
	for i := range words {
		words[i] = binary.BigEndian.Uint16(data[off+2+2*i:])
	}
	return words, nil
}

func decodeExceptionTable(data []byte, off int) ([]ExceptionHandlerEntry, error) {
	w, err := rows(data, off, 4)
	if err != nil {
		return nil, err
	}
	t := make([]ExceptionHandlerEntry, len(w)/4)
	for i := range t {
		r := w[i*4:]
		t[i] = ExceptionHandlerEntry{r[0], r[1], r[2], r[3]}
	}
	return t, nil
}

func decodeLineNumbers(data []byte, off int) (LineNumberTable, error) {
	w, err := rows(data, off, 2)
	if err != nil {
		return nil, err
	}
	t := make(LineNumberTable, len(w)/2)
	for i := range t {
		t[i] = LineNumberEntry{w[i*2], w[i*2+1]}
	}
	return t, nil
}

func decodeLocalVariables(data []byte, off int) (LocalVariableTable, error) {
	w, err := rows(data, off, 6)
	if err != nil {
		return nil, err
	}
	t := make(LocalVariableTable, len(w)/6)
	for i := range t {
		r := w[i*6:]
		t[i] = LocalVariableEntry{r[0], r[1], r[2], r[3], r[4], r[5]}
	}
	return t, nil
}
