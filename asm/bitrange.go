// Package asm provides the low-level machinery used to emit machine code:
// bit-range field codecs for instruction words, an append-only code buffer,
// and small instruction encoders for the supported target architectures.
package asm

import (
	"fmt"
)

// WordBits is the width of the instruction word a BitRange addresses.
const WordBits = 32

// BitRangeOrder selects how bit indices are numbered within a word.
type BitRangeOrder int

const (
	// Ascending numbers bits from the least significant end (bit 0 = LSB).
	Ascending BitRangeOrder = iota
	// Descending numbers bits from the most significant end (bit 0 = MSB),
	// the convention of the PowerPC architecture manuals.
	Descending
)

func (o BitRangeOrder) String() string {
	switch o {
	case Ascending:
		return "ascending"
	case Descending:
		return "descending"
	}
	return fmt.Sprintf("BitRangeOrder(%d)", int(o))
}

// DefinitionError reports a malformed instruction-field definition.
type DefinitionError struct {
	First, Last int
	Order       BitRangeOrder
	Reason      string
}

func (e *DefinitionError) Error() string {
	return fmt.Sprintf("asm: invalid %s bit range [%d, %d]: %s", e.Order, e.First, e.Last, e.Reason)
}

// BitRange describes a contiguous field of an instruction word.
// It is immutable once constructed.
type BitRange struct {
	first int
	last  int
	order BitRangeOrder
}

// NewBitRange validates and returns a bit range. first and last are given in
// the numbering of order, and first must not exceed last.
func NewBitRange(first, last int, order BitRangeOrder) (BitRange, error) {
	if order != Ascending && order != Descending {
		return BitRange{}, &DefinitionError{first, last, order, "unknown order"}
	}
	if first < 0 || last < 0 {
		return BitRange{}, &DefinitionError{first, last, order, "negative bit index"}
	}
	if first >= WordBits || last >= WordBits {
		return BitRange{}, &DefinitionError{first, last, order, "bit index beyond word"}
	}
	if first > last {
		return BitRange{}, &DefinitionError{first, last, order, "first bit after last bit"}
	}
	return BitRange{first: first, last: last, order: order}, nil
}

// MustBitRange is like NewBitRange but panics on a bad definition.
// It is meant for static instruction tables.
func MustBitRange(first, last int, order BitRangeOrder) BitRange {
	r, err := NewBitRange(first, last, order)
	if err != nil {
		panic(err)
	}
	return r
}

// First returns the first bit index in the range's own numbering.
func (r BitRange) First() int { return r.first }

// Last returns the last bit index in the range's own numbering.
func (r BitRange) Last() int { return r.last }

// Order returns the numbering policy of the range.
func (r BitRange) Order() BitRangeOrder { return r.order }

// Width returns the number of bits in the field.
func (r BitRange) Width() int {
	return r.last - r.first + 1
}

// Shift returns the physical index of the field's least significant bit.
func (r BitRange) Shift() int {
	if r.order == Descending {
		return WordBits - 1 - r.last
	}
	return r.first
}

// ValueMask returns a right-aligned mask covering Width bits.
func (r BitRange) ValueMask() uint32 {
	if r.Width() == WordBits {
		return ^uint32(0)
	}
	return (uint32(1) << uint(r.Width())) - 1
}

// Mask returns the mask of the field in its physical position.
func (r BitRange) Mask() uint32 {
	return r.ValueMask() << uint(r.Shift())
}

// Extract returns the unsigned value of the field in word.
func (r BitRange) Extract(word uint32) uint32 {
	return (word >> uint(r.Shift())) & r.ValueMask()
}

// ExtractSigned returns the field value sign-extended from its width.
func (r BitRange) ExtractSigned(word uint32) int32 {
	v := r.Extract(word)
	unused := uint(WordBits - r.Width())
	return int32(v<<unused) >> unused
}

// Fits reports whether value can be stored unsigned in the field.
func (r BitRange) Fits(value uint32) bool {
	return value&^r.ValueMask() == 0
}

// FitsSigned reports whether value can be stored in the field as a
// two's-complement number.
func (r BitRange) FitsSigned(value int32) bool {
	w := uint(r.Width())
	if w == WordBits {
		return true
	}
	min := -(int64(1) << (w - 1))
	max := (int64(1) << (w - 1)) - 1
	return int64(value) >= min && int64(value) <= max
}

// Insert returns word with the field replaced by value.
// It panics if value does not fit; values are never truncated.
func (r BitRange) Insert(word uint32, value uint32) uint32 {
	if !r.Fits(value) {
		panic(fmt.Sprintf("asm: value %#x does not fit in %d-bit field %s", value, r.Width(), r))
	}
	return (word &^ r.Mask()) | (value << uint(r.Shift()))
}

// InsertSigned stores a two's-complement value in the field.
// It panics if value does not fit.
func (r BitRange) InsertSigned(word uint32, value int32) uint32 {
	if !r.FitsSigned(value) {
		panic(fmt.Sprintf("asm: value %d does not fit in signed %d-bit field %s", value, r.Width(), r))
	}
	return (word &^ r.Mask()) | ((uint32(value) & r.ValueMask()) << uint(r.Shift()))
}

func (r BitRange) String() string {
	if r.order == Descending {
		return fmt.Sprintf("%d:%d(desc)", r.first, r.last)
	}
	return fmt.Sprintf("%d:%d", r.first, r.last)
}
