package asm

import (
	"errors"
	"testing"
)

func TestBitRangeInvalidDefinitions(t *testing.T) {
	tests := []struct {
		name        string
		first, last int
		order       BitRangeOrder
	}{
		{"negative first", -1, 3, Ascending},
		{"negative last", 0, -2, Descending},
		{"beyond word", 0, 32, Ascending},
		{"first after last", 7, 3, Descending},
		{"unknown order", 0, 1, BitRangeOrder(9)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBitRange(tt.first, tt.last, tt.order)
			var defErr *DefinitionError
			if !errors.As(err, &defErr) {
				t.Fatalf("NewBitRange(%d, %d, %s) error = %v, want *DefinitionError", tt.first, tt.last, tt.order, err)
			}
		})
	}
}

func TestBitRangeShiftAndMask(t *testing.T) {
	asc := MustBitRange(4, 7, Ascending)
	if asc.Shift() != 4 || asc.Mask() != 0xF0 || asc.Width() != 4 {
		t.Errorf("ascending 4:7: shift=%d mask=%#x width=%d", asc.Shift(), asc.Mask(), asc.Width())
	}

	// Power opcode field: bits 0..5 counted from the MSB.
	desc := MustBitRange(0, 5, Descending)
	if desc.Shift() != 26 || desc.Mask() != 0xFC000000 {
		t.Errorf("descending 0:5: shift=%d mask=%#x", desc.Shift(), desc.Mask())
	}

	full := MustBitRange(0, 31, Ascending)
	if full.ValueMask() != 0xFFFFFFFF || full.Mask() != 0xFFFFFFFF {
		t.Errorf("full word masks = %#x / %#x", full.ValueMask(), full.Mask())
	}
}

func TestBitRangeRoundTripAllRanges(t *testing.T) {
	for _, order := range []BitRangeOrder{Ascending, Descending} {
		for first := 0; first < WordBits; first++ {
			for last := first; last < WordBits; last++ {
				r := MustBitRange(first, last, order)
				max := r.ValueMask()
				for _, v := range []uint32{0, 1, max / 2, max} {
					if !r.Fits(v) {
						continue
					}
					word := r.Insert(0xA5A5A5A5, v)
					if got := r.Extract(word); got != v {
						t.Fatalf("%s: Extract(Insert(%#x)) = %#x", r, v, got)
					}
					if word&^r.Mask() != 0xA5A5A5A5&^r.Mask() {
						t.Fatalf("%s: Insert disturbed bits outside the field", r)
					}
				}

				minSigned := int32(-1)
				if r.Width() < WordBits {
					minSigned = -(int32(1) << uint(r.Width()-1))
				}
				for _, v := range []int32{minSigned, -1, 0} {
					if !r.FitsSigned(v) {
						continue
					}
					if got := r.ExtractSigned(r.InsertSigned(0, v)); got != v {
						t.Fatalf("%s: ExtractSigned(InsertSigned(%d)) = %d", r, v, got)
					}
				}
			}
		}
	}
}

func TestBitRangeInsertOverflowPanics(t *testing.T) {
	r := MustBitRange(6, 10, Descending)
	defer func() {
		if recover() == nil {
			t.Error("Insert of 32 into a 5-bit field should panic")
		}
	}()
	r.Insert(0, 32)
}

func TestBitRangeInsertSignedOverflowPanics(t *testing.T) {
	r := MustBitRange(16, 31, Descending)
	if !r.FitsSigned(-32768) || r.FitsSigned(32768) {
		t.Fatal("16-bit signed bounds are wrong")
	}
	defer func() {
		if recover() == nil {
			t.Error("InsertSigned of 32768 into a 16-bit field should panic")
		}
	}()
	r.InsertSigned(0, 32768)
}
