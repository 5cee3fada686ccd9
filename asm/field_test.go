package asm

import (
	"strings"
	"testing"
)

func TestFormatRejectsOverlap(t *testing.T) {
	_, err := NewFormat("bad",
		Field{Name: "a", Range: MustBitRange(0, 5, Ascending)},
		Field{Name: "b", Range: MustBitRange(5, 9, Ascending)},
	)
	if err == nil || !strings.Contains(err.Error(), "overlaps") {
		t.Errorf("expected overlap error, got %v", err)
	}
}

func TestFormatRejectsMixedOrders(t *testing.T) {
	_, err := NewFormat("bad",
		Field{Name: "a", Range: MustBitRange(0, 5, Ascending)},
		Field{Name: "b", Range: MustBitRange(0, 5, Descending)},
	)
	if err == nil {
		t.Error("expected mixed-order error")
	}
}

func TestFormatEncodeDecode(t *testing.T) {
	word, err := ppcD.Encode(map[string]int64{"opcd": ppcOpAddi, "rt": 3, "ra": 1, "d": -16})
	if err != nil {
		t.Fatal(err)
	}
	// addi r3, r1, -16
	if word != 0x3861FFF0 {
		t.Errorf("addi encoding = %#08x, want 0x3861fff0", word)
	}
	dec := ppcD.Decode(word)
	if dec["opcd"] != 14 || dec["rt"] != 3 || dec["ra"] != 1 || dec["d"] != -16 {
		t.Errorf("Decode = %v", dec)
	}
	if !ppcD.Matches(word, map[string]int64{"opcd": ppcOpAddi}) {
		t.Error("Matches should accept the addi opcode")
	}
	if ppcD.Matches(word, map[string]int64{"opcd": ppcOpLwz}) {
		t.Error("Matches should reject a different opcode")
	}
}

func TestFormatEncodeErrors(t *testing.T) {
	if _, err := ppcD.Encode(map[string]int64{"nope": 1}); err == nil {
		t.Error("unknown field should fail")
	}
	if _, err := ppcD.Encode(map[string]int64{"rt": 32}); err == nil {
		t.Error("rt=32 should not fit a 5-bit field")
	}
	if _, err := ppcD.Encode(map[string]int64{"d": 40000}); err == nil {
		t.Error("d=40000 should not fit a signed 16-bit field")
	}
}

func TestFormatString(t *testing.T) {
	s := modRMFormat.String()
	if !strings.HasPrefix(s, "modrm{mod=") {
		t.Errorf("String() = %q, want fields from the top bit down", s)
	}
}
