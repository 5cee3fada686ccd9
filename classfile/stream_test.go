package classfile

import (
	"strings"
	"testing"
)

func TestBuilderForwardBranch(t *testing.T) {
	b := NewBytecodeBuilder()
	l := b.NewLabel()
	b.Emit(OpIconst0)
	b.EmitJump(OpIfeq, l)
	b.Emit(OpIconst1)
	b.Mark(l)
	b.Emit(OpReturn)

	want := []byte{0x03, 0x99, 0x00, 0x04, 0x04, 0xB1}
	got := b.Bytes()
	if string(got) != string(want) {
		t.Fatalf("Bytes() = % x, want % x", got, want)
	}

	s := NewBytecodeStream(got)
	var ops []Opcode
	for s.Next() {
		ops = append(ops, s.Opcode())
		if s.Opcode() == OpIfeq && s.BranchDest() != 5 {
			t.Errorf("BranchDest() = %d, want 5", s.BranchDest())
		}
	}
	if s.Err() != nil {
		t.Fatalf("Err() = %v", s.Err())
	}
	if len(ops) != 4 {
		t.Errorf("decoded %d instructions, want 4", len(ops))
	}
}

func TestBuilderBackwardWideBranch(t *testing.T) {
	b := NewBytecodeBuilder()
	l := b.NewLabel()
	b.Mark(l)
	b.Emit(OpNop)
	b.EmitJump(OpGotoW, l)

	want := []byte{0x00, 0xC8, 0xFF, 0xFF, 0xFF, 0xFF}
	if got := b.Bytes(); string(got) != string(want) {
		t.Fatalf("Bytes() = % x, want % x", got, want)
	}
	s := NewBytecodeStream(b.Bytes())
	s.Next()
	s.Next()
	if s.Opcode() != OpGotoW || s.BranchDest() != 0 {
		t.Errorf("got %s -> %d, want goto_w -> 0", s.Opcode(), s.BranchDest())
	}
}

func TestBuilderMarkTwicePanics(t *testing.T) {
	b := NewBytecodeBuilder()
	l := b.NewLabel()
	b.Mark(l)
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic")
		}
	}()
	b.Mark(l)
}

func TestTableswitch(t *testing.T) {
	b := NewBytecodeBuilder()
	def, one, two := b.NewLabel(), b.NewLabel(), b.NewLabel()
	b.Emit(OpIload0)
	b.EmitTableswitch(5, def, one, two)
	b.Mark(def)
	b.Emit(OpReturn)
	b.Mark(one)
	b.Emit(OpReturn)
	b.Mark(two)
	b.Emit(OpReturn)
	code := b.Bytes()

	n, err := InstructionLength(code, 1)
	if err != nil {
		t.Fatal(err)
	}
	if n != 23 {
		t.Errorf("InstructionLength = %d, want 23", n)
	}

	s := NewBytecodeStream(code)
	s.Next()
	s.Next()
	if s.Opcode() != OpTableswitch {
		t.Fatalf("Opcode() = %s, want tableswitch", s.Opcode())
	}
	sw := s.Switch()
	if sw.Default != 24 {
		t.Errorf("Default = %d, want 24", sw.Default)
	}
	if len(sw.Keys) != 2 || sw.Keys[0] != 5 || sw.Keys[1] != 6 {
		t.Errorf("Keys = %v, want [5 6]", sw.Keys)
	}
	if len(sw.Targets) != 2 || sw.Targets[0] != 25 || sw.Targets[1] != 26 {
		t.Errorf("Targets = %v, want [25 26]", sw.Targets)
	}
	if s.NextBCI() != 24 {
		t.Errorf("NextBCI() = %d, want 24", s.NextBCI())
	}
}

func TestLookupswitch(t *testing.T) {
	b := NewBytecodeBuilder()
	def, a, c := b.NewLabel(), b.NewLabel(), b.NewLabel()
	b.EmitLookupswitch(def, []int32{-1, 100}, []*Label{a, c})
	b.Mark(a)
	b.Emit(OpNop)
	b.Mark(c)
	b.Emit(OpNop)
	b.Mark(def)
	b.Emit(OpReturn)

	code := b.Bytes()
	if n, err := InstructionLength(code, 0); err != nil || n != 28 {
		t.Fatalf("InstructionLength = %d, %v; want 28", n, err)
	}
	sw := decodeSwitch(code, 0)
	if sw.Default != 30 {
		t.Errorf("Default = %d, want 30", sw.Default)
	}
	if sw.Keys[0] != -1 || sw.Keys[1] != 100 {
		t.Errorf("Keys = %v, want [-1 100]", sw.Keys)
	}
	if sw.Targets[0] != 28 || sw.Targets[1] != 29 {
		t.Errorf("Targets = %v, want [28 29]", sw.Targets)
	}
}

func TestWideInstructions(t *testing.T) {
	b := NewBytecodeBuilder()
	b.EmitIinc(300, 2)
	b.EmitIinc(1, -1)
	code := append(b.Bytes(), byte(OpWide), byte(OpIload), 0x01, 0x00)

	s := NewBytecodeStream(code)
	if !s.Next() || !s.IsWide() || s.Opcode() != OpIinc {
		t.Fatalf("first instruction: wide=%v op=%s", s.IsWide(), s.Opcode())
	}
	if s.LocalIndex() != 300 || s.IncrementValue() != 2 {
		t.Errorf("wide iinc = %d %d, want 300 2", s.LocalIndex(), s.IncrementValue())
	}
	if s.NextBCI() != 6 {
		t.Errorf("NextBCI() = %d, want 6", s.NextBCI())
	}
	s.Next()
	if s.IsWide() || s.LocalIndex() != 1 || s.IncrementValue() != -1 {
		t.Errorf("iinc = wide:%v %d %d, want 1 -1", s.IsWide(), s.LocalIndex(), s.IncrementValue())
	}
	s.Next()
	if !s.IsWide() || s.Opcode() != OpIload || s.LocalIndex() != 256 {
		t.Errorf("wide iload = %s %d, want iload 256", s.Opcode(), s.LocalIndex())
	}
	if s.Next() {
		t.Error("Next() after last instruction = true")
	}
}

func TestImplicitLocalIndex(t *testing.T) {
	tests := []struct {
		op   Opcode
		want int
	}{
		{OpIload0, 0},
		{OpIload3, 3},
		{OpAload2, 2},
		{OpLstore1, 1},
		{OpAstore3, 3},
	}
	for _, tt := range tests {
		s := NewBytecodeStream([]byte{byte(tt.op)})
		s.Next()
		if got := s.LocalIndex(); got != tt.want {
			t.Errorf("%s LocalIndex() = %d, want %d", tt.op, got, tt.want)
		}
	}
}

func TestInstructionLengthErrors(t *testing.T) {
	tests := []struct {
		name string
		code []byte
	}{
		{"invalid opcode", []byte{0xCA}},
		{"truncated operand", []byte{byte(OpSipush), 0x00}},
		{"wide nop", []byte{byte(OpWide), byte(OpNop)}},
		{"truncated wide", []byte{byte(OpWide)}},
		{"inverted tableswitch", []byte{byte(OpTableswitch), 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 2, 0, 0, 0, 1}},
		{"truncated lookupswitch", []byte{byte(OpLookupswitch), 0, 0, 0, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := InstructionLength(tt.code, 0); err == nil {
				t.Error("expected error")
			}
			s := NewBytecodeStream(tt.code)
			if s.Next() {
				t.Error("Next() = true on malformed code")
			}
			if s.Err() == nil {
				t.Error("Err() = nil on malformed code")
			}
		})
	}
}

func TestDisassemble(t *testing.T) {
	b := NewBytecodeBuilder()
	l := b.NewLabel()
	b.EmitByte(OpBipush, 0xFE)
	b.EmitJump(OpIfeq, l)
	b.EmitUint16(OpInvokestatic, 7)
	b.Mark(l)
	b.Emit(OpReturn)

	got := Disassemble(b.Bytes())
	for _, want := range []string{
		"0000  bipush -2",
		"0002  ifeq 8",
		"0005  invokestatic #7",
		"0008  return",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("Disassemble() missing %q in:\n%s", want, got)
		}
	}

	bad := Disassemble([]byte{byte(OpNop), 0xCA})
	if !strings.Contains(bad, "invalid opcode") {
		t.Errorf("Disassemble() of bad code = %q", bad)
	}
}
