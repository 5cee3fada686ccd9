package asm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestCodeBufferEmitOrder(t *testing.T) {
	le := NewCodeBuffer(binary.LittleEndian, 0)
	le.EmitInt32(0x11223344)
	be := NewCodeBuffer(binary.BigEndian, 0)
	be.EmitInt32(0x11223344)

	if !bytes.Equal(le.Bytes(), []byte{0x44, 0x33, 0x22, 0x11}) {
		t.Errorf("little endian = % x", le.Bytes())
	}
	if !bytes.Equal(be.Bytes(), []byte{0x11, 0x22, 0x33, 0x44}) {
		t.Errorf("big endian = % x", be.Bytes())
	}
	if le.Capacity() != DefaultCodeCapacity {
		t.Errorf("default capacity = %d", le.Capacity())
	}
}

func TestCodeBufferPatch(t *testing.T) {
	b := NewCodeBuffer(binary.LittleEndian, 64)
	b.EmitByte(0x90)
	b.EmitInt32(0)
	b.PatchInt32(1, 0xDEADBEEF)
	if got := b.Int32At(1); got != 0xDEADBEEF {
		t.Errorf("Int32At = %#x", got)
	}
	if b.Position() != 5 {
		t.Errorf("Position = %d, want 5", b.Position())
	}
}

func TestCodeBufferAlign(t *testing.T) {
	b := NewCodeBuffer(binary.LittleEndian, 64)
	b.EmitByte(1)
	b.AlignTo(8, 0xCC)
	if b.Position() != 8 || b.Bytes()[7] != 0xCC {
		t.Errorf("AlignTo: position %d bytes % x", b.Position(), b.Bytes())
	}
}

func TestCodeBufferOverflowPanics(t *testing.T) {
	b := NewCodeBuffer(binary.LittleEndian, 4)
	b.EmitInt32(1)
	defer func() {
		r := recover()
		err, ok := r.(error)
		if !ok || !errors.Is(err, ErrCodeBufferOverflow) {
			t.Errorf("recover() = %v, want ErrCodeBufferOverflow", r)
		}
	}()
	b.EmitByte(0)
}

func TestCodeBufferClose(t *testing.T) {
	b := NewCodeBuffer(binary.LittleEndian, 64)
	b.EmitBytes(1, 2, 3)
	out := b.Close(true)
	if len(out) != 3 || cap(out) != 3 {
		t.Errorf("Close(true) len=%d cap=%d", len(out), cap(out))
	}
	defer func() {
		if recover() != ErrCodeBufferClosed {
			t.Error("emitting into a closed buffer should panic with ErrCodeBufferClosed")
		}
	}()
	b.EmitByte(4)
}

func TestLabelBindTwicePanics(t *testing.T) {
	a := NewAMD64(0)
	l := NewLabel()
	a.Bind(l)
	defer func() {
		if recover() == nil {
			t.Error("second Bind should panic")
		}
	}()
	a.Bind(l)
}

func TestLabelUnboundPosition(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Position of an unbound label should panic")
		}
	}()
	NewLabel().Position()
}
