package asm

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// DefaultCodeCapacity is the capacity limit used when none is given.
const DefaultCodeCapacity = 1 << 20

var (
	// ErrCodeBufferOverflow is the panic value raised when emission would
	// exceed the buffer's capacity limit.
	ErrCodeBufferOverflow = errors.New("asm: code buffer overflow")
	// ErrCodeBufferClosed is the panic value raised when emitting into a
	// buffer that has been closed.
	ErrCodeBufferClosed = errors.New("asm: code buffer closed")
)

// ByteOrder is satisfied by binary.LittleEndian and binary.BigEndian.
type ByteOrder interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

// ---------------------------------------------------------------------------
// CodeBuffer: append-only machine code storage
// ---------------------------------------------------------------------------

// CodeBuffer accumulates machine code bytes. Writes always happen at the end;
// already-emitted bytes may only be changed through the Patch methods.
type CodeBuffer struct {
	bytes    []byte
	order    ByteOrder
	capacity int
	closed   bool
}

// NewCodeBuffer creates a buffer with the given byte order and capacity.
// A capacity <= 0 selects DefaultCodeCapacity.
func NewCodeBuffer(order ByteOrder, capacity int) *CodeBuffer {
	if capacity <= 0 {
		capacity = DefaultCodeCapacity
	}
	initial := 256
	if capacity < initial {
		initial = capacity
	}
	return &CodeBuffer{
		bytes:    make([]byte, 0, initial),
		order:    order,
		capacity: capacity,
	}
}

// Position returns the current write position.
func (b *CodeBuffer) Position() int {
	return len(b.bytes)
}

// Capacity returns the capacity limit.
func (b *CodeBuffer) Capacity() int {
	return b.capacity
}

// ByteOrder returns the order used for multi-byte emission.
func (b *CodeBuffer) ByteOrder() ByteOrder {
	return b.order
}

// Closed reports whether Close has been called.
func (b *CodeBuffer) Closed() bool {
	return b.closed
}

func (b *CodeBuffer) reserve(n int) {
	if b.closed {
		panic(ErrCodeBufferClosed)
	}
	if len(b.bytes)+n > b.capacity {
		panic(fmt.Errorf("%w: %d + %d bytes exceeds %d", ErrCodeBufferOverflow, len(b.bytes), n, b.capacity))
	}
}

// EmitByte appends a single byte.
func (b *CodeBuffer) EmitByte(v byte) {
	b.reserve(1)
	b.bytes = append(b.bytes, v)
}

// EmitBytes appends raw bytes.
func (b *CodeBuffer) EmitBytes(vs ...byte) {
	b.reserve(len(vs))
	b.bytes = append(b.bytes, vs...)
}

// EmitInt16 appends a 16-bit value in the buffer's byte order.
func (b *CodeBuffer) EmitInt16(v uint16) {
	b.reserve(2)
	b.bytes = b.order.AppendUint16(b.bytes, v)
}

// EmitInt32 appends a 32-bit value in the buffer's byte order.
func (b *CodeBuffer) EmitInt32(v uint32) {
	b.reserve(4)
	b.bytes = b.order.AppendUint32(b.bytes, v)
}

// EmitInt64 appends a 64-bit value in the buffer's byte order.
func (b *CodeBuffer) EmitInt64(v uint64) {
	b.reserve(8)
	b.bytes = b.order.AppendUint64(b.bytes, v)
}

// AlignTo pads with fill bytes until the position is a multiple of alignment.
func (b *CodeBuffer) AlignTo(alignment int, fill byte) {
	if alignment <= 1 {
		return
	}
	for len(b.bytes)%alignment != 0 {
		b.EmitByte(fill)
	}
}

// Int32At reads back a previously emitted 32-bit value.
func (b *CodeBuffer) Int32At(pos int) uint32 {
	if pos < 0 || pos+4 > len(b.bytes) {
		panic(fmt.Sprintf("asm: read of 4 bytes at %d outside code [0, %d)", pos, len(b.bytes)))
	}
	return b.order.Uint32(b.bytes[pos:])
}

// PatchInt32 overwrites a previously emitted 32-bit value.
func (b *CodeBuffer) PatchInt32(pos int, v uint32) {
	if b.closed {
		panic(ErrCodeBufferClosed)
	}
	if pos < 0 || pos+4 > len(b.bytes) {
		panic(fmt.Sprintf("asm: patch of 4 bytes at %d outside code [0, %d)", pos, len(b.bytes)))
	}
	b.order.PutUint32(b.bytes[pos:], v)
}

// Bytes returns the bytes emitted so far. The slice aliases the buffer.
func (b *CodeBuffer) Bytes() []byte {
	return b.bytes
}

// Close fixes the buffer's contents and returns them. With trim set the
// returned slice has no spare capacity. Further emission panics.
func (b *CodeBuffer) Close(trim bool) []byte {
	b.closed = true
	if trim {
		out := make([]byte, len(b.bytes))
		copy(out, b.bytes)
		b.bytes = out
	}
	return b.bytes
}

// ---------------------------------------------------------------------------
// Labels
// ---------------------------------------------------------------------------

// Label is a code position that may be referenced before it is bound.
type Label struct {
	bound    bool
	position int
	refs     []labelRef
}

type labelRef struct {
	pos   int                  // position of the instruction or displacement to patch
	patch func(pos, target int) // rewrites the reference once the target is known
}

// NewLabel creates an unbound label.
func NewLabel() *Label {
	return &Label{}
}

// IsBound reports whether the label has a position.
func (l *Label) IsBound() bool {
	return l.bound
}

// Position returns the bound position. It panics if the label is unbound.
func (l *Label) Position() int {
	if !l.bound {
		panic("asm: label not bound")
	}
	return l.position
}

// bind resolves the label to pos and patches all forward references.
func (l *Label) bind(pos int) {
	if l.bound {
		panic("asm: label already bound")
	}
	l.bound = true
	l.position = pos
	for _, ref := range l.refs {
		ref.patch(ref.pos, pos)
	}
	l.refs = nil
}

// addRef records a forward reference or patches it immediately if bound.
func (l *Label) addRef(pos int, patch func(pos, target int)) {
	if l.bound {
		patch(pos, l.position)
		return
	}
	l.refs = append(l.refs, labelRef{pos: pos, patch: patch})
}
