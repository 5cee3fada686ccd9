package classfile

import "encoding/binary"

// ---------------------------------------------------------------------------
// BytecodeBuilder: helper for constructing bytecode
// ---------------------------------------------------------------------------

// BytecodeBuilder helps construct bytecode sequences.
type BytecodeBuilder struct {
	bytes []byte
}

// NewBytecodeBuilder creates a new bytecode builder.
func NewBytecodeBuilder() *BytecodeBuilder {
	return &BytecodeBuilder{
		bytes: make([]byte, 0, 64),
	}
}

// Bytes returns the constructed bytecode.
func (b *BytecodeBuilder) Bytes() []byte {
	return b.bytes
}

// Len returns the current length, which is the bci of the next instruction.
func (b *BytecodeBuilder) Len() int {
	return len(b.bytes)
}

// Emit appends an opcode with no operands.
func (b *BytecodeBuilder) Emit(op Opcode) {
	b.bytes = append(b.bytes, byte(op))
}

// EmitByte appends an opcode with a single byte operand.
func (b *BytecodeBuilder) EmitByte(op Opcode, operand byte) {
	b.bytes = append(b.bytes, byte(op), operand)
}

// EmitUint16 appends an opcode with a 16-bit operand, such as a
// constant-pool index.
func (b *BytecodeBuilder) EmitUint16(op Opcode, operand uint16) {
	b.bytes = append(b.bytes, byte(op))
	b.bytes = binary.BigEndian.AppendUint16(b.bytes, operand)
}

// EmitIinc appends iinc, widening when the operands need it.
func (b *BytecodeBuilder) EmitIinc(local uint16, delta int16) {
	if local > 0xFF || delta < -128 || delta > 127 {
		b.bytes = append(b.bytes, byte(OpWide), byte(OpIinc))
		b.bytes = binary.BigEndian.AppendUint16(b.bytes, local)
		b.bytes = binary.BigEndian.AppendUint16(b.bytes, uint16(delta))
		return
	}
	b.bytes = append(b.bytes, byte(OpIinc), byte(local), byte(int8(delta)))
}

// EmitInvokeInterface appends invokeinterface with its argument count.
func (b *BytecodeBuilder) EmitInvokeInterface(cpi uint16, count uint8) {
	b.EmitUint16(OpInvokeinterface, cpi)
	b.bytes = append(b.bytes, count, 0)
}

// ---------------------------------------------------------------------------
// Label management for jumps
// ---------------------------------------------------------------------------

// Label is a branch target that may be referenced before it is marked.
type Label struct {
	resolved bool
	position int
	refs     []labelRef
}

type labelRef struct {
	at   int // position of the offset operand
	base int // bci of the branching instruction
	wide bool
}

// NewLabel creates an unresolved label.
func (b *BytecodeBuilder) NewLabel() *Label {
	return &Label{}
}

// Mark resolves a label to the current position.
func (b *BytecodeBuilder) Mark(label *Label) {
	if label.resolved {
		panic("label already resolved")
	}
	label.resolved = true
	label.position = len(b.bytes)
	for _, ref := range label.refs {
		b.patch(ref, label.position)
	}
	label.refs = nil
}

func (b *BytecodeBuilder) patch(ref labelRef, target int) {
	offset := target - ref.base
	if ref.wide {
		binary.BigEndian.PutUint32(b.bytes[ref.at:], uint32(int32(offset)))
		return
	}
	if offset < -32768 || offset > 32767 {
		panic("branch offset does not fit in 16 bits")
	}
	binary.BigEndian.PutUint16(b.bytes[ref.at:], uint16(int16(offset)))
}

func (b *BytecodeBuilder) ref(label *Label, base int, wide bool) {
	r := labelRef{at: len(b.bytes), base: base, wide: wide}
	if wide {
		b.bytes = append(b.bytes, 0, 0, 0, 0)
	} else {
		b.bytes = append(b.bytes, 0, 0)
	}
	if label.resolved {
		b.patch(r, label.position)
		return
	}
	label.refs = append(label.refs, r)
}

// EmitJump emits a branch instruction to label. goto_w and jsr_w get a
// 32-bit offset.
func (b *BytecodeBuilder) EmitJump(op Opcode, label *Label) {
	base := len(b.bytes)
	b.bytes = append(b.bytes, byte(op))
	b.ref(label, base, op == OpGotoW || op == OpJsrW)
}

// pad aligns the switch operands to a multiple of four from the start of
// the code.
func (b *BytecodeBuilder) pad() {
	for len(b.bytes)%4 != 0 {
		b.bytes = append(b.bytes, 0)
	}
}

// EmitTableswitch emits a tableswitch over low..low+len(targets)-1.
func (b *BytecodeBuilder) EmitTableswitch(low int32, def *Label, targets ...*Label) {
	base := len(b.bytes)
	b.bytes = append(b.bytes, byte(OpTableswitch))
	b.pad()
	b.ref(def, base, true)
	b.bytes = binary.BigEndian.AppendUint32(b.bytes, uint32(low))
	b.bytes = binary.BigEndian.AppendUint32(b.bytes, uint32(low+int32(len(targets))-1))
	for _, t := range targets {
		b.ref(t, base, true)
	}
}

// EmitLookupswitch emits a lookupswitch. keys must be ascending and parallel
// to targets.
func (b *BytecodeBuilder) EmitLookupswitch(def *Label, keys []int32, targets []*Label) {
	base := len(b.bytes)
	b.bytes = append(b.bytes, byte(OpLookupswitch))
	b.pad()
	b.ref(def, base, true)
	b.bytes = binary.BigEndian.AppendUint32(b.bytes, uint32(len(keys)))
	for i, k := range keys {
		b.bytes = binary.BigEndian.AppendUint32(b.bytes, uint32(k))
		b.ref(targets[i], base, true)
	}
}
