package classfile

import (
	"encoding/binary"
	"fmt"
)

// BytecodeStream iterates over the instructions of a code array. All
// multi-byte operands are big-endian.
type BytecodeStream struct {
	code    []byte
	bci     int
	next    int
	opcode  Opcode
	wide    bool
	err     error
	started bool
}

// NewBytecodeStream positions a stream before the first instruction.
func NewBytecodeStream(code []byte) *BytecodeStream {
	return &BytecodeStream{code: code}
}

// Next advances to the next instruction and reports whether there is one.
// After a false return, Err reports whether decoding stopped on bad input.
func (s *BytecodeStream) Next() bool {
	if s.err != nil {
		return false
	}
	if s.started {
		s.bci = s.next
	}
	s.started = true
	if s.bci >= len(s.code) {
		return false
	}
	n, err := InstructionLength(s.code, s.bci)
	if err != nil {
		s.err = err
		return false
	}
	s.opcode = Opcode(s.code[s.bci])
	s.wide = s.opcode == OpWide
	if s.wide {
		s.opcode = Opcode(s.code[s.bci+1])
	}
	s.next = s.bci + n
	return true
}

// Err returns the decoding error that stopped iteration, if any.
func (s *BytecodeStream) Err() error { return s.err }

// BCI returns the offset of the current instruction.
func (s *BytecodeStream) BCI() int { return s.bci }

// NextBCI returns the offset of the following instruction.
func (s *BytecodeStream) NextBCI() int { return s.next }

// Opcode returns the current opcode. For a wide instruction it is the
// modified opcode.
func (s *BytecodeStream) Opcode() Opcode { return s.opcode }

// IsWide reports whether the current instruction carries the wide prefix.
func (s *BytecodeStream) IsWide() bool { return s.wide }

// operand returns the offset of the first operand byte.
func (s *BytecodeStream) operand() int {
	if s.wide {
		return s.bci + 2
	}
	return s.bci + 1
}

func (s *BytecodeStream) ReadU1(off int) int { return int(s.code[s.operand()+off]) }
func (s *BytecodeStream) ReadS1(off int) int { return int(int8(s.code[s.operand()+off])) }
func (s *BytecodeStream) ReadU2(off int) int {
	return int(binary.BigEndian.Uint16(s.code[s.operand()+off:]))
}
func (s *BytecodeStream) ReadS2(off int) int {
	return int(int16(binary.BigEndian.Uint16(s.code[s.operand()+off:])))
}
func (s *BytecodeStream) ReadS4(off int) int {
	return int(int32(binary.BigEndian.Uint32(s.code[s.operand()+off:])))
}

// CPI returns the constant-pool index operand of the current instruction.
func (s *BytecodeStream) CPI() uint16 {
	if s.opcode == OpLdc {
		return uint16(s.ReadU1(0))
	}
	return uint16(s.ReadU2(0))
}

// LocalIndex returns the local variable operand of a load, store, iinc or
// ret, including the implicit index of the _n forms.
func (s *BytecodeStream) LocalIndex() int {
	switch op := s.opcode; {
	case op >= OpIload0 && op <= OpAload3:
		return int(op-OpIload0) % 4
	case op >= OpIstore0 && op <= OpAstore3:
		return int(op-OpIstore0) % 4
	}
	if s.wide {
		return s.ReadU2(0)
	}
	return s.ReadU1(0)
}

// IncrementValue returns the constant of an iinc.
func (s *BytecodeStream) IncrementValue() int {
	if s.wide {
		return s.ReadS2(2)
	}
	return s.ReadS1(1)
}

// BranchDest returns the target of a branch instruction.
func (s *BytecodeStream) BranchDest() int {
	if s.opcode == OpGotoW || s.opcode == OpJsrW {
		return s.bci + s.ReadS4(0)
	}
	return s.bci + s.ReadS2(0)
}

// SwitchTable is a decoded tableswitch or lookupswitch.
type SwitchTable struct {
	Default int   // absolute target
	Keys    []int // match keys, ascending
	Targets []int // absolute targets, parallel to Keys
}

// Switch decodes the current tableswitch or lookupswitch.
func (s *BytecodeStream) Switch() SwitchTable {
	return decodeSwitch(s.code, s.bci)
}

func decodeSwitch(code []byte, bci int) SwitchTable {
	p := (bci + 4) &^ 3
	s4 := func(at int) int { return int(int32(binary.BigEndian.Uint32(code[at:]))) }
	t := SwitchTable{Default: bci + s4(p)}
	if Opcode(code[bci]) == OpTableswitch {
		lo, hi := s4(p+4), s4(p+8)
		for i := 0; i <= hi-lo; i++ {
			t.Keys = append(t.Keys, lo+i)
			t.Targets = append(t.Targets, bci+s4(p+12+4*i))
		}
		return t
	}
	n := s4(p + 4)
	for i := 0; i < n; i++ {
		t.Keys = append(t.Keys, s4(p+8+8*i))
		t.Targets = append(t.Targets, bci+s4(p+12+8*i))
	}
	return t
}

// InstructionLength returns the length in bytes of the instruction at bci,
// checking that it lies entirely within code.
func InstructionLength(code []byte, bci int) (int, error) {
	if bci < 0 || bci >= len(code) {
		return 0, fmt.Errorf("classfile: bci %d outside code of length %d", bci, len(code))
	}
	op := Opcode(code[bci])
	if !op.Valid() {
		return 0, fmt.Errorf("classfile: invalid opcode %d at bci %d", uint8(op), bci)
	}
	n := op.Length()
	switch op {
	case OpWide:
		if bci+1 >= len(code) {
			return 0, fmt.Errorf("classfile: truncated wide at bci %d", bci)
		}
		switch Opcode(code[bci+1]) {
		case OpIinc:
			n = 6
		case OpIload, OpLload, OpFload, OpDload, OpAload,
			OpIstore, OpLstore, OpFstore, OpDstore, OpAstore, OpRet:
			n = 4
		default:
			return 0, fmt.Errorf("classfile: wide applied to %s at bci %d", Opcode(code[bci+1]), bci)
		}
	case OpTableswitch, OpLookupswitch:
		p := (bci + 4) &^ 3
		header := 12
		if op == OpLookupswitch {
			header = 8
		}
		if p+header > len(code) {
			return 0, fmt.Errorf("classfile: truncated %s at bci %d", op, bci)
		}
		if op == OpTableswitch {
			lo := int32(binary.BigEndian.Uint32(code[p+4:]))
			hi := int32(binary.BigEndian.Uint32(code[p+8:]))
			if hi < lo {
				return 0, fmt.Errorf("classfile: tableswitch at bci %d has high %d < low %d", bci, hi, lo)
			}
			n = p + 12 + 4*int(int64(hi)-int64(lo)+1) - bci
		} else {
			npairs := int32(binary.BigEndian.Uint32(code[p+4:]))
			if npairs < 0 {
				return 0, fmt.Errorf("classfile: lookupswitch at bci %d has %d pairs", bci, npairs)
			}
			n = p + 8 + 8*int(npairs) - bci
		}
	}
	if bci+n > len(code) {
		return 0, fmt.Errorf("classfile: truncated %s at bci %d", op, bci)
	}
	return n, nil
}
