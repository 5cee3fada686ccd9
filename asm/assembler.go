package asm

import (
	"fmt"
)

// Arch names a target instruction set.
type Arch string

const (
	ArchAMD64 Arch = "amd64"
	ArchPPC64 Arch = "ppc64"
)

// Register is an architecture-specific register number.
type Register int

// RegisterFile describes the registers of an architecture and the roles the
// compiler assigns to them.
type RegisterFile struct {
	Names []string

	ReturnReg   Register // holds call results
	ScratchReg  Register // free for template use between instructions
	ReceiverReg Register // first argument / receiver
	FrameReg    Register // frame pointer
	StackReg    Register // stack pointer
	ThreadReg   Register // points at thread-local state, including the safepoint page
}

// Name returns the register's assembler name.
func (f *RegisterFile) Name(r Register) string {
	if int(r) >= 0 && int(r) < len(f.Names) {
		return f.Names[r]
	}
	return fmt.Sprintf("r?%d", int(r))
}

// Count returns the number of registers in the file.
func (f *RegisterFile) Count() int {
	return len(f.Names)
}

// Assembler emits instruction templates into a CodeBuffer. Every method
// appends at the current buffer position.
type Assembler interface {
	Arch() Arch
	Registers() *RegisterFile
	CodeBuffer() *CodeBuffer

	// Bind sets l to the current position.
	Bind(l *Label)

	// Enter builds a frame of frameSize bytes; Leave tears it down.
	Enter(frameSize int)
	Leave(frameSize int)
	Ret()

	// Call emits a patchable direct call. It returns the position of the
	// first byte of the call instruction and the instruction size.
	Call() (pos, size int)
	// CallIndirect calls through the address held in r.
	CallIndirect(r Register) (pos, size int)

	Jump(l *Label)
	BranchNonZero(r Register, l *Label)
	// BranchEqual branches to l when the 64-bit value in r equals imm.
	BranchEqual(r Register, imm int32, l *Label)

	// LoadImm materializes a constant in r.
	LoadImm(r Register, imm int64)
	// LoadData loads a patchable data word into r and returns the position
	// of the instruction, which the caller records as a data reference.
	LoadData(r Register) (pos int)

	// Load and Store access memory at base+disp. Both may fault when base
	// is null, which the runtime maps to an implicit exception.
	Load(dst, base Register, disp int32) (pos int)
	Store(base Register, disp int32, src Register) (pos int)

	// SafepointPoll reads the thread's safepoint page and returns the
	// position of the faulting instruction.
	SafepointPoll() (pos int)
	Nop()
}

// New returns an assembler for arch with a buffer of the given capacity.
func New(arch Arch, capacity int) (Assembler, error) {
	switch arch {
	case ArchAMD64:
		return NewAMD64(capacity), nil
	case ArchPPC64:
		return NewPPC64(capacity), nil
	}
	return nil, fmt.Errorf("asm: unsupported architecture %q", arch)
}

// WordSize returns the pointer size of arch in bytes.
func WordSize(arch Arch) int {
	return 8
}

// StackAlignment returns the required frame alignment of arch in bytes.
func StackAlignment(arch Arch) int {
	return 16
}
