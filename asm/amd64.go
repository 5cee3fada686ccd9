package asm

import (
	"encoding/binary"
	"fmt"
)

// amd64 register numbers.
const (
	RAX Register = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

var amd64Registers = &RegisterFile{
	Names: []string{
		"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
		"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
	},
	ReturnReg:   RAX,
	ScratchReg:  R11,
	ReceiverReg: RSI,
	FrameReg:    RBP,
	StackReg:    RSP,
	ThreadReg:   R15,
}

// ModRM, SIB and REX byte layouts.
var (
	modRMFormat = MustFormat("modrm",
		Field{Name: "mod", Range: MustBitRange(6, 7, Ascending)},
		Field{Name: "reg", Range: MustBitRange(3, 5, Ascending)},
		Field{Name: "rm", Range: MustBitRange(0, 2, Ascending)},
	)
	rexFormat = MustFormat("rex",
		Field{Name: "fixed", Range: MustBitRange(4, 7, Ascending)},
		Field{Name: "w", Range: MustBitRange(3, 3, Ascending)},
		Field{Name: "r", Range: MustBitRange(2, 2, Ascending)},
		Field{Name: "x", Range: MustBitRange(1, 1, Ascending)},
		Field{Name: "b", Range: MustBitRange(0, 0, Ascending)},
	)
	sibFormat = MustFormat("sib",
		Field{Name: "scale", Range: MustBitRange(6, 7, Ascending)},
		Field{Name: "index", Range: MustBitRange(3, 5, Ascending)},
		Field{Name: "base", Range: MustBitRange(0, 2, Ascending)},
	)
)

const (
	modIndirect = 0
	modDisp8    = 1
	modDisp32   = 2
	modDirect   = 3
)

// AMD64 encodes x86-64 instruction templates.
type AMD64 struct {
	buf *CodeBuffer
}

// NewAMD64 creates an amd64 assembler.
func NewAMD64(capacity int) *AMD64 {
	return &AMD64{buf: NewCodeBuffer(binary.LittleEndian, capacity)}
}

func (a *AMD64) Arch() Arch               { return ArchAMD64 }
func (a *AMD64) Registers() *RegisterFile { return amd64Registers }
func (a *AMD64) CodeBuffer() *CodeBuffer  { return a.buf }

// Bind sets l to the current position.
func (a *AMD64) Bind(l *Label) {
	l.bind(a.buf.Position())
}

func modRM(mod int, reg, rm Register) byte {
	return byte(modRMFormat.MustEncode(map[string]int64{
		"mod": int64(mod),
		"reg": int64(reg) & 7,
		"rm":  int64(rm) & 7,
	}))
}

func rex(w bool, reg, index, base Register) byte {
	v := map[string]int64{"fixed": 0x4}
	if w {
		v["w"] = 1
	}
	if reg >= 8 {
		v["r"] = 1
	}
	if index >= 8 {
		v["x"] = 1
	}
	if base >= 8 {
		v["b"] = 1
	}
	return byte(rexFormat.MustEncode(v))
}

func checkRegister(r Register) {
	if r < 0 || int(r) >= amd64Registers.Count() {
		panic(fmt.Sprintf("asm: invalid amd64 register %d", int(r)))
	}
}

// emitMemOperand emits the ModRM (and SIB) bytes plus displacement for
// [base+disp] with reg in the reg field.
func (a *AMD64) emitMemOperand(reg, base Register, disp int32) {
	mod := modDisp32
	switch {
	case disp == 0 && base&7 != RBP:
		mod = modIndirect
	case disp >= -128 && disp <= 127:
		mod = modDisp8
	}
	a.buf.EmitByte(modRM(mod, reg, base))
	if base&7 == RSP {
		a.buf.EmitByte(byte(sibFormat.MustEncode(map[string]int64{
			"scale": 0, "index": int64(RSP), "base": int64(RSP),
		})))
	}
	switch mod {
	case modDisp8:
		a.buf.EmitByte(byte(int8(disp)))
	case modDisp32:
		a.buf.EmitInt32(uint32(disp))
	}
}

// Enter emits push rbp; mov rbp, rsp; sub rsp, frameSize.
func (a *AMD64) Enter(frameSize int) {
	a.buf.EmitByte(0x55)
	a.buf.EmitBytes(rex(true, RSP, 0, RBP), 0x89, modRM(modDirect, RSP, RBP))
	if frameSize > 0 {
		a.buf.EmitBytes(rex(true, 0, 0, RSP), 0x81, modRM(modDirect, 5, RSP))
		a.buf.EmitInt32(uint32(int32(frameSize)))
	}
}

// Leave emits mov rsp, rbp; pop rbp.
func (a *AMD64) Leave(frameSize int) {
	a.buf.EmitBytes(rex(true, RBP, 0, RSP), 0x89, modRM(modDirect, RBP, RSP))
	a.buf.EmitByte(0x5D)
}

// Ret emits ret.
func (a *AMD64) Ret() {
	a.buf.EmitByte(0xC3)
}

// Call emits call rel32 with a zero displacement for the installer to patch.
func (a *AMD64) Call() (pos, size int) {
	pos = a.buf.Position()
	a.buf.EmitByte(0xE8)
	a.buf.EmitInt32(0)
	return pos, a.buf.Position() - pos
}

// CallIndirect emits call r.
func (a *AMD64) CallIndirect(r Register) (pos, size int) {
	checkRegister(r)
	pos = a.buf.Position()
	if r >= 8 {
		a.buf.EmitByte(rex(false, 0, 0, r))
	}
	a.buf.EmitBytes(0xFF, modRM(modDirect, 2, r))
	return pos, a.buf.Position() - pos
}

func (a *AMD64) patchRel32(pos, target int) {
	a.buf.PatchInt32(pos, uint32(int32(target-(pos+4))))
}

// Jump emits jmp rel32 to l.
func (a *AMD64) Jump(l *Label) {
	a.buf.EmitByte(0xE9)
	dispPos := a.buf.Position()
	a.buf.EmitInt32(0)
	l.addRef(dispPos, a.patchRel32)
}

// BranchNonZero emits test r, r; jnz rel32 to l.
func (a *AMD64) BranchNonZero(r Register, l *Label) {
	checkRegister(r)
	a.buf.EmitBytes(rex(true, r, 0, r), 0x85, modRM(modDirect, r, r))
	a.buf.EmitBytes(0x0F, 0x85)
	dispPos := a.buf.Position()
	a.buf.EmitInt32(0)
	l.addRef(dispPos, a.patchRel32)
}

// BranchEqual emits cmp r, imm32; je rel32 to l.
func (a *AMD64) BranchEqual(r Register, imm int32, l *Label) {
	checkRegister(r)
	a.buf.EmitBytes(rex(true, 0, 0, r), 0x81, modRM(modDirect, 7, r))
	a.buf.EmitInt32(uint32(imm))
	a.buf.EmitBytes(0x0F, 0x84)
	dispPos := a.buf.Position()
	a.buf.EmitInt32(0)
	l.addRef(dispPos, a.patchRel32)
}

// LoadImm emits movabs r, imm.
func (a *AMD64) LoadImm(r Register, imm int64) {
	checkRegister(r)
	a.buf.EmitBytes(rex(true, 0, 0, r), 0xB8+byte(r&7))
	a.buf.EmitInt64(uint64(imm))
}

// LoadData emits mov r, [rip+0]; the displacement is patched at install time.
func (a *AMD64) LoadData(r Register) (pos int) {
	checkRegister(r)
	pos = a.buf.Position()
	a.buf.EmitBytes(rex(true, r, 0, 0), 0x8B, modRM(modIndirect, r, RBP))
	a.buf.EmitInt32(0)
	return pos
}

// Load emits mov dst, [base+disp].
func (a *AMD64) Load(dst, base Register, disp int32) (pos int) {
	checkRegister(dst)
	checkRegister(base)
	pos = a.buf.Position()
	a.buf.EmitBytes(rex(true, dst, 0, base), 0x8B)
	a.emitMemOperand(dst, base, disp)
	return pos
}

// Store emits mov [base+disp], src.
func (a *AMD64) Store(base Register, disp int32, src Register) (pos int) {
	checkRegister(src)
	checkRegister(base)
	pos = a.buf.Position()
	a.buf.EmitBytes(rex(true, src, 0, base), 0x89)
	a.emitMemOperand(src, base, disp)
	return pos
}

// SafepointPoll emits test [thread], eax.
func (a *AMD64) SafepointPoll() (pos int) {
	pos = a.buf.Position()
	t := amd64Registers.ThreadReg
	if t >= 8 {
		a.buf.EmitByte(rex(false, RAX, 0, t))
	}
	a.buf.EmitByte(0x85)
	a.emitMemOperand(RAX, t, 0)
	return pos
}

// Nop emits a one-byte nop.
func (a *AMD64) Nop() {
	a.buf.EmitByte(0x90)
}
