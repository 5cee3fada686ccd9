package asm

import (
	"encoding/binary"
	"fmt"
)

// ppc64 register roles. General purpose registers are r0..r31.
const (
	PPCR0  Register = 0
	PPCSP  Register = 1  // stack pointer
	PPCTOC Register = 2  // table of contents, base of the data area
	PPCR3  Register = 3  // first argument / return value
	PPCR4  Register = 4
	PPCR11 Register = 11 // scratch
	PPCR12 Register = 12
	PPCR30 Register = 30 // thread
	PPCR31 Register = 31 // frame pointer
)

var ppc64Registers = func() *RegisterFile {
	names := make([]string, 32)
	for i := range names {
		names[i] = fmt.Sprintf("r%d", i)
	}
	return &RegisterFile{
		Names:       names,
		ReturnReg:   PPCR3,
		ScratchReg:  PPCR11,
		ReceiverReg: PPCR4,
		FrameReg:    PPCR31,
		StackReg:    PPCSP,
		ThreadReg:   PPCR30,
	}
}()

// Instruction formats, with fields numbered from the most significant bit
// as in the Power ISA books.
var (
	ppcI = MustFormat("I",
		Field{Name: "opcd", Range: MustBitRange(0, 5, Descending)},
		Field{Name: "li", Range: MustBitRange(6, 29, Descending), Signed: true},
		Field{Name: "aa", Range: MustBitRange(30, 30, Descending)},
		Field{Name: "lk", Range: MustBitRange(31, 31, Descending)},
	)
	ppcB = MustFormat("B",
		Field{Name: "opcd", Range: MustBitRange(0, 5, Descending)},
		Field{Name: "bo", Range: MustBitRange(6, 10, Descending)},
		Field{Name: "bi", Range: MustBitRange(11, 15, Descending)},
		Field{Name: "bd", Range: MustBitRange(16, 29, Descending), Signed: true},
		Field{Name: "aa", Range: MustBitRange(30, 30, Descending)},
		Field{Name: "lk", Range: MustBitRange(31, 31, Descending)},
	)
	ppcD = MustFormat("D",
		Field{Name: "opcd", Range: MustBitRange(0, 5, Descending)},
		Field{Name: "rt", Range: MustBitRange(6, 10, Descending)},
		Field{Name: "ra", Range: MustBitRange(11, 15, Descending)},
		Field{Name: "d", Range: MustBitRange(16, 31, Descending), Signed: true},
	)
	ppcDS = MustFormat("DS",
		Field{Name: "opcd", Range: MustBitRange(0, 5, Descending)},
		Field{Name: "rt", Range: MustBitRange(6, 10, Descending)},
		Field{Name: "ra", Range: MustBitRange(11, 15, Descending)},
		Field{Name: "ds", Range: MustBitRange(16, 29, Descending), Signed: true},
		Field{Name: "xo", Range: MustBitRange(30, 31, Descending)},
	)
	ppcXL = MustFormat("XL",
		Field{Name: "opcd", Range: MustBitRange(0, 5, Descending)},
		Field{Name: "bo", Range: MustBitRange(6, 10, Descending)},
		Field{Name: "bi", Range: MustBitRange(11, 15, Descending)},
		Field{Name: "xo", Range: MustBitRange(21, 30, Descending)},
		Field{Name: "lk", Range: MustBitRange(31, 31, Descending)},
	)
	ppcXFX = MustFormat("XFX",
		Field{Name: "opcd", Range: MustBitRange(0, 5, Descending)},
		Field{Name: "rt", Range: MustBitRange(6, 10, Descending)},
		Field{Name: "spr", Range: MustBitRange(11, 20, Descending)},
		Field{Name: "xo", Range: MustBitRange(21, 30, Descending)},
	)
	ppcX = MustFormat("X",
		Field{Name: "opcd", Range: MustBitRange(0, 5, Descending)},
		Field{Name: "rs", Range: MustBitRange(6, 10, Descending)},
		Field{Name: "ra", Range: MustBitRange(11, 15, Descending)},
		Field{Name: "rb", Range: MustBitRange(16, 20, Descending)},
		Field{Name: "xo", Range: MustBitRange(21, 30, Descending)},
		Field{Name: "rc", Range: MustBitRange(31, 31, Descending)},
	)
)

// Primary and extended opcodes used by the templates.
const (
	ppcOpB     = 18
	ppcOpBC    = 16
	ppcOpXL    = 19
	ppcOpX     = 31
	ppcOpAddi  = 14
	ppcOpAddis = 15
	ppcOpOri   = 24
	ppcOpLwz   = 32
	ppcOpCmpi  = 11
	ppcOpLd    = 58
	ppcOpStd   = 62

	ppcXoBclr  = 16
	ppcXoBcctr = 528
	ppcXoMfspr = 339
	ppcXoMtspr = 467
	ppcXoOr    = 444

	ppcSprLR  = 8
	ppcSprCTR = 9

	ppcBoAlways = 20
	ppcBoTrue   = 12
	ppcBoFalse  = 4
	ppcBiEQ     = 2
)

// sprField swaps the two 5-bit halves of an SPR number as the encoding requires.
func sprField(spr int64) int64 {
	return (spr&0x1f)<<5 | (spr >> 5)
}

// PPC64 encodes 64-bit big-endian Power instruction templates.
type PPC64 struct {
	buf *CodeBuffer
}

// NewPPC64 creates a ppc64 assembler.
func NewPPC64(capacity int) *PPC64 {
	return &PPC64{buf: NewCodeBuffer(binary.BigEndian, capacity)}
}

func (a *PPC64) Arch() Arch               { return ArchPPC64 }
func (a *PPC64) Registers() *RegisterFile { return ppc64Registers }
func (a *PPC64) CodeBuffer() *CodeBuffer  { return a.buf }

// Bind sets l to the current position.
func (a *PPC64) Bind(l *Label) {
	l.bind(a.buf.Position())
}

func (a *PPC64) emit(f *Format, values map[string]int64) int {
	pos := a.buf.Position()
	a.buf.EmitInt32(f.MustEncode(values))
	return pos
}

func (a *PPC64) addi(rt, ra Register, imm int64) {
	a.emit(ppcD, map[string]int64{"opcd": ppcOpAddi, "rt": int64(rt), "ra": int64(ra), "d": imm})
}

func (a *PPC64) mfspr(rt Register, spr int64) {
	a.emit(ppcXFX, map[string]int64{"opcd": ppcOpX, "rt": int64(rt), "spr": sprField(spr), "xo": ppcXoMfspr})
}

func (a *PPC64) mtspr(spr int64, rs Register) {
	a.emit(ppcXFX, map[string]int64{"opcd": ppcOpX, "rt": int64(rs), "spr": sprField(spr), "xo": ppcXoMtspr})
}

func (a *PPC64) mr(dst, src Register) {
	a.emit(ppcX, map[string]int64{"opcd": ppcOpX, "rs": int64(src), "ra": int64(dst), "rb": int64(src), "xo": ppcXoOr})
}

func (a *PPC64) ds(op int64, rt, ra Register, disp int32, xo int64) int {
	if disp%4 != 0 {
		panic(fmt.Sprintf("asm: ppc64 DS displacement %d is not word aligned", disp))
	}
	return a.emit(ppcDS, map[string]int64{"opcd": op, "rt": int64(rt), "ra": int64(ra), "ds": int64(disp / 4), "xo": xo})
}

// Enter saves the link register and allocates the frame with stdu.
func (a *PPC64) Enter(frameSize int) {
	a.mfspr(PPCR0, ppcSprLR)
	a.ds(ppcOpStd, PPCR0, PPCSP, 16, 0)
	a.ds(ppcOpStd, PPCR31, PPCSP, -8, 0)
	a.ds(ppcOpStd, PPCSP, PPCSP, int32(-frameSize), 1)
	a.mr(PPCR31, PPCSP)
}

// Leave pops the frame and restores the link register.
func (a *PPC64) Leave(frameSize int) {
	a.addi(PPCSP, PPCSP, int64(frameSize))
	a.ds(ppcOpLd, PPCR0, PPCSP, 16, 0)
	a.ds(ppcOpLd, PPCR31, PPCSP, -8, 0)
	a.mtspr(ppcSprLR, PPCR0)
}

// Ret emits blr.
func (a *PPC64) Ret() {
	a.emit(ppcXL, map[string]int64{"opcd": ppcOpXL, "bo": ppcBoAlways, "xo": ppcXoBclr})
}

// Call emits bl with a zero displacement for the installer to patch.
func (a *PPC64) Call() (pos, size int) {
	pos = a.emit(ppcI, map[string]int64{"opcd": ppcOpB, "lk": 1})
	return pos, 4
}

// CallIndirect emits mtctr r; bctrl.
func (a *PPC64) CallIndirect(r Register) (pos, size int) {
	pos = a.buf.Position()
	a.mtspr(ppcSprCTR, r)
	a.emit(ppcXL, map[string]int64{"opcd": ppcOpXL, "bo": ppcBoAlways, "xo": ppcXoBcctr, "lk": 1})
	return pos, a.buf.Position() - pos
}

// Jump emits b to l.
func (a *PPC64) Jump(l *Label) {
	pos := a.emit(ppcI, map[string]int64{"opcd": ppcOpB})
	l.addRef(pos, func(pos, target int) {
		word := a.buf.Int32At(pos)
		li, _ := ppcI.Field("li")
		a.buf.PatchInt32(pos, li.Range.InsertSigned(word, int32((target-pos)/4)))
	})
}

// branchRef patches the bd field of the conditional branch at pos once l
// is bound.
func (a *PPC64) branchRef(pos int, l *Label) {
	l.addRef(pos, func(pos, target int) {
		word := a.buf.Int32At(pos)
		bd, _ := ppcB.Field("bd")
		a.buf.PatchInt32(pos, bd.Range.InsertSigned(word, int32((target-pos)/4)))
	})
}

// BranchNonZero emits cmpdi r, 0; bne l.
func (a *PPC64) BranchNonZero(r Register, l *Label) {
	// cmpdi cr0, r, 0 is a D-form compare with L=1 in the rt field.
	a.emit(ppcD, map[string]int64{"opcd": ppcOpCmpi, "rt": 1, "ra": int64(r), "d": 0})
	pos := a.emit(ppcB, map[string]int64{"opcd": ppcOpBC, "bo": ppcBoFalse, "bi": ppcBiEQ})
	a.branchRef(pos, l)
}

// BranchEqual emits cmpdi r, imm; beq l. Immediates outside 16 bits are
// loaded into r12 and compared with cmpd.
func (a *PPC64) BranchEqual(r Register, imm int32, l *Label) {
	if imm >= -(1<<15) && imm < 1<<15 {
		a.emit(ppcD, map[string]int64{"opcd": ppcOpCmpi, "rt": 1, "ra": int64(r), "d": int64(imm)})
	} else {
		a.LoadImm(PPCR12, int64(imm))
		a.emit(ppcX, map[string]int64{"opcd": ppcOpX, "rs": 1, "ra": int64(r), "rb": int64(PPCR12)})
	}
	pos := a.emit(ppcB, map[string]int64{"opcd": ppcOpBC, "bo": ppcBoTrue, "bi": ppcBiEQ})
	a.branchRef(pos, l)
}

// LoadImm materializes imm. Values outside 32 bits are loaded from the data
// area instead.
func (a *PPC64) LoadImm(r Register, imm int64) {
	if imm >= -(1<<15) && imm < 1<<15 {
		a.addi(r, 0, imm)
		return
	}
	if imm >= -(1<<31) && imm < (1<<31)-0x8000 {
		hi := (imm + 0x8000) >> 16
		lo := imm - hi<<16
		a.emit(ppcD, map[string]int64{"opcd": ppcOpAddis, "rt": int64(r), "ra": 0, "d": hi})
		a.addi(r, r, lo)
		return
	}
	panic(fmt.Sprintf("asm: ppc64 immediate %#x needs a data reference", imm))
}

// LoadData emits ld r, 0(toc); the displacement is patched at install time.
func (a *PPC64) LoadData(r Register) (pos int) {
	return a.ds(ppcOpLd, r, PPCTOC, 0, 0)
}

// Load emits ld dst, disp(base).
func (a *PPC64) Load(dst, base Register, disp int32) (pos int) {
	return a.ds(ppcOpLd, dst, base, disp, 0)
}

// Store emits std src, disp(base).
func (a *PPC64) Store(base Register, disp int32, src Register) (pos int) {
	return a.ds(ppcOpStd, src, base, disp, 0)
}

// SafepointPoll emits lwz r0, 0(thread).
func (a *PPC64) SafepointPoll() (pos int) {
	return a.emit(ppcD, map[string]int64{"opcd": ppcOpLwz, "rt": int64(PPCR0), "ra": int64(ppc64Registers.ThreadReg), "d": 0})
}

// Nop emits ori 0, 0, 0.
func (a *PPC64) Nop() {
	a.emit(ppcD, map[string]int64{"opcd": ppcOpOri})
}
