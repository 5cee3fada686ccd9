package pipeline

import (
	"fmt"
	"math"

	"github.com/chazu/tiercomp/asm"
	"github.com/chazu/tiercomp/classfile"
	"github.com/chazu/tiercomp/cpool"
	"github.com/chazu/tiercomp/ir"
	"github.com/chazu/tiercomp/target"
)

// Object layout assumed by the templates.
const (
	HubOffset         = 0  // hub pointer in every object header
	ArrayLengthOffset = 8  // length word in array headers
	VTableOffset      = 16 // first vtable entry in a hub
	ArrayBaseOffset   = cpool.ObjectHeaderSize

	ppcLinkageArea = 32
)

// frameLayout places locals and operand stack slots in the frame. Slot i
// lives at base + i*step from the frame register.
type frameLayout struct {
	base int32
	step int32
	size int
}

func roundUp(n, align int) int {
	return (n + align - 1) / align * align
}

func newFrameLayout(arch asm.Arch, slots int) frameLayout {
	word := asm.WordSize(arch)
	align := asm.StackAlignment(arch)
	if arch == asm.ArchPPC64 {
		// r31 holds the new stack pointer; slots sit above the linkage area.
		return frameLayout{base: ppcLinkageArea, step: int32(word), size: roundUp(ppcLinkageArea+slots*word, align)}
	}
	return frameLayout{base: -int32(word), step: -int32(word), size: roundUp(slots*word, align)}
}

func (f frameLayout) slot(i int) int32 { return f.base + int32(i)*f.step }

// ---------------------------------------------------------------------------
// Lowerer
// ---------------------------------------------------------------------------

// Lowerer emits baseline machine-code templates for one IR method through
// a TargetMethodAssembler. Every bytecode local and operand stack slot has
// a home in the frame; templates move values through the scratch, return
// and receiver registers. Operands are passed to callees in the caller's
// stack slots; runtime calls take their arguments in the receiver and
// scratch registers.
//
// Lowerer implements ir.Visitor.
type Lowerer struct {
	method   *ir.Method
	resolver cpool.Resolver
	tma      *target.TargetMethodAssembler
	a        asm.Assembler
	regs     *asm.RegisterFile
	frame    frameLayout

	depths   []int
	labels   []*asm.Label
	handlers [][]*target.ExceptionHandler // per block, innermost first

	depth int  // operand stack depth before the current instruction
	skip  bool // current block is unreachable
}

// NewLowerer prepares the lowering of m. It fails when m uses a bytecode
// the templates do not cover or when stack depths are inconsistent.
func NewLowerer(m *ir.Method, resolver cpool.Resolver, tma *target.TargetMethodAssembler) (*Lowerer, error) {
	depths, err := stackDepths(m, resolver.Pool())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", m.Name, err)
	}
	l := &Lowerer{
		method:   m,
		resolver: resolver,
		tma:      tma,
		a:        tma.Asm,
		regs:     tma.Asm.Registers(),
		frame:    newFrameLayout(tma.Asm.Arch(), m.MaxLocals+m.MaxStack),
		depths:   depths,
		labels:   make([]*asm.Label, len(m.Blocks)),
		handlers: make([][]*target.ExceptionHandler, len(m.Blocks)),
	}
	for i := range l.labels {
		l.labels[i] = asm.NewLabel()
	}

	// One pending handler per exception table entry, shared by every block
	// it covers.
	entries := make([]*target.ExceptionHandler, len(m.Handlers))
	for i, h := range m.Handlers {
		hb := m.BlockAt(int(h.HandlerPC))
		entries[i] = &target.ExceptionHandler{
			Entry:        l.labels[hb.ID],
			HandlerBCI:   int(h.HandlerPC),
			CatchTypeCPI: h.CatchTypeIndex,
		}
	}
	for _, b := range m.Blocks {
		for _, hi := range b.Handlers {
			l.handlers[b.ID] = append(l.handlers[b.ID], entries[hi])
		}
	}
	return l, nil
}

// FrameSize returns the frame size in bytes.
func (l *Lowerer) FrameSize() int { return l.frame.size }

// Lower emits the whole method: entry marks, prologue and every reachable
// block.
func (l *Lowerer) Lower() error {
	l.tma.SetFrameSize(l.frame.size)
	unverified := l.tma.RecordMark(target.MarkUnverifiedEntry)
	l.a.Nop()
	l.tma.RecordMark(target.MarkVerifiedEntry, unverified)
	l.a.Enter(l.frame.size)
	return l.method.Walk(l)
}

func (l *Lowerer) localSlot(i int) int32 { return l.frame.slot(i) }
func (l *Lowerer) stackSlot(i int) int32 { return l.frame.slot(l.method.MaxLocals + i) }

// top returns the slot n positions below the current depth; top(1) is the
// topmost slot.
func (l *Lowerer) top(n int) int32 { return l.stackSlot(l.depth - n) }

func (l *Lowerer) load(r asm.Register, off int32) int {
	return l.a.Load(r, l.regs.FrameReg, off)
}

func (l *Lowerer) store(off int32, r asm.Register) int {
	return l.a.Store(l.regs.FrameReg, off, r)
}

func (l *Lowerer) label(bci int) *asm.Label {
	return l.labels[l.method.BlockAt(bci).ID]
}

// debugInfo describes the frame before the instruction at bci executes.
func (l *Lowerer) debugInfo(b *ir.Block, bci int) *target.DebugInfo {
	fr := &target.Frame{
		Method: l.method.Name,
		BCI:    bci,
		Locals: make([]target.Location, l.method.MaxLocals),
		Stack:  make([]target.Location, l.depth),
	}
	for i := range fr.Locals {
		fr.Locals[i] = target.OnStack(l.localSlot(i), false)
	}
	for i := range fr.Stack {
		fr.Stack[i] = target.OnStack(l.stackSlot(i), false)
	}
	return &target.DebugInfo{BCI: bci, Frame: fr, Handlers: l.handlers[b.ID]}
}

// call emits a direct call to callee, registering the handlers active at
// the call site first.
func (l *Lowerer) call(callee any, info *target.DebugInfo) {
	l.tma.RecordExceptionHandlers(l.tma.Position(), info)
	pos, size := l.a.Call()
	l.tma.RecordDirectCall(pos, size, callee, info)
}

func (l *Lowerer) callIndirect(r asm.Register, callee any, info *target.DebugInfo) {
	l.tma.RecordExceptionHandlers(l.tma.Position(), info)
	pos, size := l.a.CallIndirect(r)
	l.tma.RecordIndirectCall(pos, size, callee, info)
}

// loadType materializes the class named at cpi as a data reference.
func (l *Lowerer) loadType(r asm.Register, cpi uint16) {
	t := l.resolver.LookupType(cpi)
	l.tma.RecordDataReferenceInCode(cpool.Constant{Tag: cpool.TagClass, Value: t})
	l.a.LoadData(r)
}

func (l *Lowerer) VisitBlock(b *ir.Block) error {
	l.a.Bind(l.labels[b.ID])
	l.depth = l.depths[b.ID]
	l.skip = l.depth < 0
	if l.skip {
		l.tma.BlockComment(fmt.Sprintf("B%d unreachable", b.ID))
		return nil
	}
	l.tma.BlockComment(fmt.Sprintf("B%d bci %d", b.ID, b.Start))
	if b.ExceptionEntry {
		// The runtime delivers the exception object in the return register.
		l.tma.RecordMark(target.MarkExceptionHandlerEntry)
		l.store(l.stackSlot(0), l.regs.ReturnReg)
	}
	if b.LoopHeader {
		pos := l.a.SafepointPoll()
		l.tma.RecordSafepoint(pos, l.debugInfo(b, b.Start))
	}
	return nil
}

func (l *Lowerer) VisitInstruction(b *ir.Block, insn *ir.Instruction) error {
	if l.skip {
		return nil
	}
	e, err := stackEffect(insn, l.resolver.Pool())
	if err != nil {
		return fmt.Errorf("%s: %w", l.method.Name, err)
	}
	if err := l.lower(b, insn, e); err != nil {
		return fmt.Errorf("%s: bci %d: %w", l.method.Name, insn.BCI, err)
	}
	l.depth += e.push - e.pop
	return nil
}

func (l *Lowerer) lower(b *ir.Block, insn *ir.Instruction, e effect) error {
	var (
		op      = insn.Op
		scratch = l.regs.ScratchReg
		ret     = l.regs.ReturnReg
		recv    = l.regs.ReceiverReg
		result  = l.stackSlot(l.depth - e.pop) // first slot written by the instruction
	)

	switch {
	case op == classfile.OpNop:

	case op <= classfile.OpSipush:
		l.a.LoadImm(scratch, constValue(insn))
		l.store(result, scratch)

	case op == classfile.OpLdc, op == classfile.OpLdcW, op == classfile.OpLdc2W:
		c, err := l.resolver.LookupConstant(insn.CPI())
		if err != nil {
			return err
		}
		if op == classfile.OpLdc2W {
			l.tma.RecordAlignedDataReferenceInCode(c, 8)
		} else {
			l.tma.RecordDataReferenceInCode(c)
		}
		l.a.LoadData(scratch)
		l.store(result, scratch)

	case op == classfile.OpIinc:
		local := l.localSlot(insn.Arg(0))
		l.load(scratch, local)
		l.a.LoadImm(ret, int64(insn.Arg(1)))
		l.store(local, scratch)

	case op.Has(classfile.FlagLoad):
		l.load(scratch, l.localSlot(insn.Arg(0)))
		l.store(result, scratch)

	case op.Has(classfile.FlagStore):
		l.load(scratch, l.top(e.pop))
		l.store(l.localSlot(insn.Arg(0)), scratch)

	case op >= classfile.OpIaload && op <= classfile.OpSaload:
		l.load(recv, l.top(2))
		l.load(scratch, l.top(1))
		pos := l.a.Load(ret, recv, ArrayLengthOffset)
		l.tma.RecordImplicitException(pos, l.debugInfo(b, insn.BCI))
		l.a.Load(scratch, recv, ArrayBaseOffset)
		l.store(result, scratch)

	case op >= classfile.OpIastore && op <= classfile.OpSastore:
		l.load(recv, l.top(e.pop))
		l.load(scratch, l.top(e.pop-1))
		pos := l.a.Load(ret, recv, ArrayLengthOffset)
		l.tma.RecordImplicitException(pos, l.debugInfo(b, insn.BCI))
		l.load(ret, l.top(e.pop-2))
		l.a.Store(recv, ArrayBaseOffset, ret)

	case op == classfile.OpGoto, op == classfile.OpGotoW:
		l.a.Jump(l.label(insn.Arg(0)))

	case op.Has(classfile.FlagBranch | classfile.FlagConditional):
		l.branch(insn, e)

	case op.Has(classfile.FlagSwitch):
		l.load(scratch, l.top(1))
		for i, k := range insn.Switch.Keys {
			l.a.BranchEqual(scratch, int32(k), l.label(insn.Switch.Targets[i]))
		}
		l.a.Jump(l.label(insn.Switch.Default))

	case op.Has(classfile.FlagReturn):
		if e.pop > 0 {
			l.load(ret, l.top(e.pop))
		}
		l.a.Leave(l.frame.size)
		l.a.Ret()

	case op.Has(classfile.FlagFieldAccess):
		return l.fieldAccess(b, insn, e)

	case op.Has(classfile.FlagInvoke):
		return l.invoke(b, insn, e)

	case op == classfile.OpNew:
		info := l.debugInfo(b, insn.BCI)
		l.loadType(recv, insn.CPI())
		l.call(target.RuntimeNewInstance, info)
		l.store(result, ret)

	case op == classfile.OpNewarray:
		info := l.debugInfo(b, insn.BCI)
		l.load(scratch, l.top(1))
		l.a.LoadImm(recv, int64(insn.Arg(0)))
		l.call(target.RuntimeNewArray, info)
		l.store(result, ret)

	case op == classfile.OpAnewarray, op == classfile.OpMultianewarray:
		info := l.debugInfo(b, insn.BCI)
		if op == classfile.OpAnewarray {
			l.load(scratch, l.top(1))
		} else {
			l.a.LoadImm(scratch, int64(insn.Arg(1)))
		}
		l.loadType(recv, insn.CPI())
		l.call(target.RuntimeNewArray, info)
		l.store(result, ret)

	case op == classfile.OpArraylength:
		l.load(recv, l.top(1))
		pos := l.a.Load(ret, recv, ArrayLengthOffset)
		l.tma.RecordImplicitException(pos, l.debugInfo(b, insn.BCI))
		l.store(result, ret)

	case op == classfile.OpAthrow:
		info := l.debugInfo(b, insn.BCI)
		l.load(recv, l.top(1))
		l.call(target.RuntimeThrow, info)

	case op == classfile.OpCheckcast, op == classfile.OpInstanceof:
		info := l.debugInfo(b, insn.BCI)
		l.load(recv, l.top(1))
		l.loadType(scratch, insn.CPI())
		if op == classfile.OpCheckcast {
			l.call(target.RuntimeCheckcast, info)
		} else {
			l.call(target.RuntimeInstanceof, info)
			l.store(result, ret)
		}

	case op == classfile.OpMonitorenter, op == classfile.OpMonitorexit:
		info := l.debugInfo(b, insn.BCI)
		l.load(recv, l.top(1))
		if op == classfile.OpMonitorenter {
			l.call(target.RuntimeMonitorEnter, info)
		} else {
			l.call(target.RuntimeMonitorExit, info)
		}

	default:
		// Stack manipulation, arithmetic, conversions and compares. The
		// first operand is copied into every result slot.
		if e.pop > 0 {
			l.load(ret, l.top(e.pop))
		}
		for i := 0; i < e.push; i++ {
			l.store(l.stackSlot(l.depth-e.pop+i), ret)
		}
	}
	return nil
}

// constValue returns the value pushed by a constant instruction. Floating
// point constants are returned as their bit patterns.
func constValue(insn *ir.Instruction) int64 {
	switch op := insn.Op; {
	case op == classfile.OpBipush, op == classfile.OpSipush:
		return int64(insn.Arg(0))
	case op >= classfile.OpIconstM1 && op <= classfile.OpIconst5:
		return int64(op) - int64(classfile.OpIconst0)
	case op == classfile.OpLconst1:
		return 1
	case op >= classfile.OpFconst0 && op <= classfile.OpFconst2:
		return int64(math.Float32bits(float32(op - classfile.OpFconst0)))
	case op == classfile.OpDconst1:
		return int64(math.Float64bits(1))
	}
	return 0
}

func (l *Lowerer) branch(insn *ir.Instruction, e effect) {
	scratch := l.regs.ScratchReg
	taken := l.label(insn.Arg(0))
	l.load(scratch, l.top(1))
	switch insn.Op {
	case classfile.OpIfeq, classfile.OpIfnull:
		l.a.BranchEqual(scratch, 0, taken)
	case classfile.OpIfne, classfile.OpIfnonnull:
		l.a.BranchNonZero(scratch, taken)
	default:
		// Relational and two-operand compares test the flag value left in
		// the scratch register.
		if e.pop == 2 {
			l.load(l.regs.ReturnReg, l.top(2))
		}
		l.a.BranchNonZero(scratch, taken)
	}
}

func (l *Lowerer) fieldAccess(b *ir.Block, insn *ir.Instruction, e effect) error {
	var (
		op      = insn.Op
		cpi     = insn.CPI()
		scratch = l.regs.ScratchReg
		ret     = l.regs.ReturnReg
		recv    = l.regs.ReceiverReg
		info    = l.debugInfo(b, insn.BCI)
		static  = op == classfile.OpGetstatic || op == classfile.OpPutstatic
		get     = op == classfile.OpGetstatic || op == classfile.OpGetfield
	)

	var ref cpool.FieldRef
	switch op {
	case classfile.OpGetstatic:
		ref = l.resolver.LookupGetStatic(cpi)
	case classfile.OpPutstatic:
		ref = l.resolver.LookupPutStatic(cpi)
	case classfile.OpGetfield:
		ref = l.resolver.LookupGetField(cpi)
	default:
		ref = l.resolver.LookupPutField(cpi)
	}

	// base register and displacement of the field
	base, disp := recv, int32(0)
	if !static {
		l.load(recv, l.top(e.pop))
	}
	f, resolved := ref.(*cpool.Field)
	switch {
	case resolved && static:
		l.tma.RecordDataReferenceInCode(cpool.Constant{Tag: cpool.TagClass, Value: f.Holder})
		l.a.LoadData(recv)
		disp = int32(f.Offset)
	case resolved:
		disp = int32(f.Offset)
	default:
		// The runtime resolves the field and returns its address.
		l.a.LoadImm(scratch, int64(cpi))
		l.call(target.RuntimeResolve, info)
		base = ret
	}

	if get {
		pos := l.a.Load(scratch, base, disp)
		if resolved && !static {
			l.tma.RecordImplicitException(pos, info)
		}
		l.store(l.stackSlot(l.depth-e.pop), scratch)
		return nil
	}
	l.load(scratch, l.top(e.pop-boolInt(!static)))
	pos := l.a.Store(base, disp, scratch)
	if resolved && !static {
		l.tma.RecordImplicitException(pos, info)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (l *Lowerer) invoke(b *ir.Block, insn *ir.Instruction, e effect) error {
	var (
		op      = insn.Op
		cpi     = insn.CPI()
		scratch = l.regs.ScratchReg
		ret     = l.regs.ReturnReg
		recv    = l.regs.ReceiverReg
		info    = l.debugInfo(b, insn.BCI)
	)
	if op != classfile.OpInvokestatic {
		l.load(recv, l.top(e.pop))
	}

	switch op {
	case classfile.OpInvokestatic:
		l.call(l.resolver.LookupInvokeStatic(cpi), info)

	case classfile.OpInvokespecial:
		l.call(l.resolver.LookupInvokeSpecial(cpi), info)

	case classfile.OpInvokevirtual:
		ref := l.resolver.LookupInvokeVirtual(cpi)
		if m, ok := ref.(*cpool.Method); ok && m.VTableIndex >= 0 {
			l.tma.RecordMark(target.MarkInvokeVirtual)
			pos := l.a.Load(scratch, recv, HubOffset)
			l.tma.RecordImplicitException(pos, info)
			l.a.Load(scratch, scratch, VTableOffset+int32(m.VTableIndex)*int32(asm.WordSize(l.a.Arch())))
			l.callIndirect(scratch, m, info)
			break
		}
		l.a.LoadImm(scratch, int64(cpi))
		l.call(target.RuntimeResolve, info)
		l.callIndirect(ret, ref, info)

	default:
		// Interface dispatch goes through a runtime-resolved entry point.
		ref := l.resolver.LookupInvokeInterface(cpi)
		l.tma.RecordMark(target.MarkInvokeInterface)
		l.a.LoadImm(scratch, int64(cpi))
		l.call(target.RuntimeResolve, info)
		l.callIndirect(ret, ref, info)
	}

	if e.push > 0 {
		l.store(l.stackSlot(l.depth-e.pop), ret)
	}
	return nil
}
