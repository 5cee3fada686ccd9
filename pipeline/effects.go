package pipeline

import (
	"errors"
	"fmt"

	"github.com/chazu/tiercomp/classfile"
	"github.com/chazu/tiercomp/cpool"
	"github.com/chazu/tiercomp/ir"
)

var (
	// ErrUnsupported is returned for bytecodes the baseline templates do
	// not cover.
	ErrUnsupported = errors.New("pipeline: unsupported bytecode")
	// ErrStackDepth is returned when operand stack depths disagree at a
	// merge point or leave [0, maxStack].
	ErrStackDepth = errors.New("pipeline: inconsistent stack depth")
)

// effect is the number of operand stack slots an instruction pops and
// pushes. Long and double values take two slots.
type effect struct {
	pop, push int
}

// fixedEffects covers every opcode whose effect does not depend on the
// constant pool.
var fixedEffects = func() (t [256]effect) {
	set := func(from, to classfile.Opcode, e effect) {
		for op := int(from); op <= int(to); op++ {
			t[op] = e
		}
	}
	set(classfile.OpAconstNull, classfile.OpIconst5, effect{0, 1})
	set(classfile.OpLconst0, classfile.OpLconst1, effect{0, 2})
	set(classfile.OpFconst0, classfile.OpFconst2, effect{0, 1})
	set(classfile.OpDconst0, classfile.OpDconst1, effect{0, 2})
	set(classfile.OpBipush, classfile.OpLdcW, effect{0, 1})
	t[classfile.OpLdc2W] = effect{0, 2}

	// loads and stores, in i l f d a order
	widths := [5]int{1, 2, 1, 2, 1}
	for k, w := range widths {
		t[int(classfile.OpIload)+k] = effect{0, w}
		set(classfile.OpIload0+classfile.Opcode(4*k), classfile.OpIload3+classfile.Opcode(4*k), effect{0, w})
		t[int(classfile.OpIstore)+k] = effect{w, 0}
		set(classfile.OpIstore0+classfile.Opcode(4*k), classfile.OpIstore3+classfile.Opcode(4*k), effect{w, 0})
	}
	// array loads and stores: i l f d a b c s
	elems := [8]int{1, 2, 1, 2, 1, 1, 1, 1}
	for k, w := range elems {
		t[int(classfile.OpIaload)+k] = effect{2, w}
		t[int(classfile.OpIastore)+k] = effect{2 + w, 0}
	}

	t[classfile.OpPop] = effect{1, 0}
	t[classfile.OpPop2] = effect{2, 0}
	t[classfile.OpDup] = effect{1, 2}
	t[classfile.OpDupX1] = effect{2, 3}
	t[classfile.OpDupX2] = effect{3, 4}
	t[classfile.OpDup2] = effect{2, 4}
	t[classfile.OpDup2X1] = effect{3, 5}
	t[classfile.OpDup2X2] = effect{4, 6}
	t[classfile.OpSwap] = effect{2, 2}

	// add sub mul div rem, each in i l f d order
	for op := classfile.OpIadd; op <= classfile.OpDrem; op++ {
		w := widths[(op-classfile.OpIadd)%4]
		t[op] = effect{2 * w, w}
	}
	for op := classfile.OpIneg; op <= classfile.OpDneg; op++ {
		w := widths[(op-classfile.OpIneg)%4]
		t[op] = effect{w, w}
	}
	// shifts take an int count
	for op := classfile.OpIshl; op <= classfile.OpLushr; op++ {
		w := 1 + int(op-classfile.OpIshl)%2
		t[op] = effect{w + 1, w}
	}
	for op := classfile.OpIand; op <= classfile.OpLxor; op++ {
		w := 1 + int(op-classfile.OpIand)%2
		t[op] = effect{2 * w, w}
	}

	conversions := map[classfile.Opcode]effect{
		classfile.OpI2l: {1, 2}, classfile.OpI2f: {1, 1}, classfile.OpI2d: {1, 2},
		classfile.OpL2i: {2, 1}, classfile.OpL2f: {2, 1}, classfile.OpL2d: {2, 2},
		classfile.OpF2i: {1, 1}, classfile.OpF2l: {1, 2}, classfile.OpF2d: {1, 2},
		classfile.OpD2i: {2, 1}, classfile.OpD2l: {2, 2}, classfile.OpD2f: {2, 1},
		classfile.OpI2b: {1, 1}, classfile.OpI2c: {1, 1}, classfile.OpI2s: {1, 1},
	}
	for op, e := range conversions {
		t[op] = e
	}
	t[classfile.OpLcmp] = effect{4, 1}
	t[classfile.OpFcmpl] = effect{2, 1}
	t[classfile.OpFcmpg] = effect{2, 1}
	t[classfile.OpDcmpl] = effect{4, 1}
	t[classfile.OpDcmpg] = effect{4, 1}

	set(classfile.OpIfeq, classfile.OpIfle, effect{1, 0})
	set(classfile.OpIfIcmpeq, classfile.OpIfAcmpne, effect{2, 0})
	set(classfile.OpIfnull, classfile.OpIfnonnull, effect{1, 0})
	t[classfile.OpTableswitch] = effect{1, 0}
	t[classfile.OpLookupswitch] = effect{1, 0}
	t[classfile.OpIreturn] = effect{1, 0}
	t[classfile.OpLreturn] = effect{2, 0}
	t[classfile.OpFreturn] = effect{1, 0}
	t[classfile.OpDreturn] = effect{2, 0}
	t[classfile.OpAreturn] = effect{1, 0}

	t[classfile.OpNew] = effect{0, 1}
	set(classfile.OpNewarray, classfile.OpArraylength, effect{1, 1})
	t[classfile.OpAthrow] = effect{1, 0}
	t[classfile.OpCheckcast] = effect{1, 1}
	t[classfile.OpInstanceof] = effect{1, 1}
	t[classfile.OpMonitorenter] = effect{1, 0}
	t[classfile.OpMonitorexit] = effect{1, 0}
	return t
}()

// stackEffect returns the effect of insn, reading field and method
// descriptors from pool.
func stackEffect(insn *ir.Instruction, pool *cpool.Pool) (effect, error) {
	switch op := insn.Op; op {
	case classfile.OpJsr, classfile.OpJsrW, classfile.OpRet, classfile.OpInvokedynamic:
		return effect{}, fmt.Errorf("%w: %s at %d", ErrUnsupported, op, insn.BCI)

	case classfile.OpGetstatic, classfile.OpPutstatic, classfile.OpGetfield, classfile.OpPutfield:
		_, _, _, desc, err := pool.Member(insn.CPI())
		if err != nil {
			return effect{}, err
		}
		k, err := cpool.FieldKind(desc)
		if err != nil {
			return effect{}, err
		}
		w := k.Slots()
		switch op {
		case classfile.OpGetstatic:
			return effect{0, w}, nil
		case classfile.OpPutstatic:
			return effect{w, 0}, nil
		case classfile.OpGetfield:
			return effect{1, w}, nil
		}
		return effect{1 + w, 0}, nil

	case classfile.OpInvokevirtual, classfile.OpInvokespecial, classfile.OpInvokestatic, classfile.OpInvokeinterface:
		sig, err := signature(insn, pool)
		if err != nil {
			return effect{}, err
		}
		pop := sig.ArgSlots()
		if op != classfile.OpInvokestatic {
			pop++
		}
		return effect{pop, sig.Return.Slots()}, nil

	case classfile.OpMultianewarray:
		return effect{insn.Arg(1), 1}, nil
	}
	return fixedEffects[insn.Op], nil
}

func signature(insn *ir.Instruction, pool *cpool.Pool) (cpool.Signature, error) {
	_, _, _, desc, err := pool.Member(insn.CPI())
	if err != nil {
		return cpool.Signature{}, err
	}
	return cpool.ParseMethodDescriptor(desc)
}

// stackDepths computes the operand stack depth at the entry of every block.
// Blocks that are not reachable from the method entry or a handler get -1.
func stackDepths(m *ir.Method, pool *cpool.Pool) ([]int, error) {
	depths := make([]int, len(m.Blocks))
	for i := range depths {
		depths[i] = -1
	}
	var work []int
	enter := func(id, depth int, from int) error {
		switch depths[id] {
		case -1:
			depths[id] = depth
			work = append(work, id)
		case depth:
		default:
			return fmt.Errorf("%w: B%d entered with %d and %d slots (from bci %d)", ErrStackDepth, id, depths[id], depth, from)
		}
		return nil
	}
	if err := enter(0, 0, 0); err != nil {
		return nil, err
	}
	for _, b := range m.Blocks {
		if b.ExceptionEntry {
			if m.MaxStack < 1 {
				return nil, fmt.Errorf("%w: handler B%d needs a stack slot but max stack is 0", ErrStackDepth, b.ID)
			}
			if err := enter(b.ID, 1, b.Start); err != nil {
				return nil, err
			}
		}
	}

	for len(work) > 0 {
		b := m.Blocks[work[len(work)-1]]
		work = work[:len(work)-1]
		depth := depths[b.ID]
		for i := range b.Instructions {
			insn := &b.Instructions[i]
			e, err := stackEffect(insn, pool)
			if err != nil {
				return nil, err
			}
			depth -= e.pop
			if depth < 0 {
				return nil, fmt.Errorf("%w: stack underflow at bci %d", ErrStackDepth, insn.BCI)
			}
			depth += e.push
			if depth > m.MaxStack {
				return nil, fmt.Errorf("%w: %d slots at bci %d exceed max stack %d", ErrStackDepth, depth, insn.BCI, m.MaxStack)
			}
		}
		for _, s := range b.Successors {
			if err := enter(s, depth, b.Last().BCI); err != nil {
				return nil, err
			}
		}
	}
	return depths, nil
}
