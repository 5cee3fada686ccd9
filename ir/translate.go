package ir

import (
	"fmt"

	"github.com/chazu/tiercomp/cfg"
	"github.com/chazu/tiercomp/classfile"
)

// Translate builds the IR of a method body. It only reads ca, so repeating
// it on the same attribute yields a structurally identical Method.
func Translate(name string, ca *classfile.CodeAttribute) (*Method, error) {
	code := ca.Code()
	handlers := ca.ExceptionHandlerTable()
	bm, err := cfg.Build(code, handlers)
	if err != nil {
		return nil, fmt.Errorf("ir: %s: %w", name, err)
	}

	m := &Method{
		Name:        name,
		Code:        code,
		MaxStack:    int(ca.MaxStack),
		MaxLocals:   int(ca.MaxLocals),
		BlockMap:    bm,
		Handlers:    handlers,
		LineNumbers: ca.LineNumberTable(),
		Blocks:      make([]*Block, bm.Len()),
	}
	for i, cb := range bm.Blocks {
		m.Blocks[i] = &Block{
			ID:             cb.ID,
			Start:          cb.Start,
			End:            cb.End,
			Code:           code[cb.Start:cb.End:cb.End],
			Successors:     cb.Successors,
			Handlers:       cb.Handlers,
			ExceptionEntry: cb.ExceptionEntry,
			LoopHeader:     cb.LoopHeader,
		}
	}

	s := classfile.NewBytecodeStream(code)
	for s.Next() {
		b := m.Blocks[bm.BlockAt(s.BCI()).ID]
		b.Instructions = append(b.Instructions, decode(s))
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("ir: %s: %w", name, err)
	}
	return m, nil
}

// decode captures the operands of the instruction s is positioned at.
func decode(s *classfile.BytecodeStream) Instruction {
	op := s.Opcode()
	insn := Instruction{BCI: s.BCI(), Op: op, Wide: s.IsWide()}
	switch {
	case op == classfile.OpIinc:
		insn.push(s.LocalIndex())
		insn.push(s.IncrementValue())
	case op.Has(classfile.FlagSwitch):
		t := s.Switch()
		insn.Switch = &t
		insn.push(t.Default)
	case op.Has(classfile.FlagBranch):
		insn.push(s.BranchDest())
	case op == classfile.OpBipush:
		insn.push(s.ReadS1(0))
	case op == classfile.OpSipush:
		insn.push(s.ReadS2(0))
	case op == classfile.OpNewarray:
		insn.push(s.ReadU1(0))
	case op == classfile.OpInvokeinterface, op == classfile.OpMultianewarray:
		insn.push(int(s.CPI()))
		insn.push(s.ReadU1(2))
	case op.Has(classfile.FlagLoad), op.Has(classfile.FlagStore):
		insn.push(s.LocalIndex())
	case op == classfile.OpLdc, op.Length() >= 3:
		insn.push(int(s.CPI()))
	}
	return insn
}
