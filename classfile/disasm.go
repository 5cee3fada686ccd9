package classfile

import (
	"fmt"
	"strings"
)

// DisassembleInstruction renders the instruction the stream is positioned at.
func DisassembleInstruction(s *BytecodeStream) string {
	bci := s.BCI()
	op := s.Opcode()
	prefix := ""
	if s.IsWide() {
		prefix = "wide "
	}

	switch {
	case op == OpIinc:
		return fmt.Sprintf("%04d  %s%s %d %d", bci, prefix, op, s.LocalIndex(), s.IncrementValue())

	case op == OpTableswitch || op == OpLookupswitch:
		t := s.Switch()
		var sb strings.Builder
		fmt.Fprintf(&sb, "%04d  %s default:%d", bci, op, t.Default)
		for i, k := range t.Keys {
			fmt.Fprintf(&sb, " %d:%d", k, t.Targets[i])
		}
		return sb.String()

	case op.Has(FlagBranch):
		return fmt.Sprintf("%04d  %s %d", bci, op, s.BranchDest())

	case op == OpBipush:
		return fmt.Sprintf("%04d  %s %d", bci, op, s.ReadS1(0))

	case op == OpSipush:
		return fmt.Sprintf("%04d  %s %d", bci, op, s.ReadS2(0))

	case op == OpNewarray:
		return fmt.Sprintf("%04d  %s %d", bci, op, s.ReadU1(0))

	case op == OpMultianewarray:
		return fmt.Sprintf("%04d  %s #%d dim %d", bci, op, s.CPI(), s.ReadU1(2))

	case op == OpInvokeinterface:
		return fmt.Sprintf("%04d  %s #%d count %d", bci, op, s.CPI(), s.ReadU1(2))

	case op.Has(FlagLoad) || op.Has(FlagStore):
		if op.Length() == 1 && !s.IsWide() {
			return fmt.Sprintf("%04d  %s", bci, op)
		}
		return fmt.Sprintf("%04d  %s%s %d", bci, prefix, op, s.LocalIndex())

	case op == OpLdc:
		return fmt.Sprintf("%04d  %s #%d", bci, op, s.CPI())

	case op.Length() >= 3:
		// ldc_w, ldc2_w, field access, invokes, new, checkcast and friends.
		return fmt.Sprintf("%04d  %s #%d", bci, op, s.CPI())
	}
	return fmt.Sprintf("%04d  %s", bci, op)
}

// Disassemble returns a readable listing of code, one instruction per line.
// Decoding stops at the first malformed instruction, which is reported on
// the last line.
func Disassemble(code []byte) string {
	s := NewBytecodeStream(code)
	var lines []string
	for s.Next() {
		lines = append(lines, DisassembleInstruction(s))
	}
	if err := s.Err(); err != nil {
		lines = append(lines, fmt.Sprintf("%04d  ; %v", s.BCI(), err))
	}
	return strings.Join(lines, "\n")
}
