// Package ir holds the block-structured form of a method body that the
// lowering stage consumes. Translation is structural: instructions are
// decoded with their operands but no stack simulation or typing happens
// here.
package ir

import (
	"fmt"
	"iter"
	"strings"

	"github.com/chazu/tiercomp/cfg"
	"github.com/chazu/tiercomp/classfile"
)

// MaxArgs is the operand capacity of an Instruction.
const MaxArgs = 4

// Instruction is one decoded bytecode instruction. Operands are stored
// inline; their meaning depends on the opcode:
//
//	constant-pool access      cpi [, count or dimensions]
//	local load/store/ret      local index
//	iinc                      local index, delta
//	bipush/sipush             value
//	newarray                  element type code
//	branch/jsr                absolute target bci
//	tableswitch/lookupswitch  default target; see Switch
type Instruction struct {
	BCI  int
	Op   classfile.Opcode
	Wide bool

	args  [MaxArgs]int32
	nargs uint8

	// Switch is the decoded table of a switch instruction, nil otherwise.
	Switch *classfile.SwitchTable
}

// NewInstruction builds an instruction with the given operands. It panics
// when more than MaxArgs operands are given.
func NewInstruction(bci int, op classfile.Opcode, args ...int) Instruction {
	insn := Instruction{BCI: bci, Op: op}
	for _, a := range args {
		insn.push(a)
	}
	return insn
}

func (i *Instruction) push(v int) {
	if int(i.nargs) == MaxArgs {
		panic(fmt.Sprintf("ir: %s at %d has more than %d operands", i.Op, i.BCI, MaxArgs))
	}
	i.args[i.nargs] = int32(v)
	i.nargs++
}

// NumArgs returns the number of operands.
func (i *Instruction) NumArgs() int { return int(i.nargs) }

// Arg returns operand n.
func (i *Instruction) Arg(n int) int {
	if n < 0 || n >= int(i.nargs) {
		panic(fmt.Sprintf("ir: operand %d of %s at %d out of range [0, %d)", n, i.Op, i.BCI, i.nargs))
	}
	return int(i.args[n])
}

// Args returns a copy of the operands.
func (i *Instruction) Args() []int {
	out := make([]int, i.nargs)
	for n := range out {
		out[n] = int(i.args[n])
	}
	return out
}

// CPI returns the constant-pool operand of an instruction that has one.
func (i *Instruction) CPI() uint16 { return uint16(i.Arg(0)) }

func (i *Instruction) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%04d  ", i.BCI)
	if i.Wide {
		sb.WriteString("wide ")
	}
	sb.WriteString(i.Op.Name())
	for n := 0; n < int(i.nargs); n++ {
		fmt.Fprintf(&sb, " %d", i.args[n])
	}
	if i.Switch != nil {
		for n, k := range i.Switch.Keys {
			fmt.Fprintf(&sb, " %d:%d", k, i.Switch.Targets[n])
		}
	}
	return sb.String()
}

// Block is the IR container for one basic block.
type Block struct {
	ID    int
	Start int
	End   int
	// Code aliases the method's bytecode for [Start, End).
	Code []byte

	Successors     []int
	Handlers       []int
	ExceptionEntry bool
	LoopHeader     bool

	Instructions []Instruction
}

// Last returns the block's final instruction.
func (b *Block) Last() *Instruction {
	return &b.Instructions[len(b.Instructions)-1]
}

// Method is the IR of one method body.
type Method struct {
	Name      string
	Code      []byte
	MaxStack  int
	MaxLocals int

	Blocks   []*Block
	BlockMap *cfg.BlockMap

	// Handlers and LineNumbers are copied from the code attribute.
	Handlers    []classfile.ExceptionHandlerEntry
	LineNumbers classfile.LineNumberTable
}

// BlockAt returns the block containing bci, or nil.
func (m *Method) BlockAt(bci int) *Block {
	b := m.BlockMap.BlockAt(bci)
	if b == nil {
		return nil
	}
	return m.Blocks[b.ID]
}

// Instructions iterates over every instruction in block order.
func (m *Method) Instructions() iter.Seq2[*Block, *Instruction] {
	return func(yield func(*Block, *Instruction) bool) {
		for _, b := range m.Blocks {
			for i := range b.Instructions {
				if !yield(b, &b.Instructions[i]) {
					return
				}
			}
		}
	}
}

// String renders the method as a block listing.
func (m *Method) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s (maxStack=%d maxLocals=%d)\n", m.Name, m.MaxStack, m.MaxLocals)
	for _, b := range m.Blocks {
		fmt.Fprintf(&sb, "%s\n", m.BlockMap.Blocks[b.ID])
		for i := range b.Instructions {
			fmt.Fprintf(&sb, "  %s\n", &b.Instructions[i])
		}
	}
	for _, h := range m.Handlers {
		fmt.Fprintf(&sb, "handler %s\n", h)
	}
	return sb.String()
}
