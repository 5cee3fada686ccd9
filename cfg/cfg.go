// Package cfg partitions a method's bytecode into basic blocks.
//
// A block starts at offset 0, at every branch, jsr and switch target, at
// every exception handler entry, at both ends of every protected range, and
// at the instruction following any instruction that ends a block. Code that
// can never be reached still forms blocks of its own.
package cfg

import (
	"errors"
	"fmt"
	"strings"

	"github.com/chazu/tiercomp/classfile"
)

var (
	// ErrEmptyCode is returned for a method body with no instructions.
	ErrEmptyCode = errors.New("cfg: empty code")
	// ErrBadTarget is returned when a branch or switch target lies outside
	// the code or inside another instruction.
	ErrBadTarget = errors.New("cfg: invalid branch target")
	// ErrBadHandler is returned for an exception table entry whose range or
	// handler does not line up with instruction boundaries.
	ErrBadHandler = errors.New("cfg: invalid exception handler")
)

// Block is a maximal run of instructions [Start, End) with a single entry.
type Block struct {
	ID    int
	Start int
	End   int

	// Successors are the IDs of blocks reached by normal control flow, in
	// the order the terminating instruction names them, without duplicates.
	Successors []int
	// Handlers are indices into the exception table of the entries whose
	// protected range covers this block, in table order.
	Handlers []int

	ExceptionEntry bool // some handler starts here
	LoopHeader     bool // target of a backward edge
}

func (b *Block) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "B%d [%d, %d)", b.ID, b.Start, b.End)
	if b.ExceptionEntry {
		sb.WriteString(" handler")
	}
	if b.LoopHeader {
		sb.WriteString(" loop")
	}
	if len(b.Successors) > 0 {
		sb.WriteString(" ->")
		for _, s := range b.Successors {
			fmt.Fprintf(&sb, " B%d", s)
		}
	}
	return sb.String()
}

// BlockMap is the block partition of one method body.
type BlockMap struct {
	Blocks []*Block

	// blockOf holds the ID of the block owning each byte offset.
	blockOf []int32
}

// Len returns the number of blocks.
func (m *BlockMap) Len() int { return len(m.Blocks) }

// CodeLength returns the length of the partitioned code.
func (m *BlockMap) CodeLength() int { return len(m.blockOf) }

// BlockAt returns the block containing offset, or nil when offset is
// outside the code.
func (m *BlockMap) BlockAt(offset int) *Block {
	if offset < 0 || offset >= len(m.blockOf) {
		return nil
	}
	return m.Blocks[m.blockOf[offset]]
}

// String renders one block per line.
func (m *BlockMap) String() string {
	lines := make([]string, len(m.Blocks))
	for i, b := range m.Blocks {
		lines[i] = b.String()
	}
	return strings.Join(lines, "\n")
}

// exit describes an instruction that transfers control.
type exit struct {
	targets      []int
	fallsThrough bool
}

// scan holds the per-offset facts gathered by the single pass over the code.
type scan struct {
	code    []byte
	starts  []bool // an instruction begins here
	markers []bool // a block begins here
	exits   map[int]exit
}

func (s *scan) mark(bci int) {
	if bci < len(s.code) {
		s.markers[bci] = true
	}
}

// Build partitions code into basic blocks.
func Build(code []byte, handlers []classfile.ExceptionHandlerEntry) (*BlockMap, error) {
	n := len(code)
	if n == 0 {
		return nil, ErrEmptyCode
	}
	s := &scan{
		code:    code,
		starts:  make([]bool, n),
		markers: make([]bool, n),
		exits:   make(map[int]exit),
	}
	s.markers[0] = true

	stream := classfile.NewBytecodeStream(code)
	for stream.Next() {
		bci, op := stream.BCI(), stream.Opcode()
		s.starts[bci] = true
		var targets []int
		switch {
		case op.Has(classfile.FlagSwitch):
			t := stream.Switch()
			targets = append([]int{t.Default}, t.Targets...)
		case op.Has(classfile.FlagBranch):
			targets = []int{stream.BranchDest()}
		case !op.IsBlockEnd():
			continue
		}
		s.exits[bci] = exit{targets: targets, fallsThrough: !op.IsBlockEnd()}
		s.mark(stream.NextBCI())
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("cfg: %w", err)
	}

	for bci, x := range s.exits {
		for _, t := range x.targets {
			if t < 0 || t >= n || !s.starts[t] {
				return nil, fmt.Errorf("%w: %d from bci %d", ErrBadTarget, t, bci)
			}
			s.markers[t] = true
		}
	}

	for i, h := range handlers {
		start, end, entry := int(h.StartPC), int(h.EndPC), int(h.HandlerPC)
		switch {
		case start >= end || end > n:
			return nil, fmt.Errorf("%w: entry %d range [%d, %d) for code length %d", ErrBadHandler, i, start, end, n)
		case !s.starts[start] || (end < n && !s.starts[end]):
			return nil, fmt.Errorf("%w: entry %d range [%d, %d) splits an instruction", ErrBadHandler, i, start, end)
		case entry >= n || !s.starts[entry]:
			return nil, fmt.Errorf("%w: entry %d handler bci %d", ErrBadHandler, i, entry)
		}
		s.mark(start)
		s.mark(end)
		s.mark(entry)
	}

	return s.partition(handlers), nil
}

// partition emits one block per run between consecutive markers and wires
// successors, handler coverage and loop headers.
func (s *scan) partition(handlers []classfile.ExceptionHandlerEntry) *BlockMap {
	n := len(s.code)
	m := &BlockMap{blockOf: make([]int32, n)}
	var cur *Block
	lastInsn := make(map[int]int) // block ID -> bci of its final instruction
	for bci := 0; bci < n; bci++ {
		if s.markers[bci] {
			if cur != nil {
				cur.End = bci
			}
			cur = &Block{ID: len(m.Blocks), Start: bci}
			m.Blocks = append(m.Blocks, cur)
		}
		if s.starts[bci] {
			lastInsn[cur.ID] = bci
		}
		m.blockOf[bci] = int32(cur.ID)
	}
	cur.End = n

	for _, b := range m.Blocks {
		x, transfers := s.exits[lastInsn[b.ID]]
		var succ []int
		add := func(offset int) {
			id := int(m.blockOf[offset])
			for _, x := range succ {
				if x == id {
					return
				}
			}
			succ = append(succ, id)
		}
		for _, t := range x.targets {
			add(t)
		}
		if (!transfers || x.fallsThrough) && b.End < n {
			add(b.End)
		}
		b.Successors = succ
		for _, id := range succ {
			if target := m.Blocks[id]; target.Start <= b.Start {
				target.LoopHeader = true
			}
		}
	}

	for i, h := range handlers {
		m.BlockAt(int(h.HandlerPC)).ExceptionEntry = true
		for _, b := range m.Blocks {
			if b.Start >= int(h.StartPC) && b.Start < int(h.EndPC) {
				b.Handlers = append(b.Handlers, i)
			}
		}
	}
	return m
}
