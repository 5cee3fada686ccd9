package ir

// Visitor receives the blocks and instructions of a method in order. A
// non-nil error stops the walk.
type Visitor interface {
	VisitBlock(b *Block) error
	VisitInstruction(b *Block, insn *Instruction) error
}

// Walk visits every block in order, and within each block every
// instruction, returning the first error.
func (m *Method) Walk(v Visitor) error {
	for _, b := range m.Blocks {
		if err := v.VisitBlock(b); err != nil {
			return err
		}
		for i := range b.Instructions {
			if err := v.VisitInstruction(b, &b.Instructions[i]); err != nil {
				return err
			}
		}
	}
	return nil
}
