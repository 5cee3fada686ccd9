package classfile

import (
	"encoding/binary"
	"fmt"
)

// Verification type tags.
const (
	ItemTop               uint8 = 0
	ItemInteger           uint8 = 1
	ItemFloat             uint8 = 2
	ItemDouble            uint8 = 3
	ItemLong              uint8 = 4
	ItemNull              uint8 = 5
	ItemUninitializedThis uint8 = 6
	ItemObject            uint8 = 7
	ItemUninitialized     uint8 = 8
)

// VerificationType is one verification_type_info item. CPI is set for
// ItemObject; Offset is the bci of the new instruction for ItemUninitialized.
type VerificationType struct {
	Tag    uint8
	CPI    uint16
	Offset uint16
}

// Frame type ranges.
const (
	FrameSameMax                 = 63
	FrameSameLocals1StackItemMax = 127
	FrameSameLocals1StackItemExt = 247
	FrameChopMin                 = 248
	FrameChopMax                 = 250
	FrameSameExtended            = 251
	FrameAppendMin               = 252
	FrameAppendMax               = 254
	FrameFull                    = 255
)

// StackMapFrame is one stack_map_frame. Type is the raw frame_type byte and
// selects which of the other fields are meaningful. For same and
// same_locals_1_stack_item frames the offset delta is implied by Type.
type StackMapFrame struct {
	Type        uint8
	OffsetDelta uint16
	Locals      []VerificationType
	Stack       []VerificationType
}

// Delta returns the frame's offset delta, decoding it from Type where it is
// implicit.
func (f StackMapFrame) Delta() int {
	switch {
	case f.Type <= FrameSameMax:
		return int(f.Type)
	case f.Type <= FrameSameLocals1StackItemMax:
		return int(f.Type) - 64
	}
	return int(f.OffsetDelta)
}

// StackMapTable is the decoded StackMapTable attribute.
type StackMapTable struct {
	Frames []StackMapFrame
}

// IsEmpty reports whether the table has no frames.
func (t *StackMapTable) IsEmpty() bool {
	return t == nil || len(t.Frames) == 0
}

// BCIs returns the absolute bci each frame applies to.
func (t *StackMapTable) BCIs() []int {
	out := make([]int, len(t.Frames))
	bci := -1
	for i, f := range t.Frames {
		bci += f.Delta() + 1
		out[i] = bci
	}
	return out
}

// Encode returns the attribute body: number_of_entries then the frames.
func (t *StackMapTable) Encode() []byte {
	b := appendU2(nil, uint16(len(t.Frames)))
	for _, f := range t.Frames {
		b = append(b, f.Type)
		switch {
		case f.Type <= FrameSameMax:
		case f.Type <= FrameSameLocals1StackItemMax:
			b = appendVerificationTypes(b, f.Stack[:1])
		case f.Type == FrameSameLocals1StackItemExt:
			b = appendU2(b, f.OffsetDelta)
			b = appendVerificationTypes(b, f.Stack[:1])
		case f.Type >= FrameChopMin && f.Type <= FrameSameExtended:
			b = appendU2(b, f.OffsetDelta)
		case f.Type >= FrameAppendMin && f.Type <= FrameAppendMax:
			b = appendU2(b, f.OffsetDelta)
			b = appendVerificationTypes(b, f.Locals[:f.Type-251])
		case f.Type == FrameFull:
			b = appendU2(b, f.OffsetDelta, uint16(len(f.Locals)))
			b = appendVerificationTypes(b, f.Locals)
			b = appendU2(b, uint16(len(f.Stack)))
			b = appendVerificationTypes(b, f.Stack)
		default:
			panic(&InternalError{Op: "encode", Err: fmt.Errorf("reserved stack map frame type %d", f.Type)})
		}
	}
	return b
}

func appendVerificationTypes(b []byte, vs []VerificationType) []byte {
	for _, v := range vs {
		b = append(b, v.Tag)
		switch v.Tag {
		case ItemObject:
			b = appendU2(b, v.CPI)
		case ItemUninitialized:
			b = appendU2(b, v.Offset)
		}
	}
	return b
}

// DecodeStackMapTable parses a StackMapTable attribute body.
func DecodeStackMapTable(data []byte) (*StackMapTable, error) {
	d := stackMapDecoder{data: data}
	n, err := d.u2()
	if err != nil {
		return nil, err
	}
	t := &StackMapTable{Frames: make([]StackMapFrame, 0, n)}
	for i := 0; i < int(n); i++ {
		f, err := d.frame()
		if err != nil {
			return nil, fmt.Errorf("classfile: stack map frame %d: %w", i, err)
		}
		t.Frames = append(t.Frames, f)
	}
	if d.pos != len(data) {
		return nil, fmt.Errorf("classfile: %d trailing bytes after stack map table", len(data)-d.pos)
	}
	return t, nil
}

type stackMapDecoder struct {
	data []byte
	pos  int
}

func (d *stackMapDecoder) u1() (uint8, error) {
	if d.pos >= len(d.data) {
		return 0, errShortTable
	}
	d.pos++
	return d.data[d.pos-1], nil
}

func (d *stackMapDecoder) u2() (uint16, error) {
	if d.pos+2 > len(d.data) {
		return 0, errShortTable
	}
	d.pos += 2
	return binary.BigEndian.Uint16(d.data[d.pos-2:]), nil
}

func (d *stackMapDecoder) types(n int) ([]VerificationType, error) {
	out := make([]VerificationType, n)
	for i := range out {
		tag, err := d.u1()
		if err != nil {
			return nil, err
		}
		out[i].Tag = tag
		switch tag {
		case ItemObject:
			out[i].CPI, err = d.u2()
		case ItemUninitialized:
			out[i].Offset, err = d.u2()
		default:
			if tag > ItemUninitialized {
				err = fmt.Errorf("bad verification type tag %d", tag)
			}
		}
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (d *stackMapDecoder) frame() (StackMapFrame, error) {
	var f StackMapFrame
	var err error
	if f.Type, err = d.u1(); err != nil {
		return f, err
	}
	switch {
	case f.Type <= FrameSameMax:
	case f.Type <= FrameSameLocals1StackItemMax:
		f.Stack, err = d.types(1)
	case f.Type == FrameSameLocals1StackItemExt:
		if f.OffsetDelta, err = d.u2(); err == nil {
			f.Stack, err = d.types(1)
		}
	case f.Type >= FrameChopMin && f.Type <= FrameSameExtended:
		f.OffsetDelta, err = d.u2()
	case f.Type >= FrameAppendMin && f.Type <= FrameAppendMax:
		if f.OffsetDelta, err = d.u2(); err == nil {
			f.Locals, err = d.types(int(f.Type) - 251)
		}
	case f.Type == FrameFull:
		var n uint16
		if f.OffsetDelta, err = d.u2(); err != nil {
			return f, err
		}
		if n, err = d.u2(); err != nil {
			return f, err
		}
		if f.Locals, err = d.types(int(n)); err != nil {
			return f, err
		}
		if n, err = d.u2(); err != nil {
			return f, err
		}
		f.Stack, err = d.types(int(n))
	default:
		err = fmt.Errorf("reserved frame type %d", f.Type)
	}
	return f, err
}
