package classfile

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/chazu/tiercomp/cpool"
)

// FormatError reports malformed class data supplied from outside the
// compiler. Unlike InternalError it is returned, not raised.
type FormatError struct {
	Offset int
	Msg    string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("classfile: malformed class data at offset %d: %s", e.Offset, e.Msg)
}

// Attribute names recognized inside a Code attribute.
const (
	AttrCode                   = "Code"
	AttrLineNumberTable        = "LineNumberTable"
	AttrLocalVariableTable     = "LocalVariableTable"
	AttrLocalVariableTypeTable = "LocalVariableTypeTable"
	AttrStackMapTable          = "StackMapTable"
)

// classReader is a bounds-checked big-endian reader that records the first
// error and turns later reads into no-ops.
type classReader struct {
	data []byte
	pos  int
	base int // offset of data within the enclosing input, for error reports
	err  error
}

func (r *classReader) fail(format string, args ...any) {
	if r.err == nil {
		r.err = &FormatError{Offset: r.base + r.pos, Msg: fmt.Sprintf(format, args...)}
	}
}

func (r *classReader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || r.pos+n > len(r.data) {
		r.fail("unexpected end of data reading %d bytes", n)
		return false
	}
	return true
}

func (r *classReader) u1() uint8 {
	if !r.need(1) {
		return 0
	}
	r.pos++
	return r.data[r.pos-1]
}

func (r *classReader) u2() uint16 {
	if !r.need(2) {
		return 0
	}
	r.pos += 2
	return binary.BigEndian.Uint16(r.data[r.pos-2:])
}

func (r *classReader) u4() uint32 {
	if !r.need(4) {
		return 0
	}
	r.pos += 4
	return binary.BigEndian.Uint32(r.data[r.pos-4:])
}

func (r *classReader) bytes(n int) []byte {
	if !r.need(n) {
		return nil
	}
	r.pos += n
	return r.data[r.pos-n : r.pos]
}

// ParseCode decodes the body of a Code attribute (everything after
// attribute_length). Attribute names are looked up in pool.
func ParseCode(data []byte, pool *cpool.Pool) (*CodeAttribute, error) {
	return parseCode(&classReader{data: data}, pool)
}

func parseCode(r *classReader, pool *cpool.Pool) (*CodeAttribute, error) {
	maxStack := r.u2()
	maxLocals := r.u2()
	codeLength := int(r.u4())
	if r.err == nil && (codeLength == 0 || codeLength > 0xFFFF) {
		r.fail("code_length %d out of range", codeLength)
	}
	code := r.bytes(codeLength)

	handlers := make([]ExceptionHandlerEntry, r.u2())
	for i := range handlers {
		at := r.pos
		e := ExceptionHandlerEntry{StartPC: r.u2(), EndPC: r.u2(), HandlerPC: r.u2(), CatchTypeIndex: r.u2()}
		if r.err == nil && (e.StartPC >= e.EndPC || int(e.EndPC) > codeLength || int(e.HandlerPC) >= codeLength) {
			r.pos = at
			r.fail("exception table entry %d %s out of range for code length %d", i, e, codeLength)
		}
		handlers[i] = e
	}

	var lines LineNumberTable
	var locals, localTypes LocalVariableTable
	var stackMap *StackMapTable
	attrCount := int(r.u2())
	for i := 0; i < attrCount && r.err == nil; i++ {
		nameIndex := r.u2()
		length := int(r.u4())
		start := r.pos
		body := r.bytes(length)
		if r.err != nil {
			break
		}
		name, err := pool.Utf8(nameIndex)
		if err != nil {
			r.pos = start
			r.fail("attribute name: %v", err)
			break
		}
		sub := &classReader{data: body, base: r.base + start}
		switch name {
		case AttrLineNumberTable:
			n := int(sub.u2())
			for j := 0; j < n; j++ {
				lines = append(lines, LineNumberEntry{StartPC: sub.u2(), LineNumber: sub.u2()})
			}
		case AttrLocalVariableTable, AttrLocalVariableTypeTable:
			n := int(sub.u2())
			for j := 0; j < n; j++ {
				e := LocalVariableEntry{StartPC: sub.u2(), Length: sub.u2(), NameIndex: sub.u2(), DescriptorIndex: sub.u2()}
				e.Slot = sub.u2()
				if name == AttrLocalVariableTable {
					locals = append(locals, e)
				} else {
					localTypes = append(localTypes, e)
				}
			}
		case AttrStackMapTable:
			t, err := DecodeStackMapTable(body)
			if err != nil {
				sub.fail("%v", err)
				break
			}
			sub.pos = len(body)
			stackMap = t
		default:
			continue
		}
		if sub.err == nil && sub.pos != len(body) {
			sub.fail("%s attribute has %d trailing bytes", name, len(body)-sub.pos)
		}
		if sub.err != nil {
			r.err = sub.err
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	if err := locals.MergeTypes(localTypes); err != nil {
		return nil, &FormatError{Offset: r.base + r.pos, Msg: err.Error()}
	}
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].StartPC < lines[j].StartPC })
	return NewCodeAttribute(pool, code, maxStack, maxLocals, handlers, lines, locals, stackMap), nil
}

// MarshalCode encodes ca as a Code attribute body, the inverse of ParseCode.
// nameIndex returns the constant-pool index of an attribute name.
func MarshalCode(ca *CodeAttribute, nameIndex func(string) uint16) []byte {
	code := ca.Code()
	b := appendU2(nil, ca.MaxStack, ca.MaxLocals)
	b = binary.BigEndian.AppendUint32(b, uint32(len(code)))
	b = append(b, code...)
	handlers := ca.ExceptionHandlerTable()
	b = appendU2(b, uint16(len(handlers)))
	for _, e := range handlers {
		b = appendU2(b, e.StartPC, e.EndPC, e.HandlerPC, e.CatchTypeIndex)
	}

	type attr struct {
		name string
		body []byte
	}
	var attrs []attr
	if lines := ca.LineNumberTable(); len(lines) != 0 {
		body := appendU2(nil, uint16(len(lines)))
		for _, e := range lines {
			body = appendU2(body, e.StartPC, e.LineNumber)
		}
		attrs = append(attrs, attr{AttrLineNumberTable, body})
	}
	if locals := ca.LocalVariableTable(); len(locals) != 0 {
		body := appendU2(nil, uint16(len(locals)))
		var typed LocalVariableTable
		for _, e := range locals {
			body = appendU2(body, e.StartPC, e.Length, e.NameIndex, e.DescriptorIndex, e.Slot)
			if e.SignatureIndex != 0 {
				typed = append(typed, e)
			}
		}
		attrs = append(attrs, attr{AttrLocalVariableTable, body})
		if len(typed) != 0 {
			body := appendU2(nil, uint16(len(typed)))
			for _, e := range typed {
				body = appendU2(body, e.StartPC, e.Length, e.NameIndex, e.SignatureIndex, e.Slot)
			}
			attrs = append(attrs, attr{AttrLocalVariableTypeTable, body})
		}
	}
	if sm := ca.EncodedStackMap(); len(sm) != 0 {
		attrs = append(attrs, attr{AttrStackMapTable, sm})
	}

	b = appendU2(b, uint16(len(attrs)))
	for _, a := range attrs {
		b = appendU2(b, nameIndex(a.name))
		b = binary.BigEndian.AppendUint32(b, uint32(len(a.body)))
		b = append(b, a.body...)
	}
	return b
}
