// Package cpool models a class's constant pool and resolves its symbolic
// references to runtime fields, methods and types.
package cpool

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Tag identifies the kind of a constant-pool entry.
type Tag uint8

const (
	TagUtf8               Tag = 1
	TagInteger            Tag = 3
	TagFloat              Tag = 4
	TagLong               Tag = 5
	TagDouble             Tag = 6
	TagClass              Tag = 7
	TagString             Tag = 8
	TagFieldref           Tag = 9
	TagMethodref          Tag = 10
	TagInterfaceMethodref Tag = 11
	TagNameAndType        Tag = 12
	TagMethodHandle       Tag = 15
	TagMethodType         Tag = 16
	TagDynamic            Tag = 17
	TagInvokeDynamic      Tag = 18
	TagModule             Tag = 19
	TagPackage            Tag = 20
)

var tagNames = map[Tag]string{
	TagUtf8:               "Utf8",
	TagInteger:            "Integer",
	TagFloat:              "Float",
	TagLong:               "Long",
	TagDouble:             "Double",
	TagClass:              "Class",
	TagString:             "String",
	TagFieldref:           "Fieldref",
	TagMethodref:          "Methodref",
	TagInterfaceMethodref: "InterfaceMethodref",
	TagNameAndType:        "NameAndType",
	TagMethodHandle:       "MethodHandle",
	TagMethodType:         "MethodType",
	TagDynamic:            "Dynamic",
	TagInvokeDynamic:      "InvokeDynamic",
	TagModule:             "Module",
	TagPackage:            "Package",
}

func (t Tag) String() string {
	if s, ok := tagNames[t]; ok {
		return s
	}
	return fmt.Sprintf("Tag(%d)", uint8(t))
}

// Wide reports whether the entry occupies two pool slots.
func (t Tag) Wide() bool {
	return t == TagLong || t == TagDouble
}

// Entry is one symbolic constant-pool entry as it appears in a class file.
// Only the fields relevant to Tag are set.
type Entry struct {
	Tag Tag

	Utf8  string
	Int   int32
	Long  int64
	Float float32
	Dbl   float64

	// Index1 and Index2 carry the referenced indices: name index for Class,
	// string index for String, class and name-and-type indices for member
	// references, name and descriptor indices for NameAndType.
	Index1 uint16
	Index2 uint16

	// RefKind is the reference kind of a MethodHandle.
	RefKind uint8
}

// ErrTruncatedPool is returned when the constant pool ends early.
var ErrTruncatedPool = errors.New("cpool: truncated constant pool")

// ReadPool parses the constant_pool_count and constant_pool items at the start
// of data. It returns the pool and the number of bytes consumed.
func ReadPool(data []byte) (*Pool, int, error) {
	r := reader{data: data}
	count, ok := r.u2()
	if !ok {
		return nil, 0, ErrTruncatedPool
	}
	if count == 0 {
		return nil, 0, fmt.Errorf("cpool: constant_pool_count must be at least 1")
	}
	entries := make([]Entry, count)
	for i := 1; i < int(count); i++ {
		e, err := r.entry()
		if err != nil {
			return nil, 0, fmt.Errorf("cpool: entry #%d: %w", i, err)
		}
		entries[i] = e
		if e.Tag.Wide() {
			i++
		}
	}
	p, err := NewPool(entries)
	if err != nil {
		return nil, 0, err
	}
	return p, r.pos, nil
}

type reader struct {
	data []byte
	pos  int
}

func (r *reader) u1() (uint8, bool) {
	if r.pos+1 > len(r.data) {
		return 0, false
	}
	v := r.data[r.pos]
	r.pos++
	return v, true
}

func (r *reader) u2() (uint16, bool) {
	if r.pos+2 > len(r.data) {
		return 0, false
	}
	v := binary.BigEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v, true
}

func (r *reader) u4() (uint32, bool) {
	if r.pos+4 > len(r.data) {
		return 0, false
	}
	v := binary.BigEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, true
}

func (r *reader) u8() (uint64, bool) {
	if r.pos+8 > len(r.data) {
		return 0, false
	}
	v := binary.BigEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v, true
}

func (r *reader) entry() (Entry, error) {
	t, ok := r.u1()
	if !ok {
		return Entry{}, ErrTruncatedPool
	}
	e := Entry{Tag: Tag(t)}
	switch e.Tag {
	case TagUtf8:
		n, ok := r.u2()
		if !ok || r.pos+int(n) > len(r.data) {
			return e, ErrTruncatedPool
		}
		e.Utf8 = decodeModifiedUTF8(r.data[r.pos : r.pos+int(n)])
		r.pos += int(n)
	case TagInteger:
		v, ok := r.u4()
		if !ok {
			return e, ErrTruncatedPool
		}
		e.Int = int32(v)
	case TagFloat:
		v, ok := r.u4()
		if !ok {
			return e, ErrTruncatedPool
		}
		e.Float = math.Float32frombits(v)
	case TagLong:
		v, ok := r.u8()
		if !ok {
			return e, ErrTruncatedPool
		}
		e.Long = int64(v)
	case TagDouble:
		v, ok := r.u8()
		if !ok {
			return e, ErrTruncatedPool
		}
		e.Dbl = math.Float64frombits(v)
	case TagClass, TagString, TagMethodType, TagModule, TagPackage:
		if e.Index1, ok = r.u2(); !ok {
			return e, ErrTruncatedPool
		}
	case TagFieldref, TagMethodref, TagInterfaceMethodref, TagNameAndType,
		TagDynamic, TagInvokeDynamic:
		if e.Index1, ok = r.u2(); !ok {
			return e, ErrTruncatedPool
		}
		if e.Index2, ok = r.u2(); !ok {
			return e, ErrTruncatedPool
		}
	case TagMethodHandle:
		if e.RefKind, ok = r.u1(); !ok {
			return e, ErrTruncatedPool
		}
		if e.Index1, ok = r.u2(); !ok {
			return e, ErrTruncatedPool
		}
	default:
		return e, fmt.Errorf("unknown tag %d", t)
	}
	return e, nil
}

// decodeModifiedUTF8 decodes the class-file string encoding. Malformed
// sequences decode byte-for-byte.
func decodeModifiedUTF8(b []byte) string {
	out := make([]rune, 0, len(b))
	for i := 0; i < len(b); {
		c := b[i]
		switch {
		case c&0x80 == 0:
			out = append(out, rune(c))
			i++
		case c&0xE0 == 0xC0 && i+1 < len(b):
			out = append(out, rune(c&0x1F)<<6|rune(b[i+1]&0x3F))
			i += 2
		case c&0xF0 == 0xE0 && i+2 < len(b):
			out = append(out, rune(c&0x0F)<<12|rune(b[i+1]&0x3F)<<6|rune(b[i+2]&0x3F))
			i += 3
		default:
			out = append(out, rune(c))
			i++
		}
	}
	// Surrogate pairs come through as two runes; combine them.
	s := make([]rune, 0, len(out))
	for i := 0; i < len(out); i++ {
		r := out[i]
		if r >= 0xD800 && r < 0xDC00 && i+1 < len(out) && out[i+1] >= 0xDC00 && out[i+1] < 0xE000 {
			s = append(s, (r-0xD800)<<10+(out[i+1]-0xDC00)+0x10000)
			i++
			continue
		}
		s = append(s, r)
	}
	return string(s)
}

// encodeModifiedUTF8 is the inverse of decodeModifiedUTF8.
func encodeModifiedUTF8(s string) []byte {
	var b []byte
	for _, r := range s {
		if r >= 0x10000 {
			r -= 0x10000
			b = appendUTF8Char(b, 0xD800+(r>>10))
			b = appendUTF8Char(b, 0xDC00+(r&0x3FF))
			continue
		}
		b = appendUTF8Char(b, r)
	}
	return b
}

func appendUTF8Char(b []byte, r rune) []byte {
	switch {
	case r != 0 && r < 0x80:
		return append(b, byte(r))
	case r < 0x800:
		return append(b, 0xC0|byte(r>>6), 0x80|byte(r&0x3F))
	default:
		return append(b, 0xE0|byte(r>>12), 0x80|byte((r>>6)&0x3F), 0x80|byte(r&0x3F))
	}
}
