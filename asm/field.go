package asm

import (
	"fmt"
	"sort"
)

// Field is a named instruction field.
type Field struct {
	Name   string
	Range  BitRange
	Signed bool
}

// Format describes an instruction layout as a set of fields. All fields of a
// format share one BitRangeOrder.
type Format struct {
	Name   string
	Fields []Field
}

// NewFormat builds a format and checks that its fields agree on ordering
// and do not overlap.
func NewFormat(name string, fields ...Field) (*Format, error) {
	var used uint32
	for i, f := range fields {
		if i > 0 && f.Range.Order() != fields[0].Range.Order() {
			return nil, fmt.Errorf("asm: format %s mixes bit orders in field %s", name, f.Name)
		}
		if used&f.Range.Mask() != 0 {
			return nil, fmt.Errorf("asm: format %s field %s overlaps another field", name, f.Name)
		}
		used |= f.Range.Mask()
	}
	return &Format{Name: name, Fields: fields}, nil
}

// MustFormat is like NewFormat but panics on error.
func MustFormat(name string, fields ...Field) *Format {
	f, err := NewFormat(name, fields...)
	if err != nil {
		panic(err)
	}
	return f
}

// Field returns the named field.
func (f *Format) Field(name string) (Field, bool) {
	for _, fld := range f.Fields {
		if fld.Name == name {
			return fld, true
		}
	}
	return Field{}, false
}

// Encode builds an instruction word from field values. Fields not present in
// values are zero.
func (f *Format) Encode(values map[string]int64) (uint32, error) {
	var word uint32
	for name, v := range values {
		fld, ok := f.Field(name)
		if !ok {
			return 0, fmt.Errorf("asm: format %s has no field %s", f.Name, name)
		}
		if fld.Signed {
			if v < -(1<<31) || v > (1<<31)-1 || !fld.Range.FitsSigned(int32(v)) {
				return 0, fmt.Errorf("asm: %s.%s: value %d out of range", f.Name, name, v)
			}
			word = fld.Range.InsertSigned(word, int32(v))
			continue
		}
		if v < 0 || v > int64(^uint32(0)) || !fld.Range.Fits(uint32(v)) {
			return 0, fmt.Errorf("asm: %s.%s: value %d out of range", f.Name, name, v)
		}
		word = fld.Range.Insert(word, uint32(v))
	}
	return word, nil
}

// MustEncode is like Encode but panics on error. Encoders use it for values
// they have already range-checked.
func (f *Format) MustEncode(values map[string]int64) uint32 {
	w, err := f.Encode(values)
	if err != nil {
		panic(err)
	}
	return w
}

// Decode returns the value of every field in word.
func (f *Format) Decode(word uint32) map[string]int64 {
	out := make(map[string]int64, len(f.Fields))
	for _, fld := range f.Fields {
		if fld.Signed {
			out[fld.Name] = int64(fld.Range.ExtractSigned(word))
		} else {
			out[fld.Name] = int64(fld.Range.Extract(word))
		}
	}
	return out
}

// Matches reports whether every field named in fixed has the given value in
// word. It is used to recognize instructions during disassembly.
func (f *Format) Matches(word uint32, fixed map[string]int64) bool {
	dec := f.Decode(word)
	for name, v := range fixed {
		if dec[name] != v {
			return false
		}
	}
	return true
}

// String lists the fields from the most significant bit down.
func (f *Format) String() string {
	fields := append([]Field(nil), f.Fields...)
	sort.Slice(fields, func(i, j int) bool {
		return fields[i].Range.Shift() > fields[j].Range.Shift()
	})
	s := f.Name + "{"
	for i, fld := range fields {
		if i > 0 {
			s += " "
		}
		s += fld.Name + "=" + fld.Range.String()
	}
	return s + "}"
}
