package classfile

import (
	"encoding/binary"
	"fmt"

	"github.com/chazu/tiercomp/cpool"
)

// Magic is the class-file signature.
const Magic = 0xCAFEBABE

// AccessFlags are class, field and method modifiers.
type AccessFlags uint16

const (
	AccPublic       AccessFlags = 0x0001
	AccPrivate      AccessFlags = 0x0002
	AccProtected    AccessFlags = 0x0004
	AccStatic       AccessFlags = 0x0008
	AccFinal        AccessFlags = 0x0010
	AccSynchronized AccessFlags = 0x0020
	AccNative       AccessFlags = 0x0100
	AccInterface    AccessFlags = 0x0200
	AccAbstract     AccessFlags = 0x0400
)

func (f AccessFlags) IsStatic() bool    { return f&AccStatic != 0 }
func (f AccessFlags) IsInterface() bool { return f&AccInterface != 0 }
func (f AccessFlags) IsAbstract() bool  { return f&AccAbstract != 0 }
func (f AccessFlags) IsNative() bool    { return f&AccNative != 0 }

// MemberInfo is a field or method declaration.
type MemberInfo struct {
	Access     AccessFlags
	Name       string
	Descriptor string
	// Code is the method body, nil for fields and for abstract or native
	// methods.
	Code *CodeAttribute
}

// ClassFile is a parsed class file.
type ClassFile struct {
	MinorVersion uint16
	MajorVersion uint16
	Pool         *cpool.Pool
	Access       AccessFlags
	Name         string
	SuperName    string // "" for java/lang/Object
	Interfaces   []string
	Fields       []MemberInfo
	Methods      []MemberInfo
}

// ReadClass parses a class file. Malformed input yields a *FormatError.
func ReadClass(data []byte) (*ClassFile, error) {
	r := &classReader{data: data}
	if magic := r.u4(); r.err == nil && magic != Magic {
		return nil, &FormatError{Offset: 0, Msg: fmt.Sprintf("bad magic %#x", magic)}
	}
	cf := &ClassFile{MinorVersion: r.u2(), MajorVersion: r.u2()}
	if r.err != nil {
		return nil, r.err
	}
	pool, n, err := cpool.ReadPool(data[r.pos:])
	if err != nil {
		return nil, &FormatError{Offset: r.pos, Msg: err.Error()}
	}
	r.pos += n
	cf.Pool = pool

	cf.Access = AccessFlags(r.u2())
	cf.Name = r.className(pool, r.u2(), false)
	cf.SuperName = r.className(pool, r.u2(), true)
	cf.Interfaces = make([]string, r.u2())
	for i := range cf.Interfaces {
		cf.Interfaces[i] = r.className(pool, r.u2(), false)
	}
	cf.Fields = r.members(pool, false)
	cf.Methods = r.members(pool, true)
	if r.err != nil {
		return nil, r.err
	}
	r.skipAttributes()
	if r.err != nil {
		return nil, r.err
	}
	if r.pos != len(data) {
		return nil, &FormatError{Offset: r.pos, Msg: fmt.Sprintf("%d trailing bytes", len(data)-r.pos)}
	}
	return cf, nil
}

func (r *classReader) className(pool *cpool.Pool, i uint16, optional bool) string {
	if r.err != nil || (optional && i == 0) {
		return ""
	}
	name, err := pool.ClassName(i)
	if err != nil {
		r.pos -= 2
		r.fail("%v", err)
	}
	return name
}

func (r *classReader) utf8(pool *cpool.Pool, i uint16) string {
	if r.err != nil {
		return ""
	}
	s, err := pool.Utf8(i)
	if err != nil {
		r.pos -= 2
		r.fail("%v", err)
	}
	return s
}

func (r *classReader) members(pool *cpool.Pool, methods bool) []MemberInfo {
	out := make([]MemberInfo, r.u2())
	for i := range out {
		m := &out[i]
		m.Access = AccessFlags(r.u2())
		m.Name = r.utf8(pool, r.u2())
		m.Descriptor = r.utf8(pool, r.u2())
		attrs := int(r.u2())
		for j := 0; j < attrs && r.err == nil; j++ {
			name := r.utf8(pool, r.u2())
			length := int(r.u4())
			start := r.pos
			body := r.bytes(length)
			if r.err != nil || !methods || name != AttrCode {
				continue
			}
			if m.Code != nil {
				r.pos = start
				r.fail("method %s%s has two Code attributes", m.Name, m.Descriptor)
				break
			}
			ca, err := parseCode(&classReader{data: body, base: start}, pool)
			if err != nil {
				r.err = err
				break
			}
			m.Code = ca
		}
	}
	return out
}

func (r *classReader) skipAttributes() {
	n := int(r.u2())
	for i := 0; i < n && r.err == nil; i++ {
		r.u2()
		r.bytes(int(r.u4()))
	}
}

// Method returns the method with the given name and descriptor.
func (cf *ClassFile) Method(name, desc string) *MemberInfo {
	for i := range cf.Methods {
		if cf.Methods[i].Name == name && cf.Methods[i].Descriptor == desc {
			return &cf.Methods[i]
		}
	}
	return nil
}

// RuntimeClass builds the unlinked runtime class described by cf.
func (cf *ClassFile) RuntimeClass() *cpool.Class {
	c := &cpool.Class{
		Name:        cf.Name,
		SuperName:   cf.SuperName,
		Interfaces:  append([]string(nil), cf.Interfaces...),
		IsInterface: cf.Access.IsInterface(),
	}
	for _, f := range cf.Fields {
		c.Fields = append(c.Fields, &cpool.Field{Name: f.Name, Descriptor: f.Descriptor, Static: f.Access.IsStatic()})
	}
	for _, m := range cf.Methods {
		c.Methods = append(c.Methods, &cpool.Method{
			Name:       m.Name,
			Descriptor: m.Descriptor,
			Static:     m.Access.IsStatic(),
			Abstract:   m.Access.IsAbstract(),
		})
	}
	return c
}

// Marshal encodes cf as a class file. Every name it needs must already be
// in the constant pool; Marshal panics with an *InternalError otherwise.
func (cf *ClassFile) Marshal() []byte {
	utf8 := func(s string) uint16 {
		i, ok := cf.Pool.FindUtf8(s)
		if !ok {
			panic(&InternalError{Op: "encode", Err: fmt.Errorf("%q not in constant pool", s)})
		}
		return i
	}
	class := func(name string) uint16 {
		for i := 1; i < cf.Pool.Len(); i++ {
			if n, err := cf.Pool.ClassName(uint16(i)); err == nil && n == name {
				return uint16(i)
			}
		}
		panic(&InternalError{Op: "encode", Err: fmt.Errorf("class %q not in constant pool", name)})
	}

	b := binary.BigEndian.AppendUint32(nil, Magic)
	b = appendU2(b, cf.MinorVersion, cf.MajorVersion)
	b = cf.Pool.AppendTo(b)
	b = appendU2(b, uint16(cf.Access), class(cf.Name))
	if cf.SuperName == "" {
		b = appendU2(b, 0)
	} else {
		b = appendU2(b, class(cf.SuperName))
	}
	b = appendU2(b, uint16(len(cf.Interfaces)))
	for _, i := range cf.Interfaces {
		b = appendU2(b, class(i))
	}
	for _, members := range [][]MemberInfo{cf.Fields, cf.Methods} {
		b = appendU2(b, uint16(len(members)))
		for _, m := range members {
			b = appendU2(b, uint16(m.Access), utf8(m.Name), utf8(m.Descriptor))
			if m.Code == nil {
				b = appendU2(b, 0)
				continue
			}
			body := MarshalCode(m.Code, utf8)
			b = appendU2(b, 1, utf8(AttrCode))
			b = binary.BigEndian.AppendUint32(b, uint32(len(body)))
			b = append(b, body...)
		}
	}
	return appendU2(b, 0)
}
