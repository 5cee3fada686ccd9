package classfile

import (
	"errors"
	"testing"

	"github.com/chazu/tiercomp/cpool"
)

func samplePointClass() *ClassFile {
	b := cpool.NewBuilder()
	b.Class("demo/Point")
	b.Class("java/lang/Object")
	b.Class("demo/Shape")
	for _, s := range []string{"x", "I", "origin", "Ldemo/Point;", "getX", "()I", "area", AttrCode, AttrLineNumberTable} {
		b.Utf8(s)
	}
	getfield := b.Fieldref("demo/Point", "x", "I")
	pool := b.Pool()

	bb := NewBytecodeBuilder()
	bb.Emit(OpAload0)
	bb.EmitUint16(OpGetfield, getfield)
	bb.Emit(OpIreturn)
	code := NewCodeAttribute(pool, bb.Bytes(), 1, 1, nil, LineNumberTable{{StartPC: 0, LineNumber: 7}}, nil, nil)

	return &ClassFile{
		MinorVersion: 0,
		MajorVersion: 52,
		Pool:         pool,
		Access:       AccPublic,
		Name:         "demo/Point",
		SuperName:    "java/lang/Object",
		Interfaces:   []string{"demo/Shape"},
		Fields: []MemberInfo{
			{Access: AccPrivate, Name: "x", Descriptor: "I"},
			{Access: AccStatic, Name: "origin", Descriptor: "Ldemo/Point;"},
		},
		Methods: []MemberInfo{
			{Access: AccPublic, Name: "getX", Descriptor: "()I", Code: code},
			{Access: AccPublic | AccAbstract, Name: "area", Descriptor: "()I"},
		},
	}
}

func TestClassFileRoundTrip(t *testing.T) {
	in := samplePointClass()
	cf, err := ReadClass(in.Marshal())
	if err != nil {
		t.Fatalf("ReadClass: %v", err)
	}
	if cf.Name != "demo/Point" || cf.SuperName != "java/lang/Object" {
		t.Errorf("names = %q extends %q", cf.Name, cf.SuperName)
	}
	if cf.MajorVersion != 52 {
		t.Errorf("MajorVersion = %d, want 52", cf.MajorVersion)
	}
	if len(cf.Interfaces) != 1 || cf.Interfaces[0] != "demo/Shape" {
		t.Errorf("Interfaces = %v", cf.Interfaces)
	}
	if len(cf.Fields) != 2 || len(cf.Methods) != 2 {
		t.Fatalf("got %d fields and %d methods, want 2 and 2", len(cf.Fields), len(cf.Methods))
	}

	m := cf.Method("getX", "()I")
	if m == nil || m.Code == nil {
		t.Fatal("getX has no code")
	}
	if string(m.Code.Code()) != string(in.Methods[0].Code.Code()) {
		t.Errorf("getX code = % x", m.Code.Code())
	}
	if got := m.Code.LineNumberTable().LineAt(1); got != 7 {
		t.Errorf("LineAt(1) = %d, want 7", got)
	}
	if a := cf.Method("area", "()I"); a == nil || a.Code != nil {
		t.Error("abstract method should have no code")
	}
	if cf.Method("getX", "()J") != nil {
		t.Error("Method matched the wrong descriptor")
	}
}

func TestRuntimeClass(t *testing.T) {
	c := samplePointClass().RuntimeClass()
	if c.Name != "demo/Point" || c.SuperName != "java/lang/Object" {
		t.Errorf("class = %s extends %s", c.Name, c.SuperName)
	}
	if f := c.DeclaredField("origin", "Ldemo/Point;"); f == nil || !f.Static {
		t.Errorf("origin = %+v, want a static field", f)
	}
	if m := c.DeclaredMethod("area", "()I"); m == nil || !m.Abstract {
		t.Errorf("area = %+v, want an abstract method", m)
	}
}

func TestReadClassErrors(t *testing.T) {
	good := samplePointClass().Marshal()

	badMagic := append([]byte(nil), good...)
	badMagic[0] = 0
	trailing := append(append([]byte(nil), good...), 0)

	for name, data := range map[string][]byte{
		"bad magic": badMagic,
		"truncated": good[:len(good)-3],
		"trailing":  trailing,
		"empty":     nil,
	} {
		_, err := ReadClass(data)
		var fe *FormatError
		if !errors.As(err, &fe) {
			t.Errorf("%s: ReadClass() error = %v, want *FormatError", name, err)
		}
	}
}

func TestMarshalMissingNamePanics(t *testing.T) {
	cf := samplePointClass()
	cf.Fields = append(cf.Fields, MemberInfo{Name: "missing", Descriptor: "I"})
	defer func() {
		if _, ok := recover().(*InternalError); !ok {
			t.Error("Marshal did not panic with *InternalError")
		}
	}()
	cf.Marshal()
}
