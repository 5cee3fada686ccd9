package cpool

import (
	"errors"
	"testing"
)

func TestReadPoolRoundTrip(t *testing.T) {
	b := NewBuilder()
	str := b.String("héllo \U0001F600")
	long := b.Long(1 << 40)
	after := b.Integer(-7)
	dbl := b.Double(2.5)
	fref := b.Fieldref("demo/Point", "x", "I")
	p := b.Pool()

	data := p.AppendTo(nil)
	data = append(data, 0xFF) // trailing byte must not be consumed
	q, n, err := ReadPool(data)
	if err != nil {
		t.Fatalf("ReadPool: %v", err)
	}
	if n != len(data)-1 {
		t.Errorf("consumed %d bytes, want %d", n, len(data)-1)
	}
	if q.Len() != p.Len() {
		t.Fatalf("Len = %d, want %d", q.Len(), p.Len())
	}

	e, _ := q.Entry(str)
	if s, _ := q.Utf8(e.Index1); s != "héllo \U0001F600" {
		t.Errorf("string = %q", s)
	}
	if e, _ := q.Entry(long); e.Long != 1<<40 {
		t.Errorf("long = %d", e.Long)
	}
	if after != long+2 {
		t.Errorf("long should take two slots: long=%d next=%d", long, after)
	}
	if e, _ := q.Entry(after); e.Int != -7 {
		t.Errorf("int = %d", e.Int)
	}
	if e, _ := q.Entry(dbl); e.Dbl != 2.5 {
		t.Errorf("double = %v", e.Dbl)
	}
	tag, holder, name, desc, err := q.Member(fref)
	if err != nil || tag != TagFieldref || holder != "demo/Point" || name != "x" || desc != "I" {
		t.Errorf("Member = %s %s %s %s %v", tag, holder, name, desc, err)
	}
}

func TestReadPoolErrors(t *testing.T) {
	p := NewBuilder()
	p.Utf8("abc")
	data := p.Pool().AppendTo(nil)

	if _, _, err := ReadPool(data[:len(data)-1]); !errors.Is(err, ErrTruncatedPool) {
		t.Errorf("truncated err = %v", err)
	}
	if _, _, err := ReadPool([]byte{0, 2, 99}); err == nil {
		t.Error("unknown tag should fail")
	}
	// Class entry pointing at itself instead of a Utf8.
	if _, _, err := ReadPool([]byte{0, 2, byte(TagClass), 0, 1}); !errors.Is(err, ErrBadIndex) {
		t.Errorf("bad cross reference err = %v", err)
	}
}

func TestBuilderSharesEntries(t *testing.T) {
	b := NewBuilder()
	a1 := b.Methodref("A", "m", "()V")
	a2 := b.Methodref("A", "m", "()V")
	i := b.InterfaceMethodref("A", "m", "()V")
	if a1 != a2 {
		t.Errorf("identical Methodrefs got %d and %d", a1, a2)
	}
	if i == a1 {
		t.Error("InterfaceMethodref must not share a Methodref entry")
	}
}

func TestParseMethodDescriptor(t *testing.T) {
	tests := []struct {
		desc    string
		params  string
		ret     Kind
		slots   int
		wantErr bool
	}{
		{desc: "()V", ret: KindVoid},
		{desc: "(IJ)D", params: "IJ", ret: KindDouble, slots: 3},
		{desc: "([Ljava/lang/String;Z)Ljava/lang/Object;", params: "LZ", ret: KindObject, slots: 2},
		{desc: "([[I)[I", params: "L", ret: KindObject, slots: 1},
		{desc: "(I", wantErr: true},
		{desc: "I)V", wantErr: true},
		{desc: "(Ljava/lang/String)V", wantErr: true},
		{desc: "()VV", wantErr: true},
	}
	for _, tt := range tests {
		sig, err := ParseMethodDescriptor(tt.desc)
		if tt.wantErr {
			if err == nil {
				t.Errorf("%s: expected error", tt.desc)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: %v", tt.desc, err)
			continue
		}
		params := ""
		for _, p := range sig.Params {
			params += string(rune(p))
		}
		if params != tt.params || sig.Return != tt.ret || sig.ArgSlots() != tt.slots {
			t.Errorf("%s: params=%q ret=%s slots=%d", tt.desc, params, sig.Return, sig.ArgSlots())
		}
	}
}

func TestElementTypeName(t *testing.T) {
	if got := ElementTypeName("[[Ljava/lang/String;"); got != "java/lang/String" {
		t.Errorf("got %q", got)
	}
	if got := ElementTypeName("[I"); got != "" {
		t.Errorf("primitive element got %q", got)
	}
}
