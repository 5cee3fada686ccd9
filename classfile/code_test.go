package classfile

import (
	"errors"
	"reflect"
	"testing"
)

func sampleTables() ([]ExceptionHandlerEntry, LineNumberTable, LocalVariableTable) {
	handlers := []ExceptionHandlerEntry{
		{StartPC: 0, EndPC: 1, HandlerPC: 1, CatchTypeIndex: 3},
	}
	lines := LineNumberTable{
		{StartPC: 0, LineNumber: 10},
		{StartPC: 1, LineNumber: 11},
	}
	locals := LocalVariableTable{
		{StartPC: 0, Length: 2, NameIndex: 4, DescriptorIndex: 5, SignatureIndex: 6, Slot: 0},
	}
	return handlers, lines, locals
}

func TestCodeAttributeLayout(t *testing.T) {
	code := []byte{byte(OpIconst0), byte(OpIreturn)}
	handlers, lines, locals := sampleTables()
	ca := NewCodeAttribute(nil, code, 1, 1, handlers, lines, locals, nil)

	ex, ln, lv, sm := ca.Offsets()
	if ex != 2 || ln != 12 || lv != 22 || sm != NoTable {
		t.Errorf("Offsets() = %d %d %d %d, want 2 12 22 -1", ex, ln, lv, sm)
	}
	if n := len(ca.EncodedData()); n != 36 {
		t.Errorf("len(EncodedData()) = %d, want 36", n)
	}
	if got := ca.Code(); string(got) != string(code) {
		t.Errorf("Code() = % x, want % x", got, code)
	}

	if got := ca.ExceptionHandlerTable(); !reflect.DeepEqual(got, handlers) {
		t.Errorf("ExceptionHandlerTable() = %v, want %v", got, handlers)
	}
	if got := ca.LineNumberTable(); !reflect.DeepEqual(got, lines) {
		t.Errorf("LineNumberTable() = %v, want %v", got, lines)
	}
	ca.LineNumberTable()[0].LineNumber = 99
	if got := ca.LineNumberTable(); !reflect.DeepEqual(got, lines) {
		t.Errorf("LineNumberTable() = %v after changing a returned copy, want %v", got, lines)
	}
	if got := ca.LocalVariableTable(); !reflect.DeepEqual(got, locals) {
		t.Errorf("LocalVariableTable() = %v, want %v", got, locals)
	}
}

func TestCodeAttributeEmptyTables(t *testing.T) {
	code := []byte{byte(OpReturn)}
	ca := NewCodeAttribute(nil, code, 0, 0, nil, nil, nil, nil)

	ex, ln, lv, sm := ca.Offsets()
	if ex != NoTable || ln != NoTable || lv != NoTable || sm != NoTable {
		t.Errorf("Offsets() = %d %d %d %d, want all -1", ex, ln, lv, sm)
	}
	if string(ca.EncodedData()) != string(code) {
		t.Errorf("EncodedData() = % x, want just the code", ca.EncodedData())
	}
	if h := ca.ExceptionHandlerTable(); h == nil || len(h) != 0 {
		t.Errorf("ExceptionHandlerTable() = %#v, want empty non-nil", h)
	}
	if p := ca.ExceptionHandlerPositions(); p != nil {
		t.Errorf("ExceptionHandlerPositions() = %v, want nil", p)
	}
	if l := ca.LineNumberTable(); l == nil || len(l) != 0 {
		t.Errorf("LineNumberTable() = %#v, want empty non-nil", l)
	}
	if l := ca.LocalVariableTable(); l == nil || len(l) != 0 {
		t.Errorf("LocalVariableTable() = %#v, want empty non-nil", l)
	}
	if ca.StackMapTable() != nil {
		t.Error("StackMapTable() != nil for a method without one")
	}
}

func TestCodeAttributeSkipsOnlyAbsentTables(t *testing.T) {
	code := []byte{byte(OpNop), byte(OpReturn)}
	_, lines, _ := sampleTables()
	ca := NewCodeAttribute(nil, code, 0, 0, nil, lines, nil, nil)
	ex, ln, lv, _ := ca.Offsets()
	if ex != NoTable || ln != 2 || lv != NoTable {
		t.Errorf("Offsets() = %d %d %d, want -1 2 -1", ex, ln, lv)
	}
	if got := ca.LineNumberTable().LineAt(1); got != 11 {
		t.Errorf("LineAt(1) = %d, want 11", got)
	}
}

func TestExceptionHandlerPositionsAreDistinct(t *testing.T) {
	code := make([]byte, 8)
	handlers := []ExceptionHandlerEntry{
		{StartPC: 0, EndPC: 4, HandlerPC: 6, CatchTypeIndex: 1},
		{StartPC: 0, EndPC: 4, HandlerPC: 6, CatchTypeIndex: 2},
		{StartPC: 4, EndPC: 6, HandlerPC: 7},
	}
	ca := NewCodeAttribute(nil, code, 0, 0, handlers, nil, nil, nil)
	if got := ca.ExceptionHandlerPositions(); !reflect.DeepEqual(got, []int{6, 7}) {
		t.Errorf("ExceptionHandlerPositions() = %v, want [6 7]", got)
	}
	if !handlers[2].Covers(5) || handlers[2].Covers(6) {
		t.Error("Covers does not treat the range as half-open")
	}
}

func TestStackMapCachingAndReplacement(t *testing.T) {
	code := make([]byte, 4)
	first := &StackMapTable{Frames: []StackMapFrame{
		{Type: 3},
		{Type: FrameAppendMin, OffsetDelta: 0, Locals: []VerificationType{{Tag: ItemInteger}}},
	}}
	ca := NewCodeAttribute(nil, code, 0, 1, nil, nil, nil, first)

	if _, _, _, sm := ca.Offsets(); sm != 0 {
		t.Errorf("stack map offset = %d, want 0", sm)
	}
	a := ca.StackMapTable()
	b := ca.StackMapTable()
	if a != b {
		t.Error("StackMapTable() decoded twice")
	}
	if !reflect.DeepEqual(a.BCIs(), []int{3, 4}) {
		t.Errorf("BCIs() = %v, want [3 4]", a.BCIs())
	}

	second := &StackMapTable{Frames: []StackMapFrame{{Type: 64, Stack: []VerificationType{{Tag: ItemObject, CPI: 9}}}}}
	ca.SetStackMapTable(second)
	got := ca.StackMapTable()
	if got == a {
		t.Fatal("StackMapTable() returned the stale cache after replacement")
	}
	if len(got.Frames) != 1 || got.Frames[0].Stack[0].CPI != 9 {
		t.Errorf("replaced table = %+v", got)
	}

	ca.SetStackMapTable(nil)
	if ca.StackMapTable() != nil || ca.EncodedStackMap() != nil {
		t.Error("stack map survived removal")
	}
	if _, _, _, sm := ca.Offsets(); sm != NoTable {
		t.Errorf("stack map offset after removal = %d, want -1", sm)
	}
}

func TestStackMapFullFrameRoundTrip(t *testing.T) {
	in := &StackMapTable{Frames: []StackMapFrame{
		{Type: FrameFull, OffsetDelta: 12,
			Locals: []VerificationType{{Tag: ItemObject, CPI: 2}, {Tag: ItemLong}},
			Stack:  []VerificationType{{Tag: ItemUninitialized, Offset: 7}}},
		{Type: FrameChopMin, OffsetDelta: 3},
		{Type: FrameSameLocals1StackItemExt, OffsetDelta: 300, Stack: []VerificationType{{Tag: ItemNull}}},
	}}
	out, err := DecodeStackMapTable(in.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(out, in) {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}
	if _, err := DecodeStackMapTable([]byte{0, 1, 200}); err == nil {
		t.Error("reserved frame type accepted")
	}
}

func TestCorruptBlobPanicsWithInternalError(t *testing.T) {
	handlers, _, _ := sampleTables()
	ca := NewCodeAttribute(nil, []byte{0, 0}, 0, 0, handlers, nil, nil, nil)
	ca.encoded = ca.encoded[:ca.exceptionTableOffset+3]

	defer func() {
		r := recover()
		err, ok := r.(error)
		if !ok {
			t.Fatalf("recovered %v, want an error", r)
		}
		var ie *InternalError
		if !errors.As(err, &ie) || ie.Op != "decode" {
			t.Errorf("recovered %v, want decode InternalError", err)
		}
	}()
	ca.ExceptionHandlerTable()
}

func TestLocalVariableLookup(t *testing.T) {
	_, _, locals := sampleTables()
	if e, ok := locals.At(0, 1); !ok || e.NameIndex != 4 {
		t.Errorf("At(0, 1) = %+v, %v", e, ok)
	}
	if _, ok := locals.At(0, 2); ok {
		t.Error("At(0, 2) found an entry past its live range")
	}
}
