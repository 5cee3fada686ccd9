package pipeline

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/chazu/tiercomp/asm"
	"github.com/chazu/tiercomp/classfile"
	"github.com/chazu/tiercomp/codecache"
	"github.com/chazu/tiercomp/cpool"
	"github.com/chazu/tiercomp/target"
)

func testClasses() []*cpool.Class {
	object := &cpool.Class{Name: "java/lang/Object", Methods: []*cpool.Method{
		{Name: "<init>", Descriptor: "()V"},
	}}
	failure := &cpool.Class{Name: "demo/Failure", SuperName: "java/lang/Object"}
	point := &cpool.Class{Name: "demo/Point", SuperName: "java/lang/Object",
		Fields: []*cpool.Field{{Name: "x", Descriptor: "I"}},
		Methods: []*cpool.Method{
			{Name: "getX", Descriptor: "()I"},
			{Name: "twice", Descriptor: "(I)I", Static: true},
		}}
	return []*cpool.Class{object, failure, point}
}

type fixture struct {
	pool     *cpool.Pool
	resolver cpool.Resolver
	x        uint16
	getX     uint16
	twice    uint16
	failure  uint16
	big      uint16
	missing  uint16
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureIn(t, testClasses())
}

// newFixtureIn builds the fixture pool against a universe of classes.
func newFixtureIn(t *testing.T, classes []*cpool.Class) *fixture {
	t.Helper()
	u, err := cpool.NewUniverse(classes...)
	if err != nil {
		t.Fatal(err)
	}
	b := cpool.NewBuilder()
	f := &fixture{
		x:       b.Fieldref("demo/Point", "x", "I"),
		getX:    b.Methodref("demo/Point", "getX", "()I"),
		twice:   b.Methodref("demo/Point", "twice", "(I)I"),
		failure: b.Class("demo/Failure"),
		big:     b.Long(1 << 40),
		missing: b.Methodref("demo/Missing", "run", "()V"),
	}
	f.pool = b.Pool()
	f.resolver = cpool.NewClosedWorldResolver(f.pool, u)
	return f
}

func (f *fixture) request(method, desc string, code []byte, maxStack, maxLocals uint16, handlers ...classfile.ExceptionHandlerEntry) *Request {
	m := &classfile.MemberInfo{
		Name:       method,
		Descriptor: desc,
		Code:       classfile.NewCodeAttribute(f.pool, code, maxStack, maxLocals, handlers, nil, nil, nil),
	}
	return NewRequest("demo/Point", m, f.resolver)
}

// guarded compiles roughly
//
//	static int guarded(int n) { try { return twice(n); } catch (Failure e) { return -1; } }
func (f *fixture) guarded() *Request {
	b := classfile.NewBytecodeBuilder()
	b.Emit(classfile.OpIload0)
	b.EmitUint16(classfile.OpInvokestatic, f.twice)
	b.Emit(classfile.OpIreturn)
	handler := b.Len()
	b.Emit(classfile.OpAstore1)
	b.Emit(classfile.OpIconstM1)
	b.Emit(classfile.OpIreturn)
	h := classfile.ExceptionHandlerEntry{StartPC: 0, EndPC: uint16(handler), HandlerPC: uint16(handler), CatchTypeIndex: f.failure}
	return f.request("guarded", "(I)I", b.Bytes(), 1, 2, h)
}

// loop compiles roughly
//
//	static void loop() { for (int i = 0; i < 10; i++) {} }
func (f *fixture) loop() *Request {
	b := classfile.NewBytecodeBuilder()
	top := b.NewLabel()
	b.Emit(classfile.OpIconst0)
	b.Emit(classfile.OpIstore0)
	b.Mark(top)
	b.EmitIinc(0, 1)
	b.Emit(classfile.OpIload0)
	b.EmitByte(classfile.OpBipush, 10)
	b.EmitJump(classfile.OpIfIcmplt, top)
	b.Emit(classfile.OpReturn)
	return f.request("loop", "()V", b.Bytes(), 2, 1)
}

func (f *fixture) constant() *Request {
	b := classfile.NewBytecodeBuilder()
	b.EmitUint16(classfile.OpLdc2W, f.big)
	b.Emit(classfile.OpLreturn)
	return f.request("constant", "()J", b.Bytes(), 2, 0)
}

func (f *fixture) virtual() *Request {
	b := classfile.NewBytecodeBuilder()
	b.Emit(classfile.OpAload0)
	b.EmitUint16(classfile.OpInvokevirtual, f.getX)
	b.Emit(classfile.OpAload0)
	b.EmitUint16(classfile.OpGetfield, f.x)
	b.Emit(classfile.OpIadd)
	b.Emit(classfile.OpIreturn)
	return f.request("sum", "()I", b.Bytes(), 2, 1)
}

func (f *fixture) unresolved() *Request {
	b := classfile.NewBytecodeBuilder()
	b.EmitUint16(classfile.OpInvokestatic, f.missing)
	b.Emit(classfile.OpReturn)
	return f.request("unresolved", "()V", b.Bytes(), 0, 0)
}

func (f *fixture) subroutine() *Request {
	b := classfile.NewBytecodeBuilder()
	sub := b.NewLabel()
	b.EmitJump(classfile.OpJsr, sub)
	b.Emit(classfile.OpReturn)
	b.Mark(sub)
	b.Emit(classfile.OpAstore0)
	b.EmitByte(classfile.OpRet, 0)
	return f.request("subroutine", "()V", b.Bytes(), 1, 1)
}

func newCompiler(t *testing.T, arch asm.Arch) *Compiler {
	t.Helper()
	c, err := NewCompiler(Options{Arch: arch, Assembler: target.DefaultOptions()})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func mustCompile(t *testing.T, c *Compiler, req *Request) *target.TargetMethod {
	t.Helper()
	res, err := c.Compile(context.Background(), req)
	if err != nil {
		t.Fatalf("Compile(%s): %v", req.Key(), err)
	}
	if res.Method == nil || !res.Method.Finished() {
		t.Fatalf("Compile(%s) returned no finished method", req.Key())
	}
	return res.Method
}

func markAt(tm *target.TargetMethod, id target.MarkID) (int, bool) {
	for _, m := range tm.Marks() {
		if m.ID == id {
			return m.Pos, true
		}
	}
	return 0, false
}

func TestNewCompilerRejectsUnknownArch(t *testing.T) {
	if _, err := NewCompiler(Options{Arch: "vax"}); err == nil {
		t.Error("NewCompiler accepted an unknown architecture")
	}
}

func TestRequestKey(t *testing.T) {
	f := newFixture(t)
	a, b := f.guarded(), f.guarded()
	if a.Key() != "demo/Point.guarded(I)I" {
		t.Errorf("Key = %q", a.Key())
	}
	if a.ID == b.ID {
		t.Error("requests share a task id")
	}
}

func TestCompileGuardedCall(t *testing.T) {
	for _, arch := range []asm.Arch{asm.ArchAMD64, asm.ArchPPC64} {
		t.Run(string(arch), func(t *testing.T) {
			f := newFixture(t)
			tm := mustCompile(t, newCompiler(t, arch), f.guarded())

			calls := tm.DirectCalls()
			if len(calls) != 1 {
				t.Fatalf("%d direct calls, want 1", len(calls))
			}
			callee, ok := calls[0].Target.(*cpool.Method)
			if !ok || callee.Name != "twice" {
				t.Errorf("call target = %v, want demo/Point.twice", calls[0].Target)
			}
			if sp, ok := tm.SafepointAt(calls[0].Pos); !ok || sp.Kind != target.SafepointCall {
				t.Errorf("no call safepoint at %d", calls[0].Pos)
			}

			handlers := tm.ExceptionHandlers()
			if len(handlers) != 1 {
				t.Fatalf("handlers = %v, want one entry", handlers)
			}
			h := handlers[0]
			if h.CodeOffset != calls[0].Pos || h.BCI != 1 || h.HandlerBCI != 5 {
				t.Errorf("handler = %v", h)
			}
			if c, ok := h.CatchType.(*cpool.Class); !ok || c.Name != "demo/Failure" {
				t.Errorf("catch type = %v, want resolved demo/Failure", h.CatchType)
			}
			entry, ok := markAt(tm, target.MarkExceptionHandlerEntry)
			if !ok || entry != h.HandlerOffset {
				t.Errorf("handler entry mark at %d, handler offset %d", entry, h.HandlerOffset)
			}
			if tm.FrameSize()%16 != 0 {
				t.Errorf("frame size %d not aligned", tm.FrameSize())
			}
		})
	}
}

func TestCompileLoopPollsAtHeader(t *testing.T) {
	f := newFixture(t)
	tm := mustCompile(t, newCompiler(t, asm.ArchAMD64), f.loop())

	var polls []target.Safepoint
	for _, s := range tm.Safepoints() {
		if s.Kind == target.SafepointPoll {
			polls = append(polls, s)
		}
	}
	if len(polls) != 1 {
		t.Fatalf("%d polls, want 1", len(polls))
	}
	if polls[0].DebugInfo.BCI != 2 {
		t.Errorf("poll at bci %d, want 2", polls[0].DebugInfo.BCI)
	}
	if fr := polls[0].DebugInfo.Frame; fr == nil || len(fr.Locals) != 1 || len(fr.Stack) != 0 {
		t.Errorf("poll frame = %v", fr)
	}
	if len(tm.ExceptionHandlers()) != 0 {
		t.Errorf("handlers = %v, want none", tm.ExceptionHandlers())
	}
	if _, ok := markAt(tm, target.MarkVerifiedEntry); !ok {
		t.Error("no verified entry mark")
	}
}

func TestCompileConstantDataReference(t *testing.T) {
	f := newFixture(t)
	tm := mustCompile(t, newCompiler(t, asm.ArchPPC64), f.constant())

	refs := tm.DataReferences()
	if len(refs) != 1 {
		t.Fatalf("%d data references, want 1", len(refs))
	}
	d := refs[0]
	if d.Data.Tag != cpool.TagLong || d.Data.Value != int64(1<<40) || d.Alignment != 8 {
		t.Errorf("data reference = %v", d)
	}
	if d.Pos%4 != 0 {
		t.Errorf("data reference at unaligned instruction %d", d.Pos)
	}
}

func TestCompileVirtualDispatch(t *testing.T) {
	f := newFixture(t)
	tm := mustCompile(t, newCompiler(t, asm.ArchAMD64), f.virtual())

	if _, ok := markAt(tm, target.MarkInvokeVirtual); !ok {
		t.Error("no invoke-virtual mark")
	}
	calls := tm.IndirectCalls()
	if len(calls) != 1 {
		t.Fatalf("%d indirect calls, want 1", len(calls))
	}
	if m, ok := calls[0].Target.(*cpool.Method); !ok || m.Name != "getX" {
		t.Errorf("call target = %v", calls[0].Target)
	}
	var implicit int
	for _, s := range tm.Safepoints() {
		if s.Kind == target.SafepointImplicitException {
			implicit++
		}
	}
	// hub load and field load
	if implicit != 2 {
		t.Errorf("%d implicit exception points, want 2", implicit)
	}
}

func TestCompileUnresolvedCallGoesThroughRuntime(t *testing.T) {
	f := newFixture(t)
	tm := mustCompile(t, newCompiler(t, asm.ArchAMD64), f.unresolved())

	calls := tm.DirectCalls()
	if len(calls) != 1 {
		t.Fatalf("%d direct calls, want 1", len(calls))
	}
	ref, ok := calls[0].Target.(cpool.MethodRef)
	if !ok || ref.IsResolved() || ref.HolderName() != "demo/Missing" {
		t.Errorf("call target = %v, want unresolved demo/Missing.run", calls[0].Target)
	}
}

func TestCompileErrors(t *testing.T) {
	f := newFixture(t)
	c := newCompiler(t, asm.ArchAMD64)

	b := classfile.NewBytecodeBuilder()
	b.Emit(classfile.OpIadd)
	b.Emit(classfile.OpIreturn)
	underflow := f.request("underflow", "()I", b.Bytes(), 2, 0)

	tests := []struct {
		name string
		req  *Request
		want error
	}{
		{"jsr", f.subroutine(), ErrUnsupported},
		{"underflow", underflow, ErrStackDepth},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := c.Compile(context.Background(), tt.req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Compile error = %v, want %v", err, tt.want)
			}
			var ce *CompileError
			if !errors.As(err, &ce) || ce.Fatal {
				t.Errorf("error = %#v, want non-fatal CompileError", err)
			}
			if res.Err != err || res.Method != nil {
				t.Errorf("result = %+v", res)
			}
		})
	}

	t.Run("no code", func(t *testing.T) {
		req := &Request{Class: "demo/Point", Method: "abstract", Descriptor: "()V", Resolver: f.resolver}
		if _, err := c.Compile(context.Background(), req); err == nil {
			t.Error("compiled a method without code")
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := c.Compile(ctx, f.loop()); !errors.Is(err, context.Canceled) {
			t.Errorf("error = %v, want context.Canceled", err)
		}
	})
}

func TestCompileBufferOverflowIsFatal(t *testing.T) {
	f := newFixture(t)
	c, err := NewCompiler(Options{Arch: asm.ArchAMD64, CodeCapacity: 8})
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Compile(context.Background(), f.guarded())
	var ce *CompileError
	if !errors.As(err, &ce) || !ce.Fatal {
		t.Fatalf("error = %v, want fatal CompileError", err)
	}
	if !errors.Is(err, asm.ErrCodeBufferOverflow) {
		t.Errorf("error = %v, want buffer overflow", err)
	}
}

func TestCompileUsesCache(t *testing.T) {
	ctx := context.Background()
	store, err := codecache.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	var metrics target.Metrics
	c, err := NewCompiler(Options{
		Arch:      asm.ArchAMD64,
		Cache:     store,
		Observers: target.NewObservers(target.Options{PrintMetrics: true}, &metrics, nil),
	})
	if err != nil {
		t.Fatal(err)
	}

	f := newFixture(t)
	first, err := c.Compile(ctx, f.guarded())
	if err != nil {
		t.Fatal(err)
	}
	if first.Cached || first.Artifact == nil {
		t.Fatalf("first compile = %+v", first)
	}

	second, err := c.Compile(ctx, f.guarded())
	if err != nil {
		t.Fatal(err)
	}
	if !second.Cached || second.Method != nil {
		t.Fatalf("second compile = %+v, want a cache hit", second)
	}
	if !reflect.DeepEqual(second.Artifact, first.Artifact) {
		t.Errorf("cached artifact = %s, want %s", second.Artifact, first.Artifact)
	}
	if n := metrics.TargetMethods.Load(); n != 1 {
		t.Errorf("%d target methods finished, want 1", n)
	}
}

func TestCompileCacheMissesWhenSuperclassChanges(t *testing.T) {
	ctx := context.Background()
	store, err := codecache.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	c, err := NewCompiler(Options{Arch: asm.ArchAMD64, Cache: store})
	if err != nil {
		t.Fatal(err)
	}

	first, err := c.Compile(ctx, newFixture(t).virtual())
	if err != nil {
		t.Fatal(err)
	}

	// java/lang/Object gains a field and a virtual method, which moves
	// Point.x and the vtable slot of Point.getX.
	grown := testClasses()
	grown[0].Fields = []*cpool.Field{{Name: "hash", Descriptor: "I"}}
	grown[0].Methods = append(grown[0].Methods, &cpool.Method{Name: "hashCode", Descriptor: "()I"})
	moved, err := c.Compile(ctx, newFixtureIn(t, grown).virtual())
	if err != nil {
		t.Fatal(err)
	}
	if moved.Cached {
		t.Fatal("compile after a superclass change hit the cache")
	}
	if bytes.Equal(moved.Artifact.Code, first.Artifact.Code) {
		t.Error("code unchanged after field offset and vtable slot moved")
	}

	again, err := c.Compile(ctx, newFixture(t).virtual())
	if err != nil {
		t.Fatal(err)
	}
	if !again.Cached || !bytes.Equal(again.Artifact.Code, first.Artifact.Code) {
		t.Errorf("recompile against the original classes = %+v, want the first artifact", again)
	}
}

func TestLinkage(t *testing.T) {
	f := newFixture(t)
	v := f.virtual()
	got := string(linkage(v.Code, v.Resolver))
	want := "1 demo/Point[24/0/1].getX()I static=false vtable=0\n" +
		"5 demo/Point[24/0/1].x:I static=false +16\n"
	if got != want {
		t.Errorf("linkage = %q, want %q", got, want)
	}

	u := f.unresolved()
	if got, want := string(linkage(u.Code, u.Resolver)), "0 ? demo/Missing.run\n"; got != want {
		t.Errorf("linkage = %q, want %q", got, want)
	}
}
