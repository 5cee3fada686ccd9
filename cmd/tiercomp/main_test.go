package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/tiercomp/classfile"
	"github.com/chazu/tiercomp/config"
	"github.com/chazu/tiercomp/cpool"
)

// writePointClass writes demo/Point, which implements an interface that is
// not among the inputs.
func writePointClass(t *testing.T, dir string) {
	t.Helper()
	b := cpool.NewBuilder()
	b.Class("demo/Point")
	b.Class("java/lang/Object")
	b.Class("demo/Shape")
	for _, s := range []string{"x", "I", "getX", "()I", "spin", "()V", classfile.AttrCode} {
		b.Utf8(s)
	}
	x := b.Fieldref("demo/Point", "x", "I")
	pool := b.Pool()

	getX := classfile.NewBytecodeBuilder()
	getX.Emit(classfile.OpAload0)
	getX.EmitUint16(classfile.OpGetfield, x)
	getX.Emit(classfile.OpIreturn)

	spin := classfile.NewBytecodeBuilder()
	top := spin.NewLabel()
	spin.Mark(top)
	spin.EmitJump(classfile.OpGoto, top)

	cf := &classfile.ClassFile{
		MajorVersion: 52,
		Pool:         pool,
		Access:       classfile.AccPublic,
		Name:         "demo/Point",
		SuperName:    "java/lang/Object",
		Interfaces:   []string{"demo/Shape"},
		Fields:       []classfile.MemberInfo{{Name: "x", Descriptor: "I"}},
		Methods: []classfile.MemberInfo{
			{Access: classfile.AccPublic, Name: "getX", Descriptor: "()I",
				Code: classfile.NewCodeAttribute(pool, getX.Bytes(), 1, 1, nil, nil, nil, nil)},
			{Access: classfile.AccStatic, Name: "spin", Descriptor: "()V",
				Code: classfile.NewCodeAttribute(pool, spin.Bytes(), 0, 0, nil, nil, nil, nil)},
		},
	}
	if err := os.MkdirAll(filepath.Join(dir, "demo"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "demo", "Point.class"), cf.Marshal(), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "README"), []byte("not a class"), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestRunClosedWorld(t *testing.T) {
	dir := t.TempDir()
	writePointClass(t, dir)

	cfg := config.Default()
	cfg.Assembler.PrintMetrics = true
	var out bytes.Buffer
	failed, err := run(context.Background(), options{config: cfg, bytecode: true}, []string{dir}, &out)
	if err != nil {
		t.Fatal(err)
	}
	if failed != 0 {
		t.Errorf("%d failures:\n%s", failed, out.String())
	}
	s := out.String()
	for _, want := range []string{
		"demo/Point.getX()I: ", "demo/Point.spin()V: ", "getfield", "target methods: 2",
	} {
		if !strings.Contains(s, want) {
			t.Errorf("output missing %q:\n%s", want, s)
		}
	}
}

func TestRunFilterAndCache(t *testing.T) {
	dir := t.TempDir()
	writePointClass(t, dir)

	cfg := config.Default()
	cfg.Target.Arch = "ppc64"
	cfg.Cache.Path = filepath.Join(t.TempDir(), "cache.db")
	opts := options{config: cfg, filter: "spin"}

	var first, second bytes.Buffer
	if _, err := run(context.Background(), opts, []string{dir}, &first); err != nil {
		t.Fatal(err)
	}
	if _, err := run(context.Background(), opts, []string{dir}, &second); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(first.String(), "getX") {
		t.Errorf("filter ignored:\n%s", first.String())
	}
	if strings.Contains(first.String(), "cached") {
		t.Errorf("first run hit the cache:\n%s", first.String())
	}
	if !strings.Contains(second.String(), "demo/Point.spin()V: cached") {
		t.Errorf("second run missed the cache:\n%s", second.String())
	}
}

func TestRunDynamic(t *testing.T) {
	dir := t.TempDir()
	writePointClass(t, dir)

	var out bytes.Buffer
	failed, err := run(context.Background(), options{config: config.Default(), dynamic: true}, []string{dir}, &out)
	if err != nil {
		t.Fatal(err)
	}
	if failed != 0 || !strings.Contains(out.String(), "demo/Point.getX()I: ") {
		t.Errorf("%d failures:\n%s", failed, out.String())
	}
}

func TestRunErrors(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "Bad.class"), []byte{0xca, 0xfe}, 0644); err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	if _, err := run(context.Background(), options{config: config.Default()}, []string{dir}, &out); err == nil {
		t.Error("run accepted a truncated class file")
	}
	if _, err := run(context.Background(), options{config: config.Default()}, []string{filepath.Join(dir, "missing")}, &out); err == nil {
		t.Error("run accepted a missing path")
	}
}

func TestStubClasses(t *testing.T) {
	cfs := []*classfile.ClassFile{
		{Name: "demo/A", SuperName: "demo/Base", Interfaces: []string{"demo/I"}},
		{Name: "demo/Base", SuperName: "java/lang/Object"},
	}
	stubs := stubClasses(cfs)
	var names []string
	for _, s := range stubs {
		names = append(names, s.Name)
	}
	if got := strings.Join(names, " "); got != "demo/I java/lang/Object" {
		t.Errorf("stubs = %s", got)
	}
	if !stubs[0].IsInterface || stubs[0].SuperName != "java/lang/Object" || stubs[1].SuperName != "" {
		t.Errorf("stubs = %+v %+v", stubs[0], stubs[1])
	}
}
