// Package pipeline drives compilation: it turns a method's code attribute
// into a finished target method, schedules compilations on background
// workers and compiles batches concurrently.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/chazu/tiercomp/asm"
	"github.com/chazu/tiercomp/classfile"
	"github.com/chazu/tiercomp/codecache"
	"github.com/chazu/tiercomp/cpool"
	"github.com/chazu/tiercomp/ir"
	"github.com/chazu/tiercomp/target"
)

var log = commonlog.GetLogger("tiercomp.pipeline")

// Request asks for one method to be compiled.
type Request struct {
	ID         uuid.UUID
	Class      string
	Method     string
	Descriptor string
	Code       *classfile.CodeAttribute
	Resolver   cpool.Resolver

	// Parent is the request whose compilation asked for this one, if any.
	Parent *Request
}

// NewRequest creates a request with a fresh task id.
func NewRequest(class string, m *classfile.MemberInfo, resolver cpool.Resolver) *Request {
	return &Request{
		ID:         uuid.New(),
		Class:      class,
		Method:     m.Name,
		Descriptor: m.Descriptor,
		Code:       m.Code,
		Resolver:   resolver,
	}
}

// Key names the method, for example "demo/Point.getX()I".
func (r *Request) Key() string {
	return r.Class + "." + r.Method + r.Descriptor
}

// Result is the outcome of one request. On a cache hit Method is nil and
// Artifact holds the stored record.
type Result struct {
	Request  *Request
	Method   *target.TargetMethod
	Artifact *codecache.Record
	Cached   bool
	Elapsed  time.Duration
	Err      error
}

// CompileError reports a failed compilation. Fatal is set when the failure
// was a compiler bug (a contract violation, a corrupt internal encoding or
// a code buffer overflow) rather than a problem with the input.
type CompileError struct {
	Method string
	Fatal  bool
	Err    error
}

func (e *CompileError) Error() string {
	if e.Fatal {
		return fmt.Sprintf("pipeline: %s: fatal: %v", e.Method, e.Err)
	}
	return fmt.Sprintf("pipeline: %s: %v", e.Method, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

// Cache stores artifacts between runs. *codecache.Store implements it.
type Cache interface {
	Get(ctx context.Context, key string) (*codecache.Record, error)
	Put(ctx context.Context, key string, r *codecache.Record) error
}

// Options configure a Compiler.
type Options struct {
	Arch         asm.Arch
	CodeCapacity int // code buffer limit in bytes, asm.DefaultCodeCapacity when zero
	Assembler    target.Options
	Observers    []target.Observer
	Cache        Cache // may be nil
}

// Compiler compiles single methods. It holds no per-method state and may
// be used from several goroutines.
type Compiler struct {
	options Options
}

// NewCompiler creates a compiler.
func NewCompiler(options Options) (*Compiler, error) {
	if _, err := asm.New(options.Arch, 1); err != nil {
		return nil, err
	}
	return &Compiler{options: options}, nil
}

// Arch returns the target architecture.
func (c *Compiler) Arch() asm.Arch { return c.options.Arch }

// Compile compiles req. Failures are reported both as the returned error
// and in the result.
func (c *Compiler) Compile(ctx context.Context, req *Request) (*Result, error) {
	start := time.Now()
	res := &Result{Request: req}
	finish := func(err error) (*Result, error) {
		res.Elapsed = time.Since(start)
		res.Err = err
		return res, err
	}
	if err := ctx.Err(); err != nil {
		return finish(err)
	}
	if req.Code == nil {
		return finish(&CompileError{Method: req.Key(), Err: errors.New("method has no code")})
	}

	var key string
	var link []byte
	if c.options.Cache != nil {
		link = linkage(req.Code, req.Resolver)
		key = codecache.Key(c.options.Arch, req.Key(), req.Code, link)
		rec, err := c.options.Cache.Get(ctx, key)
		switch {
		case err == nil:
			log.Debugf("cache hit for %s", req.Key())
			res.Artifact = rec
			res.Cached = true
			return finish(nil)
		case !errors.Is(err, codecache.ErrNotFound):
			log.Warningf("cache lookup for %s: %s", req.Key(), err)
		}
	}

	tm, err := c.compile(req)
	if err != nil {
		return finish(err)
	}
	res.Method = tm
	log.Debugf("compiled %s: %s", req.Key(), tm)

	if c.options.Cache != nil {
		res.Artifact = codecache.NewRecord(req.Key(), c.options.Arch, tm)
		if !bytes.Equal(link, linkage(req.Code, req.Resolver)) {
			// A class was loaded while compiling; the key no longer
			// describes what the code was compiled against.
			log.Debugf("not caching %s: linkage changed during compilation", req.Key())
			return finish(nil)
		}
		if err := c.options.Cache.Put(ctx, key, res.Artifact); err != nil {
			log.Warningf("cache store for %s: %s", req.Key(), err)
		}
	}
	return finish(nil)
}

// compile runs translation, lowering and finalization. Assembler contract
// violations, buffer overflows and internal encoding errors are recovered
// into a fatal CompileError; no partially built target method escapes.
func (c *Compiler) compile(req *Request) (tm *target.TargetMethod, err error) {
	name := req.Key()
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if cause := fatalCause(r); cause != nil {
			log.Errorf("compiling %s: %s", name, cause)
			tm, err = nil, &CompileError{Method: name, Fatal: true, Err: cause}
			return
		}
		panic(r)
	}()

	m, err := ir.Translate(name, req.Code)
	if err != nil {
		return nil, &CompileError{Method: name, Err: err}
	}
	a, err := asm.New(c.options.Arch, c.options.CodeCapacity)
	if err != nil {
		return nil, &CompileError{Method: name, Err: err}
	}
	tma := target.NewTargetMethodAssembler(a, c.options.Assembler, c.options.Observers...)
	l, err := NewLowerer(m, req.Resolver, tma)
	if err != nil {
		return nil, &CompileError{Method: name, Err: err}
	}
	if err := l.Lower(); err != nil {
		return nil, &CompileError{Method: name, Err: err}
	}
	return tma.FinishTargetMethod(name, target.NewRuntime(req.Resolver, c.options.Arch), -1, false), nil
}

// fatalCause returns the error carried by a recovered panic value that
// signals a compiler bug, or nil for any other panic.
func fatalCause(r any) error {
	switch v := r.(type) {
	case *target.ContractViolation:
		return v
	case *classfile.InternalError:
		return v
	case error:
		if errors.Is(v, asm.ErrCodeBufferOverflow) || errors.Is(v, asm.ErrCodeBufferClosed) {
			return v
		}
	}
	return nil
}
