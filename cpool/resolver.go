package cpool

import (
	"errors"
	"fmt"
)

// Resolver maps constant-pool indices to fields, methods and types.
//
// Lookup operations are for use while compiling: they never load or link a
// class and never fail for resolution reasons, returning an unresolved marker
// instead. Resolve operations are for use at execution time: they may load
// and link classes and report failures as *ResolutionError.
//
// Resolving an index more than once, from any number of goroutines, returns
// the same pointer every time.
type Resolver interface {
	LookupGetField(cpi uint16) FieldRef
	LookupPutField(cpi uint16) FieldRef
	LookupGetStatic(cpi uint16) FieldRef
	LookupPutStatic(cpi uint16) FieldRef
	LookupInvokeVirtual(cpi uint16) MethodRef
	LookupInvokeSpecial(cpi uint16) MethodRef
	LookupInvokeStatic(cpi uint16) MethodRef
	LookupInvokeInterface(cpi uint16) MethodRef
	LookupType(cpi uint16) TypeRef
	LookupConstant(cpi uint16) (Constant, error)

	ResolveGetField(cpi uint16) (*Field, error)
	ResolvePutField(cpi uint16) (*Field, error)
	ResolveGetStatic(cpi uint16) (*Field, error)
	ResolvePutStatic(cpi uint16) (*Field, error)
	ResolveInvokeVirtual(cpi uint16) (*Method, error)
	ResolveInvokeSpecial(cpi uint16) (*Method, error)
	ResolveInvokeStatic(cpi uint16) (*Method, error)
	ResolveInvokeInterface(cpi uint16) (*Method, error)
	ResolveType(cpi uint16) (*Class, error)
	ResolveString(cpi uint16) (string, error)
	ResolveClass(cpi uint16) (*Class, error)

	Pool() *Pool
}

// NewClosedWorldResolver returns a resolver for ahead-of-time compilation.
// Every class must be in universe; resolution never loads.
func NewClosedWorldResolver(pool *Pool, universe *Universe) Resolver {
	return &resolver{pool: pool, source: universe, mode: "closed-world"}
}

// NewDynamicResolver returns a resolver that loads classes through loader.
func NewDynamicResolver(pool *Pool, loader *Loader) Resolver {
	return &resolver{pool: pool, source: loader, mode: "dynamic"}
}

type resolver struct {
	pool   *Pool
	source ClassSource
	mode   string
}

func (r *resolver) Pool() *Pool { return r.pool }

func (r *resolver) String() string { return r.mode + " resolver" }

// access describes the checks an instruction applies to a member.
type access struct {
	name      string
	static    bool
	iface     bool // invokeinterface
	anyHolder bool // invokestatic and invokespecial may name either kind of holder
}

var (
	getField        = access{name: "getfield"}
	putField        = access{name: "putfield"}
	getStatic       = access{name: "getstatic", static: true}
	putStatic       = access{name: "putstatic", static: true}
	invokeVirtual   = access{name: "invokevirtual"}
	invokeSpecial   = access{name: "invokespecial", anyHolder: true}
	invokeStatic    = access{name: "invokestatic", static: true, anyHolder: true}
	invokeInterface = access{name: "invokeinterface", iface: true}
)

// ---------------------------------------------------------------------------
// Fields
// ---------------------------------------------------------------------------

func (r *resolver) LookupGetField(cpi uint16) FieldRef  { return r.lookupField(cpi, getField) }
func (r *resolver) LookupPutField(cpi uint16) FieldRef  { return r.lookupField(cpi, putField) }
func (r *resolver) LookupGetStatic(cpi uint16) FieldRef { return r.lookupField(cpi, getStatic) }
func (r *resolver) LookupPutStatic(cpi uint16) FieldRef { return r.lookupField(cpi, putStatic) }

func (r *resolver) ResolveGetField(cpi uint16) (*Field, error)  { return r.resolveField(cpi, getField) }
func (r *resolver) ResolvePutField(cpi uint16) (*Field, error)  { return r.resolveField(cpi, putField) }
func (r *resolver) ResolveGetStatic(cpi uint16) (*Field, error) { return r.resolveField(cpi, getStatic) }
func (r *resolver) ResolvePutStatic(cpi uint16) (*Field, error) { return r.resolveField(cpi, putStatic) }

func (r *resolver) lookupField(cpi uint16, acc access) FieldRef {
	tag, holder, name, desc, err := r.pool.Member(cpi)
	unresolved := &UnresolvedField{CPI: cpi, Holder: holder, Member: name, Desc: desc}
	if err != nil || tag != TagFieldref {
		return unresolved
	}
	if v, ok := r.pool.resolved(cpi); ok {
		if f := v.(*Field); f.Static == acc.static {
			return f
		}
		return unresolved
	}
	c := r.source.Find(holder)
	if c == nil {
		return unresolved
	}
	f := c.LookupField(name, desc)
	if f == nil || f.Static != acc.static {
		return unresolved
	}
	return f
}

func (r *resolver) resolveField(cpi uint16, acc access) (*Field, error) {
	tag, holder, name, desc, err := r.pool.Member(cpi)
	if err != nil {
		return nil, err
	}
	if tag != TagFieldref {
		return nil, fmt.Errorf("%w: #%d is %s, %s needs a Fieldref", ErrBadIndex, cpi, tag, acc.name)
	}
	var f *Field
	if v, ok := r.pool.resolved(cpi); ok {
		f = v.(*Field)
	} else {
		c, err := r.load(cpi, holder)
		if err != nil {
			return nil, err
		}
		f = c.LookupField(name, desc)
		if f == nil {
			return nil, &ResolutionError{Kind: NoSuchField, CPI: cpi, Name: holder + "." + name + ":" + desc}
		}
		f = r.pool.publish(cpi, f).(*Field)
		log.Debugf("resolved #%d to field %s", cpi, f)
	}
	if f.Static != acc.static {
		return nil, &ResolutionError{Kind: IncompatibleClassChange, CPI: cpi, Name: f.String(),
			Detail: fmt.Sprintf("%s on a field with static=%t", acc.name, f.Static)}
	}
	return f, nil
}

// ---------------------------------------------------------------------------
// Methods
// ---------------------------------------------------------------------------

func (r *resolver) LookupInvokeVirtual(cpi uint16) MethodRef {
	return r.lookupMethod(cpi, invokeVirtual)
}
func (r *resolver) LookupInvokeSpecial(cpi uint16) MethodRef {
	return r.lookupMethod(cpi, invokeSpecial)
}
func (r *resolver) LookupInvokeStatic(cpi uint16) MethodRef {
	return r.lookupMethod(cpi, invokeStatic)
}
func (r *resolver) LookupInvokeInterface(cpi uint16) MethodRef {
	return r.lookupMethod(cpi, invokeInterface)
}

func (r *resolver) ResolveInvokeVirtual(cpi uint16) (*Method, error) {
	return r.resolveMethod(cpi, invokeVirtual)
}
func (r *resolver) ResolveInvokeSpecial(cpi uint16) (*Method, error) {
	return r.resolveMethod(cpi, invokeSpecial)
}
func (r *resolver) ResolveInvokeStatic(cpi uint16) (*Method, error) {
	return r.resolveMethod(cpi, invokeStatic)
}
func (r *resolver) ResolveInvokeInterface(cpi uint16) (*Method, error) {
	return r.resolveMethod(cpi, invokeInterface)
}

// checkMethod applies the reference-kind and static checks of acc. The
// holder kind was checked against tag when the entry was resolved.
func checkMethod(tag Tag, m *Method, acc access) string {
	if acc.iface && tag != TagInterfaceMethodref {
		return acc.name + " needs an InterfaceMethodref"
	}
	if !acc.iface && !acc.anyHolder && tag == TagInterfaceMethodref {
		return acc.name + " through an InterfaceMethodref"
	}
	if m.Static != acc.static {
		return fmt.Sprintf("%s on a method with static=%t", acc.name, m.Static)
	}
	return ""
}

func (r *resolver) lookupMethod(cpi uint16, acc access) MethodRef {
	tag, holder, name, desc, err := r.pool.Member(cpi)
	unresolved := &UnresolvedMethod{CPI: cpi, Holder: holder, Member: name, Desc: desc}
	if err != nil || tag == TagFieldref {
		return unresolved
	}
	var m *Method
	if v, ok := r.pool.resolved(cpi); ok {
		m = v.(*Method)
	} else {
		c := r.source.Find(holder)
		if c == nil || c.IsInterface != (tag == TagInterfaceMethodref) {
			return unresolved
		}
		if m = c.LookupMethod(name, desc); m == nil {
			return unresolved
		}
	}
	if checkMethod(tag, m, acc) != "" {
		return unresolved
	}
	return m
}

func (r *resolver) resolveMethod(cpi uint16, acc access) (*Method, error) {
	tag, holder, name, desc, err := r.pool.Member(cpi)
	if err != nil {
		return nil, err
	}
	if tag == TagFieldref {
		return nil, fmt.Errorf("%w: #%d is a Fieldref, %s needs a method reference", ErrBadIndex, cpi, acc.name)
	}
	var m *Method
	if v, ok := r.pool.resolved(cpi); ok {
		m = v.(*Method)
	} else {
		c, err := r.load(cpi, holder)
		if err != nil {
			return nil, err
		}
		if c.IsInterface != (tag == TagInterfaceMethodref) {
			return nil, &ResolutionError{Kind: IncompatibleClassChange, CPI: cpi, Name: holder,
				Detail: fmt.Sprintf("%s names a holder with interface=%t", tag, c.IsInterface)}
		}
		m = c.LookupMethod(name, desc)
		if m == nil {
			return nil, &ResolutionError{Kind: NoSuchMethod, CPI: cpi, Name: holder + "." + name + desc}
		}
		m = r.pool.publish(cpi, m).(*Method)
		log.Debugf("resolved #%d to method %s", cpi, m)
	}
	if detail := checkMethod(tag, m, acc); detail != "" {
		return nil, &ResolutionError{Kind: IncompatibleClassChange, CPI: cpi, Name: m.String(), Detail: detail}
	}
	return m, nil
}

// ---------------------------------------------------------------------------
// Types, strings and constants
// ---------------------------------------------------------------------------

func (r *resolver) LookupType(cpi uint16) TypeRef {
	name, err := r.pool.ClassName(cpi)
	if err != nil {
		return &UnresolvedType{CPI: cpi}
	}
	if v, ok := r.pool.resolved(cpi); ok {
		return v.(*Class)
	}
	if c := r.findType(name); c != nil {
		return c
	}
	return &UnresolvedType{CPI: cpi, Type: name}
}

func (r *resolver) findType(name string) *Class {
	if len(name) > 0 && name[0] == '[' {
		elem := ElementTypeName(name)
		if elem == "" {
			return newArrayClass(name, nil)
		}
		if c := r.source.Find(elem); c != nil {
			return newArrayClass(name, c)
		}
		return nil
	}
	return r.source.Find(name)
}

func (r *resolver) ResolveType(cpi uint16) (*Class, error) {
	name, err := r.pool.ClassName(cpi)
	if err != nil {
		return nil, err
	}
	if v, ok := r.pool.resolved(cpi); ok {
		return v.(*Class), nil
	}
	var c *Class
	if len(name) > 0 && name[0] == '[' {
		var component *Class
		if elem := ElementTypeName(name); elem != "" {
			if component, err = r.load(cpi, elem); err != nil {
				return nil, err
			}
		}
		c = newArrayClass(name, component)
	} else if c, err = r.load(cpi, name); err != nil {
		return nil, err
	}
	c = r.pool.publish(cpi, c).(*Class)
	log.Debugf("resolved #%d to class %s", cpi, c.Name)
	return c, nil
}

// ResolveClass resolves the class named by a Class entry or, for a member
// reference, the member's holder class.
func (r *resolver) ResolveClass(cpi uint16) (*Class, error) {
	e, err := r.pool.Entry(cpi)
	if err != nil {
		return nil, err
	}
	switch e.Tag {
	case TagClass:
		return r.ResolveType(cpi)
	case TagFieldref, TagMethodref, TagInterfaceMethodref:
		return r.ResolveType(e.Index1)
	}
	return nil, fmt.Errorf("%w: #%d is %s, not a class or member reference", ErrBadIndex, cpi, e.Tag)
}

func (r *resolver) ResolveString(cpi uint16) (string, error) {
	e, err := r.pool.Entry(cpi)
	if err != nil {
		return "", err
	}
	if e.Tag != TagString {
		return "", fmt.Errorf("%w: #%d is %s, not a String", ErrBadIndex, cpi, e.Tag)
	}
	if v, ok := r.pool.resolved(cpi); ok {
		return v.(string), nil
	}
	s := r.pool.entries[e.Index1].Utf8
	return r.pool.publish(cpi, s).(string), nil
}

func (r *resolver) LookupConstant(cpi uint16) (Constant, error) {
	e, err := r.pool.Entry(cpi)
	if err != nil {
		return Constant{}, err
	}
	c := Constant{Tag: e.Tag}
	switch e.Tag {
	case TagInteger:
		c.Value = e.Int
	case TagFloat:
		c.Value = e.Float
	case TagLong:
		c.Value = e.Long
	case TagDouble:
		c.Value = e.Dbl
	case TagString:
		c.Value = r.pool.entries[e.Index1].Utf8
	case TagClass:
		c.Value = r.LookupType(cpi)
	default:
		return Constant{}, fmt.Errorf("%w: #%d is %s, not a loadable constant", ErrBadIndex, cpi, e.Tag)
	}
	return c, nil
}

// load fetches a class through the source, attributing failures to cpi.
func (r *resolver) load(cpi uint16, name string) (*Class, error) {
	c, err := r.source.Load(name)
	if err != nil {
		var re *ResolutionError
		if errors.As(err, &re) {
			if re.CPI == 0 {
				cp := *re
				cp.CPI = cpi
				return nil, &cp
			}
			return nil, err
		}
		return nil, &ResolutionError{Kind: NoClassDefFound, CPI: cpi, Name: name, Err: err}
	}
	return c, nil
}
