package cpool

import (
	"sync"
	"sync/atomic"
)

// Object layout constants used when linking.
const (
	ObjectHeaderSize = 16
	SlotSize         = 8
)

// Class is the runtime view of a loaded class or interface.
type Class struct {
	Name        string
	SuperName   string
	Interfaces  []string
	IsInterface bool
	Fields      []*Field
	Methods     []*Method

	// Set by Link.
	Super          *Class
	Implements     []*Class
	VTable         []*Method
	InstanceSize   int
	StaticSize     int
	ComponentClass *Class // non-nil for array classes

	linkOnce sync.Once
	linkErr  error
	linked   atomic.Bool
}

// Field is a resolved field.
type Field struct {
	Holder     *Class
	Name       string
	Descriptor string
	Static     bool
	// Offset is the byte offset in the instance (or the static area for
	// static fields), assigned by Link.
	Offset int
}

// Method is a resolved method.
type Method struct {
	Holder     *Class
	Name       string
	Descriptor string
	Static     bool
	Abstract   bool
	// VTableIndex is the dispatch slot for virtual and interface methods,
	// or -1 for static methods and constructors.
	VTableIndex int
}

func (c *Class) String() string { return c.Name }

// IsArray reports whether c is an array class.
func (c *Class) IsArray() bool {
	return len(c.Name) > 0 && c.Name[0] == '['
}

// DeclaredField returns the field declared directly in c.
func (c *Class) DeclaredField(name, desc string) *Field {
	for _, f := range c.Fields {
		if f.Name == name && f.Descriptor == desc {
			return f
		}
	}
	return nil
}

// DeclaredMethod returns the method declared directly in c.
func (c *Class) DeclaredMethod(name, desc string) *Method {
	for _, m := range c.Methods {
		if m.Name == name && m.Descriptor == desc {
			return m
		}
	}
	return nil
}

// LookupField searches c, its superinterfaces and then its superclasses.
// c must be linked.
func (c *Class) LookupField(name, desc string) *Field {
	for k := c; k != nil; k = k.Super {
		if f := k.DeclaredField(name, desc); f != nil {
			return f
		}
		for _, i := range k.Implements {
			if f := i.LookupField(name, desc); f != nil {
				return f
			}
		}
	}
	return nil
}

// LookupMethod searches c and its superclasses, then the interfaces.
// c must be linked.
func (c *Class) LookupMethod(name, desc string) *Method {
	for k := c; k != nil; k = k.Super {
		if m := k.DeclaredMethod(name, desc); m != nil {
			return m
		}
	}
	for k := c; k != nil; k = k.Super {
		for _, i := range k.Implements {
			if m := i.LookupMethod(name, desc); m != nil {
				return m
			}
		}
	}
	return nil
}

// IsSubclassOf reports whether c is other or inherits from it.
func (c *Class) IsSubclassOf(other *Class) bool {
	for k := c; k != nil; k = k.Super {
		if k == other {
			return true
		}
		for _, i := range k.Implements {
			if i.IsSubclassOf(other) {
				return true
			}
		}
	}
	return false
}

// Link wires c to its superclass and interfaces, lays out fields and builds
// the vtable. It runs once; later calls return the first result. resolve
// must return linked classes.
func (c *Class) Link(resolve func(name string) (*Class, error)) error {
	c.linkOnce.Do(func() {
		c.linkErr = c.link(resolve)
		c.linked.Store(c.linkErr == nil)
	})
	return c.linkErr
}

// Linked reports whether Link has completed successfully.
func (c *Class) Linked() bool {
	return c.linked.Load()
}

func (c *Class) link(resolve func(string) (*Class, error)) error {
	if c.SuperName != "" {
		s, err := resolve(c.SuperName)
		if err != nil {
			return err
		}
		if s.IsInterface {
			return &ResolutionError{Kind: IncompatibleClassChange, Name: c.Name,
				Detail: "superclass " + s.Name + " is an interface"}
		}
		c.Super = s
	}
	for _, name := range c.Interfaces {
		i, err := resolve(name)
		if err != nil {
			return err
		}
		if !i.IsInterface {
			return &ResolutionError{Kind: IncompatibleClassChange, Name: c.Name,
				Detail: name + " is not an interface"}
		}
		c.Implements = append(c.Implements, i)
	}

	c.InstanceSize = ObjectHeaderSize
	if c.Super != nil {
		c.InstanceSize = c.Super.InstanceSize
		c.VTable = append([]*Method(nil), c.Super.VTable...)
	}
	for _, f := range c.Fields {
		f.Holder = c
		if f.Static {
			f.Offset = c.StaticSize
			c.StaticSize += SlotSize
		} else {
			f.Offset = c.InstanceSize
			c.InstanceSize += SlotSize
		}
	}
	for i, m := range c.Methods {
		m.Holder = c
		m.VTableIndex = -1
		switch {
		case m.Static || m.Name == "<init>" || m.Name == "<clinit>":
		case c.IsInterface:
			m.VTableIndex = i
		default:
			m.VTableIndex = c.vtableSlot(m)
		}
	}
	return nil
}

func (c *Class) vtableSlot(m *Method) int {
	for i, inherited := range c.VTable {
		if inherited.Name == m.Name && inherited.Descriptor == m.Descriptor {
			c.VTable[i] = m
			return i
		}
	}
	c.VTable = append(c.VTable, m)
	return len(c.VTable) - 1
}

// newArrayClass creates the class for an array type. Arrays are linked on
// creation and have no declared members.
func newArrayClass(name string, component *Class) *Class {
	c := &Class{Name: name, ComponentClass: component, InstanceSize: ObjectHeaderSize + SlotSize}
	c.linkOnce.Do(func() {})
	c.linked.Store(true)
	return c
}
