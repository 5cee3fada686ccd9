package cpool

import "fmt"

// MemberRef is a field or method reference that may or may not be resolved.
type MemberRef interface {
	HolderName() string
	MemberName() string
	MemberDescriptor() string
	IsResolved() bool
}

// FieldRef is either a *Field or an *UnresolvedField.
type FieldRef interface {
	MemberRef
	isFieldRef()
}

// MethodRef is either a *Method or an *UnresolvedMethod.
type MethodRef interface {
	MemberRef
	isMethodRef()
}

// TypeRef is either a *Class or an *UnresolvedType.
type TypeRef interface {
	TypeName() string
	IsResolved() bool
}

func (f *Field) HolderName() string       { return f.Holder.Name }
func (f *Field) MemberName() string       { return f.Name }
func (f *Field) MemberDescriptor() string { return f.Descriptor }
func (f *Field) IsResolved() bool         { return true }
func (f *Field) isFieldRef()              {}
func (f *Field) String() string {
	return fmt.Sprintf("%s.%s:%s", f.Holder.Name, f.Name, f.Descriptor)
}

func (m *Method) HolderName() string       { return m.Holder.Name }
func (m *Method) MemberName() string       { return m.Name }
func (m *Method) MemberDescriptor() string { return m.Descriptor }
func (m *Method) IsResolved() bool         { return true }
func (m *Method) isMethodRef()             {}
func (m *Method) String() string {
	return fmt.Sprintf("%s.%s%s", m.Holder.Name, m.Name, m.Descriptor)
}

func (c *Class) TypeName() string { return c.Name }
func (c *Class) IsResolved() bool { return true }

// UnresolvedField stands in for a field that could not be resolved without
// loading a class.
type UnresolvedField struct {
	CPI                  uint16
	Holder, Member, Desc string
}

func (u *UnresolvedField) HolderName() string       { return u.Holder }
func (u *UnresolvedField) MemberName() string       { return u.Member }
func (u *UnresolvedField) MemberDescriptor() string { return u.Desc }
func (u *UnresolvedField) IsResolved() bool         { return false }
func (u *UnresolvedField) isFieldRef()              {}
func (u *UnresolvedField) String() string {
	return fmt.Sprintf("unresolved field %s.%s:%s (#%d)", u.Holder, u.Member, u.Desc, u.CPI)
}

// UnresolvedMethod stands in for a method that could not be resolved without
// loading a class.
type UnresolvedMethod struct {
	CPI                  uint16
	Holder, Member, Desc string
}

func (u *UnresolvedMethod) HolderName() string       { return u.Holder }
func (u *UnresolvedMethod) MemberName() string       { return u.Member }
func (u *UnresolvedMethod) MemberDescriptor() string { return u.Desc }
func (u *UnresolvedMethod) IsResolved() bool         { return false }
func (u *UnresolvedMethod) isMethodRef()             {}
func (u *UnresolvedMethod) String() string {
	return fmt.Sprintf("unresolved method %s.%s%s (#%d)", u.Holder, u.Member, u.Desc, u.CPI)
}

// UnresolvedType stands in for a class that is not loaded.
type UnresolvedType struct {
	CPI  uint16
	Type string
}

func (u *UnresolvedType) TypeName() string { return u.Type }
func (u *UnresolvedType) IsResolved() bool { return false }
func (u *UnresolvedType) String() string {
	return fmt.Sprintf("unresolved type %s (#%d)", u.Type, u.CPI)
}

// Constant is a loadable constant. Value holds an int32, int64, float32,
// float64, string or TypeRef.
type Constant struct {
	Tag   Tag
	Value any
}

func (c Constant) String() string {
	switch v := c.Value.(type) {
	case string:
		return fmt.Sprintf("%s %q", c.Tag, v)
	case TypeRef:
		return fmt.Sprintf("%s %s", c.Tag, v.TypeName())
	}
	return fmt.Sprintf("%s %v", c.Tag, c.Value)
}
