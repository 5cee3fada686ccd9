package pipeline

import (
	"fmt"

	"github.com/chazu/tiercomp/classfile"
	"github.com/chazu/tiercomp/cpool"
)

// linkage describes what the lowered code of ca takes from other classes:
// field offsets, vtable slots, the layout of every resolved holder and which
// references are still unresolved. It makes the same lookups as the Lowerer,
// so two calls return the same bytes exactly when lowering would see the
// same classes.
func linkage(ca *classfile.CodeAttribute, r cpool.Resolver) []byte {
	var b []byte
	s := classfile.NewBytecodeStream(ca.Code())
	for s.Next() {
		var desc string
		switch cpi := s.CPI; s.Opcode() {
		case classfile.OpGetstatic:
			desc = describeField(r.LookupGetStatic(cpi()))
		case classfile.OpPutstatic:
			desc = describeField(r.LookupPutStatic(cpi()))
		case classfile.OpGetfield:
			desc = describeField(r.LookupGetField(cpi()))
		case classfile.OpPutfield:
			desc = describeField(r.LookupPutField(cpi()))
		case classfile.OpInvokevirtual:
			desc = describeMethod(r.LookupInvokeVirtual(cpi()))
		case classfile.OpInvokespecial:
			desc = describeMethod(r.LookupInvokeSpecial(cpi()))
		case classfile.OpInvokestatic:
			desc = describeMethod(r.LookupInvokeStatic(cpi()))
		case classfile.OpInvokeinterface:
			desc = describeMethod(r.LookupInvokeInterface(cpi()))
		case classfile.OpNew, classfile.OpAnewarray, classfile.OpCheckcast,
			classfile.OpInstanceof, classfile.OpMultianewarray:
			desc = describeType(r.LookupType(cpi()))
		default:
			continue
		}
		b = fmt.Appendf(b, "%d %s\n", s.BCI(), desc)
	}
	return b
}

func describeClass(c *cpool.Class) string {
	return fmt.Sprintf("%s[%d/%d/%d]", c.Name, c.InstanceSize, c.StaticSize, len(c.VTable))
}

func describeField(ref cpool.FieldRef) string {
	f, ok := ref.(*cpool.Field)
	if !ok {
		return "? " + ref.HolderName() + "." + ref.MemberName()
	}
	return fmt.Sprintf("%s.%s:%s static=%t +%d", describeClass(f.Holder), f.Name, f.Descriptor, f.Static, f.Offset)
}

func describeMethod(ref cpool.MethodRef) string {
	m, ok := ref.(*cpool.Method)
	if !ok {
		return "? " + ref.HolderName() + "." + ref.MemberName()
	}
	return fmt.Sprintf("%s.%s%s static=%t vtable=%d", describeClass(m.Holder), m.Name, m.Descriptor, m.Static, m.VTableIndex)
}

func describeType(ref cpool.TypeRef) string {
	c, ok := ref.(*cpool.Class)
	if !ok {
		return "? " + ref.TypeName()
	}
	return describeClass(c)
}
