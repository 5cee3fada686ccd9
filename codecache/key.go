package codecache

import (
	"encoding/hex"

	"github.com/zeebo/xxh3"

	"github.com/chazu/tiercomp/asm"
	"github.com/chazu/tiercomp/classfile"
)

// Key identifies the compilation of one method body for one architecture.
// It covers the encoded code attribute, the constant pool it refers to and
// linkage, the caller's description of the classes the compiled code depends
// on. A change to any of them yields a new key.
func Key(arch asm.Arch, name string, ca *classfile.CodeAttribute, linkage []byte) string {
	h := xxh3.New()
	h.WriteString(string(arch))
	h.Write([]byte{0})
	h.WriteString(name)
	h.Write([]byte{0})
	h.Write(ca.EncodedData())
	h.Write([]byte{0})
	h.Write(ca.EncodedStackMap())
	if ca.Pool != nil {
		h.Write(ca.Pool.AppendTo(nil))
	}
	h.Write([]byte{0})
	h.Write(linkage)
	sum := h.Sum128().Bytes()
	return hex.EncodeToString(sum[:])
}
