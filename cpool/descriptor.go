package cpool

import (
	"fmt"
	"strings"
)

// Kind is the basic type of a value as named by a descriptor.
type Kind byte

const (
	KindVoid    Kind = 'V'
	KindBoolean Kind = 'Z'
	KindByte    Kind = 'B'
	KindChar    Kind = 'C'
	KindShort   Kind = 'S'
	KindInt     Kind = 'I'
	KindLong    Kind = 'J'
	KindFloat   Kind = 'F'
	KindDouble  Kind = 'D'
	KindObject  Kind = 'L'
)

// Slots returns the number of local-variable/stack slots the kind occupies.
func (k Kind) Slots() int {
	switch k {
	case KindVoid:
		return 0
	case KindLong, KindDouble:
		return 2
	}
	return 1
}

func (k Kind) String() string {
	switch k {
	case KindVoid:
		return "void"
	case KindBoolean:
		return "boolean"
	case KindByte:
		return "byte"
	case KindChar:
		return "char"
	case KindShort:
		return "short"
	case KindInt:
		return "int"
	case KindLong:
		return "long"
	case KindFloat:
		return "float"
	case KindDouble:
		return "double"
	case KindObject:
		return "object"
	}
	return fmt.Sprintf("Kind(%c)", byte(k))
}

// Signature is a parsed method descriptor.
type Signature struct {
	Params []Kind
	Return Kind
}

// ArgSlots returns the slots taken by the parameters, excluding any receiver.
func (s Signature) ArgSlots() int {
	n := 0
	for _, p := range s.Params {
		n += p.Slots()
	}
	return n
}

// ParseMethodDescriptor parses a descriptor such as "(I[Ljava/lang/String;)V".
func ParseMethodDescriptor(desc string) (Signature, error) {
	if !strings.HasPrefix(desc, "(") {
		return Signature{}, fmt.Errorf("cpool: bad method descriptor %q", desc)
	}
	var sig Signature
	i := 1
	for i < len(desc) && desc[i] != ')' {
		k, n, err := parseFieldType(desc[i:])
		if err != nil {
			return Signature{}, fmt.Errorf("cpool: bad method descriptor %q: %w", desc, err)
		}
		sig.Params = append(sig.Params, k)
		i += n
	}
	if i >= len(desc) {
		return Signature{}, fmt.Errorf("cpool: bad method descriptor %q: missing ')'", desc)
	}
	i++
	if i < len(desc) && desc[i] == 'V' && i == len(desc)-1 {
		sig.Return = KindVoid
		return sig, nil
	}
	k, n, err := parseFieldType(desc[i:])
	if err != nil || i+n != len(desc) {
		return Signature{}, fmt.Errorf("cpool: bad method descriptor %q: bad return type", desc)
	}
	sig.Return = k
	return sig, nil
}

// FieldKind returns the kind named by a field descriptor.
func FieldKind(desc string) (Kind, error) {
	k, n, err := parseFieldType(desc)
	if err != nil {
		return 0, err
	}
	if n != len(desc) {
		return 0, fmt.Errorf("cpool: trailing characters in field descriptor %q", desc)
	}
	return k, nil
}

func parseFieldType(s string) (Kind, int, error) {
	if s == "" {
		return 0, 0, fmt.Errorf("empty type")
	}
	switch s[0] {
	case 'Z', 'B', 'C', 'S', 'I', 'J', 'F', 'D':
		return Kind(s[0]), 1, nil
	case 'L':
		end := strings.IndexByte(s, ';')
		if end < 2 {
			return 0, 0, fmt.Errorf("unterminated class type %q", s)
		}
		return KindObject, end + 1, nil
	case '[':
		_, n, err := parseFieldType(s[1:])
		if err != nil {
			return 0, 0, err
		}
		return KindObject, n + 1, nil
	}
	return 0, 0, fmt.Errorf("unexpected %q", s[0])
}

// ElementTypeName returns the class name of an array's element type for
// reference elements, or "" for primitive elements.
func ElementTypeName(arrayName string) string {
	elem := strings.TrimLeft(arrayName, "[")
	if strings.HasPrefix(elem, "L") && strings.HasSuffix(elem, ";") {
		return elem[1 : len(elem)-1]
	}
	return ""
}
