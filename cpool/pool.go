package cpool

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync/atomic"
)

// Pool is a class's constant pool: the symbolic entries plus one resolution
// slot per index. Slots change at most once, from empty to resolved, and are
// safe for concurrent use by any number of compilations.
type Pool struct {
	entries []Entry
	slots   []atomic.Pointer[slot]
}

type slot struct {
	value any
}

// NewPool checks the cross references between entries and returns a pool.
// entries[0] is unused, as in the class file.
func NewPool(entries []Entry) (*Pool, error) {
	p := &Pool{entries: entries, slots: make([]atomic.Pointer[slot], len(entries))}
	for i := 1; i < len(entries); i++ {
		e := entries[i]
		var err error
		switch e.Tag {
		case TagClass:
			err = p.expect(e.Index1, TagUtf8)
		case TagString, TagMethodType, TagModule, TagPackage:
			err = p.expect(e.Index1, TagUtf8)
		case TagFieldref, TagMethodref, TagInterfaceMethodref:
			if err = p.expect(e.Index1, TagClass); err == nil {
				err = p.expect(e.Index2, TagNameAndType)
			}
		case TagNameAndType:
			if err = p.expect(e.Index1, TagUtf8); err == nil {
				err = p.expect(e.Index2, TagUtf8)
			}
		}
		if err != nil {
			return nil, fmt.Errorf("cpool: entry #%d (%s): %w", i, e.Tag, err)
		}
		if e.Tag.Wide() {
			i++
		}
	}
	return p, nil
}

func (p *Pool) expect(i uint16, tag Tag) error {
	if int(i) <= 0 || int(i) >= len(p.entries) {
		return fmt.Errorf("%w: #%d out of range", ErrBadIndex, i)
	}
	if got := p.entries[i].Tag; got != tag {
		return fmt.Errorf("%w: #%d is %s, want %s", ErrBadIndex, i, got, tag)
	}
	return nil
}

// Len returns the constant_pool_count, one more than the largest index.
func (p *Pool) Len() int {
	return len(p.entries)
}

// Entry returns the symbolic entry at i.
func (p *Pool) Entry(i uint16) (Entry, error) {
	if int(i) <= 0 || int(i) >= len(p.entries) || p.entries[i].Tag == 0 {
		return Entry{}, fmt.Errorf("%w: #%d", ErrBadIndex, i)
	}
	return p.entries[i], nil
}

// Utf8 returns the string of a Utf8 entry.
func (p *Pool) Utf8(i uint16) (string, error) {
	if err := p.expect(i, TagUtf8); err != nil {
		return "", err
	}
	return p.entries[i].Utf8, nil
}

// ClassName returns the name of the class named by a Class entry.
func (p *Pool) ClassName(i uint16) (string, error) {
	if err := p.expect(i, TagClass); err != nil {
		return "", err
	}
	return p.entries[p.entries[i].Index1].Utf8, nil
}

// Member returns the holder class name, member name and descriptor of a
// Fieldref, Methodref or InterfaceMethodref entry.
func (p *Pool) Member(i uint16) (tag Tag, holder, name, desc string, err error) {
	e, err := p.Entry(i)
	if err != nil {
		return 0, "", "", "", err
	}
	switch e.Tag {
	case TagFieldref, TagMethodref, TagInterfaceMethodref:
	default:
		return 0, "", "", "", fmt.Errorf("%w: #%d is %s, not a member reference", ErrBadIndex, i, e.Tag)
	}
	holder = p.entries[p.entries[e.Index1].Index1].Utf8
	nat := p.entries[e.Index2]
	return e.Tag, holder, p.entries[nat.Index1].Utf8, p.entries[nat.Index2].Utf8, nil
}

// resolved returns the value published for i, if any.
func (p *Pool) resolved(i uint16) (any, bool) {
	if int(i) >= len(p.slots) {
		return nil, false
	}
	s := p.slots[i].Load()
	if s == nil {
		return nil, false
	}
	return s.value, true
}

// publish stores v as the resolution of i unless another resolution got
// there first, and returns whichever value won.
func (p *Pool) publish(i uint16, v any) any {
	s := &slot{value: v}
	if p.slots[i].CompareAndSwap(nil, s) {
		return v
	}
	return p.slots[i].Load().value
}

// ResolvedCount returns the number of slots that hold a resolution.
func (p *Pool) ResolvedCount() int {
	n := 0
	for i := range p.slots {
		if p.slots[i].Load() != nil {
			n++
		}
	}
	return n
}

// AppendTo appends the class-file encoding of the pool, starting with
// constant_pool_count.
func (p *Pool) AppendTo(b []byte) []byte {
	b = binary.BigEndian.AppendUint16(b, uint16(len(p.entries)))
	for i := 1; i < len(p.entries); i++ {
		e := p.entries[i]
		b = append(b, byte(e.Tag))
		switch e.Tag {
		case TagUtf8:
			enc := encodeModifiedUTF8(e.Utf8)
			b = binary.BigEndian.AppendUint16(b, uint16(len(enc)))
			b = append(b, enc...)
		case TagInteger:
			b = binary.BigEndian.AppendUint32(b, uint32(e.Int))
		case TagFloat:
			b = binary.BigEndian.AppendUint32(b, math.Float32bits(e.Float))
		case TagLong:
			b = binary.BigEndian.AppendUint64(b, uint64(e.Long))
			i++
		case TagDouble:
			b = binary.BigEndian.AppendUint64(b, math.Float64bits(e.Dbl))
			i++
		case TagClass, TagString, TagMethodType, TagModule, TagPackage:
			b = binary.BigEndian.AppendUint16(b, e.Index1)
		case TagMethodHandle:
			b = append(b, e.RefKind)
			b = binary.BigEndian.AppendUint16(b, e.Index1)
		default:
			b = binary.BigEndian.AppendUint16(b, e.Index1)
			b = binary.BigEndian.AppendUint16(b, e.Index2)
		}
	}
	return b
}

// FindUtf8 returns the index of the Utf8 entry holding s.
func (p *Pool) FindUtf8(s string) (uint16, bool) {
	for i := 1; i < len(p.entries); i++ {
		if p.entries[i].Tag == TagUtf8 && p.entries[i].Utf8 == s {
			return uint16(i), true
		}
	}
	return 0, false
}
