package cpool

import "fmt"

// Builder assembles a constant pool, sharing identical entries.
type Builder struct {
	entries []Entry
	index   map[string]uint16
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{entries: make([]Entry, 1), index: make(map[string]uint16)}
}

func (b *Builder) add(key string, e Entry) uint16 {
	if i, ok := b.index[key]; ok {
		return i
	}
	i := uint16(len(b.entries))
	b.entries = append(b.entries, e)
	if e.Tag.Wide() {
		b.entries = append(b.entries, Entry{})
	}
	b.index[key] = i
	return i
}

func (b *Builder) Utf8(s string) uint16 {
	return b.add("u:"+s, Entry{Tag: TagUtf8, Utf8: s})
}

func (b *Builder) Integer(v int32) uint16 {
	return b.add(fmt.Sprintf("i:%d", v), Entry{Tag: TagInteger, Int: v})
}

func (b *Builder) Long(v int64) uint16 {
	return b.add(fmt.Sprintf("j:%d", v), Entry{Tag: TagLong, Long: v})
}

func (b *Builder) Float(v float32) uint16 {
	return b.add(fmt.Sprintf("f:%v", v), Entry{Tag: TagFloat, Float: v})
}

func (b *Builder) Double(v float64) uint16 {
	return b.add(fmt.Sprintf("d:%v", v), Entry{Tag: TagDouble, Dbl: v})
}

func (b *Builder) Class(name string) uint16 {
	n := b.Utf8(name)
	return b.add("c:"+name, Entry{Tag: TagClass, Index1: n})
}

func (b *Builder) String(s string) uint16 {
	n := b.Utf8(s)
	return b.add("s:"+s, Entry{Tag: TagString, Index1: n})
}

func (b *Builder) NameAndType(name, desc string) uint16 {
	n, d := b.Utf8(name), b.Utf8(desc)
	return b.add("nt:"+name+":"+desc, Entry{Tag: TagNameAndType, Index1: n, Index2: d})
}

func (b *Builder) member(tag Tag, holder, name, desc string) uint16 {
	c, nt := b.Class(holder), b.NameAndType(name, desc)
	return b.add(fmt.Sprintf("%d:%s.%s:%s", tag, holder, name, desc), Entry{Tag: tag, Index1: c, Index2: nt})
}

func (b *Builder) Fieldref(holder, name, desc string) uint16 {
	return b.member(TagFieldref, holder, name, desc)
}

func (b *Builder) Methodref(holder, name, desc string) uint16 {
	return b.member(TagMethodref, holder, name, desc)
}

func (b *Builder) InterfaceMethodref(holder, name, desc string) uint16 {
	return b.member(TagInterfaceMethodref, holder, name, desc)
}

// Pool returns the built pool. Builders only produce consistent entries.
func (b *Builder) Pool() *Pool {
	p, err := NewPool(append([]Entry(nil), b.entries...))
	if err != nil {
		panic(err)
	}
	return p
}
