// Package classfile reads and writes the parts of the class-file format a
// method compiler needs: the constant pool, method bodies and their Code
// attribute tables.
package classfile

import (
	"fmt"
	"slices"
	"sync"

	"github.com/chazu/tiercomp/cpool"
)

// NoTable is the offset recorded for a table that is absent or empty.
const NoTable = -1

// InternalError is the panic value raised when data the compiler produced
// itself fails to encode or decode. It indicates a bug, not bad input.
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("classfile: internal %s error: %v", e.Op, e.Err)
}

func (e *InternalError) Unwrap() error { return e.Err }

// CodeAttribute is a method body: bytecode, operand stack and locals bounds,
// and the side tables, encoded into one contiguous blob.
//
// The blob holds the code bytes first, followed by the exception table, the
// line number table and the local variable table, in that order. A table
// that is empty is not written and its offset is NoTable. The stack map
// table lives in its own blob so it can be replaced after construction.
type CodeAttribute struct {
	Pool      *cpool.Pool
	MaxStack  uint16
	MaxLocals uint16

	codeLength int
	encoded    []byte

	exceptionTableOffset int
	lineNumberOffset     int
	localVariableOffset  int

	mu              sync.Mutex
	stackMap        []byte
	stackMapCache   *StackMapTable
	lineNumberCache LineNumberTable
}

// NewCodeAttribute encodes a method body. stackMap may be nil.
func NewCodeAttribute(pool *cpool.Pool, code []byte, maxStack, maxLocals uint16,
	handlers []ExceptionHandlerEntry, lines LineNumberTable, locals LocalVariableTable,
	stackMap *StackMapTable) *CodeAttribute {

	ca := &CodeAttribute{
		Pool:                 pool,
		MaxStack:             maxStack,
		MaxLocals:            maxLocals,
		codeLength:           len(code),
		exceptionTableOffset: NoTable,
		lineNumberOffset:     NoTable,
		localVariableOffset:  NoTable,
	}
	b := make([]byte, 0, len(code)+2+8*len(handlers)+2+4*len(lines)+2+12*len(locals))
	b = append(b, code...)
	if len(handlers) != 0 {
		ca.exceptionTableOffset = len(b)
		b = encodeExceptionTable(b, handlers)
	}
	if len(lines) != 0 {
		ca.lineNumberOffset = len(b)
		b = encodeLineNumbers(b, lines)
	}
	if len(locals) != 0 {
		ca.localVariableOffset = len(b)
		b = encodeLocalVariables(b, locals)
	}
	ca.encoded = b
	ca.setStackMap(stackMap)
	return ca
}

// Code returns the bytecode. The slice aliases the encoded data and must not
// be modified.
func (ca *CodeAttribute) Code() []byte {
	return ca.encoded[:ca.codeLength:ca.codeLength]
}

// EncodedData returns the blob holding the code and side tables. It must not
// be modified.
func (ca *CodeAttribute) EncodedData() []byte {
	return ca.encoded
}

// Offsets returns the blob offsets of the exception, line number and local
// variable tables, and of the stack map table in its own blob. Absent tables
// report NoTable.
func (ca *CodeAttribute) Offsets() (exceptions, lines, locals, stackMap int) {
	ca.mu.Lock()
	defer ca.mu.Unlock()
	stackMap = NoTable
	if len(ca.stackMap) != 0 {
		stackMap = 0
	}
	return ca.exceptionTableOffset, ca.lineNumberOffset, ca.localVariableOffset, stackMap
}

func (ca *CodeAttribute) internal(err error) {
	panic(&InternalError{Op: "decode", Err: err})
}

// ExceptionHandlerTable decodes the exception table. It never returns nil.
func (ca *CodeAttribute) ExceptionHandlerTable() []ExceptionHandlerEntry {
	if ca.exceptionTableOffset == NoTable {
		return []ExceptionHandlerEntry{}
	}
	t, err := decodeExceptionTable(ca.encoded, ca.exceptionTableOffset)
	if err != nil {
		ca.internal(err)
	}
	return t
}

// ExceptionHandlerPositions returns the distinct handler entry bcis, or nil
// when there is no exception table.
func (ca *CodeAttribute) ExceptionHandlerPositions() []int {
	if ca.exceptionTableOffset == NoTable {
		return nil
	}
	seen := map[uint16]bool{}
	var out []int
	for _, e := range ca.ExceptionHandlerTable() {
		if !seen[e.HandlerPC] {
			seen[e.HandlerPC] = true
			out = append(out, int(e.HandlerPC))
		}
	}
	return out
}

// LineNumberTable decodes the line number table once and caches it. Each
// call returns its own copy of the cached table.
func (ca *CodeAttribute) LineNumberTable() LineNumberTable {
	ca.mu.Lock()
	defer ca.mu.Unlock()
	if ca.lineNumberCache == nil {
		if ca.lineNumberOffset == NoTable {
			ca.lineNumberCache = LineNumberTable{}
		} else {
			t, err := decodeLineNumbers(ca.encoded, ca.lineNumberOffset)
			if err != nil {
				ca.internal(err)
			}
			ca.lineNumberCache = t
		}
	}
	return slices.Clone(ca.lineNumberCache)
}

// LocalVariableTable decodes the local variable table.
func (ca *CodeAttribute) LocalVariableTable() LocalVariableTable {
	if ca.localVariableOffset == NoTable {
		return LocalVariableTable{}
	}
	t, err := decodeLocalVariables(ca.encoded, ca.localVariableOffset)
	if err != nil {
		ca.internal(err)
	}
	return t
}

// StackMapTable returns the stack map table, decoding it on first use. It
// returns nil when the method has none. The table is shared by all callers
// and must not be modified; use SetStackMapTable to replace it.
func (ca *CodeAttribute) StackMapTable() *StackMapTable {
	ca.mu.Lock()
	defer ca.mu.Unlock()
	if ca.stackMapCache == nil && len(ca.stackMap) != 0 {
		t, err := DecodeStackMapTable(ca.stackMap)
		if err != nil {
			ca.internal(err)
		}
		ca.stackMapCache = t
	}
	return ca.stackMapCache
}

// SetStackMapTable replaces the stack map table, for example with one
// recomputed by a verifier. nil removes it.
func (ca *CodeAttribute) SetStackMapTable(t *StackMapTable) {
	ca.mu.Lock()
	defer ca.mu.Unlock()
	ca.setStackMap(t)
}

func (ca *CodeAttribute) setStackMap(t *StackMapTable) {
	if t.IsEmpty() {
		ca.stackMap, ca.stackMapCache = nil, nil
		return
	}
	ca.stackMap = t.Encode()
	ca.stackMapCache = nil
}

// EncodedStackMap returns the stack map table blob, or nil. It must not be
// modified.
func (ca *CodeAttribute) EncodedStackMap() []byte {
	ca.mu.Lock()
	defer ca.mu.Unlock()
	return ca.stackMap
}

func (ca *CodeAttribute) String() string {
	ex, ln, lv, sm := ca.Offsets()
	return fmt.Sprintf("Code[len=%d maxStack=%d maxLocals=%d exceptions@%d lines@%d locals@%d stackmap@%d]",
		ca.codeLength, ca.MaxStack, ca.MaxLocals, ex, ln, lv, sm)
}
