// Package codecache persists finished target methods so that unchanged
// methods are not compiled again.
package codecache

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/tiercomp/asm"
	"github.com/chazu/tiercomp/target"
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("codecache: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Record is the stored form of a target method. Call targets, constants
// and catch types are kept by name for the installer to bind.
type Record struct {
	Name           string          `cbor:"1,keyasint"`
	Arch           asm.Arch        `cbor:"2,keyasint"`
	Code           []byte          `cbor:"3,keyasint"`
	FrameSize      int             `cbor:"4,keyasint"`
	EpilogueOffset int             `cbor:"5,keyasint"`
	Safepoints     []SafepointInfo `cbor:"6,keyasint,omitempty"`
	Calls          []CallInfo      `cbor:"7,keyasint,omitempty"`
	DataRefs       []DataInfo      `cbor:"8,keyasint,omitempty"`
	Marks          []MarkInfo      `cbor:"9,keyasint,omitempty"`
	Handlers       []HandlerInfo   `cbor:"10,keyasint,omitempty"`
}

type SafepointInfo struct {
	Pos  int                  `cbor:"1,keyasint"`
	Kind target.SafepointKind `cbor:"2,keyasint"`
	BCI  int                  `cbor:"3,keyasint"`
}

type CallInfo struct {
	Pos    int    `cbor:"1,keyasint"`
	Size   int    `cbor:"2,keyasint"`
	Direct bool   `cbor:"3,keyasint"`
	Target string `cbor:"4,keyasint,omitempty"`
	BCI    int    `cbor:"5,keyasint"` // -1 without debug info
}

type DataInfo struct {
	Pos       int    `cbor:"1,keyasint"`
	Tag       uint8  `cbor:"2,keyasint"`
	Value     string `cbor:"3,keyasint"`
	Alignment int    `cbor:"4,keyasint,omitempty"`
}

type MarkInfo struct {
	Pos int    `cbor:"1,keyasint"`
	ID  string `cbor:"2,keyasint"`
}

type HandlerInfo struct {
	CodeOffset    int    `cbor:"1,keyasint"`
	BCI           int    `cbor:"2,keyasint"`
	ScopeDepth    int    `cbor:"3,keyasint"`
	HandlerOffset int    `cbor:"4,keyasint"`
	HandlerBCI    int    `cbor:"5,keyasint"`
	CatchType     string `cbor:"6,keyasint,omitempty"` // empty for catch-all
}

// NewRecord captures a finished target method.
func NewRecord(name string, arch asm.Arch, tm *target.TargetMethod) *Record {
	r := &Record{
		Name:           name,
		Arch:           arch,
		Code:           append([]byte(nil), tm.Code()...),
		FrameSize:      tm.FrameSize(),
		EpilogueOffset: tm.RegisterRestoreEpilogueOffset(),
	}
	for _, s := range tm.Safepoints() {
		r.Safepoints = append(r.Safepoints, SafepointInfo{Pos: s.Pos, Kind: s.Kind, BCI: s.DebugInfo.BCI})
	}
	for _, calls := range [][]target.Call{tm.DirectCalls(), tm.IndirectCalls()} {
		for _, c := range calls {
			ci := CallInfo{Pos: c.Pos, Size: c.Size, Direct: c.Direct, BCI: -1}
			if c.Target != nil {
				ci.Target = fmt.Sprint(c.Target)
			}
			if c.DebugInfo != nil {
				ci.BCI = c.DebugInfo.BCI
			}
			r.Calls = append(r.Calls, ci)
		}
	}
	for _, d := range tm.DataReferences() {
		r.DataRefs = append(r.DataRefs, DataInfo{Pos: d.Pos, Tag: uint8(d.Data.Tag), Value: d.Data.String(), Alignment: d.Alignment})
	}
	for _, m := range tm.Marks() {
		r.Marks = append(r.Marks, MarkInfo{Pos: m.Pos, ID: fmt.Sprint(m.ID)})
	}
	for _, h := range tm.ExceptionHandlers() {
		hi := HandlerInfo{
			CodeOffset:    h.CodeOffset,
			BCI:           h.BCI,
			ScopeDepth:    h.ScopeDepth,
			HandlerOffset: h.HandlerOffset,
			HandlerBCI:    h.HandlerBCI,
		}
		if h.CatchType != nil {
			hi.CatchType = h.CatchType.TypeName()
		}
		r.Handlers = append(r.Handlers, hi)
	}
	return r
}

// Marshal serializes r with canonical CBOR, so equal records encode to
// equal bytes.
func Marshal(r *Record) ([]byte, error) {
	return cborEncMode.Marshal(r)
}

// Unmarshal deserializes a record.
func Unmarshal(data []byte) (*Record, error) {
	var r Record
	if err := cbor.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("codecache: unmarshal record: %w", err)
	}
	return &r, nil
}

func (r *Record) String() string {
	return fmt.Sprintf("%s [%s, %d bytes, frame %d, %d safepoints, %d calls, %d data refs, %d marks, %d handlers]",
		r.Name, r.Arch, len(r.Code), r.FrameSize, len(r.Safepoints), len(r.Calls), len(r.DataRefs), len(r.Marks), len(r.Handlers))
}
