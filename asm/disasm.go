package asm

import (
	"encoding/binary"
	"fmt"
	"strings"

	"golang.org/x/arch/ppc64/ppc64asm"
	"golang.org/x/arch/x86/x86asm"
)

// Disassemble renders code as one line per instruction, with offsets relative
// to pc. Undecodable bytes are printed as data and skipped.
func Disassemble(arch Arch, code []byte, pc uint64) string {
	switch arch {
	case ArchAMD64:
		return disassembleAMD64(code, pc)
	case ArchPPC64:
		return disassemblePPC64(code, pc)
	}
	return fmt.Sprintf("; no disassembler for %s (%d bytes)\n", arch, len(code))
}

func hexBytes(code []byte) string {
	parts := make([]string, len(code))
	for i, b := range code {
		parts[i] = fmt.Sprintf("%02x", b)
	}
	return strings.Join(parts, " ")
}

func disassembleAMD64(code []byte, pc uint64) string {
	var sb strings.Builder
	offset := 0
	for offset < len(code) {
		inst, err := x86asm.Decode(code[offset:], 64)
		if err != nil || inst.Len == 0 {
			sb.WriteString(fmt.Sprintf("0x%04x: %-24s .byte 0x%02x\n", offset, hexBytes(code[offset:offset+1]), code[offset]))
			offset++
			continue
		}
		sb.WriteString(fmt.Sprintf("0x%04x: %-24s %s\n",
			offset,
			hexBytes(code[offset:offset+inst.Len]),
			x86asm.GNUSyntax(inst, pc+uint64(offset), nil),
		))
		offset += inst.Len
	}
	return sb.String()
}

func disassemblePPC64(code []byte, pc uint64) string {
	var sb strings.Builder
	offset := 0
	for offset+4 <= len(code) {
		word := code[offset : offset+4]
		inst, err := ppc64asm.Decode(word, binary.BigEndian)
		text := ""
		if err != nil {
			text = fmt.Sprintf(".long 0x%08x", binary.BigEndian.Uint32(word))
		} else {
			text = ppc64asm.GNUSyntax(inst, pc+uint64(offset))
		}
		sb.WriteString(fmt.Sprintf("0x%04x: %-24s %s\n", offset, hexBytes(word), text))
		offset += 4
	}
	if offset < len(code) {
		sb.WriteString(fmt.Sprintf("0x%04x: %-24s ; trailing bytes\n", offset, hexBytes(code[offset:])))
	}
	return sb.String()
}
