package x86

import (
	"fmt"
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

// Mismatch is an instruction where the reference decoder disagrees with ours.
type Mismatch struct {
	Offset int
	Ours   Instruction
	Ref    string
	RefLen int
	RefErr error
}

func (m Mismatch) String() string {
	if m.RefErr != nil {
		return fmt.Sprintf("0x%04x: %s (len %d), x86asm: %v", m.Offset, m.Ours, m.Ours.Len, m.RefErr)
	}
	return fmt.Sprintf("0x%04x: %s (len %d), x86asm: %s (len %d)", m.Offset, m.Ours, m.Ours.Len, m.Ref, m.RefLen)
}

// CrossCheck decodes each instruction with x86asm in 32-bit mode and reports
// length disagreements.
func CrossCheck(code []byte, instrs []Instruction) []Mismatch {
	var out []Mismatch
	for _, in := range instrs {
		if in.Offset < 0 || in.Offset >= len(code) {
			continue
		}
		ref, err := x86asm.Decode(code[in.Offset:], 32)
		if err != nil {
			out = append(out, Mismatch{Offset: in.Offset, Ours: in, RefErr: err})
			continue
		}
		if ref.Len != in.Len {
			out = append(out, Mismatch{Offset: in.Offset, Ours: in, Ref: ref.String(), RefLen: ref.Len})
		}
	}
	return out
}

func hexSpan(code []byte) string {
	hexBytes := make([]string, len(code))
	for i, b := range code {
		hexBytes[i] = fmt.Sprintf("%02x", b)
	}
	return strings.Join(hexBytes, " ")
}

// Listing renders code one instruction per line, addressed from base. Bytes
// our decoder rejects are rendered with x86asm when it can, else as db.
func Listing(code []byte, base uint32) string {
	var sb strings.Builder
	offset := 0
	for offset < len(code) {
		ip := offset
		in, err := DecodeOne(code, &ip)
		if err == nil {
			sb.WriteString(fmt.Sprintf("0x%04x: %-16s %s\n", base+uint32(offset), hexSpan(code[offset:ip]), in.String()))
			offset = ip
			continue
		}
		ref, rerr := x86asm.Decode(code[offset:], 32)
		if rerr != nil || ref.Len == 0 {
			sb.WriteString(fmt.Sprintf("0x%04x: db 0x%02x\n", base+uint32(offset), code[offset]))
			offset++
			continue
		}
		sb.WriteString(fmt.Sprintf("0x%04x: %-16s %s ; %v\n", base+uint32(offset), hexSpan(code[offset:offset+ref.Len]),
			x86asm.IntelSyntax(ref, uint64(base)+uint64(offset), nil), err))
		offset += ref.Len
	}
	return sb.String()
}
