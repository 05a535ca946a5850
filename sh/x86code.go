package sh

import (
	"github.com/colorfulnotion/openfa/common"
)

// Words that may follow a RET inside a fragment without ending it.
var x86ContinueAfterRet = map[uint16]bool{
	0x0048: true,
	0x0000: true,
	0x0566: true,
	0x05EB: true,
	0xE850: true,
	0x8966: true,
}

// x86CodeLength finds where a fragment ends: at a RET that is not followed by
// one of x86ContinueAfterRet. PUSH imm32 and group-1 imm32 instructions are
// stepped over whole so their immediates are never mistaken for a RET.
// Everything else advances one byte at a time. The result may exceed
// len(buf) when the last instruction is cut off.
func x86CodeLength(buf []byte) int {
	end := 0
	for end < len(buf) {
		if buf[end] == 0xC3 {
			end++
			next, ok := common.ReadU16(buf, end)
			if !ok || !x86ContinueAfterRet[next] {
				break
			}
			end += 2
			if end >= len(buf) {
				break
			}
		}
		switch buf[end] {
		case 0x68:
			end += 5
		case 0x81:
			end += 6
		default:
			end++
		}
	}
	return end
}

func decodeX86Code(code []byte, off int) (Record, error) {
	if err := need(code, off, TagX86Code, 2); err != nil {
		return nil, err
	}
	body := code[off+2:]
	n := x86CodeLength(body)
	if err := need(code, off, TagX86Code, 2+n); err != nil {
		return nil, err
	}
	return &X86Code{
		base: base{tag: TagX86Code, offset: off, size: 2 + n},
		Code: body[:n:n],
	}, nil
}
