//go:build unicorn
// +build unicorn

package interpreter

import (
	"testing"

	"github.com/colorfulnotion/openfa/x86"
	"github.com/stretchr/testify/require"
	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"
)

var unicornRegs = []int{
	uc.X86_REG_EAX,
	uc.X86_REG_ECX,
	uc.X86_REG_EDX,
	uc.X86_REG_EBX,
	uc.X86_REG_ESP,
	uc.X86_REG_EBP,
	uc.X86_REG_ESI,
	uc.X86_REG_EDI,
}

const (
	ucCodeBase  = 0x100000
	ucStackBase = 0x200000
	ucStackSize = 0x1000
)

func runUnicorn(t *testing.T, code []byte, regs [8]uint32) ([8]uint32, bool) {
	t.Helper()
	mu, err := uc.NewUnicorn(uc.ARCH_X86, uc.MODE_32)
	require.NoError(t, err)
	defer mu.Close()
	require.NoError(t, mu.MemMap(ucCodeBase, 0x1000))
	require.NoError(t, mu.MemMap(ucStackBase, ucStackSize))
	require.NoError(t, mu.MemWrite(ucCodeBase, code))
	for i, r := range unicornRegs {
		require.NoError(t, mu.RegWrite(r, uint64(regs[i])))
	}
	require.NoError(t, mu.RegWrite(uc.X86_REG_ESP, ucStackBase+ucStackSize))
	require.NoError(t, mu.Start(ucCodeBase, ucCodeBase+uint64(len(code))))
	var out [8]uint32
	for i, r := range unicornRegs {
		v, err := mu.RegRead(r)
		require.NoError(t, err)
		out[i] = uint32(v)
	}
	flags, err := mu.RegRead(uc.X86_REG_EFLAGS)
	require.NoError(t, err)
	return out, flags&(1<<6) != 0
}

// TestAgainstUnicorn runs register-only programs on both engines and compares
// the general registers and ZF.
func TestAgainstUnicorn(t *testing.T) {
	programs := map[string][]byte{
		"add wraps":     {0x81, 0xC0, 0xFF, 0xFF, 0xFF, 0xFF, 0x81, 0xC1, 0x10, 0x00, 0x00, 0x00},
		"cmp and jz":    {0x83, 0xF8, 0x05, 0x74, 0x06, 0x81, 0xC3, 0x01, 0x00, 0x00, 0x00},
		"cmp and jnz":   {0x83, 0xFA, 0x03, 0x75, 0x06, 0x81, 0xC6, 0x01, 0x00, 0x00, 0x00},
		"sar negative":  {0xD1, 0xFF, 0xD1, 0xFF},
		"push pop":      {0x68, 0x44, 0x33, 0x22, 0x11, 0x68, 0xFE, 0xFF, 0xFF, 0xFF, 0x5D, 0x5E},
		"register move": {0x8B, 0xCA, 0x89, 0xDF, 0x8B, 0xF0},
	}
	start := [8]uint32{5, 0x20, 3, 0x7FFFFFFF, 0, 0, 0x11, 0x80000010}
	for name, code := range programs {
		t.Run(name, func(t *testing.T) {
			want, wantZF := runUnicorn(t, code, start)

			it, err := New(nil)
			require.NoError(t, err)
			require.NoError(t, it.AddCode(ucCodeBase, code))
			for r := x86.EAX; r <= x86.EDI; r++ {
				if r != x86.ESP {
					it.SetReg(r, start[r])
				}
			}
			_, err = it.Interpret(ucCodeBase)
			require.NoError(t, err)
			for r := x86.EAX; r <= x86.EDI; r++ {
				if r == x86.ESP {
					continue
				}
				if got := it.Reg(r); got != want[r] {
					t.Errorf("%s: Expected 0x%08x, got 0x%08x", r, want[r], got)
				}
			}
			if it.ZF() != wantZF {
				t.Errorf("zf: Expected %v, got %v", wantZF, it.ZF())
			}
		})
	}
}
