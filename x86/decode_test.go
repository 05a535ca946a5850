package x86

import (
	"errors"
	"testing"

	"github.com/colorfulnotion/openfa/shaperrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeSingle(t *testing.T, code []byte) Instruction {
	t.Helper()
	ip := 0
	in, err := DecodeOne(code, &ip)
	require.NoError(t, err)
	require.Equal(t, len(code), ip, "instruction should consume the whole input")
	require.Equal(t, len(code), in.Len)
	return in
}

func TestDecodeSupportedForms(t *testing.T) {
	tests := []struct {
		name string
		code []byte
		want string
	}{
		{"mov eax moffs", []byte{0xA1, 0x78, 0x56, 0x34, 0x12}, "mov eax, dword [0x12345678]"},
		{"mov ax moffs", []byte{0x66, 0xA1, 0x78, 0x56, 0x34, 0x12}, "mov ax, word [0x12345678]"},
		{"add eax imm32", []byte{0x81, 0xC0, 0x01, 0x00, 0x00, 0x00}, "add eax, 0x1"},
		{"cmp eax imm8", []byte{0x83, 0xF8, 0xFF}, "cmp eax, -0x1"},
		{"mov ebp-4 eax", []byte{0x89, 0x45, 0xFC}, "mov dword [ebp-0x4], eax"},
		{"mov eax abs", []byte{0x8B, 0x05, 0x00, 0x10, 0x40, 0x00}, "mov eax, dword [0x00401000]"},
		{"mov ecx edx", []byte{0x8B, 0xCA}, "mov ecx, edx"},
		{"push imm32", []byte{0x68, 0x10, 0x00, 0x00, 0x00}, "push 0x10"},
		{"push imm16", []byte{0x66, 0x68, 0xFF, 0xFF}, "push -0x1"},
		{"jz", []byte{0x74, 0xFE}, "jz -0x2"},
		{"jnz", []byte{0x75, 0x05}, "jnz 0x5"},
		{"call", []byte{0xE8, 0x10, 0x00, 0x00, 0x00}, "call 0x10"},
		{"sar", []byte{0xD1, 0xF8}, "sar eax, 0x1"},
		{"ret", []byte{0xC3}, "ret"},
		{"ignored prefix", []byte{0x2E, 0xC3}, "ret"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			in := decodeSingle(t, tc.code)
			if in.String() != tc.want {
				t.Errorf("Expected %q, got %q", tc.want, in.String())
			}
		})
	}
}

func TestPopRegisterInOpcode(t *testing.T) {
	for r := Reg(0); r < 8; r++ {
		in := decodeSingle(t, []byte{0x58 | byte(r)})
		assert.Equal(t, Pop, in.Mnemonic)
		require.Len(t, in.Operands, 1)
		assert.Equal(t, r, in.Operands[0].Reg)
	}
}

func TestFallbackOnlyForRegisterInOpcode(t *testing.T) {
	// E9 and 6B share their high bits with Call and Push but carry no register.
	for _, code := range [][]byte{
		{0xE9, 0, 0, 0, 0},
		{0x6B, 0xC0, 0x01},
		{0xEB, 0x00},
	} {
		ip := 0
		_, err := DecodeOne(code, &ip)
		assert.ErrorIs(t, err, shaperrors.ErrUnknownOpcode, "opcode 0x%02X", code[0])
	}
}

func TestDecodeDeterministic(t *testing.T) {
	code := []byte{
		0xA1, 0x78, 0x56, 0x34, 0x12,
		0x83, 0xF8, 0x02,
		0x75, 0x02,
		0x5B,
		0xC3,
	}
	a, err := Disassemble(code)
	require.NoError(t, err)
	b, err := Disassemble(code)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	require.Len(t, a, 5)
	assert.Equal(t, []int{0, 5, 8, 10, 11}, []int{a[0].Offset, a[1].Offset, a[2].Offset, a[3].Offset, a[4].Offset})
	assert.Equal(t, 12, a[4].Next())
}

func TestTruncationPhases(t *testing.T) {
	tests := []struct {
		code  []byte
		phase string
	}{
		{[]byte{0x66}, "read_op"},
		{[]byte{0x83}, "decode_op_ext"},
		{[]byte{0x8B}, "op read modrm"},
		{[]byte{0x83, 0xF8}, "op read 1"},
		{[]byte{0x66, 0x68, 0x01}, "op read 2"},
		{[]byte{0xA1, 0x01, 0x02}, "op read 4"},
		{[]byte{0x68, 0x01, 0x00, 0x00}, "op read 4"},
	}
	for _, tc := range tests {
		t.Run(tc.phase, func(t *testing.T) {
			ip := 0
			_, err := DecodeOne(tc.code, &ip)
			require.ErrorIs(t, err, shaperrors.ErrTruncatedInstruction)
			var de *shaperrors.DecodeError
			require.True(t, errors.As(err, &de))
			if de.Phase != tc.phase {
				t.Errorf("Expected phase %q, got %q", tc.phase, de.Phase)
			}
		})
	}
}

func TestUnsupportedAddressingForms(t *testing.T) {
	for name, code := range map[string][]byte{
		"mod00 register indirect": {0x8B, 0x00},
		"mod01 sib":               {0x8B, 0x44, 0x24, 0x04},
		"mod10 disp32":            {0x8B, 0x80, 0x00, 0x00, 0x00, 0x00},
		"addr16 disp":             {0x67, 0x8B, 0x05, 0x00, 0x00},
		"16-bit ecx":              {0x66, 0x89, 0xC8},
	} {
		t.Run(name, func(t *testing.T) {
			ip := 0
			_, err := DecodeOne(code, &ip)
			assert.ErrorIs(t, err, shaperrors.ErrUnsupportedAddressingForm)
		})
	}
}

func TestUnknownOpcodeCarriesContext(t *testing.T) {
	code := []byte{0xC3, 0x66, 0xFF, 0x15, 0, 0, 0, 0}
	ip := 1
	_, err := DecodeOne(code, &ip)
	var de *shaperrors.DecodeError
	require.True(t, errors.As(err, &de))
	assert.ErrorIs(t, err, shaperrors.ErrUnknownOpcode)
	assert.Equal(t, 1, de.Offset)
	assert.Equal(t, byte(0xFF), de.Opcode)
	assert.Equal(t, byte(2), de.Ext)

	instrs, err := Disassemble(code)
	assert.Error(t, err)
	assert.Nil(t, instrs)
}

func TestCrossCheckAgreesWithX86asm(t *testing.T) {
	code := []byte{
		0xA1, 0x78, 0x56, 0x34, 0x12,
		0x66, 0xA1, 0x78, 0x56, 0x34, 0x12,
		0x81, 0xC0, 0x01, 0x00, 0x00, 0x00,
		0x83, 0xF8, 0xFF,
		0x89, 0x45, 0xFC,
		0x8B, 0xCA,
		0x68, 0x10, 0x00, 0x00, 0x00,
		0x66, 0x68, 0xFF, 0xFF,
		0x74, 0x00,
		0xE8, 0x00, 0x00, 0x00, 0x00,
		0xD1, 0xF8,
		0x5E,
		0xC3,
	}
	instrs, err := Disassemble(code)
	require.NoError(t, err)
	mismatches := CrossCheck(code, instrs)
	for _, m := range mismatches {
		t.Errorf("unexpected mismatch %s", m)
	}
}

func TestListing(t *testing.T) {
	code := []byte{0xA1, 0x78, 0x56, 0x34, 0x12, 0xE9, 0x00, 0x00, 0x00, 0x00, 0xC3}
	out := Listing(code, 0x1000)
	assert.Contains(t, out, "0x1000: a1 78 56 34 12")
	assert.Contains(t, out, "mov eax, dword [0x12345678]")
	assert.Contains(t, out, "0x1005: e9 00 00 00 00")
	assert.Contains(t, out, "UnknownOpcode")
	assert.Contains(t, out, "0x100a: c3")
}
