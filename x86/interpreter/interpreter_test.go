package interpreter

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/colorfulnotion/openfa/shaperrors"
	"github.com/colorfulnotion/openfa/x86"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	codeBase      uint32 = 0x1000
	trampolineAt  uint32 = 0x2000
	constantAt    uint32 = 0x3000
	writableAt    uint32 = 0x4000
	constantValue uint32 = 7
)

func le32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func asm(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func newTestInterpreter(t *testing.T, code []byte) (*Interpreter, []byte) {
	t.Helper()
	mem := NewMemory()
	mem.MapTrampoline(trampolineAt, Trampoline{Name: "get_count", Arity: 1})
	mem.MapConstant(constantAt, constantValue)
	scratch := make([]byte, 8)
	require.NoError(t, mem.MapWritable(writableAt, scratch))
	it, err := New(mem)
	require.NoError(t, err)
	require.NoError(t, it.AddCode(codeBase, code))
	assert.Equal(t, StateReady, it.State())
	return it, scratch
}

func callRel(from, to uint32) []byte {
	return asm([]byte{0xE8}, le32(to-(from+5)))
}

func TestTrampolineRoundTrip(t *testing.T) {
	code := asm(
		[]byte{0x68, 0x2A, 0x00, 0x00, 0x00}, // push 0x2a
		callRel(codeBase+5, trampolineAt),    // call get_count
		[]byte{0x83, 0xF8, 0x03},             // cmp eax, 3
		[]byte{0x75, 0x05},                   // jnz ret
		[]byte{0xA1}, le32(constantAt),       // mov eax, [constant]
		[]byte{0xC3},
	)
	for _, tc := range []struct {
		eax, want uint32
	}{
		{3, constantValue},
		{4, 4},
	} {
		it, _ := newTestInterpreter(t, code)
		exit, err := it.Interpret(codeBase)
		require.NoError(t, err)
		require.Equal(t, ExitTrampoline, exit.Kind)
		assert.Equal(t, "get_count", exit.Name)
		assert.Equal(t, []uint32{0x2A}, exit.Args)
		assert.Equal(t, codeBase+10, exit.Resume)
		assert.Equal(t, StateSuspended, it.State())

		it.DropArgs(1)
		it.SetReg(x86.EAX, tc.eax)
		exit, err = it.Interpret(exit.Resume)
		require.NoError(t, err)
		assert.Equal(t, ExitOutOfInstructions, exit.Kind)
		assert.Equal(t, StateHalted, it.State())
		if got := it.Reg(x86.EAX); got != tc.want {
			t.Errorf("Expected eax 0x%x, got 0x%x", tc.want, got)
		}
	}
}

func TestCallAndReturn(t *testing.T) {
	code := asm(
		callRel(codeBase, codeBase+6),
		[]byte{0xC3},
		[]byte{0xA1}, le32(constantAt),
		[]byte{0xC3},
	)
	it, _ := newTestInterpreter(t, code)
	exit, err := it.Interpret(codeBase)
	require.NoError(t, err)
	assert.Equal(t, ExitOutOfInstructions, exit.Kind)
	assert.Equal(t, constantValue, it.Reg(x86.EAX))
	assert.Equal(t, DefaultStackBase+DefaultStackSize, it.Reg(x86.ESP))
	assert.Equal(t, uint64(4), it.Steps())
}

func TestReturnIntoTrampoline(t *testing.T) {
	code := asm(
		[]byte{0x68}, le32(0x99),
		[]byte{0x68}, le32(0x1234),
		[]byte{0x68}, le32(trampolineAt),
		[]byte{0xC3},
	)
	it, _ := newTestInterpreter(t, code)
	exit, err := it.Interpret(codeBase)
	require.NoError(t, err)
	require.Equal(t, ExitTrampoline, exit.Kind)
	assert.Equal(t, trampolineAt, exit.Address)
	// The trampoline consumed 0x1234 as its return address.
	assert.Equal(t, uint32(0x1234), exit.Resume)
	assert.Equal(t, []uint32{0x99}, exit.Args)
	assert.False(t, exit.Data)
}

func TestDataReadOfTrampoline(t *testing.T) {
	code := asm([]byte{0xA1}, le32(trampolineAt))
	it, _ := newTestInterpreter(t, code)
	exit, err := it.Interpret(codeBase)
	require.NoError(t, err)
	require.Equal(t, ExitTrampoline, exit.Kind)
	assert.True(t, exit.Data)
	assert.Equal(t, codeBase, exit.Resume)

	it.Memory().MapConstant(trampolineAt, 9)
	exit, err = it.Interpret(exit.Resume)
	require.NoError(t, err)
	assert.Equal(t, ExitOutOfInstructions, exit.Kind)
	assert.Equal(t, uint32(9), it.Reg(x86.EAX))
}

func TestMemoryFaults(t *testing.T) {
	tests := []struct {
		name string
		code []byte
		want error
		addr uint32
	}{
		{"write constant", asm([]byte{0x89, 0x05}, le32(constantAt)), shaperrors.ErrWriteToReadOnlyOrTrampoline, constantAt},
		{"write trampoline", asm([]byte{0x89, 0x05}, le32(trampolineAt)), shaperrors.ErrWriteToReadOnlyOrTrampoline, trampolineAt},
		{"read unmapped", asm([]byte{0xA1}, le32(0x5000)), shaperrors.ErrUnmappedMemoryAccess, 0x5000},
		{"straddle region end", asm([]byte{0xA1}, le32(writableAt+6)), shaperrors.ErrUnmappedMemoryAccess, writableAt + 6},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			it, _ := newTestInterpreter(t, tc.code)
			_, err := it.Interpret(codeBase)
			require.ErrorIs(t, err, tc.want)
			var me *shaperrors.MemoryError
			require.True(t, errors.As(err, &me))
			assert.Equal(t, tc.addr, me.Address)
			assert.Equal(t, StateFaulted, it.State())

			_, err = it.Interpret(codeBase)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestWritableRegion(t *testing.T) {
	code := asm(
		[]byte{0x89, 0x05}, le32(writableAt),   // mov [scratch], eax
		[]byte{0x66, 0xA1}, le32(writableAt+4), // mov ax, [scratch+4]
	)
	it, scratch := newTestInterpreter(t, code)
	scratch[4], scratch[5] = 0x34, 0x12
	it.SetReg(x86.EAX, 0xAAAABBBB)
	_, err := it.Interpret(codeBase)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xBB, 0xBB, 0xAA, 0xAA}, scratch[:4])
	assert.Equal(t, uint32(0xAAAA1234), it.Reg(x86.EAX))
	assert.Equal(t, uint32(0x1234), it.Reg(x86.AX))
}

func TestArithmeticAndFlags(t *testing.T) {
	t.Run("add sets zf", func(t *testing.T) {
		it, _ := newTestInterpreter(t, []byte{0x81, 0xC0, 0xFF, 0xFF, 0xFF, 0xFF})
		it.SetReg(x86.EAX, 1)
		_, err := it.Interpret(codeBase)
		require.NoError(t, err)
		assert.Equal(t, uint32(0), it.Reg(x86.EAX))
		assert.True(t, it.ZF())
	})
	t.Run("sar keeps sign", func(t *testing.T) {
		it, _ := newTestInterpreter(t, []byte{0xD1, 0xF8})
		it.SetReg(x86.EAX, 0x80000000)
		_, err := it.Interpret(codeBase)
		require.NoError(t, err)
		assert.Equal(t, uint32(0xC0000000), it.Reg(x86.EAX))
		assert.False(t, it.ZF())
	})
	t.Run("push pop", func(t *testing.T) {
		it, _ := newTestInterpreter(t, []byte{0x68, 0x78, 0x56, 0x34, 0x12, 0x5B})
		_, err := it.Interpret(codeBase)
		require.NoError(t, err)
		assert.Equal(t, uint32(0x12345678), it.Reg(x86.EBX))
	})
	t.Run("cmp leaves operands", func(t *testing.T) {
		it, _ := newTestInterpreter(t, []byte{0x83, 0xF9, 0x05})
		it.SetReg(x86.ECX, 5)
		_, err := it.Interpret(codeBase)
		require.NoError(t, err)
		assert.True(t, it.ZF())
		assert.Equal(t, uint32(5), it.Reg(x86.ECX))
	})
}

func TestStepBudget(t *testing.T) {
	it, _ := newTestInterpreter(t, []byte{0x75, 0xFE}) // jnz self
	it.SetStepBudget(100)
	_, err := it.Interpret(codeBase)
	require.ErrorIs(t, err, shaperrors.ErrStepBudgetExhausted)
	assert.Equal(t, uint64(100), it.Steps())
	assert.Equal(t, StateFaulted, it.State())
}

func TestAddCodeRejectsBadStream(t *testing.T) {
	it, err := New(nil)
	require.NoError(t, err)
	err = it.AddCode(codeBase, []byte{0xC3, 0x90})
	assert.ErrorIs(t, err, shaperrors.ErrUnknownOpcode)
	_, ok := it.InstructionAt(codeBase)
	assert.False(t, ok)
}

func TestLaterRegionShadowsEarlier(t *testing.T) {
	mem := NewMemory()
	low := make([]byte, 0x10)
	high := make([]byte, 0x10)
	require.NoError(t, mem.MapWritable(0x100, low))
	require.NoError(t, mem.MapWritable(0x108, high))
	assert.Error(t, mem.MapWritable(0x200, nil))

	require.NoError(t, mem.Write(0x108, 32, 0xDEADBEEF))
	assert.Equal(t, []byte{0, 0, 0, 0}, low[8:12])
	assert.Equal(t, []byte{0xEF, 0xBE, 0xAD, 0xDE}, high[:4])

	// Straddling the shadow boundary falls back to the region that holds
	// every byte.
	require.NoError(t, mem.Write(0x106, 32, 0x01020304))
	assert.Equal(t, []byte{0x04, 0x03, 0x02, 0x01}, low[6:10])

	mem.MapConstant(0x100, 5)
	v, err := mem.Read(0x100, 32)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), v)
}
