package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBoundedReads(t *testing.T) {
	buf := []byte{0x34, 0x12, 0xFE, 0xFF, 'a', 'b', 0}

	v16, ok := ReadU16(buf, 0)
	assert.True(t, ok)
	assert.Equal(t, uint16(0x1234), v16)

	i16, ok := ReadI16(buf, 2)
	assert.True(t, ok)
	assert.Equal(t, int16(-2), i16)

	_, ok = ReadU32(buf, 4)
	assert.False(t, ok)
	_, ok = ReadU8(buf, -1)
	assert.False(t, ok)

	s, n, ok := CString(buf, 4)
	assert.True(t, ok)
	assert.Equal(t, "ab", s)
	assert.Equal(t, 3, n)

	_, _, ok = CString(buf[:6], 4)
	assert.False(t, ok)
}

func TestComputeHash(t *testing.T) {
	a := ComputeHash([]byte("F22.SH"))
	b := ComputeHash([]byte("F22.SH"))
	assert.Equal(t, a, b)
	assert.Len(t, a.Hex(), 64)
	assert.NotEqual(t, a, ComputeHash([]byte("F18.SH")))
}
