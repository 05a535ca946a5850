package common

import "encoding/binary"

// The readers below never panic: ok is false when the read would run past
// the end of buf.

func ReadU8(buf []byte, off int) (uint8, bool) {
	if off < 0 || off >= len(buf) {
		return 0, false
	}
	return buf[off], true
}

func ReadU16(buf []byte, off int) (uint16, bool) {
	if off < 0 || off+2 > len(buf) {
		return 0, false
	}
	return binary.LittleEndian.Uint16(buf[off:]), true
}

func ReadI16(buf []byte, off int) (int16, bool) {
	v, ok := ReadU16(buf, off)
	return int16(v), ok
}

func ReadU32(buf []byte, off int) (uint32, bool) {
	if off < 0 || off+4 > len(buf) {
		return 0, false
	}
	return binary.LittleEndian.Uint32(buf[off:]), true
}

func ReadI32(buf []byte, off int) (int32, bool) {
	v, ok := ReadU32(buf, off)
	return int32(v), ok
}

// CString returns the NUL-terminated string starting at off and the number of
// bytes it occupies including the terminator.
func CString(buf []byte, off int) (string, int, bool) {
	if off < 0 || off > len(buf) {
		return "", 0, false
	}
	for i := off; i < len(buf); i++ {
		if buf[i] == 0 {
			return string(buf[off:i]), i - off + 1, true
		}
	}
	return "", 0, false
}
