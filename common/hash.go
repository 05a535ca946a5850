package common

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// ContentHash is the BLAKE2b-256 digest of a resource's bytes.
type ContentHash [32]byte

// ComputeHash computes the BLAKE2b hash of the given data
func ComputeHash(data []byte) ContentHash {
	return blake2b.Sum256(data)
}

func (h ContentHash) Hex() string {
	return hex.EncodeToString(h[:])
}

func (h ContentHash) Bytes() []byte {
	return h[:]
}

func Uint32ToBytes(val uint32) []byte {
	bytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(bytes, val)
	return bytes
}

func Uint16ToBytes(value uint16) []byte {
	bytes := make([]byte, 2)
	binary.LittleEndian.PutUint16(bytes, value)
	return bytes
}

func (h ContentHash) MarshalText() ([]byte, error) {
	return []byte(h.Hex()), nil
}

func (h *ContentHash) UnmarshalText(text []byte) error {
	if hex.DecodedLen(len(text)) != len(h) {
		return fmt.Errorf("content hash: want %d hex digits, got %d", 2*len(h), len(text))
	}
	_, err := hex.Decode(h[:], text)
	return err
}
