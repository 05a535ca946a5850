package sh

import "fmt"

const (
	TagEndOfObject          = 0x00
	TagPad                  = 0x1E
	TagJumpToFrame          = 0x40
	TagSourceRef            = 0x42
	TagJump                 = 0x48
	TagUnmask               = 0x12
	TagUnmask4              = 0x6E
	TagVertexBuf            = 0x82
	TagJumpToDetail         = 0xA6
	TagJumpToDamage         = 0xAC
	TagPtrToObjEnd          = 0xB8
	TagUnkBC                = 0xBC
	TagUnmaskWithTransform  = 0xC4
	TagUnmaskWithTransform4 = 0xC6
	TagJumpToLOD            = 0xC8
	TagJumpOnDetailLevel    = 0xCA
	TagTextureRef           = 0xE2
	TagX86Code              = 0xF0
	TagJumpIfNotShown       = 0xF2
	TagVertexNormal         = 0xF6
	TagFacet                = 0xFC
	TagHeader               = 0xFF
)

// Fixed record sizes, including the tag byte.
const (
	SizeHeader               = 14
	SizeTextureRef           = 16
	SizeBranch               = 4
	SizeJumpToDetail         = 6
	SizeJumpToLOD            = 8
	SizeUnmaskWithTransform  = 16
	SizeUnmask4              = 6
	SizeUnmaskWithTransform4 = 18
	SizeVertexNormal         = 7
)

// opaqueSizes lists records that are carried through unparsed.
var opaqueSizes = map[byte]int{
	0x06: 21,
	0x0C: 17,
	0x0E: 17,
	0x10: 17,
	0x2E: 4,
	0x38: 3,
	0x3A: 6,
	0x44: 4,
	0x46: 2,
	0x4E: 2,
	0x50: 6,
	0x66: 10,
	0x68: 8,
	0x6C: 13,
	0x72: 4,
	0x78: 12,
	0x7A: 10,
	0x96: 6,
	0xB2: 2,
	0xCE: 40,
	0xD0: 4,
	0xD2: 8,
	0xDA: 4,
	0xDC: 12,
	0xE0: 4,
	0xE4: 20,
	0xE6: 10,
	0xE8: 6,
	0xEA: 8,
	0xEE: 2,
}

// unkBCSizes maps the UnkBC flags byte to the record size.
var unkBCSizes = map[byte]int{
	0x96: 8,
	0x72: 6,
	0x68: 10,
	0x08: 6,
}

func opaqueName(tag byte) string {
	return fmt.Sprintf("Unk%02X", tag)
}

// KnownTag reports whether the decoder understands tag.
func KnownTag(tag byte) bool {
	if _, ok := opaqueSizes[tag]; ok {
		return true
	}
	_, ok := decoders[tag]
	return ok
}
