package shape

import (
	"encoding/binary"

	"github.com/colorfulnotion/openfa/peimage"
	"github.com/colorfulnotion/openfa/sh"
)

// Sample record offsets, for tests and the shtool fixture command.
const (
	SampleX86Offset     = 30
	SampleUnmaskOffset  = 67
	SampleFirstBuffer   = 83
	SampleSecondBuffer  = 116
	SampleDetailOffset  = 155
	SampleEndOffset     = 170
	SampleDetailLevel   = 2
	SampleTexture       = "SAMPLE.PIC"
	sampleX86BodyLength = 35
)

// SampleBuilder assembles a small shape that exercises the whole pipeline:
// an x86 fragment that reads _PLgearPos, calls @HardpointAngle@4, patches the
// transform of an UnmaskWithTransform record and hands back through
// do_start_interp; two vertex buffers, the second one transformed; textured
// and untextured facets; and a JumpToDetail section.
func SampleBuilder() *peimage.Builder {
	b := &peimage.Builder{
		Imports: []peimage.Import{
			{Library: "main.dll", Symbols: []string{StartInterp, "@HardpointAngle@4", "_PLgearPos"}},
		},
	}
	v := b.CodeVAddr()
	le := binary.LittleEndian

	var code []byte
	var relocs []uint32
	addr := func(off int) {
		relocs = append(relocs, uint32(len(code)))
		code = le.AppendUint32(code, v+uint32(off))
	}

	// Stubs live in the trailer after EndOfObject.
	stubInterp := SampleEndOffset + 1
	stubAngle := stubInterp + 6
	stubGear := stubAngle + 6

	header := make([]byte, sh.SizeHeader)
	header[0], header[1] = sh.TagHeader, 0xFF
	code = append(code, header...)

	tex := make([]byte, sh.SizeTextureRef)
	tex[0] = sh.TagTextureRef
	copy(tex[2:], SampleTexture)
	code = append(code, tex...)

	// X86Code
	code = append(code, sh.TagX86Code, 0)
	body := len(code)
	code = append(code, 0xA1) // mov eax, [_PLgearPos]
	addr(stubGear)
	code = append(code, 0x66, 0x89, 0x05) // mov [xform.t0], ax
	addr(SampleUnmaskOffset + 2)
	code = append(code, 0xE8) // call @HardpointAngle@4
	code = le.AppendUint32(code, uint32(stubAngle-(len(code)+4)))
	code = append(code, 0x66, 0x89, 0x05) // mov [xform.t2], ax
	addr(SampleUnmaskOffset + 6)
	code = append(code, 0x68) // push next record
	addr(SampleUnmaskOffset)
	code = append(code, 0xE8) // call do_start_interp
	code = le.AppendUint32(code, uint32(stubInterp-(len(code)+4)))
	code = append(code, 0xC3)
	if len(code)-body != sampleX86BodyLength {
		panic("sample x86 body changed size")
	}

	// UnmaskWithTransform targeting the second vertex buffer.
	code = append(code, sh.TagUnmaskWithTransform, 0)
	code = append(code, make([]byte, 12)...)
	code = le.AppendUint16(code, uint16(SampleSecondBuffer-(SampleUnmaskOffset+sh.SizeUnmaskWithTransform)))

	code = appendVertexBuf(code, 0, [3]int16{1, 2, 3}, [3]int16{4, 5, 6}, [3]int16{7, 8, 9})
	code = append(code, sh.TagFacet, 0, 0, 0x11, 0, 3, 0, 1, 2)
	code = appendVertexBuf(code, 3, [3]int16{10, 20, 30}, [3]int16{40, 50, 60}, [3]int16{70, 80, 90})
	code = append(code, sh.TagFacet, 0x04, 0x01, 0x22, 0, 3, 3, 4, 5, 0, 0, 8, 0, 8, 8)

	// JumpToDetail: draw the next facet only when detail differs.
	code = append(code, sh.TagJumpToDetail, 0)
	code = le.AppendUint16(code, SampleDetailLevel)
	code = le.AppendUint16(code, uint16(SampleEndOffset-(SampleDetailOffset+sh.SizeJumpToDetail)))
	code = append(code, sh.TagFacet, 0, 0, 0x33, 0, 3, 0, 4, 5)

	code = append(code, sh.TagEndOfObject)
	for _, sym := range []string{StartInterp, "@HardpointAngle@4", "_PLgearPos"} {
		thunk, _ := b.ThunkVAddr(sym)
		code = append(code, 0xFF, 0x25)
		relocs = append(relocs, uint32(len(code)))
		code = le.AppendUint32(code, thunk)
	}

	b.Code = code
	b.Relocs = relocs
	return b
}

func appendVertexBuf(code []byte, slot uint16, verts ...[3]int16) []byte {
	le := binary.LittleEndian
	code = append(code, sh.TagVertexBuf, 0)
	code = le.AppendUint16(code, uint16(len(verts)))
	code = le.AppendUint16(code, slot)
	for _, v := range verts {
		for _, c := range v {
			code = le.AppendUint16(code, uint16(c))
		}
	}
	return code
}

// SampleShape builds and decodes SampleBuilder's image.
func SampleShape() (*sh.Shape, error) {
	data, err := SampleBuilder().Build()
	if err != nil {
		return nil, err
	}
	return sh.FromBytes(data)
}
