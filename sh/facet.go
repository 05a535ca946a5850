package sh

import (
	"fmt"
	"strings"

	"github.com/colorfulnotion/openfa/common"
)

type FacetFlags uint16

const (
	FacetUseByteTexCoords FacetFlags = 0x0001
	FacetUseShortMaterial FacetFlags = 0x0002
	FacetUseShortIndices  FacetFlags = 0x0004
	FacetHaveTexCoords    FacetFlags = 0x0400
	FacetHaveMaterial     FacetFlags = 0x4000

	facetKnownFlags = FacetUseByteTexCoords | FacetUseShortMaterial | FacetUseShortIndices | FacetHaveTexCoords | FacetHaveMaterial
)

func (f FacetFlags) Has(bit FacetFlags) bool { return f&bit == bit }

func (f FacetFlags) String() string {
	var parts []string
	for _, fl := range []struct {
		bit  FacetFlags
		name string
	}{
		{FacetHaveMaterial, "HAVE_MATERIAL"},
		{FacetHaveTexCoords, "HAVE_TEXCOORDS"},
		{FacetUseShortIndices, "USE_SHORT_INDICES"},
		{FacetUseShortMaterial, "USE_SHORT_MATERIAL"},
		{FacetUseByteTexCoords, "USE_BYTE_TEXCOORDS"},
	} {
		if f.Has(fl.bit) {
			parts = append(parts, fl.name)
		}
	}
	if rest := f &^ facetKnownFlags; rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%04X", uint16(rest)))
	}
	if len(parts) == 0 {
		return "0"
	}
	return strings.Join(parts, "|")
}

// MaterialSize is the number of bytes between the flags word and the index
// count.
func (f FacetFlags) MaterialSize() int {
	if !f.Has(FacetHaveMaterial) {
		return 2
	}
	if f.Has(FacetUseShortMaterial) {
		return 11
	}
	return 14
}

func (f FacetFlags) IndexSize() int {
	if f.Has(FacetUseShortIndices) {
		return 2
	}
	return 1
}

func (f FacetFlags) TexCoordSize() int {
	if f.Has(FacetUseByteTexCoords) {
		return 1
	}
	return 2
}

// FacetLength is the encoded size of a facet with n indices.
func FacetLength(f FacetFlags, n int) int {
	length := 3 + f.MaterialSize() + 1 + n*f.IndexSize()
	if f.Has(FacetHaveTexCoords) {
		length += n * 2 * f.TexCoordSize()
	}
	return length
}

// Facet is a polygon over vertex pool indices.
type Facet struct {
	base
	Flags     FacetFlags
	Color     uint8
	Material  []byte
	Indices   []uint16
	TexCoords [][2]uint16
}

func (*Facet) Name() string { return "Facet" }

func decodeFacet(code []byte, off int) (Record, error) {
	if err := need(code, off, TagFacet, 3); err != nil {
		return nil, err
	}
	flags := FacetFlags(uint16(code[off+1])<<8 | uint16(code[off+2]))
	mat := flags.MaterialSize()
	countAt := off + 3 + mat
	if err := need(code, off, TagFacet, 3+mat+1); err != nil {
		return nil, err
	}
	n := int(code[countAt])
	length := FacetLength(flags, n)
	if err := need(code, off, TagFacet, length); err != nil {
		return nil, err
	}

	f := &Facet{
		base:     base{tag: TagFacet, offset: off, size: length},
		Flags:    flags,
		Color:    code[off+3],
		Material: append([]byte(nil), code[off+3:countAt]...),
		Indices:  make([]uint16, n),
	}
	pos := countAt + 1
	for i := 0; i < n; i++ {
		if flags.Has(FacetUseShortIndices) {
			f.Indices[i], _ = common.ReadU16(code, pos)
			pos += 2
		} else {
			f.Indices[i] = uint16(code[pos])
			pos++
		}
	}
	if flags.Has(FacetHaveTexCoords) {
		f.TexCoords = make([][2]uint16, n)
		for i := 0; i < n; i++ {
			for c := 0; c < 2; c++ {
				if flags.Has(FacetUseByteTexCoords) {
					f.TexCoords[i][c] = uint16(code[pos])
					pos++
				} else {
					f.TexCoords[i][c], _ = common.ReadU16(code, pos)
					pos += 2
				}
			}
		}
	}
	return f, nil
}
