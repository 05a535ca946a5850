package peimage

import (
	"encoding/binary"
	"fmt"
	"sort"
)

const (
	fileAlignment    = 0x200
	sectionAlignment = 0x1000
	headerSize       = 0x200
	optHeaderSize    = 224

	// DefaultImageBase is where Builder places images unless told otherwise.
	DefaultImageBase = 0x00400000
)

// Import names the symbols pulled from one library.
type Import struct {
	Library string
	Symbols []string
}

// Builder synthesizes a minimal PE32 image with an import section, a CODE
// section and a base relocation section, in that order. Addresses of the
// import slots and of the code section only depend on the imports, so code
// that embeds them can be assembled before Build is called.
type Builder struct {
	ImageBase uint32
	Imports   []Import
	Code      []byte
	Relocs    []uint32
}

type idataLayout struct {
	size  uint32
	slots map[string]uint32 // symbol -> IAT rva
	blob  func(base uint32) []byte
}

func (b *Builder) base() uint32 {
	if b.ImageBase == 0 {
		return DefaultImageBase
	}
	return b.ImageBase
}

func alignUp(v, a uint32) uint32 {
	return (v + a - 1) &^ (a - 1)
}

const idataRVA = sectionAlignment

func (b *Builder) idata() idataLayout {
	descSize := uint32(len(b.Imports)+1) * importDescriptorSize
	cursor := descSize
	type libLayout struct {
		ilt, iat, name uint32
		hints          []uint32
	}
	libs := make([]libLayout, len(b.Imports))
	for i, imp := range b.Imports {
		n := uint32(len(imp.Symbols)+1) * 4
		libs[i].ilt = cursor
		cursor += n
		libs[i].iat = cursor
		cursor += n
	}
	for i, imp := range b.Imports {
		for _, sym := range imp.Symbols {
			libs[i].hints = append(libs[i].hints, cursor)
			cursor += alignUp(uint32(2+len(sym)+1), 2)
		}
		libs[i].name = cursor
		cursor += alignUp(uint32(len(imp.Library)+1), 2)
	}

	slots := make(map[string]uint32)
	for i, imp := range b.Imports {
		for j, sym := range imp.Symbols {
			slots[sym] = idataRVA + libs[i].iat + uint32(j)*4
		}
	}
	blob := func(rva uint32) []byte {
		out := make([]byte, cursor)
		for i, imp := range b.Imports {
			d := out[uint32(i)*importDescriptorSize:]
			binary.LittleEndian.PutUint32(d[0:], rva+libs[i].ilt)
			binary.LittleEndian.PutUint32(d[12:], rva+libs[i].name)
			binary.LittleEndian.PutUint32(d[16:], rva+libs[i].iat)
			for j, sym := range imp.Symbols {
				hint := libs[i].hints[j]
				binary.LittleEndian.PutUint32(out[libs[i].ilt+uint32(j)*4:], rva+hint)
				binary.LittleEndian.PutUint32(out[libs[i].iat+uint32(j)*4:], rva+hint)
				copy(out[hint+2:], sym)
			}
			copy(out[libs[i].name:], imp.Library)
		}
		return out
	}
	return idataLayout{size: cursor, slots: slots, blob: blob}
}

func (b *Builder) codeRVA() uint32 {
	return idataRVA + alignUp(b.idata().size, sectionAlignment)
}

// CodeVAddr is the address the CODE section will be loaded at.
func (b *Builder) CodeVAddr() uint32 {
	return b.base() + b.codeRVA()
}

// ThunkVAddr is the address of the import table slot for sym.
func (b *Builder) ThunkVAddr(sym string) (uint32, bool) {
	rva, ok := b.idata().slots[sym]
	return b.base() + rva, ok
}

func (b *Builder) relocBlob(codeRVA uint32) []byte {
	offs := append([]uint32(nil), b.Relocs...)
	sort.Slice(offs, func(i, j int) bool { return offs[i] < offs[j] })
	var out []byte
	for i := 0; i < len(offs); {
		page := offs[i] &^ 0xFFF
		var entries []uint16
		for ; i < len(offs) && offs[i]&^0xFFF == page; i++ {
			entries = append(entries, uint16(relocHighLow<<12|(offs[i]&0xFFF)))
		}
		if len(entries)%2 == 1 {
			entries = append(entries, 0)
		}
		block := make([]byte, 8+2*len(entries))
		binary.LittleEndian.PutUint32(block[0:], codeRVA+page)
		binary.LittleEndian.PutUint32(block[4:], uint32(len(block)))
		for j, e := range entries {
			binary.LittleEndian.PutUint16(block[8+2*j:], e)
		}
		out = append(out, block...)
	}
	return out
}

type builtSection struct {
	name  string
	rva   uint32
	data  []byte
	flags uint32
}

// Build serializes the image.
func (b *Builder) Build() ([]byte, error) {
	for _, r := range b.Relocs {
		if int(r)+4 > len(b.Code) {
			return nil, fmt.Errorf("relocation at 0x%x outside code of %d bytes", r, len(b.Code))
		}
	}
	id := b.idata()
	codeRVA := b.codeRVA()
	relocRVA := codeRVA + alignUp(uint32(len(b.Code))+1, sectionAlignment)
	relocs := b.relocBlob(codeRVA)

	sections := []builtSection{
		{".idata", idataRVA, id.blob(idataRVA), 0xC0000040},
		{codeSectionName, codeRVA, b.Code, 0x60000020},
	}
	if len(relocs) > 0 {
		sections = append(sections, builtSection{".reloc", relocRVA, relocs, 0x42000040})
	}

	out := make([]byte, headerSize)
	var body []byte
	copy(out, "MZ")
	binary.LittleEndian.PutUint32(out[0x3C:], 0x40)
	copy(out[0x40:], "PE\x00\x00")

	fh := out[0x44:]
	binary.LittleEndian.PutUint16(fh[0:], 0x14C)
	binary.LittleEndian.PutUint16(fh[2:], uint16(len(sections)))
	binary.LittleEndian.PutUint16(fh[16:], optHeaderSize)
	binary.LittleEndian.PutUint16(fh[18:], 0x2102)

	oh := out[0x58:]
	binary.LittleEndian.PutUint16(oh[0:], 0x10B)
	binary.LittleEndian.PutUint32(oh[4:], uint32(len(b.Code)))
	binary.LittleEndian.PutUint32(oh[20:], codeRVA)
	binary.LittleEndian.PutUint32(oh[28:], b.base())
	binary.LittleEndian.PutUint32(oh[32:], sectionAlignment)
	binary.LittleEndian.PutUint32(oh[36:], fileAlignment)
	binary.LittleEndian.PutUint16(oh[48:], 4)
	binary.LittleEndian.PutUint32(oh[60:], headerSize)
	binary.LittleEndian.PutUint16(oh[68:], 2)
	binary.LittleEndian.PutUint32(oh[92:], 16)
	if len(b.Imports) > 0 {
		binary.LittleEndian.PutUint32(oh[96+8*dirImport:], idataRVA)
		binary.LittleEndian.PutUint32(oh[96+8*dirImport+4:], id.size)
	}
	if len(relocs) > 0 {
		binary.LittleEndian.PutUint32(oh[96+8*dirBaseReloc:], relocRVA)
		binary.LittleEndian.PutUint32(oh[96+8*dirBaseReloc+4:], uint32(len(relocs)))
	}

	sh := out[0x58+optHeaderSize:]
	raw := uint32(headerSize)
	var imageEnd uint32
	for i, s := range sections {
		h := sh[i*40:]
		copy(h[0:8], s.name)
		rawSize := alignUp(uint32(len(s.data)), fileAlignment)
		binary.LittleEndian.PutUint32(h[8:], uint32(len(s.data)))
		binary.LittleEndian.PutUint32(h[12:], s.rva)
		binary.LittleEndian.PutUint32(h[16:], rawSize)
		if rawSize > 0 {
			binary.LittleEndian.PutUint32(h[20:], raw)
		}
		binary.LittleEndian.PutUint32(h[36:], s.flags)

		padded := make([]byte, rawSize)
		copy(padded, s.data)
		body = append(body, padded...)
		raw += rawSize
		imageEnd = s.rva + alignUp(uint32(len(s.data))+1, sectionAlignment)
	}
	binary.LittleEndian.PutUint32(oh[56:], imageEnd)
	return append(out, body...), nil
}
