package peimage

import (
	"bytes"
	"debug/pe"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/colorfulnotion/openfa/log"
	"github.com/colorfulnotion/openfa/shaperrors"
)

const (
	dirImport    = 1
	dirBaseReloc = 5

	relocAbsolute = 0
	relocHighLow  = 3

	codeSectionName = "CODE"
)

// Thunk is an import-address-table slot the image expects the loader to fill
// with the address of Name.
type Thunk struct {
	Name    string
	Library string
	VAddr   uint32
}

// CodeImage is the loaded form of a shape's executable container: the code
// section bytes, where they live in the address space, the offsets the
// loader would patch, and the imports the code refers to.
type CodeImage struct {
	Code      []byte
	CodeVAddr uint32
	ImageBase uint32
	Relocs    []uint32
	Thunks    map[uint32]Thunk
}

type section struct {
	name  string
	va    uint32
	vsize uint32
	raw   []byte
}

func containerErr(kind shaperrors.ContainerErrorKind, off int, format string, args ...interface{}) error {
	return &shaperrors.ContainerError{Kind: kind, Offset: off, Detail: fmt.Sprintf(format, args...)}
}

// FromBytes parses a PE32 image and extracts its code section, relocation
// table and import thunks. Every offset it returns is validated against the
// code section; no partial image is returned on failure.
func FromBytes(data []byte) (*CodeImage, error) {
	if len(data) < 0x40 {
		return nil, containerErr(shaperrors.ContainerTruncated, len(data), "need a 64 byte DOS header, have %d bytes", len(data))
	}
	if data[0] != 'M' || data[1] != 'Z' {
		return nil, containerErr(shaperrors.ContainerMalformedHeader, 0, "missing MZ signature")
	}
	f, err := pe.NewFile(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, containerErr(shaperrors.ContainerTruncated, len(data), "%v", err)
		}
		return nil, containerErr(shaperrors.ContainerMalformedHeader, 0, "%v", err)
	}
	defer f.Close()

	oh, ok := f.OptionalHeader.(*pe.OptionalHeader32)
	if !ok {
		return nil, containerErr(shaperrors.ContainerMalformedHeader, 0, "not a PE32 image")
	}

	sections, err := loadSections(f, data)
	if err != nil {
		return nil, err
	}
	code := findCode(f, sections)
	if code == nil {
		return nil, containerErr(shaperrors.ContainerMissingCode, 0, "no %s or executable section", codeSectionName)
	}

	img := &CodeImage{
		Code:      code.raw,
		CodeVAddr: oh.ImageBase + code.va,
		ImageBase: oh.ImageBase,
		Thunks:    make(map[uint32]Thunk),
	}
	l := &layout{sections: sections}

	if dd := oh.DataDirectory[dirBaseReloc]; dd.VirtualAddress != 0 && dd.Size != 0 {
		relocs, err := l.relocations(dd.VirtualAddress, dd.Size, code)
		if err != nil {
			return nil, err
		}
		img.Relocs = relocs
	}
	if dd := oh.DataDirectory[dirImport]; dd.VirtualAddress != 0 && dd.Size != 0 {
		thunks, err := l.imports(dd.VirtualAddress, oh.ImageBase)
		if err != nil {
			return nil, err
		}
		for _, th := range thunks {
			img.Thunks[th.VAddr] = th
		}
	}
	log.Debug(log.PEModule, "image loaded", "code", len(img.Code), "vaddr", fmt.Sprintf("0x%08X", img.CodeVAddr), "relocs", len(img.Relocs), "thunks", len(img.Thunks))
	return img, nil
}

func loadSections(f *pe.File, data []byte) ([]*section, error) {
	out := make([]*section, 0, len(f.Sections))
	for _, s := range f.Sections {
		var raw []byte
		if s.Size > 0 {
			start := int(s.Offset)
			end := start + int(s.Size)
			if start < 0 || end > len(data) || end < start {
				return nil, containerErr(shaperrors.ContainerSectionOverflow, start, "section %q raw data [0x%x,0x%x) exceeds file of %d bytes", s.Name, start, end, len(data))
			}
			raw = data[start:end:end]
			if s.VirtualSize != 0 && s.VirtualSize < s.Size {
				raw = raw[:s.VirtualSize]
			}
		}
		out = append(out, &section{name: s.Name, va: s.VirtualAddress, vsize: s.VirtualSize, raw: raw})
	}

	ordered := append([]*section(nil), out...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].va < ordered[j].va })
	for i := 1; i < len(ordered); i++ {
		prev, cur := ordered[i-1], ordered[i]
		if uint64(prev.va)+uint64(prev.extent()) > uint64(cur.va) {
			return nil, containerErr(shaperrors.ContainerSectionOverlap, int(cur.va), "section %q overlaps %q", cur.name, prev.name)
		}
	}
	return out, nil
}

func (s *section) extent() uint32 {
	if s.vsize > uint32(len(s.raw)) {
		return s.vsize
	}
	return uint32(len(s.raw))
}

func findCode(f *pe.File, sections []*section) *section {
	for _, s := range sections {
		if strings.EqualFold(s.name, codeSectionName) {
			return s
		}
	}
	for i, s := range f.Sections {
		if s.Characteristics&pe.IMAGE_SCN_MEM_EXECUTE != 0 {
			return sections[i]
		}
	}
	return nil
}

// ThunkAt returns the import bound to an import-table address.
func (img *CodeImage) ThunkAt(vaddr uint32) (Thunk, bool) {
	th, ok := img.Thunks[vaddr]
	return th, ok
}

// VAddrOf converts a code byte offset into an address.
func (img *CodeImage) VAddrOf(offset int) uint32 {
	return img.CodeVAddr + uint32(offset)
}

// OffsetOf converts an address into a code byte offset.
func (img *CodeImage) OffsetOf(vaddr uint32) (int, bool) {
	if vaddr < img.CodeVAddr {
		return 0, false
	}
	off := int(vaddr - img.CodeVAddr)
	if off >= len(img.Code) {
		return 0, false
	}
	return off, true
}

// HasRelocAt reports whether offset is the start of a patched dword.
func (img *CodeImage) HasRelocAt(offset int) bool {
	i := sort.Search(len(img.Relocs), func(i int) bool { return img.Relocs[i] >= uint32(offset) })
	return i < len(img.Relocs) && img.Relocs[i] == uint32(offset)
}
