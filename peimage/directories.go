package peimage

import (
	"fmt"
	"sort"

	"github.com/colorfulnotion/openfa/common"
	"github.com/colorfulnotion/openfa/shaperrors"
)

const importDescriptorSize = 20

type layout struct {
	sections []*section
}

// bytesAt maps an RVA to the raw bytes from that address to the end of its
// section.
func (l *layout) bytesAt(rva uint32) ([]byte, bool) {
	for _, s := range l.sections {
		if rva >= s.va && rva < s.va+uint32(len(s.raw)) {
			return s.raw[rva-s.va:], true
		}
	}
	return nil, false
}

// relocations walks the base relocation blocks and returns the HIGHLOW
// targets as sorted code offsets.
func (l *layout) relocations(rva, size uint32, code *section) ([]uint32, error) {
	buf, ok := l.bytesAt(rva)
	if !ok || uint32(len(buf)) < size {
		return nil, containerErr(shaperrors.ContainerMalformedHeader, int(rva), "relocation directory of %d bytes not backed by a section", size)
	}
	buf = buf[:size]

	var out []uint32
	for pos := 0; pos+8 <= len(buf); {
		page, _ := common.ReadU32(buf, pos)
		blockSize, _ := common.ReadU32(buf, pos+4)
		if blockSize < 8 || pos+int(blockSize) > len(buf) {
			return nil, containerErr(shaperrors.ContainerMalformedHeader, int(rva)+pos, "relocation block size %d", blockSize)
		}
		for e := pos + 8; e+2 <= pos+int(blockSize); e += 2 {
			entry, _ := common.ReadU16(buf, e)
			kind, off := entry>>12, uint32(entry&0x0FFF)
			switch kind {
			case relocAbsolute:
				continue
			case relocHighLow:
			default:
				return nil, containerErr(shaperrors.ContainerMalformedHeader, int(rva)+e, "unsupported relocation type %d", kind)
			}
			target := uint64(page) + uint64(off)
			if target < uint64(code.va) || target-uint64(code.va)+4 > uint64(len(code.raw)) {
				return nil, containerErr(shaperrors.ContainerRelocationOutOfRange, int(rva)+e, "relocation at rva 0x%x outside code [0x%x,0x%x)", target, code.va, uint64(code.va)+uint64(len(code.raw)))
			}
			out = append(out, uint32(target)-code.va)
		}
		pos += int(blockSize)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// imports walks the import descriptors and names every import address table
// slot.
func (l *layout) imports(rva, imageBase uint32) ([]Thunk, error) {
	var out []Thunk
	for desc := rva; ; desc += importDescriptorSize {
		buf, ok := l.bytesAt(desc)
		if !ok || len(buf) < importDescriptorSize {
			return nil, containerErr(shaperrors.ContainerMalformedImports, int(desc), "import descriptor not backed by a section")
		}
		lookup, _ := common.ReadU32(buf, 0)
		nameRVA, _ := common.ReadU32(buf, 12)
		first, _ := common.ReadU32(buf, 16)
		if lookup == 0 && nameRVA == 0 && first == 0 {
			return out, nil
		}
		library, err := l.cstring(nameRVA)
		if err != nil {
			return nil, err
		}
		if lookup == 0 {
			lookup = first
		}
		for i := uint32(0); ; i++ {
			entries, ok := l.bytesAt(lookup + 4*i)
			if !ok || len(entries) < 4 {
				return nil, containerErr(shaperrors.ContainerMalformedImports, int(lookup+4*i), "unterminated thunk array for %s", library)
			}
			entry, _ := common.ReadU32(entries, 0)
			if entry == 0 {
				break
			}
			var name string
			if entry&0x80000000 != 0 {
				name = fmt.Sprintf("#%d", entry&0xFFFF)
			} else if name, err = l.cstring(entry + 2); err != nil {
				return nil, err
			}
			out = append(out, Thunk{Name: name, Library: library, VAddr: imageBase + first + 4*i})
		}
	}
}

func (l *layout) cstring(rva uint32) (string, error) {
	buf, ok := l.bytesAt(rva)
	if !ok {
		return "", containerErr(shaperrors.ContainerMalformedImports, int(rva), "name not backed by a section")
	}
	s, _, ok := common.CString(buf, 0)
	if !ok {
		return "", containerErr(shaperrors.ContainerMalformedImports, int(rva), "unterminated name")
	}
	return s, nil
}
