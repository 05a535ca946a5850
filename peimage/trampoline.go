package peimage

import (
	"sort"

	"github.com/colorfulnotion/openfa/common"
	"github.com/colorfulnotion/openfa/log"
)

// Trampoline is an indirect jump stub (FF 25 <iat slot>) inside the code
// section. Calls and data references to Location stand for the import.
type Trampoline struct {
	Name     string
	Location uint32
	Thunk    uint32
}

// Trampolines finds the jump stubs whose operand is a relocated import
// table address.
func (img *CodeImage) Trampolines() []Trampoline {
	var out []Trampoline
	for _, r := range img.Relocs {
		off := int(r)
		if off < 2 || off > len(img.Code) || img.Code[off-2] != 0xFF || img.Code[off-1] != 0x25 {
			continue
		}
		ptr, ok := common.ReadU32(img.Code, off)
		if !ok {
			continue
		}
		th, ok := img.Thunks[ptr]
		if !ok {
			continue
		}
		out = append(out, Trampoline{Name: th.Name, Location: img.CodeVAddr + uint32(off-2), Thunk: ptr})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Location < out[j].Location })
	return out
}

// AnnotationKind classifies a relocated span for diagnostic views.
type AnnotationKind uint8

const (
	RelocatedCall AnnotationKind = iota
	RelocatedRef
	RelocationTarget
)

func (k AnnotationKind) String() string {
	switch k {
	case RelocatedCall:
		return "RelocatedCall"
	case RelocatedRef:
		return "RelocatedRef"
	case RelocationTarget:
		return "RelocationTarget"
	}
	return "Unknown"
}

// Annotation marks Length bytes at Offset in the code section.
type Annotation struct {
	Offset int
	Length int
	Kind   AnnotationKind
	Name   string
}

// Annotations tags every relocated dword. Pointers into the import table
// become RelocatedCall; everything else is a RelocatedRef plus a
// RelocationTarget at the code offset it points to, when that lies in code.
func (img *CodeImage) Annotations() []Annotation {
	var out []Annotation
	for _, r := range img.Relocs {
		off := int(r)
		ptr, ok := common.ReadU32(img.Code, off)
		if !ok {
			continue
		}
		if th, ok := img.Thunks[ptr]; ok {
			out = append(out, Annotation{Offset: off, Length: 4, Kind: RelocatedCall, Name: th.Name})
			continue
		}
		out = append(out, Annotation{Offset: off, Length: 4, Kind: RelocatedRef})
		if target, ok := img.OffsetOf(ptr); ok {
			out = append(out, Annotation{Offset: target, Length: 2, Kind: RelocationTarget})
		} else {
			log.Trace(log.PEModule, "relocation points outside code", "offset", off, "ptr", ptr)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	return out
}
