package interpreter

import (
	"encoding/binary"
	"fmt"

	"github.com/colorfulnotion/openfa/shaperrors"
)

// Trampoline is an external symbol the interpreter yields on instead of
// executing.
type Trampoline struct {
	Name  string
	Arity int
}

type region struct {
	base uint32
	data []byte
}

func (r *region) contains(addr uint32, n int) bool {
	return addr >= r.base && uint64(addr)+uint64(n) <= uint64(r.base)+uint64(len(r.data))
}

// Memory is a sparse map from virtual address to a constant word, a
// trampoline, or a writable byte region. Constants and trampolines live at
// exact addresses and shadow any region underneath them. Where regions
// overlap the one mapped last wins.
type Memory struct {
	constants   map[uint32]uint32
	trampolines map[uint32]Trampoline
	regions     []*region
}

func NewMemory() *Memory {
	return &Memory{
		constants:   make(map[uint32]uint32),
		trampolines: make(map[uint32]Trampoline),
	}
}

// MapConstant maps a read-only word, replacing any trampoline at addr.
func (m *Memory) MapConstant(addr, value uint32) {
	delete(m.trampolines, addr)
	m.constants[addr] = value
}

// MapTrampoline maps an external symbol, replacing any constant at addr.
func (m *Memory) MapTrampoline(addr uint32, t Trampoline) {
	delete(m.constants, addr)
	m.trampolines[addr] = t
}

// MapWritable maps data at base. The slice is used in place, so writes by the
// program are visible to the caller.
func (m *Memory) MapWritable(base uint32, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("empty region at 0x%08X", base)
	}
	if uint64(base)+uint64(len(data)) > 1<<32 {
		return fmt.Errorf("region at 0x%08X of %d bytes wraps the address space", base, len(data))
	}
	m.regions = append(m.regions, &region{base: base, data: data})
	return nil
}

// TrampolineAt returns the trampoline mapped at addr.
func (m *Memory) TrampolineAt(addr uint32) (Trampoline, bool) {
	t, ok := m.trampolines[addr]
	return t, ok
}

func (m *Memory) ConstantAt(addr uint32) (uint32, bool) {
	v, ok := m.constants[addr]
	return v, ok
}

// Region returns the writable bytes that hold [addr, addr+n).
func (m *Memory) Region(addr uint32, n int) ([]byte, bool) {
	r := m.find(addr, n)
	if r == nil {
		return nil, false
	}
	off := addr - r.base
	return r.data[off : off+uint32(n)], true
}

func (m *Memory) find(addr uint32, n int) *region {
	for i := len(m.regions) - 1; i >= 0; i-- {
		if m.regions[i].contains(addr, n) {
			return m.regions[i]
		}
	}
	return nil
}

// errTrampolineRead is returned by Read when the address is a trampoline.
type errTrampolineRead struct {
	addr uint32
	t    Trampoline
}

func (e *errTrampolineRead) Error() string {
	return fmt.Sprintf("read of trampoline %s at 0x%08X", e.t.Name, e.addr)
}

// Read loads width bits (16 or 32) from addr.
func (m *Memory) Read(addr uint32, width int) (uint32, error) {
	if t, ok := m.trampolines[addr]; ok {
		return 0, &errTrampolineRead{addr: addr, t: t}
	}
	if v, ok := m.constants[addr]; ok {
		if width == 16 {
			return v & 0xFFFF, nil
		}
		return v, nil
	}
	b, ok := m.Region(addr, width/8)
	if !ok {
		return 0, &shaperrors.MemoryError{Err: shaperrors.ErrUnmappedMemoryAccess, Address: addr}
	}
	if width == 16 {
		return uint32(binary.LittleEndian.Uint16(b)), nil
	}
	return binary.LittleEndian.Uint32(b), nil
}

// Write stores width bits (16 or 32) at addr.
func (m *Memory) Write(addr uint32, width int, value uint32) error {
	if _, ok := m.trampolines[addr]; ok {
		return &shaperrors.MemoryError{Err: shaperrors.ErrWriteToReadOnlyOrTrampoline, Address: addr, Write: true}
	}
	if _, ok := m.constants[addr]; ok {
		return &shaperrors.MemoryError{Err: shaperrors.ErrWriteToReadOnlyOrTrampoline, Address: addr, Write: true}
	}
	b, ok := m.Region(addr, width/8)
	if !ok {
		return &shaperrors.MemoryError{Err: shaperrors.ErrUnmappedMemoryAccess, Address: addr, Write: true}
	}
	if width == 16 {
		binary.LittleEndian.PutUint16(b, uint16(value))
	} else {
		binary.LittleEndian.PutUint32(b, value)
	}
	return nil
}
