package x86

import (
	"fmt"
	"strings"
)

type Mnemonic uint8

const (
	Add Mnemonic = iota
	Call
	Compare
	Jcc
	Move
	Pop
	Push
	Return
	Sar
)

var mnemonicNames = [...]string{
	Add:     "add",
	Call:    "call",
	Compare: "cmp",
	Jcc:     "j",
	Move:    "mov",
	Pop:     "pop",
	Push:    "push",
	Return:  "ret",
	Sar:     "sar",
}

func (m Mnemonic) String() string {
	if int(m) < len(mnemonicNames) {
		return mnemonicNames[m]
	}
	return fmt.Sprintf("mnemonic(%d)", uint8(m))
}

// Flag names a bit of EFLAGS. Only ZF is modelled.
type Flag uint8

const ZF Flag = 6

// Condition is the predicate of a conditional jump: taken when Flag == Set.
type Condition struct {
	Flag Flag
	Set  bool
}

func (c Condition) String() string {
	if c.Set {
		return "z"
	}
	return "nz"
}

type Reg uint8

const (
	EAX Reg = iota
	ECX
	EDX
	EBX
	ESP
	EBP
	ESI
	EDI
	AX
)

var regNames = [...]string{"eax", "ecx", "edx", "ebx", "esp", "ebp", "esi", "edi", "ax"}

func (r Reg) String() string {
	if int(r) < len(regNames) {
		return regNames[r]
	}
	return fmt.Sprintf("reg(%d)", uint8(r))
}

// Full returns the 32-bit register r is part of.
func (r Reg) Full() Reg {
	if r == AX {
		return EAX
	}
	return r
}

// Width is 16 for AX and 32 otherwise.
func (r Reg) Width() int {
	if r == AX {
		return 16
	}
	return 32
}

// MemRef is [Base + Index*Scale + Displacement]. The decoder only produces
// absolute and base+disp8 forms; Index is kept for completeness.
type MemRef struct {
	Displacement int32
	Base         Reg
	HasBase      bool
	Index        Reg
	HasIndex     bool
	Scale        uint8
}

func (m MemRef) String() string {
	var parts []string
	if m.HasBase {
		parts = append(parts, m.Base.String())
	}
	if m.HasIndex {
		parts = append(parts, fmt.Sprintf("%s*%d", m.Index, m.Scale))
	}
	switch {
	case len(parts) == 0:
		parts = append(parts, fmt.Sprintf("0x%08x", uint32(m.Displacement)))
	case m.Displacement < 0:
		return fmt.Sprintf("[%s-0x%x]", strings.Join(parts, "+"), -int64(m.Displacement))
	case m.Displacement > 0:
		parts = append(parts, fmt.Sprintf("0x%x", m.Displacement))
	}
	return "[" + strings.Join(parts, "+") + "]"
}

type OperandKind uint8

const (
	OpRegister OperandKind = iota
	OpMemory
	OpImmediate
)

// Operand is one decoded operand. Width is the access size in bits.
type Operand struct {
	Kind   OperandKind
	Reg    Reg
	Mem    MemRef
	Imm    uint32
	Signed bool
	Width  int
}

func RegOperand(r Reg) Operand { return Operand{Kind: OpRegister, Reg: r, Width: r.Width()} }

func MemOperand(m MemRef, width int) Operand { return Operand{Kind: OpMemory, Mem: m, Width: width} }

func ImmOperand(v uint32, signed bool, width int) Operand {
	return Operand{Kind: OpImmediate, Imm: v, Signed: signed, Width: width}
}

// SImm is the immediate as a signed value.
func (o Operand) SImm() int32 { return int32(o.Imm) }

func (o Operand) String() string {
	switch o.Kind {
	case OpRegister:
		return o.Reg.String()
	case OpMemory:
		size := "dword"
		if o.Width == 16 {
			size = "word"
		}
		return size + " " + o.Mem.String()
	default:
		if o.Signed && int32(o.Imm) < 0 {
			return fmt.Sprintf("-0x%x", -int64(int32(o.Imm)))
		}
		return fmt.Sprintf("0x%x", o.Imm)
	}
}

// Instruction is one decoded instruction located at Offset in the code it was
// decoded from.
type Instruction struct {
	Mnemonic Mnemonic
	Cond     Condition
	Operands []Operand
	Opcode   byte
	Ext      byte
	Offset   int
	Len      int
}

// Next is the offset of the following instruction.
func (in Instruction) Next() int { return in.Offset + in.Len }

func (in Instruction) String() string {
	name := in.Mnemonic.String()
	if in.Mnemonic == Jcc {
		name += in.Cond.String()
	}
	if len(in.Operands) == 0 {
		return name
	}
	ops := make([]string, len(in.Operands))
	for i, o := range in.Operands {
		ops[i] = o.String()
	}
	return name + " " + strings.Join(ops, ", ")
}
