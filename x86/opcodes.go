package x86

// AddressingMethod says where an operand is encoded.
type AddressingMethod uint8

const (
	// E: ModR/M r/m field, register or memory.
	MethodE AddressingMethod = iota
	// G: ModR/M reg field selects a general register.
	MethodG
	// I: immediate following the opcode.
	MethodI
	// J: relative offset added to the instruction pointer.
	MethodJ
	// O: absolute offset, no ModR/M.
	MethodO
	// Z: low three opcode bits select a register.
	MethodZ
	// Imp: implicit register or constant.
	MethodImp
)

// OperandType says how wide an operand is.
type OperandType uint8

const (
	// bs: byte sign-extended to the destination size.
	TypeBS OperandType = iota
	// v: word or dword by operand-size attribute.
	TypeV
	// vs: word or dword, sign-extended to the stack width.
	TypeVS
	// eAX: implicit accumulator.
	TypeEAX
	// const1: implicit constant 1.
	TypeConst1
)

type OperandDef struct {
	Method AddressingMethod
	Type   OperandType
}

// OpDef describes one opcode/extension pair.
type OpDef struct {
	Opcode   byte
	Ext      byte
	Mnemonic Mnemonic
	Cond     Condition
	Operands []OperandDef
}

type opKey struct{ op, ext byte }

var opcodeTable = make(map[opKey]*OpDef)

func registerOp(op, ext byte, m Mnemonic) *OpDef {
	d := &OpDef{Opcode: op, Ext: ext, Mnemonic: m}
	opcodeTable[opKey{op, ext}] = d
	return d
}

func (d *OpDef) Args(defs ...OperandDef) *OpDef {
	d.Operands = defs
	return d
}

func (d *OpDef) When(flag Flag, set bool) *OpDef {
	d.Cond = Condition{Flag: flag, Set: set}
	return d
}

// regInOpcode reports whether the low opcode bits carry an operand.
func (d *OpDef) regInOpcode() bool {
	for _, o := range d.Operands {
		if o.Method == MethodZ {
			return true
		}
	}
	return false
}

var (
	argEv     = OperandDef{MethodE, TypeV}
	argGv     = OperandDef{MethodG, TypeV}
	argIv     = OperandDef{MethodI, TypeV}
	argIvs    = OperandDef{MethodI, TypeVS}
	argIbs    = OperandDef{MethodI, TypeBS}
	argJbs    = OperandDef{MethodJ, TypeBS}
	argJv     = OperandDef{MethodJ, TypeV}
	argOv     = OperandDef{MethodO, TypeV}
	argZv     = OperandDef{MethodZ, TypeV}
	argEAX    = OperandDef{MethodImp, TypeEAX}
	argConst1 = OperandDef{MethodImp, TypeConst1}
)

var prefixCodes = map[byte]bool{
	0x26: true, 0x2E: true, 0x36: true, 0x3E: true,
	0x64: true, 0x65: true, 0x66: true, 0x67: true,
	0x9B: true, 0xF0: true, 0xF2: true, 0xF3: true,
}

// Opcodes whose ModR/M reg field selects the operation.
var useRegOpcodes = map[byte]bool{
	0x80: true, 0x81: true, 0x82: true, 0x83: true, 0x8F: true,
	0xC0: true, 0xC1: true, 0xC6: true, 0xC7: true,
	0xD0: true, 0xD1: true, 0xD2: true, 0xD3: true,
	0xD8: true, 0xD9: true, 0xDA: true, 0xDB: true, 0xDC: true, 0xDD: true, 0xDE: true, 0xDF: true,
	0xF6: true, 0xF7: true, 0xFE: true, 0xFF: true,
}

func init() {
	registerOp(0x58, 0, Pop).Args(argZv)
	registerOp(0x68, 0, Push).Args(argIvs)
	registerOp(0x74, 0, Jcc).When(ZF, true).Args(argJbs)
	registerOp(0x75, 0, Jcc).When(ZF, false).Args(argJbs)
	registerOp(0x81, 0, Add).Args(argEv, argIv)
	registerOp(0x83, 7, Compare).Args(argEv, argIbs)
	registerOp(0x89, 0, Move).Args(argEv, argGv)
	registerOp(0x8B, 0, Move).Args(argGv, argEv)
	registerOp(0xA1, 0, Move).Args(argEAX, argOv)
	registerOp(0xC3, 0, Return)
	registerOp(0xD1, 7, Sar).Args(argEv, argConst1)
	registerOp(0xE8, 0, Call).Args(argJv)
}

// Lookup returns the descriptor for an opcode/extension pair, falling back
// to the register-in-opcode form (op &^ 7, 0).
func Lookup(op, ext byte) (*OpDef, bool) {
	if d, ok := opcodeTable[opKey{op, ext}]; ok {
		return d, true
	}
	if d, ok := opcodeTable[opKey{op &^ 7, 0}]; ok && d.regInOpcode() {
		return d, true
	}
	return nil, false
}

// UsesModRMExtension reports whether op takes its extension from ModR/M.
func UsesModRMExtension(op byte) bool { return useRegOpcodes[op] }
