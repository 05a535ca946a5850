package x86

import (
	"fmt"

	"github.com/colorfulnotion/openfa/common"
	"github.com/colorfulnotion/openfa/log"
	"github.com/colorfulnotion/openfa/shaperrors"
)

// Prefix records the prefixes that change decoding.
type Prefix struct {
	OperandSize bool // 0x66
	AddressSize bool // 0x67
}

func readPrefix(code []byte, ip *int) Prefix {
	var p Prefix
	for *ip < len(code) && prefixCodes[code[*ip]] {
		switch code[*ip] {
		case 0x66:
			p.OperandSize = true
		case 0x67:
			p.AddressSize = true
		}
		*ip++
	}
	return p
}

func modrm(b byte) (mod, reg, rm byte) {
	return b >> 6, (b >> 3) & 7, b & 7
}

type decodeState struct {
	start    int
	prefix   Prefix
	op       byte
	modrm    byte
	hasModRM bool
}

func (st *decodeState) truncated(ip int, phase string) error {
	return &shaperrors.DecodeError{Err: shaperrors.ErrTruncatedInstruction, Offset: ip, Opcode: st.op, Phase: phase}
}

func (st *decodeState) unsupported() error {
	return &shaperrors.DecodeError{Err: shaperrors.ErrUnsupportedAddressingForm, Offset: st.start, Opcode: st.op}
}

func (st *decodeState) readModRM(code []byte, ip *int) (mod, reg, rm byte, err error) {
	if !st.hasModRM {
		if *ip >= len(code) {
			return 0, 0, 0, st.truncated(*ip, "op read modrm")
		}
		st.modrm = code[*ip]
		st.hasModRM = true
		*ip++
	}
	mod, reg, rm = modrm(st.modrm)
	return mod, reg, rm, nil
}

func (st *decodeState) read1(code []byte, ip *int) (byte, error) {
	b, ok := common.ReadU8(code, *ip)
	if !ok {
		return 0, st.truncated(*ip, "op read 1")
	}
	*ip++
	return b, nil
}

func (st *decodeState) read2(code []byte, ip *int) (uint16, error) {
	w, ok := common.ReadU16(code, *ip)
	if !ok {
		return 0, st.truncated(*ip, "op read 2")
	}
	*ip += 2
	return w, nil
}

func (st *decodeState) read4(code []byte, ip *int) (uint32, error) {
	d, ok := common.ReadU32(code, *ip)
	if !ok {
		return 0, st.truncated(*ip, "op read 4")
	}
	*ip += 4
	return d, nil
}

// readV reads a word or dword by operand size. Words are sign-extended when
// signed is set.
func (st *decodeState) readV(code []byte, ip *int, signed bool) (Operand, error) {
	if st.prefix.OperandSize {
		w, err := st.read2(code, ip)
		if err != nil {
			return Operand{}, err
		}
		if signed {
			return ImmOperand(uint32(int32(int16(w))), true, 16), nil
		}
		return ImmOperand(uint32(w), false, 16), nil
	}
	d, err := st.read4(code, ip)
	if err != nil {
		return Operand{}, err
	}
	return ImmOperand(d, signed, 32), nil
}

func (st *decodeState) width() int {
	if st.prefix.OperandSize {
		return 16
	}
	return 32
}

func (st *decodeState) register(n byte) (Reg, error) {
	r := Reg(n)
	if !st.prefix.OperandSize {
		return r, nil
	}
	if r == EAX {
		return AX, nil
	}
	return 0, st.unsupported()
}

func (st *decodeState) operand(code []byte, ip *int, def OperandDef) (Operand, error) {
	switch def.Method {
	case MethodE:
		mod, _, rm, err := st.readModRM(code, ip)
		if err != nil {
			return Operand{}, err
		}
		switch {
		case mod == 0 && rm == 5:
			if st.prefix.AddressSize {
				return Operand{}, st.unsupported()
			}
			d, err := st.read4(code, ip)
			if err != nil {
				return Operand{}, err
			}
			return MemOperand(MemRef{Displacement: int32(d), Scale: 1}, st.width()), nil
		case mod == 1 && rm != 4:
			b, err := st.read1(code, ip)
			if err != nil {
				return Operand{}, err
			}
			return MemOperand(MemRef{Displacement: int32(int8(b)), Base: Reg(rm), HasBase: true, Scale: 1}, st.width()), nil
		case mod == 3:
			r, err := st.register(rm)
			if err != nil {
				return Operand{}, err
			}
			return RegOperand(r), nil
		}
		return Operand{}, st.unsupported()

	case MethodG:
		_, reg, _, err := st.readModRM(code, ip)
		if err != nil {
			return Operand{}, err
		}
		r, err := st.register(reg)
		if err != nil {
			return Operand{}, err
		}
		return RegOperand(r), nil

	case MethodI, MethodJ:
		switch def.Type {
		case TypeBS:
			b, err := st.read1(code, ip)
			if err != nil {
				return Operand{}, err
			}
			return ImmOperand(uint32(int32(int8(b))), true, 32), nil
		case TypeV:
			return st.readV(code, ip, def.Method == MethodJ)
		case TypeVS:
			return st.readV(code, ip, true)
		}

	case MethodO:
		d, err := st.read4(code, ip)
		if err != nil {
			return Operand{}, err
		}
		return MemOperand(MemRef{Displacement: int32(d), Scale: 1}, st.width()), nil

	case MethodZ:
		return RegOperand(Reg(st.op & 7)), nil

	case MethodImp:
		switch def.Type {
		case TypeEAX:
			r, err := st.register(byte(EAX))
			if err != nil {
				return Operand{}, err
			}
			return RegOperand(r), nil
		case TypeConst1:
			return ImmOperand(1, false, 32), nil
		}
	}
	panic(fmt.Sprintf("x86: bad operand definition %+v", def))
}

// DecodeOne decodes the instruction at *ip and advances *ip past it.
func DecodeOne(code []byte, ip *int) (Instruction, error) {
	start := *ip
	prefix := readPrefix(code, ip)
	st := &decodeState{start: start, prefix: prefix}

	if *ip >= len(code) {
		return Instruction{}, st.truncated(*ip, "read_op")
	}
	op := code[*ip]
	st.op = op
	*ip++
	var ext byte
	if UsesModRMExtension(op) {
		if *ip >= len(code) {
			return Instruction{}, st.truncated(*ip, "decode_op_ext")
		}
		_, ext, _ = modrm(code[*ip])
	}

	def, ok := Lookup(op, ext)
	if !ok {
		return Instruction{}, &shaperrors.DecodeError{Err: shaperrors.ErrUnknownOpcode, Offset: start, Opcode: op, Ext: ext}
	}

	in := Instruction{Mnemonic: def.Mnemonic, Cond: def.Cond, Opcode: op, Ext: ext, Offset: start}
	for _, od := range def.Operands {
		o, err := st.operand(code, ip, od)
		if err != nil {
			return Instruction{}, err
		}
		in.Operands = append(in.Operands, o)
	}
	in.Len = *ip - start
	return in, nil
}

// Disassemble decodes code from the start until it is exhausted. Nothing is
// returned for a stream that fails part way.
func Disassemble(code []byte) ([]Instruction, error) {
	var out []Instruction
	ip := 0
	for ip < len(code) {
		in, err := DecodeOne(code, &ip)
		if err != nil {
			return nil, err
		}
		log.Trace(log.X86Module, "decoded", "offset", in.Offset, "instr", in.String())
		out = append(out, in)
	}
	return out, nil
}
