package interpreter

import (
	"errors"
	"fmt"

	"github.com/colorfulnotion/openfa/log"
	"github.com/colorfulnotion/openfa/shaperrors"
	"github.com/colorfulnotion/openfa/x86"
)

const (
	DefaultStackBase uint32 = 0xBF000000
	DefaultStackSize        = 0x4000
)

type State uint8

const (
	StateReady State = iota
	StateRunning
	StateHalted
	StateSuspended
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateHalted:
		return "halted"
	case StateSuspended:
		return "suspended"
	case StateFaulted:
		return "faulted"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

type ExitKind uint8

const (
	ExitOutOfInstructions ExitKind = iota
	ExitTrampoline
)

// ExitInfo describes why Interpret returned. For trampoline exits the caller
// sets any return registers and calls Interpret(Resume) to continue.
type ExitInfo struct {
	Kind    ExitKind
	Name    string
	Args    []uint32
	Address uint32
	Resume  uint32
	// Data is set when the trampoline was read as a value rather than called.
	// Resume is then the reading instruction, so the caller has to map a
	// constant over Address before resuming.
	Data bool
}

func (e ExitInfo) String() string {
	if e.Kind == ExitOutOfInstructions {
		return "OutOfInstructions"
	}
	return fmt.Sprintf("Trampoline(%s, %#x)", e.Name, e.Args)
}

// Interpreter executes decoded instructions against a Memory. It is not safe
// for concurrent use.
type Interpreter struct {
	regs  [8]uint32
	zf    bool
	eip   uint32
	state State
	fault error

	code map[uint32]x86.Instruction
	mem  *Memory

	stackTop uint32
	budget   uint64
	steps    uint64
}

// New returns an interpreter whose stack is a writable region below
// DefaultStackBase+DefaultStackSize.
func New(mem *Memory) (*Interpreter, error) {
	if mem == nil {
		mem = NewMemory()
	}
	if err := mem.MapWritable(DefaultStackBase, make([]byte, DefaultStackSize)); err != nil {
		return nil, fmt.Errorf("map stack: %w", err)
	}
	it := &Interpreter{
		code:     make(map[uint32]x86.Instruction),
		mem:      mem,
		stackTop: DefaultStackBase + DefaultStackSize,
	}
	it.regs[x86.ESP] = it.stackTop
	return it, nil
}

func (it *Interpreter) Memory() *Memory { return it.mem }
func (it *Interpreter) State() State    { return it.state }
func (it *Interpreter) EIP() uint32     { return it.eip }
func (it *Interpreter) ZF() bool        { return it.zf }
func (it *Interpreter) Steps() uint64   { return it.steps }

// SetStepBudget bounds the number of instructions executed across all
// Interpret calls. Zero removes the bound.
func (it *Interpreter) SetStepBudget(n uint64) {
	it.budget = n
	it.steps = 0
}

// AddCode disassembles code and makes it executable at vaddr.
func (it *Interpreter) AddCode(vaddr uint32, code []byte) error {
	instrs, err := x86.Disassemble(code)
	if err != nil {
		return fmt.Errorf("add code at 0x%08X: %w", vaddr, err)
	}
	for _, in := range instrs {
		it.code[vaddr+uint32(in.Offset)] = in
	}
	log.Debug(log.VMModule, "AddCode", "vaddr", fmt.Sprintf("0x%08X", vaddr), "instructions", len(instrs))
	return nil
}

// InstructionAt returns the instruction mapped at vaddr.
func (it *Interpreter) InstructionAt(vaddr uint32) (x86.Instruction, bool) {
	in, ok := it.code[vaddr]
	return in, ok
}

func (it *Interpreter) Reg(r x86.Reg) uint32 {
	v := it.regs[r.Full()]
	if r == x86.AX {
		return v & 0xFFFF
	}
	return v
}

func (it *Interpreter) SetReg(r x86.Reg, v uint32) {
	if r == x86.AX {
		it.regs[x86.EAX] = it.regs[x86.EAX]&0xFFFF0000 | v&0xFFFF
		return
	}
	it.regs[r] = v
}

func (it *Interpreter) Push(v uint32) error {
	esp := it.regs[x86.ESP] - 4
	if err := it.mem.Write(esp, 32, v); err != nil {
		return err
	}
	it.regs[x86.ESP] = esp
	return nil
}

func (it *Interpreter) Pop() (uint32, error) {
	esp := it.regs[x86.ESP]
	v, err := it.mem.Read(esp, 32)
	if err != nil {
		return 0, err
	}
	it.regs[x86.ESP] = esp + 4
	return v, nil
}

// DropArgs discards n stack dwords, as a callee-cleanup function would.
func (it *Interpreter) DropArgs(n int) {
	it.regs[x86.ESP] += uint32(4 * n)
}

// StackArgs reads n dwords upward from ESP.
func (it *Interpreter) StackArgs(n int) ([]uint32, error) {
	args := make([]uint32, n)
	for i := range args {
		v, err := it.mem.Read(it.regs[x86.ESP]+uint32(4*i), 32)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return args, nil
}

func (it *Interpreter) stackEmpty() bool { return it.regs[x86.ESP] >= it.stackTop }

func (it *Interpreter) faulted(err error) (ExitInfo, error) {
	it.state = StateFaulted
	it.fault = err
	log.Debug(log.VMModule, "fault", "eip", fmt.Sprintf("0x%08X", it.eip), "err", err)
	return ExitInfo{}, err
}

func (it *Interpreter) suspend(addr, resume uint32, t Trampoline, data bool) (ExitInfo, error) {
	args, err := it.StackArgs(t.Arity)
	if err != nil {
		return it.faulted(err)
	}
	it.state = StateSuspended
	it.eip = resume
	log.Trace(log.VMModule, "trampoline", "name", t.Name, "args", args, "resume", fmt.Sprintf("0x%08X", resume))
	return ExitInfo{Kind: ExitTrampoline, Name: t.Name, Args: args, Address: addr, Resume: resume, Data: data}, nil
}

// Interpret runs from entry until the program falls off mapped code, returns
// with an empty stack, or reaches a trampoline.
func (it *Interpreter) Interpret(entry uint32) (ExitInfo, error) {
	if it.state == StateFaulted {
		return ExitInfo{}, fmt.Errorf("interpreter faulted earlier: %w", it.fault)
	}
	it.state = StateRunning
	it.eip = entry
	for {
		if t, ok := it.mem.TrampolineAt(it.eip); ok {
			// Reached by a jump or return: [ESP] is the return address.
			addr := it.eip
			var resume uint32
			if !it.stackEmpty() {
				ret, err := it.Pop()
				if err != nil {
					return it.faulted(err)
				}
				resume = ret
			}
			return it.suspend(addr, resume, t, false)
		}
		in, ok := it.code[it.eip]
		if !ok {
			it.state = StateHalted
			log.Trace(log.VMModule, "out of instructions", "eip", fmt.Sprintf("0x%08X", it.eip))
			return ExitInfo{Kind: ExitOutOfInstructions}, nil
		}
		if it.budget > 0 && it.steps >= it.budget {
			return it.faulted(fmt.Errorf("%w after %d steps", shaperrors.ErrStepBudgetExhausted, it.steps))
		}
		it.steps++
		exit, done, err := it.step(in)
		if err != nil {
			var tr *errTrampolineRead
			if errors.As(err, &tr) {
				return it.suspend(tr.addr, it.eip, Trampoline{Name: tr.t.Name}, true)
			}
			return it.faulted(err)
		}
		if done {
			return exit, nil
		}
	}
}

func (it *Interpreter) address(m x86.MemRef) uint32 {
	addr := uint32(m.Displacement)
	if m.HasBase {
		addr += it.regs[m.Base]
	}
	if m.HasIndex {
		addr += it.regs[m.Index] * uint32(m.Scale)
	}
	return addr
}

func (it *Interpreter) get(o x86.Operand) (uint32, error) {
	switch o.Kind {
	case x86.OpRegister:
		return it.Reg(o.Reg), nil
	case x86.OpMemory:
		return it.mem.Read(it.address(o.Mem), o.Width)
	default:
		return o.Imm, nil
	}
}

func (it *Interpreter) set(o x86.Operand, v uint32) error {
	switch o.Kind {
	case x86.OpRegister:
		it.SetReg(o.Reg, v)
		return nil
	case x86.OpMemory:
		return it.mem.Write(it.address(o.Mem), o.Width, v)
	default:
		return fmt.Errorf("store to immediate operand")
	}
}

func mask(v uint32, width int) uint32 {
	if width == 16 {
		return v & 0xFFFF
	}
	return v
}

// step executes one instruction. done reports an exit.
func (it *Interpreter) step(in x86.Instruction) (ExitInfo, bool, error) {
	log.Trace(log.VMModule, "step", "eip", fmt.Sprintf("0x%08X", it.eip), "instr", in.String())
	next := it.eip + uint32(in.Len)
	ops := in.Operands
	switch in.Mnemonic {
	case x86.Move:
		v, err := it.get(ops[1])
		if err != nil {
			return ExitInfo{}, false, err
		}
		if err := it.set(ops[0], v); err != nil {
			return ExitInfo{}, false, err
		}

	case x86.Add:
		a, err := it.get(ops[0])
		if err != nil {
			return ExitInfo{}, false, err
		}
		b, err := it.get(ops[1])
		if err != nil {
			return ExitInfo{}, false, err
		}
		r := mask(a+b, ops[0].Width)
		it.zf = r == 0
		if err := it.set(ops[0], r); err != nil {
			return ExitInfo{}, false, err
		}

	case x86.Compare:
		a, err := it.get(ops[0])
		if err != nil {
			return ExitInfo{}, false, err
		}
		b, err := it.get(ops[1])
		if err != nil {
			return ExitInfo{}, false, err
		}
		it.zf = mask(a-b, ops[0].Width) == 0

	case x86.Sar:
		a, err := it.get(ops[0])
		if err != nil {
			return ExitInfo{}, false, err
		}
		var r uint32
		if ops[0].Width == 16 {
			r = uint32(uint16(int16(a) >> 1))
		} else {
			r = uint32(int32(a) >> 1)
		}
		it.zf = r == 0
		if err := it.set(ops[0], r); err != nil {
			return ExitInfo{}, false, err
		}

	case x86.Push:
		v, err := it.get(ops[0])
		if err != nil {
			return ExitInfo{}, false, err
		}
		if err := it.Push(v); err != nil {
			return ExitInfo{}, false, err
		}

	case x86.Pop:
		v, err := it.Pop()
		if err != nil {
			return ExitInfo{}, false, err
		}
		it.SetReg(ops[0].Reg, v)

	case x86.Jcc:
		if it.zf == in.Cond.Set {
			next += ops[0].Imm
		}

	case x86.Call:
		target := next + ops[0].Imm
		if t, ok := it.mem.TrampolineAt(target); ok {
			exit, err := it.suspend(target, next, t, false)
			return exit, true, err
		}
		if err := it.Push(next); err != nil {
			return ExitInfo{}, false, err
		}
		next = target

	case x86.Return:
		if it.stackEmpty() {
			it.state = StateHalted
			return ExitInfo{Kind: ExitOutOfInstructions}, true, nil
		}
		ret, err := it.Pop()
		if err != nil {
			return ExitInfo{}, false, err
		}
		next = ret

	default:
		return ExitInfo{}, false, fmt.Errorf("no semantics for %s", in.Mnemonic)
	}
	it.eip = next
	return ExitInfo{}, false, nil
}
