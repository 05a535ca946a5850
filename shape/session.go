package shape

import (
	"fmt"

	"github.com/colorfulnotion/openfa/log"
	"github.com/colorfulnotion/openfa/sh"
	"github.com/colorfulnotion/openfa/shaperrors"
	"github.com/colorfulnotion/openfa/x86"
	"github.com/colorfulnotion/openfa/x86/interpreter"
)

const instanceSize = 0x100

// Session owns the interpreter for one render pass over a shape. The code
// section is mapped writable at its load address, so stores made by the
// shape's x86 fragments are visible to the record walker through Code().
type Session struct {
	Shape    *sh.Shape
	Registry *Registry
	State    *DrawState

	it        *interpreter.Interpreter
	code      []byte
	writables map[string][]byte
	calls     []string
}

// NewSession builds the interpreter memory map for s: the code section, the
// instance block, every import stub bound through reg, and the instructions
// of every X86Code record.
func NewSession(s *sh.Shape, reg *Registry, state *DrawState) (*Session, error) {
	if s == nil || s.Image == nil {
		return nil, fmt.Errorf("session needs a shape with an image")
	}
	if reg == nil {
		reg = DefaultRegistry()
	}
	if state == nil {
		st := DefaultDrawState()
		state = &st
	}
	img := s.Image
	mem := interpreter.NewMemory()
	sess := &Session{
		Shape:     s,
		Registry:  reg,
		State:     state,
		code:      append([]byte(nil), img.Code...),
		writables: make(map[string][]byte),
	}
	if len(sess.code) > 0 {
		if err := mem.MapWritable(img.CodeVAddr, sess.code); err != nil {
			return nil, fmt.Errorf("map code: %w", err)
		}
	}
	if err := mem.MapWritable(InstanceBase, make([]byte, instanceSize)); err != nil {
		return nil, fmt.Errorf("map instance: %w", err)
	}

	for _, tr := range img.Trampolines() {
		b, ok := reg.Lookup(tr.Name)
		if !ok {
			log.Debug(log.VMModule, "unbound import", "name", tr.Name, "at", fmt.Sprintf("0x%08X", tr.Location))
			mem.MapTrampoline(tr.Location, interpreter.Trampoline{Name: tr.Name})
			continue
		}
		switch b.Kind {
		case BindCall:
			mem.MapTrampoline(tr.Location, interpreter.Trampoline{Name: tr.Name, Arity: b.Arity})
		case BindValue:
			mem.MapConstant(tr.Location, b.Value(state))
		case BindWritable:
			buf := b.Initial(state)
			if err := mem.MapWritable(tr.Location, buf); err != nil {
				return nil, fmt.Errorf("map %s: %w", tr.Name, err)
			}
			sess.writables[tr.Name] = buf
		}
	}

	it, err := interpreter.New(mem)
	if err != nil {
		return nil, err
	}
	for _, i := range s.X86Blocks() {
		x := s.Records[i].(*sh.X86Code)
		if err := it.AddCode(img.VAddrOf(x.CodeOffset()), x.Code); err != nil {
			return nil, fmt.Errorf("x86 block at 0x%04x: %w", x.Offset(), err)
		}
	}
	sess.it = it
	return sess, nil
}

func (s *Session) Interpreter() *interpreter.Interpreter { return s.it }

// Code is the live copy of the code section.
func (s *Session) Code() []byte { return s.code }

// Writable returns the scratch buffer bound to an import, if it was mapped.
func (s *Session) Writable(name string) ([]byte, bool) {
	b, ok := s.writables[name]
	return b, ok
}

// Calls lists the external functions called so far, in order.
func (s *Session) Calls() []string { return s.calls }

func (s *Session) SetStepBudget(n uint64) { s.it.SetStepBudget(n) }

// Run executes an X86Code record. Calls to bound functions are answered and
// resumed until the fragment hands control back through StartInterp, in which
// case next is the code offset of the record to continue at. handedBack is
// false when the fragment ran out of instructions instead.
func (s *Session) Run(x *sh.X86Code) (next int, handedBack bool, err error) {
	entry := s.Shape.Image.VAddrOf(x.CodeOffset())
	exit, err := s.it.Interpret(entry)
	for {
		if err != nil {
			return 0, false, err
		}
		if exit.Kind == interpreter.ExitOutOfInstructions {
			return 0, false, nil
		}
		if exit.Name == StartInterp && !exit.Data {
			if len(exit.Args) == 0 {
				return 0, false, fmt.Errorf("%s without a target", StartInterp)
			}
			off, ok := s.Shape.Image.OffsetOf(exit.Args[0])
			if !ok {
				return 0, false, fmt.Errorf("%s to 0x%08X outside the code section", StartInterp, exit.Args[0])
			}
			log.Trace(log.VMModule, "hand back", "offset", off)
			return off, true, nil
		}
		b, ok := s.Registry.Lookup(exit.Name)
		if !ok || b.Kind != BindCall || b.Handler == nil || exit.Data {
			return 0, false, fmt.Errorf("%w: %s", shaperrors.ErrUnhandledTrampoline, exit.Name)
		}
		c := &Call{
			Name:  exit.Name,
			Args:  exit.Args,
			ECX:   s.it.Reg(x86.ECX),
			EDX:   s.it.Reg(x86.EDX),
			State: s.State,
		}
		eax, herr := b.Handler(c)
		if herr != nil {
			return 0, false, fmt.Errorf("%s: %w", exit.Name, herr)
		}
		s.calls = append(s.calls, exit.Name)
		s.it.DropArgs(b.Cleanup)
		s.it.SetReg(x86.EAX, eax)
		exit, err = s.it.Interpret(exit.Resume)
	}
}
