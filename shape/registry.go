package shape

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/exp/slices"
)

// StartInterp is the symbol shape code jumps to when it hands control back
// to the record stream. Its single argument is the address of the next record.
const StartInterp = "do_start_interp"

// InstanceBase is where the per-instance block brentObjId points at.
const InstanceBase uint32 = 0x4000

type BindingKind uint8

const (
	// BindCall: the symbol is a function; the session calls Handler.
	BindCall BindingKind = iota
	// BindValue: the symbol is a read-only word computed from the DrawState.
	BindValue
	// BindWritable: the symbol is scratch memory the program may update.
	BindWritable
)

func (k BindingKind) String() string {
	switch k {
	case BindCall:
		return "call"
	case BindValue:
		return "value"
	case BindWritable:
		return "writable"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Call is one invocation of an external function from shape code.
type Call struct {
	Name  string
	Args  []uint32
	ECX   uint32
	EDX   uint32
	State *DrawState
}

// Handler returns the value left in EAX.
type Handler func(c *Call) (uint32, error)

type Binding struct {
	Kind BindingKind
	// Arity is the number of stack dwords reported as arguments.
	Arity int
	// Cleanup is the number of stack dwords the callee pops.
	Cleanup int
	Handler Handler
	Value   func(s *DrawState) uint32
	Initial func(s *DrawState) []byte
}

// Registry maps import names to bindings. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	bindings map[string]Binding
}

func NewRegistry() *Registry {
	return &Registry{bindings: make(map[string]Binding)}
}

func (r *Registry) Register(name string, b Binding) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[name] = b
}

// RegisterCall binds a function, deriving stack arity and cleanup from the
// name's decoration.
func (r *Registry) RegisterCall(name string, h Handler) {
	arity, cleanup := CallingConvention(name)
	r.Register(name, Binding{Kind: BindCall, Arity: arity, Cleanup: cleanup, Handler: h})
}

func (r *Registry) RegisterValue(name string, v func(s *DrawState) uint32) {
	r.Register(name, Binding{Kind: BindValue, Value: v})
}

func (r *Registry) RegisterWritable(name string, initial func(s *DrawState) []byte) {
	r.Register(name, Binding{Kind: BindWritable, Initial: initial})
}

func (r *Registry) Lookup(name string) (Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[name]
	return b, ok
}

// Names lists the registered symbols in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.bindings))
	for n := range r.bindings {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// Clone copies the registry so callers can override entries locally.
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := NewRegistry()
	for n, b := range r.bindings {
		c.bindings[n] = b
	}
	return c
}

// CallingConvention reads the Microsoft decoration on name. _f@N is stdcall
// with N bytes of stack arguments popped by the callee; @f@N is fastcall with
// the first two dwords in ECX and EDX. Undecorated names are cdecl with one
// argument.
func CallingConvention(name string) (arity, cleanup int) {
	at := strings.LastIndexByte(name, '@')
	if at <= 0 {
		return 1, 0
	}
	n, err := strconv.Atoi(name[at+1:])
	if err != nil || n < 0 {
		return 1, 0
	}
	words := n / 4
	if strings.HasPrefix(name, "@") {
		words -= 2
		if words < 0 {
			words = 0
		}
	}
	return words, words
}

func constant(v uint32) func(*DrawState) uint32 {
	return func(*DrawState) uint32 { return v }
}

func word(b ...byte) func(*DrawState) []byte {
	return func(*DrawState) []byte { return append([]byte(nil), b...) }
}

func handlerValue(get func(s *DrawState) uint32) Handler {
	return func(c *Call) (uint32, error) { return get(c.State), nil }
}

// DefaultRegistry binds the symbols the game's shapes import.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.Register(StartInterp, Binding{Kind: BindCall, Arity: 1})
	r.RegisterCall("@HARDNumLoaded@8", handlerValue(func(s *DrawState) uint32 { return s.HardpointsLoaded }))
	r.RegisterCall("@HardpointAngle@4", handlerValue(func(s *DrawState) uint32 { return s.HardpointAngle }))
	r.RegisterCall("_InsectWingAngle@0", handlerValue(func(s *DrawState) uint32 { return s.InsectWingAngle }))
	r.RegisterCall("_CATGUYDraw@4", handlerValue(constant(0)))

	r.RegisterValue("_currentTicks", func(s *DrawState) uint32 { return s.CurrentTicks })
	r.RegisterValue("_lowMemory", constant(0))
	r.RegisterValue("_nightHazing", constant(1))
	r.RegisterValue("_PLafterBurner", func(s *DrawState) uint32 { return boolWord(s.AfterburnerEnabled) })
	r.RegisterValue("_PLbayOpen", func(s *DrawState) uint32 { return boolWord(s.BayOpen) })
	r.RegisterValue("_PLbayDoorPos", func(s *DrawState) uint32 {
		if !s.BayOpen {
			return 0
		}
		return s.BayPosition
	})
	r.RegisterValue("_PLbrake", func(s *DrawState) uint32 { return boolWord(s.AirbrakeExtended) })
	r.RegisterValue("_PLcanardPos", constant(0))
	r.RegisterValue("_PLdead", func(s *DrawState) uint32 { return boolWord(s.Damaged) })
	r.RegisterValue("_PLgearDown", func(s *DrawState) uint32 { return boolWord(s.GearDown) })
	r.RegisterValue("_PLgearPos", func(s *DrawState) uint32 {
		if !s.GearDown {
			return 0
		}
		return s.GearPosition
	})
	r.RegisterValue("_PLhook", func(s *DrawState) uint32 { return boolWord(s.HookExtended) })
	flap := func(s *DrawState) uint32 {
		if s.FlapsDown {
			return 0xFFFFFFFF
		}
		return 0
	}
	r.RegisterValue("_PLrightFlap", flap)
	r.RegisterValue("_PLleftFlap", flap)
	r.RegisterValue("_PLrightAln", func(s *DrawState) uint32 { return uint32(s.RightAileronPosition) })
	r.RegisterValue("_PLleftAln", func(s *DrawState) uint32 { return uint32(s.LeftAileronPosition) })
	r.RegisterValue("_PLrudder", func(s *DrawState) uint32 { return uint32(s.RudderPosition) })
	r.RegisterValue("_PLslats", func(s *DrawState) uint32 { return boolWord(s.SlatsDown) })
	r.RegisterValue("_PLstate", constant(0))
	r.RegisterValue("_PLswingWing", constant(0))
	r.RegisterValue("_PLvtAngle", constant(0))
	r.RegisterValue("_PLvtOn", constant(0))
	r.RegisterValue("_SAMcount", func(s *DrawState) uint32 { return s.SAMCount })
	r.RegisterValue("brentObjId", constant(InstanceBase))

	r.RegisterWritable("_effectsAllowed", word(2, 0, 0, 0))
	r.RegisterWritable("_effects", word(2, 0, 0, 0))
	r.RegisterWritable("lighteningAllowed", word(0, 0, 0, 0))
	r.RegisterWritable("mapAdj", word(0, 0, 0, 0))
	r.RegisterWritable("_v", func(*DrawState) []byte {
		v := make([]byte, 0x100)
		v[0x8F] = 1
		return v
	})
	return r
}
