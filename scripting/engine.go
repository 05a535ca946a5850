// Package scripting lets JavaScript files supply trampoline handlers and
// symbol values for shape sessions.
//
//	call("@HardpointAngle@4", function(c) { return c.state.hardpoint_angle * 2 })
//	value("_PLgearPos", function(state) { return state.gear_down ? 18 : 0 })
//	value("_lowMemory", 1)
//
// Handlers see the DrawState with its toml field names.
package scripting

import (
	"fmt"
	"io"
	"os"

	"github.com/colorfulnotion/openfa/log"
	"github.com/colorfulnotion/openfa/shape"
	"github.com/dop251/goja"
	"golang.org/x/exp/slices"
)

// Engine is a goja runtime plus the bindings its scripts declared. It is not
// safe for concurrent use; give each goroutine its own Engine.
type Engine struct {
	vm       *goja.Runtime
	out      io.Writer
	bindings map[string]shape.Binding
}

func New(out io.Writer) *Engine {
	if out == nil {
		out = io.Discard
	}
	e := &Engine{vm: goja.New(), out: out, bindings: make(map[string]shape.Binding)}
	e.vm.SetFieldNameMapper(goja.TagFieldNameMapper("toml", true))
	e.vm.Set("print", func(args ...goja.Value) {
		for i, a := range args {
			if i > 0 {
				fmt.Fprint(e.out, " ")
			}
			fmt.Fprint(e.out, a.Export())
		}
		fmt.Fprintln(e.out)
	})
	e.vm.Set("call", e.declareCall)
	e.vm.Set("value", e.declareValue)
	return e
}

func (e *Engine) Runtime() *goja.Runtime { return e.vm }

func (e *Engine) declareCall(name string, fn goja.Value) {
	f, ok := goja.AssertFunction(fn)
	if !ok {
		panic(e.vm.NewTypeError("call(%q): handler is not a function", name))
	}
	arity, cleanup := shape.CallingConvention(name)
	e.bindings[name] = shape.Binding{
		Kind:    shape.BindCall,
		Arity:   arity,
		Cleanup: cleanup,
		Handler: func(c *shape.Call) (uint32, error) {
			args := make([]interface{}, len(c.Args))
			for i, a := range c.Args {
				args[i] = int64(a)
			}
			obj := e.vm.NewObject()
			_ = obj.Set("name", c.Name)
			_ = obj.Set("args", args)
			_ = obj.Set("ecx", int64(c.ECX))
			_ = obj.Set("edx", int64(c.EDX))
			_ = obj.Set("state", c.State)
			v, err := f(goja.Undefined(), obj)
			if err != nil {
				return 0, fmt.Errorf("script handler %s: %w", name, err)
			}
			return word(v), nil
		},
	}
	log.Debug(log.VMModule, "script call handler", "name", name, "arity", arity)
}

func (e *Engine) declareValue(name string, v goja.Value) {
	if f, ok := goja.AssertFunction(v); ok {
		e.bindings[name] = shape.Binding{Kind: shape.BindValue, Value: func(s *shape.DrawState) uint32 {
			r, err := f(goja.Undefined(), e.vm.ToValue(s))
			if err != nil {
				log.Warn(log.VMModule, "script value failed", "name", name, "err", err)
				return 0
			}
			return word(r)
		}}
		return
	}
	c := word(v)
	e.bindings[name] = shape.Binding{Kind: shape.BindValue, Value: func(*shape.DrawState) uint32 { return c }}
}

// word truncates a script result to 32 bits. undefined and null are 0; true is 1.
func word(v goja.Value) uint32 {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return 0
	}
	return uint32(v.ToInteger())
}

// Run executes a script.
func (e *Engine) Run(name, src string) error {
	if _, err := e.vm.RunScript(name, src); err != nil {
		return fmt.Errorf("script %s: %w", name, err)
	}
	return nil
}

func (e *Engine) RunFile(path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return e.Run(path, string(src))
}

// Eval runs one line and renders the result, for interactive use.
func (e *Engine) Eval(line string) (string, error) {
	v, err := e.vm.RunString(line)
	if err != nil {
		return "", err
	}
	if v == nil || goja.IsUndefined(v) {
		return "", nil
	}
	return v.String(), nil
}

// Names lists the declared symbols in sorted order.
func (e *Engine) Names() []string {
	out := make([]string, 0, len(e.bindings))
	for n := range e.bindings {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// Install copies the declared bindings into reg, replacing entries with the
// same name.
func (e *Engine) Install(reg *shape.Registry) {
	for _, n := range e.Names() {
		reg.Register(n, e.bindings[n])
	}
}
