// Package config loads shtool.toml.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"
	"github.com/colorfulnotion/openfa/log"
	"github.com/colorfulnotion/openfa/scripting"
	"github.com/colorfulnotion/openfa/shape"
)

const FileName = "shtool.toml"

type Config struct {
	Log       Log              `toml:"log"`
	Resources Resources        `toml:"resources"`
	Cache     Cache            `toml:"cache"`
	VM        VM               `toml:"vm"`
	Draw      shape.DrawState  `toml:"draw"`
	Values    map[string]int64 `toml:"values"`

	// Dir is the directory holding the config file; relative paths are
	// resolved against it. Empty for Default().
	Dir string `toml:"-"`
}

type Log struct {
	Level   string   `toml:"level"`
	Modules []string `toml:"modules"`
}

type Resources struct {
	Dir string `toml:"dir"`
}

type Cache struct {
	Path    string `toml:"path"`
	Workers int    `toml:"workers"`
}

type VM struct {
	// StepBudget bounds the instructions one session may execute; 0 is
	// unbounded.
	StepBudget uint64 `toml:"step_budget"`
	// Script is a JavaScript file of extra handlers.
	Script string `toml:"script"`
}

func Default() *Config {
	return &Config{
		Log:   Log{Level: "info"},
		Cache: Cache{Workers: 4},
		VM:    VM{StepBudget: 1 << 20},
		Draw:  shape.DefaultDrawState(),
	}
}

// Load parses the file at path over Default().
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	c := Default()
	md, err := toml.Decode(string(data), c)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%s: unknown keys %v", path, undecoded)
	}
	c.Dir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// FindAndLoad looks for FileName in dir and its parents. It returns
// Default() when there is none.
func FindAndLoad(dir string) (*Config, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return Default(), nil
		}
		dir = parent
	}
}

func (c *Config) Validate() error {
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	known := make(map[string]bool)
	for _, m := range log.KnownModules() {
		known[m] = true
	}
	for _, m := range c.Log.Modules {
		if !known[m] {
			return fmt.Errorf("unknown log module %q", m)
		}
	}
	if c.Cache.Workers < 0 {
		return fmt.Errorf("cache.workers must not be negative")
	}
	for name, v := range c.Values {
		if v < -(1<<31) || v > 1<<32-1 {
			return fmt.Errorf("values.%s = %d does not fit in 32 bits", name, v)
		}
	}
	return nil
}

// Path resolves p against the config directory.
func (c *Config) Path(p string) string {
	if p == "" || filepath.IsAbs(p) || c.Dir == "" {
		return p
	}
	return filepath.Join(c.Dir, p)
}

// InitLogging installs the root logger and enables the configured modules.
func (c *Config) InitLogging(w io.Writer) error {
	if err := log.InitLoggerTo(w, c.Log.Level); err != nil {
		return err
	}
	for _, m := range c.Log.Modules {
		log.EnableModule(m)
	}
	return nil
}

// Registry is the default registry with the configured value overrides and
// script handlers applied, in that order.
func (c *Config) Registry(scriptOut io.Writer) (*shape.Registry, error) {
	reg := shape.DefaultRegistry().Clone()
	names := make([]string, 0, len(c.Values))
	for n := range c.Values {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		v := uint32(c.Values[n])
		reg.RegisterValue(n, func(*shape.DrawState) uint32 { return v })
	}
	if c.VM.Script != "" {
		e := scripting.New(scriptOut)
		if err := e.RunFile(c.Path(c.VM.Script)); err != nil {
			return nil, err
		}
		e.Install(reg)
	}
	return reg, nil
}

// DrawState returns a copy of the configured state.
func (c *Config) DrawState() *shape.DrawState {
	s := c.Draw
	return &s
}
