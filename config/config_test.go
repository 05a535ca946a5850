package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/colorfulnotion/openfa/log"
	"github.com/colorfulnotion/openfa/shape"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
[log]
level = "debug"
modules = ["sh_mod", "vm_mod"]

[resources]
dir = "game"

[cache]
path = "/var/cache/shtool"

[vm]
step_budget = 5000
script = "handlers.js"

[draw]
damaged = true
gear_down = false
frame_number = 3

[values]
_PLgearPos = 7
_lowMemory = -1
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, FileName, sampleConfig)
	writeFile(t, dir, "handlers.js", `value("_SAMcount", 9); print("loaded");`)

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, []string{log.SHModule, log.VMModule}, c.Log.Modules)
	assert.Equal(t, filepath.Join(c.Dir, "game"), c.Path(c.Resources.Dir))
	assert.Equal(t, "/var/cache/shtool", c.Path(c.Cache.Path))
	assert.Equal(t, 4, c.Cache.Workers, "default kept")
	assert.Equal(t, uint64(5000), c.VM.StepBudget)

	st := c.DrawState()
	assert.True(t, st.Damaged)
	assert.False(t, st.GearDown)
	assert.Equal(t, 3, st.FrameNumber)
	assert.Equal(t, uint16(4), st.Detail, "default kept")
	st.Detail = 1
	assert.Equal(t, uint16(4), c.Draw.Detail, "DrawState returns a copy")

	var out bytes.Buffer
	reg, err := c.Registry(&out)
	require.NoError(t, err)
	assert.Equal(t, "loaded\n", out.String())

	def := shape.DefaultDrawState()
	for name, want := range map[string]uint32{
		"_PLgearPos": 7,
		"_lowMemory": 0xFFFFFFFF,
		"_SAMcount":  9,
	} {
		b, ok := reg.Lookup(name)
		require.True(t, ok, name)
		if got := b.Value(&def); got != want {
			t.Errorf("Expected %s = %d, got %d", name, want, got)
		}
	}

	// The shared default registry is untouched.
	b, _ := shape.DefaultRegistry().Lookup("_PLgearPos")
	assert.Equal(t, uint32(18), b.Value(&def))
}

func TestLoadErrors(t *testing.T) {
	cases := map[string]string{
		"bad level":      "[log]\nlevel = \"loud\"\n",
		"unknown module": "[log]\nmodules = [\"nope\"]\n",
		"unknown key":    "[vm]\nturbo = true\n",
		"syntax":         "[log\n",
		"value range":    "[values]\n_x = 9999999999\n",
		"workers":        "[cache]\nworkers = -1\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, t.TempDir(), FileName, body))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, FileName, "[vm]\nstep_budget = 42\n")
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	c, err := FindAndLoad(nested)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), c.VM.StepBudget)

	c, err = FindAndLoad(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Default().VM.StepBudget, c.VM.StepBudget)
}

func TestMissingScript(t *testing.T) {
	c := Default()
	c.VM.Script = filepath.Join(t.TempDir(), "none.js")
	_, err := c.Registry(nil)
	assert.Error(t, err)
}

func TestInitLogging(t *testing.T) {
	c := Default()
	c.Log.Level = "info"
	var buf bytes.Buffer
	require.NoError(t, c.InitLogging(&buf))
	log.Info(log.ToolModule, "hello")
	assert.Contains(t, buf.String(), "hello")
	log.SetDefault(log.NewLogger(log.DiscardHandler()))
}
