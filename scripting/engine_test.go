package scripting

import (
	"bytes"
	"testing"

	"github.com/colorfulnotion/openfa/shape"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleScript = `
call("@HardpointAngle@4", function(c) {
	print("angle", c.name, c.args.length);
	return c.state.hardpoint_angle / 4;
});
value("_PLgearPos", function(state) { return state.gear_down ? 5 : 0; });
value("_lowMemory", 1);
`

func walkSample(t *testing.T, reg *shape.Registry) *shape.Mesh {
	t.Helper()
	s, err := shape.SampleShape()
	require.NoError(t, err)
	sess, err := shape.NewSession(s, reg, nil)
	require.NoError(t, err)
	mesh, err := shape.Walk(sess)
	require.NoError(t, err)
	return mesh
}

func TestScriptedHandlers(t *testing.T) {
	var out bytes.Buffer
	e := New(&out)
	require.NoError(t, e.Run("sample.js", sampleScript))
	assert.Equal(t, []string{"@HardpointAngle@4", "_PLgearPos", "_lowMemory"}, e.Names())

	reg := shape.DefaultRegistry().Clone()
	e.Install(reg)

	b, ok := reg.Lookup("_lowMemory")
	require.True(t, ok)
	assert.Equal(t, uint32(1), b.Value(nil))

	mesh := walkSample(t, reg)
	// t0 = 5 from the script, t2 = 256/4.
	assert.Equal(t, mgl32.Vec3{15, -30, -84}, mesh.Vertices[3].Position)
	assert.Equal(t, "angle @HardpointAngle@4 0\n", out.String())
}

func TestScriptErrors(t *testing.T) {
	t.Run("syntax", func(t *testing.T) {
		e := New(nil)
		assert.Error(t, e.Run("bad.js", "call(("))
	})

	t.Run("handler is not a function", func(t *testing.T) {
		e := New(nil)
		err := e.Run("bad.js", `call("_f@4", 3)`)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not a function")
	})

	t.Run("handler throws", func(t *testing.T) {
		e := New(nil)
		require.NoError(t, e.Run("throw.js", `call("@HardpointAngle@4", function() { throw new Error("nope"); })`))
		reg := shape.DefaultRegistry().Clone()
		e.Install(reg)

		s, err := shape.SampleShape()
		require.NoError(t, err)
		sess, err := shape.NewSession(s, reg, nil)
		require.NoError(t, err)
		_, err = shape.Walk(sess)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "nope")
	})
}

func TestEval(t *testing.T) {
	e := New(nil)
	v, err := e.Eval("1 + 2")
	require.NoError(t, err)
	assert.Equal(t, "3", v)

	v, err = e.Eval("var x = 1")
	require.NoError(t, err)
	assert.Equal(t, "", v)

	_, err = e.Eval("nosuch()")
	assert.Error(t, err)
}

func TestWord(t *testing.T) {
	e := New(nil)
	for src, want := range map[string]uint32{
		"undefined": 0,
		"null":      0,
		"true":      1,
		"-1":        0xFFFFFFFF,
		"0x1234":    0x1234,
		"7.9":       7,
	} {
		v, err := e.Runtime().RunString(src)
		require.NoError(t, err)
		if got := word(v); got != want {
			t.Errorf("Expected %s -> 0x%x, got 0x%x", src, want, got)
		}
	}
}
