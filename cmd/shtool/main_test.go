package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/colorfulnotion/openfa/config"
	"github.com/colorfulnotion/openfa/shape"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFixture(t *testing.T, dir string) string {
	t.Helper()
	data, err := shape.SampleBuilder().Build()
	require.NoError(t, err)
	p := filepath.Join(dir, "SAMPLE.SH")
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	cfg = config.Default()
	noColor = true
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCommands(t *testing.T) {
	dir := t.TempDir()
	path := writeFixture(t, dir)

	t.Run("dump", func(t *testing.T) {
		out, err := execute(t, newDumpCmd(), path)
		require.NoError(t, err)
		assert.Contains(t, out, "X86Code")
		assert.Contains(t, out, "UnmaskWithTransform")
	})

	t.Run("dump json then diff", func(t *testing.T) {
		out, err := execute(t, newDumpCmd(), "--json", path)
		require.NoError(t, err)
		golden := filepath.Join(dir, "golden.json")
		require.NoError(t, os.WriteFile(golden, []byte(out), 0o644))

		out, err = execute(t, newDiffCmd(), path, golden)
		require.NoError(t, err)
		assert.Equal(t, "identical\n", out)
	})

	t.Run("disasm verify", func(t *testing.T) {
		out, err := execute(t, newDisasmCmd(), "--verify", path)
		require.NoError(t, err)
		assert.Contains(t, out, "call")
		assert.Contains(t, out, "; 0 mismatches against x86asm")
	})

	t.Run("run", func(t *testing.T) {
		out, err := execute(t, newRunCmd(), path)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(out, "SAMPLE.SH: 3 triangles"), out)
		assert.Contains(t, out, "calls: @HardpointAngle@4")
	})

	t.Run("run at sample detail", func(t *testing.T) {
		out, err := execute(t, newRunCmd(), "--detail", "2", path)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(out, "SAMPLE.SH: 2 triangles"), out)
	})

	t.Run("scan", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "BROKEN.SH"), []byte("MZ"), 0o644))
		out, err := execute(t, newScanCmd(), dir)
		require.NoError(t, err)
		assert.Contains(t, out, "2 files, 1 failed, 0 from cache")
	})

	t.Run("stats chart", func(t *testing.T) {
		chart := filepath.Join(t.TempDir(), "tags.html")
		out, err := execute(t, newStatsCmd(), "--chart", chart, dir)
		require.NoError(t, err)
		assert.Contains(t, out, "Facet")
		html, err := os.ReadFile(chart)
		require.NoError(t, err)
		assert.Contains(t, string(html), "SH record tags")
	})

	t.Run("fixture", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "OUT.SH")
		_, err := execute(t, newFixtureCmd(), out)
		require.NoError(t, err)
		a, _ := os.ReadFile(out)
		b, _ := os.ReadFile(path)
		assert.Equal(t, b, a)
	})
}
