package log

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]string{"trace": "trace", "DEBUG": "debug", "warning": "warn", "crit": "crit"} {
		lvl, err := ParseLevel(in)
		require.NoError(t, err)
		assert.Equal(t, want, LevelString(lvl))
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestModuleGating(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, InitLoggerTo(&buf, "trace"))
	defer SetDefault(NewLogger(DiscardHandler()))

	Debug(SHModule, "hidden record")
	if buf.Len() != 0 {
		t.Errorf("Expected no output for disabled module, got %q", buf.String())
	}

	EnableModule(SHModule)
	defer DisableModule(SHModule)
	Trace(SHModule, "visible record", "tag", 0xFC)
	out := buf.String()
	assert.True(t, strings.Contains(out, "visible record"), out)
	assert.True(t, strings.Contains(out, "module=sh_mod"), out)
	assert.True(t, strings.Contains(out, "level=trace"), out)

	buf.Reset()
	Warn(VMModule, "always shown")
	assert.Contains(t, buf.String(), "level=warn")
}
