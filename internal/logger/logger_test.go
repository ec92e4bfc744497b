package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zerolog.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("bogus"))
}

func TestInitWithFileWritesRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "focushist.log")
	InitWithFile("debug", false, FileConfig{Path: path})
	t.Cleanup(func() {
		require.NoError(t, Close())
		Init("info", false)
	})

	WithComponent("test").Info().Str("window", "0xabc").Msg("hello")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"test"`)
	assert.Contains(t, string(data), `"window":"0xabc"`)
}
