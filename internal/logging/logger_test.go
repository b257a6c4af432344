package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel(" WARN "))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("verbose"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel(""))
}

func TestNewWritesFileCore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docchat.log")
	logger := New(Options{Level: "info", FilePath: path, Quiet: true})
	logger.Info("session opened")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "session opened")
}

func TestNewQuietWithoutFileIsNop(t *testing.T) {
	logger := New(Options{Quiet: true})
	assert.False(t, logger.Core().Enabled(zapcore.ErrorLevel))
}
