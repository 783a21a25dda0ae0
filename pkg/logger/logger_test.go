package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()
	tests := map[string]zapcore.Level{
		"DEBUG":   zapcore.DebugLevel,
		"trace":   zapcore.DebugLevel,
		" warn ":  zapcore.WarnLevel,
		"WARNING": zapcore.WarnLevel,
		"ERROR":   zapcore.ErrorLevel,
		"FATAL":   zapcore.FatalLevel,
		"":        zapcore.InfoLevel,
		"verbose": zapcore.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLogLevel(in), in)
	}
}

func TestInitializeWithFallbackWritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "horae.log")
	t.Setenv("HORAE_LOG_FILE", path)

	got := InitializeWithFallback(zapcore.InfoLevel)
	require.Equal(t, path, got)

	L().Debug("file only", zap.String("k", "v"))
	Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"file only"`)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestInitializeWithFallbackWithoutWritablePath(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0600))
	t.Setenv("HORAE_LOG_FILE", filepath.Join(blocker, "horae.log"))

	assert.Empty(t, InitializeWithFallback(zapcore.InfoLevel))
	assert.NotNil(t, L())
}

func TestPlatformLogPathsEndWithTempDir(t *testing.T) {
	paths := PlatformLogPaths()
	require.NotEmpty(t, paths)
	assert.Equal(t, filepath.Join(os.TempDir(), "horae", "horae.log"), paths[len(paths)-1])
	for _, p := range paths {
		assert.NotEmpty(t, p)
	}
}

func TestGenerateTraceID(t *testing.T) {
	t.Parallel()
	id := GenerateTraceID()
	assert.Len(t, id, 8)
	assert.NotEqual(t, id, GenerateTraceID())
}
