package logger

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestInit_WithFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "mid.log")

	err := Init(&Config{Level: "debug", Format: "json", ServiceName: "chainmmo-mid", File: file})
	require.NoError(t, err)

	assert.True(t, L().Core().Enabled(zapcore.DebugLevel))
	Info("hello", zap.String("k", "v"))
	_ = Sync()

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	line := string(data)
	assert.Contains(t, line, `"service":"chainmmo-mid"`)
	assert.Contains(t, line, `"k":"v"`)
	// caller 指向调用方而不是 logger 包
	assert.Contains(t, line, "logger_test.go")
	assert.False(t, strings.Contains(line, "logger/logger.go"))
}

func TestInit_InvalidLevelFallsBackToInfo(t *testing.T) {
	require.NoError(t, Init(&Config{Level: "verbose", ServiceName: "test"}))
	assert.True(t, L().Core().Enabled(zapcore.InfoLevel))
	assert.False(t, L().Core().Enabled(zapcore.DebugLevel))

	require.NoError(t, Init(&Config{Level: "error", ServiceName: "test"}))
	assert.False(t, L().Core().Enabled(zapcore.WarnLevel))
}

func TestContextLogger(t *testing.T) {
	file := filepath.Join(t.TempDir(), "ctx.log")
	require.NoError(t, Init(&Config{Level: "info", ServiceName: "test", File: file}))

	ctx := NewContext(context.Background(), zap.String("trace_id", "t-1"))
	ctx = NewContext(ctx, zap.String("action_id", "a-1"))
	Ctx(ctx).Info("claimed")
	Ctx(context.Background()).Info("plain")
	_ = Sync()

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"trace_id":"t-1"`)
	assert.Contains(t, lines[0], `"action_id":"a-1"`)
	assert.NotContains(t, lines[1], "trace_id")
}

func TestOrDefault(t *testing.T) {
	assert.Equal(t, 7, orDefault(0, 7))
	assert.Equal(t, 3, orDefault(3, 7))
}
