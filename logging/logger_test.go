package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockberries/promiseberry/types"
)

func TestNewTextLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewTextLogger(&buf, slog.LevelInfo)

	logger.Info("hello", "key", "value")

	out := buf.String()
	assert.Contains(t, out, "hello")
	assert.Contains(t, out, "key=value")
}

func TestNewJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, slog.LevelInfo)

	logger.Info("hello", "key", "value")

	out := buf.String()
	assert.Contains(t, out, `"msg":"hello"`)
	assert.Contains(t, out, `"key":"value"`)
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewTextLogger(&buf, slog.LevelWarn)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	out := buf.String()
	assert.NotContains(t, out, "debug message")
	assert.NotContains(t, out, "info message")
	assert.Contains(t, out, "warn message")
	assert.Contains(t, out, "error message")
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewTextLogger(&buf, slog.LevelInfo).WithComponent("engine")

	logger.Info("started")

	assert.Contains(t, buf.String(), "component=engine")
}

func TestWithPromise(t *testing.T) {
	var buf bytes.Buffer
	id := types.DerivePromiseID("chain-a", 1, "target", "selector", nil)
	logger := NewTextLogger(&buf, slog.LevelInfo).WithPromise(id)

	logger.Info("settled")

	assert.Contains(t, buf.String(), "promise="+id.Short())
}

func TestPromiseAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewTextLogger(&buf, slog.LevelInfo)
	id := types.DerivePromiseID("chain-a", 7, "t", "s", nil)

	logger.Info("event",
		Origin("chain-a"),
		Status(types.StatusResolved),
		Depth(3),
		Nonce(7),
		Chained(id),
	)

	out := buf.String()
	assert.Contains(t, out, "origin=chain-a")
	assert.Contains(t, out, "status=resolved")
	assert.Contains(t, out, "depth=3")
	assert.Contains(t, out, "nonce=7")
	assert.Contains(t, out, "chained="+id.Short())
}

func TestNopLogger(t *testing.T) {
	logger := NewNopLogger()
	require.NotNil(t, logger)

	// Must not panic and must produce nothing observable.
	logger.Info("discarded")
	logger.Error("discarded", Error(assert.AnError))
}

func TestErrorAttr(t *testing.T) {
	var buf bytes.Buffer
	logger := NewTextLogger(&buf, slog.LevelInfo)

	logger.Error("failed", Error(assert.AnError))

	assert.True(t, strings.Contains(buf.String(), "error="))
}
