package logx

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

// syncBuffer adapts bytes.Buffer to zapcore.WriteSyncer for capture in tests.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Sync() error { return nil }

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func captureOutput(t *testing.T) *syncBuffer {
	t.Helper()
	buf := &syncBuffer{}
	SetOutput(buf)
	t.Cleanup(func() { SetOutput(zapcore.Lock(zapcore.AddSync(&bytes.Buffer{}))) })
	return buf
}

func TestLoggerCarriesComponentName(t *testing.T) {
	buf := captureOutput(t)

	logger := NewLogger("gateway")
	logger.Info("tool %s invoked", "k8s_get")

	out := buf.String()
	assert.Contains(t, out, "gateway")
	assert.Contains(t, out, "tool k8s_get invoked")
	assert.Contains(t, out, "INFO")
}

func TestDebugSuppressedByDefault(t *testing.T) {
	SetDebug(false)
	buf := captureOutput(t)

	logger := NewLogger("engine")
	logger.Debug("should not appear")
	logger.Info("should appear")

	out := buf.String()
	assert.NotContains(t, out, "should not appear")
	assert.Contains(t, out, "should appear")
}

func TestSetDebugEnablesDebugLevel(t *testing.T) {
	SetDebug(true)
	defer SetDebug(false)
	buf := captureOutput(t)

	logger := NewLogger("engine")
	logger.Debug("visible now")

	assert.True(t, IsDebugEnabled())
	assert.Contains(t, buf.String(), "visible now")
}

func TestErrorfReturnsFormattedError(t *testing.T) {
	captureOutput(t)

	err := Errorf("connect to %s failed", "weaviate:8080")
	require.Error(t, err)
	assert.Equal(t, "connect to weaviate:8080 failed", err.Error())
}

func TestWrapNilPassthrough(t *testing.T) {
	captureOutput(t)

	assert.NoError(t, Wrap(nil, "no-op"))

	wrapped := Wrap(assert.AnError, "loading config")
	require.Error(t, wrapped)
	assert.ErrorIs(t, wrapped, assert.AnError)
	assert.Contains(t, wrapped.Error(), "loading config")
}

func TestWithComponent(t *testing.T) {
	buf := captureOutput(t)

	base := NewLogger("engine")
	derived := base.WithComponent("deploy")
	derived.Warn("rollout slow")

	assert.Equal(t, "deploy", derived.Component())
	assert.Contains(t, buf.String(), "deploy")
}
