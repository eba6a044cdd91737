package logx

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(nil) })
	return &buf
}

func TestLogFormat(t *testing.T) {
	buf := captureOutput(t)

	NewLogger("router").Info("routed %s to %s", "msg-1", "agent-7")

	out := buf.String()
	assert.Contains(t, out, "[router]")
	assert.Contains(t, out, "INFO")
	assert.Contains(t, out, "routed msg-1 to agent-7")
	assert.True(t, strings.HasPrefix(out, "["))
	assert.Contains(t, out, "Z]")
}

func TestLevels(t *testing.T) {
	SetDebug(true)
	defer SetDebug(false)

	logger := NewLogger("collector")
	tests := []struct {
		logFunc  func(string, ...any)
		expected string
	}{
		{logger.Debug, "DEBUG"},
		{logger.Info, "INFO"},
		{logger.Warn, "WARN"},
		{logger.Error, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			buf := captureOutput(t)
			tt.logFunc("hello")
			assert.Contains(t, buf.String(), tt.expected)
		})
	}
}

func TestDebugDomainFiltering(t *testing.T) {
	buf := captureOutput(t)
	SetDebug(true, "routing")
	defer SetDebug(false)

	ctx := WithDevice(context.Background(), "device-42")
	Debug(ctx, "routing", "lock acquired")
	Debug(ctx, "planner", "should be filtered")

	out := buf.String()
	assert.Contains(t, out, "[device-42]")
	assert.Contains(t, out, "[routing] lock acquired")
	assert.NotContains(t, out, "should be filtered")
}

func TestDebugDisabledWritesNothing(t *testing.T) {
	buf := captureOutput(t)
	SetDebug(false)

	NewLogger("planner").Debug("invisible")
	Debug(context.Background(), "planner", "also invisible")

	assert.Empty(t, buf.String())
}

func TestRecentEntries(t *testing.T) {
	captureOutput(t)
	start := time.Now().UTC().Add(-time.Second)

	NewLogger("buffer-test").Warn("dead agent %s", "a1")

	entries := RecentEntries("buffer-test", start)
	require.NotEmpty(t, entries)
	last := entries[len(entries)-1]
	assert.Equal(t, "WARN", last.Level)
	assert.Equal(t, "dead agent a1", last.Message)
}

func TestWrap(t *testing.T) {
	captureOutput(t)

	assert.NoError(t, Wrap(nil, "noop"))

	base := errors.New("disk full")
	err := Wrap(base, "write plan")
	require.Error(t, err)
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "write plan: disk full", err.Error())
}
