package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLogger(t *testing.T, level slog.Level) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := Logger()
	SetLogger(NewLogger(Config{Level: level, Format: "json", Writer: &buf}))
	t.Cleanup(func() { SetLogger(prev) })
	return &buf
}

func TestContextLogging(t *testing.T) {
	buf := captureLogger(t, slog.LevelInfo)

	ctx := context.Background()
	ctx = WithContextValue(ctx, RequestIDKey, "req789")
	ctx = WithContextValue(ctx, ClientKey, "pooled")

	InfoContext(ctx, "Test message with context", "key", "value")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "req789", line["request_id"])
	assert.Equal(t, "pooled", line["client"])
	assert.Equal(t, "value", line["key"])
}

func TestTraceLevelName(t *testing.T) {
	buf := captureLogger(t, LevelTrace)

	Trace("query executed")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "TRACE", line["level"])
}

func TestTraceSuppressedAtInfo(t *testing.T) {
	buf := captureLogger(t, slog.LevelInfo)

	Trace("query executed")
	assert.Zero(t, buf.Len())
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"trace": LevelTrace,
		"DEBUG": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"ERROR": slog.LevelError,
		"2":     slog.Level(2),
	}
	for in, want := range cases {
		got, ok := ParseLevel(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	_, ok := ParseLevel("loud")
	assert.False(t, ok)
}
