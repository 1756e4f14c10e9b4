package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), tt.in)
	}
}

func TestNew_Levels(t *testing.T) {
	assert.True(t, New("debug", "text").Enabled(context.Background(), slog.LevelDebug))
	assert.False(t, New("error", "json").Enabled(context.Background(), slog.LevelInfo))
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	return line
}

func TestL_AttachesRequestAndAccount(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), NewWithWriter(&buf, "info", "json"))
	ctx = WithRequestID(ctx, "req-123")
	ctx = WithAccountID(ctx, 42)

	L(ctx).Info("hello")

	line := decodeLine(t, &buf)
	assert.Equal(t, "hello", line["msg"])
	assert.Equal(t, "crimecast", line["service"])
	assert.Equal(t, "req-123", line["request_id"])
	assert.Equal(t, float64(42), line["account_id"])
}

func TestL_WithoutRequestValues(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), NewWithWriter(&buf, "info", "json"))

	L(ctx).Info("plain")

	line := decodeLine(t, &buf)
	assert.NotContains(t, line, "request_id")
	assert.NotContains(t, line, "account_id")
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	Component(NewWithWriter(&buf, "info", "json"), "audit").Info("x")
	assert.Equal(t, "audit", decodeLine(t, &buf)["component"])

	assert.NotNil(t, Component(nil, "audit"))
}

func TestFromContext_Default(t *testing.T) {
	assert.Equal(t, slog.Default(), FromContext(context.Background()))
	assert.Equal(t, int64(0), AccountID(context.Background()))
	assert.Equal(t, "", RequestID(context.Background()))
}

func TestRequestID_OverwritesPrevious(t *testing.T) {
	ctx := WithRequestID(context.Background(), "first")
	ctx = WithRequestID(ctx, "second")
	assert.Equal(t, "second", RequestID(ctx))
}
