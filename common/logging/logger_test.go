package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/telhawk-activity/common/middleware"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name   string
		level  slog.Level
		format string
	}{
		{name: "json format with info level", level: slog.LevelInfo, format: "json"},
		{name: "text format with debug level", level: slog.LevelDebug, format: "text"},
		{name: "default format with error level", level: slog.LevelError, format: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := New(tt.level, tt.format)
			require.NotNil(t, logger)
			require.NotNil(t, logger.Logger)
		})
	}
}

func TestWithContext_AddsRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, slog.LevelInfo, "json")

	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-123")
	logger.InfoContext(ctx, "session touched", SessionID("sess-1"))

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "req-123", record[FieldRequestID])
	assert.Equal(t, "sess-1", record[FieldSessionID])
	assert.Equal(t, "session touched", record["msg"])
}

func TestWithContext_NoRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, slog.LevelInfo, "json")

	logger.WarnContext(context.Background(), "activity write failed", Error(errors.New("boom")))

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	_, ok := record[FieldRequestID]
	assert.False(t, ok)
	assert.Equal(t, "boom", record[FieldError])
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, slog.LevelDebug, "json").Component("recorder")

	logger.DebugContext(context.Background(), "hello")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "recorder", record[FieldComponent])
}

func TestOrDefault(t *testing.T) {
	assert.NotNil(t, OrDefault(nil))

	l := Discard()
	assert.Same(t, l, OrDefault(l))
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "level %q", in)
	}
}

func TestErrorField_Nil(t *testing.T) {
	attr := Error(nil)
	assert.Equal(t, FieldError, attr.Key)
	assert.Equal(t, "", attr.Value.String())
}
