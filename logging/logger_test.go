package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestConvoLoggerKeyValueArgs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&LoggerConfig{Level: LogLevelDebug, Format: "json", Output: &buf, Component: "flow"})

	logger.Info("stage transition", "conversation_id", "c1", "from", "GREETING", "to", "INTENT_DETECTION")

	entry := decodeLine(t, &buf)
	assert.Equal(t, "stage transition", entry["msg"])
	assert.Equal(t, "flow", entry["component"])
	assert.Equal(t, "c1", entry["conversation_id"])
	assert.Equal(t, "GREETING", entry["from"])
	assert.Equal(t, "INTENT_DETECTION", entry["to"])
}

func TestConvoLoggerDanglingValue(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&LoggerConfig{Level: LogLevelDebug, Format: "json", Output: &buf})

	assert.NotPanics(t, func() { logger.Warn("odd args", "key", "value", "dangling") })

	entry := decodeLine(t, &buf)
	assert.Equal(t, "odd args", entry["msg"])
	assert.Equal(t, "value", entry["key"])
	assert.Equal(t, "dangling", entry["!BADKEY"])
}

func TestConvoLoggerContextScoping(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&LoggerConfig{Level: LogLevelInfo, Format: "json", Output: &buf})

	scoped := logger.WithConversation("c7", 3).WithContext("channel", "web")
	scoped.Info("handler selected", "handler_tag", "table_booking")

	entry := decodeLine(t, &buf)
	assert.Equal(t, "c7", entry["conversation_id"])
	assert.Equal(t, float64(3), entry["turn_seq"])
	assert.Equal(t, "web", entry["channel"])
	assert.Equal(t, "table_booking", entry["handler_tag"])
}

func TestConvoLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&LoggerConfig{Level: LogLevelWarn, Format: "json", Output: &buf})

	logger.Info("suppressed", "key", "value")
	assert.Zero(t, buf.Len())

	logger.Error("emitted", "key", "value")
	assert.NotZero(t, buf.Len())
}

func TestSlogAdapterSameArgSemantics(t *testing.T) {
	var buf bytes.Buffer
	adapter := NewSlogAdapter(slog.New(slog.NewJSONHandler(&buf, nil)))

	adapter.Info("stage transition", "conversation_id", "c1")

	entry := decodeLine(t, &buf)
	assert.Equal(t, "stage transition", entry["msg"])
	assert.Equal(t, "c1", entry["conversation_id"])
}
