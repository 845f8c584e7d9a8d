package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextKeys(t *testing.T) {
	ctx := context.Background()

	// Initially empty.
	assert.Equal(t, "", SessionID(ctx))
	assert.Equal(t, "", ToolCallID(ctx))

	ctx = WithSessionID(ctx, "mcp-abc")
	ctx = WithToolCallID(ctx, "call-42")

	// Round-trip.
	assert.Equal(t, "mcp-abc", SessionID(ctx))
	assert.Equal(t, "call-42", ToolCallID(ctx))
}

func TestWithIDs(t *testing.T) {
	ctx := WithIDs(context.Background(), "mcp-abc", "call-1")
	assert.Equal(t, "mcp-abc", SessionID(ctx))
	assert.Equal(t, "call-1", ToolCallID(ctx))
}

func TestLogWith(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx := context.Background()
	ctx = WithSessionID(ctx, "mcp-abc")
	ctx = WithToolCallID(ctx, "call-7")

	enriched := LogWith(ctx, logger)
	enriched.Info("test message")

	output := buf.String()
	assert.Contains(t, output, "session_id=mcp-abc")
	assert.Contains(t, output, "tool_call_id=call-7")
	assert.Contains(t, output, "test message")
}

func TestLogWithMissingKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	// Only the session ID is set; the call ID should not appear.
	ctx := WithSessionID(context.Background(), "mcp-only")

	enriched := LogWith(ctx, logger)
	enriched.Info("partial context")

	output := buf.String()
	assert.Contains(t, output, "session_id=mcp-only")
	assert.NotContains(t, output, "tool_call_id")
}

func TestCorrelationHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	ctx := WithIDs(context.Background(), "mcp-abc", "call-9")
	logger.InfoContext(ctx, "handled")

	output := buf.String()
	assert.Contains(t, output, "session_id=mcp-abc")
	assert.Contains(t, output, "tool_call_id=call-9")

	buf.Reset()
	logger.InfoContext(context.Background(), "bare")
	assert.NotContains(t, buf.String(), "session_id")
}
