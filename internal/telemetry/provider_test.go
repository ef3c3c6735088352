package telemetry

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"

	"github.com/conneroisu/devloop/internal/logging"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var entries []map[string]interface{}
	scanner := bufio.NewScanner(buf)
	for scanner.Scan() {
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		entries = append(entries, entry)
	}
	return entries
}

func TestProviderLogsEndedSpans(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLogger(&logging.LoggerConfig{Level: logging.LevelInfo, Format: "json", Output: &buf})

	tp := NewProvider(logger)
	defer func() { _ = tp.Shutdown(context.Background()) }()
	tracer := tp.Tracer("test")

	ctx, parent := tracer.Start(context.Background(), "startup")
	_, child := tracer.Start(ctx, "compile_style")
	child.SetStatus(codes.Error, "stylus failed")
	child.End()
	parent.End()

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)

	failed := entries[0]
	assert.Equal(t, "Span failed", failed["msg"])
	assert.Equal(t, "WARN", failed["level"])
	assert.Equal(t, "trace", failed["component"])
	assert.Equal(t, "compile_style", failed["span"])
	assert.Equal(t, "stylus failed", failed["error"])
	assert.Equal(t, parent.SpanContext().SpanID().String(), failed["parent_id"])

	ended := entries[1]
	assert.Equal(t, "Span ended", ended["msg"])
	assert.Equal(t, "startup", ended["span"])
	assert.Equal(t, failed["trace_id"], ended["trace_id"])
	assert.NotContains(t, ended, "parent_id")
	assert.Contains(t, ended, "duration")
}

func TestNewLogProcessorNilLogger(t *testing.T) {
	p := NewLogProcessor(nil)
	require.NoError(t, p.ForceFlush(context.Background()))
	require.NoError(t, p.Shutdown(context.Background()))
}
