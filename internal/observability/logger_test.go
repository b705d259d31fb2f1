package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf, ServiceName: "budget-chat-test"})

	logger.WithSession("session-1").Info().
		Str("route", "aggregate_sql").
		Str("fallback_mode", "barangays_in_city").
		Msg("Route decision")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "budget-chat-test", entry["service"])
	assert.Equal(t, "session-1", entry["session_id"])
	assert.Equal(t, "aggregate_sql", entry["route"])
	assert.Equal(t, "barangays_in_city", entry["fallback_mode"])
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Output: &buf})

	logger.Info().Msg("dropped")
	assert.Zero(t, buf.Len())

	logger.Warn().Msg("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestLogger_WithContextTraceID(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "debug", Output: &buf})

	ctx := ContextWithTraceID(context.Background(), "trace-42")
	logger.WithContext(ctx).Debug().Msg("traced")

	assert.Contains(t, buf.String(), `"trace_id":"trace-42"`)
	assert.Equal(t, "", TraceIDFromContext(context.Background()))
}

func TestSetupTracing_DisabledIsNoop(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), TracingConfig{Enabled: false})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
