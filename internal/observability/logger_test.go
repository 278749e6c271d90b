package observability

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
	assert.Equal(t, slog.LevelInfo, parseLevel("verbose"))
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "info", "json")

	logger.Debug("hidden")
	logger.Info("card built", "incident_id", "quake-1")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "card built", entry["msg"])
	assert.Equal(t, "quake-1", entry["incident_id"])
}

func TestNewLogger_Text(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "debug", "TEXT")

	logger.Debug("probe", "stage", "direct")

	assert.Contains(t, buf.String(), "msg=probe")
	assert.Contains(t, buf.String(), "stage=direct")
}

func TestNewMetricsForTesting_Independent(t *testing.T) {
	a := NewMetricsForTesting()
	b := NewMetricsForTesting()

	a.PopulationStage.WithLabelValues("direct").Inc()

	var got dto.Metric
	require.NoError(t, a.PopulationStage.WithLabelValues("direct").Write(&got))
	assert.InDelta(t, 1, got.GetCounter().GetValue(), 0)

	got.Reset()
	require.NoError(t, b.PopulationStage.WithLabelValues("direct").Write(&got))
	assert.InDelta(t, 0, got.GetCounter().GetValue(), 0)
}
