package observability

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerJSONWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(NewLogger("debug", "json", &buf), "tokens")
	logger.Debug().Str("state", "renewing").Msg("token renewal started")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "tokens", line["component"])
	assert.Equal(t, "renewing", line["state"])
	assert.Equal(t, "debug", line["level"])
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("nonsense", "json", &buf)
	logger.Debug().Msg("hidden")
	assert.Zero(t, buf.Len())

	logger.Info().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveRelayRequest("token", 200)
	m.ObserveUpstream("oauth", time.Millisecond, "500")
	m.ObserveTokenRenewal("ok")
	m.ObserveTranscode("ok")
}
