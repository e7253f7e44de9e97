package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordToolDispatch(t *testing.T) {
	m := getMetrics()
	before := testutil.ToFloat64(m.toolDispatchTotal.WithLabelValues("metrics_test_tool", "error"))

	RecordToolDispatch("metrics_test_tool", 10*time.Millisecond, false)
	RecordToolDispatch("metrics_test_tool", 10*time.Millisecond, true)

	assert.Equal(t, before+1, testutil.ToFloat64(m.toolDispatchTotal.WithLabelValues("metrics_test_tool", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.toolDispatchTotal.WithLabelValues("metrics_test_tool", "success")))
}

func TestBridgeMetrics(t *testing.T) {
	m := getMetrics()

	SetBridgeState("metrics_test_bridge", 2)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.bridgeState.WithLabelValues("metrics_test_bridge")))

	RecordDroppedFrame("metrics_test_bridge", "unknown_id")
	RecordDroppedFrame("metrics_test_bridge", "unknown_id")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.bridgeDroppedFrames.WithLabelValues("metrics_test_bridge", "unknown_id")))

	RecordBridgeRestart("metrics_test_bridge")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.bridgeRestartsTotal.WithLabelValues("metrics_test_bridge")))
}

func TestSubagentActive(t *testing.T) {
	m := getMetrics()
	before := testutil.ToFloat64(m.subagentActive)
	IncSubagentActive()
	assert.Equal(t, before+1, testutil.ToFloat64(m.subagentActive))
	DecSubagentActive()
	assert.Equal(t, before, testutil.ToFloat64(m.subagentActive))
}

func TestMetricsHandler(t *testing.T) {
	RecordLoopRound("metrics_test_role")

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `loop_rounds_total{role="metrics_test_role"}`))
}
