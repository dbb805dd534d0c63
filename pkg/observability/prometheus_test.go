package observability

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusMetrics_Counter(t *testing.T) {
	m := NewPrometheusMetrics()

	m.Counter(MetricWebhookEvents, 1, T("provider", "stripe"), T("outcome", "applied"))
	m.Counter(MetricWebhookEvents, 2, T("outcome", "applied"), T("provider", "stripe"))
	m.Counter(MetricWebhookEvents, 1, T("provider", "stripe"), T("outcome", "duplicate"))

	vec := m.counters["tollgate_webhook_events"]
	require.NotNil(t, vec)
	assert.Equal(t, 3.0, testutil.ToFloat64(vec.WithLabelValues("applied", "stripe")))
	assert.Equal(t, 1.0, testutil.ToFloat64(vec.WithLabelValues("duplicate", "stripe")))
}

func TestPrometheusMetrics_MismatchedLabelsAreDropped(t *testing.T) {
	m := NewPrometheusMetrics()

	m.Counter("tollgate.test", 1, T("a", "1"))
	assert.NotPanics(t, func() {
		m.Counter("tollgate.test", 1, T("b", "2"))
	})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.counters["tollgate_test"].WithLabelValues("1")))
}

func TestPrometheusMetrics_GaugeAndTiming(t *testing.T) {
	m := NewPrometheusMetrics()

	m.Gauge(MetricOutboxLag, 4.5)
	m.Timing(MetricHTTPDuration, 250*time.Millisecond, T("route", "GET /health"))

	assert.Equal(t, 4.5, testutil.ToFloat64(m.gauges["tollgate_outbox_lag_seconds"].WithLabelValues()))
	assert.Equal(t, 1, testutil.CollectAndCount(m.histograms["tollgate_http_duration_seconds"]))
}

func TestPrometheusMetrics_Handler(t *testing.T) {
	m := NewPrometheusMetrics()
	m.Counter(MetricPurchaseIncidents, 1, T("kind", "price_mismatch"))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `tollgate_purchase_incidents{kind="price_mismatch"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestOrNoop_Passthrough(t *testing.T) {
	assert.IsType(t, NoopMetrics{}, OrNoop(nil))

	m := NewInMemoryMetrics()
	assert.Same(t, m, OrNoop(m))
}
