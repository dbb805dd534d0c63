package observability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOrNoop(t *testing.T) {
	assert.IsType(t, NoopMetrics{}, OrNoop(nil))

	m := NewInMemoryMetrics()
	assert.Same(t, m, OrNoop(m))

	// Noop accepts everything.
	noop := OrNoop(nil)
	noop.Counter(MetricWebhookEvents, 1, T("outcome", "applied"))
	noop.Timing(MetricHTTPDuration, time.Millisecond)
}

func TestInMemoryMetrics_CountersAreKeyedByTags(t *testing.T) {
	m := NewInMemoryMetrics()

	m.Counter(MetricAccessVerdicts, 1, T("granted", "true"), T("reason", "open"))
	m.Counter(MetricAccessVerdicts, 1, T("granted", "true"), T("reason", "open"))
	m.Counter(MetricAccessVerdicts, 1, T("granted", "false"), T("reason", "not_entitled"))
	m.Counter(MetricAccessVerdicts, 1)

	assert.Equal(t, int64(2), m.GetCounter(MetricAccessVerdicts, T("granted", "true"), T("reason", "open")))
	assert.Equal(t, int64(1), m.GetCounter(MetricAccessVerdicts, T("granted", "false"), T("reason", "not_entitled")))
	assert.Equal(t, int64(1), m.GetCounter(MetricAccessVerdicts))
	// Tag order is part of the key.
	assert.Zero(t, m.GetCounter(MetricAccessVerdicts, T("reason", "open"), T("granted", "true")))
}

func TestInMemoryMetrics_GaugesHistogramsTimings(t *testing.T) {
	m := NewInMemoryMetrics()

	m.Gauge(MetricOutboxLag, 12.5)
	m.Gauge(MetricOutboxLag, 0)
	assert.Zero(t, m.GetGauge(MetricOutboxLag))

	m.Histogram("tollgate.webhook.payload_bytes", 512)
	m.Histogram("tollgate.webhook.payload_bytes", 2048)
	assert.Equal(t, []float64{512, 2048}, m.GetHistogram("tollgate.webhook.payload_bytes"))

	m.Timing(MetricHTTPDuration, 20*time.Millisecond, T("route", "/v1/access"))
	assert.Len(t, m.GetTimings(MetricHTTPDuration, T("route", "/v1/access")), 1)
	assert.Empty(t, m.GetTimings(MetricHTTPDuration))

	m.Reset()
	assert.Empty(t, m.GetHistogram("tollgate.webhook.payload_bytes"))
	assert.Empty(t, m.GetTimings(MetricHTTPDuration, T("route", "/v1/access")))
}

func TestFormatKey(t *testing.T) {
	assert.Equal(t, MetricOutboxDead, formatKey(MetricOutboxDead, nil))
	assert.Equal(t,
		"tollgate.outbox.dead:routing_key=purchase.incident",
		formatKey(MetricOutboxDead, []Tag{T("routing_key", "purchase.incident")}),
	)
}

func TestMetricNamesShareNamespace(t *testing.T) {
	names := []string{
		MetricOperationTotal, MetricHTTPRequests, MetricAccessVerdicts,
		MetricPaymentIntents, MetricWebhookEvents, MetricLedgerTransitions,
		MetricPurchaseIncidents, MetricEnrollmentUpstream, MetricContentCache,
		MetricOutboxPublished, MetricOutboxLag,
	}
	for _, name := range names {
		assert.Regexp(t, `^tollgate\.[a-z_.]+$`, name)
	}
}
