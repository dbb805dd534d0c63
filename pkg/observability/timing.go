package observability

import (
	"log/slog"
	"time"
)

// Timer measures one call to an upstream or a use case.
type Timer struct {
	operation string
	start     time.Time
	logger    *slog.Logger
	metrics   Metrics
}

// StartTimer starts timing operation.
func StartTimer(operation string) *Timer {
	return &Timer{operation: operation, start: time.Now()}
}

// WithLogger logs completion at debug and failure at warn.
func (t *Timer) WithLogger(logger *slog.Logger) *Timer {
	t.logger = logger
	return t
}

// WithMetrics records duration, totals and errors under the operation tag.
func (t *Timer) WithMetrics(metrics Metrics) *Timer {
	t.metrics = metrics
	return t
}

// StopWithError ends the measurement. err decides the outcome.
func (t *Timer) StopWithError(err error) time.Duration {
	elapsed := time.Since(t.start)
	attrs := []any{"operation", t.operation, "duration_ms", elapsed.Milliseconds()}

	if t.logger != nil {
		if err != nil {
			t.logger.Warn("operation failed", append(attrs, "error", err)...)
		} else {
			t.logger.Debug("operation completed", attrs...)
		}
	}

	if t.metrics == nil {
		return elapsed
	}
	tag := T("operation", t.operation)
	t.metrics.Timing(MetricOperationDuration, elapsed, tag)
	t.metrics.Counter(MetricOperationTotal, 1, tag)
	if err != nil {
		t.metrics.Counter(MetricOperationErrors, 1, tag)
	}
	return elapsed
}

// TimeOperationResult times fn and records it under operation.
func TimeOperationResult[T any](logger *slog.Logger, metrics Metrics, operation string, fn func() (T, error)) (T, error) {
	timer := StartTimer(operation).WithLogger(logger).WithMetrics(metrics)
	result, err := fn()
	timer.StopWithError(err)
	return result, err
}
