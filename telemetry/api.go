// Package telemetry provides simple metric emission and OpenTelemetry span
// creation for the orchestration runtime. A single OTelProvider is
// registered with SetDefaultProvider during startup; every call below is a
// silent no-op until that happens, so packages may call Counter/Histogram
// unconditionally without checking whether telemetry is enabled.
package telemetry

import (
	"sync/atomic"
	"time"
)

// defaultProvider holds the process-wide OTelProvider, set once at startup
// by cmd/orchestratord. Reads are lock-free; Emit is on the hot path of
// every gateway.Generate call.
var defaultProvider atomic.Value // *OTelProvider

// SetDefaultProvider registers the provider that Counter, Histogram, and
// the rest of this file's functions emit through. Passing nil disables
// emission again.
func SetDefaultProvider(p *OTelProvider) {
	defaultProvider.Store(p)
}

// Emit records a single metric value against the registered provider. It is
// a no-op if no provider has been registered.
func Emit(name string, value float64, labels ...string) {
	v := defaultProvider.Load()
	if v == nil {
		return
	}
	provider, ok := v.(*OTelProvider)
	if !ok || provider == nil {
		return
	}
	provider.RecordMetric(name, value, parseLabels(labels...))
}

// parseLabels converts variadic "key1", "val1", "key2", "val2" pairs into a
// map. An odd trailing key with no value is dropped.
func parseLabels(labels ...string) map[string]string {
	m := make(map[string]string, len(labels)/2)
	for i := 0; i+1 < len(labels); i += 2 {
		m[labels[i]] = labels[i+1]
	}
	return m
}

// Counter increments a counter metric by 1. Use for counting events:
// requests, errors, cache hits.
// Example: Counter("gateway.cache", "result", "hit")
func Counter(name string, labels ...string) {
	Emit(name, 1, labels...)
}

// Histogram records a value in a distribution: latencies, durations,
// queue lengths.
// Example: Histogram("gateway.provider.detection.duration_ms", 42.0, "status", "success")
func Histogram(name string, value float64, labels ...string) {
	Emit(name, value, labels...)
}

// Gauge records a current-value metric (active connections, queue depth).
// OTelProvider.RecordMetric routes it to a histogram instrument internally;
// OpenTelemetry gauges require a registered callback, which this simple API
// intentionally avoids.
func Gauge(name string, value float64, labels ...string) {
	Emit(name, value, labels...)
}

// Duration records elapsed time since startTime in milliseconds.
// Example:
//
//	start := time.Now()
//	defer Duration("operation.duration_ms", start, "op", "process")
func Duration(name string, startTime time.Time, labels ...string) {
	Emit(name, float64(time.Since(startTime).Milliseconds()), labels...)
}

// RecordError records an error occurrence with type classification.
func RecordError(name string, errorType string, labels ...string) {
	Counter(name, append(labels, "error_type", errorType)...)
}

// RecordSuccess records a successful operation.
func RecordSuccess(name string, labels ...string) {
	Counter(name, append(labels, "status", "success")...)
}

// TimeOperation starts a timer and returns a function that records the
// elapsed duration when called, typically via defer.
func TimeOperation(name string, labels ...string) func() {
	start := time.Now()
	return func() {
		Duration(name, start, labels...)
	}
}
