// Package mqtttelemetry records operational metrics for a pipeline: event
// dispatch counts, timer fires, reconnect attempts. It wraps
// go.opentelemetry.io/otel/metric the way telemetry/metrics.go's
// MetricInstruments caches instruments by name, trimmed to counters and
// histograms only — this module has no HTTP surface to carry spans, so the
// trace SDK and its exporters are not wired here (see DESIGN.md).
package mqtttelemetry

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Recorder caches metric instruments by name and exposes the small set of
// recording operations mqttpipe's packages need.
type Recorder struct {
	meter      metric.Meter
	mu         sync.RWMutex
	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram
}

// New builds a Recorder against an explicit metric.MeterProvider (typically
// an *sdkmetric.MeterProvider constructed by the host via NewMeterProvider,
// or the global no-op provider in tests).
func New(provider metric.MeterProvider, meterName string) *Recorder {
	return &Recorder{
		meter:      provider.Meter(meterName),
		counters:   make(map[string]metric.Int64Counter),
		histograms: make(map[string]metric.Float64Histogram),
	}
}

// NewMeterProvider builds a minimal in-process MeterProvider with no
// exporter attached — metrics accumulate in the SDK's internal readers but
// are never pushed anywhere on their own; a host wanting export wires its
// own metric.Reader into sdkmetric.NewMeterProvider instead.
func NewMeterProvider(opts ...sdkmetric.Option) *sdkmetric.MeterProvider {
	return sdkmetric.NewMeterProvider(opts...)
}

func (r *Recorder) counter(name string) (metric.Int64Counter, error) {
	r.mu.RLock()
	c, ok := r.counters[name]
	r.mu.RUnlock()
	if ok {
		return c, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok = r.counters[name]; ok {
		return c, nil
	}
	c, err := r.meter.Int64Counter(name)
	if err != nil {
		return nil, fmt.Errorf("mqtttelemetry: create counter %s: %w", name, err)
	}
	r.counters[name] = c
	return c, nil
}

func (r *Recorder) histogram(name string) (metric.Float64Histogram, error) {
	r.mu.RLock()
	h, ok := r.histograms[name]
	r.mu.RUnlock()
	if ok {
		return h, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok = r.histograms[name]; ok {
		return h, nil
	}
	h, err := r.meter.Float64Histogram(name)
	if err != nil {
		return nil, fmt.Errorf("mqtttelemetry: create histogram %s: %w", name, err)
	}
	r.histograms[name] = h
	return h, nil
}

// CountEvent increments a dispatch counter labeled by policy name and event
// kind. The pipeline package does not call it; recording is up to the caller.
func (r *Recorder) CountEvent(ctx context.Context, policy, kind string) {
	c, err := r.counter(MetricEventsDispatched)
	if err != nil {
		return
	}
	c.Add(ctx, 1, metric.WithAttributes(
		attribute.String("policy", policy),
		attribute.String("kind", kind),
	))
}

// CountReconnectAttempt increments the reconnectpolicy attempt counter.
func (r *Recorder) CountReconnectAttempt(ctx context.Context, outcome string) {
	c, err := r.counter(MetricReconnectAttempts)
	if err != nil {
		return
	}
	c.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordTimerLatencyMsec records how late a timer fired relative to its
// requested delay.
func (r *Recorder) RecordTimerLatencyMsec(ctx context.Context, lateMsec float64) {
	h, err := r.histogram(MetricTimerLatency)
	if err != nil {
		return
	}
	h.Record(ctx, lateMsec)
}

// CountFatal increments the pipeline fatal-escalation counter.
func (r *Recorder) CountFatal(ctx context.Context, reason string) {
	c, err := r.counter(MetricPipelineFatal)
	if err != nil {
		return
	}
	c.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// Metric name constants, namespaced under "mqttpipe." the way gomind
// namespaces its metrics under "agent.".
const (
	MetricEventsDispatched  = "mqttpipe.pipeline.events_dispatched"
	MetricReconnectAttempts = "mqttpipe.reconnect.attempts"
	MetricTimerLatency      = "mqttpipe.timer.latency_ms"
	MetricPipelineFatal     = "mqttpipe.pipeline.fatal"
)
