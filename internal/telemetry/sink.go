package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

// Sink receives domain metrics from the ingest front-end.
// The OTel-backed implementation is the default; exporters with other
// transports (e.g. Prometheus exposition) plug in behind this interface
// without touching the core.
type Sink interface {
	// IncIngestRequest counts one ingest/query request per endpoint and
	// status class ("2xx", "4xx", "5xx").
	IncIngestRequest(endpoint, code string)

	// ObserveIngestLatency records one request's handling time.
	ObserveIngestLatency(endpoint string, seconds float64)

	// IncTests counts ingested test outcomes by status.
	IncTests(status string, n int64)

	// IncTestFailures counts ingested failing outcomes.
	IncTestFailures(n int64)

	// ObserveTestDuration records one test's reported duration.
	ObserveTestDuration(seconds float64)

	// SetActiveTests reports the current number of open facts.
	SetActiveTests(n int64)

	// IncLateIngest counts records accepted into an already-closed run.
	IncLateIngest(endpoint string)
}

// NoopSink discards all metrics.
type NoopSink struct{}

func (NoopSink) IncIngestRequest(string, string)      {}
func (NoopSink) ObserveIngestLatency(string, float64) {}
func (NoopSink) IncTests(string, int64)               {}
func (NoopSink) IncTestFailures(int64)                {}
func (NoopSink) ObserveTestDuration(float64)          {}
func (NoopSink) SetActiveTests(int64)                 {}
func (NoopSink) IncLateIngest(string)                 {}

// OTelSink implements Sink on the global OTel meter provider.
type OTelSink struct {
	ingestRequests otelmetric.Int64Counter
	ingestLatency  otelmetric.Float64Histogram
	tests          otelmetric.Int64Counter
	testFailures   otelmetric.Int64Counter
	testDuration   otelmetric.Float64Histogram
	activeTests    otelmetric.Int64Gauge
	lateIngest     otelmetric.Int64Counter
}

// NewOTelSink creates the instruments on the liminal/ingest meter.
func NewOTelSink() (*OTelSink, error) {
	meter := Meter("liminal/ingest")

	s := &OTelSink{}
	var err error

	if s.ingestRequests, err = meter.Int64Counter("ingest_requests_total",
		otelmetric.WithDescription("ingest/query requests by endpoint and status class")); err != nil {
		return nil, fmt.Errorf("telemetry: ingest_requests_total: %w", err)
	}
	if s.ingestLatency, err = meter.Float64Histogram("ingest_latency_seconds",
		otelmetric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("telemetry: ingest_latency_seconds: %w", err)
	}
	if s.tests, err = meter.Int64Counter("tests_total",
		otelmetric.WithDescription("ingested test outcomes by status")); err != nil {
		return nil, fmt.Errorf("telemetry: tests_total: %w", err)
	}
	if s.testFailures, err = meter.Int64Counter("test_failures_total"); err != nil {
		return nil, fmt.Errorf("telemetry: test_failures_total: %w", err)
	}
	if s.testDuration, err = meter.Float64Histogram("test_duration_seconds",
		otelmetric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("telemetry: test_duration_seconds: %w", err)
	}
	if s.activeTests, err = meter.Int64Gauge("active_tests",
		otelmetric.WithDescription("currently-open test facts")); err != nil {
		return nil, fmt.Errorf("telemetry: active_tests: %w", err)
	}
	if s.lateIngest, err = meter.Int64Counter("late_ingest_total",
		otelmetric.WithDescription("records accepted into an already-closed run")); err != nil {
		return nil, fmt.Errorf("telemetry: late_ingest_total: %w", err)
	}
	return s, nil
}

func (s *OTelSink) IncIngestRequest(endpoint, code string) {
	s.ingestRequests.Add(context.Background(), 1, otelmetric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("code", code),
	))
}

func (s *OTelSink) ObserveIngestLatency(endpoint string, seconds float64) {
	s.ingestLatency.Record(context.Background(), seconds, otelmetric.WithAttributes(
		attribute.String("endpoint", endpoint),
	))
}

func (s *OTelSink) IncTests(status string, n int64) {
	s.tests.Add(context.Background(), n, otelmetric.WithAttributes(
		attribute.String("status", status),
	))
}

func (s *OTelSink) IncTestFailures(n int64) {
	s.testFailures.Add(context.Background(), n)
}

func (s *OTelSink) ObserveTestDuration(seconds float64) {
	s.testDuration.Record(context.Background(), seconds)
}

func (s *OTelSink) SetActiveTests(n int64) {
	s.activeTests.Record(context.Background(), n)
}

func (s *OTelSink) IncLateIngest(endpoint string) {
	s.lateIngest.Add(context.Background(), 1, otelmetric.WithAttributes(
		attribute.String("endpoint", endpoint),
	))
}
