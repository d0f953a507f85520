// Package observe holds the tracing, metrics and logging plumbing shared by
// every BurgerXpress package.
//
// Instruments are created through the OpenTelemetry metrics API; the
// Prometheus bridge installed by [InitProvider] serves them on /metrics.
// Production code records on [DefaultMetrics]. Tests build their own with
// [NewMetrics] and a manual reader so that counts do not leak between them.
package observe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/burgerxpress"

// Status values for the status attribute.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Metrics are the instruments recorded by the trainer.
type Metrics struct {
	// Provider latencies. LLMDuration carries a purpose of "chat" or
	// "coaching".
	STTDuration metric.Float64Histogram
	LLMDuration metric.Float64Histogram
	TTSDuration metric.Float64Histogram

	// ProviderRequests is labelled provider, kind and status;
	// ProviderErrors only provider and kind.
	ProviderRequests metric.Int64Counter
	ProviderErrors   metric.Int64Counter

	// ConversationsStarted counts conversations that reached the greeting.
	ConversationsStarted metric.Int64Counter

	// CoachingResults is labelled outcome: scored, short, fallback or error.
	CoachingResults metric.Int64Counter

	// PersistenceWrites is labelled op and status.
	PersistenceWrites metric.Int64Counter

	// ActiveSessions approximates the sessions held in the store. Expired
	// sessions are only subtracted when their cookie comes back.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration is labelled method, path (the route pattern) and
	// status.
	HTTPRequestDuration metric.Float64Histogram
}

var (
	// Coaching a long conversation can take tens of seconds.
	providerBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40}

	// Streaming replies hold the request open for the whole generation.
	httpBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}
)

// instruments gathers the errors of a run of instrument constructors so
// NewMetrics can check once at the end.
type instruments struct {
	meter metric.Meter
	errs  []error
}

func (in *instruments) histogram(name, desc string, buckets []float64) metric.Float64Histogram {
	h, err := in.meter.Float64Histogram(name,
		metric.WithDescription(desc),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(buckets...))
	in.errs = append(in.errs, err)
	return h
}

func (in *instruments) counter(name, desc string) metric.Int64Counter {
	c, err := in.meter.Int64Counter(name, metric.WithDescription(desc))
	in.errs = append(in.errs, err)
	return c
}

func (in *instruments) gauge(name, desc string) metric.Int64UpDownCounter {
	g, err := in.meter.Int64UpDownCounter(name, metric.WithDescription(desc))
	in.errs = append(in.errs, err)
	return g
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	in := &instruments{meter: mp.Meter(meterName)}
	m := &Metrics{
		STTDuration: in.histogram("burgerxpress.stt.duration", "Time to transcribe one voice clip.", providerBuckets),
		LLMDuration: in.histogram("burgerxpress.llm.duration", "Time to complete a customer reply or a coaching run.", providerBuckets),
		TTSDuration: in.histogram("burgerxpress.tts.duration", "Time to synthesise one customer utterance.", providerBuckets),

		ProviderRequests:     in.counter("burgerxpress.provider.requests", "Provider calls by provider, kind and status."),
		ProviderErrors:       in.counter("burgerxpress.provider.errors", "Failed provider calls by provider and kind."),
		ConversationsStarted: in.counter("burgerxpress.conversations.started", "Role-play conversations started."),
		CoachingResults:      in.counter("burgerxpress.coaching.results", "Coaching runs by outcome."),
		PersistenceWrites:    in.counter("burgerxpress.persistence.writes", "Transcript and record writes by operation and status."),

		ActiveSessions: in.gauge("burgerxpress.active_sessions", "Trainee sessions in the session store."),

		HTTPRequestDuration: in.histogram("burgerxpress.http.request.duration", "HTTP request latency by method, route and status.", httpBuckets),
	}
	if err := errors.Join(in.errs...); err != nil {
		return nil, fmt.Errorf("observe: create instruments: %w", err)
	}
	return m, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the instruments registered on the global meter
// provider, creating them on first use.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic(err)
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// Status returns [StatusError] for a non-nil err and [StatusOK] otherwise.
func Status(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusOK
}

// RecordProviderRequest counts one call to a provider of the given kind
// (llm, stt, tts or embeddings).
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(Attr("provider", provider), Attr("kind", kind), Attr("status", status)))
}

// RecordProviderError counts one failed provider call.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(Attr("provider", provider), Attr("kind", kind)))
}

// RecordLLMDuration records how long a completion for purpose took.
func (m *Metrics) RecordLLMDuration(ctx context.Context, purpose string, d time.Duration) {
	m.LLMDuration.Record(ctx, d.Seconds(), metric.WithAttributes(Attr("purpose", purpose)))
}

func (m *Metrics) RecordConversationStarted(ctx context.Context) {
	m.ConversationsStarted.Add(ctx, 1)
}

func (m *Metrics) RecordCoachingResult(ctx context.Context, outcome string) {
	m.CoachingResults.Add(ctx, 1, metric.WithAttributes(Attr("outcome", outcome)))
}

// RecordPersistenceWrite counts one save_local, upload or append.
func (m *Metrics) RecordPersistenceWrite(ctx context.Context, op, status string) {
	m.PersistenceWrites.Add(ctx, 1, metric.WithAttributes(Attr("op", op), Attr("status", status)))
}
