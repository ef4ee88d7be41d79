// Package tracing is a best-effort, panic-safe side channel for LLM-call
// observability (spec.md §9 design notes: "wrap every trace call in a
// panic-safe guard that logs and continues"). Grounded on
// prometheus/client_golang, already a teacher dependency pulled in for
// general service metrics; no pack repo wires an LLM-specific tracer, so
// this generalizes the teacher's metrics-registration idiom to a new set of
// gauges/histograms/counters.
package tracing

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Tracer records latency, token usage, and error counts for LLM calls.
// Every method recovers from panics internally: a broken metrics label or a
// nil registry must never take down a request.
type Tracer struct {
	logger    *slog.Logger
	latency   *prometheus.HistogramVec
	tokens    *prometheus.CounterVec
	errors    *prometheus.CounterVec
	cacheHits *prometheus.CounterVec
}

// New registers the tracer's metrics against reg. Pass prometheus.NewRegistry()
// or prometheus.DefaultRegisterer's concrete *prometheus.Registry.
func New(reg prometheus.Registerer, logger *slog.Logger) *Tracer {
	t := &Tracer{
		logger: logger.With("component", "infra.tracing"),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "eduask",
			Subsystem: "llm",
			Name:      "call_duration_seconds",
			Help:      "LLM call latency by operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eduask",
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Tokens consumed by LLM calls, by operation and kind (prompt/completion).",
		}, []string{"operation", "kind"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eduask",
			Subsystem: "llm",
			Name:      "errors_total",
			Help:      "LLM call failures by operation.",
		}, []string{"operation"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eduask",
			Subsystem: "retrieval",
			Name:      "cache_result_total",
			Help:      "Query cache outcomes by result (hit/miss).",
		}, []string{"result"}),
	}

	t.safeRegister(reg, t.latency)
	t.safeRegister(reg, t.tokens)
	t.safeRegister(reg, t.errors)
	t.safeRegister(reg, t.cacheHits)

	return t
}

func (t *Tracer) safeRegister(reg prometheus.Registerer, c prometheus.Collector) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Warn("tracing: metric registration panicked", "recovered", r)
		}
	}()
	if err := reg.Register(c); err != nil {
		t.logger.Warn("tracing: metric registration failed", "error", err)
	}
}

// ObserveCall records one LLM call's outcome. Safe to call from any
// goroutine; never panics or blocks the caller's request path.
func (t *Tracer) ObserveCall(ctx context.Context, operation string, start time.Time, promptTokens, completionTokens int, err error) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Warn("tracing: observe call panicked", "recovered", r, "operation", operation)
		}
	}()

	elapsed := time.Since(start).Seconds()
	t.latency.WithLabelValues(operation).Observe(elapsed)
	if promptTokens > 0 {
		t.tokens.WithLabelValues(operation, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		t.tokens.WithLabelValues(operation, "completion").Add(float64(completionTokens))
	}
	if err != nil {
		t.errors.WithLabelValues(operation).Inc()
	}
}

// ObserveCacheResult records a query-cache hit or miss.
func (t *Tracer) ObserveCacheResult(hit bool) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Warn("tracing: observe cache result panicked", "recovered", r)
		}
	}()
	result := "miss"
	if hit {
		result = "hit"
	}
	t.cacheHits.WithLabelValues(result).Inc()
}
