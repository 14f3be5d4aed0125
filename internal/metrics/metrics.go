package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tujanalyst"

// Collector owns the Prometheus registry for HTTP and pipeline metrics.
// A nil *Collector is valid and records nothing.
type Collector struct {
	registry        *prometheus.Registry
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	pollCreated      *prometheus.CounterVec
	pollDuplicates   *prometheus.CounterVec
	pollSourceErrors *prometheus.CounterVec
	transitions      *prometheus.CounterVec
	breakerOpen      *prometheus.CounterVec
	deliveryFailures prometheus.Counter
	llmCalls         *prometheus.CounterVec
	llmTokens        *prometheus.CounterVec
}

// NewCollector constructs a collector with its own registry.
func NewCollector() (*Collector, error) {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency distribution for inbound HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of inbound HTTP requests.",
		}, []string{"method", "path", "status"}),
		pollCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_triggers_created_total",
			Help:      "Triggers created by the feed poller.",
		}, []string{"source"}),
		pollDuplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_duplicates_total",
			Help:      "Announcements skipped as duplicates.",
		}, []string{"source"}),
		pollSourceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_source_errors_total",
			Help:      "Feed fetch or parse failures.",
		}, []string{"source"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trigger_transitions_total",
			Help:      "Persisted trigger status transitions.",
		}, []string{"status"}),
		breakerOpen: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_open_total",
			Help:      "Times a circuit breaker opened.",
		}, []string{"name"}),
		deliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_failures_total",
			Help:      "Reports whose delivery failed on every channel.",
		}),
		llmCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_calls_total",
			Help:      "Model calls by pipeline operation and outcome.",
		}, []string{"operation", "status"}),
		llmTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Tokens consumed by model calls.",
		}, []string{"operation", "direction"}),
	}

	for _, col := range []prometheus.Collector{
		c.requestDuration, c.requestTotal,
		c.pollCreated, c.pollDuplicates, c.pollSourceErrors,
		c.transitions, c.breakerOpen, c.deliveryFailures,
		c.llmCalls, c.llmTokens,
	} {
		if err := registry.Register(col); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Handler returns an HTTP handler for exposing Prometheus metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler to record HTTP metrics.
func (c *Collector) InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(rw.status)
		path := r.URL.Path
		if r.Pattern != "" {
			path = r.Pattern
		}

		c.requestTotal.WithLabelValues(r.Method, path, status).Inc()
		c.requestDuration.WithLabelValues(r.Method, path, status).Observe(duration)
	})
}

// PollCreated counts triggers created for a source.
func (c *Collector) PollCreated(source string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.pollCreated.WithLabelValues(source).Add(float64(n))
}

// PollDuplicate counts one skipped duplicate.
func (c *Collector) PollDuplicate(source string) {
	if c == nil {
		return
	}
	c.pollDuplicates.WithLabelValues(source).Inc()
}

// PollSourceError counts one failed source fetch.
func (c *Collector) PollSourceError(source string) {
	if c == nil {
		return
	}
	c.pollSourceErrors.WithLabelValues(source).Inc()
}

// Transition counts one persisted status change.
func (c *Collector) Transition(status string) {
	if c == nil {
		return
	}
	c.transitions.WithLabelValues(status).Inc()
}

// BreakerOpened counts a breaker opening. It matches resilience.WithOnOpen.
func (c *Collector) BreakerOpened(name string) {
	if c == nil {
		return
	}
	c.breakerOpen.WithLabelValues(name).Inc()
}

// DeliveryFailed counts a report that no channel accepted.
func (c *Collector) DeliveryFailed() {
	if c == nil {
		return
	}
	c.deliveryFailures.Inc()
}

// LLMCall counts one model call and its token usage.
func (c *Collector) LLMCall(operation, status string, inputTokens, outputTokens int) {
	if c == nil {
		return
	}
	c.llmCalls.WithLabelValues(operation, status).Inc()
	if inputTokens > 0 {
		c.llmTokens.WithLabelValues(operation, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		c.llmTokens.WithLabelValues(operation, "output").Add(float64(outputTokens))
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
