// Package metrics defines the Prometheus counters and histograms exposed
// on the admin server's /metrics endpoint (spec §6). Vectors are grouped
// the way caddy's metrics.go groups its admin metrics: built once via
// promauto against a private registry, gathered by the admin handler.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "llmproxy"

// Registry is the private registry every metric below is registered
// against. The admin /metrics handler gathers from this, not from the
// global prometheus default registry.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	HTTPRequestsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Count of requests accepted by a forward listener.",
	}, []string{"forward", "method"})

	HTTPRequestErrorsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_errors_total",
		Help:      "Count of requests a forward listener failed to complete.",
	}, []string{"forward", "error", "status"})

	HTTPRequestDurationSeconds = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Time from request accepted to response completed, in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"forward", "method"})

	UpstreamRequestsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "upstream",
		Name:      "requests_total",
		Help:      "Count of requests dispatched to an upstream.",
	}, []string{"group", "upstream"})

	UpstreamErrorsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "upstream",
		Name:      "errors_total",
		Help:      "Count of upstream dispatch failures, by error kind.",
	}, []string{"error", "group", "upstream"})

	UpstreamDurationSeconds = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "upstream",
		Name:      "duration_seconds",
		Help:      "Time to dispatch a request to an upstream, including any retries, in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"group", "upstream"})

	RatelimitRejectedTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ratelimit",
		Name:      "rejected_total",
		Help:      "Count of requests rejected by the per-client token bucket.",
	}, []string{"forward"})

	CircuitBreakerStateChangesTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "circuit_breaker",
		Name:      "state_changes_total",
		Help:      "Count of circuit breaker state transitions.",
	}, []string{"group", "upstream", "from", "to"})

	CircuitBreakerCallsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "circuit_breaker",
		Name:      "calls_total",
		Help:      "Count of calls admitted or rejected by a circuit breaker.",
	}, []string{"group", "upstream", "result"})

	CircuitBreakerOpenGauge = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "circuit_breaker",
		Name:      "open",
		Help:      "1 if the breaker for this upstream is currently open, else 0.",
	}, []string{"group", "upstream"})
)

// Call outcomes recorded as the "result" label of
// CircuitBreakerCallsTotal.
const (
	ResultSuccess  = "success"
	ResultFailure  = "failure"
	ResultRejected = "rejected"
)

// Breaker state names, used as from/to labels on state transitions.
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half_open"
)

// Error-kind labels for HTTPRequestErrorsTotal and UpstreamErrorsTotal.
const (
	ErrorRequest  = "request_error"
	ErrorUpstream = "upstream_error"
	ErrorSelect   = "select_error"
)

// SanitizeCode collapses an HTTP status into a label value. 0 means the
// connection never got a response and is reported as if it were 200,
// matching the teacher's handling of hijacked/streamed connections.
func SanitizeCode(s int) string {
	switch s {
	case 0, 200:
		return "200"
	default:
		return strconv.Itoa(s)
	}
}

// Only support the list of "regular" HTTP methods, see
// https://developer.mozilla.org/en-US/docs/Web/HTTP/Methods
var methodMap = map[string]string{
	"GET": http.MethodGet, "get": http.MethodGet,
	"HEAD": http.MethodHead, "head": http.MethodHead,
	"PUT": http.MethodPut, "put": http.MethodPut,
	"POST": http.MethodPost, "post": http.MethodPost,
	"DELETE": http.MethodDelete, "delete": http.MethodDelete,
	"CONNECT": http.MethodConnect, "connect": http.MethodConnect,
	"OPTIONS": http.MethodOptions, "options": http.MethodOptions,
	"TRACE": http.MethodTrace, "trace": http.MethodTrace,
	"PATCH": http.MethodPatch, "patch": http.MethodPatch,
}

// SanitizeMethod sanitizes the method for use as a metric label. This helps
// prevent high cardinality on the method label. The name is always upper case.
func SanitizeMethod(m string) string {
	if m, ok := methodMap[m]; ok {
		return m
	}

	return "OTHER"
}
