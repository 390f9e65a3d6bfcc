package metrics

import (
	"strings"
	"testing"

	dto "github.com/prometheus/client_model/go"
)

func TestSanitizeCode(t *testing.T) {
	tests := []struct {
		code     int
		expected string
	}{
		{code: 0, expected: "200"},
		{code: 200, expected: "200"},
		{code: 404, expected: "404"},
		{code: 503, expected: "503"},
	}

	for _, d := range tests {
		if actual := SanitizeCode(d.code); actual != d.expected {
			t.Errorf("SanitizeCode(%d) = %q, want %q", d.code, actual, d.expected)
		}
	}
}

func TestCircuitBreakerCallsTotalLabeled(t *testing.T) {
	CircuitBreakerCallsTotal.Reset()
	CircuitBreakerCallsTotal.WithLabelValues("g1", "u1", ResultRejected).Inc()

	mf, err := Registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var found *dto.MetricFamily
	for _, f := range mf {
		if f.GetName() == "llmproxy_circuit_breaker_calls_total" {
			found = f
		}
	}
	if found == nil {
		t.Fatal("llmproxy_circuit_breaker_calls_total not registered")
	}
	if got := found.GetMetric()[0].GetCounter().GetValue(); got != 1 {
		t.Errorf("counter value = %v, want 1", got)
	}
}

func TestSanitizeMethod(t *testing.T) {
	tests := []struct {
		method   string
		expected string
	}{
		{method: "get", expected: "GET"},
		{method: "POST", expected: "POST"},
		{method: "OPTIONS", expected: "OPTIONS"},
		{method: "connect", expected: "CONNECT"},
		{method: "trace", expected: "TRACE"},
		{method: "UNKNOWN", expected: "OTHER"},
		{method: strings.Repeat("ohno", 9999), expected: "OTHER"},
	}

	for _, d := range tests {
		actual := SanitizeMethod(d.method)
		if actual != d.expected {
			t.Errorf("Not same: expected %#v, but got %#v", d.expected, actual)
		}
	}
}
