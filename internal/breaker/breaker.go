// Package breaker implements a per-upstream, failure-rate circuit breaker
// (spec §4.1). It is modeled on the state machine of the proxy this
// package was adapted from (see original_source/src/breaker.rs), but
// built on plain sync/atomic state the way caddy tracks UpstreamHost
// health in caddyhttp/proxy/upstream.go, rather than on a third-party
// breaker crate.
package breaker

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/llmproxy/llmproxy/internal/apperr"
	"github.com/llmproxy/llmproxy/internal/metrics"
)

// State is one of Closed, Open, HalfOpen (spec §4.1).
type State int32

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return metrics.StateOpen
	case HalfOpen:
		return metrics.StateHalfOpen
	default:
		return metrics.StateClosed
	}
}

// windowSize bounds the sliding sample window used to estimate the
// failure ratio while Closed. A small fixed window keeps the ratio
// responsive to recent behavior without unbounded memory.
const windowSize = 20

// minSamples is the number of calls that must land in the window before
// the failure ratio is trusted; below this the breaker stays Closed
// regardless of ratio, so a single early failure can't trip it.
const minSamples = 5

// Breaker is a per-upstream circuit breaker. One is created per
// (group, upstream) pair and shared between the balancer entry that
// selects the upstream and the upstream manager that reports outcomes.
type Breaker struct {
	Group    string
	Upstream string
	URL      string

	threshold float64
	cooldown  time.Duration

	state         atomic.Int32
	openedAt      atomic.Int64 // UnixNano; valid while state == Open
	probeInFlight atomic.Bool  // guards the single HalfOpen probe

	mu      sync.Mutex
	window  [windowSize]bool
	winLen  int
	winHead int
}

// New builds a Breaker for one upstream. threshold is the failure ratio
// in [0.01, 1.0] that trips the breaker; cooldown is how long it stays
// Open before a probe is allowed through.
func New(group, upstream, url string, threshold float64, cooldown time.Duration) *Breaker {
	return &Breaker{
		Group:     group,
		Upstream:  upstream,
		URL:       url,
		threshold: clampThreshold(threshold),
		cooldown:  cooldown,
	}
}

func clampThreshold(t float64) float64 {
	if t < 0.01 {
		return 0.01
	}
	if t > 1.0 {
		return 1.0
	}
	return t
}

// State returns the breaker's current state, resolving an expired Open
// cooldown into HalfOpen as a side effect.
func (b *Breaker) State() State {
	s := State(b.state.Load())
	if s != Open {
		return s
	}
	if time.Since(time.Unix(0, b.openedAt.Load())) >= b.cooldown {
		if b.state.CompareAndSwap(int32(Open), int32(HalfOpen)) {
			b.probeInFlight.Store(false)
			b.recordTransition(Open, HalfOpen)
			return HalfOpen
		}
	}
	return s
}

// Permitted reports whether a call may proceed right now. In HalfOpen
// only one in-flight probe is allowed; callers that lose the race are
// rejected until the probe resolves.
func (b *Breaker) Permitted() bool {
	switch b.State() {
	case Closed:
		return true
	case HalfOpen:
		if b.probeInFlight.CompareAndSwap(false, true) {
			return true
		}
		metrics.CircuitBreakerCallsTotal.WithLabelValues(b.Group, b.Upstream, metrics.ResultRejected).Inc()
		return false
	default:
		metrics.CircuitBreakerCallsTotal.WithLabelValues(b.Group, b.Upstream, metrics.ResultRejected).Inc()
		return false
	}
}

// Execute runs op if permitted, otherwise returns a CircuitBreakerOpen
// error without invoking op. The outcome is recorded regardless.
func (b *Breaker) Execute(op func() error) error {
	if !b.Permitted() {
		return apperr.New(apperr.KindCircuitBreakerOpen, "circuit breaker open for upstream %q", b.Upstream)
	}
	err := op()
	b.Report(err == nil)
	return err
}

// Report records the outcome of a permitted call, advancing the state
// machine and emitting the call-result metric.
func (b *Breaker) Report(success bool) {
	result := metrics.ResultSuccess
	if !success {
		result = metrics.ResultFailure
	}
	metrics.CircuitBreakerCallsTotal.WithLabelValues(b.Group, b.Upstream, result).Inc()

	switch State(b.state.Load()) {
	case HalfOpen:
		b.probeInFlight.Store(false)
		if success {
			b.reset()
			b.transitionTo(Closed)
		} else {
			b.openNow()
		}
	default:
		b.record(success)
		if !success && b.ratio() >= b.threshold {
			b.openNow()
		}
	}
}

func (b *Breaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.window[b.winHead] = !success
	b.winHead = (b.winHead + 1) % windowSize
	if b.winLen < windowSize {
		b.winLen++
	}
}

func (b *Breaker) ratio() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.winLen < minSamples {
		return 0
	}
	fails := 0
	for i := 0; i < b.winLen; i++ {
		if b.window[i] {
			fails++
		}
	}
	return float64(fails) / float64(b.winLen)
}

func (b *Breaker) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.winLen = 0
	b.winHead = 0
}

func (b *Breaker) openNow() {
	prev := State(b.state.Swap(int32(Open)))
	b.openedAt.Store(time.Now().UnixNano())
	b.reset()
	if prev != Open {
		b.recordTransition(prev, Open)
		metrics.CircuitBreakerOpenGauge.WithLabelValues(b.Group, b.Upstream).Set(1)
	}
}

func (b *Breaker) transitionTo(s State) {
	prev := State(b.state.Swap(int32(s)))
	if prev != s {
		b.recordTransition(prev, s)
		if s == Closed {
			metrics.CircuitBreakerOpenGauge.WithLabelValues(b.Group, b.Upstream).Set(0)
		}
	}
}

func (b *Breaker) recordTransition(from, to State) {
	metrics.CircuitBreakerStateChangesTotal.WithLabelValues(b.Group, b.Upstream, from.String(), to.String()).Inc()
}
