package balance

import (
	"sync"
	"sync/atomic"
)

// Response-aware smoothing constants (spec §4.2).
const (
	alpha            = 0.15
	initialRTMs      = 2000.0
	initialSuccess   = 1000
	epsilonSuccess   = 1 // floor applied to success_rate before dividing
	successRateScale = 1000
)

// responseMetrics is the per-upstream exponentially-smoothed state
// ResponseAware maintains: smoothed response time, in-flight count,
// and a success rate scaled to an integer [0, 1000].
type responseMetrics struct {
	smoothedRTMs float64 // guarded by mu
	pending      atomic.Int64
	successRate  atomic.Int64 // [0, successRateScale]
	mu           sync.Mutex
}

func newResponseMetrics() *responseMetrics {
	rm := &responseMetrics{smoothedRTMs: initialRTMs}
	rm.successRate.Store(initialSuccess)
	return rm
}

func (rm *responseMetrics) score() float64 {
	rm.mu.Lock()
	rt := rm.smoothedRTMs
	rm.mu.Unlock()
	sr := rm.successRate.Load()
	if sr < epsilonSuccess {
		sr = epsilonSuccess
	}
	pending := rm.pending.Load()
	return rt * float64(pending+1) * (successRateScale / float64(sr))
}

func (rm *responseMetrics) observeSuccess(rtMs float64) {
	rm.mu.Lock()
	rm.smoothedRTMs = (1-alpha)*rm.smoothedRTMs + alpha*rtMs
	rm.mu.Unlock()
	rm.pending.Add(-1)
	blendSuccessRate(&rm.successRate, successRateScale)
}

func (rm *responseMetrics) observeFailure() {
	rm.pending.Add(-1)
	blendSuccessRate(&rm.successRate, 0)
}

// blendSuccessRate applies exponential smoothing toward target on an
// integer-scaled rate using a CAS loop, since atomic.Int64 has no
// float blend primitive.
func blendSuccessRate(rate *atomic.Int64, target int64) {
	for {
		old := rate.Load()
		next := int64((1-alpha)*float64(old) + alpha*float64(target))
		if rate.CompareAndSwap(old, next) {
			return
		}
	}
}

// ResponseAwareBalancer picks the healthy upstream with the lowest
// score = smoothed_rt_ms * (pending+1) * (1/max(success_rate, eps)),
// starting its scan from an index advanced on every call for fairness
// under ties (spec §4.2).
type ResponseAwareBalancer struct {
	mu      sync.RWMutex
	list    []*ManagedUpstream
	metrics map[*ManagedUpstream]*responseMetrics
	next    atomic.Uint64
}

func NewResponseAware(list []*ManagedUpstream) *ResponseAwareBalancer {
	b := &ResponseAwareBalancer{}
	b.Update(list)
	return b
}

func (b *ResponseAwareBalancer) Update(list []*ManagedUpstream) {
	metrics := make(map[*ManagedUpstream]*responseMetrics, len(list))
	for _, mu := range list {
		metrics[mu] = newResponseMetrics()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.list = list
	b.metrics = metrics
}

func (b *ResponseAwareBalancer) Select() (*ManagedUpstream, error) {
	b.mu.RLock()
	list := b.list
	metrics := b.metrics
	b.mu.RUnlock()

	n := len(list)
	if n == 0 {
		return nil, noUpstream()
	}
	start := int(b.next.Add(1) % uint64(n))

	var best *ManagedUpstream
	bestScore := 0.0
	for i := 0; i < n; i++ {
		mu := list[(start+i)%n]
		if !IsHealthy(mu) {
			continue
		}
		s := metrics[mu].score()
		if best == nil || s < bestScore {
			best, bestScore = mu, s
		}
	}
	if best == nil {
		return nil, noHealthyUpstream()
	}
	metrics[best].pending.Add(1)
	return best, nil
}

func (b *ResponseAwareBalancer) ReportFailure(mu *ManagedUpstream) {
	b.mu.RLock()
	rm := b.metrics[mu]
	b.mu.RUnlock()
	if rm != nil {
		rm.observeFailure()
	}
}

// ObserveSuccess records a successful call's round-trip time. Called by
// the upstream manager after every successful dispatch through this
// balancer (spec §4.4 step 8); a no-op for non-ResponseAware balancers,
// which don't implement this method.
func (b *ResponseAwareBalancer) ObserveSuccess(mu *ManagedUpstream, rtMs float64) {
	b.mu.RLock()
	rm := b.metrics[mu]
	b.mu.RUnlock()
	if rm != nil {
		rm.observeSuccess(rtMs)
	}
}
