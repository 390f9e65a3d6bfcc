// Package balance implements the load balancer family of spec §4.2:
// RoundRobin, WeightedRoundRobin, Random, Failover, and ResponseAware.
// It generalizes the selection policies of caddy's
// caddyhttp/proxy/policy.go (Random's reservoir sampling, RoundRobin's
// atomic counter) to be breaker-aware, and adds ResponseAware scoring
// from original_source/src/balancer.rs.
package balance

import (
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/llmproxy/llmproxy/internal/apperr"
	"github.com/llmproxy/llmproxy/internal/breaker"
)

// Ref is a reference from a group to an upstream by name, with a
// positive weight (spec §3 UpstreamRef).
type Ref struct {
	Name   string
	Weight int
}

// ManagedUpstream pairs an upstream reference with its (optional)
// circuit breaker handle (spec §3). Built when a group's balancer is
// constructed; discarded when the balancer is replaced on admin
// mutation.
type ManagedUpstream struct {
	Ref     Ref
	Breaker *breaker.Breaker // nil means never breaker-gated
}

// IsHealthy reports whether mu may currently be selected: either it has
// no breaker, or its breaker is not Open. It does not claim the HalfOpen
// probe; the breaker admits or rejects the call when it is dispatched.
func IsHealthy(mu *ManagedUpstream) bool {
	return mu.Breaker == nil || mu.Breaker.State() != breaker.Open
}

// Balancer selects among a group's managed upstreams and tracks
// whatever feedback its strategy needs (spec §4.2 common contract).
type Balancer interface {
	Select() (*ManagedUpstream, error)
	ReportFailure(mu *ManagedUpstream)
	Update(list []*ManagedUpstream)
}

func noUpstream() error {
	return apperr.New(apperr.KindNoUpstreamAvailable, "upstream group has no members")
}

func noHealthyUpstream() error {
	return apperr.New(apperr.KindNoHealthyUpstreamAvailable, "no healthy upstream available")
}

// --- RoundRobin ---------------------------------------------------------

// RoundRobinBalancer scans up to N positions from a shared atomic
// counter to find a healthy upstream.
type RoundRobinBalancer struct {
	counter atomic.Uint64
	mu      sync.RWMutex
	list    []*ManagedUpstream
}

func NewRoundRobin(list []*ManagedUpstream) *RoundRobinBalancer {
	b := &RoundRobinBalancer{}
	b.Update(list)
	return b
}

func (b *RoundRobinBalancer) Update(list []*ManagedUpstream) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.list = list
}

func (b *RoundRobinBalancer) Select() (*ManagedUpstream, error) {
	b.mu.RLock()
	list := b.list
	b.mu.RUnlock()
	return selectRoundRobin(&b.counter, list)
}

func (b *RoundRobinBalancer) ReportFailure(*ManagedUpstream) {}

func selectRoundRobin(counter *atomic.Uint64, list []*ManagedUpstream) (*ManagedUpstream, error) {
	n := len(list)
	if n == 0 {
		return nil, noUpstream()
	}
	start := counter.Add(1)
	for i := 0; i < n; i++ {
		idx := (start + uint64(i)) % uint64(n)
		if IsHealthy(list[idx]) {
			return list[idx], nil
		}
	}
	return nil, noHealthyUpstream()
}

// --- WeightedRoundRobin --------------------------------------------------

// WeightedRoundRobinBalancer pre-expands the list to a sequence that
// repeats each upstream by its weight, then applies plain RoundRobin
// scanning over the expanded sequence (spec §4.2).
type WeightedRoundRobinBalancer struct {
	counter  atomic.Uint64
	mu       sync.RWMutex
	expanded []*ManagedUpstream
}

func NewWeightedRoundRobin(list []*ManagedUpstream) *WeightedRoundRobinBalancer {
	b := &WeightedRoundRobinBalancer{}
	b.Update(list)
	return b
}

func (b *WeightedRoundRobinBalancer) Update(list []*ManagedUpstream) {
	expanded := make([]*ManagedUpstream, 0, len(list))
	for _, mu := range list {
		w := mu.Ref.Weight
		if w < 1 {
			w = 1
		}
		for i := 0; i < w; i++ {
			expanded = append(expanded, mu)
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expanded = expanded
}

func (b *WeightedRoundRobinBalancer) Select() (*ManagedUpstream, error) {
	b.mu.RLock()
	list := b.expanded
	b.mu.RUnlock()
	return selectRoundRobin(&b.counter, list)
}

func (b *WeightedRoundRobinBalancer) ReportFailure(*ManagedUpstream) {}

// --- Random --------------------------------------------------------------

// RandomBalancer draws up to three uniform samples; if all three land
// on unhealthy upstreams it falls back to drawing once from the
// filtered healthy subset (spec §4.2).
type RandomBalancer struct {
	mu   sync.RWMutex
	list []*ManagedUpstream
	rng  func(n int) int
}

func NewRandom(list []*ManagedUpstream) *RandomBalancer {
	b := &RandomBalancer{rng: rand.Intn}
	b.Update(list)
	return b
}

func (b *RandomBalancer) Update(list []*ManagedUpstream) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.list = list
}

func (b *RandomBalancer) Select() (*ManagedUpstream, error) {
	b.mu.RLock()
	list := b.list
	b.mu.RUnlock()

	n := len(list)
	if n == 0 {
		return nil, noUpstream()
	}
	for i := 0; i < 3; i++ {
		mu := list[b.rng(n)]
		if IsHealthy(mu) {
			return mu, nil
		}
	}
	healthy := make([]*ManagedUpstream, 0, n)
	for _, mu := range list {
		if IsHealthy(mu) {
			healthy = append(healthy, mu)
		}
	}
	if len(healthy) == 0 {
		return nil, noHealthyUpstream()
	}
	return healthy[b.rng(len(healthy))], nil
}

func (b *RandomBalancer) ReportFailure(*ManagedUpstream) {}

// --- Failover --------------------------------------------------------------

// FailoverBalancer always returns the first healthy upstream in
// declared order, encoding a fixed priority list (spec §4.2).
type FailoverBalancer struct {
	mu   sync.RWMutex
	list []*ManagedUpstream
}

func NewFailover(list []*ManagedUpstream) *FailoverBalancer {
	b := &FailoverBalancer{}
	b.Update(list)
	return b
}

func (b *FailoverBalancer) Update(list []*ManagedUpstream) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.list = list
}

func (b *FailoverBalancer) Select() (*ManagedUpstream, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.list) == 0 {
		return nil, noUpstream()
	}
	for _, mu := range b.list {
		if IsHealthy(mu) {
			return mu, nil
		}
	}
	return nil, noHealthyUpstream()
}

func (b *FailoverBalancer) ReportFailure(*ManagedUpstream) {}
