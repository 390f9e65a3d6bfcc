// Package state holds the hot-swappable runtime snapshot: the fully
// built router/balancer/manager graph produced from one validated
// config. A Store publishes snapshots behind an atomic pointer so that
// request handling never blocks on admin mutation and never observes
// a half-built snapshot (spec §5, "hot-swap without tearing").
package state

import (
	"sync/atomic"
	"time"

	"github.com/llmproxy/llmproxy/internal/manager"
	"github.com/llmproxy/llmproxy/internal/router"
	"github.com/llmproxy/llmproxy/internal/upstream"
)

// RateLimit is a forward's optional per-client token bucket config.
type RateLimit struct {
	Enabled   bool
	PerSecond int
	Burst     int
}

// Forward is the runtime-resolved shape of one listening endpoint
// (spec §3 Forward), paired with its immutable router.
type Forward struct {
	Name           string
	Address        string
	Port           int
	DefaultGroup   string
	RateLimit      RateLimit
	ConnectTimeout time.Duration
	Router         *router.Router
}

// Admin is the runtime-resolved admin server config.
type Admin struct {
	Address string
	Port    int
	Timeout time.Duration
}

// Snapshot is one immutable, fully-built configuration generation.
// Nothing in a Snapshot is mutated after config.Build returns it;
// admin mutation always builds and publishes a brand new Snapshot.
type Snapshot struct {
	Generation uint64
	Upstreams  *upstream.Registry
	Manager    *manager.Manager
	Forwards   map[string]*Forward
	Admin      Admin
}

// Store publishes Snapshots for lock-free concurrent reads.
type Store struct {
	ptr atomic.Pointer[Snapshot]
}

// NewStore builds a Store already holding the given snapshot.
func NewStore(initial *Snapshot) *Store {
	s := &Store{}
	s.ptr.Store(initial)
	return s
}

// Load returns the currently published Snapshot.
func (s *Store) Load() *Snapshot {
	return s.ptr.Load()
}

// Swap atomically publishes next, replacing whatever was there. Readers
// already holding the old *Snapshot from a prior Load keep using it
// safely until they next call Load; nothing is torn.
func (s *Store) Swap(next *Snapshot) {
	s.ptr.Store(next)
}
