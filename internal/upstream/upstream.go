// Package upstream holds the runtime representation of a backend
// endpoint: its base URL, pre-parsed authentication, and pre-parsed
// header operations (spec §3). It is grounded on the header mutation
// and authentication handling in original_source/src/upstream.rs
// (process_headers, add_auth) and on the hop-header rewriting in
// caddyhttp/proxy/proxy.go's mutateHeadersByRules.
package upstream

import (
	"encoding/base64"
	"net/http"
)

// AuthKind selects how outbound requests are authenticated.
type AuthKind int

const (
	AuthNone AuthKind = iota
	AuthBearer
	AuthBasic
)

// Auth is the pre-parsed authentication an Upstream applies to every
// outbound request. The Authorization header value is computed once,
// at load time, so forwarding never recomputes a base64 encoding.
type Auth struct {
	Kind   AuthKind
	header string // pre-computed "Authorization" value; empty for AuthNone
}

// NewBearerAuth builds a Bearer authentication descriptor.
func NewBearerAuth(token string) Auth {
	return Auth{Kind: AuthBearer, header: "Bearer " + token}
}

// NewBasicAuth builds a Basic authentication descriptor.
func NewBasicAuth(user, pass string) Auth {
	enc := base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
	return Auth{Kind: AuthBasic, header: "Basic " + enc}
}

// Apply sets the Authorization header in h, if this Auth is not None.
func (a Auth) Apply(h http.Header) {
	if a.Kind == AuthNone {
		return
	}
	h.Set("Authorization", a.header)
}

// HeaderOpKind is the action a HeaderOp performs.
type HeaderOpKind int

const (
	HeaderInsert HeaderOpKind = iota
	HeaderReplace
	HeaderRemove
)

// HeaderOp is one pre-parsed header mutation applied, in declared
// order, to outbound requests. Insert and Replace both end up calling
// http.Header.Set (Go headers are case-insensitively canonicalized, so
// there is no distinct "add if absent" semantic worth preserving from
// the textual config — both set the canonical single value).
type HeaderOp struct {
	Kind  HeaderOpKind
	Name  string
	Value string
}

// Apply mutates h in place per the operation's kind.
func (op HeaderOp) Apply(h http.Header) {
	switch op.Kind {
	case HeaderInsert, HeaderReplace:
		h.Set(op.Name, op.Value)
	case HeaderRemove:
		h.Del(op.Name)
	}
}

// BreakerSettings configures the per-upstream circuit breaker. A nil
// *BreakerSettings on Upstream means the upstream is never breaker
// gated (always permitted).
type BreakerSettings struct {
	Threshold float64 // failure ratio in [0.01, 1.0]
	CooldownS int     // seconds in [5, 3600]
}

// Upstream is a backend endpoint, as loaded from config (spec §3).
type Upstream struct {
	Name    string
	BaseURL string
	Auth    Auth
	Headers []HeaderOp
	Breaker *BreakerSettings
}

// MutateHeaders clones src and applies every header op in order. If
// there are no ops it returns src unchanged (no copy), per spec §4.4
// step 5.
func (u *Upstream) MutateHeaders(src http.Header) http.Header {
	if len(u.Headers) == 0 {
		return src
	}
	out := src.Clone()
	if out == nil {
		out = make(http.Header)
	}
	for _, op := range u.Headers {
		op.Apply(out)
	}
	return out
}

// Registry is the process-wide map of upstream name to Upstream. It is
// an immutable value built by internal/config and swapped in whole by
// internal/state on every admin mutation; Registry itself holds no
// lock because a given instance is never mutated after construction.
type Registry struct {
	byName map[string]*Upstream
}

// NewRegistry builds a Registry from a slice of upstreams. Caller must
// have already validated name uniqueness.
func NewRegistry(ups []*Upstream) *Registry {
	r := &Registry{byName: make(map[string]*Upstream, len(ups))}
	for _, u := range ups {
		r.byName[u.Name] = u
	}
	return r
}

// Lookup returns the upstream with the given name, or nil if absent.
func (r *Registry) Lookup(name string) *Upstream {
	if r == nil {
		return nil
	}
	return r.byName[name]
}
