// Package manager is the upstream manager of spec §4.4: the single
// process-wide component owning the upstream registry, the per-group
// balancers, and the per-group HTTP clients, and the one place that
// knows how to forward a request to a group.
//
// It is grounded on original_source/src/upstream.rs's UpstreamManager
// (forward_request, create_http_client) and on the request-building
// and retry/backoff shape of caddyhttp/proxy/proxy.go's ServeHTTP.
package manager

import (
	"bytes"
	"context"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/llmproxy/llmproxy/internal/apperr"
	"github.com/llmproxy/llmproxy/internal/balance"
	"github.com/llmproxy/llmproxy/internal/metrics"
	"github.com/llmproxy/llmproxy/internal/upstream"
)

// RetryPolicy is the optional exponential-backoff retry policy of a
// group's HTTP client (spec §4.4).
type RetryPolicy struct {
	Enabled   bool
	Attempts  int
	InitialMs int
	MaxDelayS int // bound named in spec as MAX_DELAY_s
}

// ClientConfig configures one group's HTTP client (spec §3
// UpstreamGroup, §4.4 HttpClient configuration).
type ClientConfig struct {
	ConnectTimeout time.Duration
	RequestTimeout time.Duration // ignored when StreamMode is true
	IdleTimeout    time.Duration
	Keepalive      time.Duration
	ProxyURL       string // empty means no outbound proxy
	Retry          *RetryPolicy
	StreamMode     bool
}

// NewHTTPClient builds the http.Client for one upstream group, isolating
// its connection pool, timeouts, and proxy from every other group the
// way original_source's create_http_client builds one reqwest client
// per group.
func NewHTTPClient(cfg ClientConfig) (*http.Client, error) {
	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: cfg.Keepalive,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		IdleConnTimeout:     cfg.IdleTimeout,
		MaxIdleConnsPerHost: 64,
	}
	if cfg.ProxyURL != "" {
		u, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInvalidProxy, err, "invalid proxy url %q", cfg.ProxyURL)
		}
		transport.Proxy = http.ProxyURL(u)
	}

	client := &http.Client{Transport: transport}
	if !cfg.StreamMode {
		client.Timeout = cfg.RequestTimeout
	}
	return client, nil
}

// group bundles everything the manager needs to forward to one
// upstream group: its balancer, its isolated client, and the client
// config (consulted for retry policy and stream mode).
type group struct {
	balancer balance.Balancer
	client   *http.Client
	cfg      ClientConfig
}

// Manager is the process-wide upstream manager (spec §4.4).
type Manager struct {
	upstreams *upstream.Registry
	groups    map[string]*group
}

// New builds a Manager from an upstream registry and a set of group
// balancers/clients/client configs, keyed by group name. All three maps
// are owned by the
// Manager after this call and must not be mutated by the caller.
func New(upstreams *upstream.Registry, balancers map[string]balance.Balancer, clients map[string]*http.Client, clientConfigs map[string]ClientConfig) *Manager {
	groups := make(map[string]*group, len(balancers))
	for name, b := range balancers {
		groups[name] = &group{balancer: b, client: clients[name], cfg: clientConfigs[name]}
	}
	return &Manager{upstreams: upstreams, groups: groups}
}

// Result is the outcome of a successful Forward call. Body is the
// live upstream response body; callers are responsible for closing it.
type Result struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// Forward implements spec §4.4's ten-step forwarding flow. body is
// buffered bytes, not a live reader: a retry must replay the exact
// same body on every attempt, which a once-drained io.Reader can't do.
func (m *Manager) Forward(ctx context.Context, groupName, method, path string, inbound http.Header, body []byte) (*Result, error) {
	g, ok := m.groups[groupName]
	if !ok {
		return nil, apperr.New(apperr.KindUpstreamGroupNotFound, "upstream group %q not found", groupName)
	}

	mu, err := g.balancer.Select()
	if err != nil {
		metrics.UpstreamErrorsTotal.WithLabelValues(metrics.ErrorSelect, groupName, "unknown").Inc()
		return nil, err
	}

	up := m.upstreams.Lookup(mu.Ref.Name)
	if up == nil {
		return nil, apperr.New(apperr.KindUpstream, "upstream %q not found in registry", mu.Ref.Name)
	}

	reqURL := up.BaseURL + path
	outHeader := up.MutateHeaders(inbound)
	up.Auth.Apply(outHeader)

	metrics.UpstreamRequestsTotal.WithLabelValues(groupName, up.Name).Inc()
	start := time.Now()

	resp, err := m.send(ctx, g, mu, up, method, reqURL, outHeader, body)
	elapsed := time.Since(start)
	metrics.UpstreamDurationSeconds.WithLabelValues(groupName, up.Name).Observe(elapsed.Seconds())

	if err != nil {
		// ReportFailure already covers the ResponseAware balancer's
		// pending/success_rate bookkeeping; it must not be observed twice.
		g.balancer.ReportFailure(mu)
		metrics.UpstreamErrorsTotal.WithLabelValues(metrics.ErrorUpstream, groupName, up.Name).Inc()
		return nil, err
	}
	if rab, isRA := g.balancer.(*balance.ResponseAwareBalancer); isRA {
		rab.ObserveSuccess(mu, float64(elapsed.Milliseconds()))
	}

	return &Result{StatusCode: resp.StatusCode, Header: resp.Header, Body: resp.Body}, nil
}

// send executes the request, through the upstream's breaker if it has
// one, applying the group's retry policy for transient transport
// failures on idempotent methods (spec §4.4 step 7).
func (m *Manager) send(ctx context.Context, g *group, mu *balance.ManagedUpstream, up *upstream.Upstream, method, reqURL string, header http.Header, body []byte) (*http.Response, error) {
	attempt := func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader(body))
		if err != nil {
			return nil, apperr.Wrap(apperr.KindUpstream, err, "building request to %q", reqURL)
		}
		req.Header = header
		return g.client.Do(req)
	}

	var resp *http.Response
	var sendErr error
	run := func() error {
		resp, sendErr = attempt()
		return sendErr
	}

	if mu.Breaker != nil {
		if err := mu.Breaker.Execute(run); err != nil {
			if ae, ok := apperr.As(err); ok && ae.Kind == apperr.KindCircuitBreakerOpen {
				return nil, err
			}
			// err here is just sendErr surfaced by Execute; fall through
			// to the retry check below rather than returning early.
		}
	} else {
		run()
	}

	if sendErr != nil && isRetryableMethod(method) && g.cfg.Retry != nil && g.cfg.Retry.Enabled {
		resp, sendErr = m.retry(ctx, g, mu, attempt)
	}
	if sendErr != nil {
		return nil, apperr.Wrap(apperr.KindUpstream, sendErr, "upstream %q", up.Name)
	}
	return resp, nil
}

// bodyReader builds a fresh reader over body for one attempt. A nil
// io.Reader (as opposed to an empty one) tells http.NewRequestWithContext
// not to set a body at all, matching GET/HEAD requests with no payload.
func bodyReader(body []byte) io.Reader {
	if len(body) == 0 {
		return nil
	}
	return bytes.NewReader(body)
}

func isRetryableMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete, http.MethodOptions:
		return true
	default:
		return false
	}
}

// retry re-attempts a transport failure with exponential backoff
// bounded by [initial_ms, MAX_DELAY_s] and bounded jitter, up to
// Attempts tries total (spec §4.4).
func (m *Manager) retry(ctx context.Context, g *group, mu *balance.ManagedUpstream, attempt func() (*http.Response, error)) (*http.Response, error) {
	policy := g.cfg.Retry
	delay := time.Duration(policy.InitialMs) * time.Millisecond
	maxDelay := time.Duration(policy.MaxDelayS) * time.Second

	var resp *http.Response
	var err error
	for i := 1; i < policy.Attempts; i++ {
		if mu.Breaker != nil && !mu.Breaker.Permitted() {
			return nil, apperr.New(apperr.KindCircuitBreakerOpen, "circuit breaker open for upstream %q", mu.Ref.Name)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(jitter(delay)):
		}

		resp, err = attempt()
		if mu.Breaker != nil {
			mu.Breaker.Report(err == nil)
		}
		if err == nil {
			return resp, nil
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
	return resp, err
}

// jitter applies bounded jitter: a random duration in [d/2, d].
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(d-half)+1))
}
