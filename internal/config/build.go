package config

import (
	"fmt"
	"net/http"
	"time"

	"github.com/llmproxy/llmproxy/internal/balance"
	"github.com/llmproxy/llmproxy/internal/breaker"
	"github.com/llmproxy/llmproxy/internal/manager"
	"github.com/llmproxy/llmproxy/internal/router"
	"github.com/llmproxy/llmproxy/internal/state"
	"github.com/llmproxy/llmproxy/internal/upstream"
)

// Build turns a validated Config into a fresh state.Snapshot: the
// upstream registry, one balancer and one HTTP client per group, the
// manager that ties them together, and one router per forward. It is
// called both at startup and on every admin mutation that changes
// routing, upstreams, or groups (spec §4.6).
func Build(cfg *Config, generation uint64) (*state.Snapshot, error) {
	upstreams := make([]*upstream.Upstream, 0, len(cfg.Upstreams))
	for _, u := range cfg.Upstreams {
		ru, err := buildUpstream(u)
		if err != nil {
			return nil, err
		}
		upstreams = append(upstreams, ru)
	}
	registry := upstream.NewRegistry(upstreams)

	balancers := make(map[string]balance.Balancer, len(cfg.UpstreamGroups))
	clients := make(map[string]*http.Client, len(cfg.UpstreamGroups))
	clientConfigs := make(map[string]manager.ClientConfig, len(cfg.UpstreamGroups))

	for _, g := range cfg.UpstreamGroups {
		managed := make([]*balance.ManagedUpstream, 0, len(g.Upstreams))
		for _, ref := range g.Upstreams {
			up := registry.Lookup(ref.Name)
			if up == nil {
				return nil, fmt.Errorf("upstream group %q references unknown upstream %q", g.Name, ref.Name)
			}
			var br *breaker.Breaker
			if up.Breaker != nil {
				br = breaker.New(g.Name, up.Name, up.BaseURL, up.Breaker.Threshold, time.Duration(up.Breaker.CooldownS)*time.Second)
			}
			managed = append(managed, &balance.ManagedUpstream{
				Ref:     balance.Ref{Name: ref.Name, Weight: ref.Weight},
				Breaker: br,
			})
		}

		balancers[g.Name] = newBalancer(g.Balance.Strategy, managed)

		ccfg := manager.ClientConfig{
			ConnectTimeout: time.Duration(g.HTTPClient.Timeout.Connect) * time.Second,
			RequestTimeout: time.Duration(g.HTTPClient.Timeout.Request) * time.Second,
			IdleTimeout:    time.Duration(g.HTTPClient.Timeout.Idle) * time.Second,
			Keepalive:      time.Duration(g.HTTPClient.Keepalive) * time.Second,
			StreamMode:     g.HTTPClient.StreamMode,
		}
		if g.HTTPClient.Proxy.Enabled {
			ccfg.ProxyURL = g.HTTPClient.Proxy.URL
		}
		if g.HTTPClient.Retry.Enabled {
			ccfg.Retry = &manager.RetryPolicy{
				Enabled:   true,
				Attempts:  g.HTTPClient.Retry.Attempts,
				InitialMs: g.HTTPClient.Retry.Initial,
				MaxDelayS: defaultRetryMaxDelayS,
			}
		}
		clientConfigs[g.Name] = ccfg

		client, err := manager.NewHTTPClient(ccfg)
		if err != nil {
			return nil, fmt.Errorf("building http client for group %q: %w", g.Name, err)
		}
		clients[g.Name] = client
	}

	mgr := manager.New(registry, balancers, clients, clientConfigs)

	forwards := make(map[string]*state.Forward, len(cfg.HTTPServer.Forwards))
	for _, f := range cfg.HTTPServer.Forwards {
		rules := make([]router.Rule, 0, len(f.Routing))
		for _, r := range f.Routing {
			rules = append(rules, router.Rule{Pattern: r.Path, Target: r.TargetGroup})
		}
		rt, err := router.Build(rules, f.DefaultGroup)
		if err != nil {
			return nil, fmt.Errorf("building router for forward %q: %w", f.Name, err)
		}
		forwards[f.Name] = &state.Forward{
			Name:         f.Name,
			Address:      f.Address,
			Port:         f.Port,
			DefaultGroup: f.DefaultGroup,
			RateLimit: state.RateLimit{
				Enabled:   f.RateLimit.Enabled,
				PerSecond: f.RateLimit.PerSecond,
				Burst:     f.RateLimit.Burst,
			},
			ConnectTimeout: time.Duration(f.Timeout.Connect) * time.Second,
			Router:         rt,
		}
	}

	return &state.Snapshot{
		Generation: generation,
		Upstreams:  registry,
		Manager:    mgr,
		Forwards:   forwards,
		Admin: state.Admin{
			Address: cfg.HTTPServer.Admin.Address,
			Port:    cfg.HTTPServer.Admin.Port,
			Timeout: time.Duration(cfg.HTTPServer.Admin.Timeout.Connect) * time.Second,
		},
	}, nil
}

func buildUpstream(u Upstream) (*upstream.Upstream, error) {
	ru := &upstream.Upstream{Name: u.Name, BaseURL: u.URL}
	if u.Auth != nil {
		switch u.Auth.Type {
		case AuthBearer:
			ru.Auth = upstream.NewBearerAuth(u.Auth.Token)
		case AuthBasic:
			ru.Auth = upstream.NewBasicAuth(u.Auth.Username, u.Auth.Password)
		}
	}
	for _, op := range u.Headers {
		var kind upstream.HeaderOpKind
		switch op.Op {
		case HeaderOpInsert:
			kind = upstream.HeaderInsert
		case HeaderOpReplace:
			kind = upstream.HeaderReplace
		case HeaderOpRemove:
			kind = upstream.HeaderRemove
		default:
			return nil, fmt.Errorf("upstream %q has unknown header op %q", u.Name, op.Op)
		}
		ru.Headers = append(ru.Headers, upstream.HeaderOp{Kind: kind, Name: op.Key, Value: op.Value})
	}
	if u.Breaker != nil {
		ru.Breaker = &upstream.BreakerSettings{Threshold: u.Breaker.Threshold, CooldownS: u.Breaker.Cooldown}
	}
	return ru, nil
}

func newBalancer(strategy Strategy, managed []*balance.ManagedUpstream) balance.Balancer {
	switch strategy {
	case StrategyWeightedRoundRobin:
		return balance.NewWeightedRoundRobin(managed)
	case StrategyRandom:
		return balance.NewRandom(managed)
	case StrategyFailover:
		return balance.NewFailover(managed)
	case StrategyResponseAware:
		return balance.NewResponseAware(managed)
	default:
		return balance.NewRoundRobin(managed)
	}
}
