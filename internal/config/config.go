// Package config loads and validates the YAML configuration of spec
// §6 and builds a runtime state.Snapshot from it. Validation bounds
// and cross-entity integrity checks are translated from
// original_source/src/config.rs's Config::validate, and the schema
// shape (forwards/admin/upstreams/upstream_groups) follows spec §6
// verbatim. YAML parsing uses gopkg.in/yaml.v3, matching the rest of
// the teacher pack's preference for that module over encoding/json or
// a TOML decoder.
package config

import (
	"fmt"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// Bounds named in spec §3/§6, translated from original_source's
// r#const limit tables.
const (
	minWeight = 1
	maxWeight = 65535

	minBreakerThreshold = 0.01
	maxBreakerThreshold = 1.0
	minBreakerCooldownS = 5
	maxBreakerCooldownS = 3600

	minPerSecond = 1
	maxPerSecond = 10000
	minBurst     = 1
	maxBurst     = 20000

	minConnectTimeoutS = 1
	maxConnectTimeoutS = 120

	minRetryAttempts  = 1
	maxRetryAttempts  = 100
	minRetryInitialMs = 100
	maxRetryInitialMs = 10000

	defaultRetryMaxDelayS = 30
)

// Config is the top-level YAML document (spec §6).
type Config struct {
	HTTPServer     HTTPServer      `yaml:"http_server"`
	Upstreams      []Upstream      `yaml:"upstreams"`
	UpstreamGroups []UpstreamGroup `yaml:"upstream_groups"`
}

type HTTPServer struct {
	Forwards []Forward `yaml:"forwards"`
	Admin    Admin     `yaml:"admin"`
}

type Forward struct {
	Name         string    `yaml:"name"`
	Address      string    `yaml:"address"`
	Port         int       `yaml:"port"`
	DefaultGroup string    `yaml:"default_group"`
	Routing      []Route   `yaml:"routing"`
	RateLimit    RateLimit `yaml:"ratelimit"`
	Timeout      Timeout   `yaml:"timeout"`
}

type Route struct {
	Path        string `yaml:"path"`
	TargetGroup string `yaml:"target_group"`
}

type RateLimit struct {
	Enabled   bool `yaml:"enabled"`
	PerSecond int  `yaml:"per_second"`
	Burst     int  `yaml:"burst"`
}

type Timeout struct {
	Connect int `yaml:"connect"`
}

type Admin struct {
	Address string  `yaml:"address"`
	Port    int     `yaml:"port"`
	Timeout Timeout `yaml:"timeout"`
}

type AuthType string

const (
	AuthNone   AuthType = "none"
	AuthBearer AuthType = "bearer"
	AuthBasic  AuthType = "basic"
)

type Auth struct {
	Type     AuthType `yaml:"type"`
	Token    string   `yaml:"token"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
}

type HeaderOpType string

const (
	HeaderOpInsert  HeaderOpType = "insert"
	HeaderOpRemove  HeaderOpType = "remove"
	HeaderOpReplace HeaderOpType = "replace"
)

type HeaderOp struct {
	Op    HeaderOpType `yaml:"op"`
	Key   string       `yaml:"key"`
	Value string       `yaml:"value"`
}

type Breaker struct {
	Threshold float64 `yaml:"threshold"`
	Cooldown  int     `yaml:"cooldown"`
}

type Upstream struct {
	Name    string     `yaml:"name"`
	URL     string     `yaml:"url"`
	Auth    *Auth      `yaml:"auth"`
	Headers []HeaderOp `yaml:"headers"`
	Breaker *Breaker   `yaml:"breaker"`
}

type UpstreamRef struct {
	Name   string `yaml:"name"`
	Weight int    `yaml:"weight"`
}

type Strategy string

const (
	StrategyRoundRobin         Strategy = "roundrobin"
	StrategyWeightedRoundRobin Strategy = "weighted_roundrobin"
	StrategyRandom             Strategy = "random"
	StrategyFailover           Strategy = "failover"
	StrategyResponseAware      Strategy = "response_aware"
)

type Balance struct {
	Strategy Strategy `yaml:"strategy"`
}

type HTTPClientTimeout struct {
	Connect int `yaml:"connect"`
	Request int `yaml:"request"`
	Idle    int `yaml:"idle"`
}

type Retry struct {
	Enabled  bool `yaml:"enabled"`
	Attempts int  `yaml:"attempts"`
	Initial  int  `yaml:"initial"`
}

type Proxy struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

type HTTPClient struct {
	Timeout    HTTPClientTimeout `yaml:"timeout"`
	Keepalive  int               `yaml:"keepalive"`
	Retry      Retry             `yaml:"retry"`
	Proxy      Proxy             `yaml:"proxy"`
	StreamMode bool              `yaml:"stream_mode"`
}

type UpstreamGroup struct {
	Name       string        `yaml:"name"`
	Upstreams  []UpstreamRef `yaml:"upstreams"`
	Balance    Balance       `yaml:"balance"`
	HTTPClient HTTPClient    `yaml:"http_client"`
}

// Load reads and parses path, then validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %q: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks name uniqueness, cross-entity integrity, and every
// numeric bound named in spec §3/§6.
func (c *Config) Validate() error {
	if err := c.validateNameUniqueness(); err != nil {
		return err
	}

	upstreamNames := make(map[string]bool, len(c.Upstreams))
	for _, u := range c.Upstreams {
		upstreamNames[u.Name] = true
	}

	for _, g := range c.UpstreamGroups {
		if len(g.Upstreams) == 0 {
			return fmt.Errorf("upstream group %q has no upstreams", g.Name)
		}
		hasWeightAboveOne := false
		for _, ref := range g.Upstreams {
			if !upstreamNames[ref.Name] {
				return fmt.Errorf("upstream group %q references non-existent upstream %q", g.Name, ref.Name)
			}
			if ref.Weight < minWeight || ref.Weight > maxWeight {
				return fmt.Errorf("weight %d for upstream %q in group %q out of range [%d, %d]", ref.Weight, ref.Name, g.Name, minWeight, maxWeight)
			}
			if ref.Weight > 1 {
				hasWeightAboveOne = true
			}
		}
		if g.Balance.Strategy == StrategyWeightedRoundRobin && !hasWeightAboveOne {
			return fmt.Errorf("upstream group %q uses weighted_roundrobin but no member has weight > 1", g.Name)
		}
		if err := validateHTTPClient(g.Name, g.HTTPClient); err != nil {
			return err
		}
	}

	groupNames := make(map[string]bool, len(c.UpstreamGroups))
	for _, g := range c.UpstreamGroups {
		groupNames[g.Name] = true
	}

	for _, f := range c.HTTPServer.Forwards {
		if !groupNames[f.DefaultGroup] {
			return fmt.Errorf("forward %q references non-existent default group %q", f.Name, f.DefaultGroup)
		}
		seenPaths := make(map[string]bool, len(f.Routing))
		for _, route := range f.Routing {
			if seenPaths[route.Path] {
				return fmt.Errorf("forward %q has duplicate route pattern %q", f.Name, route.Path)
			}
			seenPaths[route.Path] = true
			if !groupNames[route.TargetGroup] {
				return fmt.Errorf("forward %q route %q references non-existent group %q", f.Name, route.Path, route.TargetGroup)
			}
		}
		if f.RateLimit.Enabled {
			if f.RateLimit.PerSecond < minPerSecond || f.RateLimit.PerSecond > maxPerSecond {
				return fmt.Errorf("forward %q ratelimit per_second %d out of range [%d, %d]", f.Name, f.RateLimit.PerSecond, minPerSecond, maxPerSecond)
			}
			if f.RateLimit.Burst < minBurst || f.RateLimit.Burst > maxBurst {
				return fmt.Errorf("forward %q ratelimit burst %d out of range [%d, %d]", f.Name, f.RateLimit.Burst, minBurst, maxBurst)
			}
		}
		if err := validateConnectTimeout(fmt.Sprintf("forward %q", f.Name), f.Timeout.Connect); err != nil {
			return err
		}
	}

	if err := validateConnectTimeout("admin service", c.HTTPServer.Admin.Timeout.Connect); err != nil {
		return err
	}

	for _, u := range c.Upstreams {
		if _, err := url.Parse(u.URL); err != nil {
			return fmt.Errorf("upstream %q has invalid url %q: %w", u.Name, u.URL, err)
		}
		if err := validateAuth(u); err != nil {
			return err
		}
		if err := validateHeaderOps(u); err != nil {
			return err
		}
		if u.Breaker != nil {
			if u.Breaker.Threshold < minBreakerThreshold || u.Breaker.Threshold > maxBreakerThreshold {
				return fmt.Errorf("upstream %q breaker threshold %v out of range [%v, %v]", u.Name, u.Breaker.Threshold, minBreakerThreshold, maxBreakerThreshold)
			}
			if u.Breaker.Cooldown < minBreakerCooldownS || u.Breaker.Cooldown > maxBreakerCooldownS {
				return fmt.Errorf("upstream %q breaker cooldown %d out of range [%d, %d]", u.Name, u.Breaker.Cooldown, minBreakerCooldownS, maxBreakerCooldownS)
			}
		}
	}

	return nil
}

func (c *Config) validateNameUniqueness() error {
	forwardNames := make(map[string]bool)
	for _, f := range c.HTTPServer.Forwards {
		if forwardNames[f.Name] {
			return fmt.Errorf("duplicate forward name %q", f.Name)
		}
		forwardNames[f.Name] = true
	}
	upstreamNames := make(map[string]bool)
	for _, u := range c.Upstreams {
		if upstreamNames[u.Name] {
			return fmt.Errorf("duplicate upstream name %q", u.Name)
		}
		upstreamNames[u.Name] = true
	}
	groupNames := make(map[string]bool)
	for _, g := range c.UpstreamGroups {
		if groupNames[g.Name] {
			return fmt.Errorf("duplicate upstream group name %q", g.Name)
		}
		groupNames[g.Name] = true
	}
	return nil
}

func validateConnectTimeout(context string, connect int) error {
	if connect < minConnectTimeoutS || connect > maxConnectTimeoutS {
		return fmt.Errorf("%s connect timeout %ds out of range [%d, %d]", context, connect, minConnectTimeoutS, maxConnectTimeoutS)
	}
	return nil
}

func validateHTTPClient(groupName string, hc HTTPClient) error {
	if err := validateConnectTimeout(fmt.Sprintf("upstream group %q", groupName), hc.Timeout.Connect); err != nil {
		return err
	}
	if hc.Retry.Enabled {
		if hc.Retry.Attempts < minRetryAttempts || hc.Retry.Attempts > maxRetryAttempts {
			return fmt.Errorf("upstream group %q retry attempts %d out of range [%d, %d]", groupName, hc.Retry.Attempts, minRetryAttempts, maxRetryAttempts)
		}
		if hc.Retry.Initial < minRetryInitialMs || hc.Retry.Initial > maxRetryInitialMs {
			return fmt.Errorf("upstream group %q retry initial %dms out of range [%d, %d]", groupName, hc.Retry.Initial, minRetryInitialMs, maxRetryInitialMs)
		}
	}
	if hc.Proxy.Enabled {
		if _, err := url.Parse(hc.Proxy.URL); err != nil {
			return fmt.Errorf("upstream group %q proxy url %q invalid: %w", groupName, hc.Proxy.URL, err)
		}
	}
	return nil
}

func validateAuth(u Upstream) error {
	if u.Auth == nil {
		return nil
	}
	switch u.Auth.Type {
	case AuthBearer:
		if u.Auth.Token == "" {
			return fmt.Errorf("upstream %q uses bearer auth but has no token", u.Name)
		}
	case AuthBasic:
		if u.Auth.Username == "" || u.Auth.Password == "" {
			return fmt.Errorf("upstream %q uses basic auth but is missing username or password", u.Name)
		}
	case AuthNone, "":
	default:
		return fmt.Errorf("upstream %q has unknown auth type %q", u.Name, u.Auth.Type)
	}
	return nil
}

func validateHeaderOps(u Upstream) error {
	for _, op := range u.Headers {
		switch op.Op {
		case HeaderOpInsert, HeaderOpReplace:
			if op.Value == "" {
				return fmt.Errorf("upstream %q header op %q on key %q requires a value", u.Name, op.Op, op.Key)
			}
		case HeaderOpRemove:
		default:
			return fmt.Errorf("upstream %q has unknown header op %q", u.Name, op.Op)
		}
	}
	return nil
}
