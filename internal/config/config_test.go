package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		HTTPServer: HTTPServer{
			Forwards: []Forward{{
				Name:         "public",
				Address:      "0.0.0.0",
				Port:         8080,
				DefaultGroup: "g1",
				Timeout:      Timeout{Connect: 5},
			}},
			Admin: Admin{Address: "127.0.0.1", Port: 9090, Timeout: Timeout{Connect: 5}},
		},
		Upstreams: []Upstream{
			{Name: "u1", URL: "http://localhost:9001"},
			{Name: "u2", URL: "http://localhost:9002"},
		},
		UpstreamGroups: []UpstreamGroup{{
			Name:      "g1",
			Upstreams: []UpstreamRef{{Name: "u1", Weight: 1}, {Name: "u2", Weight: 1}},
			Balance:   Balance{Strategy: StrategyRoundRobin},
			HTTPClient: HTTPClient{
				Timeout: HTTPClientTimeout{Connect: 5, Request: 30, Idle: 90},
			},
		}},
	}
}

func TestValidConfigPasses(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestDuplicateUpstreamNameRejected(t *testing.T) {
	c := validConfig()
	c.Upstreams = append(c.Upstreams, Upstream{Name: "u1", URL: "http://x"})
	if err := c.Validate(); err == nil {
		t.Fatal("expected duplicate name error")
	}
}

func TestWeightOutOfRangeRejected(t *testing.T) {
	c := validConfig()
	c.UpstreamGroups[0].Upstreams[0].Weight = 0
	if err := c.Validate(); err == nil {
		t.Fatal("expected weight out of range error")
	}
}

func TestGroupReferencingUnknownUpstreamRejected(t *testing.T) {
	c := validConfig()
	c.UpstreamGroups[0].Upstreams = append(c.UpstreamGroups[0].Upstreams, UpstreamRef{Name: "ghost", Weight: 1})
	if err := c.Validate(); err == nil {
		t.Fatal("expected unknown upstream reference error")
	}
}

func TestForwardReferencingUnknownGroupRejected(t *testing.T) {
	c := validConfig()
	c.HTTPServer.Forwards[0].DefaultGroup = "ghost"
	if err := c.Validate(); err == nil {
		t.Fatal("expected unknown group reference error")
	}
}

func TestWeightedRoundRobinRequiresWeightAboveOne(t *testing.T) {
	c := validConfig()
	c.UpstreamGroups[0].Balance.Strategy = StrategyWeightedRoundRobin
	if err := c.Validate(); err == nil {
		t.Fatal("expected weighted_roundrobin with all weight=1 to be rejected")
	}
}

func TestBearerAuthRequiresToken(t *testing.T) {
	c := validConfig()
	c.Upstreams[0].Auth = &Auth{Type: AuthBearer}
	if err := c.Validate(); err == nil {
		t.Fatal("expected missing bearer token to be rejected")
	}
}

func TestInvalidURLRejected(t *testing.T) {
	c := validConfig()
	c.Upstreams[0].URL = "://not a url"
	if err := c.Validate(); err == nil {
		t.Fatal("expected invalid url to be rejected")
	}
}

func TestBuildProducesSnapshot(t *testing.T) {
	c := validConfig()
	snap, err := Build(c, 1)
	require.NoError(t, err)
	require.NotNil(t, snap.Forwards["public"], "expected forward 'public' in snapshot")
	require.NotNil(t, snap.Upstreams.Lookup("u1"), "expected upstream 'u1' in snapshot registry")
}
