package admin

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/llmproxy/llmproxy/internal/config"
	"github.com/llmproxy/llmproxy/internal/state"
)

func baseConfig() config.Config {
	return config.Config{
		HTTPServer: config.HTTPServer{
			Forwards: []config.Forward{{
				Name: "public", Address: "127.0.0.1", Port: 8080, DefaultGroup: "g1",
				Timeout: config.Timeout{Connect: 5},
			}},
			Admin: config.Admin{Address: "127.0.0.1", Port: 9090, Timeout: config.Timeout{Connect: 5}},
		},
		Upstreams: []config.Upstream{{Name: "u1", URL: "http://localhost:9001"}},
		UpstreamGroups: []config.UpstreamGroup{{
			Name:      "g1",
			Upstreams: []config.UpstreamRef{{Name: "u1", Weight: 1}},
			Balance:   config.Balance{Strategy: config.StrategyRoundRobin},
			HTTPClient: config.HTTPClient{
				Timeout: config.HTTPClientTimeout{Connect: 5, Request: 30, Idle: 90},
			},
		}},
	}
}

func newTestMux(t *testing.T) (http.Handler, *Mutator) {
	t.Helper()
	cfg := baseConfig()
	snap, err := config.Build(&cfg, 0)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	m := NewMutator(cfg, state.NewStore(snap))
	return NewMux(m), m
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	mux, _ := newTestMux(t)
	w := doJSON(t, mux, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestListUpstreams(t *testing.T) {
	mux, _ := newTestMux(t)
	w := doJSON(t, mux, http.MethodGet, "/api/v1/upstreams", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", w.Code, w.Body.String())
	}
}

func TestPutUpstreamThenGet(t *testing.T) {
	mux, _ := newTestMux(t)
	w := doJSON(t, mux, http.MethodPut, "/api/v1/upstreams/u2", config.Upstream{URL: "http://localhost:9002"})
	if w.Code != http.StatusOK {
		t.Fatalf("put status = %d body=%s", w.Code, w.Body.String())
	}
	w = doJSON(t, mux, http.MethodGet, "/api/v1/upstreams/u2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
}

func TestDeleteUpstreamBlockedByGroupReference(t *testing.T) {
	mux, _ := newTestMux(t)
	w := doJSON(t, mux, http.MethodDelete, "/api/v1/upstreams/u1", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 conflict, got %d body=%s", w.Code, w.Body.String())
	}
}

func TestDeleteGroupBlockedByForwardReference(t *testing.T) {
	mux, _ := newTestMux(t)
	w := doJSON(t, mux, http.MethodDelete, "/api/v1/upstream-groups/g1", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 conflict, got %d body=%s", w.Code, w.Body.String())
	}
}

func TestRoutePutAndDeleteRoundTrip(t *testing.T) {
	mux, _ := newTestMux(t)
	encoded := encodeRoutePath("/v1/chat")

	w := doJSON(t, mux, http.MethodPut, "/api/v1/forwards/public/routes/"+encoded, map[string]string{"target_group": "g1"})
	if w.Code != http.StatusOK {
		t.Fatalf("put route status = %d body=%s", w.Code, w.Body.String())
	}

	w = doJSON(t, mux, http.MethodGet, "/api/v1/forwards/public/routes", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list routes status = %d", w.Code)
	}

	w = doJSON(t, mux, http.MethodDelete, "/api/v1/forwards/public/routes/"+encoded, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete route status = %d body=%s", w.Code, w.Body.String())
	}
}

func TestAuthMiddlewareRejectsMissingToken(t *testing.T) {
	os.Setenv(adminAuthTokenEnv, "secret")
	defer os.Unsetenv(adminAuthTokenEnv)

	mux, _ := newTestMux(t)
	w := doJSON(t, mux, http.MethodGet, "/api/v1/upstreams", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestAuthMiddlewareAllowsHealthWithoutToken(t *testing.T) {
	os.Setenv(adminAuthTokenEnv, "secret")
	defer os.Unsetenv(adminAuthTokenEnv)

	mux, _ := newTestMux(t)
	w := doJSON(t, mux, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected /health to bypass auth, got %d", w.Code)
	}
}

func TestAuthMiddlewareAllowsMatchingToken(t *testing.T) {
	os.Setenv(adminAuthTokenEnv, "secret")
	defer os.Unsetenv(adminAuthTokenEnv)

	mux, _ := newTestMux(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/upstreams", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with matching token, got %d", w.Code)
	}
}
