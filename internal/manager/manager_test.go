package manager

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/llmproxy/llmproxy/internal/apperr"
	"github.com/llmproxy/llmproxy/internal/balance"
	"github.com/llmproxy/llmproxy/internal/breaker"
	"github.com/llmproxy/llmproxy/internal/upstream"
)

func TestForwardGroupNotFound(t *testing.T) {
	m := New(upstream.NewRegistry(nil), nil, nil, nil)
	_, err := m.Forward(context.Background(), "missing", http.MethodGet, "/x", nil, nil)
	ae, ok := apperr.As(err)
	if !ok || ae.Kind != apperr.KindUpstreamGroupNotFound {
		t.Fatalf("expected UpstreamGroupNotFound, got %v", err)
	}
}

func TestForwardSuccessRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Upstream", "1")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	up := &upstream.Upstream{Name: "u1", BaseURL: srv.URL}
	reg := upstream.NewRegistry([]*upstream.Upstream{up})
	mu := &balance.ManagedUpstream{Ref: balance.Ref{Name: "u1", Weight: 1}}
	bal := balance.NewRoundRobin([]*balance.ManagedUpstream{mu})

	client, err := NewHTTPClient(ClientConfig{ConnectTimeout: time.Second, RequestTimeout: 5 * time.Second})
	if err != nil {
		t.Fatal(err)
	}

	m := New(reg, map[string]balance.Balancer{"g": bal}, map[string]*http.Client{"g": client}, map[string]ClientConfig{"g": {}})

	res, err := m.Forward(context.Background(), "g", http.MethodGet, "/path", make(http.Header), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	b, _ := io.ReadAll(res.Body)
	if string(b) != "hello" {
		t.Fatalf("body = %q", b)
	}
}

func TestForwardRetryReplaysBody(t *testing.T) {
	var attempts int32
	var gotBodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBodies = append(gotBodies, string(b))
		if atomic.AddInt32(&attempts, 1) < 2 {
			// simulate a transient transport fault: hang up without a
			// response so the client sees an error, not a status code.
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Fatal("ResponseWriter does not support hijacking")
			}
			conn, _, _ := hj.Hijack()
			conn.Close()
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	up := &upstream.Upstream{Name: "u1", BaseURL: srv.URL}
	reg := upstream.NewRegistry([]*upstream.Upstream{up})
	mu := &balance.ManagedUpstream{Ref: balance.Ref{Name: "u1", Weight: 1}}
	bal := balance.NewRoundRobin([]*balance.ManagedUpstream{mu})

	client, err := NewHTTPClient(ClientConfig{ConnectTimeout: time.Second, RequestTimeout: 5 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	cfg := ClientConfig{Retry: &RetryPolicy{Enabled: true, Attempts: 3, InitialMs: 1, MaxDelayS: 1}}
	m := New(reg, map[string]balance.Balancer{"g": bal}, map[string]*http.Client{"g": client}, map[string]ClientConfig{"g": cfg})

	_, err = m.Forward(context.Background(), "g", http.MethodPut, "/path", make(http.Header), []byte("payload"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, b := range gotBodies {
		if b != "payload" {
			t.Fatalf("expected every retry to replay the original body, got %q across attempts %v", b, gotBodies)
		}
	}
}

func TestForwardSkipsOpenBreakerUpstream(t *testing.T) {
	up := &upstream.Upstream{Name: "u1", BaseURL: "http://127.0.0.1:1"}
	reg := upstream.NewRegistry([]*upstream.Upstream{up})

	br := breaker.New("g", "u1", up.BaseURL, 0.1, time.Minute)
	for i := 0; i < 5; i++ {
		br.Report(false)
	}
	mu := &balance.ManagedUpstream{Ref: balance.Ref{Name: "u1", Weight: 1}, Breaker: br}
	bal := balance.NewRoundRobin([]*balance.ManagedUpstream{mu})

	client, _ := NewHTTPClient(ClientConfig{ConnectTimeout: time.Second, RequestTimeout: time.Second})
	m := New(reg, map[string]balance.Balancer{"g": bal}, map[string]*http.Client{"g": client}, map[string]ClientConfig{"g": {}})

	_, err := m.Forward(context.Background(), "g", http.MethodGet, "/", make(http.Header), nil)
	ae, ok := apperr.As(err)
	if !ok || ae.Kind != apperr.KindNoHealthyUpstreamAvailable {
		t.Fatalf("expected NoHealthyUpstreamAvailable (balancer filters open-breaker upstreams before dispatch), got %v", err)
	}
}
