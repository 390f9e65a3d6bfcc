package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAllowRespectsBurstThenRejects(t *testing.T) {
	l := New(1, 2)
	if !l.Allow("1.2.3.4") {
		t.Fatal("expected first request allowed")
	}
	if !l.Allow("1.2.3.4") {
		t.Fatal("expected second request allowed (burst=2)")
	}
	if l.Allow("1.2.3.4") {
		t.Fatal("expected third request rejected")
	}
}

func TestAllowIsPerClient(t *testing.T) {
	l := New(1, 1)
	if !l.Allow("1.1.1.1") {
		t.Fatal("expected client a allowed")
	}
	if !l.Allow("2.2.2.2") {
		t.Fatal("expected independent bucket for client b")
	}
}

func TestMiddlewareRejectsOverLimit(t *testing.T) {
	l := New(1, 1)
	rejected := false
	h := Middleware(l, func(r *http.Request) { rejected = true }, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "5.5.5.5:1234"

	w1 := httptest.NewRecorder()
	h.ServeHTTP(w1, req)
	if w1.Code != http.StatusOK {
		t.Fatalf("first request status = %d", w1.Code)
	}

	w2 := httptest.NewRecorder()
	h.ServeHTTP(w2, req)
	if w2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", w2.Code)
	}
	if !rejected {
		t.Fatal("expected onReject callback invoked")
	}
}
