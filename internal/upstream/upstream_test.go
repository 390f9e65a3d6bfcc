package upstream

import (
	"net/http"
	"testing"
)

func TestMutateHeadersNoOpsReturnsSameMap(t *testing.T) {
	u := &Upstream{Name: "a"}
	src := http.Header{"X-In": []string{"1"}}
	out := u.MutateHeaders(src)
	out.Set("X-New", "v")
	if src.Get("X-New") != "v" {
		t.Fatal("expected MutateHeaders to return the same underlying map when there are no ops")
	}
}

func TestMutateHeadersAppliesOpsInOrder(t *testing.T) {
	u := &Upstream{Name: "a", Headers: []HeaderOp{
		{Kind: HeaderInsert, Name: "X-A", Value: "1"},
		{Kind: HeaderReplace, Name: "X-A", Value: "2"},
		{Kind: HeaderRemove, Name: "X-B"},
	}}
	src := http.Header{"X-B": []string{"gone"}}
	out := u.MutateHeaders(src)
	if out.Get("X-A") != "2" {
		t.Fatalf("X-A = %q, want 2", out.Get("X-A"))
	}
	if out.Get("X-B") != "" {
		t.Fatal("expected X-B removed")
	}
	if src.Get("X-B") == "" {
		t.Fatal("expected original header map left untouched when ops are applied")
	}
}

func TestAuthApply(t *testing.T) {
	h := make(http.Header)
	NewBearerAuth("tok").Apply(h)
	if h.Get("Authorization") != "Bearer tok" {
		t.Fatalf("got %q", h.Get("Authorization"))
	}

	h = make(http.Header)
	NewBasicAuth("user", "pass").Apply(h)
	if h.Get("Authorization") != "Basic dXNlcjpwYXNz" {
		t.Fatalf("got %q", h.Get("Authorization"))
	}

	h = make(http.Header)
	Auth{}.Apply(h)
	if h.Get("Authorization") != "" {
		t.Fatal("expected AuthNone to leave Authorization unset")
	}
}

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry([]*Upstream{{Name: "a"}, {Name: "b"}})
	if r.Lookup("a") == nil {
		t.Fatal("expected a present")
	}
	if r.Lookup("missing") != nil {
		t.Fatal("expected missing absent")
	}
}
