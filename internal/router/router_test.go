package router

import "testing"

func TestStaticBeatsParam(t *testing.T) {
	r, err := Build([]Rule{
		{Pattern: "/users/:id", Target: "param-group"},
		{Pattern: "/users/me", Target: "static-group"},
	}, "default-group")
	if err != nil {
		t.Fatal(err)
	}

	if target, isDefault := r.Resolve("/users/me"); target != "static-group" || isDefault {
		t.Fatalf("got %q, %v", target, isDefault)
	}
	if target, isDefault := r.Resolve("/users/123"); target != "param-group" || isDefault {
		t.Fatalf("got %q, %v", target, isDefault)
	}
}

func TestWildcardMatchesRemainder(t *testing.T) {
	r, err := Build([]Rule{{Pattern: "/static/*", Target: "assets"}}, "default-group")
	if err != nil {
		t.Fatal(err)
	}
	if target, isDefault := r.Resolve("/static/css/app.css"); target != "assets" || isDefault {
		t.Fatalf("got %q, %v", target, isDefault)
	}
}

func TestRegexSegment(t *testing.T) {
	r, err := Build([]Rule{{Pattern: "/items/{id:[0-9]+}", Target: "items"}}, "default-group")
	if err != nil {
		t.Fatal(err)
	}
	if target, isDefault := r.Resolve("/items/42"); target != "items" || isDefault {
		t.Fatalf("got %q, %v", target, isDefault)
	}
	if _, isDefault := r.Resolve("/items/abc"); !isDefault {
		t.Fatal("expected non-numeric id to miss the regex segment and fall back to default")
	}
}

func TestNoMatchFallsBackToDefault(t *testing.T) {
	r, err := Build(nil, "default-group")
	if err != nil {
		t.Fatal(err)
	}
	target, isDefault := r.Resolve("/anything")
	if target != "default-group" || !isDefault {
		t.Fatalf("got %q, %v", target, isDefault)
	}
}

func TestDuplicatePatternRejected(t *testing.T) {
	_, err := Build([]Rule{
		{Pattern: "/a", Target: "g1"},
		{Pattern: "/a", Target: "g2"},
	}, "default-group")
	if err == nil {
		t.Fatal("expected duplicate pattern error")
	}
}
