package breaker

import (
	"errors"
	"testing"
	"time"
)

func TestClosedPermitsUntilThresholdTripped(t *testing.T) {
	b := New("g", "u", "http://u", 0.5, time.Minute)
	if !b.Permitted() {
		t.Fatal("expected Closed breaker to permit")
	}

	for i := 0; i < minSamples-1; i++ {
		b.Report(false)
	}
	if b.State() != Closed {
		t.Fatalf("expected Closed before minSamples reached, got %v", b.State())
	}

	b.Report(false)
	if b.State() != Open {
		t.Fatalf("expected Open after failure ratio >= threshold, got %v", b.State())
	}
	if b.Permitted() {
		t.Fatal("expected Open breaker to reject")
	}
}

func TestHalfOpenProbeSuccessCloses(t *testing.T) {
	b := New("g", "u", "http://u", 0.5, 10*time.Millisecond)
	for i := 0; i < minSamples; i++ {
		b.Report(false)
	}
	if b.State() != Open {
		t.Fatalf("expected Open, got %v", b.State())
	}

	time.Sleep(15 * time.Millisecond)
	if b.State() != HalfOpen {
		t.Fatalf("expected HalfOpen after cooldown, got %v", b.State())
	}
	if !b.Permitted() {
		t.Fatal("expected first HalfOpen probe to be permitted")
	}
	if b.Permitted() {
		t.Fatal("expected second concurrent probe to be rejected")
	}

	b.Report(true)
	if b.State() != Closed {
		t.Fatalf("expected Closed after successful probe, got %v", b.State())
	}
}

func TestHalfOpenProbeFailureReopens(t *testing.T) {
	b := New("g", "u", "http://u", 0.5, 10*time.Millisecond)
	for i := 0; i < minSamples; i++ {
		b.Report(false)
	}
	time.Sleep(15 * time.Millisecond)
	b.State() // force HalfOpen transition
	b.Permitted()
	b.Report(false)
	if b.State() != Open {
		t.Fatalf("expected Open after failed probe, got %v", b.State())
	}
}

func TestExecuteRejectsWhenOpen(t *testing.T) {
	b := New("g", "u", "http://u", 0.5, time.Minute)
	for i := 0; i < minSamples; i++ {
		b.Report(false)
	}
	err := b.Execute(func() error { return nil })
	if err == nil {
		t.Fatal("expected rejection error")
	}
}

func TestExecutePropagatesOperationError(t *testing.T) {
	b := New("g", "u", "http://u", 0.9, time.Minute)
	want := errors.New("boom")
	err := b.Execute(func() error { return want })
	if !errors.Is(err, want) {
		t.Fatalf("expected wrapped %v, got %v", want, err)
	}
}
