package dispatch

import (
	"testing"
	"time"
)

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := NewBreaker(BreakerConfig{MaxFailures: 3, OpenDuration: time.Minute})

	for i := 0; i < 2; i++ {
		b.RecordFailure()
	}
	if b.State() != BreakerClosed {
		t.Fatalf("state after 2 failures = %s, want closed", b.State())
	}

	b.RecordFailure()
	if b.State() != BreakerOpen {
		t.Fatalf("state after 3 failures = %s, want open", b.State())
	}
	if b.Allow() {
		t.Error("open breaker should reject calls before cooldown")
	}
	if b.RemainingCooldown() <= 0 {
		t.Error("open breaker should report remaining cooldown")
	}
}

func TestBreakerSuccessResetsFailures(t *testing.T) {
	b := NewBreaker(BreakerConfig{MaxFailures: 3, OpenDuration: time.Minute})

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()

	if b.Failures() != 0 {
		t.Errorf("failures after success = %d, want 0", b.Failures())
	}
	if b.State() != BreakerClosed {
		t.Errorf("state after success = %s, want closed", b.State())
	}
}

func TestBreakerHalfOpenSingleProbe(t *testing.T) {
	b := NewBreaker(BreakerConfig{MaxFailures: 1, OpenDuration: 20 * time.Millisecond})

	b.RecordFailure()
	if b.State() != BreakerOpen {
		t.Fatal("expected breaker to open")
	}
	if b.Allow() {
		t.Fatal("breaker should reject during cooldown")
	}

	time.Sleep(30 * time.Millisecond)

	if !b.Allow() {
		t.Fatal("breaker should admit one probe after cooldown")
	}
	if b.State() != BreakerHalfOpen {
		t.Fatalf("state = %s, want half-open", b.State())
	}
	if b.Allow() {
		t.Error("only one probe may be in flight while half-open")
	}

	b.RecordSuccess()
	if b.State() != BreakerClosed {
		t.Errorf("state after probe success = %s, want closed", b.State())
	}
	if b.Failures() != 0 {
		t.Errorf("failures after probe success = %d, want 0", b.Failures())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker(BreakerConfig{MaxFailures: 2, OpenDuration: 10 * time.Millisecond})

	b.RecordFailure()
	b.RecordFailure()
	time.Sleep(20 * time.Millisecond)

	if !b.Allow() {
		t.Fatal("expected half-open probe")
	}
	b.RecordFailure()

	if b.State() != BreakerOpen {
		t.Errorf("state after probe failure = %s, want open", b.State())
	}
	if b.Allow() {
		t.Error("breaker should reject again after probe failure")
	}
}
