package breaker

import (
	"errors"
	"testing"
	"time"
)

func TestClosedUntilThreshold(t *testing.T) {
	b := New("dep", Options{FailureThreshold: 3, RecoveryTimeout: time.Minute})
	for i := 0; i < 2; i++ {
		b.RecordFailure()
		if err := b.CanExecute(); err != nil {
			t.Fatalf("should stay closed after %d failures: %v", i+1, err)
		}
	}
	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("expected open after threshold, got %s", b.State())
	}
	err := b.CanExecute()
	if err == nil {
		t.Fatal("open breaker must reject")
	}
	var eo *ErrOpen
	if !errors.As(err, &eo) || eo.Name != "dep" {
		t.Fatalf("expected *ErrOpen{dep}, got %v", err)
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := New("dep", Options{FailureThreshold: 3, RecoveryTimeout: time.Minute})
	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	if b.State() != StateClosed {
		t.Fatalf("success should reset the streak, got %s", b.State())
	}
}

func TestHalfOpenWindow(t *testing.T) {
	b := New("dep", Options{FailureThreshold: 1, RecoveryTimeout: 10 * time.Millisecond, HalfOpenMaxCalls: 2})
	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %s", b.State())
	}
	time.Sleep(15 * time.Millisecond)
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half_open after recovery timeout, got %s", b.State())
	}

	// 窗口内放行，超出拒绝
	if err := b.CanExecute(); err != nil {
		t.Fatalf("first probe should pass: %v", err)
	}
	if err := b.CanExecute(); err != nil {
		t.Fatalf("second probe should pass: %v", err)
	}
	if err := b.CanExecute(); err == nil {
		t.Fatal("probe beyond window must be rejected")
	}
}

func TestHalfOpenSuccessCloses(t *testing.T) {
	b := New("dep", Options{FailureThreshold: 1, RecoveryTimeout: 10 * time.Millisecond, HalfOpenMaxCalls: 2})
	b.RecordFailure()
	time.Sleep(15 * time.Millisecond)

	_ = b.CanExecute()
	b.RecordSuccess()
	_ = b.CanExecute()
	b.RecordSuccess()
	if b.State() != StateClosed {
		t.Fatalf("all probes succeeded, expected closed, got %s", b.State())
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b := New("dep", Options{FailureThreshold: 1, RecoveryTimeout: 10 * time.Millisecond, HalfOpenMaxCalls: 3})
	b.RecordFailure()
	time.Sleep(15 * time.Millisecond)

	_ = b.CanExecute()
	b.RecordSuccess()
	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("single half-open failure must reopen, got %s", b.State())
	}
	// 恢复计时已重置，立即仍是拒绝
	if err := b.CanExecute(); err == nil {
		t.Fatal("reopened breaker must reject")
	}
}

func TestRegistrySharesInstances(t *testing.T) {
	r := NewRegistry(Options{})
	a := r.Get("wallet")
	b := r.Get("wallet")
	if a != b {
		t.Fatal("same name must return same breaker")
	}
	if r.Get("other") == a {
		t.Fatal("different names must not share")
	}

	states := r.States()
	if len(states) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(states))
	}
	if states["wallet"] != StateClosed {
		t.Fatalf("fresh breaker should be closed, got %s", states["wallet"])
	}
}
