package state

import (
	"errors"
	"testing"
)

func TestTransitionTable(t *testing.T) {
	allowed := []struct{ from, to string }{
		{StatePending, StateProcessing},
		{StatePending, StateCancelled},
		{StateProcessing, StateCompleted},
		{StateProcessing, StateFailed},
		{StateProcessing, StatePartiallyFailed},
		{StateFailed, StatePending},
		{StateCompleted, StateReversed},
	}
	for _, tc := range allowed {
		if !CanTransition(tc.from, tc.to) {
			t.Fatalf("%s -> %s should be allowed", tc.from, tc.to)
		}
		if err := Validate(tc.from, tc.to); err != nil {
			t.Fatalf("%s -> %s: unexpected error %v", tc.from, tc.to, err)
		}
	}

	denied := []struct{ from, to string }{
		{StatePending, StateCompleted},
		{StatePending, StateFailed},
		{StateProcessing, StateCancelled},
		{StateProcessing, StateReversed},
		{StateCompleted, StatePending},
		{StateCompleted, StateFailed},
		{StateFailed, StateProcessing},
		{StateFailed, StateCompleted},
		{StatePartiallyFailed, StatePending},
		{StatePartiallyFailed, StateCompleted},
		{StateCancelled, StateProcessing},
		{StateReversed, StateCompleted},
		{StateCompleted, StateCompleted},
	}
	for _, tc := range denied {
		if CanTransition(tc.from, tc.to) {
			t.Fatalf("%s -> %s should be denied", tc.from, tc.to)
		}
	}
}

func TestValidateError(t *testing.T) {
	err := Validate(StateProcessing, StateCancelled)
	if err == nil {
		t.Fatal("expected error")
	}
	var ite *InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected *InvalidTransitionError, got %T", err)
	}
	if ite.From != StateProcessing || ite.To != StateCancelled {
		t.Fatalf("wrong error fields: %+v", ite)
	}
}

func TestIsTerminal(t *testing.T) {
	terminal := []string{StateCompleted, StateCancelled, StateReversed, StatePartiallyFailed}
	for _, s := range terminal {
		if !IsTerminal(s) {
			t.Fatalf("%s should be terminal", s)
		}
	}
	for _, s := range []string{StatePending, StateProcessing, StateFailed} {
		if IsTerminal(s) {
			t.Fatalf("%s should not be terminal", s)
		}
	}
}

func TestIsValidState(t *testing.T) {
	for _, s := range []string{StatePending, StateProcessing, StateCompleted, StateFailed, StatePartiallyFailed, StateCancelled, StateReversed} {
		if !IsValidState(s) {
			t.Fatalf("%s should be valid", s)
		}
	}
	if IsValidState("UNKNOWN") {
		t.Fatal("UNKNOWN should not be valid")
	}
}
