package util

import (
	"testing"
	"time"
)

func TestBackoff_DoublesUntilMax(t *testing.T) {
	b := NewBackoff(10*time.Millisecond, 50*time.Millisecond)

	want := []time.Duration{10, 20, 40, 50, 50}
	for i, w := range want {
		if got := b.Next(); got != w*time.Millisecond {
			t.Errorf("step %d: expected %v, got %v", i, w*time.Millisecond, got)
		}
	}

	b.Reset()
	if got := b.Next(); got != 10*time.Millisecond {
		t.Errorf("after reset: expected 10ms, got %v", got)
	}
}

func TestBackoff_MaxBelowInitial(t *testing.T) {
	b := NewBackoff(100*time.Millisecond, time.Millisecond)
	if got := b.Next(); got != 100*time.Millisecond {
		t.Errorf("expected initial delay 100ms, got %v", got)
	}
	if got := b.Next(); got != 100*time.Millisecond {
		t.Errorf("expected delay capped at 100ms, got %v", got)
	}
}

func TestWrapError(t *testing.T) {
	if WrapError("read", nil) != nil {
		t.Error("expected nil for nil error")
	}
	err := WrapError("read sensor", errTest)
	if err.Error() != "failed to read sensor: boom" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

type testError string

func (e testError) Error() string { return string(e) }

const errTest = testError("boom")
