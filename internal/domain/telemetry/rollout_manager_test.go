package telemetry

import (
	"errors"
	"testing"
	"time"
)

type fatalErr struct{ msg string }

func (e fatalErr) Error() string   { return e.msg }
func (e fatalErr) Retryable() bool { return false }

func TestFailAttemptRetriesUnderCap(t *testing.T) {
	m := NewRolloutManager("r1", 1, 1, "res", DefaultBackoffConfig())
	at := m.BeginAttempt()
	retry, delay := m.FailAttempt(at, errors.New("transient"))
	if !retry {
		t.Fatal("expected retry on first failure")
	}
	if delay <= 0 {
		t.Fatal("expected positive backoff delay")
	}
}

func TestFailAttemptStopsAtCap(t *testing.T) {
	cfg := DefaultBackoffConfig()
	cfg.MaxAttempts = 2
	m := NewRolloutManager("r1", 1, 1, "res", cfg)

	at1 := m.BeginAttempt()
	if retry, _ := m.FailAttempt(at1, errors.New("e1")); !retry {
		t.Fatal("expected retry after attempt 1")
	}
	at2 := m.BeginAttempt()
	retry, _ := m.FailAttempt(at2, errors.New("e2"))
	if retry {
		t.Fatal("expected no retry once attempt cap reached")
	}
}

func TestFailAttemptHonorsNonRetryableError(t *testing.T) {
	m := NewRolloutManager("r1", 1, 1, "res", DefaultBackoffConfig())
	at := m.BeginAttempt()
	retry, delay := m.FailAttempt(at, fatalErr{"bad request"})
	if retry {
		t.Fatal("expected non-retryable error to stop the rollout")
	}
	if delay != 0 {
		t.Fatal("expected zero delay on non-retryable error")
	}
}

func TestBackoffGrowsExponentially(t *testing.T) {
	cfg := BackoffConfig{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: time.Minute}
	m := NewRolloutManager("r1", 1, 1, "res", cfg)

	var delays []time.Duration
	for i := 0; i < 3; i++ {
		at := m.BeginAttempt()
		_, d := m.FailAttempt(at, errors.New("transient"))
		delays = append(delays, d)
	}
	for i := 1; i < len(delays); i++ {
		if delays[i] <= delays[i-1] {
			t.Fatalf("expected increasing backoff, got %v", delays)
		}
	}
}

func TestSucceedMarksRolloutDone(t *testing.T) {
	m := NewRolloutManager("r1", 1, 1, "res", DefaultBackoffConfig())
	at := m.BeginAttempt()
	m.Succeed(at, 42)
	if !at.Success {
		t.Fatal("expected attempt marked successful")
	}
	if m.Rollout().State != "Succeeded" {
		t.Fatalf("expected rollout state succeeded, got %s", m.Rollout().State)
	}
}
