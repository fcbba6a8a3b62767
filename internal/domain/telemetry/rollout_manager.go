package telemetry

import (
	"math"
	"time"

	"github.com/relaycore/relay/internal/domain/entity"
)

// BackoffConfig configures the retry schedule.
type BackoffConfig struct {
	MaxAttempts int           // attempt cap; 0 = use default of 3
	BaseDelay   time.Duration // base delay for exponential backoff
	MaxDelay    time.Duration
}

// DefaultBackoffConfig allows three attempts in all, with exponential
// backoff from a 2s base: 2s before the second attempt, 4s before the third.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{MaxAttempts: 3, BaseDelay: 2 * time.Second, MaxDelay: 30 * time.Second}
}

// RetryableError is implemented by errors that carry an explicit retry
// decision, letting the error taxonomy drive the rollout manager without
// string-sniffing error messages everywhere.
type RetryableError interface {
	error
	Retryable() bool
}

// RolloutManager owns the retry lifecycle for a single dispatch: it wraps
// the rollout state machine and decides whether a failed attempt should
// be retried, and for how long to wait first.
type RolloutManager struct {
	rollout *entity.Rollout
	cfg     BackoffConfig
}

// NewRolloutManager starts a new Running rollout for this dispatch.
func NewRolloutManager(rolloutID string, sessionID, channelID int64, resourceID string, cfg BackoffConfig) *RolloutManager {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 2 * time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	return &RolloutManager{
		rollout: entity.NewRollout(rolloutID, sessionID, channelID, resourceID),
		cfg:     cfg,
	}
}

// Rollout exposes the underlying entity (for persistence/telemetry display).
func (m *RolloutManager) Rollout() *entity.Rollout { return m.rollout }

// BeginAttempt starts and returns the next attempt.
func (m *RolloutManager) BeginAttempt() *entity.Attempt {
	m.rollout.State = entity.RolloutRunning
	return m.rollout.BeginAttempt()
}

// Succeed marks the given attempt (and the whole rollout) successful.
func (m *RolloutManager) Succeed(at *entity.Attempt, tokensUsed int) {
	at.EndedAt = time.Now()
	at.Success = true
	at.TokensUsed = tokensUsed
	m.rollout.State = entity.RolloutSucceeded
}

// FailAttempt records the attempt's failure and decides whether the
// rollout should retry. Returns (shouldRetry, delay).
func (m *RolloutManager) FailAttempt(at *entity.Attempt, err error) (bool, time.Duration) {
	at.EndedAt = time.Now()
	at.Success = false
	if err != nil {
		at.ErrorText = err.Error()
	}

	if re, ok := err.(RetryableError); ok && !re.Retryable() {
		m.rollout.State = entity.RolloutFailed
		return false, 0
	}

	attemptsUsed := len(m.rollout.Attempts)
	if attemptsUsed >= m.cfg.MaxAttempts {
		m.rollout.State = entity.RolloutFailed
		return false, 0
	}

	m.rollout.State = entity.RolloutRetrying
	return true, m.backoffDelay(attemptsUsed)
}

// backoffDelay computes exponential backoff: base * 2^(attempt-1), capped.
func (m *RolloutManager) backoffDelay(attemptsUsed int) time.Duration {
	d := time.Duration(float64(m.cfg.BaseDelay) * math.Pow(2, float64(attemptsUsed-1)))
	if d > m.cfg.MaxDelay {
		d = m.cfg.MaxDelay
	}
	return d
}

// AttemptCount returns how many attempts have been made so far.
func (m *RolloutManager) AttemptCount() int {
	return len(m.rollout.Attempts)
}

// FailedAttempts returns the number of failed attempts so far — used to
// decide whether a retry_succeeded reward should fire: exactly one such
// reward per dispatch that ultimately succeeds after k > 0 failures.
func (m *RolloutManager) FailedAttempts() int {
	return m.rollout.FailedAttempts()
}
