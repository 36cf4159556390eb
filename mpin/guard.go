// Package mpin throttles MPIN verification attempts: after a run of
// consecutive failures the guard locks for a fixed window, then unlocks on
// its own with the attempt counter reset.
package mpin

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"payment-sessions-service/logging"
	"payment-sessions-service/models"
	"payment-sessions-service/monitoring"
)

var (
	// ErrLocked indicates the guard is in its lockout window; the
	// submission was not sent upstream.
	ErrLocked = errors.New("mpin verification locked")
	// ErrRejected indicates the upstream explicitly rejected the MPIN.
	// Counts against the attempt ceiling.
	ErrRejected = errors.New("mpin rejected")
	// ErrVerifyUnavailable indicates the verify call itself failed
	// (timeout, network, 5xx). Does not count as a failed attempt.
	ErrVerifyUnavailable = errors.New("mpin verify unavailable")
)

// VerifyResult is a successful upstream verification.
type VerifyResult struct {
	Token          string
	TokenExpiresAt time.Time
	User           string
	Message        string
}

// Verifier is the remote MPIN verify API. Errors must wrap ErrRejected or
// ErrVerifyUnavailable.
type Verifier interface {
	Verify(ctx context.Context, mobileNumber, mpin string) (VerifyResult, error)
}

// Config tunes one guard.
type Config struct {
	MaxAttempts int           // lock after this many consecutive failures
	Lockout     time.Duration // lock window length
}

// DefaultConfig matches the mobile client: three attempts, two minutes.
var DefaultConfig = Config{MaxAttempts: 3, Lockout: 120 * time.Second}

// Guard is the attempt state machine for one mobile number. The lock is
// deadline-based: locked holds exactly while now is before the deadline, so
// the guard unlocks by itself with no timer goroutine.
type Guard struct {
	cfg      Config
	verifier Verifier
	now      func() time.Time

	mu          sync.Mutex
	attempts    int
	lockedUntil time.Time
}

// NewGuard creates an unlocked guard.
func NewGuard(cfg Config, verifier Verifier) *Guard {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig.MaxAttempts
	}
	if cfg.Lockout <= 0 {
		cfg.Lockout = DefaultConfig.Lockout
	}
	return &Guard{
		cfg:      cfg,
		verifier: verifier,
		now:      time.Now,
	}
}

// Submit verifies a candidate MPIN. While locked it rejects immediately with
// ErrLocked. A success resets the attempt counter. An explicit rejection
// counts toward the lockout; a verify-infrastructure failure does not.
func (g *Guard) Submit(ctx context.Context, mobileNumber, candidate string) (VerifyResult, error) {
	g.mu.Lock()
	g.refreshLocked()
	if g.lockedLocked() {
		g.mu.Unlock()
		monitoring.RecordMpinAttempt(ctx, "locked")
		return VerifyResult{}, ErrLocked
	}
	g.mu.Unlock()

	res, err := g.verifier.Verify(ctx, mobileNumber, candidate)

	g.mu.Lock()
	defer g.mu.Unlock()
	g.refreshLocked()

	switch {
	case err == nil:
		g.attempts = 0
		monitoring.RecordMpinAttempt(ctx, "success")
		return res, nil

	case errors.Is(err, ErrRejected):
		g.attempts++
		monitoring.RecordMpinAttempt(ctx, "rejected")
		if g.attempts >= g.cfg.MaxAttempts {
			g.lockedUntil = g.now().Add(g.cfg.Lockout)
			monitoring.RecordMpinLockout(ctx)
			logging.Warn("MPIN locked after consecutive failures",
				zap.Int("attempts", g.attempts),
				zap.Duration("lockout", g.cfg.Lockout),
			)
		}
		return VerifyResult{}, err

	default:
		// Connectivity trouble is not the user's fault; leave the
		// attempt counter alone.
		monitoring.RecordMpinAttempt(ctx, "unavailable")
		return VerifyResult{}, err
	}
}

// Reset zeroes the attempt counter. It cannot bypass an active lock.
func (g *Guard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.attempts = 0
}

// Status returns the current guard state. RemainingSeconds ticks down once
// per second while locked and reaches zero exactly when the guard unlocks.
func (g *Guard) Status() models.MpinStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refreshLocked()

	st := models.MpinStatus{
		Attempts:     g.attempts,
		AttemptsLeft: g.cfg.MaxAttempts - g.attempts,
	}
	if g.lockedLocked() {
		st.Locked = true
		st.AttemptsLeft = 0
		st.RemainingSeconds = int(math.Ceil(g.lockedUntil.Sub(g.now()).Seconds()))
	}
	return st
}

// lockedLocked reports whether the lock deadline is still in the future.
func (g *Guard) lockedLocked() bool {
	return !g.lockedUntil.IsZero() && g.now().Before(g.lockedUntil)
}

// refreshLocked applies the automatic unlock: once the deadline passes, the
// lock clears and attempts reset without any submission.
func (g *Guard) refreshLocked() {
	if !g.lockedUntil.IsZero() && !g.now().Before(g.lockedUntil) {
		g.lockedUntil = time.Time{}
		g.attempts = 0
	}
}
