// Package retry decides whether a failed fetch is worth another attempt and how long to wait.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"net"
	"time"
)

// Config tunes a Policy. MaxAttempts counts the first try, so 1 disables retries.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Policy implements jittered exponential backoff.
type Policy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// New builds a Policy, filling zero fields with defaults.
func New(cfg Config) *Policy {
	p := &Policy{maxAttempts: cfg.MaxAttempts, baseDelay: cfg.BaseDelay, maxDelay: cfg.MaxDelay}
	if p.maxAttempts <= 0 {
		p.maxAttempts = 1
	}
	if p.baseDelay <= 0 {
		p.baseDelay = 250 * time.Millisecond
	}
	if p.maxDelay <= 0 {
		p.maxDelay = 5 * time.Second
	}
	return p
}

// ShouldRetry reports whether err deserves another try after attempts tries. Cancellation is
// final and network errors are retried only when they timed out.
func (p *Policy) ShouldRetry(err error, attempts int) bool {
	if p == nil || err == nil || attempts >= p.maxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return true
}

// Backoff returns the wait before try number attempts+1.
func (p *Policy) Backoff(attempts int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempts-1))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	return time.Duration(delay/2) + randomJitter(time.Duration(delay)/2)
}

// Wait sleeps for Backoff(attempts) or until ctx ends.
func (p *Policy) Wait(ctx context.Context, attempts int) error {
	timer := time.NewTimer(p.Backoff(attempts))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
