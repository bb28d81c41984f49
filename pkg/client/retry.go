package client

import (
	"time"

	"github.com/flowchartsman/retry"
)

const (
	defaultMaxAttempts  = 5
	defaultInitialDelay = 100 * time.Millisecond
	defaultMaxDelay     = 2 * time.Second
)

// RetryPolicy bounds how the client retries primitives that fail with a
// transient error (connection loss, operation timeout). Attempts are
// spaced by exponential backoff between InitialDelay and MaxDelay.
// Retrying always stops early once the session expires or the client is
// closed, whatever MaxAttempts says.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = defaultInitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaultMaxDelay
	}
	return p
}

// retrier builds a fresh retrier for one operation. Retriers are
// stateful, so each call gets its own.
func (p RetryPolicy) retrier() *retry.Retrier {
	p = p.withDefaults()
	return retry.NewRetrier(p.MaxAttempts, p.InitialDelay, p.MaxDelay)
}
