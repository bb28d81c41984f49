package client

import (
	"context"
	"fmt"
	"sync"
)

// SessionState is the client's view of the session lifecycle. It is
// owned by the state tracker; every other component reads it but never
// mutates it directly.
type SessionState int32

const (
	// StateInit means Connect has not been called yet.
	StateInit SessionState = iota
	// StateConnecting means a session is being established or
	// re-established after a connection loss.
	StateConnecting
	// StateConnected means primitives may be issued.
	StateConnected
	// StateExpired means the server gave up on the session. Recovery
	// requires constructing a new session via Connect.
	StateExpired
	// StateClosed is terminal: the client was closed explicitly.
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateExpired:
		return "expired"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown-session-state-%d", int32(s))
	}
}

// stateTracker holds the current SessionState and wakes every waiter on
// each transition. Waking works by closing the current broadcast
// channel and replacing it, so waiters can select on it alongside a
// context.
type stateTracker struct {
	mu      sync.Mutex
	current SessionState
	changed chan struct{}
}

func newStateTracker() *stateTracker {
	return &stateTracker{
		current: StateInit,
		changed: make(chan struct{}),
	}
}

// Current returns the state without blocking.
func (t *stateTracker) Current() SessionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// set transitions to s and wakes all waiters. Transitions out of
// StateClosed are ignored; the closed state is terminal. Returns the
// previous state.
func (t *stateTracker) set(s SessionState) SessionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev := t.current
	if prev == StateClosed || prev == s {
		return prev
	}
	t.current = s
	close(t.changed)
	t.changed = make(chan struct{})
	return prev
}

// snapshot returns the state together with the channel that will be
// closed on the next transition.
func (t *stateTracker) snapshot() (SessionState, <-chan struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current, t.changed
}

// waitNotExpired blocks while the state is StateExpired, for callers
// that know a replacement session is on its way.
func (t *stateTracker) waitNotExpired(ctx context.Context) error {
	for {
		state, changed := t.snapshot()
		if state != StateExpired {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		}
	}
}

// waitConnected blocks until the state is StateConnected. It fails with
// ErrTimeout if ctx ends first, or if the session reaches StateExpired
// or StateClosed while waiting.
func (t *stateTracker) waitConnected(ctx context.Context) error {
	for {
		state, changed := t.snapshot()
		switch state {
		case StateConnected:
			return nil
		case StateExpired, StateClosed:
			return fmt.Errorf("%w: session is %s", ErrTimeout, state)
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		}
	}
}
