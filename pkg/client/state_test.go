package client

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateTracker_WaitConnectedAlreadyConnected(t *testing.T) {
	tracker := newStateTracker()
	tracker.set(StateConnected)

	err := tracker.waitConnected(context.Background())
	assert.NoError(t, err)
}

func TestStateTracker_WaitConnectedTimesOutPromptly(t *testing.T) {
	tracker := newStateTracker()

	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()

	start := time.Now()
	err := tracker.waitConnected(ctx)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestStateTracker_TransitionWakesWaiter(t *testing.T) {
	tracker := newStateTracker()
	tracker.set(StateConnecting)

	done := make(chan error, 1)
	go func() {
		done <- tracker.waitConnected(context.Background())
	}()

	// Intermediate transitions wake the waiter but keep it waiting.
	tracker.set(StateConnecting)
	tracker.set(StateConnected)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never woke up")
	}
}

func TestStateTracker_ExpiryFailsWaiter(t *testing.T) {
	tracker := newStateTracker()
	tracker.set(StateConnecting)

	done := make(chan error, 1)
	go func() {
		done <- tracker.waitConnected(context.Background())
	}()

	tracker.set(StateExpired)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrTimeout)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never woke up")
	}
}

func TestStateTracker_ClosedIsTerminal(t *testing.T) {
	tracker := newStateTracker()
	tracker.set(StateClosed)

	// No transition out of closed.
	prev := tracker.set(StateConnected)
	assert.Equal(t, StateClosed, prev)
	assert.Equal(t, StateClosed, tracker.Current())

	err := tracker.waitConnected(context.Background())
	require.ErrorIs(t, err, ErrTimeout)
}

func TestSessionState_String(t *testing.T) {
	tests := []struct {
		state SessionState
		want  string
	}{
		{StateInit, "init"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{StateExpired, "expired"},
		{StateClosed, "closed"},
		{SessionState(42), "unknown-session-state-42"},
	}
	for _, test := range tests {
		assert.Equal(t, test.want, test.state.String())
	}
}
