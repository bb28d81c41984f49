package client

import (
	"sync"

	"github.com/mikekulinski/zkclient/pkg/zk"
)

// WatchFunc receives the firing of a one-shot watch. It runs on the
// driver's delivery goroutine and must not block.
type WatchFunc func(zk.Event)

type watchKey struct {
	path string
	kind zk.WatchKind
}

// watchEntry exists so a registration can be cancelled by identity when
// the primitive call it was registered for fails.
type watchEntry struct {
	fn WatchFunc
}

// watchRegistry maps (path, kind) to the callbacks awaiting the next
// firing there. A firing consumes every callback registered for its
// key; the driver coalesces duplicate registrations into one watch but
// each caller still gets its notification.
type watchRegistry struct {
	mu         sync.Mutex
	registered map[watchKey][]*watchEntry
}

func newWatchRegistry() *watchRegistry {
	return &watchRegistry{
		registered: map[watchKey][]*watchEntry{},
	}
}

// add registers fn for the next firing at (path, kind) and returns a
// cancel func that withdraws the registration if the accompanying
// primitive call never reached the server. If fn is nil both the
// registration and the cancel are no-ops.
func (r *watchRegistry) add(path string, kind zk.WatchKind, fn WatchFunc) func() {
	if fn == nil {
		return func() {}
	}

	entry := &watchEntry{fn: fn}
	key := watchKey{path: path, kind: kind}
	r.mu.Lock()
	r.registered[key] = append(r.registered[key], entry)
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		entries := r.registered[key]
		for i, e := range entries {
			if e == entry {
				r.registered[key] = append(entries[:i], entries[i+1:]...)
				break
			}
		}
		if len(r.registered[key]) == 0 {
			delete(r.registered, key)
		}
	}
}

// dispatch consumes and invokes every callback registered for the
// event's (path, kind), returning how many were invoked. Zero means the
// firing was unmatched and the caller should drop it.
func (r *watchRegistry) dispatch(ev zk.Event) int {
	key := watchKey{path: ev.Path, kind: ev.Kind}
	r.mu.Lock()
	entries := r.registered[key]
	delete(r.registered, key)
	r.mu.Unlock()

	for _, e := range entries {
		e.fn(ev)
	}
	return len(entries)
}

// purge drops every registration. Used when the session expires, since
// all previously issued watches are void.
func (r *watchRegistry) purge() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registered = map[watchKey][]*watchEntry{}
}

// handleEvent is the single entry point for everything the driver
// delivers: session-state transitions go to the state machine, watch
// firings to the registry. It runs on the driver's delivery goroutine,
// so nothing here may block for unbounded time.
func (c *Client) handleEvent(ev zk.Event) {
	switch ev.Type {
	case zk.EventSession:
		c.handleSessionEvent(ev.State)
	case zk.EventWatch:
		if n := c.watches.dispatch(ev); n == 0 {
			// A superseded registration; dropping it is not an error.
			c.log.Debugf("dropping unmatched %s", ev)
		}
	}
}

func (c *Client) handleSessionEvent(state zk.State) {
	// Expired and closed sessions only come back to life through an
	// explicit Connect, so late notices from a dead session are ignored.
	if current := c.session.Current(); current == StateExpired || current == StateClosed {
		return
	}

	switch state {
	case zk.StateConnected:
		c.setState(StateConnected)
	case zk.StateConnecting, zk.StateDisconnected:
		c.setState(StateConnecting)
	case zk.StateExpired:
		c.log.Warnf("session expired: client=%s", c.id)
		c.expire(true)
	case zk.StateAuthFailed:
		c.log.Errorf("session authentication failed: client=%s", c.id)
		// The session is just as dead as on expiry, but reconnecting
		// with the same credentials would fail the same way.
		c.expire(false)
	}
}

// expire moves the session to StateExpired and voids everything tied to
// it: armed watches and the whole cache.
func (c *Client) expire(reconnect bool) {
	c.setState(StateExpired)
	c.watches.purge()
	c.cache.purge()
	if reconnect && c.opts.AutoReconnect {
		// Reconnecting dials the driver, which can block; keep that off
		// the delivery goroutine.
		go c.reconnect()
	}
}

// setState applies a transition and notifies state listeners if the
// state actually changed.
func (c *Client) setState(s SessionState) {
	if prev := c.session.set(s); prev == s || prev == StateClosed {
		return
	}

	c.lmu.Lock()
	listeners := make([]*listenerHandle, len(c.listeners))
	copy(listeners, c.listeners)
	c.lmu.Unlock()
	for _, l := range listeners {
		l.fn(s)
	}
}
