// Package client implements a resilient ZooKeeper client on top of a
// low-level driver. It owns the session lifecycle, retries primitives
// across transient connection loss, and keeps a watch-coherent cache of
// read results. All methods are safe for concurrent use.
package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flowchartsman/retry"
	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/mikekulinski/zkclient/pkg/logging"
	"github.com/mikekulinski/zkclient/pkg/logstream"
	"github.com/mikekulinski/zkclient/pkg/zk"
)

// StateListener observes session-state transitions. Listeners run on
// the driver's delivery goroutine and must not block.
type StateListener func(SessionState)

// Options configure a Client. Only Ensemble is required.
type Options struct {
	// Ensemble is the comma-separated host:port list of the servers
	// forming the cluster.
	Ensemble string
	// SessionTimeout is the negotiated session timeout. Zero means 10s.
	SessionTimeout time.Duration
	// ConnectWait bounds how long an operation blocks waiting for the
	// session to become connected before issuing its primitive call.
	// Zero means fail fast with ErrNotConnected instead of waiting.
	ConnectWait time.Duration
	// Retry bounds how transient failures are retried.
	Retry RetryPolicy
	// Logger receives the client's diagnostics. Nil discards them.
	Logger logging.Logger
	// AutoReconnect establishes a fresh session automatically when the
	// current one expires. The cache is purged either way; with
	// AutoReconnect operations block (or fail fast, per ConnectWait)
	// until the new session connects instead of failing with
	// ErrSessionExpired.
	AutoReconnect bool
	// RelayDriverLogs redirects the driver's internal diagnostic stream
	// through Logger, when the driver supports redirection.
	RelayDriverLogs bool
}

func (o Options) withDefaults() Options {
	if o.SessionTimeout <= 0 {
		o.SessionTimeout = 10 * time.Second
	}
	if o.Logger == nil {
		o.Logger = logging.DiscardLogger
	}
	return o
}

// Client is a session-oriented client for a hierarchical coordination
// service. Construct with New, then Connect.
type Client struct {
	opts   Options
	driver zk.Driver
	log    logging.Logger
	id     string

	session *stateTracker
	watches *watchRegistry
	cache   *nodeCache

	// mu guards the handle and relay. It is never held across a
	// blocking primitive call issued by an operation.
	mu     sync.Mutex
	handle zk.Handle
	relay  *logstream.Relay

	lmu       sync.Mutex
	listeners []*listenerHandle
}

// listenerHandle gives a registered listener an identity so it can be
// unregistered later.
type listenerHandle struct {
	fn StateListener
}

// New builds a Client around the given driver. The connection is not
// initiated until Connect is called.
func New(driver zk.Driver, opts Options) (*Client, error) {
	if driver == nil {
		return nil, fmt.Errorf("zkclient: driver is required")
	}
	if opts.Ensemble == "" {
		return nil, fmt.Errorf("zkclient: ensemble is required")
	}
	opts = opts.withDefaults()

	c := &Client{
		opts:    opts,
		driver:  driver,
		log:     opts.Logger,
		id:      uuid.New().String(),
		session: newStateTracker(),
		watches: newWatchRegistry(),
	}
	c.cache = newNodeCache(c.log)
	return c, nil
}

// Connect initiates the underlying session and returns without waiting
// for it to be established; use WaitUntilConnected to block until the
// session is usable. Calling Connect while already connecting or
// connected is a no-op. Calling it after the session expired constructs
// a new session. Calling it after Close fails with ErrAlreadyClosed.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.session.Current() {
	case StateClosed:
		return ErrAlreadyClosed
	case StateConnecting, StateConnected:
		return nil
	case StateExpired:
		// The old session is unrecoverable; drop its handle before
		// constructing a replacement.
		c.dropHandleLocked()
	}
	return c.connectLocked()
}

// connectLocked dials the driver. Callers must hold c.mu.
func (c *Client) connectLocked() error {
	prev := c.session.Current()
	c.setState(StateConnecting)
	handle, err := c.driver.Connect(c.opts.Ensemble, c.opts.SessionTimeout, c.handleEvent)
	if err != nil {
		c.setState(prev)
		return fmt.Errorf("connecting to ensemble: %w", err)
	}
	c.handle = handle

	if c.opts.RelayDriverLogs && c.relay == nil {
		if setter, ok := c.driver.(zk.StreamSetter); ok {
			c.relay = logstream.Install(setter, c.log)
		} else {
			c.log.Warn("driver does not support log redirection")
		}
	}
	c.log.Infof("session initiated: client=%s session=%d", c.id, handle.SessionID())
	return nil
}

// reconnect replaces an expired session with a fresh one. It runs on
// its own goroutine, spawned by the event demultiplexer.
func (c *Client) reconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	// The client may have been closed, or someone may have called
	// Connect explicitly, between the expiry notice and now.
	if c.session.Current() != StateExpired {
		return
	}
	c.dropHandleLocked()
	c.log.Infof("session expired, reconnecting: client=%s", c.id)
	if err := c.connectLocked(); err != nil {
		c.setState(StateExpired)
		c.log.Errorf("reconnect failed: %v", err)
	}
}

func (c *Client) dropHandleLocked() {
	if c.handle != nil {
		_ = c.handle.Close()
		c.handle = nil
	}
}

// Close releases the underlying session and stops the log relay.
// Subsequent operations fail with ErrClosed; a closed client cannot be
// reconnected. Closing twice is a no-op.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.Current() == StateClosed {
		return nil
	}
	c.setState(StateClosed)

	var err error
	if c.relay != nil {
		c.relay.Uninstall()
		c.relay = nil
	}
	if c.handle != nil {
		err = multierr.Append(err, c.handle.Close())
		c.handle = nil
	}
	c.watches.purge()
	c.cache.purge()
	c.log.Infof("client closed: client=%s", c.id)
	return err
}

// State returns the current session state without blocking.
func (c *Client) State() SessionState {
	return c.session.Current()
}

// WaitUntilConnected blocks until the session is connected. It returns
// immediately if it already is. It fails with ErrTimeout when ctx ends
// first or when the session expires or closes while waiting.
func (c *Client) WaitUntilConnected(ctx context.Context) error {
	return c.session.waitConnected(ctx)
}

// SessionID returns the server-assigned session id, or zero when no
// session is established.
func (c *Client) SessionID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle == nil {
		return 0
	}
	return c.handle.SessionID()
}

// OnStateChange registers a listener for session-state transitions and
// returns a func that unregisters it.
func (c *Client) OnStateChange(fn StateListener) func() {
	handle := &listenerHandle{fn: fn}
	c.lmu.Lock()
	c.listeners = append(c.listeners, handle)
	c.lmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.lmu.Lock()
			defer c.lmu.Unlock()
			for i, l := range c.listeners {
				if l == handle {
					c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// currentHandle returns the live handle, or nil.
func (c *Client) currentHandle() zk.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle
}

// await gates an operation on the session being connected: immediate
// success when connected, fail fast when no wait is configured, a
// bounded wait otherwise.
func (c *Client) await(ctx context.Context) error {
	switch state := c.session.Current(); state {
	case StateConnected:
		return nil
	case StateClosed:
		return ErrClosed
	case StateInit:
		return ErrNotConnected
	case StateExpired:
		if !c.opts.AutoReconnect {
			return zk.ErrSessionExpired
		}
	}

	if c.opts.ConnectWait <= 0 {
		return ErrNotConnected
	}
	waitCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectWait)
	defer cancel()
	if c.opts.AutoReconnect {
		// A replacement session is on its way; the expired window is
		// not terminal here.
		if err := c.session.waitNotExpired(waitCtx); err != nil {
			return err
		}
	}
	return c.session.waitConnected(waitCtx)
}

// do executes one primitive with the uniform policy: validate the path,
// require a connected session, and retry transient failures until the
// policy is exhausted or the session dies. Semantic failures surface
// immediately.
func (c *Client) do(ctx context.Context, op, path string, fn func(h zk.Handle) error) error {
	if err := zk.ValidatePath(path); err != nil {
		return err
	}

	retrier := c.opts.Retry.retrier()
	return retrier.RunContext(ctx, func(ctx context.Context) error {
		if err := c.await(ctx); err != nil {
			return retry.Stop(err)
		}
		handle := c.currentHandle()
		if handle == nil {
			return retry.Stop(ErrNotConnected)
		}

		err := fn(handle)
		switch {
		case err == nil:
			return nil
		case zk.IsTransient(err):
			if state := c.session.Current(); state == StateExpired || state == StateClosed {
				return retry.Stop(c.fatalFor(state))
			}
			c.log.Debugf("%s %q: transient failure, will retry: %v", op, path, err)
			return err
		default:
			return retry.Stop(err)
		}
	})
}

func (c *Client) fatalFor(state SessionState) error {
	if state == StateClosed {
		return ErrClosed
	}
	return zk.ErrSessionExpired
}

// Get returns the node's data and metadata.
func (c *Client) Get(ctx context.Context, path string) ([]byte, *zk.Stat, error) {
	return c.GetW(ctx, path, nil)
}

// GetW is Get with a one-shot watch on the node's data, registered
// atomically with the read.
func (c *Client) GetW(ctx context.Context, path string, watcher WatchFunc) ([]byte, *zk.Stat, error) {
	var (
		data []byte
		stat *zk.Stat
	)
	err := c.do(ctx, "get", path, func(h zk.Handle) error {
		cancel := c.watches.add(path, zk.WatchData, watcher)
		var err error
		data, stat, err = h.Get(path, watcher != nil)
		if err != nil {
			cancel()
		}
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return data, stat, nil
}

// Set writes data to the node if version matches the node's current
// data version. Version -1 skips the check. Returns the updated
// metadata.
func (c *Client) Set(ctx context.Context, path string, data []byte, version int32) (*zk.Stat, error) {
	var stat *zk.Stat
	err := c.do(ctx, "set", path, func(h zk.Handle) error {
		var err error
		stat, err = h.Set(path, data, version)
		return err
	})
	if err != nil {
		return nil, err
	}
	c.cache.invalidatePath(path)
	return stat, nil
}

// Children returns the names of the node's children in lexicographic
// order.
func (c *Client) Children(ctx context.Context, path string) ([]string, error) {
	return c.ChildrenW(ctx, path, nil)
}

// ChildrenW is Children with a one-shot watch on the node's child list.
func (c *Client) ChildrenW(ctx context.Context, path string, watcher WatchFunc) ([]string, error) {
	var children []string
	err := c.do(ctx, "children", path, func(h zk.Handle) error {
		cancel := c.watches.add(path, zk.WatchChildren, watcher)
		var err error
		children, _, err = h.Children(path, watcher != nil)
		if err != nil {
			cancel()
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return children, nil
}

// Exists returns the node's metadata, or nil if the node does not
// exist.
func (c *Client) Exists(ctx context.Context, path string) (*zk.Stat, error) {
	return c.ExistsW(ctx, path, nil)
}

// ExistsW is Exists with a one-shot watch on the node's existence. The
// watch is armed even when the node is absent, so it fires on creation.
func (c *Client) ExistsW(ctx context.Context, path string, watcher WatchFunc) (*zk.Stat, error) {
	var stat *zk.Stat
	err := c.do(ctx, "exists", path, func(h zk.Handle) error {
		cancel := c.watches.add(path, zk.WatchExists, watcher)
		var err error
		stat, err = h.Exists(path, watcher != nil)
		if err != nil {
			cancel()
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return stat, nil
}

// Create makes a new node holding data and returns the path as created,
// which differs from the request for sequential nodes. A nil acl means
// world-anyone with all permissions.
func (c *Client) Create(ctx context.Context, path string, data []byte, flags zk.CreateFlag, acl []zk.ACL) (string, error) {
	if len(acl) == 0 {
		acl = zk.WorldACL(zk.PermAll)
	}
	var created string
	err := c.do(ctx, "create", path, func(h zk.Handle) error {
		var err error
		created, err = h.Create(path, data, acl, flags)
		return err
	})
	if err != nil {
		return "", err
	}
	c.cache.invalidatePath(created)
	parent, _ := zk.Parent(created)
	c.cache.invalidate(parent, zk.WatchChildren)
	return created, nil
}

// Delete removes the node if version matches the node's current data
// version. Version -1 skips the check.
func (c *Client) Delete(ctx context.Context, path string, version int32) error {
	err := c.do(ctx, "delete", path, func(h zk.Handle) error {
		return h.Delete(path, version)
	})
	if err != nil {
		return err
	}
	c.cache.invalidatePath(path)
	parent, _ := zk.Parent(path)
	c.cache.invalidate(parent, zk.WatchChildren)
	return nil
}

// GetACL returns the node's access-control list. Pure passthrough.
func (c *Client) GetACL(ctx context.Context, path string) ([]zk.ACL, *zk.Stat, error) {
	var (
		acl  []zk.ACL
		stat *zk.Stat
	)
	err := c.do(ctx, "getacl", path, func(h zk.Handle) error {
		var err error
		acl, stat, err = h.GetACL(path)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return acl, stat, nil
}

// SetACL replaces the node's access-control list if version matches the
// node's ACL version. Pure passthrough.
func (c *Client) SetACL(ctx context.Context, path string, acl []zk.ACL, version int32) (*zk.Stat, error) {
	var stat *zk.Stat
	err := c.do(ctx, "setacl", path, func(h zk.Handle) error {
		var err error
		stat, err = h.SetACL(path, acl, version)
		return err
	})
	if err != nil {
		return nil, err
	}
	return stat, nil
}

// IsEphemeral reports whether the node is owned by a session.
func (c *Client) IsEphemeral(ctx context.Context, path string) (bool, error) {
	_, stat, err := c.Get(ctx, path)
	if err != nil {
		return false, err
	}
	return stat.IsEphemeral(), nil
}
