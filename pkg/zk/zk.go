// Package zk defines the boundary between the resilient client and the
// low-level ZooKeeper driver. The driver owns the wire protocol and the
// server-side session; this package owns the types both sides speak:
// the Driver/Handle interfaces, session states, watch kinds, the event
// stream, and the error taxonomy.
package zk

import (
	"fmt"
	"io"
	"time"
)

// State is the connection state as reported by the low-level driver.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateExpired
	StateAuthFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateExpired:
		return "expired"
	case StateAuthFailed:
		return "auth-failed"
	default:
		return fmt.Sprintf("unknown-state-%d", int32(s))
	}
}

// WatchKind identifies which aspect of a node a watch covers. A watch is
// registered at primitive-call time and fires at most once; re-arming is
// up to the caller.
type WatchKind int

const (
	// WatchData fires on the next change to the node's payload, including
	// deletion of the node.
	WatchData WatchKind = iota
	// WatchChildren fires on the next change to the node's child list.
	WatchChildren
	// WatchExists fires on the next creation or deletion of the node.
	WatchExists
)

func (k WatchKind) String() string {
	switch k {
	case WatchData:
		return "data"
	case WatchChildren:
		return "children"
	case WatchExists:
		return "exists"
	default:
		return fmt.Sprintf("unknown-kind-%d", int(k))
	}
}

// EventType distinguishes the two classes of notices the driver delivers
// on its single callback: global session-state transitions and
// path-scoped watch firings.
type EventType int

const (
	EventSession EventType = iota
	EventWatch
)

// Event is a single notice from the driver. For EventSession only State
// is meaningful; for EventWatch only Path and Kind are.
type Event struct {
	Type  EventType
	State State
	Path  string
	Kind  WatchKind
}

func (e Event) String() string {
	if e.Type == EventSession {
		return fmt.Sprintf("<session event: %s>", e.State)
	}
	return fmt.Sprintf("<watch event: %s at %q>", e.Kind, e.Path)
}

// EventCallback receives every asynchronous notice from the driver.
// The driver invokes it from a single dedicated delivery goroutine, one
// event at a time. The callback must not block for unbounded time.
type EventCallback func(Event)

// CreateFlag selects optional attributes of a node at creation time.
type CreateFlag int

const (
	// FlagEphemeral marks the node for automatic deletion when the
	// creating session expires or closes.
	FlagEphemeral CreateFlag = 1 << iota
	// FlagSequential appends a monotonically increasing counter to the
	// node name.
	FlagSequential
)

// Driver is the low-level ZooKeeper driver. Implementations own the wire
// protocol, heartbeats, and server-side session bookkeeping.
type Driver interface {
	// Connect establishes a session with the ensemble and returns a
	// handle for issuing primitive calls. All asynchronous notices for
	// the session are delivered through cb from a dedicated goroutine.
	Connect(ensemble string, sessionTimeout time.Duration, cb EventCallback) (Handle, error)
}

// Handle is a live session with the ensemble. All primitive calls block
// until the server responds or the call fails. The watch flag arms a
// one-shot watch of the matching kind on the path; its firing arrives on
// the EventCallback given at Connect time.
type Handle interface {
	// Get returns the node's payload and metadata.
	Get(path string, watch bool) ([]byte, *Stat, error)
	// Set replaces the node's payload if version matches the node's
	// current data version. Version -1 skips the check.
	Set(path string, data []byte, version int32) (*Stat, error)
	// Children returns the names of the node's children.
	Children(path string, watch bool) ([]string, *Stat, error)
	// Exists returns the node's metadata, or a nil Stat if the node does
	// not exist. Unlike Get, the watch is armed even for an absent node.
	Exists(path string, watch bool) (*Stat, error)
	// Create makes a new node and returns its name as created, which
	// differs from the request for sequential nodes.
	Create(path string, data []byte, acl []ACL, flags CreateFlag) (string, error)
	// Delete removes the node if version matches. Version -1 skips the
	// check.
	Delete(path string, version int32) error
	// GetACL returns the node's access-control list.
	GetACL(path string) ([]ACL, *Stat, error)
	// SetACL replaces the node's access-control list if version matches
	// the node's ACL version.
	SetACL(path string, acl []ACL, version int32) (*Stat, error)
	// SessionID identifies the session on the server. Ephemeral nodes
	// created through this handle carry it as their owner.
	SessionID() int64
	// Close releases the session. Watches and ephemeral nodes owned by
	// the session are discarded by the server.
	Close() error
}

// StreamSetter is implemented by drivers whose internal diagnostic
// output can be redirected to a caller-supplied sink.
type StreamSetter interface {
	SetLogStream(w io.Writer)
}
