package zk

import "errors"

// The error taxonomy shared by the driver and the client. Callers see
// either a successful result or one of these kinds, never a raw
// low-level failure.
var (
	// ErrNoNode indicates the path does not name an existing node.
	ErrNoNode = errors.New("zk: node does not exist")
	// ErrNodeExists indicates a create collided with an existing node.
	ErrNodeExists = errors.New("zk: node already exists")
	// ErrBadVersion indicates a conditional set or delete lost the race:
	// the node's version no longer matches the one the caller read.
	ErrBadVersion = errors.New("zk: version conflict")
	// ErrNotEmpty indicates a delete targeted a node that still has
	// children. Only leaf nodes can be deleted.
	ErrNotEmpty = errors.New("zk: node has children")

	// ErrConnectionLoss indicates the connection dropped mid-call. The
	// session may still be alive on the server.
	ErrConnectionLoss = errors.New("zk: connection lost")
	// ErrOperationTimeout indicates a primitive call did not complete in
	// time. Like ErrConnectionLoss it says nothing about whether the
	// operation was applied.
	ErrOperationTimeout = errors.New("zk: operation timed out")

	// ErrSessionExpired indicates the server gave up on the session. All
	// watches and ephemeral nodes owned by it are void; recovery
	// requires a new session.
	ErrSessionExpired = errors.New("zk: session expired")
	// ErrAuthFailed indicates the session's credentials were rejected.
	ErrAuthFailed = errors.New("zk: authentication failed")

	// ErrInvalidPath indicates an operation was attempted on a
	// malformed path.
	ErrInvalidPath = errors.New("zk: invalid path")
)

// IsTransient reports whether err is expected to resolve via
// reconnection without caller intervention. Transient failures are safe
// to retry; everything else either succeeded server-side semantics or is
// fatal for the session.
func IsTransient(err error) bool {
	return errors.Is(err, ErrConnectionLoss) || errors.Is(err, ErrOperationTimeout)
}

// IsFatal reports whether err ends the session for good. A fatal error
// exhausts any retry loop immediately.
func IsFatal(err error) bool {
	return errors.Is(err, ErrSessionExpired) || errors.Is(err, ErrAuthFailed)
}
