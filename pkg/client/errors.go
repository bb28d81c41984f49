package client

import "errors"

var (
	// ErrNotConnected is returned when an operation is attempted while
	// the session is not connected and no connect wait is configured.
	ErrNotConnected = errors.New("zkclient: not connected")
	// ErrTimeout is returned when a bounded wait for the session to
	// become connected expires, or when the session dies while waiting.
	ErrTimeout = errors.New("zkclient: timed out waiting for connection")
	// ErrClosed is returned by operations attempted after Close.
	ErrClosed = errors.New("zkclient: client is closed")
	// ErrAlreadyClosed is returned by Connect after Close. A closed
	// client cannot be revived; construct a new one.
	ErrAlreadyClosed = errors.New("zkclient: client was already closed")
)
