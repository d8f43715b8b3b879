package client

import "errors"

var (
	// ErrNoPrincipal is returned by Connect when no principal id is supplied.
	ErrNoPrincipal = errors.New("client: principal id required")

	// ErrNotConnected is returned by Send while the connection is not open.
	// Callers decide whether to queue or drop; this layer never buffers.
	ErrNotConnected = errors.New("client: not connected")

	// ErrClosed is returned when an operation is attempted after Disconnect.
	ErrClosed = errors.New("client: connection closed")
)
