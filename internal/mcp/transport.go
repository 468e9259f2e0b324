package mcp

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrPipeClosed reports a broken pipe to a dead child process. It is expected
// when a short-lived server exits and is suppressed rather than escalated.
var ErrPipeClosed = errors.New("mcp: pipe closed")

// Transport is the wire layer to a single tool-server process.
type Transport interface {
	// Connect establishes the transport connection.
	Connect(ctx context.Context) error

	// Close closes the transport connection.
	Close() error

	// Call sends a request and waits for its response.
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)

	// Notify sends a notification (no response expected).
	Notify(ctx context.Context, method string, params any) error

	// Connected reports whether the transport is live.
	Connected() bool
}

// TransportFactory builds the transport for a named server. Injectable so
// tests can substitute an in-memory transport.
type TransportFactory func(name string, cfg ServerConfig) Transport
