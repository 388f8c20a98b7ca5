package rpc

import (
	"context"
	"net"
	"time"

	"github.com/vxi11-protocol/vxi11-go/pkg/xdr"
)

// Caller issues RPC calls to one remote program.
// Implemented by Client.
type Caller interface {
	// Call sends a call and decodes the reply into reply.
	Call(ctx context.Context, procedure uint32, args xdr.Marshaler, reply xdr.Unmarshaler) error

	// Send issues a call that expects no reply.
	Send(ctx context.Context, procedure uint32, args xdr.Marshaler) error

	// Timeout returns the per-call timeout.
	Timeout() time.Duration

	// SetTimeout changes the per-call timeout.
	SetTimeout(d time.Duration)

	// RemoteAddr returns the remote network address.
	RemoteAddr() net.Addr

	// Close closes the connection.
	Close() error
}

// RPCServer accepts connections and dispatches calls.
// Implemented by Server.
type RPCServer interface {
	Start(ctx context.Context) error
	Stop() error
	Addr() net.Addr
	ConnectionCount() int
}

// Compile-time interface satisfaction checks.
var (
	_ Caller    = (*Client)(nil)
	_ RPCServer = (*Server)(nil)
)
