// Package abort implements the VXI-11 abort channel.
//
// The abort channel is a second RPC connection to the instrument, on the port
// returned by create_link. It carries a single procedure, device_abort, which
// cancels the in-progress core channel call of a link.
package abort

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/vxi11-protocol/vxi11-go/pkg/log"
	"github.com/vxi11-protocol/vxi11-go/pkg/rpc"
	"github.com/vxi11-protocol/vxi11-go/pkg/wire"
)

// DefaultTimeout bounds a device_abort exchange.
const DefaultTimeout = 5 * time.Second

// Handler implements the instrument side of the abort channel. DeviceAbort
// must return promptly and never wait for the aborted call to finish.
type Handler interface {
	DeviceAbort(ctx context.Context, link wire.LinkID) *wire.DeviceErrorResp
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, link wire.LinkID) *wire.DeviceErrorResp

// DeviceAbort calls f.
func (f HandlerFunc) DeviceAbort(ctx context.Context, link wire.LinkID) *wire.DeviceErrorResp {
	return f(ctx, link)
}

// Server dispatches abort channel calls to a Handler.
type Server struct {
	handler Handler
	logger  *slog.Logger
}

// NewServer creates a dispatcher for h. logger may be nil.
func NewServer(h Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{handler: h, logger: logger}
}

// Dispatch implements rpc.Dispatcher.
func (s *Server) Dispatch(call *rpc.Call, program, version, procedure uint32) {
	if program != wire.AbortProgram || version != wire.AbortVersion {
		_ = call.ReplyProgramNotAvailable()
		return
	}

	var err error
	switch procedure {
	case rpc.NullProcedure:
		err = call.Reply(nil)
	case wire.ProcDeviceAbort:
		var p wire.DeviceLinkParm
		if err = call.RetrieveCall(&p); err != nil {
			break
		}
		err = call.Reply(s.handler.DeviceAbort(call.Context(), p.Link))
	default:
		err = call.ReplyProcedureNotAvailable()
	}

	if err != nil {
		s.logger.Warn("abort reply failed", "procedure", procedure, "error", err)
	}
}

var _ rpc.Dispatcher = (*Server)(nil)

// ClientConfig configures an abort channel client.
type ClientConfig struct {
	// Timeout bounds each exchange (default: DefaultTimeout).
	Timeout time.Duration

	// Logger for protocol logging (optional).
	Logger log.Logger
}

// Client is the controller side of the abort channel.
type Client struct {
	rpc *rpc.Client
}

// Dial connects to the abort channel at address over TCP.
func Dial(ctx context.Context, address string, config ClientConfig) (*Client, error) {
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	c, err := rpc.Dial(ctx, address, rpc.ClientConfig{
		Program:       wire.AbortProgram,
		Version:       wire.AbortVersion,
		Timeout:       config.Timeout,
		Logger:        config.Logger,
		Channel:       log.ChannelAbort,
		ProcedureName: wire.AbortProcedureName,
	})
	if err != nil {
		return nil, err
	}
	return &Client{rpc: c}, nil
}

// Abort cancels the in-progress call of link.
func (c *Client) Abort(ctx context.Context, link wire.LinkID) (*wire.DeviceErrorResp, error) {
	resp := &wire.DeviceErrorResp{}
	if err := c.rpc.Call(ctx, wire.ProcDeviceAbort, &wire.DeviceLinkParm{Link: link}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Timeout returns the exchange timeout.
func (c *Client) Timeout() time.Duration {
	return c.rpc.Timeout()
}

// SetTimeout changes the exchange timeout for later calls.
func (c *Client) SetTimeout(d time.Duration) {
	c.rpc.SetTimeout(d)
}

// RemoteAddr returns the instrument's abort address.
func (c *Client) RemoteAddr() net.Addr {
	return c.rpc.RemoteAddr()
}

// Close closes the abort connection.
func (c *Client) Close() error {
	return c.rpc.Close()
}
