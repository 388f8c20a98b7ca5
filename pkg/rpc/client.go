package rpc

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/vxi11-protocol/vxi11-go/pkg/log"
	"github.com/vxi11-protocol/vxi11-go/pkg/xdr"
)

// DefaultCallTimeout bounds a call whose context carries no deadline.
const DefaultCallTimeout = 10 * time.Second

// ClientConfig configures an RPC client bound to one program and version.
type ClientConfig struct {
	// Program and Version identify the remote program.
	Program uint32
	Version uint32

	// Network is "tcp" (default) or "udp".
	Network string

	// Timeout bounds each call when the context has no deadline
	// (default: DefaultCallTimeout).
	Timeout time.Duration

	// MaxRecordSize bounds reply records (default: DefaultMaxRecordSize).
	MaxRecordSize int

	// Logger for protocol logging (optional).
	Logger log.Logger

	// Channel tags log events.
	Channel log.Channel

	// ProcedureName names procedures in log events (optional).
	ProcedureName func(procedure uint32) string
}

type pendingReply struct {
	header *ReplyHeader
	body   []byte
}

// Client issues calls to one remote program over one connection. Replies are
// matched to calls by XID, so concurrent calls are allowed.
type Client struct {
	config ClientConfig
	conn   messageConn
	connID string

	xid     atomic.Uint32
	timeout atomic.Int64

	mu      sync.Mutex
	pending map[uint32]chan pendingReply
	readErr error

	closed    atomic.Bool
	closeOnce sync.Once
	closeCh   chan struct{}
	done      chan struct{}
}

// Dial connects to address and starts the reply reader.
func Dial(ctx context.Context, address string, config ClientConfig) (*Client, error) {
	connID := uuid.New().String()
	conn, err := dialMessageConn(ctx, config.Network, address, config.MaxRecordSize, config.Logger, connID)
	if err != nil {
		return nil, err
	}
	return newClient(conn, connID, config), nil
}

// NewClient wraps an established TCP connection.
func NewClient(conn net.Conn, config ClientConfig) *Client {
	connID := uuid.New().String()
	return newClient(newStreamConn(conn, config.MaxRecordSize, config.Logger, connID), connID, config)
}

func newClient(conn messageConn, connID string, config ClientConfig) *Client {
	if config.Timeout == 0 {
		config.Timeout = DefaultCallTimeout
	}
	c := &Client{
		config:  config,
		conn:    conn,
		connID:  connID,
		pending: make(map[uint32]chan pendingReply),
		closeCh: make(chan struct{}),
		done:    make(chan struct{}),
	}
	c.xid.Store(rand.Uint32())
	c.timeout.Store(int64(config.Timeout))

	c.logState("", "CONNECTED", "")
	go c.readLoop()
	return c
}

// ConnID returns the unique connection identifier.
func (c *Client) ConnID() string {
	return c.connID
}

// LocalAddr returns the local network address.
func (c *Client) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr returns the remote network address.
func (c *Client) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Timeout returns the per-call timeout.
func (c *Client) Timeout() time.Duration {
	return time.Duration(c.timeout.Load())
}

// SetTimeout changes the per-call timeout. It applies to calls started
// afterwards.
func (c *Client) SetTimeout(d time.Duration) {
	c.timeout.Store(int64(d))
}

// Call sends a call and waits for its reply, decoding the results into reply
// when it is non-nil. The wait is bounded by ctx, or by Timeout when ctx
// carries no deadline.
func (c *Client) Call(ctx context.Context, procedure uint32, args xdr.Marshaler, reply xdr.Unmarshaler) error {
	if c.closed.Load() {
		return ErrClientClosed
	}

	if _, ok := ctx.Deadline(); !ok {
		if t := c.Timeout(); t > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, t)
			defer cancel()
		}
	}

	xid := c.xid.Add(1)
	ch := make(chan pendingReply, 1)

	c.mu.Lock()
	if c.readErr != nil {
		err := c.readErr
		c.mu.Unlock()
		return err
	}
	c.pending[xid] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, xid)
		c.mu.Unlock()
	}()

	start := time.Now()
	if err := c.send(ctx, xid, procedure, args, log.MessageTypeCall); err != nil {
		return err
	}

	select {
	case r, ok := <-ch:
		if !ok {
			return c.failure()
		}
		err := r.header.Err()
		if err == nil && reply != nil {
			if derr := xdr.Unmarshal(r.body, reply); derr != nil {
				err = fmt.Errorf("decode %s reply: %w", c.procName(procedure), derr)
			}
		}
		c.logReply(r, procedure, args, reply, time.Since(start))
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s after %v", ErrTimeout, c.procName(procedure), time.Since(start).Round(time.Millisecond))
		}
		return ctx.Err()
	case <-c.closeCh:
		return ErrClientClosed
	}
}

// Send issues a call that is never answered, as used by the VXI-11
// interrupt channel.
func (c *Client) Send(ctx context.Context, procedure uint32, args xdr.Marshaler) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	return c.send(ctx, c.xid.Add(1), procedure, args, log.MessageTypeOneWay)
}

func (c *Client) send(ctx context.Context, xid, procedure uint32, args xdr.Marshaler, mtype log.MessageType) error {
	header := &CallHeader{
		XID:       xid,
		RPCVers:   RPCVersion,
		Program:   c.config.Program,
		Version:   c.config.Version,
		Procedure: procedure,
	}
	data := encodeMessage(header, args)

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.Timeout())
	}
	_ = c.conn.SetWriteDeadline(deadline)

	c.logCall(xid, procedure, args, mtype, len(data))
	if err := c.conn.WriteMessage(data); err != nil {
		return fmt.Errorf("send %s: %w", c.procName(procedure), err)
	}
	return nil
}

// readLoop delivers replies to waiting callers until the connection fails.
func (c *Client) readLoop() {
	defer close(c.done)

	for {
		data, err := c.conn.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}

		msg, err := parseMessage(data)
		if err != nil || msg.reply == nil {
			// Not a reply to us; nothing waits on it.
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[msg.reply.XID]
		if ok {
			delete(c.pending, msg.reply.XID)
		}
		c.mu.Unlock()

		if ok {
			ch <- pendingReply{header: msg.reply, body: msg.body}
		}
	}
}

// fail records the read error and wakes every pending caller.
func (c *Client) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		c.readErr = ErrClientClosed
	} else {
		c.readErr = fmt.Errorf("%w: %v", ErrConnectionLost, err)
		c.logError(c.readErr)
	}
	for xid, ch := range c.pending {
		close(ch)
		delete(c.pending, xid)
	}
}

func (c *Client) failure() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return c.readErr
	}
	return ErrConnectionLost
}

// Close closes the connection and fails pending calls with ErrClientClosed.
// It is safe to call Close multiple times.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.closeCh)
		err = c.conn.Close()
		<-c.done
		c.logState("CONNECTED", "DISCONNECTED", "closed")
	})
	return err
}

// CloseWithTimeout closes the client, giving up on waiting for the reader
// after timeout.
func (c *Client) CloseWithTimeout(timeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() { errCh <- c.Close() }()

	select {
	case err := <-errCh:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("close %s: %w", c.RemoteAddr(), ErrTimeout)
	}
}

func (c *Client) procName(procedure uint32) string {
	if c.config.ProcedureName != nil {
		if name := c.config.ProcedureName(procedure); name != "" {
			return name
		}
	}
	return fmt.Sprintf("procedure %d", procedure)
}

func (c *Client) logCall(xid, procedure uint32, args xdr.Marshaler, mtype log.MessageType, size int) {
	if c.config.Logger == nil {
		return
	}
	c.config.Logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.connID,
		Direction:    log.DirectionOut,
		Layer:        log.LayerRPC,
		Category:     log.CategoryMessage,
		LocalRole:    log.RoleController,
		RemoteAddr:   c.conn.RemoteAddr().String(),
		Channel:      c.config.Channel,
		LinkID:       linkOf(args),
		Call: &log.CallEvent{
			Type:          mtype,
			XID:           xid,
			Program:       c.config.Program,
			Version:       c.config.Version,
			Procedure:     procedure,
			ProcedureName: c.procName(procedure),
			PayloadSize:   size,
		},
	})
}

func (c *Client) logReply(r pendingReply, procedure uint32, args xdr.Marshaler, reply xdr.Unmarshaler, elapsed time.Duration) {
	if c.config.Logger == nil {
		return
	}
	accept := uint32(r.header.Accept)
	var code *int32
	if ec, ok := reply.(ErrorCoder); ok && r.header.Err() == nil {
		v := ec.ErrorCode()
		code = &v
	}
	c.config.Logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.connID,
		Direction:    log.DirectionIn,
		Layer:        log.LayerRPC,
		Category:     log.CategoryMessage,
		LocalRole:    log.RoleController,
		RemoteAddr:   c.conn.RemoteAddr().String(),
		Channel:      c.config.Channel,
		LinkID:       linkOf(args),
		Call: &log.CallEvent{
			Type:           log.MessageTypeReply,
			XID:            r.header.XID,
			Program:        c.config.Program,
			Version:        c.config.Version,
			Procedure:      procedure,
			ProcedureName:  c.procName(procedure),
			AcceptStatus:   &accept,
			DeviceError:    code,
			PayloadSize:    len(r.body),
			ProcessingTime: &elapsed,
		},
	})
}

func (c *Client) logState(oldState, newState, reason string) {
	if c.config.Logger == nil {
		return
	}
	c.config.Logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.connID,
		Layer:        log.LayerTransport,
		Category:     log.CategoryState,
		LocalRole:    log.RoleController,
		RemoteAddr:   c.conn.RemoteAddr().String(),
		Channel:      c.config.Channel,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}

func (c *Client) logError(err error) {
	if c.config.Logger == nil {
		return
	}
	c.config.Logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.connID,
		Layer:        log.LayerTransport,
		Category:     log.CategoryError,
		LocalRole:    log.RoleController,
		Channel:      c.config.Channel,
		Error: &log.ErrorEventData{
			Layer:   log.LayerTransport,
			Message: err.Error(),
			Context: "read reply",
		},
	})
}

func linkOf(v any) int32 {
	if lr, ok := v.(LinkReferrer); ok {
		return lr.LinkID()
	}
	return 0
}
