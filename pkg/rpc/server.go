package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/vxi11-protocol/vxi11-go/pkg/log"
	"github.com/vxi11-protocol/vxi11-go/pkg/xdr"
)

// Dispatcher handles inbound calls. Dispatch must answer the call with one of
// the Call reply methods, or leave it unanswered for one-way procedures.
type Dispatcher interface {
	Dispatch(call *Call, program, version, procedure uint32)
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(call *Call, program, version, procedure uint32)

// Dispatch calls f.
func (f DispatcherFunc) Dispatch(call *Call, program, version, procedure uint32) {
	f(call, program, version, procedure)
}

// ServerConfig configures an RPC server.
type ServerConfig struct {
	// Address to listen on (e.g., ":1024" or "127.0.0.1:0").
	Address string

	// Network is "tcp" (default) or "udp".
	Network string

	// MaxRecordSize bounds inbound call records (default: DefaultMaxRecordSize).
	MaxRecordSize int

	// Logger for protocol logging (optional).
	Logger log.Logger

	// Role tags log events (instrument for VXI-11 servers, controller for
	// interrupt listeners).
	Role log.Role

	// Channel tags log events.
	Channel log.Channel

	// ProcedureName names procedures in log events (optional).
	ProcedureName func(program, procedure uint32) string

	// OnConnect is called when a new connection is established.
	OnConnect func(conn *ServerConn)

	// OnDisconnect is called after a connection closed and its last call returned.
	OnDisconnect func(conn *ServerConn)

	// OnError is called when an error occurs. conn is nil for listener errors.
	OnError func(conn *ServerConn, err error)
}

// Server accepts connections and dispatches their calls. Calls arriving on
// one connection are dispatched one at a time, in order.
type Server struct {
	config     ServerConfig
	dispatcher Dispatcher

	listener net.Listener
	packet   net.PacketConn

	conns   map[*ServerConn]struct{}
	connsMu sync.RWMutex

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer creates a server that hands calls to dispatcher.
func NewServer(config ServerConfig, dispatcher Dispatcher) (*Server, error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if config.Address == "" {
		config.Address = ":0"
	}
	switch config.Network {
	case "":
		config.Network = "tcp"
	case "tcp", "tcp4", "tcp6", "udp", "udp4", "udp6":
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedNetwork, config.Network)
	}
	if config.MaxRecordSize == 0 {
		config.MaxRecordSize = DefaultMaxRecordSize
	}
	return &Server{
		config:     config,
		dispatcher: dispatcher,
		conns:      make(map[*ServerConn]struct{}),
	}, nil
}

// Start starts the server and begins accepting connections.
func (s *Server) Start(ctx context.Context) error {
	if s.running.Load() {
		return fmt.Errorf("server already running")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)

	if s.isPacket() {
		pc, err := net.ListenPacket(s.config.Network, s.config.Address)
		if err != nil {
			s.cancel()
			return fmt.Errorf("failed to listen: %w", err)
		}
		s.packet = pc
		s.running.Store(true)
		s.wg.Add(1)
		go s.packetLoop()
		return nil
	}

	listener, err := net.Listen(s.config.Network, s.config.Address)
	if err != nil {
		s.cancel()
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener
	s.running.Store(true)

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Stop stops the server, closes all connections and waits for in-flight
// calls to return.
func (s *Server) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	s.cancel()

	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	if s.packet != nil {
		err = s.packet.Close()
	}

	s.connsMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connsMu.Unlock()

	s.wg.Wait()
	return err
}

// Running reports whether the server is accepting calls.
func (s *Server) Running() bool {
	return s.running.Load()
}

// Addr returns the server's listen address.
func (s *Server) Addr() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	if s.packet != nil {
		return s.packet.LocalAddr()
	}
	return nil
}

// Port returns the listening port, or 0 when not started.
func (s *Server) Port() int {
	switch a := s.Addr().(type) {
	case *net.TCPAddr:
		return a.Port
	case *net.UDPAddr:
		return a.Port
	}
	return 0
}

// ConnectionCount returns the number of active connections.
func (s *Server) ConnectionCount() int {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	return len(s.conns)
}

func (s *Server) isPacket() bool {
	switch s.config.Network {
	case "udp", "udp4", "udp6":
		return true
	}
	return false
}

// acceptLoop accepts incoming connections.
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for s.running.Load() {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.running.Load() && s.config.OnError != nil {
				s.config.OnError(nil, fmt.Errorf("accept error: %w", err))
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// handleConnection runs one connection until it closes.
func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()

	connID := uuid.New().String()
	sconn := &ServerConn{
		conn:       newStreamConn(conn, s.config.MaxRecordSize, s.config.Logger, connID),
		server:     s,
		closeCh:    make(chan struct{}),
		remoteAddr: conn.RemoteAddr(),
		localAddr:  conn.LocalAddr(),
		connID:     connID,
	}
	sconn.ctx = ContextWithConn(s.ctx, sconn.Info())

	s.logState(connID, conn.RemoteAddr(), "", "CONNECTED")

	s.connsMu.Lock()
	s.conns[sconn] = struct{}{}
	s.connsMu.Unlock()

	if s.config.OnConnect != nil {
		s.config.OnConnect(sconn)
	}

	sconn.readLoop()

	s.connsMu.Lock()
	delete(s.conns, sconn)
	s.connsMu.Unlock()

	s.logState(connID, conn.RemoteAddr(), "CONNECTED", "DISCONNECTED")

	if s.config.OnDisconnect != nil {
		s.config.OnDisconnect(sconn)
	}
}

// packetLoop serves datagrams. Every datagram is an independent call.
func (s *Server) packetLoop() {
	defer s.wg.Done()

	buf := make([]byte, maxDatagramSize)
	for s.running.Load() {
		n, addr, err := s.packet.ReadFrom(buf)
		if err != nil {
			if s.running.Load() && s.config.OnError != nil {
				s.config.OnError(nil, fmt.Errorf("read error: %w", err))
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])

		info := ConnInfo{ID: addr.String(), Network: s.config.Network, RemoteAddr: addr, LocalAddr: s.packet.LocalAddr()}
		reply := func(msg []byte) error {
			_, err := s.packet.WriteTo(msg, addr)
			return err
		}
		s.serve(ContextWithConn(s.ctx, info), nil, info, data, reply)
	}
}

// serve parses one inbound message and dispatches it.
func (s *Server) serve(ctx context.Context, conn *ServerConn, info ConnInfo, data []byte, send func([]byte) error) {
	msg, err := parseMessage(data)
	if err != nil {
		if s.config.OnError != nil {
			s.config.OnError(conn, err)
		}
		return
	}
	if msg.call == nil {
		return
	}

	call := &Call{
		Header:   *msg.call,
		args:     msg.body,
		ctx:      ctx,
		conn:     conn,
		info:     info,
		send:     send,
		server:   s,
		received: time.Now(),
	}
	s.logCall(call, log.DirectionIn, log.MessageTypeCall, len(msg.body), nil, nil)

	if msg.call.RPCVers != RPCVersion {
		call.reply(&ReplyHeader{Stat: MsgDenied, Reject: RPCMismatch, Low: RPCVersion, High: RPCVersion}, nil)
		return
	}

	s.dispatcher.Dispatch(call, msg.call.Program, msg.call.Version, msg.call.Procedure)
}

func (s *Server) procName(program, procedure uint32) string {
	if s.config.ProcedureName != nil {
		return s.config.ProcedureName(program, procedure)
	}
	return ""
}

func (s *Server) logCall(call *Call, dir log.Direction, mtype log.MessageType, size int, accept *uint32, code *int32) {
	if s.config.Logger == nil {
		return
	}
	h := call.Header
	event := log.Event{
		Timestamp:    time.Now(),
		ConnectionID: call.info.ID,
		Direction:    dir,
		Layer:        log.LayerRPC,
		Category:     log.CategoryMessage,
		LocalRole:    s.config.Role,
		Channel:      s.config.Channel,
		LinkID:       call.linkID,
		Call: &log.CallEvent{
			Type:          mtype,
			XID:           h.XID,
			Program:       h.Program,
			Version:       h.Version,
			Procedure:     h.Procedure,
			ProcedureName: s.procName(h.Program, h.Procedure),
			AcceptStatus:  accept,
			DeviceError:   code,
			PayloadSize:   size,
		},
	}
	if call.info.RemoteAddr != nil {
		event.RemoteAddr = call.info.RemoteAddr.String()
	}
	if mtype == log.MessageTypeReply {
		elapsed := time.Since(call.received)
		event.Call.ProcessingTime = &elapsed
	}
	s.config.Logger.Log(event)
}

func (s *Server) logState(connID string, remote net.Addr, oldState, newState string) {
	if s.config.Logger == nil {
		return
	}
	s.config.Logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Layer:        log.LayerTransport,
		Category:     log.CategoryState,
		LocalRole:    s.config.Role,
		RemoteAddr:   remote.String(),
		Channel:      s.config.Channel,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: oldState,
			NewState: newState,
		},
	})
}

// ServerConn represents a client connection to the server.
type ServerConn struct {
	conn       *streamConn
	server     *Server
	ctx        context.Context
	closeCh    chan struct{}
	closeOnce  sync.Once
	remoteAddr net.Addr
	localAddr  net.Addr
	connID     string

	writeMu sync.Mutex
}

// RemoteAddr returns the remote address of the client.
func (c *ServerConn) RemoteAddr() net.Addr {
	return c.remoteAddr
}

// LocalAddr returns the local address the client connected to.
func (c *ServerConn) LocalAddr() net.Addr {
	return c.localAddr
}

// ConnID returns the unique connection identifier.
func (c *ServerConn) ConnID() string {
	return c.connID
}

// Info describes the connection.
func (c *ServerConn) Info() ConnInfo {
	return ConnInfo{ID: c.connID, Network: "tcp", RemoteAddr: c.remoteAddr, LocalAddr: c.localAddr}
}

// Done is closed when the connection is closed.
func (c *ServerConn) Done() <-chan struct{} {
	return c.closeCh
}

// Close closes the connection.
func (c *ServerConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		err = c.conn.Close()
	})
	return err
}

func (c *ServerConn) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.closeCh:
		return net.ErrClosed
	default:
	}
	return c.conn.WriteMessage(data)
}

// readLoop reads calls from the connection.
func (c *ServerConn) readLoop() {
	defer c.Close()

	for {
		select {
		case <-c.closeCh:
			return
		case <-c.server.ctx.Done():
			return
		default:
		}

		data, err := c.conn.ReadMessage()
		if err != nil {
			if c.server.config.OnError != nil && c.server.running.Load() && !isClosedError(err) {
				select {
				case <-c.closeCh:
				default:
					c.server.config.OnError(c, err)
				}
			}
			return
		}

		c.server.serve(c.ctx, c, c.Info(), data, c.write)
	}
}

func isClosedError(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF)
}

// Call is one inbound call awaiting a reply.
type Call struct {
	// Header is the decoded call header.
	Header CallHeader

	args     []byte
	ctx      context.Context
	conn     *ServerConn
	info     ConnInfo
	send     func([]byte) error
	server   *Server
	received time.Time
	linkID   int32
	replied  atomic.Bool
}

// Context returns a context carrying ConnInfo. It is cancelled when the
// server stops.
func (c *Call) Context() context.Context {
	return c.ctx
}

// Conn returns the stream connection the call arrived on, or nil for UDP.
func (c *Call) Conn() *ServerConn {
	return c.conn
}

// ConnInfo describes the connection the call arrived on.
func (c *Call) ConnInfo() ConnInfo {
	return c.info
}

// RetrieveCall decodes the call arguments. On failure it answers the call
// with GARBAGE_ARGS and returns the decode error.
func (c *Call) RetrieveCall(args xdr.Unmarshaler) error {
	if err := xdr.Unmarshal(c.args, args); err != nil {
		_ = c.ReplyGarbageArgs()
		return fmt.Errorf("decode arguments: %w", err)
	}
	c.linkID = linkOf(args)
	return nil
}

// Reply answers the call with SUCCESS and the given results.
// A nil results value sends an empty (void) result.
func (c *Call) Reply(results xdr.Marshaler) error {
	return c.reply(&ReplyHeader{Stat: MsgAccepted, Accept: Success}, results)
}

// ReplyProgramNotAvailable answers with PROG_UNAVAIL.
func (c *Call) ReplyProgramNotAvailable() error {
	return c.reply(&ReplyHeader{Stat: MsgAccepted, Accept: ProgUnavail}, nil)
}

// ReplyProgramMismatch answers with PROG_MISMATCH and the supported range.
func (c *Call) ReplyProgramMismatch(low, high uint32) error {
	return c.reply(&ReplyHeader{Stat: MsgAccepted, Accept: ProgMismatch, Low: low, High: high}, nil)
}

// ReplyProcedureNotAvailable answers with PROC_UNAVAIL.
func (c *Call) ReplyProcedureNotAvailable() error {
	return c.reply(&ReplyHeader{Stat: MsgAccepted, Accept: ProcUnavail}, nil)
}

// ReplyGarbageArgs answers with GARBAGE_ARGS.
func (c *Call) ReplyGarbageArgs() error {
	return c.reply(&ReplyHeader{Stat: MsgAccepted, Accept: GarbageArgs}, nil)
}

// ReplySystemError answers with SYSTEM_ERR.
func (c *Call) ReplySystemError() error {
	return c.reply(&ReplyHeader{Stat: MsgAccepted, Accept: SystemErr}, nil)
}

// Replied reports whether the call has been answered.
func (c *Call) Replied() bool {
	return c.replied.Load()
}

func (c *Call) reply(header *ReplyHeader, results xdr.Marshaler) error {
	if !c.replied.CompareAndSwap(false, true) {
		return ErrAlreadyReplied
	}
	header.XID = c.Header.XID

	data := encodeMessage(header, results)

	accept := uint32(header.Accept)
	var code *int32
	if ec, ok := results.(ErrorCoder); ok {
		v := ec.ErrorCode()
		code = &v
	}
	c.server.logCall(c, log.DirectionOut, log.MessageTypeReply, len(data), &accept, code)

	if err := c.send(data); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	return nil
}

// ConnInfo describes the connection a call arrived on.
type ConnInfo struct {
	// ID is unique per stream connection; for UDP it is the peer address.
	ID         string
	Network    string
	RemoteAddr net.Addr
	LocalAddr  net.Addr
}

type connInfoKey struct{}

// ContextWithConn returns ctx carrying info, as handlers see it.
func ContextWithConn(ctx context.Context, info ConnInfo) context.Context {
	return context.WithValue(ctx, connInfoKey{}, info)
}

// ConnFromContext returns the ConnInfo stored by the server, if any.
func ConnFromContext(ctx context.Context) (ConnInfo, bool) {
	info, ok := ctx.Value(connInfoKey{}).(ConnInfo)
	return info, ok
}
