package interrupt

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/vxi11-protocol/vxi11-go/pkg/log"
	"github.com/vxi11-protocol/vxi11-go/pkg/rpc"
	"github.com/vxi11-protocol/vxi11-go/pkg/wire"
)

// DefaultStopTimeout bounds Listener.Stop when no timeout is given.
const DefaultStopTimeout = 3 * time.Second

var (
	// ErrStopTimeout is returned when the listener did not stop in time.
	ErrStopTimeout = errors.New("interrupt: listener did not stop in time")

	// ErrListenerStopped is returned by Start after Stop.
	ErrListenerStopped = errors.New("interrupt: listener stopped")
)

// State is the lifecycle state of a Listener.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Event is one delivered service request.
type Event struct {
	ClientID int32
	Tag      []byte
	Handle   []byte
	From     net.Addr
	Received time.Time
}

// ListenerConfig configures a Listener.
type ListenerConfig struct {
	// Address to listen on (default ":0").
	Address string

	// Network is "tcp" (default) or "udp".
	Network string

	// Clock drives the stop deadline (default: clock.WallClock).
	Clock clock.Clock

	// Logger for operational logging (optional).
	Logger *slog.Logger

	// ProtocolLogger for protocol capture (optional).
	ProtocolLogger log.Logger
}

type subscriber struct {
	clientID int32
	fn       func(Event)
}

// Listener is the controller side of the interrupt channel. It moves through
// Idle, Running, Stopping and Stopped; a stopped Listener cannot restart.
type Listener struct {
	config ListenerConfig
	clock  clock.Clock
	logger *slog.Logger

	mu      sync.Mutex
	state   State
	server  *rpc.Server
	done    chan struct{}
	onError func(error)
	errOnce sync.Once

	subsMu sync.RWMutex
	subs   map[int]subscriber
	nextID int
}

// NewListener creates an idle listener.
func NewListener(config ListenerConfig) *Listener {
	if config.Address == "" {
		config.Address = ":0"
	}
	if config.Network == "" {
		config.Network = "tcp"
	}
	if config.Clock == nil {
		config.Clock = clock.WallClock
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &Listener{
		config: config,
		clock:  config.Clock,
		logger: config.Logger,
		subs:   make(map[int]subscriber),
	}
}

// Start binds the listener and serves in the background. onError, when not
// nil, receives the first runtime failure of the listener, once. Calling
// Start on a running listener does nothing.
func (l *Listener) Start(ctx context.Context, onError func(error)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateRunning:
		return nil
	case StateStopping, StateStopped:
		return ErrListenerStopped
	}

	srv, err := rpc.NewServer(rpc.ServerConfig{
		Address:       l.config.Address,
		Network:       l.config.Network,
		Logger:        l.config.ProtocolLogger,
		Role:          log.RoleController,
		Channel:       log.ChannelInterrupt,
		ProcedureName: wire.ProcedureName,
		OnError:       l.serverError,
	}, l)
	if err != nil {
		return err
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("interrupt: start listener: %w", err)
	}

	l.server = srv
	l.onError = onError
	l.state = StateRunning
	l.logger.Debug("interrupt listener started", "addr", srv.Addr())
	return nil
}

// Stop stops accepting service requests and waits up to timeout for the
// listener to finish. On timeout it returns ErrStopTimeout and the listener
// stays Stopping until shutdown completes. A zero timeout means
// DefaultStopTimeout.
func (l *Listener) Stop(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}

	l.mu.Lock()
	switch l.state {
	case StateIdle:
		l.state = StateStopped
		l.mu.Unlock()
		return nil
	case StateStopped:
		l.mu.Unlock()
		return nil
	case StateRunning:
		l.state = StateStopping
		l.done = make(chan struct{})
		go l.shutdown(l.server, l.done)
	}
	done := l.done
	l.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-l.clock.After(timeout):
		err := fmt.Errorf("%w after %v", ErrStopTimeout, timeout)
		l.report(err)
		return err
	}
}

func (l *Listener) shutdown(srv *rpc.Server, done chan struct{}) {
	if err := srv.Stop(); err != nil {
		l.logger.Debug("interrupt listener stop", "error", err)
	}
	l.mu.Lock()
	l.state = StateStopped
	l.mu.Unlock()
	close(done)
	l.logger.Debug("interrupt listener stopped")
}

// State returns the current lifecycle state.
func (l *Listener) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Running reports whether the listener accepts service requests.
func (l *Listener) Running() bool {
	return l.State() == StateRunning
}

// Addr returns the bound address, or nil before Start.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.server == nil {
		return nil
	}
	return l.server.Addr()
}

// Family returns the create_intr_chan family matching the listener network.
func (l *Listener) Family() wire.AddrFamily {
	switch l.config.Network {
	case "udp", "udp4", "udp6":
		return wire.FamilyUDP
	}
	return wire.FamilyTCP
}

// RemoteFunc describes the listener for create_intr_chan. host is the local
// address the instrument can reach, usually the local end of the core
// connection. Only IPv4 hosts can be described.
func (l *Listener) RemoteFunc(host net.IP) (*wire.DeviceRemoteFunc, error) {
	ip4 := host.To4()
	if ip4 == nil {
		return nil, fmt.Errorf("interrupt: %v is not an IPv4 address", host)
	}
	var port int
	switch a := l.Addr().(type) {
	case *net.TCPAddr:
		port = a.Port
	case *net.UDPAddr:
		port = a.Port
	default:
		return nil, fmt.Errorf("interrupt: listener not started")
	}
	return &wire.DeviceRemoteFunc{
		HostAddr:   binary.BigEndian.Uint32(ip4),
		HostPort:   uint16(port),
		ProgNum:    wire.InterruptProgram,
		ProgVers:   wire.InterruptVersion,
		ProgFamily: l.Family(),
	}, nil
}

// Subscribe registers fn for service requests whose handle carries clientID.
// fn runs on the listener's connection goroutine and must not block for
// long. The returned function removes the subscription.
func (l *Listener) Subscribe(clientID int32, fn func(Event)) (unsubscribe func()) {
	l.subsMu.Lock()
	id := l.nextID
	l.nextID++
	l.subs[id] = subscriber{clientID: clientID, fn: fn}
	l.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.subsMu.Lock()
			delete(l.subs, id)
			l.subsMu.Unlock()
		})
	}
}

// Subscribers returns the number of registered subscriptions.
func (l *Listener) Subscribers() int {
	l.subsMu.RLock()
	defer l.subsMu.RUnlock()
	return len(l.subs)
}

// Dispatch implements rpc.Dispatcher.
func (l *Listener) Dispatch(call *rpc.Call, program, version, procedure uint32) {
	if program != wire.InterruptProgram || version != wire.InterruptVersion {
		_ = call.ReplyProgramNotAvailable()
		return
	}

	switch procedure {
	case rpc.NullProcedure:
		_ = call.Reply(nil)
	case wire.ProcDeviceIntrSrq:
		var p wire.DeviceSrqParms
		if err := call.RetrieveCall(&p); err != nil {
			l.logger.Warn("malformed service request", "error", err)
			return
		}
		l.deliver(call.ConnInfo().RemoteAddr, p.Handle)
	default:
		_ = call.ReplyProcedureNotAvailable()
	}
}

func (l *Listener) deliver(from net.Addr, handle []byte) {
	clientID, tag, err := DecodeHandle(handle)
	if err != nil {
		l.logger.Debug("service request with foreign handle", "from", from, "error", err)
		return
	}
	ev := Event{
		ClientID: clientID,
		Tag:      tag,
		Handle:   handle,
		From:     from,
		Received: l.clock.Now(),
	}

	l.subsMu.RLock()
	var targets []func(Event)
	for _, s := range l.subs {
		if s.clientID == clientID {
			targets = append(targets, s.fn)
		}
	}
	l.subsMu.RUnlock()

	if len(targets) == 0 {
		l.logger.Debug("service request for unknown client", "client_id", clientID, "from", from)
	}
	for _, fn := range targets {
		fn(ev)
	}
}

func (l *Listener) serverError(conn *rpc.ServerConn, err error) {
	if conn != nil {
		l.logger.Debug("interrupt connection error", "remote", conn.RemoteAddr(), "error", err)
		return
	}
	if l.State() != StateRunning {
		return
	}
	l.report(err)
}

// report hands err to the Start callback, at most once per listener.
func (l *Listener) report(err error) {
	l.logger.Warn("interrupt listener failure", "error", err)
	l.mu.Lock()
	onError := l.onError
	l.mu.Unlock()
	if onError == nil {
		return
	}
	l.errOnce.Do(func() { onError(err) })
}

var _ rpc.Dispatcher = (*Listener)(nil)
