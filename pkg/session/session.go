package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/vxi11-protocol/vxi11-go/pkg/address"
	"github.com/vxi11-protocol/vxi11-go/pkg/core"
	"github.com/vxi11-protocol/vxi11-go/pkg/interrupt"
	"github.com/vxi11-protocol/vxi11-go/pkg/log"
	"github.com/vxi11-protocol/vxi11-go/pkg/wire"
	"go.uber.org/multierr"
)

// Session errors.
var (
	ErrNotConnected    = errors.New("session: not connected")
	ErrSessionClosed   = errors.New("session: closed")
	ErrPayloadTooLarge = errors.New("session: payload exceeds maxRecvSize")
	ErrNilResponse     = errors.New("session: empty response")
)

// Default timeouts.
const (
	DefaultConnectTimeout  = 5 * time.Second
	DefaultIOTimeout       = 10 * time.Second
	DefaultTransmitTimeout = core.DefaultTransmitTimeout
	DefaultLockTimeout     = 5 * time.Second
)

// Config configures a Session.
type Config struct {
	// CorePort is the core channel port. Zero asks the portmapper on the
	// instrument host.
	CorePort int

	// ConnectTimeout replaces TransmitTimeout during create_link when
	// Connect is given no timeout (default: DefaultConnectTimeout).
	ConnectTimeout time.Duration

	// IOTimeout is sent with every call that moves data or waits on the
	// instrument (default: DefaultIOTimeout).
	IOTimeout time.Duration

	// TransmitTimeout bounds each RPC exchange on the core and abort
	// channels (default: DefaultTransmitTimeout).
	TransmitTimeout time.Duration

	// LockTimeout is how long calls wait for the device lock when WaitLock
	// is set (default: DefaultLockTimeout).
	LockTimeout time.Duration

	// WaitLock makes calls wait for a lock held by another link instead of
	// failing at once.
	WaitLock bool

	// LockOnConnect asks create_link to acquire the device lock.
	LockOnConnect bool

	// WriteTermination is appended by WriteString and Query unless the
	// message already ends with it.
	WriteTermination string

	// ReadTermination ends a Read when the instrument sends it. Its last
	// byte is sent as the termination character. Empty relies on END
	// alone.
	ReadTermination string

	// EOI sets END on the last block of every Write.
	EOI bool

	// QueryDelay is waited between the write and the read of a Query.
	QueryDelay time.Duration

	// ClientIDs allocates this session's client id (default: a private
	// generator).
	ClientIDs *ClientIDGenerator

	// Dialer opens channels (default: NetworkDialer).
	Dialer Dialer

	// Listener is a shared interrupt listener. When nil the session runs
	// its own while service requests are enabled.
	Listener *interrupt.Listener

	// ListenerAddress and ListenerNetwork configure the session's own
	// interrupt listener (default ":0" over tcp).
	ListenerAddress string
	ListenerNetwork string

	// SrqStopTimeout bounds stopping the session's own interrupt listener
	// (default: interrupt.DefaultStopTimeout).
	SrqStopTimeout time.Duration

	// OnError receives failures of the interrupt listener, which runs in
	// the background (optional).
	OnError func(error)

	// Clock drives QueryDelay and the listener stop deadline (default:
	// clock.WallClock).
	Clock clock.Clock

	// Logger for operational logging (optional).
	Logger *slog.Logger

	// ProtocolLogger for protocol capture (optional).
	ProtocolLogger log.Logger
}

// DefaultConfig returns a configuration for SCPI instruments: "\n"
// terminated messages sent with END.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:   DefaultConnectTimeout,
		IOTimeout:        DefaultIOTimeout,
		TransmitTimeout:  DefaultTransmitTimeout,
		LockTimeout:      DefaultLockTimeout,
		WriteTermination: "\n",
		ReadTermination:  "\n",
		EOI:              true,
	}
}

func (c *Config) applyDefaults() {
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.IOTimeout == 0 {
		c.IOTimeout = DefaultIOTimeout
	}
	if c.TransmitTimeout == 0 {
		c.TransmitTimeout = DefaultTransmitTimeout
	}
	if c.LockTimeout == 0 {
		c.LockTimeout = DefaultLockTimeout
	}
	if c.SrqStopTimeout == 0 {
		c.SrqStopTimeout = interrupt.DefaultStopTimeout
	}
	if c.ClientIDs == nil {
		c.ClientIDs = NewClientIDGenerator(0)
	}
	if c.Dialer == nil {
		c.Dialer = NetworkDialer{Logger: c.ProtocolLogger}
	}
	if c.Clock == nil {
		c.Clock = clock.WallClock
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
}

// Session is one controller link to an instrument.
type Session struct {
	config   Config
	clock    clock.Clock
	logger   *slog.Logger
	dialer   Dialer
	clientID int32

	mu              sync.Mutex
	core            CoreClient
	abort           AbortClient
	link            wire.LinkID
	linked          bool
	maxRecvSize     int
	abortPort       uint16
	host            string
	device          string
	connectTimeout  time.Duration
	ioTimeout       time.Duration
	transmitTimeout time.Duration
	lockTimeout     time.Duration
	closed          bool

	listener     *interrupt.Listener
	ownsListener bool
	unsubscribe  func()
	intrChan     bool
}

// New creates an unconnected session and draws its client id.
func New(config Config) *Session {
	config.applyDefaults()
	return &Session{
		config:          config,
		clock:           config.Clock,
		logger:          config.Logger,
		dialer:          config.Dialer,
		clientID:        config.ClientIDs.Next(),
		connectTimeout:  config.ConnectTimeout,
		ioTimeout:       config.IOTimeout,
		transmitTimeout: config.TransmitTimeout,
		lockTimeout:     config.LockTimeout,
	}
}

// Connect opens the core channel to host and creates a link to device. An
// open link is closed first. connectTimeout replaces the transmit timeout
// for create_link only; zero uses Config.ConnectTimeout.
func (s *Session) Connect(ctx context.Context, host, device string, connectTimeout time.Duration) error {
	if connectTimeout <= 0 {
		connectTimeout = s.config.ConnectTimeout
	}
	if device == "" {
		device = address.DefaultDevice
	}

	s.mu.Lock()
	open := s.core != nil || s.linked
	s.host, s.device, s.connectTimeout = host, device, connectTimeout
	transmit := s.transmitTimeout
	s.mu.Unlock()

	if open {
		if err := s.teardown(ctx); err != nil {
			s.logger.Warn("closing previous link", "error", err)
		}
	}

	port := s.config.CorePort
	if port == 0 {
		var err error
		if port, err = s.dialer.CorePort(ctx, host); err != nil {
			return fmt.Errorf("session: %w", err)
		}
	}
	addr := hostPort(host, port)

	c, err := s.dialer.DialCore(ctx, addr, transmit)
	if err != nil {
		return fmt.Errorf("session: connect %s: %w", addr, err)
	}
	resp, err := s.createLink(ctx, c, device, connectTimeout)
	if err != nil {
		_ = c.Close()
		return err
	}

	maxRecv := int(resp.MaxRecvSize)
	if maxRecv == 0 {
		maxRecv = wire.MinMaxRecvSize
	}

	s.mu.Lock()
	s.core = c
	s.link = resp.Link
	s.linked = true
	s.maxRecvSize = maxRecv
	s.abortPort = resp.AbortPort
	s.closed = false
	s.mu.Unlock()

	s.logger.Info("link created",
		"address", addr,
		"device", device,
		"link", resp.Link,
		"client_id", s.clientID,
		"max_recv_size", maxRecv,
		"abort_port", resp.AbortPort)
	return nil
}

// ConnectResource connects to a VISA resource such as
// "TCPIP0::10.0.0.5::inst0::INSTR".
func (s *Session) ConnectResource(ctx context.Context, resource string, connectTimeout time.Duration) error {
	r, err := address.ParseResource(resource)
	if err != nil {
		return err
	}
	return s.Connect(ctx, r.Host, r.Device, connectTimeout)
}

func (s *Session) createLink(ctx context.Context, c CoreClient, device string, connectTimeout time.Duration) (*wire.CreateLinkResp, error) {
	restore := c.TransmitTimeout()
	c.SetTransmitTimeout(connectTimeout)
	defer c.SetTransmitTimeout(restore)

	s.mu.Lock()
	lockTimeout := s.lockTimeout
	s.mu.Unlock()

	resp, err := c.CreateLink(ctx, &wire.CreateLinkParms{
		ClientID:    s.clientID,
		LockDevice:  s.config.LockOnConnect,
		LockTimeout: wire.Millis(lockTimeout),
		Device:      device,
	})
	if err != nil {
		return nil, fmt.Errorf("session: create_link %s: %w", device, err)
	}
	if err := resp.Error.Err("create_link"); err != nil {
		return nil, err
	}
	return resp, nil
}

// Reconnect repeats the last Connect. It fails with ErrSessionClosed after
// Close.
func (s *Session) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	closed := s.closed
	host, device, timeout := s.host, s.device, s.connectTimeout
	s.mu.Unlock()

	if closed {
		return ErrSessionClosed
	}
	if host == "" {
		return ErrNotConnected
	}
	return s.Connect(ctx, host, device, timeout)
}

// Close stops the interrupt listener, closes the abort channel, destroys
// the link and closes the core channel. Every step runs even if an earlier
// one fails; the failures are returned together. Closing a closed session
// does nothing.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.teardown(context.Background())
}

// teardown releases everything Connect and EnableSrq acquired. Fields are
// cleared before any call so a failure is never retried.
func (s *Session) teardown(ctx context.Context) error {
	s.mu.Lock()
	c, a := s.core, s.abort
	link, linked := s.link, s.linked
	l, owns, unsub := s.listener, s.ownsListener, s.unsubscribe
	s.core, s.abort = nil, nil
	s.link, s.linked = 0, false
	s.maxRecvSize, s.abortPort = 0, 0
	s.listener, s.ownsListener, s.unsubscribe, s.intrChan = nil, false, nil, false
	s.mu.Unlock()

	var err error
	err = multierr.Append(err, s.stopListener(l, owns, unsub))
	if a != nil {
		if cerr := a.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("session: close abort channel: %w", cerr))
		}
	}
	if linked && c != nil {
		resp, derr := c.DestroyLink(ctx, link)
		switch {
		case derr != nil:
			err = multierr.Append(err, fmt.Errorf("session: destroy_link: %w", derr))
		case resp == nil:
			err = multierr.Append(err, fmt.Errorf("session: destroy_link: %w", ErrNilResponse))
		default:
			err = multierr.Append(err, resp.Error.Err("destroy_link"))
		}
	}
	if c != nil {
		if cerr := c.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("session: close core channel: %w", cerr))
		}
		s.logger.Info("link closed", "link", link, "client_id", s.clientID)
	}
	return err
}

// linkState is what one call needs from the session, read under the lock
// so Abort can run beside it.
type linkState struct {
	core        CoreClient
	link        wire.LinkID
	maxRecvSize int
	ioTimeout   uint32
	lockTimeout uint32
	flags       wire.Flags
}

func (s *Session) active() (linkState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.core == nil || !s.linked {
		if s.closed {
			return linkState{}, ErrSessionClosed
		}
		return linkState{}, ErrNotConnected
	}
	st := linkState{
		core:        s.core,
		link:        s.link,
		maxRecvSize: s.maxRecvSize,
		ioTimeout:   wire.Millis(s.ioTimeout),
		lockTimeout: wire.Millis(s.lockTimeout),
	}
	if s.config.WaitLock {
		st.flags |= wire.FlagWaitLock
	}
	return st, nil
}

// ClientID returns the client id sent with create_link.
func (s *Session) ClientID() int32 {
	return s.clientID
}

// Link returns the link id and whether a link is open.
func (s *Session) Link() (wire.LinkID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link, s.linked
}

// Connected reports whether a link is open.
func (s *Session) Connected() bool {
	_, ok := s.Link()
	return ok
}

// MaxRecvSize returns the largest device_write block the instrument
// accepts, or zero when not connected.
func (s *Session) MaxRecvSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxRecvSize
}

// AbortPort returns the abort channel port from create_link.
func (s *Session) AbortPort() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.abortPort
}

// Host returns the host of the last Connect.
func (s *Session) Host() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.host
}

// Device returns the device name of the last Connect.
func (s *Session) Device() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device
}

// IOTimeout returns the io_timeout sent with calls.
func (s *Session) IOTimeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ioTimeout
}

// SetIOTimeout changes the io_timeout of later calls. The core client
// waits for the exchange timeout plus io_timeout, so open channels follow
// at once.
func (s *Session) SetIOTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ioTimeout = d
}

// TransmitTimeout returns the RPC exchange timeout.
func (s *Session) TransmitTimeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transmitTimeout
}

// SetTransmitTimeout changes the RPC exchange timeout, including on open
// core and abort channels.
func (s *Session) SetTransmitTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transmitTimeout = d
	if s.core != nil {
		s.core.SetTransmitTimeout(d)
	}
	if s.abort != nil {
		s.abort.SetTimeout(d)
	}
}

// LockTimeout returns the lock_timeout sent with calls.
func (s *Session) LockTimeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lockTimeout
}

// SetLockTimeout changes the lock_timeout of later calls.
func (s *Session) SetLockTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lockTimeout = d
}
