package device

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/juju/clock"
	"github.com/vxi11-protocol/vxi11-go/pkg/abort"
	"github.com/vxi11-protocol/vxi11-go/pkg/address"
	"github.com/vxi11-protocol/vxi11-go/pkg/core"
	"github.com/vxi11-protocol/vxi11-go/pkg/interrupt"
	"github.com/vxi11-protocol/vxi11-go/pkg/log"
	"github.com/vxi11-protocol/vxi11-go/pkg/rpc"
	"github.com/vxi11-protocol/vxi11-go/pkg/wire"
	"go.uber.org/multierr"
)

// coreConn is the per-connection state of the core channel.
type coreConn struct {
	id    string
	links map[wire.LinkID]*link
	intr  *interrupt.Client
}

// Server is a VXI-11 instrument server.
type Server struct {
	config Config
	clock  clock.Clock
	logger *slog.Logger
	proto  log.Logger

	mu       sync.Mutex
	state    ServerState
	devices  map[string]*device
	links    map[wire.LinkID]*link
	conns    map[string]*coreConn
	lastLink wire.LinkID

	core    *rpc.Server
	abort   *rpc.Server
	portmap *rpc.Server
	pmap    *rpc.Portmapper

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a server. Devices are added with AddDevice before Start.
func NewServer(config Config) *Server {
	config.applyDefaults()

	var proto log.Logger
	switch {
	case config.ProtocolLogger != nil && config.Metrics != nil:
		proto = log.NewMultiLogger(config.ProtocolLogger, config.Metrics)
	case config.ProtocolLogger != nil:
		proto = config.ProtocolLogger
	case config.Metrics != nil:
		proto = config.Metrics
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		config:  config,
		clock:   config.Clock,
		logger:  config.Logger,
		proto:   proto,
		devices: make(map[string]*device),
		links:   make(map[wire.LinkID]*link),
		conns:   make(map[string]*coreConn),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// AddDevice registers inst under a device name such as "inst0".
func (s *Server) AddDevice(name string, inst Instrument) error {
	dn, err := address.ParseDeviceName(name)
	if err != nil {
		return err
	}
	key := dn.String()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.devices[key]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateDevice, key)
	}
	d := newDevice(key, inst, s.clock)
	s.devices[key] = d

	if sr, ok := inst.(ServiceRequester); ok {
		sr.SetServiceRequestFunc(func() { s.requestService(d) })
	}
	return nil
}

// Devices returns the registered device names.
func (s *Server) Devices() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.devices))
	for name := range s.devices {
		names = append(names, name)
	}
	return names
}

// Start opens the core and abort channels, and the portmapper when
// configured.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	if len(s.devices) == 0 {
		s.mu.Unlock()
		return ErrNoDevices
	}
	s.state = StateRunning
	s.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			s.cancel()
		case <-s.ctx.Done():
		}
	}()

	if err := s.start(); err != nil {
		_ = s.Stop()
		return err
	}

	s.logger.Info("instrument server started",
		"core", s.core.Addr(),
		"abort", s.abort.Addr(),
		"devices", len(s.devices))
	return nil
}

func (s *Server) start() error {
	var err error
	s.abort, err = rpc.NewServer(rpc.ServerConfig{
		Address:       s.config.AbortAddress,
		Logger:        s.proto,
		Role:          log.RoleInstrument,
		Channel:       log.ChannelAbort,
		ProcedureName: wire.ProcedureName,
	}, abort.NewServer(s, s.logger))
	if err != nil {
		return err
	}
	if err := s.abort.Start(s.ctx); err != nil {
		return fmt.Errorf("abort channel: %w", err)
	}

	s.core, err = rpc.NewServer(rpc.ServerConfig{
		Address:       s.config.CoreAddress,
		Logger:        s.proto,
		Role:          log.RoleInstrument,
		Channel:       log.ChannelCore,
		ProcedureName: wire.ProcedureName,
		OnConnect:     s.onConnect,
		OnDisconnect:  s.onDisconnect,
		OnError: func(conn *rpc.ServerConn, err error) {
			s.logger.Debug("core connection error", "error", err)
		},
	}, core.NewServer(s, s.logger))
	if err != nil {
		return err
	}
	if err := s.core.Start(s.ctx); err != nil {
		return fmt.Errorf("core channel: %w", err)
	}

	mapping := rpc.Mapping{
		Program:  wire.CoreProgram,
		Version:  wire.CoreVersion,
		Protocol: rpc.ProtocolTCP,
		Port:     uint32(s.core.Port()),
	}

	if s.config.PortmapAddress != "" {
		s.pmap = rpc.NewPortmapper()
		s.pmap.Register(mapping)
		s.portmap, err = rpc.NewServer(rpc.ServerConfig{
			Address:       s.config.PortmapAddress,
			Logger:        s.proto,
			Role:          log.RoleInstrument,
			Channel:       log.ChannelPortmap,
			ProcedureName: wire.ProcedureName,
		}, s.pmap)
		if err != nil {
			return err
		}
		if err := s.portmap.Start(s.ctx); err != nil {
			return fmt.Errorf("portmapper: %w", err)
		}
	}

	if s.config.RegisterWith != "" {
		if err := s.register(mapping); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) register(m rpc.Mapping) error {
	pm, err := rpc.DialPortmapper(s.ctx, s.config.RegisterWith, rpc.ClientConfig{Logger: s.proto})
	if err != nil {
		return fmt.Errorf("portmapper %s: %w", s.config.RegisterWith, err)
	}
	defer pm.Close()

	// A stale registration from a previous run would make SET fail.
	_, _ = pm.Unset(s.ctx, m.Program, m.Version)
	ok, err := pm.Set(s.ctx, m)
	if err != nil {
		return fmt.Errorf("portmapper %s: %w", s.config.RegisterWith, err)
	}
	if !ok {
		return fmt.Errorf("portmapper %s refused core channel registration", s.config.RegisterWith)
	}
	return nil
}

func (s *Server) unregister() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.InterruptTimeout)
	defer cancel()
	pm, err := rpc.DialPortmapper(ctx, s.config.RegisterWith, rpc.ClientConfig{Logger: s.proto})
	if err != nil {
		return err
	}
	defer pm.Close()
	_, err = pm.Unset(ctx, wire.CoreProgram, wire.CoreVersion)
	return err
}

// Stop closes every channel, destroys all links and waits for pending
// service requests. Errors from each step are combined.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStopped

	for _, l := range s.links {
		l.abort()
	}
	s.mu.Unlock()

	var err error
	if s.config.RegisterWith != "" && s.core != nil {
		err = multierr.Append(err, s.unregister())
	}
	s.cancel()

	for _, srv := range []*rpc.Server{s.portmap, s.core, s.abort} {
		if srv != nil {
			err = multierr.Append(err, srv.Stop())
		}
	}
	s.wg.Wait()

	s.mu.Lock()
	for id, c := range s.conns {
		err = multierr.Append(err, s.dropConnLocked(c))
		delete(s.conns, id)
	}
	s.mu.Unlock()

	s.logger.Info("instrument server stopped")
	return err
}

// State returns the server state.
func (s *Server) State() ServerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CoreAddr returns the core channel address, or nil before Start.
func (s *Server) CoreAddr() net.Addr {
	if s.core == nil {
		return nil
	}
	return s.core.Addr()
}

// AbortAddr returns the abort channel address, or nil before Start.
func (s *Server) AbortAddr() net.Addr {
	if s.abort == nil {
		return nil
	}
	return s.abort.Addr()
}

// PortmapAddr returns the built-in portmapper address, or nil.
func (s *Server) PortmapAddr() net.Addr {
	if s.portmap == nil {
		return nil
	}
	return s.portmap.Addr()
}

// LinkCount returns the number of open links.
func (s *Server) LinkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.links)
}

func (s *Server) abortPort() uint16 {
	if s.abort == nil {
		return 0
	}
	return uint16(s.abort.Port())
}

func (s *Server) onConnect(conn *rpc.ServerConn) {
	s.mu.Lock()
	s.connLocked(conn.ConnID())
	s.mu.Unlock()
	if s.config.Metrics != nil {
		s.config.Metrics.ConnectionOpened()
	}
	s.logger.Debug("core connection opened", "conn", conn.ConnID(), "remote", conn.RemoteAddr())
}

// onDisconnect destroys the links of a closed core connection.
func (s *Server) onDisconnect(conn *rpc.ServerConn) {
	s.mu.Lock()
	c, ok := s.conns[conn.ConnID()]
	delete(s.conns, conn.ConnID())
	var err error
	if ok {
		err = s.dropConnLocked(c)
	}
	s.mu.Unlock()

	if s.config.Metrics != nil {
		s.config.Metrics.ConnectionClosed()
	}
	if err != nil {
		s.logger.Debug("closing interrupt channel", "conn", conn.ConnID(), "error", err)
	}
	s.logger.Debug("core connection closed", "conn", conn.ConnID())
}

// connLocked returns the state of connection id, creating it. s.mu must be held.
func (s *Server) connLocked(id string) *coreConn {
	c, ok := s.conns[id]
	if !ok {
		c = &coreConn{id: id, links: make(map[wire.LinkID]*link)}
		s.conns[id] = c
	}
	return c
}

// dropConnLocked destroys every link of c and closes its interrupt channel.
// s.mu must be held.
func (s *Server) dropConnLocked(c *coreConn) error {
	for id, l := range c.links {
		s.removeLinkLocked(l)
		delete(c.links, id)
	}
	if c.intr == nil {
		return nil
	}
	err := c.intr.Close()
	c.intr = nil
	return err
}

// removeLinkLocked forgets l, cancels its in-flight call and releases its
// lock. s.mu must be held.
func (s *Server) removeLinkLocked(l *link) {
	delete(s.links, l.id)
	l.abort()
	l.dev.dropLink(l.id)
	if s.config.Metrics != nil {
		s.config.Metrics.LinkClosed()
	}
	s.logger.Debug("link destroyed", "link", l.id, "device", l.dev.name)
}

// coreLink returns link id for a call on the core connection of ctx. Links
// are only usable from the connection that created them.
func (s *Server) coreLink(ctx context.Context, id wire.LinkID) (*link, bool) {
	l, ok := s.link(id)
	if !ok || l.connID != core.ConnInfo(ctx).ID {
		return nil, false
	}
	return l, true
}

func (s *Server) link(id wire.LinkID) (*link, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[id]
	return l, ok
}
