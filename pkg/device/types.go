package device

import (
	"errors"
	"log/slog"
	"time"

	"github.com/juju/clock"
	"github.com/vxi11-protocol/vxi11-go/pkg/log"
	"github.com/vxi11-protocol/vxi11-go/pkg/metrics"
	"github.com/vxi11-protocol/vxi11-go/pkg/wire"
)

// Server errors.
var (
	ErrAlreadyStarted  = errors.New("device: server already started")
	ErrNotStarted      = errors.New("device: server not started")
	ErrDuplicateDevice = errors.New("device: device already registered")
	ErrNoDevices       = errors.New("device: no devices registered")
)

// Status byte bits maintained by the server.
const (
	// StatusMAV is set while output is queued.
	StatusMAV byte = 0x10

	// StatusRQS is set from a service request until the status byte is read.
	StatusRQS byte = 0x40
)

// DefaultMaxRecvSize is the largest device_write block accepted.
const DefaultMaxRecvSize = 256 * 1024

// ServerState is the lifecycle state of a Server.
type ServerState uint8

const (
	StateIdle ServerState = iota
	StateRunning
	StateStopped
)

// String returns the state name.
func (s ServerState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Config configures a Server.
type Config struct {
	// CoreAddress is the core channel listen address (default ":0").
	CoreAddress string

	// AbortAddress is the abort channel listen address (default ":0").
	AbortAddress string

	// PortmapAddress, when set, runs a portmapper there (usually ":111")
	// with the core channel registered.
	PortmapAddress string

	// RegisterWith, when set, registers the core channel with an external
	// portmapper at this host.
	RegisterWith string

	// MaxRecvSize is the largest device_write block accepted and reported by
	// create_link (default: DefaultMaxRecvSize, minimum 1024).
	MaxRecvSize uint32

	// ReadChunk caps the data returned by one device_read. A message longer
	// than ReadChunk is returned over several reads with no reason bits set
	// until the last one (0 = no cap).
	ReadChunk int

	// SingleLink rejects create_link while any link is open.
	SingleLink bool

	// MaxLinks bounds open links; further create_link calls fail with
	// OutOfResources (0 = unlimited).
	MaxLinks int

	// InterruptTimeout bounds connecting and sending on interrupt channels.
	InterruptTimeout time.Duration

	// Clock drives io_timeout and lock_timeout (default: clock.WallClock).
	Clock clock.Clock

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger

	// ProtocolLogger captures every RPC exchange (optional).
	ProtocolLogger log.Logger

	// Metrics receives link, connection and call metrics (optional).
	Metrics *metrics.Collector
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		CoreAddress:      ":0",
		AbortAddress:     ":0",
		MaxRecvSize:      DefaultMaxRecvSize,
		InterruptTimeout: 2 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	if c.CoreAddress == "" {
		c.CoreAddress = ":0"
	}
	if c.AbortAddress == "" {
		c.AbortAddress = ":0"
	}
	if c.MaxRecvSize == 0 {
		c.MaxRecvSize = DefaultMaxRecvSize
	}
	if c.MaxRecvSize < wire.MinMaxRecvSize {
		c.MaxRecvSize = wire.MinMaxRecvSize
	}
	if c.InterruptTimeout == 0 {
		c.InterruptTimeout = 2 * time.Second
	}
	if c.Clock == nil {
		c.Clock = clock.WallClock
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
}
