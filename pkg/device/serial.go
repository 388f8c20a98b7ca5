package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/vxi11-protocol/vxi11-go/pkg/wire"
	"go.bug.st/serial"
)

// ErrSerialTimeout is returned when the serial device does not answer a
// query. It carries IOTimeout.
var ErrSerialTimeout = &wire.DeviceError{Op: "serial read", Code: wire.IOTimeout}

// serialPoll bounds one Read so cancellation is noticed.
const serialPoll = 50 * time.Millisecond

// Port is the part of serial.Port the serial backend uses.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// SerialConfig configures a serial pass-through instrument.
type SerialConfig struct {
	// Port is the device path, e.g. "/dev/ttyUSB0" or "COM3".
	Port string

	BaudRate int
	DataBits int

	// Parity is "none" (default), "odd", "even", "mark" or "space".
	Parity string

	// StopBits is 1 (default) or 2.
	StopBits int

	// Terminator ends every message sent and every response read
	// (default '\n').
	Terminator byte

	// ResponseTimeout bounds waiting for a query response when the call
	// carries no deadline (default 2s).
	ResponseTimeout time.Duration
}

// DefaultSerialConfig returns 9600 8N1 with '\n' termination.
func DefaultSerialConfig() SerialConfig {
	return SerialConfig{
		BaudRate:        9600,
		DataBits:        8,
		Parity:          "none",
		StopBits:        1,
		Terminator:      '\n',
		ResponseTimeout: 2 * time.Second,
	}
}

func (c *SerialConfig) applyDefaults() {
	d := DefaultSerialConfig()
	if c.BaudRate == 0 {
		c.BaudRate = d.BaudRate
	}
	if c.DataBits == 0 {
		c.DataBits = d.DataBits
	}
	if c.Parity == "" {
		c.Parity = d.Parity
	}
	if c.StopBits == 0 {
		c.StopBits = d.StopBits
	}
	if c.Terminator == 0 {
		c.Terminator = d.Terminator
	}
	if c.ResponseTimeout == 0 {
		c.ResponseTimeout = d.ResponseTimeout
	}
}

// Mode converts the line settings to a serial.Mode.
func (c SerialConfig) Mode() (*serial.Mode, error) {
	c.applyDefaults()
	mode := &serial.Mode{BaudRate: c.BaudRate, DataBits: c.DataBits}
	switch strings.ToLower(c.Parity) {
	case "none":
		mode.Parity = serial.NoParity
	case "odd":
		mode.Parity = serial.OddParity
	case "even":
		mode.Parity = serial.EvenParity
	case "mark":
		mode.Parity = serial.MarkParity
	case "space":
		mode.Parity = serial.SpaceParity
	default:
		return nil, fmt.Errorf("device: unknown parity %q", c.Parity)
	}
	switch c.StopBits {
	case 1:
		mode.StopBits = serial.OneStopBit
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("device: unsupported stop bits %d", c.StopBits)
	}
	return mode, nil
}

// SerialInstrument forwards messages to a serial device, as a LAN to
// serial gateway does. Messages containing '?' are queries: the response
// is read up to the terminator.
type SerialInstrument struct {
	config SerialConfig

	mu   sync.Mutex
	port Port
}

// OpenSerial opens config.Port.
func OpenSerial(config SerialConfig) (*SerialInstrument, error) {
	mode, err := config.Mode()
	if err != nil {
		return nil, err
	}
	p, err := serial.Open(config.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("device: open %s: %w", config.Port, err)
	}
	return NewSerialInstrument(p, config), nil
}

// NewSerialInstrument wraps an open port.
func NewSerialInstrument(port Port, config SerialConfig) *SerialInstrument {
	config.applyDefaults()
	return &SerialInstrument{config: config, port: port}
}

// Execute implements Instrument.
func (s *SerialInstrument) Execute(ctx context.Context, msg []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.port.ResetInputBuffer(); err != nil {
		return nil, err
	}

	out := msg
	if len(out) == 0 || out[len(out)-1] != s.config.Terminator {
		out = append(bytes.Clone(msg), s.config.Terminator)
	}
	for sent := 0; sent < len(out); {
		n, err := s.port.Write(out[sent:])
		if err != nil {
			return nil, err
		}
		sent += n
	}

	if !bytes.ContainsRune(msg, '?') {
		return nil, nil
	}
	return s.readResponse(ctx)
}

func (s *SerialInstrument) readResponse(ctx context.Context) ([]byte, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ResponseTimeout)
		defer cancel()
	}
	if err := s.port.SetReadTimeout(serialPoll); err != nil {
		return nil, err
	}

	var resp []byte
	buf := make([]byte, 256)
	for {
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, ErrSerialTimeout
			}
			return nil, err
		}
		n, err := s.port.Read(buf)
		if err != nil {
			return nil, err
		}
		resp = append(resp, buf[:n]...)
		if i := bytes.IndexByte(resp, s.config.Terminator); i >= 0 {
			return resp[:i+1], nil
		}
	}
}

// Status implements Instrument.
func (s *SerialInstrument) Status() byte {
	return 0
}

// Clear implements Instrument.
func (s *SerialInstrument) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port.ResetInputBuffer()
}

// Close closes the port.
func (s *SerialInstrument) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port.Close()
}

var _ Port = (serial.Port)(nil)
