package device

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/vxi11-protocol/vxi11-go/pkg/wire"
)

// SimulatorConfig configures a Simulator.
type SimulatorConfig struct {
	Manufacturer string
	Model        string
	Serial       string
	Firmware     string

	// Voltage is the initial MEAS:VOLT? reading.
	Voltage float64

	// Clock drives DELAY (default: clock.WallClock).
	Clock clock.Clock
}

// DefaultSimulatorConfig returns the identity used by vxi11-device.
func DefaultSimulatorConfig() SimulatorConfig {
	return SimulatorConfig{
		Manufacturer: "VXI11-GO",
		Model:        "SIM-1",
		Serial:       "0001",
		Firmware:     "1.0",
		Voltage:      1.25,
	}
}

// DoCmdEcho is the device_docmd command the simulator answers by echoing
// data_in.
const DoCmdEcho int32 = 0x7F000001

var errUnsupportedCommand = &wire.DeviceError{Op: "device_docmd", Code: wire.OperationNotSupported}

// Error queue entries.
const (
	errNone             = `0,"No error"`
	errUndefinedHeader  = `-113,"Undefined header"`
	errDataOutOfRange   = `-222,"Data out of range"`
	errQueueOverflow    = `-350,"Queue overflow"`
	maxErrorQueueLength = 16
)

// statusEAV is the status byte bit for a non-empty error queue.
const statusEAV byte = 0x04

type command func(ctx context.Context, s *Simulator, arg string) (string, bool)

// commands maps an upper case header to its handler. A handler returns the
// response and whether there is one.
var commands = map[string]command{
	"*IDN?": func(_ context.Context, s *Simulator, _ string) (string, bool) {
		c := s.config
		return fmt.Sprintf("%s,%s,%s,%s", c.Manufacturer, c.Model, c.Serial, c.Firmware), true
	},
	"*RST": func(_ context.Context, s *Simulator, _ string) (string, bool) {
		s.reset()
		return "", false
	},
	"*CLS": func(_ context.Context, s *Simulator, _ string) (string, bool) {
		s.errors = nil
		return "", false
	},
	"*STB?": func(_ context.Context, s *Simulator, _ string) (string, bool) {
		return strconv.Itoa(int(s.statusLocked())), true
	},
	"*OPC?": func(context.Context, *Simulator, string) (string, bool) {
		return "1", true
	},
	"*TRG": func(_ context.Context, s *Simulator, _ string) (string, bool) {
		s.triggers++
		return "", false
	},
	"*SRE": func(_ context.Context, s *Simulator, arg string) (string, bool) {
		v, err := strconv.ParseUint(strings.TrimSpace(arg), 10, 8)
		if err != nil {
			s.pushError(errDataOutOfRange)
			return "", false
		}
		s.sre = byte(v)
		return "", false
	},
	"*SRE?": func(_ context.Context, s *Simulator, _ string) (string, bool) {
		return strconv.Itoa(int(s.sre)), true
	},
	"SYST:ERR?": func(_ context.Context, s *Simulator, _ string) (string, bool) {
		if len(s.errors) == 0 {
			return errNone, true
		}
		e := s.errors[0]
		s.errors = s.errors[1:]
		return e, true
	},
	"MEAS:VOLT?": func(_ context.Context, s *Simulator, _ string) (string, bool) {
		return strconv.FormatFloat(s.voltage, 'E', 6, 64), true
	},
	"SOUR:VOLT": func(_ context.Context, s *Simulator, arg string) (string, bool) {
		v, err := strconv.ParseFloat(strings.TrimSpace(arg), 64)
		if err != nil {
			s.pushError(errDataOutOfRange)
			return "", false
		}
		s.voltage = v
		return "", false
	},
	"ECHO": func(_ context.Context, _ *Simulator, arg string) (string, bool) {
		return arg, true
	},
	"DATA?": func(_ context.Context, s *Simulator, arg string) (string, bool) {
		n, err := strconv.Atoi(strings.TrimSpace(arg))
		if err != nil || n < 0 || n > 16*1024*1024 {
			s.pushError(errDataOutOfRange)
			return "", false
		}
		return block(n), true
	},
	"DELAY": func(ctx context.Context, s *Simulator, arg string) (string, bool) {
		ms, err := strconv.Atoi(strings.TrimSpace(arg))
		if err != nil || ms < 0 {
			s.pushError(errDataOutOfRange)
			return "", false
		}
		s.mu.Unlock()
		defer s.mu.Lock()
		select {
		case <-s.clock.After(time.Duration(ms) * time.Millisecond):
		case <-ctx.Done():
		}
		return "", false
	},
	"SRQ": func(_ context.Context, s *Simulator, _ string) (string, bool) {
		s.srqRequested = true
		return "", false
	},
}

// block formats n pattern bytes as an IEEE 488.2 definite length block.
func block(n int) string {
	var b strings.Builder
	size := strconv.Itoa(n)
	b.Grow(2 + len(size) + n)
	b.WriteByte('#')
	b.WriteString(strconv.Itoa(len(size)))
	b.WriteString(size)
	for i := range n {
		b.WriteByte('A' + byte(i%26))
	}
	return b.String()
}

// Simulator is an Instrument answering a small SCPI-like command set from a
// fixed command table. Commands are case insensitive and may be joined with
// ';'. Responses of one message are joined with ';' and end with '\n'.
type Simulator struct {
	config SimulatorConfig
	clock  clock.Clock

	mu           sync.Mutex
	errors       []string
	sre          byte
	voltage      float64
	triggers     int
	remote       bool
	srq          func()
	srqRequested bool
}

// NewSimulator creates a simulator.
func NewSimulator(config SimulatorConfig) *Simulator {
	if config.Clock == nil {
		config.Clock = clock.WallClock
	}
	s := &Simulator{config: config, clock: config.Clock}
	s.reset()
	return s
}

func (s *Simulator) reset() {
	s.errors = nil
	s.sre = 0
	s.voltage = s.config.Voltage
}

func (s *Simulator) pushError(e string) {
	if len(s.errors) >= maxErrorQueueLength {
		s.errors[len(s.errors)-1] = errQueueOverflow
		return
	}
	s.errors = append(s.errors, e)
}

func (s *Simulator) statusLocked() byte {
	if len(s.errors) > 0 {
		return statusEAV
	}
	return 0
}

// Execute implements Instrument.
func (s *Simulator) Execute(ctx context.Context, msg []byte) ([]byte, error) {
	s.mu.Lock()
	var responses []string
	for _, part := range strings.Split(string(bytes.TrimRight(msg, "\r\n")), ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		header, arg, _ := strings.Cut(part, " ")
		fn, ok := commands[strings.ToUpper(header)]
		if !ok {
			s.pushError(errUndefinedHeader)
			continue
		}
		if resp, ok := fn(ctx, s, arg); ok {
			responses = append(responses, resp)
		}
		if ctx.Err() != nil {
			s.mu.Unlock()
			return nil, ctx.Err()
		}
	}
	srq := s.srqRequested
	s.srqRequested = false
	notify := s.srq
	s.mu.Unlock()

	if srq && notify != nil {
		notify()
	}
	if len(responses) == 0 {
		return nil, nil
	}
	return []byte(strings.Join(responses, ";") + "\n"), nil
}

// Status implements Instrument.
func (s *Simulator) Status() byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

// Clear implements Instrument.
func (s *Simulator) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = nil
	return nil
}

// Trigger implements Triggerer.
func (s *Simulator) Trigger(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggers++
	return nil
}

// Triggers returns the number of triggers received.
func (s *Simulator) Triggers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.triggers
}

// SetRemote implements RemoteController.
func (s *Simulator) SetRemote(_ context.Context, remote bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remote = remote
	return nil
}

// Remote reports whether the simulator is in remote mode.
func (s *Simulator) Remote() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote
}

// DoCmd implements Commander.
func (s *Simulator) DoCmd(_ context.Context, cmd int32, _ bool, _ int32, in []byte) ([]byte, error) {
	if cmd != DoCmdEcho {
		return nil, errUnsupportedCommand
	}
	return bytes.Clone(in), nil
}

// SetServiceRequestFunc implements ServiceRequester.
func (s *Simulator) SetServiceRequestFunc(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.srq = fn
}

var (
	_ Instrument       = (*Simulator)(nil)
	_ Triggerer        = (*Simulator)(nil)
	_ RemoteController = (*Simulator)(nil)
	_ Commander        = (*Simulator)(nil)
	_ ServiceRequester = (*Simulator)(nil)
)
