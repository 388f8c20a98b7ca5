package device

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vxi11-protocol/vxi11-go/pkg/wire"
	"go.bug.st/serial"
)

// fakePort answers each write with the next scripted response, delivered
// a few bytes per Read.
type fakePort struct {
	mu        sync.Mutex
	written   bytes.Buffer
	responses [][]byte
	pending   []byte
	resets    int
	timeout   time.Duration
	closed    bool
	readErr   error
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.written.Write(b)
	if len(p.responses) > 0 {
		p.pending = append(p.pending, p.responses[0]...)
		p.responses = p.responses[1:]
	}
	return len(b), nil
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	if p.readErr != nil {
		defer p.mu.Unlock()
		return 0, p.readErr
	}
	if len(p.pending) == 0 {
		timeout := p.timeout
		p.mu.Unlock()
		time.Sleep(timeout)
		return 0, nil
	}
	defer p.mu.Unlock()
	n := copy(b[:min(len(b), 3)], p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

func (p *fakePort) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timeout = t
	return nil
}

func (p *fakePort) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resets++
	p.pending = nil
	return nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func TestSerialQuery(t *testing.T) {
	port := &fakePort{responses: [][]byte{[]byte("ACME,PSU,42,2.0\nextra")}}
	inst := NewSerialInstrument(port, SerialConfig{})

	out, err := inst.Execute(context.Background(), []byte("*IDN?"))
	require.NoError(t, err)
	assert.Equal(t, "ACME,PSU,42,2.0\n", string(out))
	assert.Equal(t, "*IDN?\n", port.written.String())
	assert.Equal(t, serialPoll, port.timeout)
}

func TestSerialCommandIsNotRead(t *testing.T) {
	port := &fakePort{}
	inst := NewSerialInstrument(port, SerialConfig{Terminator: '\r'})

	out, err := inst.Execute(context.Background(), []byte("OUTP ON\r"))
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.Equal(t, "OUTP ON\r", port.written.String(), "terminator is not doubled")
}

func TestSerialQueryTimeout(t *testing.T) {
	port := &fakePort{}
	inst := NewSerialInstrument(port, SerialConfig{ResponseTimeout: 120 * time.Millisecond})

	_, err := inst.Execute(context.Background(), []byte("MEAS?"))
	assert.ErrorIs(t, err, ErrSerialTimeout)
	assert.Equal(t, wire.IOTimeout, wire.CodeOf(err))
}

func TestSerialQueryCancelled(t *testing.T) {
	port := &fakePort{}
	inst := NewSerialInstrument(port, DefaultSerialConfig())

	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(errAborted)
	_, err := inst.Execute(ctx, []byte("MEAS?"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSerialReadError(t *testing.T) {
	boom := errors.New("unplugged")
	port := &fakePort{readErr: boom}
	inst := NewSerialInstrument(port, DefaultSerialConfig())

	_, err := inst.Execute(context.Background(), []byte("MEAS?"))
	assert.ErrorIs(t, err, boom)
}

func TestSerialClearAndClose(t *testing.T) {
	port := &fakePort{}
	inst := NewSerialInstrument(port, DefaultSerialConfig())

	require.NoError(t, inst.Clear(context.Background()))
	assert.Equal(t, 1, port.resets)
	assert.Zero(t, inst.Status())
	require.NoError(t, inst.Close())
	assert.True(t, port.closed)
}

func TestSerialMode(t *testing.T) {
	mode, err := DefaultSerialConfig().Mode()
	require.NoError(t, err)
	assert.Equal(t, &serial.Mode{BaudRate: 9600, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit}, mode)

	mode, err = SerialConfig{BaudRate: 115200, Parity: "EVEN", StopBits: 2}.Mode()
	require.NoError(t, err)
	assert.Equal(t, 115200, mode.BaudRate)
	assert.Equal(t, 8, mode.DataBits)
	assert.Equal(t, serial.EvenParity, mode.Parity)
	assert.Equal(t, serial.TwoStopBits, mode.StopBits)

	_, err = SerialConfig{Parity: "sideways"}.Mode()
	assert.Error(t, err)
	_, err = SerialConfig{StopBits: 3}.Mode()
	assert.Error(t, err)
}

func TestSerialInstrumentBehindServer(t *testing.T) {
	port := &fakePort{responses: [][]byte{[]byte("0.5\n")}}
	s, _, _ := newTestServer(t, Config{})
	require.NoError(t, s.AddDevice("gpib0,3", NewSerialInstrument(port, DefaultSerialConfig())))

	resp := s.CreateLink(context.Background(), &wire.CreateLinkParms{ClientID: 1, Device: "GPIB0,3"})
	require.Equal(t, wire.NoError, resp.Error)

	w := s.DeviceWrite(context.Background(), &wire.DeviceWriteParms{Link: resp.Link, IOTimeout: 1000, Flags: wire.FlagEnd, Data: []byte("MEAS:CURR?\n")})
	require.Equal(t, wire.NoError, w.Error)

	r := s.DeviceRead(context.Background(), &wire.DeviceReadParms{Link: resp.Link, RequestSize: 64, IOTimeout: 1000})
	require.Equal(t, wire.NoError, r.Error)
	assert.Equal(t, "0.5\n", string(r.Data))
}
