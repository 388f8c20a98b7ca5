package interactive

import (
	"bytes"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vxi11-protocol/vxi11-go/pkg/device"
	"github.com/vxi11-protocol/vxi11-go/pkg/discovery"
	"github.com/vxi11-protocol/vxi11-go/pkg/session"
)

// syncBuffer is written by service request handlers on listener goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// Take returns and clears the buffered output.
func (b *syncBuffer) Take() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.buf.String()
	b.buf.Reset()
	return s
}

type fakeBrowser struct {
	found []*discovery.InstrumentService
}

func (f *fakeBrowser) Browse(context.Context) (<-chan *discovery.InstrumentService, error) {
	ch := make(chan *discovery.InstrumentService, len(f.found))
	for _, s := range f.found {
		ch <- s
	}
	close(ch)
	return ch, nil
}

func (f *fakeBrowser) Collect(context.Context, time.Duration) ([]*discovery.InstrumentService, error) {
	return f.found, nil
}

func (f *fakeBrowser) Find(_ context.Context, filter discovery.FilterFunc) (*discovery.InstrumentService, error) {
	for _, s := range f.found {
		if filter(s) {
			return s, nil
		}
	}
	return nil, discovery.ErrNotFound
}

func startInstrument(t *testing.T) *device.Server {
	t.Helper()
	srv := device.NewServer(device.Config{
		CoreAddress:  "127.0.0.1:0",
		AbortAddress: "127.0.0.1:0",
	})
	require.NoError(t, srv.AddDevice("inst0", device.NewSimulator(device.DefaultSimulatorConfig())))
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { assert.NoError(t, srv.Stop()) })
	return srv
}

func corePort(srv *device.Server) int {
	return srv.CoreAddr().(*net.TCPAddr).Port
}

func newController(t *testing.T, config session.Config, browser discovery.Browser) (*Controller, *syncBuffer) {
	t.Helper()
	out := &syncBuffer{}
	config.ListenerAddress = "127.0.0.1:0"
	c := New(config, browser, out)
	t.Cleanup(func() { _ = c.Close() })
	return c, out
}

func TestCommandsBeforeConnect(t *testing.T) {
	c, out := newController(t, session.DefaultConfig(), nil)
	ctx := context.Background()

	for _, line := range []string{"query *IDN?", "stb", "trigger", "timeout"} {
		assert.True(t, c.Exec(ctx, line))
		assert.Contains(t, out.Take(), "not connected", line)
	}

	c.Exec(ctx, "status")
	assert.Contains(t, out.Take(), "Not connected")

	c.Exec(ctx, "discover")
	assert.Contains(t, out.Take(), "discovery disabled")
}

func TestSessionCommands(t *testing.T) {
	srv := startInstrument(t)
	config := session.DefaultConfig()
	config.CorePort = corePort(srv)
	c, out := newController(t, config, nil)
	ctx := context.Background()

	c.Exec(ctx, "connect 127.0.0.1 inst0")
	assert.Contains(t, out.Take(), "Connected to 127.0.0.1 inst0")
	require.NotNil(t, c.Session())

	c.Exec(ctx, "query *IDN?")
	assert.Equal(t, "VXI11-GO,SIM-1,0001,1.0\n", out.Take())

	c.Exec(ctx, "write SOUR:VOLT 2.5")
	assert.Contains(t, out.Take(), "Wrote 14 bytes")

	c.Exec(ctx, "q MEAS:VOLT?")
	assert.Equal(t, "2.500000E+00\n", out.Take())

	c.Exec(ctx, "stb")
	assert.Contains(t, out.Take(), "Status byte: 0x")

	for _, tc := range []struct{ line, want string }{
		{"trigger", "Triggered"},
		{"clear", "Cleared"},
		{"remote", "Remote"},
		{"local", "Local"},
		{"lock", "Locked"},
		{"unlock", "Unlocked"},
	} {
		c.Exec(ctx, tc.line)
		assert.Equal(t, tc.want+"\n", out.Take(), tc.line)
	}

	c.Exec(ctx, "timeout io 2s")
	assert.Contains(t, out.Take(), "io timeout set to 2s")
	assert.Equal(t, 2*time.Second, c.Session().IOTimeout())

	c.Exec(ctx, "timeout io soon")
	assert.Contains(t, out.Take(), "invalid duration")

	c.Exec(ctx, "status")
	status := out.Take()
	assert.Contains(t, status, "Device:        inst0")
	assert.Contains(t, status, "Link:")

	c.Exec(ctx, "disconnect")
	out.Take()
	c.Exec(ctx, "stb")
	assert.Contains(t, out.Take(), "not connected")
	assert.Eventually(t, func() bool { return srv.LinkCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestConnectResource(t *testing.T) {
	srv := startInstrument(t)
	config := session.DefaultConfig()
	config.CorePort = corePort(srv)
	c, out := newController(t, config, nil)

	c.Exec(context.Background(), "connect TCPIP::127.0.0.1::inst0::INSTR")
	assert.Contains(t, out.Take(), "Connected to 127.0.0.1 inst0")
	assert.Equal(t, 1, srv.LinkCount())

	c.Exec(context.Background(), "connect TCPIP::127.0.0.1::inst9::INSTR")
	assert.Contains(t, out.Take(), "Error:")
	assert.Nil(t, c.Session(), "a failed connect drops the previous session")
}

func TestDiscoverAndConnect(t *testing.T) {
	srv := startInstrument(t)
	browser := &fakeBrowser{found: []*discovery.InstrumentService{{
		InstanceName: "SIM-1 inst0",
		Host:         "sim.local.",
		Port:         uint16(corePort(srv)),
		Addresses:    []string{"127.0.0.1"},
		Device:       "inst0",
		Manufacturer: "VXI11-GO",
		Model:        "SIM-1",
	}}}
	c, out := newController(t, session.DefaultConfig(), browser)
	ctx := context.Background()

	c.Exec(ctx, "discover 1")
	listing := out.Take()
	assert.Contains(t, listing, "#1 SIM-1 inst0")
	assert.Contains(t, listing, "VXI11-GO SIM-1")

	c.Exec(ctx, "connect #2")
	assert.Contains(t, out.Take(), "no discovered instrument #2")

	c.Exec(ctx, "connect #1")
	assert.Contains(t, out.Take(), "Connected to 127.0.0.1 inst0")

	c.Exec(ctx, "query *IDN?")
	assert.Equal(t, "VXI11-GO,SIM-1,0001,1.0\n", out.Take())
}

func TestServiceRequests(t *testing.T) {
	srv := startInstrument(t)
	config := session.DefaultConfig()
	config.CorePort = corePort(srv)
	c, out := newController(t, config, nil)
	ctx := context.Background()

	c.Exec(ctx, "connect 127.0.0.1")
	c.Exec(ctx, "srq on scope")
	assert.Contains(t, out.Take(), "Service requests enabled")

	c.Exec(ctx, "write SRQ")
	require.Eventually(t, func() bool { return c.SrqCount() == 1 }, 3*time.Second, 10*time.Millisecond)
	assert.Contains(t, out.Take(), `[SRQ] from`)

	c.Exec(ctx, "srq off")
	assert.Contains(t, out.Take(), "Service requests disabled")

	c.Exec(ctx, "srq maybe")
	assert.Contains(t, out.Take(), "usage: srq")
}

func TestExecMisc(t *testing.T) {
	c, out := newController(t, session.DefaultConfig(), nil)
	ctx := context.Background()

	assert.True(t, c.Exec(ctx, ""))
	assert.True(t, c.Exec(ctx, "frobnicate"))
	assert.Contains(t, out.Take(), "Unknown command: frobnicate")

	c.Exec(ctx, "help")
	assert.True(t, strings.Contains(out.Take(), "Commands:"))

	c.Exec(ctx, "connect")
	assert.Contains(t, out.Take(), "usage: connect")

	assert.False(t, c.Exec(ctx, "quit"))
	assert.False(t, c.Exec(ctx, "EXIT"))
}

func TestUnescape(t *testing.T) {
	assert.Equal(t, "a\r\nb\tc\\", unescape(`a\r\nb\tc\\`))
}
