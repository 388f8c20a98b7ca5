package device

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vxi11-protocol/vxi11-go/pkg/abort"
	"github.com/vxi11-protocol/vxi11-go/pkg/core"
	"github.com/vxi11-protocol/vxi11-go/pkg/interrupt"
	"github.com/vxi11-protocol/vxi11-go/pkg/metrics"
	"github.com/vxi11-protocol/vxi11-go/pkg/rpc"
	"github.com/vxi11-protocol/vxi11-go/pkg/wire"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func startServer(t *testing.T, config Config) *Server {
	t.Helper()
	if config.CoreAddress == "" {
		config.CoreAddress = "127.0.0.1:0"
	}
	if config.AbortAddress == "" {
		config.AbortAddress = "127.0.0.1:0"
	}
	s := NewServer(config)
	require.NoError(t, s.AddDevice("inst0", NewSimulator(DefaultSimulatorConfig())))
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { assert.NoError(t, s.Stop()) })
	return s
}

func dialCore(t *testing.T, s *Server) *core.Client {
	t.Helper()
	c, err := core.Dial(context.Background(), s.CoreAddr().String(), core.ClientConfig{TransmitTimeout: 2 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func openLink(t *testing.T, c *core.Client) *wire.CreateLinkResp {
	t.Helper()
	resp, err := c.CreateLink(context.Background(), &wire.CreateLinkParms{ClientID: 1, Device: "inst0"})
	require.NoError(t, err)
	require.Equal(t, wire.NoError, resp.Error)
	return resp
}

func TestServerLifecycle(t *testing.T) {
	s := NewServer(Config{CoreAddress: "127.0.0.1:0", AbortAddress: "127.0.0.1:0"})
	assert.ErrorIs(t, s.Start(context.Background()), ErrNoDevices)

	s = NewServer(Config{CoreAddress: "127.0.0.1:0", AbortAddress: "127.0.0.1:0"})
	require.NoError(t, s.AddDevice("inst0", NewSimulator(DefaultSimulatorConfig())))
	assert.Equal(t, StateIdle, s.State())
	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, StateRunning, s.State())
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)

	require.NoError(t, s.Stop())
	assert.Equal(t, StateStopped, s.State())
	require.NoError(t, s.Stop())
}

func TestServerQueryOverNetwork(t *testing.T) {
	s := startServer(t, Config{})
	c := dialCore(t, s)
	ctx := context.Background()

	link := openLink(t, c)
	assert.Equal(t, uint16(s.AbortAddr().(*net.TCPAddr).Port), link.AbortPort)
	assert.Equal(t, uint32(DefaultMaxRecvSize), link.MaxRecvSize)

	w, err := c.DeviceWrite(ctx, &wire.DeviceWriteParms{Link: link.Link, IOTimeout: 1000, Flags: wire.FlagEnd, Data: []byte("MEAS:VOLT?\n")})
	require.NoError(t, err)
	require.Equal(t, wire.NoError, w.Error)

	r, err := c.DeviceRead(ctx, &wire.DeviceReadParms{Link: link.Link, RequestSize: 1024, IOTimeout: 1000})
	require.NoError(t, err)
	assert.Equal(t, "1.250000E+00\n", string(r.Data))
	assert.True(t, r.Reason.Has(wire.ReasonEnd))

	d, err := c.DestroyLink(ctx, link.Link)
	require.NoError(t, err)
	assert.Equal(t, wire.NoError, d.Error)
}

func TestServerAbortOverNetwork(t *testing.T) {
	s := startServer(t, Config{})
	c := dialCore(t, s)
	link := openLink(t, c)

	ac, err := abort.Dial(context.Background(), s.AbortAddr().String(), abort.ClientConfig{})
	require.NoError(t, err)
	defer ac.Close()

	done := make(chan *wire.DeviceReadResp, 1)
	go func() {
		r, err := c.DeviceRead(context.Background(), &wire.DeviceReadParms{Link: link.Link, RequestSize: 100, IOTimeout: 10_000})
		if err != nil {
			t.Errorf("device_read: %v", err)
		}
		done <- r
	}()
	require.Eventually(t, func() bool { return inFlight(s, link.Link) }, 2*time.Second, time.Millisecond)

	resp, err := ac.Abort(context.Background(), link.Link)
	require.NoError(t, err)
	assert.Equal(t, wire.NoError, resp.Error)

	select {
	case r := <-done:
		require.NotNil(t, r)
		assert.Equal(t, wire.Abort, r.Error)
	case <-time.After(5 * time.Second):
		t.Fatal("device_read did not return after abort")
	}

	resp, err = ac.Abort(context.Background(), link.Link+50)
	require.NoError(t, err)
	assert.Equal(t, wire.InvalidLinkIdentifier, resp.Error)
}

func TestServerDropsLinksOnDisconnect(t *testing.T) {
	s := startServer(t, Config{})
	c := dialCore(t, s)
	ctx := context.Background()

	link := openLink(t, c)
	lock, err := c.DeviceLock(ctx, &wire.DeviceLockParms{Link: link.Link})
	require.NoError(t, err)
	require.Equal(t, wire.NoError, lock.Error)
	require.Equal(t, 1, s.LinkCount())

	require.NoError(t, c.Close())
	require.Eventually(t, func() bool { return s.LinkCount() == 0 }, 2*time.Second, 10*time.Millisecond)

	other := dialCore(t, s)
	next := openLink(t, other)
	assert.Greater(t, next.Link, link.Link)
	lock, err = other.DeviceLock(ctx, &wire.DeviceLockParms{Link: next.Link})
	require.NoError(t, err)
	assert.Equal(t, wire.NoError, lock.Error, "lock of the dropped link was released")
}

func TestServerInterruptChannel(t *testing.T) {
	s := startServer(t, Config{})
	c := dialCore(t, s)
	ctx := context.Background()
	link := openLink(t, c)

	l := interrupt.NewListener(interrupt.ListenerConfig{Address: "127.0.0.1:0"})
	require.NoError(t, l.Start(ctx, nil))
	defer l.Stop(2 * time.Second)

	events := make(chan interrupt.Event, 1)
	defer l.Subscribe(9, func(ev interrupt.Event) { events <- ev })()

	rf, err := l.RemoteFunc(net.IPv4(127, 0, 0, 1))
	require.NoError(t, err)

	resp, err := c.CreateIntrChan(ctx, rf)
	require.NoError(t, err)
	require.Equal(t, wire.NoError, resp.Error)

	resp, err = c.CreateIntrChan(ctx, rf)
	require.NoError(t, err)
	assert.Equal(t, wire.ChannelAlreadyEstablished, resp.Error)

	bad := *rf
	bad.ProgFamily = 5
	resp, err = c.CreateIntrChan(ctx, &bad)
	require.NoError(t, err)
	assert.Equal(t, wire.OperationNotSupported, resp.Error)

	handle, err := interrupt.EncodeHandle(9, []byte("x"))
	require.NoError(t, err)
	resp, err = c.DeviceEnableSrq(ctx, &wire.DeviceEnableSrqParms{Link: link.Link, Enable: true, Handle: handle})
	require.NoError(t, err)
	require.Equal(t, wire.NoError, resp.Error)

	w, err := c.DeviceWrite(ctx, &wire.DeviceWriteParms{Link: link.Link, IOTimeout: 1000, Flags: wire.FlagEnd, Data: []byte("SRQ\n")})
	require.NoError(t, err)
	require.Equal(t, wire.NoError, w.Error)

	select {
	case ev := <-events:
		assert.Equal(t, int32(9), ev.ClientID)
		assert.Equal(t, []byte("x"), ev.Tag)
	case <-time.After(3 * time.Second):
		t.Fatal("service request not delivered")
	}

	stb, err := c.DeviceReadStb(ctx, &wire.DeviceGenericParms{Link: link.Link, IOTimeout: 1000})
	require.NoError(t, err)
	assert.Equal(t, StatusRQS, stb.Stb&StatusRQS)

	resp, err = c.DestroyIntrChan(ctx)
	require.NoError(t, err)
	assert.Equal(t, wire.NoError, resp.Error)

	resp, err = c.DestroyIntrChan(ctx)
	require.NoError(t, err)
	assert.Equal(t, wire.ChannelNotEstablished, resp.Error)
}

func TestServerPortmapper(t *testing.T) {
	s := startServer(t, Config{PortmapAddress: "127.0.0.1:0"})

	pm, err := rpc.DialPortmapper(context.Background(), s.PortmapAddr().String(), rpc.ClientConfig{})
	require.NoError(t, err)
	defer pm.Close()

	port, err := pm.GetPort(context.Background(), wire.CoreProgram, wire.CoreVersion, rpc.ProtocolTCP)
	require.NoError(t, err)
	assert.Equal(t, s.CoreAddr().(*net.TCPAddr).Port, port)
}

func TestServerRegistersWithExternalPortmapper(t *testing.T) {
	pmap := rpc.NewPortmapper()
	pmSrv, err := rpc.NewServer(rpc.ServerConfig{Address: "127.0.0.1:0"}, pmap)
	require.NoError(t, err)
	require.NoError(t, pmSrv.Start(context.Background()))
	defer pmSrv.Stop()

	// A stale entry from an earlier run is replaced.
	pmap.Register(rpc.Mapping{Program: wire.CoreProgram, Version: wire.CoreVersion, Protocol: rpc.ProtocolTCP, Port: 1})

	s := NewServer(Config{CoreAddress: "127.0.0.1:0", AbortAddress: "127.0.0.1:0", RegisterWith: pmSrv.Addr().String()})
	require.NoError(t, s.AddDevice("inst0", NewSimulator(DefaultSimulatorConfig())))
	require.NoError(t, s.Start(context.Background()))

	assert.Equal(t, uint32(s.CoreAddr().(*net.TCPAddr).Port), pmap.Lookup(wire.CoreProgram, wire.CoreVersion, rpc.ProtocolTCP))

	require.NoError(t, s.Stop())
	assert.Zero(t, pmap.Lookup(wire.CoreProgram, wire.CoreVersion, rpc.ProtocolTCP), "stop unregisters")
}

func TestServerMetrics(t *testing.T) {
	m := metrics.NewCollector()
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(m))

	s := startServer(t, Config{Metrics: m})
	c := dialCore(t, s)
	openLink(t, c)

	expected := `
# HELP vxi11_active_links The number of open links.
# TYPE vxi11_active_links gauge
vxi11_active_links 1
# HELP vxi11_core_connections The number of open core channel connections.
# TYPE vxi11_core_connections gauge
vxi11_core_connections 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "vxi11_active_links", "vxi11_core_connections"))

	require.NoError(t, c.Close())
	require.Eventually(t, func() bool { return s.LinkCount() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		return testutil.GatherAndCompare(reg, strings.NewReader(strings.ReplaceAll(expected, " 1\n", " 0\n")),
			"vxi11_active_links", "vxi11_core_connections") == nil
	}, 2*time.Second, 10*time.Millisecond)
}
