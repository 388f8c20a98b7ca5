package session

import (
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vxi11-protocol/vxi11-go/pkg/device"
	"github.com/vxi11-protocol/vxi11-go/pkg/interrupt"
	"github.com/vxi11-protocol/vxi11-go/pkg/rpc"
	"github.com/vxi11-protocol/vxi11-go/pkg/wire"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// startInstrument serves simulators under the given device names on
// loopback.
func startInstrument(t *testing.T, config device.Config, names ...string) *device.Server {
	t.Helper()
	config.CoreAddress = "127.0.0.1:0"
	config.AbortAddress = "127.0.0.1:0"
	srv := device.NewServer(config)
	if len(names) == 0 {
		names = []string{"inst0"}
	}
	for _, name := range names {
		require.NoError(t, srv.AddDevice(name, device.NewSimulator(device.DefaultSimulatorConfig())))
	}
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { assert.NoError(t, srv.Stop()) })
	return srv
}

func corePort(srv *device.Server) int {
	return srv.CoreAddr().(*net.TCPAddr).Port
}

func dial(t *testing.T, srv *device.Server, config Config, name string) *Session {
	t.Helper()
	config.CorePort = corePort(srv)
	s := New(config)
	require.NoError(t, s.Connect(context.Background(), "127.0.0.1", name, time.Second))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSessionQuery(t *testing.T) {
	srv := startInstrument(t, device.Config{})
	s := dial(t, srv, DefaultConfig(), "inst0")
	ctx := context.Background()

	idn, err := s.Query(ctx, "*IDN?")
	require.NoError(t, err)
	assert.Equal(t, "VXI11-GO,SIM-1,0001,1.0\n", idn)

	out, err := s.Query(ctx, "SOUR:VOLT 3.3")
	require.NoError(t, err)
	assert.Empty(t, out)

	volt, err := s.Query(ctx, "MEAS:VOLT?")
	require.NoError(t, err)
	assert.Equal(t, "3.300000E+00\n", volt)

	require.NoError(t, s.Trigger(ctx))
	require.NoError(t, s.Remote(ctx))
	require.NoError(t, s.Local(ctx))
	require.NoError(t, s.Clear(ctx))

	echo, err := s.DoCmd(ctx, device.DoCmdEcho, true, 1, []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), echo)
}

func TestSessionChunkedRoundTrip(t *testing.T) {
	srv := startInstrument(t, device.Config{MaxRecvSize: 1024, ReadChunk: 700})
	s := dial(t, srv, DefaultConfig(), "inst0")
	require.Equal(t, 1024, s.MaxRecvSize())

	payload := strings.Repeat("0123456789", 300)
	out, err := s.Query(context.Background(), "ECHO "+payload+"?")
	require.NoError(t, err)
	assert.Equal(t, payload+"?\n", out)
}

func TestSessionReadRequestSize(t *testing.T) {
	srv := startInstrument(t, device.Config{})
	config := DefaultConfig()
	config.ReadTermination = ""
	s := dial(t, srv, config, "inst0")
	ctx := context.Background()

	_, err := s.WriteString(ctx, "DATA? 10")
	require.NoError(t, err)

	head, err := s.Read(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, "#210", string(head))

	rest, err := s.Read(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "ABCDEFGHIJ\n", string(rest))
}

func TestSessionAbortBlockedRead(t *testing.T) {
	srv := startInstrument(t, device.Config{})
	config := DefaultConfig()
	config.IOTimeout = 20 * time.Second
	s := dial(t, srv, config, "inst0")

	done := make(chan error, 1)
	go func() {
		// Nothing was written, so the read waits for output.
		_, err := s.Read(context.Background(), 0)
		done <- err
	}()

	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case err := <-done:
			assert.Equal(t, wire.Abort, wire.CodeOf(err))
			return
		case <-tick.C:
			// An abort before the read arrives cancels nothing; repeat it.
			require.NoError(t, s.Abort(context.Background()))
		case <-deadline:
			t.Fatal("read did not return after abort")
		}
	}
}

func TestSessionLockContention(t *testing.T) {
	srv := startInstrument(t, device.Config{})
	a := dial(t, srv, DefaultConfig(), "inst0")
	b := dial(t, srv, DefaultConfig(), "inst0")
	ctx := context.Background()

	require.NoError(t, a.Lock(ctx))
	_, err := b.WriteString(ctx, "*CLS")
	assert.Equal(t, wire.DeviceLockedByAnotherLink, wire.CodeOf(err))

	require.NoError(t, a.Unlock(ctx))
	_, err = b.WriteString(ctx, "*CLS")
	assert.NoError(t, err)
}

func TestSessionSingleLinkServer(t *testing.T) {
	srv := startInstrument(t, device.Config{SingleLink: true})
	first := dial(t, srv, DefaultConfig(), "inst0")

	config := DefaultConfig()
	config.CorePort = corePort(srv)
	second := New(config)
	err := second.Connect(context.Background(), "127.0.0.1", "inst0", time.Second)
	assert.Equal(t, wire.DeviceNotAccessible, wire.CodeOf(err))
	assert.False(t, second.Connected())

	require.NoError(t, first.Close())
	require.Eventually(t, func() bool { return srv.LinkCount() == 0 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, second.Connect(context.Background(), "127.0.0.1", "inst0", time.Second))
	require.NoError(t, second.Close())
}

func TestSessionCloseTwice(t *testing.T) {
	srv := startInstrument(t, device.Config{})
	s := dial(t, srv, DefaultConfig(), "inst0")

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Eventually(t, func() bool { return srv.LinkCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestSessionServiceRequest(t *testing.T) {
	srv := startInstrument(t, device.Config{})
	config := DefaultConfig()
	config.ListenerAddress = "127.0.0.1:0"
	s := dial(t, srv, config, "inst0")
	ctx := context.Background()

	events := make(chan interrupt.Event, 4)
	require.NoError(t, s.EnableSrq(ctx, []byte("scope"), func(ev interrupt.Event) { events <- ev }))
	l := s.Listener()
	require.NotNil(t, l)
	assert.True(t, l.Running())

	_, err := s.WriteString(ctx, "SRQ")
	require.NoError(t, err)

	select {
	case ev := <-events:
		assert.Equal(t, s.ClientID(), ev.ClientID)
		assert.Equal(t, []byte("scope"), ev.Tag)
	case <-time.After(3 * time.Second):
		t.Fatal("service request not delivered")
	}

	stb, err := s.ReadStatusByte(ctx)
	require.NoError(t, err)
	assert.Equal(t, device.StatusRQS, stb&device.StatusRQS)

	require.NoError(t, s.DisableSrq(ctx))
	assert.Nil(t, s.Listener())
	assert.False(t, l.Running())
	assert.Equal(t, interrupt.StateStopped, l.State())

	// Disabled twice is harmless.
	require.NoError(t, s.DisableSrq(ctx))
}

func TestSessionSharedListenerFiltersByClient(t *testing.T) {
	srv := startInstrument(t, device.Config{}, "inst0", "inst1")
	shared := interrupt.NewListener(interrupt.ListenerConfig{Address: "127.0.0.1:0"})
	defer shared.Stop(2 * time.Second)

	ids := NewClientIDGenerator(0)
	config := DefaultConfig()
	config.ClientIDs = ids
	config.Listener = shared
	a := dial(t, srv, config, "inst0")
	b := dial(t, srv, config, "inst1")
	require.NotEqual(t, a.ClientID(), b.ClientID())

	ctx := context.Background()
	gotA := make(chan interrupt.Event, 4)
	gotB := make(chan interrupt.Event, 4)
	require.NoError(t, a.EnableSrq(ctx, nil, func(ev interrupt.Event) { gotA <- ev }))
	require.NoError(t, b.EnableSrq(ctx, nil, func(ev interrupt.Event) { gotB <- ev }))
	assert.Equal(t, 2, shared.Subscribers())

	_, err := a.WriteString(ctx, "SRQ")
	require.NoError(t, err)

	select {
	case ev := <-gotA:
		assert.Equal(t, a.ClientID(), ev.ClientID)
	case <-time.After(3 * time.Second):
		t.Fatal("service request not delivered")
	}
	select {
	case ev := <-gotB:
		t.Fatalf("session b received %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, a.DisableSrq(ctx))
	assert.True(t, shared.Running(), "a shared listener is not stopped by one session")
	assert.Equal(t, 1, shared.Subscribers())
}

func TestSessionDisableSrqTimesOut(t *testing.T) {
	srv := startInstrument(t, device.Config{})
	clk := testclock.NewClock(time.Now())

	var (
		mu       sync.Mutex
		reported []error
	)
	config := DefaultConfig()
	config.Clock = clk
	config.ListenerAddress = "127.0.0.1:0"
	config.SrqStopTimeout = 200 * time.Millisecond
	config.OnError = func(err error) {
		mu.Lock()
		defer mu.Unlock()
		reported = append(reported, err)
	}
	s := dial(t, srv, config, "inst0")
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, s.EnableSrq(ctx, nil, func(interrupt.Event) {
		close(entered)
		<-release
	}))
	l := s.Listener()

	_, err := s.WriteString(ctx, "SRQ")
	require.NoError(t, err)
	select {
	case <-entered:
	case <-time.After(3 * time.Second):
		t.Fatal("service request not delivered")
	}

	// The blocked delivery keeps the listener from stopping.
	done := make(chan error, 1)
	go func() { done <- s.DisableSrq(ctx) }()
	require.NoError(t, clk.WaitAdvance(200*time.Millisecond, 2*time.Second, 1))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, interrupt.ErrStopTimeout)
	case <-time.After(3 * time.Second):
		t.Fatal("DisableSrq did not return")
	}
	assert.Nil(t, s.Listener(), "listener released even though it did not stop")
	assert.Equal(t, interrupt.StateStopping, l.State())

	mu.Lock()
	require.Len(t, reported, 1)
	assert.ErrorIs(t, reported[0], interrupt.ErrStopTimeout)
	mu.Unlock()

	close(release)
	assert.Eventually(t, func() bool { return l.State() == interrupt.StateStopped }, 3*time.Second, 10*time.Millisecond)
}

func TestSessionCloseStopsListener(t *testing.T) {
	srv := startInstrument(t, device.Config{})
	config := DefaultConfig()
	config.ListenerAddress = "127.0.0.1:0"
	s := dial(t, srv, config, "inst0")

	require.NoError(t, s.EnableSrq(context.Background(), nil, func(interrupt.Event) {}))
	l := s.Listener()

	require.NoError(t, s.Close())
	assert.Equal(t, interrupt.StateStopped, l.State())
	assert.Nil(t, s.Listener())
}

func TestNetworkDialerCorePort(t *testing.T) {
	srv := startInstrument(t, device.Config{PortmapAddress: "127.0.0.1:0"})

	port, err := NetworkDialer{}.CorePort(context.Background(), srv.PortmapAddr().String())
	require.NoError(t, err)
	assert.Equal(t, corePort(srv), port)

	pmap := rpc.NewPortmapper()
	empty, err := rpc.NewServer(rpc.ServerConfig{Address: "127.0.0.1:0"}, pmap)
	require.NoError(t, err)
	require.NoError(t, empty.Start(context.Background()))
	defer empty.Stop()

	_, err = NetworkDialer{}.CorePort(context.Background(), empty.Addr().String())
	assert.ErrorIs(t, err, rpc.ErrProgramNotRegistered)
}
