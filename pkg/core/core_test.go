package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vxi11-protocol/vxi11-go/pkg/rpc"
	"github.com/vxi11-protocol/vxi11-go/pkg/wire"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// echoHandler implements a few procedures and records what it saw.
type echoHandler struct {
	UnimplementedHandler

	mu      sync.Mutex
	written []byte
	conns   []string
}

func (h *echoHandler) CreateLink(ctx context.Context, p *wire.CreateLinkParms) *wire.CreateLinkResp {
	h.mu.Lock()
	h.conns = append(h.conns, ConnInfo(ctx).ID)
	h.mu.Unlock()
	if p.Device != "inst0" {
		return &wire.CreateLinkResp{Error: wire.InvalidAddress}
	}
	return &wire.CreateLinkResp{Link: 1, AbortPort: 4321, MaxRecvSize: 1024}
}

func (h *echoHandler) DeviceWrite(_ context.Context, p *wire.DeviceWriteParms) *wire.DeviceWriteResp {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.written = append(h.written, p.Data...)
	return &wire.DeviceWriteResp{Size: uint32(len(p.Data))}
}

func (h *echoHandler) DeviceRead(_ context.Context, p *wire.DeviceReadParms) *wire.DeviceReadResp {
	h.mu.Lock()
	defer h.mu.Unlock()
	return &wire.DeviceReadResp{Reason: wire.ReasonEnd, Data: h.written}
}

func (h *echoHandler) DeviceReadStb(context.Context, *wire.DeviceGenericParms) *wire.DeviceReadStbResp {
	return &wire.DeviceReadStbResp{Stb: 0x50}
}

func (h *echoHandler) DestroyLink(_ context.Context, link wire.LinkID) *wire.DeviceErrorResp {
	if link != 1 {
		return &wire.DeviceErrorResp{Error: wire.InvalidLinkIdentifier}
	}
	return &wire.DeviceErrorResp{}
}

func startCore(t *testing.T, h Handler) *rpc.Server {
	t.Helper()
	srv, err := rpc.NewServer(rpc.ServerConfig{Address: "127.0.0.1:0"}, NewServer(h, nil))
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { srv.Stop() })
	return srv
}

func TestClientServerRoundTrip(t *testing.T) {
	h := &echoHandler{}
	srv := startCore(t, h)

	c, err := Dial(context.Background(), srv.Addr().String(), ClientConfig{TransmitTimeout: time.Second})
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Null(ctx))

	link, err := c.CreateLink(ctx, &wire.CreateLinkParms{ClientID: 1, Device: "inst0"})
	require.NoError(t, err)
	assert.Equal(t, wire.NoError, link.Error)
	assert.Equal(t, wire.LinkID(1), link.Link)
	assert.Equal(t, uint16(4321), link.AbortPort)
	assert.Equal(t, uint32(1024), link.MaxRecvSize)

	bad, err := c.CreateLink(ctx, &wire.CreateLinkParms{Device: "gpib9"})
	require.NoError(t, err, "device errors are data, not transport errors")
	assert.Equal(t, wire.InvalidAddress, bad.Error)

	w, err := c.DeviceWrite(ctx, &wire.DeviceWriteParms{Link: 1, Flags: wire.FlagEnd, Data: []byte("*IDN?\n")})
	require.NoError(t, err)
	assert.Equal(t, uint32(6), w.Size)

	r, err := c.DeviceRead(ctx, &wire.DeviceReadParms{Link: 1, RequestSize: 100})
	require.NoError(t, err)
	assert.Equal(t, "*IDN?\n", string(r.Data))
	assert.True(t, r.Reason.Has(wire.ReasonEnd))

	stb, err := c.DeviceReadStb(ctx, &wire.DeviceGenericParms{Link: 1})
	require.NoError(t, err)
	assert.Equal(t, byte(0x50), stb.Stb)

	d, err := c.DestroyLink(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, wire.InvalidLinkIdentifier, d.Error)

	h.mu.Lock()
	defer h.mu.Unlock()
	require.Len(t, h.conns, 2)
	assert.NotEmpty(t, h.conns[0])
	assert.Equal(t, h.conns[0], h.conns[1], "both links came over the same connection")
}

func TestUnimplementedProceduresAnswerNotSupported(t *testing.T) {
	srv := startCore(t, &echoHandler{})
	c, err := Dial(context.Background(), srv.Addr().String(), ClientConfig{})
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	resp, err := c.DeviceTrigger(ctx, &wire.DeviceGenericParms{Link: 1})
	require.NoError(t, err)
	assert.Equal(t, wire.OperationNotSupported, resp.Error)

	doc, err := c.DeviceDoCmd(ctx, &wire.DeviceDocmdParms{Link: 1, Cmd: 0x20000})
	require.NoError(t, err)
	assert.Equal(t, wire.OperationNotSupported, doc.Error)

	intr, err := c.DestroyIntrChan(ctx)
	require.NoError(t, err)
	assert.Equal(t, wire.OperationNotSupported, intr.Error)
}

func TestUnknownProcedureAndProgram(t *testing.T) {
	srv := startCore(t, &echoHandler{})
	ctx := context.Background()

	rc, err := rpc.Dial(ctx, srv.Addr().String(), rpc.ClientConfig{Program: wire.CoreProgram, Version: wire.CoreVersion})
	require.NoError(t, err)
	defer rc.Close()

	// 21 sits between device_enable_srq and device_docmd and is unassigned.
	err = rc.Call(ctx, 21, nil, nil)
	assert.True(t, rpc.IsAcceptStat(err, rpc.ProcUnavail), "got %v", err)

	// The connection stays usable.
	assert.NoError(t, rc.Call(ctx, rpc.NullProcedure, nil, nil))

	other, err := rpc.Dial(ctx, srv.Addr().String(), rpc.ClientConfig{Program: wire.AbortProgram, Version: 1})
	require.NoError(t, err)
	defer other.Close()
	assert.True(t, rpc.IsAcceptStat(other.Call(ctx, 1, nil, nil), rpc.ProgUnavail))

	v2, err := rpc.Dial(ctx, srv.Addr().String(), rpc.ClientConfig{Program: wire.CoreProgram, Version: 2})
	require.NoError(t, err)
	defer v2.Close()
	assert.True(t, rpc.IsAcceptStat(v2.Call(ctx, rpc.NullProcedure, nil, nil), rpc.ProgUnavail))
}

func TestGarbageArgumentsRejected(t *testing.T) {
	srv := startCore(t, &echoHandler{})
	ctx := context.Background()

	rc, err := rpc.Dial(ctx, srv.Addr().String(), rpc.ClientConfig{Program: wire.CoreProgram, Version: wire.CoreVersion})
	require.NoError(t, err)
	defer rc.Close()

	// create_link with no arguments at all.
	err = rc.Call(ctx, wire.ProcCreateLink, nil, nil)
	assert.True(t, rpc.IsAcceptStat(err, rpc.GarbageArgs), "got %v", err)
}

func TestTransmitTimeoutSetter(t *testing.T) {
	srv := startCore(t, &echoHandler{})
	c, err := Dial(context.Background(), srv.Addr().String(), ClientConfig{})
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, DefaultTransmitTimeout, c.TransmitTimeout())
	c.SetTransmitTimeout(250 * time.Millisecond)
	assert.Equal(t, 250*time.Millisecond, c.TransmitTimeout())
}
