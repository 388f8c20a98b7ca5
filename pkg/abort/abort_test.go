package abort

import (
	"context"
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

func startAbort(t *testing.T, h Handler) *rpc.Server {
	t.Helper()
	srv, err := rpc.NewServer(rpc.ServerConfig{Address: "127.0.0.1:0"}, NewServer(h, nil))
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { srv.Stop() })
	return srv
}

func TestAbort(t *testing.T) {
	aborted := make(chan wire.LinkID, 1)
	srv := startAbort(t, HandlerFunc(func(_ context.Context, link wire.LinkID) *wire.DeviceErrorResp {
		if link != 7 {
			return &wire.DeviceErrorResp{Error: wire.InvalidLinkIdentifier}
		}
		aborted <- link
		return &wire.DeviceErrorResp{}
	}))

	c, err := Dial(context.Background(), srv.Addr().String(), ClientConfig{Timeout: time.Second})
	require.NoError(t, err)
	defer c.Close()

	resp, err := c.Abort(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, wire.NoError, resp.Error)
	assert.Equal(t, wire.LinkID(7), <-aborted)

	resp, err = c.Abort(context.Background(), 8)
	require.NoError(t, err)
	assert.Equal(t, wire.InvalidLinkIdentifier, resp.Error)
}

func TestAbortRejectsOtherProcedures(t *testing.T) {
	srv := startAbort(t, HandlerFunc(func(context.Context, wire.LinkID) *wire.DeviceErrorResp {
		return &wire.DeviceErrorResp{}
	}))
	ctx := context.Background()

	rc, err := rpc.Dial(ctx, srv.Addr().String(), rpc.ClientConfig{Program: wire.AbortProgram, Version: wire.AbortVersion})
	require.NoError(t, err)
	defer rc.Close()

	assert.NoError(t, rc.Call(ctx, rpc.NullProcedure, nil, nil))
	assert.True(t, rpc.IsAcceptStat(rc.Call(ctx, 2, nil, nil), rpc.ProcUnavail))

	core, err := rpc.Dial(ctx, srv.Addr().String(), rpc.ClientConfig{Program: wire.CoreProgram, Version: wire.CoreVersion})
	require.NoError(t, err)
	defer core.Close()
	assert.True(t, rpc.IsAcceptStat(core.Call(ctx, wire.ProcCreateLink, nil, nil), rpc.ProgUnavail))
}

func TestSetTimeout(t *testing.T) {
	srv := startAbort(t, HandlerFunc(func(context.Context, wire.LinkID) *wire.DeviceErrorResp {
		return &wire.DeviceErrorResp{}
	}))
	c, err := Dial(context.Background(), srv.Addr().String(), ClientConfig{})
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, DefaultTimeout, c.Timeout())
	c.SetTimeout(time.Second)
	assert.Equal(t, time.Second, c.Timeout())
	assert.Equal(t, srv.Addr().String(), c.RemoteAddr().String())
}
