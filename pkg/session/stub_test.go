package session

import (
	"context"
	"net"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/vxi11-protocol/vxi11-go/pkg/wire"
)

// ---------------------------------------------------------------------------
// stubCore
// ---------------------------------------------------------------------------

type stubCore struct {
	mock.Mock
	timeout time.Duration
}

func errorResp(ret mock.Arguments) (*wire.DeviceErrorResp, error) {
	var r *wire.DeviceErrorResp
	if ret.Get(0) != nil {
		r = ret.Get(0).(*wire.DeviceErrorResp)
	}
	return r, ret.Error(1)
}

func (c *stubCore) CreateLink(ctx context.Context, p *wire.CreateLinkParms) (*wire.CreateLinkResp, error) {
	ret := c.Called(p)
	var r *wire.CreateLinkResp
	if ret.Get(0) != nil {
		r = ret.Get(0).(*wire.CreateLinkResp)
	}
	return r, ret.Error(1)
}
func (c *stubCore) DeviceWrite(ctx context.Context, p *wire.DeviceWriteParms) (*wire.DeviceWriteResp, error) {
	ret := c.Called(p)
	var r *wire.DeviceWriteResp
	switch v := ret.Get(0).(type) {
	case func(*wire.DeviceWriteParms) *wire.DeviceWriteResp:
		r = v(p)
	case *wire.DeviceWriteResp:
		r = v
	}
	return r, ret.Error(1)
}
func (c *stubCore) DeviceRead(ctx context.Context, p *wire.DeviceReadParms) (*wire.DeviceReadResp, error) {
	ret := c.Called(p)
	var r *wire.DeviceReadResp
	if ret.Get(0) != nil {
		r = ret.Get(0).(*wire.DeviceReadResp)
	}
	return r, ret.Error(1)
}
func (c *stubCore) DeviceReadStb(ctx context.Context, p *wire.DeviceGenericParms) (*wire.DeviceReadStbResp, error) {
	ret := c.Called(p)
	var r *wire.DeviceReadStbResp
	if ret.Get(0) != nil {
		r = ret.Get(0).(*wire.DeviceReadStbResp)
	}
	return r, ret.Error(1)
}
func (c *stubCore) DeviceTrigger(ctx context.Context, p *wire.DeviceGenericParms) (*wire.DeviceErrorResp, error) {
	return errorResp(c.Called(p))
}
func (c *stubCore) DeviceClear(ctx context.Context, p *wire.DeviceGenericParms) (*wire.DeviceErrorResp, error) {
	return errorResp(c.Called(p))
}
func (c *stubCore) DeviceRemote(ctx context.Context, p *wire.DeviceGenericParms) (*wire.DeviceErrorResp, error) {
	return errorResp(c.Called(p))
}
func (c *stubCore) DeviceLocal(ctx context.Context, p *wire.DeviceGenericParms) (*wire.DeviceErrorResp, error) {
	return errorResp(c.Called(p))
}
func (c *stubCore) DeviceLock(ctx context.Context, p *wire.DeviceLockParms) (*wire.DeviceErrorResp, error) {
	return errorResp(c.Called(p))
}
func (c *stubCore) DeviceUnlock(ctx context.Context, link wire.LinkID) (*wire.DeviceErrorResp, error) {
	return errorResp(c.Called(link))
}
func (c *stubCore) DeviceEnableSrq(ctx context.Context, p *wire.DeviceEnableSrqParms) (*wire.DeviceErrorResp, error) {
	return errorResp(c.Called(p))
}
func (c *stubCore) DeviceDoCmd(ctx context.Context, p *wire.DeviceDocmdParms) (*wire.DeviceDocmdResp, error) {
	ret := c.Called(p)
	var r *wire.DeviceDocmdResp
	if ret.Get(0) != nil {
		r = ret.Get(0).(*wire.DeviceDocmdResp)
	}
	return r, ret.Error(1)
}
func (c *stubCore) DestroyLink(ctx context.Context, link wire.LinkID) (*wire.DeviceErrorResp, error) {
	return errorResp(c.Called(link))
}
func (c *stubCore) CreateIntrChan(ctx context.Context, p *wire.DeviceRemoteFunc) (*wire.DeviceErrorResp, error) {
	return errorResp(c.Called(p))
}
func (c *stubCore) DestroyIntrChan(ctx context.Context) (*wire.DeviceErrorResp, error) {
	return errorResp(c.Called())
}

// The transmit timeout is plain state so tests can observe the value
// create_link ran under.
func (c *stubCore) TransmitTimeout() time.Duration {
	return c.timeout
}
func (c *stubCore) SetTransmitTimeout(d time.Duration) {
	c.timeout = d
}
func (c *stubCore) LocalAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000}
}
func (c *stubCore) Close() error {
	return c.Called().Error(0)
}

// ---------------------------------------------------------------------------
// stubAbort
// ---------------------------------------------------------------------------

type stubAbort struct {
	mock.Mock
	timeout time.Duration
}

func (a *stubAbort) Abort(ctx context.Context, link wire.LinkID) (*wire.DeviceErrorResp, error) {
	return errorResp(a.Called(link))
}
func (a *stubAbort) Timeout() time.Duration {
	return a.timeout
}
func (a *stubAbort) SetTimeout(d time.Duration) {
	a.timeout = d
}
func (a *stubAbort) Close() error {
	return a.Called().Error(0)
}

// ---------------------------------------------------------------------------
// stubDialer
// ---------------------------------------------------------------------------

type stubDialer struct{ mock.Mock }

func (d *stubDialer) CorePort(ctx context.Context, host string) (int, error) {
	ret := d.Called(host)
	return ret.Int(0), ret.Error(1)
}
func (d *stubDialer) DialCore(ctx context.Context, address string, transmitTimeout time.Duration) (CoreClient, error) {
	ret := d.Called(address, transmitTimeout)
	var c CoreClient
	if ret.Get(0) != nil {
		c = ret.Get(0).(CoreClient)
	}
	return c, ret.Error(1)
}
func (d *stubDialer) DialAbort(ctx context.Context, address string, timeout time.Duration) (AbortClient, error) {
	ret := d.Called(address, timeout)
	var a AbortClient
	if ret.Get(0) != nil {
		a = ret.Get(0).(AbortClient)
	}
	return a, ret.Error(1)
}
