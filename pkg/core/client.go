package core

import (
	"context"
	"net"
	"time"

	"github.com/vxi11-protocol/vxi11-go/pkg/log"
	"github.com/vxi11-protocol/vxi11-go/pkg/rpc"
	"github.com/vxi11-protocol/vxi11-go/pkg/wire"
	"github.com/vxi11-protocol/vxi11-go/pkg/xdr"
)

// DefaultTransmitTimeout bounds the RPC exchange itself, on top of any
// io_timeout or lock_timeout the call asks the instrument to honor.
const DefaultTransmitTimeout = 5 * time.Second

// ClientConfig configures a core channel client.
type ClientConfig struct {
	// TransmitTimeout bounds each exchange beyond the timeouts carried in
	// the request (default: DefaultTransmitTimeout).
	TransmitTimeout time.Duration

	// Logger for protocol logging (optional).
	Logger log.Logger
}

// Client is the controller side of the core channel.
type Client struct {
	rpc *rpc.Client
}

// Dial connects to the core channel at address over TCP.
func Dial(ctx context.Context, address string, config ClientConfig) (*Client, error) {
	if config.TransmitTimeout == 0 {
		config.TransmitTimeout = DefaultTransmitTimeout
	}
	c, err := rpc.Dial(ctx, address, rpc.ClientConfig{
		Program:       wire.CoreProgram,
		Version:       wire.CoreVersion,
		Timeout:       config.TransmitTimeout,
		Logger:        config.Logger,
		Channel:       log.ChannelCore,
		ProcedureName: wire.CoreProcedureName,
	})
	if err != nil {
		return nil, err
	}
	return &Client{rpc: c}, nil
}

// TransmitTimeout returns the exchange timeout.
func (c *Client) TransmitTimeout() time.Duration {
	return c.rpc.Timeout()
}

// SetTransmitTimeout changes the exchange timeout for later calls.
func (c *Client) SetTransmitTimeout(d time.Duration) {
	c.rpc.SetTimeout(d)
}

// LocalAddr returns the local end of the core connection, which is the
// address an instrument can reach the controller on.
func (c *Client) LocalAddr() net.Addr {
	return c.rpc.LocalAddr()
}

// RemoteAddr returns the instrument address.
func (c *Client) RemoteAddr() net.Addr {
	return c.rpc.RemoteAddr()
}

// Close closes the core connection. The instrument destroys links that were
// created on it.
func (c *Client) Close() error {
	return c.rpc.Close()
}

// call waits for the transmit timeout plus deviceTime, the time the request
// permits the instrument to spend.
func (c *Client) call(ctx context.Context, procedure uint32, args xdr.Marshaler, reply xdr.Unmarshaler, deviceTime time.Duration) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.rpc.Timeout()+deviceTime)
		defer cancel()
	}
	return c.rpc.Call(ctx, procedure, args, reply)
}

func lockWait(flags wire.Flags, lockTimeout uint32) time.Duration {
	if flags.Has(wire.FlagWaitLock) {
		return wire.Duration(lockTimeout)
	}
	return 0
}

// Null pings the core program.
func (c *Client) Null(ctx context.Context) error {
	return c.call(ctx, rpc.NullProcedure, nil, nil, 0)
}

// CreateLink opens a link to the device named in p.
func (c *Client) CreateLink(ctx context.Context, p *wire.CreateLinkParms) (*wire.CreateLinkResp, error) {
	var wait time.Duration
	if p.LockDevice {
		wait = wire.Duration(p.LockTimeout)
	}
	resp := &wire.CreateLinkResp{}
	if err := c.call(ctx, wire.ProcCreateLink, p, resp, wait); err != nil {
		return nil, err
	}
	return resp, nil
}

// DeviceWrite sends one block of data.
func (c *Client) DeviceWrite(ctx context.Context, p *wire.DeviceWriteParms) (*wire.DeviceWriteResp, error) {
	resp := &wire.DeviceWriteResp{}
	wait := wire.Duration(p.IOTimeout) + lockWait(p.Flags, p.LockTimeout)
	if err := c.call(ctx, wire.ProcDeviceWrite, p, resp, wait); err != nil {
		return nil, err
	}
	return resp, nil
}

// DeviceRead reads one block of data.
func (c *Client) DeviceRead(ctx context.Context, p *wire.DeviceReadParms) (*wire.DeviceReadResp, error) {
	resp := &wire.DeviceReadResp{}
	wait := wire.Duration(p.IOTimeout) + lockWait(p.Flags, p.LockTimeout)
	if err := c.call(ctx, wire.ProcDeviceRead, p, resp, wait); err != nil {
		return nil, err
	}
	return resp, nil
}

// DeviceReadStb reads the status byte.
func (c *Client) DeviceReadStb(ctx context.Context, p *wire.DeviceGenericParms) (*wire.DeviceReadStbResp, error) {
	resp := &wire.DeviceReadStbResp{}
	if err := c.call(ctx, wire.ProcDeviceReadStb, p, resp, genericWait(p)); err != nil {
		return nil, err
	}
	return resp, nil
}

func genericWait(p *wire.DeviceGenericParms) time.Duration {
	return wire.Duration(p.IOTimeout) + lockWait(p.Flags, p.LockTimeout)
}

func (c *Client) generic(ctx context.Context, procedure uint32, p *wire.DeviceGenericParms) (*wire.DeviceErrorResp, error) {
	resp := &wire.DeviceErrorResp{}
	if err := c.call(ctx, procedure, p, resp, genericWait(p)); err != nil {
		return nil, err
	}
	return resp, nil
}

// DeviceTrigger sends a group execute trigger.
func (c *Client) DeviceTrigger(ctx context.Context, p *wire.DeviceGenericParms) (*wire.DeviceErrorResp, error) {
	return c.generic(ctx, wire.ProcDeviceTrigger, p)
}

// DeviceClear sends a device clear.
func (c *Client) DeviceClear(ctx context.Context, p *wire.DeviceGenericParms) (*wire.DeviceErrorResp, error) {
	return c.generic(ctx, wire.ProcDeviceClear, p)
}

// DeviceRemote places the device in remote mode.
func (c *Client) DeviceRemote(ctx context.Context, p *wire.DeviceGenericParms) (*wire.DeviceErrorResp, error) {
	return c.generic(ctx, wire.ProcDeviceRemote, p)
}

// DeviceLocal returns the device to local mode.
func (c *Client) DeviceLocal(ctx context.Context, p *wire.DeviceGenericParms) (*wire.DeviceErrorResp, error) {
	return c.generic(ctx, wire.ProcDeviceLocal, p)
}

// DeviceLock acquires the device lock for the link.
func (c *Client) DeviceLock(ctx context.Context, p *wire.DeviceLockParms) (*wire.DeviceErrorResp, error) {
	resp := &wire.DeviceErrorResp{}
	if err := c.call(ctx, wire.ProcDeviceLock, p, resp, lockWait(p.Flags, p.LockTimeout)); err != nil {
		return nil, err
	}
	return resp, nil
}

// DeviceUnlock releases the device lock held by the link.
func (c *Client) DeviceUnlock(ctx context.Context, link wire.LinkID) (*wire.DeviceErrorResp, error) {
	resp := &wire.DeviceErrorResp{}
	if err := c.call(ctx, wire.ProcDeviceUnlock, &wire.DeviceLinkParm{Link: link}, resp, 0); err != nil {
		return nil, err
	}
	return resp, nil
}

// DeviceEnableSrq enables or disables service requests for the link.
func (c *Client) DeviceEnableSrq(ctx context.Context, p *wire.DeviceEnableSrqParms) (*wire.DeviceErrorResp, error) {
	resp := &wire.DeviceErrorResp{}
	if err := c.call(ctx, wire.ProcDeviceEnableSrq, p, resp, 0); err != nil {
		return nil, err
	}
	return resp, nil
}

// DeviceDoCmd executes a device-specific command.
func (c *Client) DeviceDoCmd(ctx context.Context, p *wire.DeviceDocmdParms) (*wire.DeviceDocmdResp, error) {
	resp := &wire.DeviceDocmdResp{}
	wait := wire.Duration(p.IOTimeout) + lockWait(p.Flags, p.LockTimeout)
	if err := c.call(ctx, wire.ProcDeviceDoCmd, p, resp, wait); err != nil {
		return nil, err
	}
	return resp, nil
}

// DestroyLink closes the link.
func (c *Client) DestroyLink(ctx context.Context, link wire.LinkID) (*wire.DeviceErrorResp, error) {
	resp := &wire.DeviceErrorResp{}
	if err := c.call(ctx, wire.ProcDestroyLink, &wire.DeviceLinkParm{Link: link}, resp, 0); err != nil {
		return nil, err
	}
	return resp, nil
}

// CreateIntrChan asks the instrument to connect back to an interrupt listener.
func (c *Client) CreateIntrChan(ctx context.Context, p *wire.DeviceRemoteFunc) (*wire.DeviceErrorResp, error) {
	resp := &wire.DeviceErrorResp{}
	if err := c.call(ctx, wire.ProcCreateIntrChan, p, resp, 0); err != nil {
		return nil, err
	}
	return resp, nil
}

// DestroyIntrChan closes the interrupt channel of this core connection.
func (c *Client) DestroyIntrChan(ctx context.Context) (*wire.DeviceErrorResp, error) {
	resp := &wire.DeviceErrorResp{}
	if err := c.call(ctx, wire.ProcDestroyIntrChan, nil, resp, 0); err != nil {
		return nil, err
	}
	return resp, nil
}
