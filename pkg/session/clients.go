package session

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/vxi11-protocol/vxi11-go/pkg/abort"
	"github.com/vxi11-protocol/vxi11-go/pkg/core"
	"github.com/vxi11-protocol/vxi11-go/pkg/log"
	"github.com/vxi11-protocol/vxi11-go/pkg/rpc"
	"github.com/vxi11-protocol/vxi11-go/pkg/wire"
)

// CoreClient is the core channel as used by a Session. *core.Client
// implements it.
type CoreClient interface {
	CreateLink(ctx context.Context, p *wire.CreateLinkParms) (*wire.CreateLinkResp, error)
	DeviceWrite(ctx context.Context, p *wire.DeviceWriteParms) (*wire.DeviceWriteResp, error)
	DeviceRead(ctx context.Context, p *wire.DeviceReadParms) (*wire.DeviceReadResp, error)
	DeviceReadStb(ctx context.Context, p *wire.DeviceGenericParms) (*wire.DeviceReadStbResp, error)
	DeviceTrigger(ctx context.Context, p *wire.DeviceGenericParms) (*wire.DeviceErrorResp, error)
	DeviceClear(ctx context.Context, p *wire.DeviceGenericParms) (*wire.DeviceErrorResp, error)
	DeviceRemote(ctx context.Context, p *wire.DeviceGenericParms) (*wire.DeviceErrorResp, error)
	DeviceLocal(ctx context.Context, p *wire.DeviceGenericParms) (*wire.DeviceErrorResp, error)
	DeviceLock(ctx context.Context, p *wire.DeviceLockParms) (*wire.DeviceErrorResp, error)
	DeviceUnlock(ctx context.Context, link wire.LinkID) (*wire.DeviceErrorResp, error)
	DeviceEnableSrq(ctx context.Context, p *wire.DeviceEnableSrqParms) (*wire.DeviceErrorResp, error)
	DeviceDoCmd(ctx context.Context, p *wire.DeviceDocmdParms) (*wire.DeviceDocmdResp, error)
	DestroyLink(ctx context.Context, link wire.LinkID) (*wire.DeviceErrorResp, error)
	CreateIntrChan(ctx context.Context, p *wire.DeviceRemoteFunc) (*wire.DeviceErrorResp, error)
	DestroyIntrChan(ctx context.Context) (*wire.DeviceErrorResp, error)

	TransmitTimeout() time.Duration
	SetTransmitTimeout(d time.Duration)
	LocalAddr() net.Addr
	Close() error
}

// AbortClient is the abort channel as used by a Session. *abort.Client
// implements it.
type AbortClient interface {
	Abort(ctx context.Context, link wire.LinkID) (*wire.DeviceErrorResp, error)
	Timeout() time.Duration
	SetTimeout(d time.Duration)
	Close() error
}

// Dialer opens the channels of a Session.
type Dialer interface {
	// CorePort asks the portmapper on host for the core channel port.
	CorePort(ctx context.Context, host string) (int, error)

	DialCore(ctx context.Context, address string, transmitTimeout time.Duration) (CoreClient, error)
	DialAbort(ctx context.Context, address string, timeout time.Duration) (AbortClient, error)
}

// NetworkDialer dials real channels over TCP.
type NetworkDialer struct {
	// Logger for protocol logging (optional).
	Logger log.Logger
}

// CorePort implements Dialer.
func (d NetworkDialer) CorePort(ctx context.Context, host string) (int, error) {
	pm, err := rpc.DialPortmapper(ctx, host, rpc.ClientConfig{Logger: d.Logger})
	if err != nil {
		return 0, fmt.Errorf("portmapper %s: %w", host, err)
	}
	defer pm.Close()

	port, err := pm.GetPort(ctx, wire.CoreProgram, wire.CoreVersion, rpc.ProtocolTCP)
	if err != nil {
		return 0, fmt.Errorf("portmapper %s: %w", host, err)
	}
	return port, nil
}

// DialCore implements Dialer.
func (d NetworkDialer) DialCore(ctx context.Context, address string, transmitTimeout time.Duration) (CoreClient, error) {
	c, err := core.Dial(ctx, address, core.ClientConfig{TransmitTimeout: transmitTimeout, Logger: d.Logger})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// DialAbort implements Dialer.
func (d NetworkDialer) DialAbort(ctx context.Context, address string, timeout time.Duration) (AbortClient, error) {
	c, err := abort.Dial(ctx, address, abort.ClientConfig{Timeout: timeout, Logger: d.Logger})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func hostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

var (
	_ CoreClient  = (*core.Client)(nil)
	_ AbortClient = (*abort.Client)(nil)
	_ Dialer      = NetworkDialer{}
)
