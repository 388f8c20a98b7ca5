package core

import (
	"context"

	"github.com/vxi11-protocol/vxi11-go/pkg/rpc"
	"github.com/vxi11-protocol/vxi11-go/pkg/wire"
)

// Handler implements the instrument side of the core channel. Every method
// must return a non-nil response. ctx carries the rpc.ConnInfo of the core
// connection (see rpc.ConnFromContext) and is cancelled when the server stops.
type Handler interface {
	CreateLink(ctx context.Context, p *wire.CreateLinkParms) *wire.CreateLinkResp
	DeviceWrite(ctx context.Context, p *wire.DeviceWriteParms) *wire.DeviceWriteResp
	DeviceRead(ctx context.Context, p *wire.DeviceReadParms) *wire.DeviceReadResp
	DeviceReadStb(ctx context.Context, p *wire.DeviceGenericParms) *wire.DeviceReadStbResp
	DeviceTrigger(ctx context.Context, p *wire.DeviceGenericParms) *wire.DeviceErrorResp
	DeviceClear(ctx context.Context, p *wire.DeviceGenericParms) *wire.DeviceErrorResp
	DeviceRemote(ctx context.Context, p *wire.DeviceGenericParms) *wire.DeviceErrorResp
	DeviceLocal(ctx context.Context, p *wire.DeviceGenericParms) *wire.DeviceErrorResp
	DeviceLock(ctx context.Context, p *wire.DeviceLockParms) *wire.DeviceErrorResp
	DeviceUnlock(ctx context.Context, link wire.LinkID) *wire.DeviceErrorResp
	DeviceEnableSrq(ctx context.Context, p *wire.DeviceEnableSrqParms) *wire.DeviceErrorResp
	DeviceDoCmd(ctx context.Context, p *wire.DeviceDocmdParms) *wire.DeviceDocmdResp
	DestroyLink(ctx context.Context, link wire.LinkID) *wire.DeviceErrorResp
	CreateIntrChan(ctx context.Context, p *wire.DeviceRemoteFunc) *wire.DeviceErrorResp
	DestroyIntrChan(ctx context.Context) *wire.DeviceErrorResp
}

// UnimplementedHandler answers every procedure with OperationNotSupported.
// Embed it to implement part of Handler.
type UnimplementedHandler struct{}

func notSupported() *wire.DeviceErrorResp {
	return &wire.DeviceErrorResp{Error: wire.OperationNotSupported}
}

func (UnimplementedHandler) CreateLink(context.Context, *wire.CreateLinkParms) *wire.CreateLinkResp {
	return &wire.CreateLinkResp{Error: wire.OperationNotSupported}
}

func (UnimplementedHandler) DeviceWrite(context.Context, *wire.DeviceWriteParms) *wire.DeviceWriteResp {
	return &wire.DeviceWriteResp{Error: wire.OperationNotSupported}
}

func (UnimplementedHandler) DeviceRead(context.Context, *wire.DeviceReadParms) *wire.DeviceReadResp {
	return &wire.DeviceReadResp{Error: wire.OperationNotSupported}
}

func (UnimplementedHandler) DeviceReadStb(context.Context, *wire.DeviceGenericParms) *wire.DeviceReadStbResp {
	return &wire.DeviceReadStbResp{Error: wire.OperationNotSupported}
}

func (UnimplementedHandler) DeviceTrigger(context.Context, *wire.DeviceGenericParms) *wire.DeviceErrorResp {
	return notSupported()
}

func (UnimplementedHandler) DeviceClear(context.Context, *wire.DeviceGenericParms) *wire.DeviceErrorResp {
	return notSupported()
}

func (UnimplementedHandler) DeviceRemote(context.Context, *wire.DeviceGenericParms) *wire.DeviceErrorResp {
	return notSupported()
}

func (UnimplementedHandler) DeviceLocal(context.Context, *wire.DeviceGenericParms) *wire.DeviceErrorResp {
	return notSupported()
}

func (UnimplementedHandler) DeviceLock(context.Context, *wire.DeviceLockParms) *wire.DeviceErrorResp {
	return notSupported()
}

func (UnimplementedHandler) DeviceUnlock(context.Context, wire.LinkID) *wire.DeviceErrorResp {
	return notSupported()
}

func (UnimplementedHandler) DeviceEnableSrq(context.Context, *wire.DeviceEnableSrqParms) *wire.DeviceErrorResp {
	return notSupported()
}

func (UnimplementedHandler) DeviceDoCmd(context.Context, *wire.DeviceDocmdParms) *wire.DeviceDocmdResp {
	return &wire.DeviceDocmdResp{Error: wire.OperationNotSupported}
}

func (UnimplementedHandler) DestroyLink(context.Context, wire.LinkID) *wire.DeviceErrorResp {
	return notSupported()
}

func (UnimplementedHandler) CreateIntrChan(context.Context, *wire.DeviceRemoteFunc) *wire.DeviceErrorResp {
	return notSupported()
}

func (UnimplementedHandler) DestroyIntrChan(context.Context) *wire.DeviceErrorResp {
	return notSupported()
}

var _ Handler = UnimplementedHandler{}

// ConnInfo returns the core connection a handler call arrived on.
func ConnInfo(ctx context.Context) rpc.ConnInfo {
	info, _ := rpc.ConnFromContext(ctx)
	return info
}
