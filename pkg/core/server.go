package core

import (
	"context"
	"log/slog"

	"github.com/vxi11-protocol/vxi11-go/pkg/rpc"
	"github.com/vxi11-protocol/vxi11-go/pkg/wire"
	"github.com/vxi11-protocol/vxi11-go/pkg/xdr"
)

// Server dispatches core channel calls to a Handler.
type Server struct {
	handler Handler
	logger  *slog.Logger
}

// NewServer creates a dispatcher for h. logger may be nil.
func NewServer(h Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{handler: h, logger: logger}
}

// Dispatch implements rpc.Dispatcher.
func (s *Server) Dispatch(call *rpc.Call, program, version, procedure uint32) {
	if program != wire.CoreProgram || version != wire.CoreVersion {
		_ = call.ReplyProgramNotAvailable()
		return
	}

	var err error
	switch procedure {
	case rpc.NullProcedure:
		err = call.Reply(nil)
	case wire.ProcCreateLink:
		err = serve(call, s.handler.CreateLink)
	case wire.ProcDeviceWrite:
		err = serve(call, s.handler.DeviceWrite)
	case wire.ProcDeviceRead:
		err = serve(call, s.handler.DeviceRead)
	case wire.ProcDeviceReadStb:
		err = serve(call, s.handler.DeviceReadStb)
	case wire.ProcDeviceTrigger:
		err = serve(call, s.handler.DeviceTrigger)
	case wire.ProcDeviceClear:
		err = serve(call, s.handler.DeviceClear)
	case wire.ProcDeviceRemote:
		err = serve(call, s.handler.DeviceRemote)
	case wire.ProcDeviceLocal:
		err = serve(call, s.handler.DeviceLocal)
	case wire.ProcDeviceLock:
		err = serve(call, s.handler.DeviceLock)
	case wire.ProcDeviceUnlock:
		err = serve(call, func(ctx context.Context, p *wire.DeviceLinkParm) *wire.DeviceErrorResp {
			return s.handler.DeviceUnlock(ctx, p.Link)
		})
	case wire.ProcDeviceEnableSrq:
		err = serve(call, s.handler.DeviceEnableSrq)
	case wire.ProcDeviceDoCmd:
		err = serve(call, s.handler.DeviceDoCmd)
	case wire.ProcDestroyLink:
		err = serve(call, func(ctx context.Context, p *wire.DeviceLinkParm) *wire.DeviceErrorResp {
			return s.handler.DestroyLink(ctx, p.Link)
		})
	case wire.ProcCreateIntrChan:
		err = serve(call, s.handler.CreateIntrChan)
	case wire.ProcDestroyIntrChan:
		err = call.Reply(s.handler.DestroyIntrChan(call.Context()))
	default:
		err = call.ReplyProcedureNotAvailable()
	}

	if err != nil {
		s.logger.Warn("core reply failed",
			"procedure", wire.CoreProcedureName(procedure),
			"xid", call.Header.XID,
			"error", err)
	}
}

// serve decodes the arguments into a fresh P, runs fn and replies with its result.
func serve[P any, PP interface {
	*P
	xdr.Unmarshaler
}, R xdr.Marshaler](call *rpc.Call, fn func(context.Context, PP) R) error {
	args := PP(new(P))
	if err := call.RetrieveCall(args); err != nil {
		return err
	}
	return call.Reply(fn(call.Context(), args))
}

var _ rpc.Dispatcher = (*Server)(nil)
