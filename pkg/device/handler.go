package device

import (
	"context"
	"errors"

	"github.com/vxi11-protocol/vxi11-go/pkg/abort"
	"github.com/vxi11-protocol/vxi11-go/pkg/address"
	"github.com/vxi11-protocol/vxi11-go/pkg/core"
	"github.com/vxi11-protocol/vxi11-go/pkg/interrupt"
	"github.com/vxi11-protocol/vxi11-go/pkg/wire"
)

// codeOfInstrument maps an Instrument error to a device error code. A call
// whose context was cancelled fails even if the instrument completed it.
func codeOfInstrument(ctx context.Context, err error) wire.ErrorCode {
	if ctx.Err() != nil {
		return codeFor(ctx)
	}
	if err == nil {
		return wire.NoError
	}
	var de *wire.DeviceError
	if errors.As(err, &de) {
		return de.Code
	}
	return wire.IOError
}

// CreateLink implements core.Handler.
func (s *Server) CreateLink(ctx context.Context, p *wire.CreateLinkParms) *wire.CreateLinkResp {
	dn, err := address.ParseDeviceName(p.Device)
	if err != nil {
		s.logger.Debug("create_link: bad device name", "device", p.Device, "error", err)
		return &wire.CreateLinkResp{Error: wire.InvalidAddress}
	}

	s.mu.Lock()
	d, ok := s.devices[dn.String()]
	switch {
	case !ok:
		s.mu.Unlock()
		return &wire.CreateLinkResp{Error: wire.DeviceNotAccessible}
	case s.config.SingleLink && len(s.links) > 0:
		s.mu.Unlock()
		return &wire.CreateLinkResp{Error: wire.DeviceNotAccessible}
	case s.config.MaxLinks > 0 && len(s.links) >= s.config.MaxLinks:
		s.mu.Unlock()
		return &wire.CreateLinkResp{Error: wire.OutOfResources}
	}
	s.lastLink++
	l := &link{
		id:       s.lastLink,
		clientID: p.ClientID,
		connID:   core.ConnInfo(ctx).ID,
		dev:      d,
	}
	s.mu.Unlock()

	if p.LockDevice {
		lctx, finish := l.beginUntimed(ctx)
		code := d.lock(lctx, l.id, wire.FlagWaitLock, p.LockTimeout)
		finish()
		if code != wire.NoError {
			return &wire.CreateLinkResp{Error: code}
		}
	}

	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		d.dropLink(l.id)
		return &wire.CreateLinkResp{Error: wire.DeviceNotAccessible}
	}
	s.links[l.id] = l
	s.connLocked(l.connID).links[l.id] = l
	s.mu.Unlock()

	if s.config.Metrics != nil {
		s.config.Metrics.LinkOpened()
	}
	s.logger.Debug("link created", "link", l.id, "device", d.name, "client_id", p.ClientID, "locked", p.LockDevice)

	return &wire.CreateLinkResp{
		Link:        l.id,
		AbortPort:   s.abortPort(),
		MaxRecvSize: s.config.MaxRecvSize,
	}
}

// DestroyLink implements core.Handler.
func (s *Server) DestroyLink(ctx context.Context, id wire.LinkID) *wire.DeviceErrorResp {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[id]
	if !ok || l.connID != core.ConnInfo(ctx).ID {
		return &wire.DeviceErrorResp{Error: wire.InvalidLinkIdentifier}
	}
	if c, ok := s.conns[l.connID]; ok {
		delete(c.links, id)
	}
	s.removeLinkLocked(l)
	return &wire.DeviceErrorResp{}
}

// DeviceWrite implements core.Handler.
func (s *Server) DeviceWrite(ctx context.Context, p *wire.DeviceWriteParms) *wire.DeviceWriteResp {
	l, ok := s.coreLink(ctx, p.Link)
	if !ok {
		return &wire.DeviceWriteResp{Error: wire.InvalidLinkIdentifier}
	}
	if uint32(len(p.Data)) > s.config.MaxRecvSize {
		return &wire.DeviceWriteResp{Error: wire.ParameterError}
	}

	ctx, finish := l.begin(ctx, s.clock, p.IOTimeout)
	defer finish()

	if code := l.dev.checkLock(ctx, l.id, p.Flags, p.LockTimeout); code != wire.NoError {
		return &wire.DeviceWriteResp{Error: code}
	}

	msg := l.append(p.Data, p.Flags.Has(wire.FlagEnd))
	size := uint32(len(p.Data))
	if msg == nil {
		return &wire.DeviceWriteResp{Size: size}
	}

	out, err := l.dev.inst.Execute(ctx, msg)
	if code := codeOfInstrument(ctx, err); code != wire.NoError {
		s.logger.Debug("device_write: instrument failed", "link", l.id, "code", code, "error", err)
		return &wire.DeviceWriteResp{Error: code, Size: size}
	}
	l.dev.enqueue(out)
	return &wire.DeviceWriteResp{Size: size}
}

// DeviceRead implements core.Handler.
func (s *Server) DeviceRead(ctx context.Context, p *wire.DeviceReadParms) *wire.DeviceReadResp {
	l, ok := s.coreLink(ctx, p.Link)
	if !ok {
		return &wire.DeviceReadResp{Error: wire.InvalidLinkIdentifier}
	}

	ctx, finish := l.begin(ctx, s.clock, p.IOTimeout)
	defer finish()

	if code := l.dev.checkLock(ctx, l.id, p.Flags, p.LockTimeout); code != wire.NoError {
		return &wire.DeviceReadResp{Error: code}
	}

	chunk := s.config.ReadChunk
	if chunk <= 0 || chunk > int(s.config.MaxRecvSize) {
		chunk = int(s.config.MaxRecvSize)
	}
	data, reason, code := l.dev.read(ctx, p.RequestSize, chunk, p.TermChar, p.Flags.Has(wire.FlagTermCharSet))
	return &wire.DeviceReadResp{Error: code, Reason: reason, Data: data}
}

// DeviceReadStb implements core.Handler.
func (s *Server) DeviceReadStb(ctx context.Context, p *wire.DeviceGenericParms) *wire.DeviceReadStbResp {
	l, ok := s.coreLink(ctx, p.Link)
	if !ok {
		return &wire.DeviceReadStbResp{Error: wire.InvalidLinkIdentifier}
	}
	ctx, finish := l.begin(ctx, s.clock, p.IOTimeout)
	defer finish()

	if code := l.dev.checkLock(ctx, l.id, p.Flags, p.LockTimeout); code != wire.NoError {
		return &wire.DeviceReadStbResp{Error: code}
	}
	return &wire.DeviceReadStbResp{Stb: l.dev.status()}
}

// generic runs fn for a generic-parameters call after the lock check.
func (s *Server) generic(ctx context.Context, p *wire.DeviceGenericParms, fn func(ctx context.Context, l *link) wire.ErrorCode) *wire.DeviceErrorResp {
	l, ok := s.coreLink(ctx, p.Link)
	if !ok {
		return &wire.DeviceErrorResp{Error: wire.InvalidLinkIdentifier}
	}
	ctx, finish := l.begin(ctx, s.clock, p.IOTimeout)
	defer finish()

	if code := l.dev.checkLock(ctx, l.id, p.Flags, p.LockTimeout); code != wire.NoError {
		return &wire.DeviceErrorResp{Error: code}
	}
	return &wire.DeviceErrorResp{Error: fn(ctx, l)}
}

// DeviceTrigger implements core.Handler.
func (s *Server) DeviceTrigger(ctx context.Context, p *wire.DeviceGenericParms) *wire.DeviceErrorResp {
	return s.generic(ctx, p, func(ctx context.Context, l *link) wire.ErrorCode {
		t, ok := l.dev.inst.(Triggerer)
		if !ok {
			return wire.OperationNotSupported
		}
		return codeOfInstrument(ctx, t.Trigger(ctx))
	})
}

// DeviceClear implements core.Handler.
func (s *Server) DeviceClear(ctx context.Context, p *wire.DeviceGenericParms) *wire.DeviceErrorResp {
	return s.generic(ctx, p, func(ctx context.Context, l *link) wire.ErrorCode {
		l.clearInput()
		l.dev.clear()
		return codeOfInstrument(ctx, l.dev.inst.Clear(ctx))
	})
}

// DeviceRemote implements core.Handler.
func (s *Server) DeviceRemote(ctx context.Context, p *wire.DeviceGenericParms) *wire.DeviceErrorResp {
	return s.generic(ctx, p, func(ctx context.Context, l *link) wire.ErrorCode {
		return setRemote(ctx, l.dev.inst, true)
	})
}

// DeviceLocal implements core.Handler.
func (s *Server) DeviceLocal(ctx context.Context, p *wire.DeviceGenericParms) *wire.DeviceErrorResp {
	return s.generic(ctx, p, func(ctx context.Context, l *link) wire.ErrorCode {
		return setRemote(ctx, l.dev.inst, false)
	})
}

func setRemote(ctx context.Context, inst Instrument, remote bool) wire.ErrorCode {
	rc, ok := inst.(RemoteController)
	if !ok {
		return wire.NoError
	}
	return codeOfInstrument(ctx, rc.SetRemote(ctx, remote))
}

// DeviceLock implements core.Handler.
func (s *Server) DeviceLock(ctx context.Context, p *wire.DeviceLockParms) *wire.DeviceErrorResp {
	l, ok := s.coreLink(ctx, p.Link)
	if !ok {
		return &wire.DeviceErrorResp{Error: wire.InvalidLinkIdentifier}
	}
	ctx, finish := l.beginUntimed(ctx)
	defer finish()
	return &wire.DeviceErrorResp{Error: l.dev.lock(ctx, l.id, p.Flags, p.LockTimeout)}
}

// DeviceUnlock implements core.Handler.
func (s *Server) DeviceUnlock(ctx context.Context, id wire.LinkID) *wire.DeviceErrorResp {
	l, ok := s.coreLink(ctx, id)
	if !ok {
		return &wire.DeviceErrorResp{Error: wire.InvalidLinkIdentifier}
	}
	return &wire.DeviceErrorResp{Error: l.dev.unlock(l.id)}
}

// DeviceEnableSrq implements core.Handler.
func (s *Server) DeviceEnableSrq(ctx context.Context, p *wire.DeviceEnableSrqParms) *wire.DeviceErrorResp {
	l, ok := s.coreLink(ctx, p.Link)
	if !ok {
		return &wire.DeviceErrorResp{Error: wire.InvalidLinkIdentifier}
	}
	if len(p.Handle) > wire.MaxSrqHandle {
		return &wire.DeviceErrorResp{Error: wire.ParameterError}
	}
	l.setSrq(p.Enable, p.Handle)
	return &wire.DeviceErrorResp{}
}

// DeviceDoCmd implements core.Handler.
func (s *Server) DeviceDoCmd(ctx context.Context, p *wire.DeviceDocmdParms) *wire.DeviceDocmdResp {
	l, ok := s.coreLink(ctx, p.Link)
	if !ok {
		return &wire.DeviceDocmdResp{Error: wire.InvalidLinkIdentifier}
	}
	cmd, ok := l.dev.inst.(Commander)
	if !ok {
		return &wire.DeviceDocmdResp{Error: wire.OperationNotSupported}
	}

	ctx, finish := l.begin(ctx, s.clock, p.IOTimeout)
	defer finish()

	if code := l.dev.checkLock(ctx, l.id, p.Flags, p.LockTimeout); code != wire.NoError {
		return &wire.DeviceDocmdResp{Error: code}
	}
	out, err := cmd.DoCmd(ctx, p.Cmd, p.NetworkOrder, p.DataSize, p.DataIn)
	if code := codeOfInstrument(ctx, err); code != wire.NoError {
		return &wire.DeviceDocmdResp{Error: code}
	}
	return &wire.DeviceDocmdResp{DataOut: out}
}

// CreateIntrChan implements core.Handler. The channel belongs to the core
// connection the call arrived on.
func (s *Server) CreateIntrChan(ctx context.Context, p *wire.DeviceRemoteFunc) *wire.DeviceErrorResp {
	if _, err := interrupt.Network(p.ProgFamily); err != nil {
		return &wire.DeviceErrorResp{Error: wire.OperationNotSupported}
	}
	connID := core.ConnInfo(ctx).ID

	s.mu.Lock()
	if c, ok := s.conns[connID]; ok && c.intr != nil {
		s.mu.Unlock()
		return &wire.DeviceErrorResp{Error: wire.ChannelAlreadyEstablished}
	}
	s.mu.Unlock()

	client, err := interrupt.Dial(ctx, p, interrupt.ClientConfig{
		Timeout: s.config.InterruptTimeout,
		Logger:  s.proto,
	})
	if err != nil {
		s.logger.Debug("create_intr_chan: connect failed", "addr", interrupt.Address(p), "error", err)
		return &wire.DeviceErrorResp{Error: wire.IOError}
	}

	s.mu.Lock()
	c := s.connLocked(connID)
	if c.intr != nil {
		s.mu.Unlock()
		_ = client.Close()
		return &wire.DeviceErrorResp{Error: wire.ChannelAlreadyEstablished}
	}
	c.intr = client
	s.mu.Unlock()

	s.logger.Debug("interrupt channel created", "conn", connID, "addr", interrupt.Address(p))
	return &wire.DeviceErrorResp{}
}

// DestroyIntrChan implements core.Handler.
func (s *Server) DestroyIntrChan(ctx context.Context) *wire.DeviceErrorResp {
	connID := core.ConnInfo(ctx).ID

	s.mu.Lock()
	c, ok := s.conns[connID]
	if !ok || c.intr == nil {
		s.mu.Unlock()
		return &wire.DeviceErrorResp{Error: wire.ChannelNotEstablished}
	}
	client := c.intr
	c.intr = nil
	s.mu.Unlock()

	if err := client.Close(); err != nil {
		s.logger.Debug("destroy_intr_chan", "error", err)
	}
	return &wire.DeviceErrorResp{}
}

// DeviceAbort implements abort.Handler. It cancels the in-flight call of the
// link and returns at once.
func (s *Server) DeviceAbort(_ context.Context, id wire.LinkID) *wire.DeviceErrorResp {
	l, ok := s.link(id)
	if !ok {
		return &wire.DeviceErrorResp{Error: wire.InvalidLinkIdentifier}
	}
	if l.abort() {
		s.logger.Debug("in-flight call aborted", "link", id)
	}
	return &wire.DeviceErrorResp{}
}

var (
	_ core.Handler  = (*Server)(nil)
	_ abort.Handler = (*Server)(nil)
)
