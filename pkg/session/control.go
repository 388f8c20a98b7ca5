package session

import (
	"context"
	"fmt"

	"github.com/vxi11-protocol/vxi11-go/pkg/wire"
)

type genericCall func(c CoreClient, ctx context.Context, p *wire.DeviceGenericParms) (*wire.DeviceErrorResp, error)

func (s *Session) generic(ctx context.Context, op string, call genericCall) error {
	st, err := s.active()
	if err != nil {
		return err
	}
	resp, err := call(st.core, ctx, st.genericParms())
	if err != nil {
		return fmt.Errorf("session: %s: %w", op, err)
	}
	return resp.Error.Err(op)
}

func (st linkState) genericParms() *wire.DeviceGenericParms {
	return &wire.DeviceGenericParms{
		Link:        st.link,
		Flags:       st.flags,
		LockTimeout: st.lockTimeout,
		IOTimeout:   st.ioTimeout,
	}
}

// ReadStatusByte returns the instrument status byte.
func (s *Session) ReadStatusByte(ctx context.Context) (byte, error) {
	st, err := s.active()
	if err != nil {
		return 0, err
	}
	resp, err := st.core.DeviceReadStb(ctx, st.genericParms())
	if err != nil {
		return 0, fmt.Errorf("session: device_readstb: %w", err)
	}
	if err := resp.Error.Err("device_readstb"); err != nil {
		return 0, err
	}
	return resp.Stb, nil
}

// Trigger sends a group execute trigger.
func (s *Session) Trigger(ctx context.Context) error {
	return s.generic(ctx, "device_trigger", CoreClient.DeviceTrigger)
}

// Clear sends a device clear.
func (s *Session) Clear(ctx context.Context) error {
	return s.generic(ctx, "device_clear", CoreClient.DeviceClear)
}

// Remote places the instrument in remote mode.
func (s *Session) Remote(ctx context.Context) error {
	return s.generic(ctx, "device_remote", CoreClient.DeviceRemote)
}

// Local returns the instrument to local mode.
func (s *Session) Local(ctx context.Context) error {
	return s.generic(ctx, "device_local", CoreClient.DeviceLocal)
}

// Lock acquires the device lock for this link.
func (s *Session) Lock(ctx context.Context) error {
	st, err := s.active()
	if err != nil {
		return err
	}
	resp, err := st.core.DeviceLock(ctx, &wire.DeviceLockParms{
		Link:        st.link,
		Flags:       st.flags,
		LockTimeout: st.lockTimeout,
	})
	if err != nil {
		return fmt.Errorf("session: device_lock: %w", err)
	}
	return resp.Error.Err("device_lock")
}

// Unlock releases the device lock.
func (s *Session) Unlock(ctx context.Context) error {
	st, err := s.active()
	if err != nil {
		return err
	}
	resp, err := st.core.DeviceUnlock(ctx, st.link)
	if err != nil {
		return fmt.Errorf("session: device_unlock: %w", err)
	}
	return resp.Error.Err("device_unlock")
}

// DoCmd runs a device specific command and returns its output.
func (s *Session) DoCmd(ctx context.Context, cmd int32, networkOrder bool, dataSize int32, in []byte) ([]byte, error) {
	st, err := s.active()
	if err != nil {
		return nil, err
	}
	resp, err := st.core.DeviceDoCmd(ctx, &wire.DeviceDocmdParms{
		Link:         st.link,
		Flags:        st.flags,
		IOTimeout:    st.ioTimeout,
		LockTimeout:  st.lockTimeout,
		Cmd:          cmd,
		NetworkOrder: networkOrder,
		DataSize:     dataSize,
		DataIn:       in,
	})
	if err != nil {
		return nil, fmt.Errorf("session: device_docmd: %w", err)
	}
	if err := resp.Error.Err("device_docmd"); err != nil {
		return nil, err
	}
	return resp.DataOut, nil
}

// Abort cancels the call in progress on this link. It may run while
// another goroutine is blocked in Read or Write, which then fails with
// wire.Abort. The abort channel is opened on first use.
func (s *Session) Abort(ctx context.Context) error {
	a, link, err := s.abortChannel(ctx)
	if err != nil {
		return err
	}
	resp, err := a.Abort(ctx, link)
	if err != nil {
		return fmt.Errorf("session: device_abort: %w", err)
	}
	return resp.Error.Err("device_abort")
}

func (s *Session) abortChannel(ctx context.Context) (AbortClient, wire.LinkID, error) {
	s.mu.Lock()
	if err := s.linkedLocked(); err != nil {
		s.mu.Unlock()
		return nil, 0, err
	}
	if s.abort != nil {
		defer s.mu.Unlock()
		return s.abort, s.link, nil
	}
	core, link := s.core, s.link
	addr := hostPort(s.host, int(s.abortPort))
	timeout := s.transmitTimeout
	s.mu.Unlock()

	// Dial without s.mu so accessors and a concurrent Close are not held up.
	a, err := s.dialer.DialAbort(ctx, addr, timeout)
	if err != nil {
		return nil, 0, fmt.Errorf("session: abort channel %s: %w", addr, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.linkedLocked(); err != nil || s.core != core || s.link != link {
		_ = a.Close()
		if err == nil {
			err = ErrNotConnected
		}
		return nil, 0, err
	}
	if s.abort != nil {
		_ = a.Close()
	} else {
		if s.transmitTimeout != timeout {
			a.SetTimeout(s.transmitTimeout)
		}
		s.abort = a
	}
	return s.abort, s.link, nil
}

// linkedLocked reports why the session has no link. s.mu must be held.
func (s *Session) linkedLocked() error {
	if s.core != nil && s.linked {
		return nil
	}
	if s.closed {
		return ErrSessionClosed
	}
	return ErrNotConnected
}
