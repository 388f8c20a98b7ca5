package session

import (
	"context"
	"fmt"
	"net"

	"github.com/vxi11-protocol/vxi11-go/pkg/interrupt"
	"github.com/vxi11-protocol/vxi11-go/pkg/wire"
	"go.uber.org/multierr"
)

// EnableSrq makes the instrument report service requests to handler. It
// starts the interrupt listener unless it runs already, asks the
// instrument to open the interrupt channel to it, then enables service
// requests with a handle made of the client id and tag. handler runs on a
// listener goroutine and only sees requests carrying this session's
// client id. Calling EnableSrq again replaces handler and tag.
func (s *Session) EnableSrq(ctx context.Context, tag []byte, handler func(interrupt.Event)) error {
	st, err := s.active()
	if err != nil {
		return err
	}
	handle, err := interrupt.EncodeHandle(s.clientID, tag)
	if err != nil {
		return err
	}

	l, err := s.startListener(ctx, handler)
	if err != nil {
		return err
	}

	s.mu.Lock()
	established := s.intrChan
	s.mu.Unlock()

	if !established {
		rf, err := l.RemoteFunc(localIP(st.core.LocalAddr()))
		if err != nil {
			return err
		}
		resp, err := st.core.CreateIntrChan(ctx, rf)
		if err != nil {
			return fmt.Errorf("session: create_intr_chan: %w", err)
		}
		if err := resp.Error.Err("create_intr_chan"); err != nil {
			return err
		}
		s.mu.Lock()
		s.intrChan = true
		s.mu.Unlock()
	}

	resp, err := st.core.DeviceEnableSrq(ctx, &wire.DeviceEnableSrqParms{
		Link:   st.link,
		Enable: true,
		Handle: handle,
	})
	if err != nil {
		return fmt.Errorf("session: device_enable_srq: %w", err)
	}
	return resp.Error.Err("device_enable_srq")
}

// DisableSrq disables service requests, destroys the interrupt channel and
// stops the session's own listener, waiting at most SrqStopTimeout. The
// listener is released even when a step fails; all failures are returned
// together.
func (s *Session) DisableSrq(ctx context.Context) error {
	var err error

	s.mu.Lock()
	established := s.intrChan
	l, owns, unsub := s.listener, s.ownsListener, s.unsubscribe
	s.listener, s.ownsListener, s.unsubscribe, s.intrChan = nil, false, nil, false
	s.mu.Unlock()

	if st, aerr := s.active(); aerr == nil {
		resp, cerr := st.core.DeviceEnableSrq(ctx, &wire.DeviceEnableSrqParms{Link: st.link})
		if cerr != nil {
			err = multierr.Append(err, fmt.Errorf("session: device_enable_srq: %w", cerr))
		} else {
			err = multierr.Append(err, resp.Error.Err("device_enable_srq"))
		}
		if established {
			resp, cerr := st.core.DestroyIntrChan(ctx)
			if cerr != nil {
				err = multierr.Append(err, fmt.Errorf("session: destroy_intr_chan: %w", cerr))
			} else {
				err = multierr.Append(err, resp.Error.Err("destroy_intr_chan"))
			}
		}
	}

	return multierr.Append(err, s.stopListener(l, owns, unsub))
}

// Listener returns the interrupt listener in use, or nil while service
// requests are disabled.
func (s *Session) Listener() *interrupt.Listener {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener
}

func (s *Session) startListener(ctx context.Context, handler func(interrupt.Event)) (*interrupt.Listener, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, owns := s.listener, s.ownsListener
	if l == nil {
		l, owns = s.config.Listener, false
		if l == nil {
			l = interrupt.NewListener(interrupt.ListenerConfig{
				Address:        s.config.ListenerAddress,
				Network:        s.config.ListenerNetwork,
				Clock:          s.clock,
				Logger:         s.logger,
				ProtocolLogger: s.config.ProtocolLogger,
			})
			owns = true
		}
		// The listener outlives the call that starts it.
		if err := l.Start(context.WithoutCancel(ctx), s.reportError); err != nil {
			return nil, err
		}
		s.listener, s.ownsListener = l, owns
	}

	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.unsubscribe = l.Subscribe(s.clientID, handler)
	return l, nil
}

func (s *Session) stopListener(l *interrupt.Listener, owns bool, unsub func()) error {
	if unsub != nil {
		unsub()
	}
	if l == nil || !owns {
		return nil
	}
	if err := l.Stop(s.config.SrqStopTimeout); err != nil {
		return fmt.Errorf("session: stop interrupt listener: %w", err)
	}
	return nil
}

func (s *Session) reportError(err error) {
	s.logger.Warn("interrupt listener failed", "client_id", s.clientID, "error", err)
	if s.config.OnError != nil {
		s.config.OnError(err)
	}
}

// localIP is the address the instrument reaches the controller on: the
// local end of the core connection.
func localIP(addr net.Addr) net.IP {
	if a, ok := addr.(*net.TCPAddr); ok && a.IP.To4() != nil {
		return a.IP
	}
	return net.IPv4(127, 0, 0, 1)
}
