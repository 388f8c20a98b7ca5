package device

import (
	"context"

	"github.com/vxi11-protocol/vxi11-go/pkg/interrupt"
)

type srqTarget struct {
	client *interrupt.Client
	handle []byte
	linkID int32
}

// requestService sets RQS on d and sends device_intr_srq on the interrupt
// channel of every link to d that enabled service requests.
func (s *Server) requestService(d *device) {
	d.requestService()

	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return
	}
	var targets []srqTarget
	for _, l := range s.links {
		if l.dev != d {
			continue
		}
		handle, enabled := l.srq()
		if !enabled {
			continue
		}
		c, ok := s.conns[l.connID]
		if !ok || c.intr == nil {
			continue
		}
		targets = append(targets, srqTarget{client: c.intr, handle: handle, linkID: int32(l.id)})
	}
	s.wg.Add(len(targets))
	s.mu.Unlock()

	for _, t := range targets {
		go func() {
			defer s.wg.Done()
			ctx, cancel := context.WithTimeout(s.ctx, s.config.InterruptTimeout)
			defer cancel()

			err := t.client.SendSrq(ctx, t.handle)
			if s.config.Metrics != nil {
				s.config.Metrics.ServiceRequest(err)
			}
			if err != nil {
				s.logger.Debug("device_intr_srq failed", "link", t.linkID, "error", err)
			}
		}()
	}
}

// RequestService raises a service request on the named device, as if its
// instrument had asked for one.
func (s *Server) RequestService(name string) bool {
	s.mu.Lock()
	d, ok := s.devices[name]
	s.mu.Unlock()
	if !ok {
		return false
	}
	s.requestService(d)
	return true
}
