package device

import (
	"context"
	"sync"

	"github.com/juju/clock"
	"github.com/vxi11-protocol/vxi11-go/pkg/wire"
)

// link is one open link.
type link struct {
	id       wire.LinkID
	clientID int32
	connID   string
	dev      *device

	mu         sync.Mutex
	cancel     context.CancelCauseFunc
	inbuf      []byte
	srqEnabled bool
	srqHandle  []byte
}

// begin starts an in-flight call. The returned context is cancelled with
// errIOTimeout after ioTimeout milliseconds and with errAborted by abort.
// finish must be called when the call returns.
func (l *link) begin(parent context.Context, clk clock.Clock, ioTimeout uint32) (ctx context.Context, finish func()) {
	ctx, cancel := context.WithCancelCause(parent)
	timer := clk.AfterFunc(wire.Duration(ioTimeout), func() { cancel(errIOTimeout) })

	l.mu.Lock()
	l.cancel = cancel
	l.mu.Unlock()

	return ctx, func() {
		timer.Stop()
		l.mu.Lock()
		l.cancel = nil
		l.mu.Unlock()
		cancel(nil)
	}
}

// beginUntimed is begin without an io timeout, for calls bounded only by
// lock_timeout.
func (l *link) beginUntimed(parent context.Context) (ctx context.Context, finish func()) {
	ctx, cancel := context.WithCancelCause(parent)
	l.mu.Lock()
	l.cancel = cancel
	l.mu.Unlock()
	return ctx, func() {
		l.mu.Lock()
		l.cancel = nil
		l.mu.Unlock()
		cancel(nil)
	}
}

// abort cancels the in-flight call, if any. It reports whether one was
// cancelled.
func (l *link) abort() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel == nil {
		return false
	}
	l.cancel(errAborted)
	return true
}

// append buffers written data and returns the message once end is set.
func (l *link) append(data []byte, end bool) []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inbuf = append(l.inbuf, data...)
	if !end {
		return nil
	}
	msg := l.inbuf
	l.inbuf = nil
	return msg
}

func (l *link) clearInput() {
	l.mu.Lock()
	l.inbuf = nil
	l.mu.Unlock()
}

func (l *link) setSrq(enable bool, handle []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.srqEnabled = enable
	if enable {
		l.srqHandle = append([]byte(nil), handle...)
	} else {
		l.srqHandle = nil
	}
}

// srq returns the registered handle when service requests are enabled.
func (l *link) srq() ([]byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.srqHandle, l.srqEnabled
}
