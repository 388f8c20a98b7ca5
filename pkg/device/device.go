package device

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"github.com/juju/clock"
	"github.com/vxi11-protocol/vxi11-go/pkg/wire"
)

// Cancellation causes of an in-flight call.
var (
	errAborted   = errors.New("aborted")
	errIOTimeout = errors.New("io timeout")
)

// codeFor maps the cancellation cause of ctx to a device error code.
func codeFor(ctx context.Context) wire.ErrorCode {
	switch context.Cause(ctx) {
	case errAborted:
		return wire.Abort
	case errIOTimeout:
		return wire.IOTimeout
	}
	return wire.IOError
}

// device is one named device: its instrument, lock, output queue and
// service request state.
type device struct {
	name  string
	inst  Instrument
	clock clock.Clock

	mu          sync.Mutex
	lockOwner   wire.LinkID
	lockFreed   chan struct{}
	output      [][]byte
	outputReady chan struct{}
	srqPending  bool
}

func newDevice(name string, inst Instrument, clk clock.Clock) *device {
	return &device{
		name:        name,
		inst:        inst,
		clock:       clk,
		lockFreed:   make(chan struct{}),
		outputReady: make(chan struct{}),
	}
}

// lock acquires the device lock for link. With FlagWaitLock it waits up to
// lockTimeout milliseconds for another link to release it.
func (d *device) lock(ctx context.Context, link wire.LinkID, flags wire.Flags, lockTimeout uint32) wire.ErrorCode {
	return d.waitLock(ctx, link, flags, lockTimeout, true)
}

// checkLock waits, like lock, until no other link holds the lock, without
// taking it.
func (d *device) checkLock(ctx context.Context, link wire.LinkID, flags wire.Flags, lockTimeout uint32) wire.ErrorCode {
	return d.waitLock(ctx, link, flags, lockTimeout, false)
}

func (d *device) waitLock(ctx context.Context, link wire.LinkID, flags wire.Flags, lockTimeout uint32, take bool) wire.ErrorCode {
	var timer clock.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		d.mu.Lock()
		if d.lockOwner == 0 || d.lockOwner == link {
			if take {
				d.lockOwner = link
			}
			d.mu.Unlock()
			return wire.NoError
		}
		freed := d.lockFreed
		d.mu.Unlock()

		if !flags.Has(wire.FlagWaitLock) {
			return wire.DeviceLockedByAnotherLink
		}
		if timer == nil {
			timer = d.clock.NewTimer(wire.Duration(lockTimeout))
		}
		select {
		case <-freed:
		case <-timer.Chan():
			return wire.DeviceLockedByAnotherLink
		case <-ctx.Done():
			return codeFor(ctx)
		}
	}
}

// unlock releases the lock held by link.
func (d *device) unlock(link wire.LinkID) wire.ErrorCode {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lockOwner != link {
		return wire.NoLockHeldByThisLink
	}
	d.releaseLocked()
	return wire.NoError
}

// releaseLocked frees the lock and wakes waiters. d.mu must be held.
func (d *device) releaseLocked() {
	d.lockOwner = 0
	close(d.lockFreed)
	d.lockFreed = make(chan struct{})
}

// dropLink releases anything link holds on the device.
func (d *device) dropLink(link wire.LinkID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lockOwner == link {
		d.releaseLocked()
	}
}

func (d *device) lockedBy() wire.LinkID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lockOwner
}

// enqueue adds one response message.
func (d *device) enqueue(msg []byte) {
	if len(msg) == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.output = append(d.output, bytes.Clone(msg))
	close(d.outputReady)
	d.outputReady = make(chan struct{})
}

// read returns queued output. It waits until output is available or ctx is
// done. The reason bits follow device_read: END when the message was
// consumed, CHR when termChar ended the data, REQCNT when requestSize bytes
// were returned, and none when only chunk bytes could be returned.
func (d *device) read(ctx context.Context, requestSize uint32, chunk int, termChar byte, useTerm bool) ([]byte, wire.Reason, wire.ErrorCode) {
	if requestSize == 0 {
		return nil, wire.ReasonRequestCount, wire.NoError
	}
	for {
		d.mu.Lock()
		if len(d.output) > 0 {
			data, reason := d.takeLocked(int(min(requestSize, 1<<30)), chunk, termChar, useTerm)
			d.mu.Unlock()
			return data, reason, wire.NoError
		}
		ready := d.outputReady
		d.mu.Unlock()

		select {
		case <-ready:
		case <-ctx.Done():
			return nil, 0, codeFor(ctx)
		}
	}
}

func (d *device) takeLocked(requestSize, chunk int, termChar byte, useTerm bool) ([]byte, wire.Reason) {
	head := d.output[0]
	n := min(len(head), requestSize)
	if chunk > 0 {
		n = min(n, chunk)
	}

	var reason wire.Reason
	if useTerm {
		if i := bytes.IndexByte(head[:n], termChar); i >= 0 {
			n = i + 1
			reason |= wire.ReasonChr
		}
	}
	if n == requestSize {
		reason |= wire.ReasonRequestCount
	}

	data := bytes.Clone(head[:n])
	if n == len(head) {
		reason |= wire.ReasonEnd
		d.output = d.output[1:]
	} else {
		d.output[0] = head[n:]
	}
	return data, reason
}

// status returns the instrument status byte with MAV and RQS. Reading it
// clears RQS.
func (d *device) status() byte {
	stb := d.inst.Status() &^ (StatusMAV | StatusRQS)
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.output) > 0 {
		stb |= StatusMAV
	}
	if d.srqPending {
		stb |= StatusRQS
		d.srqPending = false
	}
	return stb
}

// requestService marks a pending service request.
func (d *device) requestService() {
	d.mu.Lock()
	d.srqPending = true
	d.mu.Unlock()
}

// clear drops queued output and pending service requests.
func (d *device) clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.output = nil
	d.srqPending = false
}
