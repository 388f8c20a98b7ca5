package session

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/vxi11-protocol/vxi11-go/pkg/wire"
)

// WriteBlock sends block in one device_write, with END when end is set.
// A block larger than MaxRecvSize fails with ErrPayloadTooLarge before
// anything is sent.
func (s *Session) WriteBlock(ctx context.Context, block []byte, end bool) (int, error) {
	st, err := s.active()
	if err != nil {
		return 0, err
	}
	if len(block) > st.maxRecvSize {
		return 0, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(block), st.maxRecvSize)
	}
	return s.writeBlock(ctx, st, block, end)
}

func (s *Session) writeBlock(ctx context.Context, st linkState, block []byte, end bool) (int, error) {
	flags := st.flags
	if end {
		flags |= wire.FlagEnd
	}
	resp, err := st.core.DeviceWrite(ctx, &wire.DeviceWriteParms{
		Link:        st.link,
		IOTimeout:   st.ioTimeout,
		LockTimeout: st.lockTimeout,
		Flags:       flags,
		Data:        block,
	})
	if err != nil {
		return 0, fmt.Errorf("session: device_write: %w", err)
	}
	n := min(int(resp.Size), len(block))
	if err := resp.Error.Err("device_write"); err != nil {
		return n, err
	}
	if n < len(block) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

// Write sends data as one message in blocks of at most MaxRecvSize bytes.
// With EOI the last block carries END. Writing stops at the first block
// that fails or is accepted only in part; the count covers the bytes the
// instrument accepted.
func (s *Session) Write(ctx context.Context, data []byte) (int, error) {
	st, err := s.active()
	if err != nil {
		return 0, err
	}

	total := 0
	for {
		n := min(len(data)-total, st.maxRecvSize)
		last := total+n == len(data)
		sent, err := s.writeBlock(ctx, st, data[total:total+n], last && s.config.EOI)
		total += sent
		if err != nil {
			return total, err
		}
		if last {
			return total, nil
		}
	}
}

// WriteString writes msg with WriteTermination appended unless present.
func (s *Session) WriteString(ctx context.Context, msg string) (int, error) {
	return s.Write(ctx, []byte(s.terminate(msg)))
}

// Read collects one response. It repeats device_read until the instrument
// reports END or the termination character, or until requestSize bytes
// arrived when requestSize is positive. On failure the bytes received so
// far are returned with the error.
func (s *Session) Read(ctx context.Context, requestSize int) ([]byte, error) {
	st, err := s.active()
	if err != nil {
		return nil, err
	}

	flags := st.flags
	var termChar byte
	if t := s.config.ReadTermination; t != "" {
		flags |= wire.FlagTermCharSet
		termChar = t[len(t)-1]
	}

	var buf []byte
	for {
		size := st.maxRecvSize
		if requestSize > 0 {
			size = requestSize - len(buf)
		}
		resp, err := st.core.DeviceRead(ctx, &wire.DeviceReadParms{
			Link:        st.link,
			RequestSize: uint32(size),
			IOTimeout:   st.ioTimeout,
			LockTimeout: st.lockTimeout,
			Flags:       flags,
			TermChar:    termChar,
		})
		if err != nil {
			return buf, fmt.Errorf("session: device_read: %w", err)
		}
		data := resp.Data
		if len(data) > size {
			data = data[:size]
		}
		buf = append(buf, data...)

		if err := resp.Error.Err("device_read"); err != nil {
			return buf, err
		}
		if resp.Reason.EndOfMessage() {
			return buf, nil
		}
		// A partial read always carries data; an empty one would repeat
		// forever.
		if len(data) == 0 {
			return buf, wire.IOError.Err("device_read")
		}
		if requestSize > 0 && len(buf) >= requestSize {
			return buf, nil
		}
	}
}

// ReadString reads one response as a string.
func (s *Session) ReadString(ctx context.Context) (string, error) {
	b, err := s.Read(ctx, 0)
	return string(b), err
}

// Query writes msg and, when it is a query, waits QueryDelay and reads the
// response. Commands return an empty response.
func (s *Session) Query(ctx context.Context, msg string) (string, error) {
	msg = s.terminate(msg)
	if _, err := s.Write(ctx, []byte(msg)); err != nil {
		return "", err
	}
	if !s.IsWriteTerminatedQuery(msg) {
		return "", nil
	}
	if d := s.config.QueryDelay; d > 0 {
		select {
		case <-s.clock.After(d):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return s.ReadString(ctx)
}

// WriteTermination returns the string appended to written messages.
func (s *Session) WriteTermination() string {
	return s.config.WriteTermination
}

// QueryTermination is how a query ends once terminated: "?" followed by
// WriteTermination.
func (s *Session) QueryTermination() string {
	return "?" + s.config.WriteTermination
}

// IsWriteTerminatedQuery reports whether msg ends with QueryTermination.
func (s *Session) IsWriteTerminatedQuery(msg string) bool {
	return strings.HasSuffix(msg, s.QueryTermination())
}

func (s *Session) terminate(msg string) string {
	if t := s.config.WriteTermination; t != "" && !strings.HasSuffix(msg, t) {
		return msg + t
	}
	return msg
}
