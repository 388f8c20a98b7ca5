package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/vxi11-protocol/vxi11-go/pkg/log"
)

// maxDatagramSize is the largest UDP message accepted.
const maxDatagramSize = 65507

// ErrUnsupportedNetwork indicates a network other than tcp or udp.
var ErrUnsupportedNetwork = errors.New("unsupported network")

// messageConn moves whole RPC messages over a connected transport.
type messageConn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	SetWriteDeadline(t time.Time) error
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
	Close() error
}

// streamConn carries messages as records on a TCP connection.
type streamConn struct {
	net.Conn
	framer *Framer
}

func newStreamConn(conn net.Conn, maxRecordSize int, logger log.Logger, connID string) *streamConn {
	framer := NewFramer(conn)
	if maxRecordSize > 0 {
		framer.SetMaxRecordSize(maxRecordSize)
	}
	if logger != nil {
		framer.SetLogger(logger, connID)
	}
	return &streamConn{Conn: conn, framer: framer}
}

func (c *streamConn) ReadMessage() ([]byte, error) {
	return c.framer.ReadRecord()
}

func (c *streamConn) WriteMessage(data []byte) error {
	return c.framer.WriteRecord(data)
}

// packetConn carries one message per datagram on a connected UDP socket.
type packetConn struct {
	net.Conn
	buf []byte
}

func newPacketConn(conn net.Conn) *packetConn {
	return &packetConn{Conn: conn, buf: make([]byte, maxDatagramSize)}
}

func (c *packetConn) ReadMessage() ([]byte, error) {
	n, err := c.Conn.Read(c.buf)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, c.buf[:n])
	return out, nil
}

func (c *packetConn) WriteMessage(data []byte) error {
	if len(data) > maxDatagramSize {
		return fmt.Errorf("%w: %d > %d", ErrRecordTooLarge, len(data), maxDatagramSize)
	}
	_, err := c.Conn.Write(data)
	return err
}

// dialMessageConn connects to address over tcp or udp.
func dialMessageConn(ctx context.Context, network, address string, maxRecordSize int, logger log.Logger, connID string) (messageConn, error) {
	dialer := &net.Dialer{}
	switch network {
	case "", "tcp", "tcp4", "tcp6":
		if network == "" {
			network = "tcp"
		}
		conn, err := dialer.DialContext(ctx, network, address)
		if err != nil {
			return nil, fmt.Errorf("dial failed: %w", err)
		}
		return newStreamConn(conn, maxRecordSize, logger, connID), nil
	case "udp", "udp4", "udp6":
		conn, err := dialer.DialContext(ctx, network, address)
		if err != nil {
			return nil, fmt.Errorf("dial failed: %w", err)
		}
		return newPacketConn(conn), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedNetwork, network)
	}
}
