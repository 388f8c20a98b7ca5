package interrupt

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/vxi11-protocol/vxi11-go/pkg/log"
	"github.com/vxi11-protocol/vxi11-go/pkg/rpc"
	"github.com/vxi11-protocol/vxi11-go/pkg/wire"
)

// DefaultSendTimeout bounds connecting and writing one device_intr_srq.
const DefaultSendTimeout = 2 * time.Second

// ClientConfig configures the instrument side of an interrupt channel.
type ClientConfig struct {
	// Timeout bounds each send (default: DefaultSendTimeout).
	Timeout time.Duration

	// Logger for protocol logging (optional).
	Logger log.Logger
}

// Client delivers service requests to a controller's Listener.
type Client struct {
	rpc *rpc.Client
}

// Network returns the network name for a create_intr_chan family, or an
// error for anything other than TCP or UDP.
func Network(family wire.AddrFamily) (string, error) {
	switch family {
	case wire.FamilyTCP:
		return "tcp", nil
	case wire.FamilyUDP:
		return "udp", nil
	}
	return "", fmt.Errorf("interrupt: unsupported address family %d", family)
}

// Address formats the listener address described by rf.
func Address(rf *wire.DeviceRemoteFunc) string {
	ip := make(net.IP, 4)
	binary.BigEndian.PutUint32(ip, rf.HostAddr)
	return net.JoinHostPort(ip.String(), strconv.Itoa(int(rf.HostPort)))
}

// Dial connects to the listener described by rf.
func Dial(ctx context.Context, rf *wire.DeviceRemoteFunc, config ClientConfig) (*Client, error) {
	network, err := Network(rf.ProgFamily)
	if err != nil {
		return nil, err
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultSendTimeout
	}

	dctx, cancel := context.WithTimeout(ctx, config.Timeout)
	defer cancel()

	c, err := rpc.Dial(dctx, Address(rf), rpc.ClientConfig{
		Program:       rf.ProgNum,
		Version:       rf.ProgVers,
		Network:       network,
		Timeout:       config.Timeout,
		Logger:        config.Logger,
		Channel:       log.ChannelInterrupt,
		ProcedureName: wire.InterruptProcedureName,
	})
	if err != nil {
		return nil, err
	}
	return &Client{rpc: c}, nil
}

// SendSrq delivers one service request. It does not wait for a reply.
func (c *Client) SendSrq(ctx context.Context, handle []byte) error {
	return c.rpc.Send(ctx, wire.ProcDeviceIntrSrq, &wire.DeviceSrqParms{Handle: handle})
}

// RemoteAddr returns the listener address.
func (c *Client) RemoteAddr() net.Addr {
	return c.rpc.RemoteAddr()
}

// Close closes the interrupt connection.
func (c *Client) Close() error {
	return c.rpc.Close()
}
