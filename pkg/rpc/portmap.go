package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"

	"github.com/vxi11-protocol/vxi11-go/pkg/xdr"
)

// Portmapper program (RFC 1833, version 2).
const (
	PortmapProgram uint32 = 100000
	PortmapVersion uint32 = 2
	PortmapPort           = 111
)

// Portmapper procedures.
const (
	PortmapProcNull    uint32 = 0
	PortmapProcSet     uint32 = 1
	PortmapProcUnset   uint32 = 2
	PortmapProcGetPort uint32 = 3
	PortmapProcDump    uint32 = 4
)

// ErrProgramNotRegistered indicates GETPORT returned port 0.
var ErrProgramNotRegistered = errors.New("program not registered with portmapper")

// Mapping associates a program, version and protocol with a port.
type Mapping struct {
	Program  uint32
	Version  uint32
	Protocol uint32
	Port     uint32
}

// MarshalXDR implements xdr.Marshaler.
func (m *Mapping) MarshalXDR(e *xdr.Encoder) {
	e.Uint32(m.Program)
	e.Uint32(m.Version)
	e.Uint32(m.Protocol)
	e.Uint32(m.Port)
}

// UnmarshalXDR implements xdr.Unmarshaler.
func (m *Mapping) UnmarshalXDR(d *xdr.Decoder) error {
	for _, p := range []*uint32{&m.Program, &m.Version, &m.Protocol, &m.Port} {
		v, err := d.Uint32()
		if err != nil {
			return err
		}
		*p = v
	}
	return nil
}

type mappingKey struct {
	program, version, protocol uint32
}

func (m *Mapping) key() mappingKey {
	return mappingKey{m.Program, m.Version, m.Protocol}
}

// uint32Value is a single unsigned result.
type uint32Value uint32

func (v uint32Value) MarshalXDR(e *xdr.Encoder) { e.Uint32(uint32(v)) }

func (v *uint32Value) UnmarshalXDR(d *xdr.Decoder) error {
	u, err := d.Uint32()
	*v = uint32Value(u)
	return err
}

// boolValue is a single boolean result.
type boolValue bool

func (v boolValue) MarshalXDR(e *xdr.Encoder) { e.Bool(bool(v)) }

func (v *boolValue) UnmarshalXDR(d *xdr.Decoder) error {
	b, err := d.Bool()
	*v = boolValue(b)
	return err
}

// mappingList is the optional-data list returned by DUMP.
type mappingList []Mapping

func (l mappingList) MarshalXDR(e *xdr.Encoder) {
	for i := range l {
		e.Bool(true)
		l[i].MarshalXDR(e)
	}
	e.Bool(false)
}

func (l *mappingList) UnmarshalXDR(d *xdr.Decoder) error {
	for {
		more, err := d.Bool()
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
		var m Mapping
		if err := m.UnmarshalXDR(d); err != nil {
			return err
		}
		*l = append(*l, m)
	}
}

// PortmapName returns the procedure name for log events.
func PortmapName(procedure uint32) string {
	switch procedure {
	case PortmapProcNull:
		return "pmapproc_null"
	case PortmapProcSet:
		return "pmapproc_set"
	case PortmapProcUnset:
		return "pmapproc_unset"
	case PortmapProcGetPort:
		return "pmapproc_getport"
	case PortmapProcDump:
		return "pmapproc_dump"
	}
	return ""
}

// PortmapClient talks to a remote portmapper.
type PortmapClient struct {
	c *Client
}

// DialPortmapper connects to the portmapper on host, at port 111 unless host
// carries a port. config supplies the network, timeout and logger; program
// and version are filled in.
func DialPortmapper(ctx context.Context, host string, config ClientConfig) (*PortmapClient, error) {
	config.Program = PortmapProgram
	config.Version = PortmapVersion
	if config.ProcedureName == nil {
		config.ProcedureName = PortmapName
	}
	c, err := Dial(ctx, portmapAddress(host), config)
	if err != nil {
		return nil, err
	}
	return &PortmapClient{c: c}, nil
}

func portmapAddress(host string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, strconv.Itoa(PortmapPort))
}

// NewPortmapClient wraps a client already connected to a portmapper.
func NewPortmapClient(c *Client) *PortmapClient {
	return &PortmapClient{c: c}
}

// GetPort returns the port a program is registered on.
func (p *PortmapClient) GetPort(ctx context.Context, program, version, protocol uint32) (int, error) {
	var port uint32Value
	args := &Mapping{Program: program, Version: version, Protocol: protocol}
	if err := p.c.Call(ctx, PortmapProcGetPort, args, &port); err != nil {
		return 0, err
	}
	if port == 0 {
		return 0, fmt.Errorf("%w: program %#x version %d", ErrProgramNotRegistered, program, version)
	}
	return int(port), nil
}

// Set registers a mapping. It reports false if the mapping already exists.
func (p *PortmapClient) Set(ctx context.Context, m Mapping) (bool, error) {
	var ok boolValue
	err := p.c.Call(ctx, PortmapProcSet, &m, &ok)
	return bool(ok), err
}

// Unset removes all protocols of a program version.
func (p *PortmapClient) Unset(ctx context.Context, program, version uint32) (bool, error) {
	var ok boolValue
	err := p.c.Call(ctx, PortmapProcUnset, &Mapping{Program: program, Version: version}, &ok)
	return bool(ok), err
}

// Dump lists all registered mappings.
func (p *PortmapClient) Dump(ctx context.Context) ([]Mapping, error) {
	var l mappingList
	if err := p.c.Call(ctx, PortmapProcDump, nil, &l); err != nil {
		return nil, err
	}
	return l, nil
}

// Ping calls the NULL procedure.
func (p *PortmapClient) Ping(ctx context.Context) error {
	return p.c.Call(ctx, PortmapProcNull, nil, nil)
}

// Close closes the connection.
func (p *PortmapClient) Close() error {
	return p.c.Close()
}

// Portmapper is an in-process portmapper service. Instruments that own port
// 111 serve it so controllers can discover the core channel port.
type Portmapper struct {
	mu       sync.RWMutex
	mappings map[mappingKey]Mapping
}

// NewPortmapper creates an empty portmapper.
func NewPortmapper() *Portmapper {
	return &Portmapper{mappings: make(map[mappingKey]Mapping)}
}

// Register adds a mapping. It reports false if one already exists.
func (p *Portmapper) Register(m Mapping) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.mappings[m.key()]; ok {
		return false
	}
	p.mappings[m.key()] = m
	return true
}

// Unregister removes every protocol registered for program and version.
func (p *Portmapper) Unregister(program, version uint32) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	removed := false
	for k := range p.mappings {
		if k.program == program && k.version == version {
			delete(p.mappings, k)
			removed = true
		}
	}
	return removed
}

// Lookup returns the registered port, or 0.
func (p *Portmapper) Lookup(program, version, protocol uint32) uint32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.mappings[mappingKey{program, version, protocol}].Port
}

// Mappings returns all registrations ordered by program, version, protocol.
func (p *Portmapper) Mappings() []Mapping {
	p.mu.RLock()
	out := make([]Mapping, 0, len(p.mappings))
	for _, m := range p.mappings {
		out = append(out, m)
	}
	p.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Program != b.Program {
			return a.Program < b.Program
		}
		if a.Version != b.Version {
			return a.Version < b.Version
		}
		return a.Protocol < b.Protocol
	})
	return out
}

// Dispatch implements Dispatcher.
func (p *Portmapper) Dispatch(call *Call, program, version, procedure uint32) {
	if program != PortmapProgram {
		_ = call.ReplyProgramNotAvailable()
		return
	}
	if version != PortmapVersion {
		_ = call.ReplyProgramMismatch(PortmapVersion, PortmapVersion)
		return
	}

	switch procedure {
	case PortmapProcNull:
		_ = call.Reply(nil)
	case PortmapProcSet:
		var m Mapping
		if call.RetrieveCall(&m) != nil {
			return
		}
		_ = call.Reply(boolValue(p.Register(m)))
	case PortmapProcUnset:
		var m Mapping
		if call.RetrieveCall(&m) != nil {
			return
		}
		_ = call.Reply(boolValue(p.Unregister(m.Program, m.Version)))
	case PortmapProcGetPort:
		var m Mapping
		if call.RetrieveCall(&m) != nil {
			return
		}
		_ = call.Reply(uint32Value(p.Lookup(m.Program, m.Version, m.Protocol)))
	case PortmapProcDump:
		_ = call.Reply(mappingList(p.Mappings()))
	default:
		_ = call.ReplyProcedureNotAvailable()
	}
}

var _ Dispatcher = (*Portmapper)(nil)
