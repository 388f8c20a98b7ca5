package wire

import (
	"time"

	"github.com/vxi11-protocol/vxi11-go/pkg/xdr"
)

// MaxSrqHandle is the maximum length of a service request handle.
const MaxSrqHandle = 40

// MinMaxRecvSize is the smallest maxRecvSize an instrument may advertise.
const MinMaxRecvSize = 1024

// AddrFamily selects the interrupt channel transport.
type AddrFamily int32

const (
	// FamilyTCP requests a TCP interrupt channel.
	FamilyTCP AddrFamily = 0
	// FamilyUDP requests a UDP interrupt channel.
	FamilyUDP AddrFamily = 1
)

// String returns the family name.
func (f AddrFamily) String() string {
	switch f {
	case FamilyTCP:
		return "TCP"
	case FamilyUDP:
		return "UDP"
	}
	return "UNKNOWN"
}

// LinkID identifies a device link.
type LinkID int32

// Millis converts a duration to the millisecond timeouts used on the wire,
// saturating at the largest representable value.
func Millis(d time.Duration) uint32 {
	if d <= 0 {
		return 0
	}
	ms := d.Milliseconds()
	if ms > int64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(ms)
}

// Duration converts a wire timeout in milliseconds to a duration.
func Duration(ms uint32) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// decodeAll runs the decode steps in order, stopping at the first error.
func decodeAll(steps ...func() error) error {
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

func i32(d *xdr.Decoder, p *int32) func() error {
	return func() (err error) { *p, err = d.Int32(); return }
}

func u32(d *xdr.Decoder, p *uint32) func() error {
	return func() (err error) { *p, err = d.Uint32(); return }
}

func boolean(d *xdr.Decoder, p *bool) func() error {
	return func() (err error) { *p, err = d.Bool(); return }
}

func opaque(d *xdr.Decoder, p *[]byte, max int) func() error {
	return func() (err error) { *p, err = d.Opaque(max); return }
}

func link(d *xdr.Decoder, p *LinkID) func() error {
	return func() error {
		v, err := d.Int32()
		*p = LinkID(v)
		return err
	}
}

func code(d *xdr.Decoder, p *ErrorCode) func() error {
	return func() error {
		v, err := d.Int32()
		*p = ErrorCode(v)
		return err
	}
}

func flags(d *xdr.Decoder, p *Flags) func() error {
	return func() error {
		v, err := d.Int32()
		*p = Flags(v)
		return err
	}
}

// CreateLinkParms are the arguments of create_link.
type CreateLinkParms struct {
	ClientID    int32
	LockDevice  bool
	LockTimeout uint32
	Device      string
}

func (p *CreateLinkParms) MarshalXDR(e *xdr.Encoder) {
	e.Int32(p.ClientID)
	e.Bool(p.LockDevice)
	e.Uint32(p.LockTimeout)
	e.String(p.Device)
}

func (p *CreateLinkParms) UnmarshalXDR(d *xdr.Decoder) error {
	return decodeAll(
		i32(d, &p.ClientID),
		boolean(d, &p.LockDevice),
		u32(d, &p.LockTimeout),
		func() (err error) { p.Device, err = d.String(0); return },
	)
}

// CreateLinkResp is the result of create_link.
type CreateLinkResp struct {
	Error       ErrorCode
	Link        LinkID
	AbortPort   uint16
	MaxRecvSize uint32
}

func (r *CreateLinkResp) MarshalXDR(e *xdr.Encoder) {
	e.Int32(int32(r.Error))
	e.Int32(int32(r.Link))
	e.Uint32(uint32(r.AbortPort))
	e.Uint32(r.MaxRecvSize)
}

func (r *CreateLinkResp) UnmarshalXDR(d *xdr.Decoder) error {
	var port uint32
	err := decodeAll(
		code(d, &r.Error),
		link(d, &r.Link),
		u32(d, &port),
		u32(d, &r.MaxRecvSize),
	)
	r.AbortPort = uint16(port)
	return err
}

func (r *CreateLinkResp) ErrorCode() int32 { return int32(r.Error) }
func (r *CreateLinkResp) LinkID() int32    { return int32(r.Link) }

// DeviceWriteParms are the arguments of device_write.
type DeviceWriteParms struct {
	Link        LinkID
	IOTimeout   uint32
	LockTimeout uint32
	Flags       Flags
	Data        []byte
}

func (p *DeviceWriteParms) MarshalXDR(e *xdr.Encoder) {
	e.Int32(int32(p.Link))
	e.Uint32(p.IOTimeout)
	e.Uint32(p.LockTimeout)
	e.Int32(int32(p.Flags))
	e.Opaque(p.Data)
}

func (p *DeviceWriteParms) UnmarshalXDR(d *xdr.Decoder) error {
	return decodeAll(
		link(d, &p.Link),
		u32(d, &p.IOTimeout),
		u32(d, &p.LockTimeout),
		flags(d, &p.Flags),
		opaque(d, &p.Data, 0),
	)
}

func (p *DeviceWriteParms) LinkID() int32 { return int32(p.Link) }

// DeviceWriteResp is the result of device_write.
type DeviceWriteResp struct {
	Error ErrorCode
	Size  uint32
}

func (r *DeviceWriteResp) MarshalXDR(e *xdr.Encoder) {
	e.Int32(int32(r.Error))
	e.Uint32(r.Size)
}

func (r *DeviceWriteResp) UnmarshalXDR(d *xdr.Decoder) error {
	return decodeAll(code(d, &r.Error), u32(d, &r.Size))
}

func (r *DeviceWriteResp) ErrorCode() int32 { return int32(r.Error) }

// DeviceReadParms are the arguments of device_read.
type DeviceReadParms struct {
	Link        LinkID
	RequestSize uint32
	IOTimeout   uint32
	LockTimeout uint32
	Flags       Flags
	TermChar    byte
}

func (p *DeviceReadParms) MarshalXDR(e *xdr.Encoder) {
	e.Int32(int32(p.Link))
	e.Uint32(p.RequestSize)
	e.Uint32(p.IOTimeout)
	e.Uint32(p.LockTimeout)
	e.Int32(int32(p.Flags))
	e.Byte(p.TermChar)
}

func (p *DeviceReadParms) UnmarshalXDR(d *xdr.Decoder) error {
	return decodeAll(
		link(d, &p.Link),
		u32(d, &p.RequestSize),
		u32(d, &p.IOTimeout),
		u32(d, &p.LockTimeout),
		flags(d, &p.Flags),
		func() (err error) { p.TermChar, err = d.Byte(); return },
	)
}

func (p *DeviceReadParms) LinkID() int32 { return int32(p.Link) }

// DeviceReadResp is the result of device_read.
type DeviceReadResp struct {
	Error  ErrorCode
	Reason Reason
	Data   []byte
}

func (r *DeviceReadResp) MarshalXDR(e *xdr.Encoder) {
	e.Int32(int32(r.Error))
	e.Int32(int32(r.Reason))
	e.Opaque(r.Data)
}

func (r *DeviceReadResp) UnmarshalXDR(d *xdr.Decoder) error {
	var reason int32
	err := decodeAll(code(d, &r.Error), i32(d, &reason), opaque(d, &r.Data, 0))
	r.Reason = Reason(reason)
	return err
}

func (r *DeviceReadResp) ErrorCode() int32 { return int32(r.Error) }

// DeviceReadStbResp is the result of device_readstb.
type DeviceReadStbResp struct {
	Error ErrorCode
	Stb   byte
}

func (r *DeviceReadStbResp) MarshalXDR(e *xdr.Encoder) {
	e.Int32(int32(r.Error))
	e.Byte(r.Stb)
}

func (r *DeviceReadStbResp) UnmarshalXDR(d *xdr.Decoder) error {
	return decodeAll(
		code(d, &r.Error),
		func() (err error) { r.Stb, err = d.Byte(); return },
	)
}

func (r *DeviceReadStbResp) ErrorCode() int32 { return int32(r.Error) }

// DeviceGenericParms are the arguments shared by readstb, trigger, clear,
// remote and local.
type DeviceGenericParms struct {
	Link        LinkID
	Flags       Flags
	LockTimeout uint32
	IOTimeout   uint32
}

func (p *DeviceGenericParms) MarshalXDR(e *xdr.Encoder) {
	e.Int32(int32(p.Link))
	e.Int32(int32(p.Flags))
	e.Uint32(p.LockTimeout)
	e.Uint32(p.IOTimeout)
}

func (p *DeviceGenericParms) UnmarshalXDR(d *xdr.Decoder) error {
	return decodeAll(
		link(d, &p.Link),
		flags(d, &p.Flags),
		u32(d, &p.LockTimeout),
		u32(d, &p.IOTimeout),
	)
}

func (p *DeviceGenericParms) LinkID() int32 { return int32(p.Link) }

// DeviceRemoteFunc are the arguments of create_intr_chan.
type DeviceRemoteFunc struct {
	HostAddr   uint32
	HostPort   uint16
	ProgNum    uint32
	ProgVers   uint32
	ProgFamily AddrFamily
}

func (p *DeviceRemoteFunc) MarshalXDR(e *xdr.Encoder) {
	e.Uint32(p.HostAddr)
	e.Uint32(uint32(p.HostPort))
	e.Uint32(p.ProgNum)
	e.Uint32(p.ProgVers)
	e.Int32(int32(p.ProgFamily))
}

func (p *DeviceRemoteFunc) UnmarshalXDR(d *xdr.Decoder) error {
	var port uint32
	var family int32
	err := decodeAll(
		u32(d, &p.HostAddr),
		u32(d, &port),
		u32(d, &p.ProgNum),
		u32(d, &p.ProgVers),
		i32(d, &family),
	)
	p.HostPort = uint16(port)
	p.ProgFamily = AddrFamily(family)
	return err
}

// DeviceEnableSrqParms are the arguments of device_enable_srq.
type DeviceEnableSrqParms struct {
	Link   LinkID
	Enable bool
	Handle []byte
}

func (p *DeviceEnableSrqParms) MarshalXDR(e *xdr.Encoder) {
	e.Int32(int32(p.Link))
	e.Bool(p.Enable)
	e.Opaque(p.Handle)
}

func (p *DeviceEnableSrqParms) UnmarshalXDR(d *xdr.Decoder) error {
	return decodeAll(
		link(d, &p.Link),
		boolean(d, &p.Enable),
		opaque(d, &p.Handle, MaxSrqHandle),
	)
}

func (p *DeviceEnableSrqParms) LinkID() int32 { return int32(p.Link) }

// DeviceLockParms are the arguments of device_lock.
type DeviceLockParms struct {
	Link        LinkID
	Flags       Flags
	LockTimeout uint32
}

func (p *DeviceLockParms) MarshalXDR(e *xdr.Encoder) {
	e.Int32(int32(p.Link))
	e.Int32(int32(p.Flags))
	e.Uint32(p.LockTimeout)
}

func (p *DeviceLockParms) UnmarshalXDR(d *xdr.Decoder) error {
	return decodeAll(link(d, &p.Link), flags(d, &p.Flags), u32(d, &p.LockTimeout))
}

func (p *DeviceLockParms) LinkID() int32 { return int32(p.Link) }

// DeviceDocmdParms are the arguments of device_docmd.
type DeviceDocmdParms struct {
	Link         LinkID
	Flags        Flags
	IOTimeout    uint32
	LockTimeout  uint32
	Cmd          int32
	NetworkOrder bool
	DataSize     int32
	DataIn       []byte
}

func (p *DeviceDocmdParms) MarshalXDR(e *xdr.Encoder) {
	e.Int32(int32(p.Link))
	e.Int32(int32(p.Flags))
	e.Uint32(p.IOTimeout)
	e.Uint32(p.LockTimeout)
	e.Int32(p.Cmd)
	e.Bool(p.NetworkOrder)
	e.Int32(p.DataSize)
	e.Opaque(p.DataIn)
}

func (p *DeviceDocmdParms) UnmarshalXDR(d *xdr.Decoder) error {
	return decodeAll(
		link(d, &p.Link),
		flags(d, &p.Flags),
		u32(d, &p.IOTimeout),
		u32(d, &p.LockTimeout),
		i32(d, &p.Cmd),
		boolean(d, &p.NetworkOrder),
		i32(d, &p.DataSize),
		opaque(d, &p.DataIn, 0),
	)
}

func (p *DeviceDocmdParms) LinkID() int32 { return int32(p.Link) }

// DeviceDocmdResp is the result of device_docmd.
type DeviceDocmdResp struct {
	Error   ErrorCode
	DataOut []byte
}

func (r *DeviceDocmdResp) MarshalXDR(e *xdr.Encoder) {
	e.Int32(int32(r.Error))
	e.Opaque(r.DataOut)
}

func (r *DeviceDocmdResp) UnmarshalXDR(d *xdr.Decoder) error {
	return decodeAll(code(d, &r.Error), opaque(d, &r.DataOut, 0))
}

func (r *DeviceDocmdResp) ErrorCode() int32 { return int32(r.Error) }

// DeviceErrorResp is the result of calls that return only an error code.
type DeviceErrorResp struct {
	Error ErrorCode
}

func (r *DeviceErrorResp) MarshalXDR(e *xdr.Encoder) {
	e.Int32(int32(r.Error))
}

func (r *DeviceErrorResp) UnmarshalXDR(d *xdr.Decoder) error {
	return code(d, &r.Error)()
}

func (r *DeviceErrorResp) ErrorCode() int32 { return int32(r.Error) }

// DeviceLinkParm is the argument of destroy_link and device_abort.
type DeviceLinkParm struct {
	Link LinkID
}

func (p *DeviceLinkParm) MarshalXDR(e *xdr.Encoder) {
	e.Int32(int32(p.Link))
}

func (p *DeviceLinkParm) UnmarshalXDR(d *xdr.Decoder) error {
	return link(d, &p.Link)()
}

func (p *DeviceLinkParm) LinkID() int32 { return int32(p.Link) }

// DeviceSrqParms is the argument of device_intr_srq.
type DeviceSrqParms struct {
	Handle []byte
}

func (p *DeviceSrqParms) MarshalXDR(e *xdr.Encoder) {
	e.Opaque(p.Handle)
}

func (p *DeviceSrqParms) UnmarshalXDR(d *xdr.Decoder) error {
	return opaque(d, &p.Handle, MaxSrqHandle)()
}
