package rpc

import (
	"errors"
	"fmt"

	"github.com/vxi11-protocol/vxi11-go/pkg/xdr"
)

// ErrMalformedMessage indicates a message whose header cannot be parsed.
var ErrMalformedMessage = errors.New("malformed rpc message")

// OpaqueAuth is a credential or verifier.
type OpaqueAuth struct {
	Flavor uint32
	Body   []byte
}

func (a OpaqueAuth) marshal(e *xdr.Encoder) {
	e.Uint32(a.Flavor)
	e.Opaque(a.Body)
}

func (a *OpaqueAuth) unmarshal(d *xdr.Decoder) error {
	var err error
	if a.Flavor, err = d.Uint32(); err != nil {
		return err
	}
	a.Body, err = d.Opaque(maxAuthBody)
	return err
}

// CallHeader is the fixed part of a call message.
type CallHeader struct {
	XID       uint32
	RPCVers   uint32
	Program   uint32
	Version   uint32
	Procedure uint32
	Cred      OpaqueAuth
	Verf      OpaqueAuth
}

// MarshalXDR writes the header including the message type.
func (h *CallHeader) MarshalXDR(e *xdr.Encoder) {
	e.Uint32(h.XID)
	e.Uint32(uint32(MsgCall))
	e.Uint32(h.RPCVers)
	e.Uint32(h.Program)
	e.Uint32(h.Version)
	e.Uint32(h.Procedure)
	h.Cred.marshal(e)
	h.Verf.marshal(e)
}

// unmarshalBody reads everything after xid and msg_type.
func (h *CallHeader) unmarshalBody(d *xdr.Decoder) error {
	var err error
	for _, p := range []*uint32{&h.RPCVers, &h.Program, &h.Version, &h.Procedure} {
		if *p, err = d.Uint32(); err != nil {
			return err
		}
	}
	if err := h.Cred.unmarshal(d); err != nil {
		return err
	}
	return h.Verf.unmarshal(d)
}

// ReplyHeader is the fixed part of a reply message.
type ReplyHeader struct {
	XID    uint32
	Stat   ReplyStat
	Verf   OpaqueAuth
	Accept AcceptStat
	Reject RejectStat

	// Low and High carry the supported range for PROG_MISMATCH and RPC_MISMATCH.
	Low, High uint32

	// AuthStat is set for AUTH_ERROR rejections.
	AuthStat uint32
}

// MarshalXDR writes the header including the message type.
func (h *ReplyHeader) MarshalXDR(e *xdr.Encoder) {
	e.Uint32(h.XID)
	e.Uint32(uint32(MsgReply))
	e.Uint32(uint32(h.Stat))
	switch h.Stat {
	case MsgAccepted:
		h.Verf.marshal(e)
		e.Uint32(uint32(h.Accept))
		if h.Accept == ProgMismatch {
			e.Uint32(h.Low)
			e.Uint32(h.High)
		}
	case MsgDenied:
		e.Uint32(uint32(h.Reject))
		switch h.Reject {
		case RPCMismatch:
			e.Uint32(h.Low)
			e.Uint32(h.High)
		case AuthError:
			e.Uint32(h.AuthStat)
		}
	}
}

func (h *ReplyHeader) unmarshalBody(d *xdr.Decoder) error {
	stat, err := d.Uint32()
	if err != nil {
		return err
	}
	h.Stat = ReplyStat(stat)
	switch h.Stat {
	case MsgAccepted:
		if err := h.Verf.unmarshal(d); err != nil {
			return err
		}
		accept, err := d.Uint32()
		if err != nil {
			return err
		}
		h.Accept = AcceptStat(accept)
		if h.Accept == ProgMismatch {
			if h.Low, err = d.Uint32(); err != nil {
				return err
			}
			if h.High, err = d.Uint32(); err != nil {
				return err
			}
		}
	case MsgDenied:
		reject, err := d.Uint32()
		if err != nil {
			return err
		}
		h.Reject = RejectStat(reject)
		switch h.Reject {
		case RPCMismatch:
			if h.Low, err = d.Uint32(); err != nil {
				return err
			}
			if h.High, err = d.Uint32(); err != nil {
				return err
			}
		case AuthError:
			if h.AuthStat, err = d.Uint32(); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: reply_stat %d", ErrMalformedMessage, stat)
	}
	return nil
}

// Err converts a non-successful reply into an error. It returns nil for
// accepted, successful replies.
func (h *ReplyHeader) Err() error {
	switch h.Stat {
	case MsgAccepted:
		if h.Accept == Success {
			return nil
		}
		return &AcceptError{Stat: h.Accept, Low: h.Low, High: h.High}
	default:
		return &RejectError{Stat: h.Reject, Low: h.Low, High: h.High, AuthStat: h.AuthStat}
	}
}

// message is a parsed inbound message: exactly one of call or reply is set.
type message struct {
	call  *CallHeader
	reply *ReplyHeader
	body  []byte
}

// parseMessage decodes the header of a call or reply and returns the
// remaining bytes as the body.
func parseMessage(data []byte) (*message, error) {
	d := xdr.NewDecoder(data)
	xid, err := d.Uint32()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	mtype, err := d.Uint32()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	m := &message{}
	switch MsgType(mtype) {
	case MsgCall:
		m.call = &CallHeader{XID: xid}
		if err := m.call.unmarshalBody(d); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
	case MsgReply:
		m.reply = &ReplyHeader{XID: xid}
		if err := m.reply.unmarshalBody(d); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
	default:
		return nil, fmt.Errorf("%w: msg_type %d", ErrMalformedMessage, mtype)
	}
	m.body = d.Rest()
	return m, nil
}

// encodeMessage appends body after header.
func encodeMessage(header xdr.Marshaler, body xdr.Marshaler) []byte {
	e := xdr.NewEncoder(128)
	header.MarshalXDR(e)
	if body != nil {
		body.MarshalXDR(e)
	}
	return e.Bytes()
}

// Void is an empty argument or result.
type Void struct{}

// MarshalXDR writes nothing.
func (Void) MarshalXDR(*xdr.Encoder) {}

// UnmarshalXDR reads nothing.
func (*Void) UnmarshalXDR(*xdr.Decoder) error { return nil }

// LinkReferrer is implemented by arguments that name a VXI-11 device link,
// so that protocol log events can carry it.
type LinkReferrer interface {
	LinkID() int32
}

// ErrorCoder is implemented by results that carry an application error code.
type ErrorCoder interface {
	ErrorCode() int32
}
