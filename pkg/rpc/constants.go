package rpc

import "fmt"

// RPCVersion is the only ONC RPC protocol version spoken.
const RPCVersion = 2

// MsgType distinguishes calls from replies.
type MsgType uint32

const (
	// MsgCall is a call message.
	MsgCall MsgType = 0
	// MsgReply is a reply message.
	MsgReply MsgType = 1
)

// ReplyStat tells whether the server accepted a call.
type ReplyStat uint32

const (
	// MsgAccepted means the server attempted the call; see AcceptStat.
	MsgAccepted ReplyStat = 0
	// MsgDenied means the call was rejected before dispatch; see RejectStat.
	MsgDenied ReplyStat = 1
)

// AcceptStat is the outcome of an accepted call.
type AcceptStat uint32

const (
	Success      AcceptStat = 0
	ProgUnavail  AcceptStat = 1
	ProgMismatch AcceptStat = 2
	ProcUnavail  AcceptStat = 3
	GarbageArgs  AcceptStat = 4
	SystemErr    AcceptStat = 5
)

// String returns the RFC 5531 name of the status.
func (s AcceptStat) String() string {
	switch s {
	case Success:
		return "SUCCESS"
	case ProgUnavail:
		return "PROG_UNAVAIL"
	case ProgMismatch:
		return "PROG_MISMATCH"
	case ProcUnavail:
		return "PROC_UNAVAIL"
	case GarbageArgs:
		return "GARBAGE_ARGS"
	case SystemErr:
		return "SYSTEM_ERR"
	default:
		return fmt.Sprintf("ACCEPT_STAT(%d)", uint32(s))
	}
}

// RejectStat is the reason a call was denied.
type RejectStat uint32

const (
	// RPCMismatch means the RPC version is not 2.
	RPCMismatch RejectStat = 0
	// AuthError means the credentials were refused.
	AuthError RejectStat = 1
)

// String returns the RFC 5531 name of the status.
func (s RejectStat) String() string {
	switch s {
	case RPCMismatch:
		return "RPC_MISMATCH"
	case AuthError:
		return "AUTH_ERROR"
	default:
		return fmt.Sprintf("REJECT_STAT(%d)", uint32(s))
	}
}

// Authentication flavors.
const (
	AuthNone uint32 = 0
	AuthSys  uint32 = 1
)

// maxAuthBody is the RFC 5531 limit for credential and verifier bodies.
const maxAuthBody = 400

// Protocol numbers used by the portmapper and by VXI-11 remote functions.
const (
	ProtocolTCP uint32 = 6
	ProtocolUDP uint32 = 17
)

// NullProcedure is procedure 0, which every program answers with an empty reply.
const NullProcedure uint32 = 0
