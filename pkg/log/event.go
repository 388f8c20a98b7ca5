package log

import (
	"time"
)

// Event represents a protocol log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID uniquely identifies the connection (UUID).
	ConnectionID string `cbor:"2,keyasint"`

	// Direction indicates message flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// LocalRole indicates whether this is an instrument or a controller.
	LocalRole Role `cbor:"6,keyasint,omitempty"`

	// RemoteAddr is the peer address (IP:port).
	RemoteAddr string `cbor:"7,keyasint,omitempty"`

	// Channel is the VXI-11 channel the connection belongs to.
	Channel Channel `cbor:"8,keyasint,omitempty"`

	// LinkID is the device link the event refers to (0 when unknown).
	LinkID int32 `cbor:"9,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"` // Record marking fragment
	Call        *CallEvent        `cbor:"11,keyasint,omitempty"` // RPC call or reply
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"` // Connection/link/listener state
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which protocol layer captured the event.
type Layer uint8

const (
	// LayerTransport is the record marking layer (raw bytes).
	LayerTransport Layer = 0
	// LayerRPC is the ONC RPC call/reply layer.
	LayerRPC Layer = 1
	// LayerSession is the VXI-11 link layer.
	LayerSession Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerRPC:
		return "RPC"
	case LayerSession:
		return "SESSION"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates a protocol message (call/reply/one-way).
	CategoryMessage Category = 0
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Role indicates whether the local endpoint is an instrument or a controller.
type Role uint8

const (
	// RoleInstrument indicates this is an instrument (device server).
	RoleInstrument Role = 0
	// RoleController indicates this is a controller.
	RoleController Role = 1
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleInstrument:
		return "INSTRUMENT"
	case RoleController:
		return "CONTROLLER"
	default:
		return "UNKNOWN"
	}
}

// Channel identifies which of the VXI-11 connections carried the event.
type Channel uint8

const (
	// ChannelUnknown is used when the program is not yet known.
	ChannelUnknown Channel = 0
	// ChannelCore is the core device channel.
	ChannelCore Channel = 1
	// ChannelAbort is the abort channel.
	ChannelAbort Channel = 2
	// ChannelInterrupt is the reverse-direction interrupt channel.
	ChannelInterrupt Channel = 3
	// ChannelPortmap is the portmapper.
	ChannelPortmap Channel = 4
)

// String returns the channel name.
func (c Channel) String() string {
	switch c {
	case ChannelCore:
		return "CORE"
	case ChannelAbort:
		return "ABORT"
	case ChannelInterrupt:
		return "INTERRUPT"
	case ChannelPortmap:
		return "PORTMAP"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures raw record fragment data at the transport layer.
type FrameEvent struct {
	// Size is the fragment size in bytes (including the record mark).
	Size int `cbor:"1,keyasint"`

	// Data is the raw fragment bytes (may be truncated for large fragments).
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"3,keyasint,omitempty"`

	// Last is set on the final fragment of a record.
	Last bool `cbor:"4,keyasint,omitempty"`
}

// CallEvent captures a decoded RPC message.
type CallEvent struct {
	// Type distinguishes call/reply/one-way.
	Type MessageType `cbor:"1,keyasint"`

	// XID correlates calls and replies.
	XID uint32 `cbor:"2,keyasint"`

	// Program, Version and Procedure identify the remote procedure.
	Program   uint32 `cbor:"3,keyasint,omitempty"`
	Version   uint32 `cbor:"4,keyasint,omitempty"`
	Procedure uint32 `cbor:"5,keyasint"`

	// ProcedureName is the human-readable procedure name.
	ProcedureName string `cbor:"6,keyasint,omitempty"`

	// AcceptStatus is the RPC accept status (replies only).
	AcceptStatus *uint32 `cbor:"7,keyasint,omitempty"`

	// DeviceError is the VXI-11 error code carried in the reply body.
	DeviceError *int32 `cbor:"8,keyasint,omitempty"`

	// PayloadSize is the size of the encoded arguments or results.
	PayloadSize int `cbor:"9,keyasint,omitempty"`

	// ProcessingTime is the duration from call receipt to reply send (replies only).
	ProcessingTime *time.Duration `cbor:"10,keyasint,omitempty"`
}

// MessageType distinguishes call/reply/one-way messages.
type MessageType uint8

const (
	// MessageTypeCall indicates a call expecting a reply.
	MessageTypeCall MessageType = 0
	// MessageTypeReply indicates a reply.
	MessageTypeReply MessageType = 1
	// MessageTypeOneWay indicates a call that is never answered.
	MessageTypeOneWay MessageType = 2
)

// String returns the message type name.
func (m MessageType) String() string {
	switch m {
	case MessageTypeCall:
		return "CALL"
	case MessageTypeReply:
		return "REPLY"
	case MessageTypeOneWay:
		return "ONEWAY"
	default:
		return "UNKNOWN"
	}
}

// StateChangeEvent captures connection, link and listener lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityConnection indicates a connection state change.
	StateEntityConnection StateEntity = 0
	// StateEntityLink indicates a device link state change.
	StateEntityLink StateEntity = 1
	// StateEntityListener indicates an interrupt listener state change.
	StateEntityListener StateEntity = 2
	// StateEntityLock indicates a device lock state change.
	StateEntityLock StateEntity = 3
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntityLink:
		return "LINK"
	case StateEntityListener:
		return "LISTENER"
	case StateEntityLock:
		return "LOCK"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Code is the error code (if applicable).
	Code *int `cbor:"3,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`
}
