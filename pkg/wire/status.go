package wire

import "fmt"

// ErrorCode is the device error carried in every VXI-11 response.
type ErrorCode int32

const (
	// NoError indicates the operation completed successfully.
	NoError ErrorCode = 0

	// SyntaxError indicates an unparsable request.
	SyntaxError ErrorCode = 1

	// DeviceNotAccessible indicates the device cannot be reached or is busy
	// with another link.
	DeviceNotAccessible ErrorCode = 3

	// InvalidLinkIdentifier indicates the link id is unknown.
	InvalidLinkIdentifier ErrorCode = 4

	// ParameterError indicates a parameter value is out of range.
	ParameterError ErrorCode = 5

	// ChannelNotEstablished indicates no interrupt channel exists.
	ChannelNotEstablished ErrorCode = 6

	// OperationNotSupported indicates the device does not implement the operation.
	OperationNotSupported ErrorCode = 8

	// OutOfResources indicates the server cannot allocate what was requested.
	OutOfResources ErrorCode = 9

	// DeviceLockedByAnotherLink indicates the lock is held elsewhere.
	DeviceLockedByAnotherLink ErrorCode = 11

	// NoLockHeldByThisLink indicates an unlock without a lock.
	NoLockHeldByThisLink ErrorCode = 12

	// IOTimeout indicates the operation exceeded io_timeout.
	IOTimeout ErrorCode = 15

	// IOError indicates a device I/O failure.
	IOError ErrorCode = 17

	// InvalidAddress indicates a malformed device name.
	InvalidAddress ErrorCode = 21

	// Abort indicates the operation was cancelled by device_abort.
	Abort ErrorCode = 23

	// ChannelAlreadyEstablished indicates an interrupt channel already exists.
	ChannelAlreadyEstablished ErrorCode = 29

	// NotImplemented is a local code that never appears on the wire. It marks
	// conditions such as a missing response.
	NotImplemented ErrorCode = -1
)

// String returns the error code name.
func (c ErrorCode) String() string {
	switch c {
	case NoError:
		return "NO_ERROR"
	case SyntaxError:
		return "SYNTAX_ERROR"
	case DeviceNotAccessible:
		return "DEVICE_NOT_ACCESSIBLE"
	case InvalidLinkIdentifier:
		return "INVALID_LINK_IDENTIFIER"
	case ParameterError:
		return "PARAMETER_ERROR"
	case ChannelNotEstablished:
		return "CHANNEL_NOT_ESTABLISHED"
	case OperationNotSupported:
		return "OPERATION_NOT_SUPPORTED"
	case OutOfResources:
		return "OUT_OF_RESOURCES"
	case DeviceLockedByAnotherLink:
		return "DEVICE_LOCKED_BY_ANOTHER_LINK"
	case NoLockHeldByThisLink:
		return "NO_LOCK_HELD_BY_THIS_LINK"
	case IOTimeout:
		return "IO_TIMEOUT"
	case IOError:
		return "IO_ERROR"
	case InvalidAddress:
		return "INVALID_ADDRESS"
	case Abort:
		return "ABORT"
	case ChannelAlreadyEstablished:
		return "CHANNEL_ALREADY_ESTABLISHED"
	case NotImplemented:
		return "NOT_IMPLEMENTED"
	default:
		return fmt.Sprintf("ERROR_%d", int32(c))
	}
}

// OK reports whether the code is NoError.
func (c ErrorCode) OK() bool {
	return c == NoError
}

// Err returns nil for NoError and a *DeviceError otherwise.
func (c ErrorCode) Err(op string) error {
	if c == NoError {
		return nil
	}
	return &DeviceError{Op: op, Code: c}
}
