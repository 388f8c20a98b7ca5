package rpc

import (
	"errors"
	"fmt"
)

// Transport errors.
var (
	// ErrClientClosed indicates the client was closed by the caller.
	ErrClientClosed = errors.New("rpc client closed")

	// ErrConnectionLost indicates the connection failed while calls were pending.
	ErrConnectionLost = errors.New("rpc connection lost")

	// ErrTimeout indicates no reply arrived within the call timeout.
	ErrTimeout = errors.New("rpc call timed out")

	// ErrAlreadyReplied indicates a second reply to the same call.
	ErrAlreadyReplied = errors.New("rpc call already replied")
)

// AcceptError is returned when the server accepted the call but did not
// execute it successfully.
type AcceptError struct {
	Stat      AcceptStat
	Low, High uint32
}

func (e *AcceptError) Error() string {
	if e.Stat == ProgMismatch {
		return fmt.Sprintf("rpc: %s (supported versions %d-%d)", e.Stat, e.Low, e.High)
	}
	return fmt.Sprintf("rpc: %s", e.Stat)
}

// RejectError is returned when the server denied the call.
type RejectError struct {
	Stat      RejectStat
	Low, High uint32
	AuthStat  uint32
}

func (e *RejectError) Error() string {
	switch e.Stat {
	case RPCMismatch:
		return fmt.Sprintf("rpc: %s (supported versions %d-%d)", e.Stat, e.Low, e.High)
	case AuthError:
		return fmt.Sprintf("rpc: %s (auth_stat %d)", e.Stat, e.AuthStat)
	default:
		return fmt.Sprintf("rpc: %s", e.Stat)
	}
}

// IsAcceptStat reports whether err is an AcceptError with the given status.
func IsAcceptStat(err error, stat AcceptStat) bool {
	var ae *AcceptError
	return errors.As(err, &ae) && ae.Stat == stat
}
