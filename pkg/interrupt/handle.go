package interrupt

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/vxi11-protocol/vxi11-go/pkg/wire"
)

// clientIDSize is the prefix EncodeHandle writes.
const clientIDSize = 4

var (
	// ErrHandleTooShort is returned for handles without a client id prefix.
	ErrHandleTooShort = errors.New("interrupt: handle shorter than client id")

	// ErrHandleTooLong is returned for handles longer than wire.MaxSrqHandle.
	ErrHandleTooLong = errors.New("interrupt: handle too long")
)

// EncodeHandle builds a service request handle from a client id and an
// optional tag chosen by the session.
func EncodeHandle(clientID int32, tag []byte) ([]byte, error) {
	if clientIDSize+len(tag) > wire.MaxSrqHandle {
		return nil, fmt.Errorf("%w: %d bytes", ErrHandleTooLong, clientIDSize+len(tag))
	}
	h := make([]byte, clientIDSize, clientIDSize+len(tag))
	binary.BigEndian.PutUint32(h, uint32(clientID))
	return append(h, tag...), nil
}

// DecodeHandle splits a handle built by EncodeHandle.
func DecodeHandle(h []byte) (clientID int32, tag []byte, err error) {
	if len(h) > wire.MaxSrqHandle {
		return 0, nil, fmt.Errorf("%w: %d bytes", ErrHandleTooLong, len(h))
	}
	if len(h) < clientIDSize {
		return 0, nil, ErrHandleTooShort
	}
	return int32(binary.BigEndian.Uint32(h)), h[clientIDSize:], nil
}
