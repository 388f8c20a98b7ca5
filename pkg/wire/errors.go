package wire

import (
	"errors"
	"fmt"
)

// DeviceError is a non-NoError response turned into a Go error.
type DeviceError struct {
	// Op is the operation that failed, e.g. "create_link".
	Op string

	// Code is the error returned by the device.
	Code ErrorCode
}

func (e *DeviceError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("vxi11: device error %s (%d)", e.Code, int32(e.Code))
	}
	return fmt.Sprintf("vxi11: %s: device error %s (%d)", e.Op, e.Code, int32(e.Code))
}

// Is matches another *DeviceError with the same code, so that
// errors.Is(err, &DeviceError{Code: Abort}) works regardless of Op.
func (e *DeviceError) Is(target error) bool {
	t, ok := target.(*DeviceError)
	return ok && t.Code == e.Code && (t.Op == "" || t.Op == e.Op)
}

// CodeOf extracts the device error code from err. It returns NoError for
// nil and NotImplemented for errors that carry no code.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return NoError
	}
	var de *DeviceError
	if errors.As(err, &de) {
		return de.Code
	}
	return NotImplemented
}
