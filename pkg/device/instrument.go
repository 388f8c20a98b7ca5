package device

import "context"

// Instrument is the backend of one device.
type Instrument interface {
	// Execute handles one complete message. A non-nil result is queued as
	// one response message, terminated by END. ctx is cancelled on abort,
	// on io_timeout and when the server stops.
	Execute(ctx context.Context, msg []byte) ([]byte, error)

	// Status returns the status byte. The server adds StatusMAV and
	// StatusRQS itself.
	Status() byte

	// Clear resets the instrument for device_clear.
	Clear(ctx context.Context) error
}

// Triggerer is implemented by instruments that support device_trigger.
type Triggerer interface {
	Trigger(ctx context.Context) error
}

// RemoteController is implemented by instruments that track remote/local mode.
type RemoteController interface {
	SetRemote(ctx context.Context, remote bool) error
}

// Commander is implemented by instruments that support device_docmd.
type Commander interface {
	DoCmd(ctx context.Context, cmd int32, networkOrder bool, dataSize int32, in []byte) ([]byte, error)
}

// ServiceRequester is implemented by instruments that raise service
// requests. The server installs fn when the device is added; calling it
// sets RQS and notifies every link that enabled service requests.
type ServiceRequester interface {
	SetServiceRequestFunc(fn func())
}
