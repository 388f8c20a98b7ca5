// Package session implements the controller side of a VXI-11 link.
//
// A Session owns one core channel connection and the link created on it.
// It opens the abort channel lazily on the port the instrument returned
// from create_link, and runs an interrupt listener while service requests
// are enabled.
//
// Data moves through the chunked I/O engine: Write splits a message into
// blocks no larger than the negotiated maxRecvSize and marks the last one
// with END; Read repeats device_read until END, the termination character
// or the requested count ends the message.
//
// Chunked Write, Read and Query report protocol failures as a
// *wire.DeviceError next to the data or count transferred so far, so a
// polling loop can inspect the code and carry on. Lifecycle operations such
// as Connect, Lock or Abort return a *wire.DeviceError for any response
// other than NoError.
//
// Abort may be called from another goroutine while a Read or Write is
// blocked. Other operations on one Session must not run concurrently.
package session
