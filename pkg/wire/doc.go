// Package wire defines the VXI-11 wire format: program and procedure
// numbers, device error codes, operation flags and read reasons, and the
// XDR records exchanged on the core, abort and interrupt channels.
//
// # Programs
//
// VXI-11 runs three ONC RPC programs, all at version 1:
//   - Core (0x0607AF): link management and device I/O, controller to instrument
//   - Abort (0x0607B0): out-of-band abort, controller to instrument
//   - Interrupt (0x0607B1): service request delivery, instrument to controller
//
// # Errors
//
// Every response record carries exactly one ErrorCode; NoError is the only
// success value. Codes are data at this layer. DeviceError turns a code into
// a Go error for callers that prefer one.
package wire
