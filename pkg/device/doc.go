// Package device implements the instrument side of VXI-11.
//
// A Server hosts one or more named devices ("inst0", "gpib0,5", ...), each
// backed by an Instrument. It serves the core channel and the abort channel
// on separate ports, optionally runs a portmapper so controllers can find
// the core port, and connects back to controllers that create an interrupt
// channel.
//
// Links belong to the core connection that created them. When that
// connection closes, its links are destroyed, their locks released and any
// in-flight call cancelled.
//
// Each device has one lock, one output queue and one status byte. Writes
// are buffered per link until a block carrying the END flag completes the
// message, which is then executed by the Instrument; its response is queued
// for device_read.
package device
