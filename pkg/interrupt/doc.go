// Package interrupt implements the VXI-11 interrupt channel.
//
// The interrupt channel reverses the usual call direction: the controller
// runs a Listener, tells the instrument where it is with create_intr_chan,
// and the instrument connects back to deliver device_intr_srq as a one-way
// call carrying the handle registered with device_enable_srq.
//
// Handles produced by EncodeHandle start with the controller's client id, so
// several sessions can share one Listener and each Subscribe only to its own
// service requests.
package interrupt
