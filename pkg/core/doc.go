// Package core implements the VXI-11 core channel (program 0x0607AF): a
// client stub for controllers and a server dispatcher that maps procedure
// numbers onto a Handler.
//
// The stub reports transport failures as errors and leaves device error codes
// in the response records, so callers decide which codes are fatal.
package core
