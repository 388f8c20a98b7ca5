// Package xdr implements the subset of External Data Representation
// (RFC 4506) used by ONC RPC and VXI-11: 32-bit integers, booleans,
// variable-length opaque data and strings.
//
// All items occupy a multiple of four bytes in big-endian order. Opaque
// data is followed by zero padding up to the next four-byte boundary.
package xdr
