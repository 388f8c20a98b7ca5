// Package rpc implements the ONC RPC version 2 substrate (RFC 5531) that the
// VXI-11 channels run on.
//
// It provides:
//   - record marking for stream transports (RecordReader, RecordWriter)
//   - call and reply headers
//   - a Client that multiplexes calls on one TCP or UDP connection by XID
//   - a Server that accepts connections and hands each call to a Dispatcher
//   - a portmapper client and an in-process portmapper service
//
// Arguments and results are XDR records (see package xdr). Authentication is
// limited to AUTH_NONE, which is what VXI-11 instruments use.
package rpc
