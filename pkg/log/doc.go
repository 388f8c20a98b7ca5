// Package log provides structured protocol capture for VXI-11 endpoints.
//
// It is separate from operational logging (slog): protocol capture records a
// machine-readable trace of every record fragment, RPC call and reply, and
// link or listener state change, tagged with the connection and channel
// (core, abort, interrupt, portmap) it belongs to.
//
// # Basic Usage
//
//	// Console output while debugging
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// Binary capture for later analysis with vxi11-log
//	fl, _ := log.NewFileLogger("/var/log/vxi11/device.vlog")
//	cfg.ProtocolLogger = log.NewMultiLogger(log.NewSlogAdapter(slog.Default()), fl)
//
// # File Format
//
// Log files are a concatenation of CBOR-encoded Event values using integer
// map keys. Reader streams them back, optionally through a Filter.
package log
