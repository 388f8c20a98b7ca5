// Package commands implements the vxi11-log CLI commands.
package commands

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/vxi11-protocol/vxi11-go/pkg/log"
	"github.com/vxi11-protocol/vxi11-go/pkg/wire"
)

// maxDataDump bounds the fragment bytes printed by view.
const maxDataDump = 64

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event log.Event) {
	// Header line: timestamp [conn:id] DIRECTION CHANNEL LAYER Type
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")
	connID := shortenConnID(event.ConnectionID)

	fmt.Fprintf(w, "%s [conn:%s] %-3s %-9s %s %s", ts, connID,
		event.Direction, event.Channel, event.Layer, typeLabel(event))
	if event.LinkID != 0 {
		fmt.Fprintf(w, " [link:%d]", event.LinkID)
	}
	fmt.Fprintln(w)

	switch {
	case event.Frame != nil:
		formatFrameDetails(w, event.Frame)
	case event.Call != nil:
		formatCallDetails(w, event.Call)
	case event.StateChange != nil:
		formatStateChangeDetails(w, event.StateChange)
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	}
	if event.RemoteAddr != "" {
		fmt.Fprintf(w, "  Remote: %s\n", event.RemoteAddr)
	}

	fmt.Fprintln(w) // Blank line between events
}

func typeLabel(event log.Event) string {
	switch {
	case event.Frame != nil:
		return "Frame"
	case event.Call != nil:
		return event.Call.Type.String()
	case event.StateChange != nil:
		return "State"
	case event.Error != nil:
		return "Error"
	default:
		return "Unknown"
	}
}

// shortenConnID returns the first 8 characters of the connection ID.
func shortenConnID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

func formatFrameDetails(w io.Writer, frame *log.FrameEvent) {
	fmt.Fprintf(w, "  Size: %d bytes", frame.Size)
	if frame.Last {
		fmt.Fprint(w, " (last fragment)")
	}
	fmt.Fprintln(w)
	if len(frame.Data) > 0 {
		data := frame.Data
		if len(data) > maxDataDump {
			data = data[:maxDataDump]
		}
		fmt.Fprintf(w, "  Data: %s", hex.EncodeToString(data))
		if frame.Truncated || len(frame.Data) > maxDataDump {
			fmt.Fprintf(w, " (truncated)")
		}
		fmt.Fprintln(w)
	}
}

func formatCallDetails(w io.Writer, call *log.CallEvent) {
	fmt.Fprintf(w, "  XID: %d\n", call.XID)

	name := call.ProcedureName
	if name == "" && call.Program != 0 {
		name = wire.ProcedureName(call.Program, call.Procedure)
	}
	if name != "" {
		fmt.Fprintf(w, "  Procedure: %s (%d)\n", name, call.Procedure)
	}
	if call.Program != 0 {
		fmt.Fprintf(w, "  Program: 0x%06X v%d\n", call.Program, call.Version)
	}
	if call.AcceptStatus != nil && *call.AcceptStatus != 0 {
		fmt.Fprintf(w, "  AcceptStatus: %d\n", *call.AcceptStatus)
	}
	if call.DeviceError != nil {
		code := wire.ErrorCode(*call.DeviceError)
		fmt.Fprintf(w, "  Error: %s (%d)\n", code, *call.DeviceError)
	}
	if call.PayloadSize > 0 {
		fmt.Fprintf(w, "  Payload: %d bytes\n", call.PayloadSize)
	}
	if call.ProcessingTime != nil {
		fmt.Fprintf(w, "  Duration: %s\n", formatDuration(*call.ProcessingTime))
	}
}

func formatStateChangeDetails(w io.Writer, sc *log.StateChangeEvent) {
	fmt.Fprintf(w, "  Entity: %s\n", sc.Entity.String())
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  -> %s\n", sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

func formatErrorDetails(w io.Writer, err *log.ErrorEventData) {
	fmt.Fprintf(w, "  Layer: %s\n", err.Layer.String())
	fmt.Fprintf(w, "  Message: %s\n", err.Message)
	if err.Code != nil {
		fmt.Fprintf(w, "  Code: %d\n", *err.Code)
	}
	if err.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", err.Context)
	}
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%.3fus", float64(d.Nanoseconds())/1000)
	}
	if d < time.Second {
		return fmt.Sprintf("%.3fms", float64(d.Microseconds())/1000)
	}
	return fmt.Sprintf("%.3fs", d.Seconds())
}

// ParseLayer parses a layer name (case-insensitive).
func ParseLayer(s string) (log.Layer, error) {
	switch strings.ToLower(s) {
	case "transport":
		return log.LayerTransport, nil
	case "rpc":
		return log.LayerRPC, nil
	case "session":
		return log.LayerSession, nil
	default:
		return 0, fmt.Errorf("invalid layer: %s (must be transport, rpc, or session)", s)
	}
}

// ParseDirection parses a direction name (case-insensitive).
func ParseDirection(s string) (log.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return log.DirectionIn, nil
	case "out":
		return log.DirectionOut, nil
	default:
		return 0, fmt.Errorf("invalid direction: %s (must be in or out)", s)
	}
}

// ParseCategory parses a category name (case-insensitive).
func ParseCategory(s string) (log.Category, error) {
	switch strings.ToLower(s) {
	case "message":
		return log.CategoryMessage, nil
	case "state":
		return log.CategoryState, nil
	case "error":
		return log.CategoryError, nil
	default:
		return 0, fmt.Errorf("invalid category: %s (must be message, state, or error)", s)
	}
}

// ParseChannel parses a channel name (case-insensitive).
func ParseChannel(s string) (log.Channel, error) {
	switch strings.ToLower(s) {
	case "core":
		return log.ChannelCore, nil
	case "abort":
		return log.ChannelAbort, nil
	case "interrupt", "intr":
		return log.ChannelInterrupt, nil
	case "portmap":
		return log.ChannelPortmap, nil
	default:
		return 0, fmt.Errorf("invalid channel: %s (must be core, abort, interrupt, or portmap)", s)
	}
}

// each streams every event of path accepted by filter to fn.
func each(path string, filter log.Filter, fn func(log.Event) error) error {
	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	for event, err := range reader.Events() {
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if err := fn(event); err != nil {
			return err
		}
	}
	return nil
}

// RunView prints every event of path accepted by filter.
func RunView(path string, filter log.Filter, output io.Writer) error {
	return each(path, filter, func(event log.Event) error {
		formatEvent(output, event)
		return nil
	})
}
