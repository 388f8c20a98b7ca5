package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes protocol events to an slog.Logger.
// Useful during development to watch RPC traffic on the console.
type SlogAdapter struct {
	logger *slog.Logger
	level  slog.Level
}

// NewSlogAdapter creates a new SlogAdapter that writes to the given slog.Logger
// at Debug level.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger, level: slog.LevelDebug}
}

// WithLevel returns a copy of the adapter that logs at level.
func (a *SlogAdapter) WithLevel(level slog.Level) *SlogAdapter {
	return &SlogAdapter{logger: a.logger, level: level}
}

// Log writes the event to the slog logger.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("conn_id", event.ConnectionID),
		slog.String("direction", event.Direction.String()),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	}

	if event.Channel != ChannelUnknown {
		attrs = append(attrs, slog.String("channel", event.Channel.String()))
	}
	if event.LinkID != 0 {
		attrs = append(attrs, slog.Int("lid", int(event.LinkID)))
	}
	if event.RemoteAddr != "" {
		attrs = append(attrs, slog.String("remote", event.RemoteAddr))
	}

	switch {
	case event.Frame != nil:
		attrs = append(attrs,
			slog.Int("frame_size", event.Frame.Size),
			slog.Bool("last", event.Frame.Last),
			slog.Bool("truncated", event.Frame.Truncated),
		)
	case event.Call != nil:
		attrs = append(attrs,
			slog.Uint64("xid", uint64(event.Call.XID)),
			slog.String("msg_type", event.Call.Type.String()),
			slog.Uint64("proc", uint64(event.Call.Procedure)),
		)
		if event.Call.Program != 0 {
			attrs = append(attrs, slog.Uint64("prog", uint64(event.Call.Program)))
		}
		if event.Call.ProcedureName != "" {
			attrs = append(attrs, slog.String("proc_name", event.Call.ProcedureName))
		}
		if event.Call.AcceptStatus != nil {
			attrs = append(attrs, slog.Uint64("accept_stat", uint64(*event.Call.AcceptStatus)))
		}
		if event.Call.DeviceError != nil {
			attrs = append(attrs, slog.Int("device_error", int(*event.Call.DeviceError)))
		}
		if event.Call.ProcessingTime != nil {
			attrs = append(attrs, slog.Duration("processing_time", *event.Call.ProcessingTime))
		}
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("entity", event.StateChange.Entity.String()),
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error_layer", event.Error.Layer.String()),
			slog.String("error_msg", event.Error.Message),
			slog.String("error_context", event.Error.Context),
		)
		if event.Error.Code != nil {
			attrs = append(attrs, slog.Int("error_code", *event.Error.Code))
		}
	}

	a.logger.LogAttrs(context.Background(), a.level, "protocol", attrs...)
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
