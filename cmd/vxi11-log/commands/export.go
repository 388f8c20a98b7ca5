package commands

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/vxi11-protocol/vxi11-go/pkg/log"
	"github.com/vxi11-protocol/vxi11-go/pkg/wire"
)

var csvHeader = []string{
	"timestamp", "connection_id", "direction", "channel", "layer", "category",
	"link_id", "type", "xid", "procedure", "error",
}

// RunExport exports the log file to the specified format. An empty output
// writes to stdout.
func RunExport(path, format, output string) error {
	if format != "jsonl" && format != "csv" {
		return fmt.Errorf("unknown format: %s (supported: jsonl, csv)", format)
	}

	var w io.Writer = os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	return Export(path, format, w)
}

// Export writes the events of path to w as jsonl or csv.
func Export(path, format string, w io.Writer) error {
	switch format {
	case "jsonl":
		encoder := json.NewEncoder(w)
		return each(path, log.Filter{}, func(event log.Event) error {
			if err := encoder.Encode(event); err != nil {
				return fmt.Errorf("failed to encode event: %w", err)
			}
			return nil
		})
	case "csv":
		return exportCSV(path, w)
	default:
		return fmt.Errorf("unknown format: %s (supported: jsonl, csv)", format)
	}
}

func exportCSV(path string, w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	err := each(path, log.Filter{}, func(event log.Event) error {
		return cw.Write(csvRow(event))
	})
	cw.Flush()
	if err != nil {
		return err
	}
	return cw.Error()
}

func csvRow(event log.Event) []string {
	eventType := "unknown"
	var xid, procedure, devErr string
	switch {
	case event.Frame != nil:
		eventType = "frame"
	case event.Call != nil:
		c := event.Call
		eventType = c.Type.String()
		xid = strconv.FormatUint(uint64(c.XID), 10)
		procedure = c.ProcedureName
		if procedure == "" {
			procedure = wire.ProcedureName(c.Program, c.Procedure)
		}
		if c.DeviceError != nil {
			devErr = wire.ErrorCode(*c.DeviceError).String()
		}
	case event.StateChange != nil:
		eventType = "state"
	case event.Error != nil:
		eventType = "error"
		devErr = event.Error.Message
	}

	link := ""
	if event.LinkID != 0 {
		link = strconv.FormatInt(int64(event.LinkID), 10)
	}

	return []string{
		event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z"),
		event.ConnectionID,
		event.Direction.String(),
		event.Channel.String(),
		event.Layer.String(),
		event.Category.String(),
		link,
		eventType,
		xid,
		procedure,
		devErr,
	}
}
