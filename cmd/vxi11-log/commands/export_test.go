package commands

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vxi11-protocol/vxi11-go/pkg/log"
	"github.com/vxi11-protocol/vxi11-go/pkg/wire"
)

func createTestLogFile(t *testing.T, events []log.Event) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.vlog")

	logger, err := log.NewFileLogger(path)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	for _, e := range events {
		logger.Log(e)
	}
	logger.Close()

	return path
}

// readCallPair returns a device_read call and its IO_TIMEOUT reply on link 7.
func readCallPair(ts time.Time) []log.Event {
	devErr := int32(wire.IOTimeout)
	took := 150 * time.Millisecond
	return []log.Event{
		{
			Timestamp:    ts,
			ConnectionID: "abc12345",
			Direction:    log.DirectionIn,
			Layer:        log.LayerRPC,
			Category:     log.CategoryMessage,
			Channel:      log.ChannelCore,
			LinkID:       7,
			Call: &log.CallEvent{
				Type:      log.MessageTypeCall,
				XID:       42,
				Program:   wire.CoreProgram,
				Version:   1,
				Procedure: wire.ProcDeviceRead,
			},
		},
		{
			Timestamp:    ts.Add(time.Second),
			ConnectionID: "abc12345",
			Direction:    log.DirectionOut,
			Layer:        log.LayerRPC,
			Category:     log.CategoryMessage,
			Channel:      log.ChannelCore,
			LinkID:       7,
			Call: &log.CallEvent{
				Type:           log.MessageTypeReply,
				XID:            42,
				Program:        wire.CoreProgram,
				Version:        1,
				Procedure:      wire.ProcDeviceRead,
				DeviceError:    &devErr,
				ProcessingTime: &took,
			},
		},
	}
}

func TestExportToJSONL(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 15, 32, 123456000, time.UTC)
	path := createTestLogFile(t, readCallPair(ts))

	var buf bytes.Buffer
	if err := Export(path, "jsonl", &buf); err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}

	var event log.Event
	if err := json.Unmarshal([]byte(lines[1]), &event); err != nil {
		t.Fatalf("line 2 is not valid JSON: %v", err)
	}
	if event.Call == nil || event.Call.XID != 42 {
		t.Errorf("expected reply with XID 42, got %+v", event.Call)
	}
	if event.LinkID != 7 {
		t.Errorf("expected link 7, got %d", event.LinkID)
	}
}

func TestExportToCSV(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 15, 32, 123456000, time.UTC)
	path := createTestLogFile(t, readCallPair(ts))

	var buf bytes.Buffer
	if err := Export(path, "csv", &buf); err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("invalid CSV: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(records))
	}
	if strings.Join(records[0], ",") != strings.Join(csvHeader, ",") {
		t.Errorf("unexpected header: %v", records[0])
	}

	reply := records[2]
	if reply[3] != "CORE" {
		t.Errorf("expected CORE channel, got %q", reply[3])
	}
	if reply[6] != "7" {
		t.Errorf("expected link 7, got %q", reply[6])
	}
	if reply[9] != "device_read" {
		t.Errorf("expected device_read, got %q", reply[9])
	}
	if reply[10] != "IO_TIMEOUT" {
		t.Errorf("expected IO_TIMEOUT, got %q", reply[10])
	}
}

func TestRunExportWritesFile(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 15, 32, 0, time.UTC)
	path := createTestLogFile(t, readCallPair(ts))
	out := filepath.Join(t.TempDir(), "out.jsonl")

	if err := RunExport(path, "jsonl", out); err != nil {
		t.Fatalf("RunExport failed: %v", err)
	}

	var buf bytes.Buffer
	if err := Export(path, "jsonl", &buf); err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if buf.Len() == 0 {
		t.Error("expected output")
	}
}

func TestExportUnknownFormat(t *testing.T) {
	path := createTestLogFile(t, nil)

	err := RunExport(path, "xml", "")
	if err == nil {
		t.Fatal("expected error for unknown format")
	}
	if !strings.Contains(err.Error(), "unknown format") {
		t.Errorf("unexpected error: %v", err)
	}
}
