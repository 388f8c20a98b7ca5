package commands

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/vxi11-protocol/vxi11-go/pkg/log"
	"github.com/vxi11-protocol/vxi11-go/pkg/wire"
)

func collectStats(t *testing.T, events []log.Event) *Stats {
	t.Helper()
	stats := newStats()
	for _, e := range events {
		stats.add(e)
	}
	return stats
}

func TestStatsCounts(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC)
	events := readCallPair(ts)
	events = append(events,
		log.Event{Timestamp: ts, ConnectionID: "def67890", Layer: log.LayerTransport, Channel: log.ChannelAbort, Frame: &log.FrameEvent{Size: 40}},
		log.Event{Timestamp: ts, ConnectionID: "def67890", Layer: log.LayerSession, Category: log.CategoryError, Error: &log.ErrorEventData{Message: "boom"}},
	)

	stats := collectStats(t, events)

	if stats.TotalEvents != 4 {
		t.Errorf("expected 4 events, got %d", stats.TotalEvents)
	}
	if stats.EventsByLayer[log.LayerRPC] != 2 {
		t.Errorf("expected 2 rpc events, got %d", stats.EventsByLayer[log.LayerRPC])
	}
	if stats.EventsByChannel[log.ChannelCore] != 2 || stats.EventsByChannel[log.ChannelAbort] != 1 {
		t.Errorf("unexpected channel counts: %v", stats.EventsByChannel)
	}
	if stats.EventsByCategory[log.CategoryError] != 1 {
		t.Errorf("expected 1 error category event, got %d", stats.EventsByCategory[log.CategoryError])
	}
	if len(stats.Connections) != 2 {
		t.Errorf("expected 2 connections, got %d", len(stats.Connections))
	}
	if stats.Errors != 1 {
		t.Errorf("expected 1 error, got %d", stats.Errors)
	}
}

func TestStatsProcedures(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC)
	stats := collectStats(t, readCallPair(ts))

	p, ok := stats.Procedures["device_read"]
	if !ok {
		t.Fatalf("expected device_read entry, got %v", stats.Procedures)
	}
	if p.Calls != 1 || p.Replies != 1 {
		t.Errorf("expected 1 call and 1 reply, got %d/%d", p.Calls, p.Replies)
	}
	if p.Mean() != 150*time.Millisecond || p.Max != 150*time.Millisecond {
		t.Errorf("unexpected timing mean=%s max=%s", p.Mean(), p.Max)
	}
	if stats.DeviceErrors[wire.IOTimeout] != 1 {
		t.Errorf("expected 1 IO_TIMEOUT, got %v", stats.DeviceErrors)
	}

	conn := stats.Connections["abc12345"]
	if conn == nil || !conn.Links[7] {
		t.Errorf("expected link 7 on connection, got %+v", conn)
	}
}

func TestStatsTimeRange(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC)
	stats := collectStats(t, []log.Event{
		{Timestamp: ts.Add(time.Minute)},
		{Timestamp: ts},
		{Timestamp: ts.Add(2 * time.Minute)},
	})

	if !stats.TimeRange.Start.Equal(ts) {
		t.Errorf("expected start %s, got %s", ts, stats.TimeRange.Start)
	}
	if !stats.TimeRange.End.Equal(ts.Add(2 * time.Minute)) {
		t.Errorf("expected end %s, got %s", ts.Add(2*time.Minute), stats.TimeRange.End)
	}
}

func TestRunStatsOutput(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC)
	path := createTestLogFile(t, readCallPair(ts))

	var buf bytes.Buffer
	if err := RunStats(path, &buf); err != nil {
		t.Fatalf("RunStats failed: %v", err)
	}
	output := buf.String()

	for _, want := range []string{
		"Total Events: 2",
		"CORE:",
		"device_read",
		"IO_TIMEOUT (15):",
		"Connections: 1",
		"Links: 1",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output:\n%s", want, output)
		}
	}
}
