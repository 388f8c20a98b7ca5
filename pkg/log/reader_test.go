package log

import (
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"
)

func writeEvents(t *testing.T, events ...Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.vlog")
	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	for _, e := range events {
		logger.Log(e)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	return path
}

func readAll(t *testing.T, path string, filter Filter) []Event {
	t.Helper()
	r, err := NewFilteredReader(path, filter)
	if err != nil {
		t.Fatalf("NewFilteredReader failed: %v", err)
	}
	defer r.Close()

	var out []Event
	for {
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		out = append(out, e)
	}
}

func TestFilterByChannelAndLink(t *testing.T) {
	base := time.Now()
	path := writeEvents(t,
		Event{Timestamp: base, ConnectionID: "a", Channel: ChannelCore, LinkID: 1},
		Event{Timestamp: base.Add(time.Second), ConnectionID: "b", Channel: ChannelAbort, LinkID: 1},
		Event{Timestamp: base.Add(2 * time.Second), ConnectionID: "a", Channel: ChannelCore, LinkID: 2},
		Event{Timestamp: base.Add(3 * time.Second), ConnectionID: "c", Channel: ChannelInterrupt},
	)

	core := ChannelCore
	if got := readAll(t, path, Filter{Channel: &core}); len(got) != 2 {
		t.Errorf("channel filter: got %d events, want 2", len(got))
	}
	if got := readAll(t, path, Filter{LinkID: 1}); len(got) != 2 {
		t.Errorf("link filter: got %d events, want 2", len(got))
	}
	if got := readAll(t, path, Filter{ConnectionID: "a", LinkID: 2}); len(got) != 1 {
		t.Errorf("combined filter: got %d events, want 1", len(got))
	}

	start := base.Add(time.Second)
	end := base.Add(3 * time.Second)
	got := readAll(t, path, Filter{TimeStart: &start, TimeEnd: &end})
	if len(got) != 2 {
		t.Fatalf("time filter: got %d events, want 2", len(got))
	}
	if got[0].ConnectionID != "b" {
		t.Errorf("first in window: got %q, want %q", got[0].ConnectionID, "b")
	}
}

func TestFilterByDirectionLayerCategory(t *testing.T) {
	path := writeEvents(t,
		Event{Direction: DirectionIn, Layer: LayerTransport, Category: CategoryMessage},
		Event{Direction: DirectionOut, Layer: LayerRPC, Category: CategoryMessage},
		Event{Direction: DirectionIn, Layer: LayerSession, Category: CategoryState},
	)

	in := DirectionIn
	rpc := LayerRPC
	state := CategoryState
	if got := readAll(t, path, Filter{Direction: &in}); len(got) != 2 {
		t.Errorf("direction: got %d, want 2", len(got))
	}
	if got := readAll(t, path, Filter{Layer: &rpc}); len(got) != 1 {
		t.Errorf("layer: got %d, want 1", len(got))
	}
	if got := readAll(t, path, Filter{Category: &state}); len(got) != 1 {
		t.Errorf("category: got %d, want 1", len(got))
	}
}

func TestNewReaderMissingFile(t *testing.T) {
	if _, err := NewReader(filepath.Join(t.TempDir(), "missing.vlog")); err == nil {
		t.Error("expected error for missing file")
	}
}
