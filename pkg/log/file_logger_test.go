package log

import (
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestFileLoggerRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.vlog")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}

	status := uint32(0)
	code := int32(23)
	elapsed := 3 * time.Millisecond
	logger.Log(Event{
		Timestamp:    time.Now(),
		ConnectionID: "conn-1",
		Direction:    DirectionOut,
		Layer:        LayerRPC,
		Category:     CategoryMessage,
		Channel:      ChannelCore,
		LinkID:       7,
		Call: &CallEvent{
			Type:           MessageTypeReply,
			XID:            42,
			Procedure:      12,
			ProcedureName:  "device_read",
			AcceptStatus:   &status,
			DeviceError:    &code,
			ProcessingTime: &elapsed,
		},
	})
	logger.Log(Event{
		Timestamp:    time.Now(),
		ConnectionID: "conn-1",
		Layer:        LayerTransport,
		Category:     CategoryMessage,
		Frame:        &FrameEvent{Size: 16, Data: []byte{1, 2, 3, 4}, Last: true},
	})
	if logger.Count() != 2 {
		t.Errorf("Count: got %d, want 2", logger.Count())
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer r.Close()

	first, err := r.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if first.Call == nil {
		t.Fatal("Call is nil")
	}
	if first.Call.XID != 42 || first.Call.ProcedureName != "device_read" {
		t.Errorf("Call: got %+v", first.Call)
	}
	if first.Call.DeviceError == nil || *first.Call.DeviceError != 23 {
		t.Errorf("DeviceError: got %v, want 23", first.Call.DeviceError)
	}
	if first.Channel != ChannelCore || first.LinkID != 7 {
		t.Errorf("Channel/LinkID: got %v/%d", first.Channel, first.LinkID)
	}

	second, err := r.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if second.Frame == nil || !second.Frame.Last {
		t.Errorf("Frame: got %+v", second.Frame)
	}

	if _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestFileLoggerCloseIdempotent(t *testing.T) {
	logger, err := NewFileLogger(filepath.Join(t.TempDir(), "c.vlog"))
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}

	// Logging after close is ignored.
	logger.Log(Event{ConnectionID: "late"})
	if logger.Count() != 0 {
		t.Errorf("Count after close: got %d, want 0", logger.Count())
	}
}

func TestFileLoggerConcurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.vlog")
	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 25 {
				logger.Log(Event{
					Timestamp:    time.Now(),
					ConnectionID: "conn",
					LinkID:       int32(i*100 + j + 1),
				})
			}
		}()
	}
	wg.Wait()
	logger.Close()

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer r.Close()

	n := 0
	for {
		if _, err := r.Next(); err != nil {
			if !errors.Is(err, io.EOF) {
				t.Fatalf("Next failed: %v", err)
			}
			break
		}
		n++
	}
	if n != 200 {
		t.Errorf("read %d events, want 200", n)
	}
}
