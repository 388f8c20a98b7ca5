package rpc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/vxi11-protocol/vxi11-go/pkg/log"
)

// Record marking constants.
const (
	// RecordMarkSize is the size of the fragment header in bytes.
	RecordMarkSize = 4

	// lastFragmentBit marks the final fragment of a record.
	lastFragmentBit = 1 << 31

	// MaxFragmentSize is the largest fragment a header can describe.
	MaxFragmentSize = lastFragmentBit - 1

	// DefaultMaxRecordSize bounds reassembled records (1 MB).
	DefaultMaxRecordSize = 1 << 20

	// DefaultFragmentSize is the fragment size used when writing records.
	DefaultFragmentSize = 64 * 1024

	// MaxLogFrameDataSize is the maximum fragment data included in log events (4 KB).
	MaxLogFrameDataSize = 4096
)

// Framing errors.
var (
	// ErrRecordTooLarge indicates a record exceeds the maximum size.
	ErrRecordTooLarge = errors.New("record too large")

	// ErrRecordEmpty indicates an empty record.
	ErrRecordEmpty = errors.New("record is empty")

	// ErrFrameTruncated indicates the stream ended inside a fragment.
	ErrFrameTruncated = errors.New("frame truncated")
)

// RecordWriter writes records to a stream, split into fragments.
type RecordWriter struct {
	w            io.Writer
	fragmentSize int
	mu           sync.Mutex

	logger log.Logger
	connID string
}

// NewRecordWriter creates a record writer using DefaultFragmentSize.
func NewRecordWriter(w io.Writer) *RecordWriter {
	return &RecordWriter{w: w, fragmentSize: DefaultFragmentSize}
}

// SetFragmentSize changes the maximum fragment payload size.
func (rw *RecordWriter) SetFragmentSize(n int) {
	if n <= 0 || n > MaxFragmentSize {
		n = DefaultFragmentSize
	}
	rw.fragmentSize = n
}

// SetLogger configures logging for this writer.
// Pass nil to disable logging.
func (rw *RecordWriter) SetLogger(logger log.Logger, connID string) {
	rw.logger = logger
	rw.connID = connID
}

// WriteRecord writes data as one record.
// Thread-safe: records from concurrent callers are never interleaved.
func (rw *RecordWriter) WriteRecord(data []byte) error {
	if len(data) == 0 {
		return ErrRecordEmpty
	}

	rw.mu.Lock()
	defer rw.mu.Unlock()

	for len(data) > 0 {
		n := min(len(data), rw.fragmentSize)
		last := n == len(data)

		mark := uint32(n)
		if last {
			mark |= lastFragmentBit
		}
		buf := make([]byte, RecordMarkSize+n)
		binary.BigEndian.PutUint32(buf, mark)
		copy(buf[RecordMarkSize:], data[:n])

		if _, err := rw.w.Write(buf); err != nil {
			return fmt.Errorf("failed to write fragment: %w", err)
		}
		if rw.logger != nil {
			rw.logger.Log(makeFrameEvent(rw.connID, data[:n], last, log.DirectionOut))
		}
		data = data[n:]
	}
	return nil
}

// RecordReader reassembles records from a fragmented stream.
type RecordReader struct {
	r             io.Reader
	maxRecordSize int
	markBuf       [RecordMarkSize]byte

	logger log.Logger
	connID string
}

// NewRecordReader creates a record reader bounded by DefaultMaxRecordSize.
func NewRecordReader(r io.Reader) *RecordReader {
	return &RecordReader{r: r, maxRecordSize: DefaultMaxRecordSize}
}

// SetMaxRecordSize updates the maximum reassembled record size.
func (rr *RecordReader) SetMaxRecordSize(size int) {
	rr.maxRecordSize = size
}

// SetLogger configures logging for this reader.
// Pass nil to disable logging.
func (rr *RecordReader) SetLogger(logger log.Logger, connID string) {
	rr.logger = logger
	rr.connID = connID
}

// ReadRecord reads fragments until the last-fragment bit is seen and returns
// the concatenated payload.
func (rr *RecordReader) ReadRecord() ([]byte, error) {
	var record []byte
	for {
		if _, err := io.ReadFull(rr.r, rr.markBuf[:]); err != nil {
			if err == io.EOF && record == nil {
				return nil, err
			}
			if errors.Is(err, io.ErrUnexpectedEOF) || err == io.EOF {
				return nil, ErrFrameTruncated
			}
			return nil, fmt.Errorf("failed to read record mark: %w", err)
		}

		mark := binary.BigEndian.Uint32(rr.markBuf[:])
		last := mark&lastFragmentBit != 0
		length := int(mark &^ lastFragmentBit)

		if len(record)+length > rr.maxRecordSize {
			return nil, fmt.Errorf("%w: %d > %d", ErrRecordTooLarge, len(record)+length, rr.maxRecordSize)
		}

		start := len(record)
		record = append(record, make([]byte, length)...)
		if _, err := io.ReadFull(rr.r, record[start:]); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || err == io.EOF {
				return nil, ErrFrameTruncated
			}
			return nil, fmt.Errorf("failed to read fragment: %w", err)
		}

		if rr.logger != nil {
			rr.logger.Log(makeFrameEvent(rr.connID, record[start:], last, log.DirectionIn))
		}

		if last {
			if len(record) == 0 {
				return nil, ErrRecordEmpty
			}
			return record, nil
		}
	}
}

// makeFrameEvent creates a log event for a record fragment.
func makeFrameEvent(connID string, data []byte, last bool, direction log.Direction) log.Event {
	frameData := data
	truncated := false
	if len(data) > MaxLogFrameDataSize {
		frameData = data[:MaxLogFrameDataSize]
		truncated = true
	}

	return log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Direction:    direction,
		Layer:        log.LayerTransport,
		Category:     log.CategoryMessage,
		Frame: &log.FrameEvent{
			Size:      RecordMarkSize + len(data),
			Data:      frameData,
			Truncated: truncated,
			Last:      last,
		},
	}
}

// Framer combines record reading and writing on one stream.
type Framer struct {
	*RecordReader
	*RecordWriter
}

// NewFramer creates a new framer for bidirectional communication.
func NewFramer(rw io.ReadWriter) *Framer {
	return &Framer{
		RecordReader: NewRecordReader(rw),
		RecordWriter: NewRecordWriter(rw),
	}
}

// SetLogger configures logging for both reader and writer.
func (f *Framer) SetLogger(logger log.Logger, connID string) {
	f.RecordReader.SetLogger(logger, connID)
	f.RecordWriter.SetLogger(logger, connID)
}
