package log

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// A capture file is the CBOR self-describe tag (55799), a Header record and
// then one Event record per logged event. Files written without the tag are
// read as a bare event stream.
var captureMagic = []byte{0xd9, 0xd9, 0xf7}

const (
	// CaptureFormat identifies vxi11 protocol captures.
	CaptureFormat = "vxi11-capture"

	// CaptureVersion is the Event layout written by this package.
	CaptureVersion = 1
)

var (
	// ErrNotCapture is returned for tagged files whose header names
	// another format.
	ErrNotCapture = errors.New("log: not a vxi11 capture")

	// ErrCaptureVersion is returned for captures newer than CaptureVersion.
	ErrCaptureVersion = errors.New("log: unsupported capture version")

	// ErrTruncated is returned when the last record of a capture was cut
	// short, typically by a writer that did not close the file.
	ErrTruncated = errors.New("log: truncated capture")
)

// Header is the first record of a capture file.
type Header struct {
	Format  string    `cbor:"1,keyasint"`
	Version int       `cbor:"2,keyasint"`
	Created time.Time `cbor:"3,keyasint"`
}

// Events are encoded canonically with RFC 3339 timestamps. Decoding
// tolerates duplicate keys and unknown fields from other layouts.
var (
	encMode = mustEncMode()
	decMode = mustDecMode()
)

func mustEncMode() cbor.EncMode {
	em, err := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("log: cbor encode mode: %v", err))
	}
	return em
}

func mustDecMode() cbor.DecMode {
	dm, err := cbor.DecOptions{
		DupMapKey:        cbor.DupMapKeyQuiet,
		IndefLength:      cbor.IndefLengthAllowed,
		MaxArrayElements: 1 << 20,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("log: cbor decode mode: %v", err))
	}
	return dm
}

// writeHeader starts a new capture on w.
func writeHeader(w io.Writer, created time.Time) error {
	b, err := encMode.Marshal(Header{Format: CaptureFormat, Version: CaptureVersion, Created: created})
	if err != nil {
		return err
	}
	_, err = w.Write(append(bytes.Clone(captureMagic), b...))
	return err
}

// readHeader consumes the header of a tagged capture. It returns nil for
// a bare event stream.
func readHeader(br *bufio.Reader, dec *cbor.Decoder) (*Header, error) {
	prefix, err := br.Peek(len(captureMagic))
	if err != nil || !bytes.Equal(prefix, captureMagic) {
		// Short or untagged files are bare streams; Next reports EOF.
		return nil, nil
	}
	if _, err := br.Discard(len(captureMagic)); err != nil {
		return nil, err
	}

	var h Header
	if err := dec.Decode(&h); err != nil {
		return nil, fmt.Errorf("log: capture header: %w", err)
	}
	if h.Format != CaptureFormat {
		return nil, fmt.Errorf("%w: format %q", ErrNotCapture, h.Format)
	}
	if h.Version > CaptureVersion {
		return nil, fmt.Errorf("%w: %d", ErrCaptureVersion, h.Version)
	}
	return &h, nil
}
