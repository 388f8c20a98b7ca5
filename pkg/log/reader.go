package log

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Filter selects events. Zero fields match everything.
type Filter struct {
	ConnectionID string
	Direction    *Direction
	Layer        *Layer
	Category     *Category
	Channel      *Channel

	// TimeStart and TimeEnd bound the half-open window [TimeStart, TimeEnd).
	TimeStart *time.Time
	TimeEnd   *time.Time

	// LinkID selects the events of one device link. Events recorded
	// before a link exists (create_link calls, connection state) carry 0
	// and are not selected.
	LinkID int32
}

// predicates returns one check per set criterion.
func (f Filter) predicates() []func(Event) bool {
	var ps []func(Event) bool
	if f.ConnectionID != "" {
		id := f.ConnectionID
		ps = append(ps, func(e Event) bool { return e.ConnectionID == id })
	}
	if f.Direction != nil {
		d := *f.Direction
		ps = append(ps, func(e Event) bool { return e.Direction == d })
	}
	if f.Layer != nil {
		l := *f.Layer
		ps = append(ps, func(e Event) bool { return e.Layer == l })
	}
	if f.Category != nil {
		c := *f.Category
		ps = append(ps, func(e Event) bool { return e.Category == c })
	}
	if f.Channel != nil {
		ch := *f.Channel
		ps = append(ps, func(e Event) bool { return e.Channel == ch })
	}
	if f.TimeStart != nil {
		start := *f.TimeStart
		ps = append(ps, func(e Event) bool { return !e.Timestamp.Before(start) })
	}
	if f.TimeEnd != nil {
		end := *f.TimeEnd
		ps = append(ps, func(e Event) bool { return e.Timestamp.Before(end) })
	}
	if f.LinkID != 0 {
		link := f.LinkID
		ps = append(ps, func(e Event) bool { return e.LinkID == link })
	}
	return ps
}

// Match reports whether event satisfies every criterion of f.
func (f Filter) Match(event Event) bool {
	for _, p := range f.predicates() {
		if !p(event) {
			return false
		}
	}
	return true
}

// Reader streams the events of a capture file.
type Reader struct {
	file   *os.File
	dec    *cbor.Decoder
	header *Header
	match  []func(Event) bool
	record int
}

// NewReader opens a capture and reads every event.
func NewReader(path string) (*Reader, error) {
	return NewFilteredReader(path, Filter{})
}

// NewFilteredReader opens a capture and reads the events selected by filter.
func NewFilteredReader(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	br := bufio.NewReader(f)
	dec := decMode.NewDecoder(br)
	h, err := readHeader(br, dec)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &Reader{file: f, dec: dec, header: h, match: filter.predicates()}, nil
}

// Header returns the capture header, or nil for an untagged event stream.
func (r *Reader) Header() *Header { return r.header }

// Next returns the next selected event, or io.EOF at the end of the file.
// A record cut short at the end of the file yields ErrTruncated.
func (r *Reader) Next() (Event, error) {
next:
	for {
		var event Event
		err := r.dec.Decode(&event)
		switch {
		case errors.Is(err, io.EOF):
			return Event{}, io.EOF
		case errors.Is(err, io.ErrUnexpectedEOF):
			return Event{}, fmt.Errorf("%w after %d events", ErrTruncated, r.record)
		case err != nil:
			return Event{}, fmt.Errorf("log: event %d: %w", r.record+1, err)
		}
		r.record++

		for _, p := range r.match {
			if !p(event) {
				continue next
			}
		}
		return event, nil
	}
}

// Events iterates over the remaining selected events. Iteration stops after
// the first error, which is yielded with a zero Event; io.EOF is not
// yielded.
func (r *Reader) Events() iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for {
			event, err := r.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(event, err) || err != nil {
				return
			}
		}
	}
}

// Close closes the capture file.
func (r *Reader) Close() error {
	return r.file.Close()
}
