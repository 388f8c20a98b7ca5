package xdr

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Decoding errors.
var (
	// ErrShortBuffer indicates the input ended before an item was complete.
	ErrShortBuffer = errors.New("xdr: short buffer")

	// ErrTooLong indicates a variable-length item exceeds its declared bound.
	ErrTooLong = errors.New("xdr: item exceeds maximum length")

	// ErrBadBool indicates a boolean encoded as something other than 0 or 1.
	ErrBadBool = errors.New("xdr: invalid boolean")
)

// Marshaler is implemented by records that can append themselves to an Encoder.
type Marshaler interface {
	MarshalXDR(e *Encoder)
}

// Unmarshaler is implemented by records that can read themselves from a Decoder.
type Unmarshaler interface {
	UnmarshalXDR(d *Decoder) error
}

// Pad returns the number of zero bytes following n bytes of opaque data.
func Pad(n int) int {
	return (4 - n%4) % 4
}

// Encoder appends XDR items to a growing buffer.
// The zero value is ready to use.
type Encoder struct {
	buf []byte
}

// NewEncoder returns an Encoder whose buffer has room for size bytes.
func NewEncoder(size int) *Encoder {
	return &Encoder{buf: make([]byte, 0, size)}
}

// Bytes returns the encoded data.
func (e *Encoder) Bytes() []byte {
	return e.buf
}

// Len returns the number of encoded bytes.
func (e *Encoder) Len() int {
	return len(e.buf)
}

// Reset discards the encoded data but keeps the buffer.
func (e *Encoder) Reset() {
	e.buf = e.buf[:0]
}

// Uint32 appends an unsigned integer.
func (e *Encoder) Uint32(v uint32) {
	e.buf = binary.BigEndian.AppendUint32(e.buf, v)
}

// Int32 appends a signed integer.
func (e *Encoder) Int32(v int32) {
	e.Uint32(uint32(v))
}

// Bool appends a boolean as 0 or 1.
func (e *Encoder) Bool(v bool) {
	if v {
		e.Uint32(1)
		return
	}
	e.Uint32(0)
}

// Byte appends a single byte widened to a 32-bit integer.
func (e *Encoder) Byte(v byte) {
	e.Uint32(uint32(v))
}

// FixedOpaque appends data without a length prefix, padded to four bytes.
func (e *Encoder) FixedOpaque(data []byte) {
	e.buf = append(e.buf, data...)
	for range Pad(len(data)) {
		e.buf = append(e.buf, 0)
	}
}

// Opaque appends a length-prefixed variable-length byte array.
func (e *Encoder) Opaque(data []byte) {
	e.Uint32(uint32(len(data)))
	e.FixedOpaque(data)
}

// String appends a length-prefixed string.
func (e *Encoder) String(s string) {
	e.Opaque([]byte(s))
}

// Marshal appends a record.
func (e *Encoder) Marshal(m Marshaler) {
	m.MarshalXDR(e)
}

// Marshal encodes a record into a new buffer.
func Marshal(m Marshaler) []byte {
	var e Encoder
	m.MarshalXDR(&e)
	return e.Bytes()
}

// Decoder reads XDR items from a byte slice.
type Decoder struct {
	buf []byte
	off int
}

// NewDecoder returns a Decoder reading from data.
func NewDecoder(data []byte) *Decoder {
	return &Decoder{buf: data}
}

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int {
	return len(d.buf) - d.off
}

// Rest returns the unread bytes without consuming them.
func (d *Decoder) Rest() []byte {
	return d.buf[d.off:]
}

func (d *Decoder) take(n int) ([]byte, error) {
	if n < 0 || d.Remaining() < n {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrShortBuffer, n, d.Remaining())
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b, nil
}

// Uint32 reads an unsigned integer.
func (d *Decoder) Uint32() (uint32, error) {
	b, err := d.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// Int32 reads a signed integer.
func (d *Decoder) Int32() (int32, error) {
	v, err := d.Uint32()
	return int32(v), err
}

// Bool reads a boolean.
func (d *Decoder) Bool() (bool, error) {
	v, err := d.Uint32()
	if err != nil {
		return false, err
	}
	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("%w: %d", ErrBadBool, v)
	}
}

// Byte reads a single byte carried in a 32-bit integer.
func (d *Decoder) Byte() (byte, error) {
	v, err := d.Uint32()
	return byte(v), err
}

// FixedOpaque reads n bytes of data followed by padding.
// The returned slice is a copy.
func (d *Decoder) FixedOpaque(n int) ([]byte, error) {
	b, err := d.take(n)
	if err != nil {
		return nil, err
	}
	if _, err := d.take(Pad(n)); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

// Opaque reads a length-prefixed byte array of at most max bytes.
// A max of zero means unbounded.
func (d *Decoder) Opaque(max int) ([]byte, error) {
	n, err := d.Uint32()
	if err != nil {
		return nil, err
	}
	if max > 0 && int64(n) > int64(max) {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooLong, n, max)
	}
	if int64(n) > int64(d.Remaining()) {
		return nil, fmt.Errorf("%w: opaque length %d, have %d", ErrShortBuffer, n, d.Remaining())
	}
	return d.FixedOpaque(int(n))
}

// String reads a length-prefixed string of at most max bytes.
func (d *Decoder) String(max int) (string, error) {
	b, err := d.Opaque(max)
	return string(b), err
}

// Unmarshal decodes a record.
func (d *Decoder) Unmarshal(u Unmarshaler) error {
	return u.UnmarshalXDR(d)
}

// Unmarshal decodes a record from data.
func Unmarshal(data []byte, u Unmarshaler) error {
	return u.UnmarshalXDR(NewDecoder(data))
}
