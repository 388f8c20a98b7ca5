package xdr

import (
	"errors"
	"testing"
)

func TestEncoderIntegers(t *testing.T) {
	var e Encoder
	e.Uint32(0x0607AF)
	e.Int32(-1)
	e.Bool(true)
	e.Byte('\n')

	want := []byte{
		0x00, 0x06, 0x07, 0xAF,
		0xFF, 0xFF, 0xFF, 0xFF,
		0x00, 0x00, 0x00, 0x01,
		0x00, 0x00, 0x00, 0x0A,
	}
	if string(e.Bytes()) != string(want) {
		t.Errorf("got % x, want % x", e.Bytes(), want)
	}
}

func TestOpaquePadding(t *testing.T) {
	tests := []struct {
		data    string
		wantLen int
	}{
		{"", 4},
		{"a", 8},
		{"ab", 8},
		{"abc", 8},
		{"abcd", 8},
		{"abcde", 12},
	}
	for _, tt := range tests {
		var e Encoder
		e.String(tt.data)
		if e.Len() != tt.wantLen {
			t.Errorf("String(%q): encoded length %d, want %d", tt.data, e.Len(), tt.wantLen)
		}

		d := NewDecoder(e.Bytes())
		got, err := d.String(0)
		if err != nil {
			t.Fatalf("decode %q: %v", tt.data, err)
		}
		if got != tt.data {
			t.Errorf("decoded %q, want %q", got, tt.data)
		}
		if d.Remaining() != 0 {
			t.Errorf("decode %q left %d bytes", tt.data, d.Remaining())
		}
	}
}

func TestDecoderShortBuffer(t *testing.T) {
	d := NewDecoder([]byte{0, 0, 1})
	if _, err := d.Uint32(); !errors.Is(err, ErrShortBuffer) {
		t.Errorf("expected ErrShortBuffer, got %v", err)
	}

	// Length prefix claims more than is present.
	d = NewDecoder([]byte{0, 0, 0, 9, 'a', 'b', 'c', 'd'})
	if _, err := d.Opaque(0); !errors.Is(err, ErrShortBuffer) {
		t.Errorf("expected ErrShortBuffer, got %v", err)
	}
}

func TestDecoderMaxLength(t *testing.T) {
	var e Encoder
	e.Opaque(make([]byte, 41))
	if _, err := NewDecoder(e.Bytes()).Opaque(40); !errors.Is(err, ErrTooLong) {
		t.Errorf("expected ErrTooLong, got %v", err)
	}
}

func TestDecoderBadBool(t *testing.T) {
	if _, err := NewDecoder([]byte{0, 0, 0, 2}).Bool(); !errors.Is(err, ErrBadBool) {
		t.Errorf("expected ErrBadBool, got %v", err)
	}
}

func TestPad(t *testing.T) {
	for n, want := range []int{0, 3, 2, 1, 0, 3} {
		if got := Pad(n); got != want {
			t.Errorf("Pad(%d) = %d, want %d", n, got, want)
		}
	}
}
