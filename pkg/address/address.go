// Package address parses VXI-11 device names and VISA TCPIP resource strings.
//
// Device names select a device behind one instrument server:
//
//	inst0                      generic instrument
//	gpib0,5                    GPIB interface 0, primary address 5
//	gpib0,5,10                 ... with secondary address 10
//	usb0::0x0957::0x1796::MY123::0
//
// VISA resources name a host and a device: TCPIP0::192.168.1.10::inst0::INSTR.
package address

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidAddress indicates a device name that does not follow the grammar.
var ErrInvalidAddress = errors.New("invalid device address")

// Address ranges.
const (
	MaxInterface    = 127
	MinGPIBAddress  = 1
	MaxGPIBAddress  = 31
	DefaultDevice   = "inst0"
	noGPIBSecondary = -1
)

// Kind is the device name family.
type Kind int

const (
	KindInstrument Kind = iota
	KindGPIB
	KindUSB
)

// String returns the device name prefix for the kind.
func (k Kind) String() string {
	switch k {
	case KindInstrument:
		return "inst"
	case KindGPIB:
		return "gpib"
	case KindUSB:
		return "usb"
	}
	return "unknown"
}

// DeviceName is a parsed device name.
type DeviceName struct {
	Kind Kind

	// Interface is the board number after the prefix.
	Interface int

	// Primary and Secondary are GPIB addresses; Secondary is -1 when absent,
	// Primary is -1 when the name addresses the interface itself.
	Primary   int
	Secondary int

	// USB identification, empty when absent.
	Manufacturer string
	Model        string
	Serial       string
	USBInterface int
}

// ParseDeviceName parses a device name such as "inst0" or "gpib0,5".
// Prefixes are case-insensitive.
func ParseDeviceName(s string) (DeviceName, error) {
	lower := strings.ToLower(strings.TrimSpace(s))
	switch {
	case strings.HasPrefix(lower, "inst"):
		n, err := parseInterface(lower[len("inst"):], s)
		if err != nil {
			return DeviceName{}, err
		}
		return DeviceName{Kind: KindInstrument, Interface: n, Primary: noGPIBSecondary, Secondary: noGPIBSecondary}, nil

	case strings.HasPrefix(lower, "gpib"):
		return parseGPIB(lower[len("gpib"):], s)

	case strings.HasPrefix(lower, "usb"):
		return parseUSB(strings.TrimSpace(s)[len("usb"):], s)
	}
	return DeviceName{}, fmt.Errorf("%w: %q: unknown prefix", ErrInvalidAddress, s)
}

func parseInterface(digits, orig string) (int, error) {
	if digits == "" {
		return 0, fmt.Errorf("%w: %q: missing interface number", ErrInvalidAddress, orig)
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n < 0 || n > MaxInterface || strings.HasPrefix(digits, "+") {
		return 0, fmt.Errorf("%w: %q: interface number must be 0-%d", ErrInvalidAddress, orig, MaxInterface)
	}
	return n, nil
}

func parseGPIBAddress(field, what, orig string) (int, error) {
	n, err := strconv.Atoi(field)
	if err != nil || n < MinGPIBAddress || n > MaxGPIBAddress {
		return 0, fmt.Errorf("%w: %q: %s address must be %d-%d", ErrInvalidAddress, orig, what, MinGPIBAddress, MaxGPIBAddress)
	}
	return n, nil
}

func parseGPIB(rest, orig string) (DeviceName, error) {
	parts := strings.Split(rest, ",")
	if len(parts) > 3 {
		return DeviceName{}, fmt.Errorf("%w: %q: too many fields", ErrInvalidAddress, orig)
	}
	n, err := parseInterface(parts[0], orig)
	if err != nil {
		return DeviceName{}, err
	}
	d := DeviceName{Kind: KindGPIB, Interface: n, Primary: noGPIBSecondary, Secondary: noGPIBSecondary}
	if len(parts) > 1 {
		if d.Primary, err = parseGPIBAddress(parts[1], "primary", orig); err != nil {
			return DeviceName{}, err
		}
	}
	if len(parts) > 2 {
		if d.Secondary, err = parseGPIBAddress(parts[2], "secondary", orig); err != nil {
			return DeviceName{}, err
		}
	}
	return d, nil
}

func parseUSB(rest, orig string) (DeviceName, error) {
	parts := strings.Split(rest, "::")
	n, err := parseInterface(parts[0], orig)
	if err != nil {
		return DeviceName{}, err
	}
	d := DeviceName{Kind: KindUSB, Interface: n, Primary: noGPIBSecondary, Secondary: noGPIBSecondary}
	switch len(parts) {
	case 1:
		return d, nil
	case 5:
		for _, p := range parts[1:4] {
			if p == "" {
				return DeviceName{}, fmt.Errorf("%w: %q: empty USB field", ErrInvalidAddress, orig)
			}
		}
		d.Manufacturer, d.Model, d.Serial = parts[1], parts[2], parts[3]
		if d.USBInterface, err = strconv.Atoi(parts[4]); err != nil || d.USBInterface < 0 {
			return DeviceName{}, fmt.Errorf("%w: %q: USB interface number", ErrInvalidAddress, orig)
		}
		return d, nil
	}
	return DeviceName{}, fmt.Errorf("%w: %q: USB names take manufacturer, model, serial and interface", ErrInvalidAddress, orig)
}

// String formats the name in canonical lower-case form.
func (d DeviceName) String() string {
	switch d.Kind {
	case KindGPIB:
		s := fmt.Sprintf("gpib%d", d.Interface)
		if d.Primary >= 0 {
			s += fmt.Sprintf(",%d", d.Primary)
			if d.Secondary >= 0 {
				s += fmt.Sprintf(",%d", d.Secondary)
			}
		}
		return s
	case KindUSB:
		s := fmt.Sprintf("usb%d", d.Interface)
		if d.Manufacturer != "" {
			s += fmt.Sprintf("::%s::%s::%s::%d", d.Manufacturer, d.Model, d.Serial, d.USBInterface)
		}
		return s
	default:
		return fmt.Sprintf("inst%d", d.Interface)
	}
}

// IsInterface reports whether a GPIB name addresses the bus controller rather
// than a device on it.
func (d DeviceName) IsInterface() bool {
	return d.Kind == KindGPIB && d.Primary < 0
}

// Resource is a parsed VISA TCPIP INSTR resource string.
type Resource struct {
	Board  int
	Host   string
	Device string
}

// ParseResource parses TCPIP[board]::host[::device][::INSTR]. A bare host
// name is also accepted. The device defaults to inst0.
func ParseResource(s string) (Resource, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, "::")
	if len(parts) == 1 {
		if s == "" {
			return Resource{}, fmt.Errorf("%w: empty resource", ErrInvalidAddress)
		}
		return Resource{Host: s, Device: DefaultDevice}, nil
	}

	head := strings.ToUpper(parts[0])
	if !strings.HasPrefix(head, "TCPIP") {
		return Resource{}, fmt.Errorf("%w: %q: not a TCPIP resource", ErrInvalidAddress, s)
	}
	r := Resource{Device: DefaultDevice}
	if board := head[len("TCPIP"):]; board != "" {
		n, err := strconv.Atoi(board)
		if err != nil || n < 0 {
			return Resource{}, fmt.Errorf("%w: %q: board number", ErrInvalidAddress, s)
		}
		r.Board = n
	}

	rest := parts[1:]
	if len(rest) > 0 && strings.EqualFold(rest[len(rest)-1], "INSTR") {
		rest = rest[:len(rest)-1]
	}
	switch len(rest) {
	case 1:
		r.Host = rest[0]
	case 2:
		r.Host, r.Device = rest[0], rest[1]
	default:
		if len(rest) > 2 && strings.HasPrefix(strings.ToLower(rest[1]), "usb") {
			// USB device names contain "::" themselves.
			r.Host, r.Device = rest[0], strings.Join(rest[1:], "::")
			break
		}
		return Resource{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	if r.Host == "" {
		return Resource{}, fmt.Errorf("%w: %q: missing host", ErrInvalidAddress, s)
	}
	if strings.EqualFold(r.Host, "SOCKET") || strings.EqualFold(r.Device, "SOCKET") {
		return Resource{}, fmt.Errorf("%w: %q: raw sockets are not VXI-11", ErrInvalidAddress, s)
	}
	return r, nil
}

// String formats the resource in canonical form.
func (r Resource) String() string {
	return fmt.Sprintf("TCPIP%d::%s::%s::INSTR", r.Board, r.Host, r.Device)
}
