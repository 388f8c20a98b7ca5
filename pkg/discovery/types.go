package discovery

import (
	"errors"
	"time"
)

// Service type constants for mDNS.
const (
	// ServiceType is the DNS-SD service type of VXI-11 instruments.
	ServiceType = "_vxi-11._tcp"

	// Domain is the mDNS domain.
	Domain = "local"
)

// TXT record keys.
const (
	TXTKeyDevice       = "device"       // Device name used in create_link
	TXTKeyManufacturer = "manufacturer" // Manufacturer name
	TXTKeyModel        = "model"        // Model name
	TXTKeySerial       = "serial"       // Serial number (optional)
)

// Timing constants.
const (
	// BrowseTimeout is the default timeout for mDNS browsing.
	BrowseTimeout = 5 * time.Second

	// DefaultTTL is the default DNS record TTL.
	DefaultTTL = 120 * time.Second
)

// Limits.
const (
	// MaxInstanceNameLen is the DNS label limit.
	MaxInstanceNameLen = 63

	// MaxTXTValueLen is the longest value a single TXT string can carry
	// together with its key.
	MaxTXTValueLen = 255
)

// Discovery errors.
var (
	ErrInvalidTXTRecord    = errors.New("invalid TXT record format")
	ErrMissingRequired     = errors.New("missing required field")
	ErrInstanceNameTooLong = errors.New("instance name exceeds 63 characters")
	ErrInvalidPort         = errors.New("invalid port")
	ErrNotFound            = errors.New("service not found")
)

// InstrumentInfo is what an instrument server advertises for one device.
type InstrumentInfo struct {
	// InstanceName is the DNS-SD instance name. When empty it is derived
	// from the model and device name.
	InstanceName string

	// Port is the TCP port of the core channel.
	Port uint16

	// Device is the device name controllers pass to create_link.
	Device string

	Manufacturer string
	Model        string
	Serial       string
}

// Instance returns the instance name to register, truncated to the DNS
// label limit.
func (i *InstrumentInfo) Instance() string {
	name := i.InstanceName
	if name == "" {
		name = i.Device
		if i.Model != "" {
			name = i.Model + " " + i.Device
		}
	}
	if len(name) > MaxInstanceNameLen {
		name = name[:MaxInstanceNameLen]
	}
	return name
}

// InstrumentService is a discovered instrument.
type InstrumentService struct {
	InstanceName string
	Host         string
	Port         uint16
	Addresses    []string

	Device       string
	Manufacturer string
	Model        string
	Serial       string
}

// Address returns the first known address, or the host name when the
// entry carried no addresses.
func (s *InstrumentService) Address() string {
	if len(s.Addresses) > 0 {
		return s.Addresses[0]
	}
	return s.Host
}
