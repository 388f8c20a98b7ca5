package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/vxi11-protocol/vxi11-go/pkg/address"
	"github.com/vxi11-protocol/vxi11-go/pkg/device"
	"github.com/vxi11-protocol/vxi11-go/pkg/discovery"
	"github.com/vxi11-protocol/vxi11-go/pkg/log"
	"github.com/vxi11-protocol/vxi11-go/pkg/metrics"
	"github.com/vxi11-protocol/vxi11-go/pkg/wire"
)

// Instrument backends.
const (
	BackendSimulator = "simulator"
	BackendSerial    = "serial"
)

// DeviceConfig is the configuration of vxi11-device.
type DeviceConfig struct {
	Listen    ListenConfig    `yaml:"listen"`
	Link      LinkConfig      `yaml:"link"`
	Devices   []DeviceEntry   `yaml:"devices"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Log       LogConfig       `yaml:"log"`
}

// ListenConfig holds the server addresses.
type ListenConfig struct {
	Core    string `yaml:"core"`
	Abort   string `yaml:"abort"`
	Portmap string `yaml:"portmap"`

	// RegisterWith is the host of an external portmapper to register with.
	RegisterWith string `yaml:"register_with"`
}

// LinkConfig holds link limits.
type LinkConfig struct {
	MaxRecvSize      uint32   `yaml:"max_recv_size"`
	ReadChunk        int      `yaml:"read_chunk"`
	SingleLink       bool     `yaml:"single_link"`
	MaxLinks         int      `yaml:"max_links"`
	InterruptTimeout Duration `yaml:"interrupt_timeout"`
}

// DeviceEntry is one served device.
type DeviceEntry struct {
	// Name is the device name, e.g. inst0 or gpib0,5.
	Name    string `yaml:"name"`
	Backend string `yaml:"backend"`

	Simulator SimulatorEntry `yaml:"simulator"`
	Serial    SerialEntry    `yaml:"serial"`
}

// SimulatorEntry configures a simulator backend.
type SimulatorEntry struct {
	Manufacturer string  `yaml:"manufacturer"`
	Model        string  `yaml:"model"`
	Serial       string  `yaml:"serial"`
	Firmware     string  `yaml:"firmware"`
	Voltage      float64 `yaml:"voltage"`
}

// SerialEntry configures a serial pass-through backend.
type SerialEntry struct {
	Port            string   `yaml:"port"`
	BaudRate        int      `yaml:"baud_rate"`
	DataBits        int      `yaml:"data_bits"`
	Parity          string   `yaml:"parity"`
	StopBits        int      `yaml:"stop_bits"`
	Terminator      string   `yaml:"terminator"`
	ResponseTimeout Duration `yaml:"response_timeout"`

	// Manufacturer and Model are only advertised over mDNS.
	Manufacturer string `yaml:"manufacturer"`
	Model        string `yaml:"model"`
}

// MetricsConfig enables the Prometheus endpoint.
type MetricsConfig struct {
	// Address serves /metrics when set, e.g. ":9110".
	Address string `yaml:"address"`
}

// DiscoveryConfig enables mDNS advertisement.
type DiscoveryConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Interface string   `yaml:"interface"`
	TTL       Duration `yaml:"ttl"`
}

// DefaultDeviceConfig serves one simulator as inst0 with the defaults of
// device.DefaultConfig.
func DefaultDeviceConfig() DeviceConfig {
	d := device.DefaultConfig()
	sim := device.DefaultSimulatorConfig()
	return DeviceConfig{
		Listen: ListenConfig{
			Core:  d.CoreAddress,
			Abort: d.AbortAddress,
		},
		Link: LinkConfig{
			MaxRecvSize:      d.MaxRecvSize,
			InterruptTimeout: Duration(d.InterruptTimeout),
		},
		Devices: []DeviceEntry{{
			Name:    "inst0",
			Backend: BackendSimulator,
			Simulator: SimulatorEntry{
				Manufacturer: sim.Manufacturer,
				Model:        sim.Model,
				Serial:       sim.Serial,
				Firmware:     sim.Firmware,
				Voltage:      sim.Voltage,
			},
		}},
		Discovery: DiscoveryConfig{
			TTL: Duration(discovery.DefaultTTL),
		},
	}
}

func (c *DeviceConfig) applyDefaults() {
	def := DefaultDeviceConfig()
	if c.Listen.Core == "" {
		c.Listen.Core = def.Listen.Core
	}
	if c.Listen.Abort == "" {
		c.Listen.Abort = def.Listen.Abort
	}
	if c.Link.MaxRecvSize == 0 {
		c.Link.MaxRecvSize = def.Link.MaxRecvSize
	}
	if c.Link.InterruptTimeout == 0 {
		c.Link.InterruptTimeout = def.Link.InterruptTimeout
	}
	if c.Discovery.TTL == 0 {
		c.Discovery.TTL = def.Discovery.TTL
	}
	for i := range c.Devices {
		e := &c.Devices[i]
		if e.Backend == "" {
			e.Backend = BackendSimulator
		}
		if e.Backend == BackendSimulator {
			e.Simulator.fill(device.DefaultSimulatorConfig())
		}
	}
}

func (s *SimulatorEntry) fill(d device.SimulatorConfig) {
	if s.Manufacturer == "" {
		s.Manufacturer = d.Manufacturer
	}
	if s.Model == "" {
		s.Model = d.Model
	}
	if s.Serial == "" {
		s.Serial = d.Serial
	}
	if s.Firmware == "" {
		s.Firmware = d.Firmware
	}
	if s.Voltage == 0 {
		s.Voltage = d.Voltage
	}
}

// Validate checks the configuration.
func (c *DeviceConfig) Validate() error {
	if len(c.Devices) == 0 {
		return invalid("no devices configured")
	}
	if c.Link.MaxRecvSize < wire.MinMaxRecvSize {
		return invalid("max_recv_size %d below %d", c.Link.MaxRecvSize, wire.MinMaxRecvSize)
	}
	if c.Link.ReadChunk < 0 || c.Link.MaxLinks < 0 {
		return invalid("read_chunk and max_links must not be negative")
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}

	seen := make(map[string]bool, len(c.Devices))
	for i, e := range c.Devices {
		dn, err := address.ParseDeviceName(e.Name)
		if err != nil {
			return invalid("devices[%d]: %v", i, err)
		}
		key := strings.ToLower(dn.String())
		if seen[key] {
			return invalid("devices[%d]: duplicate device %q", i, e.Name)
		}
		seen[key] = true

		switch e.Backend {
		case BackendSimulator:
		case BackendSerial:
			if e.Serial.Port == "" {
				return invalid("devices[%d]: serial backend needs a port", i)
			}
			if _, err := e.SerialConfig(); err != nil {
				return invalid("devices[%d]: %v", i, err)
			}
		default:
			return invalid("devices[%d]: unknown backend %q", i, e.Backend)
		}
	}
	return nil
}

// ServerConfig returns the device.Config for the listen and link
// settings. logger, proto and m may be nil.
func (c *DeviceConfig) ServerConfig(logger *slog.Logger, proto log.Logger, m *metrics.Collector) device.Config {
	return device.Config{
		CoreAddress:      c.Listen.Core,
		AbortAddress:     c.Listen.Abort,
		PortmapAddress:   c.Listen.Portmap,
		RegisterWith:     c.Listen.RegisterWith,
		MaxRecvSize:      c.Link.MaxRecvSize,
		ReadChunk:        c.Link.ReadChunk,
		SingleLink:       c.Link.SingleLink,
		MaxLinks:         c.Link.MaxLinks,
		InterruptTimeout: c.Link.InterruptTimeout.Std(),
		Logger:           logger,
		ProtocolLogger:   proto,
		Metrics:          m,
	}
}

// SimulatorConfig returns the simulator settings of a simulator entry.
func (e *DeviceEntry) SimulatorConfig() device.SimulatorConfig {
	return device.SimulatorConfig{
		Manufacturer: e.Simulator.Manufacturer,
		Model:        e.Simulator.Model,
		Serial:       e.Simulator.Serial,
		Firmware:     e.Simulator.Firmware,
		Voltage:      e.Simulator.Voltage,
	}
}

// SerialConfig returns the serial settings of a serial entry. Unset fields
// take the values of device.DefaultSerialConfig.
func (e *DeviceEntry) SerialConfig() (device.SerialConfig, error) {
	cfg := device.DefaultSerialConfig()
	cfg.Port = e.Serial.Port
	if e.Serial.BaudRate != 0 {
		cfg.BaudRate = e.Serial.BaudRate
	}
	if e.Serial.DataBits != 0 {
		cfg.DataBits = e.Serial.DataBits
	}
	if e.Serial.Parity != "" {
		cfg.Parity = e.Serial.Parity
	}
	if e.Serial.StopBits != 0 {
		cfg.StopBits = e.Serial.StopBits
	}
	if e.Serial.ResponseTimeout != 0 {
		cfg.ResponseTimeout = e.Serial.ResponseTimeout.Std()
	}
	if e.Serial.Terminator != "" {
		t, err := terminator(e.Serial.Terminator)
		if err != nil {
			return cfg, err
		}
		cfg.Terminator = t
	}
	if _, err := cfg.Mode(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// InstrumentInfo returns what discovery advertises for the entry on the
// given core port.
func (e *DeviceEntry) InstrumentInfo(port uint16) *discovery.InstrumentInfo {
	info := &discovery.InstrumentInfo{Port: port, Device: e.Name}
	switch e.Backend {
	case BackendSerial:
		info.Manufacturer = e.Serial.Manufacturer
		info.Model = e.Serial.Model
	default:
		info.Manufacturer = e.Simulator.Manufacturer
		info.Model = e.Simulator.Model
		info.Serial = e.Simulator.Serial
	}
	return info
}

// String describes the entry for logs.
func (e DeviceEntry) String() string {
	if e.Backend == BackendSerial {
		return fmt.Sprintf("%s (serial %s)", e.Name, e.Serial.Port)
	}
	return fmt.Sprintf("%s (%s)", e.Name, e.Backend)
}

// ParseDeviceConfig parses vxi11-device YAML. Missing keys keep the values
// of DefaultDeviceConfig; a devices list replaces the default device.
func ParseDeviceConfig(data []byte) (*DeviceConfig, error) {
	c := DefaultDeviceConfig()
	if err := decode(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadDeviceConfig reads vxi11-device YAML from path.
func LoadDeviceConfig(path string) (*DeviceConfig, error) {
	c := DefaultDeviceConfig()
	if err := load(path, &c); err != nil {
		return nil, err
	}
	return &c, nil
}
