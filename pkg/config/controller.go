package config

import (
	"log/slog"

	"github.com/vxi11-protocol/vxi11-go/pkg/address"
	"github.com/vxi11-protocol/vxi11-go/pkg/log"
	"github.com/vxi11-protocol/vxi11-go/pkg/session"
)

// ControllerConfig is the configuration of vxi11-controller.
type ControllerConfig struct {
	// Resource is connected at startup when set, e.g.
	// "TCPIP::192.168.1.20::inst0::INSTR".
	Resource string `yaml:"resource"`

	// CorePort skips the portmapper when set.
	CorePort int `yaml:"core_port"`

	Timeouts TimeoutConfig `yaml:"timeouts"`

	WaitLock      bool `yaml:"wait_lock"`
	LockOnConnect bool `yaml:"lock_on_connect"`

	WriteTermination string `yaml:"write_termination"`
	ReadTermination  string `yaml:"read_termination"`

	// EOI is a pointer so that an explicit false is kept.
	EOI *bool `yaml:"eoi"`

	QueryDelay Duration `yaml:"query_delay"`

	// ListenerAddress is where the interrupt listener binds (default ":0").
	ListenerAddress string `yaml:"listener_address"`

	Log LogConfig `yaml:"log"`
}

// TimeoutConfig holds the session timeouts.
type TimeoutConfig struct {
	Connect  Duration `yaml:"connect"`
	IO       Duration `yaml:"io"`
	Transmit Duration `yaml:"transmit"`
	Lock     Duration `yaml:"lock"`
	SrqStop  Duration `yaml:"srq_stop"`
}

// DefaultControllerConfig mirrors session.DefaultConfig.
func DefaultControllerConfig() ControllerConfig {
	d := session.DefaultConfig()
	eoi := d.EOI
	return ControllerConfig{
		Timeouts: TimeoutConfig{
			Connect:  Duration(d.ConnectTimeout),
			IO:       Duration(d.IOTimeout),
			Transmit: Duration(d.TransmitTimeout),
			Lock:     Duration(d.LockTimeout),
		},
		WriteTermination: d.WriteTermination,
		ReadTermination:  d.ReadTermination,
		EOI:              &eoi,
	}
}

func (c *ControllerConfig) applyDefaults() {
	def := DefaultControllerConfig()
	if c.Timeouts.Connect == 0 {
		c.Timeouts.Connect = def.Timeouts.Connect
	}
	if c.Timeouts.IO == 0 {
		c.Timeouts.IO = def.Timeouts.IO
	}
	if c.Timeouts.Transmit == 0 {
		c.Timeouts.Transmit = def.Timeouts.Transmit
	}
	if c.Timeouts.Lock == 0 {
		c.Timeouts.Lock = def.Timeouts.Lock
	}
	if c.EOI == nil {
		c.EOI = def.EOI
	}
}

// Validate checks the configuration.
func (c *ControllerConfig) Validate() error {
	if c.Resource != "" {
		if _, err := address.ParseResource(c.Resource); err != nil {
			return invalid("resource: %v", err)
		}
	}
	if c.CorePort < 0 || c.CorePort > 65535 {
		return invalid("core_port %d out of range", c.CorePort)
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SessionConfig returns the session.Config for these settings. logger and
// proto may be nil.
func (c *ControllerConfig) SessionConfig(logger *slog.Logger, proto log.Logger) session.Config {
	cfg := session.DefaultConfig()
	cfg.CorePort = c.CorePort
	cfg.ConnectTimeout = c.Timeouts.Connect.Std()
	cfg.IOTimeout = c.Timeouts.IO.Std()
	cfg.TransmitTimeout = c.Timeouts.Transmit.Std()
	cfg.LockTimeout = c.Timeouts.Lock.Std()
	cfg.SrqStopTimeout = c.Timeouts.SrqStop.Std()
	cfg.WaitLock = c.WaitLock
	cfg.LockOnConnect = c.LockOnConnect
	cfg.WriteTermination = c.WriteTermination
	cfg.ReadTermination = c.ReadTermination
	if c.EOI != nil {
		cfg.EOI = *c.EOI
	}
	cfg.QueryDelay = c.QueryDelay.Std()
	cfg.ListenerAddress = c.ListenerAddress
	cfg.Logger = logger
	cfg.ProtocolLogger = proto
	return cfg
}

// ParseControllerConfig parses vxi11-controller YAML. Missing keys keep
// the values of DefaultControllerConfig.
func ParseControllerConfig(data []byte) (*ControllerConfig, error) {
	c := DefaultControllerConfig()
	if err := decode(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadControllerConfig reads vxi11-controller YAML from path.
func LoadControllerConfig(path string) (*ControllerConfig, error) {
	c := DefaultControllerConfig()
	if err := load(path, &c); err != nil {
		return nil, err
	}
	return &c, nil
}
