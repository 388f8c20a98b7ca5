package discovery

import (
	"context"
	"strings"
	"time"
)

// Browser provides mDNS service browsing capabilities.
type Browser interface {
	// Browse searches for instruments. Each instance is sent once; the
	// channel is closed when ctx is done.
	Browse(ctx context.Context) (<-chan *InstrumentService, error)

	// Collect browses for at most timeout and returns everything found.
	Collect(ctx context.Context, timeout time.Duration) ([]*InstrumentService, error)

	// Find returns the first instrument accepted by filter.
	Find(ctx context.Context, filter FilterFunc) (*InstrumentService, error)
}

// BrowserConfig configures browser behavior.
type BrowserConfig struct {
	// BrowseTimeout is the default timeout for Collect when none is given.
	// Default: 5 seconds.
	BrowseTimeout time.Duration

	// Interface specifies which network interface to use.
	// Empty string means all interfaces.
	Interface string
}

// DefaultBrowserConfig returns the default browser configuration.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		BrowseTimeout: BrowseTimeout,
		Interface:     "",
	}
}

// FilterFunc is a function that filters browse results.
type FilterFunc func(*InstrumentService) bool

// FilterByDevice matches instruments advertising the device name,
// ignoring case.
func FilterByDevice(device string) FilterFunc {
	return func(svc *InstrumentService) bool {
		return strings.EqualFold(svc.Device, device)
	}
}

// FilterByModel matches instruments whose model contains model, ignoring
// case.
func FilterByModel(model string) FilterFunc {
	model = strings.ToLower(model)
	return func(svc *InstrumentService) bool {
		return strings.Contains(strings.ToLower(svc.Model), model)
	}
}

// FilterByInstance matches one instance name.
func FilterByInstance(instance string) FilterFunc {
	return func(svc *InstrumentService) bool {
		return svc.InstanceName == instance
	}
}

// FilterBrowseResults filters a channel of instruments.
func FilterBrowseResults(in <-chan *InstrumentService, filter FilterFunc) <-chan *InstrumentService {
	out := make(chan *InstrumentService)
	go func() {
		defer close(out)
		for svc := range in {
			if filter(svc) {
				out <- svc
			}
		}
	}()
	return out
}

// ServiceEntry is raw mDNS service entry data, independent of the mDNS
// library.
type ServiceEntry struct {
	Instance string
	Service  string
	Domain   string
	Host     string
	Port     uint16
	Text     []string
	Addrs    []string
}

// ToInstrumentService converts a ServiceEntry to InstrumentService.
func (e *ServiceEntry) ToInstrumentService() (*InstrumentService, error) {
	txt := StringsToTXTRecords(e.Text)
	info, err := DecodeInstrumentTXT(txt)
	if err != nil {
		return nil, err
	}
	if e.Port == 0 {
		return nil, ErrInvalidPort
	}

	return &InstrumentService{
		InstanceName: e.Instance,
		Host:         strings.TrimSuffix(e.Host, "."),
		Port:         e.Port,
		Addresses:    e.Addrs,
		Device:       info.Device,
		Manufacturer: info.Manufacturer,
		Model:        info.Model,
		Serial:       info.Serial,
	}, nil
}
