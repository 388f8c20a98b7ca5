package discovery

import (
	"context"
	"time"
)

// Advertiser provides mDNS service advertising capabilities.
type Advertiser interface {
	// Advertise starts advertising a device. Advertising the same instance
	// name again replaces the previous registration.
	Advertise(ctx context.Context, info *InstrumentInfo) error

	// Update replaces the TXT records of an advertised instance.
	Update(info *InstrumentInfo) error

	// Stop withdraws one instance.
	Stop(instance string) error

	// StopAll withdraws every instance.
	StopAll()
}

// AdvertiserConfig configures advertiser behavior.
type AdvertiserConfig struct {
	// Interface specifies which network interface to use.
	// Empty string means all interfaces.
	Interface string

	// TTL is the DNS record TTL.
	// Default: 120 seconds.
	TTL time.Duration
}

// DefaultAdvertiserConfig returns the default advertiser configuration.
func DefaultAdvertiserConfig() AdvertiserConfig {
	return AdvertiserConfig{
		Interface: "",
		TTL:       DefaultTTL,
	}
}
