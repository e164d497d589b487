package nodesetup

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/citymesh/meshcfg-go/pkg/composition"
	"github.com/citymesh/meshcfg-go/pkg/log"
	"github.com/citymesh/meshcfg-go/pkg/wire"
)

// Defaults.
const (
	DefaultSendRetryLimit     = 2
	DefaultSendRetryDelay     = 400 * time.Millisecond
	DefaultProvisionerAddress = 0x0001
	DefaultDeviceCount        = 30
)

// Config configures a Machine.
type Config struct {
	// Client sends configuration requests. Required.
	Client ConfigClient

	// Scheduler arms the busy retry timer. Required.
	Scheduler Scheduler

	// Binder is called by Start before the first request. Optional.
	Binder Binder

	// Selector picks the step list for a node. Nil uses DefaultStepSelector.
	Selector StepSelector

	// SendRetryLimit is the number of busy resends allowed per step.
	SendRetryLimit int

	// SendRetryDelay is the wait before a busy resend.
	SendRetryDelay time.Duration

	// NetKeyIndex is the network key the application key is bound to.
	NetKeyIndex uint16

	// ProvisionerAddress receives health model publications.
	ProvisionerAddress uint16

	// DeviceCount sizes the publication TTL (capped at wire.TTLMax).
	DeviceCount int

	// VendorModelBoundary is the lowest vendor model ID that gets the
	// per-model steps.
	VendorModelBoundary uint16

	// HealthPeriod is the health model publish period.
	HealthPeriod wire.PublishPeriod

	// ServicePeriod is the service model publish period.
	ServicePeriod wire.PublishPeriod

	// Retransmit applies to every publication.
	Retransmit wire.Retransmit

	// Logger is the operational logger. Nil disables logging.
	Logger *slog.Logger

	// ProtocolLogger captures messages, step changes and retries. Optional.
	ProtocolLogger log.Logger
}

// DefaultConfig returns a Config with the network defaults. Client and
// Scheduler still have to be set.
func DefaultConfig() Config {
	return Config{
		SendRetryLimit:      DefaultSendRetryLimit,
		SendRetryDelay:      DefaultSendRetryDelay,
		ProvisionerAddress:  DefaultProvisionerAddress,
		DeviceCount:         DefaultDeviceCount,
		VendorModelBoundary: composition.DefaultVendorBoundary,
		HealthPeriod:        wire.PublishPeriod{Steps: 1, Resolution: wire.Resolution10s},
		ServicePeriod:       wire.PublishPeriod{Steps: 0, Resolution: wire.Resolution100ms},
		Retransmit:          wire.Retransmit{Count: 1, IntervalSteps: 0},
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Client == nil {
		return fmt.Errorf("%w: client is required", ErrInvalidConfig)
	}
	if c.Scheduler == nil {
		return fmt.Errorf("%w: scheduler is required", ErrInvalidConfig)
	}
	if c.SendRetryLimit < 0 {
		return fmt.Errorf("%w: negative send retry limit", ErrInvalidConfig)
	}
	if c.SendRetryDelay <= 0 {
		return fmt.Errorf("%w: send retry delay must be positive", ErrInvalidConfig)
	}
	if c.NetKeyIndex > wire.MaxKeyIndex {
		return fmt.Errorf("%w: net key index 0x%X", ErrInvalidConfig, c.NetKeyIndex)
	}
	if !wire.IsUnicast(c.ProvisionerAddress) {
		return fmt.Errorf("%w: provisioner address 0x%04X is not unicast", ErrInvalidConfig, c.ProvisionerAddress)
	}
	if c.DeviceCount <= 0 {
		return fmt.Errorf("%w: device count must be positive", ErrInvalidConfig)
	}
	return nil
}

// ttl returns the publication TTL: one hop per device, capped.
func (c *Config) ttl() uint8 {
	if c.DeviceCount >= int(wire.TTLMax) {
		return wire.TTLMax
	}
	return uint8(c.DeviceCount)
}
