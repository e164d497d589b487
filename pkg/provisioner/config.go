package provisioner

import (
	"fmt"
	"log/slog"

	"github.com/citymesh/meshcfg-go/pkg/log"
	"github.com/citymesh/meshcfg-go/pkg/nodesetup"
	"github.com/citymesh/meshcfg-go/pkg/persistence"
	"github.com/citymesh/meshcfg-go/pkg/retry"
	"github.com/citymesh/meshcfg-go/pkg/wire"
)

// Defaults.
const (
	// DefaultTimeoutRetries is the acknowledgement timeout budget of one
	// session.
	DefaultTimeoutRetries = 2

	// DefaultStartAddress is the first unicast address handed to a device.
	DefaultStartAddress = 0x0100

	defaultLoopBuffer = 64
)

// Config configures a Provisioner.
type Config struct {
	// Setup configures the node setup machine. Client, Scheduler and Binder
	// are supplied by the Provisioner.
	Setup nodesetup.Config

	// TimeoutRetries is passed to every setup session.
	TimeoutRetries int

	// AppKey and NetKey are 16 byte keys. Empty keys are taken from the
	// stored network state or generated.
	AppKey []byte
	NetKey []byte

	AppKeyIndex uint16

	// StartAddress is used when the network state has no allocation yet.
	StartAddress uint16

	// Backoff controls the delay before a failed node is retried.
	// Backoff.MaxAttempts bounds the retries per node.
	Backoff retry.Config

	// Store persists the network state. Nil keeps it in memory.
	Store *persistence.NetworkStateStore

	// Logger is the operational logger, shared with the setup machine
	// unless Setup.Logger is set.
	Logger *slog.Logger

	// ProtocolLogger receives setup protocol events unless
	// Setup.ProtocolLogger is set.
	ProtocolLogger log.Logger
}

// DefaultConfig returns a Config with the network defaults.
func DefaultConfig() Config {
	return Config{
		Setup:          nodesetup.DefaultConfig(),
		TimeoutRetries: DefaultTimeoutRetries,
		StartAddress:   DefaultStartAddress,
		Backoff:        retry.DefaultConfig(),
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.TimeoutRetries < 0 {
		return fmt.Errorf("%w: negative timeout retries", ErrInvalidConfig)
	}
	if len(c.AppKey) != 0 && len(c.AppKey) != wire.KeySize {
		return fmt.Errorf("%w: app key must be %d bytes", ErrInvalidConfig, wire.KeySize)
	}
	if len(c.NetKey) != 0 && len(c.NetKey) != wire.KeySize {
		return fmt.Errorf("%w: net key must be %d bytes", ErrInvalidConfig, wire.KeySize)
	}
	if c.AppKeyIndex > wire.MaxKeyIndex {
		return fmt.Errorf("%w: app key index 0x%X", ErrInvalidConfig, c.AppKeyIndex)
	}
	if !wire.IsUnicast(c.StartAddress) {
		return fmt.Errorf("%w: start address 0x%04X is not unicast", ErrInvalidConfig, c.StartAddress)
	}
	if c.StartAddress == c.Setup.ProvisionerAddress {
		return fmt.Errorf("%w: start address collides with the provisioner", ErrInvalidConfig)
	}
	return nil
}
