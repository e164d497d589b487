package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/citymesh/meshcfg-go/pkg/composition"
	"github.com/citymesh/meshcfg-go/pkg/meshsim"
	"github.com/citymesh/meshcfg-go/pkg/provisioner"
	"github.com/citymesh/meshcfg-go/pkg/retry"
	"github.com/citymesh/meshcfg-go/pkg/wire"
)

// NetworkFile is the YAML description of the network and its simulated
// nodes.
type NetworkFile struct {
	Network NetworkSettings      `yaml:"network"`
	Setup   SetupSettings        `yaml:"setup"`
	Retry   retry.Config         `yaml:"retry"`
	Bearer  meshsim.ClientConfig `yaml:"bearer"`
	Nodes   []NodeSettings       `yaml:"nodes"`
}

// NetworkSettings holds the keys and address plan.
type NetworkSettings struct {
	// AppKey and NetKey are hex encoded. Empty keys are generated.
	AppKey      string `yaml:"appKey"`
	NetKey      string `yaml:"netKey"`
	AppKeyIndex uint16 `yaml:"appKeyIndex"`
	NetKeyIndex uint16 `yaml:"netKeyIndex"`

	ProvisionerAddress  uint16 `yaml:"provisionerAddress"`
	StartAddress        uint16 `yaml:"startAddress"`
	DeviceCount         int    `yaml:"deviceCount"`
	VendorModelBoundary uint16 `yaml:"vendorModelBoundary"`
}

// SetupSettings tunes the per-node state machine.
type SetupSettings struct {
	TimeoutRetries int           `yaml:"timeoutRetries"`
	SendRetryLimit int           `yaml:"sendRetryLimit"`
	SendRetryDelay time.Duration `yaml:"sendRetryDelay"`
}

// NodeSettings describes one simulated node.
type NodeSettings struct {
	Label     string            `yaml:"label"`
	CompanyID uint16            `yaml:"companyId"`
	ProductID uint16            `yaml:"productId"`
	VersionID uint16            `yaml:"versionId"`
	Elements  []ElementSettings `yaml:"elements"`
}

// ElementSettings lists the models of one element. Vendor models are
// written as "0xCCCC:0xMMMM".
type ElementSettings struct {
	Location     uint16   `yaml:"location"`
	SIGModels    []uint16 `yaml:"sigModels"`
	VendorModels []string `yaml:"vendorModels"`
}

// DefaultNetworkFile returns the settings used without a -config file:
// three nodes, each with one service model.
func DefaultNetworkFile() *NetworkFile {
	setup := provisioner.DefaultConfig()
	return &NetworkFile{
		Network: NetworkSettings{
			ProvisionerAddress:  setup.Setup.ProvisionerAddress,
			StartAddress:        setup.StartAddress,
			DeviceCount:         setup.Setup.DeviceCount,
			VendorModelBoundary: setup.Setup.VendorModelBoundary,
		},
		Setup: SetupSettings{
			TimeoutRetries: setup.TimeoutRetries,
			SendRetryLimit: setup.Setup.SendRetryLimit,
			SendRetryDelay: setup.Setup.SendRetryDelay,
		},
		Retry:  retry.DefaultConfig(),
		Bearer: meshsim.DefaultClientConfig(),
		Nodes: []NodeSettings{
			{Label: "traffic-light-1", CompanyID: wire.CompanyIDNordic, Elements: []ElementSettings{{VendorModels: []string{"0x0059:0xC001"}}}},
			{Label: "traffic-light-2", CompanyID: wire.CompanyIDNordic, Elements: []ElementSettings{{VendorModels: []string{"0x0059:0xC001"}}}},
			{Label: "sensor-1", CompanyID: wire.CompanyIDNordic, Elements: []ElementSettings{{VendorModels: []string{"0x0059:0xC002"}}}},
		},
	}
}

// ParseNetworkFile parses YAML on top of the defaults. A nodes list in the
// file replaces the default nodes.
func ParseNetworkFile(data []byte) (*NetworkFile, error) {
	nf := DefaultNetworkFile()
	nf.Nodes = nil
	if err := yaml.Unmarshal(data, nf); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := nf.Validate(); err != nil {
		return nil, err
	}
	return nf, nil
}

// LoadNetworkFile reads and parses path.
func LoadNetworkFile(path string) (*NetworkFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	nf, err := ParseNetworkFile(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return nf, nil
}

// Validate checks the node definitions. Network parameters are checked by
// provisioner.Config.Validate.
func (nf *NetworkFile) Validate() error {
	seen := make(map[string]bool)
	for i, n := range nf.Nodes {
		if n.Label == "" {
			return fmt.Errorf("node %d: label is required", i)
		}
		if seen[n.Label] {
			return fmt.Errorf("node %q: duplicate label", n.Label)
		}
		seen[n.Label] = true
		if _, err := n.composition(); err != nil {
			return fmt.Errorf("node %q: %w", n.Label, err)
		}
	}
	return nil
}

// ProvisionerConfig builds the provisioner configuration.
func (nf *NetworkFile) ProvisionerConfig() (provisioner.Config, error) {
	cfg := provisioner.DefaultConfig()

	var err error
	if cfg.AppKey, err = decodeKey(nf.Network.AppKey); err != nil {
		return cfg, fmt.Errorf("appKey: %w", err)
	}
	if cfg.NetKey, err = decodeKey(nf.Network.NetKey); err != nil {
		return cfg, fmt.Errorf("netKey: %w", err)
	}
	cfg.AppKeyIndex = nf.Network.AppKeyIndex
	cfg.StartAddress = nf.Network.StartAddress
	cfg.TimeoutRetries = nf.Setup.TimeoutRetries
	cfg.Backoff = nf.Retry

	cfg.Setup.NetKeyIndex = nf.Network.NetKeyIndex
	cfg.Setup.ProvisionerAddress = nf.Network.ProvisionerAddress
	cfg.Setup.DeviceCount = nf.Network.DeviceCount
	cfg.Setup.VendorModelBoundary = nf.Network.VendorModelBoundary
	cfg.Setup.SendRetryLimit = nf.Setup.SendRetryLimit
	cfg.Setup.SendRetryDelay = nf.Setup.SendRetryDelay

	return cfg, cfg.Validate()
}

func decodeKey(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(key) != wire.KeySize {
		return nil, fmt.Errorf("must be %d bytes, got %d", wire.KeySize, len(key))
	}
	return key, nil
}

// ElementCount returns the number of unicast addresses the node needs.
func (n NodeSettings) ElementCount() int {
	if len(n.Elements) == 0 {
		return 1
	}
	return len(n.Elements)
}

func (n NodeSettings) composition() ([]composition.Element, error) {
	elems := make([]composition.Element, 0, len(n.Elements))
	for i, e := range n.Elements {
		ce := composition.Element{Location: e.Location, SIGModels: e.SIGModels}
		for _, s := range e.VendorModels {
			id, err := wire.ParseModelID(s)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			if !id.IsVendor() {
				return nil, fmt.Errorf("element %d: %s is not a vendor model", i, s)
			}
			ce.VendorModels = append(ce.VendorModels, id)
		}
		elems = append(elems, ce)
	}
	return elems, nil
}

// NewSimNode creates the simulated node at address.
func (n NodeSettings) NewSimNode(address uint16) (*meshsim.Node, error) {
	elems, err := n.composition()
	if err != nil {
		return nil, err
	}
	header := composition.Header{
		CompanyID: n.CompanyID,
		ProductID: n.ProductID,
		VersionID: n.VersionID,
		CRPL:      8,
		Features:  composition.FeatureRelay,
	}
	return meshsim.NewNode(address, header, elems)
}
