package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"
)

// StateVersion is the current version of the state file format.
const StateVersion = 1

// ErrUnsupportedVersion is returned when a state file is newer than this build.
var ErrUnsupportedVersion = errors.New("unsupported state file version")

// NodeStatus is the provisioner-side status of a node.
type NodeStatus string

const (
	NodePending     NodeStatus = "pending"
	NodeConfiguring NodeStatus = "configuring"
	NodeConfigured  NodeStatus = "configured"
	NodeFailed      NodeStatus = "failed"
)

// NetworkState is the persisted provisioner state.
type NetworkState struct {
	// Version is the state file format version.
	Version int `json:"version"`

	// SavedAt is when the state was last saved.
	SavedAt time.Time `json:"saved_at"`

	// NetKey and AppKey are hex encoded 128 bit keys.
	NetKey      string `json:"net_key,omitempty"`
	AppKey      string `json:"app_key,omitempty"`
	AppKeyIndex uint16 `json:"app_key_index"`

	// NextDeviceAddress is the next unicast address to assign.
	NextDeviceAddress uint16 `json:"next_device_address"`

	// LastDeviceAddress is the address most recently assigned.
	LastDeviceAddress uint16 `json:"last_device_address,omitempty"`

	// ProvisionedDevices counts nodes that joined the network.
	ProvisionedDevices int `json:"provisioned_devices"`

	// ConfiguredDevices counts nodes whose setup completed.
	ConfiguredDevices int `json:"configured_devices"`

	Nodes []NodeRecord `json:"nodes,omitempty"`
}

// NodeRecord describes one node.
type NodeRecord struct {
	Address  uint16     `json:"address"`
	Label    string     `json:"label,omitempty"`
	Elements int        `json:"elements,omitempty"`
	Status   NodeStatus `json:"status"`

	// Models lists the configured service models as "cid:mid".
	Models []string `json:"models,omitempty"`

	// Composition is the hex encoded composition data page 0.
	Composition string `json:"composition,omitempty"`

	Attempts      int       `json:"attempts,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
	ProvisionedAt time.Time `json:"provisioned_at"`
	ConfiguredAt  time.Time `json:"configured_at,omitempty"`
}

// Node returns the record for address.
func (s *NetworkState) Node(address uint16) (*NodeRecord, bool) {
	for i := range s.Nodes {
		if s.Nodes[i].Address == address {
			return &s.Nodes[i], true
		}
	}
	return nil, false
}

// NodeByLabel returns the record whose label is label.
func (s *NetworkState) NodeByLabel(label string) (*NodeRecord, bool) {
	for i := range s.Nodes {
		if label != "" && s.Nodes[i].Label == label {
			return &s.Nodes[i], true
		}
	}
	return nil, false
}

// PutNode inserts or replaces a record, keeping Nodes sorted by address.
func (s *NetworkState) PutNode(rec NodeRecord) {
	if n, ok := s.Node(rec.Address); ok {
		*n = rec
		return
	}
	s.Nodes = append(s.Nodes, rec)
	slices.SortFunc(s.Nodes, func(a, b NodeRecord) int {
		return int(a.Address) - int(b.Address)
	})
}

// Pending returns the addresses of nodes that are not configured yet, in
// address order.
func (s *NetworkState) Pending() []uint16 {
	var out []uint16
	for _, n := range s.Nodes {
		if n.Status != NodeConfigured {
			out = append(out, n.Address)
		}
	}
	return out
}

// NetworkStateStore persists NetworkState to a JSON file.
type NetworkStateStore struct {
	mu   sync.Mutex
	path string
}

// NewNetworkStateStore creates a store backed by path.
func NewNetworkStateStore(path string) *NetworkStateStore {
	return &NetworkStateStore{path: path}
}

// Path returns the state file path.
func (s *NetworkStateStore) Path() string {
	return s.path
}

// Save writes the state. The file is replaced atomically.
func (s *NetworkStateStore) Save(state *NetworkState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	state.Version = StateVersion
	state.SavedAt = time.Now()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

// Load reads the state. It returns nil, nil if the file does not exist.
func (s *NetworkStateStore) Load() (*NetworkState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	state := &NetworkState{}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	if state.Version > StateVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, state.Version)
	}
	return state, nil
}

// Clear removes the state file.
func (s *NetworkStateStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
