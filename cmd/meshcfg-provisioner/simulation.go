package main

import (
	"context"
	"log"

	"github.com/citymesh/meshcfg-go/pkg/meshsim"
	"github.com/citymesh/meshcfg-go/pkg/persistence"
	"github.com/citymesh/meshcfg-go/pkg/provisioner"
	"github.com/citymesh/meshcfg-go/pkg/wire"
)

// Simulation owns the simulated nodes the provisioner talks to.
// It implements interactive.Simulation.
type Simulation struct {
	net    *meshsim.Network
	client *meshsim.Client
	prov   *provisioner.Provisioner
	nodes  map[string]NodeSettings
}

func newSimulation(net *meshsim.Network, nf *NetworkFile) *Simulation {
	s := &Simulation{
		net:   net,
		nodes: make(map[string]NodeSettings, len(nf.Nodes)),
	}
	for _, n := range nf.Nodes {
		s.nodes[n.Label] = n
	}
	return s
}

// restore recreates the simulated nodes recorded in state at their stored
// addresses. Nodes without settings are left out and will time out.
func (s *Simulation) restore(state *persistence.NetworkState) int {
	if state == nil {
		return 0
	}
	restored := 0
	for _, rec := range state.Nodes {
		settings, ok := s.nodes[rec.Label]
		if !ok {
			log.Printf("No settings for stored node 0x%04X (%q), skipping", rec.Address, rec.Label)
			continue
		}
		if err := s.place(settings, rec.Address); err != nil {
			log.Printf("Failed to restore node 0x%04X: %v", rec.Address, err)
			continue
		}
		restored++
	}
	return restored
}

func (s *Simulation) place(settings NodeSettings, address uint16) error {
	node, err := settings.NewSimNode(address)
	if err != nil {
		return err
	}
	return s.net.Add(node)
}

// joiner returns the join hook that places settings at the assigned address.
func (s *Simulation) joiner(settings NodeSettings) provisioner.JoinFunc {
	return func(address uint16) error {
		return s.place(settings, address)
	}
}

// add joins a configured node to the network.
func (s *Simulation) add(ctx context.Context, settings NodeSettings) (uint16, error) {
	s.nodes[settings.Label] = settings
	return s.prov.AddNode(ctx, provisioner.NodeSpec{
		Label:    settings.Label,
		Elements: settings.ElementCount(),
	}, s.joiner(settings))
}

// Join adds a single element node hosting vendorModels.
func (s *Simulation) Join(ctx context.Context, label string, vendorModels []string) (uint16, error) {
	settings := NodeSettings{
		Label:     label,
		CompanyID: wire.CompanyIDNordic,
		Elements:  []ElementSettings{{VendorModels: vendorModels}},
	}
	if _, err := settings.composition(); err != nil {
		return 0, err
	}
	return s.add(ctx, settings)
}

// BearerStats returns the simulated bearer counters.
func (s *Simulation) BearerStats() meshsim.Stats {
	return s.client.Stats()
}
