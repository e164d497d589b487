package meshsim

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// Network errors.
var (
	ErrUnknownNode     = errors.New("unknown node")
	ErrAddressConflict = errors.New("address range already in use")
)

// Network is a set of simulated nodes reachable by primary address.
type Network struct {
	mu    sync.RWMutex
	nodes map[uint16]*Node
}

// NewNetwork creates an empty network.
func NewNetwork() *Network {
	return &Network{nodes: make(map[uint16]*Node)}
}

// Add joins a node. Its element addresses must not overlap another node's.
func (n *Network) Add(node *Node) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	lo, hi := int(node.address), int(node.address)+node.ElementCount()-1
	for _, other := range n.nodes {
		olo, ohi := int(other.address), int(other.address)+other.ElementCount()-1
		if lo <= ohi && olo <= hi {
			return fmt.Errorf("%w: 0x%04X-0x%04X overlaps node 0x%04X", ErrAddressConflict, lo, hi, other.address)
		}
	}
	n.nodes[node.address] = node
	return nil
}

// Node returns the node whose primary element has address.
func (n *Network) Node(address uint16) (*Node, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	node, ok := n.nodes[address]
	return node, ok
}

// Nodes returns all nodes ordered by address.
func (n *Network) Nodes() []*Node {
	n.mu.RLock()
	defer n.mu.RUnlock()

	out := make([]*Node, 0, len(n.nodes))
	for _, node := range n.nodes {
		out = append(out, node)
	}
	slices.SortFunc(out, func(a, b *Node) int { return int(a.address) - int(b.address) })
	return out
}
