package meshsim

import (
	"bytes"
	"fmt"
	"slices"
	"sync"

	"github.com/citymesh/meshcfg-go/pkg/composition"
	"github.com/citymesh/meshcfg-go/pkg/wire"
)

type modelKey struct {
	element uint16
	model   wire.ModelID
}

type fault struct {
	opcode    wire.Opcode
	status    wire.Status
	remaining int
}

// Node is a simulated configuration server.
type Node struct {
	mu sync.Mutex

	address  uint16
	header   composition.Header
	elements []composition.Element
	netKey   uint16

	appKeys       map[uint16][]byte
	bindings      map[modelKey][]uint16
	publications  map[modelKey]wire.Publication
	subscriptions map[modelKey][]uint16

	faults   []fault
	requests int
}

// NewNode creates a node whose primary element has address. The primary
// element always hosts the configuration and health servers.
func NewNode(address uint16, header composition.Header, elements []composition.Element) (*Node, error) {
	if !wire.IsUnicast(address) {
		return nil, fmt.Errorf("node address 0x%04X is not unicast", address)
	}
	if len(elements) == 0 {
		elements = []composition.Element{{}}
	}
	if int(address)+len(elements)-1 > 0x7FFF {
		return nil, fmt.Errorf("node 0x%04X: %d elements overflow the unicast range", address, len(elements))
	}

	elems := make([]composition.Element, len(elements))
	for i, e := range elements {
		elems[i] = composition.Element{
			Location:     e.Location,
			SIGModels:    slices.Clone(e.SIGModels),
			VendorModels: slices.Clone(e.VendorModels),
		}
	}
	for _, id := range []uint16{wire.ModelIDHealthServer, wire.ModelIDConfigServer} {
		if !slices.Contains(elems[0].SIGModels, id) {
			elems[0].SIGModels = append([]uint16{id}, elems[0].SIGModels...)
		}
	}

	return &Node{
		address:       address,
		header:        header,
		elements:      elems,
		appKeys:       make(map[uint16][]byte),
		bindings:      make(map[modelKey][]uint16),
		publications:  make(map[modelKey]wire.Publication),
		subscriptions: make(map[modelKey][]uint16),
	}, nil
}

// Address returns the primary element address.
func (n *Node) Address() uint16 {
	return n.address
}

// ElementCount returns the number of elements, which is also the number of
// unicast addresses the node occupies.
func (n *Node) ElementCount() int {
	return len(n.elements)
}

// CompositionData returns the encoded composition data page 0.
func (n *Node) CompositionData() []byte {
	return composition.Encode(n.header, n.elements)
}

// RejectNext makes the node answer the next count requests that are
// acknowledged with op by status instead of processing them.
func (n *Node) RejectNext(op wire.Opcode, status wire.Status, count int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.faults = append(n.faults, fault{opcode: op, status: status, remaining: count})
}

// Requests returns the number of requests the node has processed.
func (n *Node) Requests() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.requests
}

// AppKey returns the application key stored at index.
func (n *Node) AppKey(index uint16) ([]byte, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	k, ok := n.appKeys[index]
	return slices.Clone(k), ok
}

// Bound reports whether model on element is bound to the app key index.
func (n *Node) Bound(element uint16, model wire.ModelID, appKeyIndex uint16) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Contains(n.bindings[modelKey{element, model}], appKeyIndex)
}

// Publication returns the publication of model on element.
func (n *Node) Publication(element uint16, model wire.ModelID) (wire.Publication, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	p, ok := n.publications[modelKey{element, model}]
	return p, ok
}

// Subscriptions returns the subscription list of model on element.
func (n *Node) Subscriptions(element uint16, model wire.ModelID) []uint16 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.subscriptions[modelKey{element, model}])
}

// Handle processes a request and returns the status message to send back.
// Unacknowledged or unknown messages return nil.
func (n *Node) Handle(msg wire.Message) wire.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.requests++

	switch req := msg.(type) {
	case wire.CompositionDataGet:
		// Only page 0 exists; higher pages report it.
		return wire.CompositionDataStatus{Page: 0, Data: composition.Encode(n.header, n.elements)}

	case wire.AppKeyAdd:
		return wire.AppKeyStatus{
			Status:      n.fault(wire.OpAppKeyStatus, func() wire.Status { return n.addAppKey(req) }),
			NetKeyIndex: req.NetKeyIndex,
			AppKeyIndex: req.AppKeyIndex,
		}

	case wire.ModelAppBind:
		return wire.ModelAppStatus{
			Status:         n.fault(wire.OpModelAppStatus, func() wire.Status { return n.bind(req) }),
			ElementAddress: req.ElementAddress,
			AppKeyIndex:    req.AppKeyIndex,
			Model:          req.Model,
		}

	case wire.ModelPublicationSet:
		return wire.ModelPublicationStatus{
			Status:      n.fault(wire.OpModelPublicationStatus, func() wire.Status { return n.publish(req.Publication) }),
			Publication: req.Publication,
		}

	case wire.ModelSubscriptionAdd:
		return wire.ModelSubscriptionStatus{
			Status:         n.fault(wire.OpModelSubscriptionStatus, func() wire.Status { return n.subscribe(req) }),
			ElementAddress: req.ElementAddress,
			Address:        req.Address,
			Model:          req.Model,
		}
	}
	return nil
}

// fault returns an injected status for op if one is armed, else apply().
func (n *Node) fault(op wire.Opcode, apply func() wire.Status) wire.Status {
	for i := range n.faults {
		f := &n.faults[i]
		if f.opcode == op && f.remaining > 0 {
			f.remaining--
			return f.status
		}
	}
	return apply()
}

func (n *Node) addAppKey(req wire.AppKeyAdd) wire.Status {
	if req.NetKeyIndex != n.netKey {
		return wire.StatusInvalidNetKeyIndex
	}
	if existing, ok := n.appKeys[req.AppKeyIndex]; ok {
		if bytes.Equal(existing, req.AppKey) {
			return wire.StatusSuccess
		}
		return wire.StatusKeyIndexAlreadyStored
	}
	n.appKeys[req.AppKeyIndex] = slices.Clone(req.AppKey)
	return wire.StatusSuccess
}

func (n *Node) model(element uint16, model wire.ModelID) wire.Status {
	idx := int(element) - int(n.address)
	if idx < 0 || idx >= len(n.elements) {
		return wire.StatusInvalidAddress
	}
	e := n.elements[idx]
	if model.IsVendor() {
		if !slices.Contains(e.VendorModels, model) {
			return wire.StatusInvalidModel
		}
	} else if !slices.Contains(e.SIGModels, model.ModelID) {
		return wire.StatusInvalidModel
	}
	return wire.StatusSuccess
}

func (n *Node) bind(req wire.ModelAppBind) wire.Status {
	if st := n.model(req.ElementAddress, req.Model); st != wire.StatusSuccess {
		return st
	}
	if _, ok := n.appKeys[req.AppKeyIndex]; !ok {
		return wire.StatusInvalidAppKeyIndex
	}
	k := modelKey{req.ElementAddress, req.Model}
	if !slices.Contains(n.bindings[k], req.AppKeyIndex) {
		n.bindings[k] = append(n.bindings[k], req.AppKeyIndex)
	}
	return wire.StatusSuccess
}

func (n *Node) publish(p wire.Publication) wire.Status {
	if st := n.model(p.ElementAddress, p.Model); st != wire.StatusSuccess {
		return st
	}
	if p.PublishAddress == wire.AddressUnassigned {
		delete(n.publications, modelKey{p.ElementAddress, p.Model})
		return wire.StatusSuccess
	}
	if _, ok := n.appKeys[p.AppKeyIndex]; !ok {
		return wire.StatusInvalidAppKeyIndex
	}
	if !slices.Contains(n.bindings[modelKey{p.ElementAddress, p.Model}], p.AppKeyIndex) {
		return wire.StatusInvalidBinding
	}
	if p.TTL > wire.TTLMax && p.TTL != 0xFF {
		return wire.StatusInvalidPublishParameters
	}
	n.publications[modelKey{p.ElementAddress, p.Model}] = p
	return wire.StatusSuccess
}

func (n *Node) subscribe(req wire.ModelSubscriptionAdd) wire.Status {
	if st := n.model(req.ElementAddress, req.Model); st != wire.StatusSuccess {
		return st
	}
	if !wire.IsGroup(req.Address) || req.Address == wire.AddressAllNodes {
		return wire.StatusInvalidAddress
	}
	k := modelKey{req.ElementAddress, req.Model}
	if !slices.Contains(n.subscriptions[k], req.Address) {
		n.subscriptions[k] = append(n.subscriptions[k], req.Address)
	}
	return wire.StatusSuccess
}
