package provisioner

import (
	"errors"
	"time"

	"github.com/citymesh/meshcfg-go/pkg/nodesetup"
	"github.com/citymesh/meshcfg-go/pkg/persistence"
)

// Provisioner errors.
var (
	ErrNotStarted       = errors.New("provisioner not started")
	ErrAlreadyStarted   = errors.New("provisioner already started")
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrUnknownNode      = errors.New("unknown node")
	ErrDuplicateLabel   = errors.New("node label already in use")
	ErrAddressExhausted = errors.New("unicast address space exhausted")
	ErrKeyMismatch      = errors.New("configured key differs from stored network key")
)

// State is the provisioner lifecycle state.
type State uint8

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// EventType identifies a provisioner event.
type EventType uint8

const (
	// EventNodeAdded - a node joined and was queued for setup.
	EventNodeAdded EventType = iota

	// EventSetupStarted - a setup session began.
	EventSetupStarted

	// EventNodeConfigured - a setup session completed.
	EventNodeConfigured

	// EventSetupFailed - a setup session failed.
	EventSetupFailed

	// EventRetryScheduled - a failed node will be queued again after Delay.
	EventRetryScheduled

	// EventNodeAbandoned - a node ran out of attempts.
	EventNodeAbandoned

	// EventIdle - no session is running and nothing is queued or waiting.
	EventIdle
)

// String returns the event type name.
func (e EventType) String() string {
	switch e {
	case EventNodeAdded:
		return "NODE_ADDED"
	case EventSetupStarted:
		return "SETUP_STARTED"
	case EventNodeConfigured:
		return "NODE_CONFIGURED"
	case EventSetupFailed:
		return "SETUP_FAILED"
	case EventRetryScheduled:
		return "RETRY_SCHEDULED"
	case EventNodeAbandoned:
		return "NODE_ABANDONED"
	case EventIdle:
		return "IDLE"
	default:
		return "UNKNOWN"
	}
}

// Event reports progress. Handlers run on the provisioner goroutine and
// must not call back into the Provisioner synchronously.
type Event struct {
	Type EventType

	// Address is the node's primary element address.
	Address uint16

	// SessionID correlates the event with protocol log entries.
	SessionID string

	// Attempt is the number of failed sessions so far.
	Attempt int

	// Delay is the wait before the next attempt (EventRetryScheduled).
	Delay time.Duration

	// Models are the service models configured (EventNodeConfigured).
	Models []nodesetup.ServiceModel

	// Error is set for EventSetupFailed and EventNodeAbandoned.
	Error error
}

// EventHandler handles provisioner events.
type EventHandler func(Event)

// NodeSpec describes a node joining the network.
type NodeSpec struct {
	// Label names the node. Optional, but unique when set.
	Label string

	// Elements is the number of unicast addresses the node needs.
	Elements int
}

// JoinFunc completes provisioning of a node at its assigned address.
// A non-nil error releases the address.
type JoinFunc func(address uint16) error

// Status is a snapshot of the provisioner.
type Status struct {
	State State

	// Active is the node being configured, or 0.
	Active    uint16
	Step      nodesetup.Step
	SessionID string

	// Queue lists nodes waiting for a session, in order.
	Queue []uint16

	// Waiting lists nodes in backoff after a failure.
	Waiting []uint16

	NextAddress uint16
	Provisioned int
	Configured  int

	Nodes []persistence.NodeRecord
}
