package log

import (
	"time"

	"github.com/citymesh/meshcfg-go/pkg/wire"
)

// Event is a protocol capture record. CBOR encoding uses integer keys.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// SessionID correlates all events of one node-setup session (UUID).
	SessionID string `cbor:"2,keyasint"`

	// Direction of message flow. Only meaningful for message events.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// NodeAddress is the unicast address of the node being configured.
	NodeAddress uint16 `cbor:"6,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Message     *MessageEvent     `cbor:"10,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"11,keyasint,omitempty"`
	Retry       *RetryEvent       `cbor:"12,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"13,keyasint,omitempty"`
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn is a message received from a node.
	DirectionIn Direction = 0
	// DirectionOut is a message sent to a node.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which part of the provisioner captured the event.
type Layer uint8

const (
	// LayerTransport is the config client (send slot, timeouts).
	LayerTransport Layer = 0
	// LayerAccess is the configuration message layer (decoded opcodes).
	LayerAccess Layer = 1
	// LayerSetup is the node-setup state machine and orchestrator.
	LayerSetup Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerAccess:
		return "ACCESS"
	case LayerSetup:
		return "SETUP"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	CategoryMessage Category = 0
	CategoryState   Category = 1
	CategoryRetry   Category = 2
	CategoryError   Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryState:
		return "STATE"
	case CategoryRetry:
		return "RETRY"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// MessageEvent captures a configuration message sent or received.
type MessageEvent struct {
	// Opcode of the access message.
	Opcode wire.Opcode `cbor:"1,keyasint"`

	// Status carried by status messages, if any.
	Status *wire.Status `cbor:"2,keyasint,omitempty"`

	// Step is the setup step the message belongs to.
	Step string `cbor:"3,keyasint,omitempty"`

	// Params holds the raw message parameters.
	Params []byte `cbor:"4,keyasint,omitempty"`
}

// StateChangeEvent captures session, step and node lifecycle transitions.
type StateChangeEvent struct {
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what changed state.
type StateEntity uint8

const (
	// StateEntitySession is a node-setup session starting or ending.
	StateEntitySession StateEntity = 0
	// StateEntityStep is the setup step cursor moving.
	StateEntityStep StateEntity = 1
	// StateEntityNode is a node changing its provisioner-side status.
	StateEntityNode StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntitySession:
		return "SESSION"
	case StateEntityStep:
		return "STEP"
	case StateEntityNode:
		return "NODE"
	default:
		return "UNKNOWN"
	}
}

// RetryEvent captures a retry decision.
type RetryEvent struct {
	Kind RetryKind `cbor:"1,keyasint"`

	// Remaining is the budget left after this retry.
	Remaining int `cbor:"2,keyasint"`

	// Delay before the retry fires. Zero for immediate resends.
	Delay time.Duration `cbor:"3,keyasint,omitempty"`

	Step string `cbor:"4,keyasint,omitempty"`
}

// RetryKind distinguishes the retry budgets.
type RetryKind uint8

const (
	// RetryBusy is a resend after the client reported a busy send slot.
	RetryBusy RetryKind = 0
	// RetryTimeout is a resend after an acknowledgement timeout.
	RetryTimeout RetryKind = 1
	// RetryNode is a whole setup session restarted for a failed node.
	RetryNode RetryKind = 2
)

// String returns the retry kind name.
func (k RetryKind) String() string {
	switch k {
	case RetryBusy:
		return "BUSY"
	case RetryTimeout:
		return "TIMEOUT"
	case RetryNode:
		return "NODE"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Code is the rejecting status code (if applicable).
	Code *int `cbor:"3,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`
}
