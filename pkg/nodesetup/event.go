package nodesetup

import "github.com/citymesh/meshcfg-go/pkg/wire"

// EventKind distinguishes transport events.
type EventKind uint8

const (
	EventTimeout EventKind = iota
	EventMessage
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventTimeout:
		return "TIMEOUT"
	case EventMessage:
		return "MESSAGE"
	default:
		return "UNKNOWN"
	}
}

// Event is delivered by the transport to HandleEvent.
type Event struct {
	Kind   EventKind
	Opcode wire.Opcode
	Params []byte
}

// TimeoutEvent reports that the outstanding request was not acknowledged.
func TimeoutEvent() Event {
	return Event{Kind: EventTimeout}
}

// MessageEvent reports an inbound access message addressed to the client.
func MessageEvent(op wire.Opcode, params []byte) Event {
	return Event{Kind: EventMessage, Opcode: op, Params: params}
}
