package nodesetup

import (
	"time"

	"github.com/citymesh/meshcfg-go/pkg/wire"
)

// ConfigClient sends acknowledged configuration requests to the bound node.
//
// Send must not block. It returns ErrBusy while a previous request still
// occupies the send slot; any other error is a transport fault. The outcome
// of an accepted request is delivered later as an Event.
type ConfigClient interface {
	Send(msg wire.Message) error

	// CancelPending drops the request occupying the send slot, if any.
	CancelPending()
}

// Binder attaches the config client to a node's device key and address.
type Binder interface {
	Bind(address uint16) error
}

// BinderFunc adapts a function to Binder.
type BinderFunc func(address uint16) error

// Bind calls f.
func (f BinderFunc) Bind(address uint16) error { return f(address) }

// Scheduler runs fn after d. fn must be delivered on the goroutine that
// calls HandleEvent.
type Scheduler interface {
	Schedule(d time.Duration, fn func()) Timer
}

// Timer is a pending Scheduler callback.
type Timer interface {
	// Stop prevents the callback from running if it has not run yet.
	Stop()
}
