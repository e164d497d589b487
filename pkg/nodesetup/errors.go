package nodesetup

import (
	"errors"
	"fmt"

	"github.com/citymesh/meshcfg-go/pkg/wire"
)

// Programming errors returned synchronously.
var (
	ErrNilCallback     = errors.New("callback must not be nil")
	ErrCallbacksNotSet = errors.New("callbacks not set")
	ErrSessionActive   = errors.New("setup session already active")
	ErrInvalidConfig   = errors.New("invalid configuration")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrEmptyStepList   = errors.New("empty step list")
	ErrInvalidStepList = errors.New("invalid step in step list")
	ErrBind            = errors.New("bind config client")
)

// Session failure causes, reported through *SetupError.
var (
	ErrTimeout          = errors.New("acknowledgement timeout")
	ErrRejected         = errors.New("configuration rejected")
	ErrUnexpectedOpcode = errors.New("unexpected opcode")
	ErrMalformed        = errors.New("malformed response")
	ErrTransport        = errors.New("transport fault")
)

// ErrBusy is returned by ConfigClient.Send when the send slot is occupied.
var ErrBusy = errors.New("config client busy")

// StepListError reports a step that cannot appear in a selected list.
type StepListError struct {
	Index int
	Step  Step
}

func (e *StepListError) Error() string {
	return fmt.Sprintf("%v: %s at index %d", ErrInvalidStepList, e.Step, e.Index)
}

func (e *StepListError) Unwrap() error { return ErrInvalidStepList }

// SetupError describes why a setup session failed.
type SetupError struct {
	SessionID string
	Address   uint16
	Step      Step

	// Model is the vendor model being configured for per-model steps.
	Model *wire.ModelID

	// Status is the rejecting status code for ErrRejected.
	Status *wire.Status

	// Opcode is the offending opcode for ErrUnexpectedOpcode.
	Opcode *wire.Opcode

	// Err is one of the session failure sentinels, possibly wrapped.
	Err error
}

func (e *SetupError) Error() string {
	msg := fmt.Sprintf("node 0x%04X: %s", e.Address, e.Step)
	if e.Model != nil {
		msg += " " + e.Model.String()
	}
	msg += ": " + e.Err.Error()
	switch {
	case e.Status != nil:
		msg += " (status " + e.Status.String() + ")"
	case e.Opcode != nil:
		msg += " (opcode " + e.Opcode.String() + ")"
	}
	return msg
}

func (e *SetupError) Unwrap() error { return e.Err }
