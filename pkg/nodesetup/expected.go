package nodesetup

import (
	"slices"

	"github.com/citymesh/meshcfg-go/pkg/wire"
)

// CheckResult is the verdict on a response.
type CheckResult uint8

const (
	CheckPass CheckResult = iota
	CheckFail
	CheckUnexpectedOpcode
)

// String returns the result name.
func (r CheckResult) String() string {
	switch r {
	case CheckPass:
		return "PASS"
	case CheckFail:
		return "FAIL"
	case CheckUnexpectedOpcode:
		return "UNEXPECTED_OPCODE"
	default:
		return "UNKNOWN"
	}
}

// ExpectedResponse declares the acknowledgement a step waits for.
// An empty Accepted list accepts any status.
type ExpectedResponse struct {
	Opcode   wire.Opcode
	Accepted []wire.Status
}

// checkExpectedStatus validates a decoded response. The opcode is compared
// first, so a mismatch is reported regardless of the status it carries.
// Messages without a status field pass once the opcode matches.
func checkExpectedStatus(exp ExpectedResponse, msg wire.Message) CheckResult {
	if msg.Opcode() != exp.Opcode {
		return CheckUnexpectedOpcode
	}
	sm, ok := msg.(wire.StatusMessage)
	if !ok || len(exp.Accepted) == 0 {
		return CheckPass
	}
	if slices.Contains(exp.Accepted, sm.StatusCode()) {
		return CheckPass
	}
	return CheckFail
}
