package wire

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidModelID is returned by ParseModelID.
var ErrInvalidModelID = errors.New("invalid model identifier")

// CompanyIDNone marks a SIG-defined model.
const CompanyIDNone uint16 = 0xFFFF

// CompanyIDNordic is the Nordic Semiconductor company identifier.
const CompanyIDNordic uint16 = 0x0059

// SIG model identifiers used during node setup.
const (
	ModelIDConfigServer uint16 = 0x0000
	ModelIDConfigClient uint16 = 0x0001
	ModelIDHealthServer uint16 = 0x0002
	ModelIDHealthClient uint16 = 0x0003
)

// ModelID identifies a model. CompanyID is CompanyIDNone for SIG models.
type ModelID struct {
	CompanyID uint16
	ModelID   uint16
}

// SIGModel returns the identifier of a SIG-defined model.
func SIGModel(id uint16) ModelID {
	return ModelID{CompanyID: CompanyIDNone, ModelID: id}
}

// IsVendor returns true for vendor-specific models.
func (m ModelID) IsVendor() bool {
	return m.CompanyID != CompanyIDNone
}

// Size returns the encoded length of the identifier.
func (m ModelID) Size() int {
	if m.IsVendor() {
		return 4
	}
	return 2
}

// String formats the identifier as company:model, or just the model for SIG models.
func (m ModelID) String() string {
	if !m.IsVendor() {
		return fmt.Sprintf("0x%04X", m.ModelID)
	}
	return fmt.Sprintf("0x%04X:0x%04X", m.CompanyID, m.ModelID)
}

// ParseModelID parses the String form: "0x0002" for SIG models or
// "0x0059:0xC001" for vendor models. Decimal numbers are accepted too.
func ParseModelID(s string) (ModelID, error) {
	parse := func(v string) (uint16, error) {
		n, err := strconv.ParseUint(strings.TrimSpace(v), 0, 16)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidModelID, s)
		}
		return uint16(n), nil
	}

	cid, mid, vendor := strings.Cut(s, ":")
	if !vendor {
		id, err := parse(s)
		if err != nil {
			return ModelID{}, err
		}
		return SIGModel(id), nil
	}
	c, err := parse(cid)
	if err != nil {
		return ModelID{}, err
	}
	if c == CompanyIDNone {
		return ModelID{}, fmt.Errorf("%w: %q uses the SIG company ID", ErrInvalidModelID, s)
	}
	m, err := parse(mid)
	if err != nil {
		return ModelID{}, err
	}
	return ModelID{CompanyID: c, ModelID: m}, nil
}

// Address ranges.
const (
	AddressUnassigned uint16 = 0x0000
	GroupAddressBase  uint16 = 0xC000
	AddressAllNodes   uint16 = 0xFFFF
)

// IsUnicast returns true for unicast element addresses.
func IsUnicast(addr uint16) bool {
	return addr != AddressUnassigned && addr&0x8000 == 0
}

// IsGroup returns true for group addresses.
func IsGroup(addr uint16) bool {
	return addr&GroupAddressBase == GroupAddressBase
}

// GroupAddressFor maps a model identifier onto the group address its
// publications and subscriptions use.
func GroupAddressFor(modelID uint16) uint16 {
	return modelID | GroupAddressBase
}

// TTLMax is the largest TTL a publication may carry.
const TTLMax uint8 = 0x7F

// StepResolution is the unit of a publish period step.
type StepResolution uint8

const (
	Resolution100ms StepResolution = 0
	Resolution1s    StepResolution = 1
	Resolution10s   StepResolution = 2
	Resolution10min StepResolution = 3
)

// PublishPeriod is a periodic publication interval: Steps x Resolution.
// Steps is 6 bits wide.
type PublishPeriod struct {
	Steps      uint8
	Resolution StepResolution
}

func (p PublishPeriod) encode() byte {
	return p.Steps&0x3F | byte(p.Resolution&0x03)<<6
}

func decodePublishPeriod(b byte) PublishPeriod {
	return PublishPeriod{Steps: b & 0x3F, Resolution: StepResolution(b >> 6)}
}

// Retransmit controls publication retransmissions. Count is 3 bits,
// IntervalSteps is 5 bits (units of 50 ms, plus one).
type Retransmit struct {
	Count         uint8
	IntervalSteps uint8
}

func (r Retransmit) encode() byte {
	return r.Count&0x07 | (r.IntervalSteps&0x1F)<<3
}

func decodeRetransmit(b byte) Retransmit {
	return Retransmit{Count: b & 0x07, IntervalSteps: b >> 3}
}
