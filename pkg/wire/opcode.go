package wire

import "fmt"

// Opcode is a 1 or 2 byte access-layer opcode.
//
// One byte opcodes occupy 0x00-0x7E. Two byte opcodes have the top bit pair
// set to 0b10 and are represented here as 0x8000-0xBFFF.
type Opcode uint16

// Configuration model opcodes.
const (
	OpAppKeyAdd               Opcode = 0x00
	OpCompositionDataStatus   Opcode = 0x02
	OpModelPublicationSet     Opcode = 0x03
	OpAppKeyStatus            Opcode = 0x8003
	OpCompositionDataGet      Opcode = 0x8008
	OpModelPublicationStatus  Opcode = 0x8019
	OpModelSubscriptionAdd    Opcode = 0x801B
	OpModelSubscriptionStatus Opcode = 0x801F
	OpModelAppBind            Opcode = 0x803D
	OpModelAppStatus          Opcode = 0x803E
)

// String returns the opcode name.
func (o Opcode) String() string {
	switch o {
	case OpAppKeyAdd:
		return "APPKEY_ADD"
	case OpCompositionDataStatus:
		return "COMPOSITION_DATA_STATUS"
	case OpModelPublicationSet:
		return "MODEL_PUBLICATION_SET"
	case OpAppKeyStatus:
		return "APPKEY_STATUS"
	case OpCompositionDataGet:
		return "COMPOSITION_DATA_GET"
	case OpModelPublicationStatus:
		return "MODEL_PUBLICATION_STATUS"
	case OpModelSubscriptionAdd:
		return "MODEL_SUBSCRIPTION_ADD"
	case OpModelSubscriptionStatus:
		return "MODEL_SUBSCRIPTION_STATUS"
	case OpModelAppBind:
		return "MODEL_APP_BIND"
	case OpModelAppStatus:
		return "MODEL_APP_STATUS"
	default:
		return fmt.Sprintf("OPCODE_0x%04X", uint16(o))
	}
}

// Size returns the encoded opcode length in bytes.
func (o Opcode) Size() int {
	if o < 0x7F {
		return 1
	}
	return 2
}

// IsValid reports whether o is representable as a 1 or 2 byte opcode.
func (o Opcode) IsValid() bool {
	return o < 0x7F || (o >= 0x8000 && o <= 0xBFFF)
}

// EncodeAccess builds an access PDU from an opcode and parameters.
func EncodeAccess(op Opcode, params []byte) ([]byte, error) {
	if !op.IsValid() {
		return nil, fmt.Errorf("%w: 0x%04X", ErrInvalidOpcode, uint16(op))
	}
	pdu := make([]byte, 0, op.Size()+len(params))
	if op.Size() == 1 {
		pdu = append(pdu, byte(op))
	} else {
		pdu = append(pdu, byte(op>>8), byte(op))
	}
	return append(pdu, params...), nil
}

// DecodeAccess splits an access PDU into opcode and parameters.
// Three byte vendor opcodes are rejected; configuration messages never use them.
func DecodeAccess(pdu []byte) (Opcode, []byte, error) {
	if len(pdu) == 0 {
		return 0, nil, ErrShortPayload
	}
	switch {
	case pdu[0] == 0x7F:
		return 0, nil, fmt.Errorf("%w: reserved opcode 0x7F", ErrInvalidOpcode)
	case pdu[0]&0x80 == 0:
		return Opcode(pdu[0]), pdu[1:], nil
	case pdu[0]&0xC0 == 0x80:
		if len(pdu) < 2 {
			return 0, nil, ErrShortPayload
		}
		return Opcode(uint16(pdu[0])<<8 | uint16(pdu[1])), pdu[2:], nil
	default:
		return 0, nil, fmt.Errorf("%w: vendor opcode 0x%02X", ErrInvalidOpcode, pdu[0])
	}
}
