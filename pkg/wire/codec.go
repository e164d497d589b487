package wire

import (
	"encoding/binary"
	"fmt"
)

// Encode builds the access PDU for a message.
func Encode(m Message) ([]byte, error) {
	params, err := m.MarshalParams()
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Opcode(), err)
	}
	return EncodeAccess(m.Opcode(), params)
}

// Decode parses the parameters of a message with the given opcode.
func Decode(op Opcode, params []byte) (Message, error) {
	r := &paramReader{buf: params}
	var m Message

	switch op {
	case OpCompositionDataGet:
		m = CompositionDataGet{Page: r.u8()}

	case OpCompositionDataStatus:
		page := r.u8()
		m = CompositionDataStatus{Page: page, Data: r.rest()}

	case OpAppKeyAdd:
		net, app := r.keyIndexPair()
		m = AppKeyAdd{NetKeyIndex: net, AppKeyIndex: app, AppKey: r.bytes(KeySize)}

	case OpAppKeyStatus:
		status := Status(r.u8())
		net, app := r.keyIndexPair()
		m = AppKeyStatus{Status: status, NetKeyIndex: net, AppKeyIndex: app}

	case OpModelAppBind:
		m = ModelAppBind{ElementAddress: r.u16(), AppKeyIndex: r.u16(), Model: r.model()}

	case OpModelAppStatus:
		m = ModelAppStatus{Status: Status(r.u8()), ElementAddress: r.u16(), AppKeyIndex: r.u16(), Model: r.model()}

	case OpModelPublicationSet:
		m = ModelPublicationSet{Publication: r.publication()}

	case OpModelPublicationStatus:
		status := Status(r.u8())
		m = ModelPublicationStatus{Status: status, Publication: r.publication()}

	case OpModelSubscriptionAdd:
		m = ModelSubscriptionAdd{ElementAddress: r.u16(), Address: r.u16(), Model: r.model()}

	case OpModelSubscriptionStatus:
		m = ModelSubscriptionStatus{Status: Status(r.u8()), ElementAddress: r.u16(), Address: r.u16(), Model: r.model()}

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownOpcode, op)
	}

	if err := r.finish(); err != nil {
		return nil, fmt.Errorf("decode %s: %w", op, err)
	}
	return m, nil
}

// DecodePDU splits and decodes an access PDU.
func DecodePDU(pdu []byte) (Message, error) {
	op, params, err := DecodeAccess(pdu)
	if err != nil {
		return nil, err
	}
	return Decode(op, params)
}

// MarshalParams implements Message.
func (m CompositionDataGet) MarshalParams() ([]byte, error) {
	return []byte{m.Page}, nil
}

// MarshalParams implements Message.
func (m CompositionDataStatus) MarshalParams() ([]byte, error) {
	return append([]byte{m.Page}, m.Data...), nil
}

// MarshalParams implements Message.
func (m AppKeyAdd) MarshalParams() ([]byte, error) {
	if len(m.AppKey) != KeySize {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidKey, len(m.AppKey))
	}
	buf, err := appendKeyIndexPair(make([]byte, 0, 3+KeySize), m.NetKeyIndex, m.AppKeyIndex)
	if err != nil {
		return nil, err
	}
	return append(buf, m.AppKey...), nil
}

// MarshalParams implements Message.
func (m AppKeyStatus) MarshalParams() ([]byte, error) {
	return appendKeyIndexPair([]byte{byte(m.Status)}, m.NetKeyIndex, m.AppKeyIndex)
}

// MarshalParams implements Message.
func (m ModelAppBind) MarshalParams() ([]byte, error) {
	if m.AppKeyIndex > MaxKeyIndex {
		return nil, ErrInvalidKeyIndex
	}
	buf := binary.LittleEndian.AppendUint16(nil, m.ElementAddress)
	buf = binary.LittleEndian.AppendUint16(buf, m.AppKeyIndex)
	return appendModelID(buf, m.Model), nil
}

// MarshalParams implements Message.
func (m ModelAppStatus) MarshalParams() ([]byte, error) {
	bind, err := ModelAppBind{ElementAddress: m.ElementAddress, AppKeyIndex: m.AppKeyIndex, Model: m.Model}.MarshalParams()
	if err != nil {
		return nil, err
	}
	return append([]byte{byte(m.Status)}, bind...), nil
}

// MarshalParams implements Message.
func (m ModelPublicationSet) MarshalParams() ([]byte, error) {
	return m.Publication.appendTo(nil)
}

// MarshalParams implements Message.
func (m ModelPublicationStatus) MarshalParams() ([]byte, error) {
	return m.Publication.appendTo([]byte{byte(m.Status)})
}

// MarshalParams implements Message.
func (m ModelSubscriptionAdd) MarshalParams() ([]byte, error) {
	buf := binary.LittleEndian.AppendUint16(nil, m.ElementAddress)
	buf = binary.LittleEndian.AppendUint16(buf, m.Address)
	return appendModelID(buf, m.Model), nil
}

// MarshalParams implements Message.
func (m ModelSubscriptionStatus) MarshalParams() ([]byte, error) {
	sub, _ := ModelSubscriptionAdd{ElementAddress: m.ElementAddress, Address: m.Address, Model: m.Model}.MarshalParams()
	return append([]byte{byte(m.Status)}, sub...), nil
}

func (p Publication) appendTo(buf []byte) ([]byte, error) {
	if p.AppKeyIndex > MaxKeyIndex {
		return nil, ErrInvalidKeyIndex
	}
	keyField := p.AppKeyIndex
	if p.CredentialFlag {
		keyField |= 1 << 12
	}
	buf = binary.LittleEndian.AppendUint16(buf, p.ElementAddress)
	buf = binary.LittleEndian.AppendUint16(buf, p.PublishAddress)
	buf = binary.LittleEndian.AppendUint16(buf, keyField)
	buf = append(buf, p.TTL, p.Period.encode(), p.Retransmit.encode())
	return appendModelID(buf, p.Model), nil
}

// appendKeyIndexPair packs two 12 bit key indexes into 3 bytes, first index
// in the low bits.
func appendKeyIndexPair(buf []byte, first, second uint16) ([]byte, error) {
	if first > MaxKeyIndex || second > MaxKeyIndex {
		return nil, ErrInvalidKeyIndex
	}
	return append(buf,
		byte(first),
		byte(first>>8)&0x0F|byte(second<<4),
		byte(second>>4),
	), nil
}

func appendModelID(buf []byte, m ModelID) []byte {
	if m.IsVendor() {
		buf = binary.LittleEndian.AppendUint16(buf, m.CompanyID)
	}
	return binary.LittleEndian.AppendUint16(buf, m.ModelID)
}

// paramReader reads fixed fields from a parameter block. The first short read
// latches an error; later reads return zero values.
type paramReader struct {
	buf []byte
	off int
	err error
}

func (r *paramReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.buf)-r.off < n {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShortPayload, n, r.off, len(r.buf)-r.off)
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *paramReader) u8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *paramReader) u16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *paramReader) bytes(n int) []byte {
	b := r.take(n)
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

func (r *paramReader) rest() []byte {
	if r.err != nil {
		return nil
	}
	return r.bytes(len(r.buf) - r.off)
}

func (r *paramReader) keyIndexPair() (uint16, uint16) {
	b := r.take(3)
	if b == nil {
		return 0, 0
	}
	first := uint16(b[0]) | uint16(b[1]&0x0F)<<8
	second := uint16(b[1])>>4 | uint16(b[2])<<4
	return first, second
}

// model consumes a trailing model identifier; its width is implied by the
// remaining length.
func (r *paramReader) model() ModelID {
	if r.err != nil {
		return ModelID{}
	}
	switch len(r.buf) - r.off {
	case 2:
		return SIGModel(r.u16())
	case 4:
		company := r.u16()
		return ModelID{CompanyID: company, ModelID: r.u16()}
	case 0, 1, 3:
		r.err = fmt.Errorf("%w: model identifier needs 2 or 4 bytes, have %d", ErrShortPayload, len(r.buf)-r.off)
	default:
		r.err = fmt.Errorf("%w: %d bytes after model identifier", ErrTrailingData, len(r.buf)-r.off-4)
	}
	return ModelID{}
}

func (r *paramReader) publication() Publication {
	p := Publication{
		ElementAddress: r.u16(),
		PublishAddress: r.u16(),
	}
	keyField := r.u16()
	p.AppKeyIndex = keyField & MaxKeyIndex
	p.CredentialFlag = keyField&(1<<12) != 0
	p.TTL = r.u8()
	p.Period = decodePublishPeriod(r.u8())
	p.Retransmit = decodeRetransmit(r.u8())
	p.Model = r.model()
	return p
}

func (r *paramReader) finish() error {
	if r.err != nil {
		return r.err
	}
	if r.off != len(r.buf) {
		return fmt.Errorf("%w: %d bytes", ErrTrailingData, len(r.buf)-r.off)
	}
	return nil
}
