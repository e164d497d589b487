package wire

import "errors"

// Wire errors.
var (
	ErrShortPayload    = errors.New("payload too short")
	ErrTrailingData    = errors.New("unexpected trailing data")
	ErrInvalidOpcode   = errors.New("invalid opcode")
	ErrUnknownOpcode   = errors.New("unknown opcode")
	ErrInvalidKeyIndex = errors.New("key index out of range")
	ErrInvalidKey      = errors.New("invalid key length")
)

// KeySize is the length of network and application keys.
const KeySize = 16

// MaxKeyIndex is the largest 12 bit key index.
const MaxKeyIndex uint16 = 0x0FFF

// Message is a configuration message with a fixed parameter layout.
type Message interface {
	// Opcode returns the message opcode.
	Opcode() Opcode

	// MarshalParams encodes the message parameters (without opcode).
	MarshalParams() ([]byte, error)
}

// StatusMessage is an acknowledgement that carries a status field.
type StatusMessage interface {
	Message

	// StatusCode returns the status reported by the node.
	StatusCode() Status
}

// CompositionDataGet requests a composition data page.
//
// Layout: Page (1)
type CompositionDataGet struct {
	Page uint8
}

// Opcode implements Message.
func (CompositionDataGet) Opcode() Opcode { return OpCompositionDataGet }

// CompositionDataStatus carries a composition data page.
//
// Layout: Page (1) | Data (variable)
type CompositionDataStatus struct {
	Page uint8
	Data []byte
}

// Opcode implements Message.
func (CompositionDataStatus) Opcode() Opcode { return OpCompositionDataStatus }

// AppKeyAdd installs an application key bound to a network key.
//
// Layout: NetKeyIndex|AppKeyIndex (3) | AppKey (16)
type AppKeyAdd struct {
	NetKeyIndex uint16
	AppKeyIndex uint16
	AppKey      []byte
}

// Opcode implements Message.
func (AppKeyAdd) Opcode() Opcode { return OpAppKeyAdd }

// AppKeyStatus acknowledges AppKeyAdd.
//
// Layout: Status (1) | NetKeyIndex|AppKeyIndex (3)
type AppKeyStatus struct {
	Status      Status
	NetKeyIndex uint16
	AppKeyIndex uint16
}

// Opcode implements Message.
func (AppKeyStatus) Opcode() Opcode { return OpAppKeyStatus }

// StatusCode implements StatusMessage.
func (m AppKeyStatus) StatusCode() Status { return m.Status }

// ModelAppBind binds an application key to a model on an element.
//
// Layout: ElementAddress (2) | AppKeyIndex (2) | ModelIdentifier (2 or 4)
type ModelAppBind struct {
	ElementAddress uint16
	AppKeyIndex    uint16
	Model          ModelID
}

// Opcode implements Message.
func (ModelAppBind) Opcode() Opcode { return OpModelAppBind }

// ModelAppStatus acknowledges ModelAppBind.
//
// Layout: Status (1) | ElementAddress (2) | AppKeyIndex (2) | ModelIdentifier (2 or 4)
type ModelAppStatus struct {
	Status         Status
	ElementAddress uint16
	AppKeyIndex    uint16
	Model          ModelID
}

// Opcode implements Message.
func (ModelAppStatus) Opcode() Opcode { return OpModelAppStatus }

// StatusCode implements StatusMessage.
func (m ModelAppStatus) StatusCode() Status { return m.Status }

// Publication holds the publish parameters shared by the set and status messages.
type Publication struct {
	ElementAddress uint16
	PublishAddress uint16
	AppKeyIndex    uint16
	CredentialFlag bool
	TTL            uint8
	Period         PublishPeriod
	Retransmit     Retransmit
	Model          ModelID
}

// ModelPublicationSet configures where a model publishes.
//
// Layout: ElementAddress (2) | PublishAddress (2) | AppKeyIndex:12 CredentialFlag:1 RFU:3 (2) |
// PublishTTL (1) | PublishPeriod (1) | Retransmit (1) | ModelIdentifier (2 or 4)
type ModelPublicationSet struct {
	Publication
}

// Opcode implements Message.
func (ModelPublicationSet) Opcode() Opcode { return OpModelPublicationSet }

// ModelPublicationStatus acknowledges ModelPublicationSet.
//
// Layout: Status (1) followed by the ModelPublicationSet layout.
type ModelPublicationStatus struct {
	Status Status
	Publication
}

// Opcode implements Message.
func (ModelPublicationStatus) Opcode() Opcode { return OpModelPublicationStatus }

// StatusCode implements StatusMessage.
func (m ModelPublicationStatus) StatusCode() Status { return m.Status }

// ModelSubscriptionAdd adds an address to a model's subscription list.
//
// Layout: ElementAddress (2) | Address (2) | ModelIdentifier (2 or 4)
type ModelSubscriptionAdd struct {
	ElementAddress uint16
	Address        uint16
	Model          ModelID
}

// Opcode implements Message.
func (ModelSubscriptionAdd) Opcode() Opcode { return OpModelSubscriptionAdd }

// ModelSubscriptionStatus acknowledges ModelSubscriptionAdd.
//
// Layout: Status (1) | ElementAddress (2) | Address (2) | ModelIdentifier (2 or 4)
type ModelSubscriptionStatus struct {
	Status         Status
	ElementAddress uint16
	Address        uint16
	Model          ModelID
}

// Opcode implements Message.
func (ModelSubscriptionStatus) Opcode() Opcode { return OpModelSubscriptionStatus }

// StatusCode implements StatusMessage.
func (m ModelSubscriptionStatus) StatusCode() Status { return m.Status }

// Compile-time interface satisfaction checks.
var (
	_ Message       = CompositionDataGet{}
	_ Message       = CompositionDataStatus{}
	_ Message       = AppKeyAdd{}
	_ StatusMessage = AppKeyStatus{}
	_ Message       = ModelAppBind{}
	_ StatusMessage = ModelAppStatus{}
	_ Message       = ModelPublicationSet{}
	_ StatusMessage = ModelPublicationStatus{}
	_ Message       = ModelSubscriptionAdd{}
	_ StatusMessage = ModelSubscriptionStatus{}
)
