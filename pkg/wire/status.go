package wire

import "fmt"

// Status is a configuration message status code.
type Status uint8

const (
	StatusSuccess                        Status = 0x00
	StatusInvalidAddress                 Status = 0x01
	StatusInvalidModel                   Status = 0x02
	StatusInvalidAppKeyIndex             Status = 0x03
	StatusInvalidNetKeyIndex             Status = 0x04
	StatusInsufficientResources          Status = 0x05
	StatusKeyIndexAlreadyStored          Status = 0x06
	StatusInvalidPublishParameters       Status = 0x07
	StatusNotASubscribeModel             Status = 0x08
	StatusStorageFailure                 Status = 0x09
	StatusFeatureNotSupported            Status = 0x0A
	StatusCannotUpdate                   Status = 0x0B
	StatusCannotRemove                   Status = 0x0C
	StatusCannotBind                     Status = 0x0D
	StatusTemporarilyUnableToChangeState Status = 0x0E
	StatusCannotSet                      Status = 0x0F
	StatusUnspecifiedError               Status = 0x10
	StatusInvalidBinding                 Status = 0x11
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusInvalidAddress:
		return "INVALID_ADDRESS"
	case StatusInvalidModel:
		return "INVALID_MODEL"
	case StatusInvalidAppKeyIndex:
		return "INVALID_APPKEY_INDEX"
	case StatusInvalidNetKeyIndex:
		return "INVALID_NETKEY_INDEX"
	case StatusInsufficientResources:
		return "INSUFFICIENT_RESOURCES"
	case StatusKeyIndexAlreadyStored:
		return "KEY_INDEX_ALREADY_STORED"
	case StatusInvalidPublishParameters:
		return "INVALID_PUBLISH_PARAMETERS"
	case StatusNotASubscribeModel:
		return "NOT_A_SUBSCRIBE_MODEL"
	case StatusStorageFailure:
		return "STORAGE_FAILURE"
	case StatusFeatureNotSupported:
		return "FEATURE_NOT_SUPPORTED"
	case StatusCannotUpdate:
		return "CANNOT_UPDATE"
	case StatusCannotRemove:
		return "CANNOT_REMOVE"
	case StatusCannotBind:
		return "CANNOT_BIND"
	case StatusTemporarilyUnableToChangeState:
		return "TEMPORARILY_UNABLE_TO_CHANGE_STATE"
	case StatusCannotSet:
		return "CANNOT_SET"
	case StatusUnspecifiedError:
		return "UNSPECIFIED_ERROR"
	case StatusInvalidBinding:
		return "INVALID_BINDING"
	default:
		return fmt.Sprintf("STATUS_0x%02X", uint8(s))
	}
}

// IsSuccess returns true if the status indicates success.
func (s Status) IsSuccess() bool {
	return s == StatusSuccess
}
