package protocol

import "errors"

var (
	ErrShortPacket         = errors.New("packet shorter than header")
	ErrShortPayload        = errors.New("payload too short")
	ErrUnsupportedVersion  = errors.New("protocol version not supported")
	ErrUnknownSession      = errors.New("unknown session")
	ErrUnknownMessageType  = errors.New("unknown message type")
	ErrNoDevice            = errors.New("no device connected")
	ErrMessageTooLong      = errors.New("field longer than 255 bytes")
	ErrInvalidUTF8         = errors.New("text field is not valid UTF-8")
	ErrTooManyBatchEvents  = errors.New("batch holds more than 255 events")
	errUnknownBatchPayload = errors.New("unsupported batch event payload")
)

// ErrorKind names an ERROR frame category. The kind is mapped to the 16-bit
// wire code with ErrorCodeFor.
type ErrorKind string

const (
	ErrKindInvalidMessage     ErrorKind = "InvalidMessage"
	ErrKindUnknownDevice      ErrorKind = "UnknownDevice"
	ErrKindNotConnected       ErrorKind = "NotConnected"
	ErrKindConnectFailed      ErrorKind = "ConnectFailed"
	ErrKindUnsupportedVersion ErrorKind = "UnsupportedVersion"
	ErrKindUnknownMessage     ErrorKind = "UnknownMessage"
	ErrKindInternalError      ErrorKind = "InternalError"
)

// ErrorCodeDefault is used for kinds missing from the table.
const ErrorCodeDefault uint16 = 0x0005

var errorCodes = map[ErrorKind]uint16{
	ErrKindInvalidMessage:     0x0001,
	ErrKindUnknownDevice:      0x0002,
	ErrKindNotConnected:       0x0003,
	ErrKindConnectFailed:      0x0001,
	ErrKindUnsupportedVersion: 0x0001,
	ErrKindUnknownMessage:     0x0001,
	ErrKindInternalError:      0x0005,
}

// ErrorCodeFor returns the wire code for kind.
func ErrorCodeFor(kind ErrorKind) uint16 {
	if c, ok := errorCodes[kind]; ok {
		return c
	}
	return ErrorCodeDefault
}

// StatusDeviceConnected is sent once an asynchronous CONNECT has bound a device.
const StatusDeviceConnected uint16 = 0x0001
