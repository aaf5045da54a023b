package model

// Error is a protocol engine status code. All errors are negative so that a
// client can keep one as its persistent status.
type Error int16

// OK is the zero status. It is never returned as an error value.
const OK Error = 0

const (
	ErrNullPtr Error = -(iota + 1)
	ErrControlForbiddenType
	ErrControlInvalidFlags
	ErrConnectNotCalled
	ErrSendBufferIsFull
	ErrInvalidRemainingLength
	ErrConnackForbiddenFlags
	ErrConnackForbiddenCode
	ErrMalformedResponse
	ErrMalformedRequest
	ErrAckOfUnknown
	ErrConnectionRefused
	ErrConnectClientIDRefused
	ErrSubscribeFailed
	ErrSocketError
	ErrFrameTooLarge
)

var errorNames = map[Error]string{
	ErrNullPtr:                "nil argument",
	ErrControlForbiddenType:   "forbidden control packet type",
	ErrControlInvalidFlags:    "invalid fixed header flags",
	ErrConnectNotCalled:       "connect not called",
	ErrSendBufferIsFull:       "send buffer is full",
	ErrInvalidRemainingLength: "invalid remaining length",
	ErrConnackForbiddenFlags:  "CONNACK forbidden ack flags",
	ErrConnackForbiddenCode:   "CONNACK forbidden return code",
	ErrMalformedResponse:      "malformed response",
	ErrMalformedRequest:       "malformed request",
	ErrAckOfUnknown:           "acknowledgement of unknown request",
	ErrConnectionRefused:      "connection refused",
	ErrConnectClientIDRefused: "client identifier refused",
	ErrSubscribeFailed:        "subscribe failed",
	ErrSocketError:            "socket error",
	ErrFrameTooLarge:          "frame too large for receive buffer",
}

func (e Error) Error() string {
	if s, ok := errorNames[e]; ok {
		return "mqtt: " + s
	}
	if e == OK {
		return "mqtt: ok"
	}
	return "mqtt: unknown error"
}

// Fatal reports whether e leaves the client unusable until it is reinitialized.
// A full send buffer is the only recoverable engine error.
func (e Error) Fatal() bool {
	return e < 0 && e != ErrSendBufferIsFull
}
