package protocol

import "errors"

// Core protocol errors
var (
	// Connection errors

	ErrConnectionClosed = errors.New("connection is closed")
	ErrConnectionLost   = errors.New("connection lost")

	// Message errors

	ErrMessageTooLarge  = errors.New("message too large")
	ErrInvalidMessage   = errors.New("invalid message")
	ErrUnknownMessage   = errors.New("unknown message type")
	ErrMessageQueueFull = errors.New("message queue is full")

	// Transport errors

	ErrTransportNotSupported = errors.New("transport not supported")

	// Configuration errors

	ErrInvalidConfig = errors.New("invalid configuration")

	// Protocol errors

	ErrProtocolViolation = errors.New("protocol violation")
	ErrFrameTooLarge     = errors.New("frame too large")
)

// ErrorCode represents a numeric error code for efficient error handling
type ErrorCode int

const (
	ErrorCodeSuccess ErrorCode = 0

	// Connection error codes (1000-1999)

	ErrorCodeConnectionClosed  ErrorCode = 1001
	ErrorCodeConnectionLost    ErrorCode = 1004
	ErrorCodeProtocolViolation ErrorCode = 1007

	// Message error codes (3000-3999)

	ErrorCodeMessageTooLarge  ErrorCode = 3001
	ErrorCodeInvalidMessage   ErrorCode = 3003
	ErrorCodeMessageQueueFull ErrorCode = 3004
	ErrorCodeUnknownMessage   ErrorCode = 3007
	ErrorCodeFrameTooLarge    ErrorCode = 3008

	// Transport error codes (7000-7999)

	ErrorCodeTransportNotSupported ErrorCode = 7001
	ErrorCodeListenFailed          ErrorCode = 7006
	ErrorCodeDialFailed            ErrorCode = 7007

	// Generic error codes (9000-9999)

	ErrorCodeInvalidConfig ErrorCode = 9004
	ErrorCodeUnknownError  ErrorCode = 9999
)

// Error represents a protocol-specific error with a numeric code
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewProtocolError creates a new protocol error
func NewProtocolError(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// IsTemporary reports whether the failed send can be retried on the same
// connection.
func (c ErrorCode) IsTemporary() bool {
	return c == ErrorCodeMessageQueueFull
}

// IsFatal reports whether the connection must be closed.
func (c ErrorCode) IsFatal() bool {
	switch c {
	case ErrorCodeConnectionClosed,
		ErrorCodeConnectionLost,
		ErrorCodeProtocolViolation,
		ErrorCodeFrameTooLarge:
		return true
	default:
		return false
	}
}

// IsTemporary classifies err by its error code.
func IsTemporary(err error) bool {
	return GetErrorCode(err).IsTemporary()
}

// IsFatal classifies err by its error code.
func IsFatal(err error) bool {
	return GetErrorCode(err).IsFatal()
}

var errorCodeMap = map[error]ErrorCode{
	ErrConnectionClosed: ErrorCodeConnectionClosed,
	ErrConnectionLost:   ErrorCodeConnectionLost,

	ErrMessageTooLarge:  ErrorCodeMessageTooLarge,
	ErrInvalidMessage:   ErrorCodeInvalidMessage,
	ErrUnknownMessage:   ErrorCodeUnknownMessage,
	ErrMessageQueueFull: ErrorCodeMessageQueueFull,

	ErrTransportNotSupported: ErrorCodeTransportNotSupported,

	ErrInvalidConfig: ErrorCodeInvalidConfig,

	ErrProtocolViolation: ErrorCodeProtocolViolation,
	ErrFrameTooLarge:     ErrorCodeFrameTooLarge,
}

// GetErrorCode returns the error code for a given error
func GetErrorCode(err error) ErrorCode {
	if err == nil {
		return ErrorCodeSuccess
	}
	var protocolErr *Error
	if errors.As(err, &protocolErr) {
		return protocolErr.Code
	}
	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return ErrorCodeUnknownError
}

// WrapError wraps a standard error into a ProtocolError
func WrapError(err error, message string) *Error {
	return NewProtocolError(GetErrorCode(err), message, err)
}
