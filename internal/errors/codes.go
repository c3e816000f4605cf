package errors

import (
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorCode represents internal error codes for inter-DC replication
type ErrorCode int

const (
	// Success
	ErrCodeOK ErrorCode = 0

	// Client errors (4xx equivalent)
	ErrCodeInvalidArgument ErrorCode = 1000
	ErrCodeMalformedTxn    ErrorCode = 1001
	ErrCodeUnknownType     ErrorCode = 1002

	// Server errors (5xx equivalent)
	ErrCodeInternal            ErrorCode = 2000
	ErrCodeUnavailable         ErrorCode = 2001
	ErrCodePublishTimeout      ErrorCode = 2002
	ErrCodePublisherStopped    ErrorCode = 2003
	ErrCodeSocketBindFailed    ErrorCode = 2004
	ErrCodeSocketSendFailed    ErrorCode = 2005
	ErrCodeMetadataUnavailable ErrorCode = 2006
	ErrCodeEncodingFailed      ErrorCode = 2007
)

// InterDCError represents a structured error with code and context
type InterDCError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *InterDCError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *InterDCError) Unwrap() error {
	return e.Cause
}

// ToGRPCStatus converts InterDCError to gRPC status
func (e *InterDCError) ToGRPCStatus() *status.Status {
	return status.New(e.toGRPCCode(), e.Error())
}

// toGRPCCode maps internal error codes to gRPC codes
func (e *InterDCError) toGRPCCode() codes.Code {
	switch e.Code {
	case ErrCodeOK:
		return codes.OK
	case ErrCodeInvalidArgument, ErrCodeMalformedTxn, ErrCodeUnknownType:
		return codes.InvalidArgument
	case ErrCodePublishTimeout:
		return codes.DeadlineExceeded
	case ErrCodeUnavailable, ErrCodePublisherStopped, ErrCodeMetadataUnavailable,
		ErrCodeSocketBindFailed, ErrCodeSocketSendFailed:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// NewInterDCError creates a new InterDCError
func NewInterDCError(code ErrorCode, message string, cause error) *InterDCError {
	return &InterDCError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *InterDCError) WithDetail(key string, value interface{}) *InterDCError {
	e.Details[key] = value
	return e
}

// Convenience constructors for common errors

func InvalidArgument(message string, cause error) *InterDCError {
	return NewInterDCError(ErrCodeInvalidArgument, message, cause)
}

func MalformedTxn(reason string) *InterDCError {
	return NewInterDCError(ErrCodeMalformedTxn, fmt.Sprintf("malformed transaction: %s", reason), nil).
		WithDetail("reason", reason)
}

func UnknownType(typeName string) *InterDCError {
	return NewInterDCError(ErrCodeUnknownType, fmt.Sprintf("unknown CCRDT type '%s'", typeName), nil).
		WithDetail("type", typeName)
}

func PublishTimeout(timeoutMs int64) *InterDCError {
	return NewInterDCError(ErrCodePublishTimeout, fmt.Sprintf("publish request timed out after %dms", timeoutMs), nil).
		WithDetail("timeout_ms", timeoutMs)
}

func PublisherStopped() *InterDCError {
	return NewInterDCError(ErrCodePublisherStopped, "publisher is stopped", nil)
}

func SocketBindFailed(port int, cause error) *InterDCError {
	return NewInterDCError(ErrCodeSocketBindFailed, fmt.Sprintf("failed to bind publish socket on port %d", port), cause).
		WithDetail("port", port)
}

func SocketSendFailed(message string, cause error) *InterDCError {
	return NewInterDCError(ErrCodeSocketSendFailed, message, cause)
}

func MetadataUnavailable(message string, cause error) *InterDCError {
	return NewInterDCError(ErrCodeMetadataUnavailable, message, cause)
}

func EncodingFailed(message string, cause error) *InterDCError {
	return NewInterDCError(ErrCodeEncodingFailed, message, cause)
}

func InternalError(message string, cause error) *InterDCError {
	return NewInterDCError(ErrCodeInternal, message, cause)
}

func Unavailable(message string, cause error) *InterDCError {
	return NewInterDCError(ErrCodeUnavailable, message, cause)
}

// IsInterDCError checks if an error is an InterDCError
func IsInterDCError(err error) bool {
	_, ok := err.(*InterDCError)
	return ok
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if e, ok := err.(*InterDCError); ok {
		return e.Code
	}
	return ErrCodeInternal
}
