package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"midirelay/internal/core/domain"
)

// ErrorCode represents relay error codes
type ErrorCode string

const (
	ErrCodeMalformedEnvelope     ErrorCode = "MALFORMED_ENVELOPE"
	ErrCodeUnexpectedMessageKind ErrorCode = "UNEXPECTED_MESSAGE_KIND"
	ErrCodeSendFailure           ErrorCode = "SEND_FAILURE"
	ErrCodeTransportError        ErrorCode = "TRANSPORT_ERROR"
	ErrCodeTransportClosed       ErrorCode = "TRANSPORT_CLOSED"
	ErrCodeListenBindFailure     ErrorCode = "LISTEN_BIND_FAILURE"
	ErrCodeRateLimit             ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeForbidden             ErrorCode = "FORBIDDEN"
	ErrCodePeerNotFound          ErrorCode = "PEER_NOT_FOUND"
	ErrCodeInternal              ErrorCode = "INTERNAL_ERROR"
)

// AppError represents a relay error with code and context
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
	Context    map[string]interface{}
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Context:    make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with application error
func WrapError(err error, code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Cause:      err,
		Context:    make(map[string]interface{}),
	}
}

func NewSendFailure(peerID domain.PeerID, cause error) *AppError {
	return WrapError(cause, ErrCodeSendFailure, "forwarding failed", http.StatusInternalServerError).
		WithContext("peer_id", string(peerID))
}

func NewTransportError(peerID domain.PeerID, cause error) *AppError {
	return WrapError(cause, ErrCodeTransportError, "transport error", http.StatusInternalServerError).
		WithContext("peer_id", string(peerID))
}

func NewListenBindFailure(address string, cause error) *AppError {
	return WrapError(cause, ErrCodeListenBindFailure, fmt.Sprintf("cannot listen on %s", address), http.StatusInternalServerError)
}

func NewRateLimitError() *AppError {
	return NewAppError(ErrCodeRateLimit, "rate limit exceeded", http.StatusTooManyRequests)
}

func NewForbiddenError(message string) *AppError {
	return NewAppError(ErrCodeForbidden, message, http.StatusForbidden)
}

func NewPeerNotFound(peerID domain.PeerID) *AppError {
	return WrapError(domain.ErrPeerNotFound, ErrCodePeerNotFound, "peer not found", http.StatusNotFound).
		WithContext("peer_id", string(peerID))
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrCodeInternal, message, http.StatusInternalServerError)
}

// IsAppError checks if error is an AppError
func IsAppError(err error) bool {
	_, ok := err.(*AppError)
	return ok
}

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// CodeOf maps an error from anywhere in the relay onto its taxonomy code.
// It is used as a low-cardinality label for logs and metrics.
func CodeOf(err error) ErrorCode {
	if appErr := GetAppError(err); appErr != nil {
		return appErr.Code
	}

	switch {
	case stderrors.Is(err, domain.ErrMalformedEnvelope):
		return ErrCodeMalformedEnvelope
	case stderrors.Is(err, domain.ErrUnexpectedMessageKind):
		return ErrCodeUnexpectedMessageKind
	case stderrors.Is(err, domain.ErrPeerNotFound):
		return ErrCodePeerNotFound
	case stderrors.Is(err, domain.ErrSendQueueFull), stderrors.Is(err, domain.ErrPeerClosed):
		return ErrCodeSendFailure
	default:
		return ErrCodeInternal
	}
}
