package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the streaming runtime.
type ErrorCode string

// Streaming error codes
const (
	// ErrConnection 传输层错误，在上抛之前已经经过退避重试
	ErrConnection ErrorCode = "connection_error"
	// ErrValidation 单个 chunk 校验失败，不会直接导致会话失败
	ErrValidation ErrorCode = "validation_error"
	// ErrStalled chunk 间隔超时，会话失败
	ErrStalled ErrorCode = "stalled_error"
	// ErrBoundarySuppressed 错误边界打开，请求在任何 I/O 之前被拒绝
	ErrBoundarySuppressed ErrorCode = "boundary_suppressed"
)

// Runtime error codes
const (
	ErrRateLimited     ErrorCode = "rate_limited"
	ErrSessionNotFound ErrorCode = "session_not_found"
	ErrInvalidState    ErrorCode = "invalid_state"
	ErrProviderClosed  ErrorCode = "provider_closed"
	ErrUpstream        ErrorCode = "upstream_error"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	SessionID string    `json:"session_id,omitempty"`
	Transport string    `json:"transport,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithSession sets the session the error belongs to.
func (e *Error) WithSession(sessionID string) *Error {
	e.SessionID = sessionID
	return e
}

// WithTransport sets the transport kind (websocket, sse) that produced the error.
func (e *Error) WithTransport(kind string) *Error {
	e.Transport = kind
	return e
}

// AsError extracts *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsErrorCode reports whether err carries the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	return err != nil && GetErrorCode(err) == code
}

// IsBoundarySuppressed 报告 err 是否为错误边界拒绝。
// 调用方应把它当作预期信号，立即切换到非流式路径，而不是向用户展示错误。
func IsBoundarySuppressed(err error) bool {
	return IsErrorCode(err, ErrBoundarySuppressed)
}

// NewConnectionError 创建传输层错误
func NewConnectionError(message string, cause error) *Error {
	return NewError(ErrConnection, message).WithCause(cause).WithRetryable(true)
}

// NewValidationError 创建 chunk 校验错误
func NewValidationError(sessionID, message string) *Error {
	return NewError(ErrValidation, message).WithSession(sessionID)
}

// NewStalledError 创建会话停滞错误
func NewStalledError(sessionID string, after fmt.Stringer) *Error {
	return NewError(ErrStalled, fmt.Sprintf("no chunk received within %s", after)).WithSession(sessionID)
}
