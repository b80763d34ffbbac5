package errors

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCode represents a category of application error.
type ErrorCode string

const (
	// ErrCodeNotFound indicates there is no current session to hand out.
	ErrCodeNotFound ErrorCode = "not_found"
	// ErrCodeValidation indicates invalid input data.
	ErrCodeValidation ErrorCode = "validation"
	// ErrCodeInternal indicates an unexpected internal failure.
	ErrCodeInternal ErrorCode = "internal"
	// ErrCodeTimeout indicates a remote call exceeded its deadline.
	ErrCodeTimeout ErrorCode = "timeout"
	// ErrCodeCanceled indicates the operation was canceled.
	ErrCodeCanceled ErrorCode = "canceled"

	// ErrCodeRedirectAuth indicates the provider reported an error in the redirect.
	// Terminal and user visible; never retried.
	ErrCodeRedirectAuth ErrorCode = "redirect_auth_error"
	// ErrCodeHandoffExchangeFailed indicates the exchange endpoint rejected a handoff code.
	ErrCodeHandoffExchangeFailed ErrorCode = "handoff_exchange_failed"
	// ErrCodeInvalidExchangeResponse indicates the exchange endpoint answered without a usable token pair.
	ErrCodeInvalidExchangeResponse ErrorCode = "invalid_exchange_response"
	// ErrCodeSessionRestoreFailed indicates a persisted session could not be restored.
	// Callers treat it as "logged out".
	ErrCodeSessionRestoreFailed ErrorCode = "session_restore_failed"
	// ErrCodeBridgeDeliveryFailed indicates the session could not be delivered into the embedded document.
	ErrCodeBridgeDeliveryFailed ErrorCode = "bridge_delivery_failed"
	// ErrCodeMalformedInboundMessage indicates an unparseable message from the embedded document.
	ErrCodeMalformedInboundMessage ErrorCode = "malformed_inbound_message"
)

// AppError represents a structured application error with a code, message, and optional cause.
// It supports error wrapping and unwrapping for use with errors.Is and errors.As.
type AppError struct {
	// Code categorizes the error type
	Code ErrorCode
	// Message is a human-readable error message
	Message string
	// Cause is the underlying error that caused this error (optional)
	Cause error
	// Field is the specific field that caused the error (optional, for validation errors)
	Field string
	// Attempt is the delivery attempt number for bridge delivery failures.
	Attempt int
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause, enabling errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NotFound creates a new NotFound error.
func NotFound(message string) *AppError {
	return &AppError{Code: ErrCodeNotFound, Message: message}
}

// Validation creates a new Validation error.
func Validation(message string) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: message}
}

// ValidationField creates a new Validation error for a specific field.
func ValidationField(field, message string) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: message, Field: field}
}

// Internal creates a new Internal error.
func Internal(message string) *AppError {
	return &AppError{Code: ErrCodeInternal, Message: message}
}

// RedirectAuth creates an error for a provider-reported redirect failure.
func RedirectAuth(description string) *AppError {
	if description == "" {
		description = "sign-in was rejected by the identity provider"
	}
	return &AppError{Code: ErrCodeRedirectAuth, Message: description}
}

// HandoffExchangeFailed creates an error for a rejected handoff code.
// diagnostic is the response body returned by the exchange endpoint.
func HandoffExchangeFailed(status int, diagnostic string) *AppError {
	msg := fmt.Sprintf("handoff exchange failed with status %d", status)
	if diagnostic != "" {
		msg += ": " + diagnostic
	}
	return &AppError{Code: ErrCodeHandoffExchangeFailed, Message: msg}
}

// InvalidExchangeResponse creates an error for a response missing required token fields.
func InvalidExchangeResponse(field string, cause error) *AppError {
	return &AppError{
		Code:    ErrCodeInvalidExchangeResponse,
		Message: "invalid handoff exchange response",
		Field:   field,
		Cause:   cause,
	}
}

// SessionRestoreFailed wraps a failure to restore a persisted session.
func SessionRestoreFailed(cause error) *AppError {
	return &AppError{Code: ErrCodeSessionRestoreFailed, Message: "restore session", Cause: cause}
}

// BridgeDeliveryFailed wraps a failed session delivery attempt.
func BridgeDeliveryFailed(attempt int, cause error) *AppError {
	return &AppError{
		Code:    ErrCodeBridgeDeliveryFailed,
		Message: "failed to authenticate with embedded surface",
		Cause:   cause,
		Attempt: attempt,
	}
}

// MalformedInboundMessage wraps a decode failure for a message from the embedded document.
func MalformedInboundMessage(cause error) *AppError {
	return &AppError{Code: ErrCodeMalformedInboundMessage, Message: "malformed inbound message", Cause: cause}
}

// Wrap wraps an existing error with an AppError, preserving the cause.
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: message, Cause: err}
}

// Wrapf wraps an existing error with an AppError and formatted message.
func Wrapf(err error, code ErrorCode, format string, args ...any) *AppError {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// FromContext translates context expiry into Timeout or Canceled errors.
// Other errors are wrapped with fallback. A nil err returns nil.
func FromContext(err error, fallback ErrorCode, message string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return Wrap(err, ErrCodeTimeout, message)
	case errors.Is(err, context.Canceled):
		return Wrap(err, ErrCodeCanceled, message)
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return err
	}
	return Wrap(err, fallback, message)
}

// Reclassify wraps err under code, including errors that already carry another code.
// Timeouts and cancellations keep their own code.
func Reclassify(err error, code ErrorCode, message string) error {
	switch {
	case err == nil:
		return nil
	case IsTimeout(err), IsCanceled(err):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return FromContext(err, code, message)
	}
	return Wrap(err, code, message)
}

// isCode checks if an error has a specific error code.
func isCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// IsNotFound checks if an error is a NotFound error.
func IsNotFound(err error) bool {
	return isCode(err, ErrCodeNotFound)
}

// IsValidation checks if an error is a Validation error.
func IsValidation(err error) bool {
	return isCode(err, ErrCodeValidation)
}

// IsTimeout checks if an error is a Timeout error.
func IsTimeout(err error) bool {
	return isCode(err, ErrCodeTimeout)
}

// IsCanceled checks if an error is a Canceled error.
func IsCanceled(err error) bool {
	return isCode(err, ErrCodeCanceled)
}

// IsRedirectAuth checks if an error is a RedirectAuth error.
func IsRedirectAuth(err error) bool {
	return isCode(err, ErrCodeRedirectAuth)
}

// IsHandoffExchangeFailed checks if an error is a HandoffExchangeFailed error.
func IsHandoffExchangeFailed(err error) bool {
	return isCode(err, ErrCodeHandoffExchangeFailed)
}

// IsInvalidExchangeResponse checks if an error is an InvalidExchangeResponse error.
func IsInvalidExchangeResponse(err error) bool {
	return isCode(err, ErrCodeInvalidExchangeResponse)
}

// IsSessionRestoreFailed checks if an error is a SessionRestoreFailed error.
func IsSessionRestoreFailed(err error) bool {
	return isCode(err, ErrCodeSessionRestoreFailed)
}

// IsBridgeDeliveryFailed checks if an error is a BridgeDeliveryFailed error.
func IsBridgeDeliveryFailed(err error) bool {
	return isCode(err, ErrCodeBridgeDeliveryFailed)
}

// GetCode returns the ErrorCode from an error, or empty string if not an AppError.
func GetCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// GetField returns the Field from an error, or empty string if not an AppError or no field set.
func GetField(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Field
	}
	return ""
}
