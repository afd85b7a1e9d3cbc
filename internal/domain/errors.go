package domain

import (
	"errors"
	"fmt"
)

// ErrorCode classifies failures so callers can pick a user-facing message
type ErrorCode string

const (
	CodeAuthenticationFailed   ErrorCode = "AUTHENTICATION_FAILED"
	CodeConnection             ErrorCode = "CONNECTION_ERROR"
	CodeCommandTimeout         ErrorCode = "COMMAND_TIMEOUT"
	CodeUnresolvedPlaceholder  ErrorCode = "UNRESOLVED_PLACEHOLDER"
	CodeArgumentCount          ErrorCode = "ARGUMENT_COUNT"
	CodeInsufficientPermission ErrorCode = "INSUFFICIENT_PERMISSION"
	CodeInsufficientPower      ErrorCode = "INSUFFICIENT_POWER"
	CodeCommandDisabled        ErrorCode = "COMMAND_DISABLED"
	CodeWebhookDeliveryFailed  ErrorCode = "WEBHOOK_DELIVERY_FAILED"
	CodeThrottled              ErrorCode = "THROTTLED"
	CodeUnknownCommand         ErrorCode = "UNKNOWN_COMMAND"
	CodeInvalidTemplate        ErrorCode = "INVALID_TEMPLATE"
	CodeBuiltInImmutable       ErrorCode = "BUILT_IN_IMMUTABLE"
	CodeNotFound               ErrorCode = "NOT_FOUND"
	CodeInvalidInput           ErrorCode = "INVALID_INPUT"
	CodeUnauthorized           ErrorCode = "UNAUTHORIZED"
	CodeInternal               ErrorCode = "INTERNAL"
)

// Error is a classified error. Two Errors match with errors.Is when their codes are equal.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Sentinels for errors.Is checks
var (
	ErrAuthenticationFailed   = &Error{Code: CodeAuthenticationFailed, Message: "rcon authentication failed"}
	ErrConnection             = &Error{Code: CodeConnection, Message: "server connection unavailable"}
	ErrCommandTimeout         = &Error{Code: CodeCommandTimeout, Message: "command timed out"}
	ErrUnresolvedPlaceholder  = &Error{Code: CodeUnresolvedPlaceholder, Message: "could not resolve command arguments"}
	ErrArgumentCount          = &Error{Code: CodeArgumentCount, Message: "wrong number of arguments"}
	ErrInsufficientPermission = &Error{Code: CodeInsufficientPermission, Message: "you do not have permission to use this command"}
	ErrInsufficientPower      = &Error{Code: CodeInsufficientPower, Message: "your power level is too low for this command"}
	ErrCommandDisabled        = &Error{Code: CodeCommandDisabled, Message: "command is disabled"}
	ErrWebhookDeliveryFailed  = &Error{Code: CodeWebhookDeliveryFailed, Message: "webhook delivery failed"}
	ErrThrottled              = &Error{Code: CodeThrottled, Message: "slow down, command used too recently"}
	ErrUnknownCommand         = &Error{Code: CodeUnknownCommand, Message: "unknown command"}
	ErrBuiltInImmutable       = &Error{Code: CodeBuiltInImmutable, Message: "built-in commands cannot be modified"}
	ErrNotFound               = &Error{Code: CodeNotFound, Message: "not found"}
	ErrInvalidInput           = &Error{Code: CodeInvalidInput, Message: "invalid input"}
)

// Errorf builds a classified error with a formatted message
func Errorf(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under code with a message
func Wrap(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf returns the code of the first classified error in err's chain
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// Message returns the user-facing text for err
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}
