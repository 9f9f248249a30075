package apperr

import (
	"errors"
	"fmt"
)

// Code classifies a failure for retry and transport decisions. Consumers
// retry transient failures and dead-letter or acknowledge the rest; HTTP
// handlers map codes to status lines.
type Code string

const (
	CodeValidation     Code = "VALIDATION"
	CodeBusinessRule   Code = "BUSINESS_RULE"
	CodeNotFound       Code = "NOT_FOUND"
	CodeUnauthorized   Code = "UNAUTHORIZED"
	CodeForbidden      Code = "FORBIDDEN"
	CodeTransient      Code = "TRANSIENT"
	CodePoisonMessage  Code = "POISON_MESSAGE"
	CodeRetryExhausted Code = "RETRY_EXHAUSTED"
	CodeInternal       Code = "INTERNAL"
)

// AppError carries a taxonomy code alongside the message and optional cause.
type AppError struct {
	Code    Code
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Transient reports whether retrying the same operation could succeed.
func (e *AppError) Transient() bool {
	return e.Code == CodeTransient || e.Code == CodeInternal
}

func New(code Code, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

func NewValidation(message string) *AppError {
	return &AppError{Code: CodeValidation, Message: message}
}

func NewBusinessRule(message string) *AppError {
	return &AppError{Code: CodeBusinessRule, Message: message}
}

func NewNotFound(message string) *AppError {
	return &AppError{Code: CodeNotFound, Message: message}
}

func NewUnauthorized(message string) *AppError {
	return &AppError{Code: CodeUnauthorized, Message: message}
}

func NewForbidden(message string) *AppError {
	return &AppError{Code: CodeForbidden, Message: message}
}

func NewTransient(message string, err error) *AppError {
	return &AppError{Code: CodeTransient, Message: message, Err: err}
}

func NewPoisonMessage(message string, err error) *AppError {
	return &AppError{Code: CodePoisonMessage, Message: message, Err: err}
}

func NewRetryExhausted(message string, err error) *AppError {
	return &AppError{Code: CodeRetryExhausted, Message: message, Err: err}
}

func NewInternal(message string, err error) *AppError {
	return &AppError{Code: CodeInternal, Message: message, Err: err}
}

// IsTransient reports whether err should be retried. Errors outside the
// taxonomy count as transient so an unclassified infrastructure fault is
// retried rather than lost.
func IsTransient(err error) bool {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Transient()
	}
	return err != nil
}

// IsPoison reports whether err marks a message that can never be processed.
func IsPoison(err error) bool {
	var ae *AppError
	return errors.As(err, &ae) && ae.Code == CodePoisonMessage
}

// CodeOf extracts the taxonomy code, defaulting to INTERNAL for plain errors.
func CodeOf(err error) Code {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}
