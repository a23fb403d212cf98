package errx

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	// SystemErrorMessage is a user-facing fallback when internal errors occur.
	SystemErrorMessage = "internal server error"
	// RedisErrorMessage describes Redis related failures.
	RedisErrorMessage = "redis operation failed"
	// NotFoundMessage is returned when a key or row does not exist.
	NotFoundMessage = "record not found"
	// PostgresErrorMessage describes relational store failures.
	PostgresErrorMessage = "database operation failed"
	// IntegrationErrorMessage describes downstream service failures.
	IntegrationErrorMessage = "service integration failed"
	// KnowledgeBaseErrorMessage describes retrieval or generation failures.
	KnowledgeBaseErrorMessage = "knowledge base query failed"
	// TransportErrorMessage describes message delivery failures.
	TransportErrorMessage = "message delivery failed"
)

// Kind classifies an AppError so callers can branch without string matching.
type Kind string

const (
	KindInternal      Kind = "internal"
	KindValidation    Kind = "validation"
	KindIntegration   Kind = "integration"
	KindKnowledgeBase Kind = "knowledge_base"
	KindTransport     Kind = "transport"
	KindStorage       Kind = "storage"
)

// AppError wraps an underlying error with an HTTP status and safe message.
type AppError struct {
	Kind    Kind
	Err     error
	Status  int
	Message string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError with the provided information.
func New(err error, status int, message string) *AppError {
	return &AppError{
		Kind:    KindInternal,
		Err:     err,
		Status:  status,
		Message: message,
	}
}

// Validation reports bad user or API input. The message is safe to show.
func Validation(message string) *AppError {
	return &AppError{
		Kind:    KindValidation,
		Status:  http.StatusBadRequest,
		Message: message,
	}
}

// Integration wraps a failure of an email, calendar or database call.
func Integration(service string, err error) error {
	if err == nil {
		return nil
	}
	return &AppError{
		Kind:    KindIntegration,
		Err:     fmt.Errorf("%s: %w", service, err),
		Status:  http.StatusBadGateway,
		Message: IntegrationErrorMessage,
	}
}

// KnowledgeBase wraps a retrieval or answer generation failure.
func KnowledgeBase(err error) error {
	if err == nil {
		return nil
	}
	return &AppError{
		Kind:    KindKnowledgeBase,
		Err:     err,
		Status:  http.StatusBadGateway,
		Message: KnowledgeBaseErrorMessage,
	}
}

// Transport wraps an outbound delivery failure.
func Transport(err error) error {
	if err == nil {
		return nil
	}
	return &AppError{
		Kind:    KindTransport,
		Err:     err,
		Status:  http.StatusBadGateway,
		Message: TransportErrorMessage,
	}
}

// KindOf returns the kind of the first AppError in the chain, or KindInternal.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// StatusOf returns the HTTP status of the first AppError in the chain, or 500.
func StatusOf(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Status != 0 {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

// MessageOf returns the safe message for err.
func MessageOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return SystemErrorMessage
}

// Is reports whether the target matches the underlying error or the AppError itself.
func (e *AppError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// As allows casting to AppError or the wrapped error in a chain.
func (e *AppError) As(target any) bool {
	if errors.As(e.Err, target) {
		return true
	}
	if t, ok := target.(**AppError); ok {
		*t = e
		return true
	}
	return false
}
