package domain

import "fmt"

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{Code: code, Message: message, Err: err}
}

// Common domain error codes
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeAlreadyExists    = "ALREADY_EXISTS"
	ErrCodeUnavailable      = "UNAVAILABLE"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeInvalidOperation = "INVALID_OPERATION"
)

// Validation errors
var (
	ErrInvalidIngestionKey = NewDomainError(ErrCodeValidation, "ingestion key requires channel and timestamp")
	ErrInvalidEventKind    = NewDomainError(ErrCodeValidation, "unknown event kind")
	ErrEmptyQuery          = NewDomainError(ErrCodeValidation, "query must not be empty")
	ErrEmptyFilter         = NewDomainError(ErrCodeValidation, "item filter must set at least one field")
)

// Not found errors
var (
	ErrItemNotFound = NewDomainError(ErrCodeNotFound, "knowledge item not found")
)

// Already exists errors
var (
	ErrDuplicateEvent = NewDomainError(ErrCodeAlreadyExists, "event already ingested")
)

// Availability errors. The store being down degrades ingestion and retrieval
// to explicit "no knowledge" outcomes; these never surface raw to clients.
var (
	ErrStoreUnavailable     = NewDomainError(ErrCodeUnavailable, "knowledge store unavailable")
	ErrEmbeddingUnavailable = NewDomainError(ErrCodeUnavailable, "embedding backend unavailable")
)
