package errors

import (
	stderrors "errors"
	"fmt"
)

// CopilotError is the structured error type for regcopilot.
// It provides rich context for error handling, logging, and user presentation.
type CopilotError struct {
	// Code is the unique error code (e.g., "ERR_202_PARSE_FAILED").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Ingest, Upstream, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *CopilotError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *CopilotError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with CopilotError.
func (e *CopilotError) Is(target error) bool {
	if t, ok := target.(*CopilotError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *CopilotError) WithDetail(key, value string) *CopilotError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
// Returns the error for method chaining.
func (e *CopilotError) WithSuggestion(suggestion string) *CopilotError {
	e.Suggestion = suggestion
	return e
}

// HTTPStatus returns the HTTP status this error surfaces as.
func (e *CopilotError) HTTPStatus() int {
	return HTTPStatus(e.Code)
}

// New creates a new CopilotError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *CopilotError {
	return &CopilotError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a CopilotError from an existing error.
// The error's message becomes the CopilotError message.
func Wrap(code string, err error) *CopilotError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ParseError creates an ingestion parse error for the given file.
func ParseError(filename string, cause error) *CopilotError {
	return New(ErrCodeParseFailed, fmt.Sprintf("failed to parse %s", filename), cause).
		WithDetail("filename", filename)
}

// UnsupportedFileType creates an error for a file extension outside the
// dispatch table.
func UnsupportedFileType(filename, supported string) *CopilotError {
	return New(ErrCodeUnsupportedFileType, fmt.Sprintf("unsupported file type: %s", filename), nil).
		WithDetail("filename", filename).
		WithSuggestion("Supported types: " + supported)
}

// ProtectedDocument creates an error for mutations against a preloaded
// document.
func ProtectedDocument(filename string) *CopilotError {
	return New(ErrCodeProtectedDocument,
		fmt.Sprintf("%s is part of the preloaded corpus and cannot be modified", filename), nil).
		WithDetail("filename", filename)
}

// EmbeddingError creates an upstream embedding failure.
func EmbeddingError(message string, cause error) *CopilotError {
	return New(ErrCodeEmbeddingFailed, message, cause)
}

// ChatError creates an upstream chat completion failure.
func ChatError(message string, cause error) *CopilotError {
	return New(ErrCodeChatFailed, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *CopilotError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
// Returns true if the error is a CopilotError with Retryable flag set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if ce, ok := err.(*CopilotError); ok {
		return ce.Retryable
	}
	return false
}

// GetCode extracts the error code from a CopilotError.
// Returns empty string if not a CopilotError.
func GetCode(err error) string {
	if ce, ok := err.(*CopilotError); ok {
		return ce.Code
	}
	return ""
}

// GetCategory extracts the category from a CopilotError.
// Returns empty string if not a CopilotError.
func GetCategory(err error) Category {
	if ce, ok := err.(*CopilotError); ok {
		return ce.Category
	}
	return ""
}

// StatusOf returns the HTTP status for any error: CopilotErrors anywhere in
// the chain map through their code, everything else is a 500.
func StatusOf(err error) int {
	var ce *CopilotError
	if stderrors.As(err, &ce) {
		return ce.HTTPStatus()
	}
	return HTTPStatus(ErrCodeInternal)
}
