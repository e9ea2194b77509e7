// Package errors provides structured error handling for regcopilot.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Document ingestion errors
//   - 3XX: Upstream model service errors
//   - 4XX: Request and session errors
//   - 5XX: Internal errors
package errors

import "net/http"

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIngest indicates document parsing and ingestion errors.
	CategoryIngest Category = "INGEST"
	// CategoryUpstream indicates embedding/chat service errors.
	CategoryUpstream Category = "UPSTREAM"
	// CategoryRequest indicates request validation and session errors.
	CategoryRequest Category = "REQUEST"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
	// SeverityInfo indicates informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Ingestion errors (200-299)
	ErrCodeUnsupportedFileType = "ERR_201_UNSUPPORTED_FILE_TYPE"
	ErrCodeParseFailed         = "ERR_202_PARSE_FAILED"
	ErrCodeProtectedDocument   = "ERR_203_PROTECTED_DOCUMENT"
	ErrCodeDocumentNotFound    = "ERR_204_DOCUMENT_NOT_FOUND"
	ErrCodeEmptyDocument       = "ERR_205_EMPTY_DOCUMENT"

	// Upstream errors (300-399)
	ErrCodeEmbeddingFailed = "ERR_301_EMBEDDING_FAILED"
	ErrCodeChatFailed      = "ERR_302_CHAT_FAILED"
	ErrCodeUpstreamTimeout = "ERR_303_UPSTREAM_TIMEOUT"

	// Request errors (400-499)
	ErrCodeSessionNotFound = "ERR_401_SESSION_NOT_FOUND"
	ErrCodeInvalidRequest  = "ERR_402_INVALID_REQUEST"
	ErrCodeMissingAPIKey   = "ERR_403_MISSING_API_KEY"

	// Internal errors (500-599)
	ErrCodeDimensionMismatch = "ERR_501_DIMENSION_MISMATCH"
	ErrCodeKBNotReady        = "ERR_502_KB_NOT_READY"
	ErrCodeInternal          = "ERR_503_INTERNAL"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Numeric portion, e.g. "201" from "ERR_201_UNSUPPORTED_FILE_TYPE".
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIngest
	case '3':
		return CategoryUpstream
	case '4':
		return CategoryRequest
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	if code == ErrCodeDimensionMismatch {
		// Invariant violation inside the index.
		return SeverityFatal
	}

	// Retryable upstream errors get warning severity.
	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeEmbeddingFailed, ErrCodeChatFailed, ErrCodeUpstreamTimeout, ErrCodeKBNotReady:
		return true
	default:
		return false
	}
}

// HTTPStatus maps an error code to the HTTP status the API surfaces.
// Unknown codes map to 500.
func HTTPStatus(code string) int {
	switch code {
	case ErrCodeUnsupportedFileType, ErrCodeParseFailed, ErrCodeProtectedDocument,
		ErrCodeEmptyDocument, ErrCodeInvalidRequest, ErrCodeMissingAPIKey:
		return http.StatusBadRequest
	case ErrCodeDocumentNotFound, ErrCodeSessionNotFound:
		return http.StatusNotFound
	case ErrCodeKBNotReady:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
