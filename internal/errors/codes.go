// Package errors provides structured error handling for the QA service.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: configuration errors
//   - 2XX: storage errors (document store, cache, vector index)
//   - 3XX: network errors
//   - 4XX: content and validation errors
//   - 5XX: external-service contract errors (extraction, embedding, LLM)
//   - 6XX: internal errors
package errors

// Category classifies errors for handling and reporting.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStorage indicates document store, cache, or vector index errors.
	CategoryStorage Category = "STORAGE"
	// CategoryNetwork indicates network-related errors.
	CategoryNetwork Category = "NETWORK"
	// CategoryContent indicates invalid or unsupported content.
	CategoryContent Category = "CONTENT"
	// CategoryExternal indicates a collaborator violated its contract.
	CategoryExternal Category = "EXTERNAL"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but the run can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"
	ErrCodeMissingAPIKey  = "ERR_103_MISSING_API_KEY"

	// Storage errors (200-299)
	ErrCodeStoreUnavailable = "ERR_201_STORE_UNAVAILABLE"
	ErrCodeRecordNotFound   = "ERR_202_RECORD_NOT_FOUND"
	ErrCodeCacheUnavailable = "ERR_203_CACHE_UNAVAILABLE"
	ErrCodeIndexUnavailable = "ERR_204_INDEX_UNAVAILABLE"
	ErrCodeStateMismatch    = "ERR_205_STATE_MISMATCH"

	// Network errors (300-399)
	ErrCodeNetworkTimeout     = "ERR_301_NETWORK_TIMEOUT"
	ErrCodeNetworkUnavailable = "ERR_302_NETWORK_UNAVAILABLE"
	ErrCodeFetchFailed        = "ERR_303_FETCH_FAILED"
	ErrCodeRateLimited        = "ERR_304_RATE_LIMITED"
	ErrCodeNotFound           = "ERR_305_NOT_FOUND"

	// Content errors (400-499)
	ErrCodeInvalidInput       = "ERR_401_INVALID_INPUT"
	ErrCodeQueryEmpty         = "ERR_402_QUERY_EMPTY"
	ErrCodeQueryTooLong       = "ERR_403_QUERY_TOO_LONG"
	ErrCodeUnsupportedContent = "ERR_404_UNSUPPORTED_CONTENT"
	ErrCodeArchiveTooLarge    = "ERR_405_ARCHIVE_TOO_LARGE"
	ErrCodeArchiveTooManyFiles = "ERR_406_ARCHIVE_TOO_MANY_FILES"
	ErrCodeArchiveBomb         = "ERR_407_ARCHIVE_EXPANSION_TOO_LARGE"

	// External-service errors (500-599)
	ErrCodeExtractionFailed = "ERR_501_EXTRACTION_FAILED"
	ErrCodeEmbeddingFailed  = "ERR_502_EMBEDDING_FAILED"
	ErrCodeLLMMalformed     = "ERR_503_LLM_MALFORMED"
	ErrCodeRerankFailed     = "ERR_504_RERANK_FAILED"
	ErrCodeLLMFailed        = "ERR_505_LLM_REQUEST_FAILED"

	// Internal errors (600-699)
	ErrCodeInternal     = "ERR_601_INTERNAL"
	ErrCodeSearchFailed = "ERR_602_SEARCH_FAILED"
	ErrCodeIngestFailed = "ERR_603_INGEST_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Numeric portion, e.g. "301" from "ERR_301_NETWORK_TIMEOUT".
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStorage
	case '3':
		return CategoryNetwork
	case '4':
		return CategoryContent
	case '5':
		return CategoryExternal
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	// Startup configuration problems abort the process.
	switch code {
	case ErrCodeConfigInvalid, ErrCodeMissingAPIKey:
		return SeverityFatal
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeNetworkTimeout, ErrCodeNetworkUnavailable, ErrCodeRateLimited:
		return true
	default:
		return false
	}
}
