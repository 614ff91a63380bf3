// Package errors provides structured error handling for docpipe.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Storage errors (metadata store, index files)
//   - 3XX: Oracle errors (embedding, rerank, remote backends)
//   - 4XX: Validation errors
//   - 5XX: Pipeline errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStorage indicates metadata store and index I/O errors.
	CategoryStorage Category = "STORAGE"
	// CategoryOracle indicates failures of an external scoring oracle.
	CategoryOracle Category = "ORACLE"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryPipeline indicates ingestion/query pipeline errors.
	CategoryPipeline Category = "PIPELINE"
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
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"
	ErrCodeInvalidWeights = "ERR_103_INVALID_WEIGHTS"

	// Storage errors (200-299)
	ErrCodeStorageUnavailable = "ERR_201_STORAGE_UNAVAILABLE"
	ErrCodeCorruptIndex       = "ERR_202_CORRUPT_INDEX"
	ErrCodeIndexLocked        = "ERR_203_INDEX_LOCKED"

	// Oracle errors (300-399)
	ErrCodeOracleTimeout        = "ERR_301_ORACLE_TIMEOUT"
	ErrCodeEmbeddingUnavailable = "ERR_302_EMBEDDING_UNAVAILABLE"
	ErrCodeRerankUnavailable    = "ERR_303_RERANK_UNAVAILABLE"

	// Validation errors (400-499)
	ErrCodeInvalidInput     = "ERR_401_INVALID_INPUT"
	ErrCodeUnsupportedMedia = "ERR_402_UNSUPPORTED_MEDIA"
	ErrCodeQueryEmpty       = "ERR_403_QUERY_EMPTY"

	// Pipeline errors (500-599)
	ErrCodeInternal         = "ERR_501_INTERNAL"
	ErrCodeConversionFailed = "ERR_502_CONVERSION_FAILED"
	ErrCodeChunkingFailed   = "ERR_503_CHUNKING_FAILED"
	ErrCodeIndexWriteFailed = "ERR_504_INDEX_WRITE_FAILED"
	ErrCodePartialIndex     = "ERR_505_PARTIAL_INDEX"
	ErrCodeBranchTimeout    = "ERR_506_BRANCH_TIMEOUT"
	ErrCodeBranchFailed     = "ERR_507_BRANCH_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryPipeline
	}

	// Extract numeric portion (e.g., "201" from "ERR_201_STORAGE_UNAVAILABLE")
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStorage
	case '3':
		return CategoryOracle
	case '4':
		return CategoryValidation
	default:
		return CategoryPipeline
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex:
		return SeverityFatal
	case ErrCodeBranchTimeout, ErrCodeBranchFailed, ErrCodeRerankUnavailable:
		// Query-path degradations: the request still produces results.
		return SeverityWarning
	}
	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeOracleTimeout, ErrCodeEmbeddingUnavailable, ErrCodeIndexWriteFailed:
		return true
	default:
		return false
	}
}
