// Package errors provides structured error handling for FrameScope.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Metadata and storage errors
//   - 3XX: External dependency errors (index, vectorizer, reranker backend)
//   - 4XX: Query validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	CategoryConfig     Category = "CONFIG"
	CategoryStorage    Category = "STORAGE"
	CategoryDependency Category = "DEPENDENCY"
	CategoryValidation Category = "VALIDATION"
	CategoryInternal   Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	SeverityFatal   Severity = "FATAL"
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
	SeverityInfo    Severity = "INFO"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Metadata and storage errors (200-299)
	ErrCodeMetadataNotFound = "ERR_201_METADATA_NOT_FOUND"
	ErrCodeMetadataCorrupt  = "ERR_202_METADATA_CORRUPT"
	ErrCodeIndexCorrupt     = "ERR_205_INDEX_CORRUPT"
	ErrCodeSelectionStore   = "ERR_206_SELECTION_STORE"
	ErrCodeFrameNotFound    = "ERR_207_FRAME_NOT_FOUND"

	// External dependency errors (300-399)
	ErrCodeIndexUnavailable    = "ERR_304_INDEX_UNAVAILABLE"
	ErrCodeVectorizerFailed    = "ERR_305_VECTORIZER_FAILED"
	ErrCodeRerankerUnavailable = "ERR_306_RERANKER_UNAVAILABLE"

	// Query validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeInvalidQuery      = "ERR_403_INVALID_QUERY"
	ErrCodeQueryEmpty        = "ERR_404_QUERY_EMPTY"
	ErrCodeInvalidPage       = "ERR_405_INVALID_PAGE"
	ErrCodeDegenerateWeights = "ERR_406_DEGENERATE_WEIGHTS"

	// Internal errors (500-599)
	ErrCodeInternal     = "ERR_501_INTERNAL"
	ErrCodeFusionFailed = "ERR_502_FUSION_FAILED"
	ErrCodeSearchFailed = "ERR_503_SEARCH_FAILED"
	ErrCodeIndexBuild   = "ERR_505_INDEX_BUILD_FAILED"
)

// categoryFromCode reads the category from the first digit of the code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStorage
	case '3':
		return CategoryDependency
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeIndexCorrupt, ErrCodeMetadataCorrupt:
		return SeverityFatal
	case ErrCodeFrameNotFound, ErrCodeDegenerateWeights:
		return SeverityWarning
	}
	if isRetryableCode(code) {
		return SeverityWarning
	}
	return SeverityError
}

// isRetryableCode reports whether the caller may retry the same request.
// The search core never retries on its own.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeIndexUnavailable, ErrCodeVectorizerFailed, ErrCodeRerankerUnavailable, ErrCodeSearchFailed:
		return true
	default:
		return false
	}
}
