package errors

import (
	stderrors "errors"
	"fmt"
)

// FrameScopeError is the structured error type for FrameScope.
type FrameScopeError struct {
	// Code is the unique error code (e.g., "ERR_304_INDEX_UNAVAILABLE").
	Code string

	// Message is the human-readable error message.
	Message string

	Category Category
	Severity Severity

	// Details contains additional context such as modality or page.
	Details map[string]string

	// Cause is the underlying error.
	Cause error

	// Retryable reports whether the caller may repeat the request.
	Retryable bool

	// Suggestion is an actionable hint for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *FrameScopeError) Error() string {
	if e.Cause != nil && e.Cause.Error() != e.Message {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *FrameScopeError) Unwrap() error {
	return e.Cause
}

// Is matches another FrameScopeError by code.
func (e *FrameScopeError) Is(target error) bool {
	if t, ok := target.(*FrameScopeError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *FrameScopeError) WithDetail(key, value string) *FrameScopeError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *FrameScopeError) WithSuggestion(suggestion string) *FrameScopeError {
	e.Suggestion = suggestion
	return e
}

// New creates an error whose category, severity and retryability derive
// from the code.
func New(code string, message string, cause error) *FrameScopeError {
	return &FrameScopeError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a FrameScopeError carrying err's message.
func Wrap(code string, err error) *FrameScopeError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Code returns a comparable error carrying only a code, for use with errors.Is.
func Code(code string) error {
	return &FrameScopeError{Code: code}
}

// InvalidQuery reports a malformed or empty query.
func InvalidQuery(message string, cause error) *FrameScopeError {
	return New(ErrCodeInvalidQuery, message, cause)
}

// IndexUnavailable reports a failing nearest-neighbour index.
func IndexUnavailable(message string, cause error) *FrameScopeError {
	return New(ErrCodeIndexUnavailable, message, cause).
		WithSuggestion("check that the index was built with 'framescope index build'")
}

// VectorizerFailed reports a failing query vectorizer.
func VectorizerFailed(message string, cause error) *FrameScopeError {
	return New(ErrCodeVectorizerFailed, message, cause).
		WithSuggestion("check the embeddings provider configuration")
}

// FrameNotFound reports an index position or key without a frame.
func FrameNotFound(message string) *FrameScopeError {
	return New(ErrCodeFrameNotFound, message, nil)
}

// ConfigError creates a configuration error.
func ConfigError(message string, cause error) *FrameScopeError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// SearchFailed wraps the first failure of a search request.
func SearchFailed(cause error) *FrameScopeError {
	return New(ErrCodeSearchFailed, "search failed, try again", cause)
}

// IsRetryable reports whether any FrameScopeError in the chain is retryable.
func IsRetryable(err error) bool {
	var fe *FrameScopeError
	if stderrors.As(err, &fe) {
		return fe.Retryable
	}
	return false
}

// IsFatal reports whether the error has fatal severity.
func IsFatal(err error) bool {
	var fe *FrameScopeError
	if stderrors.As(err, &fe) {
		return fe.Severity == SeverityFatal
	}
	return false
}

// GetCode returns the code of the outermost FrameScopeError, or "".
func GetCode(err error) string {
	var fe *FrameScopeError
	if stderrors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// GetCategory returns the category of the outermost FrameScopeError, or "".
func GetCategory(err error) Category {
	var fe *FrameScopeError
	if stderrors.As(err, &fe) {
		return fe.Category
	}
	return ""
}
