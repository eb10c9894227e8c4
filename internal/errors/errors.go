package errors

import (
	"context"
	stderrors "errors"
	"fmt"
)

// Error is the structured error type for ragcore.
// It provides rich context for error handling, logging, and user presentation.
type Error struct {
	// Code is the unique error code (e.g., "ERR_301_STORE_UNAVAILABLE").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Availability, etc.).
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

// Sentinels for errors.Is matching. Matching is by code, so any *Error
// carrying the same code in a chain satisfies errors.Is(err, ErrBusy).
var (
	ErrStoreUnavailable     = &Error{Code: ErrCodeStoreUnavailable}
	ErrTimeout              = &Error{Code: ErrCodeTimeout}
	ErrEmbeddingUnavailable = &Error{Code: ErrCodeEmbeddingUnavailable}
	ErrEmbeddingFailed      = &Error{Code: ErrCodeEmbeddingFailed}
	ErrInputTooLong         = &Error{Code: ErrCodeInputTooLong}
	ErrQueryTooLong         = &Error{Code: ErrCodeQueryTooLong}
	ErrNotFound             = &Error{Code: ErrCodeNotFound}
	ErrBusy                 = &Error{Code: ErrCodeBusy}
	ErrInvalidInput         = &Error{Code: ErrCodeInvalidInput}
)

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestion = suggestion
	return e
}

// New creates a new Error with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates an Error from an existing error.
// The error's message becomes the Error message.
func Wrap(code string, err error) *Error {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *Error {
	return New(ErrCodeConfigInvalid, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *Error {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *Error {
	return New(ErrCodeInternal, message, cause)
}

// StoreUnavailable reports that the index store cannot be reached or is closed.
func StoreUnavailable(message string, cause error) *Error {
	return New(ErrCodeStoreUnavailable, message, cause).
		WithSuggestion("Check that the data directory is readable and not locked by another process")
}

// Timeout reports that op did not finish within its deadline.
func Timeout(op string, cause error) *Error {
	return New(ErrCodeTimeout, op+" timed out", cause).WithDetail("operation", op)
}

// NotFound reports that a resource of the given kind does not exist.
func NotFound(kind, id string) *Error {
	e := New(ErrCodeNotFound, kind+" not found", nil).WithDetail("kind", kind)
	if id != "" {
		e.Message = fmt.Sprintf("%s %q not found", kind, id)
		e.WithDetail("id", id)
	}
	return e
}

// Busy reports that a bounded resource has no spare capacity.
func Busy(message string) *Error {
	return New(ErrCodeBusy, message, nil).WithSuggestion("Retry after in-flight work completes")
}

// QueryTooLong reports a query exceeding the maximum accepted length.
func QueryTooLong(length, limit int) *Error {
	return New(ErrCodeQueryTooLong, fmt.Sprintf("query is %d characters, limit is %d", length, limit), nil).
		WithSuggestion("Shorten the query or raise search.max_query_chars")
}

// FromContext converts a context error into a coded error for op.
// Deadline expiry becomes a Timeout; cancellation is returned unchanged.
func FromContext(op string, err error) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return Timeout(op, err)
	}
	return err
}

// EmbeddingError is returned by embedders. Transient failures may be retried
// with the same batch; InputTooLong failures require smaller input.
type EmbeddingError struct {
	Transient    bool
	InputTooLong bool
	// Index is the position of the offending input within the batch, or -1.
	Index int
	Cause error
}

// NewEmbeddingError creates an EmbeddingError not tied to a specific input.
func NewEmbeddingError(transient bool, cause error) *EmbeddingError {
	return &EmbeddingError{Transient: transient, Index: -1, Cause: cause}
}

// NewInputTooLongError creates an EmbeddingError for the input at index.
func NewInputTooLongError(index int, cause error) *EmbeddingError {
	return &EmbeddingError{InputTooLong: true, Index: index, Cause: cause}
}

func (e *EmbeddingError) code() string {
	switch {
	case e.InputTooLong:
		return ErrCodeInputTooLong
	case e.Transient:
		return ErrCodeEmbeddingUnavailable
	default:
		return ErrCodeEmbeddingFailed
	}
}

// Error implements the error interface.
func (e *EmbeddingError) Error() string {
	kind := "permanent"
	switch {
	case e.InputTooLong:
		kind = "input too long"
	case e.Transient:
		kind = "transient"
	}
	if e.Cause == nil {
		return fmt.Sprintf("[%s] embedding failed (%s)", e.code(), kind)
	}
	return fmt.Sprintf("[%s] embedding failed (%s): %v", e.code(), kind, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *EmbeddingError) Unwrap() error {
	return e.Cause
}

// Is matches the code sentinel that corresponds to the failure kind.
func (e *EmbeddingError) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return t.Code == e.code()
	}
	return false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ae *Error
	if stderrors.As(err, &ae) {
		return ae.Retryable
	}
	var ee *EmbeddingError
	if stderrors.As(err, &ee) {
		return ee.Transient
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	var ae *Error
	if stderrors.As(err, &ae) {
		return ae.Severity == SeverityFatal
	}
	return false
}

// IsStoreUnavailable reports whether err is a StoreUnavailable error.
func IsStoreUnavailable(err error) bool { return stderrors.Is(err, ErrStoreUnavailable) }

// IsTimeout reports whether err is a Timeout error.
func IsTimeout(err error) bool { return stderrors.Is(err, ErrTimeout) }

// IsNotFound reports whether err is a NotFound error.
func IsNotFound(err error) bool { return stderrors.Is(err, ErrNotFound) }

// IsBusy reports whether err is a Busy error.
func IsBusy(err error) bool { return stderrors.Is(err, ErrBusy) }

// IsQueryTooLong reports whether err is a QueryTooLong error.
func IsQueryTooLong(err error) bool { return stderrors.Is(err, ErrQueryTooLong) }

// IsInputTooLong reports whether err is an embedding input-too-long failure.
func IsInputTooLong(err error) bool { return stderrors.Is(err, ErrInputTooLong) }

// GetCode extracts the error code from the first coded error in the chain.
// Returns empty string if none is found.
func GetCode(err error) string {
	var ae *Error
	if stderrors.As(err, &ae) {
		return ae.Code
	}
	var ee *EmbeddingError
	if stderrors.As(err, &ee) {
		return ee.code()
	}
	return ""
}

// GetCategory extracts the category from the first coded error in the chain.
func GetCategory(err error) Category {
	code := GetCode(err)
	if code == "" {
		return ""
	}
	return categoryFromCode(code)
}

// Is reports whether any error in err's chain matches target.
// It mirrors the standard library so callers need only one errors import.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool { return stderrors.As(err, target) }
