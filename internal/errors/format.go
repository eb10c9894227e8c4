package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
)

// asCoded returns the first coded error in the chain, wrapping anything
// else as an internal error.
func asCoded(err error) *Error {
	var ae *Error
	if stderrors.As(err, &ae) {
		return ae
	}
	var ee *EmbeddingError
	if stderrors.As(err, &ee) {
		e := New(ee.code(), err.Error(), err)
		if ee.InputTooLong {
			e.WithSuggestion("Use a smaller ingest.chunk_size")
		}
		return e
	}
	return Wrap(ErrCodeInternal, err)
}

// FormatForCLI formats an error for CLI output.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	ae := asCoded(err)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Error: %s\n", ae.Message)
	if ae.Suggestion != "" {
		fmt.Fprintf(&sb, "  Hint: %s\n", ae.Suggestion)
	}
	fmt.Fprintf(&sb, "  Code: %s\n", ae.Code)

	return sb.String()
}

// jsonError is the JSON representation of an error.
type jsonError struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Category   string            `json:"category"`
	Severity   string            `json:"severity"`
	Details    map[string]string `json:"details,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	Cause      string            `json:"cause,omitempty"`
	Retryable  bool              `json:"retryable"`
}

// FormatJSON returns a JSON representation of the error.
func FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return json.Marshal(nil)
	}

	ae := asCoded(err)
	je := jsonError{
		Code:       ae.Code,
		Message:    ae.Message,
		Category:   string(ae.Category),
		Severity:   string(ae.Severity),
		Details:    ae.Details,
		Suggestion: ae.Suggestion,
		Retryable:  ae.Retryable,
	}
	if ae.Cause != nil {
		je.Cause = ae.Cause.Error()
	}

	return json.Marshal(je)
}

// FormatForLog returns slog attributes describing err.
func FormatForLog(err error) []any {
	if err == nil {
		return nil
	}

	var ae *Error
	if !stderrors.As(err, &ae) {
		if code := GetCode(err); code != "" {
			return []any{"error", err.Error(), "error_code", code, "retryable", IsRetryable(err)}
		}
		return []any{"error", err.Error()}
	}

	attrs := []any{
		"error", err.Error(),
		"error_code", ae.Code,
		"category", string(ae.Category),
		"severity", string(ae.Severity),
		"retryable", ae.Retryable,
	}
	for k, v := range ae.Details {
		attrs = append(attrs, "detail_"+k, v)
	}
	return attrs
}

// HTTPStatus maps an error to the status code the HTTP layer responds with.
func HTTPStatus(err error) int {
	switch GetCode(err) {
	case "":
		return http.StatusInternalServerError
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeQueryTooLong, ErrCodeInputTooLong:
		return http.StatusRequestEntityTooLarge
	case ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case ErrCodeStoreUnavailable, ErrCodeEmbeddingUnavailable, ErrCodeBusy:
		return http.StatusServiceUnavailable
	case ErrCodeGenerationFailed:
		return http.StatusBadGateway
	case ErrCodeJobNotCancellable:
		return http.StatusConflict
	}

	switch GetCategory(err) {
	case CategoryValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
