package mcp

import (
	"context"
	"fmt"

	"github.com/Aman-CERP/ragcore/internal/errors"
)

// MCP error codes. The -320xx range is reserved by JSON-RPC for
// implementation-defined server errors.
const (
	// ErrCodeIndexNotFound indicates the index is empty or unreadable.
	ErrCodeIndexNotFound = -32001

	// ErrCodeEmbeddingFailed indicates the embedding service failed.
	ErrCodeEmbeddingFailed = -32002

	// ErrCodeTimeout indicates the request timed out or was cancelled.
	ErrCodeTimeout = -32003

	// ErrCodeNotFound indicates an unknown job, document or chunk.
	ErrCodeNotFound = -32004

	// ErrCodeTooLarge indicates a query or input over its length limit.
	ErrCodeTooLarge = -32005

	// ErrCodeUnavailable indicates a saturated or closed dependency; retry later.
	ErrCodeUnavailable = -32006

	// Standard JSON-RPC error codes.
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// MCPError is an error with an MCP error code, returned to clients.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts internal errors to MCP errors. Messages carry the
// error's suggestion so clients can act on it.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var me *MCPError
	if errors.As(err, &me) {
		return me
	}

	code := errors.GetCode(err)
	if code == "" {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
		case errors.Is(err, context.Canceled):
			return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
		default:
			return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
		}
	}

	message := err.Error()
	var ce *errors.Error
	if errors.As(err, &ce) {
		message = ce.Message
		if ce.Suggestion != "" {
			message = fmt.Sprintf("%s %s", ce.Message, ce.Suggestion)
		}
	}

	return &MCPError{Code: mcpCode(code, errors.GetCategory(err)), Message: message}
}

func mcpCode(code string, category errors.Category) int {
	switch code {
	case errors.ErrCodeNotFound:
		return ErrCodeNotFound
	case errors.ErrCodeQueryTooLong, errors.ErrCodeInputTooLong:
		return ErrCodeTooLarge
	case errors.ErrCodeTimeout:
		return ErrCodeTimeout
	case errors.ErrCodeEmbeddingUnavailable, errors.ErrCodeEmbeddingFailed:
		return ErrCodeEmbeddingFailed
	case errors.ErrCodeStoreUnavailable, errors.ErrCodeBusy, errors.ErrCodeDataDirLocked:
		return ErrCodeUnavailable
	case errors.ErrCodeCorruptIndex, errors.ErrCodeDimensionMismatch:
		return ErrCodeIndexNotFound
	}

	if category == errors.CategoryValidation {
		return ErrCodeInvalidParams
	}
	return ErrCodeInternalError
}

// NewInvalidParamsError creates an error for invalid parameters with a custom message.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{
		Code:    ErrCodeInvalidParams,
		Message: msg,
	}
}

// NewMethodNotFoundError creates an error for unknown tools.
func NewMethodNotFoundError(name string) *MCPError {
	return &MCPError{
		Code:    ErrCodeMethodNotFound,
		Message: fmt.Sprintf("Tool '%s' not found.", name),
	}
}
