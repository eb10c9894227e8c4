package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatForCLI_IncludesHintAndCode(t *testing.T) {
	// Given: a store failure with a suggestion
	err := StoreUnavailable("store is closed", nil)

	// When: formatting for the CLI
	out := FormatForCLI(err)

	// Then: message, hint and code are all shown
	assert.Contains(t, out, "Error: store is closed")
	assert.Contains(t, out, "Hint:")
	assert.Contains(t, out, "Code: ERR_301_STORE_UNAVAILABLE")
}

func TestFormatForCLI_PlainErrorIsInternal(t *testing.T) {
	out := FormatForCLI(errors.New("boom"))

	assert.Contains(t, out, "Error: boom")
	assert.Contains(t, out, ErrCodeInternal)
}

func TestFormatForCLI_Nil(t *testing.T) {
	assert.Empty(t, FormatForCLI(nil))
}

func TestFormatJSON(t *testing.T) {
	// Given: a not-found error wrapped once
	err := fmt.Errorf("get status: %w", NotFound("job", "j1"))

	// When: rendering as JSON
	data, jerr := FormatJSON(err)
	require.NoError(t, jerr)

	// Then: the coded error's fields are present
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, ErrCodeNotFound, decoded["code"])
	assert.Equal(t, "VALIDATION", decoded["category"])
	assert.Equal(t, false, decoded["retryable"])
}

func TestFormatJSON_EmbeddingError(t *testing.T) {
	data, err := FormatJSON(NewInputTooLongError(0, nil))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, ErrCodeInputTooLong, decoded["code"])
	assert.NotEmpty(t, decoded["suggestion"])
}

func TestFormatForLog(t *testing.T) {
	t.Run("coded error", func(t *testing.T) {
		attrs := FormatForLog(NotFound("job", "x"))
		assert.Contains(t, attrs, "error_code")
		assert.Contains(t, attrs, ErrCodeNotFound)
		assert.Contains(t, attrs, "detail_id")
	})

	t.Run("embedding error", func(t *testing.T) {
		attrs := FormatForLog(NewEmbeddingError(true, nil))
		assert.Contains(t, attrs, ErrCodeEmbeddingUnavailable)
	})

	t.Run("plain error", func(t *testing.T) {
		attrs := FormatForLog(errors.New("boom"))
		assert.Equal(t, []any{"error", "boom"}, attrs)
	})

	t.Run("nil", func(t *testing.T) {
		assert.Nil(t, FormatForLog(nil))
	})
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", NotFound("job", "x"), http.StatusNotFound},
		{"query too long", QueryTooLong(10, 5), http.StatusRequestEntityTooLarge},
		{"timeout", Timeout("query", nil), http.StatusGatewayTimeout},
		{"store unavailable", StoreUnavailable("down", nil), http.StatusServiceUnavailable},
		{"busy", Busy("full"), http.StatusServiceUnavailable},
		{"transient embedding", NewEmbeddingError(true, nil), http.StatusServiceUnavailable},
		{"invalid input", ValidationError("bad", nil), http.StatusBadRequest},
		{"internal", InternalError("bug", nil), http.StatusInternalServerError},
		{"plain", errors.New("plain"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}
