package generate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/ragcore/internal/chunk"
	"github.com/Aman-CERP/ragcore/internal/config"
	"github.com/Aman-CERP/ragcore/internal/errors"
	"github.com/Aman-CERP/ragcore/internal/search"
	"github.com/Aman-CERP/ragcore/internal/store"
)

func retrieved(contents ...string) *search.Result {
	r := &search.Result{Query: "q", TopK: len(contents)}
	for i, c := range contents {
		r.Hits = append(r.Hits, search.Hit{
			Rank: i + 1,
			ScoredChunk: store.ScoredChunk{
				Chunk: chunk.Chunk{
					ID:         "chunk-" + string(rune('a'+i)),
					DocumentID: "doc-" + string(rune('a'+i)),
					Content:    c,
					Metadata:   chunk.Metadata{Title: "Title " + string(rune('A'+i))},
				},
				Score: 1 - float64(i)/10,
			},
		})
	}
	return r
}

func TestExtractive_QuotesTopPassages(t *testing.T) {
	// Given: four hits and a generator quoting three
	g := NewExtractive(3)

	// When: generating
	ans, err := g.Generate(context.Background(), Request{Query: "q", Topic: "Attention"},
		retrieved("first passage", "second passage", "third passage", "fourth passage"))

	// Then: the top three are quoted with citations
	require.NoError(t, err)
	assert.Equal(t, "extractive", ans.Model)
	assert.True(t, strings.HasPrefix(ans.Text, "Attention\n\n[1] first passage"))
	assert.Contains(t, ans.Text, "[3] third passage")
	assert.NotContains(t, ans.Text, "fourth passage")
	assert.Contains(t, ans.Text, "[1] Title A (doc-a)")
	require.Len(t, ans.Sources, 3)
	assert.Equal(t, "chunk-a", ans.Sources[0].ChunkID)
}

func TestExtractive_NoHits(t *testing.T) {
	ans, err := NewExtractive(0).Generate(context.Background(), Request{Query: "q"}, &search.Result{})

	require.NoError(t, err)
	assert.Equal(t, NoContextAnswer, ans.Text)
	assert.Empty(t, ans.Sources)
}

func TestExtractive_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewExtractive(1).Generate(ctx, Request{Query: "q"}, retrieved("x"))

	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuildPrompt(t *testing.T) {
	hits := retrieved("Transformers use attention.").Hits

	prompt := BuildPrompt(Request{Query: "What do transformers use?", Topic: "NLP", Language: "French"}, hits)

	assert.Contains(t, prompt, "Write the answer in French.")
	assert.Contains(t, prompt, "Topic: NLP")
	assert.Contains(t, prompt, "[1] (Title A (doc-a)) Transformers use attention.")
	assert.True(t, strings.HasSuffix(prompt, "Question: What do transformers use?\nAnswer:"))
}

func TestOllama_Generate(t *testing.T) {
	// Given: a fake generate endpoint
	var gotReq ollamaGenerateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_ = json.NewEncoder(w).Encode(ollamaGenerateResponse{Model: "llama3.2:latest", Response: " Attention [1]. ", Done: true})
	}))
	t.Cleanup(srv.Close)

	g := NewOllama(OllamaConfig{Host: srv.URL + "/"})

	// When: generating from one hit
	ans, err := g.Generate(context.Background(), Request{Query: "what?"}, retrieved("Transformers use attention."))

	// Then: the prompt carries the passage and the answer is trimmed
	require.NoError(t, err)
	assert.Equal(t, "Attention [1].", ans.Text)
	assert.Equal(t, "llama3.2:latest", ans.Model)
	assert.Equal(t, DefaultModel, gotReq.Model)
	assert.False(t, gotReq.Stream)
	assert.Contains(t, gotReq.Prompt, "Transformers use attention.")
	require.Len(t, ans.Sources, 1)
}

func TestOllama_NoHitsSkipsModel(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	t.Cleanup(srv.Close)

	ans, err := NewOllama(OllamaConfig{Host: srv.URL}).Generate(context.Background(), Request{Query: "q"}, nil)

	require.NoError(t, err)
	assert.Equal(t, NoContextAnswer, ans.Text)
	assert.Zero(t, calls.Load())
}

func TestOllama_Errors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		retryable bool
	}{
		{"server error is retryable", http.StatusInternalServerError, `{"error":"model crashed"}`, true},
		{"missing model is not", http.StatusNotFound, `{"error":"model not found"}`, false},
		{"empty answer", http.StatusOK, `{"response":"   ","done":true}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			t.Cleanup(srv.Close)

			_, err := NewOllama(OllamaConfig{Host: srv.URL}).Generate(context.Background(), Request{Query: "q"}, retrieved("x"))

			require.Error(t, err)
			assert.Equal(t, errors.ErrCodeGenerationFailed, errors.GetCode(err))
			assert.Equal(t, tt.retryable, errors.IsRetryable(err))
		})
	}
}

func TestOllama_Timeout(t *testing.T) {
	// Given: a service slower than the configured timeout
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	g := NewOllama(OllamaConfig{Host: srv.URL, Timeout: 20 * time.Millisecond})

	// When: generating
	_, err := g.Generate(context.Background(), Request{Query: "q"}, retrieved("x"))

	// Then: a typed timeout, not a hang
	require.Error(t, err)
	assert.True(t, errors.IsTimeout(err))
}

func TestNew(t *testing.T) {
	g, err := New(config.GenerationConfig{Provider: "extractive"}, "")
	require.NoError(t, err)
	assert.Equal(t, "extractive", g.Name())

	g, err = New(config.GenerationConfig{Provider: "Ollama", Model: "mistral"}, "http://ollama:11434")
	require.NoError(t, err)
	assert.Equal(t, "mistral", g.Name())

	_, err = New(config.GenerationConfig{Provider: "gpt"}, "")
	assert.Error(t, err)
}
