package generate

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Aman-CERP/ragcore/internal/errors"
	"github.com/Aman-CERP/ragcore/internal/search"
)

const (
	// DefaultOllamaHost is the default Ollama API endpoint
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultModel is the default generation model
	DefaultModel = "llama3.2"

	// DefaultTimeout bounds one generation request
	DefaultTimeout = 120 * time.Second
)

// OllamaConfig configures the Ollama generator.
type OllamaConfig struct {
	Host    string
	Model   string
	Timeout time.Duration

	// MaxPassages caps the passages placed in the prompt (default: 5)
	MaxPassages int
}

type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaGenerateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

type ollamaErrorResponse struct {
	Error string `json:"error"`
}

// Ollama generates answers with a local Ollama model.
type Ollama struct {
	client *http.Client
	config OllamaConfig
}

// Verify interface implementation at compile time
var _ Generator = (*Ollama)(nil)

// NewOllama creates an Ollama generator. No request is made until Generate.
func NewOllama(cfg OllamaConfig) *Ollama {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxPassages <= 0 {
		cfg.MaxPassages = 5
	}
	return &Ollama{
		client: &http.Client{},
		config: cfg,
	}
}

// Name returns the model name.
func (o *Ollama) Name() string { return o.config.Model }

// Generate prompts the model with the retrieved passages. Without passages
// the model is not called.
func (o *Ollama) Generate(ctx context.Context, req Request, retrieved *search.Result) (*Answer, error) {
	start := time.Now()

	hits := hitsOf(retrieved)
	if len(hits) > o.config.MaxPassages {
		hits = hits[:o.config.MaxPassages]
	}
	if len(hits) == 0 {
		return &Answer{Text: NoContextAnswer, Model: o.config.Model, Sources: []Source{}, Duration: time.Since(start)}, nil
	}

	body, err := json.Marshal(ollamaGenerateRequest{
		Model:  o.config.Model,
		Prompt: BuildPrompt(req, hits),
		Stream: false,
	})
	if err != nil {
		return nil, errors.InternalError("marshal generate request", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, o.config.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, o.config.Host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, errors.InternalError("create generate request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.FromContext("generate", ctx.Err())
		}
		if stderrors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return nil, errors.Timeout("generate", err)
		}
		return nil, generationFailed(fmt.Sprintf("connect to Ollama at %s", o.config.Host), err, true)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(raw))
		var parsed ollamaErrorResponse
		if json.Unmarshal(raw, &parsed) == nil && parsed.Error != "" {
			msg = parsed.Error
		}
		transient := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, generationFailed(fmt.Sprintf("generation service returned %d", resp.StatusCode),
			stderrors.New(msg), transient)
	}

	var out ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, generationFailed("decode generate response", err, false)
	}
	text := strings.TrimSpace(out.Response)
	if text == "" {
		return nil, generationFailed("generation service returned an empty answer", nil, false)
	}

	model := out.Model
	if model == "" {
		model = o.config.Model
	}

	slog.Debug("generation_complete",
		slog.String("model", model),
		slog.Int("passages", len(hits)),
		slog.Duration("duration", time.Since(start)))

	return &Answer{
		Text:     text,
		Model:    model,
		Sources:  sourcesOf(hits),
		Duration: time.Since(start),
	}, nil
}

func generationFailed(msg string, cause error, retryable bool) *errors.Error {
	err := errors.New(errors.ErrCodeGenerationFailed, msg, cause)
	err.Retryable = retryable
	return err
}

// BuildPrompt formats passages into a grounded answering prompt.
func BuildPrompt(req Request, hits []search.Hit) string {
	var b strings.Builder
	b.WriteString("Answer the question using only the numbered passages below. ")
	b.WriteString("Cite passages as [n]. If the passages do not contain the answer, say so.\n")
	if req.Language != "" {
		fmt.Fprintf(&b, "Write the answer in %s.\n", req.Language)
	}
	if req.Topic != "" {
		fmt.Fprintf(&b, "Topic: %s\n", req.Topic)
	}
	b.WriteString("\nPassages:\n")
	for i, h := range hits {
		fmt.Fprintf(&b, "[%d] (%s) %s\n", i+1, citation(h), strings.TrimSpace(h.Chunk.Content))
	}
	fmt.Fprintf(&b, "\nQuestion: %s\nAnswer:", req.Query)
	return b.String()
}
