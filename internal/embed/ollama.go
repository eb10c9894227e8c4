package embed

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
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Aman-CERP/ragcore/internal/errors"
)

// OllamaEmbedder generates embeddings using Ollama's HTTP API.
//
// Each request is bounded by config.Timeout, paced by an optional rate limiter,
// retried on transient failures, and guarded by a circuit breaker so an
// unreachable service fails fast instead of stalling every ingest batch.
type OllamaEmbedder struct {
	client    *http.Client
	transport *http.Transport
	config    OllamaConfig
	limiter   *rate.Limiter
	breaker   *errors.CircuitBreaker

	mu        sync.RWMutex
	modelName string
	dims      int
	closed    bool
}

// Verify interface implementation at compile time
var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder creates a new Ollama embedder
func NewOllamaEmbedder(ctx context.Context, cfg OllamaConfig) (*OllamaEmbedder, error) {
	defaults := DefaultOllamaConfig()
	if cfg.Host == "" {
		cfg.Host = defaults.Host
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	if cfg.Model == "" {
		cfg.Model = defaults.Model
	}
	if cfg.FallbackModels == nil {
		cfg.FallbackModels = defaults.FallbackModels
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaults.ConnectTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaults.RetryDelay
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = defaults.PoolSize
	}
	if cfg.BreakerFailures <= 0 {
		cfg.BreakerFailures = defaults.BreakerFailures
	}
	if cfg.BreakerReset <= 0 {
		cfg.BreakerReset = defaults.BreakerReset
	}

	// No http.Client.Timeout: each request gets its own context deadline.
	transport := &http.Transport{
		MaxIdleConns:        cfg.PoolSize,
		MaxIdleConnsPerHost: cfg.PoolSize,
		MaxConnsPerHost:     cfg.PoolSize * 2,
		IdleConnTimeout:     10 * time.Second,
	}

	e := &OllamaEmbedder{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
		modelName: cfg.Model,
		dims:      cfg.Dimensions,
		breaker: errors.NewCircuitBreaker("ollama-embed",
			errors.WithMaxFailures(cfg.BreakerFailures),
			errors.WithResetTimeout(cfg.BreakerReset),
			errors.WithFailurePredicate(errors.IsRetryable),
		),
	}
	if cfg.RequestsPerSecond > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()

		modelName, err := e.findAvailableModel(checkCtx)
		if err != nil {
			transport.CloseIdleConnections()
			return nil, errors.NewEmbeddingError(true, fmt.Errorf("connect to Ollama at %s: %w", cfg.Host, err))
		}
		e.modelName = modelName
	}

	if e.dims == 0 && !cfg.SkipHealthCheck {
		vecs, err := e.embedOnce(ctx, []string{"dimension detection"})
		if err != nil {
			transport.CloseIdleConnections()
			return nil, fmt.Errorf("detect embedding dimensions: %w", err)
		}
		e.dims = len(vecs[0])
	}

	slog.Debug("ollama_embedder_ready",
		slog.String("host", cfg.Host),
		slog.String("model", e.modelName),
		slog.Int("dimensions", e.dims))

	return e, nil
}

// listModels gets available models from Ollama
func (e *OllamaEmbedder) listModels(ctx context.Context) ([]OllamaModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.Host+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Ollama: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var result OllamaModelListResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return result.Models, nil
}

// findAvailableModel resolves the configured model, or a fallback, against
// the installed models. Names match with or without a ":tag" suffix.
func (e *OllamaEmbedder) findAvailableModel(ctx context.Context) (string, error) {
	models, err := e.listModels(ctx)
	if err != nil {
		return "", err
	}

	available := make(map[string]string) // normalized -> actual
	for _, m := range models {
		name := strings.ToLower(m.Name)
		available[name] = m.Name
		base := strings.Split(name, ":")[0]
		if _, exists := available[base]; !exists {
			available[base] = m.Name
		}
	}

	candidates := append([]string{e.config.Model}, e.config.FallbackModels...)
	for _, candidate := range candidates {
		name := strings.ToLower(candidate)
		if actual, ok := available[name]; ok {
			return actual, nil
		}
		if actual, ok := available[strings.Split(name, ":")[0]]; ok {
			return actual, nil
		}
	}

	return "", fmt.Errorf("no embedding model available (tried %s and %v)", e.config.Model, e.config.FallbackModels)
}

// Embed generates the embedding for a single text
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts using Ollama's batch API.
// Blank inputs map to zero vectors without a round trip.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, errors.NewEmbeddingError(false, fmt.Errorf("embedder is closed"))
	}

	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	var positions []int
	var pending []string
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		positions = append(positions, i)
		pending = append(pending, text)
	}

	if len(pending) > 0 {
		vecs, err := embedInBatches(ctx, pending, e.config.BatchSize, e.embedWithRetry)
		if err != nil {
			var ee *errors.EmbeddingError
			if stderrors.As(err, &ee) && ee.InputTooLong && ee.Index >= 0 {
				return nil, errors.NewInputTooLongError(positions[ee.Index], ee.Cause)
			}
			return nil, err
		}
		for j, vec := range vecs {
			results[positions[j]] = vec
		}
	}

	dims := e.Dimensions()
	for i := range results {
		if results[i] == nil {
			results[i] = make([]float32, dims)
		}
	}
	if err := checkDimensions(results, len(texts), dims); err != nil {
		return nil, err
	}
	return results, nil
}

// embedWithRetry embeds one batch, retrying transient failures behind the
// circuit breaker. When the service rejects a multi-input batch as too long,
// the inputs are probed one at a time to report which one is at fault.
func (e *OllamaEmbedder) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	retryCfg := errors.RetryConfig{
		MaxRetries:   e.config.MaxRetries,
		InitialDelay: e.config.RetryDelay,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
		ShouldRetry:  errors.IsRetryable,
	}

	vecs, err := errors.RetryWithResult(ctx, retryCfg, func() ([][]float32, error) {
		return errors.CircuitExecute(e.breaker, func() ([][]float32, error) {
			return e.embedOnce(ctx, texts)
		})
	})
	if err == nil {
		return vecs, nil
	}

	switch {
	case ctx.Err() != nil:
		return nil, errors.FromContext("embed", ctx.Err())
	case stderrors.Is(err, errors.ErrCircuitOpen):
		return nil, errors.NewEmbeddingError(true, err)
	case errors.IsInputTooLong(err):
		var ee *errors.EmbeddingError
		if !stderrors.As(err, &ee) || ee.Index >= 0 {
			return nil, err
		}
		if len(texts) == 1 {
			return nil, errors.NewInputTooLongError(0, ee.Cause)
		}
		for i, text := range texts {
			if _, probeErr := e.embedOnce(ctx, []string{text}); errors.IsInputTooLong(probeErr) {
				return nil, errors.NewInputTooLongError(i, ee.Cause)
			}
		}
	}
	return nil, err
}

// embedOnce performs a single /api/embed request bounded by config.Timeout.
func (e *OllamaEmbedder) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	var input any = texts
	if len(texts) == 1 {
		input = texts[0]
	}
	truncate := false
	body, err := json.Marshal(OllamaEmbedRequest{
		Model:    e.ModelName(),
		Input:    input,
		Truncate: &truncate,
	})
	if err != nil {
		return nil, errors.NewEmbeddingError(false, fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, e.config.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, errors.NewEmbeddingError(false, err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() == nil && stderrors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return nil, errors.Timeout("embed", err)
		}
		return nil, errors.NewEmbeddingError(true, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp)
	}

	var apiResult OllamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResult); err != nil {
		return nil, errors.NewEmbeddingError(true, fmt.Errorf("decode response: %w", err))
	}
	if len(apiResult.Embeddings) != len(texts) {
		return nil, errors.NewEmbeddingError(false,
			fmt.Errorf("service returned %d embeddings for %d inputs", len(apiResult.Embeddings), len(texts)))
	}

	embeddings := make([][]float32, len(apiResult.Embeddings))
	for i, emb := range apiResult.Embeddings {
		embedding := make([]float32, len(emb))
		for j, v := range emb {
			embedding[j] = float32(v)
		}
		embeddings[i] = normalizeVector(embedding)
	}

	e.mu.Lock()
	if e.dims == 0 && len(embeddings) > 0 {
		e.dims = len(embeddings[0])
	}
	e.mu.Unlock()

	slog.Debug("embedding_batch_done",
		slog.Int("texts", len(texts)),
		slog.Duration("duration", time.Since(start)))

	return embeddings, nil
}

// classifyStatus converts a non-200 response into a typed EmbeddingError.
// Overloaded and server-side failures are transient; a 400 that mentions the
// input or context length means the input must be shortened.
func classifyStatus(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(raw))
	var parsed OllamaErrorResponse
	if json.Unmarshal(raw, &parsed) == nil && parsed.Error != "" {
		msg = parsed.Error
	}
	cause := fmt.Errorf("embedding service returned %d: %s", resp.StatusCode, msg)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return errors.NewEmbeddingError(true, cause)
	case resp.StatusCode == http.StatusBadRequest && isLengthError(msg):
		return &errors.EmbeddingError{InputTooLong: true, Index: -1, Cause: cause}
	default:
		return errors.NewEmbeddingError(false, cause)
	}
}

func isLengthError(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "input length") ||
		strings.Contains(msg, "context length") ||
		strings.Contains(msg, "too long")
}

// Dimensions returns the embedding dimension
func (e *OllamaEmbedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dims
}

// ModelName returns the model identifier
func (e *OllamaEmbedder) ModelName() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.modelName
}

// Available checks if Ollama is running and the model is installed
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return false
	}

	_, err := e.findAvailableModel(ctx)
	return err == nil
}

// Close releases resources
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	e.transport.CloseIdleConnections()
	return nil
}
