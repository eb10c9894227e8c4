package embed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ProviderType represents an embedding provider
type ProviderType string

const (
	// ProviderAuto uses Ollama when reachable and falls back to static otherwise
	ProviderAuto ProviderType = ""

	// ProviderOllama uses the Ollama API and fails if it is unreachable
	ProviderOllama ProviderType = "ollama"

	// ProviderStatic uses deterministic hash-based embeddings
	ProviderStatic ProviderType = "static"
)

// ParseProvider converts a configured provider name into a ProviderType.
func ParseProvider(s string) (ProviderType, error) {
	switch p := ProviderType(strings.ToLower(strings.TrimSpace(s))); p {
	case ProviderAuto, ProviderOllama, ProviderStatic:
		return p, nil
	case "auto":
		return ProviderAuto, nil
	default:
		return "", fmt.Errorf("unknown embedding provider %q (want ollama, static or auto)", s)
	}
}

// Options selects and tunes an embedder.
type Options struct {
	Provider          ProviderType
	Model             string
	OllamaHost        string
	BatchSize         int
	Timeout           time.Duration
	MaxInputChars     int
	RequestsPerSecond float64
	// CacheSize wraps the embedder in an LRU cache when positive.
	CacheSize int
}

// NewEmbedder creates an embedder for opts.Provider.
//
// With ProviderAuto an unreachable Ollama is not an error: the static embedder
// is used instead and a warning is logged. An explicit ProviderOllama never
// falls back silently.
func NewEmbedder(ctx context.Context, opts Options) (Embedder, error) {
	var (
		embedder Embedder
		err      error
	)

	switch opts.Provider {
	case ProviderStatic:
		embedder = newStatic(opts)

	case ProviderOllama:
		embedder, err = newOllama(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("ollama unavailable: %w\n\nTo fix:\n  1. Start Ollama: ollama serve\n  2. Or use offline embeddings: RAGCORE_EMBEDDER=static", err)
		}

	case ProviderAuto:
		embedder, err = newOllama(ctx, opts)
		if err != nil {
			slog.Warn("embedder_fallback",
				slog.String("from", string(ProviderOllama)),
				slog.String("to", string(ProviderStatic)),
				slog.String("reason", err.Error()))
			embedder, err = newStatic(opts), nil
		}

	default:
		return nil, fmt.Errorf("unknown embedding provider %q", opts.Provider)
	}

	if opts.CacheSize > 0 {
		embedder = NewCachedEmbedder(embedder, opts.CacheSize)
	}

	slog.Info("embedder_selected",
		slog.String("model", embedder.ModelName()),
		slog.Int("dimensions", embedder.Dimensions()))

	return embedder, nil
}

func newStatic(opts Options) *StaticEmbedder {
	return NewStaticEmbedder(WithMaxInputChars(opts.MaxInputChars))
}

func newOllama(ctx context.Context, opts Options) (*OllamaEmbedder, error) {
	cfg := DefaultOllamaConfig()
	if opts.OllamaHost != "" {
		cfg.Host = opts.OllamaHost
	}
	if opts.Model != "" {
		cfg.Model = opts.Model
	}
	if opts.BatchSize > 0 {
		cfg.BatchSize = opts.BatchSize
	}
	if opts.Timeout > 0 {
		cfg.Timeout = opts.Timeout
	}
	cfg.RequestsPerSecond = opts.RequestsPerSecond
	return NewOllamaEmbedder(ctx, cfg)
}
