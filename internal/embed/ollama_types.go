package embed

import "time"

// Ollama API constants
const (
	// DefaultOllamaHost is the default Ollama API endpoint
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultOllamaModel is the default general-purpose text embedding model
	DefaultOllamaModel = "nomic-embed-text"

	// OllamaConnectTimeout bounds the startup health check
	OllamaConnectTimeout = 5 * time.Second

	// OllamaPoolSize for connection pool
	OllamaPoolSize = 4
)

// FallbackOllamaModels are tried in order if the configured model is not installed.
var FallbackOllamaModels = []string{
	"mxbai-embed-large",
	"all-minilm",
}

// OllamaConfig configures the Ollama embedder
type OllamaConfig struct {
	// Host is the Ollama API endpoint (default: http://localhost:11434)
	Host string

	// Model is the embedding model to use (default: nomic-embed-text)
	Model string

	// FallbackModels are tried in order if the primary model is unavailable
	FallbackModels []string

	// Dimensions can be set to override auto-detection (0 = auto-detect)
	Dimensions int

	// BatchSize for batch embedding requests (default: 32)
	BatchSize int

	// Timeout bounds each HTTP request (default: 60s)
	Timeout time.Duration

	// ConnectTimeout for the startup health check (default: 5s)
	ConnectTimeout time.Duration

	// MaxRetries for transient failures (default: 3)
	MaxRetries int

	// RetryDelay is the initial backoff between retries (default: 200ms)
	RetryDelay time.Duration

	// PoolSize for HTTP connection pool (default: 4)
	PoolSize int

	// RequestsPerSecond paces requests to the service (0 = unlimited)
	RequestsPerSecond float64

	// BreakerFailures opens the circuit after this many consecutive transient failures (default: 5)
	BreakerFailures int

	// BreakerReset is how long the circuit stays open (default: 30s)
	BreakerReset time.Duration

	// SkipHealthCheck skips the startup availability check (for testing)
	SkipHealthCheck bool
}

// DefaultOllamaConfig returns sensible defaults
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		Host:           DefaultOllamaHost,
		Model:          DefaultOllamaModel,
		FallbackModels: FallbackOllamaModels,
		BatchSize:      DefaultBatchSize,
		Timeout:        DefaultTimeout,
		ConnectTimeout: OllamaConnectTimeout,
		MaxRetries:     DefaultMaxRetries,
		RetryDelay:     200 * time.Millisecond,
		PoolSize:       OllamaPoolSize,

		BreakerFailures: 5,
		BreakerReset:    30 * time.Second,
	}
}

// OllamaEmbedRequest is the Ollama /api/embed request
type OllamaEmbedRequest struct {
	Model    string `json:"model"`
	Input    any    `json:"input"` // string or []string for batch
	Truncate *bool  `json:"truncate,omitempty"`
}

// OllamaEmbedResponse is the Ollama /api/embed response
type OllamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

// OllamaErrorResponse is the body Ollama returns on failure
type OllamaErrorResponse struct {
	Error string `json:"error"`
}

// OllamaModelListResponse is the Ollama /api/tags response
type OllamaModelListResponse struct {
	Models []OllamaModelInfo `json:"models"`
}

// OllamaModelInfo describes an installed model
type OllamaModelInfo struct {
	Name       string    `json:"name"`
	ModifiedAt time.Time `json:"modified_at"`
	Size       int64     `json:"size"`
}
