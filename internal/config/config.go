// Package config loads ragcore configuration from defaults, user and project
// files, a .env file and RAGCORE_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config represents the complete ragcore configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version" toml:"version"`
	Ingest     IngestConfig     `yaml:"ingest" json:"ingest" toml:"ingest"`
	Search     SearchConfig     `yaml:"search" json:"search" toml:"search"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings" toml:"embeddings"`
	Store      StoreConfig      `yaml:"store" json:"store" toml:"store"`
	Jobs       JobsConfig       `yaml:"jobs" json:"jobs" toml:"jobs"`
	Generation GenerationConfig `yaml:"generation" json:"generation" toml:"generation"`
	Server     ServerConfig     `yaml:"server" json:"server" toml:"server"`
}

// IngestConfig configures chunking and source loading.
type IngestConfig struct {
	ChunkSize    int `yaml:"chunk_size" json:"chunk_size" toml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap" json:"chunk_overlap" toml:"chunk_overlap"`
	// Workers bounds how many documents are chunked and embedded concurrently.
	Workers int      `yaml:"workers" json:"workers" toml:"workers"`
	Include []string `yaml:"include" json:"include" toml:"include"`
	Exclude []string `yaml:"exclude" json:"exclude" toml:"exclude"`
	// WatchDebounce is how long file events are coalesced before re-ingesting.
	WatchDebounce string `yaml:"watch_debounce" json:"watch_debounce" toml:"watch_debounce"`
}

// SearchConfig configures hybrid retrieval.
type SearchConfig struct {
	TopK int `yaml:"top_k" json:"top_k" toml:"top_k"`
	// Alpha blends lexical (0) and vector (1) relevance.
	Alpha float64 `yaml:"alpha" json:"alpha" toml:"alpha"`
	// Fusion selects the blend formula: "relative" (default) or "rrf".
	Fusion      string `yaml:"fusion" json:"fusion" toml:"fusion"`
	RRFConstant int    `yaml:"rrf_constant" json:"rrf_constant" toml:"rrf_constant"`
	// CandidateMultiplier scales top_k into the per-signal candidate pool size.
	CandidateMultiplier int `yaml:"candidate_multiplier" json:"candidate_multiplier" toml:"candidate_multiplier"`
	MaxQueryChars       int `yaml:"max_query_chars" json:"max_query_chars" toml:"max_query_chars"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "ollama", "static" or empty for auto-detection (Ollama, then static).
	Provider      string `yaml:"provider" json:"provider" toml:"provider"`
	Model         string `yaml:"model" json:"model" toml:"model"`
	OllamaHost    string `yaml:"ollama_host" json:"ollama_host" toml:"ollama_host"`
	BatchSize     int    `yaml:"batch_size" json:"batch_size" toml:"batch_size"`
	Timeout       string `yaml:"timeout" json:"timeout" toml:"timeout"`
	MaxInputChars int    `yaml:"max_input_chars" json:"max_input_chars" toml:"max_input_chars"`
	// RequestsPerSecond paces calls to the embedding service. 0 disables pacing.
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second" toml:"requests_per_second"`
	CacheSize         int     `yaml:"cache_size" json:"cache_size" toml:"cache_size"`
}

// StoreConfig configures the index store.
type StoreConfig struct {
	DataDir string `yaml:"data_dir" json:"data_dir" toml:"data_dir"`
	// BM25Backend selects the lexical index: "sqlite" (FTS5, default) or "bleve".
	BM25Backend string `yaml:"bm25_backend" json:"bm25_backend" toml:"bm25_backend"`
	Timeout     string `yaml:"timeout" json:"timeout" toml:"timeout"`
}

// JobsConfig configures the asynchronous job manager.
type JobsConfig struct {
	Workers   int  `yaml:"workers" json:"workers" toml:"workers"`
	QueueSize int  `yaml:"queue_size" json:"queue_size" toml:"queue_size"`
	Durable   bool `yaml:"durable" json:"durable" toml:"durable"`
}

// GenerationConfig configures the downstream answer generator.
type GenerationConfig struct {
	// Provider is "extractive" (default, offline) or "ollama".
	Provider string `yaml:"provider" json:"provider" toml:"provider"`
	Model    string `yaml:"model" json:"model" toml:"model"`
	Timeout  string `yaml:"timeout" json:"timeout" toml:"timeout"`
}

// ServerConfig configures the HTTP server and logging.
type ServerConfig struct {
	Addr     string `yaml:"addr" json:"addr" toml:"addr"`
	LogLevel string `yaml:"log_level" json:"log_level" toml:"log_level"`
}

// defaultExcludePatterns are excluded from file loading unless overridden.
var defaultExcludePatterns = []string{
	"**/.git/**",
	"**/.ragcore/**",
	"**/node_modules/**",
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Ingest: IngestConfig{
			ChunkSize:     350,
			ChunkOverlap:  50,
			Workers:       runtime.NumCPU(),
			Include:       []string{"**/*.txt", "**/*.md", "**/*.json"},
			Exclude:       append([]string(nil), defaultExcludePatterns...),
			WatchDebounce: "500ms",
		},
		Search: SearchConfig{
			TopK:                5,
			Alpha:               0.5,
			Fusion:              "relative",
			RRFConstant:         60,
			CandidateMultiplier: 4,
			MaxQueryChars:       2000,
		},
		Embeddings: EmbeddingsConfig{
			Provider:      "",
			Model:         "nomic-embed-text",
			OllamaHost:    "",
			BatchSize:     32,
			Timeout:       "60s",
			MaxInputChars: 8192,
			CacheSize:     2048,
		},
		Store: StoreConfig{
			DataDir:     ".ragcore",
			BM25Backend: "sqlite",
			Timeout:     "10s",
		},
		Jobs: JobsConfig{
			Workers:   2,
			QueueSize: 16,
		},
		Generation: GenerationConfig{
			Provider: "extractive",
			Model:    "llama3.2",
			Timeout:  "120s",
		},
		Server: ServerConfig{
			Addr:     "127.0.0.1:8080",
			LogLevel: "info",
		},
	}
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows the XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/ragcore/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/ragcore/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "ragcore", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "ragcore", "config.yaml")
	}
	return filepath.Join(home, ".config", "ragcore", "config.yaml")
}

// projectConfigNames are checked in order; the first existing file wins.
var projectConfigNames = []string{".ragcore.yaml", ".ragcore.yml", ".ragcore.toml"}

// ProjectConfigPath returns the project config file in dir, or "" if none exists.
func ProjectConfigPath(dir string) string {
	for _, name := range projectConfigNames {
		p := filepath.Join(dir, name)
		if fileExists(p) {
			return p
		}
	}
	return ""
}

// Load loads configuration for the project rooted at dir.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/ragcore/config.yaml)
//  3. Project config (.ragcore.yaml, .ragcore.yml or .ragcore.toml in dir)
//  4. .env in dir (never overrides variables already set)
//  5. Environment variables (RAGCORE_*)
//
// A relative store.data_dir is resolved against dir.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userPath := GetUserConfigPath(); fileExists(userPath) {
		if err := cfg.loadFile(userPath); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	if projectPath := ProjectConfigPath(dir); projectPath != "" {
		if err := cfg.loadFile(projectPath); err != nil {
			return nil, err
		}
	}

	if envPath := filepath.Join(dir, ".env"); fileExists(envPath) {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", envPath, err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	if !filepath.IsAbs(cfg.Store.DataDir) {
		cfg.Store.DataDir = filepath.Join(dir, cfg.Store.DataDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFile decodes path on top of c. Only keys present in the file are
// changed, so explicit zero values (alpha: 0) are honoured.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if strings.HasSuffix(path, ".toml") {
		err = toml.Unmarshal(data, c)
	} else {
		err = yaml.Unmarshal(data, c)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// envOverride binds one RAGCORE_* variable to a config field.
type envOverride struct {
	name  string
	apply func(c *Config, v string) error
}

var envOverrides = []envOverride{
	{"RAGCORE_CHUNK_SIZE", func(c *Config, v string) error { return setInt(&c.Ingest.ChunkSize, v) }},
	{"RAGCORE_CHUNK_OVERLAP", func(c *Config, v string) error { return setInt(&c.Ingest.ChunkOverlap, v) }},
	{"RAGCORE_INGEST_WORKERS", func(c *Config, v string) error { return setInt(&c.Ingest.Workers, v) }},
	{"RAGCORE_TOP_K", func(c *Config, v string) error { return setInt(&c.Search.TopK, v) }},
	{"RAGCORE_ALPHA", func(c *Config, v string) error { return setFloat(&c.Search.Alpha, v) }},
	{"RAGCORE_FUSION", func(c *Config, v string) error { c.Search.Fusion = v; return nil }},
	{"RAGCORE_RRF_CONSTANT", func(c *Config, v string) error { return setInt(&c.Search.RRFConstant, v) }},
	{"RAGCORE_MAX_QUERY_CHARS", func(c *Config, v string) error { return setInt(&c.Search.MaxQueryChars, v) }},
	{"RAGCORE_EMBEDDER", func(c *Config, v string) error { c.Embeddings.Provider = v; return nil }},
	{"RAGCORE_EMBEDDINGS_MODEL", func(c *Config, v string) error { c.Embeddings.Model = v; return nil }},
	{"RAGCORE_OLLAMA_HOST", func(c *Config, v string) error { c.Embeddings.OllamaHost = v; return nil }},
	{"RAGCORE_EMBED_BATCH_SIZE", func(c *Config, v string) error { return setInt(&c.Embeddings.BatchSize, v) }},
	{"RAGCORE_DATA_DIR", func(c *Config, v string) error { c.Store.DataDir = v; return nil }},
	{"RAGCORE_BM25_BACKEND", func(c *Config, v string) error { c.Store.BM25Backend = v; return nil }},
	{"RAGCORE_JOB_WORKERS", func(c *Config, v string) error { return setInt(&c.Jobs.Workers, v) }},
	{"RAGCORE_JOB_QUEUE_SIZE", func(c *Config, v string) error { return setInt(&c.Jobs.QueueSize, v) }},
	{"RAGCORE_JOBS_DURABLE", func(c *Config, v string) error { return setBool(&c.Jobs.Durable, v) }},
	{"RAGCORE_GENERATOR", func(c *Config, v string) error { c.Generation.Provider = v; return nil }},
	{"RAGCORE_GENERATION_MODEL", func(c *Config, v string) error { c.Generation.Model = v; return nil }},
	{"RAGCORE_ADDR", func(c *Config, v string) error { c.Server.Addr = v; return nil }},
	{"RAGCORE_LOG_LEVEL", func(c *Config, v string) error { c.Server.LogLevel = v; return nil }},
}

// applyEnvOverrides applies RAGCORE_* environment variable overrides.
func (c *Config) applyEnvOverrides() error {
	for _, o := range envOverrides {
		v, ok := os.LookupEnv(o.name)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		if err := o.apply(c, strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("invalid %s=%q: %w", o.name, v, err)
		}
	}
	return nil
}

func setInt(dst *int, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

func setFloat(dst *float64, v string) error {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return err
	}
	*dst = f
	return nil
}

func setBool(dst *bool, v string) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return err
	}
	*dst = b
	return nil
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Ingest.ChunkSize <= 0 {
		return fmt.Errorf("ingest.chunk_size must be positive, got %d", c.Ingest.ChunkSize)
	}
	if c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("ingest.chunk_overlap must be in [0, chunk_size), got %d", c.Ingest.ChunkOverlap)
	}
	if c.Ingest.Workers <= 0 {
		return fmt.Errorf("ingest.workers must be positive, got %d", c.Ingest.Workers)
	}

	if c.Search.TopK <= 0 {
		return fmt.Errorf("search.top_k must be positive, got %d", c.Search.TopK)
	}
	if c.Search.Alpha < 0 || c.Search.Alpha > 1 {
		return fmt.Errorf("search.alpha must be between 0 and 1, got %f", c.Search.Alpha)
	}
	switch strings.ToLower(c.Search.Fusion) {
	case "relative", "rrf":
	default:
		return fmt.Errorf("search.fusion must be 'relative' or 'rrf', got %s", c.Search.Fusion)
	}
	if c.Search.RRFConstant <= 0 {
		return fmt.Errorf("search.rrf_constant must be positive, got %d", c.Search.RRFConstant)
	}
	if c.Search.CandidateMultiplier <= 0 {
		return fmt.Errorf("search.candidate_multiplier must be positive, got %d", c.Search.CandidateMultiplier)
	}
	if c.Search.MaxQueryChars <= 0 {
		return fmt.Errorf("search.max_query_chars must be positive, got %d", c.Search.MaxQueryChars)
	}

	switch strings.ToLower(c.Embeddings.Provider) {
	case "", "ollama", "static":
	default:
		return fmt.Errorf("embeddings.provider must be 'ollama', 'static', or empty (auto-detect), got %s", c.Embeddings.Provider)
	}
	if c.Embeddings.BatchSize <= 0 {
		return fmt.Errorf("embeddings.batch_size must be positive, got %d", c.Embeddings.BatchSize)
	}
	if c.Embeddings.RequestsPerSecond < 0 {
		return fmt.Errorf("embeddings.requests_per_second must be non-negative, got %f", c.Embeddings.RequestsPerSecond)
	}

	switch strings.ToLower(c.Store.BM25Backend) {
	case "sqlite", "bleve":
	default:
		return fmt.Errorf("store.bm25_backend must be 'sqlite' or 'bleve', got %s", c.Store.BM25Backend)
	}

	if c.Jobs.Workers <= 0 {
		return fmt.Errorf("jobs.workers must be positive, got %d", c.Jobs.Workers)
	}
	if c.Jobs.QueueSize < 0 {
		return fmt.Errorf("jobs.queue_size must be non-negative, got %d", c.Jobs.QueueSize)
	}

	switch strings.ToLower(c.Generation.Provider) {
	case "extractive", "ollama":
	default:
		return fmt.Errorf("generation.provider must be 'extractive' or 'ollama', got %s", c.Generation.Provider)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}

	durations := map[string]string{
		"ingest.watch_debounce": c.Ingest.WatchDebounce,
		"embeddings.timeout":    c.Embeddings.Timeout,
		"store.timeout":         c.Store.Timeout,
		"generation.timeout":    c.Generation.Timeout,
	}
	for name, v := range durations {
		if _, err := parseDuration(v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	return nil
}

// parseDuration parses a duration string; empty means zero (disabled).
func parseDuration(s string) (time.Duration, error) {
	if s == "" || s == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("duration must be non-negative, got %s", s)
	}
	return d, nil
}

// TimeoutDuration returns the per-call embedding timeout.
func (e EmbeddingsConfig) TimeoutDuration() time.Duration {
	d, _ := parseDuration(e.Timeout)
	return d
}

// TimeoutDuration returns the per-call store timeout.
func (s StoreConfig) TimeoutDuration() time.Duration {
	d, _ := parseDuration(s.Timeout)
	return d
}

// TimeoutDuration returns the generation timeout.
func (g GenerationConfig) TimeoutDuration() time.Duration {
	d, _ := parseDuration(g.Timeout)
	return d
}

// DebounceDuration returns the watcher debounce interval.
func (i IngestConfig) DebounceDuration() time.Duration {
	d, _ := parseDuration(i.WatchDebounce)
	return d
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
