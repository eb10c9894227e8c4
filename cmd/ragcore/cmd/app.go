package cmd

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/Aman-CERP/ragcore/internal/config"
	"github.com/Aman-CERP/ragcore/internal/generate"
	"github.com/Aman-CERP/ragcore/internal/jobs"
	"github.com/Aman-CERP/ragcore/internal/pipeline"
	"github.com/Aman-CERP/ragcore/internal/telemetry"
)

// jobsFileName is the bbolt job database inside the data directory.
const jobsFileName = "jobs.db"

// projectDir returns the absolute project directory.
func (o *rootOptions) projectDir() (string, error) {
	return filepath.Abs(o.dir)
}

// loadConfig loads the layered configuration for the project directory.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	dir, err := o.projectDir()
	if err != nil {
		return nil, err
	}
	return config.Load(dir)
}

// app is an opened index: configuration, registry and the built pipeline.
type app struct {
	cfg      *config.Config
	registry *pipeline.Registry
	pipe     *pipeline.Pipeline
}

// open loads the configuration and builds the pipeline, taking the data
// directory lock. Close releases it.
func (o *rootOptions) open(ctx context.Context, opts ...pipeline.Option) (*app, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	registry := pipeline.NewRegistry(cfg, opts...)
	p, err := registry.Get(ctx)
	if err != nil {
		_ = registry.Close()
		return nil, err
	}
	return &app{cfg: cfg, registry: registry, pipe: p}, nil
}

// Close releases the pipeline and the data directory lock.
func (a *app) Close() error {
	return a.registry.Close()
}

// newJobManager builds the job manager for cfg, answering with the
// configured generator over registry's retriever.
func newJobManager(cfg *config.Config, registry *pipeline.Registry, metrics *telemetry.Metrics) (*jobs.Manager, error) {
	gen, err := generate.New(cfg.Generation, cfg.Embeddings.OllamaHost)
	if err != nil {
		return nil, err
	}

	jc := jobs.DefaultConfig()
	jc.Workers = cfg.Jobs.Workers
	jc.QueueSize = cfg.Jobs.QueueSize
	jc.DefaultTopK = cfg.Search.TopK
	jc.DefaultAlpha = cfg.Search.Alpha

	opts := []jobs.Option{jobs.WithMetrics(metrics)}
	if cfg.Jobs.Durable {
		if err := os.MkdirAll(cfg.Store.DataDir, 0o755); err != nil {
			return nil, err
		}
		st, err := jobs.NewBoltStore(filepath.Join(cfg.Store.DataDir, jobsFileName))
		if err != nil {
			return nil, err
		}
		opts = append(opts, jobs.WithStore(st))
	}

	return jobs.NewManager(jc, jobs.QueryAndGenerate(registry.Querier(), gen), opts...)
}

// writeJSON writes v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
