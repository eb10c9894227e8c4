package preflight

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Aman-CERP/ragcore/internal/embed"
	"github.com/Aman-CERP/ragcore/internal/generate"
)

// CheckEmbedder checks that the configured embedding provider can serve the
// configured model. An automatic provider only warns: it falls back to
// static embeddings when Ollama is unreachable.
func (c *Checker) CheckEmbedder(ctx context.Context) CheckResult {
	result := CheckResult{Name: "embedder"}

	provider, err := embed.ParseProvider(c.cfg.Embeddings.Provider)
	if err != nil {
		result.Required = true
		result.Status = StatusFail
		result.Message = err.Error()
		return result
	}
	if provider == embed.ProviderStatic {
		result.Status = StatusPass
		result.Message = "static embeddings (offline)"
		return result
	}

	result.Required = provider == embed.ProviderOllama
	host := orDefault(c.cfg.Embeddings.OllamaHost, embed.DefaultOllamaHost)
	model := orDefault(c.cfg.Embeddings.Model, embed.DefaultOllamaModel)
	return c.checkOllamaModel(ctx, result, host, model, provider == embed.ProviderAuto)
}

// CheckGenerator checks that the configured answer generator is usable.
func (c *Checker) CheckGenerator(ctx context.Context) CheckResult {
	result := CheckResult{Name: "generator"}

	switch generate.Provider(strings.ToLower(strings.TrimSpace(c.cfg.Generation.Provider))) {
	case "", generate.ProviderExtractive:
		result.Status = StatusPass
		result.Message = "extractive answers (offline)"
		return result
	case generate.ProviderOllama:
		host := orDefault(c.cfg.Embeddings.OllamaHost, generate.DefaultOllamaHost)
		model := orDefault(c.cfg.Generation.Model, generate.DefaultModel)
		return c.checkOllamaModel(ctx, result, host, model, false)
	default:
		result.Required = true
		result.Status = StatusFail
		result.Message = fmt.Sprintf("unknown generation provider %q", c.cfg.Generation.Provider)
		return result
	}
}

// checkOllamaModel fills result from Ollama's model list. With soft set an
// unreachable server or a missing model is only a warning.
func (c *Checker) checkOllamaModel(ctx context.Context, result CheckResult, host, model string, soft bool) CheckResult {
	failStatus := StatusFail
	if soft {
		failStatus = StatusWarn
	}

	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	models, err := listOllamaModels(ctx, host)
	if err != nil {
		result.Status = failStatus
		result.Message = fmt.Sprintf("Ollama unreachable at %s", host)
		result.Details = err.Error()
		if soft {
			result.Message += "; static embeddings will be used"
		}
		return result
	}

	if !hasModel(models, model) {
		result.Status = failStatus
		result.Message = fmt.Sprintf("model %s not pulled", model)
		result.Details = fmt.Sprintf("Run 'ollama pull %s'", model)
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%s via %s", model, host)
	return result
}

// listOllamaModels returns the model names reported by /api/tags.
func listOllamaModels(ctx context.Context, host string) ([]string, error) {
	host = strings.TrimRight(host, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, host+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Ollama: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	models := make([]string, len(result.Models))
	for i, m := range result.Models {
		models[i] = m.Name
	}
	return models, nil
}

// hasModel matches model against names from Ollama, where an untagged
// name means ":latest".
func hasModel(models []string, model string) bool {
	want := strings.ToLower(model)
	if !strings.Contains(want, ":") {
		want += ":latest"
	}
	for _, m := range models {
		got := strings.ToLower(m)
		if !strings.Contains(got, ":") {
			got += ":latest"
		}
		if got == want {
			return true
		}
	}
	return false
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
