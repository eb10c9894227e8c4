package preflight

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/ragcore/internal/async"
	"github.com/Aman-CERP/ragcore/internal/config"
	"github.com/Aman-CERP/ragcore/internal/pipeline"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Embeddings.Provider = "static"
	cfg.Store.DataDir = filepath.Join(t.TempDir(), ".ragcore")
	return cfg
}

// fakeOllama serves /api/tags with the given model names.
func fakeOllama(t *testing.T, models ...string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			http.NotFound(w, r)
			return
		}
		type model struct {
			Name string `json:"name"`
		}
		body := struct {
			Models []model `json:"models"`
		}{}
		for _, m := range models {
			body.Models = append(body.Models, model{Name: m})
		}
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

// unreachableHost returns the address of a server that has been shut down.
func unreachableHost(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	return url
}

func TestCheckStatus_String(t *testing.T) {
	tests := []struct {
		status CheckStatus
		want   string
	}{
		{StatusPass, "PASS"},
		{StatusWarn, "WARN"},
		{StatusFail, "FAIL"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.String())
		})
	}
}

func TestCheckResult_IsCritical(t *testing.T) {
	tests := []struct {
		name     string
		result   CheckResult
		expected bool
	}{
		{
			name:     "required pass is not critical",
			result:   CheckResult{Status: StatusPass, Required: true},
			expected: false,
		},
		{
			name:     "required fail is critical",
			result:   CheckResult{Status: StatusFail, Required: true},
			expected: true,
		},
		{
			name:     "optional fail is not critical",
			result:   CheckResult{Status: StatusFail, Required: false},
			expected: false,
		},
		{
			name:     "required warn is not critical",
			result:   CheckResult{Status: StatusWarn, Required: true},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.result.IsCritical())
		})
	}
}

func TestCheckResult_JSONStatusByName(t *testing.T) {
	data, err := json.Marshal(CheckResult{Name: "config", Status: StatusWarn})

	require.NoError(t, err)
	assert.Contains(t, string(data), `"status":"warn"`)
}

func TestChecker_SummaryStatus(t *testing.T) {
	checker := New(testConfig(t))

	tests := []struct {
		name    string
		results []CheckResult
		want    string
	}{
		{"all pass", []CheckResult{{Status: StatusPass, Required: true}}, "ready"},
		{"warning", []CheckResult{{Status: StatusPass}, {Status: StatusWarn}}, "ready_with_warnings"},
		{"optional failure", []CheckResult{{Status: StatusFail, Required: false}}, "ready_with_warnings"},
		{"critical failure", []CheckResult{{Status: StatusWarn}, {Status: StatusFail, Required: true}}, "failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, checker.SummaryStatus(tt.results))
			assert.Equal(t, tt.want == "failed", checker.HasCriticalFailures(tt.results))
		})
	}
}

func TestChecker_CheckWritePermissions_CreatesDataDir(t *testing.T) {
	// Given: a data directory that does not exist yet
	cfg := testConfig(t)
	checker := New(cfg)

	// When: checking write permissions
	result := checker.CheckWritePermissions(cfg.Store.DataDir)

	// Then: the directory is created and left empty
	assert.Equal(t, StatusPass, result.Status)
	entries, err := os.ReadDir(cfg.Store.DataDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestChecker_CheckWritePermissions_ReadOnly(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("root ignores directory permissions")
	}

	// Given: a read-only directory
	dir := t.TempDir()
	require.NoError(t, os.Chmod(dir, 0o555))
	t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })

	// When: checking write permissions
	result := New(testConfig(t)).CheckWritePermissions(dir)

	// Then: the check fails critically
	assert.Equal(t, StatusFail, result.Status)
	assert.True(t, result.IsCritical())
}

func TestChecker_CheckConfig_Invalid(t *testing.T) {
	cfg := testConfig(t)
	cfg.Search.Alpha = 2

	result := New(cfg).CheckConfig()

	assert.Equal(t, StatusFail, result.Status)
	assert.True(t, result.IsCritical())
}

func TestChecker_CheckIndexLock(t *testing.T) {
	// Given: a data directory held by an open registry
	cfg := testConfig(t)
	checker := New(cfg)
	assert.Equal(t, StatusPass, checker.CheckIndexLock(cfg.Store.DataDir).Status)

	registry := pipeline.NewRegistry(cfg)
	_, err := registry.Get(t.Context())
	require.NoError(t, err)

	// When: checking the lock
	result := checker.CheckIndexLock(cfg.Store.DataDir)

	// Then: it warns without failing
	assert.Equal(t, StatusWarn, result.Status)
	assert.False(t, result.IsCritical())

	// And: the lock is free again once the registry closes
	require.NoError(t, registry.Close())
	assert.Equal(t, StatusPass, checker.CheckIndexLock(cfg.Store.DataDir).Status)
}

func TestChecker_CheckIngestState(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(cfg.Store.DataDir, 0o755))
	checker := New(cfg)

	assert.Equal(t, StatusPass, checker.CheckIngestState(cfg.Store.DataDir).Status)

	marker := filepath.Join(cfg.Store.DataDir, async.MarkerFileName)
	require.NoError(t, os.WriteFile(marker, []byte("{}"), 0o644))
	assert.Equal(t, StatusWarn, checker.CheckIngestState(cfg.Store.DataDir).Status)
}

func TestChecker_CheckEmbedder(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		host     func(t *testing.T) string
		want     CheckStatus
		critical bool
	}{
		{"static", "static", func(t *testing.T) string { return "" }, StatusPass, false},
		{"ollama with model", "ollama", func(t *testing.T) string { return fakeOllama(t, "nomic-embed-text:latest") }, StatusPass, false},
		{"ollama missing model", "ollama", func(t *testing.T) string { return fakeOllama(t, "llama3.2") }, StatusFail, true},
		{"ollama unreachable", "ollama", unreachableHost, StatusFail, true},
		{"auto unreachable", "", unreachableHost, StatusWarn, false},
		{"unknown provider", "openai", func(t *testing.T) string { return "" }, StatusFail, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.Embeddings.Provider = tt.provider
			cfg.Embeddings.Model = "nomic-embed-text"
			cfg.Embeddings.OllamaHost = tt.host(t)

			result := New(cfg, WithProbeTimeout(time.Second)).CheckEmbedder(t.Context())

			assert.Equal(t, tt.want, result.Status, result.Message)
			assert.Equal(t, tt.critical, result.IsCritical())
		})
	}
}

func TestChecker_CheckGenerator(t *testing.T) {
	cfg := testConfig(t)
	checker := New(cfg, WithProbeTimeout(time.Second))

	assert.Equal(t, StatusPass, checker.CheckGenerator(t.Context()).Status)

	cfg.Generation.Provider = "ollama"
	cfg.Generation.Model = "llama3.2"
	cfg.Embeddings.OllamaHost = fakeOllama(t, "llama3.2:latest")
	assert.Equal(t, StatusPass, checker.CheckGenerator(t.Context()).Status)

	cfg.Embeddings.OllamaHost = unreachableHost(t)
	result := checker.CheckGenerator(t.Context())
	assert.Equal(t, StatusFail, result.Status)
	assert.False(t, result.IsCritical())
}

func TestChecker_RunAll_ReturnsAllChecks(t *testing.T) {
	// Given: an offline configuration
	cfg := testConfig(t)

	// When: running every check
	results := New(cfg).RunAll(t.Context())

	// Then: every check is present and none fails critically
	names := make([]string, len(results))
	for i, r := range results {
		names[i] = r.Name
	}
	assert.Equal(t, []string{
		"config", "data_dir", "disk_space", "file_descriptors",
		"index_lock", "ingest_state", "embedder", "generator",
	}, names)
	assert.False(t, New(cfg).HasCriticalFailures(results))
}

func TestChecker_PrintResults(t *testing.T) {
	// Given: one passing and one failing check
	buf := &bytes.Buffer{}
	checker := New(testConfig(t), WithOutput(buf), WithVerbose(true))
	results := []CheckResult{
		{Name: "config", Status: StatusPass, Message: "OK", Required: true},
		{Name: "disk_space", Status: StatusFail, Message: "10 MB free", Details: "free space", Required: true},
		{Name: "embedder", Status: StatusWarn, Message: "Ollama unreachable"},
	}

	// When: printing
	checker.PrintResults(results)

	// Then: each check, its details and the summary appear
	out := buf.String()
	assert.Contains(t, out, "ragcore system check")
	assert.Contains(t, out, "[PASS] config: OK")
	assert.Contains(t, out, "[FAIL] disk_space: 10 MB free")
	assert.Contains(t, out, "      free space")
	assert.Contains(t, out, "Status: FAILED")
	assert.Contains(t, out, "1 error(s):")
	assert.Contains(t, out, "1 warning(s):")
}
