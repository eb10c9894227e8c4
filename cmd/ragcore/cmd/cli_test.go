package cmd

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/ragcore/internal/errors"
	"github.com/Aman-CERP/ragcore/internal/index"
	"github.com/Aman-CERP/ragcore/internal/jobs"
	"github.com/Aman-CERP/ragcore/internal/search"
	"github.com/Aman-CERP/ragcore/internal/ui"
)

func TestCLI_IngestQueryAskDeleteReset(t *testing.T) {
	// Given: a project with two documents
	dir := testProject(t)
	seedProject(t, dir)

	// When: ingesting the project
	out, err := execute(t, "--dir", dir, "ingest", "--plain")

	// Then: both documents are reported
	require.NoError(t, err)
	assert.Contains(t, out, "Complete: 2 documents")

	// When: querying with keyword-only relevance
	out, err = execute(t, "--dir", dir, "query", "--alpha", "0", "--json", "minibatches")

	// Then: the matching document ranks first
	require.NoError(t, err)
	var result search.Result
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	require.NotEmpty(t, result.Hits)
	assert.Equal(t, "optim.txt", result.Hits[0].Chunk.DocumentID)
	assert.Equal(t, 1, result.Hits[0].Rank)

	// When: reading statistics
	out, err = execute(t, "--dir", dir, "stats", "--json")

	// Then: both chunks are counted
	require.NoError(t, err)
	var info ui.StatusInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, 2, info.Chunks)
	assert.Equal(t, 2, info.Documents)

	// When: asking a question
	out, err = execute(t, "--dir", dir, "ask", "--alpha", "0", "--topic", "NLP", "--json", "self-attention")

	// Then: the answer cites the attention notes
	require.NoError(t, err)
	var asked jobs.Result
	require.NoError(t, json.Unmarshal([]byte(out), &asked))
	require.NotNil(t, asked.Answer)
	require.NotEmpty(t, asked.Answer.Sources)
	assert.Equal(t, "notes/attn.md", asked.Answer.Sources[0].DocumentID)
	assert.NotEmpty(t, asked.Answer.Text)

	// When: deleting one document and one unknown ID
	out, err = execute(t, "--dir", dir, "delete", "optim.txt")
	require.NoError(t, err)
	assert.Contains(t, out, "optim.txt: removed 1 chunk(s)")

	_, err = execute(t, "--dir", dir, "delete", "missing.txt")

	// Then: the unknown ID is reported as not found
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeNotFound, errors.GetCode(err))

	// When: resetting without confirmation
	_, err = execute(t, "--dir", dir, "reset")

	// Then: nothing is removed
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetCode(err))

	out, err = execute(t, "--dir", dir, "reset", "--force")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed 1 chunk(s)")

	// Then: statistics on the empty index are not found
	_, err = execute(t, "--dir", dir, "stats")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeNotFound, errors.GetCode(err))
}

func TestCLI_IngestJSONFile(t *testing.T) {
	// Given: a JSON file holding two documents
	dir := testProject(t)
	writeFile(t, dir, "corpus.json", `[
  {"source_id": "a", "text": "Gradient clipping bounds the update norm."},
  {"source_id": "b", "text": "Dropout randomly zeroes activations during training."}
]`)

	// When: ingesting the file with a JSON report
	out, err := execute(t, "--dir", dir, "ingest", "--json", filepath.Join(dir, "corpus.json"))

	// Then: both documents become chunks
	require.NoError(t, err)
	var report index.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 2, report.DocumentsLoaded)
	assert.Equal(t, 2, report.ChunksIngested)

	// When: ingesting the same file again
	out, err = execute(t, "--dir", dir, "ingest", "--json", filepath.Join(dir, "corpus.json"))

	// Then: every chunk is already present
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 0, report.ChunksIngested)
	assert.Equal(t, 2, report.ChunksSkipped)
}

func TestCLI_IngestMissingPath(t *testing.T) {
	dir := testProject(t)

	_, err := execute(t, "--dir", dir, "ingest", filepath.Join(dir, "nope"))

	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeFileNotFound, errors.GetCode(err))
}

func TestCLI_QueryRejectsInvalidAlpha(t *testing.T) {
	dir := testProject(t)
	seedProject(t, dir)

	_, err := execute(t, "--dir", dir, "query", "--alpha", "1.5", "gradient")

	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetCode(err))
}

func TestCLI_DoctorJSON(t *testing.T) {
	// Given: an offline project
	dir := testProject(t)

	// When: running diagnostics as JSON
	out, err := execute(t, "--dir", dir, "doctor", "--json")

	// Then: every check is reported and none is critical
	require.NoError(t, err)
	var report struct {
		Status string `json:"status"`
		Checks []struct {
			Name   string `json:"name"`
			Status string `json:"status"`
		} `json:"checks"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.NotEqual(t, "failed", report.Status)
	assert.Len(t, report.Checks, 8)
	assert.Equal(t, "embedder", report.Checks[6].Name)
	assert.Equal(t, "pass", report.Checks[6].Status)
}
