package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// testProject isolates the user config, log directory and embedder, and
// returns an empty project directory.
func testProject(t *testing.T) string {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("RAGCORE_EMBEDDER", "static")
	return t.TempDir()
}

// execute runs the root command with args and returns everything it printed.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(t.Context())
	return buf.String(), err
}

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	full := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

// seedProject writes two small text documents into dir.
func seedProject(t *testing.T, dir string) {
	t.Helper()
	writeFile(t, dir, "optim.txt", "Stochastic gradient descent updates weights using minibatches of training data.")
	writeFile(t, dir, "notes/attn.md", "Transformers rely on self-attention to relate tokens across a sequence.")
}
