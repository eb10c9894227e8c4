package profiling

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptions_Enabled(t *testing.T) {
	assert.False(t, Options{}.Enabled())
	assert.True(t, Options{Heap: "heap.prof"}.Enabled())
}

func TestSession_WritesRequestedProfiles(t *testing.T) {
	// Given: every profile requested
	dir := t.TempDir()
	opts := Options{
		CPU:   filepath.Join(dir, "cpu.prof"),
		Heap:  filepath.Join(dir, "heap.prof"),
		Trace: filepath.Join(dir, "trace.out"),
	}

	// When: running some work between Start and Stop
	s, err := Start(opts)
	require.NoError(t, err)
	sum := 0
	for i := range 100000 {
		sum += i
	}
	assert.Positive(t, sum)
	require.NoError(t, s.Stop())

	// Then: each file exists and is not empty
	for _, path := range []string{opts.CPU, opts.Heap, opts.Trace} {
		info, err := os.Stat(path)
		require.NoError(t, err, path)
		assert.Positive(t, info.Size(), path)
	}

	// And: stopping again is a no-op
	assert.NoError(t, s.Stop())
}

func TestStart_BadPathLeavesNothingRunning(t *testing.T) {
	// Given: a CPU profile path and an unwritable trace path
	dir := t.TempDir()
	cpu := filepath.Join(dir, "cpu.prof")

	// When: starting
	_, err := Start(Options{CPU: cpu, Trace: filepath.Join(dir, "missing", "trace.out")})

	// Then: start fails and the CPU profiler can be started again
	require.Error(t, err)
	s, err := Start(Options{CPU: cpu})
	require.NoError(t, err)
	require.NoError(t, s.Stop())
}

func TestSession_NilStop(t *testing.T) {
	var s *Session
	assert.NoError(t, s.Stop())
}
