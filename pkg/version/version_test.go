package version

import (
	"encoding/json"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet_ReportsRuntime(t *testing.T) {
	info := Get()

	assert.NotEmpty(t, info.Version)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)
}

func TestGet_PrefersLinkerValues(t *testing.T) {
	// Given: values injected at link time
	oldV, oldC, oldD := Version, Commit, Date
	t.Cleanup(func() { Version, Commit, Date = oldV, oldC, oldD })
	Version, Commit, Date = "1.2.3", "abc1234", "2026-01-02T03:04:05Z"

	// When: reading build info
	info := Get()

	// Then: they are not overridden by the embedded module info
	assert.Equal(t, "1.2.3", info.Version)
	assert.Equal(t, "abc1234", info.Commit)
	assert.Equal(t, "2026-01-02T03:04:05Z", info.Date)
	assert.Contains(t, info.String(), "ragcore 1.2.3 (commit: abc1234")
}

func TestInfo_JSON(t *testing.T) {
	data, err := json.Marshal(Get())
	require.NoError(t, err)

	var parsed map[string]string
	require.NoError(t, json.Unmarshal(data, &parsed))
	for _, key := range []string{"version", "commit", "date", "go_version", "platform"} {
		assert.Contains(t, parsed, key)
	}
}
