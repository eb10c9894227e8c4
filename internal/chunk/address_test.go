package chunk

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunkID_Format(t *testing.T) {
	id := ChunkID("arxiv-1706.03762", 2, "some content")

	assert.Regexp(t, regexp.MustCompile(`^arxiv-1706\.03762_2_[0-9a-f]{16}$`), id)
}

func TestChunkID_Deterministic(t *testing.T) {
	assert.Equal(t, ChunkID("doc", 0, "abc"), ChunkID("doc", 0, "abc"))
}

func TestChunkID_SensitiveToEveryField(t *testing.T) {
	base := ChunkID("doc", 0, "abc")

	assert.NotEqual(t, base, ChunkID("doc2", 0, "abc"))
	assert.NotEqual(t, base, ChunkID("doc", 1, "abc"))
	assert.NotEqual(t, base, ChunkID("doc", 0, "abd"))
}

func TestChunkID_FieldBoundariesDoNotCollide(t *testing.T) {
	// Given: tuples whose naive concatenation is identical
	a := ChunkID("ab", 1, "c")
	b := ChunkID("a", 1, "bc")

	// Then: the hash prefixes differ
	assert.NotEqual(t, a[len(a)-HashPrefixLen:], b[len(b)-HashPrefixLen:])
}

func TestContentHash(t *testing.T) {
	assert.Equal(t, ContentHash("same"), ContentHash("same"))
	assert.NotEqual(t, ContentHash("same"), ContentHash("different"))
	assert.Len(t, ContentHash("x"), 64)
}
