package chunk

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"strconv"
)

// HashPrefixLen is the number of hex characters of the digest kept in a chunk ID.
const HashPrefixLen = 16

// ChunkID derives the deterministic identifier of a chunk:
//
//	"{documentID}_{sequenceIndex}_{hashPrefix}"
//
// where hashPrefix is the truncated SHA-256 of the length-prefixed tuple
// (documentID, sequenceIndex, content). Identical inputs always produce the
// same ID; any change to content at the same position produces a new one.
func ChunkID(documentID string, sequenceIndex int, content string) string {
	h := sha256.New()
	writeField(h, documentID)
	writeField(h, strconv.Itoa(sequenceIndex))
	writeField(h, content)
	sum := hex.EncodeToString(h.Sum(nil))
	return fmt.Sprintf("%s_%d_%s", documentID, sequenceIndex, sum[:HashPrefixLen])
}

// ContentHash returns the hex SHA-256 of content alone, used to collapse
// identical passages that appear under different documents.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func writeField(h hash.Hash, s string) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(s)))
	h.Write(n[:])
	h.Write([]byte(s))
}
