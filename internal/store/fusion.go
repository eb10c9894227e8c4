package store

import (
	"fmt"
	"sort"
)

// FusionMethod selects how lexical and vector candidates are blended.
type FusionMethod string

const (
	// FusionRelative min-max normalizes each candidate list and blends the
	// normalized scores linearly by alpha. This is the default.
	FusionRelative FusionMethod = "relative"

	// FusionRRF blends reciprocal ranks, weighted by alpha.
	FusionRRF FusionMethod = "rrf"
)

// DefaultRRFConstant is the standard RRF smoothing parameter.
const DefaultRRFConstant = 60

// ParseFusionMethod accepts "relative", "rrf" or "" (relative).
func ParseFusionMethod(s string) (FusionMethod, error) {
	switch FusionMethod(s) {
	case "", FusionRelative:
		return FusionRelative, nil
	case FusionRRF:
		return FusionRRF, nil
	default:
		return "", fmt.Errorf("unknown fusion method: %s (valid options: relative, rrf)", s)
	}
}

// FusedResult is one candidate after blending.
type FusedResult struct {
	ChunkID      string
	Score        float64 // Blended score, >= 0
	LexicalScore float64 // Raw BM25 score (0 if absent)
	LexicalRank  int     // 1-indexed, 0 if absent
	VectorScore  float64 // Raw similarity (0 if absent)
	VectorRank   int     // 1-indexed, 0 if absent
	InBothLists  bool
}

// Fuse blends lexical and vector candidates into one ranking.
//
// With FusionRelative each list is min-max normalized to [0,1] (a list whose
// scores are all equal normalizes to 1) and
//
//	score = alpha*vec + (1-alpha)*lex
//
// With FusionRRF
//
//	score = (1-alpha)/(k+rank_lex) + alpha/(k+rank_vec)
//
// In both, a signal missing for a chunk contributes 0. Results are sorted by
// score (desc), then presence in both lists, then chunk ID (asc).
func Fuse(method FusionMethod, lex []*BM25Result, vec []*VectorResult, alpha float64, k int) []*FusedResult {
	if len(lex) == 0 && len(vec) == 0 {
		return []*FusedResult{}
	}
	if k <= 0 {
		k = DefaultRRFConstant
	}

	results := make(map[string]*FusedResult, len(lex)+len(vec))
	get := func(id string) *FusedResult {
		if r, ok := results[id]; ok {
			return r
		}
		r := &FusedResult{ChunkID: id}
		results[id] = r
		return r
	}

	lexScores := make([]float64, len(lex))
	for i, r := range lex {
		lexScores[i] = r.Score
	}
	vecScores := make([]float64, len(vec))
	for i, r := range vec {
		vecScores[i] = float64(r.Score)
	}
	lexNorm := minMaxNormalize(lexScores)
	vecNorm := minMaxNormalize(vecScores)

	for i, r := range lex {
		res := get(r.DocID)
		if res.LexicalRank != 0 {
			continue
		}
		res.LexicalScore = r.Score
		res.LexicalRank = i + 1
		switch method {
		case FusionRRF:
			res.Score += (1 - alpha) / float64(k+i+1)
		default:
			res.Score += (1 - alpha) * lexNorm[i]
		}
	}

	for i, r := range vec {
		res := get(r.ID)
		if res.VectorRank != 0 {
			continue
		}
		res.VectorScore = float64(r.Score)
		res.VectorRank = i + 1
		res.InBothLists = res.LexicalRank > 0
		switch method {
		case FusionRRF:
			res.Score += alpha / float64(k+i+1)
		default:
			res.Score += alpha * vecNorm[i]
		}
	}

	out := make([]*FusedResult, 0, len(results))
	for _, r := range results {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return fusedBefore(out[i], out[j])
	})
	return out
}

// fusedBefore reports whether a ranks before b.
func fusedBefore(a, b *FusedResult) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.InBothLists != b.InBothLists {
		return a.InBothLists
	}
	return a.ChunkID < b.ChunkID
}

// minMaxNormalize maps scores onto [0,1]. Equal scores all map to 1.
func minMaxNormalize(scores []float64) []float64 {
	out := make([]float64, len(scores))
	if len(scores) == 0 {
		return out
	}

	lo, hi := scores[0], scores[0]
	for _, s := range scores[1:] {
		lo = min(lo, s)
		hi = max(hi, s)
	}

	for i, s := range scores {
		if hi == lo {
			out[i] = 1
			continue
		}
		out[i] = (s - lo) / (hi - lo)
	}
	return out
}
