package search

import (
	"slices"
	"strings"

	"github.com/Aman-CERP/ragcore/internal/chunk"
)

// FilterFunc checks if a hit matches filter criteria.
type FilterFunc func(hit *Hit) bool

// hasFilters reports whether req restricts hits beyond ranking.
func hasFilters(req Request) bool {
	return len(req.Documents) > 0 || len(req.Categories) > 0 || len(req.Sources) > 0
}

// ApplyFilters keeps the hits matching every filter in req (AND across
// filters, OR within one). Ranks are not renumbered.
func ApplyFilters(hits []Hit, req Request) []Hit {
	filters := buildFilters(req)
	if len(filters) == 0 {
		return hits
	}

	filtered := make([]Hit, 0, len(hits))
	for i := range hits {
		if matchesAllFilters(&hits[i], filters) {
			filtered = append(filtered, hits[i])
		}
	}
	return filtered
}

func buildFilters(req Request) []FilterFunc {
	var filters []FilterFunc
	if len(req.Documents) > 0 {
		filters = append(filters, documentFilter(req.Documents))
	}
	if len(req.Categories) > 0 {
		filters = append(filters, categoryFilter(req.Categories))
	}
	if len(req.Sources) > 0 {
		filters = append(filters, sourceFilter(req.Sources))
	}
	return filters
}

func matchesAllFilters(hit *Hit, filters []FilterFunc) bool {
	for _, f := range filters {
		if !f(hit) {
			return false
		}
	}
	return true
}

func documentFilter(ids []string) FilterFunc {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return func(h *Hit) bool {
		_, ok := set[h.Chunk.DocumentID]
		return ok
	}
}

func categoryFilter(categories []string) FilterFunc {
	return func(h *Hit) bool {
		for _, c := range h.Chunk.Metadata.Categories {
			if slices.ContainsFunc(categories, func(want string) bool {
				return strings.EqualFold(want, c)
			}) {
				return true
			}
		}
		return false
	}
}

// NormalizeSource strips leading and trailing slashes so prefixes compare
// consistently.
func NormalizeSource(source string) string {
	return strings.Trim(source, "/")
}

// sourceFilter matches on directory boundaries: "papers/nlp" matches
// "papers/nlp/bert.json" but not "papers/nlp-old/x.txt".
func sourceFilter(prefixes []string) FilterFunc {
	normalized := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		if n := NormalizeSource(p); n != "" {
			normalized = append(normalized, n+"/")
		}
	}
	if len(normalized) == 0 {
		return func(*Hit) bool { return true }
	}

	return func(h *Hit) bool {
		source := NormalizeSource(h.Chunk.Metadata.Source) + "/"
		for _, prefix := range normalized {
			if strings.HasPrefix(source, prefix) {
				return true
			}
		}
		return false
	}
}

// Deduplicate drops hits whose content repeats an earlier (better ranked)
// hit's content, and returns the kept hits and how many were dropped.
func Deduplicate(hits []Hit) ([]Hit, int) {
	seen := make(map[string]struct{}, len(hits))
	kept := make([]Hit, 0, len(hits))
	for _, h := range hits {
		key := chunk.ContentHash(strings.TrimSpace(h.Chunk.Content))
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		kept = append(kept, h)
	}
	return kept, len(hits) - len(kept)
}
