package store

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Tokenize lowercases text and splits it into runs of letters and digits,
// dropping tokens shorter than minLen runes. Hyphenated and dotted terms
// ("state-of-the-art", "1706.03762") are split at the punctuation.
func Tokenize(text string, minLen int) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tokens := fields[:0]
	for _, f := range fields {
		if utf8.RuneCountInString(f) >= minLen {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// FilterStopWords removes stop words from a token list.
func FilterStopWords(tokens []string, stopWords map[string]struct{}) []string {
	result := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, isStop := stopWords[strings.ToLower(token)]; !isStop {
			result = append(result, token)
		}
	}
	return result
}

// BuildStopWordMap converts a slice of stop words to a map for efficient lookup.
func BuildStopWordMap(stopWords []string) map[string]struct{} {
	m := make(map[string]struct{}, len(stopWords))
	for _, word := range stopWords {
		m[strings.ToLower(word)] = struct{}{}
	}
	return m
}

// analyze applies the shared tokenization used for indexing and querying.
func analyze(text string, cfg BM25Config, stopWords map[string]struct{}) []string {
	minLen := cfg.MinTokenLength
	if minLen <= 0 {
		minLen = 1
	}
	return FilterStopWords(Tokenize(text, minLen), stopWords)
}
