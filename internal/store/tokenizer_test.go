package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize_SplitsOnDelimiters(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		minLen int
		expect []string
	}{
		{"whitespace", "hello world", 1, []string{"hello", "world"}},
		{"punctuation", "attention, (self) attention!", 1, []string{"attention", "self", "attention"}},
		{"hyphens", "state-of-the-art", 1, []string{"state", "of", "the", "art"}},
		{"identifiers", "arXiv:1706.03762", 1, []string{"arxiv", "1706", "03762"}},
		{"min length", "a bc def", 2, []string{"bc", "def"}},
		{"unicode", "Ümlaut naïve", 1, []string{"ümlaut", "naïve"}},
		{"empty", "  ", 1, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, Tokenize(tt.input, tt.minLen))
		})
	}
}

func TestFilterStopWords(t *testing.T) {
	stop := BuildStopWordMap([]string{"The", "of"})

	got := FilterStopWords([]string{"the", "art", "of", "war"}, stop)

	assert.Equal(t, []string{"art", "war"}, got)
}

func TestAnalyze_AppliesDefaults(t *testing.T) {
	cfg := DefaultBM25Config()

	got := analyze("The Transformer is a model of attention", cfg, BuildStopWordMap(cfg.StopWords))

	assert.Equal(t, []string{"transformer", "model", "attention"}, got)
}
