package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"login", "login", 1.0},
		{"", "login", 0.0},
		{"login", "", 0.0},
		{"login", "logim", 0.8},
		{"cart", "chart", 0.8},
	}
	for _, tc := range tests {
		assert.InDelta(t, tc.want, similarity(tc.a, tc.b), 1e-9, "%s vs %s", tc.a, tc.b)
	}

	// Near-miss typos clear the fuzzy cutoff, unrelated words do not.
	assert.Greater(t, similarity("signin", "signup"), 0.6)
	assert.Less(t, similarity("login", "terms"), fuzzyCutoff)
}

func TestLevenshtein(t *testing.T) {
	assert.Equal(t, 0, levenshtein("abc", "abc"))
	assert.Equal(t, 3, levenshtein("", "abc"))
	assert.Equal(t, 1, levenshtein("kitten", "mitten"))
	assert.Equal(t, 3, levenshtein("kitten", "sitting"))
}
