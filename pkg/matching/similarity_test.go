package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJaroWinkler(t *testing.T) {
	t.Run("should return 1 for identical strings", func(t *testing.T) {
		assert.Equal(t, 1.0, JaroWinkler("martha", "martha"))
	})

	t.Run("should return 0 for empty input", func(t *testing.T) {
		assert.Equal(t, 0.0, JaroWinkler("martha", ""))
	})

	t.Run("should score transposed strings high", func(t *testing.T) {
		assert.InDelta(t, 0.961, JaroWinkler("martha", "marhta"), 0.01)
	})

	t.Run("should boost common prefixes", func(t *testing.T) {
		assert.Greater(t, JaroWinkler("dixon", "dickson"), Jaro("dixon", "dickson"))
	})

	t.Run("should score unrelated strings low", func(t *testing.T) {
		assert.Less(t, JaroWinkler("jones", "smith"), 0.5)
	})
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		name     string
		a, b     string
		distance int
	}{
		{"identical", "kitten", "kitten", 0},
		{"single substitution", "kitten", "mitten", 1},
		{"classic", "kitten", "sitting", 3},
		{"empty right", "abc", "", 3},
		{"empty left", "", "abc", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.distance, LevenshteinDistance(tt.a, tt.b))
		})
	}

	t.Run("similarity should scale by longest string", func(t *testing.T) {
		assert.InDelta(t, 1.0-3.0/7.0, Levenshtein("kitten", "sitting"), 0.001)
	})
}

func TestTokenSetSimilarity(t *testing.T) {
	t.Run("should return 1 for identical sets", func(t *testing.T) {
		assert.Equal(t, 1.0, TokenSetSimilarity([]string{"doe", "jane"}, []string{"doe", "jane"}))
	})

	t.Run("should ignore token order", func(t *testing.T) {
		forward := TokenSetSimilarity([]string{"jane", "doe"}, []string{"doe", "jane"})
		assert.Equal(t, 1.0, forward)
	})

	t.Run("should tolerate a misspelled token", func(t *testing.T) {
		sim := TokenSetSimilarity([]string{"doe", "jane"}, []string{"doe", "jayne"})
		assert.Greater(t, sim, 0.9)
		assert.Less(t, sim, 1.0)
	})

	t.Run("should score unrelated names near zero", func(t *testing.T) {
		assert.Less(t, TokenSetSimilarity([]string{"robert", "jones"}, []string{"maria", "garcia"}), 0.2)
	})

	t.Run("should return 0 for empty sets", func(t *testing.T) {
		assert.Equal(t, 0.0, TokenSetSimilarity(nil, []string{"doe"}))
	})

	t.Run("should not double count a matched token", func(t *testing.T) {
		sim := TokenSetSimilarity([]string{"ana", "ana"}, []string{"ana", "lopez"})
		assert.InDelta(t, 0.5, sim, 0.1)
	})
}
