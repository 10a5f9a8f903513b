package normalizers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePhone(t *testing.T) {
	t.Run("should strip formatting", func(t *testing.T) {
		assert.Equal(t, "5035551234", NormalizePhone("(503) 555-1234"))
	})

	t.Run("should strip leading country code", func(t *testing.T) {
		assert.Equal(t, "5035551234", NormalizePhone("+1 503 555 1234"))
	})

	t.Run("should keep 11 digit numbers without leading 1", func(t *testing.T) {
		assert.Equal(t, "25035551234", NormalizePhone("2-503-555-1234"))
	})

	t.Run("should reject short numbers", func(t *testing.T) {
		assert.Equal(t, "", NormalizePhone("555-1234"))
		assert.Equal(t, "", NormalizePhone(""))
	})
}

func TestNormalizeEmail(t *testing.T) {
	t.Run("should lowercase and trim", func(t *testing.T) {
		assert.Equal(t, "jane.doe@example.com", NormalizeEmail("  Jane.Doe@Example.COM "))
	})

	t.Run("should reject values without an at sign", func(t *testing.T) {
		assert.Equal(t, "", NormalizeEmail("not-an-email"))
		assert.Equal(t, "", NormalizeEmail("@example.com"))
		assert.Equal(t, "", NormalizeEmail("jane@"))
	})
}

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"lowercases", "Jane Doe", "jane doe"},
		{"strips suffix", "John Smith Jr.", "john smith"},
		{"strips punctuation", "O'Brien, Mary-Anne", "o brien mary anne"},
		{"collapses whitespace", "  Jane   Doe  ", "jane doe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeName(tt.input))
		})
	}
}

func TestNameTokens(t *testing.T) {
	t.Run("should sort and dedupe tokens", func(t *testing.T) {
		assert.Equal(t, []string{"doe", "jane"}, NameTokens("Jane Doe"))
		assert.Equal(t, []string{"doe", "jane"}, NameTokens("Doe Jane Doe"))
	})

	t.Run("should drop initials", func(t *testing.T) {
		assert.Equal(t, []string{"doe", "jane"}, NameTokens("Jane Q Doe"))
	})

	t.Run("should return nil for empty input", func(t *testing.T) {
		assert.Nil(t, NameTokens(""))
	})
}

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"abbreviates street types", "123 Main Street", "123 main st"},
		{"abbreviates directions", "500 North Oak Avenue", "500 n oak ave"},
		{"strips punctuation", "123 Main St., Apt. 4", "123 main st apt 4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeAddress(tt.input))
		})
	}
}

func TestGeoBucket(t *testing.T) {
	t.Run("should bucket nearby points together", func(t *testing.T) {
		assert.Equal(t, GeoBucket(45.5231, -122.6765), GeoBucket(45.5239, -122.6761))
	})

	t.Run("should separate distant points", func(t *testing.T) {
		assert.NotEqual(t, GeoBucket(45.5231, -122.6765), GeoBucket(45.6231, -122.6765))
	})

	t.Run("should include own bucket in neighbors", func(t *testing.T) {
		neighbors := GeoBucketNeighbors(45.5231, -122.6765)
		assert.Len(t, neighbors, 9)
		assert.Contains(t, neighbors, GeoBucket(45.5231, -122.6765))
	})
}

func TestApplyChain(t *testing.T) {
	t.Run("should apply normalizers in order", func(t *testing.T) {
		assert.Equal(t, "5035551234", ApplyChain(" (503) 555-1234 ", "trim", "nphone"))
	})

	t.Run("should skip unknown normalizers", func(t *testing.T) {
		assert.Equal(t, "abc", ApplyChain("ABC", "lowercase", "nope"))
	})
}
