package nameclass

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fieldhaven/atlas/pkg/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected models.NameClass
	}{
		{"ordinary person name", "Jane Doe", models.NameClassPerson},
		{"name with suffix", "John Smith Jr.", models.NameClassPerson},
		{"placeholder unknown", "Unknown", models.NameClassPlaceholder},
		{"placeholder pair", "Unknown Caller", models.NameClassPlaceholder},
		{"placeholder test", "TEST", models.NameClassPlaceholder},
		{"org llc", "Oakwood Properties LLC", models.NameClassOrganization},
		{"org shelter", "Lane County Animal Shelter", models.NameClassOrganization},
		{"empty", "", models.NameClassUnclassifiable},
		{"punctuation only", "---", models.NameClassUnclassifiable},
		{"digits only", "12345", models.NameClassUnclassifiable},
		{"single short token", "jo", models.NameClassUnclassifiable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify(tt.input))
		})
	}
}

func TestUsableForMatching(t *testing.T) {
	assert.True(t, UsableForMatching(models.NameClassPerson))
	assert.True(t, UsableForMatching(models.NameClassOrganization))
	assert.False(t, UsableForMatching(models.NameClassPlaceholder))
	assert.False(t, UsableForMatching(models.NameClassUnclassifiable))
}
