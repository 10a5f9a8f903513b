package fingerprint

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldhaven/atlas/pkg/models"
)

func TestObservation(t *testing.T) {
	ids := []models.RawIdentifier{
		{Type: "email", Value: "jane@example.com"},
		{Type: "phone", Value: "503-555-1234"},
	}

	t.Run("should be deterministic", func(t *testing.T) {
		a := Observation("crm", "rec-1", models.EntityKindPerson, ids)
		b := Observation("crm", "rec-1", models.EntityKindPerson, ids)
		assert.Equal(t, a, b)
	})

	t.Run("should ignore identifier order", func(t *testing.T) {
		reversed := []models.RawIdentifier{ids[1], ids[0]}
		assert.Equal(t,
			Observation("crm", "rec-1", models.EntityKindPerson, ids),
			Observation("crm", "rec-1", models.EntityKindPerson, reversed),
		)
	})

	t.Run("should change when content changes", func(t *testing.T) {
		changed := []models.RawIdentifier{
			{Type: "email", Value: "jane@example.org"},
			{Type: "phone", Value: "503-555-1234"},
		}
		assert.NotEqual(t,
			Observation("crm", "rec-1", models.EntityKindPerson, ids),
			Observation("crm", "rec-1", models.EntityKindPerson, changed),
		)
	})

	t.Run("should change when the source record changes", func(t *testing.T) {
		assert.NotEqual(t,
			Observation("crm", "rec-1", models.EntityKindPerson, ids),
			Observation("crm", "rec-2", models.EntityKindPerson, ids),
		)
	})
}

func TestFromJSON(t *testing.T) {
	t.Run("should match the struct form", func(t *testing.T) {
		raw := json.RawMessage(`[{"type":"email","value":"jane@example.com"},{"type":"phone","value":"503-555-1234"}]`)
		fp, err := FromJSON("crm", "rec-1", models.EntityKindPerson, raw)
		require.NoError(t, err)

		expected := Observation("crm", "rec-1", models.EntityKindPerson, []models.RawIdentifier{
			{Type: "email", Value: "jane@example.com"},
			{Type: "phone", Value: "503-555-1234"},
		})
		assert.Equal(t, expected, fp)
	})

	t.Run("should error on malformed JSON", func(t *testing.T) {
		_, err := FromJSON("crm", "rec-1", models.EntityKindPerson, json.RawMessage(`{`))
		assert.Error(t, err)
	})
}
