package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldhaven/atlas/pkg/models"
)

func validEnvelope() ObservationEnvelope {
	return ObservationEnvelope{
		Source:         "clinic",
		SourceRecordID: "rec-1",
		Kind:           models.EntityKindPerson,
		RawIdentifiers: []models.RawIdentifier{
			{Type: "email", Value: "jane@example.com"},
		},
	}
}

func TestObservationEnvelopeValidate(t *testing.T) {
	t.Run("should accept a complete envelope", func(t *testing.T) {
		env := validEnvelope()
		assert.NoError(t, env.Validate())
	})

	t.Run("should require source and source_record_id", func(t *testing.T) {
		env := validEnvelope()
		env.Source = ""
		assert.Error(t, env.Validate())

		env = validEnvelope()
		env.SourceRecordID = ""
		assert.Error(t, env.Validate())
	})

	t.Run("should reject unknown kinds", func(t *testing.T) {
		env := validEnvelope()
		env.Kind = "robot"
		assert.Error(t, env.Validate())
	})

	t.Run("should reject empty identifier lists", func(t *testing.T) {
		env := validEnvelope()
		env.RawIdentifiers = nil
		assert.Error(t, env.Validate())
	})

	t.Run("should reject identifiers without a type", func(t *testing.T) {
		env := validEnvelope()
		env.RawIdentifiers = []models.RawIdentifier{{Value: "jane@example.com"}}
		assert.Error(t, env.Validate())
	})
}

func TestParseEnvelope(t *testing.T) {
	t.Run("should parse valid payloads", func(t *testing.T) {
		msg := &IncomingMessage{
			Value: []byte(`{"source":"clinic","source_record_id":"rec-1","kind":"person","raw_identifiers":[{"type":"email","value":"jane@example.com"}]}`),
		}

		require.NoError(t, msg.ParseEnvelope())
		require.NotNil(t, msg.Envelope)
		assert.Equal(t, "clinic", msg.GetSource())
		assert.Equal(t, "rec-1", msg.GetSourceRecordID())
	})

	t.Run("should reject malformed JSON", func(t *testing.T) {
		msg := &IncomingMessage{Value: []byte(`{"source":`)}
		assert.Error(t, msg.ParseEnvelope())
		assert.Nil(t, msg.Envelope)
	})

	t.Run("should reject payloads failing validation", func(t *testing.T) {
		msg := &IncomingMessage{Value: []byte(`{"source":"clinic"}`)}
		assert.Error(t, msg.ParseEnvelope())
	})

	t.Run("should fall back to headers and key before parsing", func(t *testing.T) {
		msg := &IncomingMessage{
			Key:     "rec-9",
			Headers: map[string]string{"source": "shelter"},
		}

		assert.Equal(t, "shelter", msg.GetSource())
		assert.Equal(t, "rec-9", msg.GetSourceRecordID())
	})
}
