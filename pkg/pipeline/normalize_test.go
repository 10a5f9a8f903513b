package pipeline

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldhaven/atlas/pkg/models"
)

type fakeBlacklist struct {
	values map[models.IdentifierType]map[string]bool
	err    error
}

func (f *fakeBlacklist) ActiveValues(_ context.Context, t models.IdentifierType) (map[string]bool, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.values[t], nil
}

func testObservation(t *testing.T, raws []models.RawIdentifier) *models.Observation {
	t.Helper()
	rawJSON, err := json.Marshal(raws)
	require.NoError(t, err)
	return &models.Observation{
		ID:             "obs-1",
		Source:         "clinic",
		SourceRecordID: "rec-1",
		Kind:           models.EntityKindPerson,
		RawIdentifiers: rawJSON,
	}
}

func TestNormalize(t *testing.T) {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})

	t.Run("should canonicalize every identifier type", func(t *testing.T) {
		n := NewNormalizer(&fakeBlacklist{}, logger)

		obs := testObservation(t, []models.RawIdentifier{
			{Type: RawTypeEmail, Value: " Jane.Doe@Example.COM "},
			{Type: RawTypePhone, Value: "+1 (555) 123-4567"},
			{Type: RawTypeName, Value: "Jane Doe Jr."},
			{Type: RawTypeAddress, Value: "123 Main Street, Apt 4"},
			{Type: RawTypeLatLng, Value: "44.978, -93.265"},
			{Type: RawTypeExternalRef, Value: "crm:991"},
		})

		norm, err := n.Normalize(context.Background(), obs)
		require.NoError(t, err)

		assert.Equal(t, []string{"jane.doe@example.com"}, norm.Emails)
		assert.Equal(t, []string{"5551234567"}, norm.Phones)
		assert.Equal(t, []string{"doe", "jane"}, norm.NameTokens)
		assert.Equal(t, models.NameClassPerson, norm.NameClass)
		assert.NotEmpty(t, norm.Address)
		assert.Equal(t, "44.97:-93.27", norm.GeoBucket)
		assert.Equal(t, []string{"crm:991"}, norm.ExternalRefs)
	})

	t.Run("should drop values that normalize to empty", func(t *testing.T) {
		n := NewNormalizer(&fakeBlacklist{}, logger)

		obs := testObservation(t, []models.RawIdentifier{
			{Type: RawTypeEmail, Value: "not-an-email"},
			{Type: RawTypePhone, Value: "12"},
		})

		norm, err := n.Normalize(context.Background(), obs)
		require.NoError(t, err)

		assert.Empty(t, norm.Emails)
		assert.Empty(t, norm.Phones)
		assert.False(t, HasUsableIdentifiers(norm))
	})

	t.Run("should filter blacklisted values", func(t *testing.T) {
		n := NewNormalizer(&fakeBlacklist{values: map[models.IdentifierType]map[string]bool{
			models.IdentifierTypeEmail: {"shared@shelter.org": true},
		}}, logger)

		obs := testObservation(t, []models.RawIdentifier{
			{Type: RawTypeEmail, Value: "shared@shelter.org"},
			{Type: RawTypeEmail, Value: "jane@example.com"},
		})

		norm, err := n.Normalize(context.Background(), obs)
		require.NoError(t, err)

		assert.Equal(t, []string{"jane@example.com"}, norm.Emails)
	})

	t.Run("should keep values when the blacklist read fails", func(t *testing.T) {
		n := NewNormalizer(&fakeBlacklist{err: assert.AnError}, logger)

		obs := testObservation(t, []models.RawIdentifier{
			{Type: RawTypeEmail, Value: "jane@example.com"},
		})

		norm, err := n.Normalize(context.Background(), obs)
		require.NoError(t, err)

		assert.Equal(t, []string{"jane@example.com"}, norm.Emails)
	})

	t.Run("should classify placeholder names as unusable", func(t *testing.T) {
		n := NewNormalizer(&fakeBlacklist{}, logger)

		obs := testObservation(t, []models.RawIdentifier{
			{Type: RawTypeName, Value: "Unknown"},
		})

		norm, err := n.Normalize(context.Background(), obs)
		require.NoError(t, err)

		assert.Equal(t, models.NameClassPlaceholder, norm.NameClass)
		assert.False(t, HasUsableIdentifiers(norm))
	})

	t.Run("should build a name from first and last parts", func(t *testing.T) {
		n := NewNormalizer(&fakeBlacklist{}, logger)

		obs := testObservation(t, []models.RawIdentifier{
			{Type: RawTypeFirstName, Value: "Jane"},
			{Type: RawTypeLastName, Value: "Doe"},
		})

		norm, err := n.Normalize(context.Background(), obs)
		require.NoError(t, err)

		assert.Equal(t, "Jane", norm.FirstName)
		assert.Equal(t, "Doe", norm.LastName)
		assert.Equal(t, []string{"doe", "jane"}, norm.NameTokens)
	})

	t.Run("should reject out of range coordinates", func(t *testing.T) {
		n := NewNormalizer(&fakeBlacklist{}, logger)

		obs := testObservation(t, []models.RawIdentifier{
			{Type: RawTypeLatLng, Value: "120.0,300.0"},
		})

		norm, err := n.Normalize(context.Background(), obs)
		require.NoError(t, err)

		assert.Nil(t, norm.Latitude)
		assert.Empty(t, norm.GeoBucket)
	})

	t.Run("should fail on malformed raw identifier json", func(t *testing.T) {
		n := NewNormalizer(&fakeBlacklist{}, logger)

		obs := &models.Observation{ID: "obs-bad", RawIdentifiers: json.RawMessage(`{"not":"an array"`)}

		_, err := n.Normalize(context.Background(), obs)
		assert.Error(t, err)
	})
}
