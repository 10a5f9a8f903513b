package matching

import (
	"context"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldhaven/atlas/pkg/models"
)

type fakeIndex struct {
	byEmail       map[string][]string
	byPhone       map[string][]string
	byTokenBucket []string
	identifiers   map[string][]models.Identifier
}

func (f *fakeIndex) FindEntityIDs(ctx context.Context, identifierType models.IdentifierType, values []string) ([]string, error) {
	var source map[string][]string
	switch identifierType {
	case models.IdentifierTypeEmail:
		source = f.byEmail
	case models.IdentifierTypePhone:
		source = f.byPhone
	}
	var ids []string
	for _, v := range values {
		ids = append(ids, source[v]...)
	}
	return ids, nil
}

func (f *fakeIndex) FindEntityIDsByTokenAndBucket(ctx context.Context, tokens, buckets []string) ([]string, error) {
	return f.byTokenBucket, nil
}

func (f *fakeIndex) ListByEntities(ctx context.Context, entityIDs []string) ([]models.Identifier, error) {
	var result []models.Identifier
	for _, id := range entityIDs {
		result = append(result, f.identifiers[id]...)
	}
	return result, nil
}

type fakeResolver struct {
	roots map[string]string
}

func (f *fakeResolver) ResolveRoot(ctx context.Context, entityID string) (*models.CanonicalEntity, error) {
	root := entityID
	if r, ok := f.roots[entityID]; ok {
		root = r
	}
	return &models.CanonicalEntity{ID: root}, nil
}

func TestCandidateGenerator(t *testing.T) {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})

	probe := &models.NormalizedObservation{
		NameClass:  models.NameClassPerson,
		NameTokens: []string{"doe", "jane"},
		Emails:     []string{"jane@example.com"},
		Phones:     []string{"5035551234"},
		GeoBucket:  "45.52:-122.68",
	}

	t.Run("should collect candidates from email and phone hits", func(t *testing.T) {
		index := &fakeIndex{
			byEmail: map[string][]string{"jane@example.com": {"e1"}},
			byPhone: map[string][]string{"5035551234": {"e2"}},
			identifiers: map[string][]models.Identifier{
				"e1": {{EntityID: "e1", Type: models.IdentifierTypeEmail, Value: "jane@example.com"}},
				"e2": {{EntityID: "e2", Type: models.IdentifierTypePhone, Value: "5035551234"}},
			},
		}

		gen := NewCandidateGenerator(index, &fakeResolver{}, logger)
		candidates, err := gen.Generate(context.Background(), probe, 50)
		require.NoError(t, err)
		require.Len(t, candidates, 2)
		assert.Equal(t, []string{"jane@example.com"}, candidates[0].Emails)
		assert.Equal(t, []string{"5035551234"}, candidates[1].Phones)
	})

	t.Run("should resolve candidates to merge roots and dedupe", func(t *testing.T) {
		index := &fakeIndex{
			byEmail: map[string][]string{"jane@example.com": {"e1", "e2"}},
			identifiers: map[string][]models.Identifier{
				"root": {{EntityID: "root", Type: models.IdentifierTypeEmail, Value: "jane@example.com"}},
			},
		}
		resolver := &fakeResolver{roots: map[string]string{"e1": "root", "e2": "root"}}

		gen := NewCandidateGenerator(index, resolver, logger)
		candidates, err := gen.Generate(context.Background(), probe, 50)
		require.NoError(t, err)
		require.Len(t, candidates, 1)
		assert.Equal(t, "root", candidates[0].EntityID)
	})

	t.Run("should not generate candidates from name alone", func(t *testing.T) {
		nameOnly := &models.NormalizedObservation{
			NameClass:  models.NameClassPerson,
			NameTokens: []string{"doe", "jane"},
		}
		index := &fakeIndex{byTokenBucket: []string{"e9"}}

		gen := NewCandidateGenerator(index, &fakeResolver{}, logger)
		candidates, err := gen.Generate(context.Background(), nameOnly, 50)
		require.NoError(t, err)
		assert.Empty(t, candidates)
	})

	t.Run("should use name tokens when geo corroborated", func(t *testing.T) {
		index := &fakeIndex{
			byTokenBucket: []string{"e3"},
			identifiers: map[string][]models.Identifier{
				"e3": {{EntityID: "e3", Type: models.IdentifierTypeNameToken, Value: "doe"}},
			},
		}

		gen := NewCandidateGenerator(index, &fakeResolver{}, logger)
		candidates, err := gen.Generate(context.Background(), &models.NormalizedObservation{
			NameClass:  models.NameClassPerson,
			NameTokens: []string{"doe", "jane"},
			GeoBucket:  "45.52:-122.68",
		}, 50)
		require.NoError(t, err)
		require.Len(t, candidates, 1)
		assert.Equal(t, "e3", candidates[0].EntityID)
	})

	t.Run("should skip name candidates for placeholder names", func(t *testing.T) {
		index := &fakeIndex{byTokenBucket: []string{"e9"}}

		gen := NewCandidateGenerator(index, &fakeResolver{}, logger)
		candidates, err := gen.Generate(context.Background(), &models.NormalizedObservation{
			NameClass:  models.NameClassPlaceholder,
			NameTokens: []string{"unknown"},
			GeoBucket:  "45.52:-122.68",
		}, 50)
		require.NoError(t, err)
		assert.Empty(t, candidates)
	})

	t.Run("should cap the candidate set", func(t *testing.T) {
		byEmail := map[string][]string{"jane@example.com": {}}
		identifiers := map[string][]models.Identifier{}
		for i := 0; i < 80; i++ {
			id := string(rune('a'+i%26)) + string(rune('a'+i/26))
			byEmail["jane@example.com"] = append(byEmail["jane@example.com"], id)
			identifiers[id] = []models.Identifier{{EntityID: id, Type: models.IdentifierTypeEmail, Value: "jane@example.com"}}
		}
		index := &fakeIndex{byEmail: byEmail, identifiers: identifiers}

		gen := NewCandidateGenerator(index, &fakeResolver{}, logger)
		candidates, err := gen.Generate(context.Background(), probe, 50)
		require.NoError(t, err)
		assert.Len(t, candidates, 50)
	})
}
