package matching

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldhaven/atlas/pkg/models"
)

type stubCounter struct {
	counts map[string]int
}

func (s stubCounter) CountEntitiesByValue(ctx context.Context, identifierType models.IdentifierType, value string) (int, error) {
	return s.counts[value], nil
}

func TestHouseholdGuard(t *testing.T) {
	params := testParams()
	counter := stubCounter{counts: map[string]int{"300 shelter way": 14}}

	score := func(t *testing.T, probe *models.NormalizedObservation, evidence *EntityEvidence) models.ScoreBreakdown {
		t.Helper()
		scorer, err := NewScorer(params, 1)
		require.NoError(t, err)
		return scorer.Score(probe, evidence)
	}

	t.Run("should force review for an address-only pair with disagreeing names", func(t *testing.T) {
		probe := &models.NormalizedObservation{
			NameClass:  models.NameClassPerson,
			NameTokens: []string{"okafor", "chidi"},
			Address:    "12 elm st",
		}
		breakdown := score(t, probe, &EntityEvidence{
			NameTokens: []string{"nguyen", "thanh"},
			Addresses:  []string{"12 elm st"},
		})

		guard := NewHouseholdGuard(stubCounter{}, params.HouseholdCap, params.AddressWeightCap)
		result, err := guard.Apply(context.Background(), probe, &breakdown)
		require.NoError(t, err)

		assert.True(t, result.ForceReview)
		assert.True(t, breakdown.HouseholdCap)

		verdict := Decide(breakdown.LogOdds, params, VerdictOptions{
			HouseholdCapped: breakdown.HouseholdCap,
			ForceReview:     result.ForceReview,
		})
		assert.Equal(t, models.DecisionOutcomeReviewPending, verdict.Outcome)
	})

	t.Run("should leave a pair with a shared email alone", func(t *testing.T) {
		probe := &models.NormalizedObservation{
			NameClass:  models.NameClassPerson,
			NameTokens: []string{"okafor", "chidi"},
			Emails:     []string{"c.okafor@example.com"},
			Address:    "12 elm st",
		}
		breakdown := score(t, probe, &EntityEvidence{
			NameTokens: []string{"nguyen", "thanh"},
			Emails:     []string{"c.okafor@example.com"},
			Addresses:  []string{"12 elm st"},
		})
		before := breakdown.LogOdds

		guard := NewHouseholdGuard(stubCounter{}, params.HouseholdCap, params.AddressWeightCap)
		result, err := guard.Apply(context.Background(), probe, &breakdown)
		require.NoError(t, err)

		assert.False(t, result.ForceReview)
		assert.False(t, breakdown.HouseholdCap)
		assert.Equal(t, before, breakdown.LogOdds)
	})

	t.Run("should cap a crowded address that dominates the score", func(t *testing.T) {
		probe := &models.NormalizedObservation{
			NameClass:  models.NameClassPerson,
			NameTokens: []string{"okafor", "chidi"},
			Address:    "300 shelter way",
		}
		breakdown := score(t, probe, &EntityEvidence{
			NameTokens: []string{"okafor", "chidi"},
			Addresses:  []string{"300 shelter way"},
		})

		guard := NewHouseholdGuard(counter, params.HouseholdCap, 4)
		result, err := guard.Apply(context.Background(), probe, &breakdown)
		require.NoError(t, err)

		assert.True(t, result.Capped)
		assert.False(t, result.ForceReview)
		assert.True(t, breakdown.HouseholdCap)

		for _, field := range breakdown.Fields {
			if field.Field == FieldAddress {
				assert.LessOrEqual(t, field.Weight, 4.0)
			}
		}
	})

	t.Run("should not cap an uncrowded address", func(t *testing.T) {
		probe := &models.NormalizedObservation{
			NameClass:  models.NameClassPerson,
			NameTokens: []string{"okafor", "chidi"},
			Address:    "12 elm st",
		}
		breakdown := score(t, probe, &EntityEvidence{
			NameTokens: []string{"okafor", "chidi"},
			Addresses:  []string{"12 elm st"},
		})
		before := breakdown.LogOdds

		guard := NewHouseholdGuard(stubCounter{}, params.HouseholdCap, params.AddressWeightCap)
		result, err := guard.Apply(context.Background(), probe, &breakdown)
		require.NoError(t, err)

		assert.False(t, result.Capped)
		assert.Equal(t, before, breakdown.LogOdds)
	})

	t.Run("should skip pairs without address agreement", func(t *testing.T) {
		probe := &models.NormalizedObservation{
			NameClass:  models.NameClassPerson,
			NameTokens: []string{"okafor", "chidi"},
			Emails:     []string{"c.okafor@example.com"},
		}
		breakdown := score(t, probe, &EntityEvidence{
			Emails: []string{"c.okafor@example.com"},
		})

		guard := NewHouseholdGuard(stubCounter{}, params.HouseholdCap, params.AddressWeightCap)
		result, err := guard.Apply(context.Background(), probe, &breakdown)
		require.NoError(t, err)

		assert.False(t, result.Capped)
		assert.False(t, result.ForceReview)
	})
}
