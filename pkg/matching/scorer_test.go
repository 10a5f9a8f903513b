package matching

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldhaven/atlas/pkg/models"
)

func testParams() models.MatchParams {
	return models.MatchParams{
		Fields: []models.FieldParams{
			{Field: FieldEmail, M: 0.97, U: 0.002},
			{Field: FieldPhone, M: 0.95, U: 0.003},
			{Field: FieldName, M: 0.90, U: 0.05},
			{Field: FieldAddress, M: 0.92, U: 0.01},
		},
		UpperThreshold:   12,
		LowerThreshold:   4,
		HouseholdCap:     6,
		AddressWeightCap: 6,
		CandidateLimit:   50,
	}
}

func TestNewScorer(t *testing.T) {
	t.Run("should reject inverted thresholds", func(t *testing.T) {
		params := testParams()
		params.UpperThreshold = 3
		_, err := NewScorer(params, 1)
		assert.Error(t, err)
	})

	t.Run("should reject m not exceeding u", func(t *testing.T) {
		params := testParams()
		params.Fields[0].M = 0.001
		_, err := NewScorer(params, 1)
		assert.Error(t, err)
	})

	t.Run("should reject probabilities outside (0,1)", func(t *testing.T) {
		params := testParams()
		params.Fields[0].U = 0
		_, err := NewScorer(params, 1)
		assert.Error(t, err)
	})

	t.Run("should reject an address weight cap at or above the upper threshold", func(t *testing.T) {
		params := testParams()
		params.AddressWeightCap = params.UpperThreshold
		_, err := NewScorer(params, 1)
		assert.Error(t, err)
	})
}

func TestScorerScore(t *testing.T) {
	scorer, err := NewScorer(testParams(), 1)
	require.NoError(t, err)

	probe := &models.NormalizedObservation{
		NameClass:  models.NameClassPerson,
		NameTokens: []string{"doe", "jane"},
		Emails:     []string{"jane@example.com"},
		Phones:     []string{"5035551234"},
		Address:    "123 main st",
	}

	t.Run("should sum agreement weights on full agreement", func(t *testing.T) {
		evidence := &EntityEvidence{
			Emails:     []string{"jane@example.com"},
			Phones:     []string{"5035551234"},
			NameTokens: []string{"doe", "jane"},
			Addresses:  []string{"123 main st"},
		}

		breakdown := scorer.Score(probe, evidence)

		expected := math.Log2(0.97/0.002) + math.Log2(0.95/0.003) + math.Log2(0.90/0.05) + math.Log2(0.92/0.01)
		assert.InDelta(t, expected, breakdown.LogOdds, 0.001)
		assert.Greater(t, breakdown.Probability, 0.999)
		assert.Equal(t, 1, breakdown.ConfigVersion)
	})

	t.Run("should contribute nothing for missing fields", func(t *testing.T) {
		evidence := &EntityEvidence{
			Emails: []string{"jane@example.com"},
		}

		breakdown := scorer.Score(probe, evidence)

		assert.InDelta(t, math.Log2(0.97/0.002), breakdown.LogOdds, 0.001)
		for _, field := range breakdown.Fields {
			if field.Field != FieldEmail {
				assert.True(t, field.Missing)
				assert.Zero(t, field.Weight)
			}
		}
	})

	t.Run("should penalize disagreement", func(t *testing.T) {
		evidence := &EntityEvidence{
			Emails: []string{"someone.else@example.com"},
		}

		breakdown := scorer.Score(probe, evidence)

		assert.InDelta(t, math.Log2((1-0.97)/(1-0.002)), breakdown.LogOdds, 0.001)
		assert.Less(t, breakdown.LogOdds, 0.0)
	})

	t.Run("should interpolate graded name agreement", func(t *testing.T) {
		full := scorer.Score(probe, &EntityEvidence{NameTokens: []string{"doe", "jane"}})
		partial := scorer.Score(probe, &EntityEvidence{NameTokens: []string{"doe", "jayne"}})
		miss := scorer.Score(probe, &EntityEvidence{NameTokens: []string{"garcia", "maria"}})

		assert.Greater(t, full.LogOdds, partial.LogOdds)
		assert.Greater(t, partial.LogOdds, miss.LogOdds)
		assert.Less(t, miss.LogOdds, 0.0)
	})

	t.Run("should give partial credit for a near-miss phone", func(t *testing.T) {
		exact := scorer.Score(probe, &EntityEvidence{Phones: []string{"5035551234"}})
		oneOff := scorer.Score(probe, &EntityEvidence{Phones: []string{"5035551235"}})
		twoOff := scorer.Score(probe, &EntityEvidence{Phones: []string{"5035551299"}})
		farOff := scorer.Score(probe, &EntityEvidence{Phones: []string{"2125550000"}})

		assert.Greater(t, exact.LogOdds, oneOff.LogOdds)
		assert.Greater(t, oneOff.LogOdds, twoOff.LogOdds)
		assert.Greater(t, twoOff.LogOdds, farOff.LogOdds)
		assert.Greater(t, oneOff.LogOdds, 0.0)
		assert.Greater(t, twoOff.LogOdds, 0.0)
		assert.Less(t, farOff.LogOdds, 0.0)
	})

	t.Run("should not grade phones of different lengths", func(t *testing.T) {
		truncated := scorer.Score(probe, &EntityEvidence{Phones: []string{"503555123"}})
		assert.Less(t, truncated.LogOdds, 0.0)
	})

	t.Run("should not grade short numbers", func(t *testing.T) {
		short := &models.NormalizedObservation{Phones: []string{"555123"}}
		breakdown := scorer.Score(short, &EntityEvidence{Phones: []string{"555124"}})
		assert.Less(t, breakdown.LogOdds, 0.0)
	})

	t.Run("should never score more evidence lower", func(t *testing.T) {
		base := scorer.Score(probe, &EntityEvidence{
			Emails: []string{"jane@example.com"},
		})
		withPhone := scorer.Score(probe, &EntityEvidence{
			Emails: []string{"jane@example.com"},
			Phones: []string{"5035551234"},
		})
		withAll := scorer.Score(probe, &EntityEvidence{
			Emails:     []string{"jane@example.com"},
			Phones:     []string{"5035551234"},
			NameTokens: []string{"doe", "jane"},
			Addresses:  []string{"123 main st"},
		})

		assert.GreaterOrEqual(t, withPhone.LogOdds, base.LogOdds)
		assert.GreaterOrEqual(t, withAll.LogOdds, withPhone.LogOdds)
	})

	t.Run("should treat placeholder names as missing", func(t *testing.T) {
		placeholder := &models.NormalizedObservation{
			NameClass:  models.NameClassPlaceholder,
			NameTokens: []string{"unknown"},
		}

		breakdown := scorer.Score(placeholder, &EntityEvidence{NameTokens: []string{"unknown"}})
		assert.Zero(t, breakdown.LogOdds)
	})
}

func TestProbability(t *testing.T) {
	assert.InDelta(t, 0.5, Probability(0), 0.001)
	assert.Greater(t, Probability(10), 0.999)
	assert.Less(t, Probability(-10), 0.001)
}
