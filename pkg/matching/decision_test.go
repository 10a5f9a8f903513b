package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldhaven/atlas/pkg/models"
)

func TestDecide(t *testing.T) {
	params := testParams()

	t.Run("should auto match above the upper threshold", func(t *testing.T) {
		verdict := Decide(15, params, VerdictOptions{})
		assert.Equal(t, models.DecisionOutcomeAutoMatch, verdict.Outcome)
	})

	t.Run("should queue for review between thresholds", func(t *testing.T) {
		verdict := Decide(8, params, VerdictOptions{})
		assert.Equal(t, models.DecisionOutcomeReviewPending, verdict.Outcome)
	})

	t.Run("should not match below the lower threshold", func(t *testing.T) {
		verdict := Decide(2, params, VerdictOptions{})
		assert.Equal(t, models.DecisionOutcomeNewEntity, verdict.Outcome)
	})

	t.Run("should match exactly at the upper threshold", func(t *testing.T) {
		verdict := Decide(params.UpperThreshold, params, VerdictOptions{})
		assert.Equal(t, models.DecisionOutcomeAutoMatch, verdict.Outcome)
	})

	t.Run("should demote a household capped match to review", func(t *testing.T) {
		verdict := Decide(15, params, VerdictOptions{HouseholdCapped: true})
		assert.Equal(t, models.DecisionOutcomeReviewPending, verdict.Outcome)
		assert.NotEmpty(t, verdict.Reason)
	})

	t.Run("should route a forced pair to review even below the lower threshold", func(t *testing.T) {
		verdict := Decide(3.3, params, VerdictOptions{ForceReview: true})
		assert.Equal(t, models.DecisionOutcomeReviewPending, verdict.Outcome)
		assert.NotEmpty(t, verdict.Reason)
	})

	t.Run("should let a kept separate verdict override a forced review", func(t *testing.T) {
		prior := 15.0
		verdict := Decide(3.3, params, VerdictOptions{ForceReview: true, KeptSeparateScore: &prior})
		assert.Equal(t, models.DecisionOutcomeNewEntity, verdict.Outcome)
	})

	t.Run("should suppress a kept separate pair with unchanged evidence", func(t *testing.T) {
		prior := 15.0
		verdict := Decide(15, params, VerdictOptions{KeptSeparateScore: &prior})
		assert.Equal(t, models.DecisionOutcomeNewEntity, verdict.Outcome)
	})

	t.Run("should reopen a kept separate pair when evidence strengthens", func(t *testing.T) {
		prior := 10.0
		verdict := Decide(16, params, VerdictOptions{KeptSeparateScore: &prior})
		assert.Equal(t, models.DecisionOutcomeReviewPending, verdict.Outcome)
	})

	t.Run("should never auto match a kept separate pair", func(t *testing.T) {
		prior := 5.0
		verdict := Decide(40, params, VerdictOptions{KeptSeparateScore: &prior})
		assert.NotEqual(t, models.DecisionOutcomeAutoMatch, verdict.Outcome)
	})

	t.Run("should auto match a shared email with a near-miss phone", func(t *testing.T) {
		scorer, err := NewScorer(params, 1)
		require.NoError(t, err)

		probe := &models.NormalizedObservation{
			Emails: []string{"a.rivera@example.com"},
			Phones: []string{"5550100100"},
		}
		breakdown := scorer.Score(probe, &EntityEvidence{
			Emails: []string{"a.rivera@example.com"},
			Phones: []string{"5550100199"},
		})

		verdict := Decide(breakdown.LogOdds, params, VerdictOptions{})
		assert.Equal(t, models.DecisionOutcomeAutoMatch, verdict.Outcome)
	})
}

func TestTierFor(t *testing.T) {
	assert.Equal(t, models.ReviewTierHigh, TierFor(0.97))
	assert.Equal(t, models.ReviewTierHigh, TierFor(0.95))
	assert.Equal(t, models.ReviewTierMedium, TierFor(0.85))
	assert.Equal(t, models.ReviewTierLow, TierFor(0.6))
}

func TestAddressDominates(t *testing.T) {
	t.Run("should detect address driven scores", func(t *testing.T) {
		breakdown := models.ScoreBreakdown{
			Fields: []models.FieldScore{
				{Field: FieldAddress, Weight: 6.5},
				{Field: FieldName, Weight: 2.1},
				{Field: FieldEmail, Missing: true},
			},
		}
		assert.True(t, AddressDominates(breakdown))
	})

	t.Run("should pass when a stronger field leads", func(t *testing.T) {
		breakdown := models.ScoreBreakdown{
			Fields: []models.FieldScore{
				{Field: FieldEmail, Weight: 8.9},
				{Field: FieldAddress, Weight: 6.5},
			},
		}
		assert.False(t, AddressDominates(breakdown))
	})

	t.Run("should pass when address is absent", func(t *testing.T) {
		breakdown := models.ScoreBreakdown{
			Fields: []models.FieldScore{
				{Field: FieldEmail, Weight: 8.9},
				{Field: FieldAddress, Missing: true},
			},
		}
		assert.False(t, AddressDominates(breakdown))
	})
}
