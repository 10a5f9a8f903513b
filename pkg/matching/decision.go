package matching

import (
	"github.com/fieldhaven/atlas/pkg/models"
)

// Review tier probability floors
const (
	TierHighFloor   = 0.95
	TierMediumFloor = 0.80
)

// Verdict is the outcome of comparing one observation against one
// candidate.
type Verdict struct {
	Outcome models.DecisionOutcome
	Tier    models.ReviewTier
	Reason  string
}

// VerdictOptions carries the guards that can demote or suppress a match.
type VerdictOptions struct {
	// HouseholdCapped demotes an address-driven auto match to review.
	HouseholdCapped bool
	// ForceReview routes the pair into the review band regardless of score.
	// Set when the only shared signal is an address and the names disagree.
	ForceReview bool
	// KeptSeparateScore is the log-odds recorded when a reviewer last kept
	// this pair apart, if any.
	KeptSeparateScore *float64
}

// Decide applies the asymmetric thresholds to a comparison score. Matches
// at or above the upper threshold attach automatically; scores between the
// thresholds queue for review; everything else is a non-match. A standing
// kept_separate verdict suppresses automatic merging outright, and only
// evidence stronger than the verdict-time score reopens the pair for
// review.
func Decide(logOdds float64, params models.MatchParams, opts VerdictOptions) Verdict {
	if opts.KeptSeparateScore != nil {
		if logOdds <= *opts.KeptSeparateScore {
			return Verdict{
				Outcome: models.DecisionOutcomeNewEntity,
				Reason:  "pair was kept separate and evidence has not strengthened",
			}
		}
		if logOdds >= params.LowerThreshold {
			return Verdict{
				Outcome: models.DecisionOutcomeReviewPending,
				Tier:    TierFor(Probability(logOdds)),
				Reason:  "evidence now exceeds the kept-separate verdict score",
			}
		}
		return Verdict{Outcome: models.DecisionOutcomeNewEntity}
	}

	if opts.ForceReview {
		return Verdict{
			Outcome: models.DecisionOutcomeReviewPending,
			Tier:    TierFor(Probability(logOdds)),
			Reason:  "shared address with disagreeing names needs a human look",
		}
	}

	if logOdds >= params.UpperThreshold {
		if opts.HouseholdCapped {
			return Verdict{
				Outcome: models.DecisionOutcomeReviewPending,
				Tier:    TierFor(Probability(logOdds)),
				Reason:  "address is shared by too many entities to auto merge",
			}
		}
		return Verdict{Outcome: models.DecisionOutcomeAutoMatch}
	}

	if logOdds >= params.LowerThreshold {
		return Verdict{
			Outcome: models.DecisionOutcomeReviewPending,
			Tier:    TierFor(Probability(logOdds)),
		}
	}

	return Verdict{Outcome: models.DecisionOutcomeNewEntity}
}

// TierFor buckets a match probability into a review tier
func TierFor(probability float64) models.ReviewTier {
	switch {
	case probability >= TierHighFloor:
		return models.ReviewTierHigh
	case probability >= TierMediumFloor:
		return models.ReviewTierMedium
	default:
		return models.ReviewTierLow
	}
}
