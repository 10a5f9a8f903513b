// Package matching implements probabilistic record linkage: candidate
// generation from the identifier index, per-field weighted scoring, and
// threshold-based verdicts.
package matching

import (
	"fmt"
	"math"

	"github.com/fieldhaven/atlas/pkg/models"
)

// Field names recognized by the scorer
const (
	FieldEmail   = "email"
	FieldPhone   = "phone"
	FieldName    = "name"
	FieldAddress = "address"
)

// fieldWeights are the log2 agreement and disagreement weights derived from
// a field's m and u probabilities.
type fieldWeights struct {
	agreement    float64
	disagreement float64
}

// EntityEvidence is the identifier evidence an entity carries, assembled
// from the identifier index for scoring.
type EntityEvidence struct {
	EntityID   string
	Emails     []string
	Phones     []string
	NameTokens []string
	Addresses  []string
	GeoBuckets []string
}

// Scorer computes comparison scores under one immutable config version.
type Scorer struct {
	params        models.MatchParams
	configVersion int
	weights       map[string]fieldWeights
}

// NewScorer validates the parameter set and precomputes field weights.
func NewScorer(params models.MatchParams, configVersion int) (*Scorer, error) {
	if params.UpperThreshold <= params.LowerThreshold {
		return nil, fmt.Errorf("upper threshold %.2f must exceed lower threshold %.2f", params.UpperThreshold, params.LowerThreshold)
	}
	if params.AddressWeightCap < 0 || params.AddressWeightCap >= params.UpperThreshold {
		return nil, fmt.Errorf("address weight cap %.2f must stay below the upper threshold %.2f", params.AddressWeightCap, params.UpperThreshold)
	}

	weights := make(map[string]fieldWeights, len(params.Fields))
	for _, field := range params.Fields {
		if field.M <= 0 || field.M >= 1 || field.U <= 0 || field.U >= 1 {
			return nil, fmt.Errorf("field %s: m and u must be in (0, 1)", field.Field)
		}
		if field.M <= field.U {
			return nil, fmt.Errorf("field %s: m (%.4f) must exceed u (%.4f)", field.Field, field.M, field.U)
		}
		weights[field.Field] = fieldWeights{
			agreement:    math.Log2(field.M / field.U),
			disagreement: math.Log2((1 - field.M) / (1 - field.U)),
		}
	}

	return &Scorer{
		params:        params,
		configVersion: configVersion,
		weights:       weights,
	}, nil
}

// Params returns the parameter set this scorer was built from
func (s *Scorer) Params() models.MatchParams {
	return s.params
}

// ConfigVersion returns the config version this scorer was built from
func (s *Scorer) ConfigVersion() int {
	return s.configVersion
}

// Score compares an observation against an entity's evidence. Each field
// contributes its agreement weight, its disagreement weight, or a graded
// interpolation between them; fields missing on either side contribute
// nothing. The aggregate is log-odds in bits.
func (s *Scorer) Score(probe *models.NormalizedObservation, evidence *EntityEvidence) models.ScoreBreakdown {
	breakdown := models.ScoreBreakdown{
		ConfigVersion: s.configVersion,
	}

	breakdown.Fields = append(breakdown.Fields,
		s.scoreField(FieldEmail, bestExact(probe.Emails, evidence.Emails)),
		s.scoreField(FieldPhone, bestPhone(probe.Phones, evidence.Phones)),
		s.scoreField(FieldName, scoreName(probe, evidence)),
		s.scoreField(FieldAddress, scoreAddress(probe, evidence)),
	)

	for _, field := range breakdown.Fields {
		breakdown.LogOdds += field.Weight
	}
	breakdown.Probability = Probability(breakdown.LogOdds)

	return breakdown
}

// scoreField interpolates between the disagreement and agreement weights by
// the agreement grade. A negative grade marks the field missing.
func (s *Scorer) scoreField(name string, grade float64) models.FieldScore {
	if grade < 0 {
		return models.FieldScore{Field: name, Missing: true}
	}

	w, ok := s.weights[name]
	if !ok {
		return models.FieldScore{Field: name, Missing: true}
	}

	return models.FieldScore{
		Field:     name,
		Agreement: grade,
		Weight:    w.disagreement + grade*(w.agreement-w.disagreement),
	}
}

// bestExact grades exact-value fields: 1 on any shared value, 0 on total
// disagreement, -1 when either side has no values.
func bestExact(probe, evidence []string) float64 {
	if len(probe) == 0 || len(evidence) == 0 {
		return -1
	}
	for _, p := range probe {
		for _, e := range evidence {
			if p == e {
				return 1
			}
		}
	}
	return 0
}

// Phone near-miss grades. A one or two digit slip between same-length
// numbers is far more often a transcription error than a different line,
// so it earns partial credit instead of the full disagreement penalty.
const (
	phoneGradeOneDigit  = 0.9
	phoneGradeTwoDigits = 0.7
	phoneMinGradedLen   = 7
)

// bestPhone grades phone agreement using the closest pair across both
// sides: 1 on an exact match, partial credit on a near miss, 0 on total
// disagreement, -1 when either side has no values.
func bestPhone(probe, evidence []string) float64 {
	if len(probe) == 0 || len(evidence) == 0 {
		return -1
	}
	best := 0.0
	for _, p := range probe {
		for _, e := range evidence {
			if grade := phoneGrade(p, e); grade > best {
				best = grade
			}
		}
	}
	return best
}

func phoneGrade(a, b string) float64 {
	if a == b {
		return 1
	}
	if len(a) != len(b) || len(a) < phoneMinGradedLen {
		return 0
	}
	switch LevenshteinDistance(a, b) {
	case 1:
		return phoneGradeOneDigit
	case 2:
		return phoneGradeTwoDigits
	default:
		return 0
	}
}

// scoreName grades name agreement. Placeholder and unclassifiable names
// carry no signal and count as missing.
func scoreName(probe *models.NormalizedObservation, evidence *EntityEvidence) float64 {
	if probe.NameClass == models.NameClassPlaceholder || probe.NameClass == models.NameClassUnclassifiable {
		return -1
	}
	if len(probe.NameTokens) == 0 || len(evidence.NameTokens) == 0 {
		return -1
	}
	return TokenSetSimilarity(probe.NameTokens, evidence.NameTokens)
}

// scoreAddress grades address agreement using the best similarity across
// the entity's known addresses.
func scoreAddress(probe *models.NormalizedObservation, evidence *EntityEvidence) float64 {
	if probe.Address == "" || len(evidence.Addresses) == 0 {
		return -1
	}
	best := 0.0
	for _, addr := range evidence.Addresses {
		if sim := AddressSimilarity(probe.Address, addr); sim > best {
			best = sim
		}
	}
	return best
}

// Probability maps log-odds in bits to a match probability. Display only;
// all verdicts compare log-odds against thresholds.
func Probability(logOdds float64) float64 {
	return 1.0 / (1.0 + math.Exp2(-logOdds))
}
