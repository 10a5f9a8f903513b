package matching

import (
	"context"

	"github.com/fieldhaven/atlas/pkg/models"
	"github.com/fieldhaven/atlas/pkg/tracing"
)

// DefaultHouseholdCap is the shared-address entity count above which
// address agreement stops driving automatic merges.
const DefaultHouseholdCap = 6

// DefaultAddressWeightCap bounds the bits a shared address can contribute
// when it is the pair's only positive identifier signal.
const DefaultAddressWeightCap = 6.0

// AddressCounter counts distinct entities carrying an identifier value.
type AddressCounter interface {
	CountEntitiesByValue(ctx context.Context, identifierType models.IdentifierType, value string) (int, error)
}

// GuardResult is the household disambiguator's adjustment to one pair.
type GuardResult struct {
	// Capped reports that the address contribution was clamped.
	Capped bool
	// ForceReview routes the pair into the review band. A shared address
	// with disagreeing names is never enough to auto merge, and never weak
	// enough to dismiss without a human look.
	ForceReview bool
}

// HouseholdGuard runs between scoring and the decision. Households,
// apartment buildings, shelters, and clinics put many distinct people at
// one address, so address agreement alone must not produce a merge: when a
// pair shares only an address and disagrees on name, the address
// contribution is clamped and the pair lands in the review queue. A
// crowded address is additionally kept from dominating pairs that do carry
// other signals.
type HouseholdGuard struct {
	counter   AddressCounter
	crowdCap  int
	weightCap float64
}

// NewHouseholdGuard creates a household guard. Caps at or below zero fall
// back to the defaults.
func NewHouseholdGuard(counter AddressCounter, crowdCap int, weightCap float64) *HouseholdGuard {
	if crowdCap < 1 {
		crowdCap = DefaultHouseholdCap
	}
	if weightCap <= 0 {
		weightCap = DefaultAddressWeightCap
	}
	return &HouseholdGuard{
		counter:   counter,
		crowdCap:  crowdCap,
		weightCap: weightCap,
	}
}

// Apply inspects one scored pair and clamps its address contribution in
// place when the guard fires. The breakdown's aggregate is recomputed from
// the adjusted fields.
func (g *HouseholdGuard) Apply(ctx context.Context, probe *models.NormalizedObservation, breakdown *models.ScoreBreakdown) (GuardResult, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.HouseholdGuard.Apply")
	defer span.End()

	var result GuardResult

	address := fieldScore(breakdown, FieldAddress)
	if address == nil || address.Missing || address.Weight <= 0 {
		return result, nil
	}

	if addressOnly(breakdown) && nameDisagrees(breakdown) {
		result.Capped = clampAddress(breakdown, g.weightCap)
		result.ForceReview = true
		breakdown.HouseholdCap = true
		return result, nil
	}

	if AddressDominates(*breakdown) {
		crowded, err := g.crowded(ctx, probe.Address)
		if err != nil {
			return result, err
		}
		if crowded {
			result.Capped = clampAddress(breakdown, g.weightCap)
			breakdown.HouseholdCap = true
		}
	}

	return result, nil
}

// crowded reports whether the address already hosts more entities than the
// crowd cap allows.
func (g *HouseholdGuard) crowded(ctx context.Context, address string) (bool, error) {
	if address == "" {
		return false, nil
	}

	count, err := g.counter.CountEntitiesByValue(ctx, models.IdentifierTypeAddress, address)
	if err != nil {
		return false, err
	}

	return count > g.crowdCap, nil
}

// addressOnly reports whether the address is the pair's only positively
// agreeing identifier signal: no shared email and no shared phone.
func addressOnly(breakdown *models.ScoreBreakdown) bool {
	for _, name := range []string{FieldEmail, FieldPhone} {
		if field := fieldScore(breakdown, name); field != nil && !field.Missing && field.Weight > 0 {
			return false
		}
	}
	return true
}

// nameDisagrees reports whether both sides carry a usable name and the
// names point away from a match.
func nameDisagrees(breakdown *models.ScoreBreakdown) bool {
	field := fieldScore(breakdown, FieldName)
	return field != nil && !field.Missing && field.Weight < 0
}

// clampAddress limits the address contribution and recomputes the
// aggregate. Returns whether anything changed.
func clampAddress(breakdown *models.ScoreBreakdown, weightCap float64) bool {
	field := fieldScore(breakdown, FieldAddress)
	if field == nil || field.Weight <= weightCap {
		return false
	}
	field.Weight = weightCap

	breakdown.LogOdds = 0
	for _, f := range breakdown.Fields {
		breakdown.LogOdds += f.Weight
	}
	breakdown.Probability = Probability(breakdown.LogOdds)
	return true
}

func fieldScore(breakdown *models.ScoreBreakdown, name string) *models.FieldScore {
	for i := range breakdown.Fields {
		if breakdown.Fields[i].Field == name {
			return &breakdown.Fields[i]
		}
	}
	return nil
}

// AddressDominates reports whether address agreement is the largest
// positive contribution in a breakdown.
func AddressDominates(breakdown models.ScoreBreakdown) bool {
	var addressWeight, bestOther float64
	for _, field := range breakdown.Fields {
		if field.Missing || field.Weight <= 0 {
			continue
		}
		if field.Field == FieldAddress {
			addressWeight = field.Weight
		} else if field.Weight > bestOther {
			bestOther = field.Weight
		}
	}
	return addressWeight > 0 && addressWeight >= bestOther
}
