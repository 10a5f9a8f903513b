// Package pipeline implements the observation resolution pipeline: intake,
// normalization, candidate scoring, decision execution, and the queue worker
// that drives it.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/Gobusters/ectologger"

	"github.com/fieldhaven/atlas/pkg/models"
	"github.com/fieldhaven/atlas/pkg/nameclass"
	"github.com/fieldhaven/atlas/pkg/normalizers"
	"github.com/fieldhaven/atlas/pkg/tracing"
)

// Raw identifier types accepted on inbound observations
const (
	RawTypeEmail       = "email"
	RawTypePhone       = "phone"
	RawTypeName        = "name"
	RawTypeFirstName   = "first_name"
	RawTypeLastName    = "last_name"
	RawTypeAddress     = "address"
	RawTypeLatLng      = "lat_lng"
	RawTypeExternalRef = "external_ref"
)

// BlacklistSource supplies soft-blacklisted values per identifier type.
type BlacklistSource interface {
	ActiveValues(ctx context.Context, identifierType models.IdentifierType) (map[string]bool, error)
}

// Normalizer turns raw observations into scored-comparison-ready form.
// Blacklisted values are dropped after normalization so they never reach
// candidate generation or the identifier index.
type Normalizer struct {
	blacklist BlacklistSource
	logger    ectologger.Logger
}

// NewNormalizer creates a normalizer
func NewNormalizer(blacklist BlacklistSource, logger ectologger.Logger) *Normalizer {
	return &Normalizer{
		blacklist: blacklist,
		logger:    logger,
	}
}

// Normalize canonicalizes every raw identifier on the observation. Values
// that normalize to empty contribute nothing. The returned form always has
// ObservationID and Kind set, even when no identifier survived.
func (n *Normalizer) Normalize(ctx context.Context, obs *models.Observation) (*models.NormalizedObservation, error) {
	ctx, span := tracing.StartSpan(ctx, "pipeline.Normalizer.Normalize")
	defer span.End()

	var raws []models.RawIdentifier
	if len(obs.RawIdentifiers) > 0 {
		if err := json.Unmarshal(obs.RawIdentifiers, &raws); err != nil {
			return nil, fmt.Errorf("malformed raw_identifiers: %w", err)
		}
	}

	norm := &models.NormalizedObservation{
		ObservationID: obs.ID,
		Kind:          obs.Kind,
	}

	var fullName string
	for _, raw := range raws {
		value := strings.TrimSpace(raw.Value)
		if value == "" {
			continue
		}

		switch raw.Type {
		case RawTypeEmail:
			if v := normalizers.NormalizeEmail(value); v != "" {
				norm.Emails = append(norm.Emails, v)
			}
		case RawTypePhone:
			if v := normalizers.NormalizePhone(value); v != "" {
				norm.Phones = append(norm.Phones, v)
			}
		case RawTypeName:
			fullName = value
		case RawTypeFirstName:
			norm.FirstName = value
		case RawTypeLastName:
			norm.LastName = value
		case RawTypeAddress:
			if v := normalizers.NormalizeAddress(value); v != "" {
				norm.Address = v
			}
		case RawTypeLatLng:
			lat, lng, ok := parseLatLng(value)
			if ok {
				norm.Latitude = &lat
				norm.Longitude = &lng
			}
		case RawTypeExternalRef:
			norm.ExternalRefs = append(norm.ExternalRefs, value)
		default:
			n.logger.WithContext(ctx).WithFields(map[string]any{
				"observation_id": obs.ID,
				"type":           raw.Type,
			}).Debug("Skipping unknown raw identifier type")
		}
	}

	if fullName == "" {
		fullName = strings.TrimSpace(norm.FirstName + " " + norm.LastName)
	}
	if fullName != "" {
		norm.NameClass = nameclass.Classify(fullName)
		norm.NameTokens = normalizers.NameTokens(fullName)
	} else {
		norm.NameClass = models.NameClassUnclassifiable
	}

	if norm.Latitude != nil && norm.Longitude != nil {
		norm.GeoBucket = normalizers.GeoBucket(*norm.Latitude, *norm.Longitude)
	}

	n.applyBlacklist(ctx, norm)

	return norm, nil
}

// HasUsableIdentifiers reports whether the form retains anything that
// could index or score.
func HasUsableIdentifiers(norm *models.NormalizedObservation) bool {
	if len(norm.Emails) > 0 || len(norm.Phones) > 0 || norm.Address != "" {
		return true
	}
	return len(norm.NameTokens) > 0 && nameclass.UsableForMatching(norm.NameClass)
}

func (n *Normalizer) applyBlacklist(ctx context.Context, norm *models.NormalizedObservation) {
	norm.Emails = n.filterValues(ctx, models.IdentifierTypeEmail, norm.Emails)
	norm.Phones = n.filterValues(ctx, models.IdentifierTypePhone, norm.Phones)

	if norm.Address != "" {
		kept := n.filterValues(ctx, models.IdentifierTypeAddress, []string{norm.Address})
		if len(kept) == 0 {
			norm.Address = ""
		}
	}
}

func (n *Normalizer) filterValues(ctx context.Context, identifierType models.IdentifierType, values []string) []string {
	if len(values) == 0 {
		return values
	}

	blocked, err := n.blacklist.ActiveValues(ctx, identifierType)
	if err != nil {
		// A blacklist read failure must not drop the observation; the
		// values are kept and filtered on the next pass.
		n.logger.WithContext(ctx).WithError(err).Warn("Failed to load blacklist, keeping values")
		return values
	}
	if len(blocked) == 0 {
		return values
	}

	kept := make([]string, 0, len(values))
	for _, v := range values {
		if blocked[v] {
			continue
		}
		kept = append(kept, v)
	}
	return kept
}

func parseLatLng(value string) (float64, float64, bool) {
	parts := strings.Split(value, ",")
	if len(parts) != 2 {
		return 0, 0, false
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, false
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, false
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return 0, 0, false
	}
	return lat, lng, true
}
