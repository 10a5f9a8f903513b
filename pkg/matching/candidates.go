package matching

import (
	"context"
	"sort"

	"github.com/Gobusters/ectologger"

	"github.com/fieldhaven/atlas/pkg/models"
	"github.com/fieldhaven/atlas/pkg/normalizers"
	"github.com/fieldhaven/atlas/pkg/tracing"
)

// DefaultCandidateLimit bounds the candidate set when the config does not
// set one.
const DefaultCandidateLimit = 50

// IdentifierIndex is the subset of the identifier repository used for
// candidate generation.
type IdentifierIndex interface {
	FindEntityIDs(ctx context.Context, identifierType models.IdentifierType, values []string) ([]string, error)
	FindEntityIDsByTokenAndBucket(ctx context.Context, tokens, buckets []string) ([]string, error)
	ListByEntities(ctx context.Context, entityIDs []string) ([]models.Identifier, error)
}

// EntityResolver resolves entity IDs to their live merge roots.
type EntityResolver interface {
	ResolveRoot(ctx context.Context, entityID string) (*models.CanonicalEntity, error)
}

// CandidateGenerator finds entities worth scoring against an observation.
// Candidates come only from the identifier index: exact email or phone
// hits, or name tokens corroborated by a shared geo bucket. A name alone
// never generates a candidate.
type CandidateGenerator struct {
	index    IdentifierIndex
	resolver EntityResolver
	logger   ectologger.Logger
}

// NewCandidateGenerator creates a candidate generator
func NewCandidateGenerator(index IdentifierIndex, resolver EntityResolver, logger ectologger.Logger) *CandidateGenerator {
	return &CandidateGenerator{
		index:    index,
		resolver: resolver,
		logger:   logger,
	}
}

// Generate returns evidence bundles for candidate entities, capped at
// limit. IDs are resolved to merge roots and deduplicated before evidence
// is loaded.
func (g *CandidateGenerator) Generate(ctx context.Context, probe *models.NormalizedObservation, limit int) ([]*EntityEvidence, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.CandidateGenerator.Generate")
	defer span.End()

	if limit < 1 {
		limit = DefaultCandidateLimit
	}

	var raw []string

	if len(probe.Emails) > 0 {
		ids, err := g.index.FindEntityIDs(ctx, models.IdentifierTypeEmail, probe.Emails)
		if err != nil {
			return nil, err
		}
		raw = append(raw, ids...)
	}

	if len(probe.Phones) > 0 {
		ids, err := g.index.FindEntityIDs(ctx, models.IdentifierTypePhone, probe.Phones)
		if err != nil {
			return nil, err
		}
		raw = append(raw, ids...)
	}

	// Name tokens require geo corroboration and a usable name class.
	if len(probe.NameTokens) > 0 && probe.GeoBucket != "" &&
		probe.NameClass != models.NameClassPlaceholder && probe.NameClass != models.NameClassUnclassifiable {
		buckets := neighborBuckets(probe)
		ids, err := g.index.FindEntityIDsByTokenAndBucket(ctx, probe.NameTokens, buckets)
		if err != nil {
			return nil, err
		}
		raw = append(raw, ids...)
	}

	rootIDs, err := g.resolveRoots(ctx, raw)
	if err != nil {
		return nil, err
	}

	if len(rootIDs) > limit {
		g.logger.WithContext(ctx).WithFields(map[string]any{"observation_id": probe.ObservationID, "candidates": len(rootIDs), "limit": limit}).Warn("Candidate set truncated")
		rootIDs = rootIDs[:limit]
	}

	return g.loadEvidence(ctx, rootIDs)
}

// resolveRoots maps candidate IDs onto their live merge roots, dropping
// duplicates and preserving a stable order.
func (g *CandidateGenerator) resolveRoots(ctx context.Context, ids []string) ([]string, error) {
	seen := make(map[string]bool, len(ids))
	var roots []string
	for _, id := range ids {
		entity, err := g.resolver.ResolveRoot(ctx, id)
		if err != nil {
			return nil, err
		}
		if entity == nil || seen[entity.ID] {
			continue
		}
		seen[entity.ID] = true
		roots = append(roots, entity.ID)
	}
	sort.Strings(roots)
	return roots, nil
}

// loadEvidence assembles the identifier evidence for each candidate
func (g *CandidateGenerator) loadEvidence(ctx context.Context, entityIDs []string) ([]*EntityEvidence, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}

	identifiers, err := g.index.ListByEntities(ctx, entityIDs)
	if err != nil {
		return nil, err
	}

	byEntity := make(map[string]*EntityEvidence, len(entityIDs))
	for _, id := range entityIDs {
		byEntity[id] = &EntityEvidence{EntityID: id}
	}

	for _, ident := range identifiers {
		evidence, ok := byEntity[ident.EntityID]
		if !ok {
			continue
		}
		switch ident.Type {
		case models.IdentifierTypeEmail:
			evidence.Emails = append(evidence.Emails, ident.Value)
		case models.IdentifierTypePhone:
			evidence.Phones = append(evidence.Phones, ident.Value)
		case models.IdentifierTypeNameToken:
			evidence.NameTokens = append(evidence.NameTokens, ident.Value)
		case models.IdentifierTypeAddress:
			evidence.Addresses = append(evidence.Addresses, ident.Value)
		case models.IdentifierTypeGeoBucket:
			evidence.GeoBuckets = append(evidence.GeoBuckets, ident.Value)
		}
	}

	result := make([]*EntityEvidence, 0, len(entityIDs))
	for _, id := range entityIDs {
		result = append(result, byEntity[id])
	}
	return result, nil
}

func neighborBuckets(probe *models.NormalizedObservation) []string {
	if probe.Latitude != nil && probe.Longitude != nil {
		return normalizers.GeoBucketNeighbors(*probe.Latitude, *probe.Longitude)
	}
	return []string{probe.GeoBucket}
}
